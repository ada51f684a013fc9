// Package imaging re-encodes fetched raster images into the single format the
// vision model is given.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	CanonicalFormat   = "png"
	CanonicalMIMEType = "image/png"
)

var ErrEmptyImage = errors.New("empty image payload")

// Normalize decodes raw in any registered format and returns it PNG encoded.
// The decoded source format is returned for logging.
func Normalize(raw []byte) ([]byte, string, error) {
	if len(raw) == 0 {
		return nil, "", ErrEmptyImage
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(raw))
	if err := png.Encode(&buf, img); err != nil {
		return nil, format, fmt.Errorf("failed to encode image as %s: %w", CanonicalFormat, err)
	}
	return buf.Bytes(), format, nil
}
