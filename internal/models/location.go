package models

import (
	"fmt"
	"path"
	"strings"
)

// Location addresses an object in the blob store.
type Location struct {
	Bucket string
	Key    string
}

// URI renders the location as gs://bucket/key.
func (l Location) URI() string {
	return fmt.Sprintf("gs://%s/%s", l.Bucket, l.Key)
}

// Dir returns the key prefix the object lives under, without a trailing slash.
func (l Location) Dir() string {
	dir := path.Dir(l.Key)
	if dir == "." {
		return ""
	}
	return dir
}

// ImageSibling resolves an embed target relative to the images/ directory
// that sits next to this document.
func (l Location) ImageSibling(target string) Location {
	name := path.Base(strings.TrimSpace(target))
	key := path.Join(l.Dir(), "images", name)
	return Location{Bucket: l.Bucket, Key: key}
}

// ParseGCSURI parses gs://bucket/key.
func ParseGCSURI(uri string) (Location, error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return Location{}, fmt.Errorf("not a valid GCS URI: %q", uri)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return Location{}, fmt.Errorf("GCS URI must name a bucket and an object: %q", uri)
	}
	return Location{Bucket: bucket, Key: key}, nil
}
