package enhance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/Lllllllleong/docimageenhancer/internal/models"
	"github.com/Lllllllleong/docimageenhancer/internal/retry"
)

// ErrMalformedResponse is returned when the model output is not a flat JSON
// object of string values. It is terminal for the call.
var ErrMalformedResponse = errors.New("malformed description response")

// DescriptionResult maps image keys (image1, image2, ...) to descriptions. An
// absent key and an empty value both mean "no useful description".
type DescriptionResult map[string]string

// Describer calls the vision model for one section at a time, retrying
// throttled calls. It never returns an error: a call that fails terminally or
// runs out of retries yields an empty result.
type Describer struct {
	model   VisionModel
	retrier *retry.Retrier
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewDescriber wires a Describer from cfg. A nil logger uses slog.Default.
func NewDescriber(model VisionModel, cfg Config, logger *slog.Logger) *Describer {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Describer{
		model:   model,
		retrier: retry.New(cfg.Retry, logger),
		logger:  logger,
	}
	if cfg.AnalyzeRatePerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.AnalyzeRatePerSecond), 1)
	}
	return d
}

// Describe requests descriptions for images given the section context, which
// should already have its embeds replaced by [imageN] placeholders.
func (d *Describer) Describe(ctx context.Context, logger *slog.Logger, sectionContext string, images []models.VisionImage) DescriptionResult {
	if logger == nil {
		logger = d.logger
	}
	if len(images) == 0 {
		return DescriptionResult{}
	}

	req := models.VisionRequest{Context: sectionContext, Images: images}
	var result DescriptionResult
	err := d.retrier.Do(ctx, "describe images", func(ctx context.Context) error {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}
		}
		raw, err := d.model.DescribeImages(ctx, req)
		if err != nil {
			return err
		}
		parsed, err := ParseDescriptions(raw)
		if err != nil {
			logger.Warn("Vision model returned an unusable response.", "error", err, "response", truncate(raw, 512))
			return err
		}
		result = parsed
		return nil
	})
	if err != nil {
		logger.Error("Image description failed; section keeps its images undescribed.", "images", len(images), "error", err)
		return DescriptionResult{}
	}
	return result
}

// ParseDescriptions decodes the model output. It accepts the object wrapped in
// markdown fences, an object continuing an opening brace the model was primed
// with, or an object embedded in surrounding prose.
func ParseDescriptions(raw string) (DescriptionResult, error) {
	text := stripFences(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	candidates := []string{text}
	if !strings.HasPrefix(text, "{") {
		candidates = append(candidates, "{"+text)
	}
	if block, ok := firstJSONObject(text); ok {
		candidates = append(candidates, block)
	}

	var lastErr error
	for _, c := range candidates {
		res, err := decodeFlatObject(c)
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func decodeFlatObject(s string) (DescriptionResult, error) {
	var fields map[string]json.RawMessage
	dec := json.NewDecoder(strings.NewReader(s))
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedResponse)
	}

	out := make(DescriptionResult, len(fields))
	for key, value := range fields {
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			out[key] = ""
			continue
		}
		var text string
		if err := json.Unmarshal(value, &text); err != nil {
			return nil, fmt.Errorf("%w: value of %q is not a string", ErrMalformedResponse, key)
		}
		out[key] = text
	}
	return out, nil
}

// stripFences removes a surrounding ```json ... ``` fence.
func stripFences(s string) string {
	clean := strings.TrimSpace(s)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	return strings.TrimSpace(clean)
}

// firstJSONObject returns the first balanced {...} block of s, honouring
// string literals and escapes.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
