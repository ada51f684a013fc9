package enhance

import (
	"fmt"

	"github.com/Lllllllleong/docimageenhancer/internal/retry"
)

// Config holds the tunables of the enhancement pipeline. The defaults were
// tuned empirically against the vision service and are not assumed optimal.
type Config struct {
	// MinKeepBytes is the size below which an embed is removed from the document.
	MinKeepBytes int64
	// MinDescribeBytes is the size from which an image is sent for description.
	MinDescribeBytes int64
	// FetchChunkSize bounds how many images are fetched and held at once.
	FetchChunkSize int

	RewritePool  int
	ExtractPool  int
	DownloadPool int
	AnalyzePool  int

	Retry retry.Policy
	// AnalyzeRatePerSecond caps describe calls across all workers; 0 disables the limiter.
	AnalyzeRatePerSecond float64

	// PublicBaseURL is the prefix of canonical image URLs. The object key is appended to it.
	PublicBaseURL string
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		MinKeepBytes:     5 * 1024,
		MinDescribeBytes: 10 * 1024,
		FetchChunkSize:   5,
		RewritePool:      5,
		ExtractPool:      5,
		DownloadPool:     5,
		AnalyzePool:      2,
		Retry:            retry.DefaultPolicy(),
	}
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c Config) Validate() error {
	if c.MinKeepBytes < 0 || c.MinDescribeBytes < 0 {
		return fmt.Errorf("size thresholds must not be negative")
	}
	if c.MinDescribeBytes < c.MinKeepBytes {
		return fmt.Errorf("describe threshold (%d) must not be below keep threshold (%d)", c.MinDescribeBytes, c.MinKeepBytes)
	}
	if c.FetchChunkSize < 1 {
		return fmt.Errorf("fetch chunk size must be at least 1")
	}
	if c.RewritePool < 1 || c.ExtractPool < 1 || c.DownloadPool < 1 || c.AnalyzePool < 1 {
		return fmt.Errorf("pool sizes must be at least 1")
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("describe retry policy: %w", err)
	}
	if c.PublicBaseURL == "" {
		return fmt.Errorf("public base URL must be set")
	}
	return nil
}
