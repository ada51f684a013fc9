package services

import (
	"errors"

	"github.com/Lllllllleong/docimageenhancer/internal/enhance"
	"github.com/Lllllllleong/docimageenhancer/internal/gcp"
)

// PipelineConfigFromEnv starts from enhance.DefaultConfig and applies the
// IMAGE_*, POOL_* and DESCRIBE_* overrides. PUBLIC_BASE_URL is copied as is;
// an empty value is resolved per bucket by the caller.
func PipelineConfigFromEnv() (enhance.Config, error) {
	cfg := enhance.DefaultConfig()
	var errs []error
	var err error

	cfg.MinKeepBytes, err = gcp.GetEnvInt64("IMAGE_MIN_KEEP_BYTES", cfg.MinKeepBytes)
	errs = append(errs, err)
	cfg.MinDescribeBytes, err = gcp.GetEnvInt64("IMAGE_MIN_DESCRIBE_BYTES", cfg.MinDescribeBytes)
	errs = append(errs, err)
	cfg.FetchChunkSize, err = gcp.GetEnvInt("IMAGE_FETCH_CHUNK_SIZE", cfg.FetchChunkSize)
	errs = append(errs, err)

	cfg.RewritePool, err = gcp.GetEnvInt("POOL_REWRITE", cfg.RewritePool)
	errs = append(errs, err)
	cfg.ExtractPool, err = gcp.GetEnvInt("POOL_EXTRACT", cfg.ExtractPool)
	errs = append(errs, err)
	cfg.DownloadPool, err = gcp.GetEnvInt("POOL_DOWNLOAD", cfg.DownloadPool)
	errs = append(errs, err)
	cfg.AnalyzePool, err = gcp.GetEnvInt("POOL_ANALYZE", cfg.AnalyzePool)
	errs = append(errs, err)

	cfg.Retry.MaxRetries, err = gcp.GetEnvInt("DESCRIBE_MAX_RETRIES", cfg.Retry.MaxRetries)
	errs = append(errs, err)
	cfg.Retry.InitialBackoff, err = gcp.GetEnvDuration("DESCRIBE_INITIAL_BACKOFF", cfg.Retry.InitialBackoff)
	errs = append(errs, err)
	cfg.Retry.MaxBackoff, err = gcp.GetEnvDuration("DESCRIBE_MAX_BACKOFF", cfg.Retry.MaxBackoff)
	errs = append(errs, err)
	cfg.AnalyzeRatePerSecond, err = gcp.GetEnvFloat("DESCRIBE_RATE_PER_SECOND", cfg.AnalyzeRatePerSecond)
	errs = append(errs, err)

	cfg.PublicBaseURL = gcp.GetEnv("PUBLIC_BASE_URL", "")

	if err := errors.Join(errs...); err != nil {
		return enhance.Config{}, err
	}
	return cfg, nil
}

// publicBaseURLFor returns the configured base URL, or the public storage
// endpoint of bucket when none is configured.
func publicBaseURLFor(configured, bucket string) string {
	if configured != "" {
		return configured
	}
	return "https://storage.googleapis.com/" + bucket
}
