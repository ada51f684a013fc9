package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/Lllllllleong/docimageenhancer/internal/models"
)

// ErrObjectNotFound is returned when the requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetEnvInt reads an integer environment variable, returning fallback when unset.
func GetEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

// GetEnvInt64 reads a 64 bit integer environment variable, returning fallback when unset.
func GetEnvInt64(key string, fallback int64) (int64, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

// GetEnvFloat reads a float environment variable, returning fallback when unset.
func GetEnvFloat(key string, fallback float64) (float64, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}

// GetEnvDuration reads a duration such as "1s" or "90s", returning fallback when unset.
func GetEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
// An existing object is not a failure in an idempotent workflow; it is skipped.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName string, content []byte, contentType string) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, bytes.NewReader(content)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			slog.Info("SKIPPING: Object already exists.", "object", objectName)
			return nil
		}
		slog.Error("Failed to copy content to GCS object.", "object", objectName, "error", err)
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Info("SKIPPING: Object already exists.", "object", objectName)
			return nil
		}
		slog.Error("Failed to close GCS writer.", "object", objectName, "error", err)
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// BlobStore reads and writes document and image objects in Cloud Storage.
type BlobStore struct {
	client *storage.Client
}

// NewBlobStore wraps an existing storage client.
func NewBlobStore(client *storage.Client) *BlobStore {
	return &BlobStore{client: client}
}

func (s *BlobStore) object(loc models.Location) *storage.ObjectHandle {
	return s.client.Bucket(loc.Bucket).Object(loc.Key)
}

// Size returns the stored size of the object in bytes.
func (s *BlobStore) Size(ctx context.Context, loc models.Location) (int64, error) {
	attrs, err := s.object(loc).Attrs(ctx)
	if err != nil {
		return 0, mapStorageError(loc, err)
	}
	return attrs.Size, nil
}

// Read returns the full content of the object.
func (s *BlobStore) Read(ctx context.Context, loc models.Location) ([]byte, error) {
	reader, err := s.object(loc).NewReader(ctx)
	if err != nil {
		return nil, mapStorageError(loc, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", loc.URI(), err)
	}
	return data, nil
}

// Write replaces the object with data.
func (s *BlobStore) Write(ctx context.Context, loc models.Location, data []byte, contentType string) error {
	writer := s.object(loc).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write %s: %w", loc.URI(), err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize write of %s: %w", loc.URI(), err)
	}
	return nil
}

// WriteIfAbsent creates the object unless it already exists.
func (s *BlobStore) WriteIfAbsent(ctx context.Context, loc models.Location, data []byte, contentType string) error {
	return SaveToGCSAtomically(ctx, s.client.Bucket(loc.Bucket), loc.Key, data, contentType)
}

// Download streams the object to a local file.
func (s *BlobStore) Download(ctx context.Context, loc models.Location, destPath string) error {
	reader, err := s.object(loc).NewReader(ctx)
	if err != nil {
		return mapStorageError(loc, err)
	}
	defer reader.Close()

	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer localFile.Close()

	if _, err := io.Copy(localFile, reader); err != nil {
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return nil
}

func mapStorageError(loc models.Location, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%s: %w", loc.URI(), ErrObjectNotFound)
	}
	return fmt.Errorf("failed to access %s: %w", loc.URI(), err)
}
