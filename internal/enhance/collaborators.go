package enhance

import (
	"context"

	"github.com/Lllllllleong/docimageenhancer/internal/models"
)

// BlobStore is the object storage the pipeline reads images from.
type BlobStore interface {
	Size(ctx context.Context, loc models.Location) (int64, error)
	Read(ctx context.Context, loc models.Location) ([]byte, error)
}

// VisionModel describes a batch of images in the context of a document
// section. It returns the raw model text, which should be a JSON object keyed
// by each image's Key. Rate limiting must be reported as an error that
// retry.Retryable recognises, e.g. one wrapping retry.ErrThrottled.
type VisionModel interface {
	DescribeImages(ctx context.Context, req models.VisionRequest) (string, error)
}
