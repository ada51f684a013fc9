package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/docimageenhancer/internal/gcp"
	"github.com/Lllllllleong/docimageenhancer/internal/models"
)

// StatusRecorderFunction lets the workflow report transitions that happen
// outside the functions of this module, such as a failed conversion.
type StatusRecorderFunction struct {
	statuses StatusStore
}

// NewStatusRecorder creates a new StatusRecorderFunction instance from the environment.
func NewStatusRecorder(ctx context.Context) (*StatusRecorderFunction, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	collection := gcp.GetEnv("FIRESTORE_COLLECTION", "processing_records")
	return &StatusRecorderFunction{statuses: gcp.NewStatusStore(firestoreClient, collection)}, nil
}

// Process records req.Status for req.FileName.
func (f *StatusRecorderFunction) Process(ctx context.Context, req *models.RecordStatusRequest) (*models.RecordStatusResponse, error) {
	if req.FileName == "" {
		return nil, fmt.Errorf("%w: fileName is required", ErrBadRequest)
	}
	if !req.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrBadRequest, req.Status)
	}

	logCtx := slog.With("fileName", req.FileName, "executionId", req.ExecutionID)
	if err := f.statuses.Record(ctx, req.FileName, req.Status, req.ErrorDetails); err != nil {
		logCtx.Error("Failed to record status", "status", req.Status, "error", err)
		return nil, err
	}
	logCtx.Info("Status recorded.", "status", req.Status)
	return &models.RecordStatusResponse{Status: "success"}, nil
}
