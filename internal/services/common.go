package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/docimageenhancer/internal/models"
)

// ErrBadRequest marks errors caused by the caller's payload rather than by processing.
var ErrBadRequest = errors.New("bad request")

// StatusStore persists the processing record of each uploaded file.
type StatusStore interface {
	Get(ctx context.Context, fileName string) (*models.ProcessingRecord, error)
	Record(ctx context.Context, fileName string, status models.Status, details string) error
	SetConversion(ctx context.Context, fileName string, pageCount int, executionID string) error
}

// recordStatus moves the record of fileName to status. Status updates are
// best-effort: a failure is logged and never fails the calling operation.
func recordStatus(ctx context.Context, logCtx *slog.Logger, statuses StatusStore, fileName string, status models.Status) {
	if fileName == "" {
		return
	}
	if err := statuses.Record(ctx, fileName, status, ""); err != nil {
		logCtx.Error("Failed to update Firestore status", "status", status, "error", err)
	}
}

// recordFailure logs a processing failure, moves the record of fileName to
// status and returns the error to hand back to the caller.
func recordFailure(ctx context.Context, logCtx *slog.Logger, statuses StatusStore, fileName string, status models.Status, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if fileName == "" {
		return fmt.Errorf("%s: %w", message, originalErr)
	}
	if err := statuses.Record(ctx, fileName, status, fullError); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status after a processing error.", "status", status, "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}
