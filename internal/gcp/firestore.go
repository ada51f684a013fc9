package gcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/docimageenhancer/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
// It centralizes client creation for all services.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// RecordID is the document ID of the processing record of fileName.
func RecordID(fileName string) string {
	sum := sha256.Sum256([]byte(fileName))
	return hex.EncodeToString(sum[:])
}

// StatusStore keeps one ProcessingRecord per uploaded file.
type StatusStore struct {
	client     *firestore.Client
	collection string
}

// NewStatusStore uses the given collection of client.
func NewStatusStore(client *firestore.Client, collection string) *StatusStore {
	return &StatusStore{client: client, collection: collection}
}

func (s *StatusStore) doc(fileName string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(RecordID(fileName))
}

// Get returns the record of fileName, or nil if there is none.
func (s *StatusStore) Get(ctx context.Context, fileName string) (*models.ProcessingRecord, error) {
	snap, err := s.doc(fileName).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read processing record: %w", err)
	}
	var rec models.ProcessingRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode processing record: %w", err)
	}
	return &rec, nil
}

// Record moves fileName to st. details replaces any previous error details and
// is cleared when empty. The record is created on first use.
func (s *StatusStore) Record(ctx context.Context, fileName string, st models.Status, details string) error {
	if !st.Valid() {
		return fmt.Errorf("unknown status %q", st)
	}
	ref := s.doc(fileName)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		_, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			rec := map[string]interface{}{
				"fileName":  fileName,
				"status":    st,
				"createdAt": firestore.ServerTimestamp,
				"updatedAt": firestore.ServerTimestamp,
			}
			if details != "" {
				rec["errorDetails"] = details
			}
			return tx.Create(ref, rec)
		}
		if err != nil {
			return err
		}

		updates := []firestore.Update{
			{Path: "status", Value: st},
			{Path: "updatedAt", Value: firestore.ServerTimestamp},
		}
		if details != "" {
			updates = append(updates, firestore.Update{Path: "errorDetails", Value: details})
		} else {
			updates = append(updates, firestore.Update{Path: "errorDetails", Value: firestore.Delete})
		}
		return tx.Update(ref, updates)
	})
	if err != nil {
		return fmt.Errorf("failed to record status %s for %s: %w", st, fileName, err)
	}
	return nil
}

// SetConversion stores the page count and workflow execution started for fileName.
func (s *StatusStore) SetConversion(ctx context.Context, fileName string, pageCount int, executionID string) error {
	updates := []firestore.Update{
		{Path: "pageCount", Value: pageCount},
		{Path: "workflowExecutionId", Value: executionID},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	}
	if _, err := s.doc(fileName).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to store conversion details for %s: %w", fileName, err)
	}
	return nil
}
