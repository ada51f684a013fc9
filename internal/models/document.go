package models

import "time"

// Status is a processing state of an uploaded source file.
type Status string

const (
	StatusUploaded         Status = "uploaded"
	StatusConverting       Status = "converting"
	StatusConvertingImages Status = "converting_images"
	StatusSucceeded        Status = "succeeded"
	StatusFailedToMarkdown Status = "failed_to_markdown"
	StatusFailedToImages   Status = "failed_to_images"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusUploaded, StatusConverting, StatusConvertingImages,
		StatusSucceeded, StatusFailedToMarkdown, StatusFailedToImages:
		return true
	}
	return false
}

// ProcessingRecord is the Firestore record tracking one uploaded file.
type ProcessingRecord struct {
	FileName            string    `firestore:"fileName,omitempty"`
	Status              Status    `firestore:"status,omitempty"`
	ErrorDetails        string    `firestore:"errorDetails,omitempty"`
	PageCount           int       `firestore:"pageCount,omitempty"`
	WorkflowExecutionID string    `firestore:"workflowExecutionId,omitempty"` // For traceability
	CreatedAt           time.Time `firestore:"createdAt,omitempty"`
	UpdatedAt           time.Time `firestore:"updatedAt,omitempty"`
}
