package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/docimageenhancer/internal/gcp"
	"github.com/Lllllllleong/docimageenhancer/internal/models"
)

// IntakeConfig holds configuration for the pdf-intake service.
type IntakeConfig struct {
	ProjectID        string
	CollectionName   string
	WorkflowID       string
	WorkflowLocation string
	OutputPrefix     string
}

// ObjectDownloader streams a stored object to a local file.
type ObjectDownloader interface {
	Download(ctx context.Context, loc models.Location, destPath string) error
}

// WorkflowStarter starts a conversion workflow and returns the execution name.
type WorkflowStarter interface {
	Start(ctx context.Context, args any) (string, error)
}

// IntakeFunction accepts uploaded PDFs and hands them to the conversion workflow.
type IntakeFunction struct {
	storage   ObjectDownloader
	statuses  StatusStore
	workflows WorkflowStarter
	inspect   func(path string) (int, error)
	config    IntakeConfig
}

// GCSEvent is the payload of a storage object finalize event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// NewIntake creates a new IntakeFunction instance from the environment.
func NewIntake(ctx context.Context) (*IntakeFunction, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}

	config := IntakeConfig{
		ProjectID:        projectID,
		CollectionName:   gcp.GetEnv("FIRESTORE_COLLECTION", "processing_records"),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", "document-conversion"),
		OutputPrefix:     gcp.GetEnv("MARKDOWN_OUTPUT_PREFIX", "ProcessingFile/"),
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	trigger, err := gcp.NewWorkflowTrigger(ctx, config.ProjectID, config.WorkflowLocation, config.WorkflowID)
	if err != nil {
		return nil, err
	}

	f := &IntakeFunction{
		storage:   gcp.NewBlobStore(storageClient),
		statuses:  gcp.NewStatusStore(firestoreClient, config.CollectionName),
		workflows: trigger,
		inspect:   inspectPDF,
		config:    config,
	}
	slog.Info("PDF intake logic initialized.", "workflowId", config.WorkflowID)
	return f, nil
}

// Process validates an uploaded PDF and starts its conversion.
func (f *IntakeFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if !strings.EqualFold(path.Ext(e.Name), ".pdf") {
		logCtx.Info("Ignoring non-PDF object.")
		return nil
	}
	logCtx.Info("Processing new PDF upload.")

	existing, err := f.statuses.Get(ctx, e.Name)
	if err != nil {
		logCtx.Error("Failed to read processing record", "error", err)
		return err
	}
	if existing != nil && existing.Status == models.StatusSucceeded {
		logCtx.Info("File already processed. Skipping.")
		return nil
	}

	recordStatus(ctx, logCtx, f.statuses, e.Name, models.StatusUploaded)

	pageCount, err := f.validate(ctx, logCtx, e)
	if err != nil {
		return err
	}
	logCtx = logCtx.With("pageCount", pageCount)

	recordStatus(ctx, logCtx, f.statuses, e.Name, models.StatusConverting)

	args := models.ConversionWorkflowArgs{
		Bucket:       e.Bucket,
		Key:          e.Name,
		OutputPrefix: f.outputPrefix(e.Name),
		PageCount:    pageCount,
	}
	executionID, err := f.workflows.Start(ctx, args)
	if err != nil {
		return f.handleError(ctx, logCtx, e.Name, "failed to trigger workflow execution", err)
	}
	if err := f.statuses.SetConversion(ctx, e.Name, pageCount, executionID); err != nil {
		logCtx.Warn("Failed to store workflow execution on record", "error", err)
	}

	logCtx.Info("Hand-off to workflow complete.", "executionId", executionID, "outputPrefix", args.OutputPrefix)
	return nil
}

// validate downloads the PDF to a temp dir and returns its page count.
func (f *IntakeFunction) validate(ctx context.Context, logCtx *slog.Logger, e GCSEvent) (int, error) {
	tempDir, err := os.MkdirTemp("", "pdf-intake-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePdfPath := filepath.Join(tempDir, "source.pdf")
	if err := f.storage.Download(ctx, models.Location{Bucket: e.Bucket, Key: e.Name}, sourcePdfPath); err != nil {
		logCtx.Error("Failed to download source PDF", "error", err)
		return 0, err
	}

	pageCount, err := f.inspect(sourcePdfPath)
	if err != nil {
		return 0, f.handleError(ctx, logCtx, e.Name, "failed to validate PDF", err)
	}
	if pageCount < 1 {
		return 0, f.handleError(ctx, logCtx, e.Name, "failed to validate PDF", fmt.Errorf("document has no pages"))
	}
	return pageCount, nil
}

// outputPrefix is the directory the converter writes the document's markdown
// and images/ to: <prefix><file stem>/.
func (f *IntakeFunction) outputPrefix(name string) string {
	base := path.Base(name)
	stem := strings.TrimSuffix(base, path.Ext(base))
	prefix := f.config.OutputPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + stem + "/"
}

func (f *IntakeFunction) handleError(ctx context.Context, logCtx *slog.Logger, fileName, message string, originalErr error) error {
	return recordFailure(ctx, logCtx, f.statuses, fileName, models.StatusFailedToMarkdown, message, originalErr)
}

func inspectPDF(path string) (int, error) {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, cfg); err != nil {
		return 0, err
	}
	return api.PageCountFile(path)
}
