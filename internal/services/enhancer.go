package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/docimageenhancer/internal/enhance"
	"github.com/Lllllllleong/docimageenhancer/internal/gcp"
	"github.com/Lllllllleong/docimageenhancer/internal/models"
)

// MarkdownContentType is the content type enhanced documents are written with.
const MarkdownContentType = "text/markdown; charset=utf-8"

// backupSuffix names the copy of the converter output kept next to the document.
const backupSuffix = ".orig"

// MarkdownStore is the blob store the enhancer reads documents and images from
// and writes results to.
type MarkdownStore interface {
	enhance.BlobStore
	Write(ctx context.Context, loc models.Location, data []byte, contentType string) error
	WriteIfAbsent(ctx context.Context, loc models.Location, data []byte, contentType string) error
}

// EnhancerConfig holds configuration for the image-enhancer service.
type EnhancerConfig struct {
	ProjectID      string
	VertexAIRegion string
	VisionModel    string
	CollectionName string
	Pipeline       enhance.Config
}

// EnhancerFunction holds dependencies for the image enhancement logic.
type EnhancerFunction struct {
	store    MarkdownStore
	statuses StatusStore
	model    enhance.VisionModel
	config   EnhancerConfig

	mu        sync.Mutex
	pipelines map[string]*enhance.Pipeline
}

// NewEnhancer creates a new EnhancerFunction instance from the environment.
func NewEnhancer(ctx context.Context) (*EnhancerFunction, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	pipelineConfig, err := PipelineConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline configuration: %w", err)
	}

	config := EnhancerConfig{
		ProjectID:      projectID,
		VertexAIRegion: gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		VisionModel:    gcp.GetEnv("VISION_MODEL", "gemini-1.5-pro"),
		CollectionName: gcp.GetEnv("FIRESTORE_COLLECTION", "processing_records"),
		Pipeline:       pipelineConfig,
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion, config.VisionModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	f, err := newEnhancerFunction(
		gcp.NewBlobStore(storageClient),
		gcp.NewStatusStore(firestoreClient, config.CollectionName),
		vertexClient,
		config,
	)
	if err != nil {
		return nil, err
	}
	slog.Info("Image enhancer logic initialized.", "visionModel", config.VisionModel, "collection", config.CollectionName)
	return f, nil
}

func newEnhancerFunction(store MarkdownStore, statuses StatusStore, model enhance.VisionModel, config EnhancerConfig) (*EnhancerFunction, error) {
	// Validate everything except the base URL, which may be resolved per bucket.
	probe := config.Pipeline
	probe.PublicBaseURL = publicBaseURLFor(probe.PublicBaseURL, "probe")
	if err := probe.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline configuration: %w", err)
	}
	return &EnhancerFunction{
		store:     store,
		statuses:  statuses,
		model:     model,
		config:    config,
		pipelines: make(map[string]*enhance.Pipeline),
	}, nil
}

// pipelineFor returns the pipeline serving documents of bucket. Pipelines are
// shared between requests so the analyze rate limit holds across them.
func (f *EnhancerFunction) pipelineFor(bucket string) (*enhance.Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pipelines[bucket]; ok {
		return p, nil
	}
	cfg := f.config.Pipeline
	cfg.PublicBaseURL = publicBaseURLFor(cfg.PublicBaseURL, bucket)
	p, err := enhance.NewPipeline(cfg, f.store, f.model, slog.Default())
	if err != nil {
		return nil, err
	}
	f.pipelines[bucket] = p
	return p, nil
}

// Process enhances the markdown document named by req in place.
func (f *EnhancerFunction) Process(ctx context.Context, req *models.EnhanceMarkdownRequest) (*models.EnhanceMarkdownResponse, error) {
	if req.Bucket == "" || req.Key == "" {
		return nil, fmt.Errorf("%w: bucket and key are required", ErrBadRequest)
	}
	doc := models.Location{Bucket: req.Bucket, Key: req.Key}
	logCtx := slog.With("gcsBucket", req.Bucket, "gcsObject", req.Key, "sourceFile", req.SourceFile, "executionId", req.ExecutionID)
	logCtx.Info("Starting image enhancement.")

	recordStatus(ctx, logCtx, f.statuses, req.SourceFile, models.StatusConvertingImages)

	pipeline, err := f.pipelineFor(req.Bucket)
	if err != nil {
		return nil, f.handleError(ctx, logCtx, req, "failed to build enhancement pipeline", err)
	}

	source, err := f.loadSource(ctx, logCtx, doc, req.ExecutionID)
	if err != nil {
		return nil, f.handleError(ctx, logCtx, req, "failed to read markdown", err)
	}

	enhanced, stats := pipeline.Enhance(ctx, doc, string(source))

	if err := f.store.Write(ctx, doc, []byte(enhanced), MarkdownContentType); err != nil {
		return nil, f.handleError(ctx, logCtx, req, "failed to write enhanced markdown", err)
	}

	recordStatus(ctx, logCtx, f.statuses, req.SourceFile, models.StatusSucceeded)

	logCtx.Info("Image enhancement complete.",
		"describableImages", stats.DescribableImages,
		"descriptionsAdded", stats.DescriptionsAdded,
	)
	return &models.EnhanceMarkdownResponse{
		Status:      "success",
		MarkdownURI: doc.URI(),
		Stats:       stats,
	}, nil
}

// loadSource returns the converter output of doc. The first run of a
// conversion keeps a copy of it next to doc; later runs of the same
// conversion start from that copy.
func (f *EnhancerFunction) loadSource(ctx context.Context, logCtx *slog.Logger, doc models.Location, executionID string) ([]byte, error) {
	backup := backupLocation(doc, executionID)

	data, err := f.store.Read(ctx, backup)
	if err == nil {
		logCtx.Info("Reprocessing from converter output backup.", "backup", backup.URI())
		return data, nil
	}
	if !errors.Is(err, gcp.ErrObjectNotFound) {
		return nil, err
	}

	data, err = f.store.Read(ctx, doc)
	if err != nil {
		return nil, err
	}
	if err := f.store.WriteIfAbsent(ctx, backup, data, MarkdownContentType); err != nil {
		return nil, fmt.Errorf("failed to back up converter output: %w", err)
	}
	return data, nil
}

// backupLocation names the converter output copy of doc for one workflow
// execution: <key>.<execution>.orig, or <key>.orig without an execution.
// A re-conversion runs under a new execution and so never reads the copy
// of an earlier one.
func backupLocation(doc models.Location, executionID string) models.Location {
	key := doc.Key + backupSuffix
	if executionID != "" {
		key = doc.Key + "." + path.Base(executionID) + backupSuffix
	}
	return models.Location{Bucket: doc.Bucket, Key: key}
}

func (f *EnhancerFunction) handleError(ctx context.Context, logCtx *slog.Logger, req *models.EnhanceMarkdownRequest, message string, originalErr error) error {
	return recordFailure(ctx, logCtx, f.statuses, req.SourceFile, models.StatusFailedToImages, message, originalErr)
}
