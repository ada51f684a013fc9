// Command enhance-cli runs the image enhancement pipeline outside Cloud
// Functions, for reprocessing single documents and inspecting their sections.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/storage"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/Lllllllleong/docimageenhancer/internal/enhance"
	"github.com/Lllllllleong/docimageenhancer/internal/gcp"
	"github.com/Lllllllleong/docimageenhancer/internal/markdown"
	"github.com/Lllllllleong/docimageenhancer/internal/models"
	"github.com/Lllllllleong/docimageenhancer/internal/services"
)

func main() {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "enhance-cli",
		Usage: "describe the images of converted markdown documents",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
		},
		Before: func(c *cli.Context) error {
			level := slog.LevelInfo
			if c.Bool("debug") {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "scan",
				Usage:     "list the sections and image embeds of a local markdown file",
				ArgsUsage: "<file.md>",
				Action:    scan,
			},
			{
				Name:  "enhance",
				Usage: "enhance a markdown document stored in Cloud Storage",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "uri", Usage: "gs://bucket/key of the markdown document", Required: true},
					&cli.StringFlag{Name: "out", Usage: "write the result to this local file instead of back to the bucket"},
					&cli.StringFlag{Name: "project", Usage: "GCP project", EnvVars: []string{"PROJECT_ID"}, Required: true},
					&cli.StringFlag{Name: "region", Usage: "Vertex AI region", EnvVars: []string{"VERTEX_AI_REGION"}, Value: "us-central1"},
					&cli.StringFlag{Name: "model", Usage: "vision model", EnvVars: []string{"VISION_MODEL"}, Value: "gemini-1.5-pro"},
				},
				Action: func(c *cli.Context) error {
					return enhanceDocument(ctx, c)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func scan(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("scan expects exactly one markdown file", 2)
	}
	data, err := os.ReadFile(c.Args().First())
	if err != nil {
		return err
	}

	type sectionSummary struct {
		Index   int      `json:"index"`
		Start   int      `json:"start"`
		End     int      `json:"end"`
		Targets []string `json:"targets,omitempty"`
	}
	var out []sectionSummary
	for _, s := range markdown.SplitSections(string(data)) {
		summary := sectionSummary{Index: s.Index, Start: s.Start, End: s.End}
		for _, m := range s.Markers {
			summary.Targets = append(summary.Targets, m.Target)
		}
		out = append(out, summary)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func enhanceDocument(ctx context.Context, c *cli.Context) error {
	doc, err := models.ParseGCSURI(c.String("uri"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	cfg, err := services.PipelineConfigFromEnv()
	if err != nil {
		return err
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "https://storage.googleapis.com/" + doc.Bucket
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}
	defer storageClient.Close()

	vertexClient, err := gcp.NewVertexClient(ctx, c.String("project"), c.String("region"), c.String("model"))
	if err != nil {
		return err
	}
	defer vertexClient.Close()

	store := gcp.NewBlobStore(storageClient)
	pipeline, err := enhance.NewPipeline(cfg, store, vertexClient, slog.Default())
	if err != nil {
		return err
	}

	source, err := store.Read(ctx, doc)
	if err != nil {
		return err
	}
	enhanced, stats := pipeline.Enhance(ctx, doc, string(source))

	if out := c.String("out"); out != "" {
		if err := os.WriteFile(out, []byte(enhanced), 0o644); err != nil {
			return err
		}
	} else if err := store.Write(ctx, doc, []byte(enhanced), services.MarkdownContentType); err != nil {
		return err
	}

	slog.Info("Document enhanced.", "document", doc.URI(), "stats", stats)
	return nil
}
