package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/docimageenhancer/internal/models"
	"github.com/Lllllllleong/docimageenhancer/internal/services"
)

var (
	enhancerInstance *services.EnhancerFunction
	once             sync.Once
	initErr          error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// "HandleEnhanceMarkdown" is the entry point name configured in GCP.
	functions.HTTP("HandleEnhanceMarkdown", handleEnhanceMarkdown)
}

// main is required by the Go Functions Framework.
func main() {}

// handleEnhanceMarkdown is called by the workflow once the converter has
// written a document's markdown and images.
func handleEnhanceMarkdown(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		enhancerInstance, initErr = services.NewEnhancer(context.Background())
	})
	if initErr != nil {
		slog.Error("CRITICAL: Enhancer initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.EnhanceMarkdownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := enhancerInstance.Process(r.Context(), &req)
	if errors.Is(err, services.ErrBadRequest) {
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		// The specific error is already logged inside the Process method.
		http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}
