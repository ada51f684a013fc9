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
	recorderInstance *services.StatusRecorderFunction
	once             sync.Once
	initErr          error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleRecordStatus", handleRecordStatus)
}

func main() {}

func handleRecordStatus(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		recorderInstance, initErr = services.NewStatusRecorder(context.Background())
	})
	if initErr != nil {
		slog.Error("CRITICAL: Status recorder initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.RecordStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := recorderInstance.Process(r.Context(), &req)
	if errors.Is(err, services.ErrBadRequest) {
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
