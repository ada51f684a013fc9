package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"sync"

	"github.com/Lllllllleong/docimageenhancer/internal/gcp"
	"github.com/Lllllllleong/docimageenhancer/internal/models"
)

type storedObject struct {
	data        []byte
	contentType string
}

// memoryStore is an in-memory MarkdownStore and ObjectDownloader.
type memoryStore struct {
	mu       sync.Mutex
	objects  map[string]storedObject
	writeErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string]storedObject)}
}

func (s *memoryStore) put(key string, data []byte) {
	s.objects[key] = storedObject{data: data}
}

func (s *memoryStore) get(key string) (storedObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	return obj, ok
}

func (s *memoryStore) Size(_ context.Context, loc models.Location) (int64, error) {
	obj, ok := s.get(loc.Key)
	if !ok {
		return 0, fmt.Errorf("%s: %w", loc.URI(), gcp.ErrObjectNotFound)
	}
	return int64(len(obj.data)), nil
}

func (s *memoryStore) Read(_ context.Context, loc models.Location) ([]byte, error) {
	obj, ok := s.get(loc.Key)
	if !ok {
		return nil, fmt.Errorf("%s: %w", loc.URI(), gcp.ErrObjectNotFound)
	}
	return obj.data, nil
}

func (s *memoryStore) Write(_ context.Context, loc models.Location, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.objects[loc.Key] = storedObject{data: data, contentType: contentType}
	return nil
}

func (s *memoryStore) WriteIfAbsent(_ context.Context, loc models.Location, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[loc.Key]; ok {
		return nil
	}
	s.objects[loc.Key] = storedObject{data: data, contentType: contentType}
	return nil
}

func (s *memoryStore) Download(_ context.Context, loc models.Location, destPath string) error {
	obj, ok := s.get(loc.Key)
	if !ok {
		return fmt.Errorf("%s: %w", loc.URI(), gcp.ErrObjectNotFound)
	}
	return os.WriteFile(destPath, obj.data, 0o600)
}

type statusEvent struct {
	fileName string
	status   models.Status
	details  string
}

// recordingStatuses is an in-memory StatusStore that keeps every transition.
type recordingStatuses struct {
	mu          sync.Mutex
	records     map[string]*models.ProcessingRecord
	events      []statusEvent
	recordErr   error
	conversions map[string]string
}

func newRecordingStatuses() *recordingStatuses {
	return &recordingStatuses{
		records:     make(map[string]*models.ProcessingRecord),
		conversions: make(map[string]string),
	}
}

func (s *recordingStatuses) Get(_ context.Context, fileName string) (*models.ProcessingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[fileName]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *recordingStatuses) Record(_ context.Context, fileName string, status models.Status, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	s.events = append(s.events, statusEvent{fileName: fileName, status: status, details: details})
	rec, ok := s.records[fileName]
	if !ok {
		rec = &models.ProcessingRecord{FileName: fileName}
		s.records[fileName] = rec
	}
	rec.Status = status
	rec.ErrorDetails = details
	return nil
}

func (s *recordingStatuses) SetConversion(_ context.Context, fileName string, pageCount int, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[fileName]; ok {
		rec.PageCount = pageCount
		rec.WorkflowExecutionID = executionID
	}
	s.conversions[fileName] = executionID
	return nil
}

func (s *recordingStatuses) statuses() []models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Status, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.status)
	}
	return out
}

func (s *recordingStatuses) last() statusEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

// scriptedVision answers every describe call with the same response.
type scriptedVision struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
}

func (v *scriptedVision) DescribeImages(context.Context, models.VisionRequest) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	return v.response, v.err
}

type fakeWorkflows struct {
	args []any
	err  error
}

func (w *fakeWorkflows) Start(_ context.Context, args any) (string, error) {
	if w.err != nil {
		return "", w.err
	}
	w.args = append(w.args, args)
	return fmt.Sprintf("executions/%d", len(w.args)), nil
}

// noisyPNG returns a side x side PNG of pseudo-random pixels, which the encoder
// cannot compress much: 80 x 80 comes out well above 10 KiB.
func noisyPNG(side int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, side, side))
	seed := uint32(2463534242)
	for x := 0; x < side; x++ {
		for y := 0; y < side; y++ {
			seed ^= seed << 13
			seed ^= seed >> 17
			seed ^= seed << 5
			img.Set(x, y, color.RGBA{R: uint8(seed), G: uint8(seed >> 8), B: uint8(seed >> 16), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
