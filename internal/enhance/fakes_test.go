package enhance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Lllllllleong/docimageenhancer/internal/models"
)

var errNotFound = errors.New("object not found")

type fakeObject struct {
	size int64
	data []byte
}

// fakeStore is an in-memory BlobStore that tracks read concurrency.
type fakeStore struct {
	mu        sync.Mutex
	objects   map[string]fakeObject
	sizeErr   map[string]error
	reads     []string
	active    int
	maxActive int
	readDelay time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects: make(map[string]fakeObject),
		sizeErr: make(map[string]error),
	}
}

func (s *fakeStore) put(key string, size int64, data []byte) {
	s.objects[key] = fakeObject{size: size, data: data}
}

func (s *fakeStore) Size(_ context.Context, loc models.Location) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.sizeErr[loc.Key]; ok {
		return 0, err
	}
	obj, ok := s.objects[loc.Key]
	if !ok {
		return 0, fmt.Errorf("%s: %w", loc.Key, errNotFound)
	}
	return obj.size, nil
}

func (s *fakeStore) Read(_ context.Context, loc models.Location) ([]byte, error) {
	s.mu.Lock()
	s.reads = append(s.reads, loc.Key)
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	obj, ok := s.objects[loc.Key]
	delay := s.readDelay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", loc.Key, errNotFound)
	}
	return obj.data, nil
}

// fakeVision is a scripted VisionModel that records every request.
type fakeVision struct {
	mu       sync.Mutex
	requests []models.VisionRequest
	respond  func(call int, req models.VisionRequest) (string, error)
}

func (v *fakeVision) DescribeImages(_ context.Context, req models.VisionRequest) (string, error) {
	v.mu.Lock()
	v.requests = append(v.requests, req)
	call := len(v.requests)
	v.mu.Unlock()
	return v.respond(call, req)
}

func (v *fakeVision) calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.requests)
}

func (v *fakeVision) sentKeys() map[string]bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	keys := make(map[string]bool)
	for _, r := range v.requests {
		for _, img := range r.Images {
			keys[img.Key] = true
		}
	}
	return keys
}

// echoVision describes every image it is sent as "<key> of <first context line>".
func echoVision() *fakeVision {
	return &fakeVision{respond: func(_ int, req models.VisionRequest) (string, error) {
		heading, _, _ := bytes.Cut([]byte(req.Context), []byte("\n"))
		out := "{"
		for i, img := range req.Images {
			if i > 0 {
				out += ","
			}
			out += fmt.Sprintf("%q: %q", img.Key, img.Key+" of "+string(heading))
		}
		return out + "}", nil
	}}
}

// jpegBytes returns a small valid JPEG.
func jpegBytes() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: uint8(x * 50), B: uint8(y * 50), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testDoc = models.Location{Bucket: "docs", Key: "ProcessingFile/report/report.md"}

const testBaseURL = "https://cdn.example.com"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PublicBaseURL = testBaseURL
	return cfg
}

func imageKey(name string) string {
	return "ProcessingFile/report/images/" + name
}

func canonical(name string) string {
	return testBaseURL + "/" + imageKey(name)
}
