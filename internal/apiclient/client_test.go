package apiclient

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"floorplan/internal/annotate"
	"floorplan/internal/domain"
	httpapi "floorplan/internal/http"
	"floorplan/internal/http/handlers"
	"floorplan/internal/infra"
	"floorplan/internal/pipeline"
	"floorplan/internal/queue"
	"floorplan/internal/storage"
	"floorplan/internal/worker"
)

type stack struct {
	client *Client
	worker *worker.Worker
}

func newStack(t *testing.T) *stack {
	t.Helper()
	fs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	q := queue.New(queue.NewMemoryStore(), queue.Options{PollInterval: 10 * time.Millisecond})
	enhancer := annotate.New(annotate.Options{})
	cfg := &infra.Config{ModelID: "synthetic", MaxUploadBytes: 1 << 20}

	srv := httptest.NewServer(httpapi.NewRouter(&handlers.App{
		Config:    cfg,
		Logger:    zerolog.Nop(),
		Jobs:      q,
		Enhancer:  enhancer,
		Artifacts: fs,
	}))
	t.Cleanup(srv.Close)

	w := worker.New(worker.Options{
		Jobs:         q,
		Pipelines:    pipeline.NewCache(pipeline.SyntheticLoader{}, nil),
		Enhancer:     enhancer,
		Artifacts:    fs,
		DefaultModel: cfg.DefaultModel(),
	})
	return &stack{
		client: New(Options{BaseURL: srv.URL + "/", PollInterval: 5 * time.Millisecond}),
		worker: w,
	}
}

func TestSubmitWaitAndDownload(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	seed := int64(3)

	resp, err := s.client.Generate(ctx, GenerateRequest{SquareFeet: 800, Bedrooms: 2, Bathrooms: 1, Width: 96, Height: 64, Seed: &seed})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if resp.JobID == "" || resp.ConstructedPrompt == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	view, err := s.client.Status(ctx, resp.JobID)
	if err != nil || view.Status != domain.JobStatusQueued {
		t.Fatalf("Status = %+v, %v", view, err)
	}

	if processed, err := s.worker.ProcessNext(ctx); err != nil || !processed {
		t.Fatalf("ProcessNext = %v, %v", processed, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	view, err = s.client.Wait(waitCtx, resp.JobID)
	if err != nil || view.Status != domain.JobStatusFinished {
		t.Fatalf("Wait = %+v, %v", view, err)
	}

	data, err := s.client.Artifact(ctx, resp.JobID)
	if err != nil {
		t.Fatalf("Artifact error: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil || img.Bounds().Dx() != 96 || img.Bounds().Dy() != 64 {
		t.Fatalf("artifact = %v, %v", img.Bounds(), err)
	}
}

func TestWaitReturnsUnknown(t *testing.T) {
	s := newStack(t)
	view, err := s.client.Wait(context.Background(), "never-enqueued")
	if err != nil || view.Status != domain.JobStatusUnknown {
		t.Fatalf("Wait = %+v, %v", view, err)
	}
}

func TestAPIErrors(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.client.Generate(ctx, GenerateRequest{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "bad_request" {
		t.Fatalf("expected bad_request APIError, got %v", err)
	}

	if _, err := s.client.Artifact(ctx, "missing"); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}

	var buf bytes.Buffer
	_ = png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)))
	if _, err := s.client.Enhance(ctx, "plan.png", "", buf.Bytes()); !IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"job_id":"j","status":"started","result":null}`))
	}))
	defer srv.Close()

	client := New(Options{BaseURL: srv.URL, PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := client.Wait(ctx, "j"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
