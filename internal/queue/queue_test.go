package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"floorplan/internal/domain"
)

func newMemoryQueue(t *testing.T) (*Queue, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	q := New(store, Options{PollInterval: 50 * time.Millisecond})
	t.Cleanup(func() { _ = q.Close() })
	return q, store
}

func TestQueueLifecycle(t *testing.T) {
	ctx := context.Background()
	q, _ := newMemoryQueue(t)

	view, err := q.Status(ctx, "missing")
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if view.Status != domain.JobStatusUnknown || view.Result != nil {
		t.Fatalf("unknown job view = %+v", view)
	}

	params := domain.GenerationParams{Prompt: "plan", Height: 512, Width: 512, Steps: 50, GuidanceScale: 7.5}
	id, err := q.Enqueue(ctx, domain.TaskGenerateFloorPlan, params)
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if len(id) != 32 {
		t.Fatalf("expected 32 char hex id, got %q", id)
	}

	view, _ = q.Status(ctx, id)
	if view.Status != domain.JobStatusQueued {
		t.Fatalf("status after enqueue = %q", view.Status)
	}

	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim error: %v", err)
	}
	if job.ID != id || job.Status != domain.JobStatusRunning || job.StartedAt == nil {
		t.Fatalf("claimed job = %+v", job)
	}
	var decoded domain.GenerationParams
	if err := json.Unmarshal(job.Payload, &decoded); err != nil || decoded.Prompt != "plan" {
		t.Fatalf("payload round trip = %+v, %v", decoded, err)
	}

	view, _ = q.Status(ctx, id)
	if view.Status != domain.JobStatusRunning {
		t.Fatalf("status after claim = %q", view.Status)
	}

	if err := q.Complete(ctx, id, domain.SuccessResult(id, "/data/generated/"+id+".png")); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	view, _ = q.Status(ctx, id)
	if view.Status != domain.JobStatusFinished {
		t.Fatalf("status after complete = %q", view.Status)
	}
	var result domain.JobResult
	if err := json.Unmarshal(view.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Status != domain.ResultStatusSuccess || result.JobID != id || result.Path != "/data/generated/"+id+".png" {
		t.Fatalf("result = %+v", result)
	}
}

func TestQueueTerminalTransitionsAreNoOps(t *testing.T) {
	ctx := context.Background()
	q, _ := newMemoryQueue(t)

	id, err := q.Enqueue(ctx, domain.TaskGenerateFloorPlan, map[string]string{"prompt": "x"})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if _, err := q.Claim(ctx); err != nil {
		t.Fatalf("Claim error: %v", err)
	}
	if err := q.Complete(ctx, id, domain.SuccessResult(id, "a.png")); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if err := q.Fail(ctx, id, "late failure"); err != nil {
		t.Fatalf("Fail after complete returned error: %v", err)
	}
	if err := q.Complete(ctx, id, domain.SuccessResult(id, "b.png")); err != nil {
		t.Fatalf("second Complete returned error: %v", err)
	}

	view, _ := q.Status(ctx, id)
	var result domain.JobResult
	_ = json.Unmarshal(view.Result, &result)
	if view.Status != domain.JobStatusFinished || result.Path != "a.png" {
		t.Fatalf("terminal state changed: %s %+v", view.Status, result)
	}

	if err := q.Fail(ctx, "never-enqueued", "boom"); err != nil {
		t.Fatalf("Fail on unknown job returned error: %v", err)
	}
}

func TestQueueFailRecordsErrorPayload(t *testing.T) {
	ctx := context.Background()
	q, _ := newMemoryQueue(t)

	id, _ := q.Enqueue(ctx, domain.TaskGenerateFloorPlan, map[string]string{})
	if _, err := q.Claim(ctx); err != nil {
		t.Fatalf("Claim error: %v", err)
	}
	if err := q.Fail(ctx, id, "CUDA out of memory"); err != nil {
		t.Fatalf("Fail error: %v", err)
	}
	view, _ := q.Status(ctx, id)
	if view.Status != domain.JobStatusFailed {
		t.Fatalf("status = %q", view.Status)
	}
	var result domain.JobResult
	_ = json.Unmarshal(view.Result, &result)
	if result.Status != domain.ResultStatusError || result.Error != "CUDA out of memory" {
		t.Fatalf("result = %+v", result)
	}
}

func TestQueueEnqueueWithJobID(t *testing.T) {
	ctx := context.Background()
	q, _ := newMemoryQueue(t)

	id, err := q.Enqueue(ctx, domain.TaskGenerateFloorPlan, nil, WithJobID("plan-2024_01"))
	if err != nil || id != "plan-2024_01" {
		t.Fatalf("Enqueue = %q, %v", id, err)
	}
	if _, err := q.Enqueue(ctx, domain.TaskGenerateFloorPlan, nil, WithJobID("plan-2024_01")); !errors.Is(err, domain.ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
	if _, err := q.Enqueue(ctx, domain.TaskGenerateFloorPlan, nil, WithJobID("../etc/passwd")); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for path-like id, got %v", err)
	}
}

func TestQueueEnqueueRejectsUnencodablePayload(t *testing.T) {
	q, _ := newMemoryQueue(t)
	_, err := q.Enqueue(context.Background(), domain.TaskGenerateFloorPlan, map[string]any{"ch": make(chan int)})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestQueueClaimTimesOutWhenIdle(t *testing.T) {
	q, _ := newMemoryQueue(t)
	start := time.Now()
	_, err := q.Claim(context.Background())
	if !errors.Is(err, domain.ErrNoJobAvailable) {
		t.Fatalf("expected ErrNoJobAvailable, got %v", err)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatalf("Claim returned before the poll interval")
	}
}

func TestQueueClaimWakesOnEnqueue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	q := New(store, Options{PollInterval: 5 * time.Second})

	done := make(chan *domain.Job, 1)
	go func() {
		job, _ := q.Claim(ctx)
		done <- job
	}()
	time.Sleep(20 * time.Millisecond)
	id, _ := q.Enqueue(ctx, domain.TaskGenerateFloorPlan, nil)

	select {
	case job := <-done:
		if job == nil || job.ID != id {
			t.Fatalf("claimed %+v, want %s", job, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Claim did not wake on enqueue")
	}
}

func TestQueueClaimOrderIsFIFO(t *testing.T) {
	ctx := context.Background()
	q, _ := newMemoryQueue(t)
	first, _ := q.Enqueue(ctx, domain.TaskGenerateFloorPlan, nil)
	second, _ := q.Enqueue(ctx, domain.TaskGenerateFloorPlan, nil)

	a, _ := q.Claim(ctx)
	b, _ := q.Claim(ctx)
	if a.ID != first || b.ID != second {
		t.Fatalf("claim order = %s, %s; want %s, %s", a.ID, b.ID, first, second)
	}
}

func TestQueueEvictedJobIsUnknown(t *testing.T) {
	ctx := context.Background()
	q, store := newMemoryQueue(t)
	id, _ := q.Enqueue(ctx, domain.TaskGenerateFloorPlan, nil)
	store.Evict(id)

	view, err := q.Status(ctx, id)
	if err != nil || view.Status != domain.JobStatusUnknown {
		t.Fatalf("evicted status = %+v, %v", view, err)
	}
	if _, err := q.Claim(ctx); !errors.Is(err, domain.ErrNoJobAvailable) {
		t.Fatalf("evicted job should not be claimable, got %v", err)
	}
}

type failingStore struct{ MemoryStore }

func (*failingStore) Get(context.Context, string) (*domain.Job, error) {
	return nil, unavailable("get", errors.New("connection refused"))
}

func TestQueueStatusSurfacesStoreErrors(t *testing.T) {
	q := New(&failingStore{}, Options{})
	view, err := q.Status(context.Background(), "abc")
	if !errors.Is(err, domain.ErrQueueUnavailable) {
		t.Fatalf("expected ErrQueueUnavailable, got %v", err)
	}
	if view.Status != domain.JobStatusUnknown {
		t.Fatalf("status = %q", view.Status)
	}
}
