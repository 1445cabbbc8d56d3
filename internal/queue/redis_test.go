package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"floorplan/internal/domain"
)

func newRedisQueue(t *testing.T, ttl time.Duration) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := New(NewRedisStore(client, "inference", ttl), Options{PollInterval: time.Second})
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func TestRedisStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	q, mr := newRedisQueue(t, time.Hour)

	id, err := q.Enqueue(ctx, domain.TaskGenerateFloorPlan, domain.GenerationParams{Prompt: "plan", Width: 512, Height: 512})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if got := mr.HGet(jobKey(id), "status"); got != "queued" {
		t.Fatalf("hash status = %q", got)
	}
	if ttl := mr.TTL(jobKey(id)); ttl != time.Hour {
		t.Fatalf("hash ttl = %s", ttl)
	}

	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim error: %v", err)
	}
	if job.ID != id || job.Status != domain.JobStatusRunning || job.StartedAt == nil {
		t.Fatalf("claimed job = %+v", job)
	}

	if err := q.Complete(ctx, id, domain.SuccessResult(id, "/out/"+id+".png")); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if err := q.Fail(ctx, id, "late"); err != nil {
		t.Fatalf("Fail after Complete error: %v", err)
	}

	view, err := q.Status(ctx, id)
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if view.Status != domain.JobStatusFinished || view.CompletedAt == nil {
		t.Fatalf("view = %+v", view)
	}
	var result domain.JobResult
	if err := json.Unmarshal(view.Result, &result); err != nil || result.Path != "/out/"+id+".png" {
		t.Fatalf("result = %+v, %v", result, err)
	}
}

func TestRedisStoreDuplicateID(t *testing.T) {
	ctx := context.Background()
	q, _ := newRedisQueue(t, time.Hour)

	if _, err := q.Enqueue(ctx, domain.TaskGenerateFloorPlan, nil, WithJobID("dup")); err != nil {
		t.Fatalf("first Enqueue error: %v", err)
	}
	if _, err := q.Enqueue(ctx, domain.TaskGenerateFloorPlan, nil, WithJobID("dup")); !errors.Is(err, domain.ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
}

func TestRedisStoreExpiredJobIsUnknown(t *testing.T) {
	ctx := context.Background()
	q, mr := newRedisQueue(t, time.Minute)

	id, _ := q.Enqueue(ctx, domain.TaskGenerateFloorPlan, nil)
	mr.FastForward(2 * time.Minute)

	view, err := q.Status(ctx, id)
	if err != nil || view.Status != domain.JobStatusUnknown {
		t.Fatalf("expired status = %+v, %v", view, err)
	}
	if _, err := q.Claim(ctx); !errors.Is(err, domain.ErrNoJobAvailable) {
		t.Fatalf("expected expired job to be skipped, got %v", err)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	q, mr := newRedisQueue(t, time.Hour)
	mr.Close()

	if _, err := q.Enqueue(ctx, domain.TaskGenerateFloorPlan, nil); !errors.Is(err, domain.ErrQueueUnavailable) {
		t.Fatalf("Enqueue: expected ErrQueueUnavailable, got %v", err)
	}
	if _, err := q.Status(ctx, "abc"); !errors.Is(err, domain.ErrQueueUnavailable) {
		t.Fatalf("Status: expected ErrQueueUnavailable, got %v", err)
	}
}
