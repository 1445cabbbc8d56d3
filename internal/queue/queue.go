// Package queue implements the job lifecycle shared by the API and the
// worker: submission, status lookup, claiming and terminal transitions.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"floorplan/internal/domain"
	"floorplan/internal/infra"
	"floorplan/internal/metrics"
)

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// JobView is the read-only projection of a job returned to pollers.
type JobView struct {
	JobID       string           `json:"job_id"`
	Status      domain.JobStatus `json:"status"`
	Result      json.RawMessage  `json:"result"`
	CreatedAt   *time.Time       `json:"created_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Options controls how a Queue is configured.
type Options struct {
	// PollInterval bounds how long Claim waits for work before returning
	// domain.ErrNoJobAvailable.
	PollInterval time.Duration
	Logger       *infra.Logger
	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Queue is the single synchronization point between the request path and
// the worker. It is safe for concurrent use.
type Queue struct {
	store  domain.JobStore
	wait   time.Duration
	logger *infra.Logger
	now    func() time.Time
	newID  func() string
}

// New wraps store with the queue contract.
func New(store domain.JobStore, opts Options) *Queue {
	q := &Queue{
		store: store,
		wait:  opts.PollInterval,
		now:   opts.Now,
		newID: opts.NewID,
	}
	if q.wait <= 0 {
		q.wait = 2 * time.Second
	}
	if q.now == nil {
		q.now = time.Now
	}
	if q.newID == nil {
		q.newID = NewJobID
	}
	if opts.Logger != nil {
		q.logger = opts.Logger
	} else {
		l := infra.Logger(zerolog.New(io.Discard))
		q.logger = &l
	}
	return q
}

// NewJobID returns a random 32 character hex identifier.
func NewJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// EnqueueOption customizes a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	jobID string
}

// WithJobID makes Enqueue use a caller-supplied identifier.
func WithJobID(id string) EnqueueOption {
	return func(o *enqueueOptions) { o.jobID = id }
}

// Enqueue persists a queued job and returns its identifier without waiting
// for execution.
func (q *Queue) Enqueue(ctx context.Context, task string, payload any, opts ...EnqueueOption) (string, error) {
	var o enqueueOptions
	for _, opt := range opts {
		opt(&o)
	}
	task = strings.TrimSpace(task)
	if task == "" {
		return "", fmt.Errorf("%w: task name is required", domain.ErrInvalidInput)
	}
	id := strings.TrimSpace(o.jobID)
	if id == "" {
		id = q.newID()
	} else if !jobIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: job id %q", domain.ErrInvalidInput, id)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: encode payload: %v", domain.ErrInvalidInput, err)
	}

	job := &domain.Job{
		ID:        id,
		Task:      task,
		Status:    domain.JobStatusQueued,
		Payload:   raw,
		CreatedAt: q.now().UTC(),
	}
	if err := q.store.Create(ctx, job); err != nil {
		q.logger.Error().Err(err).Str("job_id", id).Msg("queue: enqueue failed")
		return "", err
	}
	metrics.JobEnqueued(task)
	q.logger.Info().Str("job_id", id).Str("task", task).Msg("queue: job enqueued")
	return id, nil
}

// Status returns the current state of a job. Unknown or evicted identifiers
// yield JobStatusUnknown rather than an error; only store failures error.
func (q *Queue) Status(ctx context.Context, id string) (JobView, error) {
	view := JobView{JobID: id, Status: domain.JobStatusUnknown}
	id = strings.TrimSpace(id)
	if id == "" {
		return view, nil
	}
	job, err := q.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return view, nil
		}
		return view, err
	}
	view.Status = job.Status
	if len(job.Result) > 0 {
		view.Result = job.Result
	}
	created := job.CreatedAt
	view.CreatedAt = &created
	view.CompletedAt = job.CompletedAt
	return view, nil
}

// Claim hands the oldest queued job to the caller, marking it running. It
// returns domain.ErrNoJobAvailable after the poll interval when idle.
func (q *Queue) Claim(ctx context.Context) (*domain.Job, error) {
	return q.store.Claim(ctx, q.wait)
}

// Complete records a successful result. Completing a job that is already
// terminal, or unknown, is a no-op.
func (q *Queue) Complete(ctx context.Context, id string, result domain.JobResult) error {
	return q.finish(ctx, id, domain.JobStatusFinished, result)
}

// Fail records a failure message. Failing a job that is already terminal,
// or unknown, is a no-op.
func (q *Queue) Fail(ctx context.Context, id string, message string) error {
	return q.finish(ctx, id, domain.JobStatusFailed, domain.ErrorResult(message))
}

func (q *Queue) finish(ctx context.Context, id string, status domain.JobStatus, result domain.JobResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	applied, err := q.store.Finish(ctx, id, status, raw, q.now().UTC())
	if err != nil {
		q.logger.Error().Err(err).Str("job_id", id).Str("status", string(status)).Msg("queue: finish failed")
		return err
	}
	if !applied {
		q.logger.Debug().Str("job_id", id).Str("status", string(status)).Msg("queue: ignored transition on terminal or unknown job")
		return nil
	}
	metrics.JobFinished(string(status))
	q.logger.Info().Str("job_id", id).Str("status", string(status)).Msg("queue: job finished")
	return nil
}

// Close releases the underlying store.
func (q *Queue) Close() error {
	return q.store.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrQueueUnavailable, op, err)
}

func cloneJob(j *domain.Job) *domain.Job {
	out := *j
	out.Payload = append(json.RawMessage(nil), j.Payload...)
	if j.Result != nil {
		out.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
