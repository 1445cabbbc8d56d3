package domain

import (
	"context"
	"time"
)

// JobStore persists queue records. Implementations must be safe for many
// concurrent readers and a single concurrent writer per job.
type JobStore interface {
	// Create inserts a queued job. It returns ErrDuplicateJob when the id is taken.
	Create(ctx context.Context, job *Job) error
	// Get returns the job or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)
	// Claim moves the oldest queued job to running, waiting up to wait for one
	// to appear. It returns ErrNoJobAvailable when nothing arrived in time.
	Claim(ctx context.Context, wait time.Duration) (*Job, error)
	// Finish records a terminal status and result. It reports false, without
	// error, when the job is unknown or already terminal.
	Finish(ctx context.Context, id string, status JobStatus, result []byte, at time.Time) (bool, error)
	Close() error
}
