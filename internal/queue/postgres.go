package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"floorplan/internal/domain"
	"floorplan/internal/infra"
	"floorplan/internal/sqlinline"
)

// PostgresStore keeps jobs in the floorplan_jobs table. Claims use
// "for update skip locked" so several workers can share one queue.
type PostgresStore struct {
	sql     infra.SQLExecutor
	queue   string
	ttl     time.Duration
	now     func() time.Time
	onClose func()
}

// NewPostgresStore builds a store over sql. onClose, when set, runs on Close.
func NewPostgresStore(sql infra.SQLExecutor, queueName string, ttl time.Duration, onClose func()) *PostgresStore {
	return &PostgresStore{sql: sql, queue: queueName, ttl: ttl, now: time.Now, onClose: onClose}
}

// EnsureSchema creates the job table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.sql.Exec(ctx, sqlinline.QEnsureJobsSchema); err != nil {
		return unavailable("ensure schema", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, job *domain.Job) error {
	var id string
	err := s.sql.QueryRow(ctx, sqlinline.QInsertJob, job.ID, s.queue, job.Task, []byte(job.Payload), job.CreatedAt).Scan(&id)
	if err != nil {
		if infra.IsNoRows(err) {
			return domain.ErrDuplicateJob
		}
		return unavailable("create", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := scanJob(s.sql.QueryRow(ctx, sqlinline.QSelectJob, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, unavailable("get", err)
	}
	if s.expired(job) {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

// Claim tries once, then sleeps out the poll interval before reporting an
// empty queue. Expired terminal jobs are purged while idle.
func (s *PostgresStore) Claim(ctx context.Context, wait time.Duration) (*domain.Job, error) {
	job, err := scanJob(s.sql.QueryRow(ctx, sqlinline.QClaimJob, s.queue, s.now().UTC()))
	if err == nil {
		return job, nil
	}
	if !infra.IsNoRows(err) {
		return nil, unavailable("claim", err)
	}
	if s.ttl > 0 {
		if _, err := s.sql.Exec(ctx, sqlinline.QPurgeJobs, s.now().UTC().Add(-s.ttl)); err != nil {
			return nil, unavailable("purge", err)
		}
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, domain.ErrNoJobAvailable
	}
}

func (s *PostgresStore) Finish(ctx context.Context, id string, status domain.JobStatus, result []byte, at time.Time) (bool, error) {
	tag, err := s.sql.Exec(ctx, sqlinline.QFinishJob, id, string(status), result, at)
	if err != nil {
		return false, unavailable("finish", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Close() error {
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

func (s *PostgresStore) expired(job *domain.Job) bool {
	if s.ttl <= 0 || job.CompletedAt == nil {
		return false
	}
	return s.now().Sub(*job.CompletedAt) > s.ttl
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job     domain.Job
		status  string
		payload []byte
		result  []byte
	)
	if err := row.Scan(&job.ID, &job.Task, &status, &payload, &result, &job.CreatedAt, &job.StartedAt, &job.CompletedAt); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	if !job.Status.Valid() {
		return nil, errors.New("unexpected job status " + status)
	}
	job.Payload = json.RawMessage(payload)
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	return &job, nil
}

var _ domain.JobStore = (*PostgresStore)(nil)
