package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"floorplan/internal/domain"
)

// MemoryStore keeps jobs in process memory. It backs tests and single
// process development runs.
type MemoryStore struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	pending []string
	notify  chan struct{}
	closed  bool
	now     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]*domain.Job),
		notify: make(chan struct{}, 1),
		now:    time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return unavailable("create", errors.New("store closed"))
	}
	if _, ok := s.jobs[job.ID]; ok {
		s.mu.Unlock()
		return domain.ErrDuplicateJob
	}
	s.jobs[job.ID] = cloneJob(job)
	s.pending = append(s.pending, job.ID)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) Claim(ctx context.Context, wait time.Duration) (*domain.Job, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		if job := s.popQueued(); job != nil {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, domain.ErrNoJobAvailable
		case <-s.notify:
		}
	}
}

func (s *MemoryStore) popQueued() *domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) > 0 {
		id := s.pending[0]
		s.pending = s.pending[1:]
		job, ok := s.jobs[id]
		if !ok || job.Status != domain.JobStatusQueued {
			continue
		}
		started := s.now().UTC()
		job.Status = domain.JobStatusRunning
		job.StartedAt = &started
		return cloneJob(job)
	}
	return nil
}

func (s *MemoryStore) Finish(ctx context.Context, id string, status domain.JobStatus, result []byte, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status.Terminal() {
		return false, nil
	}
	job.Status = status
	job.Result = append([]byte(nil), result...)
	job.CompletedAt = &at
	return true, nil
}

// Evict forgets a job, as a TTL expiry would.
func (s *MemoryStore) Evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ domain.JobStore = (*MemoryStore)(nil)
