package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"floorplan/internal/domain"
)

const keyPrefix = "floorplan:"

// Each script runs atomically so status checks and writes cannot interleave
// with another client's transition.
var (
	enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'task', ARGV[2], 'status', 'queued', 'payload', ARGV[3], 'created_at', ARGV[4])
if tonumber(ARGV[5]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[5])
end
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

	claimScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status ~= 'queued' then
  return 0
end
redis.call('HSET', KEYS[1], 'status', 'started', 'started_at', ARGV[1])
return 1
`)

	finishScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status or status == 'finished' or status == 'failed' then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'result', ARGV[2], 'completed_at', ARGV[3])
if tonumber(ARGV[4]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return 1
`)
)

// RedisStore keeps each job in a hash that expires after the retention
// window and feeds workers from a list.
type RedisStore struct {
	client *redis.Client
	queue  string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore builds a store over client for the named queue.
func NewRedisStore(client *redis.Client, queueName string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, queue: queueName, ttl: ttl, now: time.Now}
}

func jobKey(id string) string { return keyPrefix + "job:" + id }

func (s *RedisStore) listKey() string { return keyPrefix + "queue:" + s.queue }

func (s *RedisStore) Create(ctx context.Context, job *domain.Job) error {
	created, err := enqueueScript.Run(ctx, s.client,
		[]string{jobKey(job.ID), s.listKey()},
		job.ID, job.Task, string(job.Payload), job.CreatedAt.UTC().Format(time.RFC3339Nano), s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return unavailable("enqueue", err)
	}
	if created == 0 {
		return domain.ErrDuplicateJob
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	fields, err := s.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, unavailable("get", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}
	return decodeJobHash(id, fields)
}

// Claim pops identifiers until one still queued is found or the wait
// elapses. Identifiers whose hash expired are skipped.
func (s *RedisStore) Claim(ctx context.Context, wait time.Duration) (*domain.Job, error) {
	if wait < time.Second {
		wait = time.Second
	}
	deadline := time.Now().Add(wait)
	for {
		remaining := time.Until(deadline)
		if remaining < time.Second {
			remaining = time.Second
		}
		res, err := s.client.BRPop(ctx, remaining, s.listKey()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, domain.ErrNoJobAvailable
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, unavailable("claim", err)
		}
		id := res[1]
		ok, err := claimScript.Run(ctx, s.client, []string{jobKey(id)}, s.now().UTC().Format(time.RFC3339Nano)).Int()
		if err != nil {
			return nil, unavailable("claim", err)
		}
		if ok == 1 {
			return s.Get(ctx, id)
		}
		if !time.Now().Before(deadline) {
			return nil, domain.ErrNoJobAvailable
		}
	}
}

func (s *RedisStore) Finish(ctx context.Context, id string, status domain.JobStatus, result []byte, at time.Time) (bool, error) {
	applied, err := finishScript.Run(ctx, s.client, []string{jobKey(id)},
		string(status), string(result), at.UTC().Format(time.RFC3339Nano), s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, unavailable("finish", err)
	}
	return applied == 1, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeJobHash(id string, fields map[string]string) (*domain.Job, error) {
	job := &domain.Job{
		ID:     id,
		Task:   fields["task"],
		Status: domain.JobStatus(fields["status"]),
	}
	if !job.Status.Valid() {
		return nil, unavailable("decode", errors.New("unexpected job status "+strconv.Quote(fields["status"])))
	}
	if v := fields["payload"]; v != "" {
		job.Payload = json.RawMessage(v)
	}
	if v := fields["result"]; v != "" {
		job.Result = json.RawMessage(v)
	}
	var err error
	if job.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, unavailable("decode", err)
	}
	if job.StartedAt, err = parseOptionalTime(fields["started_at"]); err != nil {
		return nil, unavailable("decode", err)
	}
	if job.CompletedAt, err = parseOptionalTime(fields["completed_at"]); err != nil {
		return nil, unavailable("decode", err)
	}
	return job, nil
}

func parseOptionalTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var _ domain.JobStore = (*RedisStore)(nil)
