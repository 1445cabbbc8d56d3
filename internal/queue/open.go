package queue

import (
	"context"
	"fmt"

	"floorplan/internal/infra"
)

// Open connects the backend selected by cfg.QueueURL. For the Postgres
// backend the SQL executor is returned as well so callers can share the
// pool; it is nil for the other backends.
func Open(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*Queue, infra.SQLExecutor, error) {
	backend, err := cfg.QueueBackend()
	if err != nil {
		return nil, nil, err
	}
	opts := Options{PollInterval: cfg.WorkerPollInterval, Logger: logger}

	switch backend {
	case infra.QueueBackendRedis:
		client, err := infra.NewRedisClient(ctx, cfg.QueueURL)
		if err != nil {
			return nil, nil, unavailable("connect", err)
		}
		logger.Info().Str("backend", backend).Str("queue", cfg.QueueName).Msg("queue: connected")
		return New(NewRedisStore(client, cfg.QueueName, cfg.JobTTL), opts), nil, nil

	case infra.QueueBackendPostgres:
		pool, err := infra.NewDBPool(ctx, cfg.QueueURL)
		if err != nil {
			return nil, nil, unavailable("connect", err)
		}
		runner := infra.NewSQLRunner(pool, *logger)
		store := NewPostgresStore(runner, cfg.QueueName, cfg.JobTTL, pool.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info().Str("backend", backend).Str("queue", cfg.QueueName).Msg("queue: connected")
		return New(store, opts), runner, nil

	case infra.QueueBackendMemory:
		logger.Warn().Msg("queue: using in-process memory backend; jobs are lost on restart")
		return New(NewMemoryStore(), opts), nil, nil
	}
	return nil, nil, fmt.Errorf("unsupported queue backend %q", backend)
}
