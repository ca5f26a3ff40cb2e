package runstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	workflow "github.com/greatdevaks/datahour-mlops-airflow"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/config"
)

// Open returns the run history selected by cfg and a function releasing it. The history is
// nil for the "none" backend.
func Open(ctx context.Context, cfg config.HistoryConfig) (workflow.Storage, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case config.HistoryNone:
		return nil, noop, nil
	case config.HistoryMemory:
		return NewMemoryStore(), noop, nil
	case config.HistoryRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("runstore: connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		s := NewRedisStore(client, WithTTL(cfg.Redis.TTL))

		return s, s.Close, nil
	default:
		return nil, noop, fmt.Errorf("runstore: unknown backend %q", cfg.Backend)
	}
}
