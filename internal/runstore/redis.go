package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	workflow "github.com/greatdevaks/datahour-mlops-airflow"
)

const defaultPrefix = "mnistflow"

// RedisStore keeps the run history in Redis so it survives the process and can be shared by
// the schedulers invoking single tasks. A run is stored under three keys:
//
//	<prefix>:run:<id>:steps  hash of step name to JSON StepRecord
//	<prefix>:run:<id>:order  sorted set of step names by first save
//	<prefix>:run:<id>:seq    counter feeding the order scores
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL expires a run's history ttl after its last save. Zero keeps it forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix. Default is "mnistflow".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore returns a RedisStore using client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *RedisStore) key(runID, suffix string) string {
	return s.prefix + ":run:" + runID + ":" + suffix
}

func (s *RedisStore) Save(ctx context.Context, stepName, runID string, status workflow.StepStatus, output *string) error {
	rec := workflow.StepRecord{Step: stepName, Status: status}
	if output != nil {
		rec.Output = *output
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("runstore: marshaling record: %w", err)
	}

	seq, err := s.client.Incr(ctx, s.key(runID, "seq")).Result()
	if err != nil {
		return fmt.Errorf("runstore: redis incr failed: %w", err)
	}

	steps, order, seqKey := s.key(runID, "steps"), s.key(runID, "order"), s.key(runID, "seq")
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, steps, stepName, data)
		pipe.ZAddNX(ctx, order, redis.Z{Score: float64(seq), Member: stepName})
		if s.ttl > 0 {
			pipe.Expire(ctx, steps, s.ttl)
			pipe.Expire(ctx, order, s.ttl)
			pipe.Expire(ctx, seqKey, s.ttl)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("runstore: redis transaction failed: %w", err)
	}

	return nil
}

func (s *RedisStore) Get(ctx context.Context, stepName, runID string) (workflow.StepStatus, error) {
	data, err := s.client.HGet(ctx, s.key(runID, "steps"), stepName).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", workflow.ErrStepNotFound
	}
	if err != nil {
		return "", fmt.Errorf("runstore: redis hget failed: %w", err)
	}

	var rec workflow.StepRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("runstore: unmarshaling record of step %s: %w", stepName, err)
	}

	return rec.Status, nil
}

func (s *RedisStore) List(ctx context.Context, runID string) ([]workflow.StepRecord, error) {
	names, err := s.client.ZRange(ctx, s.key(runID, "order"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("runstore: redis zrange failed: %w", err)
	}
	if len(names) == 0 {
		return nil, nil
	}

	values, err := s.client.HMGet(ctx, s.key(runID, "steps"), names...).Result()
	if err != nil {
		return nil, fmt.Errorf("runstore: redis hmget failed: %w", err)
	}
	records := make([]workflow.StepRecord, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// expired or cleared between the two reads
			continue
		}
		var rec workflow.StepRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("runstore: unmarshaling record of step %s: %w", names[i], err)
		}
		records = append(records, rec)
	}

	return records, nil
}

func (s *RedisStore) Clear(ctx context.Context, runID string) error {
	if err := s.client.Del(ctx, s.key(runID, "steps"), s.key(runID, "order"), s.key(runID, "seq")).Err(); err != nil {
		return fmt.Errorf("runstore: redis del failed: %w", err)
	}

	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
