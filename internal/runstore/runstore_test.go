package runstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	workflow "github.com/greatdevaks/datahour-mlops-airflow"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/config"
)

func setupRedisStore(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client, opts...), mr
}

func ptr(s string) *string { return &s }

// exerciseHistory checks the behavior every run history must share.
func exerciseHistory(t *testing.T, s workflow.Storage) {
	ctx := context.Background()

	_, err := s.Get(ctx, "load_data", "run-1")
	assert.ErrorIs(t, err, workflow.ErrStepNotFound)

	records, err := s.List(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, s.Save(ctx, "start_workflow", "run-1", workflow.SUCCESS, ptr("WORKFLOW STARTED.")))
	require.NoError(t, s.Save(ctx, "load_data", "run-1", workflow.FAILED, nil))
	require.NoError(t, s.Save(ctx, "load_data", "run-2", workflow.SUCCESS, nil))
	// a retried run overwrites the status in place
	require.NoError(t, s.Save(ctx, "load_data", "run-1", workflow.SUCCESS, ptr("DATA LOADED AND UPLOADED TO STORAGE.")))
	require.NoError(t, s.Save(ctx, "split_data", "run-1", workflow.FAILED, nil))

	status, err := s.Get(ctx, "load_data", "run-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.SUCCESS, status)

	records, err = s.List(ctx, "run-1")
	require.NoError(t, err)
	want := []workflow.StepRecord{
		{Step: "start_workflow", Status: workflow.SUCCESS, Output: "WORKFLOW STARTED."},
		{Step: "load_data", Status: workflow.SUCCESS, Output: "DATA LOADED AND UPLOADED TO STORAGE."},
		{Step: "split_data", Status: workflow.FAILED},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("run history mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, s.Clear(ctx, "run-1"))
	records, err = s.List(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, records)
	_, err = s.Get(ctx, "load_data", "run-1")
	assert.ErrorIs(t, err, workflow.ErrStepNotFound)

	// other runs are untouched
	status, err = s.Get(ctx, "load_data", "run-2")
	require.NoError(t, err)
	assert.Equal(t, workflow.SUCCESS, status)
}

func TestMemoryStore(t *testing.T) {
	exerciseHistory(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	s, _ := setupRedisStore(t)
	exerciseHistory(t, s)
}

func TestRedisStore_TTL(t *testing.T) {
	s, mr := setupRedisStore(t, WithTTL(time.Hour), WithPrefix("test"))
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "load_data", "run-1", workflow.SUCCESS, nil))
	assert.Equal(t, time.Hour, mr.TTL("test:run:run-1:steps"))
	assert.Equal(t, time.Hour, mr.TTL("test:run:run-1:order"))

	mr.FastForward(2 * time.Hour)
	_, err := s.Get(ctx, "load_data", "run-1")
	assert.ErrorIs(t, err, workflow.ErrStepNotFound)
}

func TestRedisStore_NoTTL(t *testing.T) {
	s, mr := setupRedisStore(t)
	require.NoError(t, s.Save(context.Background(), "load_data", "run-1", workflow.SUCCESS, nil))
	assert.Zero(t, mr.TTL("mnistflow:run:run-1:steps"))
}

func TestRedisStore_Unreachable(t *testing.T) {
	s, mr := setupRedisStore(t)
	mr.Close()

	_, err := s.Get(context.Background(), "load_data", "run-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, workflow.ErrStepNotFound)
	assert.Error(t, s.Save(context.Background(), "load_data", "run-1", workflow.SUCCESS, nil))
}

func TestRedisStore_ResumesWorkflow(t *testing.T) {
	s, _ := setupRedisStore(t)
	ctx := context.Background()
	runs := 0
	step := stepFunc{name: "load_data", fn: func() error { runs++; return nil }}

	for i := 0; i < 2; i++ {
		wf := workflow.NewSequential("mnist_workflow",
			[]workflow.StepConfig[any]{{Step: step}},
			workflow.WithStorage(s),
			workflow.WithCorrelationID("run-1"),
		)
		require.NoError(t, wf.Execute(ctx, nil))
	}
	assert.Equal(t, 1, runs, "the second execution should skip the stored step")
}

type stepFunc struct {
	name string
	fn   func() error
}

func (s stepFunc) Name() string                       { return s.name }
func (s stepFunc) Execute(context.Context, any) error { return s.fn() }

func TestOpen(t *testing.T) {
	ctx := context.Background()

	h, closeFn, err := Open(ctx, config.HistoryConfig{Backend: config.HistoryNone})
	require.NoError(t, err)
	assert.Nil(t, h)
	assert.NoError(t, closeFn())

	h, _, err = Open(ctx, config.HistoryConfig{Backend: config.HistoryMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, h)

	mr := miniredis.RunT(t)
	h, closeFn, err = Open(ctx, config.HistoryConfig{
		Backend: config.HistoryRedis,
		Redis:   config.RedisConfig{Addr: mr.Addr(), TTL: time.Minute},
	})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, h)
	assert.NoError(t, closeFn())

	_, _, err = Open(ctx, config.HistoryConfig{Backend: "etcd"})
	assert.Error(t, err)
}
