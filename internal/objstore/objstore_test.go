package objstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greatdevaks/datahour-mlops-airflow/internal/config"
)

// exerciseStore runs the behaviour every backend shares.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	b, created, err := EnsureBucket(ctx, s, "datasets")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "datasets", b.Name())

	_, created, err = EnsureBucket(ctx, s, "datasets")
	require.NoError(t, err)
	assert.False(t, created, "an existing bucket must not be created twice")

	_, err = s.CreateBucket(ctx, "datasets")
	assert.ErrorIs(t, err, ErrBucketExists)

	names, err := s.ListBuckets(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "datasets")

	src := filepath.Join(dir, "src.csv")
	require.NoError(t, os.WriteFile(src, []byte("0,1\n1.5,2\n"), 0o600))
	require.NoError(t, b.Upload(ctx, "X_data.csv", src))

	dst := filepath.Join(dir, "nested", "dst.csv")
	require.NoError(t, s.Bucket("datasets").Download(ctx, "X_data.csv", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "0,1\n1.5,2\n", string(data))

	missing := filepath.Join(dir, "missing.csv")
	err = b.Download(ctx, "nope.csv", missing)
	assert.ErrorIs(t, err, ErrNotFound)
	_, statErr := os.Stat(missing)
	assert.True(t, os.IsNotExist(statErr), "a failed download must not leave a file behind")

	err = s.Bucket("no-such-bucket").Download(ctx, "X_data.csv", missing)
	assert.ErrorIs(t, err, ErrNotFound)

	err = b.Upload(ctx, "other.csv", filepath.Join(dir, "does-not-exist.csv"))
	assert.Error(t, err)

	require.NoError(t, s.Close())
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)
	assert.Equal(t, []string{"X_data.csv"}, s.Keys("datasets"))
	assert.Equal(t, 1, s.Uploads())

	data, ok := s.Object("datasets", "X_data.csv")
	assert.True(t, ok)
	assert.Equal(t, "0,1\n1.5,2\n", string(data))

	s.Put("seeded", "k", []byte("v"))
	assert.Equal(t, 1, s.Uploads(), "Put is not counted as an upload")
}

func TestLocalStore(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	s, err := NewLocalStore(root)
	require.NoError(t, err)
	exerciseStore(t, s)

	_, err = os.Stat(filepath.Join(root, "datasets", "X_data.csv"))
	assert.NoError(t, err)
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewLocalStore(filepath.Join(dir, "store"))
	require.NoError(t, err)
	b, err := s.CreateBucket(ctx, "datasets")
	require.NoError(t, err)

	src := filepath.Join(dir, "src.csv")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o600))

	assert.Error(t, b.Upload(ctx, "../escape.csv", src))
	assert.Error(t, b.Upload(ctx, "", src))
	_, err = s.CreateBucket(ctx, "../up")
	assert.Error(t, err)

	// absolute keys such as /opt/X_data.csv stay inside the bucket
	require.NoError(t, b.Upload(ctx, "/opt/X_data.csv", src))
	_, err = os.Stat(filepath.Join(dir, "store", "datasets", "opt", "X_data.csv"))
	assert.NoError(t, err)
}

func TestNewLocalStore_RequiresRoot(t *testing.T) {
	_, err := NewLocalStore("")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StorageConfig{Backend: config.BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, config.StorageConfig{Backend: config.BackendLocal, Local: config.LocalConfig{Root: t.TempDir()}})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, s)

	_, err = Open(ctx, config.StorageConfig{Backend: "ftp"})
	assert.Error(t, err)
}
