// Package objstore provides access to the object store the stages exchange artifacts through.
//
// A Store manages buckets; a Bucket transfers named objects to and from local files.
// Backends: local filesystem, Google Cloud Storage, Amazon S3 (and compatibles) and memory.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var (
	// ErrNotFound is returned when the object or the bucket does not exist.
	ErrNotFound = errors.New("objstore: object not found")
	// ErrBucketExists is returned by CreateBucket when the bucket already exists.
	ErrBucketExists = errors.New("objstore: bucket already exists")
)

// Store is a client of a bucket based object store.
//
// Implementations are safe for concurrent use by multiple goroutines.
type Store interface {
	// ListBuckets returns the names of the buckets visible to the client.
	ListBuckets(ctx context.Context) ([]string, error)
	// CreateBucket creates the bucket and returns a handle to it.
	CreateBucket(ctx context.Context, name string) (Bucket, error)
	// Bucket returns a handle to an existing bucket. It performs no I/O.
	Bucket(name string) Bucket
	// Close releases the client resources.
	Close() error
}

// Bucket transfers objects between the store and the local filesystem.
type Bucket interface {
	Name() string
	// Upload stores the content of the local file localPath under key.
	Upload(ctx context.Context, key, localPath string) error
	// Download writes the object stored under key to localPath.
	// A missing object yields an error wrapping ErrNotFound and leaves localPath untouched.
	Download(ctx context.Context, key, localPath string) error
}

// EnsureBucket returns the named bucket, creating it when no bucket of that name is listed.
// The boolean result reports whether the bucket was created.
func EnsureBucket(ctx context.Context, s Store, name string) (Bucket, bool, error) {
	names, err := s.ListBuckets(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("listing buckets: %w", err)
	}
	for _, n := range names {
		if n == name {
			return s.Bucket(name), false, nil
		}
	}

	b, err := s.CreateBucket(ctx, name)
	if errors.Is(err, ErrBucketExists) {
		// created concurrently, or not visible to the listing
		return s.Bucket(name), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("creating bucket %s: %w", name, err)
	}

	return b, true, nil
}

// uploadFile opens localPath and hands it, with its size, to put.
func uploadFile(localPath string, put func(r io.ReadSeeker, size int64) error) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}

	return put(f, info.Size())
}

// writeAtomic writes localPath atomically: fill writes to a temporary file in the same
// directory, which replaces localPath only when fill succeeds.
func writeAtomic(localPath string, fill func(w io.Writer) error) error {
	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(localPath)+".part-*")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	tmpName := tmp.Name()

	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, localPath); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("renaming %s: %w", tmpName, err)
	}

	return nil
}
