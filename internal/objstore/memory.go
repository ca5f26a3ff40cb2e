package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// MemoryStore keeps buckets and objects in memory. It is meant for tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
	uploads int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) ListBuckets(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.buckets))
	for n := range s.buckets {
		names = append(names, n)
	}
	sort.Strings(names)

	return names, nil
}

func (s *MemoryStore) CreateBucket(_ context.Context, name string) (Bucket, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buckets[name]; ok {
		return nil, fmt.Errorf("%s: %w", name, ErrBucketExists)
	}
	s.buckets[name] = make(map[string][]byte)

	return &memoryBucket{store: s, name: name}, nil
}

func (s *MemoryStore) Bucket(name string) Bucket {
	return &memoryBucket{store: s, name: name}
}

func (s *MemoryStore) Close() error { return nil }

// Keys returns the sorted object keys of a bucket.
func (s *MemoryStore) Keys(bucket string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.buckets[bucket]))
	for k := range s.buckets[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

// Uploads returns the number of successful uploads since the store was created.
func (s *MemoryStore) Uploads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.uploads
}

// Put stores data directly under bucket/key, creating the bucket if needed.
func (s *MemoryStore) Put(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buckets[bucket] == nil {
		s.buckets[bucket] = make(map[string][]byte)
	}
	s.buckets[bucket][key] = append([]byte(nil), data...)
}

// Object returns a copy of the object stored under bucket/key.
func (s *MemoryStore) Object(bucket, key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.buckets[bucket][key]
	if !ok {
		return nil, false
	}

	return append([]byte(nil), data...), true
}

type memoryBucket struct {
	store *MemoryStore
	name  string
}

func (b *memoryBucket) Name() string { return b.name }

func (b *memoryBucket) Upload(ctx context.Context, key, localPath string) error {
	return uploadFile(localPath, func(r io.ReadSeeker, size int64) error {
		buf := bytes.NewBuffer(make([]byte, 0, size))
		if _, err := io.Copy(buf, r); err != nil {
			return fmt.Errorf("reading %s: %w", localPath, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		b.store.mu.Lock()
		defer b.store.mu.Unlock()
		objects, ok := b.store.buckets[b.name]
		if !ok {
			return fmt.Errorf("bucket %s: %w", b.name, ErrNotFound)
		}
		objects[key] = buf.Bytes()
		b.store.uploads++

		return nil
	})
}

func (b *memoryBucket) Download(ctx context.Context, key, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.store.mu.RLock()
	objects, ok := b.store.buckets[b.name]
	var data []byte
	if ok {
		data, ok = objects[key]
	}
	b.store.mu.RUnlock()
	if !ok {
		return fmt.Errorf("object %s/%s: %w", b.name, key, ErrNotFound)
	}

	return writeAtomic(localPath, func(w io.Writer) error {
		_, err := w.Write(data)

		return err
	})
}
