package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStore keeps buckets as directories under a root directory and objects as files.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}

	return &LocalStore{root: root}, nil
}

func (s *LocalStore) ListBuckets(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.root, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	return names, nil
}

func (s *LocalStore) CreateBucket(_ context.Context, name string) (Bucket, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	err := os.Mkdir(filepath.Join(s.root, name), 0o750)
	if errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrBucketExists)
	}
	if err != nil {
		return nil, fmt.Errorf("creating bucket %s: %w", name, err)
	}

	return s.Bucket(name), nil
}

func (s *LocalStore) Bucket(name string) Bucket {
	return &localBucket{name: name, dir: filepath.Join(s.root, name)}
}

func (s *LocalStore) Close() error { return nil }

type localBucket struct {
	name string
	dir  string
}

func (b *localBucket) Name() string { return b.name }

// objectPath maps key inside the bucket directory, refusing keys that escape it.
func (b *localBucket) objectPath(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	p := filepath.Join(b.dir, filepath.FromSlash(strings.TrimLeft(key, "/")))
	absBase, err := filepath.Abs(b.dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve bucket directory: %w", err)
	}
	absPath, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q is outside bucket %q", key, b.name)
	}

	return p, nil
}

func (b *localBucket) checkBucket() error {
	info, err := os.Stat(b.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("bucket %s: %w", b.name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("bucket %s: %w", b.name, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("bucket %s is not a directory", b.name)
	}

	return nil
}

func (b *localBucket) Upload(ctx context.Context, key, localPath string) error {
	if err := b.checkBucket(); err != nil {
		return err
	}
	dst, err := b.objectPath(key)
	if err != nil {
		return err
	}

	return uploadFile(localPath, func(r io.ReadSeeker, _ int64) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		return writeAtomic(dst, func(w io.Writer) error {
			_, err := io.Copy(w, r)

			return err
		})
	})
}

func (b *localBucket) Download(ctx context.Context, key, localPath string) error {
	if err := b.checkBucket(); err != nil {
		return err
	}
	src, err := b.objectPath(key)
	if err != nil {
		return err
	}
	f, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("object %s/%s: %w", b.name, key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("opening object %s/%s: %w", b.name, key, err)
	}
	defer f.Close()

	if err := ctx.Err(); err != nil {
		return err
	}

	return writeAtomic(localPath, func(w io.Writer) error {
		_, err := io.Copy(w, f)

		return err
	})
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid bucket name %q", name)
	}

	return nil
}
