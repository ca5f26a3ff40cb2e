package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore is a Google Cloud Storage client scoped to one project.
// STORAGE_EMULATOR_HOST is honored by the underlying client.
type GCSStore struct {
	client  *storage.Client
	project string
}

// GCSOptions configures NewGCSStore.
type GCSOptions struct {
	Project         string
	Endpoint        string
	CredentialsFile string
	// Anonymous sends unauthenticated requests, for emulators.
	Anonymous bool
}

// NewGCSStore creates a client using the application default credentials unless a
// credentials file is given.
func NewGCSStore(ctx context.Context, o GCSOptions) (*GCSStore, error) {
	if o.Project == "" {
		return nil, fmt.Errorf("gcs: project is required")
	}
	var opts []option.ClientOption
	if o.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(o.Endpoint))
	}
	switch {
	case o.Anonymous:
		opts = append(opts, option.WithoutAuthentication())
	case o.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(o.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: creating client: %w", err)
	}

	return &GCSStore{client: client, project: o.Project}, nil
}

func (s *GCSStore) ListBuckets(ctx context.Context) ([]string, error) {
	var names []string
	it := s.client.Buckets(ctx, s.project)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs: listing buckets of %s: %w", s.project, err)
		}
		names = append(names, attrs.Name)
	}

	return names, nil
}

func (s *GCSStore) CreateBucket(ctx context.Context, name string) (Bucket, error) {
	err := s.client.Bucket(name).Create(ctx, s.project, nil)
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusConflict {
		return nil, fmt.Errorf("gcs: %s: %w", name, ErrBucketExists)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs: creating bucket %s: %w", name, err)
	}

	return s.Bucket(name), nil
}

func (s *GCSStore) Bucket(name string) Bucket {
	return &gcsBucket{name: name, handle: s.client.Bucket(name)}
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

type gcsBucket struct {
	name   string
	handle *storage.BucketHandle
}

func (b *gcsBucket) Name() string { return b.name }

func (b *gcsBucket) Upload(ctx context.Context, key, localPath string) error {
	return uploadFile(localPath, func(r io.ReadSeeker, _ int64) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		// cancelling the context before Close aborts the upload
		w := b.handle.Object(key).NewWriter(ctx)
		if _, err := io.Copy(w, r); err != nil {
			cancel()
			_ = w.Close()

			return fmt.Errorf("gcs: uploading %s/%s: %w", b.name, key, err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("gcs: uploading %s/%s: %w", b.name, key, mapGCSError(err))
		}

		return nil
	})
}

func (b *gcsBucket) Download(ctx context.Context, key, localPath string) error {
	r, err := b.handle.Object(key).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("gcs: downloading %s/%s: %w", b.name, key, mapGCSError(err))
	}
	defer r.Close()

	return writeAtomic(localPath, func(w io.Writer) error {
		if _, err := io.Copy(w, r); err != nil {
			return fmt.Errorf("gcs: downloading %s/%s: %w", b.name, key, err)
		}

		return nil
	})
}

func mapGCSError(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return errors.Join(ErrNotFound, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return errors.Join(ErrNotFound, err)
	}

	return err
}
