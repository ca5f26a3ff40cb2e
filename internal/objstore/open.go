package objstore

import (
	"context"
	"fmt"

	"github.com/greatdevaks/datahour-mlops-airflow/internal/config"
)

// Open creates the Store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		return NewLocalStore(cfg.Local.Root)
	case config.BackendGCS:
		return NewGCSStore(ctx, GCSOptions{
			Project:         cfg.Project,
			Endpoint:        cfg.GCS.Endpoint,
			CredentialsFile: cfg.GCS.CredentialsFile,
			Anonymous:       cfg.GCS.Anonymous,
		})
	case config.BackendS3:
		return NewS3Store(ctx, S3Options{
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			UsePathStyle:    cfg.S3.UsePathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
	case config.BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
