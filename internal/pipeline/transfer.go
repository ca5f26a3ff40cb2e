package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/greatdevaks/datahour-mlops-airflow/internal/objstore"
)

// scratch creates the private working directory of one stage execution.
func (p *Pipeline) scratch(stage string) (string, func(), error) {
	if p.opts.ScratchDir != "" {
		if err := os.MkdirAll(p.opts.ScratchDir, 0o750); err != nil {
			return "", nil, err
		}
	}
	dir, err := os.MkdirTemp(p.opts.ScratchDir, "mnistflow-"+stage+"-")
	if err != nil {
		return "", nil, err
	}

	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			p.log.Warn("removing scratch directory failed", "dir", dir, "error", err)
		}
	}, nil
}

func (p *Pipeline) bucket() objstore.Bucket {
	return p.store.Bucket(p.opts.Storage.Bucket)
}

// download fetches the artifacts into dir concurrently. Nothing is uploaded by a stage
// whose download failed.
func (p *Pipeline) download(ctx context.Context, b objstore.Bucket, dir string, arts ...Artifact) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, a := range arts {
		g.Go(func() error {
			local := filepath.Join(dir, a.File)
			if err := b.Download(ctx, a.Key, local); err != nil {
				return fmt.Errorf("downloading %s: %w", a.Key, err)
			}
			p.log.Info(fmt.Sprintf("Downloaded storage object %s from bucket %s to local file %s.", a.Key, b.Name(), local))

			return nil
		})
	}

	return g.Wait()
}

// upload stores the artifacts from dir concurrently.
func (p *Pipeline) upload(ctx context.Context, b objstore.Bucket, dir string, arts ...Artifact) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, a := range arts {
		g.Go(func() error {
			local := filepath.Join(dir, a.File)
			if err := b.Upload(ctx, a.Key, local); err != nil {
				return fmt.Errorf("uploading %s: %w", a.Key, err)
			}
			p.log.Debug("uploaded storage object", "key", a.Key, "bucket", b.Name(), "file", local)

			return nil
		})
	}

	return g.Wait()
}
