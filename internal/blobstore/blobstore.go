// Package blobstore stores the uploaded binaries. The pipeline only needs
// put, read, existence and delete by key; each backend maps those onto its own
// API.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dharsanguruparan/AthleteDocs/internal/config"
)

// ErrNotExist is returned (wrapped) when a key has no object.
var ErrNotExist = errors.New("blob does not exist")

// Store is implemented by every backend.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Presigner is implemented by backends that can hand out their own
// time-limited download URLs.
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// New builds the backend selected by cfg.BlobBackend.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.BlobBackend {
	case "local":
		return NewLocal(cfg.UploadDir)
	case "minio":
		store, err := NewMinIO(cfg)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case "gcs":
		return NewGCS(ctx, cfg.GCSBucket)
	case "memory":
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unsupported blob backend %q", cfg.BlobBackend)
}
