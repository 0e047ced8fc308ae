// Package storage persists downloaded scripts on the local filesystem or an
// S3-compatible object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/watzon/anvil/internal/config"
)

var (
	ErrNotFound      = errors.New("object not found")
	ErrInvalidConfig = errors.New("invalid backend configuration")
	ErrInvalidKey    = errors.New("invalid object key")
)

// Backend stores opaque objects addressed by bucket and key.
type Backend interface {
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, bucket, key string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
}

// NewBackend builds the backend described by cfg, wrapped with compression
// when configured.
func NewBackend(ctx context.Context, cfg config.CacheConfig) (Backend, error) {
	var (
		backend Backend
		err     error
	)

	switch cfg.Backend {
	case "filesystem":
		if cfg.Path == "" {
			return nil, fmt.Errorf("%w: filesystem path is required", ErrInvalidConfig)
		}
		backend = NewFilesystemBackend(cfg.Path)
	case "s3":
		backend, err = NewS3Backend(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown backend type %q", ErrInvalidConfig, cfg.Backend)
	}

	if cfg.Compression == "" {
		return backend, nil
	}
	compressed, err := NewCompressedBackend(backend, cfg.Compression)
	if err != nil {
		return nil, err
	}
	return compressed, nil
}
