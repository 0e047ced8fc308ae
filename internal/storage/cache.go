package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
)

// ScriptCache keeps downloaded remote scripts keyed by module name.
type ScriptCache struct {
	backend Backend
	bucket  string
	ext     string
}

// NewScriptCache stores scripts in bucket, naming objects <name><ext>.
func NewScriptCache(backend Backend, bucket, ext string) *ScriptCache {
	return &ScriptCache{backend: backend, bucket: bucket, ext: ext}
}

func (c *ScriptCache) key(name string) string {
	return name + c.ext
}

// Load returns the cached script for name, or ErrNotFound.
func (c *ScriptCache) Load(ctx context.Context, name string) ([]byte, error) {
	rc, err := c.backend.Get(ctx, c.bucket, c.key(name))
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading cached script %s: %w", name, err)
	}

	log.Debug().Str("script", name).Int("bytes", len(data)).Msg("Loaded script from cache")
	return data, nil
}

// Store writes the script for name, replacing any cached copy.
func (c *ScriptCache) Store(ctx context.Context, name string, data []byte) error {
	if err := c.backend.Put(ctx, c.bucket, c.key(name), bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("caching script %s: %w", name, err)
	}

	log.Debug().Str("script", name).Int("bytes", len(data)).Msg("Cached script")
	return nil
}

// Evict removes the cached script for name.
func (c *ScriptCache) Evict(ctx context.Context, name string) error {
	return c.backend.Delete(ctx, c.bucket, c.key(name))
}

// Has reports whether a script for name is cached.
func (c *ScriptCache) Has(ctx context.Context, name string) (bool, error) {
	return c.backend.Exists(ctx, c.bucket, c.key(name))
}

// IsMiss reports whether err means the script is not cached.
func IsMiss(err error) bool {
	return errors.Is(err, ErrNotFound)
}
