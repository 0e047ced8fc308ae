package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemBackend stores objects as files under {root}/{bucket}/{key}.
// Writes go to a temporary file that is renamed into place, so a reader
// never sees a partially written script.
type FilesystemBackend struct {
	root string
}

func NewFilesystemBackend(root string) *FilesystemBackend {
	return &FilesystemBackend{root: root}
}

func checkSegment(kind, s string) error {
	switch {
	case s == "":
		return fmt.Errorf("%w: empty %s", ErrInvalidKey, kind)
	case strings.ContainsRune(s, 0):
		return fmt.Errorf("%w: null byte in %s", ErrInvalidKey, kind)
	case filepath.IsAbs(s), len(s) >= 2 && s[1] == ':':
		return fmt.Errorf("%w: absolute %s", ErrInvalidKey, kind)
	}

	clean := filepath.Clean(s)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) ||
		strings.Contains(clean, string(filepath.Separator)+"..") {
		return fmt.Errorf("%w: %s contains path traversal", ErrInvalidKey, kind)
	}
	return nil
}

func (f *FilesystemBackend) path(bucket, key string) (string, error) {
	if err := checkSegment("bucket", bucket); err != nil {
		return "", err
	}
	if err := checkSegment("key", key); err != nil {
		return "", err
	}

	full := filepath.Clean(filepath.Join(f.root, bucket, key))
	if rel, err := filepath.Rel(filepath.Clean(f.root), full); err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: path escapes cache root", ErrInvalidKey)
	}
	return full, nil
}

func (f *FilesystemBackend) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	full, err := f.path(bucket, key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(full)+".*")
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("writing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing file: %w", err)
	}

	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("renaming file: %w", err)
	}
	return nil
}

// Get returns ErrNotFound if the object doesn't exist. Caller must close
// the returned ReadCloser.
func (f *FilesystemBackend) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	full, err := f.path(bucket, key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return file, nil
}

// Delete is idempotent.
func (f *FilesystemBackend) Delete(ctx context.Context, bucket, key string) error {
	full, err := f.path(bucket, key)
	if err != nil {
		return err
	}

	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}

func (f *FilesystemBackend) Exists(ctx context.Context, bucket, key string) (bool, error) {
	full, err := f.path(bucket, key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking file: %w", err)
	}
	return true, nil
}
