package storage

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// codec compresses objects on the way into a backend and decompresses them
// on the way out.
type codec interface {
	encode(w io.Writer, r io.Reader) error
	decode(w io.Writer, r io.Reader) error
}

type gzipCodec struct{}

func (gzipCodec) encode(w io.Writer, r io.Reader) error {
	gw := gzip.NewWriter(w)
	if _, err := io.Copy(gw, r); err != nil {
		gw.Close()
		return err
	}
	return gw.Close()
}

func (gzipCodec) decode(w io.Writer, r io.Reader) error {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gr.Close()

	_, err = io.Copy(w, gr)
	return err
}

type zstdCodec struct{}

func (zstdCodec) encode(w io.Writer, r io.Reader) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if _, err := io.Copy(zw, r); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func (zstdCodec) decode(w io.Writer, r io.Reader) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()

	_, err = io.Copy(w, zr)
	return err
}

// CompressedBackend wraps a Backend so stored objects are compressed.
type CompressedBackend struct {
	backend Backend
	codec   codec
}

func NewCompressedBackend(backend Backend, compression string) (*CompressedBackend, error) {
	var c codec
	switch compression {
	case "gzip":
		c = gzipCodec{}
	case "zstd":
		c = zstdCodec{}
	default:
		return nil, fmt.Errorf("%w: unsupported compression %q", ErrInvalidConfig, compression)
	}
	return &CompressedBackend{backend: backend, codec: c}, nil
}

func (c *CompressedBackend) Put(ctx context.Context, bucket, key string, r io.Reader, _ int64) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(c.codec.encode(pw, r))
	}()

	err := c.backend.Put(ctx, bucket, key, pr, -1)
	pr.Close()
	return err
}

func (c *CompressedBackend) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	rc, err := c.backend.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		err := c.codec.decode(pw, rc)
		rc.Close()
		pw.CloseWithError(err)
	}()
	return pr, nil
}

func (c *CompressedBackend) Delete(ctx context.Context, bucket, key string) error {
	return c.backend.Delete(ctx, bucket, key)
}

func (c *CompressedBackend) Exists(ctx context.Context, bucket, key string) (bool, error) {
	return c.backend.Exists(ctx, bucket, key)
}
