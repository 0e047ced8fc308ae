// Package remote downloads remote script dependencies, caching them when
// configured.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/anvil/internal/config"
	"github.com/watzon/anvil/internal/errdefs"
	"github.com/watzon/anvil/internal/metrics"
	"github.com/watzon/anvil/internal/plugin"
	"github.com/watzon/anvil/internal/storage"
)

var ErrTooLarge = errors.New("script exceeds maximum size")

// Runner executes a downloaded script.
type Runner interface {
	LoadSource(name string, source []byte) error
}

// Fetcher resolves remote dependencies. With a cache, a script is served
// from the cache when present and stored after download otherwise; any
// failure on that path falls back to a direct uncached download.
type Fetcher struct {
	client  *http.Client
	runner  Runner
	cache   *storage.ScriptCache
	refresh bool
	maxSize int64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithCache enables caching in c.
func WithCache(c *storage.ScriptCache) Option {
	return func(f *Fetcher) { f.cache = c }
}

// WithRefresh makes every fetch download the script again and replace the
// cached copy.
func WithRefresh(refresh bool) Option {
	return func(f *Fetcher) { f.refresh = refresh }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// New creates a fetcher that hands downloaded scripts to runner.
func New(cfg config.RemoteConfig, runner Runner, opts ...Option) *Fetcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = config.DefaultRemoteTimeout
	}
	f := &Fetcher{
		client:  &http.Client{Timeout: timeout},
		runner:  runner,
		maxSize: cfg.MaxSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch loads dep and runs it.
func (f *Fetcher) Fetch(ctx context.Context, dep plugin.Dependency) error {
	logger := log.With().Str("dependency", dep.Name).Str("url", dep.URL).Logger()

	if f.cache == nil {
		return f.direct(ctx, dep)
	}

	source, fromCache, err := f.cached(ctx, dep)
	if err != nil {
		fetchErr := errdefs.Fetch(dep.URL, err)
		logger.Warn().Err(fetchErr).Msg("Script cache unavailable, downloading without caching")
		return f.direct(ctx, dep)
	}

	if fromCache {
		metrics.RecordRemoteFetch("cache", true)
	}
	return f.run(dep, source)
}

// cached returns the script from the cache, downloading and storing it on a
// miss. A failed store is logged; the downloaded copy is still returned.
func (f *Fetcher) cached(ctx context.Context, dep plugin.Dependency) ([]byte, bool, error) {
	if f.refresh {
		if err := f.cache.Evict(ctx, dep.Name); err != nil {
			return nil, false, fmt.Errorf("evicting cached script: %w", err)
		}
	} else {
		source, err := f.cache.Load(ctx, dep.Name)
		if err == nil {
			return source, true, nil
		}
		if !storage.IsMiss(err) {
			return nil, false, err
		}
	}

	source, err := f.download(ctx, dep.URL)
	if err != nil {
		return nil, false, err
	}
	if err := f.cache.Store(ctx, dep.Name, source); err != nil {
		log.Warn().
			Err(err).
			Str("dependency", dep.Name).
			Msg("Failed to cache script, running downloaded copy")
	}
	return source, false, nil
}

func (f *Fetcher) direct(ctx context.Context, dep plugin.Dependency) error {
	source, err := f.download(ctx, dep.URL)
	if err != nil {
		return errdefs.Fetch(dep.URL, err)
	}
	return f.run(dep, source)
}

func (f *Fetcher) run(dep plugin.Dependency, source []byte) error {
	if err := f.runner.LoadSource(dep.Name, source); err != nil {
		return fmt.Errorf("running %s: %w", dep.Name, err)
	}
	return nil
}

func (f *Fetcher) download(ctx context.Context, url string) (source []byte, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordRemoteFetch("network", err == nil)
		log.Debug().
			Str("url", url).
			Dur("elapsed", time.Since(start)).
			Bool("ok", err == nil).
			Msg("Downloaded script")
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting script: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body := io.Reader(resp.Body)
	if f.maxSize > 0 {
		body = io.LimitReader(resp.Body, f.maxSize+1)
	}
	source, err = io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	if f.maxSize > 0 && int64(len(source)) > f.maxSize {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, f.maxSize)
	}
	return source, nil
}

// FetchAll fetches every URL in urls, marking each as loaded in registry
// first so module dependencies on the same script do not fetch it again.
// Failures are logged and collected.
func (f *Fetcher) FetchAll(ctx context.Context, registry *plugin.Registry, urls []string) error {
	var errs []error
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		dep := plugin.Remote(raw)
		if !registry.MarkLoaded(dep.Name) {
			continue
		}
		if err := f.Fetch(ctx, dep); err != nil {
			log.Error().Err(err).Str("url", raw).Msg("Failed to load remote plugin")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
