package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/watzon/anvil/internal/config"
	"github.com/watzon/anvil/internal/engine"
	"github.com/watzon/anvil/internal/objgraph"
	"github.com/watzon/anvil/internal/params"
	"github.com/watzon/anvil/internal/remote"
	"github.com/watzon/anvil/internal/scripts"
	"github.com/watzon/anvil/internal/storage"
)

// session is one runtime with its collaborators wired: scripts, params and
// remote fetching.
type session struct {
	cfg     *config.Config
	runtime *engine.Runtime
	loader  *scripts.Loader
	fetcher *remote.Fetcher
}

func newSession(ctx context.Context, cfg *config.Config, graph objgraph.Graph) (*session, error) {
	rt := engine.New(graph)

	source, err := params.New(cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("loading params: %w", err)
	}
	rt.Plugins.SetParamSource(source)

	loader := scripts.New(rt, cfg.Scripts)

	var opts []remote.Option
	if cfg.Remote.Cache {
		cache, err := newScriptCache(ctx, cfg)
		if err != nil {
			log.Warn().Err(err).Msg("Script cache unavailable, remote scripts will not be cached")
		} else {
			opts = append(opts, remote.WithCache(cache), remote.WithRefresh(cfg.Remote.Refresh))
		}
	}
	fetcher := remote.New(cfg.Remote, loader, opts...)
	rt.Plugins.SetRemoteFetcher(fetcher)

	return &session{cfg: cfg, runtime: rt, loader: loader, fetcher: fetcher}, nil
}

func newScriptCache(ctx context.Context, cfg *config.Config) (*storage.ScriptCache, error) {
	backend, err := storage.NewBackend(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	return storage.NewScriptCache(backend, cfg.Cache.Bucket, cfg.Scripts.ScriptFile("")), nil
}

// load fetches the online plugin list, then runs the preload scripts, or
// every script in the scripts directory when none are listed. Errors are
// joined; modules that did load are still registered.
func (s *session) load(ctx context.Context) error {
	var errs []error

	if err := s.fetcher.FetchAll(ctx, s.runtime.Plugins, s.cfg.Remote.Plugins); err != nil {
		errs = append(errs, err)
	}

	names := s.cfg.Scripts.Preload
	if len(names) == 0 {
		discovered, err := scripts.Discover(s.cfg.Scripts)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Warn().Str("dir", s.cfg.Scripts.Dir).Msg("Scripts directory does not exist")
		case err != nil:
			errs = append(errs, err)
		}
		names = discovered
	}

	if err := s.loader.Preload(names); err != nil {
		errs = append(errs, err)
	}

	log.Debug().
		Int("modules", s.runtime.Plugins.Len()).
		Int("remote", len(s.cfg.Remote.Plugins)).
		Msg("Scripts loaded")

	return errors.Join(errs...)
}

func (s *session) Close() {
	s.loader.Close()
}

// newHostGraph builds the object graph anvil exposes to scripts. Calls to
// host.run that reach the original function are delivered on the returned
// channel.
func newHostGraph(entry string) (*objgraph.MapGraph, <-chan []any, error) {
	runs := make(chan []any, 1)
	g := objgraph.NewMapGraph(nil)

	if err := g.Define("host.name", "anvil"); err != nil {
		return nil, nil, err
	}
	if err := g.Define("host.version", version); err != nil {
		return nil, nil, err
	}
	err := g.Define(entry, objgraph.Func(func(_ any, args ...any) any {
		select {
		case runs <- args:
		default:
			log.Debug().Str("path", entry).Msg("Host already running")
		}
		return nil
	}))
	if err != nil {
		return nil, nil, fmt.Errorf("defining %s: %w", entry, err)
	}
	return g, runs, nil
}
