// Package boot defers the host's run entry point until every module has
// initialized.
package boot

import (
	"context"
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/watzon/anvil/internal/hooks"
	"github.com/watzon/anvil/internal/metrics"
	"github.com/watzon/anvil/internal/plugin"
)

// Outcome of a boot.
const (
	OutcomeResumed = "resumed"
	OutcomeFailed  = "failed"
)

// Trigger intercepts the host run path. The first call starts the
// Sequencer; the host's original run function is invoked with that call's
// arguments exactly once, after every module reports initialized. If the
// pass fails the host stays deferred.
type Trigger struct {
	hooks     *hooks.Registry
	sequencer *plugin.Sequencer
	path      string

	mu      sync.Mutex
	reg     *hooks.Registration
	started bool
	resumed bool
	err     error
	done    chan struct{}
}

// New creates a trigger for the host entry point at path.
func New(h *hooks.Registry, s *plugin.Sequencer, path string) *Trigger {
	return &Trigger{
		hooks:     h,
		sequencer: s,
		path:      path,
		done:      make(chan struct{}),
	}
}

// Path returns the intercepted entry point.
func (t *Trigger) Path() string {
	return t.path
}

// Install hooks the entry point. The boot link runs ahead of any other
// async link on the same path.
func (t *Trigger) Install() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reg != nil {
		return nil
	}

	reg, err := t.hooks.RegisterAsync(t.path, t.intercept, hooks.NoCallback, math.MinInt)
	if err != nil {
		return err
	}
	t.reg = reg

	log.Debug().Str("path", t.path).Msg("Boot trigger installed")
	return nil
}

func (t *Trigger) intercept(c *hooks.AsyncCall, next hooks.Next) {
	t.mu.Lock()
	switch {
	case t.resumed:
		t.mu.Unlock()
		next(nil)
		return
	case t.started:
		t.mu.Unlock()
		log.Warn().Str("path", t.path).Msg("Host run called again while modules are initializing, ignoring")
		return
	}
	t.started = true
	t.mu.Unlock()

	args := c.Args
	err := t.sequencer.Run(func(err error) {
		if err != nil {
			t.finish(err)
			log.Error().Err(err).Str("path", t.path).Msg("Boot aborted, host run stays deferred")
			return
		}

		t.mu.Lock()
		t.resumed = true
		t.mu.Unlock()

		log.Info().Str("path", t.path).Msg("Resuming host run")
		t.finish(nil)
		next(args)
	})
	if err != nil {
		t.finish(err)
	}
}

func (t *Trigger) finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
		return
	default:
	}
	t.err = err
	close(t.done)

	if err != nil {
		metrics.RecordBoot(OutcomeFailed)
	} else {
		metrics.RecordBoot(OutcomeResumed)
	}
}

// Done is closed when the initialization pass ends either way.
func (t *Trigger) Done() <-chan struct{} {
	return t.done
}

// Err returns the error that stopped the pass, or nil.
func (t *Trigger) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Resumed reports whether the host entry point has been released.
func (t *Trigger) Resumed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resumed
}

// Wait blocks until the pass ends or ctx is done.
func (t *Trigger) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
