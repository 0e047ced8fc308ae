package plugin

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/anvil/internal/errdefs"
	"github.com/watzon/anvil/internal/metrics"
)

// Observer is notified of every module state transition. err is set when
// the transition is to StateFailed.
type Observer interface {
	ModuleTransition(m *Module, from, to State, err error)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(m *Module, from, to State, err error)

func (f ObserverFunc) ModuleTransition(m *Module, from, to State, err error) {
	f(m, from, to, err)
}

// Sequencer initializes a registry's modules one at a time in dependency
// order. After every successful initialization it rescans from the first
// registered module, since the module just finished may unblock one
// registered earlier.
type Sequencer struct {
	registry  *Registry
	observers []Observer

	mu         sync.Mutex
	started    bool
	finished   bool
	result     error
	draining   bool
	again      bool
	onComplete func(error)
	startedAt  map[string]time.Time
}

// NewSequencer creates a sequencer over registry.
func NewSequencer(registry *Registry, observers ...Observer) *Sequencer {
	return &Sequencer{
		registry:  registry,
		observers: observers,
		startedAt: make(map[string]time.Time),
	}
}

// Observe adds an observer. Observers added after Run miss earlier
// transitions.
func (s *Sequencer) Observe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Run starts the initialization pass. onComplete is called exactly once,
// with nil when every module is initialized or with the fatal error that
// stopped the pass. If an initializer never calls done, onComplete is never
// called.
func (s *Sequencer) Run(onComplete func(error)) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyRun
	}
	s.started = true
	s.onComplete = onComplete
	s.mu.Unlock()

	log.Info().Int("modules", s.registry.Len()).Msg("Starting module initialization")

	s.kick()
	return nil
}

// Finished reports whether the pass has ended and with what error.
func (s *Sequencer) Finished() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished, s.result
}

// Snapshot returns every module's current state in registration order.
func (s *Sequencer) Snapshot() []Status {
	return s.registry.Snapshot()
}

// Initializing returns the id of the module currently initializing and how
// long it has been running.
func (s *Sequencer) Initializing() (string, time.Duration, bool) {
	for _, m := range s.registry.Modules() {
		if m.State() != StateInitializing {
			continue
		}
		s.mu.Lock()
		start := s.startedAt[m.ID()]
		s.mu.Unlock()
		return m.ID(), time.Since(start), true
	}
	return "", 0, false
}

// kick runs steps until no more progress can be made synchronously. A done
// callback that fires while a step is on the stack only flags another
// round, so synchronous initializers do not grow the stack.
func (s *Sequencer) kick() {
	s.mu.Lock()
	if s.draining {
		s.again = true
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	for {
		s.step()

		s.mu.Lock()
		if !s.again {
			s.draining = false
			s.mu.Unlock()
			return
		}
		s.again = false
		s.mu.Unlock()
	}
}

func (s *Sequencer) step() {
	s.mu.Lock()
	finished := s.finished
	s.mu.Unlock()
	if finished {
		return
	}

	modules := s.registry.Modules()

	var next *Module
	pending := 0
	for _, m := range modules {
		switch m.State() {
		case StateInitializing:
			// Strictly one at a time.
			return
		case StatePending:
			pending++
			if next == nil && s.ready(m) {
				next = m
			}
		}
	}

	switch {
	case next != nil:
		s.launch(next)
	case pending == 0:
		s.finish(nil)
	default:
		s.finish(stuckError(modules, func(id string) bool {
			m, ok := s.registry.Module(id)
			return ok && m.State() == StateInitialized
		}, func(id string) bool {
			_, ok := s.registry.Module(id)
			return ok
		}))
	}
}

// ready reports whether every dependency of m resolves to an initialized
// module. Dependencies are looked up by name now, not at registration.
func (s *Sequencer) ready(m *Module) bool {
	for _, d := range m.spec.Dependencies {
		dep, ok := s.registry.Module(d.Name)
		if !ok || dep.State() != StateInitialized {
			return false
		}
	}
	return true
}

func (s *Sequencer) launch(m *Module) {
	s.mu.Lock()
	s.startedAt[m.ID()] = time.Now()
	s.mu.Unlock()
	s.transition(m, StateInitializing, nil)

	log.Debug().Str("module", m.ID()).Msg("Initializing module")

	var completed atomic.Bool
	done := func(err error, message string) {
		if !completed.CompareAndSwap(false, true) {
			log.Warn().Str("module", m.ID()).Msg("Module reported completion more than once, ignoring")
			return
		}
		s.complete(m, err, message)
	}

	defer func() {
		if r := recover(); r != nil {
			done(fmt.Errorf("initializer panicked: %v", r), "")
		}
	}()
	m.spec.Initializer(m, done)
}

func (s *Sequencer) complete(m *Module, err error, message string) {
	s.mu.Lock()
	elapsed := time.Since(s.startedAt[m.ID()])
	s.mu.Unlock()

	metrics.RecordModuleInit(m.ID(), err == nil, elapsed)

	if err != nil {
		if message == "" {
			message = "initializer failed"
		}
		initErr := errdefs.Initialization(m.ID(), message, err)
		s.transition(m, StateFailed, initErr)
		log.Error().Err(err).Str("module", m.ID()).Str("message", message).Msg("Module failed to initialize")
		s.finish(initErr)
		return
	}

	s.transition(m, StateInitialized, nil)

	event := log.Info().Str("module", m.ID()).Dur("elapsed", elapsed)
	if message != "" {
		event = event.Str("message", message)
	}
	event.Msg("Module initialized")

	s.kick()
}

func (s *Sequencer) transition(m *Module, to State, err error) {
	from := m.setState(to)
	metrics.RecordTransition(to.String())

	s.mu.Lock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, o := range observers {
		o.ModuleTransition(m, from, to, err)
	}
}

func (s *Sequencer) finish(err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.result = err
	onComplete := s.onComplete
	s.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Msg("Module initialization aborted")
	} else {
		log.Info().Msg("All modules initialized")
	}

	if onComplete != nil {
		onComplete(err)
	}
}

// stuckError builds the DependencyError for modules that can no longer make
// progress. It names every module not yet done and the missing references,
// if any; without missing references the stuck set contains a cycle.
func stuckError(modules []*Module, done, registered func(id string) bool) error {
	var stuck, missing []string
	seen := make(map[string]bool)
	for _, m := range modules {
		if done(m.ID()) {
			continue
		}
		stuck = append(stuck, m.ID())
		for _, d := range m.spec.Dependencies {
			if !registered(d.Name) && !seen[d.Name] {
				seen[d.Name] = true
				missing = append(missing, d.Name)
			}
		}
	}

	e := errdefs.Dependency("no module can make progress", stuck)
	if len(missing) > 0 {
		e.Cause = fmt.Errorf("%w: %s", ErrMissingDependency, strings.Join(missing, ", "))
	} else {
		e.Cause = ErrDependencyCycle
	}
	return e
}
