package plugin

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/anvil/internal/errdefs"
)

type tracker struct {
	mu    sync.Mutex
	order []string
}

func (tr *tracker) init(id string) Initializer {
	return func(_ *Module, done Done) {
		tr.mu.Lock()
		tr.order = append(tr.order, id)
		tr.mu.Unlock()
		done(nil, "")
	}
}

func (tr *tracker) seen() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.order...)
}

func register(t *testing.T, r *Registry, id string, init Initializer, deps ...string) *Module {
	t.Helper()
	spec := Spec{ID: id, Initializer: init}
	for _, d := range deps {
		spec.Dependencies = append(spec.Dependencies, Local(d))
	}
	m, err := r.Register(spec)
	require.NoError(t, err)
	return m
}

func runSequencer(t *testing.T, s *Sequencer) (bool, error) {
	t.Helper()
	var called int
	var result error
	require.NoError(t, s.Run(func(err error) {
		called++
		result = err
	}))
	require.LessOrEqual(t, called, 1)
	return called == 1, result
}

func TestSequencer_DependencyOrder(t *testing.T) {
	r := NewRegistry()
	tr := &tracker{}

	register(t, r, "C", tr.init("C"), "B")
	register(t, r, "B", tr.init("B"), "A")
	register(t, r, "A", tr.init("A"))

	completed, err := runSequencer(t, NewSequencer(r))
	require.True(t, completed)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, tr.seen())

	for _, st := range r.Snapshot() {
		assert.Equal(t, "initialized", st.State)
	}
}

func TestSequencer_RestartsScanFromStart(t *testing.T) {
	r := NewRegistry()
	tr := &tracker{}

	// X is eligible only after Z, which registers later; Y has no deps.
	register(t, r, "X", tr.init("X"), "Z")
	register(t, r, "Y", tr.init("Y"))
	register(t, r, "Z", tr.init("Z"))
	register(t, r, "W", tr.init("W"))

	completed, err := runSequencer(t, NewSequencer(r))
	require.True(t, completed)
	require.NoError(t, err)
	assert.Equal(t, []string{"Y", "Z", "X", "W"}, tr.seen())
}

func TestSequencer_Cycle(t *testing.T) {
	r := NewRegistry()
	tr := &tracker{}

	register(t, r, "Free", tr.init("Free"))
	register(t, r, "X", tr.init("X"), "Y")
	register(t, r, "Y", tr.init("Y"), "X")

	completed, err := runSequencer(t, NewSequencer(r))
	require.True(t, completed)
	require.Error(t, err)
	assert.True(t, errdefs.IsDependency(err))
	assert.ErrorIs(t, err, ErrDependencyCycle)
	assert.Equal(t, []string{"X", "Y"}, errdefs.As(err).Modules)
	assert.Equal(t, []string{"Free"}, tr.seen())

	x, _ := r.Module("X")
	assert.Equal(t, StatePending, x.State())
}

func TestSequencer_MissingDependency(t *testing.T) {
	r := NewRegistry()
	tr := &tracker{}

	register(t, r, "A", tr.init("A"), "Ghost")
	register(t, r, "B", tr.init("B"), "A")

	completed, err := runSequencer(t, NewSequencer(r))
	require.True(t, completed)
	assert.ErrorIs(t, err, ErrMissingDependency)
	assert.Contains(t, err.Error(), "Ghost")
	assert.Empty(t, tr.seen())
}

func TestSequencer_InitializationFailureAborts(t *testing.T) {
	r := NewRegistry()
	tr := &tracker{}
	boom := errors.New("boom")

	register(t, r, "A", func(_ *Module, done Done) { done(boom, "could not open save file") })
	register(t, r, "B", tr.init("B"))

	var transitions []string
	s := NewSequencer(r, ObserverFunc(func(m *Module, from, to State, err error) {
		transitions = append(transitions, m.ID()+":"+from.String()+"->"+to.String())
	}))

	completed, err := runSequencer(t, s)
	require.True(t, completed)
	assert.True(t, errdefs.IsInitialization(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "A", errdefs.As(err).Subject)
	assert.Contains(t, err.Error(), "could not open save file")

	assert.Empty(t, tr.seen(), "no partial-success continuation")
	assert.Equal(t, []string{"A:pending->initializing", "A:initializing->failed"}, transitions)

	finished, result := s.Finished()
	assert.True(t, finished)
	assert.Equal(t, err, result)
}

func TestSequencer_PanicBecomesInitializationError(t *testing.T) {
	r := NewRegistry()
	register(t, r, "A", func(*Module, Done) { panic("bad state") })

	completed, err := runSequencer(t, NewSequencer(r))
	require.True(t, completed)
	assert.True(t, errdefs.IsInitialization(err))
	assert.Contains(t, err.Error(), "bad state")
}

func TestSequencer_AsyncInitializers(t *testing.T) {
	r := NewRegistry()

	var mu sync.Mutex
	var active, maxActive int
	var order []string
	slow := func(id string) Initializer {
		return func(_ *Module, done Done) {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			go func() {
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				active--
				order = append(order, id)
				mu.Unlock()
				done(nil, "")
			}()
		}
	}

	register(t, r, "B", slow("B"), "A")
	register(t, r, "A", slow("A"))
	register(t, r, "C", slow("C"))

	result := make(chan error, 1)
	s := NewSequencer(r)
	require.NoError(t, s.Run(func(err error) { result <- err }))

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sequencer did not complete")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxActive, "one module initializes at a time")
	assert.Equal(t, []string{"A", "B", "C"}, order)
}

func TestSequencer_StalledInitializer(t *testing.T) {
	r := NewRegistry()
	tr := &tracker{}
	register(t, r, "Hang", func(*Module, Done) {})
	register(t, r, "After", tr.init("After"))

	s := NewSequencer(r)
	completed, _ := runSequencer(t, s)
	assert.False(t, completed)
	assert.Empty(t, tr.seen())

	id, _, ok := s.Initializing()
	assert.True(t, ok)
	assert.Equal(t, "Hang", id)
}

func TestSequencer_DuplicateDoneAndRunTwice(t *testing.T) {
	r := NewRegistry()
	tr := &tracker{}
	register(t, r, "A", func(_ *Module, done Done) {
		done(nil, "ok")
		done(errors.New("late"), "")
	})
	register(t, r, "B", tr.init("B"), "A")

	s := NewSequencer(r)
	completed, err := runSequencer(t, s)
	require.True(t, completed)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, tr.seen())

	assert.ErrorIs(t, s.Run(nil), ErrAlreadyRun)
}

func TestSequencer_EmptyRegistry(t *testing.T) {
	completed, err := runSequencer(t, NewSequencer(NewRegistry()))
	assert.True(t, completed)
	assert.NoError(t, err)
}

func TestPlan(t *testing.T) {
	r := NewRegistry()
	register(t, r, "C", noop, "B")
	register(t, r, "B", noop, "A")
	register(t, r, "A", noop)

	order, err := Plan(r)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, order)

	for _, m := range r.Modules() {
		assert.Equal(t, StatePending, m.State(), "plan does not touch states")
	}

	register(t, r, "X", noop, "Y")
	register(t, r, "Y", noop, "X")
	order, err = Plan(r)
	assert.ErrorIs(t, err, ErrDependencyCycle)
	assert.Equal(t, []string{"A", "B", "C"}, order)
}
