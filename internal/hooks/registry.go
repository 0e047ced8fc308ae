// Package hooks installs interception wrappers on functions in the host
// object graph and runs ordered handlers around every call.
package hooks

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/watzon/anvil/internal/errdefs"
	"github.com/watzon/anvil/internal/metrics"
	"github.com/watzon/anvil/internal/objgraph"
)

var (
	ErrNilHandler        = errors.New("handler is nil")
	ErrMixedKinds        = errors.New("path is already hooked with a different kind")
	ErrCallbackIndex     = errors.New("callback index differs from the one the path was hooked with")
	ErrInvalidCallbackAt = errors.New("callback index must be >= 0 or NoCallback")
)

// target is the installed wrapper state for one path. The original function
// is captured once and never replaced.
type target struct {
	path      string
	kind      Kind
	original  objgraph.Func
	container string

	// sync: registrations grouped by order.
	buckets map[int][]*Registration

	// async: user links in (order, seq) order; the original is the
	// implicit terminal link.
	links         []*Registration
	callbackIndex int
}

// Registry manages hook registrations against one object graph.
type Registry struct {
	graph   objgraph.Graph
	targets map[string]*target
	byID    map[string]*Registration
	seq     uint64
	mu      sync.Mutex
}

// NewRegistry creates a registry that installs wrappers into graph.
func NewRegistry(graph objgraph.Graph) *Registry {
	return &Registry{
		graph:   graph,
		targets: make(map[string]*target),
		byID:    make(map[string]*Registration),
	}
}

// Register attaches handler to the function at path. Orders <= 0 run before
// the original, orders > 0 after; lower orders run first and equal orders
// run in registration order.
func (r *Registry) Register(path string, handler Handler, order int) (*Registration, error) {
	if handler == nil {
		return nil, configError(path, ErrNilHandler)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.targetFor(path, KindSync, 0)
	if err != nil {
		return nil, err
	}

	reg := r.newRegistration(path, order, PhaseOf(order), KindSync)
	reg.handler = handler
	t.buckets[order] = append(t.buckets[order], reg)
	r.byID[reg.ID] = reg
	metrics.UpdateRegistrations(1)

	log.Debug().
		Str("id", reg.ID).
		Str("path", path).
		Int("order", order).
		Str("phase", string(reg.Phase)).
		Msg("Hook registered")

	return reg, nil
}

// RegisterAsync attaches a chain link to the callback-style function at
// path. callbackIndex is the position of the caller's callback argument, or
// NoCallback; every registration on a path must agree on it.
func (r *Registry) RegisterAsync(path string, handler AsyncHandler, callbackIndex, order int) (*Registration, error) {
	if handler == nil {
		return nil, configError(path, ErrNilHandler)
	}
	if callbackIndex < NoCallback {
		return nil, configError(path, ErrInvalidCallbackAt)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.targetFor(path, KindAsync, callbackIndex)
	if err != nil {
		return nil, err
	}
	if t.callbackIndex != callbackIndex {
		return nil, configError(path, fmt.Errorf("%w: have %d, got %d", ErrCallbackIndex, t.callbackIndex, callbackIndex))
	}

	reg := r.newRegistration(path, order, PhaseChain, KindAsync)
	reg.async = handler
	t.links = append(t.links, reg)
	sort.SliceStable(t.links, func(i, j int) bool {
		if t.links[i].Order != t.links[j].Order {
			return t.links[i].Order < t.links[j].Order
		}
		return t.links[i].seq < t.links[j].seq
	})
	r.byID[reg.ID] = reg
	metrics.UpdateRegistrations(1)

	log.Debug().
		Str("id", reg.ID).
		Str("path", path).
		Int("order", order).
		Int("callback_index", callbackIndex).
		Msg("Async hook registered")

	return reg, nil
}

// Unregister removes the registration with the given id. The wrapper stays
// installed; a path with no registrations simply passes calls through.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)

	t := r.targets[reg.Path]
	switch reg.Kind {
	case KindSync:
		bucket := t.buckets[reg.Order]
		if i := slices.Index(bucket, reg); i >= 0 {
			bucket = slices.Delete(bucket, i, i+1)
		}
		if len(bucket) == 0 {
			delete(t.buckets, reg.Order)
		} else {
			t.buckets[reg.Order] = bucket
		}
	case KindAsync:
		if i := slices.Index(t.links, reg); i >= 0 {
			t.links = slices.Delete(t.links, i, i+1)
		}
	}
	metrics.UpdateRegistrations(-1)

	log.Debug().Str("id", id).Str("path", reg.Path).Msg("Hook unregistered")

	return true
}

// Installed reports whether a wrapper has been installed at path.
func (r *Registry) Installed(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.targets[path]
	return ok
}

// Original returns the function captured at path when it was first hooked.
func (r *Registry) Original(path string) (objgraph.Func, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[path]
	if !ok {
		return nil, false
	}
	return t.original, true
}

// Targets returns the hooked paths matching a glob pattern, sorted. Path
// segments are separated by '.', so "scene.*" does not match "scene.a.b".
func (r *Registry) Targets(pattern string) ([]string, error) {
	matcher, err := glob.Compile(pattern, '.')
	if err != nil {
		return nil, fmt.Errorf("compiling pattern %q: %w", pattern, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var paths []string
	for path := range r.targets {
		if matcher.Match(path) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Registrations returns copies of the registrations at path in the order
// they run.
func (r *Registry) Registrations(path string) []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.targets[path]
	if !ok {
		return nil
	}

	var regs []*Registration
	if t.kind == KindAsync {
		regs = t.links
	} else {
		before, after := t.phases()
		regs = append(before, after...)
	}

	out := make([]Registration, len(regs))
	for i, reg := range regs {
		out[i] = *reg
	}
	return out
}

// targetFor returns the target for path, installing a wrapper on first use.
// Must be called with mu held.
func (r *Registry) targetFor(path string, kind Kind, callbackIndex int) (*target, error) {
	if t, ok := r.targets[path]; ok {
		if t.kind != kind {
			return nil, configError(path, fmt.Errorf("%w: %s", ErrMixedKinds, t.kind))
		}
		return t, nil
	}

	v, err := r.graph.Get(path)
	if err != nil {
		return nil, configError(path, err)
	}
	original, ok := objgraph.AsFunc(v)
	if !ok {
		return nil, configError(path, objgraph.ErrNotCallable)
	}

	t := &target{
		path:          path,
		kind:          kind,
		original:      original,
		container:     objgraph.Parent(path),
		buckets:       make(map[int][]*Registration),
		callbackIndex: callbackIndex,
	}

	var wrapper objgraph.Func
	if kind == KindAsync {
		wrapper = r.asyncWrapper(t)
	} else {
		wrapper = r.syncWrapper(t)
	}
	if err := r.graph.Set(path, wrapper); err != nil {
		return nil, configError(path, err)
	}

	r.targets[path] = t
	metrics.IncrementWrappers()

	log.Info().Str("path", path).Str("kind", string(kind)).Msg("Hook wrapper installed")

	return t, nil
}

func (r *Registry) newRegistration(path string, order int, phase Phase, kind Kind) *Registration {
	r.seq++
	return &Registration{
		ID:        uuid.New().String(),
		Path:      path,
		Order:     order,
		Phase:     phase,
		Kind:      kind,
		CreatedAt: time.Now(),
		seq:       r.seq,
		registry:  r,
	}
}

// phases flattens the buckets into before and after lists, each in
// ascending order. Must be called with mu held.
func (t *target) phases() (before, after []*Registration) {
	orders := make([]int, 0, len(t.buckets))
	for order := range t.buckets {
		orders = append(orders, order)
	}
	sort.Ints(orders)

	for _, order := range orders {
		if order <= 0 {
			before = append(before, t.buckets[order]...)
		} else {
			after = append(after, t.buckets[order]...)
		}
	}
	return before, after
}

func configError(path string, cause error) error {
	e := errdefs.Configuration(path, "cannot hook path")
	e.Cause = cause
	return e
}
