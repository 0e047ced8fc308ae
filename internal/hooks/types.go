package hooks

import (
	"time"

	"github.com/watzon/anvil/internal/objgraph"
)

// Kind distinguishes the two interception styles a path can be hooked with.
type Kind string

const (
	KindSync  Kind = "sync"
	KindAsync Kind = "async"
)

// Phase is where in an invocation a registration runs.
type Phase string

const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
	PhaseChain  Phase = "chain"
)

// PhaseOf derives the synchronous phase from an order: order <= 0 runs
// before the original, order > 0 after it.
func PhaseOf(order int) Phase {
	if order <= 0 {
		return PhaseBefore
	}
	return PhaseAfter
}

// NoCallback marks an async target that takes no callback argument. The
// chain still runs, and the terminal link calls the original with the
// effective arguments unchanged.
const NoCallback = -1

// Call describes one synchronous invocation as seen by a handler.
// Before-phase handlers see the current (possibly rewritten) arguments.
// After-phase handlers see the caller's original arguments and the running
// result.
type Call struct {
	Path   string
	This   any
	Args   []any
	Result any
}

// Handler observes a synchronous call. Returning (v, true) replaces the
// arguments (before phase, v must be []any) or the running result (after
// phase). Returning Keep() leaves them unchanged.
type Handler func(c *Call) (any, bool)

// Keep is the handler return value that changes nothing.
func Keep() (any, bool) { return nil, false }

// Replace is the handler return value that substitutes v.
func Replace(v any) (any, bool) { return v, true }

// Callback is the completion function of a callback-style target.
type Callback func(results ...any)

// AsCallback converts a callback argument to a Callback.
func AsCallback(v any) (Callback, bool) {
	switch cb := v.(type) {
	case Callback:
		return cb, cb != nil
	case func(results ...any):
		return Callback(cb), cb != nil
	case objgraph.Func:
		return func(results ...any) { cb(nil, results...) }, cb != nil
	default:
		return nil, false
	}
}

// Next continues an async chain with the given effective arguments. A nil
// slice continues with the arguments the handler received.
type Next func(args []any)

// AsyncCall describes one invocation of a callback-style target. The
// caller's callback is removed from Args and carried in Callback; calling
// it directly short-circuits the rest of the chain.
type AsyncCall struct {
	Path     string
	This     any
	Args     []any
	Callback Callback
}

// AsyncHandler is one link in an async chain.
type AsyncHandler func(c *AsyncCall, next Next)

// Registration is a handler attached to a path.
type Registration struct {
	ID        string
	Path      string
	Order     int
	Phase     Phase
	Kind      Kind
	CreatedAt time.Time

	seq      uint64
	handler  Handler
	async    AsyncHandler
	registry *Registry
}

// Unregister removes this registration. It reports false if it was
// already removed.
func (r *Registration) Unregister() bool {
	return r.registry.Unregister(r.ID)
}
