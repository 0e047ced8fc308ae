package hooks

import (
	"slices"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/watzon/anvil/internal/metrics"
	"github.com/watzon/anvil/internal/objgraph"
)

// syncWrapper builds the function installed in place of a synchronous
// target. Handlers are snapshotted under the lock and run outside it, so a
// handler may register or unregister hooks (including on this path)
// without deadlocking; such changes apply from the next invocation.
func (r *Registry) syncWrapper(t *target) objgraph.Func {
	return func(this any, args ...any) any {
		r.mu.Lock()
		before, after := t.phases()
		r.mu.Unlock()

		metrics.RecordHookInvocation(t.path, string(KindSync))
		this = r.receiver(t, this)

		original := slices.Clone(args)
		current := args

		for _, reg := range before {
			metrics.RecordHookHandler(t.path, string(PhaseBefore))
			v, replace := reg.handler(&Call{Path: t.path, This: this, Args: current})
			if !replace {
				continue
			}
			next, ok := v.([]any)
			if !ok {
				log.Warn().
					Str("path", t.path).
					Str("hook", reg.ID).
					Msg("Before hook returned a non-list replacement, ignoring")
				continue
			}
			current = next
		}

		result := t.original(this, current...)

		for _, reg := range after {
			metrics.RecordHookHandler(t.path, string(PhaseAfter))
			if v, replace := reg.handler(&Call{Path: t.path, This: this, Args: original, Result: result}); replace {
				result = v
			}
		}

		return result
	}
}

// asyncWrapper builds the function installed in place of a callback-style
// target. The chain is links[0] .. links[n-1] followed by the original.
// Every link receives the caller's callback once-guarded, so short-circuit
// and normal completion can never both reach the caller.
func (r *Registry) asyncWrapper(t *target) objgraph.Func {
	return func(this any, args ...any) any {
		r.mu.Lock()
		links := slices.Clone(t.links)
		index := t.callbackIndex
		r.mu.Unlock()

		metrics.RecordHookInvocation(t.path, string(KindAsync))
		this = r.receiver(t, this)

		callback, rest := extractCallback(t.path, args, index)
		callback = onceCallback(t.path, callback)

		var step func(k int, current []any)
		step = func(k int, current []any) {
			if k == len(links) {
				t.original(this, insertCallback(current, index, callback)...)
				return
			}

			link := links[k]
			call := &AsyncCall{Path: t.path, This: this, Args: current, Callback: callback}

			var advanced atomic.Bool
			next := func(args []any) {
				if !advanced.CompareAndSwap(false, true) {
					log.Warn().Str("path", t.path).Str("hook", link.ID).Msg("Chain continuation called more than once")
					return
				}
				if args == nil {
					args = call.Args
				}
				step(k+1, args)
			}

			metrics.RecordHookHandler(t.path, string(PhaseChain))
			link.async(call, next)
		}

		step(0, rest)
		return nil
	}
}

// receiver resolves the target's containing object when the wrapper was
// invoked without one, so handlers and the original see the same receiver a
// path call would have given them.
func (r *Registry) receiver(t *target, this any) any {
	if this != nil || t.container == "" {
		return this
	}
	v, err := r.graph.Get(t.container)
	if err != nil {
		log.Debug().Err(err).Str("path", t.path).Msg("Container not resolvable, calling without receiver")
		return nil
	}
	return v
}

// extractCallback removes the caller's callback from args.
func extractCallback(path string, args []any, index int) (Callback, []any) {
	noop := Callback(func(...any) {})
	if index == NoCallback || index >= len(args) {
		return noop, slices.Clone(args)
	}

	rest := slices.Delete(slices.Clone(args), index, index+1)
	if args[index] == nil {
		return noop, rest
	}
	cb, ok := AsCallback(args[index])
	if !ok {
		log.Warn().Str("path", path).Int("index", index).Msg("Callback argument is not a function")
		return noop, rest
	}
	return cb, rest
}

// insertCallback puts the callback back at index, padding with nil when the
// effective arguments are shorter than index.
func insertCallback(args []any, index int, cb Callback) []any {
	if index == NoCallback {
		return args
	}
	out := slices.Clone(args)
	for len(out) < index {
		out = append(out, nil)
	}
	return slices.Insert(out, index, any(cb))
}

func onceCallback(path string, cb Callback) Callback {
	var called atomic.Bool
	return func(results ...any) {
		if !called.CompareAndSwap(false, true) {
			log.Warn().Str("path", path).Msg("Callback invoked more than once, ignoring")
			return
		}
		cb(results...)
	}
}
