// Package engine bundles the hook registry, plugin registry and sequencer
// that make up one extensibility runtime.
package engine

import (
	"sync"

	"github.com/watzon/anvil/internal/boot"
	"github.com/watzon/anvil/internal/hooks"
	"github.com/watzon/anvil/internal/objgraph"
	"github.com/watzon/anvil/internal/plugin"
)

// Runtime is one extensibility runtime over a host object graph. Tests
// create a fresh Runtime each; a process normally uses Default.
type Runtime struct {
	Graph     objgraph.Graph
	Hooks     *hooks.Registry
	Plugins   *plugin.Registry
	Sequencer *plugin.Sequencer
}

// New creates a runtime over graph.
func New(graph objgraph.Graph, observers ...plugin.Observer) *Runtime {
	plugins := plugin.NewRegistry()
	return &Runtime{
		Graph:     graph,
		Hooks:     hooks.NewRegistry(graph),
		Plugins:   plugins,
		Sequencer: plugin.NewSequencer(plugins, observers...),
	}
}

// BootTrigger returns a trigger that defers the function at path until the
// runtime's modules are initialized.
func (r *Runtime) BootTrigger(path string) *boot.Trigger {
	return boot.New(r.Hooks, r.Sequencer, path)
}

var (
	defaultOnce    sync.Once
	defaultRuntime *Runtime
)

// Default returns the process-wide runtime, created on first use over an
// empty MapGraph. It is never torn down.
func Default() *Runtime {
	defaultOnce.Do(func() {
		defaultRuntime = New(objgraph.NewMapGraph(nil))
	})
	return defaultRuntime
}
