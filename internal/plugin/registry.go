package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/watzon/anvil/internal/errdefs"
)

// ScriptLoader loads a local script by name.
type ScriptLoader interface {
	LoadScript(name string) error
}

// RemoteFetcher downloads and runs a remote dependency.
type RemoteFetcher interface {
	Fetch(ctx context.Context, dep Dependency) error
}

// ParamSource supplies the merged parameter bag for a module id.
type ParamSource interface {
	Params(id string) map[string]any
}

// Registry holds declared modules in registration order.
type Registry struct {
	mu      sync.RWMutex
	modules []*Module
	byID    map[string]*Module
	loaded  map[string]bool

	scripts ScriptLoader
	fetcher RemoteFetcher
	params  ParamSource
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Module),
		loaded: make(map[string]bool),
	}
}

// SetScriptLoader sets the loader used for local dependencies.
func (r *Registry) SetScriptLoader(l ScriptLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts = l
}

// SetRemoteFetcher sets the fetcher used for remote dependencies.
func (r *Registry) SetRemoteFetcher(f RemoteFetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetcher = f
}

// SetParamSource sets where modules registered without params get them.
func (r *Registry) SetParamSource(p ParamSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params = p
}

// MarkLoaded records that the script or remote dependency called name has
// been requested, so later references do not load it again. It reports
// whether name was newly marked.
func (r *Registry) MarkLoaded(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.markLocked(name)
}

func (r *Registry) markLocked(name string) bool {
	if r.loaded[name] {
		return false
	}
	r.loaded[name] = true
	return true
}

// Loaded reports whether name has been requested.
func (r *Registry) Loaded(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded[name]
}

// Register validates spec, stores it as pending and triggers the load of
// every dependency not requested before. Load failures are logged; a
// dependency that never registers surfaces later as a DependencyError.
func (r *Registry) Register(spec Spec) (*Module, error) {
	if spec.ID == "" {
		e := errdefs.Configuration("", "invalid module")
		e.Cause = ErrMissingID
		return nil, e
	}
	if spec.Initializer == nil {
		e := errdefs.Configuration(spec.ID, "invalid module")
		e.Cause = ErrMissingInit
		return nil, e
	}

	if spec.Name == "" {
		spec.Name = DisplayName(spec.ID)
	}
	deps := make([]Dependency, 0, len(spec.Dependencies))
	for _, d := range spec.Dependencies {
		d = d.normalize()
		if d.Name == "" {
			return nil, errdefs.Configuration(spec.ID, fmt.Sprintf("dependency %q has no name", d.URL))
		}
		deps = append(deps, d)
	}
	spec.Dependencies = deps

	r.mu.RLock()
	params := r.params
	r.mu.RUnlock()
	if spec.Params == nil && params != nil {
		spec.Params = params.Params(spec.ID)
	}
	if spec.Params == nil {
		spec.Params = map[string]any{}
	}

	r.mu.Lock()
	if _, exists := r.byID[spec.ID]; exists {
		r.mu.Unlock()
		e := errdefs.Configuration(spec.ID, "invalid module")
		e.Cause = ErrAlreadyRegistered
		return nil, e
	}

	m := newModule(spec)
	r.modules = append(r.modules, m)
	r.byID[spec.ID] = m
	// The module's own script is evidently loaded.
	r.loaded[spec.ID] = true

	var toLoad []Dependency
	for _, d := range deps {
		if _, registered := r.byID[d.Name]; registered {
			continue
		}
		if r.markLocked(d.Name) {
			toLoad = append(toLoad, d)
		}
	}
	scripts, fetcher := r.scripts, r.fetcher
	r.mu.Unlock()

	log.Debug().
		Str("module", spec.ID).
		Str("name", spec.Name).
		Int("dependencies", len(deps)).
		Msg("Module registered")

	for _, d := range toLoad {
		r.load(scripts, fetcher, spec.ID, d)
	}

	return m, nil
}

func (r *Registry) load(scripts ScriptLoader, fetcher RemoteFetcher, requester string, d Dependency) {
	logger := log.With().Str("module", requester).Str("dependency", d.Name).Logger()

	if d.IsRemote() {
		if fetcher == nil {
			logger.Warn().Str("url", d.URL).Msg("No remote fetcher configured, dependency not loaded")
			return
		}
		if err := fetcher.Fetch(context.Background(), d); err != nil {
			logger.Error().Err(err).Str("url", d.URL).Msg("Failed to fetch remote dependency")
		}
		return
	}

	if scripts == nil {
		logger.Warn().Msg("No script loader configured, dependency not loaded")
		return
	}
	if err := scripts.LoadScript(d.Name); err != nil {
		logger.Error().Err(err).Msg("Failed to load dependency script")
	}
}

// Module returns the module registered under id.
func (r *Registry) Module(id string) (*Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	return m, ok
}

// Modules returns the registered modules in registration order.
func (r *Registry) Modules() []*Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Module, len(r.modules))
	copy(out, r.modules)
	return out
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}

// Snapshot returns the status of every module in registration order.
func (r *Registry) Snapshot() []Status {
	modules := r.Modules()
	out := make([]Status, len(modules))
	for i, m := range modules {
		out[i] = m.status()
	}
	return out
}
