package plugin

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/tidwall/gjson"
)

// Module is a registered Spec plus the state the Sequencer drives it
// through. Each module owns a namespaced bag of globals.
type Module struct {
	spec Spec

	mu         sync.RWMutex
	state      State
	globals    map[string]any
	paramsJSON []byte
}

func newModule(spec Spec) *Module {
	globals := make(map[string]any, len(spec.Globals))
	for _, name := range spec.Globals {
		globals[name] = nil
	}
	return &Module{spec: spec, globals: globals}
}

func (m *Module) ID() string                 { return m.spec.ID }
func (m *Module) Name() string               { return m.spec.Name }
func (m *Module) Dependencies() []Dependency { return slices.Clone(m.spec.Dependencies) }
func (m *Module) Params() map[string]any     { return m.spec.Params }

// State returns the module's current state.
func (m *Module) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Module) setState(s State) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.state
	m.state = s
	return prev
}

// Global reads a slot in the module's global bag. Unset slots read as nil.
func (m *Module) Global(name string) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.globals[name]
}

// SetGlobal writes a slot in the module's global bag.
func (m *Module) SetGlobal(name string, value any) error {
	if value == nil {
		return fmt.Errorf("%w: %s.%s", ErrNilGlobal, m.spec.ID, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.globals[name] = value
	return nil
}

// GlobalNames returns the names of every slot in the global bag.
func (m *Module) GlobalNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.globals))
	for name := range m.globals {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Param looks up a dotted path in the module's parameter bag, for example
// "window.width" or "colors.0".
func (m *Module) Param(path string) gjson.Result {
	m.mu.Lock()
	if m.paramsJSON == nil {
		data, err := json.Marshal(m.spec.Params)
		if err != nil {
			data = []byte("{}")
		}
		m.paramsJSON = data
	}
	data := m.paramsJSON
	m.mu.Unlock()

	return gjson.GetBytes(data, path)
}

func (m *Module) status() Status {
	deps := make([]string, len(m.spec.Dependencies))
	for i, d := range m.spec.Dependencies {
		deps[i] = d.Name
	}
	return Status{
		ID:           m.spec.ID,
		Name:         m.spec.Name,
		State:        m.State().String(),
		Dependencies: deps,
	}
}
