// Package plugin stores declared modules and initializes them in
// dependency order.
package plugin

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRegistered = errors.New("module already registered")
	ErrMissingID         = errors.New("module id is required")
	ErrMissingInit       = errors.New("module initializer is required")
	ErrNilGlobal         = errors.New("global value must not be nil")
	ErrAlreadyRun        = errors.New("sequencer has already run")
	ErrMissingDependency = errors.New("dependency is not registered")
	ErrDependencyCycle   = errors.New("dependency cycle")
)

// State is a module's initialization state. States only move forward.
type State int

const (
	StatePending State = iota
	StateInitializing
	StateInitialized
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Done completes a module's initialization. A nil err marks success;
// message is logged either way.
type Done func(err error, message string)

// Initializer runs a module's setup. It may return before calling done and
// finish from another goroutine.
type Initializer func(m *Module, done Done)

// Spec declares a module.
type Spec struct {
	ID           string
	Name         string
	Dependencies []Dependency
	Globals      []string
	Params       map[string]any
	Initializer  Initializer
}

// Status is a point-in-time view of one registered module.
type Status struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	State        string   `json:"state" yaml:"state"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}
