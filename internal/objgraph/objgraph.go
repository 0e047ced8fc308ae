// Package objgraph resolves and assigns dotted paths in the host object graph.
//
// The host application exposes its callable surface as a tree of objects
// whose leaves may be functions. Hooks address those functions by path
// ("scene.manager.run") rather than by reference, so a Graph only has to
// support reading and writing a value at a path.
package objgraph

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrInvalidPath  = errors.New("invalid path")
	ErrNotFound     = errors.New("path not found")
	ErrNotContainer = errors.New("path segment is not an object")
	ErrNotCallable  = errors.New("value is not a function")
)

// Func is the calling convention for every function reachable through a
// Graph. this is the object that contains the function.
type Func func(this any, args ...any) any

// Object is a node in a MapGraph.
type Object map[string]any

// Graph is the get/set-at-path capability supplied by the host.
type Graph interface {
	Get(path string) (any, error)
	Set(path string, value any) error
}

// AsFunc reports whether v can be invoked as a Func.
func AsFunc(v any) (Func, bool) {
	switch fn := v.(type) {
	case Func:
		return fn, fn != nil
	case func(this any, args ...any) any:
		return Func(fn), fn != nil
	default:
		return nil, false
	}
}

// Split validates path and returns its segments.
func Split(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, path)
		}
	}
	return parts, nil
}

// Parent returns the path of the object containing path, or "" for a
// top-level name.
func Parent(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return ""
}

// Call resolves the function at path and invokes it with its containing
// object as the receiver.
func Call(g Graph, path string, args ...any) (any, error) {
	v, err := g.Get(path)
	if err != nil {
		return nil, err
	}
	fn, ok := AsFunc(v)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotCallable, path)
	}
	var this any
	if parent := Parent(path); parent != "" {
		if this, err = g.Get(parent); err != nil {
			return nil, err
		}
	}
	return fn(this, args...), nil
}

// MapGraph is a Graph backed by nested Objects.
type MapGraph struct {
	mu   sync.RWMutex
	root Object
}

// NewMapGraph creates a graph rooted at root. A nil root starts empty.
func NewMapGraph(root Object) *MapGraph {
	if root == nil {
		root = Object{}
	}
	return &MapGraph{root: root}
}

// Get returns the value at path.
func (g *MapGraph) Get(path string) (any, error) {
	parts, err := Split(path)
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	obj, err := g.walk(parts[:len(parts)-1], path)
	if err != nil {
		return nil, err
	}
	v, ok := obj[parts[len(parts)-1]]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return v, nil
}

// Set assigns value at path. Every object above the leaf must already exist.
func (g *MapGraph) Set(path string, value any) error {
	parts, err := Split(path)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	obj, err := g.walk(parts[:len(parts)-1], path)
	if err != nil {
		return err
	}
	obj[parts[len(parts)-1]] = value
	return nil
}

// Define assigns value at path, creating intermediate objects as needed.
// Hosts use it to publish their surface; hooks never create paths.
func (g *MapGraph) Define(path string, value any) error {
	parts, err := Split(path)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	obj := g.root
	for _, p := range parts[:len(parts)-1] {
		next, ok := obj[p]
		if !ok {
			child := Object{}
			obj[p] = child
			obj = child
			continue
		}
		child, ok := asObject(next)
		if !ok {
			return fmt.Errorf("%w: %s in %s", ErrNotContainer, p, path)
		}
		obj = child
	}
	obj[parts[len(parts)-1]] = value
	return nil
}

// Must be called with mu held.
func (g *MapGraph) walk(parts []string, path string) (Object, error) {
	obj := g.root
	for _, p := range parts {
		next, ok := obj[p]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		child, ok := asObject(next)
		if !ok {
			return nil, fmt.Errorf("%w: %s in %s", ErrNotContainer, p, path)
		}
		obj = child
	}
	return obj, nil
}

func asObject(v any) (Object, bool) {
	switch o := v.(type) {
	case Object:
		return o, o != nil
	case map[string]any:
		return Object(o), o != nil
	default:
		return nil, false
	}
}
