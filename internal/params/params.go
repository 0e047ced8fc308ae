// Package params assembles each module's parameter bag from three tiers,
// later tiers overriding earlier ones: the host's own parameter block, a
// JSON side-file named after the module, and explicit overrides.
package params

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/watzon/anvil/internal/config"
)

var ErrInvalidSideFile = errors.New("parameter file is not a JSON object")

// Source merges and memoizes module parameters.
type Source struct {
	dir       string
	host      map[string]map[string]any
	overrides map[string]map[string]any

	mu    sync.Mutex
	cache map[string]map[string]any
}

// New creates a source from cfg. Host and override blocks are keyed by
// lower-cased module id.
func New(cfg config.ParamsConfig) (*Source, error) {
	overrides := make(map[string]map[string]any)
	for id, values := range cfg.Overrides {
		overrides[strings.ToLower(id)] = maps.Clone(values)
	}

	parsed, err := ParseOverrides(cfg.OverrideString)
	if err != nil {
		return nil, err
	}
	for id, values := range parsed {
		if overrides[id] == nil {
			overrides[id] = make(map[string]any)
		}
		maps.Copy(overrides[id], values)
	}

	host := make(map[string]map[string]any)
	for id, values := range cfg.Host {
		host[strings.ToLower(id)] = values
	}

	return &Source{
		dir:       cfg.Dir,
		host:      host,
		overrides: overrides,
		cache:     make(map[string]map[string]any),
	}, nil
}

// Params returns the merged parameters for id. The result is computed once
// per id; callers must not modify it.
func (s *Source) Params(id string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.cache[id]; ok {
		return p
	}

	key := strings.ToLower(id)
	merged := make(map[string]any)
	maps.Copy(merged, s.host[key])

	side, err := s.sideFile(id)
	if err != nil {
		log.Warn().Err(err).Str("module", id).Msg("Ignoring parameter file")
	}
	maps.Copy(merged, side)

	maps.Copy(merged, s.overrides[key])

	s.cache[id] = merged
	return merged
}

// Invalidate drops memoized parameters, so the next lookup rereads the
// side-files.
func (s *Source) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.cache)
}

func (s *Source) sideFile(id string) (map[string]any, error) {
	if s.dir == "" {
		return nil, nil
	}

	path := filepath.Join(s.dir, id+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSideFile, path)
	}
	result := gjson.ParseBytes(data)
	if !result.IsObject() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSideFile, path)
	}

	values, _ := result.Value().(map[string]any)
	return values, nil
}

// ParseOverrides parses "Module.param=value; Other.param=value" into
// per-module maps keyed by lower-cased module id. Values that are valid
// JSON (numbers, booleans, quoted strings, arrays, objects) are decoded;
// anything else is kept as a string.
func ParseOverrides(s string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any)

	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		lhs, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("override %q: missing '='", entry)
		}
		module, param, ok := strings.Cut(strings.TrimSpace(lhs), ".")
		if !ok || module == "" || param == "" {
			return nil, fmt.Errorf("override %q: expected module.param", entry)
		}

		key := strings.ToLower(module)
		if out[key] == nil {
			out[key] = make(map[string]any)
		}
		out[key][param] = decodeValue(strings.TrimSpace(value))
	}

	return out, nil
}

func decodeValue(raw string) any {
	if raw == "" || !gjson.Valid(raw) {
		return raw
	}
	return gjson.Parse(raw).Value()
}
