// Package scripts runs Lua modules. A script declares itself with
// anvil.register{...} and may hook host functions with anvil.hook.
//
// gopher-lua states are not goroutine-safe. Scripts, and the hooks and
// initializers they install, must be driven from one goroutine at a time.
package scripts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/watzon/anvil/internal/config"
	"github.com/watzon/anvil/internal/engine"
)

var (
	ErrScriptNotFound = errors.New("script not found")
	ErrClosed         = errors.New("script loader is closed")
)

type pending struct {
	name   string
	source []byte
}

// Loader owns the Lua state every script runs in.
type Loader struct {
	L   *lua.LState
	rt  *engine.Runtime
	cfg config.ScriptsConfig

	mu      sync.Mutex
	running bool
	queue   []pending
	closed  bool
}

// New creates a loader whose scripts act on rt. It installs itself as the
// runtime's script loader.
func New(rt *engine.Runtime, cfg config.ScriptsConfig) *Loader {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)

	l := &Loader{L: L, rt: rt, cfg: cfg}
	l.installAPI()
	rt.Plugins.SetScriptLoader(l)
	return l
}

// openSafeLibraries opens the standard libraries that cannot reach the
// filesystem or the process.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// Path returns the file a script called name is read from.
func (l *Loader) Path(name string) string {
	return filepath.Join(l.cfg.Dir, l.cfg.ScriptFile(name))
}

// LoadScript runs the script called name from the scripts directory. A
// script requested while another is running (a dependency declared during
// registration) runs after the current one finishes.
func (l *Loader) LoadScript(name string) error {
	path := l.Path(name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrScriptNotFound, path)
		}
		return fmt.Errorf("checking script %s: %w", path, err)
	}
	return l.enqueue(pending{name: name})
}

// LoadSource runs source as the script called name.
func (l *Loader) LoadSource(name string, source []byte) error {
	return l.enqueue(pending{name: name, source: source})
}

// Preload runs each named script in order. Failures are collected so one
// broken script does not stop the rest.
func (l *Loader) Preload(names []string) error {
	var errs []error
	for _, name := range names {
		if !l.rt.Plugins.MarkLoaded(name) {
			continue
		}
		if err := l.LoadScript(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discover lists the scripts in the scripts directory by name, sorted.
func Discover(cfg config.ScriptsConfig) ([]string, error) {
	ext := filepath.Ext(cfg.ScriptFile("x"))
	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("reading scripts directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || filepath.Ext(e.Name()) != ext {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ext))
	}
	sort.Strings(names)
	return names, nil
}

func (l *Loader) enqueue(p pending) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.running {
		l.queue = append(l.queue, p)
		l.mu.Unlock()
		log.Debug().Str("script", p.name).Msg("Script queued")
		return nil
	}
	l.running = true
	l.mu.Unlock()

	err := l.run(p)

	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			l.mu.Unlock()
			return err
		}
		next := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		if qerr := l.run(next); qerr != nil {
			log.Error().Err(qerr).Str("script", next.name).Msg("Queued script failed")
		}
	}
}

func (l *Loader) run(p pending) (err error) {
	l.rt.Plugins.MarkLoaded(p.name)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("script %s panicked: %v", p.name, r)
		}
	}()

	if p.source != nil {
		log.Debug().Str("script", p.name).Int("bytes", len(p.source)).Msg("Running script source")
		err = l.L.DoString(string(p.source))
	} else {
		path := l.Path(p.name)
		log.Debug().Str("script", p.name).Str("path", path).Msg("Running script")
		err = l.L.DoFile(path)
	}
	if err != nil {
		return fmt.Errorf("running script %s: %w", p.name, err)
	}
	return nil
}

// Close releases the Lua state.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.L.Close()
}
