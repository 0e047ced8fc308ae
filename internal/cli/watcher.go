package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"
)

const watchDebounce = 200 * time.Millisecond

// EventType represents the type of file change event.
type EventType int

const (
	EventCreated EventType = iota
	EventModified
	EventDeleted
	EventRenamed
)

func (e EventType) String() string {
	switch e {
	case EventCreated:
		return "created"
	case EventModified:
		return "modified"
	case EventDeleted:
		return "deleted"
	case EventRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileEvent represents a file change event.
type FileEvent struct {
	Type EventType
	Path string
	Name string
}

// ScriptWatcher watches script and param directories and reports changes
// to files whose base name matches one of its patterns. Bursts of events
// are coalesced into one callback per debounce window, since a single save
// often produces several fsnotify events and a re-check covers all files.
type ScriptWatcher struct {
	watcher  *fsnotify.Watcher
	patterns []glob.Glob
	debounce time.Duration
	onChange func(events []FileEvent)

	mu      sync.Mutex
	pending []FileEvent
	timer   *time.Timer

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewScriptWatcher watches dirs for files matching patterns. Directories
// that do not exist are skipped.
func NewScriptWatcher(dirs, patterns []string, onChange func(events []FileEvent)) (*ScriptWatcher, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid watch pattern %q: %w", p, err)
		}
		compiled = append(compiled, g)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	watched := 0
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := fsWatcher.Add(dir); err != nil {
			log.Debug().Err(err).Str("dir", dir).Msg("Not watching directory")
			continue
		}
		watched++
	}
	if watched == 0 {
		fsWatcher.Close()
		return nil, fmt.Errorf("none of %v can be watched", dirs)
	}

	return &ScriptWatcher{
		watcher:  fsWatcher,
		patterns: compiled,
		debounce: watchDebounce,
		onChange: onChange,
	}, nil
}

// Start begins delivering events until ctx is done or Stop is called.
func (sw *ScriptWatcher) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)
	sw.wg.Add(1)
	go func() {
		defer sw.wg.Done()
		sw.eventLoop(ctx)
	}()
}

// Stop stops the watcher and cleans up resources.
func (sw *ScriptWatcher) Stop() error {
	if sw.cancel != nil {
		sw.cancel()
	}
	sw.wg.Wait()

	sw.mu.Lock()
	if sw.timer != nil {
		sw.timer.Stop()
	}
	sw.mu.Unlock()

	return sw.watcher.Close()
}

func (sw *ScriptWatcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			sw.handleEvent(event)
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("File watcher error")
		}
	}
}

func (sw *ScriptWatcher) handleEvent(event fsnotify.Event) {
	var eventType EventType
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = EventCreated
	case event.Op&fsnotify.Write != 0:
		eventType = EventModified
	case event.Op&fsnotify.Remove != 0:
		eventType = EventDeleted
	case event.Op&fsnotify.Rename != 0:
		eventType = EventRenamed
	default:
		return
	}

	name := filepath.Base(event.Name)
	if !sw.matches(name) {
		return
	}

	log.Debug().
		Str("event", eventType.String()).
		Str("path", event.Name).
		Msg("Script file changed")

	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.pending = append(sw.pending, FileEvent{Type: eventType, Path: event.Name, Name: name})
	if sw.timer != nil {
		sw.timer.Stop()
	}
	sw.timer = time.AfterFunc(sw.debounce, sw.flush)
}

func (sw *ScriptWatcher) flush() {
	sw.mu.Lock()
	events := sw.pending
	sw.pending = nil
	sw.mu.Unlock()

	if len(events) > 0 && sw.onChange != nil {
		sw.onChange(events)
	}
}

func (sw *ScriptWatcher) matches(name string) bool {
	if len(sw.patterns) == 0 {
		return true
	}
	for _, g := range sw.patterns {
		if g.Match(name) {
			return true
		}
	}
	return false
}
