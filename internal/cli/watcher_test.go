package cli

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptWatcher_DebouncesMatchingChanges(t *testing.T) {
	dir := t.TempDir()

	var (
		mu      sync.Mutex
		batches [][]FileEvent
	)
	sw, err := NewScriptWatcher([]string{dir, filepath.Join(dir, "missing")}, []string{"*.lua"}, func(events []FileEvent) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, events)
	})
	require.NoError(t, err)
	sw.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sw.Start(ctx)
	defer sw.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Weather.lua"), []byte("-- a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Weather.lua"), []byte("-- b"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, batch := range batches {
		for _, e := range batch {
			assert.Equal(t, "Weather.lua", e.Name)
		}
	}
}

func TestScriptWatcher_Errors(t *testing.T) {
	_, err := NewScriptWatcher([]string{filepath.Join(t.TempDir(), "missing")}, nil, nil)
	assert.Error(t, err)
}

func TestEventType_String(t *testing.T) {
	assert.Equal(t, "created", EventCreated.String())
	assert.Equal(t, "modified", EventModified.String())
	assert.Equal(t, "deleted", EventDeleted.String())
	assert.Equal(t, "renamed", EventRenamed.String())
	assert.Equal(t, "unknown", EventType(42).String())
}
