package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/anvil/internal/config"
	"github.com/watzon/anvil/internal/plugin"
)

func testJournal(t *testing.T) *Journal {
	t.Helper()

	j, err := Open(config.JournalConfig{
		Enabled:     true,
		Path:        filepath.Join(t.TempDir(), "nested", "anvil.db"),
		BusyTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		j.Close()
	})
	return j
}

func TestJournal_RecordsSequencerRun(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	rec, err := j.Begin(ctx, "host.run")
	require.NoError(t, err)

	r := plugin.NewRegistry()
	_, err = r.Register(plugin.Spec{
		ID:           "B",
		Dependencies: []plugin.Dependency{plugin.Local("A")},
		Initializer:  func(_ *plugin.Module, done plugin.Done) { done(nil, "") },
	})
	require.NoError(t, err)
	_, err = r.Register(plugin.Spec{
		ID:          "A",
		Initializer: func(_ *plugin.Module, done plugin.Done) { done(nil, "") },
	})
	require.NoError(t, err)

	var result error
	require.NoError(t, plugin.NewSequencer(r, rec).Run(func(err error) { result = err }))
	require.NoError(t, result)
	require.NoError(t, rec.Finish(ctx, "resumed", nil))

	last, err := j.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.ID(), last.ID)
	assert.Equal(t, "host.run", last.Entry)
	assert.Equal(t, "resumed", last.Outcome)
	assert.Empty(t, last.Error)
	require.NotNil(t, last.FinishedAt)
	assert.False(t, last.FinishedAt.Before(last.StartedAt))

	transitions, err := j.Transitions(ctx, rec.ID())
	require.NoError(t, err)
	require.Len(t, transitions, 4)

	var got []string
	for _, tr := range transitions {
		got = append(got, tr.Module+":"+tr.From+"->"+tr.To)
	}
	assert.Equal(t, []string{
		"A:pending->initializing",
		"A:initializing->initialized",
		"B:pending->initializing",
		"B:initializing->initialized",
	}, got)
}

func TestJournal_RecordsFailure(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	rec, err := j.Begin(ctx, "host.run")
	require.NoError(t, err)

	r := plugin.NewRegistry()
	_, err = r.Register(plugin.Spec{
		ID: "Broken",
		Initializer: func(_ *plugin.Module, done plugin.Done) {
			done(errors.New("no network"), "")
		},
	})
	require.NoError(t, err)

	var result error
	require.NoError(t, plugin.NewSequencer(r, rec).Run(func(err error) { result = err }))
	require.Error(t, result)
	require.NoError(t, rec.Finish(ctx, "failed", result))

	last, err := j.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, "failed", last.Outcome)
	assert.Contains(t, last.Error, "no network")

	transitions, err := j.Transitions(ctx, rec.ID())
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, "failed", transitions[1].To)
	assert.Contains(t, transitions[1].Error, "no network")
}

func TestJournal_Runs(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	_, err := j.Last(ctx)
	assert.ErrorIs(t, err, ErrNoRuns)

	first, err := j.Begin(ctx, "host.run")
	require.NoError(t, err)
	second, err := j.Begin(ctx, "host.run")
	require.NoError(t, err)

	runs, err := j.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID(), runs[0].ID)
	assert.Equal(t, first.ID(), runs[1].ID)
	assert.Equal(t, "running", runs[0].Outcome)
	assert.Nil(t, runs[0].FinishedAt)

	runs, err = j.Runs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestJournal_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anvil.db")
	cfg := config.JournalConfig{Enabled: true, Path: path, BusyTimeout: time.Second}
	ctx := context.Background()

	j, err := Open(cfg)
	require.NoError(t, err)
	rec, err := j.Begin(ctx, "host.run")
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	j, err = Open(cfg)
	require.NoError(t, err)
	defer j.Close()

	last, err := j.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.ID(), last.ID)
}
