package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/anvil/internal/journal"
	"github.com/watzon/anvil/internal/plugin"
)

func executeStatus(t *testing.T, dbPath string, args ...string) string {
	t.Helper()

	cfgPath := filepath.Join(t.TempDir(), "anvil.yaml")
	content := "journal:\n  path: " + dbPath + "\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	statusOutput, statusRuns = "table", 0
	t.Cleanup(func() { statusOutput, statusRuns = "table", 0 })

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs(append([]string{"--config", cfgPath, "status"}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	return buf.String()
}

func recordRun(t *testing.T, dbPath string, fail bool) string {
	t.Helper()

	j, err := journal.Open(journalConfig(dbPath))
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	rec, err := j.Begin(ctx, "host.run")
	require.NoError(t, err)

	r := plugin.NewRegistry()
	_, err = r.Register(plugin.Spec{
		ID:          "Clouds",
		Initializer: func(_ *plugin.Module, done plugin.Done) { done(nil, "") },
	})
	require.NoError(t, err)
	_, err = r.Register(plugin.Spec{
		ID:           "Weather",
		Dependencies: []plugin.Dependency{plugin.Local("Clouds")},
		Initializer: func(_ *plugin.Module, done plugin.Done) {
			if fail {
				done(errors.New("no forecast"), "")
				return
			}
			done(nil, "")
		},
	})
	require.NoError(t, err)

	var result error
	require.NoError(t, plugin.NewSequencer(r, rec).Run(func(err error) { result = err }))

	outcome := "resumed"
	if result != nil {
		outcome = "failed"
	}
	require.NoError(t, rec.Finish(ctx, outcome, result))
	return rec.ID()
}

func TestStatus_NoRuns(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "anvil.db")
	out := executeStatus(t, dbPath)
	assert.Contains(t, out, "No boots recorded yet.")
}

func TestStatus_LastRun(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "anvil.db")
	recordRun(t, dbPath, false)
	id := recordRun(t, dbPath, true)

	out := executeStatus(t, dbPath)
	assert.Contains(t, out, "Boot "+id)
	assert.Contains(t, out, "Outcome:  failed")
	assert.Contains(t, out, "✓ Clouds - initialized")
	assert.Contains(t, out, "✗ Weather - failed")
	assert.Contains(t, out, "no forecast")

	out = executeStatus(t, dbPath, "-o", "yaml")
	assert.Contains(t, out, "outcome: failed")
	assert.Contains(t, out, "module: Weather")
}

func TestStatus_Runs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "anvil.db")
	first := recordRun(t, dbPath, false)
	second := recordRun(t, dbPath, true)

	out := executeStatus(t, dbPath, "--runs", "5")
	assert.Contains(t, out, "✓ "+first)
	assert.Contains(t, out, "✗ "+second)
}

func TestFinalStates(t *testing.T) {
	got := finalStates([]journal.Transition{
		{Module: "A", From: "pending", To: "initializing"},
		{Module: "A", From: "initializing", To: "initialized"},
		{Module: "B", From: "pending", To: "initializing"},
		{Module: "B", From: "initializing", To: "failed", Error: "boom"},
	})

	assert.Equal(t, []ModuleOutcome{
		{Module: "A", State: "initialized"},
		{Module: "B", State: "failed", Error: "boom"},
	}, got)
}
