package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/anvil/internal/errdefs"
	"github.com/watzon/anvil/internal/journal"
)

func TestStartHost_RunsAfterModules(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"Weather": `
anvil.register{
  id = "Weather",
  dependencies = {"Clouds"},
  initializer = function(mod, done)
    assert(anvil.get("host.name") == "anvil")
    done()
  end,
}`,
		"Clouds": module("Clouds"),
	})

	h, err := startHost(context.Background(), cfg, []string{"--fullscreen"})
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, []any{"--fullscreen"}, h.Args)

	j, err := journal.Open(cfg.Journal)
	require.NoError(t, err)
	defer j.Close()

	last, err := j.Last(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "resumed", last.Outcome)
	assert.Equal(t, "host.run", last.Entry)

	transitions, err := j.Transitions(context.Background(), last.ID)
	require.NoError(t, err)
	states := finalStates(transitions)
	require.Len(t, states, 2)
	assert.Equal(t, ModuleOutcome{Module: "Clouds", State: "initialized"}, states[0])
	assert.Equal(t, ModuleOutcome{Module: "Weather", State: "initialized"}, states[1])
}

func TestStartHost_HookSeesDeferredRun(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"Launcher": `
anvil.hook_async("host.run", function(call, next)
  next({"patched", call.args[1]})
end)
anvil.register{
  id = "Launcher",
  initializer = function(mod, done) done() end,
}`,
	})
	cfg.Journal.Enabled = false

	h, err := startHost(context.Background(), cfg, []string{"original"})
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, []any{"patched", "original"}, h.Args)
}

func TestStartHost_FailureKeepsHostDeferred(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"Broken": `
anvil.register{
  id = "Broken",
  initializer = function(mod, done) done("no audio device") end,
}`,
	})

	_, err := startHost(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.True(t, errdefs.IsInitialization(err))

	j, err := journal.Open(cfg.Journal)
	require.NoError(t, err)
	defer j.Close()

	last, err := j.Last(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "failed", last.Outcome)
	assert.Contains(t, last.Error, "no audio device")
}

func TestStartHost_StalledModuleHonoursContext(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"Slow": `
anvil.register{
  id = "Slow",
  initializer = function(mod, done) end,
}`,
	})
	cfg.Journal.Enabled = false
	cfg.Boot.DiagnosticTimeout = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := startHost(ctx, cfg, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
