package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/watzon/anvil/internal/config"
	"github.com/watzon/anvil/internal/errdefs"
)

func testConfig(t *testing.T, scripts map[string]string) *config.Config {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default()
	cfg.Scripts.Dir = filepath.Join(root, "plugins")
	cfg.Params.Dir = filepath.Join(root, "params")
	cfg.Cache.Path = filepath.Join(root, "cache")
	cfg.Journal.Path = filepath.Join(root, "anvil.db")
	cfg.Remote.Cache = false

	require.NoError(t, os.MkdirAll(cfg.Scripts.Dir, 0o755))
	for name, src := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Scripts.Dir, name+".lua"), []byte(src), 0o644))
	}
	return cfg
}

func module(id string, deps ...string) string {
	list := ""
	for _, d := range deps {
		list += `"` + d + `",`
	}
	return `anvil.register{
  id = "` + id + `",
  dependencies = {` + list + `},
  initializer = function(mod, done) done() end,
}`
}

func TestCheck_Order(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"Weather": module("Weather", "Clouds"),
		"Clouds":  module("Clouds"),
		"Audio":   module("Audio"),
	})

	var buf bytes.Buffer
	require.NoError(t, check(context.Background(), cfg, &buf, "table"))

	out := buf.String()
	assert.Contains(t, out, "1. Audio")
	assert.Contains(t, out, "2. Clouds")
	assert.Contains(t, out, "3. Weather")
	assert.Contains(t, out, "All 3 modules can initialize")
}

func TestCheck_Cycle(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"X": module("X", "Y"),
		"Y": module("Y", "X"),
	})

	var buf bytes.Buffer
	err := check(context.Background(), cfg, &buf, "yaml")
	require.Error(t, err)
	assert.True(t, errdefs.IsDependency(err))

	var report CheckReport
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &report))
	assert.ElementsMatch(t, []string{"X", "Y"}, report.Stuck)
	assert.Empty(t, report.Order)
	assert.Contains(t, report.Error, "cycle")
	assert.Len(t, report.Modules, 2)
}

func TestCheck_MissingDependency(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"Weather": module("Weather", "Ghost"),
	})

	var buf bytes.Buffer
	err := check(context.Background(), cfg, &buf, "table")
	require.Error(t, err)
	assert.True(t, errdefs.IsDependency(err))
	assert.Contains(t, err.Error(), "Ghost")
	assert.Contains(t, buf.String(), "✗ Weather")
}

func TestCheck_Preload(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"Weather": module("Weather", "Clouds"),
		"Clouds":  module("Clouds"),
		"Unused":  module("Unused"),
	})
	cfg.Scripts.Preload = []string{"Weather"}

	var buf bytes.Buffer
	require.NoError(t, check(context.Background(), cfg, &buf, "json"))

	out := buf.String()
	assert.Contains(t, out, `"Clouds"`)
	assert.Contains(t, out, `"Weather"`)
	assert.NotContains(t, out, "Unused")
}

func TestCheck_NoScripts(t *testing.T) {
	cfg := testConfig(t, nil)
	require.NoError(t, os.RemoveAll(cfg.Scripts.Dir))

	var buf bytes.Buffer
	require.NoError(t, check(context.Background(), cfg, &buf, "table"))
	assert.Contains(t, buf.String(), "No modules registered.")
}

func TestRender_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, render(&buf, "xml", CheckReport{}))
	assert.Error(t, validateOutput("xml"))
	assert.NoError(t, validateOutput("yaml"))
}

func journalConfig(path string) config.JournalConfig {
	cfg := config.Default().Journal
	cfg.Path = path
	return cfg
}
