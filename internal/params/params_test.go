package params

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/anvil/internal/config"
)

func writeSideFile(t *testing.T, dir, id, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), []byte(content), 0o644))
}

func TestParams_TierPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeSideFile(t, dir, "SceneTweaks", `{"speed": 2, "title": "From File", "nested": {"a": 1}}`)

	src, err := New(config.ParamsConfig{
		Dir: dir,
		Host: map[string]map[string]any{
			"scenetweaks": {"speed": 1, "volume": 80, "title": "From Host"},
		},
		Overrides: map[string]map[string]any{
			"SceneTweaks": {"volume": 40},
		},
		OverrideString: "SceneTweaks.title=Overridden; Other.flag=true",
	})
	require.NoError(t, err)

	p := src.Params("SceneTweaks")
	assert.Equal(t, float64(2), p["speed"], "side-file beats host block")
	assert.Equal(t, 40, p["volume"], "override map beats host block")
	assert.Equal(t, "Overridden", p["title"], "override string beats side-file")
	assert.Equal(t, map[string]any{"a": float64(1)}, p["nested"])

	assert.Equal(t, map[string]any{"flag": true}, src.Params("Other"))
	assert.Empty(t, src.Params("Unknown"))
}

func TestParams_Memoized(t *testing.T) {
	dir := t.TempDir()
	writeSideFile(t, dir, "A", `{"v": 1}`)

	src, err := New(config.ParamsConfig{Dir: dir})
	require.NoError(t, err)

	assert.Equal(t, float64(1), src.Params("A")["v"])

	writeSideFile(t, dir, "A", `{"v": 2}`)
	assert.Equal(t, float64(1), src.Params("A")["v"])

	src.Invalidate()
	assert.Equal(t, float64(2), src.Params("A")["v"])
}

func TestParams_InvalidSideFileIgnored(t *testing.T) {
	dir := t.TempDir()
	writeSideFile(t, dir, "Broken", `{not json`)
	writeSideFile(t, dir, "List", `[1, 2]`)

	src, err := New(config.ParamsConfig{
		Dir:  dir,
		Host: map[string]map[string]any{"broken": {"kept": "yes"}},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"kept": "yes"}, src.Params("Broken"))
	assert.Empty(t, src.Params("List"))
}

func TestParseOverrides(t *testing.T) {
	got, err := ParseOverrides(` Weather.rate = 5 ; Weather.name=rain; HUD.colors=["red","blue"]; ;HUD.label="quoted"`)
	require.NoError(t, err)

	assert.Equal(t, map[string]map[string]any{
		"weather": {"rate": float64(5), "name": "rain"},
		"hud":     {"colors": []any{"red", "blue"}, "label": "quoted"},
	}, got)

	for _, bad := range []string{"Weather.rate", "rate=5", ".rate=5", "Weather.=5"} {
		_, err := ParseOverrides(bad)
		assert.Error(t, err, bad)
	}
}
