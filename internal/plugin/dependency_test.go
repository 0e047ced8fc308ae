package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDependency(t *testing.T) {
	tests := []struct {
		ref  string
		want Dependency
	}{
		{ref: "CoreUtils", want: Dependency{Name: "CoreUtils"}},
		{ref: "  CoreUtils ", want: Dependency{Name: "CoreUtils"}},
		{ref: "https://cdn.example.com/plugins/Weather.lua", want: Dependency{Name: "Weather", URL: "https://cdn.example.com/plugins/Weather.lua"}},
		{ref: "http://example.com/a/b/Tiles.js?v=3", want: Dependency{Name: "Tiles", URL: "http://example.com/a/b/Tiles.js?v=3"}},
		{ref: "ftp://example.com/Thing.lua", want: Dependency{Name: "ftp://example.com/Thing.lua"}},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got := ParseDependency(tt.ref)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.URL != "", got.IsRemote())
		})
	}
}

func TestNameFromURL(t *testing.T) {
	assert.Equal(t, "Weather", NameFromURL("https://cdn.example.com/plugins/Weather.lua"))
	assert.Equal(t, "Weather.min", NameFromURL("https://cdn.example.com/Weather.min.js"))
	assert.Equal(t, "plain", NameFromURL("https://cdn.example.com/plain"))
	assert.Equal(t, "", NameFromURL("https://cdn.example.com/"))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Scene Tweaks", DisplayName("SceneTweaks"))
	assert.Equal(t, "my Plugin", DisplayName("myPlugin"))
	assert.Equal(t, "lowercase", DisplayName("lowercase"))
	assert.Equal(t, "H U D", DisplayName("HUD"))
}
