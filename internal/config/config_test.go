package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Scripts.Dir != DefaultScriptsDir {
		t.Errorf("expected scripts dir %s, got %s", DefaultScriptsDir, cfg.Scripts.Dir)
	}

	if cfg.Boot.Entry != DefaultBootEntry {
		t.Errorf("expected boot entry %s, got %s", DefaultBootEntry, cfg.Boot.Entry)
	}

	if cfg.Remote.Timeout != DefaultRemoteTimeout {
		t.Errorf("expected remote timeout %v, got %v", DefaultRemoteTimeout, cfg.Remote.Timeout)
	}

	if !cfg.Remote.Cache {
		t.Error("expected remote cache to be enabled by default")
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"invalid log level", func(c *Config) { c.Logging.Level = "invalid" }, "logging.level"},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad boot entry", func(c *Config) { c.Boot.Entry = "host..run" }, "boot.entry"},
		{"negative diagnostic timeout", func(c *Config) { c.Boot.DiagnosticTimeout = -time.Second }, "boot.diagnostic_timeout"},
		{"non-http plugin url", func(c *Config) { c.Remote.Plugins = []string{"ftp://example.com/a.lua"} }, "remote.plugins[0]"},
		{"preload path", func(c *Config) { c.Scripts.Preload = []string{"../escape"} }, "scripts.preload[0]"},
		{"unknown compression", func(c *Config) { c.Cache.Compression = "lz4" }, "cache.compression"},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "ftp" }, "cache.backend"},
		{"s3 without credentials", func(c *Config) { c.Cache.Backend = "s3" }, "cache.s3.access_key_id"},
		{"journal without path", func(c *Config) { c.Journal.Path = "" }, "journal.path"},
		{"metrics without address", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Address = "" }, "metrics.address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}

			errs, ok := err.(ValidationErrors)
			if !ok {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}

			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("expected error for %s field, got %v", tt.field, errs)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "anvil.yaml")

	content := `
scripts:
  dir: "mods"
  preload: ["Core", "Extras"]
remote:
  plugins:
    - "https://cdn.example.com/Weather.lua"
  timeout: 10s
params:
  host:
    SceneTweaks:
      speed: 3
boot:
  entry: "scene.manager.run"
logging:
  level: "debug"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Scripts.Dir != "mods" {
		t.Errorf("expected scripts dir mods, got %s", cfg.Scripts.Dir)
	}

	if strings.Join(cfg.Scripts.Preload, ",") != "Core,Extras" {
		t.Errorf("expected preload [Core Extras], got %v", cfg.Scripts.Preload)
	}

	if len(cfg.Remote.Plugins) != 1 {
		t.Errorf("expected 1 remote plugin, got %d", len(cfg.Remote.Plugins))
	}

	if cfg.Remote.Timeout != 10*time.Second {
		t.Errorf("expected remote timeout 10s, got %v", cfg.Remote.Timeout)
	}

	// Viper lower-cases keys.
	if _, ok := cfg.Params.Host["scenetweaks"]; !ok {
		t.Errorf("expected host params for scenetweaks, got %v", cfg.Params.Host)
	}

	if cfg.Boot.Entry != "scene.manager.run" {
		t.Errorf("expected boot entry scene.manager.run, got %s", cfg.Boot.Entry)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}

	if cfg.Cache.Backend != DefaultCacheBackend {
		t.Errorf("expected default cache backend, got %s", cfg.Cache.Backend)
	}
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Setenv("ANVIL_BOOT_ENTRY", "game.start")
	t.Setenv("ANVIL_JOURNAL_PATH", "env-test.db")

	cfg, err := Load(LoadOptions{})
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Boot.Entry != "game.start" {
		t.Errorf("expected boot entry game.start from env, got %s", cfg.Boot.Entry)
	}

	if cfg.Journal.Path != "env-test.db" {
		t.Errorf("expected journal path env-test.db from env, got %s", cfg.Journal.Path)
	}
}

func TestLoadExpandsEnvReferences(t *testing.T) {
	t.Setenv("TEST_ANVIL_SECRET", "from-env")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "anvil.yaml")
	content := `
cache:
  backend: s3
  s3:
    region: eu-west-1
    access_key_id: key
    secret_access_key: "${TEST_ANVIL_SECRET}"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Cache.S3.SecretAccessKey != "from-env" {
		t.Errorf("expected expanded secret, got %s", cfg.Cache.S3.SecretAccessKey)
	}
}

func TestScriptFile(t *testing.T) {
	tests := []struct {
		ext  string
		want string
	}{
		{".lua", "Core.lua"},
		{"lua", "Core.lua"},
		{"", "Core"},
	}

	for _, tt := range tests {
		cfg := &ScriptsConfig{Extension: tt.ext}
		if got := cfg.ScriptFile("Core"); got != tt.want {
			t.Errorf("ScriptFile(%q) = %s, want %s", tt.ext, got, tt.want)
		}
	}
}
