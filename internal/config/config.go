// Package config provides configuration management for Anvil.
package config

import (
	"strings"
	"time"
)

// Config is the root configuration structure for Anvil.
type Config struct {
	Scripts ScriptsConfig `mapstructure:"scripts"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Params  ParamsConfig  `mapstructure:"params"`
	Boot    BootConfig    `mapstructure:"boot"`
	Journal JournalConfig `mapstructure:"journal"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ScriptsConfig holds local script settings.
type ScriptsConfig struct {
	// Directory local dependencies are loaded from
	Dir string `mapstructure:"dir"`

	// File extension of script files
	Extension string `mapstructure:"extension"`

	// Scripts loaded at startup, in order
	Preload []string `mapstructure:"preload"`

	// Glob patterns matched against file names the check watcher reacts to
	Watch []string `mapstructure:"watch"`
}

// RemoteConfig holds remote dependency settings.
type RemoteConfig struct {
	// Script URLs fetched at startup regardless of any module's dependencies
	Plugins []string `mapstructure:"plugins"`

	// Cache downloaded scripts
	Cache bool `mapstructure:"cache"`

	// Re-download cached scripts on the next fetch
	Refresh bool `mapstructure:"refresh"`

	// Download timeout
	Timeout time.Duration `mapstructure:"timeout"`

	// Maximum script size in bytes
	MaxSize int64 `mapstructure:"max_size"`
}

// CacheConfig holds settings for the remote script cache backend.
type CacheConfig struct {
	// Backend type: filesystem or s3
	Backend string `mapstructure:"backend"`

	// Root directory for the filesystem backend
	Path string `mapstructure:"path"`

	// Compression: "", gzip or zstd
	Compression string `mapstructure:"compression"`

	// Bucket scripts are stored in
	Bucket string `mapstructure:"bucket"`

	S3 S3Config `mapstructure:"s3"`
}

// S3Config holds S3-compatible cache backend settings.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketPrefix    string `mapstructure:"bucket_prefix"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// ParamsConfig holds the module parameter tiers.
type ParamsConfig struct {
	// Directory holding <module id>.json side-files
	Dir string `mapstructure:"dir"`

	// Host-native parameter blocks keyed by module id
	Host map[string]map[string]any `mapstructure:"host"`

	// Overrides keyed by module id
	Overrides map[string]map[string]any `mapstructure:"overrides"`

	// Overrides in "Module.param=value; Other.param=value" form
	OverrideString string `mapstructure:"override_string"`
}

// BootConfig holds host boot settings.
type BootConfig struct {
	// Path of the host's run entry point
	Entry string `mapstructure:"entry"`

	// How long an initializing module may run before it is reported as stalled
	DiagnosticTimeout time.Duration `mapstructure:"diagnostic_timeout"`
}

// JournalConfig holds boot journal settings.
type JournalConfig struct {
	// Record boot runs
	Enabled bool `mapstructure:"enabled"`

	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Busy timeout
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// MetricsConfig holds Prometheus endpoint settings.
type MetricsConfig struct {
	// Serve /metrics while the host runs
	Enabled bool `mapstructure:"enabled"`

	// Listen address
	Address string `mapstructure:"address"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format"`

	// Include caller info
	Caller bool `mapstructure:"caller"`

	// Include timestamp
	Timestamp bool `mapstructure:"timestamp"`
}

// ScriptFile returns the file name for a script called name.
func (s *ScriptsConfig) ScriptFile(name string) string {
	ext := s.Extension
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return name + ext
}
