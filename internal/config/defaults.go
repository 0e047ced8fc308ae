package config

import "time"

// Default configuration values.
const (
	// Script defaults.
	DefaultScriptsDir      = "plugins"
	DefaultScriptExtension = ".lua"

	// Remote defaults.
	DefaultRemoteTimeout = 30 * time.Second
	DefaultRemoteMaxSize = 5 * 1024 * 1024 // 5MB

	// Cache defaults.
	DefaultCacheBackend = "filesystem"
	DefaultCachePath    = "plugins/.cache"
	DefaultCacheBucket  = "plugins"

	// Params defaults.
	DefaultParamsDir = "params"

	// Boot defaults.
	DefaultBootEntry         = "host.run"
	DefaultDiagnosticTimeout = 30 * time.Second

	// Journal defaults.
	DefaultJournalPath = "anvil.db"
	DefaultBusyTimeout = 5 * time.Second

	// Metrics defaults.
	DefaultMetricsAddress = "localhost:9464"

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Scripts: ScriptsConfig{
			Dir:       DefaultScriptsDir,
			Extension: DefaultScriptExtension,
			Preload:   []string{},
			Watch:     []string{"*.lua", "*.json"},
		},
		Remote: RemoteConfig{
			Plugins: []string{},
			Cache:   true,
			Timeout: DefaultRemoteTimeout,
			MaxSize: DefaultRemoteMaxSize,
		},
		Cache: CacheConfig{
			Backend:     DefaultCacheBackend,
			Path:        DefaultCachePath,
			Compression: "",
			Bucket:      DefaultCacheBucket,
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Params: ParamsConfig{
			Dir:       DefaultParamsDir,
			Host:      make(map[string]map[string]any),
			Overrides: make(map[string]map[string]any),
		},
		Boot: BootConfig{
			Entry:             DefaultBootEntry,
			DiagnosticTimeout: DefaultDiagnosticTimeout,
		},
		Journal: JournalConfig{
			Enabled:     true,
			Path:        DefaultJournalPath,
			BusyTimeout: DefaultBusyTimeout,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: DefaultMetricsAddress,
		},
		Logging: LoggingConfig{
			Level:     DefaultLogLevel,
			Format:    DefaultLogFormat,
			Caller:    false,
			Timestamp: true,
		},
	}
}
