package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	ErrConfigNotFound = errors.New("config file not found")
)

type LoadOptions struct {
	ConfigFile string
	EnvPrefix  string
	Defaults   *Config
}

func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	defaults := opts.Defaults
	if defaults == nil {
		defaults = Default()
	}
	setViperDefaults(v, defaults)

	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "ANVIL"
	}
	v.SetEnvPrefix(opts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("anvil")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/anvil")
		v.AddConfigPath("/etc/anvil")
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	expandEnvInConfig(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func LoadFromFile(path string) (*Config, error) {
	return Load(LoadOptions{ConfigFile: path})
}

func setViperDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("scripts.dir", cfg.Scripts.Dir)
	v.SetDefault("scripts.extension", cfg.Scripts.Extension)
	v.SetDefault("scripts.preload", cfg.Scripts.Preload)
	v.SetDefault("scripts.watch", cfg.Scripts.Watch)

	v.SetDefault("remote.plugins", cfg.Remote.Plugins)
	v.SetDefault("remote.cache", cfg.Remote.Cache)
	v.SetDefault("remote.refresh", cfg.Remote.Refresh)
	v.SetDefault("remote.timeout", cfg.Remote.Timeout)
	v.SetDefault("remote.max_size", cfg.Remote.MaxSize)

	v.SetDefault("cache.backend", cfg.Cache.Backend)
	v.SetDefault("cache.path", cfg.Cache.Path)
	v.SetDefault("cache.compression", cfg.Cache.Compression)
	v.SetDefault("cache.bucket", cfg.Cache.Bucket)
	v.SetDefault("cache.s3.endpoint", cfg.Cache.S3.Endpoint)
	v.SetDefault("cache.s3.region", cfg.Cache.S3.Region)
	v.SetDefault("cache.s3.access_key_id", cfg.Cache.S3.AccessKeyID)
	v.SetDefault("cache.s3.secret_access_key", cfg.Cache.S3.SecretAccessKey)
	v.SetDefault("cache.s3.bucket_prefix", cfg.Cache.S3.BucketPrefix)
	v.SetDefault("cache.s3.force_path_style", cfg.Cache.S3.ForcePathStyle)

	v.SetDefault("params.dir", cfg.Params.Dir)
	v.SetDefault("params.override_string", cfg.Params.OverrideString)
	// Host and override maps have no useful defaults.

	v.SetDefault("boot.entry", cfg.Boot.Entry)
	v.SetDefault("boot.diagnostic_timeout", cfg.Boot.DiagnosticTimeout)

	v.SetDefault("journal.enabled", cfg.Journal.Enabled)
	v.SetDefault("journal.path", cfg.Journal.Path)
	v.SetDefault("journal.busy_timeout", cfg.Journal.BusyTimeout)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.address", cfg.Metrics.Address)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.caller", cfg.Logging.Caller)
	v.SetDefault("logging.timestamp", cfg.Logging.Timestamp)
}

func expandEnvInConfig(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envVar := val[2 : len(val)-1]
			if envVal := os.Getenv(envVar); envVal != "" {
				v.Set(key, envVal)
			}
		}
	}
}

func ConfigFilePath(customPath string) (string, error) {
	if customPath != "" {
		absPath, err := filepath.Abs(customPath)
		if err != nil {
			return "", fmt.Errorf("resolving config path: %w", err)
		}
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", absPath)
		}
		return absPath, nil
	}

	searchPaths := []string{
		"anvil.yaml",
		"anvil.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "anvil", "anvil.yaml"),
		"/etc/anvil/anvil.yaml",
	}

	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Abs(p)
		}
	}

	return "", ErrConfigNotFound
}
