package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/watzon/anvil/internal/objgraph"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateScripts(&cfg.Scripts)...)
	errs = append(errs, validateRemote(&cfg.Remote)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validateBoot(&cfg.Boot)...)
	errs = append(errs, validateJournal(&cfg.Journal)...)
	errs = append(errs, validateMetrics(&cfg.Metrics)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateScripts(cfg *ScriptsConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Dir == "" {
		errs = append(errs, ValidationError{
			Field:   "scripts.dir",
			Message: "required",
		})
	}

	for i, name := range cfg.Preload {
		if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("scripts.preload[%d]", i),
				Message: "must be a bare script name",
			})
		}
	}

	return errs
}

func validateRemote(cfg *RemoteConfig) ValidationErrors {
	var errs ValidationErrors

	for i, raw := range cfg.Plugins {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("remote.plugins[%d]", i),
				Message: "must be an http or https URL",
			})
		}
	}

	if cfg.Timeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "remote.timeout",
			Message: "must be non-negative",
		})
	}

	if cfg.Timeout > 0 && cfg.Timeout < time.Second {
		errs = append(errs, ValidationError{
			Field:   "remote.timeout",
			Message: "warning: values below 1s may cause legitimate downloads to timeout",
		})
	}

	if cfg.MaxSize < 0 {
		errs = append(errs, ValidationError{
			Field:   "remote.max_size",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateCache(cfg *CacheConfig) ValidationErrors {
	var errs ValidationErrors

	validCompression := map[string]bool{"": true, "gzip": true, "zstd": true}
	if !validCompression[cfg.Compression] {
		errs = append(errs, ValidationError{
			Field:   "cache.compression",
			Message: "must be empty, 'gzip' or 'zstd'",
		})
	}

	if cfg.Bucket == "" || strings.ContainsAny(cfg.Bucket, `/\`) {
		errs = append(errs, ValidationError{
			Field:   "cache.bucket",
			Message: "required and must not contain path separators",
		})
	}

	switch cfg.Backend {
	case "filesystem":
		if cfg.Path == "" {
			errs = append(errs, ValidationError{
				Field:   "cache.path",
				Message: "required when backend is 'filesystem'",
			})
		}

		if strings.Contains(cfg.Path, "..") {
			errs = append(errs, ValidationError{
				Field:   "cache.path",
				Message: "path traversal (..) not allowed",
			})
		}

	case "s3":
		if cfg.S3.Region == "" {
			errs = append(errs, ValidationError{
				Field:   "cache.s3.region",
				Message: "required",
			})
		}

		if cfg.S3.AccessKeyID == "" {
			errs = append(errs, ValidationError{
				Field:   "cache.s3.access_key_id",
				Message: "required",
			})
		}

		if cfg.S3.SecretAccessKey == "" {
			errs = append(errs, ValidationError{
				Field:   "cache.s3.secret_access_key",
				Message: "required",
			})
		}

		if strings.Contains(cfg.S3.BucketPrefix, "/") {
			errs = append(errs, ValidationError{
				Field:   "cache.s3.bucket_prefix",
				Message: "must not contain path separators",
			})
		}

	default:
		errs = append(errs, ValidationError{
			Field:   "cache.backend",
			Message: "must be 'filesystem' or 's3'",
		})
	}

	return errs
}

func validateBoot(cfg *BootConfig) ValidationErrors {
	var errs ValidationErrors

	if _, err := objgraph.Split(cfg.Entry); err != nil {
		errs = append(errs, ValidationError{
			Field:   "boot.entry",
			Message: "must be a dotted path such as 'host.run'",
		})
	}

	if cfg.DiagnosticTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "boot.diagnostic_timeout",
			Message: "must be non-negative (0 disables stall reports)",
		})
	}

	return errs
}

func validateJournal(cfg *JournalConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Enabled && cfg.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "journal.path",
			Message: "required when journal is enabled",
		})
	}

	if cfg.BusyTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "journal.busy_timeout",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateMetrics(cfg *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Enabled && cfg.Address == "" {
		errs = append(errs, ValidationError{
			Field:   "metrics.address",
			Message: "required when metrics are enabled",
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[cfg.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: trace, debug, info, warn, error, fatal, panic",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'console'",
		})
	}

	return errs
}
