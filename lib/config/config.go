// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/emblemhq/emblem/lib/cron"
)

// Role selects the per-service defaults.
type Role string

const (
	// RoleIssuer is the credential issuance service.
	RoleIssuer Role = "issuer"
	// RoleVerifier is the credential verification service.
	RoleVerifier Role = "verifier"
)

// Config is the configuration shared by both services. One file, one
// flat structure; the issuer and verifier read the same fields and
// ignore what does not apply to them.
type Config struct {
	// Listen is the TCP address the service binds. Every worker
	// binds the same address via SO_REUSEPORT.
	Listen string `yaml:"listen"`

	// Workers is the number of serving processes. 1 means serve
	// in-process without forking a worker cluster.
	Workers int `yaml:"workers"`

	// Store is the SQLite database path.
	Store string `yaml:"store"`

	// PeerURL is the base URL of the other service. Empty disables
	// cross-service sync entirely.
	PeerURL string `yaml:"peer_url"`

	// SyncSecretFile is the path to the shared sync secret ("-" reads
	// stdin). Empty disables sync authentication.
	SyncSecretFile string `yaml:"sync_secret_file"`

	// PushBaseDelay is the base delay for linear push retry backoff:
	// attempt k waits k times this value after the previous failure.
	PushBaseDelay Duration `yaml:"push_base_delay"`

	// ShutdownGrace is how long the supervisor waits for workers to
	// drain after SIGTERM before force-killing them.
	ShutdownGrace Duration `yaml:"shutdown_grace"`

	// ResyncSchedule is an optional 5-field cron expression for
	// periodic catch-up syncs. Verifier only.
	ResyncSchedule string `yaml:"resync_schedule"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "200ms" or "10s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the configuration used before the file loads. The
// role picks the listen port so that an issuer and a verifier with
// empty config files can run side by side on one host.
func Default(role Role) *Config {
	listen := ":8440"
	if role == RoleVerifier {
		listen = ":8441"
	}
	return &Config{
		Listen:        listen,
		Workers:       1,
		Store:         "emblem.db",
		PushBaseDelay: Duration(200 * time.Millisecond),
		ShutdownGrace: Duration(10 * time.Second),
		LogLevel:      "info",
	}
}

// Load loads configuration from the file named by the EMBLEM_CONFIG
// environment variable. There are no fallbacks: if the variable is
// unset, Load fails.
func Load(role Role) (*Config, error) {
	path := os.Getenv("EMBLEM_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("EMBLEM_CONFIG environment variable not set; " +
			"set it to the path of your emblem.yaml config file, or use --config")
	}
	return LoadFile(role, path)
}

// LoadFile loads configuration from a specific file path, applying
// defaults first and ${VAR} expansion before parsing.
func LoadFile(role Role, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default(role)
	expanded := expandVariables(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVariables expands ${VAR} and ${VAR:-default} patterns against
// the process environment. An unset variable without a default
// expands to the empty string.
func expandVariables(text string) string {
	return varPattern.ReplaceAllStringFunc(text, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

var logLevels = []string{"debug", "info", "warn", "error"}

// Validate checks the configuration, collecting every problem rather
// than stopping at the first.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, fmt.Errorf("listen is required"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.Store == "" {
		errs = append(errs, fmt.Errorf("store is required"))
	}
	if c.PeerURL != "" {
		parsed, err := url.Parse(c.PeerURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("peer_url: %w", err))
		} else if parsed.Scheme != "http" && parsed.Scheme != "https" || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("peer_url must be an absolute http(s) URL, got %q", c.PeerURL))
		}
	}
	if c.PushBaseDelay <= 0 {
		errs = append(errs, fmt.Errorf("push_base_delay must be positive"))
	}
	if c.ShutdownGrace <= 0 {
		errs = append(errs, fmt.Errorf("shutdown_grace must be positive"))
	}
	if c.ResyncSchedule != "" {
		if _, err := cron.Parse(c.ResyncSchedule); err != nil {
			errs = append(errs, fmt.Errorf("resync_schedule: %w", err))
		}
	}
	if !slices.Contains(logLevels, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level must be one of %v, got %q", logLevels, c.LogLevel))
	}

	return errors.Join(errs...)
}

// Level maps the configured log level to a slog.Level. Unknown values
// fall back to info; Validate rejects them anyway.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
