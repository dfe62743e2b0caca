// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/unread/lib/ref"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "BUREAU_UNREAD_CONFIG"

// ErrNoConfig is returned by Load when EnvironmentVariable is unset.
var ErrNoConfig = errors.New("config: " + EnvironmentVariable +
	" environment variable not set; set it to the path of your config file, or use --config")

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the complete bureau-unread configuration.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Matrix configures the homeserver connection.
	Matrix MatrixConfig `yaml:"matrix"`

	// Cache configures the on-disk state cache.
	Cache CacheConfig `yaml:"cache"`

	// Feed configures the websocket badge feed.
	Feed FeedConfig `yaml:"feed"`

	// Fixture configures offline mode.
	Fixture FixtureConfig `yaml:"fixture"`

	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// Per-environment overrides, applied after the base config is
	// loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains the sections that can be overridden per
// environment. Only non-empty fields override.
type ConfigOverrides struct {
	Matrix  *MatrixConfig  `yaml:"matrix,omitempty"`
	Cache   *CacheConfig   `yaml:"cache,omitempty"`
	Feed    *FeedConfig    `yaml:"feed,omitempty"`
	Logging *LoggingConfig `yaml:"logging,omitempty"`
}

// MatrixConfig configures the homeserver connection.
type MatrixConfig struct {
	// HomeserverURL is the base URL of the homeserver
	// (e.g., https://matrix.example.org).
	HomeserverURL string `yaml:"homeserver_url"`

	// UserID is the account whose unread state is tracked.
	UserID string `yaml:"user_id"`

	// TokenFile holds the access token. It must not be readable by
	// group or others. "-" reads the token from stdin.
	TokenFile string `yaml:"token_file"`

	// SyncTimeout is the long-poll hold requested from the server.
	// Default: 30s
	SyncTimeout string `yaml:"sync_timeout"`

	// FilterTimelineLimit caps timeline events per room per /sync
	// response. Default: 20
	FilterTimelineLimit int `yaml:"filter_timeline_limit"`
}

// CacheConfig configures the on-disk state cache.
type CacheConfig struct {
	// Path is the cache file. Empty disables the cache.
	// Default: ${XDG_STATE_HOME:-${HOME}/.local/state}/bureau-unread/state.bunc
	Path string `yaml:"path"`

	// Compression is one of none, lz4, zstd. Default: zstd
	Compression string `yaml:"compression"`
}

// FeedConfig configures the websocket badge feed.
type FeedConfig struct {
	// Listen is the TCP address to serve the feed on. Empty disables
	// the feed.
	Listen string `yaml:"listen"`

	// OriginPatterns lists extra origins allowed to connect from a
	// browser.
	OriginPatterns []string `yaml:"origin_patterns"`

	// BufferSize is the number of queued messages after which a
	// subscriber is dropped. Default: 64
	BufferSize int `yaml:"buffer_size"`
}

// FixtureConfig configures offline mode.
type FixtureConfig struct {
	// Path is a JSONC fixture file. When set, the daemon reads the
	// room hierarchy from it instead of a homeserver.
	Path string `yaml:"path"`

	// Watch re-applies the fixture whenever the file changes.
	Watch bool `yaml:"watch"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string `yaml:"level"`

	// Format is one of auto, text, json. Auto selects text when
	// stderr is a terminal and JSON otherwise. Default: auto
	Format string `yaml:"format"`
}

var (
	compressionValues = []string{"none", "lz4", "zstd"}
	levelValues       = []string{"debug", "info", "warn", "error"}
	formatValues      = []string{"auto", "text", "json"}
)

// Default returns the default configuration, used as the base before
// loading the config file.
func Default() *Config {
	return &Config{
		Environment: Development,
		Matrix: MatrixConfig{
			SyncTimeout:         "30s",
			FilterTimelineLimit: 20,
		},
		Cache: CacheConfig{
			Path:        "${XDG_STATE_HOME:-${HOME}/.local/state}/bureau-unread/state.bunc",
			Compression: "zstd",
		},
		Feed: FeedConfig{
			BufferSize: 64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads configuration from the file named by
// BUREAU_UNREAD_CONFIG. It returns ErrNoConfig when the variable is
// unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, ErrNoConfig
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, applies the
// overrides for the configured environment, and expands variables in
// path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: machine-readable logs.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Logging: &LoggingConfig{Format: "json"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Matrix != nil {
		override(&c.Matrix.HomeserverURL, overrides.Matrix.HomeserverURL)
		override(&c.Matrix.UserID, overrides.Matrix.UserID)
		override(&c.Matrix.TokenFile, overrides.Matrix.TokenFile)
		override(&c.Matrix.SyncTimeout, overrides.Matrix.SyncTimeout)
		override(&c.Matrix.FilterTimelineLimit, overrides.Matrix.FilterTimelineLimit)
	}
	if overrides.Cache != nil {
		override(&c.Cache.Path, overrides.Cache.Path)
		override(&c.Cache.Compression, overrides.Cache.Compression)
	}
	if overrides.Feed != nil {
		override(&c.Feed.Listen, overrides.Feed.Listen)
		override(&c.Feed.BufferSize, overrides.Feed.BufferSize)
		if len(overrides.Feed.OriginPatterns) > 0 {
			c.Feed.OriginPatterns = overrides.Feed.OriginPatterns
		}
	}
	if overrides.Logging != nil {
		override(&c.Logging.Level, overrides.Logging.Level)
		override(&c.Logging.Format, overrides.Logging.Format)
	}
}

// override replaces *field with value unless value is the zero value.
func override[T comparable](field *T, value T) {
	var zero T
	if value != zero {
		*field = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// path fields.
func (c *Config) expandVariables() {
	c.Matrix.TokenFile = expandVars(c.Matrix.TokenFile)
	c.Cache.Path = expandVars(c.Cache.Path)
	c.Fixture.Path = expandVars(c.Fixture.Path)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-((?:[^{}]|\{[^{}]*\})*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns from the
// process environment. A default may itself contain one level of
// ${VAR} references.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if parts[2] == "" {
			return ""
		}
		return expandVars(parts[2])
	})
}

// Validate checks the configuration for errors. Either a fixture path
// or a complete matrix section is required.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Fixture.Path == "" {
		if c.Matrix.HomeserverURL == "" {
			errs = append(errs, errors.New("matrix.homeserver_url is required (or set fixture.path)"))
		} else if parsed, err := url.Parse(c.Matrix.HomeserverURL); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			errs = append(errs, fmt.Errorf("matrix.homeserver_url must be an http or https URL, got %q", c.Matrix.HomeserverURL))
		}
		if c.Matrix.UserID == "" {
			errs = append(errs, errors.New("matrix.user_id is required (or set fixture.path)"))
		} else if _, err := ref.ParseUserID(c.Matrix.UserID); err != nil {
			errs = append(errs, fmt.Errorf("matrix.user_id: %w", err))
		}
		if c.Matrix.TokenFile == "" {
			errs = append(errs, errors.New("matrix.token_file is required (or set fixture.path)"))
		}
	}
	if _, err := time.ParseDuration(c.Matrix.SyncTimeout); err != nil {
		errs = append(errs, fmt.Errorf("matrix.sync_timeout: %w", err))
	}
	if c.Matrix.FilterTimelineLimit < 0 {
		errs = append(errs, errors.New("matrix.filter_timeline_limit must not be negative"))
	}

	if !slices.Contains(compressionValues, c.Cache.Compression) {
		errs = append(errs, fmt.Errorf("cache.compression must be one of: %v", compressionValues))
	}
	if c.Feed.BufferSize < 0 {
		errs = append(errs, errors.New("feed.buffer_size must not be negative"))
	}
	if !slices.Contains(levelValues, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: %v", levelValues))
	}
	if !slices.Contains(formatValues, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: %v", formatValues))
	}

	return errors.Join(errs...)
}

// PollTimeout returns the parsed sync_timeout, or 30s when it does
// not parse.
func (m MatrixConfig) PollTimeout() time.Duration {
	timeout, err := time.ParseDuration(m.SyncTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return timeout
}

// SlogLevel returns the configured level for log/slog.
func (l LoggingConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// EnsureCacheDirectory creates the directory holding the cache file.
// It does nothing when the cache is disabled.
func (c *Config) EnsureCacheDirectory() error {
	if c.Cache.Path == "" {
		return nil
	}
	directory := filepath.Dir(c.Cache.Path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("config: creating %s: %w", directory, err)
	}
	return nil
}
