// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the relay daemon's configuration.
//
// Configuration comes from a single YAML file named by the
// CHUNKCAST_CONFIG environment variable or the --config flag. There
// is no automatic discovery and environment variables never override
// file values; the only expansion performed is ${HOME} in paths.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the relay daemon configuration.
type Config struct {
	// Listen is the TCP address the relay's broker accepts overlay
	// connections on.
	Listen string `yaml:"listen"`

	// DataDir is where the relay persists manifests, chunks, and its
	// index database.
	DataDir string `yaml:"data_dir"`

	// TopicRoot is the first segment of every overlay topic. All
	// participants of one overlay must agree on it.
	TopicRoot string `yaml:"topic_root"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Retention bounds what the relay keeps on disk.
	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig bounds the relay's disk usage.
type RetentionConfig struct {
	// MaxAge drops objects not updated within this duration. Zero
	// disables age-based eviction.
	MaxAge Duration `yaml:"max_age"`

	// SweepInterval is how often the retention sweep runs. Zero means
	// hourly.
	SweepInterval Duration `yaml:"sweep_interval"`
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "90s" or "48h".
type Duration time.Duration

// UnmarshalYAML accepts either a duration string or a bare integer
// nanosecond count.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar, got %v", value.Kind)
	}
	parsed, err := time.ParseDuration(value.Value)
	if err == nil {
		*d = Duration(parsed)
		return nil
	}
	var nanos int64
	if decodeErr := value.Decode(&nanos); decodeErr == nil {
		*d = Duration(nanos)
		return nil
	}
	return fmt.Errorf("parsing duration %q: %w", value.Value, err)
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when the file omits a field.
func Default() *Config {
	return &Config{
		Listen:    "0.0.0.0:7447",
		DataDir:   "${HOME}/.local/share/chunkcast",
		TopicRoot: "chunkcast",
		LogLevel:  "info",
		Retention: RetentionConfig{
			SweepInterval: Duration(time.Hour),
		},
	}
}

// Load reads the file named by CHUNKCAST_CONFIG. It fails if the
// variable is unset; commands that take a --config flag call
// [LoadFile] directly.
func Load() (*Config, error) {
	path := os.Getenv("CHUNKCAST_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("CHUNKCAST_CONFIG environment variable not set; " +
			"set it to the path of your relay.yaml, or use --config")
	}
	return LoadFile(path)
}

// LoadFile reads and validates the configuration at path, merging it
// over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// expandVariables substitutes ${HOME} in path fields so one config
// file works across machines.
func (c *Config) expandVariables() {
	home := os.Getenv("HOME")
	c.DataDir = strings.ReplaceAll(c.DataDir, "${HOME}", home)
}

// Validate checks field values. Called by LoadFile; exported for
// configs built in code.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.TopicRoot == "" || strings.Contains(c.TopicRoot, "/") {
		return fmt.Errorf("topic_root %q must be a single non-empty topic segment", c.TopicRoot)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.Retention.MaxAge < 0 {
		return fmt.Errorf("retention.max_age must not be negative")
	}
	if c.Retention.SweepInterval < 0 {
		return fmt.Errorf("retention.sweep_interval must not be negative")
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
}
