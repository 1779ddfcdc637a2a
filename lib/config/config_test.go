// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: "127.0.0.1:9000"
log_level: debug
retention:
  max_age: 48h
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9000" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.TopicRoot != "chunkcast" {
		t.Errorf("TopicRoot = %q, want default", cfg.TopicRoot)
	}
	if cfg.Retention.MaxAge.Std() != 48*time.Hour {
		t.Errorf("MaxAge = %v", cfg.Retention.MaxAge)
	}
	if cfg.Retention.SweepInterval.Std() != time.Hour {
		t.Errorf("SweepInterval = %v, want default hour", cfg.Retention.SweepInterval)
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		t.Fatalf("SlogLevel: %v", err)
	}
	if level != slog.LevelDebug {
		t.Errorf("SlogLevel = %v", level)
	}
}

func TestLoadFileExpandsHome(t *testing.T) {
	t.Setenv("HOME", "/home/relay")
	path := writeConfig(t, `data_dir: "${HOME}/cast"`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.DataDir != "/home/relay/cast" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Listen = "" }},
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"multi-segment topic root", func(c *Config) { c.TopicRoot = "a/b" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }},
		{"negative max age", func(c *Config) { c.Retention.MaxAge = Duration(-time.Hour) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.expandVariables()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
		})
	}
}

func TestLoadRequiresEnvironment(t *testing.T) {
	t.Setenv("CHUNKCAST_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load without CHUNKCAST_CONFIG should fail")
	}
}
