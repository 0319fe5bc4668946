// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadLayersFileOverEnvOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "outrider.yaml")
	body := []byte("device:\n  language: hi\nserver:\n  port: 9000\ndetection:\n  speed_limit_kmh: 50\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("OUTRIDER_SERVER_PORT", "9100")
	t.Setenv("OUTRIDER_DIALOGUE_TIMEOUT", "8s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Device.Language != "hi" {
		t.Errorf("language = %s, want hi (file layer)", cfg.Device.Language)
	}
	if cfg.Detection.SpeedLimitKmh != 50 {
		t.Errorf("speed limit = %v, want 50 (file layer)", cfg.Detection.SpeedLimitKmh)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want 9100 (env beats file)", cfg.Server.Port)
	}
	if cfg.Dialogue.Timeout != 8*time.Second {
		t.Errorf("dialogue timeout = %v, want 8s (env layer)", cfg.Dialogue.Timeout)
	}
	if cfg.Detection.IdleAfter != 5*time.Minute {
		t.Errorf("idle after = %v, want default 5m", cfg.Detection.IdleAfter)
	}
}

func TestLoadCORSOriginsFromEnv(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("OUTRIDER_SERVER_CORS_ORIGINS", "http://localhost:3000, http://127.0.0.1:3000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Server.CORSOrigins) != 2 {
		t.Fatalf("cors origins = %v, want 2 entries", cfg.Server.CORSOrigins)
	}
	if cfg.Server.CORSOrigins[0] != "http://localhost:3000" {
		t.Errorf("origin[0] = %s", cfg.Server.CORSOrigins[0])
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unsupported language", func(c *Config) { c.Device.Language = "fr" }},
		{"missing data dir", func(c *Config) { c.Device.DataDir = "" }},
		{"zero speed limit", func(c *Config) { c.Detection.SpeedLimitKmh = 0 }},
		{"timeout under delay", func(c *Config) { c.Dialogue.Timeout = 100 * time.Millisecond }},
		{"remote sync without nats", func(c *Config) { c.Memory.RemoteSync = true }},
		{"bad nats scheme", func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "http://x" }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"weather poll too fast", func(c *Config) { c.Weather.PollInterval = time.Second }},
		{"webhook without url", func(c *Config) { c.Notify.Webhook.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"OUTRIDER_SERVER_PORT", "server.port"},
		{"OUTRIDER_SAMPLER_MAX_FIX_AGE_SECONDS", "sampler.max_fix_age_seconds"},
		{"OUTRIDER_DEVICE_LANGUAGE", "device.language"},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
