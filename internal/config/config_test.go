// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env overrides, duration parsing, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

kv:
  backend: "network"
  redis_addr: "localhost:6380"
  key_prefix: "p:"

auth:
  mode: "jwt"
  jwt_secret: "super-secret"

webhook:
  secret: "hook-secret"

speech:
  stt_provider: "openai"
  tts_provider: "stub"
  openai_api_key: "sk-test"

codehost:
  mode: "fixture"

notifications:
  default_provider: "webpush"
  dedupe_window: "120s"

agent:
  dispatch_repo: "octo/agent-tasks"
  default_provider: "github_issue_dispatch"

pending:
  ttl: "90s"
  grace: "30s"

session:
  ttl: "1h"

idempotency:
  window: "5m"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/v1/metrics"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.KV.Backend != "network" {
		t.Errorf("KV.Backend = %q, want %q", cfg.KV.Backend, "network")
	}
	if cfg.KV.RedisAddr != "localhost:6380" {
		t.Errorf("KV.RedisAddr = %q, want %q", cfg.KV.RedisAddr, "localhost:6380")
	}
	if cfg.Auth.Mode != "jwt" {
		t.Errorf("Auth.Mode = %q, want %q", cfg.Auth.Mode, "jwt")
	}
	if cfg.Webhook.Secret != "hook-secret" {
		t.Errorf("Webhook.Secret = %q, want %q", cfg.Webhook.Secret, "hook-secret")
	}
	if cfg.Speech.STTProvider != "openai" {
		t.Errorf("Speech.STTProvider = %q, want %q", cfg.Speech.STTProvider, "openai")
	}
	if cfg.Notifications.DedupeWindow != 120*time.Second {
		t.Errorf("Notifications.DedupeWindow = %v, want %v", cfg.Notifications.DedupeWindow, 120*time.Second)
	}
	if cfg.Agent.DispatchRepo != "octo/agent-tasks" {
		t.Errorf("Agent.DispatchRepo = %q, want %q", cfg.Agent.DispatchRepo, "octo/agent-tasks")
	}
	if cfg.Pending.TTL != 90*time.Second {
		t.Errorf("Pending.TTL = %v, want %v", cfg.Pending.TTL, 90*time.Second)
	}
	if cfg.Pending.Grace != 30*time.Second {
		t.Errorf("Pending.Grace = %v, want %v", cfg.Pending.Grace, 30*time.Second)
	}
	if cfg.Session.TTL != time.Hour {
		t.Errorf("Session.TTL = %v, want %v", cfg.Session.TTL, time.Hour)
	}
	if cfg.Idempotency.Window != 5*time.Minute {
		t.Errorf("Idempotency.Window = %v, want %v", cfg.Idempotency.Window, 5*time.Minute)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.Mode != "dev" {
		t.Errorf("Auth.Mode = %q, want %q", cfg.Auth.Mode, "dev")
	}
	if cfg.KV.Backend != "memory" {
		t.Errorf("KV.Backend = %q, want %q", cfg.KV.Backend, "memory")
	}
	if cfg.Speech.STTProvider != "stub" {
		t.Errorf("Speech.STTProvider = %q, want %q", cfg.Speech.STTProvider, "stub")
	}
	if cfg.Notifications.DedupeWindow != 5*time.Minute {
		t.Errorf("Notifications.DedupeWindow = %v, want %v", cfg.Notifications.DedupeWindow, 5*time.Minute)
	}
	if cfg.Pending.TTL != time.Minute {
		t.Errorf("Pending.TTL = %v, want %v", cfg.Pending.TTL, time.Minute)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = true, want false")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("PERISCOPE_TEST_SECRET", "expanded-secret")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
database:
  path: ":memory:"
webhook:
  secret: "${PERISCOPE_TEST_SECRET}"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Webhook.Secret != "expanded-secret" {
		t.Errorf("Webhook.Secret = %q, want %q", cfg.Webhook.Secret, "expanded-secret")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AUTH_MODE", "api_key")
	t.Setenv("DB_PATH", ":memory:")
	t.Setenv("KV_BACKEND", "network")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("STT_PROVIDER", "openai")
	t.Setenv("NOTIFICATION_PROVIDER_DEFAULT", "fcm")
	t.Setenv("METRICS_ENABLED", "true")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	configContent := `
auth:
  mode: "dev"
  api_keys:
    k1: "alice"
database:
  path: "./file.db"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.Mode != "api_key" {
		t.Errorf("Auth.Mode = %q, want %q (env override)", cfg.Auth.Mode, "api_key")
	}
	if cfg.Database.Path != ":memory:" {
		t.Errorf("Database.Path = %q, want %q (env override)", cfg.Database.Path, ":memory:")
	}
	if !cfg.TestMode() {
		t.Error("TestMode() = false, want true for :memory:")
	}
	if cfg.KV.Backend != "network" {
		t.Errorf("KV.Backend = %q, want %q", cfg.KV.Backend, "network")
	}
	if cfg.KV.RedisAddr != "redis:6379" {
		t.Errorf("KV.RedisAddr = %q, want %q", cfg.KV.RedisAddr, "redis:6379")
	}
	if cfg.Speech.STTProvider != "openai" {
		t.Errorf("Speech.STTProvider = %q, want %q", cfg.Speech.STTProvider, "openai")
	}
	if cfg.Notifications.DefaultProvider != "fcm" {
		t.Errorf("Notifications.DefaultProvider = %q, want %q", cfg.Notifications.DefaultProvider, "fcm")
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	configContent := `
database:
  path: ":memory:"
pending:
  ttl: "not-a-duration"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() error = nil, want duration parse error")
	}
	if !strings.Contains(err.Error(), "pending.ttl") {
		t.Errorf("error %q does not name the failing field", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad auth mode",
			mutate:  func(c *Config) { c.Auth.Mode = "oauth" },
			wantErr: "auth.mode",
		},
		{
			name:    "jwt without secret",
			mutate:  func(c *Config) { c.Auth.Mode = "jwt" },
			wantErr: "jwt_secret",
		},
		{
			name:    "api_key without keys",
			mutate:  func(c *Config) { c.Auth.Mode = "api_key" },
			wantErr: "api_keys",
		},
		{
			name:    "bad kv backend",
			mutate:  func(c *Config) { c.KV.Backend = "etcd" },
			wantErr: "kv.backend",
		},
		{
			name:    "live codehost without token",
			mutate:  func(c *Config) { c.Codehost.Mode = "live" },
			wantErr: "codehost.token",
		},
		{
			name:    "bad notification provider",
			mutate:  func(c *Config) { c.Notifications.DefaultProvider = "smoke-signal" },
			wantErr: "default_provider",
		},
		{
			name: "issue dispatch without repo",
			mutate: func(c *Config) {
				c.Agent.DefaultProvider = "github_issue_dispatch"
				c.Agent.DispatchRepo = ""
			},
			wantErr: "dispatch_repo",
		},
		{
			name:    "empty database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}
