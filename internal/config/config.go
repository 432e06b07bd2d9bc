// ABOUTME: Configuration loading and parsing for periscope
// ABOUTME: YAML files with env var expansion, plus a recognized env override set

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete periscope configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	KV            KVConfig            `yaml:"kv"`
	Auth          AuthConfig          `yaml:"auth"`
	Webhook       WebhookConfig       `yaml:"webhook"`
	Speech        SpeechConfig        `yaml:"speech"`
	Codehost      CodehostConfig      `yaml:"codehost"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Agent         AgentConfig         `yaml:"agent"`
	Pending       PendingConfig       `yaml:"pending"`
	Session       SessionConfig       `yaml:"session"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds SQLite configuration. Path ":memory:" runs fully
// in memory and mandates test mode.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// KVConfig selects the TTL key-value backend
type KVConfig struct {
	Backend       string `yaml:"backend"` // memory | network
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	KeyPrefix     string `yaml:"key_prefix"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Mode      string            `yaml:"mode"` // dev | jwt | api_key
	JWTSecret string            `yaml:"jwt_secret"`
	APIKeys   map[string]string `yaml:"api_keys"` // key -> user id
}

// WebhookConfig holds webhook ingestion configuration
type WebhookConfig struct {
	// Secret signs inbound deliveries. When empty, the literal signature
	// "dev" is accepted as a bypass.
	Secret string `yaml:"secret"`
}

// SpeechConfig selects the STT and TTS providers
type SpeechConfig struct {
	STTProvider  string `yaml:"stt_provider"` // stub | openai
	TTSProvider  string `yaml:"tts_provider"` // stub | openai
	OpenAIAPIKey string `yaml:"openai_api_key"`
}

// CodehostConfig selects the code-host client
type CodehostConfig struct {
	Mode  string `yaml:"mode"` // fixture | live
	Token string `yaml:"token"`
}

// NotificationsConfig holds notification pipeline configuration
type NotificationsConfig struct {
	DefaultProvider string        `yaml:"default_provider"` // logger | apns | fcm | webpush
	DedupeWindow    time.Duration `yaml:"-"`

	DedupeWindowRaw string `yaml:"dedupe_window"`
}

// AgentConfig holds agent task dispatch configuration
type AgentConfig struct {
	DispatchRepo    string `yaml:"dispatch_repo"`
	DefaultProvider string `yaml:"default_provider"` // mock | github_issue_dispatch
}

// PendingConfig holds pending-action token configuration
type PendingConfig struct {
	TTL   time.Duration `yaml:"-"`
	Grace time.Duration `yaml:"-"`

	TTLRaw   string `yaml:"ttl"`
	GraceRaw string `yaml:"grace"`
}

// SessionConfig holds session context configuration
type SessionConfig struct {
	TTL time.Duration `yaml:"-"`

	TTLRaw string `yaml:"ttl"`
}

// IdempotencyConfig holds the command idempotency window
type IdempotencyConfig struct {
	Window time.Duration `yaml:"-"`

	WindowRaw string `yaml:"window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a configuration with all defaults applied and no file
// or environment input.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: ":8080"},
		Database: DatabaseConfig{Path: "periscope.db"},
		KV:       KVConfig{Backend: "memory", RedisAddr: "localhost:6379", KeyPrefix: "periscope:"},
		Auth:     AuthConfig{Mode: "dev"},
		Speech:   SpeechConfig{STTProvider: "stub", TTSProvider: "stub"},
		Codehost: CodehostConfig{Mode: "fixture"},
		Notifications: NotificationsConfig{
			DefaultProvider: "logger",
			DedupeWindow:    5 * time.Minute,
		},
		Agent:       AgentConfig{DefaultProvider: "mock"},
		Pending:     PendingConfig{TTL: time.Minute, Grace: time.Minute},
		Session:     SessionConfig{TTL: 30 * time.Minute},
		Idempotency: IdempotencyConfig{Window: 10 * time.Minute},
		Logging:     LoggingConfig{Level: "info", Format: "text"},
		Metrics:     MetricsConfig{Enabled: false, Path: "/v1/metrics"},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// the recognized environment overrides, in that order. Environment
// variables inside the YAML in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		expandedData := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// TestMode reports whether the configuration mandates test mode. A
// ":memory:" database cannot survive a restart, so it is never valid in
// production.
func (c *Config) TestMode() bool {
	return c.Database.Path == ":memory:"
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides overlays the recognized flat environment variables on
// top of file values. These exist so a container deployment needs no file.
func applyEnvOverrides(cfg *Config) {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	setString(&cfg.Auth.Mode, "AUTH_MODE")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Webhook.Secret, "WEBHOOK_SECRET")
	setString(&cfg.Speech.STTProvider, "STT_PROVIDER")
	setString(&cfg.Speech.TTSProvider, "TTS_PROVIDER")
	setString(&cfg.Speech.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.Codehost.Mode, "CODEHOST_MODE")
	setString(&cfg.Codehost.Token, "CODEHOST_TOKEN")
	setString(&cfg.Database.Path, "DB_PATH")
	setString(&cfg.KV.Backend, "KV_BACKEND")
	setString(&cfg.KV.RedisAddr, "REDIS_ADDR")
	setString(&cfg.Notifications.DefaultProvider, "NOTIFICATION_PROVIDER_DEFAULT")
	setString(&cfg.Agent.DispatchRepo, "AGENT_DISPATCH_REPO")
	setString(&cfg.Agent.DefaultProvider, "AGENT_DEFAULT_PROVIDER")

	if v, ok := os.LookupEnv("METRICS_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	setString(&cfg.Server.HTTPAddr, "HTTP_ADDR")
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	switch c.Auth.Mode {
	case "dev", "jwt", "api_key":
	default:
		return fmt.Errorf("auth.mode must be dev, jwt, or api_key, got %q", c.Auth.Mode)
	}
	if c.Auth.Mode == "jwt" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth.mode is jwt")
	}
	if c.Auth.Mode == "api_key" && len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth.api_keys is required when auth.mode is api_key")
	}

	switch c.KV.Backend {
	case "memory", "network":
	default:
		return fmt.Errorf("kv.backend must be memory or network, got %q", c.KV.Backend)
	}
	if c.KV.Backend == "network" && c.KV.RedisAddr == "" {
		return fmt.Errorf("kv.redis_addr is required when kv.backend is network")
	}

	switch c.Speech.STTProvider {
	case "stub", "openai":
	default:
		return fmt.Errorf("speech.stt_provider must be stub or openai, got %q", c.Speech.STTProvider)
	}
	switch c.Speech.TTSProvider {
	case "stub", "openai":
	default:
		return fmt.Errorf("speech.tts_provider must be stub or openai, got %q", c.Speech.TTSProvider)
	}

	switch c.Codehost.Mode {
	case "fixture", "live":
	default:
		return fmt.Errorf("codehost.mode must be fixture or live, got %q", c.Codehost.Mode)
	}
	if c.Codehost.Mode == "live" && c.Codehost.Token == "" {
		return fmt.Errorf("codehost.token is required when codehost.mode is live")
	}

	switch c.Notifications.DefaultProvider {
	case "logger", "apns", "fcm", "webpush":
	default:
		return fmt.Errorf("notifications.default_provider must be logger, apns, fcm, or webpush, got %q",
			c.Notifications.DefaultProvider)
	}

	switch c.Agent.DefaultProvider {
	case "mock", "github_issue_dispatch":
	default:
		return fmt.Errorf("agent.default_provider must be mock or github_issue_dispatch, got %q",
			c.Agent.DefaultProvider)
	}
	if c.Agent.DefaultProvider == "github_issue_dispatch" && c.Agent.DispatchRepo == "" {
		return fmt.Errorf("agent.dispatch_repo is required when agent.default_provider is github_issue_dispatch")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	parse := func(raw string, dst *time.Duration, field string) error {
		if raw == "" {
			return nil
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", field, raw, err)
		}
		*dst = d
		return nil
	}

	if err := parse(cfg.Notifications.DedupeWindowRaw, &cfg.Notifications.DedupeWindow, "notifications.dedupe_window"); err != nil {
		return err
	}
	if err := parse(cfg.Pending.TTLRaw, &cfg.Pending.TTL, "pending.ttl"); err != nil {
		return err
	}
	if err := parse(cfg.Pending.GraceRaw, &cfg.Pending.Grace, "pending.grace"); err != nil {
		return err
	}
	if err := parse(cfg.Session.TTLRaw, &cfg.Session.TTL, "session.ttl"); err != nil {
		return err
	}
	if err := parse(cfg.Idempotency.WindowRaw, &cfg.Idempotency.Window, "idempotency.window"); err != nil {
		return err
	}

	return nil
}
