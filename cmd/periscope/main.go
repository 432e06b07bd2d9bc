// ABOUTME: Entry point for the periscope assistant server
// ABOUTME: Wires config, stores, pipelines, and the HTTP surface

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/periscope-dev/periscope/internal/agenttask"
	"github.com/periscope-dev/periscope/internal/api"
	"github.com/periscope-dev/periscope/internal/auth"
	"github.com/periscope-dev/periscope/internal/codehost"
	"github.com/periscope-dev/periscope/internal/command"
	"github.com/periscope-dev/periscope/internal/config"
	"github.com/periscope-dev/periscope/internal/handlers"
	"github.com/periscope-dev/periscope/internal/kv"
	"github.com/periscope-dev/periscope/internal/notify"
	"github.com/periscope-dev/periscope/internal/pending"
	"github.com/periscope-dev/periscope/internal/push"
	"github.com/periscope-dev/periscope/internal/session"
	"github.com/periscope-dev/periscope/internal/speech"
	"github.com/periscope-dev/periscope/internal/store"
	"github.com/periscope-dev/periscope/internal/webhook"
)

// version is set at build time.
var version = "dev"

const banner = `
                 _
 _ __   ___ _ __(_)___  ___ ___  _ __   ___
| '_ \ / _ \ '__| / __|/ __/ _ \| '_ \ / _ \
| |_) |  __/ |  | \__ \ (_| (_) | |_) |  __/
| .__/ \___|_|  |_|___/\___\___/| .__/ \___|
|_|                             |_|
`

// getConfigPath resolves the config file location.
// Priority: PERISCOPE_CONFIG env var > XDG_CONFIG_HOME/periscope/periscope.yaml
// > ~/.config/periscope/periscope.yaml.
func getConfigPath() string {
	if envPath := os.Getenv("PERISCOPE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "periscope.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "periscope", "periscope.yaml")
}

// resolveConfigPath returns the config path, or empty when no file exists
// so defaults plus environment overrides apply.
func resolveConfigPath() string {
	path := getConfigPath()
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: periscope <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the assistant server")
		fmt.Println("  health    Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	configPath := resolveConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	shownPath := configPath
	if shownPath == "" {
		shownPath = "(defaults)"
	}
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", shownPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Auth:     %s\n", cfg.Auth.Mode)
	green.Print("    ▶ ")
	fmt.Printf("Codehost: %s\n", cfg.Codehost.Mode)
	fmt.Println()

	logger.Info("starting periscope",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"db", cfg.Database.Path,
		"kv_backend", cfg.KV.Backend,
	)

	// Persistence.
	var st store.Store
	if cfg.TestMode() {
		st = store.NewMemoryStore()
	} else {
		sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		st = sqlStore
	}
	defer st.Close()

	kvStore := buildKV(cfg, logger)
	defer kvStore.Close()

	// Shared substrate.
	sessions := session.NewStore(kvStore, cfg.Session.TTL)
	pendings := pending.NewManager(kvStore, cfg.Pending.Grace)

	registry := push.NewRegistry()
	if cfg.Notifications.DefaultProvider != "logger" {
		httpProvider := push.NewHTTPProvider()
		for _, platform := range []string{"apns", "fcm", "webpush"} {
			registry.Register(platform, httpProvider)
		}
	}
	notifier := notify.NewService(st, st, registry, cfg.Notifications.DedupeWindow)

	// Code host.
	var host codehost.Client
	if cfg.Codehost.Mode == "live" {
		host = codehost.NewGitHub(cfg.Codehost.Token)
	} else {
		host = codehost.NewFixture()
	}

	// Agent tasks.
	tasks := agenttask.NewService(st, notifier, sessions, cfg.Agent.DispatchRepo)
	tasks.RegisterProvider(agenttask.MockProvider{})
	tasks.RegisterProvider(agenttask.NewIssueDispatchProvider(host, cfg.Agent.DispatchRepo))

	// Speech.
	var stt speech.STT = speech.StubSTT{}
	var tts speech.TTS = speech.StubTTS{}
	if cfg.Speech.STTProvider == "openai" {
		stt = speech.NewOpenAISTT(cfg.Speech.OpenAIAPIKey)
	}
	if cfg.Speech.TTSProvider == "openai" {
		tts = speech.NewOpenAITTS(cfg.Speech.OpenAIAPIKey)
	}

	// Command pipeline.
	router := command.NewRouter(pendings, sessions, stt, kvStore, cfg.Idempotency.Window, cfg.Pending.TTL)
	handlers.RegisterAll(router, &handlers.Deps{
		Codehost:        host,
		Policies:        st,
		Tasks:           tasks,
		TaskRows:        st,
		Sessions:        sessions,
		DefaultProvider: cfg.Agent.DefaultProvider,
	})

	// Webhook pipeline, with the crash-recovery scan before serving.
	ingestor := webhook.NewIngestor(st, st, notifier, tasks, sessions, cfg.Webhook.Secret)
	if err := ingestor.RecoverUnprocessed(ctx, 500); err != nil {
		logger.Error("recovering unprocessed events", "error", err)
	}

	authenticator, err := buildAuthenticator(cfg)
	if err != nil {
		return err
	}

	server := api.NewServer(router, ingestor, st, authenticator, tts, api.Options{
		DevMode:        cfg.Auth.Mode == "dev",
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
		Version:        version,
		STTProvider:    cfg.Speech.STTProvider,
		TTSProvider:    cfg.Speech.TTSProvider,
		AuthMode:       cfg.Auth.Mode,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// buildKV selects the TTL KV backend. The network variant is wrapped in
// the degrading fallback so a Redis outage slows nothing down.
func buildKV(cfg *config.Config, logger *slog.Logger) kv.KV {
	if cfg.KV.Backend == "network" {
		redisKV := kv.NewRedis(kv.RedisOptions{
			Addr:     cfg.KV.RedisAddr,
			Password: cfg.KV.RedisPassword,
			Prefix:   cfg.KV.KeyPrefix,
		})
		logger.Info("using network kv", "addr", cfg.KV.RedisAddr)
		return kv.NewFallback(redisKV)
	}
	return kv.NewMemory()
}

func buildAuthenticator(cfg *config.Config) (auth.Authenticator, error) {
	switch cfg.Auth.Mode {
	case "dev":
		return auth.NewDevAuthenticator(), nil
	case "jwt":
		if cfg.Auth.JWTSecret == "" {
			return nil, fmt.Errorf("auth mode jwt requires a jwt_secret")
		}
		return auth.NewJWTAuthenticator([]byte(cfg.Auth.JWTSecret)), nil
	case "api_key":
		if len(cfg.Auth.APIKeys) == 0 {
			return nil, fmt.Errorf("auth mode api_key requires api_keys")
		}
		return auth.NewAPIKeyAuthenticator(cfg.Auth.APIKeys), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&colorHandler{level: level})
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{level: h.level, attrs: newAttrs, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{level: h.level, attrs: h.attrs, groups: newGroups}
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", strings.TrimPrefix(cfg.Server.HTTPAddr, "http://"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	fmt.Println("healthy")
	return nil
}
