// Package config handles configuration loading for periscope.
//
// # Overview
//
// Configuration starts from defaults, overlays an optional YAML file, and
// finally overlays a small set of recognized flat environment variables so
// a container deployment needs no file at all.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	webhook:
//	  secret: "${PERISCOPE_WEBHOOK_SECRET}"
//
// # Recognized environment overrides
//
// AUTH_MODE, JWT_SECRET, WEBHOOK_SECRET, STT_PROVIDER, TTS_PROVIDER,
// OPENAI_API_KEY, CODEHOST_MODE, CODEHOST_TOKEN, DB_PATH, KV_BACKEND,
// REDIS_ADDR, NOTIFICATION_PROVIDER_DEFAULT, AGENT_DISPATCH_REPO,
// AGENT_DEFAULT_PROVIDER, METRICS_ENABLED, HTTP_ADDR.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	pending:
//	  ttl: "2m"
//	  grace: "1m"
//	session:
//	  ttl: "30m"
//	idempotency:
//	  window: "10m"
//	notifications:
//	  dedupe_window: "300s"
//
// # Test mode
//
// DB_PATH=":memory:" mandates test mode; Config.TestMode reports it.
//
// # Usage
//
//	cfg, err := config.Load(os.Getenv("PERISCOPE_CONFIG"))
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
