// ABOUTME: HTTP server wiring: routes, middleware, and shared JSON helpers
// ABOUTME: Maps response error kinds onto HTTP status codes

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/periscope-dev/periscope/internal/auth"
	"github.com/periscope-dev/periscope/internal/command"
	"github.com/periscope-dev/periscope/internal/metrics"
	"github.com/periscope-dev/periscope/internal/speech"
	"github.com/periscope-dev/periscope/internal/store"
	"github.com/periscope-dev/periscope/internal/webhook"
)

// Server is the HTTP surface over the command, webhook, and notification
// pipelines.
type Server struct {
	router   *command.Router
	ingestor *webhook.Ingestor
	store    store.Store
	auth     auth.Authenticator
	tts      speech.TTS

	// devMode enables the webhook retry and dev audio endpoints.
	devMode        bool
	metricsEnabled bool
	metricsPath    string

	version     string
	sttProvider string
	ttsProvider string
	authMode    string

	logger *slog.Logger
}

// Options configures optional server behavior and what /v1/status reports.
type Options struct {
	DevMode        bool
	MetricsEnabled bool
	MetricsPath    string
	Version        string
	STTProvider    string
	TTSProvider    string
	AuthMode       string
}

// NewServer wires the HTTP surface.
func NewServer(router *command.Router, ingestor *webhook.Ingestor, st store.Store, authenticator auth.Authenticator, tts speech.TTS, opts Options) *Server {
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/v1/metrics"
	}
	return &Server{
		router:         router,
		ingestor:       ingestor,
		store:          st,
		auth:           authenticator,
		tts:            tts,
		devMode:        opts.DevMode,
		metricsEnabled: opts.MetricsEnabled,
		metricsPath:    opts.MetricsPath,
		version:        opts.Version,
		sttProvider:    opts.STTProvider,
		ttsProvider:    opts.TTSProvider,
		authMode:       opts.AuthMode,
		logger:         slog.Default().With("component", "api"),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/command", s.authed(s.handleCommand))
	mux.HandleFunc("POST /v1/commands/confirm", s.authed(s.handleConfirm))
	mux.HandleFunc("POST /v1/tts", s.authed(s.handleTTS))

	mux.HandleFunc("POST /v1/webhooks/github", s.handleGitHubWebhook)

	mux.HandleFunc("GET /v1/notifications", s.authed(s.handleListNotifications))
	mux.HandleFunc("GET /v1/notifications/{id}", s.authed(s.handleGetNotification))
	mux.HandleFunc("POST /v1/notifications/{id}/read", s.authed(s.handleMarkRead))

	mux.HandleFunc("GET /v1/notifications/subscriptions", s.authed(s.handleListPushSubscriptions))
	mux.HandleFunc("POST /v1/notifications/subscriptions", s.authed(s.handleCreatePushSubscription))
	mux.HandleFunc("DELETE /v1/notifications/subscriptions/{id}", s.authed(s.handleDeletePushSubscription))

	mux.HandleFunc("GET /v1/repos/subscriptions", s.authed(s.handleListRepoSubscriptions))
	mux.HandleFunc("POST /v1/repos/subscriptions", s.authed(s.handleCreateRepoSubscription))
	mux.HandleFunc("DELETE /v1/repos/subscriptions/{repo...}", s.authed(s.handleDeleteRepoSubscription))

	mux.HandleFunc("GET /v1/policies/repos", s.authed(s.handleGetRepoPolicy))
	mux.HandleFunc("PUT /v1/policies/repos", s.authed(s.handleSetRepoPolicy))

	mux.HandleFunc("GET /v1/tasks", s.authed(s.handleListTasks))
	mux.HandleFunc("GET /v1/tasks/{id}", s.authed(s.handleGetTask))

	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleHealth)

	if s.devMode {
		mux.HandleFunc("POST /v1/webhooks/retry/{event_id}", s.handleWebhookRetry)
		mux.HandleFunc("POST /v1/dev/audio", s.authed(s.handleDevAudio))
	}
	if s.metricsEnabled {
		mux.Handle("GET "+s.metricsPath, metrics.Handler())
	}

	return s.withRequestID(mux)
}

// withRequestID stamps every response with a request id and logs the
// request line.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method, "path", r.URL.Path,
			"request_id", requestID, "elapsed", time.Since(start))
	})
}

// authed wraps a handler with authentication, passing the user id through.
func (s *Server) authed(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.auth.Authenticate(r)
		if err != nil {
			if !errors.Is(err, auth.ErrUnauthenticated) {
				s.logger.Warn("authentication error", "error", err)
			}
			s.jsonError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		next(w, r, userID)
	}
}

// statusForKind maps response error kinds onto HTTP status codes.
func statusForKind(kind command.Kind) int {
	switch kind {
	case command.KindValidation:
		return http.StatusBadRequest
	case command.KindAuth:
		return http.StatusUnauthorized
	case command.KindForbidden:
		return http.StatusForbidden
	case command.KindNotFound:
		return http.StatusNotFound
	case command.KindConflict:
		return http.StatusConflict
	case command.KindRateLimited:
		return http.StatusTooManyRequests
	case command.KindTimeout:
		return http.StatusGatewayTimeout
	case command.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatusResponse is the JSON response for GET /v1/status.
type StatusResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	STTProvider string `json:"stt_provider"`
	TTSProvider string `json:"tts_provider"`
	AuthMode    string `json:"auth_mode"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, StatusResponse{
		Status:      "ok",
		Version:     s.version,
		STTProvider: s.sttProvider,
		TTSProvider: s.ttsProvider,
		AuthMode:    s.authMode,
	})
}
