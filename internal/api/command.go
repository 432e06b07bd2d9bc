// ABOUTME: Command, confirm, TTS, and dev-audio endpoints
// ABOUTME: The command endpoint is the mobile client's main entry point

package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/periscope-dev/periscope/internal/command"
	"github.com/periscope-dev/periscope/internal/metrics"
	"github.com/periscope-dev/periscope/internal/pending"
)

// ClientContext carries per-request client state for POST /v1/command.
type ClientContext struct {
	SessionID string `json:"session_id"`
	Debug     bool   `json:"debug,omitempty"`
}

// CommandRequest is the JSON request body for POST /v1/command.
type CommandRequest struct {
	Input          command.Input `json:"input"`
	Profile        string        `json:"profile,omitempty"`
	ClientContext  ClientContext `json:"client_context"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request, userID string) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ClientContext.SessionID == "" {
		s.jsonError(w, http.StatusBadRequest, "client_context.session_id is required")
		return
	}

	start := time.Now()
	resp, err := s.router.Handle(r.Context(), &command.HandleRequest{
		UserID:         userID,
		SessionID:      req.ClientContext.SessionID,
		Input:          req.Input,
		Profile:        req.Profile,
		IdempotencyKey: req.IdempotencyKey,
		Debug:          req.ClientContext.Debug,
	})
	if err != nil {
		s.logger.Error("command pipeline", "error", err)
		s.jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	outcome := "ok"
	status := http.StatusOK
	if resp.Response.Type == "error" {
		outcome = string(resp.Response.ErrorKind)
		status = statusForKind(resp.Response.ErrorKind)
	}
	metrics.ObserveCommand(resp.Intent.Name, outcome, time.Since(start))

	s.writeJSON(w, status, resp)
}

// ConfirmRequest is the JSON request body for POST /v1/commands/confirm.
type ConfirmRequest struct {
	Token          string `json:"token"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request, userID string) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		s.jsonError(w, http.StatusBadRequest, "token is required")
		return
	}

	resp, err := s.router.Confirm(r.Context(), userID, req.Token, req.IdempotencyKey)
	if errors.Is(err, pending.ErrExpired) {
		s.jsonError(w, http.StatusNotFound, "pending action expired")
		return
	}
	if errors.Is(err, pending.ErrNotFound) {
		s.jsonError(w, http.StatusNotFound, "no such pending action")
		return
	}
	if err != nil {
		s.logger.Error("confirm pipeline", "error", err)
		s.jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusOK
	if resp.Response.Type == "error" {
		status = statusForKind(resp.Response.ErrorKind)
	}
	s.writeJSON(w, status, resp)
}

// TTSRequest is the JSON request body for POST /v1/tts.
type TTSRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice,omitempty"`
	Format string `json:"format,omitempty"`
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request, _ string) {
	var req TTSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		s.jsonError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.Format == "" {
		req.Format = "mp3"
	}

	audio, err := s.tts.Synthesize(r.Context(), req.Text, req.Voice, req.Format)
	if err != nil {
		s.logger.Error("synthesizing speech", "error", err)
		s.jsonError(w, http.StatusBadGateway, "speech synthesis failed")
		return
	}

	w.Header().Set("Content-Type", audioContentType(req.Format))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio); err != nil {
		s.logger.Error("writing audio response", "error", err)
	}
}

func audioContentType(format string) string {
	switch format {
	case "wav":
		return "audio/wav"
	case "opus":
		return "audio/opus"
	default:
		return "audio/mpeg"
	}
}

// DevAudioRequest is the JSON request body for POST /v1/dev/audio. It
// stages base64 audio as a file the command endpoint can reference,
// since dev clients have nowhere to host audio.
type DevAudioRequest struct {
	DataBase64 string `json:"data_base64"`
	Format     string `json:"format,omitempty"`
}

// DevAudioResponse is the JSON response carrying the staged URI.
type DevAudioResponse struct {
	URI    string `json:"uri"`
	Format string `json:"format"`
}

func (s *Server) handleDevAudio(w http.ResponseWriter, r *http.Request, _ string) {
	var req DevAudioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DataBase64 == "" {
		s.jsonError(w, http.StatusBadRequest, "data_base64 is required")
		return
	}
	if req.Format == "" {
		req.Format = "wav"
	}

	data, err := base64.StdEncoding.DecodeString(req.DataBase64)
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, "data_base64 is not valid base64")
		return
	}

	path := filepath.Join(os.TempDir(), "periscope-audio-"+uuid.NewString()+"."+req.Format)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		s.logger.Error("staging dev audio", "error", err)
		s.jsonError(w, http.StatusInternalServerError, "could not stage audio")
		return
	}

	s.writeJSON(w, http.StatusCreated, DevAudioResponse{URI: "file://" + path, Format: req.Format})
}
