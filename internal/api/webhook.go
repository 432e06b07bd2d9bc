// ABOUTME: Webhook ingestion and retry endpoints
// ABOUTME: Accepted deliveries answer 202 regardless of processing outcome

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/periscope-dev/periscope/internal/metrics"
	"github.com/periscope-dev/periscope/internal/store"
	"github.com/periscope-dev/periscope/internal/webhook"
)

// maxWebhookBody caps a delivery payload at 5 MiB.
const maxWebhookBody = 5 << 20

// WebhookResponse is the JSON response for an accepted delivery.
type WebhookResponse struct {
	EventID   string `json:"event_id,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	eventType := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	signature := r.Header.Get("X-Hub-Signature-256")
	if eventType == "" || deliveryID == "" {
		s.jsonError(w, http.StatusBadRequest, "missing delivery headers")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	result, err := s.ingestor.Ingest(r.Context(), eventType, deliveryID, signature, payload)
	if errors.Is(err, webhook.ErrBadSignature) {
		metrics.WebhooksTotal.WithLabelValues(eventType, "bad_signature").Inc()
		s.jsonError(w, http.StatusBadRequest, "signature verification failed")
		return
	}
	if err != nil {
		s.logger.Error("ingesting webhook", "delivery_id", deliveryID, "error", err)
		s.jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	outcome := "accepted"
	if result.Duplicate {
		outcome = "duplicate"
	}
	metrics.WebhooksTotal.WithLabelValues(eventType, outcome).Inc()

	s.writeJSON(w, http.StatusAccepted, WebhookResponse{
		EventID:   result.EventID,
		Duplicate: result.Duplicate,
	})
}

func (s *Server) handleWebhookRetry(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event_id")

	err := s.ingestor.Retry(r.Context(), eventID)
	if errors.Is(err, store.ErrNotFound) {
		s.jsonError(w, http.StatusNotFound, "no such event")
		return
	}
	if err != nil {
		s.logger.Error("retrying webhook event", "event_id", eventID, "error", err)
		s.jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"event_id": eventID, "status": "reprocessed"})
}
