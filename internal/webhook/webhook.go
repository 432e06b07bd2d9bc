// ABOUTME: Webhook ingestion pipeline: verify, log, normalize, route, notify
// ABOUTME: The event-log insert is the dedupe linearization point

package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/go-github/v66/github"

	"github.com/periscope-dev/periscope/internal/agenttask"
	"github.com/periscope-dev/periscope/internal/notify"
	"github.com/periscope-dev/periscope/internal/session"
	"github.com/periscope-dev/periscope/internal/store"
)

// ErrBadSignature is returned when the delivery signature does not
// verify. The HTTP layer maps it to 400.
var ErrBadSignature = errors.New("webhook: bad signature")

// Result reports what Ingest did with a delivery.
type Result struct {
	EventID   string
	Duplicate bool
}

// Ingestor runs the delivery pipeline. After the event-log insert
// succeeds the sender always gets 202; processing failures are recorded
// on the event row instead of surfacing.
type Ingestor struct {
	events        store.EventLog
	subscriptions store.SubscriptionStore
	notifier      *notify.Service
	tasks         *agenttask.Service
	sessions      *session.Store
	secret        string
	logger        *slog.Logger
}

// NewIngestor creates the pipeline. An empty secret enables the dev
// signature bypass.
func NewIngestor(events store.EventLog, subscriptions store.SubscriptionStore, notifier *notify.Service, tasks *agenttask.Service, sessions *session.Store, secret string) *Ingestor {
	return &Ingestor{
		events:        events,
		subscriptions: subscriptions,
		notifier:      notifier,
		tasks:         tasks,
		sessions:      sessions,
		secret:        secret,
		logger:        slog.Default().With("component", "webhook"),
	}
}

// Ingest runs the full pipeline for one delivery. ErrBadSignature is the
// only caller-visible failure after which nothing was persisted;
// everything after a successful insert is absorbed into the event row.
func (i *Ingestor) Ingest(ctx context.Context, eventType, deliveryID, signature string, payload []byte) (*Result, error) {
	if err := i.verifySignature(signature, payload); err != nil {
		return nil, err
	}

	event := &store.WebhookEvent{
		Source:      "github",
		EventType:   eventType,
		DeliveryID:  deliveryID,
		SignatureOK: true,
		Payload:     payload,
	}
	err := i.events.InsertEvent(ctx, event)
	if errors.Is(err, store.ErrDuplicateDelivery) {
		i.logger.Info("duplicate delivery", "delivery_id", deliveryID, "event_type", eventType)
		return &Result{Duplicate: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persisting webhook event: %w", err)
	}

	i.Process(ctx, event)
	return &Result{EventID: event.ID}, nil
}

// Process runs normalization, routing, notification, and correlation for
// a stored event, then marks it processed. Used by Ingest, the retry
// endpoint, and the startup recovery scan.
func (i *Ingestor) Process(ctx context.Context, event *store.WebhookEvent) {
	err := i.process(ctx, event)

	ok := err == nil
	var procErr string
	if err != nil {
		procErr = err.Error()
		i.logger.Error("processing webhook event",
			"event_id", event.ID, "event_type", event.EventType, "error", err)
	}
	if markErr := i.events.MarkEventProcessed(ctx, event.ID, ok, procErr); markErr != nil {
		i.logger.Error("marking event processed", "event_id", event.ID, "error", markErr)
	}
}

func (i *Ingestor) process(ctx context.Context, event *store.WebhookEvent) error {
	n, err := normalize(event.EventType, event.Payload)
	if errors.Is(err, errUnhandledEvent) {
		// Stored for posterity, nothing to do.
		i.logger.Debug("unhandled event type", "event_type", event.EventType)
		return nil
	}
	if err != nil {
		return err
	}

	// PR bodies may close the loop on a dispatched agent task.
	if n.EventType == "webhook.pr_opened" {
		i.tasks.TryCorrelate(ctx, n.PRBody, n.PRURL)
	}

	users, err := i.routeUsers(ctx, n)
	if err != nil {
		return err
	}

	for _, userID := range users {
		userProfile, err := i.sessions.GetUserProfile(ctx, userID)
		if err != nil {
			i.logger.Warn("reading user profile", "user_id", userID, "error", err)
			userProfile = "default"
		}

		_, err = i.notifier.Create(ctx, notify.CreateInput{
			UserID:    userID,
			EventType: n.EventType,
			Message:   n.Message,
			Metadata: map[string]any{
				"repo":      n.Repo,
				"action":    n.Action,
				"pr_number": n.PRNumber,
				"author":    n.Author,
			},
			Profile: userProfile,
			Repo:    n.Repo,
			Ref:     n.Ref,
		})
		if err != nil {
			return fmt.Errorf("notifying %s: %w", userID, err)
		}
	}
	return nil
}

// routeUsers is the union of repo subscribers and users connected via
// the delivery's installation id.
func (i *Ingestor) routeUsers(ctx context.Context, n *Normalized) ([]string, error) {
	seen := make(map[string]bool)
	var users []string

	subscribers, err := i.subscriptions.ListRepoSubscribers(ctx, n.Repo)
	if err != nil {
		return nil, fmt.Errorf("listing repo subscribers: %w", err)
	}
	for _, u := range subscribers {
		if !seen[u] {
			seen[u] = true
			users = append(users, u)
		}
	}

	if n.InstallationID != 0 {
		connected, err := i.subscriptions.ListUsersByInstallation(ctx, n.InstallationID)
		if err != nil {
			return nil, fmt.Errorf("listing installation users: %w", err)
		}
		for _, u := range connected {
			if !seen[u] {
				seen[u] = true
				users = append(users, u)
			}
		}
	}
	return users, nil
}

// Retry re-runs processing for a stored event. Dev-only surface.
func (i *Ingestor) Retry(ctx context.Context, eventID string) error {
	event, err := i.events.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	i.Process(ctx, event)
	return nil
}

// RecoverUnprocessed re-runs processing for events whose pipeline was
// interrupted by a crash after the insert. Called once at startup.
func (i *Ingestor) RecoverUnprocessed(ctx context.Context, limit int) error {
	events, err := i.events.ListUnprocessedEvents(ctx, limit)
	if err != nil {
		return fmt.Errorf("listing unprocessed events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	i.logger.Info("recovering unprocessed events", "count", len(events))
	for _, event := range events {
		i.Process(ctx, event)
	}
	return nil
}

// verifySignature checks the HMAC-SHA256 signature. With no secret
// configured only the literal "dev" bypass is accepted.
func (i *Ingestor) verifySignature(signature string, payload []byte) error {
	if i.secret == "" {
		if signature == "dev" {
			return nil
		}
		return ErrBadSignature
	}

	if err := github.ValidateSignature(signature, payload, []byte(i.secret)); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}
