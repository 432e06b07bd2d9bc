// ABOUTME: Notification creation pipeline with dedupe and throttling
// ABOUTME: Data-driven priority table, window collapse, and push fan-out

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/periscope-dev/periscope/internal/metrics"
	"github.com/periscope-dev/periscope/internal/profile"
	"github.com/periscope-dev/periscope/internal/push"
	"github.com/periscope-dev/periscope/internal/store"
)

// DefaultDedupeWindow collapses semantically identical notifications.
const DefaultDedupeWindow = 5 * time.Minute

// priorities maps event types to urgency 1..5. Unlisted events and the
// "security." prefix are handled in Priority.
var priorities = map[string]int{
	"webhook.pr_merged":             5,
	"webhook.check_suite_failed":    5,
	"webhook.pr_opened":             4,
	"webhook.pr_closed":             4,
	"webhook.review_requested":      4,
	"webhook.review_submitted":      4,
	"agent.task_completed":          4,
	"webhook.pr_synchronize":        3,
	"webhook.pr_reopened":           3,
	"webhook.check_suite_completed": 3,
	"webhook.pr_labeled":            2,
	"webhook.pr_unlabeled":          2,
	"webhook.issue_comment":         2,
}

// Priority derives the urgency of an event type. Security events are
// always top priority; anything unlisted is middling.
func Priority(eventType string) int {
	if strings.HasPrefix(eventType, "security.") {
		return 5
	}
	if p, ok := priorities[eventType]; ok {
		return p
	}
	return 3
}

// DedupeKey hashes the fields that make two notifications "the same
// event". Ref distinguishes pushes to different branches.
func DedupeKey(eventType, repo, ref string) string {
	sum := xxhash.Sum64String(eventType + "|" + repo + "|" + ref)
	return strconv.FormatUint(sum, 16)
}

// CreateInput is one notification request before policy is applied.
type CreateInput struct {
	UserID    string
	EventType string
	Message   string
	Metadata  map[string]any
	Profile   string
	// Priority overrides derivation when nonzero.
	Priority int
	// Repo and Ref feed the dedupe key.
	Repo string
	Ref  string
}

// Service applies notification policy and fans deliveries out to the
// user's push endpoints.
type Service struct {
	notifications store.NotificationStore
	subscriptions store.SubscriptionStore
	registry      *push.Registry
	window        time.Duration
	logger        *slog.Logger
}

// NewService creates a notification service. A zero window uses
// DefaultDedupeWindow.
func NewService(notifications store.NotificationStore, subscriptions store.SubscriptionStore, registry *push.Registry, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	return &Service{
		notifications: notifications,
		subscriptions: subscriptions,
		registry:      registry,
		window:        window,
		logger:        slog.Default().With("component", "notify"),
	}
}

// Create runs the policy pipeline: derive priority and dedupe key,
// collapse within the window, throttle below the profile threshold,
// then persist and deliver. A nil, nil return means the notification
// was deliberately dropped. Delivery failures never affect the result;
// the row is already persisted.
func (s *Service) Create(ctx context.Context, in CreateInput) (*store.Notification, error) {
	prio := in.Priority
	if prio == 0 {
		prio = Priority(in.EventType)
	}

	dedupeKey := DedupeKey(in.EventType, in.Repo, in.Ref)
	recent, err := s.notifications.HasRecentNotification(ctx, in.UserID, dedupeKey, s.window)
	if err != nil {
		return nil, fmt.Errorf("checking dedupe window: %w", err)
	}
	if recent {
		s.logger.Debug("notification collapsed",
			"user_id", in.UserID, "event_type", in.EventType, "dedupe_key", dedupeKey)
		metrics.NotificationsTotal.WithLabelValues("collapsed").Inc()
		return nil, nil
	}

	p := profile.Get(in.Profile)
	if prio < p.MinPriority {
		s.logger.Debug("notification throttled",
			"user_id", in.UserID, "event_type", in.EventType,
			"priority", prio, "threshold", p.MinPriority, "profile", p.Name)
		metrics.NotificationsTotal.WithLabelValues("throttled").Inc()
		return nil, nil
	}

	n := &store.Notification{
		UserID:    in.UserID,
		EventType: in.EventType,
		Message:   in.Message,
		Metadata:  in.Metadata,
		Priority:  prio,
		Profile:   p.Name,
		DedupeKey: dedupeKey,
	}
	if err := s.notifications.InsertNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("persisting notification: %w", err)
	}

	metrics.NotificationsTotal.WithLabelValues("delivered").Inc()
	s.deliver(ctx, n)
	return n, nil
}

// deliver fans the notification out to every registered endpoint.
// Fire-and-forget: failures are logged, never propagated.
func (s *Service) deliver(ctx context.Context, n *store.Notification) {
	subs, err := s.subscriptions.ListNotificationSubscriptions(ctx, n.UserID)
	if err != nil {
		s.logger.Error("listing push subscriptions", "user_id", n.UserID, "error", err)
		return
	}

	payload, err := json.Marshal(map[string]any{
		"id":         n.ID,
		"event_type": n.EventType,
		"message":    n.Message,
		"metadata":   n.Metadata,
		"priority":   n.Priority,
	})
	if err != nil {
		s.logger.Error("encoding push payload", "error", err)
		return
	}

	for _, sub := range subs {
		sendCtx, cancel := context.WithTimeout(ctx, push.DefaultTimeout)
		err := s.registry.For(sub.Platform).Send(sendCtx, sub.Endpoint, sub.Platform, payload)
		cancel()
		if err != nil {
			s.logger.Warn("push delivery failed",
				"user_id", n.UserID, "platform", sub.Platform, "error", err)
		}
	}
}
