// ABOUTME: Store interfaces and data types for periscope persistence
// ABOUTME: Defines events, notifications, subscriptions, agent tasks, and policies

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateDelivery is returned when inserting a webhook event whose
// (source, delivery_id) pair is already present. Insert is the
// linearization point for webhook dedupe.
var ErrDuplicateDelivery = errors.New("duplicate webhook delivery")

// WebhookEvent is one persisted webhook delivery. Entries are append-only;
// only the processed_* triple is ever mutated.
type WebhookEvent struct {
	ID              string
	Source          string // "github"
	EventType       string
	DeliveryID      string
	SignatureOK     bool
	Payload         []byte
	ReceivedAt      time.Time
	ProcessedOK     *bool
	ProcessingError *string
	ProcessedAt     *time.Time
}

// EventFilter narrows ListEvents results. Zero values match everything.
type EventFilter struct {
	Source    string
	EventType string
	Limit     int
}

// Notification is a per-user notification row.
type Notification struct {
	ID        string
	UserID    string
	EventType string
	Message   string
	Metadata  map[string]any
	Priority  int // 1..5
	Profile   string
	DedupeKey string
	CreatedAt time.Time
	ReadAt    *time.Time
}

// NotificationSubscription is a push delivery endpoint for a user.
// Endpoint is unique per (user_id, platform); re-registration replaces
// the older record.
type NotificationSubscription struct {
	ID        string
	UserID    string
	Platform  string // apns, fcm, webpush
	Endpoint  string
	Keys      map[string]string
	CreatedAt time.Time
}

// RepoSubscription routes webhook events for a repository to a user.
type RepoSubscription struct {
	UserID         string
	RepoFullName   string
	InstallationID *int64
	CreatedAt      time.Time
}

// TaskState is the lifecycle state of an agent task.
type TaskState string

const (
	TaskStateCreated   TaskState = "created"
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateCancelled TaskState = "cancelled"
)

// Terminal reports whether no further transitions are legal from s.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCancelled:
		return true
	}
	return false
}

// AgentTask is a delegated unit of work dispatched to an external provider.
// Trace is an opaque map that grows monotonically.
type AgentTask struct {
	ID            string
	UserID        string
	Provider      string
	Instruction   string
	State         TaskState
	Trace         map[string]any
	DispatchIssue *int // issue number in the dispatch repo, when applicable
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RepoPolicy gates write-class handlers per (user, repo).
type RepoPolicy struct {
	UserID       string
	RepoFullName string
	AllowWrite   bool
}

// Connection links a code-host installation to a user, used for routing
// webhook events that carry an installation id.
type Connection struct {
	UserID         string
	InstallationID int64
	CreatedAt      time.Time
}

// EventLog is the append-only persisted store for webhook events.
type EventLog interface {
	// InsertEvent persists an event, setting ReceivedAt. Returns
	// ErrDuplicateDelivery if (source, delivery_id) is already present.
	InsertEvent(ctx context.Context, event *WebhookEvent) error
	GetEvent(ctx context.Context, id string) (*WebhookEvent, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]*WebhookEvent, error)
	MarkEventProcessed(ctx context.Context, id string, ok bool, processingError string) error
	// ListUnprocessedEvents returns events with processed_ok IS NULL,
	// oldest first. Used by the startup recovery scan.
	ListUnprocessedEvents(ctx context.Context, limit int) ([]*WebhookEvent, error)
}

// NotificationStore holds notification rows. Dedupe and throttling policy
// live in the notify service; the store only answers window queries.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n *Notification) error
	GetNotification(ctx context.Context, userID, id string) (*Notification, error)
	// ListNotifications returns the user's notifications newest-first,
	// optionally restricted to those created after since.
	ListNotifications(ctx context.Context, userID string, since time.Time, limit int) ([]*Notification, error)
	// HasRecentNotification reports whether a row with (userID, dedupeKey)
	// exists within the window ending now.
	HasRecentNotification(ctx context.Context, userID, dedupeKey string, window time.Duration) (bool, error)
	MarkNotificationRead(ctx context.Context, userID, id string, at time.Time) error
}

// SubscriptionStore holds push and repo subscriptions.
type SubscriptionStore interface {
	UpsertNotificationSubscription(ctx context.Context, sub *NotificationSubscription) error
	ListNotificationSubscriptions(ctx context.Context, userID string) ([]*NotificationSubscription, error)
	DeleteNotificationSubscription(ctx context.Context, userID, id string) error

	UpsertRepoSubscription(ctx context.Context, sub *RepoSubscription) error
	ListRepoSubscriptions(ctx context.Context, userID string) ([]*RepoSubscription, error)
	DeleteRepoSubscription(ctx context.Context, userID, repoFullName string) error
	// ListRepoSubscribers returns the user ids subscribed to a repository.
	ListRepoSubscribers(ctx context.Context, repoFullName string) ([]string, error)

	UpsertConnection(ctx context.Context, conn *Connection) error
	// ListUsersByInstallation returns users connected via an installation id.
	ListUsersByInstallation(ctx context.Context, installationID int64) ([]string, error)
}

// AgentTaskStore persists agent tasks. State-transition legality is
// enforced by the agenttask service, not here.
type AgentTaskStore interface {
	InsertTask(ctx context.Context, task *AgentTask) error
	GetTask(ctx context.Context, id string) (*AgentTask, error)
	GetTaskForUser(ctx context.Context, userID, id string) (*AgentTask, error)
	ListTasks(ctx context.Context, userID string, state TaskState, limit int) ([]*AgentTask, error)
	// LatestTask returns the user's most recently updated task.
	LatestTask(ctx context.Context, userID string) (*AgentTask, error)
	UpdateTask(ctx context.Context, task *AgentTask) error
	// FindTaskByDispatchIssue resolves a task from its dispatch-repo issue
	// number. Used by webhook correlation.
	FindTaskByDispatchIssue(ctx context.Context, issue int) (*AgentTask, error)
}

// RepoPolicyStore persists per-(user, repo) write policies. A missing row
// means writes are allowed.
type RepoPolicyStore interface {
	GetRepoPolicy(ctx context.Context, userID, repoFullName string) (*RepoPolicy, error)
	SetRepoPolicy(ctx context.Context, policy *RepoPolicy) error
}

// Store is the full persistence surface. SQLiteStore and MemoryStore both
// implement it; services depend on the narrow interfaces above.
type Store interface {
	EventLog
	NotificationStore
	SubscriptionStore
	AgentTaskStore
	RepoPolicyStore
	Close() error
}
