// ABOUTME: In-memory implementation of the Store interface for unit tests
// ABOUTME: Mirrors the SQLite semantics including unique-constraint behavior

package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store entirely in memory. It mirrors SQLiteStore
// semantics, including the (source, delivery_id) unique constraint, so
// services can be tested without a database file.
type MemoryStore struct {
	mu sync.Mutex

	events         map[string]*WebhookEvent
	deliveries     map[string]string // source|delivery_id -> event id
	notifications  map[string]*Notification
	pushSubs       map[string]*NotificationSubscription
	repoSubs       map[string]*RepoSubscription // user|repo
	connections    map[string]*Connection       // user|installation
	tasks          map[string]*AgentTask
	policies       map[string]*RepoPolicy // user|repo
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:        make(map[string]*WebhookEvent),
		deliveries:    make(map[string]string),
		notifications: make(map[string]*Notification),
		pushSubs:      make(map[string]*NotificationSubscription),
		repoSubs:      make(map[string]*RepoSubscription),
		connections:   make(map[string]*Connection),
		tasks:         make(map[string]*AgentTask),
		policies:      make(map[string]*RepoPolicy),
	}
}

func (m *MemoryStore) Close() error { return nil }

func pairKey(a, b string) string { return a + "|" + b }

// --- EventLog ---

func (m *MemoryStore) InsertEvent(_ context.Context, event *WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey(event.Source, event.DeliveryID)
	if _, exists := m.deliveries[key]; exists {
		return ErrDuplicateDelivery
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	event.ReceivedAt = time.Now().UTC()

	copied := *event
	m.events[event.ID] = &copied
	m.deliveries[key] = event.ID
	return nil
}

func (m *MemoryStore) GetEvent(_ context.Context, id string) (*WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *event
	return &copied, nil
}

func (m *MemoryStore) ListEvents(_ context.Context, filter EventFilter) ([]*WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []*WebhookEvent
	for _, event := range m.events {
		if filter.Source != "" && event.Source != filter.Source {
			continue
		}
		if filter.EventType != "" && event.EventType != filter.EventType {
			continue
		}
		copied := *event
		events = append(events, &copied)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].ReceivedAt.After(events[j].ReceivedAt)
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (m *MemoryStore) MarkEventProcessed(_ context.Context, id string, ok bool, processingError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, exists := m.events[id]
	if !exists {
		return ErrNotFound
	}
	event.ProcessedOK = &ok
	if processingError != "" {
		event.ProcessingError = &processingError
	} else {
		event.ProcessingError = nil
	}
	now := time.Now().UTC()
	event.ProcessedAt = &now
	return nil
}

func (m *MemoryStore) ListUnprocessedEvents(_ context.Context, limit int) ([]*WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []*WebhookEvent
	for _, event := range m.events {
		if event.ProcessedOK == nil {
			copied := *event
			events = append(events, &copied)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].ReceivedAt.Before(events[j].ReceivedAt)
	})
	if limit <= 0 {
		limit = 100
	}
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// --- NotificationStore ---

func (m *MemoryStore) InsertNotification(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	copied := *n
	m.notifications[n.ID] = &copied
	return nil
}

func (m *MemoryStore) GetNotification(_ context.Context, userID, id string) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[id]
	if !ok || n.UserID != userID {
		return nil, ErrNotFound
	}
	copied := *n
	return &copied, nil
}

func (m *MemoryStore) ListNotifications(_ context.Context, userID string, since time.Time, limit int) ([]*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var notifications []*Notification
	for _, n := range m.notifications {
		if n.UserID != userID {
			continue
		}
		if !since.IsZero() && !n.CreatedAt.After(since) {
			continue
		}
		copied := *n
		notifications = append(notifications, &copied)
	}
	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
	})
	if limit > 0 && len(notifications) > limit {
		notifications = notifications[:limit]
	}
	return notifications, nil
}

func (m *MemoryStore) HasRecentNotification(_ context.Context, userID, dedupeKey string, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-window)
	for _, n := range m.notifications {
		if n.UserID == userID && n.DedupeKey == dedupeKey && n.CreatedAt.After(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) MarkNotificationRead(_ context.Context, userID, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	at = at.UTC()
	n.ReadAt = &at
	return nil
}

// --- SubscriptionStore ---

func (m *MemoryStore) UpsertNotificationSubscription(_ context.Context, sub *NotificationSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	for _, existing := range m.pushSubs {
		if existing.UserID == sub.UserID && existing.Endpoint == sub.Endpoint {
			existing.Platform = sub.Platform
			existing.Keys = sub.Keys
			existing.CreatedAt = sub.CreatedAt
			sub.ID = existing.ID
			return nil
		}
	}
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	copied := *sub
	m.pushSubs[sub.ID] = &copied
	return nil
}

func (m *MemoryStore) ListNotificationSubscriptions(_ context.Context, userID string) ([]*NotificationSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var subs []*NotificationSubscription
	for _, sub := range m.pushSubs {
		if sub.UserID == userID {
			copied := *sub
			subs = append(subs, &copied)
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].CreatedAt.After(subs[j].CreatedAt)
	})
	return subs, nil
}

func (m *MemoryStore) DeleteNotificationSubscription(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.pushSubs[id]
	if !ok || sub.UserID != userID {
		return ErrNotFound
	}
	delete(m.pushSubs, id)
	return nil
}

func (m *MemoryStore) UpsertRepoSubscription(_ context.Context, sub *RepoSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	copied := *sub
	m.repoSubs[pairKey(sub.UserID, sub.RepoFullName)] = &copied
	return nil
}

func (m *MemoryStore) ListRepoSubscriptions(_ context.Context, userID string) ([]*RepoSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var subs []*RepoSubscription
	for _, sub := range m.repoSubs {
		if sub.UserID == userID {
			copied := *sub
			subs = append(subs, &copied)
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].RepoFullName < subs[j].RepoFullName
	})
	return subs, nil
}

func (m *MemoryStore) DeleteRepoSubscription(_ context.Context, userID, repoFullName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey(userID, repoFullName)
	if _, ok := m.repoSubs[key]; !ok {
		return ErrNotFound
	}
	delete(m.repoSubs, key)
	return nil
}

func (m *MemoryStore) ListRepoSubscribers(_ context.Context, repoFullName string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var users []string
	for _, sub := range m.repoSubs {
		if sub.RepoFullName == repoFullName {
			users = append(users, sub.UserID)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (m *MemoryStore) UpsertConnection(_ context.Context, conn *Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = time.Now().UTC()
	}
	copied := *conn
	m.connections[pairKey(conn.UserID, strconv.FormatInt(conn.InstallationID, 10))] = &copied
	return nil
}

func (m *MemoryStore) ListUsersByInstallation(_ context.Context, installationID int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var users []string
	for _, conn := range m.connections {
		if conn.InstallationID == installationID {
			users = append(users, conn.UserID)
		}
	}
	sort.Strings(users)
	return users, nil
}

// --- AgentTaskStore ---

func (m *MemoryStore) InsertTask(_ context.Context, task *AgentTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = now
	}
	if task.State == "" {
		task.State = TaskStateCreated
	}
	copied := *task
	copied.Trace = copyMap(task.Trace)
	m.tasks[task.ID] = &copied
	return nil
}

func (m *MemoryStore) GetTask(_ context.Context, id string) (*AgentTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.taskCopy(id, "")
}

func (m *MemoryStore) GetTaskForUser(_ context.Context, userID, id string) (*AgentTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.taskCopy(id, userID)
}

func (m *MemoryStore) taskCopy(id, userID string) (*AgentTask, error) {
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if userID != "" && task.UserID != userID {
		return nil, ErrNotFound
	}
	copied := *task
	copied.Trace = copyMap(task.Trace)
	return &copied, nil
}

func (m *MemoryStore) ListTasks(_ context.Context, userID string, state TaskState, limit int) ([]*AgentTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tasks []*AgentTask
	for _, task := range m.tasks {
		if task.UserID != userID {
			continue
		}
		if state != "" && task.State != state {
			continue
		}
		copied := *task
		copied.Trace = copyMap(task.Trace)
		tasks = append(tasks, &copied)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].UpdatedAt.After(tasks[j].UpdatedAt)
	})
	if limit <= 0 {
		limit = 50
	}
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func (m *MemoryStore) LatestTask(ctx context.Context, userID string) (*AgentTask, error) {
	tasks, err := m.ListTasks(ctx, userID, "", 1)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, ErrNotFound
	}
	return tasks[0], nil
}

func (m *MemoryStore) UpdateTask(_ context.Context, task *AgentTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.tasks[task.ID]
	if !ok {
		return ErrNotFound
	}
	task.UpdatedAt = time.Now().UTC()
	existing.State = task.State
	existing.Trace = copyMap(task.Trace)
	existing.DispatchIssue = task.DispatchIssue
	existing.UpdatedAt = task.UpdatedAt
	return nil
}

func (m *MemoryStore) FindTaskByDispatchIssue(_ context.Context, issue int) (*AgentTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *AgentTask
	for _, task := range m.tasks {
		if task.DispatchIssue != nil && *task.DispatchIssue == issue {
			if found == nil || task.CreatedAt.After(found.CreatedAt) {
				found = task
			}
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	copied := *found
	copied.Trace = copyMap(found.Trace)
	return &copied, nil
}

// --- RepoPolicyStore ---

func (m *MemoryStore) GetRepoPolicy(_ context.Context, userID, repoFullName string) (*RepoPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	policy, ok := m.policies[pairKey(userID, repoFullName)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *policy
	return &copied, nil
}

func (m *MemoryStore) SetRepoPolicy(_ context.Context, policy *RepoPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *policy
	m.policies[pairKey(policy.UserID, policy.RepoFullName)] = &copied
	return nil
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
