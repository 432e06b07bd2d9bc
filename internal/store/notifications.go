// ABOUTME: Notification and subscription operations on the SQLite store
// ABOUTME: Row storage, dedupe-window queries, and push/repo subscription CRUD

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertNotification persists a notification row.
func (s *SQLiteStore) InsertNotification(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	metadata, err := marshalJSONMap(n.Metadata)
	if err != nil {
		return fmt.Errorf("encoding notification metadata: %w", err)
	}

	query := `
		INSERT INTO notifications (id, user_id, event_type, message, metadata_json, priority, profile, dedupe_key, created_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`

	_, err = s.db.ExecContext(ctx, query,
		n.ID, n.UserID, n.EventType, n.Message, metadata,
		n.Priority, n.Profile, n.DedupeKey, formatTime(n.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}

	s.logger.Debug("inserted notification",
		"id", n.ID, "user_id", n.UserID, "event_type", n.EventType, "priority", n.Priority)
	return nil
}

const notificationColumns = `id, user_id, event_type, message, metadata_json,
	priority, profile, dedupe_key, created_at, read_at`

// GetNotification retrieves one notification scoped to the user.
func (s *SQLiteStore) GetNotification(ctx context.Context, userID, id string) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = ? AND user_id = ?`
	n, err := scanNotification(s.db.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns the user's notifications newest-first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, userID string, since time.Time, limit int) ([]*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = ?`
	args := []any{userID}
	if !since.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, formatTime(since))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notifications: %w", err)
	}
	return notifications, nil
}

// HasRecentNotification reports whether a row with (userID, dedupeKey)
// exists within the window ending now.
func (s *SQLiteStore) HasRecentNotification(ctx context.Context, userID, dedupeKey string, window time.Duration) (bool, error) {
	cutoff := time.Now().UTC().Add(-window)
	query := `
		SELECT 1 FROM notifications
		WHERE user_id = ? AND dedupe_key = ? AND created_at > ?
		LIMIT 1
	`

	var one int
	err := s.db.QueryRowContext(ctx, query, userID, dedupeKey, formatTime(cutoff)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying dedupe window: %w", err)
	}
	return true, nil
}

// MarkNotificationRead sets read_at on a notification scoped to the user.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, userID, id string, at time.Time) error {
	query := `UPDATE notifications SET read_at = ? WHERE id = ? AND user_id = ?`

	result, err := s.db.ExecContext(ctx, query, formatTime(at), id, userID)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanNotification(row rowScanner) (*Notification, error) {
	var n Notification
	var metadata sql.NullString
	var createdAt string
	var readAt sql.NullString

	err := row.Scan(
		&n.ID, &n.UserID, &n.EventType, &n.Message, &metadata,
		&n.Priority, &n.Profile, &n.DedupeKey, &createdAt, &readAt,
	)
	if err != nil {
		return nil, err
	}

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &n.Metadata); err != nil {
			return nil, fmt.Errorf("decoding notification metadata: %w", err)
		}
	}
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if readAt.Valid {
		t, err := parseTime(readAt.String)
		if err != nil {
			return nil, err
		}
		n.ReadAt = &t
	}
	return &n, nil
}

// --- Notification subscriptions ---

// UpsertNotificationSubscription registers a push endpoint. An existing
// (user, endpoint) row is replaced; the newer registration wins.
func (s *SQLiteStore) UpsertNotificationSubscription(ctx context.Context, sub *NotificationSubscription) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	keys, err := marshalJSONStringMap(sub.Keys)
	if err != nil {
		return fmt.Errorf("encoding subscription keys: %w", err)
	}

	query := `
		INSERT INTO notification_subscriptions (id, user_id, platform, endpoint, keys_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, endpoint) DO UPDATE SET
			platform = excluded.platform,
			keys_json = excluded.keys_json,
			created_at = excluded.created_at
	`

	_, err = s.db.ExecContext(ctx, query,
		sub.ID, sub.UserID, sub.Platform, sub.Endpoint, keys, formatTime(sub.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting notification subscription: %w", err)
	}

	// The upsert may have kept the original row id; read it back so the
	// caller sees the canonical one.
	var id string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM notification_subscriptions WHERE user_id = ? AND endpoint = ?`,
		sub.UserID, sub.Endpoint,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("reading back subscription id: %w", err)
	}
	sub.ID = id

	s.logger.Debug("upserted notification subscription",
		"id", sub.ID, "user_id", sub.UserID, "platform", sub.Platform)
	return nil
}

// ListNotificationSubscriptions returns all push endpoints for a user.
func (s *SQLiteStore) ListNotificationSubscriptions(ctx context.Context, userID string) ([]*NotificationSubscription, error) {
	query := `
		SELECT id, user_id, platform, endpoint, keys_json, created_at
		FROM notification_subscriptions
		WHERE user_id = ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing notification subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*NotificationSubscription
	for rows.Next() {
		var sub NotificationSubscription
		var keys sql.NullString
		var createdAt string
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Platform, &sub.Endpoint, &keys, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		if keys.Valid && keys.String != "" {
			if err := json.Unmarshal([]byte(keys.String), &sub.Keys); err != nil {
				return nil, fmt.Errorf("decoding subscription keys: %w", err)
			}
		}
		if sub.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}

// DeleteNotificationSubscription removes a push endpoint scoped to the user.
func (s *SQLiteStore) DeleteNotificationSubscription(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM notification_subscriptions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("deleting notification subscription: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Repo subscriptions ---

// UpsertRepoSubscription subscribes a user to a repository's events.
func (s *SQLiteStore) UpsertRepoSubscription(ctx context.Context, sub *RepoSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO repo_subscriptions (user_id, repo_full_name, installation_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, repo_full_name) DO UPDATE SET
			installation_id = excluded.installation_id
	`

	var installationID any
	if sub.InstallationID != nil {
		installationID = *sub.InstallationID
	}

	_, err := s.db.ExecContext(ctx, query,
		sub.UserID, sub.RepoFullName, installationID, formatTime(sub.CreatedAt))
	if err != nil {
		return fmt.Errorf("upserting repo subscription: %w", err)
	}
	return nil
}

// ListRepoSubscriptions returns all repo subscriptions for a user.
func (s *SQLiteStore) ListRepoSubscriptions(ctx context.Context, userID string) ([]*RepoSubscription, error) {
	query := `
		SELECT user_id, repo_full_name, installation_id, created_at
		FROM repo_subscriptions
		WHERE user_id = ?
		ORDER BY repo_full_name
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing repo subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*RepoSubscription
	for rows.Next() {
		var sub RepoSubscription
		var installationID sql.NullInt64
		var createdAt string
		if err := rows.Scan(&sub.UserID, &sub.RepoFullName, &installationID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning repo subscription: %w", err)
		}
		if installationID.Valid {
			sub.InstallationID = &installationID.Int64
		}
		if sub.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}

// DeleteRepoSubscription removes a repo subscription.
func (s *SQLiteStore) DeleteRepoSubscription(ctx context.Context, userID, repoFullName string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM repo_subscriptions WHERE user_id = ? AND repo_full_name = ?`,
		userID, repoFullName)
	if err != nil {
		return fmt.Errorf("deleting repo subscription: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRepoSubscribers returns the user ids subscribed to a repository.
func (s *SQLiteStore) ListRepoSubscribers(ctx context.Context, repoFullName string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM repo_subscriptions WHERE repo_full_name = ?`, repoFullName)
	if err != nil {
		return nil, fmt.Errorf("listing repo subscribers: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scanning subscriber: %w", err)
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}

// --- Connections ---

// UpsertConnection links an installation id to a user.
func (s *SQLiteStore) UpsertConnection(ctx context.Context, conn *Connection) error {
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO connections (user_id, installation_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, installation_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query,
		conn.UserID, conn.InstallationID, formatTime(conn.CreatedAt)); err != nil {
		return fmt.Errorf("upserting connection: %w", err)
	}
	return nil
}

// ListUsersByInstallation returns users connected via an installation id.
func (s *SQLiteStore) ListUsersByInstallation(ctx context.Context, installationID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM connections WHERE installation_id = ?`, installationID)
	if err != nil {
		return nil, fmt.Errorf("listing users by installation: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scanning connection: %w", err)
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}

func marshalJSONMap(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func marshalJSONStringMap(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
