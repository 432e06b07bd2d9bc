// ABOUTME: Event log operations on the SQLite store
// ABOUTME: Append-only webhook events with replay protection and processed marking

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertEvent persists a webhook event. ReceivedAt is set by the log.
// Returns ErrDuplicateDelivery when (source, delivery_id) already exists;
// this is the linearization point for webhook dedupe.
func (s *SQLiteStore) InsertEvent(ctx context.Context, event *WebhookEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	event.ReceivedAt = time.Now().UTC()

	query := `
		INSERT INTO webhook_events (id, source, event_type, delivery_id, signature_ok, payload, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Source,
		event.EventType,
		event.DeliveryID,
		boolToInt(event.SignatureOK),
		event.Payload,
		formatTime(event.ReceivedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateDelivery
		}
		return fmt.Errorf("inserting webhook event: %w", err)
	}

	s.logger.Debug("inserted webhook event",
		"id", event.ID, "source", event.Source,
		"event_type", event.EventType, "delivery_id", event.DeliveryID)
	return nil
}

const eventColumns = `id, source, event_type, delivery_id, signature_ok, payload,
	received_at, processed_ok, processing_error, processed_at`

// GetEvent retrieves a webhook event by ID.
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*WebhookEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM webhook_events WHERE id = ?`
	event, err := scanEvent(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting webhook event: %w", err)
	}
	return event, nil
}

// ListEvents retrieves events matching the filter, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]*WebhookEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM webhook_events WHERE 1=1`
	args := []any{}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if filter.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, filter.EventType)
	}
	query += ` ORDER BY received_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing webhook events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// MarkEventProcessed records the outcome of event processing. Only the
// processed_* triple is ever mutated.
func (s *SQLiteStore) MarkEventProcessed(ctx context.Context, id string, ok bool, processingError string) error {
	query := `
		UPDATE webhook_events
		SET processed_ok = ?, processing_error = ?, processed_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		boolToInt(ok),
		nullString(processingError),
		formatTime(time.Now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("marking event processed: %w", err)
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

// ListUnprocessedEvents returns events that were inserted but never marked
// processed, oldest first. The startup recovery scan replays these.
func (s *SQLiteStore) ListUnprocessedEvents(ctx context.Context, limit int) ([]*WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + eventColumns + `
		FROM webhook_events
		WHERE processed_ok IS NULL
		ORDER BY received_at ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unprocessed events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*WebhookEvent, error) {
	var event WebhookEvent
	var signatureOK int
	var receivedAt string
	var processedOK sql.NullInt64
	var processingError sql.NullString
	var processedAt sql.NullString

	err := row.Scan(
		&event.ID,
		&event.Source,
		&event.EventType,
		&event.DeliveryID,
		&signatureOK,
		&event.Payload,
		&receivedAt,
		&processedOK,
		&processingError,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}

	event.SignatureOK = signatureOK != 0
	if event.ReceivedAt, err = parseTime(receivedAt); err != nil {
		return nil, err
	}
	if processedOK.Valid {
		ok := processedOK.Int64 != 0
		event.ProcessedOK = &ok
	}
	if processingError.Valid {
		event.ProcessingError = &processingError.String
	}
	if processedAt.Valid {
		t, err := parseTime(processedAt.String)
		if err != nil {
			return nil, err
		}
		event.ProcessedAt = &t
	}
	return &event, nil
}

func collectEvents(rows *sql.Rows) ([]*WebhookEvent, error) {
	var events []*WebhookEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating webhook events: %w", err)
	}
	return events, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
