// ABOUTME: Shared test setup and event log tests for the store package
// ABOUTME: Runs the same contract against SQLiteStore and MemoryStore

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

// testStores returns both Store implementations under a shared contract.
func testStores(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"sqlite": setupTestStore(t),
		"memory": NewMemoryStore(),
	}
}

func TestEventLog_InsertAndGet(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			event := &WebhookEvent{
				Source:      "github",
				EventType:   "pull_request",
				DeliveryID:  "d-001",
				SignatureOK: true,
				Payload:     []byte(`{"action":"opened"}`),
			}

			err := s.InsertEvent(ctx, event)
			require.NoError(t, err)
			require.NotEmpty(t, event.ID)
			assert.False(t, event.ReceivedAt.IsZero(), "log sets received_at")

			retrieved, err := s.GetEvent(ctx, event.ID)
			require.NoError(t, err)
			assert.Equal(t, "github", retrieved.Source)
			assert.Equal(t, "pull_request", retrieved.EventType)
			assert.Equal(t, "d-001", retrieved.DeliveryID)
			assert.True(t, retrieved.SignatureOK)
			assert.Equal(t, []byte(`{"action":"opened"}`), retrieved.Payload)
			assert.Nil(t, retrieved.ProcessedOK)
			assert.Nil(t, retrieved.ProcessedAt)
		})
	}
}

func TestEventLog_DuplicateDelivery(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first := &WebhookEvent{Source: "github", EventType: "pull_request", DeliveryID: "dup-1", Payload: []byte(`{}`)}
			require.NoError(t, s.InsertEvent(ctx, first))

			second := &WebhookEvent{Source: "github", EventType: "pull_request", DeliveryID: "dup-1", Payload: []byte(`{}`)}
			err := s.InsertEvent(ctx, second)
			assert.ErrorIs(t, err, ErrDuplicateDelivery)

			// Same delivery id under another source is a different delivery.
			other := &WebhookEvent{Source: "gitlab", EventType: "merge_request", DeliveryID: "dup-1", Payload: []byte(`{}`)}
			require.NoError(t, s.InsertEvent(ctx, other))
		})
	}
}

func TestEventLog_MarkProcessed(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			event := &WebhookEvent{Source: "github", EventType: "push", DeliveryID: "mp-1", Payload: []byte(`{}`)}
			require.NoError(t, s.InsertEvent(ctx, event))

			require.NoError(t, s.MarkEventProcessed(ctx, event.ID, true, ""))

			retrieved, err := s.GetEvent(ctx, event.ID)
			require.NoError(t, err)
			require.NotNil(t, retrieved.ProcessedOK)
			assert.True(t, *retrieved.ProcessedOK)
			assert.Nil(t, retrieved.ProcessingError)
			require.NotNil(t, retrieved.ProcessedAt)

			// Failure path records the error.
			failed := &WebhookEvent{Source: "github", EventType: "push", DeliveryID: "mp-2", Payload: []byte(`{}`)}
			require.NoError(t, s.InsertEvent(ctx, failed))
			require.NoError(t, s.MarkEventProcessed(ctx, failed.ID, false, "normalize: boom"))

			retrieved, err = s.GetEvent(ctx, failed.ID)
			require.NoError(t, err)
			require.NotNil(t, retrieved.ProcessedOK)
			assert.False(t, *retrieved.ProcessedOK)
			require.NotNil(t, retrieved.ProcessingError)
			assert.Equal(t, "normalize: boom", *retrieved.ProcessingError)
		})
	}
}

func TestEventLog_MarkProcessedNotFound(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.MarkEventProcessed(context.Background(), "no-such-event", true, "")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestEventLog_ListUnprocessed(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			a := &WebhookEvent{Source: "github", EventType: "push", DeliveryID: "u-1", Payload: []byte(`{}`)}
			b := &WebhookEvent{Source: "github", EventType: "push", DeliveryID: "u-2", Payload: []byte(`{}`)}
			c := &WebhookEvent{Source: "github", EventType: "push", DeliveryID: "u-3", Payload: []byte(`{}`)}
			require.NoError(t, s.InsertEvent(ctx, a))
			require.NoError(t, s.InsertEvent(ctx, b))
			require.NoError(t, s.InsertEvent(ctx, c))

			require.NoError(t, s.MarkEventProcessed(ctx, b.ID, true, ""))

			unprocessed, err := s.ListUnprocessedEvents(ctx, 10)
			require.NoError(t, err)
			require.Len(t, unprocessed, 2)

			ids := []string{unprocessed[0].ID, unprocessed[1].ID}
			assert.Contains(t, ids, a.ID)
			assert.Contains(t, ids, c.ID)
		})
	}
}

func TestEventLog_ListEventsFilter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertEvent(ctx, &WebhookEvent{Source: "github", EventType: "pull_request", DeliveryID: "f-1", Payload: []byte(`{}`)}))
	require.NoError(t, s.InsertEvent(ctx, &WebhookEvent{Source: "github", EventType: "push", DeliveryID: "f-2", Payload: []byte(`{}`)}))

	events, err := s.ListEvents(ctx, EventFilter{EventType: "pull_request"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "f-1", events[0].DeliveryID)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	event := &WebhookEvent{Source: "github", EventType: "ping", DeliveryID: "mem-1", Payload: []byte(`{}`)}
	require.NoError(t, s.InsertEvent(ctx, event))

	retrieved, err := s.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, "ping", retrieved.EventType)
}
