// ABOUTME: Tests for the webhook ingestion pipeline
// ABOUTME: Signature checks, dedupe, routing, recovery, and correlation

package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/periscope-dev/periscope/internal/agenttask"
	"github.com/periscope-dev/periscope/internal/kv"
	"github.com/periscope-dev/periscope/internal/notify"
	"github.com/periscope-dev/periscope/internal/push"
	"github.com/periscope-dev/periscope/internal/session"
	"github.com/periscope-dev/periscope/internal/store"
)

type testEnv struct {
	ingestor *Ingestor
	store    *store.MemoryStore
	tasks    *agenttask.Service
	sessions *session.Store
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()

	st := store.NewMemoryStore()
	kvStore := kv.NewMemory()
	t.Cleanup(func() { kvStore.Close() })

	sessions := session.NewStore(kvStore, 0)
	notifier := notify.NewService(st, st, push.NewRegistry(), 0)
	tasks := agenttask.NewService(st, notifier, sessions, "octo/agent-tasks")
	tasks.RegisterProvider(agenttask.MockProvider{})

	return &testEnv{
		ingestor: NewIngestor(st, st, notifier, tasks, sessions, secret),
		store:    st,
		tasks:    tasks,
		sessions: sessions,
	}
}

func prOpenedPayload(repo string, number int, body string) []byte {
	return []byte(fmt.Sprintf(`{
		"action": "opened",
		"pull_request": {
			"number": %d,
			"title": "Add widget support",
			"body": %q,
			"html_url": "https://github.com/%s/pull/%d",
			"state": "open",
			"user": {"login": "octocat"},
			"head": {"ref": "feature/widgets", "sha": "abc123"}
		},
		"repository": {"full_name": %q},
		"installation": {"id": 777}
	}`, number, body, repo, number, repo))
}

func TestIngest_BadSignature(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	_, err := env.ingestor.Ingest(ctx, "pull_request", "d1", "sha256=bogus", prOpenedPayload("org/x", 5, ""))
	assert.ErrorIs(t, err, ErrBadSignature)

	events, err := env.store.ListEvents(ctx, store.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events, "nothing persisted on signature failure")
}

func TestIngest_DevBypass(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	res, err := env.ingestor.Ingest(ctx, "pull_request", "d1", "dev", prOpenedPayload("org/x", 5, ""))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.NotEmpty(t, res.EventID)
}

func TestIngest_RealSignature(t *testing.T) {
	secret := "hook-secret"
	env := newTestEnv(t, secret)
	ctx := context.Background()

	payload := prOpenedPayload("org/x", 5, "")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	signature := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	_, err := env.ingestor.Ingest(ctx, "pull_request", "d1", signature, payload)
	require.NoError(t, err)

	// The literal "dev" bypass is off once a secret is configured.
	_, err = env.ingestor.Ingest(ctx, "pull_request", "d2", "dev", payload)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestIngest_RoutesAndNotifies(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	// alice subscribes to the repo; bob is connected via the
	// installation; carol is unrelated.
	require.NoError(t, env.store.UpsertRepoSubscription(ctx, &store.RepoSubscription{
		UserID: "alice", RepoFullName: "org/x",
	}))
	require.NoError(t, env.store.UpsertConnection(ctx, &store.Connection{
		UserID: "bob", InstallationID: 777,
	}))
	require.NoError(t, env.store.UpsertRepoSubscription(ctx, &store.RepoSubscription{
		UserID: "carol", RepoFullName: "org/other",
	}))

	_, err := env.ingestor.Ingest(ctx, "pull_request", "d1", "dev", prOpenedPayload("org/x", 5, ""))
	require.NoError(t, err)

	for _, user := range []string{"alice", "bob"} {
		rows, err := env.store.ListNotifications(ctx, user, time.Time{}, 50)
		require.NoError(t, err)
		require.Len(t, rows, 1, "user %s", user)
		assert.Equal(t, "webhook.pr_opened", rows[0].EventType)
	}

	rows, err := env.store.ListNotifications(ctx, "carol", time.Time{}, 50)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// The event row was marked processed.
	events, err := env.store.ListEvents(ctx, store.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].ProcessedOK)
	assert.True(t, *events[0].ProcessedOK)
}

func TestIngest_DuplicateDeliveryFansOutOnce(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	require.NoError(t, env.store.UpsertRepoSubscription(ctx, &store.RepoSubscription{
		UserID: "alice", RepoFullName: "org/x",
	}))

	payload := prOpenedPayload("org/x", 5, "")
	first, err := env.ingestor.Ingest(ctx, "pull_request", "d1", "dev", payload)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := env.ingestor.Ingest(ctx, "pull_request", "d1", "dev", payload)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)

	events, err := env.store.ListEvents(ctx, store.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	rows, err := env.store.ListNotifications(ctx, "alice", time.Time{}, 50)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "exactly one notification despite the retry")
}

func TestIngest_ThrottledByUserProfile(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	require.NoError(t, env.store.UpsertRepoSubscription(ctx, &store.RepoSubscription{
		UserID: "alice", RepoFullName: "org/x",
	}))
	require.NoError(t, env.sessions.SetUserProfile(ctx, "alice", "workout"))

	// pr_labeled is priority 2, below workout's threshold of 4.
	payload := []byte(`{
		"action": "labeled",
		"label": {"name": "docs"},
		"pull_request": {
			"number": 5,
			"user": {"login": "octocat"},
			"head": {"ref": "main", "sha": "abc"}
		},
		"repository": {"full_name": "org/x"}
	}`)
	_, err := env.ingestor.Ingest(ctx, "pull_request", "d1", "dev", payload)
	require.NoError(t, err)

	rows, err := env.store.ListNotifications(ctx, "alice", time.Time{}, 50)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestIngest_UnhandledEventTypeStoredNotActed(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	_, err := env.ingestor.Ingest(ctx, "watch", "d1", "dev", []byte(`{"action":"started"}`))
	require.NoError(t, err)

	events, err := env.store.ListEvents(ctx, store.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].ProcessedOK)
	assert.True(t, *events[0].ProcessedOK)
}

func TestIngest_MalformedPayloadMarksFailure(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	res, err := env.ingestor.Ingest(ctx, "pull_request", "d1", "dev", []byte("not json"))
	require.NoError(t, err, "sender still gets accepted")

	event, err := env.store.GetEvent(ctx, res.EventID)
	require.NoError(t, err)
	require.NotNil(t, event.ProcessedOK)
	assert.False(t, *event.ProcessedOK)
	require.NotNil(t, event.ProcessingError)
	assert.NotEmpty(t, *event.ProcessingError)
}

func TestIngest_CorrelatesAgentTask(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	task, err := env.tasks.Create(ctx, "alice", "mock", "fix the flaky test")
	require.NoError(t, err)
	require.NoError(t, env.tasks.Dispatch(ctx, task))

	body := "Done. <!-- agent_task_metadata {\"task_id\":\"" + task.ID + "\"} -->"
	_, err = env.ingestor.Ingest(ctx, "pull_request", "d1", "dev", prOpenedPayload("org/x", 9, body))
	require.NoError(t, err)

	got, err := env.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStateCompleted, got.State)

	rows, err := env.store.ListNotifications(ctx, "alice", time.Time{}, 50)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "agent.task_completed", rows[0].EventType)
}

func TestRetryAndRecovery(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	require.NoError(t, env.store.UpsertRepoSubscription(ctx, &store.RepoSubscription{
		UserID: "alice", RepoFullName: "org/x",
	}))

	// Simulate a crash after insert: the event exists, unprocessed.
	event := &store.WebhookEvent{
		Source: "github", EventType: "pull_request", DeliveryID: "crashed-1",
		SignatureOK: true, Payload: prOpenedPayload("org/x", 6, ""),
	}
	require.NoError(t, env.store.InsertEvent(ctx, event))

	require.NoError(t, env.ingestor.RecoverUnprocessed(ctx, 100))

	got, err := env.store.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ProcessedOK)
	assert.True(t, *got.ProcessedOK)

	rows, err := env.store.ListNotifications(ctx, "alice", time.Time{}, 50)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	// Retry on an unknown event id surfaces not found.
	assert.ErrorIs(t, env.ingestor.Retry(ctx, "ghost"), store.ErrNotFound)
}
