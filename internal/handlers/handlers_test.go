// ABOUTME: End-to-end handler tests over the command router and fixture
// ABOUTME: Inbox digests, merges with confirmation, delegation, navigation

package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/periscope-dev/periscope/internal/agenttask"
	"github.com/periscope-dev/periscope/internal/codehost"
	"github.com/periscope-dev/periscope/internal/command"
	"github.com/periscope-dev/periscope/internal/kv"
	"github.com/periscope-dev/periscope/internal/notify"
	"github.com/periscope-dev/periscope/internal/pending"
	"github.com/periscope-dev/periscope/internal/push"
	"github.com/periscope-dev/periscope/internal/session"
	"github.com/periscope-dev/periscope/internal/speech"
	"github.com/periscope-dev/periscope/internal/store"
)

type env struct {
	router   *command.Router
	fixture  *codehost.Fixture
	store    *store.MemoryStore
	sessions *session.Store
	tasks    *agenttask.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()

	kvStore := kv.NewMemory()
	t.Cleanup(func() { kvStore.Close() })

	st := store.NewMemoryStore()
	fixture := codehost.NewFixture()
	sessions := session.NewStore(kvStore, 0)
	pendings := pending.NewManager(kvStore, 0)
	notifier := notify.NewService(st, st, push.NewRegistry(), 0)

	tasks := agenttask.NewService(st, notifier, sessions, "octo/agent-tasks")
	tasks.RegisterProvider(agenttask.MockProvider{})

	router := command.NewRouter(pendings, sessions, speech.StubSTT{}, kvStore, 0, time.Minute)
	RegisterAll(router, &Deps{
		Codehost:        fixture,
		Policies:        st,
		Tasks:           tasks,
		TaskRows:        st,
		Sessions:        sessions,
		DefaultProvider: "mock",
	})

	return &env{router: router, fixture: fixture, store: st, sessions: sessions, tasks: tasks}
}

func (e *env) say(t *testing.T, text string) *command.Response {
	t.Helper()
	resp, err := e.router.Handle(context.Background(), &command.HandleRequest{
		UserID:    "alice",
		SessionID: "s1",
		Input:     command.Input{Type: "text", Text: text},
	})
	require.NoError(t, err)
	return resp
}

func TestInboxDigest(t *testing.T) {
	e := newEnv(t)

	resp := e.say(t, "inbox")

	// The urgent PR leads; the rest order by recency.
	assert.Contains(t, resp.Response.Text, "You have 4 items.")
	assert.Contains(t, resp.Response.Text, "First, PR 101, Rotate leaked deploy key.")
	require.Len(t, resp.Cards, 4)
	assert.Equal(t, "PR #101", resp.Cards[0].Title)
	assert.Equal(t, "Rotate leaked deploy key", resp.Cards[0].Subtitle)
	assert.Equal(t, "PR #412", resp.Cards[1].Title)
	assert.Equal(t, "PR #102", resp.Cards[2].Title)
}

func TestInboxEmpty(t *testing.T) {
	e := newEnv(t)
	e.fixture.Reset()

	resp := e.say(t, "inbox")
	assert.Equal(t, "Your inbox is empty.", resp.Response.Text)
	assert.Empty(t, resp.Cards)
}

func TestNavigationNext(t *testing.T) {
	e := newEnv(t)

	e.say(t, "inbox")

	second := e.say(t, "next")
	assert.Contains(t, second.Response.Text, "Ship the periscope integration")

	third := e.say(t, "next")
	assert.Contains(t, third.Response.Text, "Add retry to uploader")

	e.say(t, "next")
	end := e.say(t, "next")
	assert.Equal(t, "That's the end of the list.", end.Response.Text)
}

func TestNavigationNextWithoutList(t *testing.T) {
	e := newEnv(t)

	resp := e.say(t, "next")
	assert.Equal(t, "error", resp.Response.Type)
	assert.Equal(t, command.KindNotFound, resp.Response.ErrorKind)
}

func TestSummarize(t *testing.T) {
	e := newEnv(t)

	resp := e.say(t, "summarize PR 412")

	assert.Contains(t, resp.Response.Text, "PR 412 by octocat")
	assert.Contains(t, resp.Response.Text, "2 of 2 checks passing")
	assert.Contains(t, resp.Response.Text, "1 approval")

	// The focus follows the summary.
	sc, err := e.sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, "octo/widgets", sc.FocusRepo)
	assert.Equal(t, 412, sc.FocusPR)
}

func TestSummarizeUnknownPR(t *testing.T) {
	e := newEnv(t)

	resp := e.say(t, "summarize PR 999")
	assert.Equal(t, "error", resp.Response.Type)
	assert.Equal(t, command.KindNotFound, resp.Response.ErrorKind)
}

func TestMergeHappyPath(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	resp := e.say(t, "merge PR 412")
	assert.True(t, resp.NeedsConfirmation)
	assert.Contains(t, resp.Response.Text, "Ready to merge PR 412 on octo/widgets.")

	confirmed := e.say(t, "confirm")
	assert.Equal(t, "Merged PR 412.", confirmed.Response.Text)

	pr, err := e.fixture.GetPR(ctx, "octo/widgets", 412)
	require.NoError(t, err)
	assert.True(t, pr.Merged)
}

func TestMergeUsesSessionFocus(t *testing.T) {
	e := newEnv(t)

	e.say(t, "summarize PR 412")
	resp := e.say(t, "merge it")

	assert.True(t, resp.NeedsConfirmation)
	assert.Contains(t, resp.Response.Text, "merge PR 412")
}

func TestMergeFailingChecksBlocked(t *testing.T) {
	e := newEnv(t)
	e.fixture.SeedPR(&codehost.PullRequest{
		Repo: "octo/widgets", Number: 500, Title: "Risky change",
		Author: "hubot", State: "open", Role: "reviewer",
		UpdatedAt: time.Now().UTC(),
	}, []*codehost.Check{
		{Name: "build", Status: "completed", Conclusion: "success"},
		{Name: "lint", Status: "completed", Conclusion: "failure"},
	}, nil)

	resp := e.say(t, "merge PR 500")
	assert.Equal(t, "error", resp.Response.Type)
	assert.Equal(t, command.KindConflict, resp.Response.ErrorKind)
	assert.Contains(t, resp.Response.Text, "lint")
	assert.Contains(t, resp.Response.Text, "force merge PR 500")

	// Force merge skips the gate but still confirms.
	forced := e.say(t, "force merge PR 500")
	assert.True(t, forced.NeedsConfirmation)
	assert.Contains(t, forced.Response.Text, "force merge PR 500")

	confirmed := e.say(t, "confirm")
	assert.Equal(t, "Merged PR 500.", confirmed.Response.Text)
}

func TestMergePolicyForbidden(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.store.SetRepoPolicy(ctx, &store.RepoPolicy{
		UserID: "alice", RepoFullName: "octo/widgets", AllowWrite: false,
	}))

	resp := e.say(t, "merge PR 412")
	assert.Equal(t, "error", resp.Response.Type)
	assert.Equal(t, command.KindForbidden, resp.Response.ErrorKind)

	pr, err := e.fixture.GetPR(ctx, "octo/widgets", 412)
	require.NoError(t, err)
	assert.False(t, pr.Merged)
}

func TestMergePolicyFlipsBetweenProposeAndConfirm(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	resp := e.say(t, "merge PR 412")
	require.True(t, resp.NeedsConfirmation)

	require.NoError(t, e.store.SetRepoPolicy(ctx, &store.RepoPolicy{
		UserID: "alice", RepoFullName: "octo/widgets", AllowWrite: false,
	}))

	confirmed := e.say(t, "confirm")
	assert.Equal(t, "error", confirmed.Response.Type)
	assert.Equal(t, command.KindForbidden, confirmed.Response.ErrorKind)
}

func TestRequestReviewPolicyForbidden(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.store.SetRepoPolicy(ctx, &store.RepoPolicy{
		UserID: "alice", RepoFullName: "octo/widgets", AllowWrite: false,
	}))

	resp := e.say(t, "request a review from hubot on PR 412")
	assert.Equal(t, "error", resp.Response.Type)
	assert.Equal(t, command.KindForbidden, resp.Response.ErrorKind)
	assert.False(t, resp.NeedsConfirmation)
	assert.Nil(t, resp.PendingAction)

	reviews, err := e.fixture.GetReviews(ctx, "octo/widgets", 412)
	require.NoError(t, err)
	for _, r := range reviews {
		assert.NotEqual(t, "hubot", r.Reviewer)
	}
}

func TestRequestReviewPolicyFlipsBetweenProposeAndConfirm(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	resp := e.say(t, "request a review from hubot on PR 412")
	require.True(t, resp.NeedsConfirmation)

	require.NoError(t, e.store.SetRepoPolicy(ctx, &store.RepoPolicy{
		UserID: "alice", RepoFullName: "octo/widgets", AllowWrite: false,
	}))

	confirmed := e.say(t, "confirm")
	assert.Equal(t, "error", confirmed.Response.Type)
	assert.Equal(t, command.KindForbidden, confirmed.Response.ErrorKind)
}

func TestRequestReview(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	resp := e.say(t, "request a review from hubot on PR 101")
	assert.True(t, resp.NeedsConfirmation)
	assert.Contains(t, resp.Response.Text, "request a review from hubot on PR 101")

	confirmed := e.say(t, "confirm")
	assert.Equal(t, "Asked hubot to review PR 101.", confirmed.Response.Text)

	reviews, err := e.fixture.GetReviews(ctx, "octo/widgets", 101)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "hubot", reviews[0].Reviewer)
}

func TestChecksStatus(t *testing.T) {
	e := newEnv(t)
	e.fixture.SeedPR(&codehost.PullRequest{
		Repo: "octo/widgets", Number: 600, Title: "Mixed checks",
		Author: "hubot", State: "open", Role: "reviewer",
		UpdatedAt: time.Now().UTC(),
	}, []*codehost.Check{
		{Name: "build", Status: "completed", Conclusion: "success"},
		{Name: "lint", Status: "completed", Conclusion: "failure"},
		{Name: "e2e", Status: "in_progress"},
	}, nil)

	resp := e.say(t, "what's the status of 600")
	assert.Equal(t, "1 of 3 checks passing, lint failing, 1 still running.", resp.Response.Text)
}

func TestChecksStatusFromFocus(t *testing.T) {
	e := newEnv(t)

	e.say(t, "summarize PR 412")
	resp := e.say(t, "are the checks passing")
	assert.Equal(t, "2 of 2 checks passing.", resp.Response.Text)
}

func TestDelegate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	resp := e.say(t, "have an agent fix the flaky uploader test")
	assert.True(t, resp.NeedsConfirmation)
	assert.Contains(t, resp.Response.Text, "delegate to an agent")

	confirmed := e.say(t, "confirm")
	assert.Equal(t, "Delegated. I'll notify you when it's done.", confirmed.Response.Text)

	task, err := e.store.LatestTask(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, store.TaskStateRunning, task.State)
	assert.Equal(t, "fix the flaky uploader test", task.Instruction)
}

func TestDelegateCancelled(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.say(t, "have an agent fix the flaky uploader test")
	resp := e.say(t, "cancel")
	assert.Equal(t, "Cancelled.", resp.Response.Text)

	_, err := e.store.LatestTask(ctx, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound, "no task created before confirm")
}

func TestProgress(t *testing.T) {
	e := newEnv(t)

	resp := e.say(t, "how's the agent doing")
	assert.Equal(t, "error", resp.Response.Type)
	assert.Equal(t, command.KindNotFound, resp.Response.ErrorKind)

	e.say(t, "have an agent fix the flaky uploader test")
	e.say(t, "confirm")

	running := e.say(t, "how's the agent doing")
	assert.Contains(t, running.Response.Text, "still working")
}

func TestSetProfile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	resp := e.say(t, "set my profile to workout")
	assert.Equal(t, "Profile set to workout.", resp.Response.Text)

	userProfile, err := e.sessions.GetUserProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "workout", userProfile)

	// The session now shapes follow-up responses.
	next := e.say(t, "inbox")
	assert.Equal(t, 1.2, next.SpeechRate)
}

func TestSetProfileUnknown(t *testing.T) {
	e := newEnv(t)

	resp := e.say(t, "set my profile to submarine")
	assert.Equal(t, "error", resp.Response.Type)
	assert.Equal(t, command.KindValidation, resp.Response.ErrorKind)
	assert.Contains(t, resp.Response.Text, "workout")
}
