// ABOUTME: Tests for the fixture code host and error mapping
// ABOUTME: The fixture backs dev mode and most handler tests

package codehost

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixture_DefaultInventory(t *testing.T) {
	f := NewFixture()
	ctx := context.Background()

	prs, err := f.ListUserPRs(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, prs, 4)

	pr, err := f.GetPR(ctx, "octo/widgets", 101)
	require.NoError(t, err)
	assert.Contains(t, pr.Labels, "urgent")

	pr, err = f.GetPR(ctx, "octo/widgets", 412)
	require.NoError(t, err)
	assert.Equal(t, "open", pr.State)

	checks, err := f.GetChecks(ctx, "octo/widgets", 412)
	require.NoError(t, err)
	require.Len(t, checks, 2)
	for _, c := range checks {
		assert.True(t, c.Passing())
	}

	reviews, err := f.GetReviews(ctx, "octo/widgets", 412)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "approved", reviews[0].State)
}

func TestFixture_NotFound(t *testing.T) {
	f := NewFixture()
	ctx := context.Background()

	_, err := f.GetPR(ctx, "octo/widgets", 9999)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.GetChecks(ctx, "nope/nope", 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.Merge(ctx, "octo/widgets", 9999), ErrNotFound)
	assert.ErrorIs(t, f.RequestReview(ctx, "octo/widgets", 9999, "hubot"), ErrNotFound)
}

func TestFixture_Merge(t *testing.T) {
	f := NewFixture()
	ctx := context.Background()

	require.NoError(t, f.Merge(ctx, "octo/widgets", 412))

	pr, err := f.GetPR(ctx, "octo/widgets", 412)
	require.NoError(t, err)
	assert.True(t, pr.Merged)
	assert.Equal(t, "closed", pr.State)

	// Double merge is rejected.
	assert.Error(t, f.Merge(ctx, "octo/widgets", 412))
}

func TestFixture_RequestReviewRecords(t *testing.T) {
	f := NewFixture()
	ctx := context.Background()

	require.NoError(t, f.RequestReview(ctx, "octo/widgets", 102, "octocat"))

	reviews, err := f.GetReviews(ctx, "octo/widgets", 102)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "octocat", reviews[0].Reviewer)
}

func TestFixture_CreateIssueNumbersIncrement(t *testing.T) {
	f := NewFixture()
	ctx := context.Background()

	n1, err := f.CreateIssue(ctx, "octo/agent-tasks", "task", "body")
	require.NoError(t, err)
	n2, err := f.CreateIssue(ctx, "octo/agent-tasks", "task", "body")
	require.NoError(t, err)
	assert.Equal(t, n1+1, n2)
}

func TestCheck_Passing(t *testing.T) {
	assert.True(t, Check{Status: "completed", Conclusion: "success"}.Passing())
	assert.True(t, Check{Status: "completed", Conclusion: "skipped"}.Passing())
	assert.True(t, Check{Status: "completed", Conclusion: "neutral"}.Passing())
	assert.False(t, Check{Status: "completed", Conclusion: "failure"}.Passing())
	assert.False(t, Check{Status: "in_progress"}.Passing())
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))

	notFound := &github.ErrorResponse{Response: &http.Response{StatusCode: http.StatusNotFound}}
	assert.ErrorIs(t, mapError(notFound), ErrNotFound)

	unauthorized := &github.ErrorResponse{Response: &http.Response{StatusCode: http.StatusUnauthorized}}
	assert.ErrorIs(t, mapError(unauthorized), ErrAuth)

	forbidden := &github.ErrorResponse{Response: &http.Response{StatusCode: http.StatusForbidden}}
	assert.ErrorIs(t, mapError(forbidden), ErrAuth)

	reset := time.Now().Add(time.Hour)
	rate := &github.RateLimitError{Rate: github.Rate{Reset: github.Timestamp{Time: reset}}}
	mapped := mapError(rate)
	assert.ErrorIs(t, mapped, ErrRateLimit)
	var rle *RateLimitError
	require.True(t, errors.As(mapped, &rle))
	assert.Equal(t, reset, rle.ResetAt)

	// Anything else passes through untouched.
	plain := errors.New("boom")
	assert.Equal(t, plain, mapError(plain))
}

func TestSplitRepo(t *testing.T) {
	owner, name, err := splitRepo("octo/widgets")
	require.NoError(t, err)
	assert.Equal(t, "octo", owner)
	assert.Equal(t, "widgets", name)

	_, _, err = splitRepo("widgets")
	assert.Error(t, err)
	_, _, err = splitRepo("/widgets")
	assert.Error(t, err)
}

func TestRepoFromURL(t *testing.T) {
	assert.Equal(t, "octo/widgets", repoFromURL("https://api.github.com/repos/octo/widgets"))
}
