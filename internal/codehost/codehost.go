// ABOUTME: Code-host client abstraction for PR reads, writes, and issues
// ABOUTME: Fixture and live GitHub implementations share this surface

package codehost

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a repo, PR, or issue does not exist or is
// not visible to the token.
var ErrNotFound = errors.New("codehost: not found")

// ErrAuth is returned when the token is missing, expired, or lacks scope.
var ErrAuth = errors.New("codehost: authentication failed")

// ErrRateLimit is returned when the host asked us to slow down. Wrap it
// in a RateLimitError to carry the reset time.
var ErrRateLimit = errors.New("codehost: rate limited")

// RateLimitError carries the host's reset time alongside ErrRateLimit.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("codehost: rate limited until %s", e.ResetAt.Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimit }

// PullRequest is the host-neutral PR shape the handlers consume.
type PullRequest struct {
	Repo      string
	Number    int
	Title     string
	Author    string
	Body      string
	State     string // open, closed
	Merged    bool
	Labels    []string
	// Role is the caller's relationship to the PR: reviewer, assignee,
	// author, or empty.
	Role      string
	URL       string
	UpdatedAt time.Time
}

// Check is one check run on a PR's head commit.
type Check struct {
	Name       string
	Status     string // queued, in_progress, completed
	Conclusion string // success, failure, neutral, cancelled, skipped
}

// Passing reports whether the check completed successfully or was
// skipped.
func (c Check) Passing() bool {
	return c.Status == "completed" && (c.Conclusion == "success" || c.Conclusion == "skipped" || c.Conclusion == "neutral")
}

// Review is one submitted PR review.
type Review struct {
	Reviewer string
	State    string // approved, changes_requested, commented
}

// Client is the capability set the command handlers and the agent
// dispatcher need from a code host.
type Client interface {
	ListUserPRs(ctx context.Context, user string) ([]*PullRequest, error)
	GetPR(ctx context.Context, repo string, number int) (*PullRequest, error)
	GetChecks(ctx context.Context, repo string, number int) ([]*Check, error)
	GetReviews(ctx context.Context, repo string, number int) ([]*Review, error)
	RequestReview(ctx context.Context, repo string, number int, reviewer string) error
	Merge(ctx context.Context, repo string, number int) error
	// CreateIssue opens an issue and returns its number. The agent
	// dispatcher uses this for github_issue_dispatch.
	CreateIssue(ctx context.Context, repo, title, body string) (int, error)
}
