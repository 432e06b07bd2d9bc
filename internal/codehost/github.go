// ABOUTME: Live GitHub code-host client backed by go-github
// ABOUTME: Maps GitHub API failures onto the codehost error set

package codehost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/go-github/v66/github"
)

// GitHub is the live Client, used when CODEHOST_MODE=live.
type GitHub struct {
	client *github.Client
	logger *slog.Logger
}

// NewGitHub creates a token-authenticated GitHub client.
func NewGitHub(token string) *GitHub {
	return &GitHub{
		client: github.NewClient(nil).WithAuthToken(token),
		logger: slog.Default().With("component", "codehost"),
	}
}

// NewGitHubWithClient injects a prebuilt client, for tests against a
// stub server.
func NewGitHubWithClient(client *github.Client) *GitHub {
	return &GitHub{
		client: client,
		logger: slog.Default().With("component", "codehost"),
	}
}

// ListUserPRs returns open PRs where the user is a requested reviewer or
// an assignee, via the search API.
func (g *GitHub) ListUserPRs(ctx context.Context, user string) ([]*PullRequest, error) {
	queries := map[string]string{
		"reviewer": fmt.Sprintf("is:open is:pr review-requested:%s archived:false", user),
		"assignee": fmt.Sprintf("is:open is:pr assignee:%s archived:false", user),
	}

	seen := make(map[string]bool)
	var prs []*PullRequest
	for role, q := range queries {
		result, _, err := g.client.Search.Issues(ctx, q, &github.SearchOptions{
			Sort:        "updated",
			Order:       "desc",
			ListOptions: github.ListOptions{PerPage: 50},
		})
		if err != nil {
			return nil, mapError(err)
		}
		for _, issue := range result.Issues {
			repo := repoFromURL(issue.GetRepositoryURL())
			key := prKey(repo, issue.GetNumber())
			if seen[key] {
				continue
			}
			seen[key] = true

			labels := make([]string, 0, len(issue.Labels))
			for _, l := range issue.Labels {
				labels = append(labels, l.GetName())
			}
			prs = append(prs, &PullRequest{
				Repo:      repo,
				Number:    issue.GetNumber(),
				Title:     issue.GetTitle(),
				Author:    issue.GetUser().GetLogin(),
				Body:      issue.GetBody(),
				State:     issue.GetState(),
				Labels:    labels,
				Role:      role,
				URL:       issue.GetHTMLURL(),
				UpdatedAt: issue.GetUpdatedAt().Time,
			})
		}
	}
	return prs, nil
}

func (g *GitHub) GetPR(ctx context.Context, repo string, number int) (*PullRequest, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	pr, _, err := g.client.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return nil, mapError(err)
	}

	labels := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, l.GetName())
	}
	return &PullRequest{
		Repo:      repo,
		Number:    number,
		Title:     pr.GetTitle(),
		Author:    pr.GetUser().GetLogin(),
		Body:      pr.GetBody(),
		State:     pr.GetState(),
		Merged:    pr.GetMerged(),
		Labels:    labels,
		URL:       pr.GetHTMLURL(),
		UpdatedAt: pr.GetUpdatedAt().Time,
	}, nil
}

func (g *GitHub) GetChecks(ctx context.Context, repo string, number int) ([]*Check, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	pr, _, err := g.client.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return nil, mapError(err)
	}
	sha := pr.GetHead().GetSHA()
	if sha == "" {
		return nil, nil
	}

	runs, _, err := g.client.Checks.ListCheckRunsForRef(ctx, owner, name, sha, &github.ListCheckRunsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, mapError(err)
	}

	checks := make([]*Check, 0, len(runs.CheckRuns))
	for _, run := range runs.CheckRuns {
		checks = append(checks, &Check{
			Name:       run.GetName(),
			Status:     run.GetStatus(),
			Conclusion: run.GetConclusion(),
		})
	}
	return checks, nil
}

func (g *GitHub) GetReviews(ctx context.Context, repo string, number int) ([]*Review, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	reviews, _, err := g.client.PullRequests.ListReviews(ctx, owner, name, number, &github.ListOptions{PerPage: 100})
	if err != nil {
		return nil, mapError(err)
	}

	out := make([]*Review, 0, len(reviews))
	for _, r := range reviews {
		out = append(out, &Review{
			Reviewer: r.GetUser().GetLogin(),
			State:    strings.ToLower(r.GetState()),
		})
	}
	return out, nil
}

func (g *GitHub) RequestReview(ctx context.Context, repo string, number int, reviewer string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}

	_, _, err = g.client.PullRequests.RequestReviewers(ctx, owner, name, number, github.ReviewersRequest{
		Reviewers: []string{reviewer},
	})
	return mapError(err)
}

func (g *GitHub) Merge(ctx context.Context, repo string, number int) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}

	_, _, err = g.client.PullRequests.Merge(ctx, owner, name, number, "", &github.PullRequestOptions{})
	return mapError(err)
}

func (g *GitHub) CreateIssue(ctx context.Context, repo, title, body string) (int, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return 0, err
	}

	issue, _, err := g.client.Issues.Create(ctx, owner, name, &github.IssueRequest{
		Title: github.String(title),
		Body:  github.String(body),
	})
	if err != nil {
		return 0, mapError(err)
	}
	return issue.GetNumber(), nil
}

// mapError folds go-github failures into the codehost error set.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &RateLimitError{ResetAt: rateErr.Rate.Reset.Time}
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return ErrRateLimit
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusNotFound, http.StatusGone:
			return ErrNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			return ErrAuth
		}
	}
	return err
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("codehost: malformed repo %q, want owner/name", repo)
	}
	return parts[0], parts[1], nil
}

func repoFromURL(apiURL string) string {
	// https://api.github.com/repos/owner/name
	if i := strings.Index(apiURL, "/repos/"); i >= 0 {
		return apiURL[i+len("/repos/"):]
	}
	return apiURL
}
