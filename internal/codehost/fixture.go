// ABOUTME: In-memory code-host fixture for tests and dev mode
// ABOUTME: Seeded with a small PR inventory; writes mutate the fixture

package codehost

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Fixture is an in-memory Client. It ships pre-seeded so dev mode works
// out of the box; tests can reseed it.
type Fixture struct {
	mu         sync.Mutex
	prs        map[string]*PullRequest // key repo#number
	checks     map[string][]*Check
	reviews    map[string][]*Review
	nextIssue  int
	issueRepos map[int]string
}

// NewFixture creates a fixture seeded with the default dev inventory:
// three inbox PRs and one mergeable PR 412.
func NewFixture() *Fixture {
	f := &Fixture{
		prs:        make(map[string]*PullRequest),
		checks:     make(map[string][]*Check),
		reviews:    make(map[string][]*Review),
		nextIssue:  1,
		issueRepos: make(map[int]string),
	}

	now := time.Now().UTC()
	f.SeedPR(&PullRequest{
		Repo: "octo/widgets", Number: 101, Title: "Rotate leaked deploy key",
		Author: "octocat", State: "open", Labels: []string{"urgent"}, Role: "reviewer",
		URL: "https://github.com/octo/widgets/pull/101", UpdatedAt: now.Add(-time.Hour),
	}, nil, nil)
	f.SeedPR(&PullRequest{
		Repo: "octo/widgets", Number: 102, Title: "Add retry to uploader",
		Author: "hubot", State: "open", Role: "reviewer",
		URL: "https://github.com/octo/widgets/pull/102", UpdatedAt: now.Add(-2 * time.Hour),
	}, nil, nil)
	f.SeedPR(&PullRequest{
		Repo: "octo/widgets", Number: 103, Title: "Bump linter version",
		Author: "hubot", State: "open", Role: "assignee",
		URL: "https://github.com/octo/widgets/pull/103", UpdatedAt: now.Add(-3 * time.Hour),
	}, nil, nil)
	f.SeedPR(&PullRequest{
		Repo: "octo/widgets", Number: 412, Title: "Ship the periscope integration",
		Author: "octocat", State: "open", Role: "reviewer",
		URL: "https://github.com/octo/widgets/pull/412", UpdatedAt: now,
	}, []*Check{
		{Name: "build", Status: "completed", Conclusion: "success"},
		{Name: "lint", Status: "completed", Conclusion: "success"},
	}, []*Review{
		{Reviewer: "hubot", State: "approved"},
	})

	return f
}

// SeedPR installs or replaces a PR with its checks and reviews.
func (f *Fixture) SeedPR(pr *PullRequest, checks []*Check, reviews []*Review) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := prKey(pr.Repo, pr.Number)
	f.prs[k] = pr
	f.checks[k] = checks
	f.reviews[k] = reviews
}

// Reset drops every seeded PR.
func (f *Fixture) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prs = make(map[string]*PullRequest)
	f.checks = make(map[string][]*Check)
	f.reviews = make(map[string][]*Review)
}

func (f *Fixture) ListUserPRs(_ context.Context, _ string) ([]*PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var prs []*PullRequest
	for _, pr := range f.prs {
		if pr.State == "open" && pr.Role != "" {
			c := *pr
			prs = append(prs, &c)
		}
	}
	sort.Slice(prs, func(i, j int) bool { return prs[i].Number < prs[j].Number })
	return prs, nil
}

func (f *Fixture) GetPR(_ context.Context, repo string, number int) (*PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pr, ok := f.prs[prKey(repo, number)]
	if !ok {
		return nil, ErrNotFound
	}
	c := *pr
	return &c, nil
}

func (f *Fixture) GetChecks(_ context.Context, repo string, number int) ([]*Check, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.prs[prKey(repo, number)]; !ok {
		return nil, ErrNotFound
	}
	return append([]*Check(nil), f.checks[prKey(repo, number)]...), nil
}

func (f *Fixture) GetReviews(_ context.Context, repo string, number int) ([]*Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.prs[prKey(repo, number)]; !ok {
		return nil, ErrNotFound
	}
	return append([]*Review(nil), f.reviews[prKey(repo, number)]...), nil
}

func (f *Fixture) RequestReview(_ context.Context, repo string, number int, reviewer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.prs[prKey(repo, number)]; !ok {
		return ErrNotFound
	}
	f.reviews[prKey(repo, number)] = append(f.reviews[prKey(repo, number)],
		&Review{Reviewer: reviewer, State: "commented"})
	return nil
}

func (f *Fixture) Merge(_ context.Context, repo string, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	pr, ok := f.prs[prKey(repo, number)]
	if !ok {
		return ErrNotFound
	}
	if pr.Merged {
		return fmt.Errorf("codehost: pull request %s#%d already merged", repo, number)
	}
	pr.Merged = true
	pr.State = "closed"
	return nil
}

func (f *Fixture) CreateIssue(_ context.Context, repo, _, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.nextIssue
	f.nextIssue++
	f.issueRepos[n] = repo
	return n, nil
}

func prKey(repo string, number int) string {
	return fmt.Sprintf("%s#%d", repo, number)
}
