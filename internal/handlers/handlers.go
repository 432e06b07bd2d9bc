// ABOUTME: Intent handlers behind the command router
// ABOUTME: Shared dependencies, registration, and code-host error mapping

package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/periscope-dev/periscope/internal/agenttask"
	"github.com/periscope-dev/periscope/internal/codehost"
	"github.com/periscope-dev/periscope/internal/command"
	"github.com/periscope-dev/periscope/internal/session"
	"github.com/periscope-dev/periscope/internal/store"
)

// Deps is everything the handlers reach for. All handlers share one set.
type Deps struct {
	Codehost codehost.Client
	Policies store.RepoPolicyStore
	Tasks    *agenttask.Service
	TaskRows store.AgentTaskStore
	Sessions *session.Store
	// DefaultProvider names the agent provider delegation uses.
	DefaultProvider string
}

// RegisterAll installs every handler on the router.
func RegisterAll(r *command.Router, deps *Deps) {
	r.Register(&inboxHandler{deps})
	r.Register(&summarizeHandler{deps})
	r.Register(&requestReviewHandler{deps})
	r.Register(&mergeHandler{deps})
	r.Register(&checksHandler{deps})
	r.Register(&delegateHandler{deps})
	r.Register(&progressHandler{deps})
	r.Register(&nextHandler{deps})
	r.Register(&setProfileHandler{deps})
}

// hostError maps code-host failures onto the response error kinds with a
// speakable message.
func hostError(err error, what string) command.Result {
	switch {
	case errors.Is(err, codehost.ErrNotFound):
		return command.Fail(command.KindNotFound, fmt.Sprintf("I couldn't find %s.", what))
	case errors.Is(err, codehost.ErrRateLimit):
		return command.Fail(command.KindRateLimited, "The code host is rate limiting us. Give it a minute.")
	case errors.Is(err, codehost.ErrAuth):
		return command.Fail(command.KindUpstream, "The code host rejected my credentials.")
	case errors.Is(err, context.DeadlineExceeded):
		return command.Fail(command.KindTimeout, "The code host is slow right now. Try again.")
	default:
		return command.Fail(command.KindUpstream, "The code host isn't responding. Try again.")
	}
}

// resolvePR turns a pr_number entity, or the session focus when the
// entity is absent, into a concrete (repo, number) pair. The bool is
// false when neither source can name a PR.
func resolvePR(req *command.Request) (repo string, number int, ok bool) {
	if n, isInt := req.Entities["pr_number"].(int); isInt {
		number = n
	} else if f, isFloat := req.Entities["pr_number"].(float64); isFloat {
		// Entities replayed through the pending store arrive as JSON
		// numbers.
		number = int(f)
	}

	if req.Session != nil {
		repo = req.Session.FocusRepo
		if number == 0 {
			number = req.Session.FocusPR
		}
	}
	if r, isStr := req.Entities["repo"].(string); isStr && r != "" {
		repo = r
	}
	return repo, number, number != 0
}

// findUserPR locates a PR by number across the user's open PRs when the
// session has no focus repo to resolve against.
func findUserPR(ctx context.Context, client codehost.Client, user string, number int) (*codehost.PullRequest, error) {
	prs, err := client.ListUserPRs(ctx, user)
	if err != nil {
		return nil, err
	}
	for _, pr := range prs {
		if pr.Number == number {
			return pr, nil
		}
	}
	return nil, codehost.ErrNotFound
}

// loadPR resolves the repo if needed and fetches the PR.
func loadPR(ctx context.Context, deps *Deps, req *command.Request, repo string, number int) (*codehost.PullRequest, command.Result, bool) {
	if repo == "" {
		pr, err := findUserPR(ctx, deps.Codehost, req.UserID, number)
		if err != nil {
			return nil, hostError(err, fmt.Sprintf("PR %d", number)), false
		}
		return pr, command.Result{}, true
	}

	pr, err := deps.Codehost.GetPR(ctx, repo, number)
	if err != nil {
		return nil, hostError(err, fmt.Sprintf("PR %d on %s", number, repo)), false
	}
	return pr, command.Result{}, true
}
