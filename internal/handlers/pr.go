// ABOUTME: Pull-request handlers: summarize, request review, merge, checks
// ABOUTME: Merge is policy-gated and check-gated unless forced

package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/periscope-dev/periscope/internal/command"
	"github.com/periscope-dev/periscope/internal/store"
)

// checkWritePolicy applies the per-(user, repo) write gate shared by all
// side-effecting handlers. A missing policy row means writes are allowed.
func checkWritePolicy(ctx context.Context, deps *Deps, userID, repo string) (command.Result, bool) {
	policy, err := deps.Policies.GetRepoPolicy(ctx, userID, repo)
	if errors.Is(err, store.ErrNotFound) {
		return command.Result{}, true
	}
	if err != nil {
		return command.Fail(command.KindInternal, "I couldn't check the repo policy."), false
	}
	if !policy.AllowWrite {
		return command.Fail(command.KindForbidden,
			fmt.Sprintf("Voice writes are disabled for %s.", repo)), false
	}
	return command.Result{}, true
}

type summarizeHandler struct {
	deps *Deps
}

func (*summarizeHandler) Name() string { return "pr.summarize" }

func (h *summarizeHandler) Handle(ctx context.Context, req *command.Request) command.Result {
	repo, number, ok := resolvePR(req)
	if !ok {
		return command.Fail(command.KindValidation, "Which PR? Say a number, like 'summarize PR 412'.")
	}

	pr, failure, ok := loadPR(ctx, h.deps, req, repo, number)
	if !ok {
		return failure
	}

	checks, err := h.deps.Codehost.GetChecks(ctx, pr.Repo, pr.Number)
	if err != nil {
		return hostError(err, fmt.Sprintf("checks for PR %d", pr.Number))
	}
	reviews, err := h.deps.Codehost.GetReviews(ctx, pr.Repo, pr.Number)
	if err != nil {
		return hostError(err, fmt.Sprintf("reviews for PR %d", pr.Number))
	}

	passing := 0
	for _, c := range checks {
		if c.Passing() {
			passing++
		}
	}
	approvals := 0
	for _, r := range reviews {
		if r.State == "approved" {
			approvals++
		}
	}

	spoken := fmt.Sprintf("PR %d by %s: %s. %d of %d checks passing, %d %s.",
		pr.Number, pr.Author, pr.Title,
		passing, len(checks), approvals, pluralize("approval", approvals))

	card := prCard(pr)
	card.Lines = append(card.Lines,
		fmt.Sprintf("Checks: %d/%d passing", passing, len(checks)),
		fmt.Sprintf("Approvals: %d", approvals))

	res := command.Final(spoken, []command.Card{card})
	res.FocusRepo = pr.Repo
	res.FocusPR = pr.Number
	return res
}

func (h *summarizeHandler) Execute(ctx context.Context, req *command.Request) command.Result {
	return h.Handle(ctx, req)
}

type requestReviewHandler struct {
	deps *Deps
}

func (*requestReviewHandler) Name() string { return "pr.request_review" }

func (h *requestReviewHandler) Handle(ctx context.Context, req *command.Request) command.Result {
	reviewer, _ := req.Entities["reviewer"].(string)
	if reviewer == "" {
		return command.Fail(command.KindValidation, "Who should review it?")
	}

	repo, number, ok := resolvePR(req)
	if !ok {
		return command.Fail(command.KindValidation, "Which PR should they review?")
	}

	pr, failure, ok := loadPR(ctx, h.deps, req, repo, number)
	if !ok {
		return failure
	}

	if res, allowed := checkWritePolicy(ctx, h.deps, req.UserID, pr.Repo); !allowed {
		return res
	}

	res := command.Propose(
		fmt.Sprintf("request a review from %s on PR %d", reviewer, pr.Number),
		map[string]any{"reviewer": reviewer, "repo": pr.Repo, "pr_number": pr.Number},
	)
	res.FocusRepo = pr.Repo
	res.FocusPR = pr.Number
	return res
}

func (h *requestReviewHandler) Execute(ctx context.Context, req *command.Request) command.Result {
	reviewer, _ := req.Entities["reviewer"].(string)
	repo, number, ok := resolvePR(req)
	if reviewer == "" || !ok || repo == "" {
		return command.Fail(command.KindValidation, "I lost track of that request. Ask again.")
	}

	if res, allowed := checkWritePolicy(ctx, h.deps, req.UserID, repo); !allowed {
		return res
	}

	if err := h.deps.Codehost.RequestReview(ctx, repo, number, reviewer); err != nil {
		return hostError(err, fmt.Sprintf("PR %d on %s", number, repo))
	}
	return command.Executed(fmt.Sprintf("Asked %s to review PR %d.", reviewer, number), nil)
}

type mergeHandler struct {
	deps *Deps
}

func (*mergeHandler) Name() string { return "pr.merge" }

func (h *mergeHandler) Handle(ctx context.Context, req *command.Request) command.Result {
	repo, number, ok := resolvePR(req)
	if !ok {
		return command.Fail(command.KindValidation, "Which PR should I merge?")
	}

	pr, failure, ok := loadPR(ctx, h.deps, req, repo, number)
	if !ok {
		return failure
	}

	if res, allowed := checkWritePolicy(ctx, h.deps, req.UserID, pr.Repo); !allowed {
		return res
	}

	if pr.Merged {
		return command.Fail(command.KindConflict, fmt.Sprintf("PR %d is already merged.", pr.Number))
	}

	force, _ := req.Entities["force_merge"].(bool)
	if !force {
		checks, err := h.deps.Codehost.GetChecks(ctx, pr.Repo, pr.Number)
		if err != nil {
			return hostError(err, fmt.Sprintf("checks for PR %d", pr.Number))
		}
		var failing []string
		for _, c := range checks {
			if !c.Passing() {
				failing = append(failing, c.Name)
			}
		}
		if len(failing) > 0 {
			return command.Fail(command.KindConflict, fmt.Sprintf(
				"PR %d has %d failing %s: %s. Say 'force merge PR %d' to merge anyway.",
				pr.Number, len(failing), pluralize("check", len(failing)),
				strings.Join(failing, ", "), pr.Number))
		}
	}

	summary := fmt.Sprintf("merge PR %d on %s", pr.Number, pr.Repo)
	if force {
		summary = fmt.Sprintf("force merge PR %d on %s", pr.Number, pr.Repo)
	}
	res := command.Propose(summary, map[string]any{
		"repo": pr.Repo, "pr_number": pr.Number, "force_merge": force,
	})
	res.FocusRepo = pr.Repo
	res.FocusPR = pr.Number
	return res
}

func (h *mergeHandler) Execute(ctx context.Context, req *command.Request) command.Result {
	repo, number, ok := resolvePR(req)
	if !ok || repo == "" {
		return command.Fail(command.KindValidation, "I lost track of that merge. Ask again.")
	}

	// The policy could have flipped between the proposal and the confirm.
	if res, allowed := checkWritePolicy(ctx, h.deps, req.UserID, repo); !allowed {
		return res
	}

	if err := h.deps.Codehost.Merge(ctx, repo, number); err != nil {
		return hostError(err, fmt.Sprintf("PR %d on %s", number, repo))
	}
	return command.Executed(fmt.Sprintf("Merged PR %d.", number), nil)
}

type checksHandler struct {
	deps *Deps
}

func (*checksHandler) Name() string { return "checks.status" }

func (h *checksHandler) Handle(ctx context.Context, req *command.Request) command.Result {
	repo, number, ok := resolvePR(req)
	if !ok {
		return command.Fail(command.KindValidation, "Which PR's checks? Say a number.")
	}

	pr, failure, ok := loadPR(ctx, h.deps, req, repo, number)
	if !ok {
		return failure
	}

	checks, err := h.deps.Codehost.GetChecks(ctx, pr.Repo, pr.Number)
	if err != nil {
		return hostError(err, fmt.Sprintf("checks for PR %d", pr.Number))
	}
	if len(checks) == 0 {
		res := command.Final(fmt.Sprintf("PR %d has no checks.", pr.Number), nil)
		res.FocusRepo = pr.Repo
		res.FocusPR = pr.Number
		return res
	}

	passing := 0
	var failing []string
	for _, c := range checks {
		if c.Passing() {
			passing++
		} else if c.Status == "completed" {
			failing = append(failing, c.Name)
		}
	}
	pending := len(checks) - passing - len(failing)

	spoken := fmt.Sprintf("%d of %d checks passing", passing, len(checks))
	if len(failing) > 0 {
		spoken += ", " + strings.Join(failing, " and ") + " failing"
	}
	if pending > 0 {
		spoken += fmt.Sprintf(", %d still running", pending)
	}
	spoken += "."

	lines := make([]string, 0, len(checks))
	for _, c := range checks {
		status := c.Conclusion
		if status == "" {
			status = c.Status
		}
		lines = append(lines, fmt.Sprintf("%s: %s", c.Name, status))
	}
	card := command.Card{
		Type:     "checks",
		Title:    fmt.Sprintf("Checks for %s#%d", pr.Repo, pr.Number),
		Lines:    lines,
		DeepLink: pr.URL,
	}

	res := command.Final(spoken, []command.Card{card})
	res.FocusRepo = pr.Repo
	res.FocusPR = pr.Number
	return res
}

func (h *checksHandler) Execute(ctx context.Context, req *command.Request) command.Result {
	return h.Handle(ctx, req)
}
