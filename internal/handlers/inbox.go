// ABOUTME: Inbox listing and card navigation handlers
// ABOUTME: Priority-ranks the user's open PRs and walks the card list

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/periscope-dev/periscope/internal/codehost"
	"github.com/periscope-dev/periscope/internal/command"
)

// inboxPriority ranks a PR for the spoken digest. Urgent and security
// labels outrank everything; being asked to review or own a PR outranks
// mere authorship.
func inboxPriority(pr *codehost.PullRequest) int {
	for _, label := range pr.Labels {
		switch strings.ToLower(label) {
		case "urgent", "security":
			return 5
		}
	}
	for _, label := range pr.Labels {
		if strings.EqualFold(label, "bug") {
			return 4
		}
	}
	if pr.Role == "reviewer" || pr.Role == "assignee" {
		return 3
	}
	return 2
}

type inboxHandler struct {
	deps *Deps
}

func (*inboxHandler) Name() string { return "inbox.list" }

func (h *inboxHandler) Handle(ctx context.Context, req *command.Request) command.Result {
	prs, err := h.deps.Codehost.ListUserPRs(ctx, req.UserID)
	if err != nil {
		return hostError(err, "your inbox")
	}
	if len(prs) == 0 {
		return command.Final("Your inbox is empty.", nil)
	}

	sort.SliceStable(prs, func(i, j int) bool {
		pi, pj := inboxPriority(prs[i]), inboxPriority(prs[j])
		if pi != pj {
			return pi > pj
		}
		return prs[i].UpdatedAt.After(prs[j].UpdatedAt)
	})

	cards := make([]command.Card, 0, len(prs))
	for _, pr := range prs {
		cards = append(cards, prCard(pr))
	}

	top := len(prs)
	if top > 3 {
		top = 3
	}
	titles := make([]string, 0, top)
	for _, pr := range prs[:top] {
		titles = append(titles, fmt.Sprintf("PR %d, %s", pr.Number, pr.Title))
	}

	spoken := fmt.Sprintf("You have %d %s. First, %s.",
		len(prs), pluralize("item", len(prs)), strings.Join(titles, ". Then "))

	res := command.Final(spoken, cards)
	res.ListCursor = 0
	return res
}

func (h *inboxHandler) Execute(ctx context.Context, req *command.Request) command.Result {
	return h.Handle(ctx, req)
}

func prCard(pr *codehost.PullRequest) command.Card {
	lines := []string{fmt.Sprintf("%s by %s", pr.Repo, pr.Author)}
	if len(pr.Labels) > 0 {
		lines = append(lines, "Labels: "+strings.Join(pr.Labels, ", "))
	}
	if pr.Role != "" {
		lines = append(lines, "You are "+pr.Role)
	}
	return command.Card{
		Type:     "pr",
		Title:    fmt.Sprintf("PR #%d", pr.Number),
		Subtitle: pr.Title,
		Lines:    lines,
		DeepLink: pr.URL,
	}
}

func pluralize(word string, n int) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// nextHandler advances through the cards of the last listed response.
type nextHandler struct {
	deps *Deps
}

func (*nextHandler) Name() string { return "navigation.next" }

func (h *nextHandler) Handle(ctx context.Context, req *command.Request) command.Result {
	if req.Session == nil || len(req.Session.LastCards) == 0 {
		return command.Fail(command.KindNotFound, "There's no list to walk through. Ask for your inbox first.")
	}

	var cards []command.Card
	if err := json.Unmarshal(req.Session.LastCards, &cards); err != nil || len(cards) == 0 {
		return command.Fail(command.KindNotFound, "There's no list to walk through. Ask for your inbox first.")
	}

	next := req.Session.ListCursor + 1
	if next >= len(cards) {
		return command.Final("That's the end of the list.", nil)
	}

	card := cards[next]
	spoken := card.Title
	if card.Subtitle != "" {
		spoken = fmt.Sprintf("%s. %s.", card.Title, card.Subtitle)
	}

	// The full list rides along so the next "next" still has it.
	res := command.Final(spoken, cards)
	res.ListCursor = next
	return res
}

func (h *nextHandler) Execute(ctx context.Context, req *command.Request) command.Result {
	return h.Handle(ctx, req)
}
