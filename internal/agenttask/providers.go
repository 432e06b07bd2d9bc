// ABOUTME: Agent dispatch providers: mock and github_issue_dispatch
// ABOUTME: Issue dispatch files an issue carrying the task metadata block

package agenttask

import (
	"context"
	"fmt"

	"github.com/periscope-dev/periscope/internal/codehost"
	"github.com/periscope-dev/periscope/internal/store"
)

// MockProvider dispatches nowhere. The task sits in running until a
// correlated PR or a manual state change completes it; tests drive both.
type MockProvider struct{}

func (MockProvider) Name() string { return "mock" }

func (MockProvider) Dispatch(_ context.Context, task *store.AgentTask) error {
	if task.Trace == nil {
		task.Trace = make(map[string]any)
	}
	task.Trace["dispatched"] = "mock"
	return nil
}

// IssueDispatchProvider files an issue in the dispatch repo. The agent
// fleet watches that repo; the metadata comment lets the resulting PR be
// correlated back to the task.
type IssueDispatchProvider struct {
	host codehost.Client
	repo string
}

// NewIssueDispatchProvider creates the github_issue_dispatch provider.
func NewIssueDispatchProvider(host codehost.Client, dispatchRepo string) *IssueDispatchProvider {
	return &IssueDispatchProvider{host: host, repo: dispatchRepo}
}

func (p *IssueDispatchProvider) Name() string { return "github_issue_dispatch" }

func (p *IssueDispatchProvider) Dispatch(ctx context.Context, task *store.AgentTask) error {
	title := fmt.Sprintf("Agent task: %s", truncate(task.Instruction, 72))
	body := fmt.Sprintf("%s\n\n<!-- agent_task_metadata {\"task_id\":%q} -->\n", task.Instruction, task.ID)

	issue, err := p.host.CreateIssue(ctx, p.repo, title, body)
	if err != nil {
		return fmt.Errorf("filing dispatch issue: %w", err)
	}

	task.DispatchIssue = &issue
	if task.Trace == nil {
		task.Trace = make(map[string]any)
	}
	task.Trace["dispatch_issue"] = issue
	task.Trace["dispatch_repo"] = p.repo
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
