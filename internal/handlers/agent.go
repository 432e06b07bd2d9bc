// ABOUTME: Agent delegation and progress handlers
// ABOUTME: Delegation is confirmation-gated; progress is a plain read

package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/periscope-dev/periscope/internal/command"
	"github.com/periscope-dev/periscope/internal/store"
)

type delegateHandler struct {
	deps *Deps
}

func (*delegateHandler) Name() string { return "agent.delegate" }

func (h *delegateHandler) Handle(ctx context.Context, req *command.Request) command.Result {
	instruction, _ := req.Entities["instruction"].(string)
	if instruction == "" {
		return command.Fail(command.KindValidation, "What should the agent do?")
	}

	return command.Propose(
		fmt.Sprintf("delegate to an agent: %s", instruction),
		map[string]any{"instruction": instruction},
	)
}

func (h *delegateHandler) Execute(ctx context.Context, req *command.Request) command.Result {
	instruction, _ := req.Entities["instruction"].(string)
	if instruction == "" {
		return command.Fail(command.KindValidation, "I lost track of that task. Ask again.")
	}

	task, err := h.deps.Tasks.Create(ctx, req.UserID, h.deps.DefaultProvider, instruction)
	if err != nil {
		return command.Fail(command.KindInternal, "I couldn't create the task. Try again.")
	}
	if err := h.deps.Tasks.Dispatch(ctx, task); err != nil {
		return command.Fail(command.KindUpstream, "I created the task but couldn't hand it off. Check on it later.")
	}

	card := command.Card{
		Type:     "task",
		Title:    "Agent task dispatched",
		Subtitle: task.ID,
		Lines:    []string{instruction},
	}
	return command.Executed("Delegated. I'll notify you when it's done.", []command.Card{card})
}

type progressHandler struct {
	deps *Deps
}

func (*progressHandler) Name() string { return "agent.progress" }

func (h *progressHandler) Handle(ctx context.Context, req *command.Request) command.Result {
	var task *store.AgentTask
	var err error

	if id, ok := req.Entities["task_id"].(string); ok && id != "" {
		task, err = h.deps.TaskRows.GetTaskForUser(ctx, req.UserID, id)
	} else {
		task, err = h.deps.TaskRows.LatestTask(ctx, req.UserID)
	}
	if errors.Is(err, store.ErrNotFound) {
		return command.Fail(command.KindNotFound, "You haven't delegated anything yet.")
	}
	if err != nil {
		return command.Fail(command.KindInternal, "I couldn't look that task up.")
	}

	spoken := progressSpoken(task)
	card := command.Card{
		Type:     "task",
		Title:    fmt.Sprintf("Task %s", task.State),
		Subtitle: task.ID,
		Lines:    []string{task.Instruction},
	}
	if url, ok := task.Trace["pr_url"].(string); ok {
		card.DeepLink = url
	}
	return command.Final(spoken, []command.Card{card})
}

func (h *progressHandler) Execute(ctx context.Context, req *command.Request) command.Result {
	return h.Handle(ctx, req)
}

func progressSpoken(task *store.AgentTask) string {
	switch task.State {
	case store.TaskStateCreated:
		return "The agent hasn't started yet."
	case store.TaskStateRunning:
		return fmt.Sprintf("The agent is still working on: %s.", task.Instruction)
	case store.TaskStateCompleted:
		if url, ok := task.Trace["pr_url"].(string); ok && url != "" {
			return "The agent finished and opened a pull request."
		}
		return "The agent finished."
	case store.TaskStateFailed:
		return "The agent task failed. You may want to check it."
	case store.TaskStateCancelled:
		return "That task was cancelled."
	default:
		return fmt.Sprintf("The task is %s.", task.State)
	}
}
