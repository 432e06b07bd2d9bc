// ABOUTME: Agent-task lifecycle service: create, dispatch, and correlate
// ABOUTME: Enforces the legal state transitions; providers do the dispatch

package agenttask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/periscope-dev/periscope/internal/metrics"
	"github.com/periscope-dev/periscope/internal/notify"
	"github.com/periscope-dev/periscope/internal/session"
	"github.com/periscope-dev/periscope/internal/store"
)

// ErrInvalidTransition is returned for an illegal state change.
var ErrInvalidTransition = errors.New("agenttask: invalid state transition")

// ErrUnknownProvider is returned when no provider matches the name.
var ErrUnknownProvider = errors.New("agenttask: unknown provider")

// Provider dispatches one task to an external executor. Dispatch may
// mutate the task's trace and dispatch issue; the service persists it.
type Provider interface {
	Name() string
	Dispatch(ctx context.Context, task *store.AgentTask) error
}

// Service owns task rows and the transition rules. Everything else
// (issue creation, PR correlation) is delegated.
type Service struct {
	tasks     store.AgentTaskStore
	notify    *notify.Service
	sessions  *session.Store
	providers map[string]Provider
	// dispatchRepo is where github_issue_dispatch files its issues, and
	// what "Fixes repo#N" references resolve against.
	dispatchRepo string
	logger       *slog.Logger
}

// NewService creates the task service. Providers register before the
// server starts and the set is immutable afterwards.
func NewService(tasks store.AgentTaskStore, notifier *notify.Service, sessions *session.Store, dispatchRepo string) *Service {
	return &Service{
		tasks:        tasks,
		notify:       notifier,
		sessions:     sessions,
		providers:    make(map[string]Provider),
		dispatchRepo: dispatchRepo,
		logger:       slog.Default().With("component", "agenttask"),
	}
}

// RegisterProvider installs a dispatch provider.
func (s *Service) RegisterProvider(p Provider) {
	s.providers[p.Name()] = p
}

// Create persists a new task in the created state.
func (s *Service) Create(ctx context.Context, userID, provider, instruction string) (*store.AgentTask, error) {
	if _, ok := s.providers[provider]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	task := &store.AgentTask{
		UserID:      userID,
		Provider:    provider,
		Instruction: instruction,
		State:       store.TaskStateCreated,
		Trace:       map[string]any{"instruction": instruction},
	}
	if err := s.tasks.InsertTask(ctx, task); err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}

	s.logger.Info("created agent task", "task_id", task.ID, "user_id", userID, "provider", provider)
	return task, nil
}

// Dispatch hands the task to its provider and moves it to running. A
// provider failure moves it to failed with the error recorded.
func (s *Service) Dispatch(ctx context.Context, task *store.AgentTask) error {
	provider, ok := s.providers[task.Provider]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, task.Provider)
	}

	if err := provider.Dispatch(ctx, task); err != nil {
		s.logger.Error("dispatch failed", "task_id", task.ID, "provider", task.Provider, "error", err)
		if ferr := s.UpdateState(ctx, task.ID, store.TaskStateFailed,
			map[string]any{"dispatch_error": err.Error()}); ferr != nil {
			s.logger.Error("marking task failed", "task_id", task.ID, "error", ferr)
		}
		return fmt.Errorf("dispatching task: %w", err)
	}

	// Persist whatever the provider put on the task before the
	// transition, then move to running.
	if err := s.tasks.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("persisting dispatched task: %w", err)
	}
	return s.UpdateState(ctx, task.ID, store.TaskStateRunning, nil)
}

// UpdateState validates and applies a transition, merging traceDelta
// into the task's trace.
func (s *Service) UpdateState(ctx context.Context, taskID string, newState store.TaskState, traceDelta map[string]any) error {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	if !legalTransition(task.State, newState) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.State, newState)
	}

	task.State = newState
	if task.Trace == nil {
		task.Trace = make(map[string]any)
	}
	for k, v := range traceDelta {
		task.Trace[k] = v
	}

	if err := s.tasks.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("updating task state: %w", err)
	}

	metrics.AgentTasksTotal.WithLabelValues(string(newState)).Inc()
	s.logger.Info("task state changed", "task_id", task.ID, "state", newState)
	return nil
}

// legalTransition encodes the lifecycle: created -> running ->
// {completed, failed}, created -> cancelled, and any non-terminal state
// may fail. Terminal states are final.
func legalTransition(from, to store.TaskState) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case store.TaskStateRunning:
		return from == store.TaskStateCreated
	case store.TaskStateCompleted:
		return from == store.TaskStateRunning
	case store.TaskStateCancelled:
		return from == store.TaskStateCreated
	case store.TaskStateFailed:
		return true
	}
	return false
}

var metadataRe = regexp.MustCompile(`<!--\s*agent_task_metadata\s*(\{.*?\})\s*-->`)

// fixesRe matches "Fixes owner/name#123" style references.
var fixesRe = regexp.MustCompile(`(?i)\bfixes\s+([\w.-]+/[\w.-]+)#(\d+)`)

// TryCorrelate inspects a pull request body for a task reference: the
// agent_task_metadata comment first, then a "Fixes dispatchRepo#N"
// reference resolved against the dispatch repo. A running match
// transitions to completed and notifies the task's owner. Misses are
// logged and ignored.
func (s *Service) TryCorrelate(ctx context.Context, prBody, prURL string) {
	task := s.findReferencedTask(ctx, prBody)
	if task == nil {
		return
	}

	if task.State != store.TaskStateRunning {
		s.logger.Debug("correlated task not running, ignoring",
			"task_id", task.ID, "state", task.State)
		return
	}

	if err := s.UpdateState(ctx, task.ID, store.TaskStateCompleted,
		map[string]any{"pr_url": prURL}); err != nil {
		s.logger.Error("completing correlated task", "task_id", task.ID, "error", err)
		return
	}

	userProfile, err := s.sessions.GetUserProfile(ctx, task.UserID)
	if err != nil {
		s.logger.Warn("reading profile for completion notice", "user_id", task.UserID, "error", err)
		userProfile = "default"
	}

	if _, err := s.notify.Create(ctx, notify.CreateInput{
		UserID:    task.UserID,
		EventType: "agent.task_completed",
		Message:   fmt.Sprintf("Your agent finished: %s", task.Instruction),
		Metadata:  map[string]any{"task_id": task.ID, "pr_url": prURL},
		Profile:   userProfile,
		Ref:       task.ID,
	}); err != nil {
		s.logger.Error("creating completion notification", "task_id", task.ID, "error", err)
	}
}

func (s *Service) findReferencedTask(ctx context.Context, prBody string) *store.AgentTask {
	if m := metadataRe.FindStringSubmatch(prBody); m != nil {
		var meta struct {
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal([]byte(m[1]), &meta); err != nil || meta.TaskID == "" {
			s.logger.Debug("unparseable task metadata block", "error", err)
		} else {
			task, err := s.tasks.GetTask(ctx, meta.TaskID)
			if errors.Is(err, store.ErrNotFound) {
				s.logger.Debug("metadata references unknown task", "task_id", meta.TaskID)
			} else if err != nil {
				s.logger.Error("loading referenced task", "task_id", meta.TaskID, "error", err)
			} else {
				return task
			}
		}
	}

	if s.dispatchRepo == "" {
		return nil
	}
	for _, m := range fixesRe.FindAllStringSubmatch(prBody, -1) {
		if m[1] != s.dispatchRepo {
			continue
		}
		issue, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		task, err := s.tasks.FindTaskByDispatchIssue(ctx, issue)
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Debug("fixes reference matches no task", "issue", issue)
			continue
		}
		if err != nil {
			s.logger.Error("resolving fixes reference", "issue", issue, "error", err)
			continue
		}
		return task
	}
	return nil
}
