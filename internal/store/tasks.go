// ABOUTME: Agent task and repo policy operations on the SQLite store
// ABOUTME: Task rows carry an opaque JSON trace and an optional dispatch issue

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertTask persists a new agent task.
func (s *SQLiteStore) InsertTask(ctx context.Context, task *AgentTask) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = now
	}
	if task.State == "" {
		task.State = TaskStateCreated
	}

	trace, err := marshalJSONMap(task.Trace)
	if err != nil {
		return fmt.Errorf("encoding task trace: %w", err)
	}

	var dispatchIssue any
	if task.DispatchIssue != nil {
		dispatchIssue = *task.DispatchIssue
	}

	query := `
		INSERT INTO agent_tasks (id, user_id, provider, instruction, state, trace_json, dispatch_issue, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		task.ID, task.UserID, task.Provider, task.Instruction, string(task.State),
		trace, dispatchIssue, formatTime(task.CreatedAt), formatTime(task.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting agent task: %w", err)
	}

	s.logger.Debug("inserted agent task", "id", task.ID, "user_id", task.UserID, "provider", task.Provider)
	return nil
}

const taskColumns = `id, user_id, provider, instruction, state, trace_json, dispatch_issue, created_at, updated_at`

// GetTask retrieves a task by id regardless of owner. Webhook correlation
// needs this; user-facing paths use GetTaskForUser.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*AgentTask, error) {
	query := `SELECT ` + taskColumns + ` FROM agent_tasks WHERE id = ?`
	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting agent task: %w", err)
	}
	return task, nil
}

// GetTaskForUser retrieves a task scoped to its owner.
func (s *SQLiteStore) GetTaskForUser(ctx context.Context, userID, id string) (*AgentTask, error) {
	query := `SELECT ` + taskColumns + ` FROM agent_tasks WHERE id = ? AND user_id = ?`
	task, err := scanTask(s.db.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting agent task: %w", err)
	}
	return task, nil
}

// ListTasks returns a user's tasks, optionally filtered by state, newest first.
func (s *SQLiteStore) ListTasks(ctx context.Context, userID string, state TaskState, limit int) ([]*AgentTask, error) {
	query := `SELECT ` + taskColumns + ` FROM agent_tasks WHERE user_id = ?`
	args := []any{userID}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, string(state))
	}
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing agent tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*AgentTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// LatestTask returns the user's most recently updated task.
func (s *SQLiteStore) LatestTask(ctx context.Context, userID string) (*AgentTask, error) {
	query := `SELECT ` + taskColumns + ` FROM agent_tasks WHERE user_id = ? ORDER BY updated_at DESC LIMIT 1`
	task, err := scanTask(s.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest agent task: %w", err)
	}
	return task, nil
}

// UpdateTask persists state, trace, and dispatch issue changes.
func (s *SQLiteStore) UpdateTask(ctx context.Context, task *AgentTask) error {
	task.UpdatedAt = time.Now().UTC()

	trace, err := marshalJSONMap(task.Trace)
	if err != nil {
		return fmt.Errorf("encoding task trace: %w", err)
	}
	var dispatchIssue any
	if task.DispatchIssue != nil {
		dispatchIssue = *task.DispatchIssue
	}

	query := `
		UPDATE agent_tasks
		SET state = ?, trace_json = ?, dispatch_issue = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(task.State), trace, dispatchIssue, formatTime(task.UpdatedAt), task.ID)
	if err != nil {
		return fmt.Errorf("updating agent task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindTaskByDispatchIssue resolves a task from its dispatch-repo issue number.
func (s *SQLiteStore) FindTaskByDispatchIssue(ctx context.Context, issue int) (*AgentTask, error) {
	query := `SELECT ` + taskColumns + ` FROM agent_tasks WHERE dispatch_issue = ? ORDER BY created_at DESC LIMIT 1`
	task, err := scanTask(s.db.QueryRowContext(ctx, query, issue))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding task by dispatch issue: %w", err)
	}
	return task, nil
}

func scanTask(row rowScanner) (*AgentTask, error) {
	var task AgentTask
	var state string
	var trace sql.NullString
	var dispatchIssue sql.NullInt64
	var createdAt, updatedAt string

	err := row.Scan(
		&task.ID, &task.UserID, &task.Provider, &task.Instruction, &state,
		&trace, &dispatchIssue, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.State = TaskState(state)
	if trace.Valid && trace.String != "" {
		if err := json.Unmarshal([]byte(trace.String), &task.Trace); err != nil {
			return nil, fmt.Errorf("decoding task trace: %w", err)
		}
	}
	if dispatchIssue.Valid {
		n := int(dispatchIssue.Int64)
		task.DispatchIssue = &n
	}
	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &task, nil
}

// --- Repo policies ---

// GetRepoPolicy returns the policy for (user, repo). A missing row yields
// ErrNotFound; callers treat that as allow_write=true.
func (s *SQLiteStore) GetRepoPolicy(ctx context.Context, userID, repoFullName string) (*RepoPolicy, error) {
	query := `SELECT user_id, repo_full_name, allow_write FROM repo_policies WHERE user_id = ? AND repo_full_name = ?`

	var policy RepoPolicy
	var allowWrite int
	err := s.db.QueryRowContext(ctx, query, userID, repoFullName).
		Scan(&policy.UserID, &policy.RepoFullName, &allowWrite)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting repo policy: %w", err)
	}
	policy.AllowWrite = allowWrite != 0
	return &policy, nil
}

// SetRepoPolicy creates or replaces the policy for (user, repo).
func (s *SQLiteStore) SetRepoPolicy(ctx context.Context, policy *RepoPolicy) error {
	query := `
		INSERT INTO repo_policies (user_id, repo_full_name, allow_write)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, repo_full_name) DO UPDATE SET allow_write = excluded.allow_write
	`
	if _, err := s.db.ExecContext(ctx, query,
		policy.UserID, policy.RepoFullName, boolToInt(policy.AllowWrite)); err != nil {
		return fmt.Errorf("setting repo policy: %w", err)
	}
	return nil
}
