// ABOUTME: Notification, subscription, policy, and task read endpoints
// ABOUTME: Everything here is scoped to the authenticated user

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/periscope-dev/periscope/internal/store"
)

// NotificationResponse is the JSON shape of one notification row.
type NotificationResponse struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Priority  int            `json:"priority"`
	CreatedAt time.Time      `json:"created_at"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
}

func notificationResponse(n *store.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        n.ID,
		EventType: n.EventType,
		Message:   n.Message,
		Metadata:  n.Metadata,
		Priority:  n.Priority,
		CreatedAt: n.CreatedAt,
		ReadAt:    n.ReadAt,
	}
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request, userID string) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.jsonError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = parsed
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			s.jsonError(w, http.StatusBadRequest, "limit must be 1..100")
			return
		}
		limit = parsed
	}

	rows, err := s.store.ListNotifications(r.Context(), userID, since, limit)
	if err != nil {
		s.logger.Error("listing notifications", "error", err)
		s.jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]NotificationResponse, 0, len(rows))
	for _, n := range rows {
		out = append(out, notificationResponse(n))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"notifications": out, "count": len(out)})
}

func (s *Server) handleGetNotification(w http.ResponseWriter, r *http.Request, userID string) {
	n, err := s.store.GetNotification(r.Context(), userID, r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.jsonError(w, http.StatusNotFound, "no such notification")
		return
	}
	if err != nil {
		s.logger.Error("loading notification", "error", err)
		s.jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, notificationResponse(n))
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, userID string) {
	err := s.store.MarkNotificationRead(r.Context(), userID, r.PathValue("id"), time.Now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		s.jsonError(w, http.StatusNotFound, "no such notification")
		return
	}
	if err != nil {
		s.logger.Error("marking notification read", "error", err)
		s.jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// PushSubscriptionRequest is the JSON request body for registering a push
// endpoint.
type PushSubscriptionRequest struct {
	Platform string            `json:"platform"`
	Endpoint string            `json:"endpoint"`
	Keys     map[string]string `json:"subscription_keys,omitempty"`
}

func (s *Server) handleCreatePushSubscription(w http.ResponseWriter, r *http.Request, userID string) {
	var req PushSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Platform == "" || req.Endpoint == "" {
		s.jsonError(w, http.StatusBadRequest, "platform and endpoint are required")
		return
	}

	sub := &store.NotificationSubscription{
		UserID:   userID,
		Platform: req.Platform,
		Endpoint: req.Endpoint,
		Keys:     req.Keys,
	}
	if err := s.store.UpsertNotificationSubscription(r.Context(), sub); err != nil {
		s.logger.Error("upserting push subscription", "error", err)
		s.jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"id": sub.ID})
}

func (s *Server) handleListPushSubscriptions(w http.ResponseWriter, r *http.Request, userID string) {
	subs, err := s.store.ListNotificationSubscriptions(r.Context(), userID)
	if err != nil {
		s.logger.Error("listing push subscriptions", "error", err)
		s.jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

func (s *Server) handleDeletePushSubscription(w http.ResponseWriter, r *http.Request, userID string) {
	err := s.store.DeleteNotificationSubscription(r.Context(), userID, r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.jsonError(w, http.StatusNotFound, "no such subscription")
		return
	}
	if err != nil {
		s.logger.Error("deleting push subscription", "error", err)
		s.jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RepoSubscriptionRequest is the JSON request body for subscribing to a
// repository's events.
type RepoSubscriptionRequest struct {
	RepoFullName   string `json:"repo_full_name"`
	InstallationID *int64 `json:"installation_id,omitempty"`
}

func (s *Server) handleCreateRepoSubscription(w http.ResponseWriter, r *http.Request, userID string) {
	var req RepoSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RepoFullName == "" {
		s.jsonError(w, http.StatusBadRequest, "repo_full_name is required")
		return
	}

	sub := &store.RepoSubscription{
		UserID:         userID,
		RepoFullName:   req.RepoFullName,
		InstallationID: req.InstallationID,
	}
	if err := s.store.UpsertRepoSubscription(r.Context(), sub); err != nil {
		s.logger.Error("upserting repo subscription", "error", err)
		s.jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Installation-linked subscriptions also register the connection used
	// for webhook routing.
	if req.InstallationID != nil {
		conn := &store.Connection{UserID: userID, InstallationID: *req.InstallationID}
		if err := s.store.UpsertConnection(r.Context(), conn); err != nil {
			s.logger.Error("upserting connection", "error", err)
		}
	}

	s.writeJSON(w, http.StatusCreated, map[string]string{"repo_full_name": req.RepoFullName})
}

func (s *Server) handleListRepoSubscriptions(w http.ResponseWriter, r *http.Request, userID string) {
	subs, err := s.store.ListRepoSubscriptions(r.Context(), userID)
	if err != nil {
		s.logger.Error("listing repo subscriptions", "error", err)
		s.jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

func (s *Server) handleDeleteRepoSubscription(w http.ResponseWriter, r *http.Request, userID string) {
	repo := r.PathValue("repo")
	err := s.store.DeleteRepoSubscription(r.Context(), userID, repo)
	if errors.Is(err, store.ErrNotFound) {
		s.jsonError(w, http.StatusNotFound, "no such subscription")
		return
	}
	if err != nil {
		s.logger.Error("deleting repo subscription", "error", err)
		s.jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RepoPolicyRequest is the JSON request body for PUT /v1/policies/repos.
type RepoPolicyRequest struct {
	Repo       string `json:"repo"`
	AllowWrite bool   `json:"allow_write"`
}

func (s *Server) handleSetRepoPolicy(w http.ResponseWriter, r *http.Request, userID string) {
	var req RepoPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Repo == "" {
		s.jsonError(w, http.StatusBadRequest, "repo is required")
		return
	}

	policy := &store.RepoPolicy{UserID: userID, RepoFullName: req.Repo, AllowWrite: req.AllowWrite}
	if err := s.store.SetRepoPolicy(r.Context(), policy); err != nil {
		s.logger.Error("setting repo policy", "error", err)
		s.jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, policy)
}

func (s *Server) handleGetRepoPolicy(w http.ResponseWriter, r *http.Request, userID string) {
	repo := r.URL.Query().Get("repo")
	if repo == "" {
		s.jsonError(w, http.StatusBadRequest, "repo query parameter is required")
		return
	}

	policy, err := s.store.GetRepoPolicy(r.Context(), userID, repo)
	if errors.Is(err, store.ErrNotFound) {
		// No row means writes are allowed.
		s.writeJSON(w, http.StatusOK, store.RepoPolicy{
			UserID: userID, RepoFullName: repo, AllowWrite: true,
		})
		return
	}
	if err != nil {
		s.logger.Error("loading repo policy", "error", err)
		s.jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, policy)
}

// TaskResponse is the JSON shape of one agent task.
type TaskResponse struct {
	ID            string          `json:"id"`
	Provider      string          `json:"provider"`
	Instruction   string          `json:"instruction"`
	State         store.TaskState `json:"state"`
	Trace         map[string]any  `json:"trace,omitempty"`
	DispatchIssue *int            `json:"dispatch_issue,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func taskResponse(task *store.AgentTask) TaskResponse {
	return TaskResponse{
		ID:            task.ID,
		Provider:      task.Provider,
		Instruction:   task.Instruction,
		State:         task.State,
		Trace:         task.Trace,
		DispatchIssue: task.DispatchIssue,
		CreatedAt:     task.CreatedAt,
		UpdatedAt:     task.UpdatedAt,
	}
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request, userID string) {
	state := store.TaskState(r.URL.Query().Get("state"))

	tasks, err := s.store.ListTasks(r.Context(), userID, state, 100)
	if err != nil {
		s.logger.Error("listing tasks", "error", err)
		s.jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]TaskResponse, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, taskResponse(task))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request, userID string) {
	task, err := s.store.GetTaskForUser(r.Context(), userID, r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.jsonError(w, http.StatusNotFound, "no such task")
		return
	}
	if err != nil {
		s.logger.Error("loading task", "error", err)
		s.jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, taskResponse(task))
}
