package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stackdesk/stackdesk/internal/auth"
	"github.com/stackdesk/stackdesk/internal/db/models"
	"github.com/stackdesk/stackdesk/internal/notifications"
	"github.com/stackdesk/stackdesk/internal/repository"
	"github.com/stackdesk/stackdesk/internal/tasks"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Handlers wires the v1 REST endpoints to the orchestrator and the
// notification service.
type Handlers struct {
	tasks         *tasks.Service
	notifications *notifications.Service
}

// NewHandlers creates the handler set.
func NewHandlers(taskService *tasks.Service, notificationService *notifications.Service) *Handlers {
	return &Handlers{tasks: taskService, notifications: notificationService}
}

type createTaskRequest struct {
	TaskType string          `json:"task_type"`
	Payload  models.FieldMap `json:"payload"`
}

type updateTaskRequest struct {
	Payload models.FieldMap `json:"payload"`
}

type actionView struct {
	Position  int             `json:"position"`
	Type      string          `json:"type"`
	State     string          `json:"state"`
	Valid     bool            `json:"valid"`
	NeedToken bool            `json:"need_token"`
	Input     models.FieldMap `json:"input"`
}

type taskView struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Requester   auth.Claims     `json:"requester"`
	Approver    *auth.Claims    `json:"approver,omitempty"`
	Notes       models.NoteLog  `json:"notes"`
	Cancelled   bool            `json:"cancelled"`
	Approved    bool            `json:"approved"`
	Completed   bool            `json:"completed"`
	CreatedAt   time.Time       `json:"created_at"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Actions     []actionView    `json:"actions"`
}

type approveResponse struct {
	Task           taskView   `json:"task"`
	Notes          []string   `json:"notes"`
	Token          string     `json:"token,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
}

type notificationView struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"task_id"`
	ActionName   string    `json:"action_name,omitempty"`
	Notes        string    `json:"notes"`
	Error        bool      `json:"error"`
	Acknowledged bool      `json:"acknowledged"`
	CreatedAt    time.Time `json:"created_at"`
}

func viewTask(task *models.Task) taskView {
	view := taskView{
		ID:          task.ID,
		Type:        task.Type,
		Requester:   task.Requester,
		Approver:    task.Approver,
		Notes:       task.Notes,
		Cancelled:   task.Cancelled,
		Approved:    task.Approved,
		Completed:   task.Completed,
		CreatedAt:   task.CreatedAt,
		ApprovedAt:  task.ApprovedAt,
		CompletedAt: task.CompletedAt,
		Actions:     []actionView{},
	}
	for _, am := range task.Actions {
		view.Actions = append(view.Actions, actionView{
			Position:  am.Position,
			Type:      am.Type,
			State:     am.State,
			Valid:     am.Valid,
			NeedToken: am.NeedToken,
			Input:     am.Input,
		})
	}
	return view
}

func viewNotification(n models.Notification) notificationView {
	return notificationView{
		ID:           n.ID,
		TaskID:       n.TaskID,
		ActionName:   n.ActionName,
		Notes:        n.Notes,
		Error:        n.Error,
		Acknowledged: n.Acknowledged,
		CreatedAt:    n.CreatedAt,
	}
}

// CreateTask handles POST /v1/tasks.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetClaimsFromContext(r.Context())
	if !ok {
		respondMessages(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondMessages(w, http.StatusBadRequest, "Request body must be valid JSON.")
		return
	}
	if req.Payload == nil {
		req.Payload = models.FieldMap{}
	}

	task, err := h.tasks.Create(r.Context(), claims, req.TaskType, req.Payload)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, viewTask(task))
}

// ListTasks handles GET /v1/tasks. Admins may pass a filter expression;
// everyone else is pinned to their own project.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetClaimsFromContext(r.Context())
	if !ok {
		respondMessages(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	filter := r.URL.Query().Get("filter")
	if !claims.IsAdmin() {
		filter = fmt.Sprintf("project_id == %q", claims.ProjectID)
	}
	limit, offset := pagination(r)

	list, err := h.tasks.List(r.Context(), filter, limit, offset)
	if err != nil {
		respondMessages(w, http.StatusBadRequest, fmt.Sprintf("Invalid filter: %v", err))
		return
	}

	views := make([]taskView, 0, len(list))
	for i := range list {
		views = append(views, viewTask(&list[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{"tasks": views})
}

// GetTask handles GET /v1/tasks/{id}.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := h.loadScoped(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, viewTask(task))
}

// UpdateTask handles PUT /v1/tasks/{id}. Only pending tasks accept a
// replacement payload.
func (h *Handlers) UpdateTask(w http.ResponseWriter, r *http.Request) {
	task, ok := h.loadScoped(w, r)
	if !ok {
		return
	}

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondMessages(w, http.StatusBadRequest, "Request body must be valid JSON.")
		return
	}
	if req.Payload == nil {
		req.Payload = models.FieldMap{}
	}

	updated, err := h.tasks.Update(r.Context(), task.ID, req.Payload)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewTask(updated))
}

// ApproveTask handles POST /v1/tasks/{id}/approve.
func (h *Handlers) ApproveTask(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.GetClaimsFromContext(r.Context())
	task, ok := h.loadScoped(w, r)
	if !ok {
		return
	}

	result, err := h.tasks.Approve(r.Context(), task.ID, claims)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := approveResponse{Task: viewTask(result.Task)}
	if result.Completed {
		resp.Notes = []string{"Task completed successfully."}
	} else {
		resp.Notes = []string{"created token"}
		resp.Token = result.Token
		expires := result.TokenExpiresAt
		resp.TokenExpiresAt = &expires
	}
	respondJSON(w, http.StatusOK, resp)
}

// CancelTask handles DELETE /v1/tasks/{id}.
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.GetClaimsFromContext(r.Context())
	task, ok := h.loadScoped(w, r)
	if !ok {
		return
	}

	cancelled, err := h.tasks.Cancel(r.Context(), task.ID, claims)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewTask(cancelled))
}

// DescribeToken handles GET /v1/tokens/{token}. No authentication: the
// token itself is the credential.
func (h *Handlers) DescribeToken(w http.ResponseWriter, r *http.Request) {
	info, err := h.tasks.DescribeToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// SubmitToken handles POST /v1/tokens/{token}: redeem with the required
// secret fields and run the final stage.
func (h *Handlers) SubmitToken(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		respondMessages(w, http.StatusBadRequest, "Request body must be valid JSON.")
		return
	}

	result, err := h.tasks.Submit(r.Context(), chi.URLParam(r, "token"), data)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, approveResponse{
		Task:  viewTask(result.Task),
		Notes: []string{"Task completed successfully."},
	})
}

// ListNotifications handles GET /v1/notifications.
func (h *Handlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	includeAcked, _ := strconv.ParseBool(r.URL.Query().Get("include_acknowledged"))
	limit, offset := pagination(r)

	list, err := h.notifications.List(r.Context(), includeAcked, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	views := make([]notificationView, 0, len(list))
	for _, n := range list {
		views = append(views, viewNotification(n))
	}
	respondJSON(w, http.StatusOK, map[string]any{"notifications": views})
}

// AckNotification handles POST /v1/notifications/{id}/ack.
func (h *Handlers) AckNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.notifications.Get(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondMessages(w, http.StatusNotFound, "Not found.")
			return
		}
		respondServiceError(w, err)
		return
	}
	if err := h.notifications.Acknowledge(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

// loadScoped loads the task named in the URL and enforces project scope:
// non-admin callers only see tasks raised from their own project.
func (h *Handlers) loadScoped(w http.ResponseWriter, r *http.Request) (*models.Task, bool) {
	claims, ok := auth.GetClaimsFromContext(r.Context())
	if !ok {
		respondMessages(w, http.StatusUnauthorized, "unauthenticated")
		return nil, false
	}

	task, err := h.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return nil, false
	}
	if !claims.IsAdmin() && task.Requester.ProjectID != claims.ProjectID {
		// Indistinguishable from absent for out-of-scope callers.
		respondMessages(w, http.StatusNotFound, "Not found.")
		return nil, false
	}
	return task, true
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = min(v, maxPageSize)
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}
