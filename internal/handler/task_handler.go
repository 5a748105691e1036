package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hireboard/internal/airtable"
	"github.com/hitoshi/hireboard/internal/model"
	"github.com/hitoshi/hireboard/internal/notification"
	"github.com/hitoshi/hireboard/internal/webhook"
)

// dueDateLayout は期限日の形式。
const dueDateLayout = "2006-01-02"

// 監査イベント種別
const (
	eventCreateTask         = "Create Task"
	eventUpdateTask         = "Update Task"
	eventDeleteTask         = "Delete Task"
	eventBulkDeleteTask     = "Bulk Delete Tasks"
	eventAssignTask         = "Assign Tasks"
	eventBulkDeleteAssigned = "Bulk Delete Assigned Tasks"
	eventCompleteTask       = "Complete Task"
)

// TaskStore はタスクハンドラーが必要とするリポジトリインターフェース。
type TaskStore interface {
	List(ctx context.Context, folderID string) ([]*model.Task, error)
	FindByID(ctx context.Context, id string) (*model.Task, error)
	Create(ctx context.Context, t *model.Task) (*model.Task, error)
	Update(ctx context.Context, id string, in map[string]any) (*model.Task, error)
	Delete(ctx context.Context, id string) error
	Assign(ctx context.Context, applicantID string, task *model.Task, dueDate string) (*model.AssignedTask, error)
	FindAssignedByID(ctx context.Context, id string) (*model.AssignedTask, error)
	ListAssigned(ctx context.Context, applicantID string) ([]*model.AssignedTask, error)
	CompleteAssigned(ctx context.Context, id string, at time.Time) (*model.AssignedTask, error)
	DeleteAssigned(ctx context.Context, id string) error
}

// ApplicantFinder は応募者を1件取得するインターフェース。
type ApplicantFinder interface {
	FindByID(ctx context.Context, id string) (*model.Applicant, error)
}

// WebhookSender は外部配信用のWebhook送信インターフェース。
type WebhookSender interface {
	Configured(purpose string) bool
	Send(ctx context.Context, purpose string, payload any) error
}

// TaskHandler はタスク定義・割り当て・応募者のタスク完了のHTTPハンドラー。
type TaskHandler struct {
	base
	tasks      TaskStore
	applicants ApplicantFinder
	sender     WebhookSender
	notifier   Notifier
	now        func() time.Time
}

// NewTaskHandler はTaskHandlerを生成する。
func NewTaskHandler(b base, tasks TaskStore, applicants ApplicantFinder, sender WebhookSender, notifier Notifier) *TaskHandler {
	return &TaskHandler{
		base:       b,
		tasks:      tasks,
		applicants: applicants,
		sender:     sender,
		notifier:   notifier,
		now:        time.Now,
	}
}

type taskResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Week        int       `json:"week"`
	FolderID    string    `json:"folderId,omitempty"`
	Type        string    `json:"type"`
	ResourceURL string    `json:"resourceUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type assignedTaskResponse struct {
	ID          string     `json:"id"`
	ApplicantID string     `json:"applicantId"`
	TaskID      string     `json:"taskId"`
	TaskTitle   string     `json:"taskTitle"`
	Status      string     `json:"status"`
	DueDate     string     `json:"dueDate,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Week        int    `json:"week"`
	FolderID    string `json:"folderId"`
	Type        string `json:"type"`
	ResourceURL string `json:"resourceUrl"`
}

type assignTasksRequest struct {
	ApplicantID string   `json:"applicantId"`
	TaskIDs     []string `json:"taskIds"`
	DueDate     string   `json:"dueDate"`
}

type assignTasksResponse struct {
	Success       bool                   `json:"success"`
	Assigned      []assignedTaskResponse `json:"assigned"`
	FailedTaskIDs []string               `json:"failedTaskIds"`
}

type bulkDeleteTasksRequest struct {
	TaskIDs []string `json:"taskIds"`
}

type bulkDeleteAssignedRequest struct {
	AssignedTaskIDs []string `json:"assignedTaskIds"`
}

// taskAssignedPayload はタスク割り当てWebhookのペイロード。
type taskAssignedPayload struct {
	ApplicantName  string   `json:"applicantName"`
	ApplicantEmail string   `json:"applicantEmail"`
	Tasks          []string `json:"tasks"`
	DueDate        string   `json:"dueDate,omitempty"`
	AssignedBy     string   `json:"assignedBy"`
}

func toTaskResponse(t *model.Task) taskResponse {
	return taskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Week:        t.Week,
		FolderID:    t.FolderID,
		Type:        t.Type,
		ResourceURL: t.ResourceURL,
		CreatedAt:   t.CreatedAt,
	}
}

func toAssignedTaskResponse(a *model.AssignedTask) assignedTaskResponse {
	return assignedTaskResponse{
		ID:          a.ID,
		ApplicantID: a.ApplicantID,
		TaskID:      a.TaskID,
		TaskTitle:   a.TaskTitle,
		Status:      string(a.Status),
		DueDate:     a.DueDate,
		CompletedAt: a.CompletedAt,
	}
}

// List はタスク定義の一覧を返す。
// GET /api/admin/tasks?folderId=
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	folderID := r.URL.Query().Get("folderId")
	if folderID != "" && !isRecordID(folderID) {
		h.fail(w, r, model.NewInvalidRecordIDError())
		return
	}

	tasks, err := h.tasks.List(r.Context(), folderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp = append(resp, toTaskResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create はタスク定義を作成する。
// POST /api/admin/tasks
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		h.fail(w, r, model.NewValidationError("title is required"))
		return
	}
	if req.Week < 0 {
		h.fail(w, r, model.NewValidationError("week must not be negative"))
		return
	}
	if req.FolderID != "" && !isRecordID(req.FolderID) {
		h.fail(w, r, model.NewInvalidRecordIDError())
		return
	}
	if req.ResourceURL != "" && !isHTTPURL(req.ResourceURL) {
		h.fail(w, r, model.NewValidationError("resourceUrl must be an http or https URL"))
		return
	}

	created, err := h.tasks.Create(writeCtx(r), &model.Task{
		Title:       req.Title,
		Description: req.Description,
		Week:        req.Week,
		FolderID:    req.FolderID,
		Type:        req.Type,
		ResourceURL: req.ResourceURL,
	})
	if err != nil {
		h.failAudited(w, r, eventCreateTask, err)
		return
	}

	h.record(r, eventCreateTask, model.EventSuccess, "Created task "+created.Title)
	writeJSON(w, http.StatusCreated, toTaskResponse(created))
}

// Update はタスク定義を部分更新する。
// PATCH /api/admin/tasks/{id}
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !isRecordID(id) {
		h.fail(w, r, model.NewInvalidRecordIDError())
		return
	}

	var in map[string]any
	if err := decodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	if len(in) == 0 {
		h.fail(w, r, model.NewValidationError("at least one field is required"))
		return
	}
	if v, ok := in["folderId"]; ok {
		if s, _ := v.(string); s != "" && !isRecordID(s) {
			h.fail(w, r, model.NewInvalidRecordIDError())
			return
		}
	}
	if v, ok := in["resourceUrl"]; ok {
		if s, _ := v.(string); s != "" && !isHTTPURL(s) {
			h.fail(w, r, model.NewValidationError("resourceUrl must be an http or https URL"))
			return
		}
	}

	updated, err := h.tasks.Update(writeCtx(r), id, in)
	if err != nil {
		h.failAudited(w, r, eventUpdateTask, err)
		return
	}

	h.record(r, eventUpdateTask, model.EventSuccess, fmt.Sprintf("Updated task %s (%s)", updated.Title, strings.Join(sortedKeys(in), ", ")))
	writeJSON(w, http.StatusOK, toTaskResponse(updated))
}

// Delete はタスク定義を削除する。
// DELETE /api/admin/tasks/{id}
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !isRecordID(id) {
		h.fail(w, r, model.NewInvalidRecordIDError())
		return
	}

	t, err := h.tasks.FindByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if t == nil {
		h.fail(w, r, model.NewNotFoundError("Task"))
		return
	}

	if err := h.tasks.Delete(writeCtx(r), id); err != nil {
		h.failAudited(w, r, eventDeleteTask, err)
		return
	}

	h.record(r, eventDeleteTask, model.EventSuccess, "Deleted task "+t.Title)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Task deleted"})
}

// BulkDelete は複数のタスク定義を削除する。
// DELETE /api/admin/tasks/bulk-delete
func (h *TaskHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteTasksRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	h.serveBulkDelete(w, r, "taskIds", "tasks", eventBulkDeleteTask, req.TaskIDs,
		func(ctx context.Context, id string) (string, error) {
			t, err := h.tasks.FindByID(ctx, id)
			if err != nil {
				return "", err
			}
			if t == nil {
				return "", airtable.ErrNotFound
			}
			if err := h.tasks.Delete(ctx, id); err != nil {
				return "", err
			}
			return t.Title, nil
		})
}

// Assign は応募者にタスクを割り当てる。
// タスクごとに独立して割り当て、割り当てられなかったタスクIDを返す。
// POST /api/admin/tasks/assign
func (h *TaskHandler) Assign(w http.ResponseWriter, r *http.Request) {
	actor, err := sessionFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req assignTasksRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if !isRecordID(req.ApplicantID) {
		h.fail(w, r, model.NewInvalidRecordIDError())
		return
	}
	if apiErr := validateBulkIDs("taskIds", req.TaskIDs); apiErr != nil {
		h.fail(w, r, apiErr)
		return
	}
	if req.DueDate != "" {
		if _, err := time.Parse(dueDateLayout, req.DueDate); err != nil {
			h.fail(w, r, model.NewValidationError("dueDate must be formatted as YYYY-MM-DD"))
			return
		}
	}

	applicant, err := h.applicants.FindByID(r.Context(), req.ApplicantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if applicant == nil {
		h.fail(w, r, model.NewNotFoundError("Applicant"))
		return
	}

	ctx := writeCtx(r)
	resp := assignTasksResponse{
		Assigned:      make([]assignedTaskResponse, 0, len(req.TaskIDs)),
		FailedTaskIDs: []string{},
	}
	var titles []string
	for _, taskID := range req.TaskIDs {
		task, err := h.tasks.FindByID(ctx, taskID)
		if err == nil && task == nil {
			err = airtable.ErrNotFound
		}
		if err == nil {
			var assigned *model.AssignedTask
			if assigned, err = h.tasks.Assign(ctx, applicant.ID, task, req.DueDate); err == nil {
				resp.Assigned = append(resp.Assigned, toAssignedTaskResponse(assigned))
				titles = append(titles, task.Title)
				continue
			}
		}
		h.logger.Warn("failed to assign task",
			slog.String("applicant_id", applicant.ID),
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		resp.FailedTaskIDs = append(resp.FailedTaskIDs, taskID)
	}

	status := model.EventSuccess
	switch {
	case len(resp.Assigned) == 0:
		status = model.EventError
	case len(resp.FailedTaskIDs) > 0:
		status = model.EventPartialSuccess
	}
	msg := fmt.Sprintf("Assigned %d tasks to %s", len(resp.Assigned), applicant.Name)
	if len(titles) > 0 {
		msg += " (" + strings.Join(titles, ", ") + ")"
	}
	if len(resp.FailedTaskIDs) > 0 {
		msg += fmt.Sprintf("; %d failed", len(resp.FailedTaskIDs))
	}
	h.record(r, eventAssignTask, status, msg)

	if len(titles) > 0 && h.sender != nil && h.sender.Configured(webhook.PurposeTaskAssigned) {
		err := h.sender.Send(ctx, webhook.PurposeTaskAssigned, taskAssignedPayload{
			ApplicantName:  applicant.Name,
			ApplicantEmail: applicant.Email,
			Tasks:          titles,
			DueDate:        req.DueDate,
			AssignedBy:     actor.UserName,
		})
		if err != nil && !errors.Is(err, webhook.ErrNotConfigured) {
			h.logger.Warn("failed to deliver task assignment",
				slog.String("applicant_id", applicant.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	resp.Success = len(resp.Assigned) > 0
	writeJSON(w, http.StatusOK, resp)
}

// ListAssigned は割り当て済みタスクの一覧を返す。
// GET /api/admin/assigned-tasks?applicantId=
func (h *TaskHandler) ListAssigned(w http.ResponseWriter, r *http.Request) {
	applicantID := r.URL.Query().Get("applicantId")
	if applicantID != "" && !isRecordID(applicantID) {
		h.fail(w, r, model.NewInvalidRecordIDError())
		return
	}
	h.writeAssigned(w, r, applicantID)
}

// BulkDeleteAssigned は複数の割り当てを削除する。
// DELETE /api/admin/assigned-tasks/bulk-delete
func (h *TaskHandler) BulkDeleteAssigned(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteAssignedRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	h.serveBulkDelete(w, r, "assignedTaskIds", "assigned tasks", eventBulkDeleteAssigned, req.AssignedTaskIDs,
		func(ctx context.Context, id string) (string, error) {
			if err := h.tasks.DeleteAssigned(ctx, id); err != nil {
				return "", err
			}
			return "", nil
		})
}

// MyTasks はログイン中の応募者に割り当てられたタスクを返す。
// GET /api/my/tasks
func (h *TaskHandler) MyTasks(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if s.UserApplicantID == "" {
		h.fail(w, r, model.NewForbiddenError())
		return
	}
	h.writeAssigned(w, r, s.UserApplicantID)
}

// Complete はログイン中の応募者が自分のタスクを完了にする。
// 担当の管理者にTask Completedを通知する。
// POST /api/my/tasks/{id}/complete
func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if !isRecordID(id) {
		h.fail(w, r, model.NewInvalidRecordIDError())
		return
	}

	assigned, err := h.tasks.FindAssignedByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if assigned == nil {
		h.fail(w, r, model.NewNotFoundError("Task"))
		return
	}
	if s.UserApplicantID == "" || assigned.ApplicantID != s.UserApplicantID {
		h.failAudited(w, r, eventCompleteTask, model.NewForbiddenError())
		return
	}
	if assigned.Status == model.AssignedTaskCompleted {
		writeJSON(w, http.StatusOK, toAssignedTaskResponse(assigned))
		return
	}

	completed, err := h.tasks.CompleteAssigned(writeCtx(r), id, h.now())
	if err != nil {
		h.failAudited(w, r, eventCompleteTask, err)
		return
	}

	h.record(r, eventCompleteTask, model.EventSuccess, fmt.Sprintf("%s completed %s", s.UserName, assigned.TaskTitle))

	applicant, err := h.applicants.FindByID(r.Context(), s.UserApplicantID)
	if err != nil {
		h.logger.Warn("failed to load applicant for notification",
			slog.String("applicant_id", s.UserApplicantID),
			slog.String("error", err.Error()),
		)
	} else if applicant != nil {
		h.notify(r, h.notifier, notification.Request{
			Title:       "Task completed: " + assigned.TaskTitle,
			Body:        fmt.Sprintf("%s completed %s", applicant.Name, assigned.TaskTitle),
			Type:        model.NotifyTaskCompleted,
			Severity:    model.SeveritySuccess,
			RecipientID: applicant.OwnerStaffID,
			ActionURL:   "/admin/users/" + applicant.ID,
			Source:      "Onboarding",
		})
	}

	writeJSON(w, http.StatusOK, toAssignedTaskResponse(completed))
}

func (h *TaskHandler) writeAssigned(w http.ResponseWriter, r *http.Request, applicantID string) {
	list, err := h.tasks.ListAssigned(r.Context(), applicantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := make([]assignedTaskResponse, 0, len(list))
	for _, a := range list {
		resp = append(resp, toAssignedTaskResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// isHTTPURL はhttpまたはhttpsの絶対URLかどうかを返す。
func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
