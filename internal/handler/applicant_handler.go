package handler

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hireboard/internal/airtable"
	"github.com/hitoshi/hireboard/internal/auth"
	"github.com/hitoshi/hireboard/internal/model"
	"github.com/hitoshi/hireboard/internal/notification"
	"github.com/hitoshi/hireboard/internal/repository"
)

// 一覧のページング
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// 監査イベント種別
const (
	eventCreateApplicant     = "Create Applicant"
	eventUpdateApplicant     = "Update Applicant"
	eventDeleteApplicant     = "Delete Applicant"
	eventBulkDeleteApplicant = "Bulk Delete Applicants"
)

// ApplicantStore は応募者ハンドラーが必要とするリポジトリインターフェース。
type ApplicantStore interface {
	FindByID(ctx context.Context, id string) (*model.Applicant, error)
	FindByEmail(ctx context.Context, email string) (*model.Applicant, error)
	List(ctx context.Context, q repository.ApplicantQuery) ([]*model.Applicant, error)
	Create(ctx context.Context, a *model.Applicant) (*model.Applicant, error)
	Update(ctx context.Context, id string, in map[string]any) (*model.Applicant, error)
	Delete(ctx context.Context, id string) error
}

// ApplicantHandler は応募者管理のHTTPハンドラー。
type ApplicantHandler struct {
	base
	store    ApplicantStore
	notifier Notifier
}

// NewApplicantHandler はApplicantHandlerを生成する。
func NewApplicantHandler(b base, store ApplicantStore, notifier Notifier) *ApplicantHandler {
	return &ApplicantHandler{base: b, store: store, notifier: notifier}
}

// applicantResponse は応募者のAPIレスポンス。
type applicantResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	Position     string    `json:"position"`
	Stage        string    `json:"stage"`
	OwnerStaffID string    `json:"ownerStaffId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type paginationResponse struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"pageSize"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// newPagination はページ番号・件数・総数からページング情報を組み立てる。
func newPagination(page, pageSize, total int) paginationResponse {
	totalPages := int(math.Ceil(float64(total) / float64(pageSize)))
	return paginationResponse{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

// pageBounds はページの切り出し範囲を返す。
// 範囲外のページは空の範囲とし、(page-1)*pageSizeが溢れる前に判定する。
func pageBounds(page, pageSize, total int) (int, int) {
	if page-1 >= (total+pageSize-1)/pageSize {
		return total, total
	}
	start := (page - 1) * pageSize
	return start, min(start+pageSize, total)
}

type applicantListResponse struct {
	Applicants []applicantResponse `json:"applicants"`
	Pagination paginationResponse  `json:"pagination"`
}

type createApplicantRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Position string `json:"position"`
	Stage    string `json:"stage"`
}

type bulkDeleteApplicantsRequest struct {
	ApplicantIDs []string `json:"applicantIds"`
}

func toApplicantResponse(a *model.Applicant) applicantResponse {
	return applicantResponse{
		ID:           a.ID,
		Name:         a.Name,
		Email:        a.Email,
		Phone:        a.Phone,
		Position:     a.Position,
		Stage:        a.Stage,
		OwnerStaffID: a.OwnerStaffID,
		CreatedAt:    a.CreatedAt,
	}
}

// List は応募者一覧を検索・並び替え・ページングして返す。
// GET /api/admin/users?page&pageSize&search&stage&sortBy&sortOrder
func (h *ApplicantHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := positiveIntParam(q.Get("page"), 1, "page")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pageSize, err := positiveIntParam(q.Get("pageSize"), defaultPageSize, "pageSize")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if pageSize > maxPageSize {
		h.fail(w, r, model.NewValidationError("pageSize must be at most %d", maxPageSize))
		return
	}

	query := repository.ApplicantQuery{
		Search:    strings.TrimSpace(q.Get("search")),
		Stage:     q.Get("stage"),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
	}
	if query.Stage != "" && !model.IsValidStage(query.Stage) {
		h.fail(w, r, model.NewValidationError("stage must be one of %s", strings.Join(model.ApplicantStages, ", ")))
		return
	}
	if query.SortBy == "" {
		query.SortBy = "createdAt"
	}
	if !repository.IsApplicantSortField(query.SortBy) {
		h.fail(w, r, model.NewValidationError("sortBy must be one of name, email, stage, createdAt"))
		return
	}
	switch query.SortOrder {
	case "":
		query.SortOrder = "desc"
	case "asc", "desc":
	default:
		h.fail(w, r, model.NewValidationError("sortOrder must be asc or desc"))
		return
	}

	applicants, err := h.store.List(r.Context(), query)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	start, end := pageBounds(page, pageSize, len(applicants))

	resp := applicantListResponse{
		Applicants: make([]applicantResponse, 0, end-start),
		Pagination: newPagination(page, pageSize, len(applicants)),
	}
	for _, a := range applicants[start:end] {
		resp.Applicants = append(resp.Applicants, toApplicantResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create は応募者を作成し、作成した管理者に通知する。
// POST /api/admin/users
func (h *ApplicantHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, err := sessionFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req createApplicantRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || strings.TrimSpace(req.Email) == "" {
		h.fail(w, r, model.NewValidationError("name and email are required"))
		return
	}
	email, err := auth.NormalizeEmail(req.Email)
	if err != nil {
		h.fail(w, r, model.NewValidationError("email is not a valid address"))
		return
	}
	if req.Stage == "" {
		req.Stage = model.ApplicantStages[0]
	}
	if !model.IsValidStage(req.Stage) {
		h.fail(w, r, model.NewValidationError("stage must be one of %s", strings.Join(model.ApplicantStages, ", ")))
		return
	}

	existing, err := h.store.FindByEmail(r.Context(), email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if existing != nil {
		h.failAudited(w, r, eventCreateApplicant, model.NewAlreadyRegisteredError(email))
		return
	}

	created, err := h.store.Create(writeCtx(r), &model.Applicant{
		Name:         req.Name,
		Email:        email,
		Phone:        strings.TrimSpace(req.Phone),
		Position:     strings.TrimSpace(req.Position),
		Stage:        req.Stage,
		OwnerStaffID: actor.UserStaffID,
	})
	if err != nil {
		h.failAudited(w, r, eventCreateApplicant, err)
		return
	}

	h.record(r, eventCreateApplicant, model.EventSuccess, fmt.Sprintf("Created applicant %s (%s)", created.Name, created.Email))
	h.notify(r, h.notifier, notification.Request{
		Title:       "New applicant: " + created.Name,
		Body:        fmt.Sprintf("%s applied for %s", created.Name, orDash(created.Position)),
		Type:        model.NotifyNewApplicant,
		Severity:    model.SeverityInfo,
		RecipientID: actor.UserStaffID,
		ActionURL:   "/admin/users/" + created.ID,
		Source:      "Applicants",
	})

	writeJSON(w, http.StatusCreated, toApplicantResponse(created))
}

// Get は応募者を1件返す。
// GET /api/admin/users/{id}
func (h *ApplicantHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.find(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicantResponse(a))
}

// Update は応募者を部分更新する。ステージが変わった場合は担当者に通知する。
// PATCH /api/admin/users/{id}
func (h *ApplicantHandler) Update(w http.ResponseWriter, r *http.Request) {
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
	if v, ok := in["stage"]; ok {
		stage, _ := v.(string)
		if !model.IsValidStage(stage) {
			h.fail(w, r, model.NewValidationError("stage must be one of %s", strings.Join(model.ApplicantStages, ", ")))
			return
		}
	}
	if v, ok := in["email"]; ok {
		raw, _ := v.(string)
		email, err := auth.NormalizeEmail(raw)
		if err != nil {
			h.fail(w, r, model.NewValidationError("email is not a valid address"))
			return
		}
		in["email"] = email
	}

	current, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if current == nil {
		h.fail(w, r, model.NewNotFoundError("Applicant"))
		return
	}

	updated, err := h.store.Update(writeCtx(r), id, in)
	if err != nil {
		h.failAudited(w, r, eventUpdateApplicant, err)
		return
	}

	h.record(r, eventUpdateApplicant, model.EventSuccess, fmt.Sprintf("Updated applicant %s (%s)", updated.Name, strings.Join(sortedKeys(in), ", ")))
	if updated.Stage != current.Stage {
		h.notify(r, h.notifier, notification.Request{
			Title:       "Stage changed: " + updated.Name,
			Body:        fmt.Sprintf("%s moved from %s to %s", updated.Name, orDash(current.Stage), updated.Stage),
			Type:        model.NotifyStageChanged,
			Severity:    model.SeverityInfo,
			RecipientID: current.OwnerStaffID,
			ActionURL:   "/admin/users/" + updated.ID,
			Source:      "Applicants",
		})
	}

	writeJSON(w, http.StatusOK, toApplicantResponse(updated))
}

// Delete は応募者を削除する。
// DELETE /api/admin/users/{id}
func (h *ApplicantHandler) Delete(w http.ResponseWriter, r *http.Request) {
	a, err := h.find(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.store.Delete(writeCtx(r), a.ID); err != nil {
		h.failAudited(w, r, eventDeleteApplicant, err)
		return
	}

	h.record(r, eventDeleteApplicant, model.EventSuccess, fmt.Sprintf("Deleted applicant %s (%s)", a.Name, a.Email))
	writeJSON(w, http.StatusOK, messageResponse{Message: "Applicant deleted"})
}

// BulkDelete は複数の応募者を削除する。
// DELETE /api/admin/users/bulk-delete
func (h *ApplicantHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteApplicantsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	h.serveBulkDelete(w, r, "applicantIds", "applicants", eventBulkDeleteApplicant, req.ApplicantIDs,
		func(ctx context.Context, id string) (string, error) {
			a, err := h.store.FindByID(ctx, id)
			if err != nil {
				return "", err
			}
			if a == nil {
				return "", airtable.ErrNotFound
			}
			if err := h.store.Delete(ctx, id); err != nil {
				return "", err
			}
			return a.Name, nil
		})
}

// find はURLのIDを検証して応募者を取得する。
func (h *ApplicantHandler) find(r *http.Request) (*model.Applicant, error) {
	id := chi.URLParam(r, "id")
	if !isRecordID(id) {
		return nil, model.NewInvalidRecordIDError()
	}
	a, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, model.NewNotFoundError("Applicant")
	}
	return a, nil
}

// positiveIntParam は正の整数のクエリパラメータを解析する。空の場合はdefを返す。
func positiveIntParam(raw string, def int, name string) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, model.NewValidationError("%s must be a positive integer", name)
	}
	return n, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
