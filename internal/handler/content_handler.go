package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hireboard/internal/model"
	"github.com/hitoshi/hireboard/internal/security"
)

// 監査イベント種別
const (
	eventCreateQuiz     = "Create Quiz"
	eventUpdateQuiz     = "Update Quiz"
	eventDeleteQuiz     = "Delete Quiz"
	eventCreateFolder   = "Create Folder"
	eventUpdateFolder   = "Update Folder"
	eventDeleteFolder   = "Delete Folder"
	eventUpdateTemplate = "Update Template"
)

// placeholderPattern はテンプレート中の {{name}} 形式の変数。
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z][a-zA-Z0-9_]*)\s*\}\}`)

// ContentStore はクイズ・フォルダ・テンプレートのリポジトリインターフェース。
type ContentStore interface {
	ListQuizzes(ctx context.Context) ([]*model.Quiz, error)
	FindQuiz(ctx context.Context, id string) (*model.Quiz, error)
	CreateQuiz(ctx context.Context, q *model.Quiz) (*model.Quiz, error)
	UpdateQuiz(ctx context.Context, id string, in map[string]any) (*model.Quiz, error)
	DeleteQuiz(ctx context.Context, id string) error

	ListFolders(ctx context.Context) ([]*model.Folder, error)
	FindFolder(ctx context.Context, id string) (*model.Folder, error)
	CreateFolder(ctx context.Context, f *model.Folder) (*model.Folder, error)
	UpdateFolder(ctx context.Context, id string, in map[string]any) (*model.Folder, error)
	DeleteFolder(ctx context.Context, id string) error

	ListTemplates(ctx context.Context) ([]*model.EmailTemplate, error)
	FindTemplate(ctx context.Context, id string) (*model.EmailTemplate, error)
	UpdateTemplate(ctx context.Context, id string, in map[string]any) (*model.EmailTemplate, error)
}

// ContentHandler はクイズ・フォルダ・メールテンプレートのHTTPハンドラー。
type ContentHandler struct {
	base
	store     ContentStore
	sanitizer security.ContentSanitizerService
}

// NewContentHandler はContentHandlerを生成する。
func NewContentHandler(b base, store ContentStore, sanitizer security.ContentSanitizerService) *ContentHandler {
	return &ContentHandler{base: b, store: store, sanitizer: sanitizer}
}

type quizResponse struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	PassingScore int             `json:"passingScore"`
	Questions    json.RawMessage `json:"questions"`
	FolderID     string          `json:"folderId,omitempty"`
}

type folderResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Order       int    `json:"order"`
}

type templateResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	Variables []string `json:"variables"`
}

type createQuizRequest struct {
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	PassingScore int             `json:"passingScore"`
	Questions    json.RawMessage `json:"questions"`
	FolderID     string          `json:"folderId"`
}

type createFolderRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Order       int    `json:"order"`
}

type previewRequest struct {
	Variables map[string]string `json:"variables"`
}

type previewResponse struct {
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	Missing []string `json:"missing"`
}

func toQuizResponse(q *model.Quiz) quizResponse {
	questions := json.RawMessage(q.Questions)
	if !json.Valid(questions) {
		questions = json.RawMessage("[]")
	}
	return quizResponse{
		ID:           q.ID,
		Title:        q.Title,
		Description:  q.Description,
		PassingScore: q.PassingScore,
		Questions:    questions,
		FolderID:     q.FolderID,
	}
}

func toFolderResponse(f *model.Folder) folderResponse {
	return folderResponse{ID: f.ID, Name: f.Name, Description: f.Description, Order: f.Order}
}

func toTemplateResponse(t *model.EmailTemplate) templateResponse {
	return templateResponse{
		ID:        t.ID,
		Name:      t.Name,
		Subject:   t.Subject,
		Body:      t.Body,
		Variables: placeholders(t.Subject + "\n" + t.Body),
	}
}

// --- クイズ ---

// ListQuizzes はクイズ一覧を返す。
// GET /api/admin/quizzes
func (h *ContentHandler) ListQuizzes(w http.ResponseWriter, r *http.Request) {
	quizzes, err := h.store.ListQuizzes(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := make([]quizResponse, 0, len(quizzes))
	for _, q := range quizzes {
		resp = append(resp, toQuizResponse(q))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetQuiz はクイズを1件返す。
// GET /api/admin/quizzes/{id}
func (h *ContentHandler) GetQuiz(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !isRecordID(id) {
		h.fail(w, r, model.NewInvalidRecordIDError())
		return
	}
	q, err := h.store.FindQuiz(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if q == nil {
		h.fail(w, r, model.NewNotFoundError("Quiz"))
		return
	}
	writeJSON(w, http.StatusOK, toQuizResponse(q))
}

// CreateQuiz はクイズを作成する。
// POST /api/admin/quizzes
func (h *ContentHandler) CreateQuiz(w http.ResponseWriter, r *http.Request) {
	var req createQuizRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		h.fail(w, r, model.NewValidationError("title is required"))
		return
	}
	if req.PassingScore < 0 || req.PassingScore > 100 {
		h.fail(w, r, model.NewValidationError("passingScore must be between 0 and 100"))
		return
	}
	if len(req.Questions) == 0 {
		req.Questions = json.RawMessage("[]")
	}
	if req.FolderID != "" && !isRecordID(req.FolderID) {
		h.fail(w, r, model.NewInvalidRecordIDError())
		return
	}

	created, err := h.store.CreateQuiz(writeCtx(r), &model.Quiz{
		Title:        req.Title,
		Description:  req.Description,
		PassingScore: req.PassingScore,
		Questions:    string(req.Questions),
		FolderID:     req.FolderID,
	})
	if err != nil {
		h.failAudited(w, r, eventCreateQuiz, err)
		return
	}

	h.record(r, eventCreateQuiz, model.EventSuccess, "Created quiz "+created.Title)
	writeJSON(w, http.StatusCreated, toQuizResponse(created))
}

// UpdateQuiz はクイズを部分更新する。
// PATCH /api/admin/quizzes/{id}
func (h *ContentHandler) UpdateQuiz(w http.ResponseWriter, r *http.Request) {
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
	if v, ok := in["passingScore"]; ok {
		score, isNum := v.(float64)
		if !isNum || score < 0 || score > 100 {
			h.fail(w, r, model.NewValidationError("passingScore must be between 0 and 100"))
			return
		}
	}
	if v, ok := in["questions"]; ok {
		encoded, err := json.Marshal(v)
		if err != nil {
			h.fail(w, r, model.NewValidationError("questions must be valid JSON"))
			return
		}
		in["questions"] = string(encoded)
	}

	updated, err := h.store.UpdateQuiz(writeCtx(r), id, in)
	if err != nil {
		h.failAudited(w, r, eventUpdateQuiz, err)
		return
	}

	h.record(r, eventUpdateQuiz, model.EventSuccess, fmt.Sprintf("Updated quiz %s (%s)", updated.Title, strings.Join(sortedKeys(in), ", ")))
	writeJSON(w, http.StatusOK, toQuizResponse(updated))
}

// DeleteQuiz はクイズを削除する。
// DELETE /api/admin/quizzes/{id}
func (h *ContentHandler) DeleteQuiz(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !isRecordID(id) {
		h.fail(w, r, model.NewInvalidRecordIDError())
		return
	}
	q, err := h.store.FindQuiz(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if q == nil {
		h.fail(w, r, model.NewNotFoundError("Quiz"))
		return
	}
	if err := h.store.DeleteQuiz(writeCtx(r), id); err != nil {
		h.failAudited(w, r, eventDeleteQuiz, err)
		return
	}

	h.record(r, eventDeleteQuiz, model.EventSuccess, "Deleted quiz "+q.Title)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Quiz deleted"})
}

// --- フォルダ ---

// ListFolders はフォルダ一覧を返す。
// GET /api/admin/folders
func (h *ContentHandler) ListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.store.ListFolders(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := make([]folderResponse, 0, len(folders))
	for _, f := range folders {
		resp = append(resp, toFolderResponse(f))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateFolder はフォルダを作成する。
// POST /api/admin/folders
func (h *ContentHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req createFolderRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		h.fail(w, r, model.NewValidationError("name is required"))
		return
	}

	created, err := h.store.CreateFolder(writeCtx(r), &model.Folder{
		Name:        req.Name,
		Description: req.Description,
		Order:       req.Order,
	})
	if err != nil {
		h.failAudited(w, r, eventCreateFolder, err)
		return
	}

	h.record(r, eventCreateFolder, model.EventSuccess, "Created folder "+created.Name)
	writeJSON(w, http.StatusCreated, toFolderResponse(created))
}

// UpdateFolder はフォルダを部分更新する。
// PATCH /api/admin/folders/{id}
func (h *ContentHandler) UpdateFolder(w http.ResponseWriter, r *http.Request) {
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
	if v, ok := in["name"]; ok {
		if s, _ := v.(string); strings.TrimSpace(s) == "" {
			h.fail(w, r, model.NewValidationError("name must not be empty"))
			return
		}
	}

	updated, err := h.store.UpdateFolder(writeCtx(r), id, in)
	if err != nil {
		h.failAudited(w, r, eventUpdateFolder, err)
		return
	}

	h.record(r, eventUpdateFolder, model.EventSuccess, "Updated folder "+updated.Name)
	writeJSON(w, http.StatusOK, toFolderResponse(updated))
}

// DeleteFolder はフォルダを削除する。
// DELETE /api/admin/folders/{id}
func (h *ContentHandler) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !isRecordID(id) {
		h.fail(w, r, model.NewInvalidRecordIDError())
		return
	}
	f, err := h.store.FindFolder(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if f == nil {
		h.fail(w, r, model.NewNotFoundError("Folder"))
		return
	}
	if err := h.store.DeleteFolder(writeCtx(r), id); err != nil {
		h.failAudited(w, r, eventDeleteFolder, err)
		return
	}

	h.record(r, eventDeleteFolder, model.EventSuccess, "Deleted folder "+f.Name)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Folder deleted"})
}

// --- メールテンプレート ---

// ListTemplates はメールテンプレート一覧を返す。
// GET /api/admin/templates
func (h *ContentHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.store.ListTemplates(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := make([]templateResponse, 0, len(templates))
	for _, t := range templates {
		resp = append(resp, toTemplateResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateTemplate はテンプレートの件名・本文を更新する。本文は許可タグのみ残す。
// PATCH /api/admin/templates/{id}
func (h *ContentHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
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
	if v, ok := in["subject"]; ok {
		s, _ := v.(string)
		s = h.sanitizer.PlainText(s)
		if s == "" {
			h.fail(w, r, model.NewValidationError("subject must not be empty"))
			return
		}
		in["subject"] = s
	}
	if v, ok := in["body"]; ok {
		s, _ := v.(string)
		in["body"] = h.sanitizer.TemplateHTML(s)
	}

	updated, err := h.store.UpdateTemplate(writeCtx(r), id, in)
	if err != nil {
		h.failAudited(w, r, eventUpdateTemplate, err)
		return
	}

	h.record(r, eventUpdateTemplate, model.EventSuccess, "Updated email template "+updated.Name)
	writeJSON(w, http.StatusOK, toTemplateResponse(updated))
}

// PreviewTemplate は変数を置換したテンプレートを返す。保存はしない。
// 値はHTMLエスケープしてから本文に埋め込む。
// POST /api/admin/templates/{id}/preview
func (h *ContentHandler) PreviewTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !isRecordID(id) {
		h.fail(w, r, model.NewInvalidRecordIDError())
		return
	}

	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	t, err := h.store.FindTemplate(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if t == nil {
		h.fail(w, r, model.NewNotFoundError("Template"))
		return
	}

	missing := map[string]bool{}
	subject := renderTemplate(t.Subject, req.Variables, missing, func(s string) string { return s })
	body := renderTemplate(t.Body, req.Variables, missing, html.EscapeString)

	resp := previewResponse{
		Subject: subject,
		Body:    h.sanitizer.TemplateHTML(body),
		Missing: make([]string, 0, len(missing)),
	}
	for _, name := range placeholders(t.Subject + "\n" + t.Body) {
		if missing[name] {
			resp.Missing = append(resp.Missing, name)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// renderTemplate は {{name}} をvarsの値で置換する。
// 値がない変数はそのまま残し、missingに記録する。
func renderTemplate(tmpl string, vars map[string]string, missing map[string]bool, escape func(string) string) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok {
			missing[name] = true
			return m
		}
		return escape(v)
	})
}

// placeholders はテンプレート中の変数名を出現順に重複なく返す。
func placeholders(tmpl string) []string {
	seen := map[string]bool{}
	names := []string{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
