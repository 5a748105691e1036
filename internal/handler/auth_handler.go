package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/hireboard/internal/audit"
	"github.com/hitoshi/hireboard/internal/auth"
	"github.com/hitoshi/hireboard/internal/middleware"
	"github.com/hitoshi/hireboard/internal/model"
	"github.com/hitoshi/hireboard/internal/notification"
	"github.com/hitoshi/hireboard/internal/session"
)

// 監査イベント種別
const (
	eventLogin        = "Login"
	eventAdminLogin   = "Admin Login"
	eventAdminInvite  = "Admin Invite"
	eventLogout       = "Logout"
	eventAcceptInvite = "Accept Invite"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	LoginApplicant(ctx context.Context, email, password string) (*model.Session, error)
	LoginAdmin(ctx context.Context, email, password string) (*model.Session, error)
	InviteAdmin(ctx context.Context, actor *model.Session, name, email, baseURL string) (*auth.InviteResult, error)
	AcceptInvite(ctx context.Context, token, password, confirm string) (*model.Session, error)
}

// SessionSealer はセッションをCookie用トークンに封印するインターフェース。
type SessionSealer interface {
	Seal(s model.Session, ttl time.Duration) (string, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL    string // 招待リンクの公開URL。空の場合は開発モードに限りリクエストのホストを使う
	Cookie     session.CookieConfig
	SessionTTL time.Duration
}

// AuthHandler はログイン・ログアウト・管理者招待のHTTPハンドラー。
type AuthHandler struct {
	base
	service  AuthServiceInterface
	sealer   SessionSealer
	notifier Notifier
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(b base, service AuthServiceInterface, sealer SessionSealer, notifier Notifier, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		base:     b,
		service:  service,
		sealer:   sealer,
		notifier: notifier,
		config:   config,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message string     `json:"message"`
	Role    model.Role `json:"role"`
	Name    string     `json:"name"`
}

type meResponse struct {
	Email       string     `json:"email"`
	Role        model.Role `json:"role"`
	Name        string     `json:"name"`
	StaffID     string     `json:"staffId,omitempty"`
	ApplicantID string     `json:"applicantId,omitempty"`
}

type inviteRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type inviteResponse struct {
	Message   string    `json:"message"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
	Refreshed bool      `json:"refreshed"`
	Link      string    `json:"inviteLink,omitempty"`
}

type acceptInviteRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// Login は応募者のログインを処理する。
// POST /api/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, eventLogin, h.service.LoginApplicant)
}

// AdminLogin は管理者のログインを処理する。
// POST /api/admin/login
func (h *AuthHandler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, eventAdminLogin, h.service.LoginAdmin)
}

func (h *AuthHandler) login(
	w http.ResponseWriter,
	r *http.Request,
	eventType string,
	verify func(ctx context.Context, email, password string) (*model.Session, error),
) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	s, err := verify(r.Context(), req.Email, req.Password)
	if err != nil {
		e := audit.NewEntry(r, nil, eventType)
		e.Status = model.EventError
		e.UserIdentifier = strings.ToLower(strings.TrimSpace(req.Email))
		e.Message = "Login failed"
		h.audit.Record(r.Context(), e)
		h.fail(w, r, err)
		return
	}

	if err := h.issue(w, *s); err != nil {
		h.fail(w, r, err)
		return
	}

	e := audit.NewEntry(r, s, eventType)
	e.Message = "Login successful"
	h.audit.Record(r.Context(), e)

	writeJSON(w, http.StatusOK, loginResponse{
		Message: "Login successful",
		Role:    s.UserRole,
		Name:    s.UserName,
	})
}

// Logout はセッションCookieを削除する。
// 有効なセッションがある場合のみ監査イベントを1件記録する。
// POST /api/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if s, ok := middleware.SessionFromContext(r.Context()); ok {
		h.record(r, eventLogout, model.EventSuccess, "Logged out "+s.UserEmail)
	}
	session.ClearCookie(w, h.config.Cookie)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

// Me は現在のセッション情報を返し、Cookieの有効期限を延長する。
// GET /api/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.issue(w, *s); err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		Email:       s.UserEmail,
		Role:        s.UserRole,
		Name:        s.UserName,
		StaffID:     s.UserStaffID,
		ApplicantID: s.UserApplicantID,
	})
}

// InviteAdmin は管理者を招待する。
// POST /api/admin/invite-admin
func (h *AuthHandler) InviteAdmin(w http.ResponseWriter, r *http.Request) {
	actor, err := sessionFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req inviteRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	baseURL := h.config.BaseURL
	if baseURL == "" && h.dev {
		baseURL = requestOrigin(r)
	}

	result, err := h.service.InviteAdmin(writeCtx(r), actor, req.Name, req.Email, baseURL)
	if err != nil {
		h.failAudited(w, r, eventAdminInvite, err)
		return
	}

	h.record(r, eventAdminInvite, model.EventSuccess, "Invited "+result.Staff.Email+" as administrator")

	h.notify(r, h.notifier, notification.Request{
		Title:       "Administrator invited",
		Body:        result.Staff.Name + " (" + result.Staff.Email + ") was invited by " + actor.UserName,
		Type:        model.NotifyAdminInvited,
		Severity:    model.SeverityInfo,
		RecipientID: actor.UserStaffID,
		Source:      "Admin Invite",
	})

	resp := inviteResponse{
		Message:   "Invitation sent",
		Email:     result.Staff.Email,
		ExpiresAt: result.ExpiresAt,
		Refreshed: result.Refreshed,
	}
	if h.dev {
		resp.Link = result.Link
	}
	writeJSON(w, http.StatusOK, resp)
}

// AcceptInvite は招待を承諾してパスワードを設定し、ログイン状態にする。
// POST /api/admin/accept-invite
func (h *AuthHandler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	var req acceptInviteRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	s, err := h.service.AcceptInvite(writeCtx(r), req.Token, req.Password, req.ConfirmPassword)
	if err != nil {
		h.failAudited(w, r, eventAcceptInvite, err)
		return
	}

	if err := h.issue(w, *s); err != nil {
		h.fail(w, r, err)
		return
	}

	e := audit.NewEntry(r, s, eventAcceptInvite)
	e.Message = "Invite accepted and password set"
	h.audit.Record(r.Context(), e)

	writeJSON(w, http.StatusOK, loginResponse{
		Message: "Account activated",
		Role:    s.UserRole,
		Name:    s.UserName,
	})
}

// issue はセッションを封印してCookieに設定する。
func (h *AuthHandler) issue(w http.ResponseWriter, s model.Session) error {
	token, err := h.sealer.Seal(s, h.config.SessionTTL)
	if err != nil {
		return err
	}
	session.SetCookie(w, h.config.Cookie, token)
	return nil
}

// requestOrigin はリクエストのスキームとホストからオリジンを組み立てる。
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
