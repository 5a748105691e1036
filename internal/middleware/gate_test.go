package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/hireboard/internal/model"
	"github.com/hitoshi/hireboard/internal/session"
)

const testSecret = "0123456789abcdef0123456789abcdef-gate"

// countingOpener はUnsealの呼び出し回数を数える。
type countingOpener struct {
	inner SessionOpener
	calls int
}

func (o *countingOpener) Unseal(token string, ttl time.Duration) (*model.Session, error) {
	o.calls++
	return o.inner.Unseal(token, ttl)
}

func newTestGate(t *testing.T, dev bool) (*Gate, *session.Codec, *countingOpener) {
	t.Helper()
	codec, err := session.NewCodec(testSecret)
	if err != nil {
		t.Fatalf("NewCodec がエラーを返した: %v", err)
	}
	opener := &countingOpener{inner: codec}
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	return NewGate(opener, 8*time.Hour, logger, dev), codec, opener
}

func sealFor(t *testing.T, codec *session.Codec, s model.Session) string {
	t.Helper()
	token, err := codec.Seal(s, time.Hour)
	if err != nil {
		t.Fatalf("Seal がエラーを返した: %v", err)
	}
	return token
}

func requestWithCookie(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: session.CookieName, Value: token})
	}
	return req
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

// TestGate_NoCookie_Returns401WithoutUnseal はCookieなしでは開封を試みずに401を返すことを検証する。
func TestGate_NoCookie_Returns401WithoutUnseal(t *testing.T) {
	gate, _, opener := newTestGate(t, false)

	s, apiErr := gate.Authorize(requestWithCookie(""), model.RoleAdmin)

	if s != nil || apiErr == nil || apiErr.Code != model.ErrCodeUnauthorized {
		t.Fatalf("Authorize = (%v, %v), want UNAUTHORIZED", s, apiErr)
	}
	if opener.calls != 0 {
		t.Errorf("Unseal calls = %d, want 0", opener.calls)
	}
}

// TestGate_InvalidToken_Returns401 は改ざん・別鍵のトークンで401を返すことを検証する。
func TestGate_InvalidToken_Returns401(t *testing.T) {
	gate, _, _ := newTestGate(t, false)

	other, err := session.NewCodec("another-secret-another-secret-0000")
	if err != nil {
		t.Fatalf("NewCodec がエラーを返した: %v", err)
	}
	foreign := sealFor(t, other, model.Session{UserEmail: "a@example.com", UserRole: model.RoleAdmin})

	for _, token := range []string{"garbage", "v1.AAAA", foreign} {
		_, apiErr := gate.Authorize(requestWithCookie(token), "")
		if apiErr == nil || apiErr.Code != model.ErrCodeSessionInvalid {
			t.Errorf("token %q: apiErr = %v, want SESSION_INVALID", token, apiErr)
		}
	}
}

// TestGate_MissingFields_Returns401 はメールアドレスを欠くセッションを拒否することを検証する。
func TestGate_MissingFields_Returns401(t *testing.T) {
	gate, codec, _ := newTestGate(t, false)
	token := sealFor(t, codec, model.Session{UserRole: model.RoleAdmin})

	_, apiErr := gate.Authorize(requestWithCookie(token), "")

	if apiErr == nil || apiErr.Code != model.ErrCodeSessionFormat {
		t.Fatalf("apiErr = %v, want SESSION_FORMAT", apiErr)
	}
	if apiErr.Message != "Invalid session format" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

// TestGate_RoleMismatch_Returns403 はロール不一致が常に403になることを検証する。
func TestGate_RoleMismatch_Returns403(t *testing.T) {
	gate, codec, _ := newTestGate(t, false)
	token := sealFor(t, codec, model.Session{UserEmail: "u@example.com", UserRole: model.RoleUser})

	_, apiErr := gate.Authorize(requestWithCookie(token), model.RoleAdmin)

	if apiErr == nil || apiErr.Code != model.ErrCodeForbidden {
		t.Fatalf("apiErr = %v, want FORBIDDEN", apiErr)
	}
	if StatusForCode(apiErr.Code) != http.StatusForbidden {
		t.Errorf("status = %d, want 403", StatusForCode(apiErr.Code))
	}
}

// TestGate_AnyRole_AcceptsBoth はロール指定なしで両ロールを受け入れることを検証する。
func TestGate_AnyRole_AcceptsBoth(t *testing.T) {
	gate, codec, _ := newTestGate(t, false)

	for _, role := range []model.Role{model.RoleAdmin, model.RoleUser} {
		token := sealFor(t, codec, model.Session{UserEmail: "x@example.com", UserRole: role})
		s, apiErr := gate.Authorize(requestWithCookie(token), "")
		if apiErr != nil || s.UserRole != role {
			t.Errorf("role %s: (%v, %v)", role, s, apiErr)
		}
	}
}

// TestGate_Require_InjectsSession はRequireがセッションをコンテキストに注入することを検証する。
func TestGate_Require_InjectsSession(t *testing.T) {
	gate, codec, _ := newTestGate(t, false)
	token := sealFor(t, codec, model.Session{UserEmail: "admin@example.com", UserRole: model.RoleAdmin, UserName: "Admin"})

	var captured *model.Session
	handler := gate.Require(model.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = SessionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestWithCookie(token))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if captured == nil || captured.UserEmail != "admin@example.com" {
		t.Errorf("session = %+v", captured)
	}
}

// TestGate_Require_Rejects は拒否時にハンドラーを呼ばずエラーボディを返すことを検証する。
func TestGate_Require_Rejects(t *testing.T) {
	gate, codec, _ := newTestGate(t, false)
	userToken := sealFor(t, codec, model.Session{UserEmail: "u@example.com", UserRole: model.RoleUser})

	tests := []struct {
		name   string
		token  string
		status int
		code   string
	}{
		{"Cookieなし", "", http.StatusUnauthorized, model.ErrCodeUnauthorized},
		{"不正トークン", "v1.broken", http.StatusUnauthorized, model.ErrCodeSessionInvalid},
		{"ロール不一致", userToken, http.StatusForbidden, model.ErrCodeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := gate.Require(model.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, requestWithCookie(tt.token))

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			body := decodeError(t, w)
			if body.Code != tt.code {
				t.Errorf("code = %q, want %q", body.Code, tt.code)
			}
			if body.Details != "" {
				t.Errorf("details must be empty outside development: %q", body.Details)
			}
		})
	}
}

// TestGate_Require_DevModeIncludesDetails は開発モードでのみ内部エラーを返すことを検証する。
func TestGate_Require_DevModeIncludesDetails(t *testing.T) {
	gate, _, _ := newTestGate(t, true)

	handler := gate.Require("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestWithCookie("v1.broken"))

	body := decodeError(t, w)
	if body.Details == "" {
		t.Error("details should be present in development mode")
	}
}

// TestGate_ExpiredSession_Returns401 は期限切れセッションを拒否することを検証する。
func TestGate_ExpiredSession_Returns401(t *testing.T) {
	gate, codec, _ := newTestGate(t, false)
	token, err := codec.Seal(model.Session{
		UserEmail: "a@example.com",
		UserRole:  model.RoleAdmin,
	}, 0)
	if err != nil {
		t.Fatalf("Seal がエラーを返した: %v", err)
	}
	time.Sleep(time.Millisecond)

	_, apiErr := gate.Authorize(requestWithCookie(token), "")
	if apiErr == nil || apiErr.Code != model.ErrCodeSessionInvalid {
		t.Errorf("apiErr = %v, want SESSION_INVALID", apiErr)
	}
}

// TestSessionFromContext_Empty はセッション未注入のコンテキストでfalseを返すことを検証する。
func TestSessionFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := SessionFromContext(req.Context()); ok {
		t.Error("SessionFromContext should return false")
	}
	ctx := ContextWithSession(req.Context(), &model.Session{UserEmail: "a@example.com"})
	if s, ok := SessionFromContext(ctx); !ok || s.UserEmail != "a@example.com" {
		t.Error("ContextWithSession round trip failed")
	}
}

// TestGate_Optional はセッションの有無にかかわらずハンドラーを呼び、有効な場合のみ注入することを検証する。
func TestGate_Optional(t *testing.T) {
	gate, codec, _ := newTestGate(t, false)
	valid := sealFor(t, codec, model.Session{UserEmail: "admin@example.com", UserRole: model.RoleAdmin})

	tests := []struct {
		name        string
		token       string
		wantSession bool
	}{
		{"valid session", valid, true},
		{"no cookie", "", false},
		{"tampered", valid + "x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			var captured *model.Session
			handler := gate.Optional()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				captured, _ = SessionFromContext(r.Context())
				w.WriteHeader(http.StatusNoContent)
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, requestWithCookie(tt.token))

			if !called || w.Code != http.StatusNoContent {
				t.Fatalf("called = %v, status = %d", called, w.Code)
			}
			if (captured != nil) != tt.wantSession {
				t.Errorf("session = %+v, wantSession = %v", captured, tt.wantSession)
			}
		})
	}
}
