package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hireboard/internal/audit"
	"github.com/hitoshi/hireboard/internal/middleware"
	"github.com/hitoshi/hireboard/internal/model"
	"github.com/hitoshi/hireboard/internal/notification"
)

// --- 共通モック ---

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *recordingAudit) Record(_ context.Context, e audit.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

func (a *recordingAudit) all() []audit.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Entry(nil), a.entries...)
}

// only は監査イベントがちょうど1件であることを確認して返す。
func (a *recordingAudit) only(t *testing.T) audit.Entry {
	t.Helper()
	entries := a.all()
	if len(entries) != 1 {
		t.Fatalf("監査イベント数 = %d, want 1: %+v", len(entries), entries)
	}
	return entries[0]
}

type mockNotifier struct {
	mu       sync.Mutex
	requests []notification.Request
	notifyFn func(ctx context.Context, req notification.Request) notification.Result
}

func (m *mockNotifier) Notify(ctx context.Context, req notification.Request) notification.Result {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.notifyFn != nil {
		return m.notifyFn(ctx, req)
	}
	return notification.Result{OK: true}
}

func (m *mockNotifier) sent() []notification.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notification.Request(nil), m.requests...)
}

// --- ヘルパー ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBase(rec *recordingAudit) base {
	return base{audit: rec, logger: discardLogger()}
}

func adminSession() *model.Session {
	return &model.Session{
		UserEmail:   "admin@example.com",
		UserRole:    model.RoleAdmin,
		UserName:    "Alice Admin",
		UserStaffID: recID(900),
	}
}

func applicantSession() *model.Session {
	return &model.Session{
		UserEmail:       "bob@example.com",
		UserRole:        model.RoleUser,
		UserName:        "Bob Applicant",
		UserApplicantID: recID(500),
	}
}

// recID はレコードID形式のテスト用IDを返す。
func recID(n int) string {
	return fmt.Sprintf("rec%014d", n)
}

func recIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = recID(i + 1)
	}
	return ids
}

// newRequest はJSONボディ・セッション・URLパラメータを設定したリクエストを生成する。
func newRequest(method, target string, body any, s *model.Session, params map[string]string) *http.Request {
	var rd io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(v)
	default:
		b, _ := json.Marshal(v)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	if s != nil {
		req = req.WithContext(middleware.ContextWithSession(req.Context(), s))
	}
	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for k, v := range params {
			rctx.URLParams.Add(k, v)
		}
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}
	return req
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v (body=%q)", err, w.Body.String())
	}
	return v
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	return decodeBody[middleware.ErrorResponseBody](t, w)
}

func assertStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d (body=%s)", w.Code, want, w.Body.String())
	}
}
