package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/hireboard/internal/model"
)

type mockAppender struct {
	mu       sync.Mutex
	events   []*model.AuditEvent
	appendFn func(ctx context.Context, ev *model.AuditEvent) error
}

func (m *mockAppender) Append(ctx context.Context, ev *model.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendFn != nil {
		if err := m.appendFn(ctx, ev); err != nil {
			return err
		}
	}
	m.events = append(m.events, ev)
	return nil
}

type appenderFunc func(ctx context.Context, ev *model.AuditEvent) error

func (f appenderFunc) Append(ctx context.Context, ev *model.AuditEvent) error { return f(ctx, ev) }

type mockRecorder struct {
	statuses []string
	failures int
}

func (r *mockRecorder) RecordAuditEvent(status string) { r.statuses = append(r.statuses, status) }
func (r *mockRecorder) RecordAuditFailure()            { r.failures++ }

func newTestSink(app Appender) (*Sink, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	s := NewSink(app, logger)
	s.now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }
	return s, &buf
}

func TestSink_Log_AssignsServerTimestamp(t *testing.T) {
	app := &mockAppender{}
	sink, _ := newTestSink(app)

	err := sink.Log(context.Background(), Entry{
		EventType:      "Applicant Created",
		Status:         model.EventSuccess,
		UserRole:       "admin",
		UserName:       "Admin",
		UserIdentifier: "admin@example.com",
		Message:        "Created applicant Alice",
	})
	if err != nil {
		t.Fatalf("Log がエラーを返した: %v", err)
	}
	if len(app.events) != 1 {
		t.Fatalf("events = %d, want 1", len(app.events))
	}
	ev := app.events[0]
	if !ev.Timestamp.Equal(time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)) {
		t.Errorf("Timestamp = %v", ev.Timestamp)
	}
	if ev.UserIdentifier != "admin@example.com" || ev.DetailedMessage != "Created applicant Alice" {
		t.Errorf("event = %+v", ev)
	}
}

func TestSink_Log_DefaultsStatusToSuccess(t *testing.T) {
	app := &mockAppender{}
	sink, _ := newTestSink(app)

	if err := sink.Log(context.Background(), Entry{EventType: "Logout"}); err != nil {
		t.Fatalf("Log がエラーを返した: %v", err)
	}
	if app.events[0].EventStatus != model.EventSuccess {
		t.Errorf("EventStatus = %q, want Success", app.events[0].EventStatus)
	}
}

func TestSink_Record_SwallowsFailure(t *testing.T) {
	app := &mockAppender{appendFn: func(context.Context, *model.AuditEvent) error {
		return errors.New("store unavailable")
	}}
	rec := &mockRecorder{}
	sink, buf := newTestSink(app)
	sink.WithRecorder(rec)

	// パニックもエラー返却もしないこと
	sink.Record(context.Background(), Entry{EventType: "Login", Status: model.EventError})

	if !strings.Contains(buf.String(), "failed to record audit event") {
		t.Errorf("失敗がログに記録されていない: %s", buf.String())
	}
	if rec.failures != 1 {
		t.Errorf("failures = %d, want 1", rec.failures)
	}
}

func TestSink_Record_IgnoresCancelledRequestContext(t *testing.T) {
	app := &mockAppender{appendFn: func(ctx context.Context, _ *model.AuditEvent) error {
		return ctx.Err()
	}}
	sink, _ := newTestSink(app)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Record(ctx, Entry{EventType: "Bulk Delete"})

	if len(app.events) != 1 {
		t.Errorf("events = %d, want 1 (write must not be cancelled)", len(app.events))
	}
}

func TestSink_Log_PreservesCallOrder(t *testing.T) {
	app := &mockAppender{}
	sink, _ := newTestSink(app)

	for _, typ := range []string{"first", "second", "third"} {
		sink.Record(context.Background(), Entry{EventType: typ})
	}
	got := []string{app.events[0].EventType, app.events[1].EventType, app.events[2].EventType}
	if got[0] != "first" || got[1] != "second" || got[2] != "third" {
		t.Errorf("order = %v", got)
	}
}

func TestSink_Log_TimestampsIncreaseInCallOrder(t *testing.T) {
	app := &mockAppender{}
	sink, _ := newTestSink(app)

	for _, typ := range []string{"first", "second", "third"} {
		sink.Record(context.Background(), Entry{EventType: typ})
	}
	for i := 1; i < len(app.events); i++ {
		if !app.events[i].Timestamp.After(app.events[i-1].Timestamp) {
			t.Errorf("events[%d].Timestamp = %v, 直前 %v より後であること",
				i, app.events[i].Timestamp, app.events[i-1].Timestamp)
		}
	}
}

func TestSink_Log_SlowWriteDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	app := &mockAppender{}
	slow := appenderFunc(func(ctx context.Context, ev *model.AuditEvent) error {
		if ev.EventType == "slow" {
			close(started)
			<-release
		}
		return app.Append(ctx, ev)
	})
	sink, _ := newTestSink(slow)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sink.Record(context.Background(), Entry{EventType: "slow"})
	}()
	<-started

	fast := make(chan struct{})
	go func() {
		defer close(fast)
		sink.Record(context.Background(), Entry{EventType: "fast"})
	}()

	select {
	case <-fast:
	case <-time.After(2 * time.Second):
		t.Fatal("遅い書き込みの完了を待って他の書き込みがブロックされた")
	}
	close(release)
	<-done

	if len(app.events) != 2 {
		t.Fatalf("events = %d, want 2", len(app.events))
	}
}

func TestNewEntry_FromSession(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/admin/users", nil)
	r.Header.Set("User-Agent", "test-agent")
	r.Header.Set(RequestIDHeader, "req-123")
	r.RemoteAddr = "203.0.113.7:54321"

	e := NewEntry(r, &model.Session{
		UserEmail: "admin@example.com",
		UserRole:  model.RoleAdmin,
		UserName:  "Admin",
	}, "Applicant Created")

	if e.UserRole != "admin" || e.UserIdentifier != "admin@example.com" || e.UserName != "Admin" {
		t.Errorf("actor = %+v", e)
	}
	if e.Meta.IPAddress != "203.0.113.7" || e.Meta.UserAgent != "test-agent" || e.Meta.RequestID != "req-123" {
		t.Errorf("meta = %+v", e.Meta)
	}
	if e.Status != model.EventSuccess {
		t.Errorf("Status = %q", e.Status)
	}
}

func TestNewEntry_NilSession(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/login", nil)
	e := NewEntry(r, nil, "Login")
	if e.UserIdentifier != "" || e.UserRole != "" {
		t.Errorf("anonymous entry should have no actor: %+v", e)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"X-Forwarded-Forの先頭", map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"}, "10.0.0.2:1", "198.51.100.1"},
		{"X-Real-IP", map[string]string{"X-Real-IP": "198.51.100.2"}, "10.0.0.2:1", "198.51.100.2"},
		{"RemoteAddr", nil, "192.0.2.10:8080", "192.0.2.10"},
		{"ポートなしRemoteAddr", nil, "192.0.2.11", "192.0.2.11"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMetadataFromRequest_TruncatesUserAgent(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("User-Agent", strings.Repeat("a", 1000))

	if got := MetadataFromRequest(r).UserAgent; len(got) != maxUserAgentLength {
		t.Errorf("len(UserAgent) = %d, want %d", len(got), maxUserAgentLength)
	}
}
