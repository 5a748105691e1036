// Package audit は監査ログの記録を提供する。
//
// 監査ログの書き込み失敗は呼び出し元のレスポンスに影響させない。
// ハンドラーはRecordを使い、エラーはログに残して握りつぶす。
package audit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/hireboard/internal/model"
)

// RequestIDHeader はリクエストIDを運ぶヘッダー。
const RequestIDHeader = "X-Request-ID"

// maxUserAgentLength はUser-Agentの保存上限。
const maxUserAgentLength = 512

// Appender は監査イベントの永続化インターフェース。
// repository.AuditRepoが実装する。
type Appender interface {
	Append(ctx context.Context, ev *model.AuditEvent) error
}

// Recorder は監査イベントの計測インターフェース。
type Recorder interface {
	RecordAuditEvent(status string)
	RecordAuditFailure()
}

// Metadata はリクエスト由来の付帯情報。
type Metadata struct {
	IPAddress string
	UserAgent string
	RequestID string
}

// Entry は1回の論理操作に対応する監査イベントの入力。
type Entry struct {
	EventType      string
	Status         model.EventStatus
	UserRole       string
	UserName       string
	UserIdentifier string
	Message        string
	Meta           Metadata
}

// NewEntry はリクエストとセッションから行為者と付帯情報を埋めたEntryを返す。
// sessionがnilの場合（ログイン失敗など）は行為者を空のままにする。
func NewEntry(r *http.Request, s *model.Session, eventType string) Entry {
	e := Entry{
		EventType: eventType,
		Status:    model.EventSuccess,
		Meta:      MetadataFromRequest(r),
	}
	if s != nil {
		e.UserRole = string(s.UserRole)
		e.UserName = s.UserName
		e.UserIdentifier = s.UserEmail
	}
	return e
}

// MetadataFromRequest はリクエストからIP、User-Agent、リクエストIDを取り出す。
// IPはX-Forwarded-Forの先頭、X-Real-IP、RemoteAddrの順に採用する。
func MetadataFromRequest(r *http.Request) Metadata {
	if r == nil {
		return Metadata{}
	}
	ua := r.UserAgent()
	if len(ua) > maxUserAgentLength {
		ua = ua[:maxUserAgentLength]
	}
	return Metadata{
		IPAddress: ClientIP(r),
		UserAgent: ua,
		RequestID: r.Header.Get(RequestIDHeader),
	}
}

// ClientIP はリクエスト元のIPアドレスを返す。
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// timestampStep はタイムスタンプが重複した場合に進める幅。
// Airtableの日時フィールドはミリ秒精度で比較される。
const timestampStep = time.Millisecond

// Sink は監査イベントを追記する。
// 1プロセス内の呼び出し順は、単調増加するタイムスタンプとして保存される。
// 書き込み自体は並行に行い、遅い書き込みが他のリクエストを待たせない。
type Sink struct {
	appender Appender
	logger   *slog.Logger
	recorder Recorder

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewSink はSinkを生成する。
func NewSink(appender Appender, logger *slog.Logger) *Sink {
	return &Sink{
		appender: appender,
		logger:   logger,
		now:      time.Now,
	}
}

// WithRecorder は計測用のRecorderを設定する。
func (s *Sink) WithRecorder(r Recorder) *Sink {
	s.recorder = r
	return s
}

// Log は監査イベントを1件書き込み、失敗時はエラーを返す。
// タイムスタンプはサーバー側で付与する。
func (s *Sink) Log(ctx context.Context, e Entry) error {
	status := e.Status
	if status == "" {
		status = model.EventSuccess
	}

	ev := &model.AuditEvent{
		EventType:       e.EventType,
		EventStatus:     status,
		UserRole:        e.UserRole,
		UserName:        e.UserName,
		UserIdentifier:  e.UserIdentifier,
		DetailedMessage: e.Message,
		Timestamp:       s.nextTimestamp(),
		IPAddress:       e.Meta.IPAddress,
		UserAgent:       e.Meta.UserAgent,
		RequestID:       e.Meta.RequestID,
	}
	if err := s.appender.Append(ctx, ev); err != nil {
		if s.recorder != nil {
			s.recorder.RecordAuditFailure()
		}
		return err
	}
	if s.recorder != nil {
		s.recorder.RecordAuditEvent(string(status))
	}
	return nil
}

// nextTimestamp は直前に払い出した値より後のタイムスタンプを返す。
func (s *Sink) nextTimestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UTC()
	if !ts.After(s.last) {
		ts = s.last.Add(timestampStep)
	}
	s.last = ts
	return ts
}

// Record は監査イベントを書き込み、失敗はログに記録するだけで呼び出し元に返さない。
// クライアントの切断で書き込みが中断されないよう、キャンセルを切り離したコンテキストを使う。
func (s *Sink) Record(ctx context.Context, e Entry) {
	if err := s.Log(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Error("failed to record audit event",
			slog.String("event_type", e.EventType),
			slog.String("event_status", string(e.Status)),
			slog.String("request_id", e.Meta.RequestID),
			slog.String("error", err.Error()),
		)
	}
}
