package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/hireboard/internal/audit"
)

// requestInfoContextKey はログ用のリクエスト情報を格納するためのキー。
var requestInfoContextKey = contextKey("request_info")

// requestInfo は下流のミドルウェアが認証結果を書き戻すための入れ物。
// ロギングミドルウェアはGateより外側にあるため、コンテキスト経由では値を受け取れない。
type requestInfo struct {
	mu        sync.Mutex
	userEmail string
}

func setRequestUser(ctx context.Context, email string) {
	if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok {
		info.mu.Lock()
		info.userEmail = email
		info.mu.Unlock()
	}
}

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// Flush はストリーミングレスポンス（エクスポート）のために委譲する。
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// StatusObserver はレスポンスステータスの計測インターフェース。
type StatusObserver interface {
	RecordHTTPStatus(statusCode int)
}

// NewRequestIDMiddleware はリクエストIDを付与するミドルウェアを返す。
// クライアントが送ったX-Request-IDはUUID形式の場合のみ引き継ぐ。
func NewRequestIDMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(audit.RequestIDHeader)
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.New().String()
				r.Header.Set(audit.RequestIDHeader, id)
			}
			w.Header().Set(audit.RequestIDHeader, id)
			next.ServeHTTP(w, r)
		})
	}
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、request_id、user_email（認証済みの場合）を含む。
// observerがnilでなければステータスコードを計測する。
func NewLoggingMiddleware(logger *slog.Logger, observer StatusObserver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			info := &requestInfo{}
			r = r.WithContext(context.WithValue(r.Context(), requestInfoContextKey, info))

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			durationMs := float64(duration.Nanoseconds()) / float64(time.Millisecond)

			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
			}
			if id := r.Header.Get(audit.RequestIDHeader); id != "" {
				attrs = append(attrs, slog.String("request_id", id))
			}

			info.mu.Lock()
			email := info.userEmail
			info.mu.Unlock()
			if email != "" {
				attrs = append(attrs, slog.String("user_email", email))
			}

			// slogのログレベルをステータスコードに応じて変更
			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "http_request", attrs...)

			if observer != nil {
				observer.RecordHTTPStatus(rec.statusCode)
			}
		})
	}
}
