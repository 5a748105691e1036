// Package handler はHTTPハンドラーを提供する。
//
// 各ハンドラーはGateが注入したセッションを前提とし、入力検証をレコードストアへの
// 問い合わせより先に行う。状態を変更する操作は論理操作1回につき監査イベントを1件記録する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sort"

	"github.com/hitoshi/hireboard/internal/airtable"
	"github.com/hitoshi/hireboard/internal/audit"
	"github.com/hitoshi/hireboard/internal/middleware"
	"github.com/hitoshi/hireboard/internal/model"
	"github.com/hitoshi/hireboard/internal/notification"
	"github.com/hitoshi/hireboard/internal/repository"
)

// maxBodyBytes はJSONリクエストボディの上限。
const maxBodyBytes = 1 << 20

// recordIDPattern はレコードストアのレコードID形式。
var recordIDPattern = regexp.MustCompile(`^rec[a-zA-Z0-9]{14}$`)

// AuditRecorder は監査イベントを記録するインターフェース。
// 記録の失敗は呼び出し元に返さない。
type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry)
}

// Notifier は管理者への通知を配信するインターフェース。
type Notifier interface {
	Notify(ctx context.Context, req notification.Request) notification.Result
}

// base は各ハンドラーが共有する依存とエラー応答の処理。
type base struct {
	audit  AuditRecorder
	logger *slog.Logger
	dev    bool
}

// record は監査イベントを1件記録する。
func (b *base) record(r *http.Request, eventType string, status model.EventStatus, message string) {
	s, _ := middleware.SessionFromContext(r.Context())
	e := audit.NewEntry(r, s, eventType)
	e.Status = status
	e.Message = message
	b.audit.Record(r.Context(), e)
}

// fail はエラーを統一フォーマットの応答に変換する。
// APIError以外の詳細は開発モードの場合のみdetailsに含める。
func (b *base) fail(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, internal := classifyError(err)
	if internal {
		b.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", r.Header.Get(audit.RequestIDHeader)),
			slog.String("error", err.Error()),
		)
	}
	details := ""
	if b.dev && internal {
		details = err.Error()
	}
	middleware.WriteAPIError(w, apiErr, details)
}

// classifyError はエラーをAPIErrorに変換する。
// 2番目の戻り値はクライアントに原因を示せない内部エラーかどうか。
func classifyError(err error) (*model.APIError, bool) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr, false
	}

	var fieldErr *repository.FieldError
	if errors.As(err, &fieldErr) {
		return model.NewValidationError("%s", fieldErr.Error()), false
	}
	if errors.Is(err, airtable.ErrNotFound) {
		return model.NewNotFoundError("Record"), false
	}

	var respErr *airtable.ResponseError
	if errors.As(err, &respErr) || errors.Is(err, airtable.ErrRateLimited) {
		return model.NewUpstreamFailedError(), true
	}
	return model.NewInternalError(), true
}

// decodeJSON はリクエストボディをvにデコードする。
// 空ボディ・不正なJSONはINVALID_REQUESTとする。
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return model.NewInvalidRequestError()
	}
	return nil
}

// writeJSON はvをJSONとして書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// messageResponse は処理結果のメッセージのみを返すレスポンス。
type messageResponse struct {
	Message string `json:"message"`
}

// isRecordID はレコードID形式として正しいかを返す。
func isRecordID(id string) bool {
	return recordIDPattern.MatchString(id)
}

// sessionFrom はGateが注入したセッションを返す。
// Gateを通らないルートに誤って登録された場合は401を返す。
func sessionFrom(r *http.Request) (*model.Session, error) {
	s, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		return nil, model.NewUnauthorizedError()
	}
	return s, nil
}

// writeCtx はレコードストアへの書き込み用コンテキストを返す。
// クライアントが切断しても書き込みを中断しない。
func writeCtx(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// failAudited はエラー状態の監査イベントを記録してからエラー応答を書き込む。
func (b *base) failAudited(w http.ResponseWriter, r *http.Request, eventType string, err error) {
	apiErr, _ := classifyError(err)
	b.record(r, eventType, model.EventError, apiErr.Message)
	b.fail(w, r, err)
}

// notify は通知を配信する。失敗はログに記録するだけで応答には影響させない。
func (b *base) notify(r *http.Request, n Notifier, req notification.Request) {
	if n == nil || req.RecipientID == "" {
		return
	}
	res := n.Notify(writeCtx(r), req)
	if !res.OK {
		attrs := []any{
			slog.String("type", string(req.Type)),
			slog.String("recipient_id", req.RecipientID),
		}
		if res.Err != nil {
			attrs = append(attrs, slog.String("error", res.Err.Error()))
		}
		b.logger.Warn("failed to deliver notification", attrs...)
	}
}

// sortedKeys はマップのキーを昇順で返す。
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
