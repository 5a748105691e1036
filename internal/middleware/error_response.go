package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/hireboard/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// detailsは開発モードでのみ内部エラーの内容を含む。
type ErrorResponseBody struct {
	Error     string `json:"error"`
	UserError string `json:"userError,omitempty"`
	Code      string `json:"code"`
	Details   string `json:"details,omitempty"`
}

// StatusForCode はエラーコードに対応するHTTPステータスを返す。
// 未知のコードは500とする。
func StatusForCode(code string) int {
	switch code {
	case model.ErrCodeUnauthorized,
		model.ErrCodeSessionInvalid,
		model.ErrCodeSessionFormat,
		model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeInvalidRequest,
		model.ErrCodeValidation,
		model.ErrCodeInvalidRecordID,
		model.ErrCodeBatchTooLarge,
		model.ErrCodeEmptyBatch,
		model.ErrCodeInviteInvalid,
		model.ErrCodeInviteUsed,
		model.ErrCodePasswordMismatch,
		model.ErrCodeWeakPassword:
		return http.StatusBadRequest
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeAlreadyRegistered:
		return http.StatusConflict
	case model.ErrCodeWebhookTimeout:
		return http.StatusRequestTimeout
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeWebhookFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeErrorBody(w, statusCode, apiErr, "")
}

// WriteAPIError はエラーコードから決まるステータスでエラーレスポンスを書き込む。
// detailsは開発モードの場合のみ呼び出し元が渡す。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError, details string) {
	writeErrorBody(w, StatusForCode(apiErr.Code), apiErr, details)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

func writeErrorBody(w http.ResponseWriter, statusCode int, apiErr *model.APIError, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Error:     apiErr.Message,
		UserError: apiErr.UserMessage,
		Code:      apiErr.Code,
		Details:   details,
	})
}
