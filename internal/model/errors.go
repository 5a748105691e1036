// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// Messageはレスポンスのerrorに、UserMessageはuserErrorに対応する。
type APIError struct {
	Code        string // エラーコード
	Message     string // エラーメッセージ
	UserMessage string // UI表示用メッセージ（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeSessionInvalid     = "SESSION_INVALID"
	ErrCodeSessionFormat      = "SESSION_FORMAT"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeValidation         = "VALIDATION_FAILED"
	ErrCodeInvalidRecordID    = "INVALID_RECORD_ID"
	ErrCodeBatchTooLarge      = "BATCH_TOO_LARGE"
	ErrCodeEmptyBatch         = "EMPTY_BATCH"
	ErrCodeInviteInvalid      = "INVITE_INVALID"
	ErrCodeInviteUsed         = "INVITE_USED"
	ErrCodePasswordMismatch   = "PASSWORD_MISMATCH"
	ErrCodeWeakPassword       = "WEAK_PASSWORD"
	ErrCodeAlreadyRegistered  = "ALREADY_REGISTERED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeWebhookFailed      = "WEBHOOK_FAILED"
	ErrCodeWebhookTimeout     = "WEBHOOK_TIMEOUT"
	ErrCodeUpstreamFailed     = "UPSTREAM_FAILED"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewUnauthorizedError はセッション未提示時の認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:    ErrCodeUnauthorized,
		Message: "Unauthorized",
	}
}

// NewSessionInvalidError は復号失敗・期限切れセッションの認証エラーを生成する。
// 失敗理由はレスポンスに含めない。
func NewSessionInvalidError() *APIError {
	return &APIError{
		Code:    ErrCodeSessionInvalid,
		Message: "Invalid or expired session",
	}
}

// NewSessionFormatError は必須フィールドを欠くセッションの認証エラーを生成する。
func NewSessionFormatError() *APIError {
	return &APIError{
		Code:    ErrCodeSessionFormat,
		Message: "Invalid session format",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:    ErrCodeForbidden,
		Message: "Forbidden: insufficient privileges",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// アカウント不在・パスワード未設定・パスワード不一致のいずれでも同一の内容を返す。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:        ErrCodeInvalidCredentials,
		Message:     "Invalid credentials",
		UserMessage: "Invalid credentials, please register first.",
	}
}

// NewInvalidRequestError はリクエストボディ解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:    ErrCodeInvalidRequest,
		Message: "Invalid request body",
	}
}

// NewValidationError はフィールド単位のバリデーションエラーを生成する。
func NewValidationError(format string, args ...any) *APIError {
	return &APIError{
		Code:    ErrCodeValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewInvalidRecordIDError はレコードID形式エラーを生成する。
func NewInvalidRecordIDError() *APIError {
	return &APIError{
		Code:    ErrCodeInvalidRecordID,
		Message: "Invalid record ID format detected",
	}
}

// NewBatchTooLargeError は一括操作の上限超過エラーを生成する。
func NewBatchTooLargeError(max int) *APIError {
	return &APIError{
		Code:    ErrCodeBatchTooLarge,
		Message: fmt.Sprintf("Too many IDs: a maximum of %d can be processed per request", max),
	}
}

// NewEmptyBatchError は一括操作のID配列が空の場合のエラーを生成する。
func NewEmptyBatchError(field string) *APIError {
	return &APIError{
		Code:    ErrCodeEmptyBatch,
		Message: fmt.Sprintf("%s must be a non-empty array", field),
	}
}

// NewInviteInvalidError は招待トークンの署名不正・期限切れエラーを生成する。
func NewInviteInvalidError() *APIError {
	return &APIError{
		Code:    ErrCodeInviteInvalid,
		Message: "Invalid or expired invite link",
	}
}

// NewInviteUsedError は招待nonceの不一致（使用済み含む）エラーを生成する。
func NewInviteUsedError() *APIError {
	return &APIError{
		Code:    ErrCodeInviteUsed,
		Message: "This invite link has already been used or is invalid",
	}
}

// NewPasswordMismatchError は確認用パスワード不一致エラーを生成する。
func NewPasswordMismatchError() *APIError {
	return &APIError{
		Code:    ErrCodePasswordMismatch,
		Message: "Passwords do not match",
	}
}

// NewWeakPasswordError はパスワードポリシー違反エラーを生成する。
func NewWeakPasswordError(reason string) *APIError {
	return &APIError{
		Code:    ErrCodeWeakPassword,
		Message: reason,
	}
}

// NewAlreadyRegisteredError は登録済みアカウントへの招待エラーを生成する。
func NewAlreadyRegisteredError(email string) *APIError {
	return &APIError{
		Code:    ErrCodeAlreadyRegistered,
		Message: fmt.Sprintf("An account for %s is already active", email),
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewWebhookFailedError は外部Webhook送信失敗エラーを生成する。
func NewWebhookFailedError() *APIError {
	return &APIError{
		Code:    ErrCodeWebhookFailed,
		Message: "Failed to deliver the message, please try again later",
	}
}

// NewWebhookTimeoutError は外部Webhookのタイムアウトエラーを生成する。
func NewWebhookTimeoutError() *APIError {
	return &APIError{
		Code:    ErrCodeWebhookTimeout,
		Message: "The delivery service timed out, please try again",
	}
}

// NewUpstreamFailedError はレコードストア障害エラーを生成する。
func NewUpstreamFailedError() *APIError {
	return &APIError{
		Code:    ErrCodeUpstreamFailed,
		Message: "The data service is currently unavailable",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:    ErrCodeInternal,
		Message: "Internal server error",
	}
}
