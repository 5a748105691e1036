package model

import "time"

// EventStatus は監査イベントの結果区分。
type EventStatus string

const (
	EventSuccess        EventStatus = "Success"
	EventError          EventStatus = "Error"
	EventPartialSuccess EventStatus = "Partial Success"
)

// AuditEvent は追記専用の監査イベントを表す。
// 作成後に更新・削除されることはない。
type AuditEvent struct {
	ID              string
	EventType       string
	EventStatus     EventStatus
	UserRole        string
	UserName        string
	UserIdentifier  string
	DetailedMessage string
	Timestamp       time.Time
	IPAddress       string
	UserAgent       string
	RequestID       string
}

// AuditFilter は監査ログ一覧・エクスポートの絞り込み条件。
type AuditFilter struct {
	EventType string
	Status    EventStatus
	User      string
	From      time.Time
	To        time.Time
}
