package model

import "time"

// NotificationType は通知種別。固定の語彙から選択する。
type NotificationType string

const (
	NotifyNewApplicant  NotificationType = "New Applicant"
	NotifyTaskCompleted NotificationType = "Task Completed"
	NotifyQuizSubmitted NotificationType = "Quiz Submitted"
	NotifyStageChanged  NotificationType = "Stage Changed"
	NotifyAdminInvited  NotificationType = "Admin Invited"
	NotifyBulkOperation NotificationType = "Bulk Operation"
	NotifySystem        NotificationType = "System"
)

// NotificationTypes は定義済み通知種別の一覧。
var NotificationTypes = []NotificationType{
	NotifyNewApplicant,
	NotifyTaskCompleted,
	NotifyQuizSubmitted,
	NotifyStageChanged,
	NotifyAdminInvited,
	NotifyBulkOperation,
	NotifySystem,
}

// IsValidNotificationType は通知種別が定義済みかを返す。
func IsValidNotificationType(t NotificationType) bool {
	for _, v := range NotificationTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Severity は通知の重要度。
type Severity string

const (
	SeverityInfo     Severity = "Info"
	SeveritySuccess  Severity = "Success"
	SeverityWarning  Severity = "Warning"
	SeverityCritical Severity = "Critical"
)

// IsValidSeverity は重要度が定義済みかを返す。
func IsValidSeverity(s Severity) bool {
	switch s {
	case SeverityInfo, SeveritySuccess, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// Channel は通知の配信チャネル。
type Channel string

const (
	ChannelInApp Channel = "In-App"
	ChannelEmail Channel = "Email"
	ChannelSlack Channel = "Slack"
)

// IsValidChannel はチャネルが定義済みかを返す。
func IsValidChannel(c Channel) bool {
	switch c {
	case ChannelInApp, ChannelEmail, ChannelSlack:
		return true
	}
	return false
}

// Notification はアプリ内通知を表す。
// 既読フラグのみ受信者本人の操作で更新される。
type Notification struct {
	ID          string
	Title       string
	Body        string
	Type        NotificationType
	Severity    Severity
	RecipientID string
	Read        bool
	ActionURL   string
	Source      string
	CreatedAt   time.Time
}
