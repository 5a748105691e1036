package model

import "time"

// Role はセッション上のユーザー種別。
type Role string

const (
	// RoleAdmin は管理者（Staffテーブルの管理者アカウント）。
	RoleAdmin Role = "admin"
	// RoleUser は応募者（Applicantsテーブルのアカウント）。
	RoleUser Role = "user"
)

// Session はCookieに封印されるログインセッションを表す。
// サーバー側には保存しない。
type Session struct {
	UserEmail       string    `json:"userEmail"`
	UserRole        Role      `json:"userRole"`
	UserName        string    `json:"userName"`
	UserStaffID     string    `json:"userStaffId,omitempty"`
	UserApplicantID string    `json:"userApplicantId,omitempty"`
	IssuedAt        time.Time `json:"issuedAt"`
}

// IsAdmin は管理者セッションかどうかを返す。
func (s *Session) IsAdmin() bool {
	return s.UserRole == RoleAdmin
}

// Staff は社内スタッフ（管理者を含む）を表す。
// PasswordHashが空の場合は招待承諾待ち。
type Staff struct {
	ID                      string
	Name                    string
	Email                   string
	PasswordHash            string
	IsAdmin                 bool
	InviteNonce             string
	NotificationPreferences []NotificationType
	NotificationChannels    []Channel
	SlackID                 string
}

// HasPreference は通知種別が受信設定に含まれるかを返す。
func (s *Staff) HasPreference(t NotificationType) bool {
	for _, p := range s.NotificationPreferences {
		if p == t {
			return true
		}
	}
	return false
}

// HasChannel は通知チャネルが有効かを返す。
func (s *Staff) HasChannel(c Channel) bool {
	for _, ch := range s.NotificationChannels {
		if ch == c {
			return true
		}
	}
	return false
}

// Applicant は応募者を表す。
type Applicant struct {
	ID           string
	Name         string
	Email        string
	Phone        string
	Position     string
	Stage        string
	PasswordHash string
	OwnerStaffID string
	CreatedAt    time.Time
}

// ApplicantStages は応募者の選考ステージ。
var ApplicantStages = []string{
	"Applied",
	"Screening",
	"Interview",
	"Offer",
	"Hired",
	"Onboarding",
	"Rejected",
}

// IsValidStage はステージ名が定義済みかを返す。
func IsValidStage(stage string) bool {
	for _, s := range ApplicantStages {
		if s == stage {
			return true
		}
	}
	return false
}
