package model

import "time"

// Task はオンボーディングのタスク定義を表す。
type Task struct {
	ID          string
	Title       string
	Description string
	Week        int
	FolderID    string
	Type        string
	ResourceURL string
	CreatedAt   time.Time
}

// AssignedTaskStatus は割り当て済みタスクの状態。
type AssignedTaskStatus string

const (
	AssignedTaskAssigned  AssignedTaskStatus = "Assigned"
	AssignedTaskCompleted AssignedTaskStatus = "Completed"
)

// AssignedTask は応募者へのタスク割り当てを表す。
type AssignedTask struct {
	ID          string
	ApplicantID string
	TaskID      string
	TaskTitle   string
	Status      AssignedTaskStatus
	DueDate     string
	CompletedAt *time.Time
}

// Quiz はクイズ定義を表す。
// Questionsは設問定義のJSON文字列をそのまま保持する。
type Quiz struct {
	ID           string
	Title        string
	Description  string
	PassingScore int
	Questions    string
	FolderID     string
}

// Folder はタスク・クイズをまとめるフォルダを表す。
type Folder struct {
	ID          string
	Name        string
	Description string
	Order       int
}

// EmailTemplate はメールテンプレートを表す。
// 本文中の {{name}} 形式の変数は送信時に置換される。
type EmailTemplate struct {
	ID      string
	Name    string
	Subject string
	Body    string
}
