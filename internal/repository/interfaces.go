// Package repository はレコードストア上の各テーブルへのアクセスを提供する。
// フィールド名の対応付けと更新可能フィールドの許可リストはこのパッケージに閉じる。
package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hitoshi/hireboard/internal/airtable"
)

// RecordStore はレコードストアの操作インターフェース。
// airtable.Clientが実装する。
type RecordStore interface {
	List(ctx context.Context, table string, opts airtable.ListOptions) ([]airtable.Record, error)
	Get(ctx context.Context, table, id string) (*airtable.Record, error)
	Create(ctx context.Context, table string, fields map[string]any) (*airtable.Record, error)
	Update(ctx context.Context, table, id string, fields map[string]any) (*airtable.Record, error)
	UpdateBatch(ctx context.Context, table string, records []airtable.Record) ([]airtable.Record, error)
	Delete(ctx context.Context, table, id string) error
}

// テーブル名
const (
	TableStaff         = "Staff"
	TableApplicants    = "Applicants"
	TableTasks         = "Onboarding Tasks"
	TableAssignedTasks = "Assigned Tasks"
	TableQuizzes       = "Quizzes"
	TableFolders       = "Folders"
	TableTemplates     = "Email Templates"
	TableNotifications = "Notifications"
	TableAuditLogs     = "Audit Logs"
)

// ErrFieldNotAllowed は更新が許可されていないフィールドが指定されたことを示す。
var ErrFieldNotAllowed = errors.New("field is not updatable")

// FieldError は許可されていないフィールド名を保持する。
type FieldError struct {
	Fields []string
}

// Error はerrorインターフェースを実装する。
func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", ErrFieldNotAllowed, strings.Join(e.Fields, ", "))
}

// Unwrap はErrFieldNotAllowedを返す。
func (e *FieldError) Unwrap() error {
	return ErrFieldNotAllowed
}

// allowFields はJSONキー→ストアのフィールド名の許可リストに従って入力を変換する。
// 許可リストにないキーが1つでも含まれる場合は何も変換せずFieldErrorを返す。
func allowFields(in map[string]any, allow map[string]string) (map[string]any, error) {
	out := make(map[string]any, len(in))
	var rejected []string
	for k, v := range in {
		name, ok := allow[k]
		if !ok {
			rejected = append(rejected, k)
			continue
		}
		out[name] = v
	}
	if len(rejected) > 0 {
		sort.Strings(rejected)
		return nil, &FieldError{Fields: rejected}
	}
	return out, nil
}

// getRecord はレコードを取得する。見つからない場合はnilを返す。
func getRecord(ctx context.Context, store RecordStore, table, id string) (*airtable.Record, error) {
	rec, err := store.Get(ctx, table, id)
	if errors.Is(err, airtable.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s record: %w", table, err)
	}
	return rec, nil
}

// findOne はフィルタ式に最初に一致するレコードを返す。見つからない場合はnilを返す。
func findOne(ctx context.Context, store RecordStore, table string, f airtable.Formula) (*airtable.Record, error) {
	recs, err := store.List(ctx, table, airtable.ListOptions{Formula: f, MaxRecords: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// deleteRecord はレコードを削除する。存在しない場合もエラーとする。
func deleteRecord(ctx context.Context, store RecordStore, table, id string) error {
	if err := store.Delete(ctx, table, id); err != nil {
		return fmt.Errorf("failed to delete %s record: %w", table, err)
	}
	return nil
}

// linked はリンクフィールドに書き込む値を返す。空の場合はリンクを外す。
func linked(id string) []string {
	if id == "" {
		return []string{}
	}
	return []string{id}
}
