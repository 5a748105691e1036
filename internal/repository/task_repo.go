package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/hireboard/internal/airtable"
	"github.com/hitoshi/hireboard/internal/model"
)

// Onboarding Tasksテーブルのフィールド名
const (
	taskTitle       = "Title"
	taskDescription = "Description"
	taskWeek        = "Week"
	taskFolder      = "Folder"
	taskFolderID    = "Folder ID"
	taskType        = "Type"
	taskResourceURL = "Resource URL"
)

// taskUpdatable はタスク定義の更新可能フィールド。
var taskUpdatable = map[string]string{
	"title":       taskTitle,
	"description": taskDescription,
	"week":        taskWeek,
	"type":        taskType,
	"resourceUrl": taskResourceURL,
}

// Assigned Tasksテーブルのフィールド名
const (
	assignedApplicant   = "Applicant"
	assignedApplicantID = "Applicant ID"
	assignedTask        = "Task"
	assignedTaskTitle   = "Task Title"
	assignedStatus      = "Status"
	assignedDueDate     = "Due Date"
	assignedCompletedAt = "Completed At"
)

// TaskRepo はタスク定義と割り当てのリポジトリ。
type TaskRepo struct {
	store RecordStore
}

// NewTaskRepo はTaskRepoを生成する。
func NewTaskRepo(store RecordStore) *TaskRepo {
	return &TaskRepo{store: store}
}

// List はタスク定義を週・タイトル順で返す。folderIDが空でなければそのフォルダに絞り込む。
func (r *TaskRepo) List(ctx context.Context, folderID string) ([]*model.Task, error) {
	opts := airtable.ListOptions{
		Sort: []airtable.Sort{{Field: taskWeek}, {Field: taskTitle}},
	}
	if folderID != "" {
		opts.Formula = airtable.Eq(taskFolderID, folderID)
	}
	recs, err := r.store.List(ctx, TableTasks, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	out := make([]*model.Task, 0, len(recs))
	for i := range recs {
		out = append(out, taskFromRecord(&recs[i]))
	}
	return out, nil
}

// FindByID は指定IDのタスク定義を取得する。見つからない場合はnilを返す。
func (r *TaskRepo) FindByID(ctx context.Context, id string) (*model.Task, error) {
	rec, err := getRecord(ctx, r.store, TableTasks, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return taskFromRecord(rec), nil
}

// Create はタスク定義を作成する。
func (r *TaskRepo) Create(ctx context.Context, t *model.Task) (*model.Task, error) {
	fields := map[string]any{
		taskTitle:       t.Title,
		taskDescription: t.Description,
		taskWeek:        t.Week,
		taskType:        t.Type,
		taskResourceURL: t.ResourceURL,
	}
	if t.FolderID != "" {
		fields[taskFolder] = linked(t.FolderID)
	}
	rec, err := r.store.Create(ctx, TableTasks, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return taskFromRecord(rec), nil
}

// Update は許可リストに含まれるフィールドのみを更新する。folderIdはリンクとして扱う。
func (r *TaskRepo) Update(ctx context.Context, id string, in map[string]any) (*model.Task, error) {
	folder, hasFolder := in["folderId"]
	rest := make(map[string]any, len(in))
	for k, v := range in {
		if k != "folderId" {
			rest[k] = v
		}
	}
	fields, err := allowFields(rest, taskUpdatable)
	if err != nil {
		return nil, err
	}
	if hasFolder {
		s, _ := folder.(string)
		fields[taskFolder] = linked(s)
	}
	rec, err := r.store.Update(ctx, TableTasks, id, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	return taskFromRecord(rec), nil
}

// Delete はタスク定義を削除する。
func (r *TaskRepo) Delete(ctx context.Context, id string) error {
	return deleteRecord(ctx, r.store, TableTasks, id)
}

// Count はタスク定義の件数を返す。
func (r *TaskRepo) Count(ctx context.Context) (int, error) {
	recs, err := r.store.List(ctx, TableTasks, airtable.ListOptions{Fields: []string{taskTitle}})
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return len(recs), nil
}

// Assign は応募者にタスクを割り当てる。
func (r *TaskRepo) Assign(ctx context.Context, applicantID string, task *model.Task, dueDate string) (*model.AssignedTask, error) {
	fields := map[string]any{
		assignedApplicant:   linked(applicantID),
		assignedApplicantID: applicantID,
		assignedTask:        linked(task.ID),
		assignedTaskTitle:   task.Title,
		assignedStatus:      string(model.AssignedTaskAssigned),
	}
	if dueDate != "" {
		fields[assignedDueDate] = dueDate
	}
	rec, err := r.store.Create(ctx, TableAssignedTasks, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to assign task: %w", err)
	}
	return assignedFromRecord(rec), nil
}

// FindAssignedByID は指定IDの割り当てを取得する。見つからない場合はnilを返す。
func (r *TaskRepo) FindAssignedByID(ctx context.Context, id string) (*model.AssignedTask, error) {
	rec, err := getRecord(ctx, r.store, TableAssignedTasks, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return assignedFromRecord(rec), nil
}

// ListAssigned は応募者に割り当てられたタスクを期限順で返す。
// applicantIDが空の場合は全件を返す。
func (r *TaskRepo) ListAssigned(ctx context.Context, applicantID string) ([]*model.AssignedTask, error) {
	opts := airtable.ListOptions{Sort: []airtable.Sort{{Field: assignedDueDate}}}
	if applicantID != "" {
		opts.Formula = airtable.Eq(assignedApplicantID, applicantID)
	}
	recs, err := r.store.List(ctx, TableAssignedTasks, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list assigned tasks: %w", err)
	}
	out := make([]*model.AssignedTask, 0, len(recs))
	for i := range recs {
		out = append(out, assignedFromRecord(&recs[i]))
	}
	return out, nil
}

// CountAssignedByStatus は割り当て状態ごとの件数を返す。
func (r *TaskRepo) CountAssignedByStatus(ctx context.Context) (map[model.AssignedTaskStatus]int, error) {
	recs, err := r.store.List(ctx, TableAssignedTasks, airtable.ListOptions{Fields: []string{assignedStatus}})
	if err != nil {
		return nil, fmt.Errorf("failed to count assigned tasks: %w", err)
	}
	counts := make(map[model.AssignedTaskStatus]int)
	for _, rec := range recs {
		counts[model.AssignedTaskStatus(rec.Text(assignedStatus))]++
	}
	return counts, nil
}

// CompleteAssigned は割り当てを完了状態にする。
func (r *TaskRepo) CompleteAssigned(ctx context.Context, id string, at time.Time) (*model.AssignedTask, error) {
	rec, err := r.store.Update(ctx, TableAssignedTasks, id, map[string]any{
		assignedStatus:      string(model.AssignedTaskCompleted),
		assignedCompletedAt: at.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete assigned task: %w", err)
	}
	return assignedFromRecord(rec), nil
}

// DeleteAssigned は割り当てを削除する。
func (r *TaskRepo) DeleteAssigned(ctx context.Context, id string) error {
	return deleteRecord(ctx, r.store, TableAssignedTasks, id)
}

func taskFromRecord(rec *airtable.Record) *model.Task {
	return &model.Task{
		ID:          rec.ID,
		Title:       rec.Text(taskTitle),
		Description: rec.Text(taskDescription),
		Week:        rec.Int(taskWeek),
		FolderID:    rec.First(taskFolder),
		Type:        rec.Text(taskType),
		ResourceURL: rec.Text(taskResourceURL),
		CreatedAt:   rec.CreatedTime,
	}
}

func assignedFromRecord(rec *airtable.Record) *model.AssignedTask {
	a := &model.AssignedTask{
		ID:          rec.ID,
		ApplicantID: rec.Text(assignedApplicantID),
		TaskID:      rec.First(assignedTask),
		TaskTitle:   rec.Text(assignedTaskTitle),
		Status:      model.AssignedTaskStatus(rec.Text(assignedStatus)),
		DueDate:     rec.Text(assignedDueDate),
	}
	if a.ApplicantID == "" {
		a.ApplicantID = rec.First(assignedApplicant)
	}
	if t := rec.Time(assignedCompletedAt); !t.IsZero() {
		a.CompletedAt = &t
	}
	return a
}
