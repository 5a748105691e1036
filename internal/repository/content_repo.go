package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/hireboard/internal/airtable"
	"github.com/hitoshi/hireboard/internal/model"
)

// Quizzesテーブルのフィールド名
const (
	quizTitle        = "Title"
	quizDescription  = "Description"
	quizPassingScore = "Passing Score"
	quizQuestions    = "Questions"
	quizFolder       = "Folder"
)

var quizUpdatable = map[string]string{
	"title":        quizTitle,
	"description":  quizDescription,
	"passingScore": quizPassingScore,
	"questions":    quizQuestions,
}

// Foldersテーブルのフィールド名
const (
	folderName        = "Name"
	folderDescription = "Description"
	folderOrder       = "Order"
)

var folderUpdatable = map[string]string{
	"name":        folderName,
	"description": folderDescription,
	"order":       folderOrder,
}

// Email Templatesテーブルのフィールド名
const (
	templateName    = "Name"
	templateSubject = "Subject"
	templateBody    = "Body"
)

var templateUpdatable = map[string]string{
	"subject": templateSubject,
	"body":    templateBody,
}

// ContentRepo はクイズ・フォルダ・メールテンプレートのリポジトリ。
type ContentRepo struct {
	store RecordStore
}

// NewContentRepo はContentRepoを生成する。
func NewContentRepo(store RecordStore) *ContentRepo {
	return &ContentRepo{store: store}
}

// ListQuizzes はクイズをタイトル順で返す。
func (r *ContentRepo) ListQuizzes(ctx context.Context) ([]*model.Quiz, error) {
	recs, err := r.store.List(ctx, TableQuizzes, airtable.ListOptions{
		Sort: []airtable.Sort{{Field: quizTitle}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list quizzes: %w", err)
	}
	out := make([]*model.Quiz, 0, len(recs))
	for i := range recs {
		out = append(out, quizFromRecord(&recs[i]))
	}
	return out, nil
}

// FindQuiz は指定IDのクイズを取得する。見つからない場合はnilを返す。
func (r *ContentRepo) FindQuiz(ctx context.Context, id string) (*model.Quiz, error) {
	rec, err := getRecord(ctx, r.store, TableQuizzes, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return quizFromRecord(rec), nil
}

// CreateQuiz はクイズを作成する。
func (r *ContentRepo) CreateQuiz(ctx context.Context, q *model.Quiz) (*model.Quiz, error) {
	fields := map[string]any{
		quizTitle:        q.Title,
		quizDescription:  q.Description,
		quizPassingScore: q.PassingScore,
		quizQuestions:    q.Questions,
	}
	if q.FolderID != "" {
		fields[quizFolder] = linked(q.FolderID)
	}
	rec, err := r.store.Create(ctx, TableQuizzes, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to create quiz: %w", err)
	}
	return quizFromRecord(rec), nil
}

// UpdateQuiz は許可リストに含まれるフィールドのみを更新する。
func (r *ContentRepo) UpdateQuiz(ctx context.Context, id string, in map[string]any) (*model.Quiz, error) {
	fields, err := allowFields(in, quizUpdatable)
	if err != nil {
		return nil, err
	}
	rec, err := r.store.Update(ctx, TableQuizzes, id, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to update quiz: %w", err)
	}
	return quizFromRecord(rec), nil
}

// DeleteQuiz はクイズを削除する。
func (r *ContentRepo) DeleteQuiz(ctx context.Context, id string) error {
	return deleteRecord(ctx, r.store, TableQuizzes, id)
}

// CountQuizzes はクイズの件数を返す。
func (r *ContentRepo) CountQuizzes(ctx context.Context) (int, error) {
	recs, err := r.store.List(ctx, TableQuizzes, airtable.ListOptions{Fields: []string{quizTitle}})
	if err != nil {
		return 0, fmt.Errorf("failed to count quizzes: %w", err)
	}
	return len(recs), nil
}

// ListFolders はフォルダを表示順で返す。
func (r *ContentRepo) ListFolders(ctx context.Context) ([]*model.Folder, error) {
	recs, err := r.store.List(ctx, TableFolders, airtable.ListOptions{
		Sort: []airtable.Sort{{Field: folderOrder}, {Field: folderName}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	out := make([]*model.Folder, 0, len(recs))
	for i := range recs {
		out = append(out, folderFromRecord(&recs[i]))
	}
	return out, nil
}

// FindFolder は指定IDのフォルダを取得する。見つからない場合はnilを返す。
func (r *ContentRepo) FindFolder(ctx context.Context, id string) (*model.Folder, error) {
	rec, err := getRecord(ctx, r.store, TableFolders, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return folderFromRecord(rec), nil
}

// CreateFolder はフォルダを作成する。
func (r *ContentRepo) CreateFolder(ctx context.Context, f *model.Folder) (*model.Folder, error) {
	rec, err := r.store.Create(ctx, TableFolders, map[string]any{
		folderName:        f.Name,
		folderDescription: f.Description,
		folderOrder:       f.Order,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create folder: %w", err)
	}
	return folderFromRecord(rec), nil
}

// UpdateFolder は許可リストに含まれるフィールドのみを更新する。
func (r *ContentRepo) UpdateFolder(ctx context.Context, id string, in map[string]any) (*model.Folder, error) {
	fields, err := allowFields(in, folderUpdatable)
	if err != nil {
		return nil, err
	}
	rec, err := r.store.Update(ctx, TableFolders, id, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to update folder: %w", err)
	}
	return folderFromRecord(rec), nil
}

// DeleteFolder はフォルダを削除する。
func (r *ContentRepo) DeleteFolder(ctx context.Context, id string) error {
	return deleteRecord(ctx, r.store, TableFolders, id)
}

// ListTemplates はメールテンプレートを名前順で返す。
func (r *ContentRepo) ListTemplates(ctx context.Context) ([]*model.EmailTemplate, error) {
	recs, err := r.store.List(ctx, TableTemplates, airtable.ListOptions{
		Sort: []airtable.Sort{{Field: templateName}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	out := make([]*model.EmailTemplate, 0, len(recs))
	for i := range recs {
		out = append(out, templateFromRecord(&recs[i]))
	}
	return out, nil
}

// FindTemplate は指定IDのテンプレートを取得する。見つからない場合はnilを返す。
func (r *ContentRepo) FindTemplate(ctx context.Context, id string) (*model.EmailTemplate, error) {
	rec, err := getRecord(ctx, r.store, TableTemplates, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return templateFromRecord(rec), nil
}

// UpdateTemplate は件名・本文のみを更新する。テンプレート名は変更できない。
func (r *ContentRepo) UpdateTemplate(ctx context.Context, id string, in map[string]any) (*model.EmailTemplate, error) {
	fields, err := allowFields(in, templateUpdatable)
	if err != nil {
		return nil, err
	}
	rec, err := r.store.Update(ctx, TableTemplates, id, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to update template: %w", err)
	}
	return templateFromRecord(rec), nil
}

func quizFromRecord(rec *airtable.Record) *model.Quiz {
	return &model.Quiz{
		ID:           rec.ID,
		Title:        rec.Text(quizTitle),
		Description:  rec.Text(quizDescription),
		PassingScore: rec.Int(quizPassingScore),
		Questions:    rec.Text(quizQuestions),
		FolderID:     rec.First(quizFolder),
	}
}

func folderFromRecord(rec *airtable.Record) *model.Folder {
	return &model.Folder{
		ID:          rec.ID,
		Name:        rec.Text(folderName),
		Description: rec.Text(folderDescription),
		Order:       rec.Int(folderOrder),
	}
}

func templateFromRecord(rec *airtable.Record) *model.EmailTemplate {
	return &model.EmailTemplate{
		ID:      rec.ID,
		Name:    rec.Text(templateName),
		Subject: rec.Text(templateSubject),
		Body:    rec.Text(templateBody),
	}
}
