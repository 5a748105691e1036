package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/hireboard/internal/airtable"
	"github.com/hitoshi/hireboard/internal/model"
)

// Applicantsテーブルのフィールド名
const (
	applicantName         = "Name"
	applicantEmail        = "Email"
	applicantPhone        = "Phone"
	applicantPosition     = "Position"
	applicantStage        = "Stage"
	applicantPasswordHash = "Password Hash"
	applicantOwner        = "Owner"
	applicantCreatedAt    = "Created At"
)

// applicantUpdatable は管理者が更新できるフィールドの許可リスト。
// パスワードハッシュはAPI経由で更新させない。
var applicantUpdatable = map[string]string{
	"name":     applicantName,
	"email":    applicantEmail,
	"phone":    applicantPhone,
	"position": applicantPosition,
	"stage":    applicantStage,
}

// applicantSortFields はソート可能なキー→フィールド名。
var applicantSortFields = map[string]string{
	"name":      applicantName,
	"email":     applicantEmail,
	"stage":     applicantStage,
	"createdAt": applicantCreatedAt,
}

// IsApplicantSortField はソートキーが許可されているかを返す。
func IsApplicantSortField(key string) bool {
	_, ok := applicantSortFields[key]
	return ok
}

// ApplicantQuery は応募者一覧の検索条件。
type ApplicantQuery struct {
	Search    string // 名前またはメールの部分一致
	Stage     string
	SortBy    string // applicantSortFieldsのキー
	SortOrder string // "asc" または "desc"
}

// ApplicantRepo はApplicantsテーブルのリポジトリ。
type ApplicantRepo struct {
	store RecordStore
}

// NewApplicantRepo はApplicantRepoを生成する。
func NewApplicantRepo(store RecordStore) *ApplicantRepo {
	return &ApplicantRepo{store: store}
}

// FindByID は指定IDの応募者を取得する。見つからない場合はnilを返す。
func (r *ApplicantRepo) FindByID(ctx context.Context, id string) (*model.Applicant, error) {
	rec, err := getRecord(ctx, r.store, TableApplicants, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return applicantFromRecord(rec), nil
}

// FindByEmail はメールアドレスで応募者を検索する。見つからない場合はnilを返す。
func (r *ApplicantRepo) FindByEmail(ctx context.Context, email string) (*model.Applicant, error) {
	rec, err := findOne(ctx, r.store, TableApplicants, airtable.EqFold(applicantEmail, email))
	if err != nil || rec == nil {
		return nil, err
	}
	return applicantFromRecord(rec), nil
}

// List は条件に一致する応募者を全件返す。ページングは呼び出し側で行う。
func (r *ApplicantRepo) List(ctx context.Context, q ApplicantQuery) ([]*model.Applicant, error) {
	var conds []airtable.Formula
	if q.Search != "" {
		conds = append(conds, airtable.Or(
			airtable.Search(applicantName, q.Search),
			airtable.Search(applicantEmail, q.Search),
		))
	}
	if q.Stage != "" {
		conds = append(conds, airtable.Eq(applicantStage, q.Stage))
	}

	opts := airtable.ListOptions{Formula: airtable.And(conds...)}
	if f, ok := applicantSortFields[q.SortBy]; ok {
		opts.Sort = []airtable.Sort{{Field: f, Direction: q.SortOrder}}
	}

	recs, err := r.store.List(ctx, TableApplicants, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list applicants: %w", err)
	}
	out := make([]*model.Applicant, 0, len(recs))
	for i := range recs {
		out = append(out, applicantFromRecord(&recs[i]))
	}
	return out, nil
}

// CountByStage はステージごとの応募者数を返す。
func (r *ApplicantRepo) CountByStage(ctx context.Context) (map[string]int, error) {
	recs, err := r.store.List(ctx, TableApplicants, airtable.ListOptions{Fields: []string{applicantStage}})
	if err != nil {
		return nil, fmt.Errorf("failed to count applicants: %w", err)
	}
	counts := make(map[string]int)
	for _, rec := range recs {
		stage := rec.Text(applicantStage)
		if stage == "" {
			stage = "Unassigned"
		}
		counts[stage]++
	}
	return counts, nil
}

// Create は応募者を作成する。
func (r *ApplicantRepo) Create(ctx context.Context, a *model.Applicant) (*model.Applicant, error) {
	fields := map[string]any{
		applicantName:     a.Name,
		applicantEmail:    a.Email,
		applicantPhone:    a.Phone,
		applicantPosition: a.Position,
		applicantStage:    a.Stage,
	}
	if a.OwnerStaffID != "" {
		fields[applicantOwner] = linked(a.OwnerStaffID)
	}
	rec, err := r.store.Create(ctx, TableApplicants, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to create applicant: %w", err)
	}
	return applicantFromRecord(rec), nil
}

// Update は許可リストに含まれるフィールドのみを更新する。
// 許可されていないキーが含まれる場合はErrFieldNotAllowedをラップしたエラーを返す。
func (r *ApplicantRepo) Update(ctx context.Context, id string, in map[string]any) (*model.Applicant, error) {
	fields, err := allowFields(in, applicantUpdatable)
	if err != nil {
		return nil, err
	}
	rec, err := r.store.Update(ctx, TableApplicants, id, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to update applicant: %w", err)
	}
	return applicantFromRecord(rec), nil
}

// Delete は応募者を削除する。
func (r *ApplicantRepo) Delete(ctx context.Context, id string) error {
	return deleteRecord(ctx, r.store, TableApplicants, id)
}

func applicantFromRecord(rec *airtable.Record) *model.Applicant {
	created := rec.Time(applicantCreatedAt)
	if created.IsZero() {
		created = rec.CreatedTime
	}
	return &model.Applicant{
		ID:           rec.ID,
		Name:         rec.Text(applicantName),
		Email:        rec.Text(applicantEmail),
		Phone:        rec.Text(applicantPhone),
		Position:     rec.Text(applicantPosition),
		Stage:        rec.Text(applicantStage),
		PasswordHash: rec.Text(applicantPasswordHash),
		OwnerStaffID: rec.First(applicantOwner),
		CreatedAt:    created,
	}
}
