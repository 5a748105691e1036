package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/hireboard/internal/airtable"
	"github.com/hitoshi/hireboard/internal/model"
)

// Staffテーブルのフィールド名
const (
	staffName         = "Name"
	staffEmail        = "Email"
	staffPasswordHash = "Password Hash"
	staffIsAdmin      = "Is Admin"
	staffInviteNonce  = "Invite Nonce"
	staffPreferences  = "Notification Preferences"
	staffChannels     = "Notification Channels"
	staffSlackID      = "Slack ID"
)

// StaffRepo はStaffテーブルのリポジトリ。
type StaffRepo struct {
	store RecordStore
}

// NewStaffRepo はStaffRepoを生成する。
func NewStaffRepo(store RecordStore) *StaffRepo {
	return &StaffRepo{store: store}
}

// FindByID は指定IDのスタッフを取得する。見つからない場合はnilを返す。
func (r *StaffRepo) FindByID(ctx context.Context, id string) (*model.Staff, error) {
	rec, err := getRecord(ctx, r.store, TableStaff, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return staffFromRecord(rec), nil
}

// FindByEmail はメールアドレス（大文字小文字を区別しない）でスタッフを検索する。
// 見つからない場合はnilを返す。
func (r *StaffRepo) FindByEmail(ctx context.Context, email string) (*model.Staff, error) {
	rec, err := findOne(ctx, r.store, TableStaff, airtable.EqFold(staffEmail, email))
	if err != nil || rec == nil {
		return nil, err
	}
	return staffFromRecord(rec), nil
}

// CreateInvited はパスワード未設定の管理者アカウントを招待nonce付きで作成する。
func (r *StaffRepo) CreateInvited(ctx context.Context, name, email, nonce string) (*model.Staff, error) {
	rec, err := r.store.Create(ctx, TableStaff, map[string]any{
		staffName:         name,
		staffEmail:        email,
		staffIsAdmin:      true,
		staffPasswordHash: "",
		staffInviteNonce:  nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create staff: %w", err)
	}
	return staffFromRecord(rec), nil
}

// RefreshInvite は既存アカウントの招待nonceを差し替え、管理者権限を付与する。
// 以前に発行した招待リンクはこの時点で無効になる。
func (r *StaffRepo) RefreshInvite(ctx context.Context, id, name, nonce string) error {
	fields := map[string]any{
		staffIsAdmin:     true,
		staffInviteNonce: nonce,
	}
	if name != "" {
		fields[staffName] = name
	}
	if _, err := r.store.Update(ctx, TableStaff, id, fields); err != nil {
		return fmt.Errorf("failed to refresh staff invite: %w", err)
	}
	return nil
}

// CompleteInvite はパスワードハッシュの設定とnonceの消去を1回の更新で行う。
func (r *StaffRepo) CompleteInvite(ctx context.Context, id, passwordHash string) error {
	_, err := r.store.Update(ctx, TableStaff, id, map[string]any{
		staffPasswordHash: passwordHash,
		staffInviteNonce:  "",
	})
	if err != nil {
		return fmt.Errorf("failed to complete staff invite: %w", err)
	}
	return nil
}

// UpdatePreferences は通知の受信設定とチャネルを更新する。
func (r *StaffRepo) UpdatePreferences(ctx context.Context, id string, prefs []model.NotificationType, channels []model.Channel) (*model.Staff, error) {
	p := make([]string, len(prefs))
	for i, v := range prefs {
		p[i] = string(v)
	}
	c := make([]string, len(channels))
	for i, v := range channels {
		c[i] = string(v)
	}
	rec, err := r.store.Update(ctx, TableStaff, id, map[string]any{
		staffPreferences: p,
		staffChannels:    c,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update notification preferences: %w", err)
	}
	return staffFromRecord(rec), nil
}

func staffFromRecord(rec *airtable.Record) *model.Staff {
	s := &model.Staff{
		ID:           rec.ID,
		Name:         rec.Text(staffName),
		Email:        rec.Text(staffEmail),
		PasswordHash: rec.Text(staffPasswordHash),
		IsAdmin:      rec.Bool(staffIsAdmin),
		InviteNonce:  rec.Text(staffInviteNonce),
		SlackID:      rec.Text(staffSlackID),
	}
	for _, p := range rec.Strings(staffPreferences) {
		s.NotificationPreferences = append(s.NotificationPreferences, model.NotificationType(p))
	}
	for _, c := range rec.Strings(staffChannels) {
		s.NotificationChannels = append(s.NotificationChannels, model.Channel(c))
	}
	return s
}
