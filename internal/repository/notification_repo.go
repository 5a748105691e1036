package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/hireboard/internal/airtable"
	"github.com/hitoshi/hireboard/internal/model"
)

// Notificationsテーブルのフィールド名
const (
	notificationTitle       = "Title"
	notificationBody        = "Body"
	notificationType        = "Type"
	notificationSeverity    = "Severity"
	notificationRecipient   = "Recipient"
	notificationRecipientID = "Recipient ID"
	notificationRead        = "Read"
	notificationActionURL   = "Action URL"
	notificationSource      = "Source"
	notificationCreatedAt   = "Created At"
)

// NotificationQuery は通知一覧の絞り込み条件。
type NotificationQuery struct {
	UnreadOnly bool
	Since      time.Time
}

// NotificationRepo はNotificationsテーブルのリポジトリ。
type NotificationRepo struct {
	store RecordStore
	now   func() time.Time
}

// NewNotificationRepo はNotificationRepoを生成する。
func NewNotificationRepo(store RecordStore) *NotificationRepo {
	return &NotificationRepo{store: store, now: time.Now}
}

// Create は通知を作成する。既読フラグは常にfalseで作成する。
func (r *NotificationRepo) Create(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	fields := map[string]any{
		notificationTitle:       n.Title,
		notificationBody:        n.Body,
		notificationType:        string(n.Type),
		notificationSeverity:    string(n.Severity),
		notificationRecipient:   linked(n.RecipientID),
		notificationRecipientID: n.RecipientID,
		notificationRead:        false,
		notificationSource:      n.Source,
		notificationCreatedAt:   r.now().UTC().Format(time.RFC3339),
	}
	if n.ActionURL != "" {
		fields[notificationActionURL] = n.ActionURL
	}
	rec, err := r.store.Create(ctx, TableNotifications, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	return notificationFromRecord(rec), nil
}

// FindByID は指定IDの通知を取得する。見つからない場合はnilを返す。
func (r *NotificationRepo) FindByID(ctx context.Context, id string) (*model.Notification, error) {
	rec, err := getRecord(ctx, r.store, TableNotifications, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return notificationFromRecord(rec), nil
}

// ListForRecipient は受信者宛の通知を新しい順で返す。
func (r *NotificationRepo) ListForRecipient(ctx context.Context, recipientID string, q NotificationQuery) ([]*model.Notification, error) {
	conds := []airtable.Formula{airtable.Eq(notificationRecipientID, recipientID)}
	if q.UnreadOnly {
		conds = append(conds, airtable.EqBool(notificationRead, false))
	}
	if !q.Since.IsZero() {
		conds = append(conds, airtable.After(notificationCreatedAt, q.Since))
	}

	recs, err := r.store.List(ctx, TableNotifications, airtable.ListOptions{
		Formula: airtable.And(conds...),
		Sort:    []airtable.Sort{{Field: notificationCreatedAt, Direction: "desc"}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	out := make([]*model.Notification, 0, len(recs))
	for i := range recs {
		out = append(out, notificationFromRecord(&recs[i]))
	}
	return out, nil
}

// CountUnread は受信者の未読通知数を返す。
func (r *NotificationRepo) CountUnread(ctx context.Context, recipientID string) (int, error) {
	recs, err := r.store.List(ctx, TableNotifications, airtable.ListOptions{
		Formula: airtable.And(
			airtable.Eq(notificationRecipientID, recipientID),
			airtable.EqBool(notificationRead, false),
		),
		Fields: []string{notificationRead},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return len(recs), nil
}

// MarkRead は通知を既読にする。
func (r *NotificationRepo) MarkRead(ctx context.Context, id string) (*model.Notification, error) {
	rec, err := r.store.Update(ctx, TableNotifications, id, map[string]any{notificationRead: true})
	if err != nil {
		return nil, fmt.Errorf("failed to mark notification read: %w", err)
	}
	return notificationFromRecord(rec), nil
}

// MarkAllRead は指定IDの通知をairtable.MaxBatchSize件ずつ既読にする。
// 途中のバッチが失敗した場合は、それまでに更新できたIDとエラーを返す。
func (r *NotificationRepo) MarkAllRead(ctx context.Context, ids []string) ([]string, error) {
	updated := make([]string, 0, len(ids))
	for start := 0; start < len(ids); start += airtable.MaxBatchSize {
		end := min(start+airtable.MaxBatchSize, len(ids))

		batch := make([]airtable.Record, 0, end-start)
		for _, id := range ids[start:end] {
			batch = append(batch, airtable.Record{ID: id, Fields: map[string]any{notificationRead: true}})
		}

		recs, err := r.store.UpdateBatch(ctx, TableNotifications, batch)
		if err != nil {
			return updated, fmt.Errorf("failed to mark notifications read: %w", err)
		}
		for _, rec := range recs {
			updated = append(updated, rec.ID)
		}
	}
	return updated, nil
}

func notificationFromRecord(rec *airtable.Record) *model.Notification {
	created := rec.Time(notificationCreatedAt)
	if created.IsZero() {
		created = rec.CreatedTime
	}
	recipient := rec.Text(notificationRecipientID)
	if recipient == "" {
		recipient = rec.First(notificationRecipient)
	}
	return &model.Notification{
		ID:          rec.ID,
		Title:       rec.Text(notificationTitle),
		Body:        rec.Text(notificationBody),
		Type:        model.NotificationType(rec.Text(notificationType)),
		Severity:    model.Severity(rec.Text(notificationSeverity)),
		RecipientID: recipient,
		Read:        rec.Bool(notificationRead),
		ActionURL:   rec.Text(notificationActionURL),
		Source:      rec.Text(notificationSource),
		CreatedAt:   created,
	}
}
