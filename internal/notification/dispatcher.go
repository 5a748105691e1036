// Package notification は管理者への通知配信を提供する。
//
// 通知は受信者の受信設定に従って作成され、外部チャネル（メール・Slack）が
// 有効な場合のみWebhookへ転送される。アプリ内通知と外部配信は独立して成否が決まる。
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/hireboard/internal/model"
	"github.com/hitoshi/hireboard/internal/security"
	"github.com/hitoshi/hireboard/internal/webhook"
)

// ErrRecipientNotFound は受信者のスタッフレコードが存在しないことを示す。
var ErrRecipientNotFound = errors.New("notification: recipient not found")

// 配信結果（計測用）
const (
	outcomeCreated = "created"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

// StaffFinder は受信者のスタッフ情報を取得するインターフェース。
type StaffFinder interface {
	FindByID(ctx context.Context, id string) (*model.Staff, error)
}

// Store は通知レコードを作成するインターフェース。
type Store interface {
	Create(ctx context.Context, n *model.Notification) (*model.Notification, error)
}

// Sender は外部配信用のWebhook送信インターフェース。
type Sender interface {
	Configured(purpose string) bool
	Send(ctx context.Context, purpose string, payload any) error
}

// Recorder は通知配信の計測インターフェース。
type Recorder interface {
	RecordNotification(outcome string)
}

// Request は通知の作成要求。
type Request struct {
	Title       string
	Body        string
	Type        model.NotificationType
	Severity    model.Severity
	RecipientID string
	ActionURL   string
	Source      string
}

// Result は通知の配信結果。
// Skippedは受信設定により作成しなかったことを示し、エラーではない。
type Result struct {
	OK           bool
	Skipped      bool
	Notification *model.Notification
	Err          error
}

// webhookPayload は外部配信用のWebhookペイロード。
type webhookPayload struct {
	NotificationID string   `json:"notificationId"`
	Title          string   `json:"title"`
	Body           string   `json:"body"`
	Type           string   `json:"type"`
	Severity       string   `json:"severity"`
	ActionURL      string   `json:"actionUrl,omitempty"`
	RecipientEmail string   `json:"recipientEmail"`
	RecipientName  string   `json:"recipientName"`
	SlackID        string   `json:"slackId,omitempty"`
	Channels       []string `json:"channels"`
}

// Dispatcher は通知を配信する。
type Dispatcher struct {
	staff     StaffFinder
	store     Store
	sender    Sender
	sanitizer security.ContentSanitizerService
	logger    *slog.Logger
	recorder  Recorder
}

// NewDispatcher はDispatcherを生成する。senderはnilでもよい。
func NewDispatcher(staff StaffFinder, store Store, sender Sender, sanitizer security.ContentSanitizerService, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		staff:     staff,
		store:     store,
		sender:    sender,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// WithRecorder は計測用のRecorderを設定する。
func (d *Dispatcher) WithRecorder(r Recorder) *Dispatcher {
	d.recorder = r
	return d
}

// Notify は受信者の設定に従って通知を作成する。
// 外部配信の失敗はログに記録するだけで結果のOKには影響しない。
func (d *Dispatcher) Notify(ctx context.Context, req Request) Result {
	if !model.IsValidNotificationType(req.Type) {
		return d.fail(fmt.Errorf("notification: unknown type %q", req.Type))
	}
	severity := req.Severity
	if severity == "" {
		severity = model.SeverityInfo
	}
	if !model.IsValidSeverity(severity) {
		return d.fail(fmt.Errorf("notification: unknown severity %q", severity))
	}

	recipient, err := d.staff.FindByID(ctx, req.RecipientID)
	if err != nil {
		return d.fail(fmt.Errorf("notification: failed to load recipient: %w", err))
	}
	if recipient == nil {
		return d.fail(fmt.Errorf("%w: %s", ErrRecipientNotFound, req.RecipientID))
	}

	if !recipient.HasPreference(req.Type) {
		d.record(outcomeSkipped)
		d.logger.Debug("notification suppressed by preferences",
			slog.String("recipient_id", recipient.ID),
			slog.String("type", string(req.Type)),
		)
		return Result{OK: true, Skipped: true}
	}

	n := &model.Notification{
		Title:       d.sanitizer.PlainText(req.Title),
		Body:        d.sanitizer.PlainText(req.Body),
		Type:        req.Type,
		Severity:    severity,
		RecipientID: recipient.ID,
		ActionURL:   d.sanitizer.ActionURL(req.ActionURL),
		Source:      d.sanitizer.PlainText(req.Source),
	}
	if n.Title == "" {
		return d.fail(errors.New("notification: title is empty after sanitising"))
	}

	created, err := d.store.Create(ctx, n)
	if err != nil {
		return d.fail(fmt.Errorf("notification: failed to create record: %w", err))
	}
	d.record(outcomeCreated)

	d.forward(ctx, recipient, created)

	return Result{OK: true, Notification: created}
}

// forward はメール・Slackが有効な受信者向けにWebhookへ転送する。
func (d *Dispatcher) forward(ctx context.Context, recipient *model.Staff, n *model.Notification) {
	var channels []string
	for _, ch := range []model.Channel{model.ChannelEmail, model.ChannelSlack} {
		if recipient.HasChannel(ch) {
			channels = append(channels, string(ch))
		}
	}
	if len(channels) == 0 || d.sender == nil || !d.sender.Configured(webhook.PurposeNotification) {
		return
	}

	payload := webhookPayload{
		NotificationID: n.ID,
		Title:          n.Title,
		Body:           n.Body,
		Type:           string(n.Type),
		Severity:       string(n.Severity),
		ActionURL:      n.ActionURL,
		RecipientEmail: recipient.Email,
		RecipientName:  recipient.Name,
		SlackID:        recipient.SlackID,
		Channels:       channels,
	}
	if err := d.sender.Send(ctx, webhook.PurposeNotification, payload); err != nil {
		d.logger.Warn("external notification delivery failed",
			slog.String("notification_id", n.ID),
			slog.String("recipient_id", recipient.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Dispatcher) fail(err error) Result {
	d.record(outcomeFailed)
	d.logger.Error("notification dispatch failed", slog.String("error", err.Error()))
	return Result{OK: false, Err: err}
}

func (d *Dispatcher) record(outcome string) {
	if d.recorder != nil {
		d.recorder.RecordNotification(outcome)
	}
}
