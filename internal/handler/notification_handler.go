package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hireboard/internal/model"
	"github.com/hitoshi/hireboard/internal/notification"
	"github.com/hitoshi/hireboard/internal/repository"
)

// 通知一覧のページング
const (
	defaultNotificationLimit = 20
	maxNotificationLimit     = 100
)

// 監査イベント種別
const (
	eventMarkNotificationRead = "Mark Notification Read"
	eventMarkAllRead          = "Mark All Notifications Read"
	eventUpdatePreferences    = "Update Notification Preferences"
	eventSendNotification     = "Send Notification"
)

// NotificationStore は通知ハンドラーが必要とするリポジトリインターフェース。
type NotificationStore interface {
	FindByID(ctx context.Context, id string) (*model.Notification, error)
	ListForRecipient(ctx context.Context, recipientID string, q repository.NotificationQuery) ([]*model.Notification, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	MarkRead(ctx context.Context, id string) (*model.Notification, error)
	MarkAllRead(ctx context.Context, ids []string) ([]string, error)
}

// PreferenceStore は通知の受信設定を読み書きするインターフェース。
type PreferenceStore interface {
	FindByID(ctx context.Context, id string) (*model.Staff, error)
	UpdatePreferences(ctx context.Context, id string, prefs []model.NotificationType, channels []model.Channel) (*model.Staff, error)
}

// NotificationHandler は通知の参照・既読化・受信設定のHTTPハンドラー。
type NotificationHandler struct {
	base
	store    NotificationStore
	prefs    PreferenceStore
	notifier Notifier
}

// NewNotificationHandler はNotificationHandlerを生成する。
func NewNotificationHandler(b base, store NotificationStore, prefs PreferenceStore, notifier Notifier) *NotificationHandler {
	return &NotificationHandler{base: b, store: store, prefs: prefs, notifier: notifier}
}

type notificationResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Read      bool      `json:"read"`
	ActionURL string    `json:"actionUrl,omitempty"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type notificationListResponse struct {
	Notifications []notificationResponse `json:"notifications"`
	HasMore       bool                   `json:"hasMore"`
	TotalUnread   int                    `json:"totalUnread"`
}

type markAllReadResponse struct {
	Success      bool     `json:"success"`
	Updated      []string `json:"updated"`
	UpdatedCount int      `json:"updatedCount"`
}

type preferencesResponse struct {
	Preferences       []model.NotificationType `json:"preferences"`
	Channels          []model.Channel          `json:"channels"`
	AvailableTypes    []model.NotificationType `json:"availableTypes"`
	AvailableChannels []model.Channel          `json:"availableChannels"`
}

type preferencesRequest struct {
	Preferences []model.NotificationType `json:"preferences"`
	Channels    []model.Channel          `json:"channels"`
}

type sendNotificationRequest struct {
	RecipientID string `json:"recipientId"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	ActionURL   string `json:"actionUrl"`
}

type sendNotificationResponse struct {
	Success        bool   `json:"success"`
	Skipped        bool   `json:"skipped"`
	NotificationID string `json:"notificationId,omitempty"`
}

func toNotificationResponse(n *model.Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID,
		Title:     n.Title,
		Body:      n.Body,
		Type:      string(n.Type),
		Severity:  string(n.Severity),
		Read:      n.Read,
		ActionURL: n.ActionURL,
		Source:    n.Source,
		CreatedAt: n.CreatedAt,
	}
}

var allChannels = []model.Channel{model.ChannelInApp, model.ChannelEmail, model.ChannelSlack}

// List はログイン中の管理者宛の通知を新しい順で返す。
// GET /api/notifications?limit&offset&unread&since
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	staffID, err := staffIDFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	q := r.URL.Query()
	limit, err := positiveIntParam(q.Get("limit"), defaultNotificationLimit, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit = min(limit, maxNotificationLimit)

	offset := 0
	if raw := q.Get("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			h.fail(w, r, model.NewValidationError("offset must be a non-negative integer"))
			return
		}
	}

	query := repository.NotificationQuery{UnreadOnly: q.Get("unread") == "true"}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.fail(w, r, model.NewValidationError("since must be an RFC 3339 timestamp"))
			return
		}
		query.Since = since
	}

	all, err := h.store.ListForRecipient(r.Context(), staffID, query)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	unread, err := h.store.CountUnread(r.Context(), staffID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	start := min(offset, len(all))
	end := min(start+limit, len(all))
	resp := notificationListResponse{
		Notifications: make([]notificationResponse, 0, end-start),
		HasMore:       end < len(all),
		TotalUnread:   unread,
	}
	for _, n := range all[start:end] {
		resp.Notifications = append(resp.Notifications, toNotificationResponse(n))
	}
	writeJSON(w, http.StatusOK, resp)
}

// MarkRead は自分宛の通知を既読にする。
// PATCH /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	staffID, err := staffIDFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if !isRecordID(id) {
		h.fail(w, r, model.NewInvalidRecordIDError())
		return
	}

	n, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	// 他人宛の通知は存在を明かさない
	if n == nil || n.RecipientID != staffID {
		h.fail(w, r, model.NewNotFoundError("Notification"))
		return
	}
	if n.Read {
		writeJSON(w, http.StatusOK, toNotificationResponse(n))
		return
	}

	updated, err := h.store.MarkRead(writeCtx(r), id)
	if err != nil {
		h.failAudited(w, r, eventMarkNotificationRead, err)
		return
	}

	h.record(r, eventMarkNotificationRead, model.EventSuccess, "Marked notification "+id+" as read")
	writeJSON(w, http.StatusOK, toNotificationResponse(updated))
}

// MarkAllRead は自分宛の未読通知をすべて既読にする。
// 途中のバッチが失敗した場合は更新できた分を返し、successをfalseにする。
// PATCH /api/notifications/mark-all-read
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	staffID, err := staffIDFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	unread, err := h.store.ListForRecipient(r.Context(), staffID, repository.NotificationQuery{UnreadOnly: true})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ids := make([]string, 0, len(unread))
	for _, n := range unread {
		ids = append(ids, n.ID)
	}

	updated, err := h.store.MarkAllRead(writeCtx(r), ids)
	if err != nil && len(updated) == 0 {
		h.failAudited(w, r, eventMarkAllRead, err)
		return
	}

	status := model.EventSuccess
	if err != nil {
		status = model.EventPartialSuccess
		h.logger.Warn("mark all read partially failed", "updated", len(updated), "total", len(ids), "error", err.Error())
	}
	h.record(r, eventMarkAllRead, status, "Marked "+strconv.Itoa(len(updated))+" of "+strconv.Itoa(len(ids))+" notifications as read")

	writeJSON(w, http.StatusOK, markAllReadResponse{
		Success:      err == nil,
		Updated:      updated,
		UpdatedCount: len(updated),
	})
}

// GetPreferences は通知の受信設定を返す。
// GET /api/notifications/preferences
func (h *NotificationHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	staffID, err := staffIDFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	staff, err := h.prefs.FindByID(r.Context(), staffID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if staff == nil {
		h.fail(w, r, model.NewNotFoundError("Staff"))
		return
	}
	writeJSON(w, http.StatusOK, toPreferencesResponse(staff))
}

// UpdatePreferences は通知の受信設定を置き換える。
// PUT /api/notifications/preferences
func (h *NotificationHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	staffID, err := staffIDFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req preferencesRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Preferences == nil || req.Channels == nil {
		h.fail(w, r, model.NewValidationError("preferences and channels are required"))
		return
	}
	for _, t := range req.Preferences {
		if !model.IsValidNotificationType(t) {
			h.fail(w, r, model.NewValidationError("unknown notification type %q", t))
			return
		}
	}
	for _, c := range req.Channels {
		if !model.IsValidChannel(c) {
			h.fail(w, r, model.NewValidationError("unknown notification channel %q", c))
			return
		}
	}

	staff, err := h.prefs.UpdatePreferences(writeCtx(r), staffID, req.Preferences, req.Channels)
	if err != nil {
		h.failAudited(w, r, eventUpdatePreferences, err)
		return
	}

	h.record(r, eventUpdatePreferences, model.EventSuccess, "Updated notification preferences")
	writeJSON(w, http.StatusOK, toPreferencesResponse(staff))
}

// Send は管理者が任意のスタッフに通知を送る。
// POST /api/admin/notifications
func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	actor, err := sessionFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req sendNotificationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if !isRecordID(req.RecipientID) {
		h.fail(w, r, model.NewInvalidRecordIDError())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		h.fail(w, r, model.NewValidationError("title is required"))
		return
	}
	if req.Type == "" {
		req.Type = string(model.NotifySystem)
	}
	if !model.IsValidNotificationType(model.NotificationType(req.Type)) {
		h.fail(w, r, model.NewValidationError("unknown notification type %q", req.Type))
		return
	}
	if req.Severity != "" && !model.IsValidSeverity(model.Severity(req.Severity)) {
		h.fail(w, r, model.NewValidationError("unknown severity %q", req.Severity))
		return
	}

	res := h.notifier.Notify(writeCtx(r), notification.Request{
		Title:       req.Title,
		Body:        req.Body,
		Type:        model.NotificationType(req.Type),
		Severity:    model.Severity(req.Severity),
		RecipientID: req.RecipientID,
		ActionURL:   req.ActionURL,
		Source:      actor.UserName,
	})
	if !res.OK {
		if errors.Is(res.Err, notification.ErrRecipientNotFound) {
			h.failAudited(w, r, eventSendNotification, model.NewNotFoundError("Recipient"))
			return
		}
		h.failAudited(w, r, eventSendNotification, res.Err)
		return
	}

	resp := sendNotificationResponse{Success: true, Skipped: res.Skipped}
	msg := "Sent notification to " + req.RecipientID
	if res.Skipped {
		msg = "Notification to " + req.RecipientID + " suppressed by preferences"
	} else if res.Notification != nil {
		resp.NotificationID = res.Notification.ID
	}
	h.record(r, eventSendNotification, model.EventSuccess, msg)

	writeJSON(w, http.StatusOK, resp)
}

func toPreferencesResponse(s *model.Staff) preferencesResponse {
	prefs := s.NotificationPreferences
	if prefs == nil {
		prefs = []model.NotificationType{}
	}
	channels := s.NotificationChannels
	if channels == nil {
		channels = []model.Channel{}
	}
	return preferencesResponse{
		Preferences:       prefs,
		Channels:          channels,
		AvailableTypes:    model.NotificationTypes,
		AvailableChannels: allChannels,
	}
}

// staffIDFrom は管理者セッションのスタッフIDを返す。
func staffIDFrom(r *http.Request) (string, error) {
	s, err := sessionFrom(r)
	if err != nil {
		return "", err
	}
	if s.UserStaffID == "" {
		return "", model.NewForbiddenError()
	}
	return s.UserStaffID, nil
}
