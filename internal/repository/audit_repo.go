package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/hireboard/internal/airtable"
	"github.com/hitoshi/hireboard/internal/model"
)

// Audit Logsテーブルのフィールド名
const (
	auditEventType       = "Event Type"
	auditEventStatus     = "Event Status"
	auditUserRole        = "User Role"
	auditUserName        = "User Name"
	auditUserIdentifier  = "User Identifier"
	auditDetailedMessage = "Detailed Message"
	auditTimestamp       = "Timestamp"
	auditIPAddress       = "IP Address"
	auditUserAgent       = "User Agent"
	auditRequestID       = "Request ID"
)

// AuditRepo はAudit Logsテーブルのリポジトリ。追記と参照のみを提供する。
type AuditRepo struct {
	store RecordStore
}

// NewAuditRepo はAuditRepoを生成する。
func NewAuditRepo(store RecordStore) *AuditRepo {
	return &AuditRepo{store: store}
}

// Append は監査イベントを1件追記する。
func (r *AuditRepo) Append(ctx context.Context, ev *model.AuditEvent) error {
	_, err := r.store.Create(ctx, TableAuditLogs, map[string]any{
		auditEventType:       ev.EventType,
		auditEventStatus:     string(ev.EventStatus),
		auditUserRole:        ev.UserRole,
		auditUserName:        ev.UserName,
		auditUserIdentifier:  ev.UserIdentifier,
		auditDetailedMessage: ev.DetailedMessage,
		auditTimestamp:       ev.Timestamp.UTC().Format(time.RFC3339Nano),
		auditIPAddress:       ev.IPAddress,
		auditUserAgent:       ev.UserAgent,
		auditRequestID:       ev.RequestID,
	})
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// List は条件に一致する監査イベントを新しい順で返す。limitが0以下の場合は全件を返す。
func (r *AuditRepo) List(ctx context.Context, f model.AuditFilter, limit int) ([]*model.AuditEvent, error) {
	var conds []airtable.Formula
	if f.EventType != "" {
		conds = append(conds, airtable.Eq(auditEventType, f.EventType))
	}
	if f.Status != "" {
		conds = append(conds, airtable.Eq(auditEventStatus, string(f.Status)))
	}
	if f.User != "" {
		conds = append(conds, airtable.Or(
			airtable.Search(auditUserIdentifier, f.User),
			airtable.Search(auditUserName, f.User),
		))
	}
	if !f.From.IsZero() {
		conds = append(conds, airtable.After(auditTimestamp, f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, airtable.Before(auditTimestamp, f.To))
	}

	opts := airtable.ListOptions{
		Formula: airtable.And(conds...),
		Sort:    []airtable.Sort{{Field: auditTimestamp, Direction: "desc"}},
	}
	if limit > 0 {
		opts.MaxRecords = limit
	}

	recs, err := r.store.List(ctx, TableAuditLogs, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	out := make([]*model.AuditEvent, 0, len(recs))
	for i := range recs {
		out = append(out, auditFromRecord(&recs[i]))
	}
	return out, nil
}

func auditFromRecord(rec *airtable.Record) *model.AuditEvent {
	ts := rec.Time(auditTimestamp)
	if ts.IsZero() {
		ts = rec.CreatedTime
	}
	return &model.AuditEvent{
		ID:              rec.ID,
		EventType:       rec.Text(auditEventType),
		EventStatus:     model.EventStatus(rec.Text(auditEventStatus)),
		UserRole:        rec.Text(auditUserRole),
		UserName:        rec.Text(auditUserName),
		UserIdentifier:  rec.Text(auditUserIdentifier),
		DetailedMessage: rec.Text(auditDetailedMessage),
		Timestamp:       ts,
		IPAddress:       rec.Text(auditIPAddress),
		UserAgent:       rec.Text(auditUserAgent),
		RequestID:       rec.Text(auditRequestID),
	}
}
