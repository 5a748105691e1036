package handler

import (
	"context"
	"encoding/csv"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/hireboard/internal/model"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 100
	// maxAuditExportRows はエクスポート1回あたりの上限件数。
	maxAuditExportRows = 5000
)

var auditCSVHeader = []string{
	"Timestamp", "Event Type", "Event Status", "User Role", "User Name",
	"User Identifier", "Detailed Message", "IP Address", "User Agent", "Request ID",
}

// AuditLister は監査イベントを検索するインターフェース。
type AuditLister interface {
	List(ctx context.Context, f model.AuditFilter, limit int) ([]*model.AuditEvent, error)
}

// AuditHandler は監査ログの閲覧・エクスポートのHTTPハンドラー。
type AuditHandler struct {
	base
	store AuditLister
	now   func() time.Time
}

// NewAuditHandler はAuditHandlerを生成する。
func NewAuditHandler(b base, store AuditLister) *AuditHandler {
	return &AuditHandler{base: b, store: store, now: time.Now}
}

type auditEventResponse struct {
	ID              string    `json:"id"`
	EventType       string    `json:"eventType"`
	EventStatus     string    `json:"eventStatus"`
	UserRole        string    `json:"userRole"`
	UserName        string    `json:"userName"`
	UserIdentifier  string    `json:"userIdentifier"`
	DetailedMessage string    `json:"detailedMessage"`
	Timestamp       time.Time `json:"timestamp"`
	IPAddress       string    `json:"ipAddress"`
	UserAgent       string    `json:"userAgent"`
	RequestID       string    `json:"requestId,omitempty"`
}

type auditListResponse struct {
	Logs       []auditEventResponse `json:"logs"`
	Pagination paginationResponse   `json:"pagination"`
}

func toAuditEventResponse(e *model.AuditEvent) auditEventResponse {
	return auditEventResponse{
		ID:              e.ID,
		EventType:       e.EventType,
		EventStatus:     string(e.EventStatus),
		UserRole:        e.UserRole,
		UserName:        e.UserName,
		UserIdentifier:  e.UserIdentifier,
		DetailedMessage: e.DetailedMessage,
		Timestamp:       e.Timestamp,
		IPAddress:       e.IPAddress,
		UserAgent:       e.UserAgent,
		RequestID:       e.RequestID,
	}
}

// List は監査イベントを新しい順でページングして返す。
// GET /api/admin/audit-logs?page&pageSize&eventType&status&user&from&to
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	page, err := positiveIntParam(q.Get("page"), 1, "page")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pageSize, err := positiveIntParam(q.Get("pageSize"), defaultAuditPageSize, "pageSize")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pageSize = min(pageSize, maxAuditPageSize)

	events, err := h.store.List(r.Context(), filter, 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	start, end := pageBounds(page, pageSize, len(events))
	resp := auditListResponse{
		Logs:       make([]auditEventResponse, 0, end-start),
		Pagination: newPagination(page, pageSize, len(events)),
	}
	for _, e := range events[start:end] {
		resp.Logs = append(resp.Logs, toAuditEventResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Export は絞り込んだ監査イベントをCSVまたはJSONの添付ファイルとして返す。
// GET /api/admin/audit-logs/export?format=csv|json
func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		h.fail(w, r, model.NewValidationError("format must be csv or json"))
		return
	}
	filter, err := parseAuditFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	events, err := h.store.List(r.Context(), filter, maxAuditExportRows)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	filename := "audit-logs-" + h.now().UTC().Format("20060102-150405") + "." + format
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	if format == "json" {
		out := make([]auditEventResponse, 0, len(events))
		for _, e := range events {
			out = append(out, toAuditEventResponse(e))
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	cw := csv.NewWriter(w)
	cw.Write(auditCSVHeader)
	for _, e := range events {
		cw.Write([]string{
			e.Timestamp.UTC().Format(time.RFC3339),
			csvCell(e.EventType),
			csvCell(string(e.EventStatus)),
			csvCell(e.UserRole),
			csvCell(e.UserName),
			csvCell(e.UserIdentifier),
			csvCell(e.DetailedMessage),
			csvCell(e.IPAddress),
			csvCell(e.UserAgent),
			csvCell(e.RequestID),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Warn("failed to write audit export", "error", err.Error())
	}
}

// csvCell は表計算ソフトで数式として評価される先頭文字を持つ値に'を前置する。
func csvCell(v string) string {
	if v != "" && strings.ContainsRune("=+-@\t\r", rune(v[0])) {
		return "'" + v
	}
	return v
}

// parseAuditFilter はクエリパラメータから絞り込み条件を組み立てる。
// from/toはRFC 3339またはYYYY-MM-DDを受け付け、日付のみのtoはその日の終わりまでを含む。
func parseAuditFilter(r *http.Request) (model.AuditFilter, error) {
	q := r.URL.Query()
	f := model.AuditFilter{
		EventType: q.Get("eventType"),
		User:      q.Get("user"),
	}
	if s := q.Get("status"); s != "" {
		status := model.EventStatus(s)
		switch status {
		case model.EventSuccess, model.EventError, model.EventPartialSuccess:
			f.Status = status
		default:
			return f, model.NewValidationError("unknown event status %q", s)
		}
	}

	var err error
	if f.From, err = parseAuditTime(q.Get("from"), "from", false); err != nil {
		return f, err
	}
	if f.To, err = parseAuditTime(q.Get("to"), "to", true); err != nil {
		return f, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, model.NewValidationError("to must not be before from")
	}
	return f, nil
}

func parseAuditTime(raw, name string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, model.NewValidationError("%s must be an RFC 3339 timestamp or YYYY-MM-DD", name)
	}
	if endOfDay {
		d = d.Add(24*time.Hour - time.Nanosecond)
	}
	return d, nil
}
