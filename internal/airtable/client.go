// Package airtable はレコードストア（Airtable REST API）のクライアントを提供する。
// フィルタ式による検索、作成、更新、削除、offsetによるページングを扱う。
package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	// defaultEndpoint はAirtable APIのベースURL。
	defaultEndpoint = "https://api.airtable.com/v0"
	// MaxBatchSize は一括更新1リクエストあたりの最大レコード数。
	MaxBatchSize = 10
	// maxPageSize はList 1ページあたりの最大件数。
	maxPageSize = 100
	// maxResponseSize はレスポンスボディの読み取り上限。
	maxResponseSize = 10 << 20
)

var (
	// ErrNotFound はレコードまたはテーブルが存在しないことを示す。
	ErrNotFound = errors.New("airtable: record not found")
	// ErrRateLimited はAirtable側のレート制限に達したことを示す。
	ErrRateLimited = errors.New("airtable: rate limited")
)

// ResponseError はAirtableがエラーステータスを返したことを表す。
type ResponseError struct {
	StatusCode int
	Type       string
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *ResponseError) Error() string {
	return fmt.Sprintf("airtable: status %d: %s %s", e.StatusCode, e.Type, e.Message)
}

// Observer はAPI呼び出しの計測インターフェース。
// metrics.Collectorが実装する。
type Observer interface {
	RecordStoreCall(table, op string, statusCode int, duration time.Duration)
}

// Record はAirtableのレコードを表す。
type Record struct {
	ID          string         `json:"id,omitempty"`
	CreatedTime time.Time      `json:"createdTime,omitempty"`
	Fields      map[string]any `json:"fields"`
}

// Sort はList時の並び順指定。
type Sort struct {
	Field     string
	Direction string // "asc" または "desc"
}

// ListOptions はListの検索条件。
type ListOptions struct {
	Formula    Formula
	Sort       []Sort
	Fields     []string
	PageSize   int
	MaxRecords int
}

// Config はクライアントの設定。
type Config struct {
	APIKey    string
	BaseID    string
	Endpoint  string  // 空の場合はdefaultEndpoint
	RateLimit float64 // req/sec。0以下の場合は5
}

// Client はAirtable REST APIのクライアント。
// 全リクエストは共有のレートリミッターを通過する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	observer   Observer
	apiKey     string
	baseURL    string
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, cfg Config) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
		apiKey:     cfg.APIKey,
		baseURL:    endpoint + "/" + url.PathEscape(cfg.BaseID),
	}
}

// WithObserver は計測用のObserverを設定する。
func (c *Client) WithObserver(o Observer) *Client {
	c.observer = o
	return c
}

// listResponse はList APIのレスポンス。
type listResponse struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset"`
}

// batchResponse は一括操作APIのレスポンス。
type batchResponse struct {
	Records []Record `json:"records"`
}

// List はフィルタ式に一致するレコードをすべて取得する。
// offsetが返される限りページを辿り、MaxRecordsが指定された場合はそこで打ち切る。
func (c *Client) List(ctx context.Context, table string, opts ListOptions) ([]Record, error) {
	var all []Record
	offset := ""

	for {
		q := url.Values{}
		if opts.Formula != "" {
			q.Set("filterByFormula", string(opts.Formula))
		}
		for i, s := range opts.Sort {
			q.Set(fmt.Sprintf("sort[%d][field]", i), s.Field)
			dir := s.Direction
			if dir != "desc" {
				dir = "asc"
			}
			q.Set(fmt.Sprintf("sort[%d][direction]", i), dir)
		}
		for _, f := range opts.Fields {
			q.Add("fields[]", f)
		}
		pageSize := opts.PageSize
		if pageSize <= 0 || pageSize > maxPageSize {
			pageSize = maxPageSize
		}
		q.Set("pageSize", strconv.Itoa(pageSize))
		if opts.MaxRecords > 0 {
			q.Set("maxRecords", strconv.Itoa(opts.MaxRecords))
		}
		if offset != "" {
			q.Set("offset", offset)
		}

		var resp listResponse
		if err := c.do(ctx, http.MethodGet, table, "list", c.tableURL(table)+"?"+q.Encode(), nil, &resp); err != nil {
			return nil, err
		}

		all = append(all, resp.Records...)
		if resp.Offset == "" || (opts.MaxRecords > 0 && len(all) >= opts.MaxRecords) {
			break
		}
		offset = resp.Offset
	}

	if opts.MaxRecords > 0 && len(all) > opts.MaxRecords {
		all = all[:opts.MaxRecords]
	}
	return all, nil
}

// Get は指定IDのレコードを取得する。存在しない場合はErrNotFoundを返す。
func (c *Client) Get(ctx context.Context, table, id string) (*Record, error) {
	var rec Record
	if err := c.do(ctx, http.MethodGet, table, "get", c.recordURL(table, id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Create はレコードを1件作成する。
func (c *Client) Create(ctx context.Context, table string, fields map[string]any) (*Record, error) {
	body := map[string]any{"fields": fields, "typecast": true}
	var rec Record
	if err := c.do(ctx, http.MethodPost, table, "create", c.tableURL(table), body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Update はレコードの指定フィールドのみを更新する（PATCH）。
func (c *Client) Update(ctx context.Context, table, id string, fields map[string]any) (*Record, error) {
	body := map[string]any{"fields": fields, "typecast": true}
	var rec Record
	if err := c.do(ctx, http.MethodPatch, table, "update", c.recordURL(table, id), body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateBatch は最大MaxBatchSize件のレコードを一括更新する。
func (c *Client) UpdateBatch(ctx context.Context, table string, records []Record) ([]Record, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if len(records) > MaxBatchSize {
		return nil, fmt.Errorf("airtable: batch of %d exceeds limit %d", len(records), MaxBatchSize)
	}

	type item struct {
		ID     string         `json:"id"`
		Fields map[string]any `json:"fields"`
	}
	items := make([]item, len(records))
	for i, r := range records {
		items[i] = item{ID: r.ID, Fields: r.Fields}
	}

	var resp batchResponse
	body := map[string]any{"records": items, "typecast": true}
	if err := c.do(ctx, http.MethodPatch, table, "update_batch", c.tableURL(table), body, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// Delete は指定IDのレコードを削除する。
func (c *Client) Delete(ctx context.Context, table, id string) error {
	return c.do(ctx, http.MethodDelete, table, "delete", c.recordURL(table, id), nil, nil)
}

func (c *Client) tableURL(table string) string {
	return c.baseURL + "/" + url.PathEscape(table)
}

func (c *Client) recordURL(table, id string) string {
	return c.tableURL(table) + "/" + url.PathEscape(id)
}

// errorEnvelope はAirtableのエラーレスポンス。
// errorはオブジェクトまたは文字列のいずれかで返される。
type errorEnvelope struct {
	Error json.RawMessage `json:"error"`
}

// do はリクエストを送信し、成功時はレスポンスをoutにデコードする。
func (c *Client) do(ctx context.Context, method, table, op, rawURL string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("airtable: rate limiter wait: %w", err)
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("airtable: failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("airtable: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(table, op, 0, start)
		c.logger.Error("airtable request failed",
			slog.String("table", table),
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("airtable: %s %s: %w", op, table, err)
	}
	defer resp.Body.Close()
	c.observe(table, op, resp.StatusCode, start)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("airtable: failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn("airtable rate limit reached",
			slog.String("table", table),
			slog.String("op", op),
		)
		return ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		respErr := parseResponseError(resp.StatusCode, data)
		c.logger.Error("airtable returned error status",
			slog.String("table", table),
			slog.String("op", op),
			slog.Int("http_status", resp.StatusCode),
			slog.String("type", respErr.Type),
		)
		return respErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("airtable: failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) observe(table, op string, status int, start time.Time) {
	if c.observer != nil {
		c.observer.RecordStoreCall(table, op, status, time.Since(start))
	}
}

// parseResponseError はエラーレスポンスボディを解釈する。
func parseResponseError(status int, data []byte) *ResponseError {
	respErr := &ResponseError{StatusCode: status}

	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil || len(env.Error) == 0 {
		return respErr
	}

	var typed struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Error, &typed); err == nil {
		respErr.Type = typed.Type
		respErr.Message = typed.Message
		return respErr
	}

	var plain string
	if err := json.Unmarshal(env.Error, &plain); err == nil {
		respErr.Type = plain
	}
	return respErr
}
