// Package webhook は外部自動化サービス（Make.com）へのWebhook送信を提供する。
// 送信先URLは用途ごとに設定され、メール・Slack配信は送信先で行われる。
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// 送信用途
const (
	PurposeNotification    = "notification"
	PurposeAdminInvite     = "admin_invite"
	PurposeApplicantInvite = "applicant_invite"
	PurposeTaskAssigned    = "task_assigned"
)

var (
	// ErrNotConfigured は用途に対応するURLが設定されていないことを示す。
	ErrNotConfigured = errors.New("webhook: not configured")
	// ErrDeliveryFailed は送信先がエラーを返したか接続できなかったことを示す。
	ErrDeliveryFailed = errors.New("webhook: delivery failed")
	// ErrTimeout は送信がタイムアウトしたことを示す。
	ErrTimeout = errors.New("webhook: timed out")
)

// Recorder はWebhook送信結果の計測インターフェース。
type Recorder interface {
	RecordWebhook(purpose, outcome string)
}

// Client はWebhookクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	urls       map[string]string
	timeout    time.Duration
	recorder   Recorder
}

// NewClient はClientを生成する。
// httpClientには通常security.SSRFGuardService.NewSafeClientの結果を渡す。
func NewClient(httpClient *http.Client, logger *slog.Logger, urls map[string]string, timeout time.Duration) *Client {
	if urls == nil {
		urls = map[string]string{}
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		urls:       urls,
		timeout:    timeout,
	}
}

// WithRecorder は計測用のRecorderを設定する。
func (c *Client) WithRecorder(r Recorder) *Client {
	c.recorder = r
	return c
}

// Configured は用途のURLが設定されているかを返す。
func (c *Client) Configured(purpose string) bool {
	return c.urls[purpose] != ""
}

// Send はpayloadをJSONとしてPOSTする。2xx以外はErrDeliveryFailedを返す。
// タイムアウトはErrTimeoutとして区別する。
func (c *Client) Send(ctx context.Context, purpose string, payload any) error {
	target := c.urls[purpose]
	if target == "" {
		return fmt.Errorf("%w: %s", ErrNotConfigured, purpose)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: failed to encode payload: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			c.record(purpose, "timeout")
			c.logger.Warn("webhook timed out",
				slog.String("purpose", purpose),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
			return fmt.Errorf("%w: %s", ErrTimeout, purpose)
		}
		c.record(purpose, "failed")
		c.logger.Error("webhook request failed",
			slog.String("purpose", purpose),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %s: %v", ErrDeliveryFailed, purpose, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.record(purpose, "failed")
		c.logger.Error("webhook returned error status",
			slog.String("purpose", purpose),
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("%w: %s: status %d", ErrDeliveryFailed, purpose, resp.StatusCode)
	}

	c.record(purpose, "success")
	c.logger.Debug("webhook delivered",
		slog.String("purpose", purpose),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

func (c *Client) record(purpose, outcome string) {
	if c.recorder != nil {
		c.recorder.RecordWebhook(purpose, outcome)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
