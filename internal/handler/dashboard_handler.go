package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/hireboard/internal/dashboard"
)

// OverviewProvider はダッシュボード集計を返すインターフェース。
type OverviewProvider interface {
	Overview(ctx context.Context, staffID string) (*dashboard.Overview, error)
}

// DashboardHandler は管理画面ダッシュボードのHTTPハンドラー。
type DashboardHandler struct {
	base
	overview OverviewProvider
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(b base, overview OverviewProvider) *DashboardHandler {
	return &DashboardHandler{base: b, overview: overview}
}

// Overview はログイン中の管理者向けの集計を返す。
// GET /api/admin/dashboard/overview
func (h *DashboardHandler) Overview(w http.ResponseWriter, r *http.Request) {
	staffID, err := staffIDFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ov, err := h.overview.Overview(r.Context(), staffID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

type healthResponse struct {
	Status string `json:"status"`
}

// Health はプロセスの稼働確認に応答する。レコードストアには問い合わせない。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
