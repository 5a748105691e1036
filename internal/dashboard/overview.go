// Package dashboard は管理者ダッシュボードの集計を提供する。
//
// 集計はレコードストアへの複数の問い合わせを最大3並列で実行し、
// 結果を管理者ごとに短時間キャッシュする。
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/hireboard/internal/model"
)

// DefaultConcurrency は問い合わせの最大並列数。
const DefaultConcurrency = 3

// recentActivityLimit は直近の監査イベントの取得件数。
const recentActivityLimit = 10

// ApplicantCounter はステージ別の応募者数を返す。
type ApplicantCounter interface {
	CountByStage(ctx context.Context) (map[string]int, error)
}

// TaskCounter はタスク定義数と割り当て状態別の件数を返す。
type TaskCounter interface {
	Count(ctx context.Context) (int, error)
	CountAssignedByStatus(ctx context.Context) (map[model.AssignedTaskStatus]int, error)
}

// QuizCounter はクイズ数を返す。
type QuizCounter interface {
	CountQuizzes(ctx context.Context) (int, error)
}

// NotificationCounter は未読通知数を返す。
type NotificationCounter interface {
	CountUnread(ctx context.Context, recipientID string) (int, error)
}

// AuditLister は監査イベントを新しい順に返す。
type AuditLister interface {
	List(ctx context.Context, f model.AuditFilter, limit int) ([]*model.AuditEvent, error)
}

// Sources は集計に使う問い合わせ先の集合。
type Sources struct {
	Applicants    ApplicantCounter
	Tasks         TaskCounter
	Quizzes       QuizCounter
	Notifications NotificationCounter
	Audit         AuditLister
}

// Activity は直近の操作履歴の1件。
type Activity struct {
	EventType string    `json:"eventType"`
	Status    string    `json:"status"`
	UserName  string    `json:"userName"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Overview はダッシュボードの集計結果。
type Overview struct {
	ApplicantsByStage   map[string]int `json:"applicantsByStage"`
	TotalApplicants     int            `json:"totalApplicants"`
	TotalTasks          int            `json:"totalTasks"`
	PendingTasks        int            `json:"pendingTasks"`
	CompletedTasks      int            `json:"completedTasks"`
	TotalQuizzes        int            `json:"totalQuizzes"`
	UnreadNotifications int            `json:"unreadNotifications"`
	RecentActivity      []Activity     `json:"recentActivity"`
	GeneratedAt         time.Time      `json:"generatedAt"`
}

type cacheEntry struct {
	overview  *Overview
	expiresAt time.Time
}

// Service はダッシュボード集計サービス。
type Service struct {
	src         Sources
	logger      *slog.Logger
	ttl         time.Duration
	concurrency int

	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

// NewService はServiceを生成する。ttlが0以下の場合はキャッシュしない。
func NewService(src Sources, logger *slog.Logger, ttl time.Duration) *Service {
	return &Service{
		src:         src,
		logger:      logger,
		ttl:         ttl,
		concurrency: DefaultConcurrency,
		cache:       make(map[string]cacheEntry),
		now:         time.Now,
	}
}

// Overview は管理者staffIDのダッシュボード集計を返す。
// キャッシュが有効な間はレコードストアに問い合わせない。
func (s *Service) Overview(ctx context.Context, staffID string) (*Overview, error) {
	if cached, ok := s.lookup(staffID); ok {
		return cached, nil
	}

	ov, err := s.aggregate(ctx, staffID)
	if err != nil {
		return nil, err
	}

	s.store(staffID, ov)
	return ov, nil
}

// aggregate は各問い合わせを最大concurrency並列で実行する。
// いずれかが失敗した場合は残りをキャンセルしてエラーを返す。
func (s *Service) aggregate(ctx context.Context, staffID string) (*Overview, error) {
	start := s.now()
	ov := &Overview{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	g.Go(func() error {
		byStage, err := s.src.Applicants.CountByStage(gctx)
		if err != nil {
			return fmt.Errorf("count applicants: %w", err)
		}
		ov.ApplicantsByStage = byStage
		for _, n := range byStage {
			ov.TotalApplicants += n
		}
		return nil
	})
	g.Go(func() error {
		n, err := s.src.Tasks.Count(gctx)
		if err != nil {
			return fmt.Errorf("count tasks: %w", err)
		}
		ov.TotalTasks = n
		return nil
	})
	g.Go(func() error {
		byStatus, err := s.src.Tasks.CountAssignedByStatus(gctx)
		if err != nil {
			return fmt.Errorf("count assigned tasks: %w", err)
		}
		ov.PendingTasks = byStatus[model.AssignedTaskAssigned]
		ov.CompletedTasks = byStatus[model.AssignedTaskCompleted]
		return nil
	})
	g.Go(func() error {
		n, err := s.src.Quizzes.CountQuizzes(gctx)
		if err != nil {
			return fmt.Errorf("count quizzes: %w", err)
		}
		ov.TotalQuizzes = n
		return nil
	})
	g.Go(func() error {
		n, err := s.src.Notifications.CountUnread(gctx, staffID)
		if err != nil {
			return fmt.Errorf("count unread notifications: %w", err)
		}
		ov.UnreadNotifications = n
		return nil
	})
	g.Go(func() error {
		events, err := s.src.Audit.List(gctx, model.AuditFilter{}, recentActivityLimit)
		if err != nil {
			return fmt.Errorf("list recent activity: %w", err)
		}
		activity := make([]Activity, 0, len(events))
		for _, ev := range events {
			activity = append(activity, Activity{
				EventType: ev.EventType,
				Status:    string(ev.EventStatus),
				UserName:  ev.UserName,
				Message:   ev.DetailedMessage,
				Timestamp: ev.Timestamp,
			})
		}
		ov.RecentActivity = activity
		return nil
	})

	if err := g.Wait(); err != nil {
		s.logger.Error("dashboard aggregation failed",
			slog.String("staff_id", staffID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if ov.ApplicantsByStage == nil {
		ov.ApplicantsByStage = map[string]int{}
	}
	ov.GeneratedAt = s.now().UTC()
	s.logger.Debug("dashboard aggregated",
		slog.String("staff_id", staffID),
		slog.Int64("duration_ms", s.now().Sub(start).Milliseconds()),
	)
	return ov, nil
}

func (s *Service) lookup(staffID string) (*Overview, bool) {
	if s.ttl <= 0 {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[staffID]
	if !ok || !s.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.overview, true
}

func (s *Service) store(staffID string, ov *Overview) {
	if s.ttl <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[staffID] = cacheEntry{overview: ov, expiresAt: s.now().Add(s.ttl)}
}

// EvictExpired は期限切れのキャッシュエントリを削除し、削除件数を返す。
func (s *Service) EvictExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	evicted := 0
	for k, e := range s.cache {
		if !now.Before(e.expiresAt) {
			delete(s.cache, k)
			evicted++
		}
	}
	return evicted
}
