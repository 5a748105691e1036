package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hireboard/internal/middleware"
	"github.com/hitoshi/hireboard/internal/model"
	"github.com/hitoshi/hireboard/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Gate              *middleware.Gate
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	StatusObserver    middleware.StatusObserver
	MetricsHandler    http.Handler

	// 共通
	Logger   *slog.Logger
	Dev      bool
	Audit    AuditRecorder
	Notifier Notifier

	// 認証
	AuthService   AuthServiceInterface
	SessionSealer SessionSealer
	AuthConfig    AuthHandlerConfig

	// 応募者・タスク
	Applicants ApplicantStore
	Tasks      TaskStore
	Webhooks   WebhookSender

	// クイズ・フォルダ・テンプレート
	Content   ContentStore
	Sanitizer security.ContentSanitizerService

	// 通知
	Notifications NotificationStore
	Preferences   PreferenceStore

	// 監査ログ・ダッシュボード
	AuditLog  AuditLister
	Dashboard OverviewProvider
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS
//
// 認証が必要なルートはさらに Gate.Require → RateLimit(General) を通る。
// ログインと招待承諾はGateの外に置き、IP単位のログイン用レート制限のみを適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusObserver))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(!deps.Dev))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	b := base{audit: deps.Audit, logger: logger, dev: deps.Dev}

	authHandler := NewAuthHandler(b, deps.AuthService, deps.SessionSealer, deps.Notifier, deps.AuthConfig)
	applicantHandler := NewApplicantHandler(b, deps.Applicants, deps.Notifier)
	taskHandler := NewTaskHandler(b, deps.Tasks, deps.Applicants, deps.Webhooks, deps.Notifier)
	contentHandler := NewContentHandler(b, deps.Content, deps.Sanitizer)
	notificationHandler := NewNotificationHandler(b, deps.Notifications, deps.Preferences, deps.Notifier)
	auditHandler := NewAuditHandler(b, deps.AuditLog)
	dashboardHandler := NewDashboardHandler(b, deps.Dashboard)

	// --- 運用エンドポイント ---
	r.Get("/health", Health)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証不要のルート ---
	r.With(deps.Gate.Optional()).Post("/api/logout", authHandler.Logout)
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.LoginMiddleware())

		r.Post("/api/login", authHandler.Login)
		r.Post("/api/admin/login", authHandler.AdminLogin)
		r.Post("/api/admin/accept-invite", authHandler.AcceptInvite)
	})

	// --- ロールを問わずセッションが必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.Gate.Require(""))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/me", authHandler.Me)
	})

	// --- 応募者のセルフサービス ---
	r.Group(func(r chi.Router) {
		r.Use(deps.Gate.Require(model.RoleUser))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/my/tasks", taskHandler.MyTasks)
		r.Post("/api/my/tasks/{id}/complete", taskHandler.Complete)
	})

	// --- 管理者ルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.Gate.Require(model.RoleAdmin))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/api/admin/invite-admin", authHandler.InviteAdmin)

		// 応募者管理
		r.Get("/api/admin/users", applicantHandler.List)
		r.Post("/api/admin/users", applicantHandler.Create)
		r.Delete("/api/admin/users/bulk-delete", applicantHandler.BulkDelete)
		r.Get("/api/admin/users/{id}", applicantHandler.Get)
		r.Patch("/api/admin/users/{id}", applicantHandler.Update)
		r.Delete("/api/admin/users/{id}", applicantHandler.Delete)

		// タスク定義と割り当て
		r.Get("/api/admin/tasks", taskHandler.List)
		r.Post("/api/admin/tasks", taskHandler.Create)
		r.Post("/api/admin/tasks/assign", taskHandler.Assign)
		r.Delete("/api/admin/tasks/bulk-delete", taskHandler.BulkDelete)
		r.Patch("/api/admin/tasks/{id}", taskHandler.Update)
		r.Delete("/api/admin/tasks/{id}", taskHandler.Delete)
		r.Get("/api/admin/assigned-tasks", taskHandler.ListAssigned)
		r.Delete("/api/admin/assigned-tasks/bulk-delete", taskHandler.BulkDeleteAssigned)

		// クイズ
		r.Get("/api/admin/quizzes", contentHandler.ListQuizzes)
		r.Post("/api/admin/quizzes", contentHandler.CreateQuiz)
		r.Get("/api/admin/quizzes/{id}", contentHandler.GetQuiz)
		r.Patch("/api/admin/quizzes/{id}", contentHandler.UpdateQuiz)
		r.Delete("/api/admin/quizzes/{id}", contentHandler.DeleteQuiz)

		// フォルダ
		r.Get("/api/admin/folders", contentHandler.ListFolders)
		r.Post("/api/admin/folders", contentHandler.CreateFolder)
		r.Patch("/api/admin/folders/{id}", contentHandler.UpdateFolder)
		r.Delete("/api/admin/folders/{id}", contentHandler.DeleteFolder)

		// メールテンプレート
		r.Get("/api/admin/templates", contentHandler.ListTemplates)
		r.Patch("/api/admin/templates/{id}", contentHandler.UpdateTemplate)
		r.Post("/api/admin/templates/{id}/preview", contentHandler.PreviewTemplate)

		// 通知
		r.Get("/api/notifications", notificationHandler.List)
		r.Patch("/api/notifications/mark-all-read", notificationHandler.MarkAllRead)
		r.Get("/api/notifications/preferences", notificationHandler.GetPreferences)
		r.Put("/api/notifications/preferences", notificationHandler.UpdatePreferences)
		r.Patch("/api/notifications/{id}/read", notificationHandler.MarkRead)
		r.Post("/api/admin/notifications", notificationHandler.Send)

		// 監査ログ
		r.Get("/api/admin/audit-logs", auditHandler.List)
		r.Get("/api/admin/audit-logs/export", auditHandler.Export)

		// ダッシュボード
		r.Get("/api/admin/dashboard/overview", dashboardHandler.Overview)
	})

	return r
}
