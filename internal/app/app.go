package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/hireboard/internal/airtable"
	"github.com/hitoshi/hireboard/internal/audit"
	"github.com/hitoshi/hireboard/internal/auth"
	"github.com/hitoshi/hireboard/internal/config"
	"github.com/hitoshi/hireboard/internal/dashboard"
	"github.com/hitoshi/hireboard/internal/handler"
	"github.com/hitoshi/hireboard/internal/logger"
	"github.com/hitoshi/hireboard/internal/metrics"
	"github.com/hitoshi/hireboard/internal/middleware"
	"github.com/hitoshi/hireboard/internal/notification"
	"github.com/hitoshi/hireboard/internal/repository"
	"github.com/hitoshi/hireboard/internal/security"
	"github.com/hitoshi/hireboard/internal/session"
	"github.com/hitoshi/hireboard/internal/webhook"
	"github.com/hitoshi/hireboard/internal/worker/cleanup"
)

// airtableTimeout はレコードストアへの1リクエストあたりのタイムアウト。
const airtableTimeout = 30 * time.Second

// shutdownTimeout はグレースフルシャットダウンの猶予時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込んでログレベルを反映する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetLevel(cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// 軽量サブコマンドはフル初期化をスキップする
	switch cmd {
	case CommandHealthcheck:
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	case CommandHashPassword:
		return runHashPassword(os.Stdin, w, bcryptCostFromEnv())
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("env", cfg.Env),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.AppBaseURL),
	)

	return runServe(cfg)
}

// server はHTTPサーバーとバックグラウンドジョブの組み立て結果。
type server struct {
	router  http.Handler
	cleanup *cleanup.Job
	limiter *middleware.RateLimiter
}

// buildServer は設定から全依存関係をワイヤリングする。
// ネットワーク接続は行わないため、起動前の検証にも使える。
func buildServer(cfg *config.Config, log *slog.Logger) (*server, error) {
	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 2. セキュリティサービス
	ssrfGuard := security.NewSSRFGuard()
	webhookURLs := allowedWebhookURLs(ssrfGuard, cfg.WebhookURLs, log)
	sanitizer := security.NewContentSanitizer()

	// 3. レコードストアとリポジトリ
	store := airtable.NewClient(&http.Client{Timeout: airtableTimeout}, log, airtable.Config{
		APIKey:    cfg.AirtableAPIKey,
		BaseID:    cfg.AirtableBaseID,
		Endpoint:  cfg.AirtableEndpoint,
		RateLimit: cfg.AirtableRateLimit,
	}).WithObserver(collector)

	staffRepo := repository.NewStaffRepo(store)
	applicantRepo := repository.NewApplicantRepo(store)
	taskRepo := repository.NewTaskRepo(store)
	contentRepo := repository.NewContentRepo(store)
	notificationRepo := repository.NewNotificationRepo(store)
	auditRepo := repository.NewAuditRepo(store)

	// 4. 横断サービス
	auditSink := audit.NewSink(auditRepo, log).WithRecorder(collector)
	webhooks := webhook.NewClient(ssrfGuard.NewSafeClient(cfg.WebhookTimeout), log, webhookURLs, cfg.WebhookTimeout).
		WithRecorder(collector)
	dispatcher := notification.NewDispatcher(staffRepo, notificationRepo, webhooks, sanitizer, log).
		WithRecorder(collector)

	// 5. 認証
	codec, err := session.NewCodec(cfg.SessionSecret)
	if err != nil {
		return nil, err
	}
	verifier, err := auth.NewVerifier(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	authService := auth.NewService(
		staffRepo, applicantRepo, verifier,
		auth.NewInviteIssuer(cfg.JWTSecret, cfg.InviteTTL),
		webhooks, log,
		auth.ServiceConfig{InviteTTL: cfg.InviteTTL},
	).WithRecorder(collector)

	// 6. ダッシュボードとキャッシュ掃除
	dash := dashboard.NewService(dashboard.Sources{
		Applicants:    applicantRepo,
		Tasks:         taskRepo,
		Quizzes:       contentRepo,
		Notifications: notificationRepo,
		Audit:         auditRepo,
	}, log, cfg.DashboardCacheTTL)

	job := cleanup.NewJob(log)
	job.Register("dashboard_overview", dash)

	// 7. ルーター
	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin))

	router := handler.NewRouter(&handler.RouterDeps{
		Gate:              middleware.NewGate(codec, cfg.SessionTTL, log, cfg.IsDevelopment()),
		RateLimiter:       limiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		StatusObserver:    collector,
		MetricsHandler:    metrics.Handler(reg),

		Logger:   log,
		Dev:      cfg.IsDevelopment(),
		Audit:    auditSink,
		Notifier: dispatcher,

		AuthService:   authService,
		SessionSealer: codec,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL: cfg.AppBaseURL,
			Cookie: session.CookieConfig{
				Secure: cfg.IsProduction(),
				Domain: cfg.CookieDomain,
				TTL:    cfg.SessionTTL,
			},
			SessionTTL: cfg.SessionTTL,
		},

		Applicants: applicantRepo,
		Tasks:      taskRepo,
		Webhooks:   webhooks,

		Content:   contentRepo,
		Sanitizer: sanitizer,

		Notifications: notificationRepo,
		Preferences:   staffRepo,

		AuditLog:  auditRepo,
		Dashboard: dash,
	})

	return &server{router: router, cleanup: job, limiter: limiter}, nil
}

// allowedWebhookURLs は静的検証を通過したWebhook URLだけを返す。
// 検証に失敗した用途は未設定と同じ扱いになる。
func allowedWebhookURLs(guard security.SSRFGuardService, urls map[string]string, log *slog.Logger) map[string]string {
	allowed := make(map[string]string, len(urls))
	for purpose, u := range urls {
		if err := guard.ValidateWebhookURL(u); err != nil {
			log.Error("webhook URL rejected",
				slog.String("purpose", purpose),
				slog.String("error", err.Error()),
			)
			continue
		}
		allowed[purpose] = u
	}
	return allowed
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、キャッシュ掃除ジョブとHTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	log := slog.Default()

	srv, err := buildServer(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}
	defer srv.limiter.Stop()

	if len(cfg.WebhookURLs) == 0 {
		log.Warn("no webhook URLs configured; external notifications and invites are disabled")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go srv.cleanup.Start(ctx, cleanup.DefaultInterval)

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// runHashPassword は入力の1行目をパスワードとしてbcryptハッシュを出力する。
// 最初の管理者アカウントをStaffテーブルへ直接登録する際に使う。
func runHashPassword(in io.Reader, out io.Writer, cost int) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if err := auth.ValidatePassword(password); err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(cost)
	if err != nil {
		return err
	}
	hash, err := verifier.Hash(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}

// bcryptCostFromEnv はhash-password用にBCRYPT_COSTを読む。
// 他の必須設定が無くても動くよう、Configを経由しない。
func bcryptCostFromEnv() int {
	var cost int
	if _, err := fmt.Sscan(os.Getenv("BCRYPT_COST"), &cost); err != nil {
		return 0
	}
	return cost
}
