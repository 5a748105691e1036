// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/hireboard/internal/model"
	"github.com/hitoshi/hireboard/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストにセッションを格納するためのキー。
var sessionContextKey = contextKey("session")

// SessionOpener は封印済みセッションを開封するインターフェース。
// session.Codecが実装する。
type SessionOpener interface {
	Unseal(token string, ttl time.Duration) (*model.Session, error)
}

// Gate はセッションCookieを検証し、ロールによるアクセス制御を行う。
type Gate struct {
	opener SessionOpener
	ttl    time.Duration
	logger *slog.Logger
	dev    bool
}

// NewGate はGateを生成する。devがtrueの場合、開封失敗の内部エラーを
// レスポンスのdetailsに含める。
func NewGate(opener SessionOpener, ttl time.Duration, logger *slog.Logger, dev bool) *Gate {
	return &Gate{opener: opener, ttl: ttl, logger: logger, dev: dev}
}

// Authorize はリクエストのセッションを検証する。
// requiredRoleが空でない場合はロールの一致も検証し、不一致は403とする。
func (g *Gate) Authorize(r *http.Request, requiredRole model.Role) (*model.Session, *model.APIError) {
	s, apiErr, _ := g.authorize(r, requiredRole)
	return s, apiErr
}

func (g *Gate) authorize(r *http.Request, requiredRole model.Role) (*model.Session, *model.APIError, error) {
	token, ok := session.TokenFromRequest(r)
	if !ok {
		return nil, model.NewUnauthorizedError(), nil
	}

	s, err := g.opener.Unseal(token, g.ttl)
	if err != nil {
		g.logger.Info("session rejected",
			slog.String("path", r.URL.Path),
			slog.String("reason", "unseal_failed"),
		)
		return nil, model.NewSessionInvalidError(), err
	}

	if s.UserEmail == "" || s.UserRole == "" {
		g.logger.Warn("session rejected",
			slog.String("path", r.URL.Path),
			slog.String("reason", "missing_fields"),
		)
		return nil, model.NewSessionFormatError(), nil
	}

	if requiredRole != "" && s.UserRole != requiredRole {
		g.logger.Warn("access denied",
			slog.String("path", r.URL.Path),
			slog.String("user_email", s.UserEmail),
			slog.String("role", string(s.UserRole)),
			slog.String("required_role", string(requiredRole)),
		)
		return nil, model.NewForbiddenError(), nil
	}

	return s, nil, nil
}

// Require は指定ロールのセッションを要求するミドルウェアを返す。
// roleが空の場合はロールを問わず有効なセッションを要求する。
// 検証に成功したセッションはリクエストコンテキストに格納される。
func (g *Gate) Require(role model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, apiErr, cause := g.authorize(r, role)
			if apiErr != nil {
				details := ""
				if g.dev && cause != nil {
					details = cause.Error()
				}
				WriteAPIError(w, apiErr, details)
				return
			}

			setRequestUser(r.Context(), s.UserEmail)
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), s)))
		})
	}
}

// Optional は有効なセッションがあればコンテキストに格納し、無ければそのまま通すミドルウェアを返す。
// ログアウトのようにセッションの有無を問わないルートで使う。
func (g *Gate) Optional() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, apiErr, _ := g.authorize(r, "")
			if apiErr != nil {
				next.ServeHTTP(w, r)
				return
			}
			setRequestUser(r.Context(), s.UserEmail)
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), s)))
		})
	}
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
// Gate.Requireを通過したリクエストでのみ有効。
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(*model.Session)
	return s, ok && s != nil
}

// ContextWithSession はコンテキストにセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, s *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}
