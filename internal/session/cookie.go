package session

import (
	"net/http"
	"time"
)

// CookieName はセッションCookieの名前。
const CookieName = "session"

// CookieConfig はセッションCookieの属性。
type CookieConfig struct {
	Secure bool
	Domain string
	TTL    time.Duration
}

// SetCookie は封印済みトークンをセッションCookieとして設定する。
// HttpOnly、SameSite=Lax、Path=/、MaxAgeはTTLに一致させる。
func SetCookie(w http.ResponseWriter, cfg CookieConfig, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   int(cfg.TTL.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie はセッションCookieを削除する。
func ClearCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// TokenFromRequest はリクエストからセッショントークンを取り出す。
// Cookieが無いか空の場合はfalseを返す。
func TokenFromRequest(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
