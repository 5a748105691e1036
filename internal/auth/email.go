package auth

import (
	"errors"
	"strings"

	"golang.org/x/net/idna"
)

// ErrInvalidEmail はメールアドレスの形式不正を示す。
var ErrInvalidEmail = errors.New("auth: invalid email address")

// NormalizeEmail はメールアドレスを検索キーに正規化する。
// 前後の空白を除き小文字化し、国際化ドメインはPunycodeに変換する。
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return "", ErrInvalidEmail
	}
	if strings.ContainsAny(email, " \t\r\n") {
		return "", ErrInvalidEmail
	}
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", ErrInvalidEmail
	}
	return local + "@" + ascii, nil
}
