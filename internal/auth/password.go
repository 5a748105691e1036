package auth

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 8

// specialCharacters は記号として扱う文字。
const specialCharacters = "!@#$%^&*()_+-=[]{};':\"\\|,.<>/?`~"

// パスワードポリシー違反
var (
	ErrPasswordTooShort   = errors.New("Password must be at least 8 characters long")
	ErrPasswordNoSpecial  = errors.New("Password must contain at least one special character")
	ErrPasswordSequential = errors.New("Password must not contain sequential numbers (e.g. 123)")
)

// ValidatePassword はパスワードポリシーを検証する。
// 8文字以上、記号1文字以上、昇順の連続3桁（012〜789）を含まないこと。
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if !strings.ContainsAny(password, specialCharacters) {
		return ErrPasswordNoSpecial
	}
	if hasAscendingDigits(password) {
		return ErrPasswordSequential
	}
	return nil
}

func hasAscendingDigits(s string) bool {
	for i := 0; i+2 < len(s); i++ {
		a, b, c := s[i], s[i+1], s[i+2]
		if isDigit(a) && b == a+1 && c == b+1 && isDigit(c) {
			return true
		}
	}
	return false
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
