package auth

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Verifier はbcryptハッシュとパスワードを照合する。
//
// アカウントの有無やパスワード未設定を応答時間から推測されないよう、
// 照合対象がない場合もダミーハッシュとの比較を1回行う。
type Verifier struct {
	cost      int
	dummyHash []byte
	compare   func(hash, password []byte) error
}

// NewVerifier はVerifierを生成する。
// ダミーハッシュは起動時に乱数パスワードから1回だけ生成する。
func NewVerifier(cost int) (*Verifier, error) {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate dummy password: %w", err)
	}
	dummy, err := bcrypt.GenerateFromPassword(secret, cost)
	if err != nil {
		return nil, fmt.Errorf("failed to generate dummy hash: %w", err)
	}
	return &Verifier{
		cost:      cost,
		dummyHash: dummy,
		compare:   bcrypt.CompareHashAndPassword,
	}, nil
}

// Verify はパスワードが保存済みハッシュと一致するかを返す。
// storedHashが空の場合はダミーハッシュと比較し、常にfalseを返す。
func (v *Verifier) Verify(password, storedHash string) bool {
	if storedHash == "" {
		v.VerifyMissing(password)
		return false
	}
	return v.compare([]byte(storedHash), []byte(password)) == nil
}

// VerifyMissing はアカウントが存在しない場合のダミー比較を行う。
func (v *Verifier) VerifyMissing(password string) {
	_ = v.compare(v.dummyHash, []byte(password))
}

// Hash はパスワードのbcryptハッシュを生成する。
func (v *Verifier) Hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), v.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(h), nil
}
