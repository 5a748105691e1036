// Package session はログインセッションの封印（暗号化＋改ざん検知）と
// セッションCookieの入出力を提供する。
//
// 封印済みトークンは "v1." に base64url(nonce || ciphertext) を続けた文字列で、
// 有効期限は認証付き暗号文の内部に含まれる。サーバー側にセッションは保存しない。
package session

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/hitoshi/hireboard/internal/model"
)

const (
	tokenPrefix = "v1."
	hkdfInfo    = "hireboard session v1"
)

// ErrExpiredOrInvalid は復号・検証・期限のいずれかで失敗したことを示す。
// 失敗の内訳は呼び出し元に区別させない。
var ErrExpiredOrInvalid = errors.New("session expired or invalid")

// sealedPayload は暗号化対象のJSON構造。
type sealedPayload struct {
	Session   model.Session `json:"s"`
	ExpiresAt int64         `json:"exp"` // UnixNano
}

// Codec はセッションの封印・開封を行う。
type Codec struct {
	aead cipher.AEAD
	now  func() time.Time
}

// NewCodec はサーバーシークレットから鍵を導出してCodecを生成する。
// 鍵はHKDF-SHA256で導出し、XChaCha20-Poly1305で暗号化する。
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("session secret is empty")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive session key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cipher: %w", err)
	}

	return &Codec{aead: aead, now: time.Now}, nil
}

// Seal はセッションを暗号化してトークン文字列を返す。
// IssuedAtは封印時刻で上書きされ、有効期限は封印時刻+ttlとなる。
func (c *Codec) Seal(s model.Session, ttl time.Duration) (string, error) {
	now := c.now()
	s.IssuedAt = now

	plaintext, err := json.Marshal(sealedPayload{
		Session:   s,
		ExpiresAt: now.Add(ttl).UnixNano(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode session: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, plaintext, []byte(tokenPrefix))
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Unseal はトークンを復号してセッションを返す。
// 形式不正・復号失敗・期限切れ（埋め込み期限またはIssuedAt+ttlの超過）の場合は
// ErrExpiredOrInvalidを返し、部分的なセッションは返さない。
// ttlが0以下の場合は埋め込み期限のみで判定する。
func (c *Codec) Unseal(token string, ttl time.Duration) (*model.Session, error) {
	if !strings.HasPrefix(token, tokenPrefix) {
		return nil, fmt.Errorf("%w: unknown token format", ErrExpiredOrInvalid)
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(token, tokenPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExpiredOrInvalid, err)
	}
	if len(raw) < c.aead.NonceSize()+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: token too short", ErrExpiredOrInvalid)
	}

	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, []byte(tokenPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExpiredOrInvalid, err)
	}

	var p sealedPayload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExpiredOrInvalid, err)
	}

	now := c.now()
	if !now.Before(time.Unix(0, p.ExpiresAt)) {
		return nil, fmt.Errorf("%w: expired", ErrExpiredOrInvalid)
	}
	if ttl > 0 && !now.Before(p.Session.IssuedAt.Add(ttl)) {
		return nil, fmt.Errorf("%w: older than ttl", ErrExpiredOrInvalid)
	}

	s := p.Session
	return &s, nil
}
