package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// invitePurpose は管理者招待トークンの用途クレーム。
const invitePurpose = "admin-invite"

// ErrInviteToken は招待トークンの署名不正・期限切れ・用途不一致を示す。
var ErrInviteToken = errors.New("auth: invalid invite token")

// InviteClaims は管理者招待トークンのクレーム。
type InviteClaims struct {
	Email   string `json:"email"`
	Nonce   string `json:"nonce"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// InviteIssuer はHS256で署名された招待トークンを発行・検証する。
type InviteIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewInviteIssuer はInviteIssuerを生成する。
func NewInviteIssuer(secret string, ttl time.Duration) *InviteIssuer {
	return &InviteIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue はemailとnonceを埋め込んだ招待トークンを発行する。
func (i *InviteIssuer) Issue(email, nonce string) (string, error) {
	now := i.now()
	claims := InviteClaims{
		Email:   email,
		Nonce:   nonce,
		Purpose: invitePurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign invite token: %w", err)
	}
	return token, nil
}

// Parse は招待トークンを検証してクレームを返す。
// 失敗理由にかかわらずErrInviteTokenを返す。
func (i *InviteIssuer) Parse(token string) (*InviteClaims, error) {
	claims := &InviteClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInviteToken
	}
	if claims.Purpose != invitePurpose || claims.Email == "" || claims.Nonce == "" {
		return nil, ErrInviteToken
	}
	return claims, nil
}
