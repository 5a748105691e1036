// Package auth はパスワード認証と管理者招待フローを提供する。
//
// ログイン失敗はアカウント不在・パスワード未設定・パスワード不一致のいずれでも
// 同一のエラーを返し、bcrypt比較もちょうど1回行う。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/hireboard/internal/model"
	"github.com/hitoshi/hireboard/internal/webhook"
)

// 計測用の試行種別と結果
const (
	kindApplicantLogin = "applicant_login"
	kindAdminLogin     = "admin_login"
	kindAcceptInvite   = "accept_invite"

	outcomeSuccess = "success"
	outcomeFailed  = "failed"
)

// nonceBytes は招待nonceのバイト長。
const nonceBytes = 32

// StaffStore はスタッフアカウントの永続化インターフェース。
type StaffStore interface {
	FindByEmail(ctx context.Context, email string) (*model.Staff, error)
	CreateInvited(ctx context.Context, name, email, nonce string) (*model.Staff, error)
	RefreshInvite(ctx context.Context, id, name, nonce string) error
	CompleteInvite(ctx context.Context, id, passwordHash string) error
}

// ApplicantFinder は応募者アカウントの検索インターフェース。
type ApplicantFinder interface {
	FindByEmail(ctx context.Context, email string) (*model.Applicant, error)
}

// InviteSender は招待メールをWebhook経由で送信するインターフェース。
type InviteSender interface {
	Send(ctx context.Context, purpose string, payload any) error
}

// Recorder は認証試行の計測インターフェース。
type Recorder interface {
	RecordAuthAttempt(kind, outcome string)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	InviteTTL time.Duration
}

// InviteResult は管理者招待の結果。
type InviteResult struct {
	Staff     *model.Staff
	Link      string
	ExpiresAt time.Time
	Refreshed bool
}

// invitePayload は招待Webhookのペイロード。
type invitePayload struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	InviteLink string `json:"inviteLink"`
	InvitedBy  string `json:"invitedBy"`
	ExpiresAt  string `json:"expiresAt"`
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	staff      StaffStore
	applicants ApplicantFinder
	verifier   *Verifier
	invites    *InviteIssuer
	sender     InviteSender
	logger     *slog.Logger
	recorder   Recorder
	config     ServiceConfig
	now        func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	staff StaffStore,
	applicants ApplicantFinder,
	verifier *Verifier,
	invites *InviteIssuer,
	sender InviteSender,
	logger *slog.Logger,
	config ServiceConfig,
) *Service {
	return &Service{
		staff:      staff,
		applicants: applicants,
		verifier:   verifier,
		invites:    invites,
		sender:     sender,
		logger:     logger,
		config:     config,
		now:        time.Now,
	}
}

// WithRecorder は計測用のRecorderを設定する。
func (s *Service) WithRecorder(r Recorder) *Service {
	s.recorder = r
	return s
}

// LoginApplicant は応募者のメールアドレスとパスワードを検証し、セッションを返す。
func (s *Service) LoginApplicant(ctx context.Context, email, password string) (*model.Session, error) {
	key, err := NormalizeEmail(email)
	if err != nil || password == "" {
		s.verifier.VerifyMissing(password)
		return nil, s.loginFailed(kindApplicantLogin, "malformed")
	}

	applicant, err := s.applicants.FindByEmail(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to find applicant: %w", err)
	}
	if applicant == nil {
		s.verifier.VerifyMissing(password)
		return nil, s.loginFailed(kindApplicantLogin, "unknown_account")
	}
	if !s.verifier.Verify(password, applicant.PasswordHash) {
		return nil, s.loginFailed(kindApplicantLogin, "bad_password")
	}

	s.record(kindApplicantLogin, outcomeSuccess)
	return &model.Session{
		UserEmail:       strings.ToLower(applicant.Email),
		UserRole:        model.RoleUser,
		UserName:        applicant.Name,
		UserApplicantID: applicant.ID,
		IssuedAt:        s.now().UTC(),
	}, nil
}

// LoginAdmin は管理者のメールアドレスとパスワードを検証し、セッションを返す。
// 管理者権限のないスタッフも同一のエラーとする。
func (s *Service) LoginAdmin(ctx context.Context, email, password string) (*model.Session, error) {
	key, err := NormalizeEmail(email)
	if err != nil || password == "" {
		s.verifier.VerifyMissing(password)
		return nil, s.loginFailed(kindAdminLogin, "malformed")
	}

	staff, err := s.staff.FindByEmail(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to find staff: %w", err)
	}
	if staff == nil {
		s.verifier.VerifyMissing(password)
		return nil, s.loginFailed(kindAdminLogin, "unknown_account")
	}
	ok := s.verifier.Verify(password, staff.PasswordHash)
	if !ok || !staff.IsAdmin {
		return nil, s.loginFailed(kindAdminLogin, "bad_password")
	}

	s.record(kindAdminLogin, outcomeSuccess)
	return staffSession(staff, s.now()), nil
}

// InviteAdmin は管理者アカウントを招待する。
// 未登録のメールアドレスにはパスワード未設定のアカウントを作成し、
// 招待承諾待ちのアカウントにはnonceを再発行する。
// baseURLは招待リンクの組み立てに使う公開URL。
func (s *Service) InviteAdmin(ctx context.Context, actor *model.Session, name, email, baseURL string) (*InviteResult, error) {
	if actor == nil || !actor.IsAdmin() {
		return nil, model.NewForbiddenError()
	}
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(email) == "" {
		return nil, model.NewValidationError("name and email are required")
	}
	key, err := NormalizeEmail(email)
	if err != nil {
		return nil, model.NewValidationError("email is not a valid address")
	}
	if baseURL == "" {
		return nil, errors.New("invite base URL is not configured")
	}

	nonce, err := generateNonce()
	if err != nil {
		return nil, err
	}

	existing, err := s.staff.FindByEmail(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to find staff: %w", err)
	}

	result := &InviteResult{}
	switch {
	case existing != nil && existing.PasswordHash != "":
		return nil, model.NewAlreadyRegisteredError(key)
	case existing != nil:
		if err := s.staff.RefreshInvite(ctx, existing.ID, name, nonce); err != nil {
			return nil, err
		}
		existing.Name = name
		existing.IsAdmin = true
		existing.InviteNonce = nonce
		result.Staff = existing
		result.Refreshed = true
	default:
		created, err := s.staff.CreateInvited(ctx, name, key, nonce)
		if err != nil {
			return nil, err
		}
		result.Staff = created
	}

	token, err := s.invites.Issue(key, nonce)
	if err != nil {
		return nil, err
	}
	result.ExpiresAt = s.now().Add(s.config.InviteTTL).UTC()
	result.Link = strings.TrimRight(baseURL, "/") + "/admin/accept-invite?token=" + url.QueryEscape(token)

	err = s.sender.Send(ctx, webhook.PurposeAdminInvite, invitePayload{
		Name:       name,
		Email:      key,
		InviteLink: result.Link,
		InvitedBy:  actor.UserName,
		ExpiresAt:  result.ExpiresAt.Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Error("failed to deliver admin invite",
			slog.String("staff_id", result.Staff.ID),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, webhook.ErrTimeout) {
			return nil, model.NewWebhookTimeoutError()
		}
		return nil, model.NewWebhookFailedError()
	}

	return result, nil
}

// AcceptInvite は招待トークンを検証してパスワードを設定し、セッションを返す。
// nonceは1回の更新でパスワードと同時に消去されるため、同じリンクは再利用できない。
func (s *Service) AcceptInvite(ctx context.Context, token, password, confirm string) (*model.Session, error) {
	if token == "" || password == "" || confirm == "" {
		return nil, model.NewValidationError("token, password and confirmPassword are required")
	}
	if password != confirm {
		return nil, model.NewPasswordMismatchError()
	}
	if err := ValidatePassword(password); err != nil {
		return nil, model.NewWeakPasswordError(err.Error())
	}

	claims, err := s.invites.Parse(token)
	if err != nil {
		s.record(kindAcceptInvite, outcomeFailed)
		return nil, model.NewInviteInvalidError()
	}

	key, err := NormalizeEmail(claims.Email)
	if err != nil {
		s.record(kindAcceptInvite, outcomeFailed)
		return nil, model.NewInviteInvalidError()
	}
	staff, err := s.staff.FindByEmail(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to find staff: %w", err)
	}
	if staff == nil || staff.InviteNonce == "" ||
		subtle.ConstantTimeCompare([]byte(staff.InviteNonce), []byte(claims.Nonce)) != 1 {
		s.record(kindAcceptInvite, outcomeFailed)
		return nil, model.NewInviteUsedError()
	}

	hash, err := s.verifier.Hash(password)
	if err != nil {
		return nil, err
	}
	if err := s.staff.CompleteInvite(ctx, staff.ID, hash); err != nil {
		return nil, err
	}

	s.record(kindAcceptInvite, outcomeSuccess)
	s.logger.Info("admin invite accepted", slog.String("staff_id", staff.ID))
	staff.IsAdmin = true
	return staffSession(staff, s.now()), nil
}

func (s *Service) loginFailed(kind, reason string) error {
	s.record(kind, outcomeFailed)
	s.logger.Info("login failed",
		slog.String("kind", kind),
		slog.String("reason", reason),
	)
	return model.NewInvalidCredentialsError()
}

func (s *Service) record(kind, outcome string) {
	if s.recorder != nil {
		s.recorder.RecordAuthAttempt(kind, outcome)
	}
}

func staffSession(staff *model.Staff, now time.Time) *model.Session {
	return &model.Session{
		UserEmail:   strings.ToLower(staff.Email),
		UserRole:    model.RoleAdmin,
		UserName:    staff.Name,
		UserStaffID: staff.ID,
		IssuedAt:    now.UTC(),
	}
}

// generateNonce は招待用のランダムなnonceを生成する。
func generateNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate invite nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}
