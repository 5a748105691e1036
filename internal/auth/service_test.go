package auth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/hireboard/internal/model"
	"github.com/hitoshi/hireboard/internal/webhook"
)

// --- モック定義 ---

type mockStaffStore struct {
	findByEmailFn    func(ctx context.Context, email string) (*model.Staff, error)
	createInvitedFn  func(ctx context.Context, name, email, nonce string) (*model.Staff, error)
	refreshInviteFn  func(ctx context.Context, id, name, nonce string) error
	completeInviteFn func(ctx context.Context, id, passwordHash string) error
}

func (m *mockStaffStore) FindByEmail(ctx context.Context, email string) (*model.Staff, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockStaffStore) CreateInvited(ctx context.Context, name, email, nonce string) (*model.Staff, error) {
	if m.createInvitedFn != nil {
		return m.createInvitedFn(ctx, name, email, nonce)
	}
	return &model.Staff{ID: "recStaffNew000001", Name: name, Email: email, IsAdmin: true, InviteNonce: nonce}, nil
}

func (m *mockStaffStore) RefreshInvite(ctx context.Context, id, name, nonce string) error {
	if m.refreshInviteFn != nil {
		return m.refreshInviteFn(ctx, id, name, nonce)
	}
	return nil
}

func (m *mockStaffStore) CompleteInvite(ctx context.Context, id, passwordHash string) error {
	if m.completeInviteFn != nil {
		return m.completeInviteFn(ctx, id, passwordHash)
	}
	return nil
}

type mockApplicantFinder struct {
	findByEmailFn func(ctx context.Context, email string) (*model.Applicant, error)
}

func (m *mockApplicantFinder) FindByEmail(ctx context.Context, email string) (*model.Applicant, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

type mockSender struct {
	sendFn func(ctx context.Context, purpose string, payload any) error
	sent   []any
}

func (m *mockSender) Send(ctx context.Context, purpose string, payload any) error {
	m.sent = append(m.sent, payload)
	if m.sendFn != nil {
		return m.sendFn(ctx, purpose, payload)
	}
	return nil
}

// --- ヘルパー ---

type testEnv struct {
	svc        *Service
	staff      *mockStaffStore
	applicants *mockApplicantFinder
	sender     *mockSender
	compares   *int
	logs       *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	v, err := NewVerifier(bcrypt.MinCost)
	require.NoError(t, err)
	compares := 0
	v.compare = func(hash, password []byte) error {
		compares++
		return bcrypt.CompareHashAndPassword(hash, password)
	}

	var buf bytes.Buffer
	env := &testEnv{
		staff:      &mockStaffStore{},
		applicants: &mockApplicantFinder{},
		sender:     &mockSender{},
		compares:   &compares,
		logs:       &buf,
	}
	env.svc = NewService(
		env.staff,
		env.applicants,
		v,
		NewInviteIssuer("test-jwt-secret", 24*time.Hour),
		env.sender,
		slog.New(slog.NewJSONHandler(&buf, nil)),
		ServiceConfig{InviteTTL: 24 * time.Hour},
	)
	return env
}

func hashFor(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func requireAPIError(t *testing.T, err error, code string) *model.APIError {
	t.Helper()
	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr), "APIErrorではない: %v", err)
	assert.Equal(t, code, apiErr.Code)
	return apiErr
}

// --- ログイン ---

func TestLoginApplicant_Success(t *testing.T) {
	env := newTestEnv(t)
	env.applicants.findByEmailFn = func(_ context.Context, email string) (*model.Applicant, error) {
		assert.Equal(t, "alice@example.com", email)
		return &model.Applicant{ID: "recApplicant00001", Name: "Alice", Email: "Alice@Example.com", PasswordHash: hashFor(t, "S3cure!pw")}, nil
	}

	sess, err := env.svc.LoginApplicant(context.Background(), "  ALICE@example.com ", "S3cure!pw")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", sess.UserEmail)
	assert.Equal(t, model.RoleUser, sess.UserRole)
	assert.Equal(t, "recApplicant00001", sess.UserApplicantID)
	assert.Equal(t, 1, *env.compares)
}

// TestLogin_FailureBranchesAreIndistinguishable は失敗理由によらず同一のエラーと
// 1回のbcrypt比較になることを検証する。
func TestLogin_FailureBranchesAreIndistinguishable(t *testing.T) {
	tests := []struct {
		name      string
		applicant *model.Applicant
		password  string
	}{
		{"アカウント不在", nil, "whatever"},
		{"パスワード未設定", &model.Applicant{ID: "recApplicant00001", Email: "a@example.com"}, "whatever"},
		{"パスワード不一致", &model.Applicant{ID: "recApplicant00001", Email: "a@example.com"}, "wrong!pass"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.applicant != nil && tt.name == "パスワード不一致" {
				tt.applicant.PasswordHash = hashFor(t, "correct!pass")
			}
			env.applicants.findByEmailFn = func(context.Context, string) (*model.Applicant, error) {
				return tt.applicant, nil
			}

			_, err := env.svc.LoginApplicant(context.Background(), "nouser@x.com", tt.password)

			apiErr := requireAPIError(t, err, model.ErrCodeInvalidCredentials)
			assert.Equal(t, "Invalid credentials", apiErr.Message)
			assert.Equal(t, "Invalid credentials, please register first.", apiErr.UserMessage)
			assert.Equal(t, 1, *env.compares, "bcrypt比較は1回であること")
		})
	}
}

func TestLoginApplicant_StoreError(t *testing.T) {
	env := newTestEnv(t)
	env.applicants.findByEmailFn = func(context.Context, string) (*model.Applicant, error) {
		return nil, errors.New("airtable down")
	}

	_, err := env.svc.LoginApplicant(context.Background(), "a@example.com", "x")
	require.Error(t, err)
	var apiErr *model.APIError
	assert.False(t, errors.As(err, &apiErr), "ストア障害は認証エラーにしない")
}

func TestLoginAdmin_Success(t *testing.T) {
	env := newTestEnv(t)
	env.staff.findByEmailFn = func(context.Context, string) (*model.Staff, error) {
		return &model.Staff{ID: "recStaff000000001", Name: "Admin", Email: "admin@example.com", IsAdmin: true, PasswordHash: hashFor(t, "Adm!n-pass")}, nil
	}

	sess, err := env.svc.LoginAdmin(context.Background(), "admin@example.com", "Adm!n-pass")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, sess.UserRole)
	assert.Equal(t, "recStaff000000001", sess.UserStaffID)
}

func TestLoginAdmin_NonAdminStaffRejected(t *testing.T) {
	env := newTestEnv(t)
	env.staff.findByEmailFn = func(context.Context, string) (*model.Staff, error) {
		return &model.Staff{ID: "recStaff000000002", Email: "staff@example.com", PasswordHash: hashFor(t, "Staff!pass")}, nil
	}

	_, err := env.svc.LoginAdmin(context.Background(), "staff@example.com", "Staff!pass")
	requireAPIError(t, err, model.ErrCodeInvalidCredentials)
	assert.Equal(t, 1, *env.compares)
}

func TestLoginAdmin_MalformedEmail(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.LoginAdmin(context.Background(), "not-an-email", "x")
	requireAPIError(t, err, model.ErrCodeInvalidCredentials)
	assert.Equal(t, 1, *env.compares)
}

// --- 招待 ---

func adminSession() *model.Session {
	return &model.Session{UserEmail: "root@example.com", UserRole: model.RoleAdmin, UserName: "Root", UserStaffID: "recStaffRoot00001"}
}

func TestInviteAdmin_CreatesAccountAndSendsLink(t *testing.T) {
	env := newTestEnv(t)
	var createdNonce string
	env.staff.createInvitedFn = func(_ context.Context, name, email, nonce string) (*model.Staff, error) {
		createdNonce = nonce
		return &model.Staff{ID: "recStaffNew000001", Name: name, Email: email, IsAdmin: true, InviteNonce: nonce}, nil
	}

	res, err := env.svc.InviteAdmin(context.Background(), adminSession(), "New Admin", "New@Example.com", "https://app.example.com/")
	require.NoError(t, err)
	assert.Len(t, createdNonce, nonceBytes*2)
	assert.False(t, res.Refreshed)
	assert.True(t, strings.HasPrefix(res.Link, "https://app.example.com/admin/accept-invite?token="))
	require.Len(t, env.sender.sent, 1)

	// リンク内のトークンに作成時のnonceが埋め込まれていること
	u, err := url.Parse(res.Link)
	require.NoError(t, err)
	claims, err := env.svc.invites.Parse(u.Query().Get("token"))
	require.NoError(t, err)
	assert.Equal(t, createdNonce, claims.Nonce)
	assert.Equal(t, "new@example.com", claims.Email)
}

func TestInviteAdmin_RefreshesPendingAccount(t *testing.T) {
	env := newTestEnv(t)
	env.staff.findByEmailFn = func(context.Context, string) (*model.Staff, error) {
		return &model.Staff{ID: "recStaffPend00001", Email: "p@example.com", InviteNonce: "old"}, nil
	}
	var refreshed string
	env.staff.refreshInviteFn = func(_ context.Context, id, _ string, nonce string) error {
		refreshed = id
		assert.NotEqual(t, "old", nonce)
		return nil
	}

	res, err := env.svc.InviteAdmin(context.Background(), adminSession(), "Pending", "p@example.com", "https://app.example.com")
	require.NoError(t, err)
	assert.True(t, res.Refreshed)
	assert.Equal(t, "recStaffPend00001", refreshed)
}

func TestInviteAdmin_AlreadyRegistered(t *testing.T) {
	env := newTestEnv(t)
	env.staff.findByEmailFn = func(context.Context, string) (*model.Staff, error) {
		return &model.Staff{ID: "recStaffDone00001", Email: "d@example.com", PasswordHash: "$2a$..."}, nil
	}

	_, err := env.svc.InviteAdmin(context.Background(), adminSession(), "Done", "d@example.com", "https://app.example.com")
	requireAPIError(t, err, model.ErrCodeAlreadyRegistered)
	assert.Empty(t, env.sender.sent)
}

func TestInviteAdmin_RequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	user := &model.Session{UserEmail: "u@example.com", UserRole: model.RoleUser}

	_, err := env.svc.InviteAdmin(context.Background(), user, "X", "x@example.com", "https://app.example.com")
	requireAPIError(t, err, model.ErrCodeForbidden)
}

func TestInviteAdmin_WebhookErrors(t *testing.T) {
	tests := []struct {
		name    string
		sendErr error
		code    string
	}{
		{"送信失敗", webhook.ErrDeliveryFailed, model.ErrCodeWebhookFailed},
		{"タイムアウト", webhook.ErrTimeout, model.ErrCodeWebhookTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.sender.sendFn = func(context.Context, string, any) error { return tt.sendErr }

			_, err := env.svc.InviteAdmin(context.Background(), adminSession(), "N", "n@example.com", "https://app.example.com")
			requireAPIError(t, err, tt.code)
		})
	}
}

// --- 招待承諾 ---

func issueToken(t *testing.T, env *testEnv, email, nonce string) string {
	t.Helper()
	token, err := env.svc.invites.Issue(email, nonce)
	require.NoError(t, err)
	return token
}

func TestAcceptInvite_Success(t *testing.T) {
	env := newTestEnv(t)
	env.staff.findByEmailFn = func(context.Context, string) (*model.Staff, error) {
		return &model.Staff{ID: "recStaffNew000001", Name: "New", Email: "new@example.com", IsAdmin: true, InviteNonce: "nonce-1"}, nil
	}
	completed := 0
	env.staff.completeInviteFn = func(_ context.Context, id, hash string) error {
		completed++
		assert.Equal(t, "recStaffNew000001", id)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("Fresh!pass")))
		return nil
	}

	sess, err := env.svc.AcceptInvite(context.Background(), issueToken(t, env, "new@example.com", "nonce-1"), "Fresh!pass", "Fresh!pass")
	require.NoError(t, err)
	assert.Equal(t, 1, completed)
	assert.Equal(t, model.RoleAdmin, sess.UserRole)
	assert.Equal(t, "recStaffNew000001", sess.UserStaffID)
}

func TestAcceptInvite_NonceMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.staff.findByEmailFn = func(context.Context, string) (*model.Staff, error) {
		return &model.Staff{ID: "recStaffNew000001", Email: "new@example.com", InviteNonce: "current"}, nil
	}
	env.staff.completeInviteFn = func(context.Context, string, string) error {
		t.Fatal("CompleteInvite must not be called")
		return nil
	}

	_, err := env.svc.AcceptInvite(context.Background(), issueToken(t, env, "new@example.com", "stale"), "Fresh!pass", "Fresh!pass")
	apiErr := requireAPIError(t, err, model.ErrCodeInviteUsed)
	assert.Equal(t, "This invite link has already been used or is invalid", apiErr.Message)
}

func TestAcceptInvite_SingleUse(t *testing.T) {
	env := newTestEnv(t)
	stored := &model.Staff{ID: "recStaffNew000001", Email: "new@example.com", InviteNonce: "once"}
	env.staff.findByEmailFn = func(context.Context, string) (*model.Staff, error) {
		cp := *stored
		return &cp, nil
	}
	env.staff.completeInviteFn = func(_ context.Context, _ string, hash string) error {
		stored.PasswordHash = hash
		stored.InviteNonce = ""
		return nil
	}
	token := issueToken(t, env, "new@example.com", "once")

	_, err := env.svc.AcceptInvite(context.Background(), token, "Fresh!pass", "Fresh!pass")
	require.NoError(t, err)

	_, err = env.svc.AcceptInvite(context.Background(), token, "Other!pass", "Other!pass")
	requireAPIError(t, err, model.ErrCodeInviteUsed)
}

func TestAcceptInvite_Validation(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		password string
		confirm  string
		code     string
	}{
		{"必須項目不足", "", "Fresh!pass", "Fresh!pass", model.ErrCodeValidation},
		{"確認不一致", "t", "Fresh!pass", "Fresh!pas", model.ErrCodePasswordMismatch},
		{"短すぎる", "t", "a!b", "a!b", model.ErrCodeWeakPassword},
		{"記号なし", "t", "abcdefgh", "abcdefgh", model.ErrCodeWeakPassword},
		{"連番", "t", "pass!123x", "pass!123x", model.ErrCodeWeakPassword},
		{"不正トークン", "garbage", "Fresh!pass", "Fresh!pass", model.ErrCodeInviteInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.staff.findByEmailFn = func(context.Context, string) (*model.Staff, error) {
				t.Fatal("ストアを呼び出してはならない")
				return nil, nil
			}

			_, err := env.svc.AcceptInvite(context.Background(), tt.token, tt.password, tt.confirm)
			requireAPIError(t, err, tt.code)
		})
	}
}

func TestAcceptInvite_ExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	env.svc.invites.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	token := issueToken(t, env, "new@example.com", "n")
	env.svc.invites.now = time.Now

	_, err := env.svc.AcceptInvite(context.Background(), token, "Fresh!pass", "Fresh!pass")
	requireAPIError(t, err, model.ErrCodeInviteInvalid)
}
