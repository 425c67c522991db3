package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/repositories"
)

type memoryAccounts struct {
	mu       sync.Mutex
	accounts map[string]domain.Account
}

func newMemoryAccounts() *memoryAccounts {
	return &memoryAccounts{accounts: map[string]domain.Account{}}
}

func (m *memoryAccounts) Insert(_ context.Context, account domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if existing.Kind == account.Kind && existing.Email == account.Email {
			return conflictErr("account email")
		}
	}
	m.accounts[account.ID] = account
	return nil
}

func (m *memoryAccounts) Update(_ context.Context, account domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account.ID]; !ok {
		return notFoundErr("account")
	}
	m.accounts[account.ID] = account
	return nil
}

func (m *memoryAccounts) FindByID(_ context.Context, kind domain.AccountKind, id string) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok || account.Kind != kind {
		return domain.Account{}, notFoundErr("account")
	}
	return account, nil
}

func (m *memoryAccounts) FindByEmail(_ context.Context, kind domain.AccountKind, email string) (domain.Account, error) {
	return m.find(func(a domain.Account) bool { return a.Kind == kind && a.Email == email })
}

func (m *memoryAccounts) FindByResetTokenHash(_ context.Context, kind domain.AccountKind, hash string) (domain.Account, error) {
	return m.find(func(a domain.Account) bool { return a.Kind == kind && hash != "" && a.ResetTokenHash == hash })
}

func (m *memoryAccounts) find(match func(domain.Account) bool) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.accounts {
		if match(account) {
			return account, nil
		}
	}
	return domain.Account{}, notFoundErr("account")
}

type recordingMailer struct {
	messages []MailMessage
	err      error
}

func (m *recordingMailer) SendMail(_ context.Context, message MailMessage) (string, error) {
	m.messages = append(m.messages, message)
	return "msg-1", m.err
}

type authFixture struct {
	svc      AuthService
	accounts *memoryAccounts
	mailer   *recordingMailer
	now      time.Time
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := &authFixture{
		accounts: newMemoryAccounts(),
		mailer:   &recordingMailer{},
		now:      time.Now().UTC().Truncate(time.Second),
	}
	clock := func() time.Time { return f.now }
	tokens, err := auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		Issuer:        "storefront-test",
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	svc, err := NewAuthService(AuthServiceDeps{
		Accounts:       f.accounts,
		Tokens:         tokens,
		Passwords:      auth.NewPasswordHasher(bcrypt.MinCost),
		Mailer:         f.mailer,
		FrontendURL:    "https://shop.example/",
		ResetTTL:       30 * time.Minute,
		Clock:          clock,
		IDGenerator:    sequentialIDs("01HR"),
		TokenGenerator: func() (string, error) { return "reset-token-1", nil },
	})
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	f.svc = svc
	return f
}

func TestNewAuthServiceRequiresDeps(t *testing.T) {
	if _, err := NewAuthService(AuthServiceDeps{}); err == nil {
		t.Fatalf("expected error when deps missing")
	}
}

func TestAuthServiceRegisterAndLogin(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	account, err := f.svc.Register(ctx, RegisterCommand{Name: "Ada Obi", Email: " Ada@Example.com ", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if account.Email != "ada@example.com" || account.Kind != domain.AccountKindUser {
		t.Fatalf("unexpected account %+v", account)
	}
	if !strings.HasPrefix(account.ID, "acc_") || account.PasswordHash == "correct-horse" {
		t.Fatalf("expected generated id and hashed password, got %+v", account)
	}

	if _, err := f.svc.Register(ctx, RegisterCommand{Name: "Ada", Email: "ada@example.com", Password: "another-pass"}); !errors.Is(err, ErrAuthEmailTaken) {
		t.Fatalf("expected email taken, got %v", err)
	}
	if _, err := f.svc.Register(ctx, RegisterCommand{Name: "Bob", Email: "bob@", Password: "correct-horse"}); !errors.Is(err, ErrAuthInvalidInput) {
		t.Fatalf("expected invalid input for email, got %v", err)
	}
	if _, err := f.svc.Register(ctx, RegisterCommand{Name: "Bob", Email: "bob@example.com", Password: "short"}); !errors.Is(err, ErrAuthInvalidInput) {
		t.Fatalf("expected invalid input for password, got %v", err)
	}

	pair, err := f.svc.Login(ctx, LoginCommand{Kind: domain.AccountKindUser, Email: "ADA@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected token pair, got %+v", pair)
	}
	if _, err := f.svc.Login(ctx, LoginCommand{Kind: domain.AccountKindUser, Email: "ada@example.com", Password: "wrong-pass"}); !errors.Is(err, ErrAuthInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := f.svc.Login(ctx, LoginCommand{Kind: domain.AccountKindAdmin, Email: "ada@example.com", Password: "correct-horse"}); !errors.Is(err, ErrAuthInvalidCredentials) {
		t.Fatalf("expected invalid credentials for wrong kind, got %v", err)
	}
}

func TestAuthServiceLogoutRevokesRefresh(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	account, err := f.svc.Register(ctx, RegisterCommand{Name: "Ada", Email: "ada@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	pair, err := f.svc.Login(ctx, LoginCommand{Kind: domain.AccountKindUser, Email: "ada@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	refreshed, err := f.svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.AccessToken == "" {
		t.Fatalf("expected refreshed access token")
	}

	if err := f.svc.Logout(ctx, domain.AccountKindUser, account.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrAuthInvalidCredentials) {
		t.Fatalf("expected revoked refresh token, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, "garbage"); !errors.Is(err, ErrAuthInvalidCredentials) {
		t.Fatalf("expected invalid credentials for garbage token, got %v", err)
	}
}

func TestAuthServicePasswordReset(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Register(ctx, RegisterCommand{Name: "Ada", Email: "ada@example.com", Password: "correct-horse"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := f.svc.RequestPasswordReset(ctx, domain.AccountKindUser, "nobody@example.com"); err != nil {
		t.Fatalf("expected silent success for unknown email, got %v", err)
	}
	if len(f.mailer.messages) != 0 {
		t.Fatalf("expected no mail for unknown email")
	}

	if err := f.svc.RequestPasswordReset(ctx, domain.AccountKindUser, "ada@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if len(f.mailer.messages) != 1 {
		t.Fatalf("expected one mail, got %d", len(f.mailer.messages))
	}
	msg := f.mailer.messages[0]
	if msg.Template != MailTemplatePasswordReset || msg.To != "ada@example.com" {
		t.Fatalf("unexpected mail %+v", msg)
	}
	link, err := url.Parse(msg.Variables["link"])
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	if link.Path != "/reset-password" || link.Query().Get("token") != "reset-token-1" {
		t.Fatalf("unexpected reset link %s", msg.Variables["link"])
	}

	for _, account := range f.accounts.accounts {
		if account.ResetTokenHash == "reset-token-1" || account.ResetTokenHash == "" {
			t.Fatalf("expected only the token hash stored, got %q", account.ResetTokenHash)
		}
	}

	if err := f.svc.ResetPassword(ctx, ResetPasswordCommand{Kind: domain.AccountKindUser, Token: "wrong", NewPassword: "new-password"}); !errors.Is(err, ErrAuthInvalidResetToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if err := f.svc.ResetPassword(ctx, ResetPasswordCommand{Kind: domain.AccountKindUser, Token: "reset-token-1", NewPassword: "new-password"}); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, err := f.svc.Login(ctx, LoginCommand{Kind: domain.AccountKindUser, Email: "ada@example.com", Password: "new-password"}); err != nil {
		t.Fatalf("Login with new password: %v", err)
	}
	if err := f.svc.ResetPassword(ctx, ResetPasswordCommand{Kind: domain.AccountKindUser, Token: "reset-token-1", NewPassword: "again-password"}); !errors.Is(err, ErrAuthInvalidResetToken) {
		t.Fatalf("expected token to be single use, got %v", err)
	}
}

func TestAuthServiceResetTokenExpires(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Register(ctx, RegisterCommand{Name: "Ada", Email: "ada@example.com", Password: "correct-horse"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := f.svc.RequestPasswordReset(ctx, domain.AccountKindUser, "ada@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}

	f.now = f.now.Add(31 * time.Minute)
	err := f.svc.ResetPassword(ctx, ResetPasswordCommand{Kind: domain.AccountKindUser, Token: "reset-token-1", NewPassword: "new-password"})
	if !errors.Is(err, ErrAuthInvalidResetToken) {
		t.Fatalf("expected expired token, got %v", err)
	}
}

func TestAuthServiceResetMailFailureIsSilent(t *testing.T) {
	f := newAuthFixture(t)
	f.mailer.err = errors.New("pubsub down")
	ctx := context.Background()
	if _, err := f.svc.Register(ctx, RegisterCommand{Name: "Ada", Email: "ada@example.com", Password: "correct-horse"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := f.svc.RequestPasswordReset(ctx, domain.AccountKindUser, "ada@example.com"); err != nil {
		t.Fatalf("expected mail failure to be swallowed, got %v", err)
	}
}

func TestAuthServiceMe(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	account, err := f.svc.Register(ctx, RegisterCommand{Name: "Ada", Email: "ada@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	me, err := f.svc.Me(ctx, &auth.Identity{AccountID: account.ID, Kind: string(domain.AccountKindUser)})
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if me.ID != account.ID {
		t.Fatalf("expected %s, got %s", account.ID, me.ID)
	}
	if _, err := f.svc.Me(ctx, nil); !errors.Is(err, ErrAuthInvalidCredentials) {
		t.Fatalf("expected invalid credentials for anonymous caller, got %v", err)
	}
}

var _ repositories.AccountRepository = (*memoryAccounts)(nil)
