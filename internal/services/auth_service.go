package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/repositories"
)

const (
	accountIDPrefix   = "acc_"
	minPasswordLength = 8
	defaultResetTTL   = time.Hour
)

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// AuthServiceDeps bundles collaborators required to construct the auth service.
type AuthServiceDeps struct {
	Accounts       repositories.AccountRepository
	Tokens         TokenIssuer
	Passwords      PasswordHasher
	Mailer         Mailer
	FrontendURL    string
	ResetTTL       time.Duration
	Clock          func() time.Time
	IDGenerator    func() string
	TokenGenerator func() (string, error)
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type authService struct {
	accounts    repositories.AccountRepository
	tokens      TokenIssuer
	passwords   PasswordHasher
	mailer      Mailer
	frontendURL string
	resetTTL    time.Duration
	clock       func() time.Time
	newID       func() string
	newToken    func() (string, error)
	validate    *validator.Validate
	logger      func(context.Context, string, map[string]any)
}

// NewAuthService wires dependencies into a concrete AuthService implementation.
func NewAuthService(deps AuthServiceDeps) (AuthService, error) {
	if deps.Accounts == nil {
		return nil, errors.New("auth service: account repository is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("auth service: token issuer is required")
	}
	if deps.Passwords == nil {
		return nil, errors.New("auth service: password hasher is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	tokenGen := deps.TokenGenerator
	if tokenGen == nil {
		tokenGen = randomToken
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	resetTTL := deps.ResetTTL
	if resetTTL <= 0 {
		resetTTL = defaultResetTTL
	}

	return &authService{
		accounts:    deps.Accounts,
		tokens:      deps.Tokens,
		passwords:   deps.Passwords,
		mailer:      deps.Mailer,
		frontendURL: strings.TrimRight(strings.TrimSpace(deps.FrontendURL), "/"),
		resetTTL:    resetTTL,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		newToken: tokenGen,
		validate: validator.New(),
		logger:   logger,
	}, nil
}

func (s *authService) Register(ctx context.Context, cmd RegisterCommand) (Account, error) {
	name := strings.TrimSpace(cmd.Name)
	email := normaliseEmail(cmd.Email)
	if name == "" {
		return Account{}, fmt.Errorf("%w: name is required", ErrAuthInvalidInput)
	}
	if err := s.validate.Var(email, "required,email"); err != nil {
		return Account{}, fmt.Errorf("%w: a valid email is required", ErrAuthInvalidInput)
	}
	if err := validatePassword(cmd.Password); err != nil {
		return Account{}, err
	}

	hash, err := s.passwords.Hash(cmd.Password)
	if err != nil {
		return Account{}, err
	}

	now := s.clock()
	account := Account{
		ID:           accountIDPrefix + s.newID(),
		Kind:         domain.AccountKindUser,
		Name:         name,
		Email:        email,
		Phone:        strings.TrimSpace(cmd.Phone),
		PasswordHash: hash,
		Roles:        []string{auth.RoleUser},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.Insert(ctx, account); err != nil {
		if isRepositoryConflict(err) {
			return Account{}, ErrAuthEmailTaken
		}
		return Account{}, mapRepositoryError(err, ErrAuthNotFound, ErrAuthEmailTaken)
	}

	s.logger(ctx, "auth.registered", map[string]any{"accountId": account.ID})
	return account, nil
}

func (s *authService) Login(ctx context.Context, cmd LoginCommand) (TokenPair, error) {
	if !cmd.Kind.Valid() {
		return TokenPair{}, fmt.Errorf("%w: unknown account kind", ErrAuthInvalidInput)
	}
	account, err := s.accounts.FindByEmail(ctx, cmd.Kind, normaliseEmail(cmd.Email))
	if err != nil {
		if isRepositoryNotFound(err) {
			return TokenPair{}, ErrAuthInvalidCredentials
		}
		return TokenPair{}, mapRepositoryError(err, ErrAuthInvalidCredentials, ErrAuthInvalidCredentials)
	}
	if err := s.passwords.Compare(account.PasswordHash, cmd.Password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return TokenPair{}, ErrAuthInvalidCredentials
		}
		return TokenPair{}, err
	}
	return s.issue(account)
}

func (s *authService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.tokens.ParseRefresh(strings.TrimSpace(refreshToken))
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrAuthInvalidCredentials, err)
	}
	account, err := s.accounts.FindByID(ctx, domain.AccountKind(claims.Kind), claims.Subject)
	if err != nil {
		if isRepositoryNotFound(err) {
			return TokenPair{}, ErrAuthInvalidCredentials
		}
		return TokenPair{}, mapRepositoryError(err, ErrAuthInvalidCredentials, ErrAuthInvalidCredentials)
	}
	if claims.Version != account.TokenVersion {
		return TokenPair{}, fmt.Errorf("%w: refresh token revoked", ErrAuthInvalidCredentials)
	}
	return s.issue(account)
}

func (s *authService) Logout(ctx context.Context, kind AccountKind, accountID string) error {
	account, err := s.accounts.FindByID(ctx, kind, strings.TrimSpace(accountID))
	if err != nil {
		return mapRepositoryError(err, ErrAuthNotFound, ErrAuthInvalidCredentials)
	}
	account.TokenVersion++
	account.UpdatedAt = s.clock()
	if err := s.accounts.Update(ctx, account); err != nil {
		return mapRepositoryError(err, ErrAuthNotFound, ErrAuthInvalidCredentials)
	}
	return nil
}

func (s *authService) RequestPasswordReset(ctx context.Context, kind AccountKind, email string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown account kind", ErrAuthInvalidInput)
	}
	account, err := s.accounts.FindByEmail(ctx, kind, normaliseEmail(email))
	if err != nil {
		if isRepositoryNotFound(err) {
			return nil
		}
		return mapRepositoryError(err, ErrAuthNotFound, ErrAuthInvalidCredentials)
	}

	token, err := s.newToken()
	if err != nil {
		return fmt.Errorf("auth: generate reset token: %w", err)
	}
	now := s.clock()
	expires := now.Add(s.resetTTL)
	account.ResetTokenHash = hashToken(token)
	account.ResetTokenExpiresAt = &expires
	account.UpdatedAt = now
	if err := s.accounts.Update(ctx, account); err != nil {
		return mapRepositoryError(err, ErrAuthNotFound, ErrAuthInvalidCredentials)
	}

	if s.mailer == nil {
		s.logger(ctx, "auth.reset.mailer_missing", map[string]any{"accountId": account.ID})
		return nil
	}
	link := s.frontendURL + "/reset-password?token=" + url.QueryEscape(token)
	if kind == domain.AccountKindAdmin {
		link += "&kind=admin"
	}
	if _, err := s.mailer.SendMail(ctx, MailMessage{
		Template:  MailTemplatePasswordReset,
		To:        account.Email,
		Subject:   "Reset your password",
		Variables: map[string]string{"name": account.Name, "link": link},
	}); err != nil {
		s.logger(ctx, "auth.reset.mail_failed", map[string]any{
			"accountId": account.ID,
			"error":     err.Error(),
		})
	}
	return nil
}

func (s *authService) ResetPassword(ctx context.Context, cmd ResetPasswordCommand) error {
	if !cmd.Kind.Valid() {
		return fmt.Errorf("%w: unknown account kind", ErrAuthInvalidInput)
	}
	token := strings.TrimSpace(cmd.Token)
	if token == "" {
		return ErrAuthInvalidResetToken
	}
	if err := validatePassword(cmd.NewPassword); err != nil {
		return err
	}

	account, err := s.accounts.FindByResetTokenHash(ctx, cmd.Kind, hashToken(token))
	if err != nil {
		if isRepositoryNotFound(err) {
			return ErrAuthInvalidResetToken
		}
		return mapRepositoryError(err, ErrAuthInvalidResetToken, ErrAuthInvalidCredentials)
	}
	now := s.clock()
	if account.ResetTokenExpiresAt == nil || !now.Before(*account.ResetTokenExpiresAt) {
		return ErrAuthInvalidResetToken
	}

	hash, err := s.passwords.Hash(cmd.NewPassword)
	if err != nil {
		return err
	}
	account.PasswordHash = hash
	account.ResetTokenHash = ""
	account.ResetTokenExpiresAt = nil
	account.TokenVersion++
	account.UpdatedAt = now
	if err := s.accounts.Update(ctx, account); err != nil {
		return mapRepositoryError(err, ErrAuthNotFound, ErrAuthInvalidCredentials)
	}
	s.logger(ctx, "auth.password.reset", map[string]any{"accountId": account.ID})
	return nil
}

func (s *authService) Me(ctx context.Context, identity *auth.Identity) (Account, error) {
	if identity == nil || strings.TrimSpace(identity.AccountID) == "" {
		return Account{}, ErrAuthInvalidCredentials
	}
	account, err := s.accounts.FindByID(ctx, domain.AccountKind(identity.Kind), identity.AccountID)
	if err != nil {
		return Account{}, mapRepositoryError(err, ErrAuthNotFound, ErrAuthInvalidCredentials)
	}
	return account, nil
}

func (s *authService) issue(account Account) (TokenPair, error) {
	return s.tokens.Issue(auth.Subject{
		AccountID:    account.ID,
		Kind:         string(account.Kind),
		Email:        account.Email,
		Roles:        account.Roles,
		TokenVersion: account.TokenVersion,
	})
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrAuthInvalidInput, minPasswordLength)
	}
	return nil
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
