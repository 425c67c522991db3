package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/oklog/ulid/v2"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var (
	// ErrTokenExpired signals that the presented token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals a malformed, forged or wrongly typed token.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Claims are carried by both access and refresh tokens.
type Claims struct {
	jwt.RegisteredClaims
	Kind    string   `json:"kind"`
	Email   string   `json:"email,omitempty"`
	Roles   []string `json:"roles"`
	Version int      `json:"ver"`
	Type    string   `json:"typ"`
}

// Subject describes the account a token pair is issued for.
type Subject struct {
	AccountID    string
	Kind         string
	Email        string
	Roles        []string
	TokenVersion int
}

// TokenPair is returned on login and refresh.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// TokenConfig configures HS256 signing.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Clock         func() time.Time
}

// TokenIssuer signs and parses access and refresh tokens with separate secrets.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	clock         func() time.Time
}

// NewTokenIssuer validates the configuration and returns an issuer.
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if strings.TrimSpace(cfg.AccessSecret) == "" || strings.TrimSpace(cfg.RefreshSecret) == "" {
		return nil, errors.New("auth: access and refresh secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("auth: token ttls must be positive")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		issuer:        strings.TrimSpace(cfg.Issuer),
		clock:         clock,
	}, nil
}

// Issue signs a fresh access and refresh token for the subject.
func (t *TokenIssuer) Issue(subject Subject) (TokenPair, error) {
	if strings.TrimSpace(subject.AccountID) == "" {
		return TokenPair{}, errors.New("auth: subject account id is required")
	}
	now := t.clock().UTC()
	accessExp := now.Add(t.accessTTL)
	refreshExp := now.Add(t.refreshTTL)

	access, err := t.sign(subject, tokenTypeAccess, now, accessExp, t.accessSecret)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := t.sign(subject, tokenTypeRefresh, now, refreshExp, t.refreshSecret)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresAt:        accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// AccessTTL exposes the access token lifetime for cookie expiry.
func (t *TokenIssuer) AccessTTL() time.Duration { return t.accessTTL }

// RefreshTTL exposes the refresh token lifetime for cookie expiry.
func (t *TokenIssuer) RefreshTTL() time.Duration { return t.refreshTTL }

// ParseAccess verifies an access token and returns its claims.
func (t *TokenIssuer) ParseAccess(raw string) (*Claims, error) {
	return t.parse(raw, tokenTypeAccess, t.accessSecret)
}

// ParseRefresh verifies a refresh token and returns its claims.
func (t *TokenIssuer) ParseRefresh(raw string) (*Claims, error) {
	return t.parse(raw, tokenTypeRefresh, t.refreshSecret)
}

func (t *TokenIssuer) sign(subject Subject, tokenType string, now, exp time.Time, secret []byte) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Subject:   subject.AccountID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Kind:    subject.Kind,
		Email:   subject.Email,
		Roles:   append([]string(nil), subject.Roles...),
		Version: subject.TokenVersion,
		Type:    tokenType,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

func (t *TokenIssuer) parse(raw, tokenType string, secret []byte) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenInvalid
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		var validationErr *jwt.ValidationError
		if errors.As(err, &validationErr) && validationErr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.Type != tokenType || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	if t.issuer != "" && claims.Issuer != t.issuer {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
