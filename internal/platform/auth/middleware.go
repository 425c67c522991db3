package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/storefront/api/internal/platform/httpx"
)

// AccessCookieName is the cookie consulted when no Authorization header is present.
const AccessCookieName = "access_token"

// AccessTokenParser verifies access tokens.
type AccessTokenParser interface {
	ParseAccess(raw string) (*Claims, error)
}

// Authenticator turns access tokens into identities for HTTP middleware.
type Authenticator struct {
	tokens     AccessTokenParser
	cookieName string
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithCookieName overrides the cookie holding the access token.
func WithCookieName(name string) Option {
	return func(a *Authenticator) {
		if name = strings.TrimSpace(name); name != "" {
			a.cookieName = name
		}
	}
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(tokens AccessTokenParser, opts ...Option) *Authenticator {
	a := &Authenticator{tokens: tokens, cookieName: AccessCookieName}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireAuth rejects requests without a valid access token (401) and, when roles are given,
// requests whose identity lacks all of them (403).
func (a *Authenticator) RequireAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(allowedRoles))
	for _, role := range allowedRoles {
		if role = normaliseRole(role); role != "" {
			allowed = append(allowed, role)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw, ok := a.extractToken(r)
			if !ok {
				httpx.WriteError(ctx, w, httpx.Unauthorized("authentication required"))
				return
			}
			if a == nil || a.tokens == nil {
				httpx.WriteError(ctx, w, httpx.Unauthorized("authentication unavailable"))
				return
			}

			claims, err := a.tokens.ParseAccess(raw)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					httpx.WriteError(ctx, w, httpx.NewError("token_expired", "access token expired", http.StatusUnauthorized))
					return
				}
				httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "access token invalid", http.StatusUnauthorized))
				return
			}

			identity := identityFromClaims(claims)
			if len(allowed) > 0 && !identity.HasAnyRole(allowed...) {
				httpx.WriteError(ctx, w, httpx.Forbidden("insufficient role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func (a *Authenticator) extractToken(r *http.Request) (string, bool) {
	if token, ok := extractBearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	name := AccessCookieName
	if a != nil && a.cookieName != "" {
		name = a.cookieName
	}
	cookie, err := r.Cookie(name)
	if err != nil {
		return "", false
	}
	value := strings.TrimSpace(cookie.Value)
	return value, value != ""
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
