package auth

import (
	"context"
	"slices"
	"strings"
)

// Roles granted to access tokens. A token without explicit roles gets the role named by its
// account kind.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Identity is the principal behind a verified access token.
type Identity struct {
	AccountID    string
	Kind         string
	Email        string
	Roles        []string
	TokenVersion int
}

func identityFromClaims(claims *Claims) *Identity {
	id := &Identity{
		AccountID:    claims.Subject,
		Kind:         claims.Kind,
		Email:        claims.Email,
		TokenVersion: claims.Version,
	}
	for _, role := range claims.Roles {
		if role = normaliseRole(role); role != "" && !slices.Contains(id.Roles, role) {
			id.Roles = append(id.Roles, role)
		}
	}
	if len(id.Roles) == 0 {
		if kind := normaliseRole(claims.Kind); kind != "" {
			id.Roles = []string{kind}
		}
	}
	return id
}

// HasRole matches role case-insensitively.
func (i *Identity) HasRole(role string) bool {
	role = normaliseRole(role)
	if i == nil || role == "" {
		return false
	}
	return slices.ContainsFunc(i.Roles, func(r string) bool { return normaliseRole(r) == role })
}

func (i *Identity) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, i.HasRole)
}

func (i *Identity) IsAdmin() bool {
	return i.HasRole(RoleAdmin)
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity set by RequireAuth, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity, identity != nil
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
