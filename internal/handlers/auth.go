package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/services"
)

const maxAuthBodySize = 8 * 1024

// AuthHandlers exposes registration, login, token refresh and password reset endpoints.
type AuthHandlers struct {
	authn        *auth.Authenticator
	accounts     services.AuthService
	cookieDomain string
	cookieSecure bool
	rateLimit    func(http.Handler) http.Handler
}

// AuthHandlerOption customises AuthHandlers.
type AuthHandlerOption func(*AuthHandlers)

// WithAuthCookie configures the access token cookie written on login.
func WithAuthCookie(domain string, secure bool) AuthHandlerOption {
	return func(h *AuthHandlers) {
		h.cookieDomain = strings.TrimSpace(domain)
		h.cookieSecure = secure
	}
}

// WithAuthRateLimit applies the middleware to the unauthenticated credential endpoints.
func WithAuthRateLimit(mw func(http.Handler) http.Handler) AuthHandlerOption {
	return func(h *AuthHandlers) {
		h.rateLimit = mw
	}
}

// NewAuthHandlers constructs auth handlers.
func NewAuthHandlers(authn *auth.Authenticator, accounts services.AuthService, opts ...AuthHandlerOption) *AuthHandlers {
	h := &AuthHandlers{authn: authn, accounts: accounts, cookieSecure: true}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /auth endpoints.
func (h *AuthHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(public chi.Router) {
		if h.rateLimit != nil {
			public.Use(h.rateLimit)
		}
		public.Post("/register", h.register)
		public.Post("/login", h.login)
		public.Post("/refresh", h.refresh)
		public.Post("/password/forgot", h.forgotPassword)
		public.Post("/password/reset", h.resetPassword)
	})
	r.Group(func(private chi.Router) {
		if h.authn != nil {
			private.Use(h.authn.RequireAuth())
		}
		private.Get("/me", h.me)
		private.Post("/logout", h.logout)
	})
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"omitempty,max=32"`
	Password string `json:"password" validate:"required"`
}

type loginRequest struct {
	Kind     string `json:"kind" validate:"omitempty,oneof=user admin"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type forgotPasswordRequest struct {
	Kind  string `json:"kind" validate:"omitempty,oneof=user admin"`
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Kind        string `json:"kind" validate:"omitempty,oneof=user admin"`
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required"`
}

type accountPayload struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	Phone     string   `json:"phone,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	CreatedAt string   `json:"createdAt,omitempty"`
	UpdatedAt string   `json:"updatedAt,omitempty"`
}

func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.accounts == nil {
		serviceUnavailable(w, r, "auth")
		return
	}
	var req registerRequest
	if herr, ok := decodeRequest(r, maxAuthBodySize, &req); !ok {
		httpx.WriteError(ctx, w, herr)
		return
	}

	account, err := h.accounts.Register(ctx, services.RegisterCommand{
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
	})
	if err != nil {
		writeAuthError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"account": buildAccountPayload(account)})
}

func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.accounts == nil {
		serviceUnavailable(w, r, "auth")
		return
	}
	var req loginRequest
	if herr, ok := decodeRequest(r, maxAuthBodySize, &req); !ok {
		httpx.WriteError(ctx, w, herr)
		return
	}

	pair, err := h.accounts.Login(ctx, services.LoginCommand{
		Kind:     accountKind(req.Kind),
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeAuthError(ctx, w, err)
		return
	}
	h.setAccessCookie(w, pair)
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, pair)
}

func (h *AuthHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.accounts == nil {
		serviceUnavailable(w, r, "auth")
		return
	}
	var req refreshRequest
	if herr, ok := decodeRequest(r, maxAuthBodySize, &req); !ok {
		httpx.WriteError(ctx, w, herr)
		return
	}

	pair, err := h.accounts.Refresh(ctx, req.RefreshToken)
	if err != nil {
		writeAuthError(ctx, w, err)
		return
	}
	h.setAccessCookie(w, pair)
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, pair)
}

func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.accounts == nil {
		serviceUnavailable(w, r, "auth")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	if err := h.accounts.Logout(ctx, domain.AccountKind(identity.Kind), identity.AccountID); err != nil {
		writeAuthError(ctx, w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.AccessCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.cookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.accounts == nil {
		serviceUnavailable(w, r, "auth")
		return
	}
	var req forgotPasswordRequest
	if herr, ok := decodeRequest(r, maxAuthBodySize, &req); !ok {
		httpx.WriteError(ctx, w, herr)
		return
	}

	if err := h.accounts.RequestPasswordReset(ctx, accountKind(req.Kind), req.Email); err != nil {
		writeAuthError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *AuthHandlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.accounts == nil {
		serviceUnavailable(w, r, "auth")
		return
	}
	var req resetPasswordRequest
	if herr, ok := decodeRequest(r, maxAuthBodySize, &req); !ok {
		httpx.WriteError(ctx, w, herr)
		return
	}

	err := h.accounts.ResetPassword(ctx, services.ResetPasswordCommand{
		Kind:        accountKind(req.Kind),
		Token:       req.Token,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		writeAuthError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.accounts == nil {
		serviceUnavailable(w, r, "auth")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	account, err := h.accounts.Me(ctx, identity)
	if err != nil {
		writeAuthError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"account": buildAccountPayload(account)})
}

func (h *AuthHandlers) setAccessCookie(w http.ResponseWriter, pair services.TokenPair) {
	if pair.AccessToken == "" {
		return
	}
	cookie := &http.Cookie{
		Name:     auth.AccessCookieName,
		Value:    pair.AccessToken,
		Path:     "/",
		Domain:   h.cookieDomain,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if !pair.ExpiresAt.IsZero() {
		cookie.Expires = pair.ExpiresAt.UTC()
		cookie.MaxAge = int(time.Until(pair.ExpiresAt).Seconds())
		if cookie.MaxAge <= 0 {
			cookie.MaxAge = -1
		}
	}
	http.SetCookie(w, cookie)
}

func accountKind(raw string) domain.AccountKind {
	if kind := domain.AccountKind(strings.ToLower(strings.TrimSpace(raw))); kind != "" {
		return kind
	}
	return domain.AccountKindUser
}

func buildAccountPayload(account services.Account) accountPayload {
	return accountPayload{
		ID:        account.ID,
		Kind:      string(account.Kind),
		Name:      account.Name,
		Email:     account.Email,
		Phone:     account.Phone,
		Roles:     append([]string(nil), account.Roles...),
		CreatedAt: formatTime(account.CreatedAt),
		UpdatedAt: formatTime(account.UpdatedAt),
	}
}

func writeAuthError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrAuthInvalidInput):
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", err.Error()))
	case errors.Is(err, services.ErrAuthInvalidResetToken):
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_reset_token", "reset token is invalid or expired"))
	case errors.Is(err, services.ErrAuthInvalidCredentials):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_credentials", "invalid credentials", http.StatusUnauthorized))
	case errors.Is(err, services.ErrAuthEmailTaken):
		httpx.WriteError(ctx, w, httpx.NewError("email_taken", "email is already registered", http.StatusConflict))
	case errors.Is(err, services.ErrAuthNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("account_not_found", "account not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.Internal())
	}
}
