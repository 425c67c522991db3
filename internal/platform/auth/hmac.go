package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const defaultSignatureHeader = "X-Signature"

var (
	ErrSignatureMissing  = errors.New("auth: signature missing")
	ErrSignatureInvalid  = errors.New("auth: signature invalid")
	ErrSecretUnavailable = errors.New("auth: signing secret unavailable")
)

// SecretProvider returns the shared secret for a webhook scope (the gateway name).
type SecretProvider interface {
	GetSecret(ctx context.Context, scope string) (string, error)
}

type SecretProviderFunc func(context.Context, string) (string, error)

func (f SecretProviderFunc) GetSecret(ctx context.Context, scope string) (string, error) {
	if f == nil {
		return "", ErrSecretUnavailable
	}
	return f(ctx, scope)
}

// StaticSecrets maps lower-case scopes to secrets, as loaded from API_WEBHOOK_SECRETS.
type StaticSecrets map[string]string

func (s StaticSecrets) GetSecret(_ context.Context, scope string) (string, error) {
	if secret := strings.TrimSpace(s[normalizeScope(scope)]); secret != "" {
		return secret, nil
	}
	return "", ErrSecretUnavailable
}

// HMACValidator checks HMAC-SHA256 signatures over raw webhook bodies. The header value may be
// hex (optionally prefixed with "sha256=") or standard base64.
type HMACValidator struct {
	secrets      SecretProvider
	header       string
	scopeHeaders map[string]string
	now          func() time.Time

	checks   metric.Int64Counter
	duration metric.Float64Histogram
}

type HMACOption func(*HMACValidator)

// WithSignatureHeader sets the header read for every scope without its own header.
func WithSignatureHeader(header string) HMACOption {
	return func(v *HMACValidator) {
		if header = strings.TrimSpace(header); header != "" {
			v.header = header
		}
	}
}

// WithScopeHeader reads scope's signature from header, e.g. "verif-hash" for flutterwave.
func WithScopeHeader(scope, header string) HMACOption {
	return func(v *HMACValidator) {
		scope, header = normalizeScope(scope), strings.TrimSpace(header)
		if scope != "" && header != "" {
			v.scopeHeaders[scope] = header
		}
	}
}

func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACMeter counts verifications by scope and outcome.
func WithHMACMeter(m metric.Meter) HMACOption {
	return func(v *HMACValidator) {
		if m == nil {
			return
		}
		v.checks, _ = m.Int64Counter("webhooks.signature.checks",
			metric.WithDescription("Webhook signature verifications by outcome"))
		v.duration, _ = m.Float64Histogram("webhooks.signature.duration",
			metric.WithUnit("ms"),
			metric.WithDescription("Time spent resolving the secret and verifying a webhook signature"))
	}
}

func NewHMACValidator(secrets SecretProvider, opts ...HMACOption) *HMACValidator {
	v := &HMACValidator{
		secrets:      secrets,
		header:       defaultSignatureHeader,
		scopeHeaders: map[string]string{},
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// SignatureHeader returns the header read for scope.
func (v *HMACValidator) SignatureHeader(scope string) string {
	if h, ok := v.scopeHeaders[normalizeScope(scope)]; ok {
		return h
	}
	return v.header
}

// VerifyBody reports whether header carries a valid signature of body for scope.
func (v *HMACValidator) VerifyBody(ctx context.Context, scope string, header http.Header, body []byte) error {
	start := v.now()
	outcome, err := v.verify(ctx, scope, header, body)
	v.observe(ctx, scope, outcome, start)
	return err
}

func (v *HMACValidator) verify(ctx context.Context, scope string, header http.Header, body []byte) (string, error) {
	scope = normalizeScope(scope)
	if v == nil || v.secrets == nil || scope == "" {
		return "secret_unavailable", ErrSecretUnavailable
	}
	secret, err := v.secrets.GetSecret(ctx, scope)
	if err != nil || secret == "" {
		return "secret_unavailable", ErrSecretUnavailable
	}

	raw := strings.TrimSpace(header.Get(v.SignatureHeader(scope)))
	if raw == "" {
		return "signature_missing", ErrSignatureMissing
	}
	got, ok := decodeSignature(raw)
	if !ok {
		return "signature_encoding", ErrSignatureInvalid
	}
	if !hmac.Equal(got, ComputeHMAC([]byte(secret), body)) {
		return "signature_mismatch", ErrSignatureInvalid
	}
	return "ok", nil
}

func (v *HMACValidator) observe(ctx context.Context, scope, outcome string, start time.Time) {
	if v == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("scope", normalizeScope(scope)), attribute.String("outcome", outcome))
	if v.checks != nil {
		v.checks.Add(ctx, 1, attrs)
	}
	if v.duration != nil {
		v.duration.Record(ctx, float64(v.now().Sub(start))/float64(time.Millisecond), attrs)
	}
}

// ComputeHMAC returns HMAC-SHA256(secret, message).
func ComputeHMAC(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return mac.Sum(nil)
}

func decodeSignature(value string) ([]byte, bool) {
	value = strings.TrimPrefix(value, "sha256=")
	if b, err := hex.DecodeString(value); err == nil && len(b) == sha256.Size {
		return b, true
	}
	if b, err := base64.StdEncoding.DecodeString(value); err == nil {
		return b, true
	}
	return nil, false
}

func normalizeScope(scope string) string {
	return strings.ToLower(strings.TrimSpace(scope))
}
