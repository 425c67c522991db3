package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxKeyLength      = 255
)

// Logger receives store failures. observability.PrintfAdapter satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	requireKey bool
	clock      func() time.Time
	logger     Logger
}

type MiddlewareOption func(*middlewareConfig)

func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL sets how long a key is held, pending or completed.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithRequiredKey answers 400 when the header is missing instead of running the handler.
func WithRequiredKey() MiddlewareOption {
	return func(cfg *middlewareConfig) { cfg.requireKey = true }
}

func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) { cfg.logger = logger }
}

func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware replays the first response for a repeated key. Keys are scoped to the authenticated
// account, so it must be mounted after authentication. 5xx responses release the key so the
// client can retry.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	cfg := middlewareConfig{headerName: defaultHeaderName, ttl: DefaultTTL, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return func(next http.Handler) http.Handler {
		return &guard{store: store, cfg: cfg, next: next}
	}
}

type guard struct {
	store Store
	cfg   middlewareConfig
	next  http.Handler
}

var (
	errKeyRequired = httpx.BadRequest("idempotency_key_required", "missing idempotency key header")
	errKeyTooLong  = httpx.BadRequest("idempotency_key_invalid", "idempotency key too long")
	errUnreadable  = httpx.BadRequest("invalid_body", "unable to read request body")
	errKeyConflict = httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict)
	errInProgress  = httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict)
	errReserve     = httpx.NewError("idempotency_store_error", "unable to process idempotency key", http.StatusInternalServerError)
	errPersist     = httpx.NewError("idempotency_store_error", "unable to persist idempotency state", http.StatusInternalServerError)
)

func (g *guard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(g.cfg.headerName))
	switch {
	case key == "" && g.cfg.requireKey:
		httpx.WriteError(ctx, w, errKeyRequired)
		return
	case key == "":
		g.next.ServeHTTP(w, r)
		return
	case len(key) > maxKeyLength:
		httpx.WriteError(ctx, w, errKeyTooLong)
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		httpx.WriteError(ctx, w, errUnreadable)
		return
	}
	owner := requester(r)
	scoped := key + "|" + owner
	fingerprint := fingerprintOf(r, body, owner)

	res, err := g.store.Reserve(ctx, scoped, fingerprint, g.now(), g.cfg.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		httpx.WriteError(ctx, w, errKeyConflict)
		return
	case err != nil:
		g.logf("idempotency: reserve failed: %v", err)
		httpx.WriteError(ctx, w, errReserve)
		return
	case res.State == Replay:
		replay(w, res.Record)
		return
	case res.State == InFlight:
		httpx.WriteError(ctx, w, errInProgress)
		return
	}

	buf := &bufferedResponse{header: make(http.Header)}
	g.next.ServeHTTP(buf, r)

	if buf.code() >= http.StatusInternalServerError {
		g.release(r, scoped, "server error")
	} else {
		resp := Response{Status: buf.code(), Headers: buf.header.Clone(), Body: buf.body.Bytes()}
		if err := g.store.SaveResponse(ctx, scoped, fingerprint, resp, g.now(), g.cfg.ttl); err != nil {
			g.logf("idempotency: save response failed: %v", err)
			g.release(r, scoped, "save failure")
			httpx.WriteError(ctx, w, errPersist)
			return
		}
	}
	if err := buf.flushTo(w); err != nil {
		g.logf("idempotency: flush response failed: %v", err)
	}
}

func (g *guard) now() time.Time { return g.cfg.clock().UTC() }

func (g *guard) release(r *http.Request, scoped, reason string) {
	if err := g.store.Release(r.Context(), scoped); err != nil {
		g.logf("idempotency: release after %s failed: %v", reason, err)
	}
}

func (g *guard) logf(format string, args ...any) {
	if g.cfg.logger != nil {
		g.cfg.logger.Printf(format, args...)
	}
}

// bufferBody reads the body for fingerprinting and puts an equivalent reader back.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requester(r *http.Request) string {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity.AccountID == "" {
		return "anonymous"
	}
	return identity.Kind + ":" + identity.AccountID
}

// fingerprintOf identifies the request a key was first used for.
func fingerprintOf(r *http.Request, body []byte, owner string) string {
	return digest([]byte(strings.Join([]string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		owner,
		digest(body),
	}, "|")))
}

func replay(w http.ResponseWriter, rec Record) {
	h := w.Header()
	for name, values := range rec.Header {
		h[name] = append([]string(nil), values...)
	}
	h.Set(replayHeaderName, "true")
	code := rec.Code
	if code == 0 {
		code = http.StatusOK
	}
	w.WriteHeader(code)
	if len(rec.Body) > 0 {
		_, _ = w.Write(rec.Body)
	}
}

// bufferedResponse holds the handler output until the record is saved.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(p)
}

func (b *bufferedResponse) code() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedResponse) flushTo(w http.ResponseWriter) error {
	dst := w.Header()
	for name, values := range b.header {
		dst[name] = values
	}
	w.WriteHeader(b.code())
	if b.body.Len() == 0 {
		return nil
	}
	_, err := b.body.WriteTo(w)
	return err
}
