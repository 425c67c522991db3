package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/storefront/api/internal/platform/secrets"
)

// ErrNotFound means neither Secret Manager nor the fallback file hold the secret.
var ErrNotFound = errors.New("secrets: secret not found")

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

type cached struct {
	value   string
	expires time.Time
}

// Fetcher resolves secret:// references. Values come from Secret Manager when a project is
// configured, otherwise (or when Secret Manager is unreachable or denies access) from a local
// name=value file. Resolved values are cached; unpinned ones expire after the cache TTL so
// rotations are picked up.
type Fetcher struct {
	remote     accessor
	ownsRemote bool
	dialOpts   []option.ClientOption
	project    string
	ttl        time.Duration
	now        func() time.Time
	logger     *zap.Logger

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	flight singleflight.Group
	mu     sync.RWMutex
	cache  map[string]cached

	latency metric.Float64Histogram
	hits    metric.Int64Counter
}

// Option configures NewFetcher.
type Option func(*Fetcher)

func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithProject sets the default project. A reference may name another with ?project=.
func WithProject(projectID string) Option {
	return func(f *Fetcher) { f.project = strings.TrimSpace(projectID) }
}

// WithFallbackFile sets the local secrets file. An empty path disables the fallback.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher) { f.fallbackPath = strings.TrimSpace(path) }
}

// WithCacheTTL expires unpinned values after ttl. Zero caches for the process lifetime.
func WithCacheTTL(ttl time.Duration) Option {
	return func(f *Fetcher) {
		if ttl >= 0 {
			f.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// WithMeter records fetch latency and cache hits on m instead of the global meter provider.
func WithMeter(m metric.Meter) Option {
	return func(f *Fetcher) { f.registerMetrics(m) }
}

// WithSecretManagerClient uses client instead of dialing one. The caller keeps ownership.
func WithSecretManagerClient(client accessor) Option {
	return func(f *Fetcher) { f.remote = client }
}

// WithClientOptions is passed to the Secret Manager client the fetcher dials itself.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(f *Fetcher) { f.dialOpts = append(f.dialOpts, opts...) }
}

// NewFetcher builds a Fetcher. A Secret Manager dial failure is logged and the fetcher carries on
// with the fallback file, so local development works without credentials.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		logger:       zap.NewNop(),
		now:          time.Now,
		fallbackPath: defaultFallbackPath,
		cache:        make(map[string]cached),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	if f.latency == nil {
		f.registerMetrics(otel.GetMeterProvider().Meter(meterName))
	}

	if f.remote == nil && f.project != "" {
		client, err := newSecretManagerClient(ctx, f.dialOpts...)
		if err != nil {
			f.logger.Warn("secret manager unavailable, using fallback file only", zap.Error(err))
		} else {
			f.remote, f.ownsRemote = client, true
		}
	}
	return f, nil
}

func (f *Fetcher) registerMetrics(m metric.Meter) {
	if m == nil {
		return
	}
	var err error
	if f.latency, err = m.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency by source"),
	); err != nil {
		f.logger.Warn("secrets latency metric", zap.Error(err))
	}
	if f.hits, err = m.Int64Counter("secrets.fetch.cache_hits",
		metric.WithDescription("Secret resolutions answered from cache"),
	); err != nil {
		f.logger.Warn("secrets cache metric", zap.Error(err))
	}
}

// Close releases a Secret Manager client dialed by NewFetcher.
func (f *Fetcher) Close() error {
	if f == nil || !f.ownsRemote || f.remote == nil {
		return nil
	}
	return f.remote.Close()
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value behind ref. Concurrent lookups of one uncached reference share a
// single Secret Manager call.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := f.now()
	ref, err := parseReference(raw)
	if err != nil {
		return "", err
	}
	if value, ok := f.lookup(ref.key(), start); ok {
		if f.hits != nil {
			f.hits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", ref.masked())))
		}
		f.observe(ctx, start, "cache")
		return value, nil
	}

	v, err, _ := f.flight.Do(ref.key(), func() (any, error) {
		value, source, err := f.fetch(ctx, ref)
		if err != nil {
			f.observe(ctx, start, "error")
			return "", err
		}
		f.remember(ref, value)
		f.observe(ctx, start, source)
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (f *Fetcher) fetch(ctx context.Context, ref reference) (string, string, error) {
	project := ref.project
	if project == "" {
		project = f.project
	}
	if project != "" && f.remote != nil {
		resp, err := f.remote.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: ref.resource(project)})
		switch {
		case err == nil && resp.GetPayload() != nil:
			return string(resp.GetPayload().GetData()), "remote", nil
		case err == nil:
			return "", "", fmt.Errorf("secrets: %s has an empty payload", ref)
		case !fallbackEligible(err):
			return "", "", fmt.Errorf("secrets: fetch %s: %w", ref, err)
		}
		f.logger.Debug("secret manager lookup failed, trying fallback file",
			zap.String("secret", ref.masked()), zap.Error(err))
	}

	value, err := f.fromFile(ref)
	if err != nil {
		return "", "", err
	}
	return value, "fallback", nil
}

func (f *Fetcher) lookup(key string, now time.Time) (string, bool) {
	f.mu.RLock()
	entry, ok := f.cache[key]
	f.mu.RUnlock()
	if !ok || (!entry.expires.IsZero() && !now.Before(entry.expires)) {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) remember(ref reference, value string) {
	entry := cached{value: value}
	if f.ttl > 0 && !ref.pinned() {
		entry.expires = f.now().Add(f.ttl)
	}
	f.mu.Lock()
	f.cache[ref.key()] = entry
	f.mu.Unlock()
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	if f.latency == nil {
		return
	}
	ms := float64(f.now().Sub(start)) / float64(time.Millisecond)
	f.latency.Record(ctx, ms, metric.WithAttributes(attribute.String("source", source)))
}

func (f *Fetcher) fromFile(ref reference) (string, error) {
	f.fallbackOnce.Do(func() {
		f.fallback, f.fallbackErr = readFallbackFile(f.fallbackPath)
	})
	if f.fallbackErr != nil {
		return "", f.fallbackErr
	}
	if value, ok := f.fallback[ref.key()]; ok {
		return value, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
}

// readFallbackFile parses lines of the form secret://name[?version=N]=value. Blank lines and
// lines starting with # are skipped. A missing file is an empty set.
func readFallbackFile(path string) (map[string]string, error) {
	values := map[string]string{}
	if path == "" {
		return values, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: open fallback file %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		ref, err := parseReference(name)
		if err != nil {
			continue
		}
		values[ref.key()] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("secrets: read fallback file %s: %w", path, err)
	}
	return values, nil
}

// fallbackEligible lists Secret Manager failures that should not stop a local run.
func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded, codes.NotFound:
		return true
	}
	return false
}
