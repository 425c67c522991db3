package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const metricNamespace = "github.com/storefront/api/internal/payments"

// Manager routes calls to the adapter registered for a gateway name and bounds each outbound call.
type Manager struct {
	gateways map[string]Gateway
	timeout  time.Duration
	now      func() time.Time

	verifications metric.Int64Counter
	latency       metric.Float64Histogram
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*managerConfig)

type managerConfig struct {
	timeout time.Duration
	meter   metric.Meter
	clock   func() time.Time
}

// WithTimeout caps every Initialize and Verify call. Zero leaves the caller's deadline in charge.
func WithTimeout(d time.Duration) ManagerOption {
	return func(cfg *managerConfig) {
		cfg.timeout = d
	}
}

// WithMeter injects the OpenTelemetry meter for verification metrics.
func WithMeter(m metric.Meter) ManagerOption {
	return func(cfg *managerConfig) {
		cfg.meter = m
	}
}

// WithManagerClock overrides the clock used for latency measurements.
func WithManagerClock(clock func() time.Time) ManagerOption {
	return func(cfg *managerConfig) {
		cfg.clock = clock
	}
}

// NewManager constructs a Manager over the supplied gateways, keyed by Name().
func NewManager(gateways []Gateway, opts ...ManagerOption) (*Manager, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	cfg := managerConfig{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(metricNamespace)
	}

	registry := make(map[string]Gateway, len(gateways))
	for _, gw := range gateways {
		if gw == nil {
			return nil, errors.New("payments: nil gateway registration")
		}
		key := normaliseName(gw.Name())
		if key == "" {
			return nil, errors.New("payments: gateway name is required")
		}
		if _, exists := registry[key]; exists {
			return nil, fmt.Errorf("payments: gateway %q registered twice", key)
		}
		registry[key] = gw
	}

	m := &Manager{gateways: registry, timeout: cfg.timeout, now: cfg.clock}
	var err error
	if m.verifications, err = cfg.meter.Int64Counter("payments.verify.count",
		metric.WithDescription("Gateway verification calls by outcome"),
	); err != nil {
		return nil, fmt.Errorf("payments: register counter: %w", err)
	}
	if m.latency, err = cfg.meter.Float64Histogram("payments.verify.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of gateway verification calls"),
	); err != nil {
		return nil, fmt.Errorf("payments: register histogram: %w", err)
	}
	return m, nil
}

// Gateway returns the adapter registered under name.
func (m *Manager) Gateway(name string) (Gateway, error) {
	if m == nil {
		return nil, ErrUnsupportedGateway
	}
	gw, ok := m.gateways[normaliseName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGateway, name)
	}
	return gw, nil
}

// Names lists the registered gateways in sorted order.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.gateways))
	for name := range m.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Initialize opens a hosted session through the named gateway.
func (m *Manager) Initialize(ctx context.Context, gateway string, req InitializeRequest) (Session, error) {
	gw, err := m.Gateway(gateway)
	if err != nil {
		return Session{}, err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	session, err := gw.Initialize(ctx, req)
	if err != nil {
		return Session{}, classifyContextError(ctx, err)
	}
	session.Gateway = normaliseName(gw.Name())
	return session, nil
}

// Verify asks the named gateway for the outcome of reference.
func (m *Manager) Verify(ctx context.Context, gateway, reference string) (Verification, error) {
	gw, err := m.Gateway(gateway)
	if err != nil {
		return Verification{}, err
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return Verification{}, fmt.Errorf("%w: reference is required", ErrInvalidRequest)
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	start := m.now()
	result, err := gw.Verify(ctx, reference)
	err = classifyContextError(ctx, err)
	m.record(ctx, normaliseName(gw.Name()), start, result, err)
	if err != nil {
		return Verification{}, err
	}
	result.Gateway = normaliseName(gw.Name())
	if result.Reference == "" {
		result.Reference = reference
	}
	result.Success = result.Status == StatusSuccess
	return result, nil
}

// ParseWebhook delegates to the gateway's webhook parser.
func (m *Manager) ParseWebhook(ctx context.Context, gateway string, header http.Header, body []byte) (WebhookEvent, error) {
	gw, err := m.Gateway(gateway)
	if err != nil {
		return WebhookEvent{}, err
	}
	parser, ok := gw.(WebhookParser)
	if !ok {
		return WebhookEvent{}, fmt.Errorf("%w: %s does not accept webhooks", ErrUnsupportedGateway, gateway)
	}
	return parser.ParseWebhook(ctx, header, body)
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.timeout)
}

func (m *Manager) record(ctx context.Context, gateway string, start time.Time, result Verification, err error) {
	outcome := string(result.Status)
	switch {
	case errors.Is(err, ErrGatewayUnavailable):
		outcome = "unavailable"
	case err != nil:
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("gateway", gateway),
		attribute.String("outcome", outcome),
	)
	recordCtx := context.WithoutCancel(ctx)
	m.verifications.Add(recordCtx, 1, attrs)
	m.latency.Record(recordCtx, float64(m.now().Sub(start))/float64(time.Millisecond), attrs)
}

func classifyContextError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrGatewayUnavailable) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, ctxErr)
	}
	return err
}

func normaliseName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
