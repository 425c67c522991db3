package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/api/internal/platform/config"
	"github.com/storefront/api/internal/platform/observability"
	"github.com/storefront/api/internal/repositories"
	"github.com/storefront/api/internal/services"
)

// readinessCacheTTL bounds how often load balancer probes reach Firestore, Redis and Pub/Sub.
const readinessCacheTTL = 2 * time.Second

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Auth     services.AuthService
	Catalog  services.CatalogService
	Cart     services.CartService
	Orders   services.OrderService
	Payments services.PaymentService
	System   services.SystemService
}

// Infrastructure carries the adapters built by main around external systems. Optional members
// left nil disable the feature that needs them (image uploads, catalog cache, payments).
type Infrastructure struct {
	Tokens    services.TokenIssuer
	Passwords services.PasswordHasher
	Mailer    services.Mailer
	Cache     services.ProductCache
	Uploader  services.ImageUploader
	Events    services.OrderEventPublisher
	Gateways  services.PaymentGateways
	Webhooks  services.WebhookSignatureVerifier
	Build     services.BuildInfo
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, cfg, reg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (Services, error) {
	var svc Services

	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}

	authSvc, err := services.NewAuthService(services.AuthServiceDeps{
		Accounts:    reg.Accounts(),
		Tokens:      infra.Tokens,
		Passwords:   infra.Passwords,
		Mailer:      infra.Mailer,
		FrontendURL: cfg.Auth.FrontendURL,
		ResetTTL:    cfg.Auth.ResetTokenTTL,
		Clock:       clock,
		Logger:      observability.NewEventLogger(logger.Named("auth")),
	})
	if err != nil {
		return svc, fmt.Errorf("auth service: %w", err)
	}
	svc.Auth = authSvc

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog:         reg.Catalog(),
		Cache:           infra.Cache,
		Uploader:        infra.Uploader,
		DefaultCurrency: cfg.Orders.Currency,
		Clock:           clock,
		Logger:          observability.NewEventLogger(logger.Named("catalog")),
	})
	if err != nil {
		return svc, fmt.Errorf("catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:    reg.Carts(),
		Products: catalogSvc,
		Clock:    clock,
		Logger:   observability.NewEventLogger(logger.Named("cart")),
	})
	if err != nil {
		return svc, fmt.Errorf("cart service: %w", err)
	}
	svc.Cart = cartSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders: reg.Orders(),
		Events: infra.Events,
		Clock:  clock,
		Logger: observability.NewEventLogger(logger.Named("orders")),
	})
	if err != nil {
		return svc, fmt.Errorf("order service: %w", err)
	}
	svc.Orders = orderSvc

	if infra.Gateways != nil {
		paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
			Orders:          reg.Orders(),
			Carts:           reg.Carts(),
			Products:        catalogSvc,
			Payments:        infra.Gateways,
			Webhooks:        infra.Webhooks,
			Events:          infra.Events,
			Currency:        cfg.Orders.Currency,
			ReferencePrefix: cfg.Orders.ReferencePrefix,
			CallbackURL:     cfg.PSP.CallbackURL,
			Clock:           clock,
			Logger:          observability.NewEventLogger(logger.Named("payments")),
		})
		if err != nil {
			return svc, fmt.Errorf("payment service: %w", err)
		}
		svc.Payments = paymentSvc
	}

	if health := reg.Health(); health != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: health,
			Clock:            clock,
			Build:            infra.Build,
			CacheTTL:         readinessCacheTTL,
		})
		if err != nil {
			return svc, fmt.Errorf("system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
