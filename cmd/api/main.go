package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/storefront/api/internal/di"
	"github.com/storefront/api/internal/handlers"
	"github.com/storefront/api/internal/notifications"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/cache"
	"github.com/storefront/api/internal/platform/config"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/platform/idempotency"
	"github.com/storefront/api/internal/platform/jobs"
	"github.com/storefront/api/internal/platform/observability"
	"github.com/storefront/api/internal/platform/secrets"
	platformstorage "github.com/storefront/api/internal/platform/storage"
	"github.com/storefront/api/internal/repositories"
	firestoreRepo "github.com/storefront/api/internal/repositories/firestore"
	"github.com/storefront/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	requiredSecrets := requiredSecretNames(envValues)
	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecrets...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	var probes []repositories.Probe

	var productCache *cache.Redis
	var redisClient *redis.Client
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisClient, err = cache.Dial(ctx, addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		productCache, err = cache.NewRedis(redisClient, cache.WithNamespace("catalog"), cache.WithTTL(cfg.Redis.CacheTTL))
		if err != nil {
			logger.Fatal("failed to initialise product cache", zap.Error(err))
		}
		probes = append(probes, repositories.Probe{Name: "redis", Check: productCache.Ping})
	}

	var pubsubClient *pubsub.Client
	if cfg.PubSub.NotificationsTopic != "" || cfg.PubSub.MailTopic != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
	}

	mailer, mailTopic := buildMailer(pubsubClient, cfg, logger)
	if mailTopic != nil {
		probes = append(probes, topicProbe("pubsub_mail", mailTopic))
	}

	relay, notifyTopic, err := buildRelay(pubsubClient, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise notification relay", zap.Error(err))
	}
	if notifyTopic != nil {
		probes = append(probes, topicProbe("pubsub_notifications", notifyTopic))
	}
	if err := relay.Start(ctx); err != nil {
		logger.Fatal("failed to start notification relay", zap.Error(err))
	}
	hub := notifications.NewHub(relay,
		notifications.WithHubLogger(logger.Named("notifications")),
		notifications.WithAllowedOrigins(cfg.CORS.AllowedOrigins),
	)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	registry, err := firestoreRepo.NewRegistry(firestoreProvider, probes...)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	uploader, closeSigner, err := buildUploader(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise storage signer", zap.Error(err))
	}
	defer func() {
		if err := closeSigner(); err != nil {
			logger.Warn("storage signer close error", zap.Error(err))
		}
	}()
	if uploader == nil {
		logger.Info("product image uploads disabled; storage bucket or signer not configured")
	}

	gateways, err := buildPaymentManager(cfg, logger.Named("payments"))
	if err != nil {
		logger.Fatal("failed to initialise payment gateways", zap.Error(err))
	}
	if gateways == nil {
		logger.Warn("no payment gateway configured; checkout disabled")
	}

	tokens, err := auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:  cfg.Auth.AccessTokenSecret,
		RefreshSecret: cfg.Auth.RefreshTokenSecret,
		AccessTTL:     cfg.Auth.AccessTokenTTL,
		RefreshTTL:    cfg.Auth.RefreshTokenTTL,
		Issuer:        cfg.Auth.Issuer,
	})
	if err != nil {
		logger.Fatal("failed to initialise token issuer", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(tokens)

	verifierOpts := []auth.HMACOption{
		auth.WithSignatureHeader(cfg.Webhooks.SignatureHeader),
		auth.WithHMACMeter(otel.GetMeterProvider().Meter("github.com/storefront/api/webhooks")),
	}
	for scope, header := range cfg.Webhooks.ScopeHeaders {
		verifierOpts = append(verifierOpts, auth.WithScopeHeader(scope, header))
	}
	webhookVerifier := auth.NewHMACValidator(auth.StaticSecrets(cfg.Webhooks.Secrets), verifierOpts...)

	infra := di.Infrastructure{
		Tokens:    tokens,
		Passwords: auth.NewPasswordHasher(0),
		Mailer:    mailer,
		Events:    relay,
		Webhooks:  webhookVerifier,
		Build:     buildInfo,
		Logger:    logger,
		Clock:     time.Now,
	}
	if productCache != nil {
		infra.Cache = productCache
	}
	if uploader != nil {
		infra.Uploader = uploader
	}
	if gateways != nil {
		infra.Gateways = gateways
	}

	container, err := di.NewContainer(ctx, cfg, registry, infra)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	svc := container.Services

	var idempotencyStore idempotency.Store = idempotency.NewFirestoreStore(firestoreProvider)
	if cfg.Idempotency.Backend == "redis" {
		redisStore, err := idempotency.NewRedisStore(redisClient, idempotency.WithKeyPrefix("storefront:idempotency:"))
		if err != nil {
			logger.Fatal("failed to initialise idempotency store", zap.Error(err))
		}
		idempotencyStore = redisStore
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	var backgroundWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupLogger := logger.Named("idempotency")
		runEvery(backgroundCtx, &backgroundWG, cfg.Idempotency.CleanupInterval, func(runCtx context.Context) {
			removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
			if err != nil {
				cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
				return
			}
			if removed > 0 {
				cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		})
	}
	if svc.Payments != nil && cfg.Orders.SweepInterval > 0 {
		sweepLogger := logger.Named("orders")
		runEvery(backgroundCtx, &backgroundWG, cfg.Orders.SweepInterval, func(runCtx context.Context) {
			removed, err := svc.Payments.PurgeAbandoned(runCtx, cfg.Orders.AbandonedTTL)
			if err != nil {
				sweepLogger.Error("abandoned order sweep error", zap.Error(err))
				return
			}
			if removed > 0 {
				sweepLogger.Info("abandoned orders removed", zap.Int("count", removed))
			}
		})
	}

	authHandlers := handlers.NewAuthHandlers(authenticator, svc.Auth,
		handlers.WithAuthCookie(cfg.Auth.CookieDomain, cfg.Auth.CookieSecure),
		handlers.WithAuthRateLimit(handlers.RateLimitMiddleware(cfg.RateLimits.AuthPerMinute, cfg.RateLimits.AuthBurst)),
	)
	catalogHandlers := handlers.NewCatalogHandlers(authenticator, svc.Catalog)
	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Cart)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, handlers.WithOrderNotifications(hub))

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		corsMiddleware(cfg),
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithRoutes(handlers.GroupAuth, authHandlers.Routes),
		handlers.WithRoutes(handlers.GroupProducts, catalogHandlers.ProductRoutes),
		handlers.WithRoutes(handlers.GroupCategories, catalogHandlers.CategoryRoutes),
		handlers.WithRoutes(handlers.GroupSubcategories, catalogHandlers.SubcategoryRoutes),
		handlers.WithRoutes(handlers.GroupCart, cartHandlers.Routes),
		handlers.WithRoutes(handlers.GroupOrders, orderHandlers.Routes),
		handlers.WithGroupMiddlewares(handlers.GroupWebhooks,
			handlers.RateLimitMiddleware(cfg.RateLimits.WebhookPerMinute, cfg.RateLimits.WebhookBurst)),
	}
	if svc.Payments != nil {
		paymentHandlers := handlers.NewPaymentHandlers(authenticator, svc.Payments,
			handlers.WithPaymentIdempotency(idempotencyMiddleware),
		)
		opts = append(opts,
			handlers.WithRoutes(handlers.GroupPayments, paymentHandlers.Routes),
			handlers.WithRoutes(handlers.GroupWebhooks, paymentHandlers.WebhookRoutes),
		)
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront api listening",
			zap.String("version", buildInfo.Version),
			zap.Strings("gateways", gatewayNames(gateways)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	backgroundCancel()
	backgroundWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := relay.Stop(shutdownCtx); err != nil {
		logger.Warn("notification relay stop error", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("firestore close error", zap.Error(err))
	}
	if pubsubClient != nil {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close error", zap.Error(err))
		}
	}
}

// runEvery calls fn on every tick until ctx is cancelled. Each run gets a one minute deadline.
func runEvery(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(ctx, time.Minute)
				fn(runCtx)
				cancel()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Server.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func buildMailer(client *pubsub.Client, cfg config.Config, logger *zap.Logger) (services.Mailer, *pubsub.Topic) {
	if client == nil || cfg.PubSub.MailTopic == "" {
		return jobs.NewLogMailer(logger.Named("mail")), nil
	}
	topic := client.Topic(cfg.PubSub.MailTopic)
	mailer, err := jobs.NewPubSubMailer(topic)
	if err != nil {
		logger.Warn("pubsub mailer unavailable; logging mail instead", zap.Error(err))
		return jobs.NewLogMailer(logger.Named("mail")), nil
	}
	return mailer, topic
}

func buildRelay(client *pubsub.Client, cfg config.Config, logger *zap.Logger) (notifications.Relay, *pubsub.Topic, error) {
	if client == nil || cfg.PubSub.NotificationsTopic == "" {
		return notifications.NewMemoryRelay(), nil, nil
	}
	if cfg.PubSub.NotificationsSubscription == "" {
		return nil, nil, errors.New("notifications subscription is required when a notifications topic is set")
	}
	topic := client.Topic(cfg.PubSub.NotificationsTopic)
	relay, err := notifications.NewPubSubRelay(topic, client.Subscription(cfg.PubSub.NotificationsSubscription),
		notifications.WithRelayLogger(logger.Named("notifications")),
	)
	if err != nil {
		return nil, nil, err
	}
	return relay, topic, nil
}

func topicProbe(name string, topic *pubsub.Topic) repositories.Probe {
	return repositories.Probe{
		Name: name,
		Check: func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s does not exist", topic.ID())
			}
			return nil
		},
	}
}

func buildUploader(ctx context.Context, cfg config.Config) (*platformstorage.Client, func() error, error) {
	noop := func() error { return nil }
	bucket := strings.TrimSpace(cfg.Storage.AssetsBucket)
	if bucket == "" {
		return nil, noop, nil
	}

	var signer platformstorage.Signer
	closeSigner := noop
	switch {
	case strings.TrimSpace(cfg.Storage.CredentialsFile) != "":
		keySigner, err := platformstorage.NewServiceAccountSignerFromFile(strings.TrimSpace(cfg.Storage.CredentialsFile))
		if err != nil {
			return nil, noop, err
		}
		signer = keySigner
	case strings.TrimSpace(cfg.Storage.SignerEmail) != "":
		iamSigner, err := platformstorage.NewIAMSigner(ctx, cfg.Storage.SignerEmail)
		if err != nil {
			return nil, noop, err
		}
		signer = iamSigner
		closeSigner = iamSigner.Close
	default:
		return nil, noop, nil
	}

	client, err := platformstorage.NewClient(signer, platformstorage.Config{
		Bucket:        bucket,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		ExpiresIn:     cfg.Storage.UploadURLTTL,
		MaxSize:       cfg.Storage.MaxUploadBytes,
	})
	if err != nil {
		_ = closeSigner()
		return nil, noop, err
	}
	return client, closeSigner, nil
}

// buildPaymentManager registers every gateway that has credentials. It returns nil when none do.
func buildPaymentManager(cfg config.Config, logger *zap.Logger) (*payments.Manager, error) {
	httpClient := &http.Client{Timeout: cfg.PSP.Timeout}
	var gateways []payments.Gateway

	if key := strings.TrimSpace(cfg.PSP.Paystack.SecretKey); key != "" {
		gw, err := payments.NewPaystack(payments.PaystackConfig{
			SecretKey:  key,
			BaseURL:    cfg.PSP.Paystack.BaseURL,
			HTTPClient: httpClient,
		})
		if err != nil {
			return nil, fmt.Errorf("paystack: %w", err)
		}
		gateways = append(gateways, gw)
	}
	if key := strings.TrimSpace(cfg.PSP.Flutterwave.SecretKey); key != "" {
		gw, err := payments.NewFlutterwave(payments.FlutterwaveConfig{
			SecretKey:  key,
			BaseURL:    cfg.PSP.Flutterwave.BaseURL,
			HTTPClient: httpClient,
		})
		if err != nil {
			return nil, fmt.Errorf("flutterwave: %w", err)
		}
		gateways = append(gateways, gw)
	}
	if monnify := cfg.PSP.Monnify; strings.TrimSpace(monnify.APIKey) != "" && strings.TrimSpace(monnify.SecretKey) != "" {
		gw, err := payments.NewMonnify(payments.MonnifyConfig{
			APIKey:       monnify.APIKey,
			SecretKey:    monnify.SecretKey,
			ContractCode: monnify.ContractCode,
			BaseURL:      monnify.BaseURL,
			HTTPClient:   httpClient,
		})
		if err != nil {
			return nil, fmt.Errorf("monnify: %w", err)
		}
		gateways = append(gateways, gw)
	}
	if key := strings.TrimSpace(cfg.PSP.Stripe.APIKey); key != "" {
		gw, err := payments.NewStripe(payments.StripeConfig{
			APIKey:        key,
			WebhookSecret: cfg.PSP.Stripe.WebhookSecret,
			Logger:        payments.StripeLogger(observability.NewEventLogger(logger.Named("stripe"))),
		})
		if err != nil {
			return nil, fmt.Errorf("stripe: %w", err)
		}
		gateways = append(gateways, gw)
	}

	if len(gateways) == 0 {
		return nil, nil
	}
	return payments.NewManager(gateways, payments.WithTimeout(cfg.PSP.Timeout))
}

func gatewayNames(manager *payments.Manager) []string {
	if manager == nil {
		return nil
	}
	return manager.Names()
}

func corsMiddleware(cfg config.Config) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", cfg.Idempotency.Header},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After", "X-Idempotent-Replay"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

func traceProjectID(cfg config.Config) string {
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	project := lookup("API_SECRETS_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIRESTORE_PROJECT_ID")
	}
	if project == "" {
		project = lookup("GOOGLE_CLOUD_PROJECT")
	}
	fallbackPath := lookup("API_SECRETS_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("API_SECRETS_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	if raw := lookup("API_SECRETS_CACHE_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("API_SECRETS_CACHE_TTL: %w", err)
		}
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets Load must resolve to non-empty values. Gateway keys are
// required only when the corresponding variable is set, so a reference that fails to resolve is fatal.
func requiredSecretNames(env map[string]string) []string {
	required := []string{
		"Auth.AccessTokenSecret",
		"Auth.RefreshTokenSecret",
	}

	optional := map[string]string{
		"API_REDIS_PASSWORD":             "Redis.Password",
		"API_PSP_PAYSTACK_SECRET_KEY":    "PSP.Paystack.SecretKey",
		"API_PSP_FLUTTERWAVE_SECRET_KEY": "PSP.Flutterwave.SecretKey",
		"API_PSP_MONNIFY_API_KEY":        "PSP.Monnify.APIKey",
		"API_PSP_MONNIFY_SECRET_KEY":     "PSP.Monnify.SecretKey",
		"API_PSP_STRIPE_API_KEY":         "PSP.Stripe.APIKey",
		"API_PSP_STRIPE_WEBHOOK_SECRET":  "PSP.Stripe.WebhookSecret",
	}
	webhookRaw := ""
	if env != nil {
		for key, name := range optional {
			if strings.TrimSpace(env[key]) != "" {
				required = append(required, name)
			}
		}
		webhookRaw = env["API_WEBHOOK_SECRETS"]
	}
	for gateway := range parseKeyValueList(webhookRaw) {
		required = append(required, fmt.Sprintf("Webhooks.Secrets[%s]", strings.ToLower(gateway)))
	}

	return uniqueStrings(required)
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	entries := strings.Split(raw, ",")
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
