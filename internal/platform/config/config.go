package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultEnvironment         = "local"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultShutdownTimeout     = 20 * time.Second
	defaultUploadURLTTL        = 15 * time.Minute
	defaultCatalogCacheTTL     = 5 * time.Minute
	defaultPSPTimeout          = 15 * time.Second
	defaultPaystackBaseURL     = "https://api.paystack.co"
	defaultFlutterwaveBaseURL  = "https://api.flutterwave.com"
	defaultMonnifyBaseURL      = "https://api.monnify.com"
	defaultAccessTokenTTL      = 15 * time.Minute
	defaultRefreshTokenTTL     = 7 * 24 * time.Hour
	defaultResetTokenTTL       = time.Hour
	defaultTokenIssuer         = "storefront-api"
	defaultFrontendURL         = "http://localhost:3000"
	defaultSignatureHeader     = "X-Signature"
	defaultAuthPerMinute       = 30
	defaultAuthBurst           = 10
	defaultWebhookPerMinute    = 600
	defaultWebhookBurst        = 60
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyBackend  = "firestore"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultIdempotencyBatch    = 200
	defaultAbandonedOrderTTL   = 2 * time.Hour
	defaultSweepInterval       = 15 * time.Minute
	defaultCurrency            = "NGN"
	defaultReferencePrefix     = "ORD-"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	PubSub      PubSubConfig
	Redis       RedisConfig
	Secrets     SecretsConfig
	PSP         PSPConfig
	Auth        AuthConfig
	Webhooks    WebhookConfig
	RateLimits  RateLimitConfig
	Idempotency IdempotencyConfig
	Orders      OrderConfig
	CORS        CORSConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	Environment     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirestoreConfig selects the project and database. An empty DatabaseID uses the default database.
type FirestoreConfig struct {
	ProjectID    string
	DatabaseID   string
	EmulatorHost string
}

// StorageConfig names the product image bucket. Upload URLs are signed with the key in
// CredentialsFile, or through IAM as SignerEmail when no key file is given. Uploads are disabled
// when the bucket or both signing options are empty.
type StorageConfig struct {
	AssetsBucket    string
	CredentialsFile string
	SignerEmail     string
	UploadURLTTL    time.Duration
	PublicBaseURL   string
	MaxUploadBytes  int64
}

// PubSubConfig names the topics used for order notifications and outbound mail.
// An empty NotificationsTopic keeps notifications in-process.
type PubSubConfig struct {
	ProjectID                 string
	NotificationsTopic        string
	NotificationsSubscription string
	MailTopic                 string
}

// RedisConfig enables the catalog read cache when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

// SecretsConfig configures Secret Manager lookups for secret:// references.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
}

// PSPConfig collects credentials for payment gateways. A gateway without credentials is not registered.
type PSPConfig struct {
	Timeout     time.Duration
	CallbackURL string
	Paystack    GatewayCredentials
	Flutterwave GatewayCredentials
	Monnify     MonnifyCredentials
	Stripe      StripeCredentials
}

// GatewayCredentials holds a bearer secret and API base for REST gateways.
type GatewayCredentials struct {
	SecretKey string
	BaseURL   string
}

// MonnifyCredentials holds Monnify's basic-auth pair and contract.
type MonnifyCredentials struct {
	APIKey       string
	SecretKey    string
	ContractCode string
	BaseURL      string
}

// StripeCredentials holds Stripe API and webhook signing secrets.
type StripeCredentials struct {
	APIKey        string
	WebhookSecret string
}

// AuthConfig controls token issuance and password resets.
type AuthConfig struct {
	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	ResetTokenTTL      time.Duration
	Issuer             string
	CookieDomain       string
	CookieSecure       bool
	FrontendURL        string
}

// WebhookConfig contains gateway webhook signing parameters. Secrets are keyed by gateway name.
type WebhookConfig struct {
	SignatureHeader string
	// ScopeHeaders overrides SignatureHeader per gateway, e.g. flutterwave=verif-hash.
	ScopeHeaders map[string]string
	Secrets      map[string]string
}

// RateLimitConfig controls request throttling on sensitive routes.
type RateLimitConfig struct {
	AuthPerMinute    int
	AuthBurst        int
	WebhookPerMinute int
	WebhookBurst     int
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	// Backend is "firestore" (default) or "redis". Redis requires Redis.Addr.
	Backend          string
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// OrderConfig controls order creation and abandoned checkout cleanup.
type OrderConfig struct {
	Currency        string
	ReferencePrefix string
	AbandonedTTL    time.Duration
	SweepInterval   time.Duration
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Values in the map take precedence over the OS environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks secret fields (e.g. "PSP.Stripe.APIKey", "Webhooks.Secrets[paystack]")
// that must resolve to a non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// EnvironmentValues returns the effective environment after applying Load's precedence rules
// (dotenv < OS env < explicit map). main uses it to build the secret fetcher before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if ok && strings.TrimSpace(key) != "" {
				values[strings.TrimSpace(key)] = value
			}
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables and Secret Manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	if options.secret == nil {
		options.secret = SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		})
	}

	values, err := EnvironmentValues(opts...)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			Environment:     strings.ToLower(stringWithDefault(lookup, "API_SERVER_ENVIRONMENT", defaultEnvironment)),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			DatabaseID:   stringWithDefault(lookup, "API_FIRESTORE_DATABASE_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			AssetsBucket:    stringWithDefault(lookup, "API_STORAGE_ASSETS_BUCKET", ""),
			CredentialsFile: stringWithDefault(lookup, "API_STORAGE_CREDENTIALS_FILE", ""),
			SignerEmail:     stringWithDefault(lookup, "API_STORAGE_SIGNER_EMAIL", ""),
			UploadURLTTL:    durationWithDefault(lookup, "API_STORAGE_UPLOAD_URL_TTL", defaultUploadURLTTL),
			PublicBaseURL:   stringWithDefault(lookup, "API_STORAGE_PUBLIC_BASE_URL", "https://storage.googleapis.com"),
			MaxUploadBytes:  int64(intWithDefault(lookup, "API_STORAGE_MAX_UPLOAD_BYTES", 5<<20)),
		},
		PubSub: PubSubConfig{
			ProjectID:                 stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			NotificationsTopic:        stringWithDefault(lookup, "API_PUBSUB_NOTIFICATIONS_TOPIC", ""),
			NotificationsSubscription: stringWithDefault(lookup, "API_PUBSUB_NOTIFICATIONS_SUBSCRIPTION", ""),
			MailTopic:                 stringWithDefault(lookup, "API_PUBSUB_MAIL_TOPIC", ""),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
			CacheTTL: durationWithDefault(lookup, "API_REDIS_CACHE_TTL", defaultCatalogCacheTTL),
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "API_SECRETS_PROJECT_ID", ""),
			FallbackFile: stringWithDefault(lookup, "API_SECRETS_FALLBACK_FILE", ".secrets.local"),
		},
		PSP: PSPConfig{
			Timeout:     durationWithDefault(lookup, "API_PSP_TIMEOUT", defaultPSPTimeout),
			CallbackURL: stringWithDefault(lookup, "API_PSP_CALLBACK_URL", ""),
			Paystack: GatewayCredentials{
				SecretKey: stringWithDefault(lookup, "API_PSP_PAYSTACK_SECRET_KEY", ""),
				BaseURL:   stringWithDefault(lookup, "API_PSP_PAYSTACK_BASE_URL", defaultPaystackBaseURL),
			},
			Flutterwave: GatewayCredentials{
				SecretKey: stringWithDefault(lookup, "API_PSP_FLUTTERWAVE_SECRET_KEY", ""),
				BaseURL:   stringWithDefault(lookup, "API_PSP_FLUTTERWAVE_BASE_URL", defaultFlutterwaveBaseURL),
			},
			Monnify: MonnifyCredentials{
				APIKey:       stringWithDefault(lookup, "API_PSP_MONNIFY_API_KEY", ""),
				SecretKey:    stringWithDefault(lookup, "API_PSP_MONNIFY_SECRET_KEY", ""),
				ContractCode: stringWithDefault(lookup, "API_PSP_MONNIFY_CONTRACT_CODE", ""),
				BaseURL:      stringWithDefault(lookup, "API_PSP_MONNIFY_BASE_URL", defaultMonnifyBaseURL),
			},
			Stripe: StripeCredentials{
				APIKey:        stringWithDefault(lookup, "API_PSP_STRIPE_API_KEY", ""),
				WebhookSecret: stringWithDefault(lookup, "API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			},
		},
		Auth: AuthConfig{
			AccessTokenSecret:  stringWithDefault(lookup, "API_AUTH_ACCESS_TOKEN_SECRET", ""),
			RefreshTokenSecret: stringWithDefault(lookup, "API_AUTH_REFRESH_TOKEN_SECRET", ""),
			AccessTokenTTL:     durationWithDefault(lookup, "API_AUTH_ACCESS_TOKEN_TTL", defaultAccessTokenTTL),
			RefreshTokenTTL:    durationWithDefault(lookup, "API_AUTH_REFRESH_TOKEN_TTL", defaultRefreshTokenTTL),
			ResetTokenTTL:      durationWithDefault(lookup, "API_AUTH_RESET_TOKEN_TTL", defaultResetTokenTTL),
			Issuer:             stringWithDefault(lookup, "API_AUTH_ISSUER", defaultTokenIssuer),
			CookieDomain:       stringWithDefault(lookup, "API_AUTH_COOKIE_DOMAIN", ""),
			CookieSecure:       boolWithDefault(lookup, "API_AUTH_COOKIE_SECURE", true),
			FrontendURL:        strings.TrimRight(stringWithDefault(lookup, "API_AUTH_FRONTEND_URL", defaultFrontendURL), "/"),
		},
		Webhooks: WebhookConfig{
			SignatureHeader: stringWithDefault(lookup, "API_WEBHOOK_SIGNATURE_HEADER", defaultSignatureHeader),
			ScopeHeaders:    mapWithDefault(lookup, "API_WEBHOOK_SIGNATURE_HEADERS"),
			Secrets:         mapWithDefault(lookup, "API_WEBHOOK_SECRETS"),
		},
		RateLimits: RateLimitConfig{
			AuthPerMinute:    intWithDefault(lookup, "API_RATELIMIT_AUTH_PER_MIN", defaultAuthPerMinute),
			AuthBurst:        intWithDefault(lookup, "API_RATELIMIT_AUTH_BURST", defaultAuthBurst),
			WebhookPerMinute: intWithDefault(lookup, "API_RATELIMIT_WEBHOOK_PER_MIN", defaultWebhookPerMinute),
			WebhookBurst:     intWithDefault(lookup, "API_RATELIMIT_WEBHOOK_BURST", defaultWebhookBurst),
		},
		Idempotency: IdempotencyConfig{
			Backend:          strings.ToLower(stringWithDefault(lookup, "API_IDEMPOTENCY_BACKEND", defaultIdempotencyBackend)),
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
		Orders: OrderConfig{
			Currency:        strings.ToUpper(stringWithDefault(lookup, "API_ORDERS_CURRENCY", defaultCurrency)),
			ReferencePrefix: stringWithDefault(lookup, "API_ORDERS_REFERENCE_PREFIX", defaultReferencePrefix),
			AbandonedTTL:    durationWithDefault(lookup, "API_ORDERS_ABANDONED_TTL", defaultAbandonedOrderTTL),
			SweepInterval:   durationWithDefault(lookup, "API_ORDERS_SWEEP_INTERVAL", defaultSweepInterval),
		},
		CORS: CORSConfig{
			AllowedOrigins: csvWithDefault(lookup, "API_CORS_ALLOWED_ORIGINS"),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = stringWithDefault(lookup, "GOOGLE_CLOUD_PROJECT", "")
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Secrets.ProjectID == "" {
		cfg.Secrets.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.PSP.CallbackURL == "" {
		cfg.PSP.CallbackURL = cfg.Auth.FrontendURL + "/payment/verify"
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{cfg.Auth.FrontendURL}
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Redis.Password", &cfg.Redis.Password},
		{"PSP.Paystack.SecretKey", &cfg.PSP.Paystack.SecretKey},
		{"PSP.Flutterwave.SecretKey", &cfg.PSP.Flutterwave.SecretKey},
		{"PSP.Monnify.APIKey", &cfg.PSP.Monnify.APIKey},
		{"PSP.Monnify.SecretKey", &cfg.PSP.Monnify.SecretKey},
		{"PSP.Stripe.APIKey", &cfg.PSP.Stripe.APIKey},
		{"PSP.Stripe.WebhookSecret", &cfg.PSP.Stripe.WebhookSecret},
		{"Auth.AccessTokenSecret", &cfg.Auth.AccessTokenSecret},
		{"Auth.RefreshTokenSecret", &cfg.Auth.RefreshTokenSecret},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}
	for gateway, value := range cfg.Webhooks.Secrets {
		secret, err := resolveSecret(ctx, value, options.secret)
		if err != nil {
			return Config{}, err
		}
		cfg.Webhooks.Secrets[gateway] = secret
		resolved[fmt.Sprintf("Webhooks.Secrets[%s]", gateway)] = strings.TrimSpace(secret)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var invalid []string
	require := func(ok bool, field string) {
		if !ok {
			invalid = append(invalid, field)
		}
	}

	require(cfg.Server.Port != "", "Server.Port")
	require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	require(cfg.Auth.AccessTokenSecret != "", "Auth.AccessTokenSecret")
	require(cfg.Auth.RefreshTokenSecret != "", "Auth.RefreshTokenSecret")
	if cfg.Auth.AccessTokenSecret != "" {
		require(cfg.Auth.AccessTokenSecret != cfg.Auth.RefreshTokenSecret, "Auth.RefreshTokenSecret")
	}
	require(cfg.Auth.AccessTokenTTL > 0, "Auth.AccessTokenTTL")
	require(cfg.Auth.RefreshTokenTTL > cfg.Auth.AccessTokenTTL, "Auth.RefreshTokenTTL")
	require(cfg.PSP.Timeout > 0, "PSP.Timeout")
	require(len(cfg.Orders.Currency) == 3, "Orders.Currency")
	require(strings.TrimSpace(cfg.Orders.ReferencePrefix) != "", "Orders.ReferencePrefix")
	require(cfg.Orders.AbandonedTTL > 0, "Orders.AbandonedTTL")
	require(cfg.Orders.SweepInterval > 0, "Orders.SweepInterval")
	require(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	switch cfg.Idempotency.Backend {
	case "firestore":
	case "redis":
		require(strings.TrimSpace(cfg.Redis.Addr) != "", "Redis.Addr")
	default:
		require(false, "Idempotency.Backend")
	}
	require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	require(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")
	require(cfg.RateLimits.AuthPerMinute > 0, "RateLimits.AuthPerMinute")
	require(cfg.RateLimits.WebhookPerMinute > 0, "RateLimits.WebhookPerMinute")
	if cfg.PubSub.NotificationsTopic != "" {
		require(cfg.PubSub.NotificationsSubscription != "", "PubSub.NotificationsSubscription")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}
