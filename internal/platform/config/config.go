package config

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
)

const (
	defaultEnvFile                = ".env"
	defaultPort                   = "8080"
	defaultReadTimeout            = 15 * time.Second
	defaultWriteTimeout           = 30 * time.Second
	defaultIdleTimeout            = 120 * time.Second
	defaultSecurityEnvironment    = "local"
	defaultOIDCJWKSURL            = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer         = "https://accounts.google.com"
	defaultSecurityIAPIssuer      = "https://cloud.google.com/iap"
	defaultIdempotencyHeader      = "Idempotency-Key"
	defaultIdempotencyTTL         = 24 * time.Hour
	defaultIdempotencyInterval    = time.Hour
	defaultIdempotencyBatchSize   = 200
	defaultInventoryBackend       = InventoryBackendFirestore
	defaultRedisAddr              = "localhost:6379"
	defaultOrderCurrency          = "XOF"
	defaultOrderNumberPrefix      = "SMT"
	defaultNotificationTransport  = NotificationTransportLog
	defaultNotificationTopic      = "order-confirmations"
	defaultNotificationQueueSize  = 256
	defaultNotificationWorkers    = 2
	defaultNotificationTimeout    = 10 * time.Second
	defaultBreakerMaxFailures     = 5
	defaultBreakerOpenTimeout     = 30 * time.Second
	defaultNotificationLocale     = "fr"
	defaultNotificationStoreName  = "SenMedicalTech"
	defaultPaymentMethodsFallback = "card,transfer,cash"
)

// Inventory backends.
const (
	InventoryBackendFirestore = "firestore"
	InventoryBackendRedis     = "redis"
	InventoryBackendMemory    = "memory"
)

// Notification transports.
const (
	NotificationTransportPubSub = "pubsub"
	NotificationTransportKafka  = "kafka"
	NotificationTransportLog    = "log"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Security      SecurityConfig
	Idempotency   IdempotencyConfig
	Inventory     InventoryConfig
	Orders        OrdersConfig
	Notifications NotificationsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
	// Callers lists the service account emails allowed on /internal routes. Empty allows any
	// caller holding a valid token.
	Callers []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// InventoryConfig selects the stock ledger backend. The memory backend also keeps orders
// and counters in process and is meant for local runs.
type InventoryConfig struct {
	Backend  string
	Redis    RedisConfig
	SeedFile string
}

// RedisConfig holds connection settings for the Redis ledger.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// OrdersConfig controls checkout and status rules.
type OrdersConfig struct {
	StrictStatus          bool
	AllowedPaymentMethods []string
	Currency              string
	NumberPrefix          string
}

// NotificationsConfig controls the confirmation dispatcher and its transport.
type NotificationsConfig struct {
	Transport     string
	Topic         string
	Brokers       []string
	QueueSize     int
	Workers       int
	SendTimeout   time.Duration
	Breaker       BreakerConfig
	DefaultLocale string
	StoreName     string
}

// BreakerConfig tunes the circuit breaker wrapped around the notification transport.
type BreakerConfig struct {
	MaxFailures int
	OpenTimeout time.Duration
}

// SecretResolver resolves secret:// references, typically against Secret Manager.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
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

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// WithEnvFile overrides the .env file path. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver resolves secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets names secret-backed fields (e.g. "Inventory.Redis.Password") that
// must resolve to a value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets panics with *MissingSecretsError instead of returning it.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissingSecrets = true }
}

// EnvironmentValues returns the merged environment Load would see (.env < process env <
// explicit map), so the secret fetcher can be built before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	env, err := newEnvironment(newLoaderOptions(opts))
	if err != nil {
		return nil, err
	}
	return env.flatten(), nil
}

// Load builds the service configuration from defaults, .env, the environment and secret
// references, then validates it.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	env, err := newEnvironment(options)
	if err != nil {
		return Config{}, err
	}

	cfg := fromEnvironment(env)
	applyDerivedDefaults(&cfg)

	resolved := make(map[string]string)
	for name, field := range secretFields(&cfg) {
		value, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = value
		resolved[name] = strings.TrimSpace(value)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	if missing := missingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func fromEnvironment(env environment) Config {
	return Config{
		Server: ServerConfig{
			Port:         env.text("API_SERVER_PORT", defaultPort),
			ReadTimeout:  env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.text("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.text("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.text("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.text("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Security: SecurityConfig{
			Environment: env.lower("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment),
			OIDC: OIDCConfig{
				JWKSURL:   env.text("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  env.text("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: env.pairs("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   env.list("API_SECURITY_OIDC_ISSUERS"),
				Callers:   env.list("API_SECURITY_OIDC_CALLERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           env.text("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Inventory: InventoryConfig{
			Backend: env.lower("API_INVENTORY_BACKEND", defaultInventoryBackend),
			Redis: RedisConfig{
				Addr:     env.text("API_INVENTORY_REDIS_ADDR", defaultRedisAddr),
				Password: env.text("API_INVENTORY_REDIS_PASSWORD", ""),
				DB:       env.integer("API_INVENTORY_REDIS_DB", 0),
			},
			SeedFile: env.text("API_INVENTORY_SEED_FILE", ""),
		},
		Orders: OrdersConfig{
			StrictStatus:          env.flag("API_ORDERS_STRICT_STATUS", true),
			AllowedPaymentMethods: env.list("API_ORDERS_PAYMENT_METHODS"),
			Currency:              strings.ToUpper(env.text("API_ORDERS_CURRENCY", defaultOrderCurrency)),
			NumberPrefix:          env.text("API_ORDERS_NUMBER_PREFIX", defaultOrderNumberPrefix),
		},
		Notifications: NotificationsConfig{
			Transport:   env.lower("API_NOTIFICATIONS_TRANSPORT", defaultNotificationTransport),
			Topic:       env.text("API_NOTIFICATIONS_TOPIC", defaultNotificationTopic),
			Brokers:     env.list("API_NOTIFICATIONS_KAFKA_BROKERS"),
			QueueSize:   env.integer("API_NOTIFICATIONS_QUEUE_SIZE", defaultNotificationQueueSize),
			Workers:     env.integer("API_NOTIFICATIONS_WORKERS", defaultNotificationWorkers),
			SendTimeout: env.duration("API_NOTIFICATIONS_SEND_TIMEOUT", defaultNotificationTimeout),
			Breaker: BreakerConfig{
				MaxFailures: env.integer("API_NOTIFICATIONS_BREAKER_MAX_FAILURES", defaultBreakerMaxFailures),
				OpenTimeout: env.duration("API_NOTIFICATIONS_BREAKER_OPEN_TIMEOUT", defaultBreakerOpenTimeout),
			},
			DefaultLocale: env.lower("API_NOTIFICATIONS_DEFAULT_LOCALE", defaultNotificationLocale),
			StoreName:     env.text("API_NOTIFICATIONS_STORE_NAME", defaultNotificationStoreName),
		},
	}
}

func applyDerivedDefaults(cfg *Config) {
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}

	oidc := &cfg.Security.OIDC
	if len(oidc.Issuers) == 0 {
		oidc.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if oidc.Audience == "" {
		oidc.Audience = oidc.Audiences[cfg.Security.Environment]
	}

	methods := cfg.Orders.AllowedPaymentMethods
	if len(methods) == 0 {
		methods = strings.Split(defaultPaymentMethodsFallback, ",")
	}
	normalised := make([]string, 0, len(methods))
	for _, method := range methods {
		if method = strings.ToLower(method); !slices.Contains(normalised, method) {
			normalised = append(normalised, method)
		}
	}
	cfg.Orders.AllowedPaymentMethods = normalised
}

// secretFields maps config field names to values that may hold secret references.
func secretFields(cfg *Config) map[string]*string {
	return map[string]*string{
		"Inventory.Redis.Password": &cfg.Inventory.Redis.Password,
	}
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	ref := strings.TrimSpace(value)
	switch {
	case strings.HasPrefix(ref, "sm://"):
		ref = "secret://" + strings.TrimPrefix(ref, "sm://")
	case !strings.HasPrefix(ref, "secret://"):
		return value, nil
	}
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}
