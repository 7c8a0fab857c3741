package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/Babacarjopp/senmedicaltech/internal/platform/config"
	pfirestore "github.com/Babacarjopp/senmedicaltech/internal/platform/firestore"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/idempotency"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/jobs"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/observability"
	"github.com/Babacarjopp/senmedicaltech/internal/repositories"
	firestoreRepo "github.com/Babacarjopp/senmedicaltech/internal/repositories/firestore"
	"github.com/Babacarjopp/senmedicaltech/internal/repositories/memory"
	redisRepo "github.com/Babacarjopp/senmedicaltech/internal/repositories/redis"
	"github.com/Babacarjopp/senmedicaltech/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Inventory     services.InventoryService
	Counters      services.CounterService
	Orders        services.OrderService
	System        services.SystemService
	Notifications *services.AsyncNotificationDispatcher
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Idempotency  idempotency.Store

	closers []func(context.Context) error
}

// Option customises container construction, mostly for tests.
type Option func(*containerOptions)

type containerOptions struct {
	logger   *zap.Logger
	build    services.BuildInfo
	clock    func() time.Time
	registry repositories.Registry
	sender   services.OrderNotificationSender
}

// WithLogger sets the base logger every service logs through.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBuildInfo sets the version metadata reported by health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = build
	}
}

// WithClock overrides the clock shared by all services.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithRegistry skips backend selection and uses the given repositories.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *containerOptions) {
		o.registry = reg
	}
}

// WithNotificationSender skips transport selection and sends confirmations through sender.
// The sender is still wrapped in the circuit breaker.
func WithNotificationSender(sender services.OrderNotificationSender) Option {
	return func(o *containerOptions) {
		o.sender = sender
	}
}

// NewContainer constructs the runtime dependencies for the configured backends. The
// notification dispatcher is started; Close drains it and releases every client.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	options := containerOptions{
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	c := &Container{Config: cfg}
	events := observability.NewEventLogger(options.logger)

	transport, err := c.notificationSender(ctx, cfg, options)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	breaker, err := jobs.NewBreakerSender(transport, jobs.BreakerConfig{
		Name:                "notifications." + cfg.Notifications.Transport,
		ConsecutiveFailures: uint32(max(cfg.Notifications.Breaker.MaxFailures, 0)),
		Cooldown:            cfg.Notifications.Breaker.OpenTimeout,
		Logger:              events,
	})
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("build notification breaker: %w", err)
	}
	reg := options.registry
	if reg == nil {
		reg, err = c.registry(ctx, cfg)
		if err != nil {
			_ = c.Close(ctx)
			return nil, err
		}
		c.closers = append(c.closers, reg.Close)
	} else if c.Idempotency == nil {
		c.Idempotency = idempotency.NewMemoryStore()
	}
	c.Repositories = reg

	if seedFile := strings.TrimSpace(cfg.Inventory.SeedFile); seedFile != "" {
		products, err := repositories.LoadProductSeed(seedFile)
		if err != nil {
			_ = c.Close(ctx)
			return nil, err
		}
		if err := repositories.SeedInventory(ctx, reg.Inventory(), products, options.clock().UTC()); err != nil {
			_ = c.Close(ctx)
			return nil, err
		}
		options.logger.Info("inventory seeded", zap.Int("products", len(products)), zap.String("file", seedFile))
	}

	svc, err := buildServices(reg, cfg, options, breaker, events)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Services = svc
	svc.Notifications.Start()
	// Registered last so it drains before transports and stores close.
	c.closers = append(c.closers, svc.Notifications.Close)

	return c, nil
}

// Close drains the dispatcher and releases clients in reverse construction order.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) registry(ctx context.Context, cfg config.Config) (repositories.Registry, error) {
	switch cfg.Inventory.Backend {
	case config.InventoryBackendMemory:
		c.Idempotency = idempotency.NewMemoryStore()
		reg, err := memory.NewRegistry(nil)
		if err != nil {
			return nil, fmt.Errorf("build memory registry: %w", err)
		}
		return reg, nil

	case config.InventoryBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Inventory.Redis.Addr,
			Password: cfg.Inventory.Redis.Password,
			DB:       cfg.Inventory.Redis.DB,
		})
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		ledger, err := redisRepo.NewInventoryLedger(client)
		if err != nil {
			return nil, fmt.Errorf("build redis ledger: %w", err)
		}
		store, err := idempotency.NewRedisStore(client)
		if err != nil {
			return nil, fmt.Errorf("build redis idempotency store: %w", err)
		}
		c.Idempotency = store
		provider := newFirestoreProvider(cfg)
		reg, err := firestoreRepo.NewRegistry(provider,
			firestoreRepo.WithInventoryLedger(ledger),
			firestoreRepo.WithHealthChecks(repositories.DependencyCheck{
				Name:     "redis",
				Critical: true,
				Timeout:  time.Second,
				Check:    redisRepo.PingCheck(client),
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("build firestore registry: %w", err)
		}
		return reg, nil

	case config.InventoryBackendFirestore:
		provider := newFirestoreProvider(cfg)
		client, err := provider.Client(ctx)
		if err != nil {
			return nil, fmt.Errorf("build firestore client: %w", err)
		}
		c.Idempotency = idempotency.NewFirestoreStore(client)
		reg, err := firestoreRepo.NewRegistry(provider)
		if err != nil {
			return nil, fmt.Errorf("build firestore registry: %w", err)
		}
		return reg, nil
	}
	return nil, fmt.Errorf("unknown inventory backend %q", cfg.Inventory.Backend)
}

func (c *Container) notificationSender(ctx context.Context, cfg config.Config, options containerOptions) (services.OrderNotificationSender, error) {
	if options.sender != nil {
		return options.sender, nil
	}
	switch cfg.Notifications.Transport {
	case config.NotificationTransportLog:
		return jobs.NewLogSender(observability.NewEventLogger(options.logger.Named("notifications"))), nil

	case config.NotificationTransportKafka:
		writer, err := jobs.NewKafkaWriter(cfg.Notifications.Brokers, cfg.Notifications.Topic)
		if err != nil {
			return nil, err
		}
		publisher, err := jobs.NewKafkaNotificationPublisher(writer)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func(context.Context) error { return publisher.Close() })
		return publisher, nil

	case config.NotificationTransportPubSub:
		projectID := strings.TrimSpace(cfg.Firebase.ProjectID)
		if projectID == "" {
			projectID = strings.TrimSpace(cfg.Firestore.ProjectID)
		}
		var clientOpts []option.ClientOption
		if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(file))
		}
		client, err := pubsub.NewClient(ctx, projectID, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Notifications.Topic)
		c.closers = append(c.closers, func(context.Context) error {
			topic.Stop()
			return client.Close()
		})
		return jobs.NewPubSubNotificationPublisher(topic)
	}
	return nil, fmt.Errorf("unknown notification transport %q", cfg.Notifications.Transport)
}

func buildServices(reg repositories.Registry, cfg config.Config, options containerOptions, breaker *jobs.BreakerSender, events observability.EventLogger) (Services, error) {
	var svc Services
	clock := options.clock

	dispatcher, err := services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
		Sender:      breaker,
		Builder:     services.NewConfirmationBuilder(cfg.Notifications.StoreName, cfg.Notifications.DefaultLocale),
		QueueSize:   cfg.Notifications.QueueSize,
		Workers:     cfg.Notifications.Workers,
		SendTimeout: cfg.Notifications.SendTimeout,
		Logger:      events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build notification dispatcher: %w", err)
	}
	svc.Notifications = dispatcher

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Ledger: reg.Inventory(),
		Clock:  clock,
		Logger: events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository:        reg.Counters(),
		OrderNumberPrefix: cfg.Orders.NumberPrefix,
		Clock:             clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	validator, err := services.NewOrderIntakeValidator(services.OrderIntakeValidatorDeps{
		AllowedPaymentMethods: cfg.Orders.AllowedPaymentMethods,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order intake validator: %w", err)
	}

	factory, err := services.NewOrderFactory(services.OrderFactoryDeps{
		Inventory: inventorySvc,
		Orders:    reg.Orders(),
		Counters:  counterSvc,
		Notifier:  dispatcher,
		Currency:  cfg.Orders.Currency,
		Clock:     clock,
		Logger:    events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order factory: %w", err)
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    reg.Orders(),
		Validator: validator,
		Factory:   factory,
		Status:    services.NewOrderStatusMachine(cfg.Orders.StrictStatus),
		Notifier:  dispatcher,
		Clock:     clock,
		Logger:    events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	build := options.build
	if build.Environment == "" {
		build.Environment = cfg.Security.Environment
	}
	if build.StartedAt.IsZero() {
		build.StartedAt = clock().UTC()
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository:      reg.Health(),
		Clock:                 clock,
		Build:                 build,
		InventoryBackend:      cfg.Inventory.Backend,
		NotificationTransport: cfg.Notifications.Transport,
		Queue:                 dispatcher,
		BreakerState:          breaker.State,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}

func newFirestoreProvider(cfg config.Config) *pfirestore.Provider {
	var opts []pfirestore.ProviderOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" && cfg.Firestore.EmulatorHost == "" {
		opts = append(opts, pfirestore.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return pfirestore.NewProvider(cfg.Firestore, opts...)
}
