package app

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Minimalist03/fediversaopuzzle/internal/clock"
	"github.com/Minimalist03/fediversaopuzzle/internal/config"
	"github.com/Minimalist03/fediversaopuzzle/internal/database"
	"github.com/Minimalist03/fediversaopuzzle/internal/eventbus"
	"github.com/Minimalist03/fediversaopuzzle/internal/identity"
	"github.com/Minimalist03/fediversaopuzzle/internal/mediators"
	"github.com/Minimalist03/fediversaopuzzle/internal/models"
	"github.com/Minimalist03/fediversaopuzzle/internal/repository"
	"github.com/Minimalist03/fediversaopuzzle/internal/services"
)

const (
	IdentityProviderSupabase = "supabase"
	IdentityProviderDatabase = "database"
)

// NewConfig reads the loaded configuration and overlays Vault secrets when
// Vault is configured.
func NewConfig(logger *zap.Logger) (config.Config, error) {
	cfg, err := config.Get()
	if err != nil {
		return config.Config{}, err
	}

	if cfg.Vault.URL == "" || cfg.Vault.Token == "" {
		logger.Info("Using config-based secrets (Vault not configured)")
		return cfg, nil
	}

	vaultClient, err := services.NewVaultClient(cfg.Vault.URL, cfg.Vault.Token, logger)
	if err != nil {
		logger.Warn("Failed to initialize Vault client, using config-based secrets", zap.Error(err))
		return cfg, nil
	}
	applied := vaultClient.ApplySecrets(&cfg, cfg.Vault.ServiceName)
	logger.Info("Secrets loaded from Vault", zap.Int("applied", applied))
	return cfg, nil
}

// NewDatabase opens the database, brings the schema up to date and closes
// the pool on shutdown.
func NewDatabase(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*gorm.DB, error) {
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return db, nil
}

// NewRedisClient returns nil when no address is configured. An unreachable
// Redis is logged and tolerated.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) *redis.Client {
	if cfg.Redis.Addr == "" {
		logger.Info("Redis not configured, idempotency claims and event publishing disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				logger.Warn("Redis unreachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

func NewPublisher(client *redis.Client, logger *zap.Logger) eventbus.Publisher {
	if client == nil {
		return eventbus.NopPublisher{}
	}
	return eventbus.NewRedisEventBus(client, logger)
}

func NewClock() clock.Clock {
	return clock.SystemClock{}
}

// NewIdentityStore selects the Supabase admin API or the local users table.
func NewIdentityStore(cfg config.Config, db *gorm.DB, clk clock.Clock, logger *zap.Logger) (identity.Store, error) {
	var mailer identity.Mailer = identity.NewLogMailer(logger)
	if cfg.Email.Host != "" {
		mailer = identity.NewSMTPMailer(cfg.Email, logger)
	}

	switch cfg.Identity.Provider {
	case IdentityProviderSupabase:
		if cfg.Identity.SupabaseURL == "" || cfg.Identity.SupabaseServiceKey == "" {
			return nil, fmt.Errorf("identity provider %q requires supabase_url and supabase_service_key", IdentityProviderSupabase)
		}
		return identity.NewSupabaseStore(
			cfg.Identity.SupabaseURL,
			cfg.Identity.SupabaseServiceKey,
			cfg.Identity.RecoveryRedirectURL,
			mailer,
			logger,
		), nil

	case IdentityProviderDatabase, "":
		return identity.NewDatabaseStore(db, mailer, cfg.Identity.RecoveryRedirectURL, cfg.Identity.RecoveryTTL, clk, logger), nil

	default:
		return nil, fmt.Errorf("unknown identity provider %q", cfg.Identity.Provider)
	}
}

// NewRegistry returns the Prometheus registry served on /metrics.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func NewWebhookMetrics(reg *prometheus.Registry) *services.WebhookMetrics {
	return services.NewWebhookMetrics(reg)
}

func NewProvisioningService(
	cfg config.Config,
	identities identity.Store,
	subscriptions *repository.SubscriptionRepository,
	transactions *repository.TransactionRepository,
	publisher eventbus.Publisher,
	clk clock.Clock,
	logger *zap.Logger,
) *services.ProvisioningService {
	return services.NewProvisioningService(identities, subscriptions, transactions, publisher, clk, cfg.Provisioning.CallTimeout, logger)
}

func NewAccessService(
	subscriptions *repository.SubscriptionRepository,
	transactions *repository.TransactionRepository,
	clk clock.Clock,
	logger *zap.Logger,
) *services.AccessService {
	return services.NewAccessService(subscriptions, transactions, clk, logger)
}

func NewAuditService(events *repository.WebhookEventRepository, logger *zap.Logger) *services.AuditService {
	return services.NewAuditService(events, logger)
}

// NewPasswordResetService returns nil when the identity store cannot
// redeem its own recovery tokens; the route is then left unmounted.
func NewPasswordResetService(store identity.Store, logger *zap.Logger) *services.PasswordResetService {
	resetter, ok := store.(identity.PasswordResetter)
	if !ok {
		return nil
	}
	return services.NewPasswordResetService(resetter, logger)
}

func NewMonitoringService(db *gorm.DB, client *redis.Client, reg *prometheus.Registry) *services.MonitoringService {
	return services.NewMonitoringService(db, client, reg)
}

// NewWebhookService wires the normalizers for the configured provider.
func NewWebhookService(
	cfg config.Config,
	provisioning *services.ProvisioningService,
	events *repository.WebhookEventRepository,
	client *redis.Client,
	metrics *services.WebhookMetrics,
	clk clock.Clock,
	logger *zap.Logger,
) (*services.WebhookService, error) {
	defaultPlan, ok := models.ParsePlanType(cfg.Webhook.DefaultPlan)
	if !ok {
		return nil, fmt.Errorf("invalid webhook.default_plan %q", cfg.Webhook.DefaultPlan)
	}

	return services.NewWebhookService(services.WebhookServiceDeps{
		Aliases:       mediators.NewAliasNormalizer(cfg.Webhook.Provider, defaultPlan, logger),
		Canonical:     mediators.NewCanonicalNormalizer(),
		Stripe:        mediators.NewStripeMediator(cfg.Stripe.WebhookSecret, defaultPlan, logger),
		Provisioner:   provisioning,
		Dedup:         services.NewIdempotencyGuard(client, cfg.Webhook.DedupTTL, logger),
		Events:        events,
		Metrics:       metrics,
		WebhookSecret: cfg.Webhook.Secret,
		Clock:         clk,
		Logger:        logger,
	}), nil
}

// Module provides every component of the service.
var Module = fx.Options(
	fx.Provide(
		NewConfig,
		NewDatabase,
		NewRedisClient,
		NewPublisher,
		NewClock,
		NewIdentityStore,
		NewRegistry,
		NewWebhookMetrics,
		repository.NewSubscriptionRepository,
		repository.NewTransactionRepository,
		repository.NewWebhookEventRepository,
		NewProvisioningService,
		NewAccessService,
		NewAuditService,
		NewPasswordResetService,
		NewMonitoringService,
		NewWebhookService,
		NewRouter,
		NewHTTPServer,
	),
)
