// Package app wires the store, redis, services and event sinks that every
// binary shares.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nimasrn/number-market/internal/config"
	gateway "github.com/nimasrn/number-market/internal/gateways"
	"github.com/nimasrn/number-market/internal/queue"
	"github.com/nimasrn/number-market/internal/repository"
	"github.com/nimasrn/number-market/internal/services"
	"github.com/nimasrn/number-market/migrations"
	"github.com/nimasrn/number-market/pkg/logger"
	"github.com/nimasrn/number-market/pkg/pg"
	"github.com/nimasrn/number-market/pkg/redis"
)

const ProviderCard = "card"

type App struct {
	Config *config.Config
	Store  *repository.Store
	Redis  redis.RedisAdapter

	Audit   *services.AuditService
	Users   *services.UserService
	Wallet  *services.WalletService
	Catalog *services.CatalogService
	Pool    *services.AccountPoolService
	Orders  *services.OrderService

	Callbacks  *queue.Queue
	Codes      *queue.Queue
	Deliveries *queue.Queue

	nats     *nats.Conn
	provider *gateway.Client
}

// New connects to the store and redis, applies additive migrations and
// builds the services.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := pg.Open(cfg.DatabaseURL, cfg.DatabaseReadURL, cfg.IsDev() && cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed connecting to database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS, migrations.Dir, repository.Entities()...); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	a := &App{Config: cfg, Store: repository.NewStore(db)}

	if err := a.connectRedis(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openQueues(); err != nil {
		a.Close()
		return nil, err
	}
	events, err := a.eventSink()
	if err != nil {
		a.Close()
		return nil, err
	}

	s := a.Store
	a.Audit = services.NewAuditService(s.Audit)
	a.Users = services.NewUserService(s.Users, a.Audit, cfg.AdminIDs())
	a.Wallet = services.NewWalletService(s.DB, s.Users, s.Transactions, a.Audit)
	a.Catalog = services.NewCatalogService(s.DB, s.Numbers, s.Accounts, a.Users, a.Audit)
	// owner checks need the phone-session runtime, which is not part of this service
	a.Pool = services.NewAccountPoolService(s.DB, s.Accounts, s.Numbers, a.Users, a.Audit, nil, cfg.CodeTTL)
	a.Orders = services.NewOrderService(s.DB, s.Users, s.Accounts, s.Numbers, s.Payments, s.CodeDeliveries,
		a.Wallet, a.Users, a.Audit, events, services.OrderConfig{
			ReservationTTL: cfg.ReservationTTL,
			CodeTTL:        cfg.CodeTTL,
		})
	a.Pool.SetCodeSink(a.Orders)

	if cfg.ProviderURL != "" {
		pc := gateway.DefaultConfig(ProviderCard, cfg.ProviderURL)
		pc.Timeout = cfg.ProviderTimeout
		pc.RateLimit = cfg.ProviderRateLimit
		if cfg.CallbackURL != "" {
			pc.CallbackURL = strings.TrimRight(cfg.CallbackURL, "/") + "/api/v1/payments/callback"
		}
		a.provider, err = gateway.NewClient(pc)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Orders.RegisterProvider(ProviderCard, a.provider)
	}

	return a, nil
}

func (a *App) connectRedis() error {
	if a.Config.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	opts, err := redis.OptionsFromURL(a.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}
	opts.ClientName = a.Config.AppName
	a.Redis, err = redis.NewRedisAdapter("default", a.Config.RedisUniversalKeyPrefix, opts)
	if err != nil {
		return fmt.Errorf("failed connecting to redis: %w", err)
	}
	return nil
}

func (a *App) queueConfig(name string) queue.QueueConfig {
	consumer := a.Config.QueueConsumerName
	if host, err := os.Hostname(); err == nil {
		consumer = consumer + "-" + host
	}
	return queue.QueueConfig{
		Name:          name,
		ConsumerGroup: a.Config.AppName,
		ConsumerName:  consumer,
		MaxRetries:    a.Config.QueueMaxRetries,
		PollInterval:  a.Config.QueuePollInterval,
		MaxLen:        100_000,
		EnableDLQ:     true,
	}
}

func (a *App) openQueues() error {
	var err error
	if a.Callbacks, err = queue.NewQueue(a.Redis, a.queueConfig(a.Config.QueueCallbacks)); err != nil {
		return err
	}
	if a.Codes, err = queue.NewQueue(a.Redis, a.queueConfig(a.Config.QueueCodes)); err != nil {
		return err
	}
	if a.Deliveries, err = queue.NewQueue(a.Redis, a.queueConfig(a.Config.QueueDeliveries)); err != nil {
		return err
	}
	return nil
}

func (a *App) eventSink() (services.EventPublisher, error) {
	switch a.Config.EventSink {
	case "", "redis":
		return queue.NewStreamPublisher(a.Deliveries), nil
	case "nats":
		nc, err := a.Nats()
		if err != nil {
			return nil, err
		}
		return queue.NewNatsPublisher(nc, queue.DeliverySubject), nil
	}
	return nil, fmt.Errorf("unknown EVENT_SINK %q", a.Config.EventSink)
}

// Nats returns the shared NATS connection, dialing it on first use.
func (a *App) Nats() (*nats.Conn, error) {
	if a.nats != nil {
		return a.nats, nil
	}
	if a.Config.NatsURL == "" {
		return nil, fmt.Errorf("NATS_URL is required when EVENT_SINK=nats")
	}
	nc, err := queue.ConnectNats(a.Config.NatsURL)
	if err != nil {
		return nil, err
	}
	a.nats = nc
	return nc, nil
}

func (a *App) Close() {
	if a.provider != nil {
		_ = a.provider.Close()
	}
	if a.nats != nil {
		a.nats.Close()
	}
	for _, q := range []*queue.Queue{a.Callbacks, a.Codes, a.Deliveries} {
		if q != nil {
			_ = q.Stop(0)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Warn("failed to close redis", "error", err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			logger.Warn("failed to close database", "error", err)
		}
	}
}
