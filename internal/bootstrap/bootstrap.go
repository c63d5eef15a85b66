// Package bootstrap holds the startup wiring shared by the binaries under
// cmd/: environment loading, connections to backing services and the domain
// services built on them.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/musicx/musicx-backend/internal/inventory"
	"github.com/musicx/musicx-backend/internal/orders"
	"github.com/musicx/musicx-backend/internal/payments"
	"github.com/musicx/musicx-backend/pkg/config"
	"github.com/musicx/musicx-backend/pkg/db"
	"github.com/musicx/musicx-backend/pkg/logger"
	"github.com/musicx/musicx-backend/pkg/metrics"
	"github.com/musicx/musicx-backend/pkg/migrate"
	"github.com/musicx/musicx-backend/pkg/outbox"
	"github.com/musicx/musicx-backend/pkg/pubsub"
	"github.com/musicx/musicx-backend/pkg/redis"
)

const notifyDedupeScope = "payments.notify"

// Env is one process: its config, its logger and the connections it opened.
// Close releases the connections in reverse order of opening.
type Env struct {
	Service string
	Config  *config.Config
	Logger  *logger.Logger

	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// Load reads an optional .env file, then the MUSICX_ environment, and builds
// the logger for service.
func Load(service string) (*Env, error) {
	dotenvErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: service,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	if dotenvErr != nil {
		logg.Debug(context.Background(), "no .env file, using process environment")
	}
	return &Env{Service: service, Config: cfg, Logger: logg}, nil
}

// Fallback is the logger used when Load itself failed.
func Fallback(service string) *logger.Logger {
	return logger.New(logger.Options{ServiceName: service})
}

// Context is cancelled on SIGINT or SIGTERM and carries the env and service
// name as log fields.
func (e *Env) Context() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return e.Logger.WithFields(ctx, map[string]any{
		"env":          e.Config.App.Env,
		"service_kind": e.Service,
	}), stop
}

func (e *Env) onClose(name string, fn func() error) {
	e.closers = append(e.closers, namedCloser{name: name, close: fn})
}

// Close returns every close failure combined.
func (e *Env) Close() error {
	var err error
	for i := len(e.closers) - 1; i >= 0; i-- {
		c := e.closers[i]
		if cerr := c.close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close %s: %w", c.name, cerr))
		}
	}
	e.closers = nil
	return err
}

// Database opens the Postgres pool. In dev with auto-migrate on, pending
// migrations are applied before it is returned.
func (e *Env) Database(ctx context.Context) (*db.Client, error) {
	client, err := db.New(ctx, e.Config.DB, e.Logger)
	if err != nil {
		return nil, err
	}
	e.onClose("database", client.Close)
	if err := migrate.MaybeRunDev(ctx, e.Config, e.Logger, client); err != nil {
		return nil, fmt.Errorf("dev migrations: %w", err)
	}
	return client, nil
}

func (e *Env) Redis(ctx context.Context) (*redis.Client, error) {
	client, err := redis.New(ctx, e.Config.Redis, e.Logger)
	if err != nil {
		return nil, err
	}
	e.onClose("redis", client.Close)
	return client, nil
}

func (e *Env) PubSub(ctx context.Context) (*pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, e.Config.GCP, e.Config.PubSub, e.Logger)
	if err != nil {
		return nil, err
	}
	e.onClose("pubsub", client.Close)
	return client, nil
}

// Domain is the order and payment services every long-running binary shares.
type Domain struct {
	Outbox   *outbox.Repository
	Orders   orders.Service
	Payments *payments.Service
}

// BuildDomain wires orders and payments over the given stores. The gateway
// client is attached only when MoMo credentials are configured; without it
// create-link answers DEPENDENCY_ERROR while callbacks keep working.
func (e *Env) BuildDomain(dbClient *db.Client, redisClient *redis.Client, reg prometheus.Registerer) (*Domain, error) {
	cfg := e.Config
	outboxRepo := outbox.NewRepository(dbClient.DB())

	ordersService, err := orders.NewService(
		orders.NewRepository(dbClient.DB()),
		dbClient,
		outbox.NewService(outboxRepo, e.Logger),
		inventory.NewLedger(dbClient.DB()),
		e.Logger,
	)
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	signer := payments.NewSigner(cfg.MoMo.AccessKey, cfg.MoMo.SecretKey)
	guard, err := payments.NewNotifyGuard(redisClient, cfg.Payments.NotifyDedupeTTL, notifyDedupeScope)
	if err != nil {
		return nil, fmt.Errorf("notify guard: %w", err)
	}
	params := payments.ServiceParams{
		Orders:           ordersService,
		Signer:           signer,
		Guard:            guard,
		DeadLetters:      payments.NewDLQRepository(dbClient.DB()),
		Metrics:          metrics.NewPaymentMetrics(reg),
		Logger:           e.Logger,
		FrontendURL:      cfg.Frontend.ReturnURL,
		RequireSignature: cfg.MoMo.RequireSignature,
		ReplayMaxAttempt: cfg.Payments.NotifyReplayMaxAttempts,
	}
	if cfg.MoMo.Enabled() {
		if params.Gateway, err = payments.NewGatewayClient(cfg.MoMo, signer); err != nil {
			return nil, fmt.Errorf("momo gateway: %w", err)
		}
	} else {
		e.Logger.Warn(context.Background(), "momo credentials missing, create-link disabled")
	}
	paymentsService, err := payments.NewService(params)
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}

	return &Domain{Outbox: outboxRepo, Orders: ordersService, Payments: paymentsService}, nil
}
