package main

import (
	"context"
	"errors"
	"flag"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/musicx/musicx-backend/internal/bootstrap"
	"github.com/musicx/musicx-backend/internal/cron"
	"github.com/musicx/musicx-backend/pkg/config"
	"github.com/musicx/musicx-backend/pkg/logger"
	"github.com/musicx/musicx-backend/pkg/metrics"
)

const service = "cron-worker"

func main() {
	once := flag.Bool("once", false, "run every job a single time and exit")
	flag.Parse()

	if err := run(*once); err != nil {
		bootstrap.Fallback(service).Error(context.Background(), "cron worker exited", err)
		os.Exit(1)
	}
}

func run(once bool) error {
	env, err := bootstrap.Load(service)
	if err != nil {
		return err
	}
	defer func() {
		if err := env.Close(); err != nil {
			env.Logger.Error(context.Background(), "shutdown", err)
		}
	}()

	ctx, stop := env.Context()
	defer stop()

	dbClient, err := env.Database(ctx)
	if err != nil {
		return err
	}
	redisClient, err := env.Redis(ctx)
	if err != nil {
		return err
	}
	domain, err := env.BuildDomain(dbClient, redisClient, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	jobs, err := buildRegistry(env.Config, env.Logger, domain)
	if err != nil {
		return err
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(service+":"+lockScope(env.Config.App.Env)), env.Config.Cron.LockTTL)
	if err != nil {
		return err
	}
	scheduler, err := cron.NewService(cron.ServiceParams{
		Logger:   env.Logger,
		Registry: jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: env.Config.Cron.Interval,
	})
	if err != nil {
		return err
	}

	if once {
		return scheduler.RunOnce(ctx)
	}
	env.Logger.Info(ctx, "cron.started")
	if err := scheduler.Run(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, domain *bootstrap.Domain) (*cron.Registry, error) {
	timeout, err := cron.NewPaymentTimeoutJob(cron.PaymentTimeoutJobParams{
		Logger: logg,
		Orders: domain.Orders,
		TTL:    cfg.Payments.PendingPaymentTTL,
	})
	if err != nil {
		return nil, err
	}
	replay, err := cron.NewNotifyReplayJob(cron.NotifyReplayJobParams{
		Logger:   logg,
		Payments: domain.Payments,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:        logg,
		Outbox:        domain.Outbox,
		RetentionDays: cfg.Outbox.RetentionDays,
		Ceiling:       cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(timeout, replay, retention), nil
}

// lockScope keeps staging and prod workers sharing one Redis from blocking
// each other.
func lockScope(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
