package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/musicx/musicx-backend/api/controllers"
	"github.com/musicx/musicx-backend/api/routes"
	"github.com/musicx/musicx-backend/internal/bootstrap"
	"github.com/musicx/musicx-backend/pkg/metrics"
)

const (
	service         = "api"
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		bootstrap.Fallback(service).Error(context.Background(), "api exited", err)
		os.Exit(1)
	}
}

func run() error {
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

	// PORT is set by the hosting platform and wins over config
	port := os.Getenv("PORT")
	if port == "" {
		port = env.Config.App.Port
	}
	srv := &http.Server{
		Addr: ":" + port,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:      env.Config,
			Logger:      env.Logger,
			Readiness:   map[string]controllers.Pinger{"db": dbClient, "redis": redisClient},
			Idempotency: redisClient,
			Orders:      domain.Orders,
			Payments:    domain.Payments,
			HTTPMetrics: metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
			Gatherer:    prometheus.DefaultGatherer,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	ctx = env.Logger.WithField(ctx, "addr", srv.Addr)

	served := make(chan error, 1)
	go func() {
		env.Logger.Info(ctx, "api.listening")
		served <- srv.ListenAndServe()
	}()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		return err
	}
	env.Logger.Info(drainCtx, "api.stopped")
	return nil
}
