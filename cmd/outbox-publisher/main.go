package main

import (
	"context"
	"errors"
	"os"

	"github.com/musicx/musicx-backend/internal/bootstrap"
	"github.com/musicx/musicx-backend/pkg/outbox"
	"github.com/musicx/musicx-backend/pkg/outbox/registry"
)

const service = "outbox-publisher"

func main() {
	if err := run(); err != nil {
		bootstrap.Fallback(service).Error(context.Background(), "outbox publisher exited", err)
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
	sink, err := env.PubSub(ctx)
	if err != nil {
		return err
	}
	router, err := registry.New(env.Config.PubSub)
	if err != nil {
		return err
	}
	// fail at startup rather than dead-lettering every event
	if err := sink.EnsureTopics(ctx, router.Topics()...); err != nil {
		return err
	}

	relay, err := NewRelay(RelayParams{
		Outbox:      env.Config.Outbox,
		Logger:      env.Logger,
		DB:          dbClient,
		Events:      outbox.NewRepository(dbClient.DB()),
		DeadLetters: outbox.NewDeadLetters(),
		Router:      router,
		Sink:        sink,
	})
	if err != nil {
		return err
	}

	env.Logger.Info(ctx, "relay.started")
	if err := relay.Run(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
