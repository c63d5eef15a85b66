package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/musicx/musicx-backend/pkg/logger"
	"github.com/musicx/musicx-backend/pkg/metrics"
)

const defaultInterval = time.Minute

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service runs every registered job once per interval. Workers share one
// lock, so a cycle runs on at most one replica at a time.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	var missing error
	if params.Logger == nil {
		missing = multierr.Append(missing, errors.New("cron: logger required"))
	}
	if params.Lock == nil {
		missing = multierr.Append(missing, errors.New("cron: lock required"))
	}
	if missing != nil {
		return nil, missing
	}

	s := &Service{
		logg:     params.Logger,
		registry: params.Registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: params.Interval,
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	return s, nil
}

// Run fires a cycle immediately and then on every tick until ctx is done.
// Cycle failures are logged; only cancellation ends the loop.
func (s *Service) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logg.Error(ctx, "cron.cycle_failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron.stopped")
			return ctx.Err()
		case <-t.C:
		}
	}
}

// RunOnce runs one cycle. Jobs run in registration order and one failing job
// does not stop the rest; every failure is returned, prefixed with the job
// name.
func (s *Service) RunOnce(ctx context.Context) (err error) {
	held, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire cron lock: %w", err)
	}
	if !held {
		s.metrics.IncSkipped()
		s.logg.Debug(ctx, "cron.cycle_skipped")
		return nil
	}
	defer func() {
		if rerr := s.lock.Release(context.WithoutCancel(ctx)); rerr != nil {
			s.logg.Error(ctx, "cron.lock_release_failed", rerr)
		}
	}()

	started := time.Now()
	for _, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			err = multierr.Append(err, ctx.Err())
			break
		}
		if jobErr := s.run(ctx, job); jobErr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", job.Name(), jobErr))
		}
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"jobs":        len(s.registry.Jobs()),
		"failures":    len(multierr.Errors(err)),
		"duration_ms": time.Since(started).Milliseconds(),
	}), "cron.cycle_done")
	return err
}

func (s *Service) run(ctx context.Context, job Job) error {
	ctx = s.logg.WithField(ctx, "job", job.Name())
	started := time.Now()
	err := job.Run(ctx)
	took := time.Since(started)
	s.metrics.ObserveRun(job.Name(), took, err)

	ctx = s.logg.WithField(ctx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.logg.Error(ctx, "cron.job_failed", err)
		return err
	}
	s.logg.Info(ctx, "cron.job_done")
	return nil
}
