package cron

import (
	"context"
	"fmt"

	"github.com/musicx/musicx-backend/pkg/logger"
)

const notifyReplayBatch = 50

type NotifyReplayJobParams struct {
	Logger    *logger.Logger
	Payments  deadLetterReplayer
	BatchSize int
}

type deadLetterReplayer interface {
	ReplayDeadLetters(ctx context.Context, limit int) (int, error)
}

// NewNotifyReplayJob retries payment notifications parked in the dead-letter table.
func NewNotifyReplayJob(params NotifyReplayJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = notifyReplayBatch
	}
	return &notifyReplayJob{logg: params.Logger, payments: params.Payments, batch: batch}, nil
}

type notifyReplayJob struct {
	logg     *logger.Logger
	payments deadLetterReplayer
	batch    int
}

func (j *notifyReplayJob) Name() string { return "notify-replay" }

func (j *notifyReplayJob) Run(ctx context.Context) error {
	resolved, err := j.payments.ReplayDeadLetters(ctx, j.batch)
	if resolved > 0 {
		j.logg.Info(j.logg.WithField(ctx, "resolved", resolved), "dead-lettered notifications replayed")
	}
	if err != nil {
		return fmt.Errorf("replay notify dead letters: %w", err)
	}
	return nil
}
