package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/musicx/musicx-backend/pkg/logger"
)

const (
	defaultRetention  = 30 * 24 * time.Hour
	defaultPurgeChunk = 500
	// Upper bound on chunks per run so one cycle cannot hold the cron lock forever.
	maxPurgeChunks = 200
)

type outboxPurger interface {
	Purge(ctx context.Context, cutoff time.Time, ceiling, limit int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger *logger.Logger
	Outbox outboxPurger
	// RetentionDays defaults to 30.
	RetentionDays int
	// Ceiling is the relay's attempt limit; rows parked there were dead-lettered.
	Ceiling   int
	ChunkSize int
}

// NewOutboxRetentionJob deletes published or dead-lettered order events older
// than the retention window, a chunk at a time.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox repository required")
	}
	if params.Ceiling <= 0 {
		return nil, errors.New("attempt ceiling required")
	}
	job := &outboxRetentionJob{
		logg:      params.Logger,
		outbox:    params.Outbox,
		retention: defaultRetention,
		ceiling:   params.Ceiling,
		chunk:     params.ChunkSize,
		now:       time.Now,
	}
	if params.RetentionDays > 0 {
		job.retention = time.Duration(params.RetentionDays) * 24 * time.Hour
	}
	if job.chunk <= 0 {
		job.chunk = defaultPurgeChunk
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	outbox    outboxPurger
	retention time.Duration
	ceiling   int
	chunk     int
	now       func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	chunks := 0
	for ; chunks < maxPurgeChunks; chunks++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := j.outbox.Purge(ctx, cutoff, j.ceiling, j.chunk)
		if err != nil {
			return fmt.Errorf("purge outbox before %s: %w", cutoff.Format(time.RFC3339), err)
		}
		total += n
		if n < int64(j.chunk) {
			break
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": total,
		"chunks":       chunks + 1,
	}), "outbox retention done")
	return nil
}
