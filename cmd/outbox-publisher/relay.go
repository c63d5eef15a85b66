package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/musicx/musicx-backend/pkg/config"
	"github.com/musicx/musicx-backend/pkg/db/models"
	"github.com/musicx/musicx-backend/pkg/enums"
	"github.com/musicx/musicx-backend/pkg/logger"
	"github.com/musicx/musicx-backend/pkg/outbox/registry"
	"github.com/musicx/musicx-backend/pkg/pubsub"
)

const (
	defaultBatchSize   = 50
	defaultPoll        = 500 * time.Millisecond
	defaultMaxAttempts = 10
	publishTimeout     = 15 * time.Second
	maxBackoff         = 10 * time.Second
)

type database interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type eventStore interface {
	Claim(tx *gorm.DB, limit, ceiling int) ([]models.OutboxEvent, error)
	MarkPublished(tx *gorm.DB, id uuid.UUID, at time.Time) error
	RecordAttempt(tx *gorm.DB, id uuid.UUID, cause error) error
	Park(tx *gorm.DB, id uuid.UUID, cause error, ceiling int) error
}

type graveyard interface {
	Bury(tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQReason, cause error) error
}

type router interface {
	Resolve(models.OutboxEvent) (*registry.Route, error)
}

// sink is the slice of pkg/pubsub.Client the relay needs.
type sink interface {
	Ping(context.Context) error
	Send(ctx context.Context, topic string, msg *gcppubsub.Message) (string, error)
}

type RelayParams struct {
	Outbox      config.OutboxConfig
	Logger      *logger.Logger
	DB          database
	Events      eventStore
	DeadLetters graveyard
	Router      router
	Sink        sink
}

// Relay moves committed outbox rows to Pub/Sub. Each batch is claimed, sent,
// and settled inside one transaction, so a crash mid-batch re-sends rows
// rather than losing them. Consumers dedupe on the event_id attribute.
type Relay struct {
	logg    *logger.Logger
	db      database
	events  eventStore
	graves  graveyard
	router  router
	sink    sink
	batch   int
	ceiling int
	idle    time.Duration
	retry   backoff
	now     func() time.Time
}

func NewRelay(p RelayParams) (*Relay, error) {
	var err error
	if p.Logger == nil {
		err = multierr.Append(err, errors.New("logger is required"))
	}
	if p.DB == nil {
		err = multierr.Append(err, errors.New("database is required"))
	}
	if p.Events == nil {
		err = multierr.Append(err, errors.New("outbox repository is required"))
	}
	if p.DeadLetters == nil {
		err = multierr.Append(err, errors.New("dead letter store is required"))
	}
	if p.Router == nil {
		err = multierr.Append(err, errors.New("event router is required"))
	}
	if p.Sink == nil {
		err = multierr.Append(err, errors.New("pubsub sink is required"))
	}
	if err != nil {
		return nil, err
	}

	r := &Relay{
		logg:    p.Logger,
		db:      p.DB,
		events:  p.Events,
		graves:  p.DeadLetters,
		router:  p.Router,
		sink:    p.Sink,
		batch:   p.Outbox.BatchSize,
		ceiling: p.Outbox.MaxAttempts,
		idle:    time.Duration(p.Outbox.PollIntervalMS) * time.Millisecond,
		now:     time.Now,
	}
	if r.batch <= 0 {
		r.batch = defaultBatchSize
	}
	if r.ceiling <= 0 {
		r.ceiling = defaultMaxAttempts
	}
	if r.idle <= 0 {
		r.idle = defaultPoll
	}
	r.retry = backoff{base: r.idle, max: maxBackoff}
	return r, nil
}

// Run drains the outbox until ctx is cancelled. A full batch is followed
// immediately by the next one; an empty batch waits the poll interval; a
// failed batch waits with exponential backoff.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}
	if err := r.sink.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub not ready: %w", err)
	}

	for {
		n, err := r.Drain(ctx)
		var wait time.Duration
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			wait = r.retry.next()
			r.logg.Error(r.logg.WithField(ctx, "retry_in", wait.String()), "outbox batch failed", err)
		case n > 0:
			r.retry.reset()
			continue
		default:
			r.retry.reset()
			wait = r.idle
		}
		if err := sleep(ctx, jitter(wait)); err != nil {
			return err
		}
	}
}

// Drain claims one batch and settles every row in it. Only bookkeeping
// failures abort the batch; delivery failures are recorded per row.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	var claimed int
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := r.events.Claim(tx, r.batch, r.ceiling)
		if err != nil {
			return fmt.Errorf("claim outbox rows: %w", err)
		}
		claimed = len(events)
		for _, event := range events {
			v := r.deliver(ctx, event)
			if err := r.settle(ctx, tx, event, v); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}

type outcome int

const (
	delivered outcome = iota
	retryLater
	deadLetter
)

type verdict struct {
	outcome outcome
	reason  enums.OutboxDLQReason
	topic   string
	err     error
}

func (r *Relay) deliver(ctx context.Context, event models.OutboxEvent) verdict {
	route, err := r.router.Resolve(event)
	if err != nil {
		return verdict{outcome: deadLetter, reason: enums.OutboxDLQReasonUnroutable, err: err}
	}

	sendCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	_, err = r.sink.Send(sendCtx, route.Topic, &gcppubsub.Message{
		Data:        event.Payload,
		Attributes:  route.Attributes,
		OrderingKey: route.OrderingKey,
	})
	switch {
	case err == nil:
		return verdict{outcome: delivered, topic: route.Topic}
	case registry.IsPermanent(err) || errors.Is(err, pubsub.ErrUnknownTopic):
		return verdict{outcome: deadLetter, reason: enums.OutboxDLQReasonRejected, topic: route.Topic, err: err}
	case event.AttemptCount+1 >= r.ceiling:
		return verdict{
			outcome: deadLetter,
			reason:  enums.OutboxDLQReasonRetriesExhausted,
			topic:   route.Topic,
			err:     fmt.Errorf("gave up after %d attempts: %w", event.AttemptCount+1, err),
		}
	default:
		return verdict{outcome: retryLater, topic: route.Topic, err: err}
	}
}

func (r *Relay) settle(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, v verdict) error {
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"order_id":      event.AggregateID.String(),
		"attempt_count": event.AttemptCount,
		"topic":         v.topic,
	})

	switch v.outcome {
	case delivered:
		if err := r.events.MarkPublished(tx, event.ID, r.now()); err != nil {
			return fmt.Errorf("mark %s published: %w", event.ID, err)
		}
		r.logg.Info(logCtx, "outbox event published")
	case retryLater:
		if err := r.events.RecordAttempt(tx, event.ID, v.err); err != nil {
			return fmt.Errorf("record attempt on %s: %w", event.ID, err)
		}
		r.logg.Warn(r.logg.WithField(logCtx, "error", v.err.Error()), "outbox publish failed, will retry")
	case deadLetter:
		if err := r.graves.Bury(tx, event, v.reason, v.err); err != nil {
			return fmt.Errorf("dead-letter %s: %w", event.ID, err)
		}
		if err := r.events.Park(tx, event.ID, v.err, r.ceiling); err != nil {
			return fmt.Errorf("park %s: %w", event.ID, err)
		}
		r.logg.Warn(r.logg.WithFields(logCtx, map[string]any{
			"error":        v.err.Error(),
			"error_reason": v.reason,
		}), "outbox event dead-lettered")
	}
	return nil
}

type backoff struct {
	base, max, cur time.Duration
}

func (b *backoff) next() time.Duration {
	if b.cur < b.base {
		b.cur = b.base
	} else {
		b.cur *= 2
	}
	if b.cur > b.max {
		b.cur = b.max
	}
	return b.cur
}

func (b *backoff) reset() { b.cur = 0 }

// jitter adds up to a quarter of d so several relays do not poll in lockstep.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(d/4+1)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
