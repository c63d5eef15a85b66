package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musicx/musicx-backend/pkg/logger"
)

type fakeExpirer struct {
	cutoff  time.Time
	limit   int
	expired int
	err     error
}

func (f *fakeExpirer) ExpirePendingPayments(_ context.Context, cutoff time.Time, limit int) (int, error) {
	f.cutoff = cutoff
	f.limit = limit
	return f.expired, f.err
}

type fakeReplayer struct {
	limit    int
	resolved int
	err      error
}

func (f *fakeReplayer) ReplayDeadLetters(_ context.Context, limit int) (int, error) {
	f.limit = limit
	return f.resolved, f.err
}

func TestPaymentTimeoutJobUsesTTLCutoff(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	expirer := &fakeExpirer{expired: 2}
	job, err := NewPaymentTimeoutJob(PaymentTimeoutJobParams{
		Logger: logger.Nop(),
		Orders: expirer,
		TTL:    15 * time.Minute,
	})
	require.NoError(t, err)
	job.(*paymentTimeoutJob).now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, "payment-timeout", job.Name())
	assert.Equal(t, now.Add(-15*time.Minute), expirer.cutoff)
	assert.Equal(t, paymentTimeoutBatch, expirer.limit)
}

func TestPaymentTimeoutJobPropagatesError(t *testing.T) {
	job, err := NewPaymentTimeoutJob(PaymentTimeoutJobParams{
		Logger: logger.Nop(),
		Orders: &fakeExpirer{expired: 1, err: errors.New("db down")},
	})
	require.NoError(t, err)
	assert.Equal(t, defaultPendingPaymentTTL, job.(*paymentTimeoutJob).ttl)
	assert.ErrorContains(t, job.Run(context.Background()), "db down")

	_, err = NewPaymentTimeoutJob(PaymentTimeoutJobParams{Logger: logger.Nop()})
	assert.Error(t, err)
}

func TestNotifyReplayJob(t *testing.T) {
	replayer := &fakeReplayer{resolved: 3}
	job, err := NewNotifyReplayJob(NotifyReplayJobParams{Logger: logger.Nop(), Payments: replayer, BatchSize: 20})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, "notify-replay", job.Name())
	assert.Equal(t, 20, replayer.limit)

	replayer.err = errors.New("mark resolved")
	assert.ErrorContains(t, job.Run(context.Background()), "mark resolved")

	_, err = NewNotifyReplayJob(NotifyReplayJobParams{Logger: logger.Nop()})
	assert.Error(t, err)
}
