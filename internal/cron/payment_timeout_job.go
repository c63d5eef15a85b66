package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/musicx/musicx-backend/pkg/logger"
)

const (
	defaultPendingPaymentTTL = 30 * time.Minute
	paymentTimeoutBatch      = 100
)

// PaymentTimeoutJobParams configure the abandoned payment sweep.
type PaymentTimeoutJobParams struct {
	Logger    *logger.Logger
	Orders    pendingPaymentExpirer
	TTL       time.Duration
	BatchSize int
}

type pendingPaymentExpirer interface {
	ExpirePendingPayments(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// NewPaymentTimeoutJob cancels gateway orders whose buyer never came back,
// which returns their reserved stock to the ledger.
func NewPaymentTimeoutJob(params PaymentTimeoutJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultPendingPaymentTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = paymentTimeoutBatch
	}
	return &paymentTimeoutJob{
		logg:   params.Logger,
		orders: params.Orders,
		ttl:    ttl,
		batch:  batch,
		now:    time.Now,
	}, nil
}

type paymentTimeoutJob struct {
	logg   *logger.Logger
	orders pendingPaymentExpirer
	ttl    time.Duration
	batch  int
	now    func() time.Time
}

func (j *paymentTimeoutJob) Name() string { return "payment-timeout" }

func (j *paymentTimeoutJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	expired, err := j.orders.ExpirePendingPayments(ctx, cutoff, j.batch)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"orders_expired": expired,
	})
	if err != nil {
		return fmt.Errorf("expire pending payments: %w", err)
	}
	if expired > 0 {
		j.logg.Info(logCtx, "pending payments expired")
	}
	return nil
}
