package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/musicx/musicx-backend/pkg/redis"
)

// NotifyGuard drops re-deliveries of a notification that was already handled.
type NotifyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewNotifyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*NotifyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &NotifyGuard{store: store, ttl: ttl, scope: scope}, nil
}

// DeliveryKey identifies one gateway delivery.
func DeliveryKey(cb Callback) string {
	return cb.OrderID + ":" + cb.RequestID + ":" + strconv.FormatInt(cb.TransID, 10) + ":" + strconv.Itoa(cb.ResultCode)
}

// CheckAndMark claims key and reports whether it had already been claimed.
func (g *NotifyGuard) CheckAndMark(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("delivery key is required")
	}
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, key), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Release forgets key so a later delivery is processed again.
func (g *NotifyGuard) Release(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("delivery key is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, key))
}
