package monnifywebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopcore/commerce-backend/pkg/redis"
)

const guardScope = "monnify-webhook"

// IdempotencyGuard claims a callback key once per TTL window.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &IdempotencyGuard{store: store, ttl: ttl}, nil
}

// Claim reports true when this is the first sighting of the callback.
func (g *IdempotencyGuard) Claim(ctx context.Context, cb PaymentCallback) (bool, error) {
	if cb.TransactionReference == "" || cb.EventType == "" {
		return false, errors.New("callback key is incomplete")
	}
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(guardScope, cb.Key()), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return set, nil
}

// Forget drops the claim so a later delivery is processed again.
func (g *IdempotencyGuard) Forget(ctx context.Context, cb PaymentCallback) error {
	return g.store.Del(ctx, g.store.IdempotencyKey(guardScope, cb.Key()))
}
