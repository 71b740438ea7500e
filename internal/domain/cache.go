package domain

import (
	"context"
	"time"
)

// MarketCache is a read-through cache for market records.
type MarketCache interface {
	Get(ctx context.Context, id int64) (Market, error)
	Set(ctx context.Context, m Market) error
	Invalidate(ctx context.Context, id int64) error
}

// ConsensusCache caches the latest consensus result per feed.
type ConsensusCache interface {
	Get(ctx context.Context, feedID FeedID) (ConsensusResult, error)
	Set(ctx context.Context, r ConsensusResult) error
}

// LockManager provides distributed mutual exclusion. Acquire returns an
// unlock function on success and ErrLockHeld when another party holds the
// lock.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// EventBus publishes mutation events to external observers and lets
// subscribers stream them.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter bounds the rate of mutating operations per caller.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
