package application

import (
	"context"
	"time"
)

// ---- small interfaces to decouple the facade from concrete infra structs ----
// Both are optional; a nil value disables the feature.

// RateLimiter throttles initiations per user.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// ReplayGuard short-circuits exact webhook redeliveries.
type ReplayGuard interface {
	Seen(ctx context.Context, gateway string, body []byte) (bool, error)
	Mark(ctx context.Context, gateway string, body []byte) error
}
