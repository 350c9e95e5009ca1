package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"membership-payments/internal/infra/metrics"
)

// ReplayGuard remembers webhook bodies that were fully processed so exact
// redeliveries can be acknowledged without touching the database. It is an
// optimisation only; correctness never depends on it.
type ReplayGuard struct {
	client RedisClient
	ttl    time.Duration
}

func NewReplayGuard(client RedisClient, ttl time.Duration) *ReplayGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ReplayGuard{client: client, ttl: ttl}
}

func replayKey(gateway string, body []byte) string {
	sum := sha256.Sum256(body)
	return "webhook:seen:" + gateway + ":" + hex.EncodeToString(sum[:])
}

// Seen reports whether this exact body was already processed for gateway.
func (g *ReplayGuard) Seen(ctx context.Context, gateway string, body []byte) (bool, error) {
	_, err := g.client.Get(ctx, replayKey(gateway, body))
	if errors.Is(err, Nil) {
		metrics.IncCacheRequest("webhook_replay", "miss")
		return false, nil
	}
	if err != nil {
		metrics.IncCacheRequest("webhook_replay", "error")
		return false, err
	}
	metrics.IncCacheRequest("webhook_replay", "hit")
	return true, nil
}

// Mark records body as processed.
func (g *ReplayGuard) Mark(ctx context.Context, gateway string, body []byte) error {
	return g.client.Set(ctx, replayKey(gateway, body), "1", g.ttl)
}
