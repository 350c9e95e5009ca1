//go:build !integration

package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"membership-payments/internal/domain"
)

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	cli := newMemClient()
	l := NewLocker(cli)
	l.backoff = time.Millisecond

	token, err := l.TryLock(ctx, "lock:sweep", time.Minute)
	if err != nil || token == "" {
		t.Fatalf("first TryLock: %q %v", token, err)
	}
	if _, err := l.TryLock(ctx, "lock:sweep", time.Minute); !errors.Is(err, domain.ErrLockNotAcquired) {
		t.Fatalf("expected ErrLockNotAcquired, got %v", err)
	}

	// a foreign token must not release the lock
	if err := l.Unlock(ctx, "lock:sweep", "not-mine"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if _, err := l.TryLock(ctx, "lock:sweep", time.Minute); !errors.Is(err, domain.ErrLockNotAcquired) {
		t.Fatal("lock must survive a foreign unlock")
	}

	if err := l.Unlock(ctx, "lock:sweep", token); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if _, err := l.TryLock(ctx, "lock:sweep", time.Minute); err != nil {
		t.Fatalf("expected lock after release, got %v", err)
	}
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	cli := newMemClient()
	rl := NewRateLimiter(cli)
	key := UserActionKey("user-1", "initiate")

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("call %d should be allowed: %v %v", i+1, ok, err)
		}
	}
	ok, err := rl.Allow(ctx, key, 3, time.Minute)
	if err != nil || ok {
		t.Fatalf("4th call should be limited: %v %v", ok, err)
	}
	if cli.expires[key] != time.Minute {
		t.Errorf("window not set on first hit: %v", cli.expires[key])
	}
}

func TestReplayGuard(t *testing.T) {
	ctx := context.Background()
	g := NewReplayGuard(newMemClient(), time.Hour)
	body := []byte(`{"payment_token":"tok-1"}`)

	seen, err := g.Seen(ctx, "mobile_money_b", body)
	if err != nil || seen {
		t.Fatalf("fresh body reported seen: %v %v", seen, err)
	}
	if err := g.Mark(ctx, "mobile_money_b", body); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if seen, _ = g.Seen(ctx, "mobile_money_b", body); !seen {
		t.Error("marked body should be seen")
	}
	if seen, _ = g.Seen(ctx, "card_aggregator", body); seen {
		t.Error("replay keys must be scoped per gateway")
	}
}
