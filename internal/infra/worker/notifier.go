package worker

import (
	"context"
	"time"

	"membership-payments/internal/domain/ports/adapter"
)

var _ adapter.Notifier = (*AsyncNotifier)(nil)

// AsyncNotifier hands notifications to the pool so slow channels never hold
// up a webhook response or an activation transaction.
type AsyncNotifier struct {
	pool    *Pool
	next    adapter.Notifier
	timeout time.Duration
}

func NewAsyncNotifier(pool *Pool, next adapter.Notifier, timeout time.Duration) *AsyncNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AsyncNotifier{pool: pool, next: next, timeout: timeout}
}

// Notify returns ErrQueueFull when the pool is saturated; the notification is dropped.
func (a *AsyncNotifier) Notify(_ context.Context, n adapter.Notification) error {
	return a.pool.Submit(func(ctx context.Context) error {
		// detached from the caller's request context
		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		return a.next.Notify(ctx, n)
	})
}
