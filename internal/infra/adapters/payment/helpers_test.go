//go:build !integration

package payment

import (
	"context"
	"sync"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recordSleeps returns a Sleep func that records delays without waiting.
func recordSleeps(out *[]time.Duration) func(context.Context, time.Duration) error {
	var mu sync.Mutex
	return func(_ context.Context, d time.Duration) error {
		mu.Lock()
		*out = append(*out, d)
		mu.Unlock()
		return nil
	}
}

func testOptions(clock *fakeClock) Options {
	var sleeps []time.Duration
	return Options{Now: clock.Now, Sleep: recordSleeps(&sleeps), CallTimeout: 2 * time.Second}
}
