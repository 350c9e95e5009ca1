package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"membership-payments/internal/domain"
)

// refreshMargin makes tokens refresh this long before the provider expires them.
const refreshMargin = 5 * time.Minute

type tokenFetcher func(ctx context.Context) (token string, expiresAt time.Time, err error)

// tokenCache holds one adapter's bearer token. Refresh is lazy and serialized;
// on failure the cached token is dropped, never reused.
type tokenCache struct {
	gateway string
	fetch   tokenFetcher
	now     func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newTokenCache(gateway string, now func() time.Time, fetch tokenFetcher) *tokenCache {
	if now == nil {
		now = time.Now
	}
	return &tokenCache{gateway: gateway, fetch: fetch, now: now}
}

func (c *tokenCache) Get(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Add(refreshMargin).Before(c.expiresAt) {
		return c.token, nil
	}
	c.token, c.expiresAt = "", time.Time{}

	tok, exp, err := c.fetch(ctx)
	if err != nil {
		var gwErr *domain.GatewayError
		if errors.As(err, &gwErr) && errors.Is(gwErr.Kind, domain.ErrGatewayAuth) {
			return "", err
		}
		return "", domain.NewGatewayError(c.gateway, domain.ErrGatewayAuth, "token", "token acquisition failed", err)
	}
	if tok == "" {
		return "", domain.NewGatewayError(c.gateway, domain.ErrGatewayAuth, "token", "empty access token", nil)
	}
	c.token, c.expiresAt = tok, exp
	return tok, nil
}

// Invalidate forgets the token, e.g. after the provider answered 401.
func (c *tokenCache) Invalidate() {
	c.mu.Lock()
	c.token, c.expiresAt = "", time.Time{}
	c.mu.Unlock()
}
