package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/infra/metrics"
)

const maxResponseBody = 1 << 20

// Options tunes the HTTP behaviour shared by all gateway adapters.
// Zero values fall back to the defaults below.
type Options struct {
	HTTPClient  *http.Client
	CallTimeout time.Duration // per HTTP call, default 10s
	MaxAttempts int           // default 3
	RetryBase   time.Duration // first backoff, doubled each retry, default 2s
	Sleep       func(ctx context.Context, d time.Duration) error
	Now         func() time.Time
	Logger      *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 2 * time.Second
	}
	if o.Sleep == nil {
		o.Sleep = sleepCtx
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type response struct {
	status int
	body   []byte
}

// transport executes provider calls with a per-call timeout and bounded retries
// on transient network failures. No HTTP status is ever retried.
type transport struct {
	gateway model.Gateway
	opts    Options
	log     *zerolog.Logger
}

func newTransport(gw model.Gateway, opts Options) *transport {
	opts = opts.withDefaults()
	l := opts.Logger.With().Str("component", "gateway").Str("gateway", string(gw)).Logger()
	return &transport{gateway: gw, opts: opts, log: &l}
}

// do sends the request produced by newReq. newReq is called once per attempt
// so request bodies are fresh on every retry.
func (t *transport) do(ctx context.Context, op string, newReq func(ctx context.Context) (*http.Request, error)) (*response, error) {
	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= t.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := t.opts.RetryBase << (attempt - 2)
			metrics.IncGatewayRetry(string(t.gateway), op)
			t.log.Warn().Err(lastErr).Str("op", op).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying gateway call")
			if err := t.opts.Sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}
		resp, err := t.once(ctx, newReq)
		if err == nil {
			metrics.ObserveGatewayCall(string(t.gateway), op, "ok", time.Since(start))
			return resp, nil
		}
		lastErr = err
		if !isTransient(ctx, err) {
			break
		}
	}
	metrics.ObserveGatewayCall(string(t.gateway), op, "unavailable", time.Since(start))
	return nil, domain.NewGatewayError(string(t.gateway), domain.ErrGatewayUnavailable, "network", op+" failed", lastErr)
}

func (t *transport) once(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error)) (*response, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.opts.CallTimeout)
	defer cancel()

	req, err := newReq(callCtx)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := t.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}
	return &response{status: resp.StatusCode, body: body}, nil
}

// isTransient reports timeouts, connection resets and truncated responses. A
// cancelled parent context is never retried.
func isTransient(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}

// classifyStatus maps non-2xx HTTP statuses onto the gateway error taxonomy.
// code is the provider-independent reason for 4xx rejections.
func classifyStatus(gw model.Gateway, op string, r *response, code string) error {
	switch {
	case r.status >= 200 && r.status < 300:
		return nil
	case r.status == http.StatusUnauthorized || r.status == http.StatusForbidden:
		return &domain.GatewayError{Gateway: string(gw), Kind: domain.ErrGatewayAuth, Code: "unauthorized", StatusCode: r.status, Message: op}
	case r.status >= 500:
		return &domain.GatewayError{Gateway: string(gw), Kind: domain.ErrGatewayUnavailable, Code: "upstream_error", StatusCode: r.status, Message: op}
	default:
		if code == "" {
			code = "declined"
		}
		return &domain.GatewayError{Gateway: string(gw), Kind: domain.ErrGatewayRejected, Code: code, StatusCode: r.status, Message: op + ": " + trim(string(r.body), 200)}
	}
}

func trim(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
