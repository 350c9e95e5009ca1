package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"membership-payments/internal/config"
	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*CardAggregator)(nil)

// defaultJWTLifetime applies when the sign-in token carries no exp claim.
const defaultJWTLifetime = 55 * time.Minute

// CardAggregator signs in with terminal credentials to obtain a JWT and hosts
// the card form itself; callbacks are HMAC-signed.
type CardAggregator struct {
	cfg       config.CardAggregatorConfig
	baseURL   string
	returnURL string
	tr        *transport
	tokens    *tokenCache
	parser    *jwt.Parser
}

func NewCardAggregator(cfg config.CardAggregatorConfig, baseURL, returnURL string, opts Options) (*CardAggregator, error) {
	if strings.TrimSpace(cfg.Username) == "" || strings.TrimSpace(cfg.Password) == "" ||
		strings.TrimSpace(cfg.TerminalID) == "" || cfg.WebhookSecret == "" {
		return nil, errors.New("card_aggregator: username/password/terminal_id/webhook_secret are required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("card_aggregator: invalid base url: %w", err)
	}
	g := &CardAggregator{
		cfg:       cfg,
		baseURL:   strings.TrimRight(baseURL, "/"),
		returnURL: returnURL,
		tr:        newTransport(model.GatewayCardAggregator, opts),
		parser:    jwt.NewParser(),
	}
	g.tokens = newTokenCache(string(model.GatewayCardAggregator), g.tr.opts.Now, g.signIn)
	return g, nil
}

func (g *CardAggregator) Name() model.Gateway { return model.GatewayCardAggregator }

func (g *CardAggregator) signIn(ctx context.Context) (string, time.Time, error) {
	body, _ := json.Marshal(map[string]string{
		"user":        g.cfg.Username,
		"password":    g.cfg.Password,
		"terminal_id": g.cfg.TerminalID,
	})
	resp, err := g.tr.do(ctx, "token", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/v1/auth/sign-in", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", time.Time{}, err
	}
	if resp.status != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("sign-in returned %d: %s", resp.status, trim(string(resp.body), 200))
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return "", time.Time{}, fmt.Errorf("decode sign-in: %w", err)
	}
	return out.AccessToken, g.tokenExpiry(out.AccessToken), nil
}

// tokenExpiry reads exp from the JWT without verifying it; the token is only
// ever sent back to its issuer.
func (g *CardAggregator) tokenExpiry(token string) time.Time {
	fallback := g.tr.opts.Now().Add(defaultJWTLifetime)
	claims := jwt.RegisteredClaims{}
	if _, _, err := g.parser.ParseUnverified(token, &claims); err != nil || claims.ExpiresAt == nil {
		return fallback
	}
	return claims.ExpiresAt.Time
}

func (g *CardAggregator) call(ctx context.Context, op, method, path string, payload any) (*response, error) {
	token, err := g.tokens.Get(ctx)
	if err != nil {
		return nil, err
	}
	var body []byte
	if payload != nil {
		if body, err = json.Marshal(payload); err != nil {
			return nil, err
		}
	}
	resp, err := g.tr.do(ctx, op, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusUnauthorized {
		g.tokens.Invalidate()
	}
	var e struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(resp.body, &e)
	if err := classifyStatus(g.Name(), op, resp, cardErrorCodes[strings.ToLower(e.Code)]); err != nil {
		return nil, err
	}
	return resp, nil
}

var cardErrorCodes = map[string]string{
	"invalid_card":       "invalid_card",
	"card_expired":       "invalid_card",
	"insufficient_funds": "insufficient_funds",
	"invalid_amount":     "invalid_amount",
	"duplicate_invoice":  "duplicate_order",
}

func (g *CardAggregator) Initiate(ctx context.Context, req adapter.InitiateRequest) (adapter.InitiateResult, error) {
	resp, err := g.call(ctx, "initiate", http.MethodPost, "/api/v2/payments", map[string]any{
		"invoice_id":       req.AttemptID,
		"amount":           jsonAmount(req.Amount, model.CurrencyExponent(req.Currency)),
		"currency":         req.Currency,
		"description":      req.Description,
		"account_id":       req.PayerContact,
		"auto_charge":      1,
		"success_back_url": g.returnURL,
		"failure_back_url": g.returnURL,
		"success_callback": req.CallbackURL,
		"failure_callback": req.CallbackURL,
	})
	if err != nil {
		return adapter.InitiateResult{}, err
	}
	var out struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		RedirectURL string `json:"redirect_url"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil || out.ID == "" || out.RedirectURL == "" {
		return adapter.InitiateResult{}, domain.NewGatewayError(string(g.Name()), domain.ErrGatewayUnavailable, "bad_response", "initiate: empty id or redirect_url", err)
	}
	return adapter.InitiateResult{ExternalReference: out.ID, RedirectURL: out.RedirectURL}, nil
}

func cardStatus(s string) (model.Outcome, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success":
		return model.OutcomeSuccess, true
	case "error", "expired", "cancel", "refund", "return":
		return model.OutcomeFailure, true
	case "new", "process", "auth", "secure3d":
		return model.OutcomePending, true
	default:
		return "", false
	}
}

type cardPayment struct {
	ID        string     `json:"id"`
	InvoiceID string     `json:"invoice_id"`
	Amount    flexAmount `json:"amount"`
	Currency  string     `json:"currency"`
	Status    string     `json:"status"`
	RRN       string     `json:"rrn"`
}

func (p cardPayment) settledRef() string {
	if p.RRN != "" {
		return p.RRN
	}
	return p.ID
}

func (g *CardAggregator) VerifyStatus(ctx context.Context, externalReference string) (adapter.StatusResult, error) {
	if externalReference == "" {
		return adapter.StatusResult{}, domain.ErrInvalidArgument
	}
	resp, err := g.call(ctx, "verify", http.MethodGet, "/api/v1/payments/"+url.PathEscape(externalReference), nil)
	if err != nil {
		return adapter.StatusResult{}, err
	}
	var p cardPayment
	if err := json.Unmarshal(resp.body, &p); err != nil {
		return adapter.StatusResult{}, domain.NewGatewayError(string(g.Name()), domain.ErrGatewayUnavailable, "bad_response", "verify: undecodable body", err)
	}
	outcome, ok := cardStatus(p.Status)
	if !ok {
		return adapter.StatusResult{}, domain.NewGatewayError(string(g.Name()), domain.ErrGatewayUnavailable, "unknown_status", "verify: status "+p.Status, nil)
	}
	return adapter.StatusResult{
		GatewayStatus:    p.Status,
		Outcome:          outcome,
		Amount:           p.Amount.Decimal,
		Currency:         model.NormalizeCurrency(p.Currency),
		SettledReference: p.settledRef(),
	}, nil
}

func (g *CardAggregator) ParseWebhook(_ context.Context, raw adapter.RawCallback) (adapter.NormalizedCallback, error) {
	if !verifyBodySignature(g.cfg.WebhookSecret, raw.Body, raw.Header.Get(SignatureHeader)) {
		return adapter.NormalizedCallback{}, fmt.Errorf("%w: bad signature", domain.ErrInvalidCallback)
	}
	var p cardPayment
	if err := json.Unmarshal(raw.Body, &p); err != nil {
		return adapter.NormalizedCallback{}, fmt.Errorf("%w: malformed body", domain.ErrInvalidCallback)
	}
	if p.ID == "" || !p.Amount.Set || p.Currency == "" {
		return adapter.NormalizedCallback{}, fmt.Errorf("%w: missing fields", domain.ErrInvalidCallback)
	}
	outcome, ok := cardStatus(p.Status)
	if !ok {
		return adapter.NormalizedCallback{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidCallback, p.Status)
	}
	return adapter.NormalizedCallback{
		ExternalReference: p.ID,
		Outcome:           outcome,
		SettledReference:  p.settledRef(),
		Amount:            p.Amount.Decimal,
		Currency:          model.NormalizeCurrency(p.Currency),
	}, nil
}
