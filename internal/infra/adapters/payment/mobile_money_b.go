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

	"membership-payments/internal/config"
	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*MobileMoneyB)(nil)

// MobileMoneyB authenticates with a static API key and site id; callbacks are
// signed with HMAC-SHA256 over the raw body.
type MobileMoneyB struct {
	cfg       config.MobileMoneyBConfig
	baseURL   string
	returnURL string
	tr        *transport
}

func NewMobileMoneyB(cfg config.MobileMoneyBConfig, baseURL, returnURL string, opts Options) (*MobileMoneyB, error) {
	if cfg.APIKey == "" || cfg.SiteID == "" || cfg.WebhookSecret == "" {
		return nil, errors.New("mobile_money_b: api_key, site_id and webhook_secret are required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("mobile_money_b: invalid base url: %w", err)
	}
	return &MobileMoneyB{
		cfg:       cfg,
		baseURL:   strings.TrimRight(baseURL, "/"),
		returnURL: returnURL,
		tr:        newTransport(model.GatewayMobileMoneyB, opts),
	}, nil
}

func (g *MobileMoneyB) Name() model.Gateway { return model.GatewayMobileMoneyB }

// mmbEnvelope is the provider's response envelope. Code "201" and "00" are success.
type mmbEnvelope struct {
	Code        string          `json:"code"`
	Message     string          `json:"message"`
	Description string          `json:"description"`
	Data        json.RawMessage `json:"data"`
}

// mmbErrors maps provider error codes to (kind, reason).
var mmbErrors = map[string]struct {
	kind error
	code string
}{
	"609": {domain.ErrGatewayAuth, "unauthorized"},
	"613": {domain.ErrGatewayAuth, "unauthorized"},
	"608": {domain.ErrGatewayRejected, "invalid_request"},
	"624": {domain.ErrGatewayRejected, "invalid_request"},
	"641": {domain.ErrGatewayRejected, "invalid_amount"},
	"642": {domain.ErrGatewayRejected, "invalid_phone"},
	"660": {domain.ErrGatewayRejected, "duplicate_order"},
}

func (g *MobileMoneyB) post(ctx context.Context, op, path string, payload map[string]any) (*mmbEnvelope, error) {
	payload["apikey"] = g.cfg.APIKey
	payload["site_id"] = g.cfg.SiteID
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp, err := g.tr.do(ctx, op, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var env mmbEnvelope
	decodeErr := json.Unmarshal(resp.body, &env)
	if m, ok := mmbErrors[env.Code]; ok {
		return nil, &domain.GatewayError{Gateway: string(g.Name()), Kind: m.kind, Code: m.code, StatusCode: resp.status, Message: op + ": " + env.Message}
	}
	if err := classifyStatus(g.Name(), op, resp, ""); err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, domain.NewGatewayError(string(g.Name()), domain.ErrGatewayUnavailable, "bad_response", op+": undecodable body", decodeErr)
	}
	if env.Code != "201" && env.Code != "00" {
		return nil, &domain.GatewayError{Gateway: string(g.Name()), Kind: domain.ErrGatewayRejected, Code: "declined", StatusCode: resp.status, Message: op + ": " + env.Code + " " + env.Message}
	}
	return &env, nil
}

func (g *MobileMoneyB) Initiate(ctx context.Context, req adapter.InitiateRequest) (adapter.InitiateResult, error) {
	env, err := g.post(ctx, "initiate", "/v2/payment", map[string]any{
		"transaction_id":        req.AttemptID,
		"amount":                jsonAmount(req.Amount, model.CurrencyExponent(req.Currency)),
		"currency":              req.Currency,
		"description":           req.Description,
		"notify_url":            req.CallbackURL,
		"return_url":            g.returnURL,
		"channels":              "MOBILE_MONEY",
		"customer_phone_number": req.PayerContact,
	})
	if err != nil {
		return adapter.InitiateResult{}, err
	}
	var data struct {
		PaymentToken string `json:"payment_token"`
		PaymentURL   string `json:"payment_url"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.PaymentToken == "" {
		return adapter.InitiateResult{}, domain.NewGatewayError(string(g.Name()), domain.ErrGatewayUnavailable, "bad_response", "initiate: missing payment_token", err)
	}
	return adapter.InitiateResult{ExternalReference: data.PaymentToken, RedirectURL: data.PaymentURL}, nil
}

func mmbStatus(s string) (model.Outcome, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ACCEPTED":
		return model.OutcomeSuccess, true
	case "REFUSED", "CANCELED", "CANCELLED":
		return model.OutcomeFailure, true
	case "PENDING", "WAITING_CUSTOMER_PAYMENT", "WAITING_FOR_CUSTOMER":
		return model.OutcomePending, true
	default:
		return "", false
	}
}

type mmbTransaction struct {
	PaymentToken string     `json:"payment_token"`
	Status       string     `json:"status"`
	Amount       flexAmount `json:"amount"`
	Currency     string     `json:"currency"`
	OperatorID   string     `json:"operator_id"`
}

func (g *MobileMoneyB) VerifyStatus(ctx context.Context, externalReference string) (adapter.StatusResult, error) {
	if externalReference == "" {
		return adapter.StatusResult{}, domain.ErrInvalidArgument
	}
	env, err := g.post(ctx, "verify", "/v2/payment/check", map[string]any{"token": externalReference})
	if err != nil {
		return adapter.StatusResult{}, err
	}
	var tx mmbTransaction
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		return adapter.StatusResult{}, domain.NewGatewayError(string(g.Name()), domain.ErrGatewayUnavailable, "bad_response", "verify: undecodable data", err)
	}
	outcome, ok := mmbStatus(tx.Status)
	if !ok {
		return adapter.StatusResult{}, domain.NewGatewayError(string(g.Name()), domain.ErrGatewayUnavailable, "unknown_status", "verify: status "+tx.Status, nil)
	}
	return adapter.StatusResult{
		GatewayStatus:    tx.Status,
		Outcome:          outcome,
		Amount:           tx.Amount.Decimal,
		Currency:         model.NormalizeCurrency(tx.Currency),
		SettledReference: tx.OperatorID,
	}, nil
}

func (g *MobileMoneyB) ParseWebhook(_ context.Context, raw adapter.RawCallback) (adapter.NormalizedCallback, error) {
	if !verifyBodySignature(g.cfg.WebhookSecret, raw.Body, raw.Header.Get(SignatureHeader)) {
		return adapter.NormalizedCallback{}, fmt.Errorf("%w: bad signature", domain.ErrInvalidCallback)
	}
	var tx mmbTransaction
	if err := json.Unmarshal(raw.Body, &tx); err != nil {
		return adapter.NormalizedCallback{}, fmt.Errorf("%w: malformed body", domain.ErrInvalidCallback)
	}
	if tx.PaymentToken == "" || !tx.Amount.Set || tx.Currency == "" {
		return adapter.NormalizedCallback{}, fmt.Errorf("%w: missing fields", domain.ErrInvalidCallback)
	}
	outcome, ok := mmbStatus(tx.Status)
	if !ok {
		return adapter.NormalizedCallback{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidCallback, tx.Status)
	}
	return adapter.NormalizedCallback{
		ExternalReference: tx.PaymentToken,
		Outcome:           outcome,
		SettledReference:  tx.OperatorID,
		Amount:            tx.Amount.Decimal,
		Currency:          model.NormalizeCurrency(tx.Currency),
	}, nil
}
