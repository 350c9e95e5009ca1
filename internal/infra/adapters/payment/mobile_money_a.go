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

	"membership-payments/internal/config"
	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*MobileMoneyA)(nil)

// MobileMoneyA talks to the OAuth2-protected web-payment API of the first
// mobile-money provider. Callbacks are not signed, so every callback is
// confirmed with VerifyStatus before it is trusted.
type MobileMoneyA struct {
	cfg       config.MobileMoneyAConfig
	baseURL   string
	returnURL string
	tr        *transport
	tokens    *tokenCache
}

func NewMobileMoneyA(cfg config.MobileMoneyAConfig, baseURL, returnURL string, opts Options) (*MobileMoneyA, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.MerchantKey == "" {
		return nil, errors.New("mobile_money_a: client_id, client_secret and merchant_key are required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("mobile_money_a: invalid base url: %w", err)
	}
	g := &MobileMoneyA{
		cfg:       cfg,
		baseURL:   strings.TrimRight(baseURL, "/"),
		returnURL: returnURL,
		tr:        newTransport(model.GatewayMobileMoneyA, opts),
	}
	g.tokens = newTokenCache(string(model.GatewayMobileMoneyA), g.tr.opts.Now, g.fetchToken)
	return g, nil
}

func (g *MobileMoneyA) Name() model.Gateway { return model.GatewayMobileMoneyA }

func (g *MobileMoneyA) fetchToken(ctx context.Context) (string, time.Time, error) {
	resp, err := g.tr.do(ctx, "token", func(ctx context.Context) (*http.Request, error) {
		form := url.Values{"grant_type": {"client_credentials"}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/oauth/v3/token", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(g.cfg.ClientID, g.cfg.ClientSecret)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return "", time.Time{}, err
	}
	if resp.status != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("token endpoint returned %d", resp.status)
	}
	var out struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token: %w", err)
	}
	ttl := time.Duration(out.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	return out.AccessToken, g.tr.opts.Now().Add(ttl), nil
}

// authorized runs an API call with a bearer token. A 401 drops the cached token.
func (g *MobileMoneyA) authorized(ctx context.Context, op, method, path string, payload any) (*response, error) {
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
		req.Header.Set("Accept", "application/json")
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
	return resp, nil
}

type mmaError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var mmaErrorCodes = map[string]string{
	"INVALID_MSISDN":     "invalid_phone",
	"INSUFFICIENT_FUNDS": "insufficient_funds",
	"INVALID_AMOUNT":     "invalid_amount",
	"LIMIT_EXCEEDED":     "limit_exceeded",
	"DUPLICATE_ORDER":    "duplicate_order",
}

func (g *MobileMoneyA) rejection(op string, resp *response) error {
	var e mmaError
	_ = json.Unmarshal(resp.body, &e)
	return classifyStatus(g.Name(), op, resp, mmaErrorCodes[strings.ToUpper(e.Code)])
}

func (g *MobileMoneyA) Initiate(ctx context.Context, req adapter.InitiateRequest) (adapter.InitiateResult, error) {
	payload := map[string]any{
		"merchant_key":    g.cfg.MerchantKey,
		"currency":        req.Currency,
		"order_id":        req.AttemptID,
		"amount":          jsonAmount(req.Amount, model.CurrencyExponent(req.Currency)),
		"return_url":      g.returnURL,
		"cancel_url":      g.returnURL,
		"notif_url":       req.CallbackURL,
		"lang":            "fr",
		"reference":       req.Description,
		"customer_msisdn": req.PayerContact,
	}
	resp, err := g.authorized(ctx, "initiate", http.MethodPost, "/webpayment/v1/payments", payload)
	if err != nil {
		return adapter.InitiateResult{}, err
	}
	if err := g.rejection("initiate", resp); err != nil {
		return adapter.InitiateResult{}, err
	}
	var out struct {
		Status     int    `json:"status"`
		Message    string `json:"message"`
		PayToken   string `json:"pay_token"`
		PaymentURL string `json:"payment_url"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil || out.PayToken == "" {
		return adapter.InitiateResult{}, domain.NewGatewayError(string(g.Name()), domain.ErrGatewayUnavailable, "bad_response", "initiate: missing pay_token", err)
	}
	return adapter.InitiateResult{ExternalReference: out.PayToken, RedirectURL: out.PaymentURL, Token: out.PayToken}, nil
}

// mmaStatus maps provider transaction statuses; anything else is unknown.
func mmaStatus(s string) (model.Outcome, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCESS", "SUCCESSFULL", "SUCCESSFUL":
		return model.OutcomeSuccess, true
	case "FAILED", "EXPIRED", "CANCELLED", "CANCELED":
		return model.OutcomeFailure, true
	case "PENDING", "INITIATED":
		return model.OutcomePending, true
	default:
		return "", false
	}
}

func (g *MobileMoneyA) VerifyStatus(ctx context.Context, externalReference string) (adapter.StatusResult, error) {
	if externalReference == "" {
		return adapter.StatusResult{}, domain.ErrInvalidArgument
	}
	resp, err := g.authorized(ctx, "verify", http.MethodGet, "/webpayment/v1/transactions/"+url.PathEscape(externalReference), nil)
	if err != nil {
		return adapter.StatusResult{}, err
	}
	if err := g.rejection("verify", resp); err != nil {
		return adapter.StatusResult{}, err
	}
	var out struct {
		Status   string     `json:"status"`
		TxnID    string     `json:"txnid"`
		Amount   flexAmount `json:"amount"`
		Currency string     `json:"currency"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return adapter.StatusResult{}, domain.NewGatewayError(string(g.Name()), domain.ErrGatewayUnavailable, "bad_response", "verify: undecodable body", err)
	}
	outcome, ok := mmaStatus(out.Status)
	if !ok {
		return adapter.StatusResult{}, domain.NewGatewayError(string(g.Name()), domain.ErrGatewayUnavailable, "unknown_status", "verify: status "+out.Status, nil)
	}
	return adapter.StatusResult{
		GatewayStatus:    out.Status,
		Outcome:          outcome,
		Amount:           out.Amount.Decimal,
		Currency:         model.NormalizeCurrency(out.Currency),
		SettledReference: out.TxnID,
	}, nil
}

// ParseWebhook accepts the JSON notification or the query-string redirect form.
// The result always needs confirmation through VerifyStatus.
func (g *MobileMoneyA) ParseWebhook(_ context.Context, raw adapter.RawCallback) (adapter.NormalizedCallback, error) {
	var in struct {
		Status   string `json:"status"`
		PayToken string `json:"pay_token"`
		TxnID    string `json:"txnid"`
	}
	if len(bytes.TrimSpace(raw.Body)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw.Body))
		if err := dec.Decode(&in); err != nil {
			return adapter.NormalizedCallback{}, fmt.Errorf("%w: malformed body", domain.ErrInvalidCallback)
		}
	} else {
		in.Status = raw.Query.Get("status")
		in.PayToken = raw.Query.Get("pay_token")
		in.TxnID = raw.Query.Get("txnid")
	}
	if strings.TrimSpace(in.PayToken) == "" {
		return adapter.NormalizedCallback{}, fmt.Errorf("%w: missing pay_token", domain.ErrInvalidCallback)
	}
	outcome, ok := mmaStatus(in.Status)
	if !ok {
		return adapter.NormalizedCallback{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidCallback, in.Status)
	}
	return adapter.NormalizedCallback{
		ExternalReference: in.PayToken,
		Outcome:           outcome,
		SettledReference:  in.TxnID,
		NeedsVerification: true,
	}, nil
}
