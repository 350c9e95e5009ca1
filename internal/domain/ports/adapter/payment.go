package adapter

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
)

// InitiateRequest carries everything a gateway needs to start a collection.
type InitiateRequest struct {
	AttemptID    string // merchant-side order reference
	Amount       decimal.Decimal
	Currency     string
	PayerContact string // MSISDN for mobile money, card/customer ref for card
	Description  string
	CallbackURL  string
}

// InitiateResult is returned once the provider accepted the request.
// RedirectURL is set for hosted-page flows; Token for push/OTP flows.
type InitiateResult struct {
	ExternalReference string
	RedirectURL       string
	Token             string
}

// StatusResult is the provider's view of a transaction.
type StatusResult struct {
	GatewayStatus    string
	Outcome          model.Outcome
	Amount           decimal.Decimal
	Currency         string
	SettledReference string
}

// RawCallback is an inbound webhook as received over HTTP.
type RawCallback struct {
	Body   []byte
	Header http.Header
	Query  url.Values
}

// NormalizedCallback is a validated webhook in gateway-independent form.
type NormalizedCallback struct {
	ExternalReference string
	Outcome           model.Outcome
	SettledReference  string
	Amount            decimal.Decimal
	Currency          string
	// NeedsVerification is set when the payload is not authenticated and must be
	// confirmed with VerifyStatus before any state change.
	NeedsVerification bool
}

// PaymentGateway is the hex port for payment providers. Errors are *domain.GatewayError
// for provider calls and domain.ErrInvalidCallback for webhook validation.
type PaymentGateway interface {
	Name() model.Gateway
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error)
	VerifyStatus(ctx context.Context, externalReference string) (StatusResult, error)
	ParseWebhook(ctx context.Context, raw RawCallback) (NormalizedCallback, error)
}

// Gateways maps each enabled gateway to its adapter.
type Gateways map[model.Gateway]PaymentGateway

// Get returns the adapter for gw or domain.ErrUnknownGateway.
func (g Gateways) Get(gw model.Gateway) (PaymentGateway, error) {
	if p, ok := g[gw]; ok && p != nil {
		return p, nil
	}
	return nil, domain.ErrUnknownGateway
}
