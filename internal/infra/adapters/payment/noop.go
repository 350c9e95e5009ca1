package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopGateway)(nil)

type noopIntent struct {
	amount   decimal.Decimal
	currency string
	outcome  model.Outcome
}

// NoopGateway is an in-memory gateway for dev mode and tests. Intents settle
// successfully unless Settle overrides the outcome.
type NoopGateway struct {
	mu      sync.Mutex
	seq     int64
	intents map[string]*noopIntent
}

func NewNoopGateway() *NoopGateway {
	return &NoopGateway{intents: make(map[string]*noopIntent)}
}

func (g *NoopGateway) Name() model.Gateway { return model.GatewayNoop }

func (g *NoopGateway) Initiate(_ context.Context, req adapter.InitiateRequest) (adapter.InitiateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	ref := fmt.Sprintf("noop-%d", g.seq)
	g.intents[ref] = &noopIntent{amount: req.Amount, currency: req.Currency, outcome: model.OutcomeSuccess}
	return adapter.InitiateResult{ExternalReference: ref, RedirectURL: "https://example.test/pay/" + ref}, nil
}

// Settle forces the outcome VerifyStatus reports for ref.
func (g *NoopGateway) Settle(ref string, outcome model.Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if in, ok := g.intents[ref]; ok {
		in.outcome = outcome
	}
}

func (g *NoopGateway) VerifyStatus(_ context.Context, ref string) (adapter.StatusResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[ref]
	if !ok {
		return adapter.StatusResult{}, &domain.GatewayError{Gateway: string(model.GatewayNoop), Kind: domain.ErrGatewayRejected, Code: "not_found"}
	}
	return adapter.StatusResult{
		GatewayStatus:    string(in.outcome),
		Outcome:          in.outcome,
		Amount:           in.amount,
		Currency:         in.currency,
		SettledReference: "ref-" + ref,
	}, nil
}

// ParseWebhook accepts {"reference": "...", "status": "success|failure"} and
// always asks for confirmation through VerifyStatus.
func (g *NoopGateway) ParseWebhook(_ context.Context, raw adapter.RawCallback) (adapter.NormalizedCallback, error) {
	var in struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(raw.Body, &in); err != nil || in.Reference == "" {
		return adapter.NormalizedCallback{}, domain.ErrInvalidCallback
	}
	switch o := model.Outcome(in.Status); o {
	case model.OutcomeSuccess, model.OutcomeFailure, model.OutcomePending:
		return adapter.NormalizedCallback{ExternalReference: in.Reference, Outcome: o, NeedsVerification: true}, nil
	default:
		return adapter.NormalizedCallback{}, domain.ErrInvalidCallback
	}
}
