//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/adapter"
	"membership-payments/internal/infra/db/memory"
	"membership-payments/internal/usecase"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// ---- Mock PaymentGateway ----

type MockGateway struct {
	mu          sync.Mutex
	verifyCalls int

	NameValue        model.Gateway
	InitiateFunc     func(ctx context.Context, req adapter.InitiateRequest) (adapter.InitiateResult, error)
	VerifyStatusFunc func(ctx context.Context, ref string) (adapter.StatusResult, error)
	ParseWebhookFunc func(ctx context.Context, raw adapter.RawCallback) (adapter.NormalizedCallback, error)
}

var _ adapter.PaymentGateway = (*MockGateway)(nil)

func (m *MockGateway) Name() model.Gateway { return m.NameValue }

func (m *MockGateway) Initiate(ctx context.Context, req adapter.InitiateRequest) (adapter.InitiateResult, error) {
	if m.InitiateFunc != nil {
		return m.InitiateFunc(ctx, req)
	}
	return adapter.InitiateResult{ExternalReference: "ext-" + req.AttemptID, RedirectURL: "https://pay.test/" + req.AttemptID}, nil
}

func (m *MockGateway) VerifyStatus(ctx context.Context, ref string) (adapter.StatusResult, error) {
	m.mu.Lock()
	m.verifyCalls++
	m.mu.Unlock()
	if m.VerifyStatusFunc != nil {
		return m.VerifyStatusFunc(ctx, ref)
	}
	return adapter.StatusResult{Outcome: model.OutcomePending}, nil
}

func (m *MockGateway) ParseWebhook(ctx context.Context, raw adapter.RawCallback) (adapter.NormalizedCallback, error) {
	return m.ParseWebhookFunc(ctx, raw)
}

func (m *MockGateway) VerifyCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifyCalls
}

// ---- Mock Notifier ----

type MockNotifier struct {
	mu   sync.Mutex
	Sent []adapter.Notification
}

func (m *MockNotifier) Notify(_ context.Context, n adapter.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, n)
	return nil
}

func (m *MockNotifier) CountSeverity(s adapter.Severity) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, x := range m.Sent {
		if x.Severity == s {
			n++
		}
	}
	return n
}

// ---- test engine ----

// engine wires the ledger, activator and reconciler over one in-memory store.
type engine struct {
	store      *memory.Store
	gateway    *MockGateway
	notifier   *MockNotifier
	ledger     usecase.LedgerUseCase
	activator  usecase.Activator
	reconciler usecase.ReconcilerUseCase
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	store := memory.New()
	gw := &MockGateway{NameValue: model.GatewayMobileMoneyB}
	notifier := &MockNotifier{}
	logger := newTestLogger()

	premium, err := model.NewMembershipPlan("premium", "premium", 30, decimal.NewFromInt(10000), "XOF", false)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	_ = store.Plans().Upsert(context.Background(), nil, premium)
	basic, _ := model.NewMembershipPlan("basic", "basic", 30, decimal.NewFromInt(5000), "XOF", false)
	_ = store.Plans().Upsert(context.Background(), nil, basic)

	ledger := usecase.NewLedgerUseCase(store.Attempts(), logger)
	activator := usecase.NewActivator(usecase.ActivatorDeps{
		Payments:    store.Payments(),
		Subs:        store.Subscriptions(),
		Members:     store.Members(),
		Plans:       store.Plans(),
		Tokens:      store.Tokens(),
		ListingFees: store.ListingFees(),
		Referrals:   store.Referrals(),
		Commissions: store.Commissions(),
		TxManager:   store,
		Notifier:    notifier,
	}, decimal.RequireFromString("0.10"), logger)
	reconciler := usecase.NewReconcilerUseCase(
		adapter.Gateways{gw.Name(): gw}, ledger, store.Attempts(), activator, notifier, logger,
	)
	return &engine{store: store, gateway: gw, notifier: notifier, ledger: ledger, activator: activator, reconciler: reconciler}
}

// pendingAttempt creates an attempt with an external reference, as after a successful initiate.
func (e *engine) pendingAttempt(t *testing.T, kind model.EntitlementKind, amount int64, meta map[string]string) *model.PaymentAttempt {
	t.Helper()
	ctx := context.Background()
	a, err := e.ledger.CreateAttempt(ctx, usecase.NewAttempt{
		UserID:   "user-1",
		Amount:   decimal.NewFromInt(amount),
		Currency: "XOF",
		Gateway:  e.gateway.Name(),
		Kind:     kind,
		Metadata: meta,
	})
	if err != nil {
		t.Fatalf("create attempt: %v", err)
	}
	if err := e.ledger.SetExternalReference(ctx, a.ID, "ext-"+a.ID); err != nil {
		t.Fatalf("set external reference: %v", err)
	}
	a, _ = e.ledger.Get(ctx, a.ID)
	return a
}

// callbackReporting makes ParseWebhook report outcome and amount for any body.
func (e *engine) callbackReporting(ref string, outcome model.Outcome, amount string, settled string) {
	e.gateway.ParseWebhookFunc = func(ctx context.Context, raw adapter.RawCallback) (adapter.NormalizedCallback, error) {
		return adapter.NormalizedCallback{
			ExternalReference: ref,
			Outcome:           outcome,
			SettledReference:  settled,
			Amount:            decimal.RequireFromString(amount),
			Currency:          "XOF",
		}, nil
	}
}

func membershipMeta() map[string]string {
	return map[string]string{model.MetaPlan: "premium", model.MetaAudience: "adult"}
}
