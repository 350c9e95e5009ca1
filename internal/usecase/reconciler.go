package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/adapter"
	"membership-payments/internal/domain/ports/repository"
	"membership-payments/internal/infra/logging"
	"membership-payments/internal/infra/metrics"
)

// Compile-time check
var _ ReconcilerUseCase = (*reconcilerUC)(nil)

// SettleResult reports the state of an attempt after a callback or a poll.
type SettleResult struct {
	Attempt *model.PaymentAttempt
	// Applied is true when this call performed the terminal transition.
	Applied    bool
	Activation *ActivationResult
}

// ReconcilerUseCase turns gateway callbacks and status polls into ledger
// transitions and activations. Both paths end in the same settle step.
type ReconcilerUseCase interface {
	HandleWebhook(ctx context.Context, gw model.Gateway, raw adapter.RawCallback) (*SettleResult, error)
	CheckStatus(ctx context.Context, attemptID string) (*SettleResult, error)
	// ReconcilePending polls gateways for attempts pending longer than olderThan.
	ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
	// ResumeActivation re-runs activation for completed attempts that have no payment.
	ResumeActivation(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// observation is what a gateway told us about one transaction.
type observation struct {
	outcome    model.Outcome
	settledRef string
	amount     decimal.Decimal
	currency   string
	hasAmount  bool
}

type reconcilerUC struct {
	gateways  adapter.Gateways
	ledger    LedgerUseCase
	attempts  repository.AttemptRepository
	activator Activator
	notifier  adapter.Notifier
	log       *zerolog.Logger
	now       func() time.Time
}

func NewReconcilerUseCase(
	gateways adapter.Gateways,
	ledger LedgerUseCase,
	attempts repository.AttemptRepository,
	activator Activator,
	notifier adapter.Notifier,
	logger *zerolog.Logger,
) *reconcilerUC {
	return &reconcilerUC{
		gateways:  gateways,
		ledger:    ledger,
		attempts:  attempts,
		activator: activator,
		notifier:  notifier,
		log:       logger,
		now:       time.Now,
	}
}

func (u *reconcilerUC) HandleWebhook(ctx context.Context, gw model.Gateway, raw adapter.RawCallback) (*SettleResult, error) {
	defer logging.TraceDuration(u.log, "Reconciler.HandleWebhook")()
	ctx = logging.WithGateway(ctx, string(gw))

	g, err := u.gateways.Get(gw)
	if err != nil {
		return nil, err
	}
	cb, err := g.ParseWebhook(ctx, raw)
	if err != nil {
		metrics.IncWebhook(string(gw), "rejected")
		logging.With(ctx, u.log).Warn().Err(err).Msg("webhook rejected")
		return nil, err
	}

	a, err := u.attempts.FindByExternalReference(ctx, repository.NoTX, gw, cb.ExternalReference)
	if errors.Is(err, domain.ErrAttemptNotFound) {
		metrics.IncWebhook(string(gw), "unknown")
		logging.With(ctx, u.log).Warn().Str("external_reference", cb.ExternalReference).Msg("webhook for unknown attempt")
		return nil, err
	}
	if err != nil {
		metrics.IncWebhook(string(gw), "error")
		return nil, err
	}
	ctx = logging.WithAttemptID(ctx, a.ID)

	obs := observation{
		outcome:    cb.Outcome,
		settledRef: cb.SettledReference,
		amount:     cb.Amount,
		currency:   cb.Currency,
		hasAmount:  cb.Currency != "",
	}
	if cb.NeedsVerification {
		st, err := g.VerifyStatus(ctx, cb.ExternalReference)
		if err != nil {
			metrics.IncWebhook(string(gw), "verify_failed")
			return &SettleResult{Attempt: a}, fmt.Errorf("confirm callback: %w", err)
		}
		obs = fromStatus(st)
	}

	res, err := u.settle(ctx, a, obs)
	if err != nil {
		metrics.IncWebhook(string(gw), "error")
		return res, err
	}
	metrics.IncWebhook(string(gw), "processed")
	return res, nil
}

func fromStatus(st adapter.StatusResult) observation {
	return observation{
		outcome:    st.Outcome,
		settledRef: st.SettledReference,
		amount:     st.Amount,
		currency:   st.Currency,
		hasAmount:  st.Currency != "",
	}
}

func (u *reconcilerUC) CheckStatus(ctx context.Context, attemptID string) (*SettleResult, error) {
	a, err := u.ledger.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithGateway(logging.WithAttemptID(ctx, a.ID), string(a.Gateway))

	if a.Status == model.AttemptStatusCompleted {
		act, err := u.activator.Recorded(ctx, a)
		if err == nil {
			return &SettleResult{Attempt: a, Activation: act}, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return &SettleResult{Attempt: a}, err
		}
	}
	if a.IsTerminal() || a.ExternalReference == nil {
		return u.ensureActivated(ctx, &SettleResult{Attempt: a})
	}
	g, err := u.gateways.Get(a.Gateway)
	if err != nil {
		return nil, err
	}
	st, err := g.VerifyStatus(ctx, *a.ExternalReference)
	if err != nil {
		return &SettleResult{Attempt: a}, err
	}
	return u.settle(ctx, a, fromStatus(st))
}

// settle is the single place where an observation changes the ledger.
func (u *reconcilerUC) settle(ctx context.Context, a *model.PaymentAttempt, obs observation) (*SettleResult, error) {
	log := logging.With(ctx, u.log)

	switch obs.outcome {
	case model.OutcomeSuccess, model.OutcomeFailure:
	default:
		// still pending at the gateway
		return u.ensureActivated(ctx, &SettleResult{Attempt: a})
	}

	// A success without a settled amount cannot be checked and is not trusted.
	if obs.outcome == model.OutcomeSuccess && (!obs.hasAmount || !u.amountMatches(a, obs)) {
		return u.rejectAmount(ctx, a, obs)
	}

	updated, applied, err := u.ledger.Transition(ctx, a.ID, obs.outcome, obs.settledRef, model.FailureGatewayDeclined)
	if err != nil {
		return nil, err
	}
	res := &SettleResult{Attempt: updated, Applied: applied}
	if !applied && updated.Status != obs.outcome.Status() {
		metrics.IncOutcomeConflict(string(a.Gateway))
		log.Error().
			Str("recorded", string(updated.Status)).
			Str("reported", string(obs.outcome)).
			Msg("gateway reported a different outcome for a finalized attempt; keeping the recorded one")
	}
	return u.ensureActivated(ctx, res)
}

func (u *reconcilerUC) amountMatches(a *model.PaymentAttempt, obs observation) bool {
	return model.NormalizeCurrency(obs.currency) == a.Currency && model.AmountsEqual(a.Amount, obs.amount, a.Currency)
}

func (u *reconcilerUC) rejectAmount(ctx context.Context, a *model.PaymentAttempt, obs observation) (*SettleResult, error) {
	reported := "nothing"
	if obs.hasAmount {
		reported = obs.amount.String() + " " + obs.currency
	}
	metrics.IncAmountMismatch(string(a.Gateway))
	logging.With(ctx, u.log).Error().
		Str("expected", model.FormatAmount(a.Amount, a.Currency)+" "+a.Currency).
		Str("reported", reported).
		Msg("settled amount does not match the attempt")

	updated, applied, err := u.ledger.Transition(ctx, a.ID, model.OutcomeFailure, obs.settledRef, model.FailureAmountMismatch)
	if err != nil {
		return nil, err
	}
	if u.notifier != nil {
		n := adapter.Notification{
			Severity: adapter.SeverityCritical,
			Title:    "Amount mismatch",
			Body:     fmt.Sprintf("expected %s %s, gateway reported %s", model.FormatAmount(a.Amount, a.Currency), a.Currency, reported),
			Fields:   map[string]string{"attempt_id": a.ID, "gateway": string(a.Gateway), "user_id": a.UserID},
		}
		if err := u.notifier.Notify(ctx, n); err != nil {
			u.log.Warn().Err(err).Msg("amount mismatch alert dropped")
		}
	}
	return &SettleResult{Attempt: updated, Applied: applied}, domain.ErrAmountMismatch
}

// ensureActivated runs the activator for completed attempts. Activation is
// idempotent, so replays resume a previously failed activation.
func (u *reconcilerUC) ensureActivated(ctx context.Context, res *SettleResult) (*SettleResult, error) {
	if res.Attempt == nil || res.Attempt.Status != model.AttemptStatusCompleted {
		return res, nil
	}
	act, err := u.activator.Activate(ctx, res.Attempt)
	if err != nil {
		return res, fmt.Errorf("activate: %w", err)
	}
	res.Activation = act
	return res, nil
}

func (u *reconcilerUC) ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	defer logging.TraceDuration(u.log, "Reconciler.ReconcilePending")()

	pending, err := u.attempts.ListPendingOlderThan(ctx, repository.NoTX, u.now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}
	settled := 0
	var errs []error
	for _, a := range pending {
		if a.ExternalReference == nil {
			continue
		}
		res, err := u.CheckStatus(ctx, a.ID)
		if err != nil && !errors.Is(err, domain.ErrAmountMismatch) {
			errs = append(errs, fmt.Errorf("attempt %s: %w", a.ID, err))
			continue
		}
		if res != nil && res.Applied {
			settled++
		}
	}
	return settled, errors.Join(errs...)
}

func (u *reconcilerUC) ResumeActivation(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	defer logging.TraceDuration(u.log, "Reconciler.ResumeActivation")()

	stuck, err := u.attempts.ListCompletedWithoutPayment(ctx, repository.NoTX, u.now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}
	resumed := 0
	var errs []error
	for _, a := range stuck {
		if _, err := u.activator.Activate(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("attempt %s: %w", a.ID, err))
			continue
		}
		resumed++
	}
	if resumed > 0 {
		u.log.Info().Int("count", resumed).Msg("resumed activations")
	}
	return resumed, errors.Join(errs...)
}
