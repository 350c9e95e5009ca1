package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/repository"
	"membership-payments/internal/infra/logging"
	"membership-payments/internal/infra/metrics"
)

// Compile-time check
var _ LedgerUseCase = (*ledgerUC)(nil)

// NewAttempt carries the validated input of a payment initiation.
type NewAttempt struct {
	ID       string
	UserID   string
	Amount   decimal.Decimal
	Currency string
	Gateway  model.Gateway
	Kind     model.EntitlementKind
	Metadata map[string]string
}

// LedgerUseCase owns the PaymentAttempt state machine. Every status change goes
// through Transition, which applies at most once per attempt.
type LedgerUseCase interface {
	CreateAttempt(ctx context.Context, in NewAttempt) (*model.PaymentAttempt, error)
	Get(ctx context.Context, attemptID string) (*model.PaymentAttempt, error)
	// Transition moves a pending attempt to the status implied by outcome. Losers
	// get the current attempt back with applied=false and no error.
	Transition(ctx context.Context, attemptID string, outcome model.Outcome, settledRef string, reason model.FailureReason) (*model.PaymentAttempt, bool, error)
	SetExternalReference(ctx context.Context, attemptID, ref string) error
	Cancel(ctx context.Context, attemptID string) (*model.PaymentAttempt, error)
	ExpireStale(ctx context.Context, ttl time.Duration, limit int) (int, error)
}

type ledgerUC struct {
	attempts repository.AttemptRepository
	log      *zerolog.Logger
	now      func() time.Time
}

func NewLedgerUseCase(attempts repository.AttemptRepository, logger *zerolog.Logger) *ledgerUC {
	return &ledgerUC{attempts: attempts, log: logger, now: time.Now}
}

func (u *ledgerUC) CreateAttempt(ctx context.Context, in NewAttempt) (*model.PaymentAttempt, error) {
	a, err := model.NewPaymentAttempt(in.ID, in.UserID, in.Amount, in.Currency, in.Gateway, in.Kind, in.Metadata)
	if err != nil {
		return nil, err
	}
	if err := u.attempts.Create(ctx, repository.NoTX, a); err != nil {
		return nil, err
	}
	metrics.IncAttempt(string(a.Gateway), string(a.Status))
	return a, nil
}

func (u *ledgerUC) Get(ctx context.Context, attemptID string) (*model.PaymentAttempt, error) {
	return u.attempts.FindByID(ctx, repository.NoTX, attemptID)
}

func (u *ledgerUC) Transition(ctx context.Context, attemptID string, outcome model.Outcome, settledRef string, reason model.FailureReason) (*model.PaymentAttempt, bool, error) {
	to := outcome.Status()
	if !to.Terminal() {
		a, err := u.attempts.FindByID(ctx, repository.NoTX, attemptID)
		return a, false, err
	}
	if to == model.AttemptStatusCompleted {
		reason = model.FailureNone
	} else if reason == model.FailureNone {
		reason = model.FailureGatewayDeclined
	}
	var ref *string
	if settledRef != "" {
		ref = &settledRef
	}

	applied, err := u.attempts.TransitionIfPending(ctx, repository.NoTX, attemptID, to, ref, reason)
	if err != nil {
		return nil, false, err
	}
	a, err := u.attempts.FindByID(ctx, repository.NoTX, attemptID)
	if err != nil {
		return nil, applied, err
	}
	if applied {
		metrics.IncAttempt(string(a.Gateway), string(a.Status))
		logging.With(ctx, u.log).Info().
			Str("attempt_id", a.ID).
			Str("status", string(a.Status)).
			Str("reason", string(a.FailureReason)).
			Msg("payment attempt finalized")
	}
	return a, applied, nil
}

func (u *ledgerUC) SetExternalReference(ctx context.Context, attemptID, ref string) error {
	if ref == "" {
		return domain.ErrInvalidArgument
	}
	wrote, err := u.attempts.SetExternalReference(ctx, repository.NoTX, attemptID, ref)
	if err != nil {
		return err
	}
	if !wrote {
		u.log.Debug().Str("attempt_id", attemptID).Msg("external reference already set; keeping the first one")
	}
	return nil
}

// Cancel fails a pending attempt on the user's request.
func (u *ledgerUC) Cancel(ctx context.Context, attemptID string) (*model.PaymentAttempt, error) {
	a, applied, err := u.Transition(ctx, attemptID, model.OutcomeFailure, "", model.FailureCancelled)
	if err != nil {
		return nil, err
	}
	if !applied {
		return a, domain.ErrAttemptTerminal
	}
	return a, nil
}

// ExpireStale fails attempts left pending longer than ttl and returns how many it finalized.
func (u *ledgerUC) ExpireStale(ctx context.Context, ttl time.Duration, limit int) (int, error) {
	defer logging.TraceDuration(u.log, "LedgerUC.ExpireStale")()

	stale, err := u.attempts.ListPendingOlderThan(ctx, repository.NoTX, u.now().Add(-ttl), limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	var errs []error
	for _, a := range stale {
		_, applied, err := u.Transition(ctx, a.ID, model.OutcomeFailure, "", model.FailureExpired)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if applied {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}
