package repository

import (
	"context"
	"time"

	"membership-payments/internal/domain/model"
)

// -----------------------------
// Payment attempts
// -----------------------------

type AttemptRepository interface {
	Create(ctx context.Context, tx Tx, a *model.PaymentAttempt) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.PaymentAttempt, error)
	FindByExternalReference(ctx context.Context, tx Tx, gateway model.Gateway, ref string) (*model.PaymentAttempt, error)
	// SetExternalReference writes the reference only if none is stored yet and
	// reports whether this call wrote it.
	SetExternalReference(ctx context.Context, tx Tx, id, ref string) (bool, error)
	// TransitionIfPending moves a pending attempt to a terminal status. It returns
	// false without error when the attempt was no longer pending.
	TransitionIfPending(ctx context.Context, tx Tx, id string, to model.AttemptStatus, settledRef *string, reason model.FailureReason) (bool, error)
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.PaymentAttempt, error)
	// ListCompletedWithoutPayment finds completed attempts whose activation never committed.
	ListCompletedWithoutPayment(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.PaymentAttempt, error)
}
