package repository

import (
	"context"

	"membership-payments/internal/domain/model"
)

// -----------------------------
// Payments
// -----------------------------

type PaymentRepository interface {
	// InsertIfAbsent inserts p unless a payment with the same reference exists.
	// It returns the stored row and whether this call created it.
	InsertIfAbsent(ctx context.Context, tx Tx, p *model.Payment) (*model.Payment, bool, error)
	FindByReference(ctx context.Context, tx Tx, ref string) (*model.Payment, error)
	FindByAttemptID(ctx context.Context, tx Tx, attemptID string) (*model.Payment, error)
	SetSubscriptionID(ctx context.Context, tx Tx, paymentID, subscriptionID string) error
	CountByAttemptID(ctx context.Context, tx Tx, attemptID string) (int, error)
}
