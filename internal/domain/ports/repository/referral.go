package repository

import (
	"context"

	"membership-payments/internal/domain/model"
)

// ReferralStore is the affiliate collaborator.
type ReferralStore interface {
	// FindReferrer resolves a referral code to the referrer's user id.
	FindReferrer(ctx context.Context, tx Tx, code string) (string, error)
	FindByReferredUser(ctx context.Context, tx Tx, userID string) (*model.Referral, error)
	// Attach links referredUserID to referrerID unless the user is already referred,
	// and returns the effective referral.
	Attach(ctx context.Context, tx Tx, referrerID, referredUserID, code string) (*model.Referral, error)
}

type CommissionRepository interface {
	// InsertIfAbsent is guarded by UNIQUE (referral_id, payment_id) and reports whether a row was created.
	InsertIfAbsent(ctx context.Context, tx Tx, c *model.Commission) (bool, error)
	ListByPayment(ctx context.Context, tx Tx, paymentID string) ([]*model.Commission, error)
}
