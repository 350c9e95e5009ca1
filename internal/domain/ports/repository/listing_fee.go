package repository

import (
	"context"

	"membership-payments/internal/domain/model"
)

type ListingFeeRepository interface {
	// Confirm records the confirmation unless the listing is already confirmed.
	Confirm(ctx context.Context, tx Tx, c *model.ListingFeeConfirmation) (bool, error)
	IsConfirmed(ctx context.Context, tx Tx, listingID string) (bool, error)
}
