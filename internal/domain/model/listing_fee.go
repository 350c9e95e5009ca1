package model

import "time"

// ListingFeeConfirmation records that a marketplace listing fee was paid.
type ListingFeeConfirmation struct {
	ListingID   string
	PaymentID   string
	UserID      string
	ConfirmedAt time.Time
}
