package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusExpired   PaymentStatus = "expired"
)

// Payment is the finalized record of money that moved. Exactly one exists per
// completed PaymentAttempt, keyed by PaymentReference.
type Payment struct {
	ID               string
	UserID           string
	PaymentAttemptID string
	SubscriptionID   *string // set when the payment funds a subscription
	Amount           decimal.Decimal
	Currency         string
	Status           PaymentStatus
	PaymentMethod    string // gateway name
	PaymentReference string // unique
	PaidAt           time.Time
	Metadata         map[string]string
	CreatedAt        time.Time
}
