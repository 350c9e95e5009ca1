package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type CommissionStatus string

const (
	CommissionStatusPending   CommissionStatus = "pending"
	CommissionStatusPaid      CommissionStatus = "paid"
	CommissionStatusCancelled CommissionStatus = "cancelled"
)

// Referral links a referrer to a user who signed up with their code.
type Referral struct {
	ID             string
	ReferrerID     string
	ReferredUserID string
	Code           string
}

// Commission is owed to a referrer for a referred user's completed payment.
// At most one exists per (referral, payment).
type Commission struct {
	ID               string
	ReferralID       string
	ReferrerID       string
	ReferredUserID   string
	PaymentID        string
	PaymentAmount    decimal.Decimal
	CommissionRate   decimal.Decimal
	CommissionAmount decimal.Decimal
	Currency         string
	Status           CommissionStatus
	CreatedAt        time.Time
}

// ComputeCommission applies rate to amount, rounded down to the currency precision.
func ComputeCommission(amount, rate decimal.Decimal, currency string) decimal.Decimal {
	return amount.Mul(rate).RoundFloor(CurrencyExponent(currency))
}
