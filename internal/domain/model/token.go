package model

import "time"

type TokenTransactionType string

const (
	TokenTxPurchase TokenTransactionType = "purchase"
	TokenTxUsage    TokenTransactionType = "usage"
)

// TokenSubscription holds the emergency-assistance token balance of a user for
// one service category. TokenBalance is always the fold of its transactions.
type TokenSubscription struct {
	ID              string
	UserID          string
	ServiceCategory string
	TokenBalance    int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TokenTransaction is one signed, immutable change to a token balance.
type TokenTransaction struct {
	ID                  string
	TokenSubscriptionID string
	Type                TokenTransactionType
	Amount              int64 // positive for purchase, negative for usage
	PaymentID           *string
	Description         string
	CreatedAt           time.Time
}

// FoldBalance recomputes a balance from its transactions.
func FoldBalance(txs []*TokenTransaction) int64 {
	var sum int64
	for _, t := range txs {
		sum += t.Amount
	}
	return sum
}
