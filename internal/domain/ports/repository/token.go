package repository

import (
	"context"

	"membership-payments/internal/domain/model"
)

// TokenRepository keeps token balances as a ledger of signed transactions.
type TokenRepository interface {
	// GetOrCreateSubscription returns the (user, category) token subscription, locking it when tx is set.
	GetOrCreateSubscription(ctx context.Context, tx Tx, userID, category string) (*model.TokenSubscription, error)
	// AppendTransaction inserts t; a purchase with an already-recorded PaymentID is a no-op returning false.
	AppendTransaction(ctx context.Context, tx Tx, t *model.TokenTransaction) (bool, error)
	// RefoldBalance recomputes token_balance as the sum of transactions and returns it.
	RefoldBalance(ctx context.Context, tx Tx, tokenSubscriptionID string) (int64, error)
	ListTransactions(ctx context.Context, tx Tx, tokenSubscriptionID string) ([]*model.TokenTransaction, error)
}
