package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/repository"
)

var _ repository.TokenRepository = (*tokenRepo)(nil)

type tokenRepo struct{ pool *pgxpool.Pool }

func NewTokenRepo(pool *pgxpool.Pool) *tokenRepo {
	return &tokenRepo{pool: pool}
}

// GetOrCreateSubscription inserts the (user, category) row if missing, then reads
// it back, locked when running inside a transaction.
func (r *tokenRepo) GetOrCreateSubscription(ctx context.Context, tx repository.Tx, userID, category string) (*model.TokenSubscription, error) {
	if userID == "" || category == "" {
		return nil, domain.ErrInvalidArgument
	}
	const ins = `
INSERT INTO token_subscriptions (id, user_id, service_category, token_balance, created_at, updated_at)
VALUES ($1, $2, $3, 0, $4, $4)
ON CONFLICT (user_id, service_category) DO NOTHING;`
	if _, err := execSQL(ctx, r.pool, tx, ins, uuid.NewString(), userID, category, time.Now().UTC()); err != nil {
		return nil, mapWriteErr(err)
	}

	q := forUpdate(`
SELECT id, user_id, service_category, token_balance, created_at, updated_at
  FROM token_subscriptions
 WHERE user_id=$1 AND service_category=$2`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, userID, category)
	if err != nil {
		return nil, err
	}
	var s model.TokenSubscription
	if err := row.Scan(&s.ID, &s.UserID, &s.ServiceCategory, &s.TokenBalance, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, mapScanErr(err)
	}
	return &s, nil
}

func (r *tokenRepo) AppendTransaction(ctx context.Context, tx repository.Tx, t *model.TokenTransaction) (bool, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO token_transactions (id, token_subscription_id, type, amount, payment_id, description, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (payment_id) DO NOTHING;`
	cmd, err := execSQL(ctx, r.pool, tx, q, t.ID, t.TokenSubscriptionID, string(t.Type), t.Amount, t.PaymentID, t.Description, t.CreatedAt)
	if err != nil {
		return false, mapWriteErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

// RefoldBalance fails with ErrInsufficientTokens when the fold would go negative.
func (r *tokenRepo) RefoldBalance(ctx context.Context, tx repository.Tx, tokenSubscriptionID string) (int64, error) {
	const q = `
UPDATE token_subscriptions
   SET token_balance = (SELECT COALESCE(SUM(amount), 0) FROM token_transactions WHERE token_subscription_id = $1),
       updated_at = NOW()
 WHERE id = $1
RETURNING token_balance;`
	row, err := pickRow(ctx, r.pool, tx, q, tokenSubscriptionID)
	if err != nil {
		return 0, err
	}
	var balance int64
	if err := row.Scan(&balance); err != nil {
		switch {
		case isCheckViolation(err):
			return 0, domain.ErrInsufficientTokens
		case err == pgx.ErrNoRows:
			return 0, domain.ErrNotFound
		default:
			return 0, domain.ErrOperationFailed
		}
	}
	return balance, nil
}

func (r *tokenRepo) ListTransactions(ctx context.Context, tx repository.Tx, tokenSubscriptionID string) ([]*model.TokenTransaction, error) {
	const q = `
SELECT id, token_subscription_id, type, amount, payment_id, description, created_at
  FROM token_transactions
 WHERE token_subscription_id = $1
 ORDER BY created_at ASC, id ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q, tokenSubscriptionID)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	defer rows.Close()

	var out []*model.TokenTransaction
	for rows.Next() {
		t := &model.TokenTransaction{}
		var typ string
		if err := rows.Scan(&t.ID, &t.TokenSubscriptionID, &typ, &t.Amount, &t.PaymentID, &t.Description, &t.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		t.Type = model.TokenTransactionType(typ)
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}
