package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/repository"
)

var _ repository.AttemptRepository = (*attemptRepo)(nil)

type attemptRepo struct{ pool *pgxpool.Pool }

func NewAttemptRepo(pool *pgxpool.Pool) *attemptRepo {
	return &attemptRepo{pool: pool}
}

const attemptColumns = `id, user_id, amount, currency, gateway, kind, external_reference, settled_reference, status, failure_reason, metadata, created_at, updated_at`

func scanAttempt(row pgx.Row) (*model.PaymentAttempt, error) {
	a := &model.PaymentAttempt{}
	var gw, kind, status, reason string
	if err := row.Scan(&a.ID, &a.UserID, &a.Amount, &a.Currency, &gw, &kind, &a.ExternalReference, &a.SettledReference, &status, &reason, &a.Metadata, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Gateway, a.Kind, a.Status, a.FailureReason = model.Gateway(gw), model.EntitlementKind(kind), model.AttemptStatus(status), model.FailureReason(reason)
	if a.Metadata == nil {
		a.Metadata = map[string]string{}
	}
	return a, nil
}

func (r *attemptRepo) Create(ctx context.Context, tx repository.Tx, a *model.PaymentAttempt) error {
	const q = `
INSERT INTO payment_attempts (` + attemptColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13);`
	_, err := execSQL(ctx, r.pool, tx, q,
		a.ID, a.UserID, a.Amount, a.Currency, string(a.Gateway), string(a.Kind), a.ExternalReference, a.SettledReference,
		string(a.Status), string(a.FailureReason), a.Metadata, a.CreatedAt, a.UpdatedAt)
	if err := mapWriteErr(err); err != nil {
		if err == domain.ErrStorageConflict {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *attemptRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentAttempt, error) {
	q := forUpdate(`SELECT `+attemptColumns+` FROM payment_attempts WHERE id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	a, err := scanAttempt(row)
	if err != nil {
		if mapScanErr(err) == domain.ErrNotFound {
			return nil, domain.ErrAttemptNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return a, nil
}

func (r *attemptRepo) FindByExternalReference(ctx context.Context, tx repository.Tx, gateway model.Gateway, ref string) (*model.PaymentAttempt, error) {
	const q = `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE gateway=$1 AND external_reference=$2`
	row, err := pickRow(ctx, r.pool, tx, q, string(gateway), ref)
	if err != nil {
		return nil, err
	}
	a, err := scanAttempt(row)
	if err != nil {
		if mapScanErr(err) == domain.ErrNotFound {
			return nil, domain.ErrAttemptNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return a, nil
}

// SetExternalReference writes once; later writes are ignored.
func (r *attemptRepo) SetExternalReference(ctx context.Context, tx repository.Tx, id, ref string) (bool, error) {
	const q = `
UPDATE payment_attempts
   SET external_reference = $2, updated_at = NOW()
 WHERE id = $1 AND external_reference IS NULL;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, ref)
	if err != nil {
		return false, mapWriteErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

// TransitionIfPending is the only status mutation: a compare-and-swap on 'pending'.
func (r *attemptRepo) TransitionIfPending(
	ctx context.Context, tx repository.Tx, id string, to model.AttemptStatus, settledRef *string, reason model.FailureReason,
) (bool, error) {
	if !to.Terminal() {
		return false, domain.ErrInvalidArgument
	}
	const q = `
UPDATE payment_attempts
   SET status = $2,
       settled_reference = COALESCE($3, settled_reference),
       failure_reason = $4,
       updated_at = NOW()
 WHERE id = $1
   AND status = 'pending';`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, string(to), settledRef, string(reason))
	if err != nil {
		return false, mapWriteErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *attemptRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.PaymentAttempt, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.PaymentAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}

func (r *attemptRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE status='pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	return r.list(ctx, tx, q, olderThan, limit)
}

func (r *attemptRepo) ListCompletedWithoutPayment(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ` + attemptColumns + `
  FROM payment_attempts a
 WHERE a.status = 'completed'
   AND a.updated_at < $1
   AND NOT EXISTS (SELECT 1 FROM payments p WHERE p.payment_attempt_id = a.id)
 ORDER BY a.updated_at ASC
 LIMIT $2;`
	return r.list(ctx, tx, q, olderThan, limit)
}
