package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/repository"
)

// Compile-time check
var _ TokenUseCase = (*tokenUC)(nil)

// TokenUseCase spends emergency-assistance tokens.
type TokenUseCase interface {
	Balance(ctx context.Context, userID, category string) (int64, error)
	// Consume debits n tokens and returns the new balance. It never overdraws.
	Consume(ctx context.Context, userID, category string, n int64, description string) (int64, error)
}

type tokenUC struct {
	tokens repository.TokenRepository
	tm     repository.TransactionManager
	log    *zerolog.Logger
}

func NewTokenUseCase(tokens repository.TokenRepository, tm repository.TransactionManager, logger *zerolog.Logger) *tokenUC {
	return &tokenUC{tokens: tokens, tm: tm, log: logger}
}

func (u *tokenUC) Balance(ctx context.Context, userID, category string) (int64, error) {
	ts, err := u.tokens.GetOrCreateSubscription(ctx, repository.NoTX, userID, category)
	if err != nil {
		return 0, err
	}
	return ts.TokenBalance, nil
}

func (u *tokenUC) Consume(ctx context.Context, userID, category string, n int64, description string) (int64, error) {
	if n <= 0 {
		return 0, domain.ErrInvalidArgument
	}
	var balance int64
	err := u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		ts, err := u.tokens.GetOrCreateSubscription(ctx, tx, userID, category)
		if err != nil {
			return err
		}
		if ts.TokenBalance < n {
			return domain.ErrInsufficientTokens
		}
		if _, err := u.tokens.AppendTransaction(ctx, tx, &model.TokenTransaction{
			ID:                  uuid.NewString(),
			TokenSubscriptionID: ts.ID,
			Type:                model.TokenTxUsage,
			Amount:              -n,
			Description:         description,
			CreatedAt:           time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("append usage: %w", err)
		}
		balance, err = u.tokens.RefoldBalance(ctx, tx, ts.ID)
		return err
	})
	if err != nil {
		return 0, err
	}
	u.log.Debug().Str("user_id", userID).Str("category", category).Int64("balance", balance).Msg("tokens consumed")
	return balance, nil
}
