package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"membership-payments/internal/config"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/repository"
)

// PlanUseCase manages the membership plan catalog.
type PlanUseCase struct {
	repo repository.PlanRepository
}

// NewPlanUseCase constructs a PlanUseCase.
func NewPlanUseCase(repo repository.PlanRepository) *PlanUseCase {
	return &PlanUseCase{repo: repo}
}

// Seed upserts the configured plans so the catalog matches configuration.
func (uc *PlanUseCase) Seed(ctx context.Context, plans []config.PlanConfig) error {
	for _, pc := range plans {
		price, err := decimal.NewFromString(pc.Price)
		if err != nil {
			return fmt.Errorf("plan %s: price: %w", pc.Code, err)
		}
		plan, err := model.NewMembershipPlan(pc.Code, pc.Tier, pc.DurationDays, price, pc.Currency, pc.Recurring)
		if err != nil {
			return fmt.Errorf("plan %s: %w", pc.Code, err)
		}
		if err := uc.repo.Upsert(ctx, repository.NoTX, plan); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves a plan by code.
func (uc *PlanUseCase) Get(ctx context.Context, code string) (*model.MembershipPlan, error) {
	return uc.repo.FindByCode(ctx, repository.NoTX, code)
}

// List returns all plans.
func (uc *PlanUseCase) List(ctx context.Context) ([]*model.MembershipPlan, error) {
	return uc.repo.ListAll(ctx, repository.NoTX)
}
