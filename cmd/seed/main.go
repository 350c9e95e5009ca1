package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"membership-payments/internal/config"
	"membership-payments/internal/domain/model"
	pg "membership-payments/internal/infra/db/postgres"
	"membership-payments/internal/usecase"
)

// seed upserts the plan catalog from the config file and prints it.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	planUC := usecase.NewPlanUseCase(pg.NewPostgresPlanRepo(pool))
	if err := planUC.Seed(ctx, cfg.Plans); err != nil {
		log.Fatalf("seed plans: %v", err)
	}
	plans, err := planUC.List(ctx)
	if err != nil {
		log.Fatalf("list plans: %v", err)
	}
	fmt.Printf("%d plans in catalog:\n", len(plans))
	for _, p := range plans {
		fmt.Printf("  - %s tier=%s days=%d price=%s %s\n", p.Code, p.Tier, p.DurationDays, model.FormatAmount(p.Price, p.Currency), p.Currency)
	}
}
