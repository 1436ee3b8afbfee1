// Command monthly-reset flips every student back to non_a_jour for the new
// month. Meant to run from cron on the 1st; safe to re-run.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"scolara.org/internal/auth"
	"scolara.org/internal/config"
	"scolara.org/internal/ledger"
	"scolara.org/internal/obs"
	"scolara.org/internal/store/pg"
	"scolara.org/internal/tenant"
)

func main() {
	log.SetFlags(0)
	timeout := flag.Duration("timeout", 10*time.Minute, "overall run deadline")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.PGDSN == "" {
		log.Fatal("SCOLARA_PG_DSN is required")
	}
	obs.Init()

	store, err := pg.Open(cfg.PGDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	svc := ledger.NewService(store, auth.NewResolver(store), tenant.NewResolver(store))
	report, err := svc.ResetMensuel(ctx)
	if err != nil {
		log.Fatalf("monthly reset: %v", err)
	}
	log.Printf("monthly reset done: %d ecoles, %d eleves, %d failures",
		report.Ecoles, report.Eleves, report.Failures)
	if report.Failures > 0 {
		log.Fatal("some schools failed, see logs above")
	}
}
