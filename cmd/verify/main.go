// Package main audits a stored escrow ledger against its structural
// invariants and prints a report. It exits non-zero when violations
// are found, so it can gate deployments and run from cron.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	pgstore "veledger/internal/storage/postgres"
	"veledger/internal/verification"
)

func main() {
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	verbose := flag.Bool("verbose", false, "Print per-section counts even when the ledger is clean")
	flag.Parse()

	logger := log.New(os.Stderr, "[verify] ", log.LstdFlags)

	if *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required")
	}

	ctx := context.Background()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer pool.Close()

	st, err := pgstore.NewEscrowStore(pool).Load(ctx)
	if err != nil {
		logger.Fatalf("Failed to load ledger: %v", err)
	}

	report := verification.Verify(st)

	if *verbose || !report.Clean() {
		fmt.Printf("global checkpoints: %d\n", report.GlobalPoints)
		fmt.Printf("locks:              %d (%d active)\n", report.Locks, report.ActiveLocks)
	}

	if report.Clean() {
		fmt.Println("ledger OK")
		return
	}

	fmt.Printf("%d violation(s):\n", len(report.Violations))
	for _, v := range report.Violations {
		fmt.Printf("  %s\n", v)
	}
	os.Exit(1)
}
