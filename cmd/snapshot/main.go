// Package main exports power and supply snapshots from the escrow
// ledger in PostgreSQL to the analytics tables in ClickHouse. It runs
// one export by default, or continuously with --interval.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"veledger/internal/custody"
	"veledger/internal/escrow"
	"veledger/internal/ownership"
	"veledger/internal/snapshot"
	chstore "veledger/internal/storage/clickhouse"
	"veledger/internal/storage/migrations"
	pgstore "veledger/internal/storage/postgres"
)

func main() {
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	interval := flag.Duration("interval", 0, "Export interval (0 runs a single export and exits)")
	flag.Parse()

	logger := log.New(os.Stdout, "[snapshot] ", log.LstdFlags|log.Lshortfile)

	if *postgresDSN == "" || *clickhouseDSN == "" {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, stopping...", sig)
		cancel()
	}()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer pool.Close()

	chConn, err := migrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
	if err != nil {
		logger.Fatalf("Failed to prepare ClickHouse: %v", err)
	}
	defer chConn.Close()

	// The engine is hydrated read-only here; the registry and vault are
	// rebuilt from the ledger and never mutated.
	engine, err := escrow.New(ctx, escrow.Options{
		Store:    pgstore.NewEscrowStore(pool),
		Registry: ownership.NewRegistry(),
		Vault:    custody.NewTokenVault(),
		Logger:   logger,
	})
	if err != nil {
		logger.Fatalf("Failed to load ledger: %v", err)
	}

	exporter := snapshot.NewExporter(engine,
		chstore.NewPowerSnapshotStore(chConn),
		chstore.NewSupplySnapshotStore(chConn),
		logger)

	if *interval <= 0 {
		if err := exporter.Run(ctx); err != nil {
			logger.Fatalf("Export failed: %v", err)
		}
		logger.Println("Export complete")
		return
	}

	logger.Printf("Exporting every %v", *interval)
	exporter.RunPeriodic(ctx, *interval)
	logger.Println("Stopped")
}
