// Package main runs the vote-escrow service: the checkpoint engine
// with durable PostgreSQL state, a JSON HTTP API for lock mutations
// and power queries, a WebSocket change feed, and a scheduled snapshot
// export to ClickHouse.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"veledger/internal/custody"
	"veledger/internal/escrow"
	"veledger/internal/notify"
	"veledger/internal/observability"
	"veledger/internal/ownership"
	"veledger/internal/snapshot"
	"veledger/internal/storage"
	chstore "veledger/internal/storage/clickhouse"
	"veledger/internal/storage/memory"
	"veledger/internal/storage/migrations"
	pgstore "veledger/internal/storage/postgres"
)

// Server wires the engine to its HTTP surface.
type Server struct {
	engine        *escrow.Engine
	registry      *ownership.Registry
	vault         *custody.TokenVault
	hub           *notify.Hub
	logger        *log.Logger
	faucetEnabled bool
	started       time.Time
}

func main() {
	loadEnvFile()

	listenAddr := flag.String("listen-addr", envOr("LISTEN_ADDR", ":8080"), "HTTP listen address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	snapshotInterval := flag.Duration("snapshot-interval", 15*time.Minute, "Snapshot export interval (0 disables)")
	faucet := flag.Bool("faucet", false, "Enable the dev faucet endpoint for funding accounts")
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	escrowStore, snapStores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory, logger)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	registry := ownership.NewRegistry()
	vault := custody.NewTokenVault()
	hub := notify.NewHub(notify.DefaultHubConfig(), log.New(os.Stdout, "[notify] ", log.LstdFlags))

	engine, err := escrow.New(ctx, escrow.Options{
		Store:    escrowStore,
		Registry: registry,
		Vault:    vault,
		Notifier: hub,
		Logger:   log.New(os.Stdout, "[escrow] ", log.LstdFlags),
	})
	if err != nil {
		logger.Fatalf("Failed to start engine: %v", err)
	}

	server := &Server{
		engine:        engine,
		registry:      registry,
		vault:         vault,
		hub:           hub,
		logger:        logger,
		faucetEnabled: *faucet,
		started:       time.Now(),
	}

	if snapStores != nil && *snapshotInterval > 0 {
		exporter := snapshot.NewExporter(engine, snapStores.powers, snapStores.supply,
			log.New(os.Stdout, "[snapshot] ", log.LstdFlags))
		go exporter.RunPeriodic(ctx, *snapshotInterval)
		logger.Printf("Snapshot export every %v", *snapshotInterval)
	}

	httpServer := &http.Server{
		Addr:    *listenAddr,
		Handler: server.routes(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		hub.Close(shutdownCtx)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP shutdown: %v", err)
		}
	}()

	logger.Printf("Listening on %s", *listenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("HTTP server error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// snapshotStores bundles the analytics stores.
type snapshotStores struct {
	powers storage.PowerSnapshotStore
	supply storage.SupplySnapshotStore
}

// createStores creates the escrow store and, when configured, the
// snapshot stores, running migrations on both databases.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool, logger *log.Logger) (storage.EscrowStore, *snapshotStores, func(), error) {
	if useMemory {
		snaps := &snapshotStores{
			powers: memory.NewPowerSnapshotStore(),
			supply: memory.NewSupplySnapshotStore(),
		}
		return memory.NewEscrowStore(), snaps, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	cleanup := func() { pool.Close() }
	escrowStore := pgstore.NewEscrowStore(pool)

	if clickhouseDSN == "" {
		logger.Println("No ClickHouse DSN; snapshot export disabled")
		return escrowStore, nil, cleanup, nil
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}
	snaps := &snapshotStores{
		powers: chstore.NewPowerSnapshotStore(chConn),
		supply: chstore.NewSupplySnapshotStore(chConn),
	}
	return escrowStore, snaps, func() {
		chConn.Close()
		pool.Close()
	}, nil
}

// routes builds the HTTP mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /ws", s.hub)

	mux.HandleFunc("POST /v1/locks", s.handleCreateLock)
	mux.HandleFunc("POST /v1/locks/deposit", s.handleDeposit)
	mux.HandleFunc("POST /v1/locks/extend", s.handleExtend)
	mux.HandleFunc("POST /v1/locks/withdraw", s.handleWithdraw)
	mux.HandleFunc("POST /v1/locks/merge", s.handleMerge)
	mux.HandleFunc("POST /v1/locks/transfer", s.handleTransfer)
	mux.HandleFunc("POST /v1/locks/approve", s.handleApprove)
	mux.HandleFunc("POST /v1/operators", s.handleSetOperator)
	mux.HandleFunc("POST /v1/checkpoint", s.handleCheckpoint)

	mux.HandleFunc("GET /v1/locks/{id}", s.handleGetLock)
	mux.HandleFunc("GET /v1/locks/{id}/power", s.handleLockPower)
	mux.HandleFunc("GET /v1/supply", s.handleSupply)
	mux.HandleFunc("GET /v1/supply/power", s.handleTotalPower)
	mux.HandleFunc("GET /v1/accounts/{account}/locks", s.handleAccountLocks)

	if s.faucetEnabled {
		mux.HandleFunc("POST /v1/faucet", s.handleFaucet)
	}

	return mux
}

// mutate runs a mutation with a short retry loop around the engine's
// exclusive-call guard.
func mutate(op string, fn func() error) error {
	start := time.Now()
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = fn()
		if !errors.Is(err, escrow.ErrReentrancy) {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 5 * time.Millisecond)
	}
	observability.RecordMutation(op, time.Since(start).Seconds(), escrow.ErrorReason(err))
	return err
}

type createLockRequest struct {
	Caller   string `json:"caller"`
	To       string `json:"to,omitempty"`
	Amount   int64  `json:"amount"`
	Duration int64  `json:"duration"`
}

func (s *Server) handleCreateLock(w http.ResponseWriter, r *http.Request) {
	var req createLockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.checkAccount(w, req.Caller) {
		return
	}
	to := req.To
	if to == "" {
		to = req.Caller
	} else if !s.checkAccount(w, to) {
		return
	}

	var lockID uint64
	err := mutate("create_lock", func() error {
		var err error
		lockID, err = s.engine.CreateLockFor(r.Context(), req.Caller, to, req.Amount, req.Duration)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"lock_id": lockID,
		"end":     s.engine.LockEnd(lockID),
	})
}

type depositRequest struct {
	Caller string `json:"caller"`
	LockID uint64 `json:"lock_id"`
	Amount int64  `json:"amount"`
	// OnBehalf deposits into someone else's lock without authorization.
	OnBehalf bool `json:"on_behalf,omitempty"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.checkAccount(w, req.Caller) {
		return
	}

	err := mutate("deposit", func() error {
		if req.OnBehalf {
			return s.engine.DepositFor(r.Context(), req.Caller, req.LockID, req.Amount)
		}
		return s.engine.IncreaseAmount(r.Context(), req.Caller, req.LockID, req.Amount)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeLockState(w, req.LockID)
}

type extendRequest struct {
	Caller     string `json:"caller"`
	LockID     uint64 `json:"lock_id"`
	UnlockTime int64  `json:"unlock_time"`
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	var req extendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.checkAccount(w, req.Caller) {
		return
	}

	err := mutate("extend", func() error {
		return s.engine.IncreaseUnlockTime(r.Context(), req.Caller, req.LockID, req.UnlockTime)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeLockState(w, req.LockID)
}

type withdrawRequest struct {
	Caller string `json:"caller"`
	LockID uint64 `json:"lock_id"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.checkAccount(w, req.Caller) {
		return
	}

	var amount int64
	err := mutate("withdraw", func() error {
		var err error
		amount, err = s.engine.Withdraw(r.Context(), req.Caller, req.LockID)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"amount": amount})
}

type mergeRequest struct {
	Caller string `json:"caller"`
	FromID uint64 `json:"from_id"`
	ToID   uint64 `json:"to_id"`
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.checkAccount(w, req.Caller) {
		return
	}

	err := mutate("merge", func() error {
		return s.engine.Merge(r.Context(), req.Caller, req.FromID, req.ToID)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeLockState(w, req.ToID)
}

type transferRequest struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
	LockID uint64 `json:"lock_id"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.checkAccount(w, req.Caller) || !s.checkAccount(w, req.To) {
		return
	}

	err := mutate("transfer", func() error {
		return s.engine.TransferLock(r.Context(), req.Caller, req.To, req.LockID)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeLockState(w, req.LockID)
}

type approveRequest struct {
	Caller  string `json:"caller"`
	Account string `json:"account"`
	LockID  uint64 `json:"lock_id"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Account != "" && !s.checkAccount(w, req.Account) {
		return
	}
	if err := s.registry.Approve(req.Caller, req.Account, req.LockID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type operatorRequest struct {
	Caller   string `json:"caller"`
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

func (s *Server) handleSetOperator(w http.ResponseWriter, r *http.Request) {
	var req operatorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.registry.SetOperator(req.Caller, req.Operator, req.Approved); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	err := mutate("checkpoint", func() error {
		return s.engine.Checkpoint(r.Context())
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"epoch":   s.engine.Epoch(),
		"ordinal": s.engine.Ordinal(),
	})
}

func (s *Server) handleGetLock(w http.ResponseWriter, r *http.Request) {
	lockID, ok := parseLockID(w, r)
	if !ok {
		return
	}
	s.writeLockState(w, lockID)
}

func (s *Server) handleLockPower(w http.ResponseWriter, r *http.Request) {
	lockID, ok := parseLockID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var power int64
	switch {
	case q.Get("ts") != "":
		ts, err := strconv.ParseInt(q.Get("ts"), 10, 64)
		if err != nil {
			http.Error(w, "invalid ts", http.StatusBadRequest)
			return
		}
		power = s.engine.PowerAt(lockID, ts)
	case q.Get("ordinal") != "":
		ord, err := strconv.ParseUint(q.Get("ordinal"), 10, 64)
		if err != nil {
			http.Error(w, "invalid ordinal", http.StatusBadRequest)
			return
		}
		power = s.engine.PowerAtOrdinal(lockID, ord)
	default:
		power = s.engine.CurrentPower(lockID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"lock_id": lockID, "power": power})
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"locked_supply": s.engine.Supply(),
		"total_power":   s.engine.TotalPower(),
		"active_locks":  len(s.engine.ActiveLocks()),
		"epoch":         s.engine.Epoch(),
		"ordinal":       s.engine.Ordinal(),
	})
}

func (s *Server) handleTotalPower(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var power int64
	switch {
	case q.Get("ts") != "":
		ts, err := strconv.ParseInt(q.Get("ts"), 10, 64)
		if err != nil {
			http.Error(w, "invalid ts", http.StatusBadRequest)
			return
		}
		power = s.engine.TotalPowerAt(ts)
	case q.Get("ordinal") != "":
		ord, err := strconv.ParseUint(q.Get("ordinal"), 10, 64)
		if err != nil {
			http.Error(w, "invalid ordinal", http.StatusBadRequest)
			return
		}
		power = s.engine.TotalPowerAtOrdinal(ord)
	default:
		power = s.engine.TotalPower()
	}
	writeJSON(w, http.StatusOK, map[string]any{"power": power})
}

func (s *Server) handleAccountLocks(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	ids := s.registry.LocksOf(account)

	type lockView struct {
		LockID uint64 `json:"lock_id"`
		Amount int64  `json:"amount"`
		End    int64  `json:"end"`
		Power  int64  `json:"power"`
	}
	views := make([]lockView, 0, len(ids))
	for _, id := range ids {
		lb, err := s.engine.Locked(id)
		if err != nil {
			continue
		}
		views = append(views, lockView{
			LockID: id,
			Amount: lb.Amount,
			End:    lb.End,
			Power:  s.engine.CurrentPower(id),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "locks": views})
}

type faucetRequest struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.checkAccount(w, req.Account) {
		return
	}
	if req.Amount <= 0 {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	s.vault.Credit(req.Account, req.Amount)
	writeJSON(w, http.StatusOK, map[string]any{"balance": s.vault.BalanceOf(req.Account)})
}

// StatusResponse is the JSON response for /status.
type StatusResponse struct {
	Status       string `json:"status"`
	Uptime       string `json:"uptime"`
	Epoch        int    `json:"epoch"`
	Ordinal      uint64 `json:"ordinal"`
	LockedSupply int64  `json:"locked_supply"`
	ActiveLocks  int    `json:"active_locks"`
	FeedClients  int    `json:"feed_clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:       "running",
		Uptime:       time.Since(s.started).String(),
		Epoch:        s.engine.Epoch(),
		Ordinal:      s.engine.Ordinal(),
		LockedSupply: s.engine.Supply(),
		ActiveLocks:  len(s.engine.ActiveLocks()),
		FeedClients:  s.hub.ClientCount(),
	})
}

func (s *Server) writeLockState(w http.ResponseWriter, lockID uint64) {
	lb, err := s.engine.Locked(lockID)
	if err != nil {
		writeError(w, err)
		return
	}
	owner, _ := s.registry.OwnerOf(lockID)
	writeJSON(w, http.StatusOK, map[string]any{
		"lock_id": lockID,
		"owner":   owner,
		"amount":  lb.Amount,
		"start":   lb.Start,
		"end":     lb.End,
		"power":   s.engine.CurrentPower(lockID),
	})
}

// checkAccount rejects malformed account addresses at the API edge.
func (s *Server) checkAccount(w http.ResponseWriter, account string) bool {
	if !custody.IsValidAccount(account) {
		http.Error(w, "invalid account address", http.StatusBadRequest)
		return false
	}
	return true
}

func parseLockID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid lock id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, escrow.ErrLockNotFound):
		status = http.StatusNotFound
	case errors.Is(err, escrow.ErrUnauthorized),
		errors.Is(err, ownership.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidAccount),
		errors.Is(err, escrow.ErrDurationOutOfRange),
		errors.Is(err, escrow.ErrSelfMerge),
		errors.Is(err, escrow.ErrLockExpired),
		errors.Is(err, escrow.ErrLockNotExpired),
		errors.Is(err, ownership.ErrSelfApproval),
		errors.Is(err, ownership.ErrInvalidAccount),
		errors.Is(err, custody.ErrInvalidAmount),
		errors.Is(err, custody.ErrInsufficientBalance):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, escrow.ErrReentrancy):
		status = http.StatusConflict
	case errors.Is(err, ownership.ErrNotOwned):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// envOr returns the environment value or a default.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
