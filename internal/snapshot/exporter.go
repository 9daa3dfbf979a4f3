// Package snapshot exports periodic power and supply readings from the
// escrow engine into analytics storage. Snapshots are a convenience
// copy for dashboards; the engine's checkpoint history stays the source
// of truth.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"veledger/internal/domain"
	"veledger/internal/escrow"
	"veledger/internal/observability"
	"veledger/internal/storage"
)

// Exporter reads current engine state and writes snapshot rows.
type Exporter struct {
	engine *escrow.Engine
	powers storage.PowerSnapshotStore
	supply storage.SupplySnapshotStore
	logger *log.Logger
}

// NewExporter creates an exporter. A nil logger discards output.
func NewExporter(engine *escrow.Engine, powers storage.PowerSnapshotStore, supply storage.SupplySnapshotStore, logger *log.Logger) *Exporter {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Exporter{engine: engine, powers: powers, supply: supply, logger: logger}
}

// Run exports one snapshot of every active lock plus the aggregate
// supply reading. Duplicate timestamps (two runs within the same
// second) are skipped, not errors.
func (e *Exporter) Run(ctx context.Context) error {
	start := time.Now()
	points, err := e.export(ctx)
	if err != nil {
		observability.RecordSnapshotRun("error", 0)
		return err
	}
	if points == 0 {
		observability.RecordSnapshotRun("skipped", 0)
		return nil
	}
	observability.RecordSnapshotRun("ok", points)
	e.logger.Printf("exported %d snapshot points in %s", points, time.Since(start))
	return nil
}

func (e *Exporter) export(ctx context.Context) (int, error) {
	locks := e.engine.ActiveLocks()
	now := e.engine.Now()
	ord := e.engine.Ordinal()

	var powerPoints []*domain.PowerSnapshotPoint
	for _, l := range locks {
		powerPoints = append(powerPoints, &domain.PowerSnapshotPoint{
			LockID:  l.ID,
			Ts:      now,
			Ordinal: ord,
			Power:   e.engine.CurrentPower(l.ID),
			Amount:  l.Locked.Amount,
			End:     l.Locked.End,
			Owner:   l.Owner,
		})
	}

	supplyPoint := &domain.SupplySnapshotPoint{
		Ts:           now,
		Ordinal:      ord,
		TotalPower:   e.engine.TotalPower(),
		LockedSupply: e.engine.Supply(),
		ActiveLocks:  len(locks),
	}

	if len(powerPoints) > 0 {
		if err := e.powers.InsertBulk(ctx, powerPoints); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				return 0, nil
			}
			return 0, fmt.Errorf("insert power snapshots: %w", err)
		}
	}
	if err := e.supply.InsertBulk(ctx, []*domain.SupplySnapshotPoint{supplyPoint}); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return len(powerPoints), nil
		}
		return 0, fmt.Errorf("insert supply snapshot: %w", err)
	}

	return len(powerPoints) + 1, nil
}

// RunPeriodic exports on a fixed interval until the context is
// canceled. Individual run failures are logged and do not stop the
// loop.
func (e *Exporter) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Run(ctx); err != nil {
				e.logger.Printf("snapshot export: %v", err)
			}
		}
	}
}
