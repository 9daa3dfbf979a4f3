// Package lookup provides bounded binary search over checkpoint
// sequences. Checkpoint ordinals are strictly monotonic; timestamps
// are non-decreasing (several checkpoints can share one second), so
// searches return the latest matching index.
package lookup

import "veledger/internal/domain"

// EpochAtOrdinal returns the index of the latest point with
// Ordinal <= target, or -1 if the first point is already past target.
// The search is capped at MaxSearchIterations, sufficient for any
// 128-bit index space.
func EpochAtOrdinal(points []domain.Point, target uint64) int {
	if len(points) == 0 || points[0].Ordinal > target {
		return -1
	}

	lo, hi := 0, len(points)-1
	for i := 0; i < domain.MaxSearchIterations; i++ {
		if lo >= hi {
			break
		}
		mid := (lo + hi + 1) / 2
		if points[mid].Ordinal <= target {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// EpochAtTime returns the index of the latest point with Ts <= target,
// or -1 if the first point is already past target. Ties on Ts resolve
// to the highest index.
func EpochAtTime(points []domain.Point, target int64) int {
	if len(points) == 0 || points[0].Ts > target {
		return -1
	}

	lo, hi := 0, len(points)-1
	for i := 0; i < domain.MaxSearchIterations; i++ {
		if lo >= hi {
			break
		}
		mid := (lo + hi + 1) / 2
		if points[mid].Ts <= target {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}
