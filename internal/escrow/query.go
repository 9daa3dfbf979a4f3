package escrow

import (
	"veledger/internal/domain"
	"veledger/internal/lookup"
)

// CurrentPower returns a lock's voting power now. It is zero when the
// lock has no checkpoints, has expired, or changed owner in the
// current execution step (flash-loan guard).
func (e *Engine) CurrentPower(lockID uint64) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	lock, ok := e.locks[lockID]
	if !ok {
		return 0
	}
	if lock.OwnerChangedAt != 0 && lock.OwnerChangedAt == e.ordinal {
		return 0
	}
	hist := e.userHist[lockID]
	if len(hist) < 2 {
		return 0
	}
	return hist[len(hist)-1].PowerAt(e.clock.Now())
}

// PowerAt returns a lock's voting power at an arbitrary past time: the
// stored point nearest at or before ts, decayed linearly to ts.
func (e *Engine) PowerAt(lockID uint64, ts int64) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	hist := e.userHist[lockID]
	if len(hist) < 2 {
		return 0
	}
	idx := lookup.EpochAtTime(hist[1:], ts)
	if idx < 0 {
		return 0
	}
	return hist[1+idx].PowerAt(ts)
}

// PowerAtOrdinal returns a lock's voting power at a past execution
// step. The lock's own history is searched by ordinal; the step is
// translated to a timestamp by interpolating between the bracketing
// global points, then the decay formula applies.
func (e *Engine) PowerAtOrdinal(lockID uint64, ord uint64) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	hist := e.userHist[lockID]
	if len(hist) < 2 {
		return 0
	}
	idx := lookup.EpochAtOrdinal(hist[1:], ord)
	if idx < 0 {
		return 0
	}
	up := hist[1+idx]

	ts := e.timeAtOrdinal(ord)
	if ts < up.Ts {
		ts = up.Ts
	}
	return up.PowerAt(ts)
}

// timeAtOrdinal interpolates a timestamp for an execution step from
// the bracketing global history points, extrapolating from now when
// the step is past the last checkpoint. Caller holds mu.
func (e *Engine) timeAtOrdinal(ord uint64) int64 {
	gidx := lookup.EpochAtOrdinal(e.global[:e.epoch+1], ord)
	if gidx < 0 {
		return e.global[0].Ts
	}
	p0 := e.global[gidx]
	if gidx < e.epoch {
		p1 := e.global[gidx+1]
		if p1.Ordinal == p0.Ordinal {
			return p0.Ts
		}
		return p0.Ts + int64(ord-p0.Ordinal)*(p1.Ts-p0.Ts)/int64(p1.Ordinal-p0.Ordinal)
	}
	if e.ordinal == p0.Ordinal {
		return p0.Ts
	}
	now := e.clock.Now()
	return p0.Ts + int64(ord-p0.Ordinal)*(now-p0.Ts)/int64(e.ordinal-p0.Ordinal)
}

// TotalPower returns the aggregate voting power now.
func (e *Engine) TotalPower() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.replaySupply(e.global[e.epoch], e.clock.Now())
}

// TotalPowerAt returns the aggregate voting power at time ts: the
// latest global point at or before ts replayed forward week by week,
// exactly as the checkpoint engine decays, without persisting entries.
func (e *Engine) TotalPowerAt(ts int64) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	idx := lookup.EpochAtTime(e.global[:e.epoch+1], ts)
	if idx < 0 {
		return 0
	}
	return e.replaySupply(e.global[idx], ts)
}

// TotalPowerAtOrdinal returns the aggregate voting power at a past
// execution step, interpolating the step's timestamp from global
// history and delegating to the point-in-time replay.
func (e *Engine) TotalPowerAtOrdinal(ord uint64) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	gidx := lookup.EpochAtOrdinal(e.global[:e.epoch+1], ord)
	if gidx < 0 {
		return 0
	}
	p0 := e.global[gidx]
	ts := e.timeAtOrdinal(ord)
	if ts < p0.Ts {
		ts = p0.Ts
	}
	return e.replaySupply(p0, ts)
}

// replaySupply decays a global point forward to ts, applying scheduled
// slope deltas at each crossed week boundary with the same clamping as
// the checkpoint replay. Read-only. Caller holds mu.
func (e *Engine) replaySupply(p domain.Point, ts int64) int64 {
	lastCheckpoint := p.Ts
	ti := domain.FloorWeek(lastCheckpoint)
	for i := 0; i < domain.MaxReplayWeeks; i++ {
		ti += domain.WeekSeconds
		var dslope int64
		if ti > ts {
			ti = ts
		} else {
			dslope = e.slopeChanges[ti]
		}

		p.Bias -= p.Slope * (ti - lastCheckpoint)
		p.Slope += dslope
		if p.Bias < 0 {
			p.Bias = 0
		}
		if p.Slope < 0 {
			p.Slope = 0
		}

		lastCheckpoint = ti
		if ti == ts {
			break
		}
	}
	return p.Bias
}

// LockEnd returns a lock's expiry time (0 when no active lock).
func (e *Engine) LockEnd(lockID uint64) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	lock, ok := e.locks[lockID]
	if !ok {
		return 0
	}
	return lock.Locked.End
}
