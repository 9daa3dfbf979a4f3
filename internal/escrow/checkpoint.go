package escrow

import (
	"veledger/internal/domain"
	"veledger/internal/observability"
	"veledger/internal/storage"
)

// ordScale keeps the ordinal interpolation in integer math when
// estimating ordinals for intermediate weekly history entries.
const ordScale int64 = 1_000_000_000

// session accumulates the history and schedule writes of one mutation
// before anything is persisted or applied to memory. A merge runs two
// checkpoints in one session; the second sees the first's pending
// writes through the overlay accessors.
type session struct {
	e   *Engine
	now int64
	ord uint64

	points       []domain.Point // pending global appends, epochs e.epoch+1..
	slopeChanges map[int64]int64
	userPoints   []storage.UserEpochPoint
}

func (e *Engine) newSession(now int64, ord uint64) *session {
	return &session{
		e:            e,
		now:          now,
		ord:          ord,
		slopeChanges: make(map[int64]int64),
	}
}

// head returns the current global history head including pending appends.
func (s *session) head() domain.Point {
	if n := len(s.points); n > 0 {
		return s.points[n-1]
	}
	return s.e.global[s.e.epoch]
}

// slopeAt reads the schedule with the session's pending writes applied.
func (s *session) slopeAt(ts int64) int64 {
	if v, ok := s.slopeChanges[ts]; ok {
		return v
	}
	return s.e.slopeChanges[ts]
}

// userEpoch returns a lock's last populated user epoch including
// pending appends (0 = sentinel only).
func (s *session) userEpoch(lockID uint64) int {
	n := len(s.e.userHist[lockID])
	if n > 0 {
		n-- // slice index 0 is the sentinel
	}
	for _, up := range s.userPoints {
		if up.LockID == lockID {
			n++
		}
	}
	return n
}

// checkpoint advances the global history to now and records the
// transition of one lock from old to new. lockID 0 replays the global
// history only.
//
// The replay walks week boundaries from the last recorded point,
// applying scheduled slope deltas and decaying the bias, clamping both
// to zero, and appending one history entry per boundary. The final
// entry lands on now itself. Iteration is capped at MaxReplayWeeks; a
// truncated replay leaves history behind now and is reported through
// the staleness metric.
func (s *session) checkpoint(lockID uint64, oldLocked, newLocked domain.LockedBalance) {
	var uOld, uNew domain.Point
	var oldDslope, newDslope int64

	if lockID != 0 {
		if oldLocked.End > s.now && oldLocked.Amount > 0 {
			uOld.Slope = oldLocked.Amount / domain.MaxLockSeconds
			uOld.Bias = uOld.Slope * (oldLocked.End - s.now)
		}
		if newLocked.End > s.now && newLocked.Amount > 0 {
			uNew.Slope = newLocked.Amount / domain.MaxLockSeconds
			uNew.Bias = uNew.Slope * (newLocked.End - s.now)
		}

		// Scheduled deltas at the affected expiries. When the expiry
		// is unchanged both reads refer to the same schedule slot.
		oldDslope = s.slopeAt(oldLocked.End)
		if newLocked.End != 0 {
			if newLocked.End == oldLocked.End {
				newDslope = oldDslope
			} else {
				newDslope = s.slopeAt(newLocked.End)
			}
		}
	}

	last := s.head()
	initial := last
	var ordSlope int64
	if s.now > last.Ts {
		ordSlope = int64(s.ord-last.Ordinal) * ordScale / (s.now - last.Ts)
	}

	lastCheckpoint := last.Ts
	ti := domain.FloorWeek(lastCheckpoint)
	truncated := true
	weeks := 0
	for i := 0; i < domain.MaxReplayWeeks; i++ {
		ti += domain.WeekSeconds
		var dslope int64
		if ti > s.now {
			ti = s.now
		} else {
			dslope = s.slopeAt(ti)
		}

		last.Bias -= last.Slope * (ti - lastCheckpoint)
		last.Slope += dslope
		if last.Bias < 0 {
			last.Bias = 0
		}
		if last.Slope < 0 {
			last.Slope = 0
		}

		lastCheckpoint = ti
		last.Ts = ti
		last.Ordinal = initial.Ordinal + uint64(ordSlope*(ti-initial.Ts)/ordScale)
		weeks++

		if ti == s.now {
			last.Ordinal = s.ord
			s.points = append(s.points, last)
			truncated = false
			break
		}
		s.points = append(s.points, last)
	}

	if lockID != 0 {
		// Fold this lock's transition into the head.
		head := &s.points[len(s.points)-1]
		head.Slope += uNew.Slope - uOld.Slope
		head.Bias += uNew.Bias - uOld.Bias
		if head.Slope < 0 {
			head.Slope = 0
		}
		if head.Bias < 0 {
			head.Bias = 0
		}

		// Reschedule slope deltas at the affected expiries. Entries
		// accumulate across locks sharing an expiry; they are never
		// removed, only updated.
		if oldLocked.End > s.now {
			oldDslope += uOld.Slope
			if newLocked.End == oldLocked.End {
				oldDslope -= uNew.Slope // top-up, not an extension
			}
			s.slopeChanges[oldLocked.End] = oldDslope
		}
		if newLocked.End > s.now && newLocked.End > oldLocked.End {
			newDslope -= uNew.Slope
			s.slopeChanges[newLocked.End] = newDslope
		}

		up := uNew
		up.Ts = s.now
		up.Ordinal = s.ord
		s.userPoints = append(s.userPoints, storage.UserEpochPoint{
			LockID: lockID,
			Epoch:  s.userEpoch(lockID) + 1,
			Point:  up,
		})
	}

	observability.RecordCheckpoint(lockID != 0, weeks, truncated)
	if truncated {
		s.e.logger.Printf("checkpoint replay truncated at %d weeks; history is behind now=%d", weeks, s.now)
	}
}
