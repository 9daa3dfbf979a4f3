// Package verification checks a persisted escrow state against the
// engine's structural invariants. It runs offline against a store
// snapshot; a clean report means the history is internally consistent
// and every query answer is reconstructible from it.
package verification

import (
	"fmt"
	"sort"

	"veledger/internal/domain"
	"veledger/internal/storage"
)

// Violation is one invariant breach found in a state.
type Violation struct {
	Invariant string // short invariant name
	Detail    string // human-readable description
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Invariant, v.Detail)
}

// Report is the outcome of verifying one state.
type Report struct {
	GlobalPoints int
	Locks        int
	ActiveLocks  int
	Violations   []Violation
}

// Clean reports whether no violations were found.
func (r *Report) Clean() bool {
	return len(r.Violations) == 0
}

func (r *Report) add(invariant, format string, args ...any) {
	r.Violations = append(r.Violations, Violation{
		Invariant: invariant,
		Detail:    fmt.Sprintf(format, args...),
	})
}

// Verify checks all structural invariants of a state.
func Verify(st *storage.State) *Report {
	r := &Report{
		GlobalPoints: len(st.GlobalPoints),
		Locks:        len(st.Locks),
	}
	for _, l := range st.Locks {
		if l.Locked.Active() {
			r.ActiveLocks++
		}
	}

	verifyScalars(st, r)
	verifyGlobalHistory(st, r)
	verifyUserHistories(st, r)
	verifyLocks(st, r)
	verifySchedule(st, r)
	return r
}

// verifyScalars checks the supply ledger and counters.
func verifyScalars(st *storage.State, r *Report) {
	var sum int64
	var maxID uint64
	for id, l := range st.Locks {
		sum += l.Locked.Amount
		if id > maxID {
			maxID = id
		}
	}
	if sum != st.Supply {
		r.add("supply", "locked supply %d != sum of lock amounts %d", st.Supply, sum)
	}
	if st.NextLockID <= maxID {
		r.add("lock-id", "next lock id %d not past highest allocated id %d", st.NextLockID, maxID)
	}
	if st.Epoch != len(st.GlobalPoints)-1 && len(st.GlobalPoints) > 0 {
		r.add("epoch", "epoch %d != last global index %d", st.Epoch, len(st.GlobalPoints)-1)
	}
}

// verifyGlobalHistory checks ordering and shape of the global points.
func verifyGlobalHistory(st *storage.State, r *Report) {
	points := st.GlobalPoints
	if len(points) == 0 {
		if st.Epoch != 0 || st.Supply != 0 || st.Ordinal != 0 {
			r.add("genesis", "non-zero counters with empty global history")
		}
		return
	}

	for i, p := range points {
		if p.Bias < 0 {
			r.add("clamp", "global point %d has negative bias %d", i, p.Bias)
		}
		if p.Slope < 0 {
			r.add("clamp", "global point %d has negative slope %d", i, p.Slope)
		}
		if i == 0 {
			continue
		}
		prev := points[i-1]
		if p.Ts < prev.Ts {
			r.add("order", "global point %d ts %d precedes point %d ts %d", i, p.Ts, i-1, prev.Ts)
		}
		if p.Ordinal < prev.Ordinal {
			r.add("order", "global point %d ordinal %d precedes point %d ordinal %d", i, p.Ordinal, i-1, prev.Ordinal)
		}
	}

	head := points[len(points)-1]
	if head.Ordinal > st.Ordinal {
		r.add("ordinal", "global head ordinal %d past engine ordinal %d", head.Ordinal, st.Ordinal)
	}
}

// verifyUserHistories checks per-lock histories.
func verifyUserHistories(st *storage.State, r *Report) {
	for id, hist := range st.UserPoints {
		if len(hist) == 0 {
			r.add("sentinel", "lock %d has an empty history", id)
			continue
		}
		if hist[0] != (domain.Point{}) {
			r.add("sentinel", "lock %d history does not start with a zero sentinel", id)
		}
		for i := 1; i < len(hist); i++ {
			p := hist[i]
			if p.Bias < 0 || p.Slope < 0 {
				r.add("clamp", "lock %d point %d has negative bias or slope", id, i)
			}
			if i > 1 {
				prev := hist[i-1]
				if p.Ts < prev.Ts {
					r.add("order", "lock %d point %d ts regresses", id, i)
				}
				if p.Ordinal < prev.Ordinal {
					r.add("order", "lock %d point %d ordinal regresses", id, i)
				}
			}
			if p.Ordinal > st.Ordinal {
				r.add("ordinal", "lock %d point %d ordinal %d past engine ordinal %d", id, i, p.Ordinal, st.Ordinal)
			}
		}
	}
}

// verifyLocks checks the lock ledger.
func verifyLocks(st *storage.State, r *Report) {
	for id, l := range st.Locks {
		if l.ID != id {
			r.add("ledger", "lock keyed %d carries id %d", id, l.ID)
		}
		if l.Locked.Amount < 0 {
			r.add("ledger", "lock %d has negative amount %d", id, l.Locked.Amount)
		}
		if l.Locked.Amount > 0 {
			if l.Owner == "" {
				r.add("ledger", "live lock %d has no owner", id)
			}
			if l.Locked.End != domain.FloorWeek(l.Locked.End) {
				r.add("week-grid", "lock %d end %d not week-aligned", id, l.Locked.End)
			}
			if _, ok := st.UserPoints[id]; !ok {
				r.add("history", "live lock %d has no checkpoint history", id)
			}
		} else if l.Owner != "" {
			r.add("ledger", "emptied lock %d still has owner %q", id, l.Owner)
		}
	}
}

// verifySchedule checks the slope-change schedule against live locks.
// Expiries at or before the global head have already been consumed by
// the replay, so only future weeks are compared.
func verifySchedule(st *storage.State, r *Report) {
	if len(st.GlobalPoints) == 0 {
		return
	}
	headTs := st.GlobalPoints[len(st.GlobalPoints)-1].Ts

	expected := make(map[int64]int64)
	for _, l := range st.Locks {
		if l.Locked.Amount <= 0 || l.Locked.End <= headTs {
			continue
		}
		slope := l.Locked.Amount / domain.MaxLockSeconds
		expected[l.Locked.End] -= slope
	}

	var weeks []int64
	for ts := range expected {
		weeks = append(weeks, ts)
	}
	sort.Slice(weeks, func(i, j int) bool { return weeks[i] < weeks[j] })

	for _, ts := range weeks {
		if got := st.SlopeChanges[ts]; got != expected[ts] {
			r.add("schedule", "week %d scheduled dslope %d, live locks imply %d", ts, got, expected[ts])
		}
	}
	for ts, v := range st.SlopeChanges {
		if ts > headTs && v != 0 {
			if _, ok := expected[ts]; !ok {
				r.add("schedule", "week %d carries dslope %d with no live lock expiring there", ts, v)
			}
		}
	}
}
