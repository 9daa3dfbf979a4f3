package domain

// Time constants for the decay schedule. All times are Unix seconds.
const (
	// WeekSeconds is the quantization unit for lock expiries and
	// global history entries.
	WeekSeconds int64 = 7 * 86400

	// MaxLockSeconds is the maximum lock duration (4 years).
	MaxLockSeconds int64 = 4 * 365 * 86400

	// MaxReplayWeeks bounds the weekly replay loop in the checkpoint
	// engine and in historical supply queries. If more than this many
	// weeks elapse between checkpoints, power reads are stale until a
	// later checkpoint catches history up.
	MaxReplayWeeks = 255

	// MaxSearchIterations bounds binary searches over history.
	// Sufficient for any 128-bit index space.
	MaxSearchIterations = 128
)

// Point is a decay basis: voting power Bias at time Ts, decreasing by
// Slope per second. Ordinal is the execution sequence number at which
// the point was recorded; unlike timestamps, ordinals are strictly
// monotonic across mutations and are the search key for historical
// queries.
type Point struct {
	Bias    int64  // voting power at Ts, always >= 0
	Slope   int64  // decay per second, always >= 0
	Ts      int64  // Unix seconds
	Ordinal uint64 // execution sequence number
}

// FloorWeek rounds ts down to a week boundary.
func FloorWeek(ts int64) int64 {
	return (ts / WeekSeconds) * WeekSeconds
}

// PowerAt returns the point's bias decayed linearly to ts, floored at
// zero. ts must not precede the point's own timestamp.
func (p Point) PowerAt(ts int64) int64 {
	bias := p.Bias - p.Slope*(ts-p.Ts)
	if bias < 0 {
		return 0
	}
	return bias
}
