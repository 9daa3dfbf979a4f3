package escrow

import (
	"sync"
	"time"
)

// Clock supplies "now" to the engine. Mutations always read the clock
// once at entry; there is no other time source.
type Clock interface {
	Now() int64
}

// SystemClock reads the wall clock in Unix seconds.
type SystemClock struct{}

// Now returns the current Unix time.
func (SystemClock) Now() int64 {
	return time.Now().Unix()
}

// ManualClock is a settable clock for tests and replay.
type ManualClock struct {
	mu  sync.Mutex
	now int64
}

// NewManualClock creates a manual clock starting at now.
func NewManualClock(now int64) *ManualClock {
	return &ManualClock{now: now}
}

// Now returns the clock's current time.
func (c *ManualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to ts.
func (c *ManualClock) Set(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ts
}

// Advance moves the clock forward by d seconds and returns the new time.
func (c *ManualClock) Advance(d int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
	return c.now
}
