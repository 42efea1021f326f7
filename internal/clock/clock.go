// Package clock provides the time source used for every deadline computation.
// A single instance is constructed per process and injected into the services
// that create or evaluate deadlines, so creation and expiry checks always run
// against the same base time.
package clock

import (
	"sync"
	"time"
)

// Clock is the deadline time source.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NowUnix returns the current time as unix seconds.
	NowUnix() uint64

	// DeadlineFromOffset returns a deadline `seconds` seconds from now.
	DeadlineFromOffset(seconds uint64) uint64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// NewSystemClock creates a new SystemClock
func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

func (c *SystemClock) Now() time.Time {
	return time.Now()
}

func (c *SystemClock) NowUnix() uint64 {
	return uint64(time.Now().Unix())
}

func (c *SystemClock) DeadlineFromOffset(seconds uint64) uint64 {
	return c.NowUnix() + seconds
}

// ManualClock is a fixed clock that only moves when Advance is called.
// Used by tests and local mode to exercise the compensation paths without
// waiting for wall-clock time to pass.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a ManualClock pinned to the given start time.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) NowUnix() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(c.now.Unix())
}

func (c *ManualClock) DeadlineFromOffset(seconds uint64) uint64 {
	return c.NowUnix() + seconds
}

// Advance moves the clock forward. Advancing is the only way this clock moves.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set pins the clock to an absolute time.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
