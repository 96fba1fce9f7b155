package application

import (
	"sync"
	"time"
)

// Clock supplies run timestamps and durations.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// StepClock starts at a fixed instant and advances by Step on every read.
// Used in tests to get deterministic run durations.
type StepClock struct {
	mu   sync.Mutex
	At   time.Time
	Step time.Duration
}

func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.At
	c.At = c.At.Add(c.Step)
	return now
}
