package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start of a StepTime.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// StepTime is a wall clock that advances by a fixed step on every read.
// Pass its Now method to workflow.WithTimeSource: every action then takes
// exactly one step.
//
// Thread-safety: safe for concurrent use.
type StepTime struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	reads int64
}

// NewStepTime creates a clock at start. The first Now returns start.
func NewStepTime(start time.Time, step time.Duration) *StepTime {
	return &StepTime{start: start, step: step}
}

// Now returns the current time and advances the clock.
func (c *StepTime) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.reads) * c.step)
	c.reads++
	return t
}

// Reads returns how many times Now has been called.
func (c *StepTime) Reads() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// Reset rewinds the clock to its start.
func (c *StepTime) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads = 0
}
