package testutil

import (
	"sync"
	"time"
)

// DeterministicClock provides a thread-safe clock for tests that advances
// by a fixed step on every reading.
//
// Passing its Now method wherever a component accepts a clock override
// makes timestamps, response times and audit entries reproducible across
// runs. Reset rewinds it so the same scenario can run repeatedly with
// identical output.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	base  time.Time
	step  time.Duration
	calls int64
}

// NewDeterministicClock creates a clock starting at base, advancing by
// step per call to Now.
func NewDeterministicClock(base time.Time, step time.Duration) *DeterministicClock {
	return &DeterministicClock{base: base.UTC(), step: step}
}

// Now returns the next reading and advances the clock.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.base.Add(time.Duration(c.calls) * c.step)
	c.calls++
	return t
}

// Current returns the reading the next Now call will produce, without
// advancing.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base.Add(time.Duration(c.calls) * c.step)
}

// Reset rewinds the clock to its base reading.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
}
