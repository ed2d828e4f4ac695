package cyclic

import (
	"sync"
	"time"

	"rtnet/pkg/packet"
)

// SimClock is a Clock that never sleeps: SleepUntil jumps straight to the
// deadline. It records every deadline it was asked to wait for.
type SimClock struct {
	mu        sync.Mutex
	now       packet.Timestamp
	step      packet.Timestamp
	deadlines []packet.Timestamp
}

// NewSimClock starts at now; every Now call advances the clock by step.
func NewSimClock(now packet.Timestamp, step time.Duration) *SimClock {
	return &SimClock{now: now, step: packet.Timestamp(step)}
}

func (c *SimClock) Now() packet.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now += c.step
	return now
}

func (c *SimClock) SleepUntil(deadline packet.Timestamp) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadlines = append(c.deadlines, deadline)
	if deadline > c.now {
		c.now = deadline
	}
	return nil
}

// Advance moves the clock forward by d.
func (c *SimClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += packet.Timestamp(d)
}

// Set moves the clock to ts.
func (c *SimClock) Set(ts packet.Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ts
}

func (c *SimClock) Deadlines() []packet.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]packet.Timestamp(nil), c.deadlines...)
}
