// Package cyclic drives a loop on an absolute, drift free cadence.
//
// Every iteration sleeps until wakeup(0) + k*cycle, where wakeup(0) is the
// first whole second after now + StartupMargin. Time spent in the callback
// therefore never accumulates into later deadlines.
package cyclic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rtnet/pkg/packet"
)

const DefaultStartupMargin = 2 * time.Second

var ErrInvalidCycle = errors.New("cycle must be positive")

// Slot is handed to the callback once per iteration.
type Slot struct {
	Index    uint64
	Deadline packet.Timestamp // intended wakeup for this slot
	Woke     packet.Timestamp // clock reading right after the wait
	Last     bool             // true for the final slot of the run
}

type Scheduler struct {
	Clock         Clock
	Cycle         time.Duration
	StartupMargin time.Duration

	first packet.Timestamp
}

func New(clock Clock, cycle time.Duration) *Scheduler {
	return &Scheduler{
		Clock:         clock,
		Cycle:         cycle,
		StartupMargin: DefaultStartupMargin,
	}
}

// Start fixes wakeup(0) from the current clock reading and returns it.
func (s *Scheduler) Start() packet.Timestamp {
	s.first = Normalize(s.Clock.Now() + packet.Timestamp(s.StartupMargin))
	return s.first
}

// Deadline returns the absolute wakeup of slot k. Start must have been called.
func (s *Scheduler) Deadline(k uint64) packet.Timestamp {
	return s.first + packet.Timestamp(k)*packet.Timestamp(s.Cycle)
}

// Run executes fn once for each of n slots. It returns the number of slots
// completed and stops early on the first error or when ctx is done.
func (s *Scheduler) Run(ctx context.Context, n uint64, fn func(Slot) error) (uint64, error) {
	if s.Cycle <= 0 {
		return 0, ErrInvalidCycle
	}
	s.Start()

	for k := uint64(0); k < n; k++ {
		if err := ctx.Err(); err != nil {
			return k, err
		}

		deadline := s.Deadline(k)
		if err := s.Clock.SleepUntil(deadline); err != nil {
			return k, err
		}

		slot := Slot{
			Index:    k,
			Deadline: deadline,
			Woke:     s.Clock.Now(),
			Last:     k == n-1,
		}
		if err := fn(slot); err != nil {
			return k, fmt.Errorf("slot %d: %w", k, err)
		}
	}
	return n, nil
}
