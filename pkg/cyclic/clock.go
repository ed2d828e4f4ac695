package cyclic

import (
	"fmt"
	"time"

	"rtnet/pkg/packet"

	"golang.org/x/sys/unix"
)

// Clock is the time source of a session. All timestamps a role records come
// from the same Clock so that differences are meaningful.
type Clock interface {
	Now() packet.Timestamp
	// SleepUntil blocks until the absolute deadline has passed.
	SleepUntil(deadline packet.Timestamp) error
}

// SystemClock reads and sleeps on a POSIX clock.
type SystemClock struct {
	ID int32
}

func Realtime() SystemClock {
	return SystemClock{ID: unix.CLOCK_REALTIME}
}

func Monotonic() SystemClock {
	return SystemClock{ID: unix.CLOCK_MONOTONIC}
}

func (c SystemClock) Now() packet.Timestamp {
	var ts unix.Timespec
	// clock_gettime can only fail on an invalid clock id
	if err := unix.ClockGettime(c.ID, &ts); err != nil {
		panic(fmt.Errorf("clock_gettime(%d): %w", c.ID, err))
	}
	return packet.Timestamp(ts.Nano())
}

func (c SystemClock) SleepUntil(deadline packet.Timestamp) error {
	ts := unix.NsecToTimespec(int64(deadline))
	for {
		err := unix.ClockNanosleep(c.ID, unix.TIMER_ABSTIME, &ts, nil)
		if err == nil {
			return nil
		}
		if err != unix.EINTR {
			return fmt.Errorf("clock_nanosleep: %w", err)
		}
	}
}

func (c SystemClock) String() string {
	switch c.ID {
	case unix.CLOCK_REALTIME:
		return "realtime"
	case unix.CLOCK_MONOTONIC:
		return "monotonic"
	default:
		return fmt.Sprintf("clock(%d)", c.ID)
	}
}

// Normalize truncates ts to a whole second.
func Normalize(ts packet.Timestamp) packet.Timestamp {
	return ts / packet.Timestamp(time.Second) * packet.Timestamp(time.Second)
}
