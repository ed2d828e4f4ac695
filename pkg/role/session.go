package role

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"rtnet/pkg/cyclic"
	"rtnet/pkg/packet"
	"rtnet/pkg/stats"
)

type Role int

const (
	Unknown Role = iota
	TX
	RX
	Ping
	Pong
)

func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "tx":
		return TX, nil
	case "rx":
		return RX, nil
	case "ping":
		return Ping, nil
	case "pong":
		return Pong, nil
	}
	return Unknown, fmt.Errorf("%w: %q", ErrRole, s)
}

func (r Role) String() string {
	switch r {
	case TX:
		return "tx"
	case RX:
		return "rx"
	case Ping:
		return "ping"
	case Pong:
		return "pong"
	default:
		return "unknown"
	}
}

// Sends reports whether the role drives a cyclic transmit loop.
func (r Role) Sends() bool {
	return r == TX || r == Ping
}

// MaxPacketSize is the largest UDP payload over IPv4.
const MaxPacketSize = 65507

var (
	ErrRole       = errors.New("invalid role")
	ErrCount      = errors.New("invalid packet count")
	ErrCycle      = errors.New("invalid cycle")
	ErrPacketSize = errors.New("invalid packet size")
	ErrThrottle   = errors.New("invalid throttle")
	ErrRTTest     = errors.New("realtime subtest mode is only available to pong")
	ErrNoClock    = errors.New("no clock")
)

// Session is the immutable context of one run.
type Session struct {
	Role       Role
	Cycle      time.Duration
	Count      uint64
	Throttle   uint64 // leading ping round trips left out of the results
	PacketSize int
	Clock      cyclic.Clock
	RTTest     bool          // pong only: every sequence 0 starts a new run
	TxTimeLead time.Duration // when positive, TX asks the kernel to send at deadline + lead
	RunLimit   uint64        // pong only: samples kept per run, 0 picks the mode default
}

func (s Session) Validate() error {
	if s.Role == Unknown || s.Role > Pong {
		return fmt.Errorf("%w: %d", ErrRole, s.Role)
	}
	if s.Count == 0 || s.Count > stats.MaxPackets {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrCount, s.Count, stats.MaxPackets)
	}
	if s.Cycle <= 0 {
		return fmt.Errorf("%w: %v", ErrCycle, s.Cycle)
	}
	if s.PacketSize < packet.HeaderSize || s.PacketSize > MaxPacketSize {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrPacketSize, s.PacketSize, packet.HeaderSize, MaxPacketSize)
	}
	if s.Throttle >= s.Count {
		return fmt.Errorf("%w: %d must be below the packet count %d", ErrThrottle, s.Throttle, s.Count)
	}
	if s.RTTest && s.Role != Pong {
		return fmt.Errorf("%w, not %s", ErrRTTest, s.Role)
	}
	if s.TxTimeLead < 0 {
		return fmt.Errorf("%w: negative txtime lead %v", ErrCycle, s.TxTimeLead)
	}
	if s.Clock == nil {
		return ErrNoClock
	}
	return nil
}
