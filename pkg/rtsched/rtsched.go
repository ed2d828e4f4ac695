// Package rtsched configures real time scheduling for the calling thread.
//
// sched_setattr and sched_setaffinity with pid 0 act on the current OS
// thread only, so callers pin their goroutine with runtime.LockOSThread
// before using Apply or SetAffinity.
package rtsched

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

type Policy uint32

const (
	Other Policy = unix.SCHED_NORMAL
	FIFO  Policy = unix.SCHED_FIFO
	RR    Policy = unix.SCHED_RR
)

const (
	MinPriority = 1
	MaxPriority = 99
)

const maxCPUs = int(unsafe.Sizeof(unix.CPUSet{})) * 8

var (
	ErrUnknownPolicy = errors.New("unknown scheduling policy")
	ErrPriority      = errors.New("priority out of range")
	ErrCPUList       = errors.New("invalid cpu list")
)

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "fifo":
		return FIFO, nil
	case "rr":
		return RR, nil
	case "other", "normal":
		return Other, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

func (p Policy) String() string {
	switch p {
	case FIFO:
		return "fifo"
	case RR:
		return "rr"
	case Other:
		return "other"
	default:
		return fmt.Sprintf("policy(%d)", uint32(p))
	}
}

func (p Policy) Realtime() bool {
	return p == FIFO || p == RR
}

type Params struct {
	Policy   Policy
	Priority int
}

func (p Params) String() string {
	return fmt.Sprintf("%s/%d", p.Policy, p.Priority)
}

// Validate checks the priority against the policy: real time policies take
// [1, 99], the default policy only 0.
func (p Params) Validate() error {
	switch {
	case p.Policy.Realtime():
		if p.Priority < MinPriority || p.Priority > MaxPriority {
			return fmt.Errorf("%w: %d not in [%d, %d] for %s", ErrPriority, p.Priority, MinPriority, MaxPriority, p.Policy)
		}
	case p.Policy == Other:
		if p.Priority != 0 {
			return fmt.Errorf("%w: %s takes priority 0, got %d", ErrPriority, p.Policy, p.Priority)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownPolicy, p.Policy)
	}
	return nil
}

// Apply sets the policy and priority of the calling thread.
func Apply(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	attr := unix.SchedAttr{
		Policy:   uint32(p.Policy),
		Priority: uint32(p.Priority),
	}
	if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
		return fmt.Errorf("sched_setattr %s: %w", p, err)
	}
	return nil
}

// Current reads back the policy and priority of the calling thread.
func Current() (Params, error) {
	attr, err := unix.SchedGetAttr(0, 0)
	if err != nil {
		return Params{}, fmt.Errorf("sched_getattr: %w", err)
	}
	return Params{Policy: Policy(attr.Policy), Priority: int(attr.Priority)}, nil
}

// ParseCPUs parses a list such as "0,2-3" into sorted, unique cpu numbers.
// An empty string yields no cpus.
func ParseCPUs(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var cpus []int
	for _, part := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(strings.TrimSpace(part), "-")
		first, err := parseCPU(lo)
		if err != nil {
			return nil, err
		}
		last := first
		if isRange {
			if last, err = parseCPU(hi); err != nil {
				return nil, err
			}
			if last < first {
				return nil, fmt.Errorf("%w: descending range %q", ErrCPUList, part)
			}
		}
		for c := first; c <= last; c++ {
			cpus = append(cpus, c)
		}
	}
	slices.Sort(cpus)
	return slices.Compact(cpus), nil
}

func parseCPU(s string) (int, error) {
	c, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCPUList, err)
	}
	if c < 0 || c >= maxCPUs {
		return 0, fmt.Errorf("%w: cpu %d not in [0, %d)", ErrCPUList, c, maxCPUs)
	}
	return c, nil
}

// SetAffinity restricts the calling thread to cpus. An empty list leaves the
// affinity untouched.
func SetAffinity(cpus []int) error {
	if len(cpus) == 0 {
		return nil
	}
	var set unix.CPUSet
	set.Zero()
	for _, c := range cpus {
		set.Set(c)
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity %v: %w", cpus, err)
	}
	return nil
}

// Affinity returns the cpus the calling thread may run on.
func Affinity() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("sched_getaffinity: %w", err)
	}
	var cpus []int
	for c := 0; c < maxCPUs; c++ {
		if set.IsSet(c) {
			cpus = append(cpus, c)
		}
	}
	return cpus, nil
}

// LockMemory locks current and future pages of the process into RAM.
func LockMemory() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("mlockall: %w", err)
	}
	return nil
}
