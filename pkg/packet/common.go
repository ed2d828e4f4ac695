package packet

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

type (
	Timestamp int64 // nanoseconds on the session clock - differences can be cast directly to time.Duration
)

// TimestampKind tells which point of the transmit path a kernel notification refers to.
type TimestampKind uint8

const (
	KindUnknownTimestamp TimestampKind = iota
	Scheduled
	Software
	Hardware
)

func (k TimestampKind) String() string {
	switch k {
	case Scheduled:
		return "sched"
	case Software:
		return "sw"
	case Hardware:
		return "hw"
	default:
		return "unknown"
	}
}

// RxTimestamps are the kernel receive timestamps delivered inline with a datagram.
type RxTimestamps struct {
	Software Timestamp
	Hardware Timestamp
}

// Notification is one transmit timestamp read from the socket error queue.
type Notification struct {
	ID   uint64
	Kind TimestampKind
	Ts   Timestamp
}

var (
	ErrTimestampNotFound            = errors.New("no timestamp found in control data")
	ErrScmTimestampingNotEnoughData = errors.New("not enough data received for ScmTimestamping")
	ErrExtendedErrNotEnoughData     = errors.New("not enough data received for SockExtendedErr")
	ErrNotATimestamp                = errors.New("error queue message is not a timestamp notification")
	ErrUnknownTimestampKind         = errors.New("unknown timestamp kind in notification")
	ErrMalformedControl             = errors.New("malformed control message")
)

const (
	CtlBufSize = 512 // fits SCM_TIMESTAMPING, IP_RECVERR and SCM_TIMESTAMPING_PKTINFO with room to spare

	// from linux/errqueue.h
	eeOriginTimestamping = 4
	tstampSnd            = 0
	tstampSched          = 1
)

func scmTimestamping(data []byte) (*unix.ScmTimestamping, error) {
	if uintptr(len(data)) < unsafe.Sizeof(unix.ScmTimestamping{}) {
		return nil, ErrScmTimestampingNotEnoughData
	}
	return (*unix.ScmTimestamping)(unsafe.Pointer(unsafe.SliceData(data))), nil
}

// DecodeRxTimestamps extracts the software (ts[0]) and raw hardware (ts[2])
// receive timestamps from the control data of a regular read.
func DecodeRxTimestamps(buf []byte) (RxTimestamps, error) {
	for len(buf) > 0 {
		hdr, data, remainder, err := unix.ParseOneSocketControlMessage(buf)
		if err != nil {
			return RxTimestamps{}, fmt.Errorf("%w: %w", ErrMalformedControl, err)
		}

		if hdr.Level == unix.SOL_SOCKET && hdr.Type == unix.SCM_TIMESTAMPING {
			scmTs, err := scmTimestamping(data)
			if err != nil {
				return RxTimestamps{}, err
			}
			return RxTimestamps{
				Software: Timestamp(scmTs.Ts[0].Nano()),
				Hardware: Timestamp(scmTs.Ts[2].Nano()),
			}, nil
		}

		buf = remainder
	}
	return RxTimestamps{}, ErrTimestampNotFound
}

// DecodeNotification decodes the control data of one MSG_ERRQUEUE read.
//
// The kernel reports the hardware timestamp in a separate message whose
// software slot is zero, so a zero software timestamp classifies the entry as
// hardware regardless of the tstype carried in the extended error.
func DecodeNotification(buf []byte) (Notification, error) {
	var (
		sw, hw      Timestamp
		foundTs     bool
		foundSerr   bool
		id, tstype  uint32
		notTsOrigin bool
	)

	for len(buf) > 0 {
		hdr, data, remainder, err := unix.ParseOneSocketControlMessage(buf)
		if err != nil {
			return Notification{}, fmt.Errorf("%w: %w", ErrMalformedControl, err)
		}

		switch {
		case hdr.Level == unix.SOL_SOCKET && hdr.Type == unix.SCM_TIMESTAMPING:
			scmTs, err := scmTimestamping(data)
			if err != nil {
				return Notification{}, err
			}
			sw = Timestamp(scmTs.Ts[0].Nano())
			hw = Timestamp(scmTs.Ts[2].Nano())
			foundTs = true

		case hdr.Level == unix.SOL_IP && hdr.Type == unix.IP_RECVERR,
			hdr.Level == unix.SOL_IPV6 && hdr.Type == unix.IPV6_RECVERR:
			if uintptr(len(data)) < unsafe.Sizeof(unix.SockExtendedErr{}) {
				return Notification{}, ErrExtendedErrNotEnoughData
			}
			serr := (*unix.SockExtendedErr)(unsafe.Pointer(unsafe.SliceData(data)))
			if serr.Origin != eeOriginTimestamping {
				notTsOrigin = true
				break
			}
			id = serr.Data
			tstype = serr.Info
			foundSerr = true
		}

		buf = remainder
	}

	if !foundTs {
		if notTsOrigin {
			return Notification{}, ErrNotATimestamp
		}
		return Notification{}, ErrTimestampNotFound
	}
	if !foundSerr {
		return Notification{}, ErrNotATimestamp
	}

	n := Notification{ID: uint64(id)}
	switch {
	case sw == 0:
		n.Kind, n.Ts = Hardware, hw
	case tstype == tstampSnd:
		n.Kind, n.Ts = Software, sw
	case tstype == tstampSched:
		n.Kind, n.Ts = Scheduled, sw
	default:
		return n, fmt.Errorf("%w: tstype %d", ErrUnknownTimestampKind, tstype)
	}
	return n, nil
}
