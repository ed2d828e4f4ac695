package stats

import (
	"errors"
	"fmt"
	"unsafe"

	"rtnet/pkg/packet"
)

const (
	CacheLine  = 64
	MaxPackets = 10_000_000
)

var ErrArenaSize = errors.New("packet count out of range")

// AppStamps are written only by the role loop.
type AppStamps struct {
	Tx packet.Timestamp
	Rx packet.Timestamp
}

// KernelStamps are written by the receive path (Rx*) and the correlator (Tx*).
type KernelStamps struct {
	TxHw    packet.Timestamp
	TxSw    packet.Timestamp
	TxSched packet.Timestamp
	RxHw    packet.Timestamp
	RxSw    packet.Timestamp
}

// Record holds every timestamp collected for one sequence number. The two
// groups live on separate cache lines.
type Record struct {
	ID     uint64
	App    AppStamps
	_      [CacheLine - 8 - unsafe.Sizeof(AppStamps{})]byte
	Kernel KernelStamps
	_      [CacheLine - unsafe.Sizeof(KernelStamps{})]byte
}

// Arena is the flat, fixed size table of records of one run.
type Arena struct {
	backing []byte
	recs    []Record
}

// NewArena allocates n records on a cache line aligned boundary. Record
// contains no pointers, so it can live inside a plain byte allocation.
func NewArena(n uint64) (*Arena, error) {
	if n == 0 || n > MaxPackets {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrArenaSize, n, MaxPackets)
	}

	size := unsafe.Sizeof(Record{})
	backing := make([]byte, uintptr(n)*size+CacheLine)
	off := (CacheLine - uintptr(unsafe.Pointer(unsafe.SliceData(backing)))%CacheLine) % CacheLine
	recs := unsafe.Slice((*Record)(unsafe.Pointer(&backing[off])), n)

	for i := range recs {
		recs[i].ID = uint64(i)
	}
	return &Arena{backing: backing, recs: recs}, nil
}

func (a *Arena) Len() int {
	return len(a.recs)
}

// Records exposes the table for reduction. Only call it once every writer is done.
func (a *Arena) Records() []Record {
	return a.recs
}

func (a *Arena) App() AppTable {
	return AppTable{recs: a.recs}
}

func (a *Arena) Kernel() KernelTable {
	return KernelTable{recs: a.recs}
}

// AppWriter stores application level timestamps.
type AppWriter interface {
	SetTx(id uint64, ts packet.Timestamp) bool
	SetRx(id uint64, ts packet.Timestamp) bool
}

// TxStampWriter stores kernel transmit timestamps.
type TxStampWriter interface {
	SetTx(id uint64, kind packet.TimestampKind, ts packet.Timestamp) bool
}

// RxStampWriter stores kernel receive timestamps.
type RxStampWriter interface {
	SetRx(id uint64, rx packet.RxTimestamps) bool
}

// AppTable writes only the application group. Setters report false for ids
// outside the arena.
type AppTable struct {
	recs []Record
}

func (t AppTable) SetTx(id uint64, ts packet.Timestamp) bool {
	if id >= uint64(len(t.recs)) {
		return false
	}
	t.recs[id].App.Tx = ts
	return true
}

func (t AppTable) SetRx(id uint64, ts packet.Timestamp) bool {
	if id >= uint64(len(t.recs)) {
		return false
	}
	t.recs[id].App.Rx = ts
	return true
}

// KernelTable writes only the kernel group.
type KernelTable struct {
	recs []Record
}

func (t KernelTable) SetTx(id uint64, kind packet.TimestampKind, ts packet.Timestamp) bool {
	if id >= uint64(len(t.recs)) {
		return false
	}
	k := &t.recs[id].Kernel
	switch kind {
	case packet.Hardware:
		k.TxHw = ts
	case packet.Software:
		k.TxSw = ts
	case packet.Scheduled:
		k.TxSched = ts
	default:
		return false
	}
	return true
}

func (t KernelTable) SetRx(id uint64, rx packet.RxTimestamps) bool {
	if id >= uint64(len(t.recs)) {
		return false
	}
	t.recs[id].Kernel.RxSw = rx.Software
	t.recs[id].Kernel.RxHw = rx.Hardware
	return true
}
