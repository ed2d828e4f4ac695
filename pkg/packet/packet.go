package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Kind is the record type carried in the last header byte.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindData
	KindEnd
	KindIgnore
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindEnd:
		return "END"
	case KindIgnore:
		return "IGNORE"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether k is one of the kinds a peer may legitimately send.
func (k Kind) Valid() bool {
	return k >= KindData && k <= KindIgnore
}

// Packet is the fixed record exchanged between peers. It is encoded in native
// byte order: both ends are expected to run on the same architecture.
type Packet struct {
	Sequence  uint64
	Timestamp Timestamp
	Cycle     int64 // nominal inter-packet interval advertised by the sender, in ns
	Jitter    int64 // receiver computed, signed ns
	Kind      Kind
}

// HeaderSize is the encoded size of a Packet; the rest of a datagram is padding.
var HeaderSize = binary.Size(Packet{})

var ErrShortPacket = errors.New("buffer shorter than packet header")

// Encode writes p at the start of buf and zeroes the remaining padding.
func (p *Packet) Encode(buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("%w: %d < %d", ErrShortPacket, len(buf), HeaderSize)
	}
	n, err := binary.Encode(buf, binary.NativeEndian, p)
	if err != nil {
		return fmt.Errorf("binary.Encode: %w", err)
	}
	clear(buf[n:])
	return nil
}

// Decode reads a Packet from the start of buf, ignoring any padding.
func Decode(buf []byte) (Packet, error) {
	var p Packet
	if len(buf) < HeaderSize {
		return p, fmt.Errorf("%w: %d < %d", ErrShortPacket, len(buf), HeaderSize)
	}
	if _, err := binary.Decode(buf[:HeaderSize], binary.NativeEndian, &p); err != nil {
		return p, fmt.Errorf("binary.Decode: %w", err)
	}
	return p, nil
}
