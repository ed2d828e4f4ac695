package socket

import (
	"encoding/binary"
	"errors"
	"fmt"

	"rtnet/pkg/packet"

	"golang.org/x/sys/unix"
)

var ErrNoPeer = errors.New("no peer address configured")

// Send transmits b to the configured peer. When scheduled transmission is
// enabled and txtime is not zero, the kernel holds the packet until txtime.
// Transmit timestamps, if requested, are reported on the error queue and not
// by this call.
func (s *Socket) Send(b []byte, txtime packet.Timestamp) (int, error) {
	if s.peer == nil {
		return 0, ErrNoPeer
	}

	var oob []byte
	if s.txtime && txtime != 0 {
		var v [8]byte
		binary.NativeEndian.PutUint64(v[:], uint64(txtime))
		// NOTE: txCtl has the capacity for one SCM_TXTIME message, so this does not allocate
		oob = packet.AppendControl(s.txCtl[:0], unix.SOL_SOCKET, unix.SO_TXTIME, v[:])
	}

	return s.send(b, oob, s.peer)
}

// SendTo transmits b to an explicit destination, typically the source of the
// datagram being answered.
func (s *Socket) SendTo(b []byte, to unix.Sockaddr) (int, error) {
	return s.send(b, nil, to)
}

func (s *Socket) send(b, oob []byte, to unix.Sockaddr) (int, error) {
again:
	n, err := unix.SendmsgN(s.fd, b, oob, to, 0)
	if err != nil {
		if err == unix.EINTR {
			goto again
		}
		return n, fmt.Errorf("sendmsg: %w", err)
	}
	return n, nil
}
