package socket

import (
	"errors"
	"fmt"

	"rtnet/pkg/packet"

	"golang.org/x/sys/unix"
)

// Message describes one received datagram.
type Message struct {
	N         int
	Rx        packet.RxTimestamps
	From      unix.Sockaddr
	Truncated bool // the datagram did not fit the buffer
}

// Receive reads one datagram into b along with its kernel receive timestamps.
// A datagram without timestamp control data is returned with zero timestamps.
func (s *Socket) Receive(b []byte) (Message, error) {
again:
	n, ctlN, flags, from, err := unix.Recvmsg(s.fd, b, s.rxCtl, 0)
	if err != nil {
		switch {
		case err == unix.EINTR:
			goto again
		case isWouldBlock(err):
			return Message{}, ErrWouldBlock
		}
		return Message{}, fmt.Errorf("recvmsg: %w", err)
	}

	msg := Message{N: n, From: from, Truncated: flags&unix.MSG_TRUNC != 0}
	if ctlN > 0 {
		rx, err := packet.DecodeRxTimestamps(s.rxCtl[:ctlN])
		if err != nil && !errors.Is(err, packet.ErrTimestampNotFound) {
			return msg, err
		}
		msg.Rx = rx
	}
	return msg, nil
}

// ReadNotification reads one entry from the error queue. It never blocks: an
// empty queue yields ErrWouldBlock.
func (s *Socket) ReadNotification() (packet.Notification, error) {
again:
	// NOTE: with OPT_TSONLY the payload is empty, a 1 byte buffer is enough
	_, ctlN, _, _, err := unix.Recvmsg(s.fd, s.errBuf, s.errCtl, unix.MSG_ERRQUEUE|unix.MSG_DONTWAIT)
	if err != nil {
		switch {
		case err == unix.EINTR:
			goto again
		case isWouldBlock(err):
			return packet.Notification{}, ErrWouldBlock
		}
		return packet.Notification{}, fmt.Errorf("recvmsg errqueue: %w", err)
	}
	return packet.DecodeNotification(s.errCtl[:ctlN])
}
