package role_test

import (
	"context"
	"testing"
	"time"

	"rtnet/pkg/cyclic"
	"rtnet/pkg/packet"
	"rtnet/pkg/role"
	"rtnet/pkg/socket"

	"github.com/ddirect/container/fifo"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const (
	cycle = time.Millisecond
	size  = 64
)

var peerA = &unix.SockaddrInet4{Addr: [4]byte{10, 0, 0, 1}, Port: 9000}

type datagram struct {
	b    []byte
	rx   packet.RxTimestamps
	from unix.Sockaddr
	at   packet.Timestamp // clock reading at delivery, 0 leaves the clock alone
}

type sent struct {
	n      int
	p      packet.Packet
	txtime packet.Timestamp
	to     unix.Sockaddr
	at     packet.Timestamp
}

// fakeConn is an in memory Conn driven by a SimClock.
type fakeConn struct {
	t     *testing.T
	clock *cyclic.SimClock
	inbox fifo.Fifo[datagram]
	sent  []sent

	// echo, when set, turns every Send into zero or more queued datagrams
	echo func(p packet.Packet, at packet.Timestamp) []datagram
	// empty runs when Receive finds the inbox empty
	empty func()
}

func newFakeConn(t *testing.T, clock *cyclic.SimClock) *fakeConn {
	return &fakeConn{t: t, clock: clock}
}

func (c *fakeConn) queue(d ...datagram) {
	for _, x := range d {
		c.inbox.Enqueue(x)
	}
}

func (c *fakeConn) Send(b []byte, txtime packet.Timestamp) (int, error) {
	require.Len(c.t, b, size)
	return c.record(b, txtime, nil)
}

func (c *fakeConn) SendTo(b []byte, to unix.Sockaddr) (int, error) {
	return c.record(b, 0, to)
}

func (c *fakeConn) record(b []byte, txtime packet.Timestamp, to unix.Sockaddr) (int, error) {
	p, err := packet.Decode(b)
	require.NoError(c.t, err)
	at := c.clock.Now()
	c.sent = append(c.sent, sent{n: len(b), p: p, txtime: txtime, to: to, at: at})
	if c.echo != nil {
		c.queue(c.echo(p, at)...)
	}
	return len(b), nil
}

func (c *fakeConn) Receive(b []byte) (socket.Message, error) {
	d, ok := c.inbox.Dequeue()
	if !ok {
		if c.empty != nil {
			c.empty()
		}
		return socket.Message{}, socket.ErrWouldBlock
	}
	if d.at != 0 {
		c.clock.Set(d.at)
	}
	return socket.Message{N: copy(b, d.b), Rx: d.rx, From: d.from, Truncated: len(d.b) > len(b)}, nil
}

func encode(t *testing.T, p packet.Packet) []byte {
	b := make([]byte, size)
	require.NoError(t, p.Encode(b))
	return b
}

func session(r role.Role, clock cyclic.Clock, count uint64) role.Session {
	return role.Session{
		Role:       r,
		Cycle:      cycle,
		Count:      count,
		PacketSize: size,
		Clock:      clock,
	}
}

func newRunner(t *testing.T, s role.Session, conn role.Conn) (*role.Runner, *logtest.Hook) {
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	r, err := role.NewRunner(s, conn, log)
	require.NoError(t, err)
	require.Equal(t, role.Idle, r.State())
	return r, hook
}

// stopWhenEmpty cancels the returned context once the conn runs dry.
func stopWhenEmpty(conn *fakeConn) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	conn.empty = cancel
	return ctx
}

func warnings(hook *logtest.Hook) int {
	n := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			n++
		}
	}
	return n
}
