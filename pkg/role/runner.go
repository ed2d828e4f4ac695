// Package role implements the four endpoints of a measurement: TX and RX for
// one way streams, PING and PONG for round trips.
package role

import (
	"errors"
	"sync/atomic"

	"rtnet/pkg/metrics"
	"rtnet/pkg/packet"
	"rtnet/pkg/socket"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Conn is the datagram endpoint a role runs over. *socket.Socket implements it.
type Conn interface {
	Send(b []byte, txtime packet.Timestamp) (int, error)
	SendTo(b []byte, to unix.Sockaddr) (int, error)
	Receive(b []byte) (socket.Message, error)
}

type State int32

const (
	Idle State = iota
	Running
	Draining
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Done:
		return "done"
	default:
		return "invalid"
	}
}

type Runner struct {
	Session Session
	Conn    Conn
	Log     logrus.FieldLogger

	buf   []byte
	state atomic.Int32
}

// NewRunner validates s and allocates the packet buffer of the run.
func NewRunner(s Session, conn Conn, log logrus.FieldLogger) (*Runner, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Runner{
		Session: s,
		Conn:    conn,
		Log:     log.WithField("role", s.Role.String()),
		buf:     make([]byte, s.PacketSize),
	}, nil
}

func (r *Runner) State() State {
	return State(r.state.Load())
}

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
}

// begin marks the run as started and returns the function that completes it.
func (r *Runner) begin() func() {
	r.setState(Running)
	r.Log.Debug("running")
	return func() {
		r.setState(Done)
		r.Log.Debug("done")
	}
}

func (r *Runner) count(direction string) {
	metrics.Packets.WithLabelValues(r.Session.Role.String(), direction).Inc()
}

func (r *Runner) anomaly(reason string, fields logrus.Fields) {
	metrics.Anomalies.WithLabelValues(reason).Inc()
	r.Log.WithFields(fields).Warn("skipping packet")
}

// send encodes p into the run buffer and transmits all of it to the peer.
func (r *Runner) send(p *packet.Packet, txtime packet.Timestamp) error {
	if err := p.Encode(r.buf); err != nil {
		return err
	}
	if _, err := r.Conn.Send(r.buf, txtime); err != nil {
		return err
	}
	r.count("tx")
	return nil
}

// receive reads one datagram and decodes its header. Undecodable datagrams
// are reported as anomalies and yield ok == false with a nil error.
func (r *Runner) receive() (p packet.Packet, msg socket.Message, ok bool, err error) {
	msg, err = r.Conn.Receive(r.buf)
	if err != nil {
		return p, msg, false, err
	}
	r.count("rx")
	p, err = packet.Decode(r.buf[:msg.N])
	if err != nil {
		r.anomaly(metrics.ReasonShort, logrus.Fields{"error": err, "size": msg.N})
		return p, msg, false, nil
	}
	return p, msg, true, nil
}

func isWouldBlock(err error) bool {
	return errors.Is(err, socket.ErrWouldBlock)
}
