// Package correlate drains transmit timestamp notifications from the socket
// error queue and files them into the kernel group of the stats arena.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"rtnet/pkg/metrics"
	"rtnet/pkg/packet"
	"rtnet/pkg/socket"
	"rtnet/pkg/stats"

	"github.com/sirupsen/logrus"
)

const (
	DefaultRetries = 10
	DefaultBackoff = 10 * time.Millisecond
)

// Source yields one notification per call and socket.ErrWouldBlock when
// nothing is queued. *socket.Socket implements it.
type Source interface {
	ReadNotification() (packet.Notification, error)
}

type Counts struct {
	Scheduled uint64
	Software  uint64
	Hardware  uint64
	Anomalies uint64
}

type Option func(*Correlator)

// WithRetries sets how many empty polls are tolerated once completion has been observed.
func WithRetries(n int) Option {
	return func(c *Correlator) { c.retries = n }
}

func WithBackoff(d time.Duration) Option {
	return func(c *Correlator) { c.backoff = d }
}

// WithSetup runs fn on the correlator's own OS thread before the first read.
func WithSetup(fn func() error) Option {
	return func(c *Correlator) { c.setup = fn }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Correlator) { c.log = log }
}

type Correlator struct {
	src      Source
	dst      stats.TxStampWriter
	expected uint64

	retries int
	backoff time.Duration
	setup   func() error
	log     logrus.FieldLogger

	readyOnce sync.Once
	ready     chan struct{}
	done      chan struct{}
	err       error

	seen      []uint64
	distinct  uint64
	finalSeen bool

	scheduled atomic.Uint64
	software  atomic.Uint64
	hardware  atomic.Uint64
	anomalies atomic.Uint64
}

// New prepares a correlator for a run of expected packets. Ids in
// [0, expected) are valid.
func New(src Source, dst stats.TxStampWriter, expected uint64, opts ...Option) *Correlator {
	c := &Correlator{
		src:      src,
		dst:      dst,
		expected: expected,
		retries:  DefaultRetries,
		backoff:  DefaultBackoff,
		log:      logrus.StandardLogger(),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		seen:     make([]uint64, (expected+63)/64),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.WithField("component", "correlator")
	return c
}

// Ready opens the start gate. Calling it more than once is harmless.
func (c *Correlator) Ready() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// Done is closed when Run returns.
func (c *Correlator) Done() <-chan struct{} {
	return c.done
}

// Err reports the error Run returned. Only valid after Done is closed.
func (c *Correlator) Err() error {
	return c.err
}

func (c *Correlator) Counts() Counts {
	return Counts{
		Scheduled: c.scheduled.Load(),
		Software:  c.software.Load(),
		Hardware:  c.hardware.Load(),
		Anomalies: c.anomalies.Load(),
	}
}

// Run waits for the start gate and then polls the source until every
// notification has been seen and the retry budget is spent, ctx is done or
// the source fails.
func (c *Correlator) Run(ctx context.Context) error {
	defer close(c.done)
	c.err = c.run(ctx)
	return c.err
}

func (c *Correlator) run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ready:
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if c.setup != nil {
		if err := c.setup(); err != nil {
			return fmt.Errorf("correlator setup: %w", err)
		}
	}

	backoff := time.NewTimer(c.backoff)
	backoff.Stop()
	defer backoff.Stop()

	retries := c.retries
	for {
		n, err := c.src.ReadNotification()
		switch {
		case err == nil:
			c.store(n)
			continue
		case errors.Is(err, socket.ErrWouldBlock):
		case isDecodeError(err):
			c.anomaly(metrics.ReasonDecode, logrus.Fields{"error": err})
			continue
		default:
			return fmt.Errorf("read notification: %w", err)
		}

		if c.complete() {
			if retries <= 0 {
				c.log.Debugf("done: %+v", c.Counts())
				return nil
			}
			retries--
		}

		backoff.Reset(c.backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-backoff.C:
		}
	}
}

func (c *Correlator) store(n packet.Notification) {
	if !c.dst.SetTx(n.ID, n.Kind, n.Ts) {
		c.anomaly(metrics.ReasonRange, logrus.Fields{"id": n.ID, "kind": n.Kind})
		return
	}

	switch n.Kind {
	case packet.Scheduled:
		c.scheduled.Add(1)
	case packet.Software:
		c.software.Add(1)
	case packet.Hardware:
		c.hardware.Add(1)
	}
	metrics.Notifications.WithLabelValues(n.Kind.String()).Inc()

	if n.ID >= c.expected {
		return
	}
	word, bit := n.ID/64, uint64(1)<<(n.ID%64)
	if c.seen[word]&bit == 0 {
		c.seen[word] |= bit
		c.distinct++
	}
	if n.ID == c.expected-1 {
		c.finalSeen = true
	}
}

func (c *Correlator) complete() bool {
	return c.finalSeen || c.distinct == c.expected
}

func (c *Correlator) anomaly(reason string, fields logrus.Fields) {
	c.anomalies.Add(1)
	metrics.Anomalies.WithLabelValues(reason).Inc()
	c.log.WithFields(fields).Warn("skipping notification")
}

func isDecodeError(err error) bool {
	for _, e := range []error{
		packet.ErrTimestampNotFound,
		packet.ErrScmTimestampingNotEnoughData,
		packet.ErrExtendedErrNotEnoughData,
		packet.ErrNotATimestamp,
		packet.ErrUnknownTimestampKind,
		packet.ErrMalformedControl,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
