package role

import (
	"context"
	"fmt"
	"time"

	"rtnet/pkg/metrics"
	"rtnet/pkg/packet"
	"rtnet/pkg/socket"

	"github.com/ddirect/container/ttlmap"
	"github.com/sirupsen/logrus"
)

// MaxRuns bounds the number of runs kept in realtime subtest mode.
const MaxRuns = 20

// MaxRunSamples bounds the samples of one realtime subtest run.
const MaxRunSamples = 2_000_000

// rtPoll is the pause between empty reads of the non blocking socket in
// realtime subtest mode.
const rtPoll = time.Microsecond

type PongSample struct {
	ID     uint64
	Rx     packet.Timestamp
	Jitter time.Duration
}

type PongRun struct {
	Samples []PongSample
	Dropped uint64 // samples beyond the run limit
}

type PongResult struct {
	Runs []PongRun
}

// Pong answers every Data and End packet with a Data packet carrying its own
// receive time and the jitter observed for that peer, until ctx is done.
//
// Jitter is the inter arrival time from the same peer minus the cycle the
// peer advertises, zero for its first packet. In realtime subtest mode a
// sequence number of 0 starts a new run, so a duplicated first packet also
// splits the run.
func (r *Runner) Pong(ctx context.Context) (PongResult, error) {
	defer r.begin()()
	defer r.setState(Draining)

	s := &r.Session
	limit := s.runLimit()
	var (
		res PongResult
		cur *PongRun
	)
	newRun := func() {
		if len(res.Runs) == MaxRuns {
			if cur != nil {
				r.Log.Warnf("more than %d runs, ignoring the rest", MaxRuns)
			}
			cur = nil
			return
		}
		res.Runs = append(res.Runs, PongRun{Samples: make([]PongSample, 0, min(limit, s.Count))})
		cur = &res.Runs[len(res.Runs)-1]
		r.Log.Infof("run %d", len(res.Runs))
	}
	if !s.RTTest {
		newRun()
	}

	store, expired := ttlmap.New[string, packet.Timestamp](time.Minute, time.Second)

	for {
		if ctx.Err() != nil {
			return res, nil
		}

		select {
		case peers := <-expired:
			for peer := range peers {
				r.Log.Infof("peer %s expired", peer.Key())
			}
		default:
		}

		p, msg, ok, err := r.receive()
		if err != nil {
			if isWouldBlock(err) {
				if s.RTTest {
					time.Sleep(rtPoll)
				}
				continue
			}
			return res, fmt.Errorf("pong: %w", err)
		}
		now := s.Clock.Now()
		if !ok {
			continue
		}
		if msg.Truncated {
			r.anomaly(metrics.ReasonTrunc, logrus.Fields{"seq": p.Sequence, "size": msg.N})
			continue
		}

		switch p.Kind {
		case packet.KindIgnore:
			continue
		case packet.KindData, packet.KindEnd:
		default:
			r.anomaly(metrics.ReasonKind, logrus.Fields{"seq": p.Sequence, "kind": p.Kind})
			continue
		}

		restart := s.RTTest && p.Sequence == 0
		last, found := store.GetOrCreate(socket.AddrToString(msg.From))
		var jitter time.Duration
		if found && !restart {
			jitter = time.Duration(now-last.Value) - time.Duration(p.Cycle)
		} else if !found {
			r.Log.Infof("new peer %s", last.Key())
		}
		last.Value = now

		reply := packet.Packet{
			Sequence:  p.Sequence,
			Timestamp: now,
			Cycle:     p.Cycle,
			Jitter:    int64(jitter),
			Kind:      packet.KindData,
		}
		// the reply has the length of the datagram it answers
		out := r.buf[:msg.N]
		if err := reply.Encode(out); err != nil {
			return res, fmt.Errorf("pong: %w", err)
		}
		if _, err := r.Conn.SendTo(out, msg.From); err != nil {
			return res, fmt.Errorf("pong: %w", err)
		}
		r.count("tx")
		metrics.ObserveMicros(metrics.Jitter, jitter)

		if p.Kind == packet.KindEnd {
			r.Log.WithField("seq", p.Sequence).Infof("end of session from %s", last.Key())
		}

		if restart {
			newRun()
		}
		if cur == nil {
			continue
		}
		if uint64(len(cur.Samples)) == limit {
			cur.Dropped++
			metrics.Anomalies.WithLabelValues(metrics.ReasonOverflow).Inc()
			continue
		}
		cur.Samples = append(cur.Samples, PongSample{ID: p.Sequence, Rx: now, Jitter: jitter})
	}
}

// runLimit is the number of samples a pong run keeps.
func (s *Session) runLimit() uint64 {
	switch {
	case s.RunLimit > 0:
		return s.RunLimit
	case s.RTTest:
		return MaxRunSamples
	default:
		return s.Count
	}
}
