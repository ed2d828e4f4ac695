package role

import (
	"context"
	"fmt"
	"time"

	"rtnet/pkg/cyclic"
	"rtnet/pkg/metrics"
	"rtnet/pkg/packet"
	"rtnet/pkg/stats"

	"github.com/sirupsen/logrus"
)

type PingSample struct {
	ID     uint64
	RTT    time.Duration
	Jitter time.Duration // as measured by the peer
	Cycle  time.Duration
}

type PingResult struct {
	Samples []PingSample
	Sent    uint64
	Lost    uint64
}

// Summary reduces the recorded samples to RTT and jitter statistics.
func (r PingResult) Summary() (rtt, jitter stats.Summary[time.Duration]) {
	rtts := make([]time.Duration, len(r.Samples))
	jitters := make([]time.Duration, len(r.Samples))
	for i, s := range r.Samples {
		rtts[i] = s.RTT
		jitters[i] = s.Jitter
	}
	return stats.Summarize(rtts), stats.Summarize(jitters)
}

// Ping runs Count round trips, one per cycle. Each cycle sends the next
// sequence number and waits for its echo; a read timeout counts the packet
// as lost and replies for earlier sequences are dropped. The first Throttle
// round trips are not recorded.
func (r *Runner) Ping(ctx context.Context, sched *cyclic.Scheduler) (PingResult, error) {
	defer r.begin()()

	s := &r.Session
	res := PingResult{Samples: make([]PingSample, 0, s.Count-s.Throttle)}

	sent, err := sched.Run(ctx, s.Count, func(slot cyclic.Slot) error {
		p := packet.Packet{
			Sequence: slot.Index,
			Cycle:    int64(s.Cycle),
			Kind:     packet.KindData,
		}
		if slot.Last {
			p.Kind = packet.KindEnd
		}

		sendTs := s.Clock.Now()
		p.Timestamp = sendTs
		if err := r.send(&p, 0); err != nil {
			return err
		}
		res.Sent++

		for {
			reply, _, ok, err := r.receive()
			if err != nil {
				if isWouldBlock(err) {
					res.Lost++
					metrics.Lost.Inc()
					r.Log.WithField("seq", slot.Index).Debug("reply lost")
					return nil
				}
				return err
			}
			rtt := time.Duration(s.Clock.Now() - sendTs)
			if !ok {
				continue
			}

			switch {
			case reply.Sequence < slot.Index:
				r.anomaly(metrics.ReasonStale, logrus.Fields{"seq": reply.Sequence, "expected": slot.Index})
				continue
			case reply.Sequence > slot.Index:
				r.anomaly(metrics.ReasonRange, logrus.Fields{"seq": reply.Sequence, "expected": slot.Index})
				continue
			}

			if slot.Index < s.Throttle {
				return nil
			}
			sample := PingSample{
				ID:     slot.Index,
				RTT:    rtt,
				Jitter: time.Duration(reply.Jitter),
				Cycle:  s.Cycle,
			}
			res.Samples = append(res.Samples, sample)
			metrics.ObserveMicros(metrics.RTT, sample.RTT)
			metrics.ObserveMicros(metrics.Jitter, sample.Jitter)
			return nil
		}
	})
	r.setState(Draining)
	if err != nil {
		return res, fmt.Errorf("ping: %w", err)
	}
	r.Log.Infof("%d round trips, %d recorded, %d lost", sent, len(res.Samples), res.Lost)
	return res, nil
}
