package role

import (
	"context"
	"fmt"

	"rtnet/pkg/cyclic"
	"rtnet/pkg/metrics"
	"rtnet/pkg/packet"
	"rtnet/pkg/stats"

	"github.com/sirupsen/logrus"
)

// TX sends Count packets, one per cycle, the last one of kind End. ready is
// called once before the first send so that the correlator can start
// draining transmit timestamps. It returns the number of packets sent.
func (r *Runner) TX(ctx context.Context, sched *cyclic.Scheduler, app stats.AppWriter, ready func()) (uint64, error) {
	defer r.begin()()

	s := &r.Session
	if ready != nil {
		ready()
	}

	sent, err := sched.Run(ctx, s.Count, func(slot cyclic.Slot) error {
		p := packet.Packet{
			Sequence: slot.Index,
			Cycle:    int64(s.Cycle),
			Kind:     packet.KindData,
		}
		if slot.Last {
			p.Kind = packet.KindEnd
		}

		var txtime packet.Timestamp
		if s.TxTimeLead > 0 {
			txtime = slot.Deadline + packet.Timestamp(s.TxTimeLead)
		}

		p.Timestamp = s.Clock.Now()
		if err := r.send(&p, txtime); err != nil {
			return err
		}
		app.SetTx(slot.Index, p.Timestamp)
		return nil
	})
	r.setState(Draining)
	if err != nil {
		return sent, fmt.Errorf("tx: %w", err)
	}
	r.Log.Infof("sent %d packets", sent)
	return sent, nil
}

// RX records every Data and End packet by sequence number until End is
// received or ctx is done. The application group gets the sender
// timestamp carried in the payload and the local receive time, the kernel
// group the receive timestamps. It returns the number of packets recorded.
func (r *Runner) RX(ctx context.Context, app stats.AppWriter, kern stats.RxStampWriter) (uint64, error) {
	defer r.begin()()
	defer r.setState(Draining)

	var recorded uint64
	for {
		if err := ctx.Err(); err != nil {
			return recorded, err
		}

		p, msg, ok, err := r.receive()
		if err != nil {
			if isWouldBlock(err) {
				continue
			}
			return recorded, fmt.Errorf("rx: %w", err)
		}
		now := r.Session.Clock.Now()
		if !ok {
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

		if app.SetRx(p.Sequence, now) {
			app.SetTx(p.Sequence, p.Timestamp)
			kern.SetRx(p.Sequence, msg.Rx)
			recorded++
		} else {
			r.anomaly(metrics.ReasonRange, logrus.Fields{"seq": p.Sequence})
		}

		// End stops the stream even when it falls outside the table.
		if p.Kind == packet.KindEnd {
			r.Log.WithField("seq", p.Sequence).Infof("end of stream, recorded %d packets", recorded)
			return recorded, nil
		}
	}
}
