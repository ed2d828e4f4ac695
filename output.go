package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"rtnet/pkg/packet"
	"rtnet/pkg/role"
	"rtnet/pkg/stats"

	"github.com/sirupsen/logrus"
)

// output renders per packet results: to files under dir when saving, to
// stdout when verbose, nowhere otherwise. Summaries are always logged.
type output struct {
	save    bool
	verbose bool
	dir     string
	stdout  io.Writer
	log     logrus.FieldLogger
}

func newOutput(conf *Config, log logrus.FieldLogger) *output {
	return &output{
		save:    conf.save,
		verbose: conf.verbose,
		dir:     conf.outputDir,
		stdout:  os.Stdout,
		log:     log,
	}
}

func (o *output) write(name string, header []string, rows func(emit func(...int64) error) error) (err error) {
	var w io.Writer
	switch {
	case o.save:
		if err := os.MkdirAll(o.dir, 0o755); err != nil {
			return fmt.Errorf("output dir: %w", err)
		}
		path := filepath.Join(o.dir, name)
		var f *os.File
		if f, err = os.Create(path); err != nil {
			return fmt.Errorf("create results: %w", err)
		}
		defer func() {
			if cerr := f.Close(); err == nil && cerr != nil {
				err = fmt.Errorf("close results: %w", cerr)
			}
			if err == nil {
				o.log.Infof("results saved to %s", path)
			}
		}()
		w = f
	case o.verbose:
		w = o.stdout
	default:
		return nil
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	record := make([]string, len(header))
	emit := func(values ...int64) error {
		for i, v := range values {
			record[i] = strconv.FormatInt(v, 10)
		}
		return cw.Write(record[:len(values)])
	}
	if err := rows(emit); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}

var recordHeader = []string{"id", "app_tx", "app_rx", "tx_sched", "tx_sw", "tx_hw", "rx_sw", "rx_hw"}

// span collects b - a over the records where both timestamps are present.
func span(recs []stats.Record, get func(*stats.Record) (a, b packet.Timestamp)) []time.Duration {
	var out []time.Duration
	for i := range recs {
		a, b := get(&recs[i])
		if a != 0 && b != 0 {
			out = append(out, time.Duration(b-a))
		}
	}
	return out
}

func (o *output) summary(what string, xs []time.Duration) {
	if len(xs) == 0 {
		return
	}
	o.log.Infof("%s: %s", what, stats.Summarize(xs))
}

func (o *output) records(name string, recs []stats.Record) error {
	switch name {
	case "tx":
		o.summary("app to sched", span(recs, func(r *stats.Record) (packet.Timestamp, packet.Timestamp) { return r.App.Tx, r.Kernel.TxSched }))
		o.summary("app to sw", span(recs, func(r *stats.Record) (packet.Timestamp, packet.Timestamp) { return r.App.Tx, r.Kernel.TxSw }))
		o.summary("sw to hw", span(recs, func(r *stats.Record) (packet.Timestamp, packet.Timestamp) { return r.Kernel.TxSw, r.Kernel.TxHw }))
	case "rx":
		o.summary("peer to app", span(recs, func(r *stats.Record) (packet.Timestamp, packet.Timestamp) { return r.App.Tx, r.App.Rx }))
		o.summary("sw to app", span(recs, func(r *stats.Record) (packet.Timestamp, packet.Timestamp) { return r.Kernel.RxSw, r.App.Rx }))
		o.summary("hw to sw", span(recs, func(r *stats.Record) (packet.Timestamp, packet.Timestamp) { return r.Kernel.RxHw, r.Kernel.RxSw }))
	}

	return o.write(name+".csv", recordHeader, func(emit func(...int64) error) error {
		for i := range recs {
			r := &recs[i]
			if err := emit(int64(r.ID),
				int64(r.App.Tx), int64(r.App.Rx),
				int64(r.Kernel.TxSched), int64(r.Kernel.TxSw), int64(r.Kernel.TxHw),
				int64(r.Kernel.RxSw), int64(r.Kernel.RxHw),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (o *output) ping(res role.PingResult) error {
	rtt, jitter := res.Summary()
	o.log.Infof("sent %d, recorded %d, lost %d", res.Sent, len(res.Samples), res.Lost)
	if len(res.Samples) > 0 {
		o.log.Infof("rtt: %s", rtt)
		o.log.Infof("jitter: %s", jitter)
	}

	return o.write("ping.csv", []string{"id", "rtt", "jitter", "cycle_time"}, func(emit func(...int64) error) error {
		for _, s := range res.Samples {
			if err := emit(int64(s.ID), int64(s.RTT), int64(s.Jitter), int64(s.Cycle)); err != nil {
				return err
			}
		}
		return nil
	})
}

func pongFile(rtTest bool, run int) string {
	if rtTest {
		return fmt.Sprintf("rt_app_test_%d.csv", run)
	}
	return "pong.csv"
}

func (o *output) pong(res role.PongResult, rtTest bool) error {
	o.log.Infof("saving results for %d runs", len(res.Runs))
	for i, run := range res.Runs {
		jitters := make([]time.Duration, len(run.Samples))
		for j, s := range run.Samples {
			jitters[j] = s.Jitter
		}
		o.summary(fmt.Sprintf("run %d jitter", i), jitters)
		if run.Dropped > 0 {
			o.log.Warnf("run %d: %d packets beyond the run limit were not recorded", i, run.Dropped)
		}

		err := o.write(pongFile(rtTest, i), []string{"id", "rx_tstamp", "jitter"}, func(emit func(...int64) error) error {
			for _, s := range run.Samples {
				if err := emit(int64(s.ID), int64(s.Rx), int64(s.Jitter)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
