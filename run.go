package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"rtnet/pkg/correlate"
	"rtnet/pkg/cyclic"
	"rtnet/pkg/metrics"
	"rtnet/pkg/role"
	"rtnet/pkg/rtsched"
	"rtnet/pkg/socket"
	"rtnet/pkg/stats"

	"github.com/sirupsen/logrus"
)

// setupThread pins the calling thread to the configured cpus and applies the
// given real time parameters.
func setupThread(conf *Config, params rtsched.Params, log logrus.FieldLogger) error {
	if err := rtsched.SetAffinity(conf.cpuList); err != nil {
		return err
	}
	if params.Policy.Realtime() {
		if err := rtsched.Apply(params); err != nil {
			return err
		}
	}
	if cur, err := rtsched.Current(); err == nil {
		log.Debugf("thread scheduling %s, cpus %v", cur, conf.cpuList)
	}
	return nil
}

func run(ctx context.Context, conf *Config, log *logrus.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if conf.metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, conf.metricsAddr, log); err != nil {
				log.Error(err)
			}
		}()
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := setupThread(conf, conf.sched, log); err != nil {
		return err
	}
	if conf.lockMemory {
		if err := rtsched.LockMemory(); err != nil {
			return err
		}
	}

	opts, err := conf.socketOptions(log)
	if err != nil {
		return err
	}
	sock, err := socket.New(opts)
	if err != nil {
		return err
	}
	defer sock.Close()

	sess := conf.session()
	runner, err := role.NewRunner(sess, sock, log)
	if err != nil {
		return err
	}
	log.Infof("%s: %d packets of %d bytes every %v, clock %s", sess.Role, sess.Count, sess.PacketSize, sess.Cycle, conf.clock())

	out := newOutput(conf, log)
	switch sess.Role {
	case role.TX:
		return runTX(ctx, conf, runner, sock, out)
	case role.RX:
		return runRX(ctx, runner, out)
	case role.Ping:
		return runPing(ctx, runner, out)
	case role.Pong:
		return runPong(ctx, runner, out)
	}
	return fmt.Errorf("%w: %s", errConfig, sess.Role)
}

// interrupted reports whether err is the cooperative cancellation of a run,
// after which partial results are still rendered.
func interrupted(err error, log logrus.FieldLogger) bool {
	if errors.Is(err, context.Canceled) {
		log.Warn("interrupted")
		return true
	}
	return false
}

func runTX(ctx context.Context, conf *Config, runner *role.Runner, sock *socket.Socket, out *output) error {
	s := &runner.Session
	arena, err := stats.NewArena(s.Count)
	if err != nil {
		return err
	}

	corr := correlate.New(sock, arena.Kernel(), s.Count,
		correlate.WithLogger(runner.Log),
		correlate.WithSetup(func() error {
			return setupThread(conf, conf.statsSched, runner.Log.WithField("component", "correlator"))
		}),
	)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go corr.Run(ctx)

	_, err = runner.TX(ctx, cyclic.New(s.Clock, s.Cycle), arena.App(), corr.Ready)
	if err != nil && !interrupted(err, runner.Log) {
		cancel()
		<-corr.Done()
		return err
	}

	<-corr.Done()
	if err := corr.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	c := corr.Counts()
	runner.Log.Infof("tx timestamps: %d sched, %d sw, %d hw, %d anomalies", c.Scheduled, c.Software, c.Hardware, c.Anomalies)

	return out.records("tx", arena.Records())
}

func runRX(ctx context.Context, runner *role.Runner, out *output) error {
	arena, err := stats.NewArena(runner.Session.Count)
	if err != nil {
		return err
	}
	if _, err := runner.RX(ctx, arena.App(), arena.Kernel()); err != nil && !interrupted(err, runner.Log) {
		return err
	}
	return out.records("rx", arena.Records())
}

func runPing(ctx context.Context, runner *role.Runner, out *output) error {
	res, err := runner.Ping(ctx, cyclic.New(runner.Session.Clock, runner.Session.Cycle))
	if err != nil && !interrupted(err, runner.Log) {
		return err
	}
	return out.ping(res)
}

func runPong(ctx context.Context, runner *role.Runner, out *output) error {
	res, err := runner.Pong(ctx)
	if err != nil {
		return err
	}
	return out.pong(res, runner.Session.RTTest)
}
