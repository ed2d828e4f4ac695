package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rtnet/pkg/cyclic"
	"rtnet/pkg/role"
	"rtnet/pkg/rtsched"
	"rtnet/pkg/socket"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := mainErr(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

type Config struct {
	role         string
	iface        string
	dest         string
	port         int
	size         int
	cycle        int64
	count        uint64
	throttle     uint64
	schedPolicy  string
	schedPrio    int
	statsPrio    int
	cpus         string
	logLevel     string
	verbose      bool
	save         bool
	outputDir    string
	rtTest       bool
	hwTimestamps bool
	txTimeLead   time.Duration
	sockPrio     int
	readTimeout  time.Duration
	metricsAddr  string
	lockMemory   bool
	runLimit     uint64

	// derived by validate
	parsedRole role.Role
	sched      rtsched.Params
	statsSched rtsched.Params
	cpuList    []int
	level      logrus.Level
}

var errConfig = errors.New("invalid configuration")

func parseFlags(args []string) (Config, error) {
	var conf Config
	fs := flag.NewFlagSet("rtnet", flag.ContinueOnError)
	fs.StringVar(&conf.role, "role", "", "role: tx, rx, ping or pong")
	fs.StringVar(&conf.iface, "iface", "", "network interface to bind to")
	fs.StringVar(&conf.dest, "dest", "", "destination address (tx, ping)")
	fs.IntVar(&conf.port, "port", 12345, "UDP port")
	fs.IntVar(&conf.size, "size", 64, "packet size (bytes)")
	fs.Int64Var(&conf.cycle, "cycle", 1_000_000, "cycle time (ns)")
	fs.Uint64Var(&conf.count, "count", 1000, "number of packets; pong without -rt-test keeps this many samples")
	fs.Uint64Var(&conf.throttle, "throttle", 0, "leading ping round trips left out of the results")
	fs.StringVar(&conf.schedPolicy, "sched-policy", "other", "scheduling policy: fifo, rr or other")
	fs.IntVar(&conf.schedPrio, "sched-prio", 0, "scheduling priority of the role thread")
	fs.IntVar(&conf.statsPrio, "stats-prio", 0, "scheduling priority of the timestamp correlator thread (0: role priority - 1)")
	fs.StringVar(&conf.cpus, "cpus", "", "cpu list to pin to, e.g. 2,4-5")
	fs.StringVar(&conf.logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	fs.BoolVar(&conf.verbose, "verbose", false, "print per packet results")
	fs.BoolVar(&conf.save, "save", false, "save per packet results to csv files")
	fs.StringVar(&conf.outputDir, "output-dir", ".", "directory for saved results")
	fs.BoolVar(&conf.rtTest, "rt-test", false, "pong: realtime subtest mode, every sequence 0 starts a new run")
	fs.BoolVar(&conf.hwTimestamps, "hw-timestamps", false, "enable adapter hardware timestamping (needs -iface)")
	fs.DurationVar(&conf.txTimeLead, "txtime-lead", 0, "tx: schedule transmission at deadline + lead with SO_TXTIME (0 disables)")
	fs.IntVar(&conf.sockPrio, "sock-prio", 0, "SO_PRIORITY of the socket (0 leaves the default)")
	fs.DurationVar(&conf.readTimeout, "read-timeout", time.Second, "receive timeout; a ping reply not received in time is lost")
	fs.StringVar(&conf.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.BoolVar(&conf.lockMemory, "lock-memory", false, "lock all pages into RAM")
	fs.Uint64Var(&conf.runLimit, "run-limit", 0, fmt.Sprintf("pong: samples kept per run (0: -count, or %d per run with -rt-test)", role.MaxRunSamples))

	if err := fs.Parse(args); err != nil {
		return conf, err
	}
	return conf, conf.validate()
}

func (c *Config) validate() (err error) {
	if c.parsedRole, err = role.ParseRole(c.role); err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}
	if c.parsedRole.Sends() && c.dest == "" {
		return fmt.Errorf("%w: -dest is required for %s", errConfig, c.parsedRole)
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("%w: port %d", errConfig, c.port)
	}
	if c.hwTimestamps && c.iface == "" {
		return fmt.Errorf("%w: -hw-timestamps needs -iface", errConfig)
	}
	if c.txTimeLead > 0 && c.parsedRole != role.TX {
		return fmt.Errorf("%w: -txtime-lead only applies to tx", errConfig)
	}
	if c.readTimeout <= 0 {
		return fmt.Errorf("%w: read timeout %v", errConfig, c.readTimeout)
	}

	policy, err := rtsched.ParsePolicy(c.schedPolicy)
	if err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}
	c.sched = rtsched.Params{Policy: policy, Priority: c.schedPrio}
	if err = c.sched.Validate(); err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}
	c.statsSched = rtsched.Params{Policy: policy, Priority: c.statsPrio}
	if policy.Realtime() && c.statsPrio == 0 {
		c.statsSched.Priority = max(c.schedPrio-1, rtsched.MinPriority)
	}
	if err = c.statsSched.Validate(); err != nil {
		return fmt.Errorf("%w: stats: %w", errConfig, err)
	}

	if c.cpuList, err = rtsched.ParseCPUs(c.cpus); err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}
	if c.level, err = logrus.ParseLevel(c.logLevel); err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}

	s := c.session()
	if err = s.Validate(); err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}
	return nil
}

// clock is the session clock. Kernel timestamps are CLOCK_REALTIME, so the
// realtime clock is the default; the realtime subtest only compares local
// readings and uses the monotonic clock.
func (c *Config) clock() cyclic.SystemClock {
	if c.rtTest {
		return cyclic.Monotonic()
	}
	return cyclic.Realtime()
}

func (c *Config) session() role.Session {
	return role.Session{
		Role:       c.parsedRole,
		Cycle:      time.Duration(c.cycle),
		Count:      c.count,
		Throttle:   c.throttle,
		PacketSize: c.size,
		Clock:      c.clock(),
		RTTest:     c.rtTest,
		TxTimeLead: c.txTimeLead,
		RunLimit:   c.runLimit,
	}
}

func (c *Config) socketOptions(log logrus.FieldLogger) (socket.Options, error) {
	o := socket.Options{
		Interface:          c.iface,
		PacketSize:         c.size,
		HardwareTimestamps: c.hwTimestamps,
		Priority:           c.sockPrio,
		Log:                log,
	}

	switch c.parsedRole {
	case role.TX, role.Ping:
		peer, err := socket.ResolvePeer(c.dest, c.port)
		if err != nil {
			return o, err
		}
		o.Peer = peer
		o.TxTimestamps = c.parsedRole == role.TX
		o.TxTime = c.txTimeLead > 0
		o.TxTimeClock = c.clock().ID
		if c.parsedRole == role.Ping {
			o.ReadTimeout = c.readTimeout
		}
	case role.RX, role.Pong:
		o.Port = c.port
		if c.rtTest {
			o.NonBlocking = true
		} else {
			o.ReadTimeout = c.readTimeout
		}
	}
	return o, nil
}

func newLogger(c *Config) *logrus.Logger {
	log := logrus.New()
	log.SetLevel(c.level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000000",
	})
	return log
}

func mainErr() error {
	conf, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	log := newLogger(&conf)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, &conf, log)
}
