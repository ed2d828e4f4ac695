package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rtnet/pkg/packet"
	"rtnet/pkg/role"
	"rtnet/pkg/stats"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOutput(t *testing.T, save, verbose bool) (*output, *bytes.Buffer, *logtest.Hook) {
	log, hook := logtest.NewNullLogger()
	var stdout bytes.Buffer
	return &output{
		save:    save,
		verbose: verbose,
		dir:     filepath.Join(t.TempDir(), "results"),
		stdout:  &stdout,
		log:     log,
	}, &stdout, hook
}

func TestPingOutput(t *testing.T) {
	out, stdout, hook := newTestOutput(t, false, true)
	res := role.PingResult{
		Sent: 3,
		Lost: 1,
		Samples: []role.PingSample{
			{ID: 1, RTT: 100 * time.Microsecond, Jitter: -5, Cycle: time.Millisecond},
			{ID: 2, RTT: 120 * time.Microsecond, Jitter: 7, Cycle: time.Millisecond},
		},
	}
	require.NoError(t, out.ping(res))
	assert.Equal(t, "id,rtt,jitter,cycle_time\n1,100000,-5,1000000\n2,120000,7,1000000\n", stdout.String())
	assert.Len(t, hook.AllEntries(), 3)
}

func TestQuietOutputWritesNothing(t *testing.T) {
	out, stdout, _ := newTestOutput(t, false, false)
	require.NoError(t, out.ping(role.PingResult{Samples: []role.PingSample{{ID: 1}}}))
	assert.Empty(t, stdout.String())
	assert.NoDirExists(t, out.dir)
}

func TestPongSubtestFiles(t *testing.T) {
	out, stdout, _ := newTestOutput(t, true, true)
	res := role.PongResult{Runs: []role.PongRun{
		{Samples: []role.PongSample{{ID: 0, Rx: 10, Jitter: 0}, {ID: 1, Rx: 20, Jitter: 3}}},
		{Samples: []role.PongSample{{ID: 0, Rx: 40, Jitter: 0}}},
	}}
	require.NoError(t, out.pong(res, true))
	assert.Empty(t, stdout.String())

	b, err := os.ReadFile(filepath.Join(out.dir, "rt_app_test_0.csv"))
	require.NoError(t, err)
	assert.Equal(t, "id,rx_tstamp,jitter\n0,10,0\n1,20,3\n", string(b))
	b, err = os.ReadFile(filepath.Join(out.dir, "rt_app_test_1.csv"))
	require.NoError(t, err)
	assert.Equal(t, "id,rx_tstamp,jitter\n0,40,0\n", string(b))

	assert.Equal(t, "pong.csv", pongFile(false, 3))
}

func TestRecordsOutput(t *testing.T) {
	out, _, hook := newTestOutput(t, true, false)
	arena, err := stats.NewArena(2)
	require.NoError(t, err)
	arena.App().SetTx(0, 1000)
	arena.Kernel().SetTx(0, packet.Scheduled, 1010)
	arena.Kernel().SetTx(0, packet.Software, 1020)

	require.NoError(t, out.records("tx", arena.Records()))
	b, err := os.ReadFile(filepath.Join(out.dir, "tx.csv"))
	require.NoError(t, err)
	assert.Equal(t, "id,app_tx,app_rx,tx_sched,tx_sw,tx_hw,rx_sw,rx_hw\n0,1000,0,1010,1020,0,0,0\n1,0,0,0,0,0,0,0\n", string(b))

	var msgs []string
	for _, e := range hook.AllEntries() {
		msgs = append(msgs, e.Message)
	}
	assert.Contains(t, msgs, "app to sched: n=1 min=10ns avg=10ns max=10ns stddev=0s")
	assert.Contains(t, msgs, "app to sw: n=1 min=20ns avg=20ns max=20ns stddev=0s")
}
