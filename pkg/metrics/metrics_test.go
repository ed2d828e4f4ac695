package metrics_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"rtnet/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observed []float64

func (o *observed) Observe(v float64) { *o = append(*o, v) }

func TestObserveMicrosUsesMagnitude(t *testing.T) {
	var o observed
	metrics.ObserveMicros(&o, -5*time.Microsecond)
	metrics.ObserveMicros(&o, 1500*time.Nanosecond)
	assert.Equal(t, observed{5, 1.5}, o)

	var _ prometheus.Observer = &o
}

func TestCountersAreRegistered(t *testing.T) {
	before := testutil.ToFloat64(metrics.Anomalies.WithLabelValues(metrics.ReasonKind))
	metrics.Anomalies.WithLabelValues(metrics.ReasonKind).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.Anomalies.WithLabelValues(metrics.ReasonKind)))
}

func TestServe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	log, _ := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- metrics.Serve(ctx, addr, log) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + metrics.Path)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.True(t, strings.Contains(body, "rtnet_anomalies_total"))

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
