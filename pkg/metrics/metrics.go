// Package metrics holds the process wide Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const Path = "/metrics"

var (
	Packets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtnet_packets_total",
		Help: "Packets handled by the role loop",
	}, []string{"role", "direction"})
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtnet_tx_notifications_total",
		Help: "Transmit timestamp notifications read from the error queue",
	}, []string{"kind"})
	Anomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtnet_anomalies_total",
		Help: "Received data that was logged and skipped",
	}, []string{"reason"})
	Lost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtnet_lost_replies_total",
		Help: "Ping replies that never arrived",
	})
	RTT = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rtnet_rtt_microseconds",
		Help:    "Distribution of ping round trip times in microseconds",
		Buckets: prometheus.ExponentialBuckets(10, 2, 14),
	})
	Jitter = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rtnet_jitter_microseconds",
		Help:    "Distribution of absolute receive jitter in microseconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 16),
	})
)

// Anomaly reasons.
const (
	ReasonKind     = "kind"
	ReasonRange    = "range"
	ReasonDecode   = "decode"
	ReasonShort    = "short"
	ReasonStale    = "stale"
	ReasonOverflow = "overflow"
	ReasonTrunc    = "truncated"
)

// ObserveMicros records d on h in microseconds.
func ObserveMicros(h prometheus.Observer, d time.Duration) {
	if d < 0 {
		d = -d
	}
	h.Observe(float64(d) / float64(time.Microsecond))
}

// Serve exposes the default registry on addr until ctx is done.
func Serve(ctx context.Context, addr string, log logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle(Path, promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Infof("serving metrics on %s%s", addr, Path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
