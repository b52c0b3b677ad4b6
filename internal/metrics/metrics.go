package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	gatewayStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gatewarden",
			Subsystem: "gateway",
			Name:      "starts_total",
			Help:      "Number of gateway launch attempts.",
		},
	)
	gatewayRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gatewarden",
			Subsystem: "gateway",
			Name:      "restarts_total",
			Help:      "Number of operator-requested gateway restarts.",
		},
	)
	syncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewarden",
			Subsystem: "backup",
			Name:      "syncs_total",
			Help:      "Number of sync attempts by outcome (success, skipped, failed).",
		}, []string{"outcome"},
	)
	backups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewarden",
			Subsystem: "backup",
			Name:      "snapshots_total",
			Help:      "Number of backup snapshots by kind (versioned, golden).",
		}, []string{"kind"},
	)
	restores = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewarden",
			Subsystem: "backup",
			Name:      "restores_total",
			Help:      "Number of restore attempts by outcome (success, failed).",
		}, []string{"outcome"},
	)
	syncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gatewarden",
			Subsystem: "backup",
			Name:      "sync_duration_seconds",
			Help:      "Wall-clock duration of sync operations.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{gatewayStarts, gatewayRestarts, syncs, backups, restores, syncDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncGatewayStart() {
	if regOK.Load() {
		gatewayStarts.Inc()
	}
}

func IncGatewayRestart() {
	if regOK.Load() {
		gatewayRestarts.Inc()
	}
}

func IncSync(outcome string) {
	if regOK.Load() {
		syncs.WithLabelValues(outcome).Inc()
	}
}

func IncBackup(kind string) {
	if regOK.Load() {
		backups.WithLabelValues(kind).Inc()
	}
}

func IncRestore(outcome string) {
	if regOK.Load() {
		restores.WithLabelValues(outcome).Inc()
	}
}

func ObserveSyncDuration(seconds float64) {
	if regOK.Load() {
		syncDuration.Observe(seconds)
	}
}
