package lifecycle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for tier transfers.
type Metrics struct {
	TransfersTotal   *prometheus.CounterVec
	TransferDuration *prometheus.HistogramVec
}

// NewMetrics registers and returns lifecycle metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransfersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plateflow_lifecycle_transfers_total",
			Help: "Total tier transfers by mode and outcome.",
		}, []string{"mode", "outcome"}),
		TransferDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "plateflow_lifecycle_transfer_duration_seconds",
			Help:    "Duration of tier transfers in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~68m
		}, []string{"mode"}),
	}

	reg.MustRegister(
		m.TransfersTotal,
		m.TransferDuration,
	)

	return m
}

func (m *Metrics) observeTransfer(mode Mode, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.TransfersTotal.WithLabelValues(string(mode), outcome).Inc()
	m.TransferDuration.WithLabelValues(string(mode)).Observe(dur.Seconds())
}
