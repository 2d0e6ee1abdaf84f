package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/plateflow/internal/acquisition"
)

// Metrics holds Prometheus metrics for the read scheduler.
type Metrics struct {
	TicksTotal      *prometheus.CounterVec
	DispatchesTotal *prometheus.CounterVec
	CancelledTotal  prometheus.Counter
}

// NewMetrics registers and returns scheduler metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plateflow_scheduler_ticks_total",
			Help: "Total scheduler ticks by outcome.",
		}, []string{"outcome"}),
		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plateflow_scheduler_dispatches_total",
			Help: "Total reads dispatched by priority.",
		}, []string{"priority"}),
		CancelledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plateflow_scheduler_reads_cancelled_total",
			Help: "Total reads cancelled for missing their deadline.",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.DispatchesTotal,
		m.CancelledTotal,
	)

	return m
}

func (m *Metrics) observeTick(outcome string) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeDispatch(p acquisition.Priority) {
	if m == nil {
		return
	}
	m.DispatchesTotal.WithLabelValues(string(p)).Inc()
}

func (m *Metrics) observeCancelled(n int) {
	if m == nil {
		return
	}
	m.CancelledTotal.Add(float64(n))
}
