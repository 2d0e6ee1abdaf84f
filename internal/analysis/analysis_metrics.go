package analysis

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the analysis engine's Prometheus collectors.
type Metrics struct {
	SubmissionsTotal *prometheus.CounterVec
	ReconcilesTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers the analysis metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plateflow_analysis_submissions_total",
			Help: "Analysis job submissions by outcome.",
		}, []string{"outcome"}),
		ReconcilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plateflow_analysis_reconciles_total",
			Help: "Per-job reconcile attempts by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.SubmissionsTotal, m.ReconcilesTotal)
	}
	return m
}

func (m *Metrics) observeSubmission(outcome string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeReconcile(outcome string) {
	if m == nil {
		return
	}
	m.ReconcilesTotal.WithLabelValues(outcome).Inc()
}
