package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hpc_jobs"

// Metrics groups the collectors used by the job pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	jobsByStatus       *prometheus.GaugeVec
	transitions        *prometheus.CounterVec
	pollCycles         prometheus.Counter
	pollFailures       *prometheus.CounterVec
	preprocessFailures prometheus.Counter
	tokenFetches       *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexed_jobs",
			Help:      "Jobs currently held in the pending/submitted indices.",
		}, []string{"index"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Job status transitions, by target status.",
		}, []string{"status"}),
		pollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Completed poll cycles.",
		}),
		pollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Failed per-account polls.",
		}, []string{"account"}),
		preprocessFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preprocess_failures_total",
			Help:      "Preprocessing tasks that left their job pending.",
		}),
		tokenFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_fetches_total",
			Help:      "Token fetches from the identity endpoint, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.jobsByStatus, m.transitions, m.pollCycles, m.pollFailures, m.preprocessFailures, m.tokenFetches)
	return m
}

func (m *Metrics) SetIndexed(pending, submitted int) {
	if m == nil {
		return
	}
	m.jobsByStatus.WithLabelValues("pending").Set(float64(pending))
	m.jobsByStatus.WithLabelValues("submitted").Set(float64(submitted))
}

func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) PollCycle() {
	if m == nil {
		return
	}
	m.pollCycles.Inc()
}

func (m *Metrics) PollFailure(account string) {
	if m == nil {
		return
	}
	m.pollFailures.WithLabelValues(account).Inc()
}

func (m *Metrics) PreprocessFailure() {
	if m == nil {
		return
	}
	m.preprocessFailures.Inc()
}

func (m *Metrics) TokenFetch(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.tokenFetches.WithLabelValues(result).Inc()
}
