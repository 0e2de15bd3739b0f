package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/teranos/pulsejobs/pulse/schedule"
)

const metricsNamespace = "pulsejobs"

// Metrics holds the lifecycle collectors. A nil *Metrics records nothing.
type Metrics struct {
	executions     *prometheus.CounterVec
	duration       prometheus.Histogram
	transitions    *prometheus.CounterVec
	dispatchErrors *prometheus.CounterVec
}

// NewMetrics creates the lifecycle collectors and registers them with r
func NewMetrics(r prometheus.Registerer) *Metrics {
	m := &Metrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "executions_total",
			Help:      "Count of finished execution attempts by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "execution_duration_seconds",
			Help:      "Duration of execution attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transitions_total",
			Help:      "Count of job state transitions by target status.",
		}, []string{"to"}),
		dispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dispatch_errors_total",
			Help:      "Count of wake-up operations that failed after retries.",
		}, []string{"op"}),
	}
	if r != nil {
		r.MustRegister(m.executions, m.duration, m.transitions, m.dispatchErrors)
	}

	// Zero the known label values so they are exported before first use
	for _, outcome := range []schedule.Outcome{schedule.OutcomeSuccess, schedule.OutcomeFailed} {
		m.executions.WithLabelValues(string(outcome))
	}
	for _, op := range []string{"arm", "disarm", "rearm"} {
		m.dispatchErrors.WithLabelValues(op)
	}
	return m
}

func (m *Metrics) execution(success bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := schedule.OutcomeFailed
	if success {
		outcome = schedule.OutcomeSuccess
	}
	m.executions.WithLabelValues(string(outcome)).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) transition(to schedule.Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) dispatchError(op string) {
	if m == nil {
		return
	}
	m.dispatchErrors.WithLabelValues(op).Inc()
}
