package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks agent-level counters exposed on /metrics.
type Metrics struct {
	registry  *prometheus.Registry
	submitted prometheus.Counter
	canceled  prometheus.Counter
	scalars   prometheus.Counter
}

// NewMetrics creates the metric set on a private prometheus registry.
// queueDepth and running are read live from the job registry.
func NewMetrics(queueDepth func() int, running func() int) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minder_jobs_submitted_total",
			Help: "Jobs accepted by the registry.",
		}),
		canceled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minder_jobs_canceled_total",
			Help: "Jobs canceled by local or remote command.",
		}),
		scalars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minder_scalar_reports_total",
			Help: "Scalar values reported by running jobs.",
		}),
	}

	reg.MustRegister(m.submitted, m.canceled, m.scalars)
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "minder_jobs_queued",
		Help: "Jobs currently waiting in the queue.",
	}, func() float64 { return float64(queueDepth()) }))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "minder_job_running",
		Help: "1 while a job is running, else 0.",
	}, func() float64 { return float64(running()) }))

	return m
}

// JobSubmitted increments the submission counter.
func (m *Metrics) JobSubmitted() { m.submitted.Inc() }

// JobCanceled increments the cancellation counter.
func (m *Metrics) JobCanceled() { m.canceled.Inc() }

// ScalarReported increments the scalar report counter.
func (m *Metrics) ScalarReported() { m.scalars.Inc() }

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
