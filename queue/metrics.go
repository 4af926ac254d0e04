package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for job dispatch.
type Metrics struct {
	JobsTotal    *prometheus.CounterVec
	RetriesTotal *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	ActiveJobs   *prometheus.GaugeVec
}

// NewMetrics constructs the queue collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	jobs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_total",
			Help: "Jobs that reached a terminal state by kind and status.",
		},
		[]string{"kind", "status"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_retries_total",
			Help: "Job attempts scheduled for retry.",
		},
		[]string{"kind"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_attempt_duration_seconds",
			Help:    "Duration of a single job attempt.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"kind"},
	)
	active := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_active_attempts",
			Help: "Attempts currently executing by kind.",
		},
		[]string{"kind"},
	)

	if reg != nil {
		reg.MustRegister(jobs, retries, duration, active)
	}

	return &Metrics{
		JobsTotal:    jobs,
		RetriesTotal: retries,
		JobDuration:  duration,
		ActiveJobs:   active,
	}
}

func (m *Metrics) finished(kind, status string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) retried(kind string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) attemptStarted(kind string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	gauge := m.ActiveJobs.WithLabelValues(kind)
	gauge.Inc()
	return func() {
		gauge.Dec()
		m.JobDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}
