package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for fetching and extraction.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    prometheus.Histogram
	ErrorsTotal        *prometheus.CounterVec
	ProductsExtracted  *prometheus.CounterVec
	RecordsDropped     *prometheus.CounterVec
	DetailFetchesTotal *prometheus.CounterVec
}

// NewMetrics constructs the scraper collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued by the scraper.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for scraper requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of fetch errors by type.",
		},
		[]string{"error_type"},
	)
	extracted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_products_extracted_total",
			Help: "Products extracted from listing pages.",
		},
		[]string{"brand"},
	)
	dropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_records_dropped_total",
			Help: "Listing containers dropped during extraction by reason.",
		},
		[]string{"reason"},
	)
	details := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_detail_fetches_total",
			Help: "Detail page enrichments by outcome.",
		},
		[]string{"outcome"},
	)

	if reg != nil {
		reg.MustRegister(requests, requestDuration, errorsTotal, extracted, dropped, details)
	}

	return &Metrics{
		RequestsTotal:      requests,
		RequestDuration:    requestDuration,
		ErrorsTotal:        errorsTotal,
		ProductsExtracted:  extracted,
		RecordsDropped:     dropped,
		DetailFetchesTotal: details,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// AddExtracted counts products extracted for a brand.
func (m *Metrics) AddExtracted(brand string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ProductsExtracted.WithLabelValues(brand).Add(float64(n))
}

// AddDropped counts dropped listing containers.
func (m *Metrics) AddDropped(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordsDropped.WithLabelValues(reason).Add(float64(n))
}

// IncDetail counts a detail enrichment outcome.
func (m *Metrics) IncDetail(outcome string) {
	if m == nil {
		return
	}
	m.DetailFetchesTotal.WithLabelValues(outcome).Inc()
}
