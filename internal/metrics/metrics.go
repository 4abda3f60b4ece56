package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the rendition pipeline.
// All collectors live in a private registry so tests can create as many
// instances as they need without double-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	batchesTotal  *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	pairsTotal    *prometheus.CounterVec
	activeBatches prometheus.Gauge
	bytesWritten  prometheus.Counter
	pixelsWritten prometheus.Counter
}

// New creates a Metrics with its own registry, including the standard
// Go and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "renditions_batches_total",
			Help: "Total batch jobs by final status.",
		}, []string{"status"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "renditions_batch_duration_seconds",
			Help:    "Wall-clock duration of each batch job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		pairsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "renditions_pairs_total",
			Help: "Total source and instruction pairings by outcome.",
		}, []string{"status"}),
		activeBatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "renditions_active_batches",
			Help: "Current number of batches being rendered.",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renditions_bytes_written_total",
			Help: "Total bytes of rendered output written to storage.",
		}),
		pixelsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renditions_pixels_written_total",
			Help: "Total pixels across all rendered outputs.",
		}),
	}

	registry.MustRegister(
		m.batchesTotal,
		m.batchDuration,
		m.pairsTotal,
		m.activeBatches,
		m.bytesWritten,
		m.pixelsWritten,
	)
	return m
}

// Handler exposes the registry for mounting at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// BatchStarted marks a batch as in flight.
func (m *Metrics) BatchStarted() {
	m.activeBatches.Inc()
}

// BatchFinished records the terminal status and duration of a batch.
func (m *Metrics) BatchFinished(status string, seconds float64) {
	m.activeBatches.Dec()
	m.batchesTotal.WithLabelValues(status).Inc()
	m.batchDuration.WithLabelValues(status).Observe(seconds)
}

// PairRendered records one successful pairing and its output size.
func (m *Metrics) PairRendered(bytes, width, height int) {
	m.pairsTotal.WithLabelValues("rendered").Inc()
	m.bytesWritten.Add(float64(bytes))
	m.pixelsWritten.Add(float64(width * height))
}

// PairFailed records one failed pairing.
func (m *Metrics) PairFailed() {
	m.pairsTotal.WithLabelValues("failed").Inc()
}
