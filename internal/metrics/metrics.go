package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame processing counters
	FramesRead     atomic.Uint64
	FramesAnalyzed atomic.Uint64
	FramesStreamed atomic.Uint64
	FramesDropped  atomic.Uint64
	Rewinds        atomic.Uint64

	// Error counters
	ReadErrors     atomic.Uint64
	AnalysisErrors atomic.Uint64

	// Request counters
	SnapshotRequests atomic.Uint64
	DemoRequests     atomic.Uint64

	// Latest occupancy
	SlotsFree     atomic.Uint64
	SlotsOccupied atomic.Uint64

	// Latency tracking
	ProcessLatencyMs atomic.Uint64 // Last frame pipeline latency in ms

	// Client tracking
	StreamClients atomic.Int64
	EventClients  atomic.Int64
	TotalClients  atomic.Uint64

	inference prometheus.Histogram

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inference: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "parking_inference_seconds",
			Help:    "Classifier latency per frame batch",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		fn,
	))
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Frame processing metrics
	m.counter("parking_frames_read_total", "Total frames read from the video source", &m.FramesRead)
	m.counter("parking_frames_analyzed_total", "Total frames run through the classifier", &m.FramesAnalyzed)
	m.counter("parking_frames_streamed_total", "Total annotated frames fanned out to MJPEG clients", &m.FramesStreamed)
	m.counter("parking_frames_dropped_total", "Total frames skipped for slow clients", &m.FramesDropped)
	m.counter("parking_video_rewinds_total", "Total rewinds of the looping video", &m.Rewinds)

	// Error metrics
	m.counter("parking_read_errors_total", "Total video read errors", &m.ReadErrors)
	m.counter("parking_analysis_errors_total", "Total frame analysis errors", &m.AnalysisErrors)

	// Request metrics
	m.counter("parking_snapshot_requests_total", "Total /space_count requests", &m.SnapshotRequests)
	m.counter("parking_demo_requests_total", "Total demo analysis requests", &m.DemoRequests)

	// Occupancy
	m.gauge("parking_slots_free", "Free slots in the latest analyzed frame",
		func() float64 { return float64(m.SlotsFree.Load()) })
	m.gauge("parking_slots_occupied", "Occupied slots in the latest analyzed frame",
		func() float64 { return float64(m.SlotsOccupied.Load()) })

	// Latency metrics
	m.gauge("parking_process_latency_ms", "Latest read-analyze-render latency in milliseconds",
		func() float64 { return float64(m.ProcessLatencyMs.Load()) })
	m.registry.MustRegister(m.inference)

	// Client metrics
	m.gauge("parking_stream_clients", "Number of connected MJPEG clients",
		func() float64 { return float64(m.StreamClients.Load()) })
	m.gauge("parking_event_clients", "Number of connected SSE and WebSocket clients",
		func() float64 { return float64(m.EventClients.Load()) })
	m.counter("parking_clients_total", "Total stream and event clients connected", &m.TotalClients)
}

// ObserveInference records one classifier batch duration.
func (m *Metrics) ObserveInference(d time.Duration) {
	m.inference.Observe(d.Seconds())
}

// UpdateProcessLatency updates the last processing latency
func (m *Metrics) UpdateProcessLatency(duration time.Duration) {
	m.ProcessLatencyMs.Store(uint64(duration.Milliseconds()))
}

// UpdateOccupancy stores the latest free/occupied counts.
func (m *Metrics) UpdateOccupancy(free, occupied int) {
	m.SlotsFree.Store(uint64(free))
	m.SlotsOccupied.Store(uint64(occupied))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
