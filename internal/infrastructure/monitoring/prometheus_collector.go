package monitoring

import (
	"net/http"
	"time"

	"micstream/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recording results used as the "result" label.
const (
	ResultCompleted = "completed"
	ResultEmpty     = "empty"
	ResultAborted   = "aborted"
)

// PrometheusCollector owns a private registry so several servers (and
// tests) can coexist in one process.
type PrometheusCollector struct {
	registry *prometheus.Registry

	// Connections
	connectionsActive   prometheus.Gauge
	connectionsTotal    prometheus.Counter
	connectionsRejected *prometheus.CounterVec
	connectionDuration  prometheus.Histogram

	// Frames
	framesTotal   *prometheus.CounterVec
	bytesReceived prometheus.Counter

	// Recordings
	recordingsActive  prometheus.Gauge
	recordingsTotal   *prometheus.CounterVec
	recordingDuration prometheus.Histogram
	bytesWritten      prometheus.Counter
	backpressureWait  prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &PrometheusCollector{
		registry: registry,

		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "micstream_connections_active",
			Help: "Number of open audio stream connections",
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "micstream_connections_total",
			Help: "Total number of accepted audio stream connections",
		}),

		connectionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "micstream_connections_rejected_total",
			Help: "Connections refused before or during the upgrade",
		}, []string{"reason"}),

		connectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "micstream_connection_duration_seconds",
			Help:    "Lifetime of audio stream connections",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),

		framesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "micstream_frames_total",
			Help: "Frames received, by decode outcome",
		}, []string{"outcome"}),

		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "micstream_bytes_received_total",
			Help: "Raw frame bytes received from clients",
		}),

		recordingsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "micstream_recordings_active",
			Help: "1 while a recording session is open",
		}),

		recordingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "micstream_recordings_total",
			Help: "Finished recording sessions, by result",
		}, []string{"result"}),

		recordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "micstream_recording_duration_seconds",
			Help:    "Wall-clock length of finished recordings",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		bytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "micstream_recording_bytes_written_total",
			Help: "PCM bytes handed to the recording writer",
		}),

		backpressureWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "micstream_backpressure_wait_seconds",
			Help:    "Time packets waited for the recording writer to drain",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}
}

// Registry exposes the registry for tests and custom collectors.
func (p *PrometheusCollector) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format.
func (p *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *PrometheusCollector) ConnectionOpened() {
	p.connectionsActive.Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) ConnectionClosed(lifetime time.Duration) {
	p.connectionsActive.Dec()
	p.connectionDuration.Observe(lifetime.Seconds())
}

func (p *PrometheusCollector) ConnectionRejected(reason string) {
	p.connectionsRejected.WithLabelValues(reason).Inc()
}

// RecordFrame counts one decoded frame by outcome.
func (p *PrometheusCollector) RecordFrame(outcome string) {
	p.framesTotal.WithLabelValues(outcome).Inc()
}

func (p *PrometheusCollector) BytesReceived(n int) {
	p.bytesReceived.Add(float64(n))
}

func (p *PrometheusCollector) RecordingStarted() {
	p.recordingsActive.Set(1)
}

func (p *PrometheusCollector) RecordingStopped(summary *domain.RecordingSummary) {
	p.recordingsActive.Set(0)
	result := ResultCompleted
	if summary.Empty {
		result = ResultEmpty
	}
	p.recordingsTotal.WithLabelValues(result).Inc()
	p.recordingDuration.Observe(summary.Duration.Seconds())
}

func (p *PrometheusCollector) RecordingAborted() {
	p.recordingsActive.Set(0)
	p.recordingsTotal.WithLabelValues(ResultAborted).Inc()
}

func (p *PrometheusCollector) PacketWritten(bytes int) {
	p.bytesWritten.Add(float64(bytes))
}

func (p *PrometheusCollector) BackpressureWait(d time.Duration) {
	p.backpressureWait.Observe(d.Seconds())
}
