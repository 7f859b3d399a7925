package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the runtime.
type Metrics struct {
	ActiveConnections  prometheus.Gauge
	ConnectionEvents   *prometheus.CounterVec
	Frames             *prometheus.CounterVec
	PlaybackQueueDepth prometheus.Gauge
	CommittedMessages  *prometheus.CounterVec
	Interruptions      prometheus.Counter
	ComponentErrors    *prometheus.CounterVec
	StoreRetries       *prometheus.CounterVec
	CommitLatency      prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of live voice connections.",
		}),
		ConnectionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_events_total",
			Help:      "Voice connection lifecycle events by type.",
		}, []string{"event"}),
		Frames: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "EVI frames by direction and type.",
		}, []string{"direction", "type"}),
		PlaybackQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_queue_depth",
			Help:      "Assistant audio clips waiting for playback.",
		}),
		CommittedMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "committed_messages_total",
			Help:      "Messages committed to the visible timeline by role.",
		}, []string{"role"}),
		Interruptions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "User interruptions that flushed assistant playback.",
		}),
		ComponentErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "component_errors_total",
			Help:      "Errors by component and code.",
		}, []string{"component", "code"}),
		StoreRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Persistence gateway retries by operation.",
		}, []string{"op"}),
		CommitLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcript_commit_latency_ms",
			Help:      "Latency from assistant transcript arrival to playback commit in milliseconds.",
			Buckets:   []float64{50, 100, 200, 400, 700, 1000, 2000, 5000},
		}),
	}
}

func (m *Metrics) ObserveCommitLatency(d time.Duration) {
	m.CommitLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
