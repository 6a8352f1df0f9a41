package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the panel's Prometheus collectors.
type Metrics struct {
	SnapshotsCaptured prometheus.Counter
	SnapshotErrors    prometheus.Counter
	OverlayFrames     prometheus.Counter
	OverlayClients    prometheus.Gauge
	ControlActions    *prometheus.CounterVec
	EventsWritten     *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		SnapshotsCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "panel_snapshots_captured_total",
			Help: "Total camera snapshots captured successfully",
		}),
		SnapshotErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "panel_snapshot_errors_total",
			Help: "Total failed camera capture attempts",
		}),
		OverlayFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "panel_overlay_frames_total",
			Help: "Total MJPEG overlay frames served",
		}),
		OverlayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "panel_overlay_clients",
			Help: "Currently connected overlay stream clients",
		}),
		ControlActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panel_control_actions_total",
			Help: "Detector/LED control actions by action and outcome",
		}, []string{"action", "outcome"}),
		EventsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "detector_events_written_total",
			Help: "Detection log events written by type",
		}, []string{"type"}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.SnapshotsCaptured,
		m.SnapshotErrors,
		m.OverlayFrames,
		m.OverlayClients,
		m.ControlActions,
		m.EventsWritten,
	)
	return m
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
