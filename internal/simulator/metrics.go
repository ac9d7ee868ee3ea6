package simulator

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts simulator activity, exposed on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	ConnectedClients prometheus.Gauge
	SnapshotsSent    prometheus.Counter
	SetCommands      prometheus.Counter
	MJPEGFrames      prometheus.Counter
}

// NewMetrics builds a metric set on its own registry, so multiple simulators
// in one process (tests) do not collide.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "creality_sim_connected_clients",
			Help: "Number of currently connected telemetry WebSocket clients.",
		}),
		SnapshotsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "creality_sim_snapshots_sent_total",
			Help: "Total telemetry snapshots pushed to clients.",
		}),
		SetCommands: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "creality_sim_set_commands_total",
			Help: "Total set commands applied to the simulated printer.",
		}),
		MJPEGFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "creality_sim_mjpeg_frames_total",
			Help: "Total MJPEG frames written to stream clients.",
		}),
	}
	m.registry.MustRegister(m.ConnectedClients, m.SnapshotsSent, m.SetCommands, m.MJPEGFrames)
	return m
}

// Handler returns the /metrics HTTP handler for this metric set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
