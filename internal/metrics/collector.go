package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the relay's Prometheus registry and instruments.
type Collector struct {
	registry *prometheus.Registry

	ConnectionsActive prometheus.Gauge
	SessionsActive    prometheus.Gauge

	FramesRouted  prometheus.Counter
	FrameBytes    prometheus.Counter
	FramesDropped prometheus.Counter

	CommandsRouted *prometheus.CounterVec
	RateLimited    *prometheus.CounterVec
	AuthAttempts   *prometheus.CounterVec
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arcs_connections_active",
			Help: "Open WebSocket connections.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arcs_sessions_active",
			Help: "Active relay sessions.",
		}),
		FramesRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arcs_frames_routed_total",
			Help: "Video frames accepted from devices.",
		}),
		FrameBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arcs_frame_bytes_total",
			Help: "Video payload bytes accepted from devices.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arcs_frames_dropped_total",
			Help: "Frames dropped from full controller queues.",
		}),
		CommandsRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arcs_commands_routed_total",
			Help: "Control commands forwarded, by message type.",
		}, []string{"type"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arcs_rate_limited_total",
			Help: "Messages rejected by the rate limiter, by category.",
		}, []string{"category"}),
		AuthAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arcs_auth_attempts_total",
			Help: "Device authentication attempts, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.ConnectionsActive,
		c.SessionsActive,
		c.FramesRouted,
		c.FrameBytes,
		c.FramesDropped,
		c.CommandsRouted,
		c.RateLimited,
		c.AuthAttempts,
	)
	return c
}

// Handler serves the registry for scraping.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
