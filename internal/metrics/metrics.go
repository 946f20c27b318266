// Package metrics exposes the dashboard client's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector the dashboard updates. A nil *Metrics is valid
// and records nothing, which keeps wiring optional in tests.
type Metrics struct {
	framesReceived  prometheus.Counter
	framesDropped   prometheus.Counter
	frameLatency    prometheus.Histogram
	apiCalls        *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	dronesKnown     prometheus.Gauge
	surfacesActive  prometheus.Gauge
	staleResponses  prometheus.Counter
	probeRoundTrips *prometheus.GaugeVec
}

// New builds the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dronemosaic_frames_received_total",
			Help: "Video frames pushed by the backend.",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dronemosaic_frames_dropped_total",
			Help: "Video frames discarded because no surface exists or decoding failed.",
		}),
		frameLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dronemosaic_frame_latency_seconds",
			Help:    "Delay between frame capture timestamp and draw completion.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dronemosaic_api_calls_total",
			Help: "REST calls to the backend by operation and outcome.",
		}, []string{"op", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dronemosaic_notifications_total",
			Help: "Notifications shown by kind.",
		}, []string{"kind"}),
		dronesKnown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dronemosaic_drones_known",
			Help: "Drones in the last pushed list.",
		}),
		surfacesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dronemosaic_video_surfaces_active",
			Help: "Video surfaces currently open.",
		}),
		staleResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dronemosaic_stale_stream_responses_total",
			Help: "Stream start/stop responses discarded because a newer call was issued.",
		}),
		probeRoundTrips: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dronemosaic_probe_rtt_milliseconds",
			Help: "Average ping round trip to each drone with a known address.",
		}, []string{"drone_id"}),
	}

	reg.MustRegister(
		m.framesReceived, m.framesDropped, m.frameLatency, m.apiCalls,
		m.notifications, m.dronesKnown, m.surfacesActive, m.staleResponses,
		m.probeRoundTrips,
	)
	return m
}

// FrameReceived counts a video frame pushed by the backend.
func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
}

// FrameDropped counts a frame that was never drawn.
func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.framesDropped.Inc()
}

// ObserveFrameLatency records capture-to-draw delay; negative values from clock skew are ignored.
func (m *Metrics) ObserveFrameLatency(seconds float64) {
	if m == nil || seconds < 0 {
		return
	}
	m.frameLatency.Observe(seconds)
}

// APICall counts one REST call; outcome is "ok", "rejected" or "transport".
func (m *Metrics) APICall(op, outcome string) {
	if m == nil {
		return
	}
	m.apiCalls.WithLabelValues(op, outcome).Inc()
}

// Notification counts a notification shown, by kind.
func (m *Metrics) Notification(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Inc()
}

// SetDronesKnown sets the number of distinct drones in the last pushed list.
func (m *Metrics) SetDronesKnown(n int) {
	if m == nil {
		return
	}
	m.dronesKnown.Set(float64(n))
}

// SetSurfacesActive sets the number of open video surfaces.
func (m *Metrics) SetSurfacesActive(n int) {
	if m == nil {
		return
	}
	m.surfacesActive.Set(float64(n))
}

// StaleResponse counts a stream response discarded because a newer call superseded it.
func (m *Metrics) StaleResponse() {
	if m == nil {
		return
	}
	m.staleResponses.Inc()
}

// SetProbeRTT records the last average ping round trip to droneID.
func (m *Metrics) SetProbeRTT(droneID string, ms int) {
	if m == nil {
		return
	}
	m.probeRoundTrips.WithLabelValues(droneID).Set(float64(ms))
}
