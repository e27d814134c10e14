package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "concierge"

// Metrics holds the Prometheus collectors of the chat service.
type Metrics struct {
	registry *prometheus.Registry

	MessagesSent     *prometheus.CounterVec
	SendsRateLimited *prometheus.CounterVec
	SendRejections   *prometheus.CounterVec
	EffectFailures   *prometheus.CounterVec
	AutoReplies      *prometheus.CounterVec
	RealtimeHealth   *prometheus.CounterVec
	StreamClients    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them, along with the Go
// and process collectors, on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages stored, by send path and sender type.",
		}, []string{"path", "sender_type"}),
		SendsRateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_rate_limited_total",
			Help:      "Sends rejected by the cooldown, by cooldown key kind.",
		}, []string{"kind"}),
		SendRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_rejections_total",
			Help:      "Sends rejected by the endpoint, by error code.",
		}, []string{"code"}),
		EffectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "effect_failures_total",
			Help:      "Best-effort side effects that failed, by effect.",
		}, []string{"effect"}),
		AutoReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_replies_total",
			Help:      "Auto-reply runs after endpoint sends, by outcome.",
		}, []string{"outcome"}),
		RealtimeHealth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_health_transitions_total",
			Help:      "Realtime subscription health transitions, by new state.",
		}, []string{"state"}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Open websocket streams.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.MessagesSent,
		m.SendsRateLimited,
		m.SendRejections,
		m.EffectFailures,
		m.AutoReplies,
		m.RealtimeHealth,
		m.StreamClients,
	)
	return m
}

// Registry is the registry served at /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
