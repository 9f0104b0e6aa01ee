package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes relay gauges/counters. All methods are nil-safe so tests
// can run a State without a registry.
type Metrics struct {
	connections    prometheus.Gauge
	rooms          prometheus.Gauge
	historyEntries prometheus.Gauge

	eventsRelayed     *prometheus.CounterVec
	deliveriesFailed  prometheus.Counter
	eventsRateLimited prometheus.Counter
}

// NewMetrics registers relay metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "careline_ws_connections",
			Help: "Currently registered websocket connections.",
		}),
		rooms: f.NewGauge(prometheus.GaugeOpts{
			Name: "careline_chat_rooms",
			Help: "Chat rooms with at least one participant.",
		}),
		historyEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "careline_history_entries",
			Help: "Retained history entries across all rooms.",
		}),
		eventsRelayed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "careline_events_relayed_total",
			Help: "Inbound events accepted by the dispatcher, by kind.",
		}, []string{"kind"}),
		deliveriesFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "careline_deliveries_failed_total",
			Help: "Per-recipient delivery failures during fan-out.",
		}),
		eventsRateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "careline_events_rate_limited_total",
			Help: "Inbound events rejected by the per-connection rate limiter.",
		}),
	}
}

func (m *Metrics) setConnections(n int) {
	if m != nil {
		m.connections.Set(float64(n))
	}
}

func (m *Metrics) setRooms(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

func (m *Metrics) setHistoryEntries(n int) {
	if m != nil {
		m.historyEntries.Set(float64(n))
	}
}

func (m *Metrics) eventRelayed(kind string) {
	if m != nil {
		m.eventsRelayed.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) deliveryFailed() {
	if m != nil {
		m.deliveriesFailed.Inc()
	}
}

func (m *Metrics) rateLimited() {
	if m != nil {
		m.eventsRateLimited.Inc()
	}
}
