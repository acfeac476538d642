package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the broker's operational counters. The 60 s stats log
// reports the same numbers the /metrics endpoint exposes.
type Metrics struct {
	ArenaRooms     prometheus.Gauge
	BattleRooms    prometheus.Gauge
	Connections    prometheus.Gauge
	MessagesRouted *prometheus.CounterVec
	FramesDropped  prometheus.Counter
	StaleEvictions prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ArenaRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "arena_rooms_active",
			Help: "Number of live arena rooms.",
		}),
		BattleRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "battle_rooms_active",
			Help: "Number of live battle rooms.",
		}),
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "connections_active",
			Help: "Number of live peer connections.",
		}),
		MessagesRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messages_routed_total",
			Help: "Inbound envelopes dispatched, by message type.",
		}, []string{"type"}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "frames_dropped_total",
			Help: "Inbound frames dropped for failing to parse.",
		}),
		StaleEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "stale_evictions_total",
			Help: "Connections terminated by the heartbeat sweeper.",
		}),
	}
}
