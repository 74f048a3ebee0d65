package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cuebox",
		Name:      "commands_total",
		Help:      "Total session commands by kind, command type and result.",
	}, []string{"kind", "type", "result"})

	CommandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cuebox",
		Name:      "command_duration_seconds",
		Help:      "Session command handling duration in seconds.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"kind", "type"})

	TicksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cuebox",
		Name:      "ticks_total",
		Help:      "Total playback ticks handled by kind.",
	}, []string{"kind"})

	TickPanicsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cuebox",
		Name:      "tick_panics_total",
		Help:      "Total playback ticks that panicked and were recovered.",
	}, []string{"kind"})

	AdvancesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cuebox",
		Name:      "advances_total",
		Help:      "Total queue advances by kind and reason.",
	}, []string{"kind", "reason"})

	PersistTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cuebox",
		Name:      "persist_total",
		Help:      "Session persistence attempts by kind and result.",
	}, []string{"kind", "result"})

	BroadcastTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cuebox",
		Name:      "broadcast_total",
		Help:      "Session broadcast attempts by kind and result.",
	}, []string{"kind", "result"})

	ActiveTickers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cuebox",
		Name:      "active_tickers",
		Help:      "Number of sessions currently ticking.",
	}, []string{"kind"})

	LiveSessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cuebox",
		Name:      "live_sessions",
		Help:      "Number of sessions held in memory.",
	}, []string{"kind"})

	WSClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cuebox",
		Name:      "ws_clients",
		Help:      "Number of connected WebSocket clients.",
	})

	CatalogItems = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cuebox",
		Name:      "catalog_items",
		Help:      "Number of catalog items by kind after the last sync.",
	}, []string{"kind"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		CommandsTotal,
		CommandDuration,
		TicksTotal,
		TickPanicsTotal,
		AdvancesTotal,
		PersistTotal,
		BroadcastTotal,
		ActiveTickers,
		LiveSessions,
		WSClients,
		CatalogItems,
	)
}
