package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "journi",
		Subsystem: "gateway",
		Name:      "sessions_active",
		Help:      "Number of sessions currently held in memory.",
	})
	connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "journi",
		Subsystem: "gateway",
		Name:      "connections_active",
		Help:      "Number of open websocket connections.",
	})
	framesBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "journi",
		Subsystem: "gateway",
		Name:      "frames_broadcast_total",
		Help:      "Server frames broadcast to websocket clients.",
	})
	clientMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "journi",
		Subsystem: "gateway",
		Name:      "client_messages_total",
		Help:      "Messages received from websocket clients.",
	})
	engineErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "journi",
		Subsystem: "gateway",
		Name:      "engine_errors_total",
		Help:      "Bot engine turns that returned an error.",
	})
)
