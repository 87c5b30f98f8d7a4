package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	rtConnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_console_realtime_connects_total",
			Help: "Successful websocket connects, including reconnects.",
		},
	)
	rtConnectFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_console_realtime_connect_failures_total",
			Help: "Failed websocket connect or room join attempts.",
		},
	)
	rtEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_console_realtime_events_total",
			Help: "Tenant room events received, by event type.",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(rtConnects, rtConnectFailures, rtEvents)
}

func incConnects() {
	rtConnects.Inc()
}

func incConnectFailures() {
	rtConnectFailures.Inc()
}

func incEvents(eventType string) {
	rtEvents.WithLabelValues(eventType).Inc()
}
