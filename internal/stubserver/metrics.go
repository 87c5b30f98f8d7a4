package stubserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_stub_ws_connections",
		Help: "Currently connected realtime clients.",
	})
	wsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_stub_ws_events_delivered_total",
		Help: "Realtime events delivered to connected clients.",
	})
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_stub_http_requests_total",
		Help: "HTTP requests served, by path and status.",
	}, []string{"path", "status"})
)

func incWSConnections() { wsConnections.Inc() }
func decWSConnections() { wsConnections.Dec() }

func addWSDelivered(n int) { wsDelivered.Add(float64(n)) }

func observeRequest(path string, status int) {
	httpRequests.WithLabelValues(path, httpStatusLabel(status)).Inc()
}

func httpStatusLabel(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
