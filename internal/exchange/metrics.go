package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики слоя биржи
// ============================================================
//
// Использование:
// - Grafana дашборды состояния соединения и латентности REST
// - Alertmanager: частые reconnect'ы или рост ошибок REST
//   означают проблемы с биржей или ключами

// RequestLatency - латентность REST запросов к бирже
var RequestLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "stopguard",
		Subsystem: "exchange",
		Name:      "request_latency_ms",
		Help:      "Latency of REST requests to the exchange in milliseconds",
		Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	},
	[]string{"endpoint"},
)

// RequestErrors - ошибки REST запросов
var RequestErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "stopguard",
		Subsystem: "exchange",
		Name:      "request_errors_total",
		Help:      "Total number of failed REST requests",
	},
	[]string{"endpoint", "kind"}, // kind: transport, api, rate_limit
)

// StreamEvents - события user-data stream по типам
var StreamEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "stopguard",
		Subsystem: "stream",
		Name:      "events_total",
		Help:      "Total number of user-data stream events by type",
	},
	[]string{"type"},
)

// StreamReconnects - переподключения stream'а
var StreamReconnects = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "stopguard",
		Subsystem: "stream",
		Name:      "reconnects_total",
		Help:      "Total number of user-data stream reconnections",
	},
)

// StreamConnected - состояние соединения (1=connected)
var StreamConnected = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "stopguard",
		Subsystem: "stream",
		Name:      "connected",
		Help:      "User-data stream connection status (1=connected, 0=disconnected)",
	},
)

// ReconcileDrift - расхождения, найденные сверкой
var ReconcileDrift = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "stopguard",
		Subsystem: "stream",
		Name:      "reconcile_drift_total",
		Help:      "Total number of cache discrepancies found by reconciliation",
	},
	[]string{"kind"}, // position_added, position_updated, position_removed, order_added, order_removed
)

// recordRequestError классифицирует ошибку запроса для метрики
func recordRequestError(endpoint string, err error) {
	kind := "transport"
	if apiErr, ok := err.(*APIError); ok {
		kind = "api"
		if apiErr.Status == 429 {
			kind = "rate_limit"
		}
	}
	RequestErrors.WithLabelValues(endpoint, kind).Inc()
}
