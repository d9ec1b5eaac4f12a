package stoploss

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики движка стоп-лоссов
// ============================================================
//
// Использование:
// - Grafana: активные правила и мониторы, частота срабатываний
// - Alertmanager: рост sl_failed или sweep_failures означает
//   проблемы с исполнением ордеров или REST

// TriggersFired - срабатывания стоп-лоссов
var TriggersFired = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "stopguard",
		Subsystem: "engine",
		Name:      "triggers_fired_total",
		Help:      "Total number of stop-loss triggers by outcome",
	},
	[]string{"symbol", "side", "result"}, // result: executed, failed, skipped
)

// RulesActive - текущее количество активных правил
var RulesActive = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "stopguard",
		Subsystem: "engine",
		Name:      "rules_active",
		Help:      "Current number of active stop-loss rules",
	},
)

// MonitorsActive - текущее количество живых мониторов
var MonitorsActive = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "stopguard",
		Subsystem: "engine",
		Name:      "monitors_active",
		Help:      "Current number of live candle monitors",
	},
)

// RulesCleaned - правила, удалённые sweep'ом без позиции
var RulesCleaned = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "stopguard",
		Subsystem: "engine",
		Name:      "rules_cleaned_total",
		Help:      "Total number of rules deleted because their position closed",
	},
	[]string{"symbol"},
)

// CandlesEvaluated - обработанные закрытые свечи
var CandlesEvaluated = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "stopguard",
		Subsystem: "engine",
		Name:      "candles_evaluated_total",
		Help:      "Total number of closed candles evaluated against rules",
	},
	[]string{"timeframe"},
)

// SweepFailures - ошибки position-sweep цикла
var SweepFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "stopguard",
		Subsystem: "engine",
		Name:      "sweep_failures_total",
		Help:      "Total number of failed position sweep iterations",
	},
)
