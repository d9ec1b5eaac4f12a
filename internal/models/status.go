package models

import "time"

// EngineStatus представляет снимок состояния сервиса для /status
type EngineStatus struct {
	Running       bool      `json:"running"`
	StreamState   string    `json:"stream_state"` // disconnected, connecting, connected
	ActiveRules   int       `json:"active_rules"`
	Monitors      int       `json:"monitors"`
	OpenPositions int       `json:"open_positions"`
	OpenOrders    int       `json:"open_orders"`
	LastSweep     time.Time `json:"last_sweep,omitempty"`
	LastReconcile time.Time `json:"last_reconcile,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`
}
