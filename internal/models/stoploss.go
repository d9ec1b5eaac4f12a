package models

import "time"

// StopRule представляет правило стоп-лосса для позиции
//
// Правило привязано к стороне позиции (LONG/SHORT), а не к символу
// целиком: для hedge-режима по одному символу могут существовать
// правила на обе стороны одновременно.
type StopRule struct {
	ID           int64     `json:"id" db:"id"`
	Symbol       string    `json:"symbol" db:"symbol"`
	PositionSide string    `json:"position_side" db:"position_side"` // LONG, SHORT
	StopPrice    float64   `json:"stop_price" db:"stop_price"`
	Quantity     *float64  `json:"quantity,omitempty" db:"quantity"` // nil - закрыть всю позицию
	Timeframe    string    `json:"timeframe" db:"timeframe"`         // 1m, 15m, 1h, ...
	Status       string    `json:"status" db:"status"`       // active, triggered, failed
	ErrorMessage string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Статусы правила
const (
	StopRuleStatusActive    = "active"    // ожидает срабатывания
	StopRuleStatusTriggered = "triggered" // сработало, позиция закрыта
	StopRuleStatusFailed    = "failed"    // ордер закрытия отклонён биржей
)

// IsActive сообщает, участвует ли правило в мониторинге
func (r *StopRule) IsActive() bool {
	return r.Status == StopRuleStatusActive
}
