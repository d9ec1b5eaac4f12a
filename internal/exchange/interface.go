// Package exchange реализует клиент USDT-M фьючерсов биржи:
// подписанный REST, кеш состояния аккаунта и user-data stream
// с автоматическим переподключением и сверкой.
package exchange

import (
	"context"
	"time"
)

// API определяет операции REST клиента биржи
//
// Интерфейс используется движком стоп-лоссов и stream synchronizer'ом;
// в тестах подменяется заглушкой.
type API interface {
	// GetServerTime получает время сервера биржи
	GetServerTime(ctx context.Context) (time.Time, error)

	// GetListenKey создаёт listen key для user-data stream
	GetListenKey(ctx context.Context) (string, error)

	// RenewListenKey продлевает listen key (раз в 30 минут)
	RenewListenKey(ctx context.Context) error

	// CloseListenKey закрывает listen key при остановке
	CloseListenKey(ctx context.Context) error

	// GetPositions получает открытые позиции (нулевые отбрасываются)
	GetPositions(ctx context.Context) ([]Position, error)

	// GetOpenOrders получает все открытые ордера аккаунта
	GetOpenOrders(ctx context.Context) ([]OrderInfo, error)

	// GetKlines получает последние свечи символа
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	// PlaceMarketOrder размещает рыночный ордер
	PlaceMarketOrder(ctx context.Context, symbol, side, positionSide string, quantity float64) (*OrderInfo, error)
}

// Стороны позиции
const (
	PositionSideLong  = "LONG"
	PositionSideShort = "SHORT"
	PositionSideBoth  = "BOTH" // one-way режим, сторона выводится из знака количества
)

// Стороны ордера
const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"
)

// Статусы ордера биржи
const (
	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCanceled        = "CANCELED"
	OrderStatusRejected        = "REJECTED"
	OrderStatusExpired         = "EXPIRED"
)

// IsTerminalOrderStatus сообщает, завершён ли жизненный цикл ордера
func IsTerminalOrderStatus(status string) bool {
	switch status {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// PositionKey однозначно идентифицирует позицию в hedge-режиме
type PositionKey struct {
	Symbol string
	Side   string // LONG или SHORT
}

// Position представляет открытую позицию
type Position struct {
	Symbol           string    `json:"symbol"`
	Side             string    `json:"side"` // LONG или SHORT
	Amount           float64   `json:"amount"`
	EntryPrice       float64   `json:"entry_price"`
	MarkPrice        float64   `json:"mark_price"`
	LiquidationPrice float64   `json:"liquidation_price"`
	UnrealizedPnl    float64   `json:"unrealized_pnl"`
	Leverage         int       `json:"leverage"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Key возвращает ключ позиции для кеша
func (p Position) Key() PositionKey {
	return PositionKey{Symbol: p.Symbol, Side: p.Side}
}

// OrderInfo представляет ордер
type OrderInfo struct {
	OrderID      int64     `json:"order_id"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`          // BUY или SELL
	PositionSide string    `json:"position_side"` // LONG, SHORT, BOTH
	Type         string    `json:"type"`          // MARKET, LIMIT, STOP_MARKET, ...
	Status       string    `json:"status"`
	Quantity     float64   `json:"quantity"`
	ExecutedQty  float64   `json:"executed_qty"`
	Price        float64   `json:"price"`
	StopPrice    float64   `json:"stop_price"`
	ReduceOnly   bool      `json:"reduce_only"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Candle представляет свечу
//
// Биржа отдаёт свечи массивами; разбор выполняет REST клиент.
type Candle struct {
	OpenTime  int64 // миллисекунды Unix
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}
