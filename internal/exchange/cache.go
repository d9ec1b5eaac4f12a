package exchange

import (
	"sync"
)

// cache.go - кеш состояния аккаунта
//
// Назначение:
// Единственный источник правды о позициях и открытых ордерах
// внутри процесса. Обновляется событиями user-data stream и
// сверкой снимков REST после переподключения.
//
// Позиции ключуются (symbol, side): в hedge-режиме LONG и SHORT
// по одному символу существуют одновременно.

// ReconcileSummary - итог сверки кеша со снимком REST
//
// Несёт сами расхождения, а не только счётчики: по ним
// синхронизатор рассылает те же события position-closed /
// position-update / order-update, что и при живом stream'е.
type ReconcileSummary struct {
	PositionsAdded   []Position
	PositionsUpdated []Position
	PositionsRemoved []Position // последнее состояние из кеша
	OrdersAdded      []OrderInfo
	OrdersRemoved    []OrderInfo
}

// Changed сообщает, обнаружила ли сверка расхождения
func (s ReconcileSummary) Changed() bool {
	return len(s.PositionsAdded)+len(s.PositionsUpdated)+len(s.PositionsRemoved)+
		len(s.OrdersAdded)+len(s.OrdersRemoved) > 0
}

// StateCache хранит позиции и открытые ордера аккаунта
type StateCache struct {
	mu        sync.RWMutex
	positions map[PositionKey]Position
	orders    map[int64]OrderInfo
}

// NewStateCache создаёт пустой кеш
func NewStateCache() *StateCache {
	return &StateCache{
		positions: make(map[PositionKey]Position),
		orders:    make(map[int64]OrderInfo),
	}
}

// ============================================================
// Позиции
// ============================================================

// Position возвращает позицию по ключу
func (c *StateCache) Position(key PositionKey) (Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.positions[key]
	return p, ok
}

// Positions возвращает снимок всех позиций
func (c *StateCache) Positions() []Position {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Position, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, p)
	}
	return out
}

// PositionCount возвращает количество открытых позиций
func (c *StateCache) PositionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.positions)
}

// SetPosition сохраняет позицию
func (c *StateCache) SetPosition(p Position) {
	c.mu.Lock()
	c.positions[p.Key()] = p
	c.mu.Unlock()
}

// RemovePosition удаляет позицию, возвращая последнее состояние
func (c *StateCache) RemovePosition(key PositionKey) (Position, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.positions[key]
	if ok {
		delete(c.positions, key)
	}
	return p, ok
}

// ============================================================
// Ордера
// ============================================================

// Order возвращает ордер по ID
func (c *StateCache) Order(orderID int64) (OrderInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.orders[orderID]
	return o, ok
}

// Orders возвращает снимок всех открытых ордеров
func (c *StateCache) Orders() []OrderInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]OrderInfo, 0, len(c.orders))
	for _, o := range c.orders {
		out = append(out, o)
	}
	return out
}

// OrderCount возвращает количество открытых ордеров
func (c *StateCache) OrderCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.orders)
}

// SetOrder сохраняет ордер, сообщая был ли он известен раньше
//
// Возврат false позволяет подавить дубликаты событий NEW,
// которые биржа шлёт повторно после переподключения.
func (c *StateCache) SetOrder(o OrderInfo) (isNew bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, known := c.orders[o.OrderID]
	c.orders[o.OrderID] = o
	return !known
}

// RemoveOrder удаляет ордер из кеша
func (c *StateCache) RemoveOrder(orderID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.orders[orderID]; !ok {
		return false
	}
	delete(c.orders, orderID)
	return true
}

// ============================================================
// Сверка
// ============================================================

// Reconcile атомарно замещает содержимое кеша снимком REST
//
// Выполняется под одним lock'ом: пока идёт сверка, читатели не
// видят промежуточного состояния. Возвращает сводку расхождений -
// при чистом переподключении она пустая.
func (c *StateCache) Reconcile(positions []Position, orders []OrderInfo) ReconcileSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	var summary ReconcileSummary

	// Позиции: добавленные и изменённые
	fresh := make(map[PositionKey]Position, len(positions))
	for _, p := range positions {
		fresh[p.Key()] = p
	}

	for key, p := range fresh {
		old, ok := c.positions[key]
		switch {
		case !ok:
			summary.PositionsAdded = append(summary.PositionsAdded, p)
		case old.Amount != p.Amount || old.EntryPrice != p.EntryPrice:
			summary.PositionsUpdated = append(summary.PositionsUpdated, p)
		}
	}
	for key, old := range c.positions {
		if _, ok := fresh[key]; !ok {
			summary.PositionsRemoved = append(summary.PositionsRemoved, old)
		}
	}
	c.positions = fresh

	// Ордера
	freshOrders := make(map[int64]OrderInfo, len(orders))
	for _, o := range orders {
		freshOrders[o.OrderID] = o
	}

	for id, o := range freshOrders {
		if _, ok := c.orders[id]; !ok {
			summary.OrdersAdded = append(summary.OrdersAdded, o)
		}
	}
	for id, old := range c.orders {
		if _, ok := freshOrders[id]; !ok {
			summary.OrdersRemoved = append(summary.OrdersRemoved, old)
		}
	}
	c.orders = freshOrders

	return summary
}
