package exchange

import (
	"testing"
)

func TestStateCache_PositionLifecycle(t *testing.T) {
	cache := NewStateCache()

	long := Position{Symbol: "BTCUSDT", Side: PositionSideLong, Amount: 0.5, EntryPrice: 25000}
	short := Position{Symbol: "BTCUSDT", Side: PositionSideShort, Amount: 0.2, EntryPrice: 26000}

	cache.SetPosition(long)
	cache.SetPosition(short)

	// hedge-режим: обе стороны одного символа живут одновременно
	if cache.PositionCount() != 2 {
		t.Fatalf("PositionCount() = %d, want 2", cache.PositionCount())
	}

	got, ok := cache.Position(PositionKey{Symbol: "BTCUSDT", Side: PositionSideLong})
	if !ok || got.Amount != 0.5 {
		t.Errorf("Position(LONG) = %+v, %v", got, ok)
	}

	removed, ok := cache.RemovePosition(PositionKey{Symbol: "BTCUSDT", Side: PositionSideShort})
	if !ok || removed.EntryPrice != 26000 {
		t.Errorf("RemovePosition() = %+v, %v", removed, ok)
	}
	if cache.PositionCount() != 1 {
		t.Errorf("PositionCount() after remove = %d, want 1", cache.PositionCount())
	}

	if _, ok := cache.RemovePosition(PositionKey{Symbol: "ETHUSDT", Side: PositionSideLong}); ok {
		t.Error("RemovePosition(missing) = true, want false")
	}
}

func TestStateCache_SetOrderDetectsDuplicates(t *testing.T) {
	cache := NewStateCache()

	order := OrderInfo{OrderID: 100, Symbol: "BTCUSDT", Status: OrderStatusNew}

	if isNew := cache.SetOrder(order); !isNew {
		t.Error("SetOrder(first) isNew = false, want true")
	}
	if isNew := cache.SetOrder(order); isNew {
		t.Error("SetOrder(duplicate) isNew = true, want false")
	}
	if cache.OrderCount() != 1 {
		t.Errorf("OrderCount() = %d, want 1", cache.OrderCount())
	}
}

func TestStateCache_RemoveOrder(t *testing.T) {
	cache := NewStateCache()
	cache.SetOrder(OrderInfo{OrderID: 100})

	if !cache.RemoveOrder(100) {
		t.Error("RemoveOrder(existing) = false")
	}
	if cache.RemoveOrder(100) {
		t.Error("RemoveOrder(removed) = true")
	}
}

func TestStateCache_ReconcileDiff(t *testing.T) {
	cache := NewStateCache()

	cache.SetPosition(Position{Symbol: "BTCUSDT", Side: PositionSideLong, Amount: 0.5, EntryPrice: 25000})
	cache.SetPosition(Position{Symbol: "ETHUSDT", Side: PositionSideShort, Amount: 2, EntryPrice: 1800})
	cache.SetOrder(OrderInfo{OrderID: 1})
	cache.SetOrder(OrderInfo{OrderID: 2})

	// Снимок REST: BTCUSDT изменился, ETHUSDT закрыт, SOLUSDT открыт;
	// ордер 2 исчез, ордер 3 появился
	summary := cache.Reconcile(
		[]Position{
			{Symbol: "BTCUSDT", Side: PositionSideLong, Amount: 0.7, EntryPrice: 25100},
			{Symbol: "SOLUSDT", Side: PositionSideLong, Amount: 10, EntryPrice: 95},
		},
		[]OrderInfo{
			{OrderID: 1},
			{OrderID: 3},
		},
	)

	if len(summary.PositionsAdded) != 1 || summary.PositionsAdded[0].Symbol != "SOLUSDT" {
		t.Errorf("PositionsAdded = %v", summary.PositionsAdded)
	}
	if len(summary.PositionsUpdated) != 1 || summary.PositionsUpdated[0].Amount != 0.7 {
		t.Errorf("PositionsUpdated = %v", summary.PositionsUpdated)
	}
	// Удалённая позиция несёт последнее закешированное состояние
	if len(summary.PositionsRemoved) != 1 || summary.PositionsRemoved[0].EntryPrice != 1800 {
		t.Errorf("PositionsRemoved = %v", summary.PositionsRemoved)
	}
	if len(summary.OrdersAdded) != 1 || summary.OrdersAdded[0].OrderID != 3 {
		t.Errorf("OrdersAdded = %v", summary.OrdersAdded)
	}
	if len(summary.OrdersRemoved) != 1 || summary.OrdersRemoved[0].OrderID != 2 {
		t.Errorf("OrdersRemoved = %v", summary.OrdersRemoved)
	}
	if !summary.Changed() {
		t.Error("Changed() = false for non-empty diff")
	}

	// Кеш отражает снимок
	if cache.PositionCount() != 2 {
		t.Errorf("PositionCount() = %d, want 2", cache.PositionCount())
	}
	if _, ok := cache.Position(PositionKey{Symbol: "ETHUSDT", Side: PositionSideShort}); ok {
		t.Error("removed position still in cache")
	}
	if _, ok := cache.Order(3); !ok {
		t.Error("added order missing from cache")
	}
}

func TestStateCache_ReconcileClean(t *testing.T) {
	cache := NewStateCache()
	pos := Position{Symbol: "BTCUSDT", Side: PositionSideLong, Amount: 0.5, EntryPrice: 25000}
	cache.SetPosition(pos)
	cache.SetOrder(OrderInfo{OrderID: 1})

	summary := cache.Reconcile([]Position{pos}, []OrderInfo{{OrderID: 1}})
	if summary.Changed() {
		t.Errorf("Changed() = true for identical snapshot: %+v", summary)
	}
}

func TestIsTerminalOrderStatus(t *testing.T) {
	terminal := []string{OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired}
	for _, status := range terminal {
		if !IsTerminalOrderStatus(status) {
			t.Errorf("IsTerminalOrderStatus(%s) = false", status)
		}
	}

	open := []string{OrderStatusNew, OrderStatusPartiallyFilled}
	for _, status := range open {
		if IsTerminalOrderStatus(status) {
			t.Errorf("IsTerminalOrderStatus(%s) = true", status)
		}
	}
}
