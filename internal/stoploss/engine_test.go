package stoploss

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stopguard/internal/config"
	"stopguard/internal/exchange"
	"stopguard/internal/models"
	"stopguard/pkg/utils"
)

// ============================================================
// Заглушки
// ============================================================

type fakeStore struct {
	mu     sync.Mutex
	rules  map[int64]*models.StopRule
	nextID int64

	deleteErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rules: make(map[int64]*models.StopRule), nextID: 1}
}

func (s *fakeStore) Create(rule *models.StopRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule.ID = s.nextID
	s.nextID++
	copied := *rule
	s.rules[rule.ID] = &copied
	return nil
}

func (s *fakeStore) GetByID(id int64) (*models.StopRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[id]
	if !ok {
		return nil, errors.New("stop rule not found")
	}
	copied := *rule
	return &copied, nil
}

func (s *fakeStore) GetAll() ([]*models.StopRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.StopRule, 0, len(s.rules))
	for _, rule := range s.rules {
		copied := *rule
		out = append(out, &copied)
	}
	return out, nil
}

func (s *fakeStore) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.rules, id)
	return nil
}

func (s *fakeStore) UpdateStatus(id int64, status, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[id]
	if !ok {
		return errors.New("stop rule not found")
	}
	rule.Status = status
	rule.ErrorMessage = errorMessage
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rules)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []models.Notification
}

func (n *fakeNotifier) Publish(event models.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *fakeNotifier) byType(notificationType string) []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.Notification
	for _, e := range n.events {
		if e.Type == notificationType {
			out = append(out, e)
		}
	}
	return out
}

type placedOrder struct {
	Symbol       string
	Side         string
	PositionSide string
	Quantity     float64
}

type fakeEngineAPI struct {
	mu           sync.Mutex
	positions    []exchange.Position
	positionsErr error
	klines       []exchange.Candle
	klinesErr    error
	orderStatus  string
	orderErr     error
	placed       []placedOrder
}

func (f *fakeEngineAPI) GetServerTime(ctx context.Context) (time.Time, error) { return time.Now(), nil }
func (f *fakeEngineAPI) GetListenKey(ctx context.Context) (string, error)    { return "key", nil }
func (f *fakeEngineAPI) RenewListenKey(ctx context.Context) error            { return nil }
func (f *fakeEngineAPI) CloseListenKey(ctx context.Context) error            { return nil }

func (f *fakeEngineAPI) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions, f.positionsErr
}

func (f *fakeEngineAPI) GetOpenOrders(ctx context.Context) ([]exchange.OrderInfo, error) {
	return nil, nil
}

func (f *fakeEngineAPI) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.klines, f.klinesErr
}

func (f *fakeEngineAPI) PlaceMarketOrder(ctx context.Context, symbol, side, positionSide string, quantity float64) (*exchange.OrderInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, placedOrder{symbol, side, positionSide, quantity})

	status := f.orderStatus
	if status == "" {
		status = exchange.OrderStatusFilled
	}
	order := &exchange.OrderInfo{OrderID: int64(len(f.placed)), Symbol: symbol, Side: side, Status: status}
	if f.orderErr != nil {
		return order, f.orderErr
	}
	return order, nil
}

func (f *fakeEngineAPI) placedOrders() []placedOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]placedOrder(nil), f.placed...)
}

func newTestEngine(t *testing.T, api *fakeEngineAPI) (*Engine, *fakeStore, *fakeNotifier, *exchange.StateCache) {
	t.Helper()

	log := utils.InitLogger(utils.LogConfig{Level: "error", Format: "console", Output: "stderr"})
	store := newFakeStore()
	notifier := &fakeNotifier{}
	cache := exchange.NewStateCache()

	cfg := config.EngineConfig{
		SweepInterval:     30 * time.Second,
		DiscoveryInterval: 5 * time.Second,
		ReportInterval:    10 * time.Millisecond,
	}

	engine := NewEngine(api, cache, store, notifier, cfg, log)
	return engine, store, notifier, cache
}

func floatPtr(v float64) *float64 { return &v }

// ============================================================
// Sweep
// ============================================================

func TestEngineSweepCleansOrphanedRules(t *testing.T) {
	api := &fakeEngineAPI{
		positions: []exchange.Position{
			{Symbol: "BTCUSDT", Side: exchange.PositionSideLong, Amount: 0.5},
		},
	}
	engine, store, notifier, _ := newTestEngine(t, api)

	// Правило с позицией остаётся, два без позиции удаляются
	store.Create(&models.StopRule{Symbol: "BTCUSDT", PositionSide: "LONG", StopPrice: 40000, Timeframe: "15m"})
	store.Create(&models.StopRule{Symbol: "ETHUSDT", PositionSide: "SHORT", StopPrice: 2000, Timeframe: "1h"})
	store.Create(&models.StopRule{Symbol: "ETHUSDT", PositionSide: "SHORT", StopPrice: 2100, Timeframe: "15m"})

	if err := engine.sweep(context.Background()); err != nil {
		t.Fatalf("sweep() error: %v", err)
	}

	if store.count() != 1 {
		t.Errorf("rules left = %d, want 1", store.count())
	}
	if _, err := store.GetByID(1); err != nil {
		t.Error("rule with open position was deleted")
	}

	// Одно событие на группу (symbol, side) со счётчиком удалений
	cleaned := notifier.byType(models.NotificationTypeSLCleaned)
	if len(cleaned) != 1 {
		t.Fatalf("SL_CLEANED events = %d, want 1", len(cleaned))
	}
	if cleaned[0].Symbol != "ETHUSDT" {
		t.Errorf("cleaned symbol = %s", cleaned[0].Symbol)
	}
	if count, _ := cleaned[0].Meta["count"].(int); count != 2 {
		t.Errorf("cleaned count = %v, want 2", cleaned[0].Meta["count"])
	}
}

func TestEngineSweepError(t *testing.T) {
	api := &fakeEngineAPI{positionsErr: errors.New("exchange down")}
	engine, store, _, _ := newTestEngine(t, api)

	store.Create(&models.StopRule{Symbol: "BTCUSDT", PositionSide: "LONG", StopPrice: 40000, Timeframe: "15m"})

	if err := engine.sweep(context.Background()); err == nil {
		t.Fatal("sweep() = nil error when positions fetch fails")
	}
	// Правила не трогаются, пока снимок недоступен
	if store.count() != 1 {
		t.Errorf("rules left = %d, want 1", store.count())
	}
}

// ============================================================
// Discovery
// ============================================================

func TestEngineDiscoverStartsMonitorsOnlyForOpenPositions(t *testing.T) {
	api := &fakeEngineAPI{
		// Монитору нечего оценивать: последняя свеча ещё открыта
		klines: []exchange.Candle{
			{CloseTime: time.Now().Add(10 * time.Minute).UnixMilli(), Close: 42000},
		},
	}
	engine, store, _, _ := newTestEngine(t, api)

	store.Create(&models.StopRule{Symbol: "BTCUSDT", PositionSide: "LONG", StopPrice: 40000, Timeframe: "15m"})
	store.Create(&models.StopRule{Symbol: "ETHUSDT", PositionSide: "SHORT", StopPrice: 2000, Timeframe: "1h"})

	// Снимок задаётся напрямую, без sweep: sweep удалил бы
	// осиротевшее правило ETHUSDT, а здесь проверяется именно
	// отказ discovery запускать монитор для группы без позиции
	engine.mu.Lock()
	engine.sweepSnapshot = map[exchange.PositionKey]exchange.Position{
		{Symbol: "BTCUSDT", Side: exchange.PositionSideLong}: {
			Symbol: "BTCUSDT", Side: exchange.PositionSideLong, Amount: 0.5,
		},
	}
	engine.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine.discover(ctx)

	engine.mu.RLock()
	monitors := len(engine.monitors)
	groups := len(engine.groups)
	engine.mu.RUnlock()

	if groups != 2 {
		t.Errorf("groups = %d, want 2", groups)
	}
	// Монитор только у группы с открытой позицией
	if monitors != 1 {
		t.Errorf("monitors = %d, want 1", monitors)
	}
}

// ============================================================
// Идемпотентность свечей
// ============================================================

func TestEngineClaimCandle(t *testing.T) {
	api := &fakeEngineAPI{}
	engine, _, _, _ := newTestEngine(t, api)

	if !engine.claimCandle("BTCUSDT", "15m", "LONG", 1000) {
		t.Error("first claim rejected")
	}
	if engine.claimCandle("BTCUSDT", "15m", "LONG", 1000) {
		t.Error("duplicate close time claimed twice")
	}
	if engine.claimCandle("BTCUSDT", "15m", "LONG", 900) {
		t.Error("older close time claimed after newer")
	}
	if !engine.claimCandle("BTCUSDT", "15m", "LONG", 1900) {
		t.Error("newer close time rejected")
	}

	// Другой таймфрейм - независимая граница
	if !engine.claimCandle("BTCUSDT", "1h", "LONG", 1000) {
		t.Error("different timeframe shares idempotence boundary")
	}
	// Другая сторона - независимая граница: в hedge-режиме SHORT
	// группа оценивает ту же свечу, что и LONG
	if !engine.claimCandle("BTCUSDT", "15m", "SHORT", 1900) {
		t.Error("different side shares idempotence boundary")
	}
}

// ============================================================
// AddStopLoss
// ============================================================

func TestEngineAddStopLoss(t *testing.T) {
	tests := []struct {
		name      string
		positions []exchange.Position
		rule      *models.StopRule
		wantErr   error
	}{
		{
			name: "success",
			positions: []exchange.Position{
				{Symbol: "BTCUSDT", Side: "LONG", Amount: 0.5, EntryPrice: 42000},
			},
			rule:    &models.StopRule{Symbol: "btcusdt", PositionSide: "long", StopPrice: 40000, Timeframe: "15m"},
			wantErr: nil,
		},
		{
			name:      "no position",
			positions: nil,
			rule:      &models.StopRule{Symbol: "BTCUSDT", PositionSide: "LONG", StopPrice: 40000, Timeframe: "15m"},
			wantErr:   ErrNoPosition,
		},
		{
			name: "side mismatch",
			positions: []exchange.Position{
				{Symbol: "BTCUSDT", Side: "SHORT", Amount: 0.5},
			},
			rule:    &models.StopRule{Symbol: "BTCUSDT", PositionSide: "LONG", StopPrice: 40000, Timeframe: "15m"},
			wantErr: ErrNoPosition,
		},
		{
			name: "quantity exceeds position",
			positions: []exchange.Position{
				{Symbol: "BTCUSDT", Side: "LONG", Amount: 0.5},
			},
			rule:    &models.StopRule{Symbol: "BTCUSDT", PositionSide: "LONG", StopPrice: 40000, Quantity: floatPtr(1.0), Timeframe: "15m"},
			wantErr: ErrValidation,
		},
		{
			name: "invalid timeframe",
			positions: []exchange.Position{
				{Symbol: "BTCUSDT", Side: "LONG", Amount: 0.5},
			},
			rule:    &models.StopRule{Symbol: "BTCUSDT", PositionSide: "LONG", StopPrice: 40000, Timeframe: "7m"},
			wantErr: ErrValidation,
		},
		{
			name: "invalid stop price",
			positions: []exchange.Position{
				{Symbol: "BTCUSDT", Side: "LONG", Amount: 0.5},
			},
			rule:    &models.StopRule{Symbol: "BTCUSDT", PositionSide: "LONG", StopPrice: -1, Timeframe: "15m"},
			wantErr: ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeEngineAPI{positions: tt.positions}
			engine, store, _, _ := newTestEngine(t, api)

			err := engine.AddStopLoss(context.Background(), tt.rule)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				if store.count() != 0 {
					t.Error("invalid rule was persisted")
				}
				return
			}

			if err != nil {
				t.Fatalf("AddStopLoss() error: %v", err)
			}
			if tt.rule.ID == 0 {
				t.Error("rule ID not assigned")
			}
			// Нормализация регистра
			if tt.rule.Symbol != "BTCUSDT" || tt.rule.PositionSide != "LONG" {
				t.Errorf("rule not normalized: %s %s", tt.rule.Symbol, tt.rule.PositionSide)
			}
			if tt.rule.Status != models.StopRuleStatusActive {
				t.Errorf("Status = %s, want active", tt.rule.Status)
			}
		})
	}
}

// ============================================================
// Backoff
// ============================================================

func TestFailureBackoff(t *testing.T) {
	b := newFailureBackoff()
	normal := 30 * time.Second
	someErr := errors.New("boom")

	if got := b.next(normal, someErr); got != normal {
		t.Errorf("after 1 failure = %v, want %v", got, normal)
	}
	if got := b.next(normal, someErr); got != normal {
		t.Errorf("after 2 failures = %v, want %v", got, normal)
	}
	if got := b.next(normal, someErr); got != failureInterval {
		t.Errorf("after 3 failures = %v, want %v", got, failureInterval)
	}
	if got := b.next(normal, someErr); got != failureInterval {
		t.Errorf("after 4 failures = %v, want %v", got, failureInterval)
	}
	// Успех сбрасывает серию
	if got := b.next(normal, nil); got != normal {
		t.Errorf("after success = %v, want %v", got, normal)
	}
	if got := b.next(normal, someErr); got != normal {
		t.Errorf("after reset+1 failure = %v, want %v", got, normal)
	}
}
