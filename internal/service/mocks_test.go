package service

import (
	"context"
	"sync"
	"time"

	"stopguard/internal/models"
	"stopguard/internal/repository"
	"stopguard/pkg/utils"
)

// mocks_test.go - моки зависимостей сервисного слоя

func testLogger() *utils.Logger {
	return utils.InitLogger(utils.LogConfig{Level: "error", Format: "console", Output: "stderr"})
}

// mockRuleEngine записывает вызовы AddStopLoss
type mockRuleEngine struct {
	addErr error
	added  []*models.StopRule
	status models.EngineStatus
}

func (m *mockRuleEngine) AddStopLoss(ctx context.Context, rule *models.StopRule) error {
	if m.addErr != nil {
		return m.addErr
	}
	rule.ID = int64(len(m.added) + 1)
	rule.Status = models.StopRuleStatusActive
	m.added = append(m.added, rule)
	return nil
}

func (m *mockRuleEngine) Status() models.EngineStatus {
	return m.status
}

// mockRuleRepo хранит правила в памяти
type mockRuleRepo struct {
	rules     map[int64]*models.StopRule
	failWith  error
	deleted   []int64
	priceSets map[int64]float64
}

func newMockRuleRepo(rules ...*models.StopRule) *mockRuleRepo {
	m := &mockRuleRepo{
		rules:     make(map[int64]*models.StopRule),
		priceSets: make(map[int64]float64),
	}
	for _, r := range rules {
		m.rules[r.ID] = r
	}
	return m
}

func (m *mockRuleRepo) GetByID(id int64) (*models.StopRule, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	rule, ok := m.rules[id]
	if !ok {
		return nil, repository.ErrStopRuleNotFound
	}
	return rule, nil
}

func (m *mockRuleRepo) GetBySymbol(symbol string) ([]*models.StopRule, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	var out []*models.StopRule
	for _, r := range m.rules {
		if r.Symbol == symbol {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRuleRepo) GetAll() ([]*models.StopRule, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	out := make([]*models.StopRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	return out, nil
}

func (m *mockRuleRepo) UpdateStopPrice(id int64, stopPrice float64) error {
	if m.failWith != nil {
		return m.failWith
	}
	rule, ok := m.rules[id]
	if !ok {
		return repository.ErrStopRuleNotFound
	}
	rule.StopPrice = stopPrice
	m.priceSets[id] = stopPrice
	return nil
}

func (m *mockRuleRepo) Delete(id int64) error {
	if m.failWith != nil {
		return m.failWith
	}
	if _, ok := m.rules[id]; !ok {
		return repository.ErrStopRuleNotFound
	}
	delete(m.rules, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockRuleRepo) DeleteBySymbol(symbol string) (int64, error) {
	if m.failWith != nil {
		return 0, m.failWith
	}
	var deleted int64
	for id, r := range m.rules {
		if r.Symbol == symbol {
			delete(m.rules, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *mockRuleRepo) Count() (int, error) {
	if m.failWith != nil {
		return 0, m.failWith
	}
	return len(m.rules), nil
}

// mockStream отдаёт фиксированное состояние соединения
type mockStream struct {
	state         string
	lastReconcile time.Time
}

func (m *mockStream) State() string            { return m.state }
func (m *mockStream) LastReconcile() time.Time { return m.lastReconcile }

// mockBroadcaster записывает разосланные уведомления
type mockBroadcaster struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (m *mockBroadcaster) BroadcastNotification(notif models.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, notif)
}

func (m *mockBroadcaster) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}
