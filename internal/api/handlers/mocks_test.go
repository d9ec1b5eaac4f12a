package handlers

import (
	"context"
	"strings"

	"stopguard/internal/exchange"
	"stopguard/internal/models"
	"stopguard/internal/repository"
	"stopguard/internal/stoploss"
)

// mocks_test.go - моки сервисного слоя для тестов handlers

// mockStopLossService хранит правила в памяти
type mockStopLossService struct {
	rules     map[int64]*models.StopRule
	nextID    int64
	createErr error
	listErr   error
	positions []exchange.Position
	status    models.EngineStatus
}

func newMockStopLossService() *mockStopLossService {
	return &mockStopLossService{rules: make(map[int64]*models.StopRule)}
}

func (m *mockStopLossService) Create(ctx context.Context, rule *models.StopRule) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	rule.ID = m.nextID
	rule.Symbol = strings.ToUpper(rule.Symbol)
	rule.Status = models.StopRuleStatusActive
	m.rules[rule.ID] = rule
	return nil
}

func (m *mockStopLossService) Get(id int64) (*models.StopRule, error) {
	rule, ok := m.rules[id]
	if !ok {
		return nil, repository.ErrStopRuleNotFound
	}
	return rule, nil
}

func (m *mockStopLossService) List(symbol string) ([]*models.StopRule, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.StopRule
	for _, r := range m.rules {
		if symbol == "" || r.Symbol == strings.ToUpper(symbol) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockStopLossService) UpdateStopPrice(id int64, stopPrice float64) error {
	if stopPrice <= 0 {
		return stoploss.ErrValidation
	}
	rule, ok := m.rules[id]
	if !ok {
		return repository.ErrStopRuleNotFound
	}
	rule.StopPrice = stopPrice
	return nil
}

func (m *mockStopLossService) Delete(id int64) error {
	if _, ok := m.rules[id]; !ok {
		return repository.ErrStopRuleNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *mockStopLossService) DeleteBySymbol(symbol string) (int64, error) {
	if symbol == "" {
		return 0, stoploss.ErrValidation
	}
	var deleted int64
	for id, r := range m.rules {
		if r.Symbol == strings.ToUpper(symbol) {
			delete(m.rules, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *mockStopLossService) Positions() []exchange.Position {
	return m.positions
}

func (m *mockStopLossService) Status() models.EngineStatus {
	return m.status
}

// mockNotificationService отдаёт фиксированный журнал
type mockNotificationService struct {
	notifications []models.Notification
	cleared       bool
}

func (m *mockNotificationService) Recent(types []string, limit int) []models.Notification {
	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[strings.ToUpper(t)] = true
	}

	if limit <= 0 {
		limit = 100
	}

	var out []models.Notification
	for i := len(m.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if len(wanted) > 0 && !wanted[m.notifications[i].Type] {
			continue
		}
		out = append(out, m.notifications[i])
	}
	return out
}

func (m *mockNotificationService) Count() int {
	return len(m.notifications)
}

func (m *mockNotificationService) Clear() {
	m.notifications = nil
	m.cleared = true
}
