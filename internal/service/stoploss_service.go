package service

import (
	"context"
	"fmt"

	"stopguard/internal/exchange"
	"stopguard/internal/models"
	"stopguard/internal/stoploss"
	"stopguard/pkg/utils"
)

// stoploss_service.go - бизнес-логика управления стоп-правилами
//
// Назначение:
// - создание правил через движок (он проверяет позицию на бирже)
// - чтение и удаление правил через репозиторий
// - сборка сводного статуса сервиса для /status
//
// Сервис не дублирует валидацию движка: AddStopLoss нормализует
// и проверяет входные данные сам. Для операций чтения и удаления
// нормализация символа выполняется здесь.

// StopLossService предоставляет бизнес-логику управления правилами
type StopLossService struct {
	engine RuleEngineInterface
	repo   RuleRepositoryInterface
	cache  *exchange.StateCache
	stream StreamStateProvider
	log    *utils.Logger
}

// NewStopLossService создает новый экземпляр StopLossService
func NewStopLossService(
	engine RuleEngineInterface,
	repo RuleRepositoryInterface,
	cache *exchange.StateCache,
	stream StreamStateProvider,
	log *utils.Logger,
) *StopLossService {
	return &StopLossService{
		engine: engine,
		repo:   repo,
		cache:  cache,
		stream: stream,
		log:    log.WithComponent("stoploss_service"),
	}
}

// Create создает стоп-правило
//
// Движок проверяет наличие открытой позиции и сохраняет правило.
// Правило начнёт отслеживаться на ближайшем цикле discovery.
func (s *StopLossService) Create(ctx context.Context, rule *models.StopRule) error {
	if err := s.engine.AddStopLoss(ctx, rule); err != nil {
		return err
	}
	return nil
}

// Get возвращает правило по ID
func (s *StopLossService) Get(id int64) (*models.StopRule, error) {
	return s.repo.GetByID(id)
}

// List возвращает все правила, опционально отфильтрованные по символу
func (s *StopLossService) List(symbol string) ([]*models.StopRule, error) {
	if symbol != "" {
		return s.repo.GetBySymbol(utils.NormalizeSymbol(symbol))
	}
	return s.repo.GetAll()
}

// UpdateStopPrice меняет цену срабатывания правила
//
// Новая цена применяется со следующей закрытой свечи.
func (s *StopLossService) UpdateStopPrice(id int64, stopPrice float64) error {
	if err := utils.ValidateStopPrice(stopPrice); err != nil {
		return fmt.Errorf("%w: %v", stoploss.ErrValidation, err)
	}

	if err := s.repo.UpdateStopPrice(id, stopPrice); err != nil {
		return err
	}

	s.log.Info("stop price updated", utils.RuleID(id), utils.StopPrice(stopPrice))
	return nil
}

// Delete удаляет правило по ID
func (s *StopLossService) Delete(id int64) error {
	if err := s.repo.Delete(id); err != nil {
		return err
	}

	s.log.Info("stop rule deleted", utils.RuleID(id))
	return nil
}

// DeleteBySymbol удаляет все правила символа, возвращает количество
func (s *StopLossService) DeleteBySymbol(symbol string) (int64, error) {
	normalized := utils.NormalizeSymbol(symbol)
	if err := utils.ValidateSymbol(normalized); err != nil {
		return 0, fmt.Errorf("%w: %v", stoploss.ErrValidation, err)
	}

	deleted, err := s.repo.DeleteBySymbol(normalized)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		s.log.Info("stop rules deleted",
			utils.Symbol(normalized),
			utils.Int64("count", deleted))
	}
	return deleted, nil
}

// Positions возвращает снимок открытых позиций из кеша
func (s *StopLossService) Positions() []exchange.Position {
	return s.cache.Positions()
}

// Status собирает сводный статус сервиса
//
// Движок отдаёт своё состояние, сюда добавляются состояние
// stream'а и размеры кеша.
func (s *StopLossService) Status() models.EngineStatus {
	status := s.engine.Status()
	status.StreamState = s.stream.State()
	status.LastReconcile = s.stream.LastReconcile()
	status.OpenPositions = s.cache.PositionCount()
	status.OpenOrders = s.cache.OrderCount()
	return status
}
