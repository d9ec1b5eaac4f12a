package stoploss

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stopguard/internal/exchange"
	"stopguard/internal/models"
	"stopguard/pkg/utils"
)

// monitor.go - монитор закрытых свечей одной группы правил
//
// Назначение:
// Живёт, пока у группы (symbol, timeframe, side) есть активные
// правила и открытая позиция. Опрашивает свечи, находит свежую
// закрытую и оценивает правила по цене закрытия.
//
// Идемпотентность:
// Close time фиксируется в движке ДО оценки, с ключом по группе.
// Повторный опрос или рестарт монитора не приводят к повторной
// оценке той же свечи, а LONG и SHORT группы одного символа
// оценивают её независимо.

// Статусы ордера, трактуемые как исполнение
//
// Рыночный ордер в NEW/PARTIALLY_FILLED исполнится в ближайшие
// миллисекунды; правило удаляется сразу, чтобы следующая свеча
// не продублировала закрытие.
func isFillConfirmed(status string) bool {
	switch status {
	case exchange.OrderStatusFilled, exchange.OrderStatusNew, exchange.OrderStatusPartiallyFilled:
		return true
	}
	return false
}

// Monitor следит за закрытыми свечами одной группы
type Monitor struct {
	engine *Engine
	key    GroupKey
	poll   time.Duration
	log    *utils.Logger
}

func newMonitor(e *Engine, key GroupKey) *Monitor {
	return &Monitor{
		engine: e,
		key:    key,
		poll:   utils.PollInterval(key.Timeframe),
		log: e.log.With(
			utils.Symbol(key.Symbol),
			utils.Timeframe(key.Timeframe),
			utils.Side(key.Side)),
	}
}

// run ведёт цикл опроса до самозавершения или отмены контекста
func (m *Monitor) run(ctx context.Context) {
	defer m.engine.monitorStopped(m.key)

	m.log.Info("monitor started", utils.Dur("poll", m.poll))

	backoff := newFailureBackoff()
	timer := time.NewTimer(m.poll)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Debug("monitor stopped by shutdown")
			return
		case <-timer.C:
			done, err := m.cycle(ctx)
			if done {
				return
			}
			if err != nil {
				m.log.Warn("monitor cycle failed", utils.Err(err))
			}
			timer.Reset(backoff.next(m.poll, err))
		}
	}
}

// cycle выполняет один опрос; done=true означает самозавершение
func (m *Monitor) cycle(ctx context.Context) (done bool, err error) {
	rules := m.engine.groupRules(m.key)
	if len(rules) == 0 {
		m.log.Info("monitor exiting: no rules left in group")
		return true, nil
	}

	if _, open := m.engine.livePosition(m.key.Symbol, m.key.Side); !open {
		m.log.Info("monitor exiting: position closed")
		return true, nil
	}

	candle, ok, err := m.findClosedCandle(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	// Фиксация до оценки - граница идемпотентности
	if !m.engine.claimCandle(m.key.Symbol, m.key.Timeframe, m.key.Side, candle.CloseTime) {
		return false, nil
	}

	m.evaluate(ctx, rules, candle)
	return false, nil
}

// findClosedCandle ищет свежую закрытую и ещё не обработанную свечу
//
// Запрашиваются две свечи: последняя почти всегда ещё открыта,
// её close time лежит в будущем.
func (m *Monitor) findClosedCandle(ctx context.Context) (exchange.Candle, bool, error) {
	candles, err := m.engine.api.GetKlines(ctx, m.key.Symbol, m.key.Timeframe, 2)
	if err != nil {
		return exchange.Candle{}, false, fmt.Errorf("fetch candles: %w", err)
	}

	nowMs := m.engine.now().UnixMilli()
	lastProcessed := m.engine.lastProcessedTime(m.key.Symbol, m.key.Timeframe, m.key.Side)

	for i := len(candles) - 1; i >= 0; i-- {
		c := candles[i]
		if c.CloseTime <= nowMs && c.CloseTime > lastProcessed {
			return c, true, nil
		}
	}

	return exchange.Candle{}, false, nil
}

// evaluate проверяет правила группы против цены закрытия
func (m *Monitor) evaluate(ctx context.Context, rules []*models.StopRule, candle exchange.Candle) {
	CandlesEvaluated.WithLabelValues(m.key.Timeframe).Inc()

	evals := make([]RuleEvaluation, 0, len(rules))
	for _, rule := range rules {
		triggered := m.shouldTrigger(rule, candle.Close)
		evals = append(evals, RuleEvaluation{
			RuleID:     rule.ID,
			Symbol:     rule.Symbol,
			Side:       rule.PositionSide,
			StopPrice:  rule.StopPrice,
			ClosePrice: candle.Close,
			Triggered:  triggered,
		})

		if triggered {
			m.execute(ctx, rule, candle.Close)
		}
	}

	m.engine.reporter.Add(m.key.Timeframe, evals)
}

// shouldTrigger проверяет условие срабатывания по цене закрытия
//
// LONG: закрытие на уровне стопа или ниже.
// SHORT: закрытие на уровне стопа или выше.
func (m *Monitor) shouldTrigger(rule *models.StopRule, closePrice float64) bool {
	switch rule.PositionSide {
	case exchange.PositionSideLong:
		return closePrice <= rule.StopPrice
	case exchange.PositionSideShort:
		return closePrice >= rule.StopPrice
	}
	return false
}

// execute закрывает позицию рыночным ордером
//
// Правило удаляется только после подтверждения исполнения.
// Отказ биржи или ошибка запроса оставляют правило для повторной
// попытки на следующей закрытой свече.
func (m *Monitor) execute(ctx context.Context, rule *models.StopRule, closePrice float64) {
	// Позиция могла закрыться между опросом и срабатыванием
	position, open := m.engine.livePosition(rule.Symbol, rule.PositionSide)
	if !open {
		m.log.Info("trigger skipped: position already closed", utils.RuleID(rule.ID))
		TriggersFired.WithLabelValues(rule.Symbol, rule.PositionSide, "skipped").Inc()
		return
	}

	orderSide := exchange.OrderSideSell
	if rule.PositionSide == exchange.PositionSideShort {
		orderSide = exchange.OrderSideBuy
	}

	quantity := position.Amount
	if rule.Quantity != nil && *rule.Quantity < position.Amount {
		quantity = *rule.Quantity
	}

	m.log.Warn("stop loss triggered",
		utils.RuleID(rule.ID),
		utils.StopPrice(rule.StopPrice),
		utils.Price(closePrice),
		utils.Quantity(quantity))

	order, err := m.engine.api.PlaceMarketOrder(ctx, rule.Symbol, orderSide, rule.PositionSide, quantity)
	if err != nil && !errors.Is(err, exchange.ErrOrderRejected) {
		m.fail(rule, closePrice, fmt.Sprintf("close order failed: %v", err))
		return
	}
	if err != nil || !isFillConfirmed(order.Status) {
		m.fail(rule, closePrice, fmt.Sprintf("close order not filled: status=%s", order.Status))
		return
	}

	if err := m.engine.store.Delete(rule.ID); err != nil {
		// Правило сработало, но не удалилось: на следующей свече
		// сработает повторно по уже закрытой позиции и будет
		// отсеяно проверкой livePosition
		m.log.Error("failed to delete executed rule", utils.RuleID(rule.ID), utils.Err(err))
	}

	TriggersFired.WithLabelValues(rule.Symbol, rule.PositionSide, "executed").Inc()
	m.engine.notifier.Publish(models.Notification{
		Timestamp: m.engine.now(),
		Type:      models.NotificationTypeSLExecuted,
		Severity:  models.DefaultSeverity(models.NotificationTypeSLExecuted),
		Symbol:    rule.Symbol,
		RuleID:    &rule.ID,
		Message: fmt.Sprintf("stop loss executed: %s %s closed %s at market (close %.8g, stop %.8g)",
			rule.Symbol, rule.PositionSide, utils.FormatQuantity(quantity), closePrice, rule.StopPrice),
		Meta: map[string]interface{}{
			"order_id":    order.OrderID,
			"side":        rule.PositionSide,
			"quantity":    quantity,
			"close_price": closePrice,
			"stop_price":  rule.StopPrice,
		},
	})
}

// fail помечает правило failed и шлёт уведомление
func (m *Monitor) fail(rule *models.StopRule, closePrice float64, reason string) {
	m.log.Error("stop loss execution failed",
		utils.RuleID(rule.ID),
		utils.String("reason", reason))

	if err := m.engine.store.UpdateStatus(rule.ID, models.StopRuleStatusFailed, reason); err != nil {
		m.log.Error("failed to mark rule failed", utils.RuleID(rule.ID), utils.Err(err))
	}

	TriggersFired.WithLabelValues(rule.Symbol, rule.PositionSide, "failed").Inc()
	m.engine.notifier.Publish(models.Notification{
		Timestamp: m.engine.now(),
		Type:      models.NotificationTypeSLFailed,
		Severity:  models.DefaultSeverity(models.NotificationTypeSLFailed),
		Symbol:    rule.Symbol,
		RuleID:    &rule.ID,
		Message:   fmt.Sprintf("stop loss failed for %s %s: %s", rule.Symbol, rule.PositionSide, reason),
		Meta: map[string]interface{}{
			"side":        rule.PositionSide,
			"close_price": closePrice,
			"stop_price":  rule.StopPrice,
		},
	})
}
