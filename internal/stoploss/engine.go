package stoploss

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stopguard/internal/config"
	"stopguard/internal/exchange"
	"stopguard/internal/models"
	"stopguard/pkg/utils"
)

// engine.go - движок стоп-лоссов
//
// Назначение:
// Держит правила в актуальном состоянии относительно открытых
// позиций и управляет жизненным циклом мониторов свечей.
//
// Функции:
// - sweep (30s): снимок позиций REST; правила без открытой позиции
//   удаляются, по одному событию cleaned на группу (symbol, side)
// - discovery (5s): группировка правил по (symbol, timeframe, side),
//   ровно один живой монитор на группу с открытой позицией
// - AddStopLoss: синхронная валидация против свежей позиции

// Ошибки движка
var (
	ErrValidation = errors.New("stop rule validation failed")
	ErrNoPosition = errors.New("no open position for rule")
)

// Notifier - потребительский интерфейс публикации событий
//
// Движок не знает, кто слушает: журнал, WebSocket или и то и другое.
type Notifier interface {
	Publish(n models.Notification)
}

// RuleStore - персистентное хранилище правил
//
// Каждое хранимое правило считается живым: исполненные удаляются,
// осиротевшие вычищает sweep. Статус failed лишь аннотирует
// последнюю неудачную попытку - правило продолжает участвовать
// в мониторинге до подтверждённого исполнения.
type RuleStore interface {
	Create(rule *models.StopRule) error
	GetByID(id int64) (*models.StopRule, error)
	GetAll() ([]*models.StopRule, error)
	Delete(id int64) error
	UpdateStatus(id int64, status, errorMessage string) error
}

// GroupKey идентифицирует группу мониторинга
type GroupKey struct {
	Symbol    string
	Timeframe string
	Side      string
}

// candleKey - граница идемпотентности закрытых свечей
//
// Сторона входит в ключ: в hedge-режиме LONG и SHORT группы
// одного символа и таймфрейма живут в разных мониторах, и каждая
// должна оценить закрытую свечу ровно один раз.
type candleKey struct {
	Symbol    string
	Timeframe string
	Side      string
}

// Engine управляет правилами и мониторами
type Engine struct {
	api      exchange.API
	cache    *exchange.StateCache
	store    RuleStore
	notifier Notifier
	reporter *Reporter
	cfg      config.EngineConfig
	log      *utils.Logger
	now      func() time.Time

	mu            sync.RWMutex
	groups        map[GroupKey][]*models.StopRule
	monitors      map[GroupKey]*Monitor
	sweepSnapshot map[exchange.PositionKey]exchange.Position
	lastProcessed map[candleKey]int64
	lastSweep     time.Time
	startedAt     time.Time

	runCtx context.Context
}

// NewEngine создаёт движок
func NewEngine(api exchange.API, cache *exchange.StateCache, store RuleStore, notifier Notifier, cfg config.EngineConfig, log *utils.Logger) *Engine {
	e := &Engine{
		api:           api,
		cache:         cache,
		store:         store,
		notifier:      notifier,
		cfg:           cfg,
		log:           log.WithComponent("engine"),
		now:           time.Now,
		groups:        make(map[GroupKey][]*models.StopRule),
		monitors:      make(map[GroupKey]*Monitor),
		sweepSnapshot: make(map[exchange.PositionKey]exchange.Position),
		lastProcessed: make(map[candleKey]int64),
	}
	e.reporter = NewReporter(notifier, cfg.ReportInterval, log)
	return e
}

// SetClock подменяет источник времени
//
// На проде сюда передаются часы биржи (Client.Now с поправкой
// SyncTime); тесты подставляют фиксированное время.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Run ведёт циклы sweep и discovery до отмены контекста
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.startedAt = e.now()
	e.runCtx = ctx
	e.mu.Unlock()

	// Первый sweep сразу: мониторы не стартуют, пока нет снимка
	if err := e.sweep(ctx); err != nil {
		e.log.Warn("initial position sweep failed", utils.Err(err))
	}
	e.discover(ctx)

	sweepBackoff := newFailureBackoff()
	sweepTimer := time.NewTimer(e.cfg.SweepInterval)
	defer sweepTimer.Stop()

	discoveryTicker := time.NewTicker(e.cfg.DiscoveryInterval)
	defer discoveryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.reporter.Flush()
			return ctx.Err()
		case <-sweepTimer.C:
			err := e.sweep(ctx)
			if err != nil {
				SweepFailures.Inc()
				e.log.Error("position sweep failed", utils.Err(err))
			}
			sweepTimer.Reset(sweepBackoff.next(e.cfg.SweepInterval, err))
		case <-discoveryTicker.C:
			e.discover(ctx)
		}
	}
}

// ============================================================
// Sweep: правила без позиции
// ============================================================

// sweep обновляет снимок позиций и удаляет осиротевшие правила
func (e *Engine) sweep(ctx context.Context) error {
	positions, err := e.api.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}

	snapshot := make(map[exchange.PositionKey]exchange.Position, len(positions))
	for _, p := range positions {
		snapshot[p.Key()] = p
	}

	e.mu.Lock()
	e.sweepSnapshot = snapshot
	e.lastSweep = e.now()
	e.mu.Unlock()

	rules, err := e.store.GetAll()
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	RulesActive.Set(float64(len(rules)))

	// Счётчик удалений на группу (symbol, side)
	type cleanGroup struct{ Symbol, Side string }
	cleaned := make(map[cleanGroup]int)

	for _, rule := range rules {
		key := exchange.PositionKey{Symbol: rule.Symbol, Side: rule.PositionSide}
		if _, open := snapshot[key]; open {
			continue
		}

		if err := e.store.Delete(rule.ID); err != nil {
			e.log.Error("failed to delete orphaned rule",
				utils.RuleID(rule.ID), utils.Err(err))
			continue
		}
		cleaned[cleanGroup{rule.Symbol, rule.PositionSide}]++
		RulesCleaned.WithLabelValues(rule.Symbol).Inc()
	}

	for group, count := range cleaned {
		e.log.Info("cleaned rules for closed position",
			utils.Symbol(group.Symbol),
			utils.Side(group.Side),
			utils.Int("count", count))
		e.notifier.Publish(models.Notification{
			Timestamp: e.now(),
			Type:      models.NotificationTypeSLCleaned,
			Severity:  models.DefaultSeverity(models.NotificationTypeSLCleaned),
			Symbol:    group.Symbol,
			Message:   fmt.Sprintf("removed %d stop rule(s) for closed %s %s position", count, group.Symbol, group.Side),
			Meta: map[string]interface{}{
				"side":  group.Side,
				"count": count,
			},
		})
	}

	return nil
}

// ============================================================
// Discovery: жизненный цикл мониторов
// ============================================================

// discover перегруппировывает правила и доращивает мониторы
func (e *Engine) discover(ctx context.Context) {
	rules, err := e.store.GetAll()
	if err != nil {
		e.log.Error("group discovery failed", utils.Err(err))
		return
	}

	groups := make(map[GroupKey][]*models.StopRule)
	for _, rule := range rules {
		key := GroupKey{Symbol: rule.Symbol, Timeframe: rule.Timeframe, Side: rule.PositionSide}
		groups[key] = append(groups[key], rule)
	}

	e.mu.Lock()
	e.groups = groups

	for key := range groups {
		if _, running := e.monitors[key]; running {
			continue
		}
		if _, open := e.sweepSnapshot[exchange.PositionKey{Symbol: key.Symbol, Side: key.Side}]; !open {
			continue
		}

		monitor := newMonitor(e, key)
		e.monitors[key] = monitor
		go monitor.run(ctx)
	}
	MonitorsActive.Set(float64(len(e.monitors)))
	e.mu.Unlock()
}

// groupRules возвращает активные правила группы
func (e *Engine) groupRules(key GroupKey) []*models.StopRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.groups[key]
}

// livePosition возвращает позицию из кеша состояния
//
// Кеш обновляется stream'ом и сверками, он свежее снимка sweep'а.
func (e *Engine) livePosition(symbol, side string) (exchange.Position, bool) {
	return e.cache.Position(exchange.PositionKey{Symbol: symbol, Side: side})
}

// monitorStopped убирает завершившийся монитор
func (e *Engine) monitorStopped(key GroupKey) {
	e.mu.Lock()
	delete(e.monitors, key)
	MonitorsActive.Set(float64(len(e.monitors)))
	e.mu.Unlock()
}

// claimCandle фиксирует close time как обработанный группой
//
// Возвращает false, если группа уже обработала эту свечу: граница
// идемпотентности, одна свеча оценивается группой не более одного раза.
func (e *Engine) claimCandle(symbol, timeframe, side string, closeTime int64) bool {
	key := candleKey{Symbol: symbol, Timeframe: timeframe, Side: side}

	e.mu.Lock()
	defer e.mu.Unlock()

	if closeTime <= e.lastProcessed[key] {
		return false
	}
	e.lastProcessed[key] = closeTime
	return true
}

// lastProcessedTime возвращает последний обработанный группой close time
func (e *Engine) lastProcessedTime(symbol, timeframe, side string) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastProcessed[candleKey{Symbol: symbol, Timeframe: timeframe, Side: side}]
}

// ============================================================
// Операции над правилами
// ============================================================

// AddStopLoss валидирует и сохраняет правило
//
// Валидация требует живую позицию, полученную прямо сейчас,
// а не из кеша: правило на отсутствующую позицию бессмысленно
// и было бы немедленно удалено sweep'ом.
func (e *Engine) AddStopLoss(ctx context.Context, rule *models.StopRule) error {
	rule.Symbol = utils.NormalizeSymbol(rule.Symbol)
	rule.PositionSide = utils.NormalizeSide(rule.PositionSide)

	if err := utils.ValidateSymbol(rule.Symbol); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := utils.ValidateSide(rule.PositionSide); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := utils.ValidateTimeframe(rule.Timeframe); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := utils.ValidateStopPrice(rule.StopPrice); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if rule.Quantity != nil {
		if err := utils.ValidateQuantity(*rule.Quantity); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	positions, err := e.api.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("verify position: %w", err)
	}

	var position *exchange.Position
	for i := range positions {
		if positions[i].Symbol == rule.Symbol && positions[i].Side == rule.PositionSide {
			position = &positions[i]
			break
		}
	}
	if position == nil {
		return fmt.Errorf("%w: %s %s", ErrNoPosition, rule.Symbol, rule.PositionSide)
	}

	if rule.Quantity != nil && *rule.Quantity > position.Amount {
		return fmt.Errorf("%w: quantity %v exceeds position size %v",
			ErrValidation, *rule.Quantity, position.Amount)
	}

	rule.Status = models.StopRuleStatusActive
	if err := e.store.Create(rule); err != nil {
		return fmt.Errorf("persist rule: %w", err)
	}

	e.log.Info("stop rule added",
		utils.RuleID(rule.ID),
		utils.Symbol(rule.Symbol),
		utils.Side(rule.PositionSide),
		utils.StopPrice(rule.StopPrice),
		utils.Timeframe(rule.Timeframe))

	return nil
}

// Status возвращает состояние движка для /status
func (e *Engine) Status() models.EngineStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	activeRules := 0
	for _, rules := range e.groups {
		activeRules += len(rules)
	}

	status := models.EngineStatus{
		Running:     e.runCtx != nil && e.runCtx.Err() == nil,
		ActiveRules: activeRules,
		Monitors:    len(e.monitors),
		LastSweep:   e.lastSweep,
		StartedAt:   e.startedAt,
	}
	if !e.startedAt.IsZero() {
		status.UptimeSeconds = int64(e.now().Sub(e.startedAt).Seconds())
	}
	return status
}

// ============================================================
// Backoff последовательных ошибок
// ============================================================

const (
	failureThreshold = 3
	failureInterval  = 5 * time.Minute
)

// failureBackoff замедляет цикл после серии ошибок
//
// Одиночные сбои REST не меняют каденцию; после threshold подряд
// цикл переходит на длинный интервал до первого успеха.
type failureBackoff struct {
	failures int
}

func newFailureBackoff() *failureBackoff {
	return &failureBackoff{}
}

// next возвращает интервал до следующей итерации
func (b *failureBackoff) next(normal time.Duration, err error) time.Duration {
	if err == nil {
		b.failures = 0
		return normal
	}

	b.failures++
	if b.failures >= failureThreshold {
		return failureInterval
	}
	return normal
}
