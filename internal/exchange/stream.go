package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stopguard/internal/config"
	"stopguard/pkg/utils"
)

// stream.go - синхронизатор состояния через user-data stream
//
// Назначение:
// Держит кеш позиций и ордеров синхронным с биржей. События
// ACCOUNT_UPDATE и ORDER_TRADE_UPDATE применяются к кешу по мере
// прихода; после каждого (пере)подключения состояние сверяется
// со снимком REST, потому что события за время разрыва потеряны.
//
// Жизненный цикл listen key:
// - URL подключения получает свежий ключ перед каждым dial
// - ключ продлевается раз в 30 минут
// - событие listenKeyExpired разрывает соединение, следующий
//   dial получает новый ключ

// StreamObserver получает события синхронизатора
//
// Реализуется слоем уведомлений; методы вызываются из горутины
// чтения stream'а и не должны блокировать.
type StreamObserver interface {
	// PositionUpdated - позиция открыта или изменена
	PositionUpdated(p Position)
	// PositionClosed - количество позиции стало нулевым
	PositionClosed(p Position)
	// OrderUpdated - статус ордера изменился (дубликаты NEW отфильтрованы)
	OrderUpdated(o OrderInfo)
	// AccountEvent - служебное событие аккаунта (FUNDING_FEE и т.п.)
	AccountEvent(reason string)
	// Reconciled - завершена сверка после (пере)подключения
	Reconciled(summary ReconcileSummary)
	// StreamStateChanged - изменилось состояние соединения
	StreamStateChanged(state string)
}

// UserStream синхронизирует кеш состояния с биржей
type UserStream struct {
	api      API
	cache    *StateCache
	observer StreamObserver
	cfg      config.StreamConfig
	log      *utils.Logger

	manager *WSReconnectManager

	mu            sync.Mutex
	lastReconcile time.Time
}

// NewUserStream создаёт синхронизатор
func NewUserStream(api API, cache *StateCache, observer StreamObserver, cfg config.StreamConfig, wsBaseURL string, log *utils.Logger) *UserStream {
	s := &UserStream{
		api:      api,
		cache:    cache,
		observer: observer,
		cfg:      cfg,
		log:      log.WithComponent("stream"),
	}

	wsCfg := DefaultWSReconnectConfig()
	wsCfg.InitialDelay = cfg.ReconnectDelayMin
	wsCfg.MaxDelay = cfg.ReconnectDelayMax
	wsCfg.PingInterval = cfg.PingInterval
	wsCfg.ReadTimeout = cfg.ReadTimeout

	urlFunc := func(ctx context.Context) (string, error) {
		key, err := api.GetListenKey(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s/ws/%s", wsBaseURL, key), nil
	}

	s.manager = NewWSReconnectManager(urlFunc, wsCfg, log)
	s.manager.SetOnMessage(s.handleMessage)
	s.manager.SetOnConnect(s.handleConnect)
	s.manager.SetOnDisconnect(func(err error) {
		StreamConnected.Set(0)
		s.observer.StreamStateChanged(WSStateReconnecting.String())
	})

	return s
}

// State возвращает состояние соединения для /status
func (s *UserStream) State() string {
	return s.manager.GetState().String()
}

// Run подключает stream и ведёт его до отмены контекста
//
// Блокирует до ctx.Done(); запускается задачей taskgroup.
func (s *UserStream) Run(ctx context.Context) error {
	if err := s.manager.Connect(); err != nil {
		return fmt.Errorf("initial stream connect: %w", err)
	}
	s.observer.StreamStateChanged(WSStateConnected.String())

	renewTicker := time.NewTicker(s.cfg.ListenKeyRenew)
	defer renewTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case <-renewTicker.C:
			s.renewListenKey(ctx)
		}
	}
}

// shutdown закрывает соединение и listen key
func (s *UserStream) shutdown() {
	s.manager.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.api.CloseListenKey(ctx); err != nil {
		s.log.Warn("close listen key failed", utils.Err(err))
	}
	s.observer.StreamStateChanged(WSStateClosed.String())
}

// renewListenKey продлевает listen key
//
// При отказе продления соединение разрывается принудительно:
// следующий dial получит новый ключ вместо протухающего.
func (s *UserStream) renewListenKey(ctx context.Context) {
	if err := s.api.RenewListenKey(ctx); err != nil {
		s.log.Warn("listen key renewal failed, forcing reconnect", utils.Err(err))
		s.manager.Drop(errors.New("listen key renewal failed"))
		return
	}
	s.log.Debug("listen key renewed")
}

// handleConnect запускает сверку после (пере)подключения
//
// Сверка откладывается на ReconcileDelay: бирже нужно время, чтобы
// stream начал отдавать события, иначе между снимком REST и первым
// событием остаётся щель.
func (s *UserStream) handleConnect(reconnected bool) {
	StreamConnected.Set(1)
	if reconnected {
		StreamReconnects.Inc()
	}
	s.observer.StreamStateChanged(WSStateConnected.String())

	go func() {
		time.Sleep(s.cfg.ReconcileDelay)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.Reconcile(ctx); err != nil {
			s.log.Error("reconciliation failed", utils.Err(err))
		}
	}()
}

// Reconcile сверяет кеш со снимком REST
func (s *UserStream) Reconcile(ctx context.Context) error {
	positions, err := s.api.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}

	orders, err := s.api.GetOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("fetch open orders: %w", err)
	}

	summary := s.cache.Reconcile(positions, orders)
	ReconcileDrift.WithLabelValues("position_added").Add(float64(len(summary.PositionsAdded)))
	ReconcileDrift.WithLabelValues("position_updated").Add(float64(len(summary.PositionsUpdated)))
	ReconcileDrift.WithLabelValues("position_removed").Add(float64(len(summary.PositionsRemoved)))
	ReconcileDrift.WithLabelValues("order_added").Add(float64(len(summary.OrdersAdded)))
	ReconcileDrift.WithLabelValues("order_removed").Add(float64(len(summary.OrdersRemoved)))
	if summary.Changed() {
		s.log.Info("reconciliation found drift",
			utils.Int("positions_added", len(summary.PositionsAdded)),
			utils.Int("positions_updated", len(summary.PositionsUpdated)),
			utils.Int("positions_removed", len(summary.PositionsRemoved)),
			utils.Int("orders_added", len(summary.OrdersAdded)),
			utils.Int("orders_removed", len(summary.OrdersRemoved)))
	} else {
		s.log.Debug("reconciliation clean")
	}

	// Расхождения превращаются в те же события, что шлёт живой
	// stream: потребителю всё равно, каким путём они обнаружены
	for _, p := range summary.PositionsRemoved {
		s.observer.PositionClosed(p)
	}
	for _, p := range summary.PositionsAdded {
		s.observer.PositionUpdated(p)
	}
	for _, p := range summary.PositionsUpdated {
		s.observer.PositionUpdated(p)
	}
	for _, o := range summary.OrdersAdded {
		s.observer.OrderUpdated(o)
	}

	s.observer.Reconciled(summary)

	s.mu.Lock()
	s.lastReconcile = time.Now()
	s.mu.Unlock()

	return nil
}

// LastReconcile возвращает время последней успешной сверки
func (s *UserStream) LastReconcile() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReconcile
}

// ============================================================
// Разбор событий stream'а
// ============================================================

type wsEvent struct {
	Event   string     `json:"e"`
	Time    int64      `json:"E"`
	Account *wsAccount `json:"a,omitempty"`
	Order   *wsOrder   `json:"o,omitempty"`
}

type wsAccount struct {
	Reason    string       `json:"m"`
	Positions []wsPosition `json:"P"`
}

type wsPosition struct {
	Symbol        string `json:"s"`
	Amount        string `json:"pa"`
	EntryPrice    string `json:"ep"`
	UnrealizedPnl string `json:"up"`
	PositionSide  string `json:"ps"`
}

type wsOrder struct {
	Symbol       string `json:"s"`
	Side         string `json:"S"`
	Type         string `json:"o"`
	Status       string `json:"X"`
	OrderID      int64  `json:"i"`
	Quantity     string `json:"q"`
	ExecutedQty  string `json:"z"`
	Price        string `json:"p"`
	StopPrice    string `json:"sp"`
	PositionSide string `json:"ps"`
	ReduceOnly   bool   `json:"R"`
	TradeTime    int64  `json:"T"`
}

// handleMessage обрабатывает сообщение stream'а
func (s *UserStream) handleMessage(message []byte) {
	var event wsEvent
	if err := jsonFast.Unmarshal(message, &event); err != nil {
		s.log.Warn("unparseable stream message", utils.Err(err))
		return
	}
	StreamEvents.WithLabelValues(event.Event).Inc()

	switch event.Event {
	case "ACCOUNT_UPDATE":
		s.handleAccountUpdate(&event)
	case "ORDER_TRADE_UPDATE":
		s.handleOrderUpdate(&event)
	case "listenKeyExpired":
		s.log.Warn("listen key expired, forcing reconnect")
		s.manager.Drop(errors.New("listen key expired"))
	default:
		// MARGIN_CALL, ACCOUNT_CONFIG_UPDATE и прочие не влияют на кеш
		s.log.Debug("ignoring stream event", utils.String("event", event.Event))
	}
}

// handleAccountUpdate применяет изменения позиций к кешу
func (s *UserStream) handleAccountUpdate(event *wsEvent) {
	if event.Account == nil {
		return
	}

	// FUNDING_FEE и события без позиций не меняют состояние
	if event.Account.Reason == "FUNDING_FEE" || len(event.Account.Positions) == 0 {
		s.observer.AccountEvent(event.Account.Reason)
		return
	}

	for _, wp := range event.Account.Positions {
		amount := parseStreamFloat(wp.Amount)

		side, ok := s.resolveSide(wp.Symbol, wp.PositionSide, amount)
		if !ok {
			s.log.Warn("cannot resolve position side, skipping",
				utils.Symbol(wp.Symbol),
				utils.String("position_side", wp.PositionSide))
			continue
		}

		key := PositionKey{Symbol: wp.Symbol, Side: side}

		if amount == 0 {
			if last, existed := s.cache.RemovePosition(key); existed {
				s.observer.PositionClosed(last)
			}
			continue
		}

		position := Position{
			Symbol:        wp.Symbol,
			Side:          side,
			Amount:        utils.Abs(amount),
			EntryPrice:    parseStreamFloat(wp.EntryPrice),
			UnrealizedPnl: parseStreamFloat(wp.UnrealizedPnl),
			UpdatedAt:     utils.MillisToTime(event.Time),
		}
		s.cache.SetPosition(position)
		s.observer.PositionUpdated(position)
	}
}

// resolveSide определяет сторону позиции
//
// Порядок: поле ps события; знак количества; существующий ключ в
// кеше. Если ни один способ не дал однозначного ответа, событие
// пропускается - лучше дождаться сверки, чем исказить кеш.
func (s *UserStream) resolveSide(symbol, positionSide string, amount float64) (string, bool) {
	if positionSide == PositionSideLong || positionSide == PositionSideShort {
		return positionSide, true
	}

	if amount != 0 {
		if amount > 0 {
			return PositionSideLong, true
		}
		return PositionSideShort, true
	}

	// Нулевое количество в one-way режиме: ищем, какая сторона открыта
	_, hasLong := s.cache.Position(PositionKey{Symbol: symbol, Side: PositionSideLong})
	_, hasShort := s.cache.Position(PositionKey{Symbol: symbol, Side: PositionSideShort})

	switch {
	case hasLong && !hasShort:
		return PositionSideLong, true
	case hasShort && !hasLong:
		return PositionSideShort, true
	default:
		return "", false
	}
}

// handleOrderUpdate применяет изменение ордера к кешу
func (s *UserStream) handleOrderUpdate(event *wsEvent) {
	if event.Order == nil {
		return
	}
	wo := event.Order

	order := OrderInfo{
		OrderID:      wo.OrderID,
		Symbol:       wo.Symbol,
		Side:         wo.Side,
		PositionSide: wo.PositionSide,
		Type:         wo.Type,
		Status:       wo.Status,
		Quantity:     parseStreamFloat(wo.Quantity),
		ExecutedQty:  parseStreamFloat(wo.ExecutedQty),
		Price:        parseStreamFloat(wo.Price),
		StopPrice:    parseStreamFloat(wo.StopPrice),
		ReduceOnly:   wo.ReduceOnly,
		UpdatedAt:    utils.MillisToTime(wo.TradeTime),
	}

	if IsTerminalOrderStatus(order.Status) {
		s.cache.RemoveOrder(order.OrderID)
		s.observer.OrderUpdated(order)
		return
	}

	isNew := s.cache.SetOrder(order)

	// Биржа повторяет NEW после переподключения; уведомляем только
	// о действительно новых ордерах
	if order.Status == OrderStatusNew && !isNew {
		return
	}
	s.observer.OrderUpdated(order)
}

// parseStreamFloat парсит числовую строку события, 0 при ошибке
func parseStreamFloat(value string) float64 {
	if value == "" {
		return 0
	}
	var f float64
	if err := jsonFast.UnmarshalFromString(value, &f); err != nil {
		return 0
	}
	return f
}
