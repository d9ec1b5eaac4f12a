package service

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"stopguard/internal/exchange"
	"stopguard/internal/models"
	"stopguard/pkg/utils"
)

// notification_service.go - журнал событий и раздача уведомлений
//
// Назначение:
// - принимать события синхронизатора (StreamObserver) и движка (Notifier)
// - вести кольцевой журнал последних уведомлений в памяти
// - раздавать уведомления WebSocket клиентам через hub
//
// Журнал живёт в памяти: после рестарта история пуста, источником
// правды по правилам остаётся БД, по позициям - биржа.

const (
	defaultJournalCapacity = 500
	defaultQueryLimit      = 100
	maxQueryLimit          = 500
)

// NotificationService принимает события и ведёт журнал уведомлений
type NotificationService struct {
	log *utils.Logger

	mu       sync.Mutex
	journal  []models.Notification
	capacity int
	nextID   int64
	hub      WebSocketBroadcaster
}

// NewNotificationService создает новый экземпляр NotificationService
func NewNotificationService(capacity int, log *utils.Logger) *NotificationService {
	if capacity <= 0 {
		capacity = defaultJournalCapacity
	}
	return &NotificationService{
		log:      log.WithComponent("notifications"),
		capacity: capacity,
	}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast уведомлений
//
// Вызывается после инициализации Hub в main.go
func (s *NotificationService) SetWebSocketHub(hub WebSocketBroadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hub = hub
}

// Publish регистрирует уведомление и рассылает его клиентам
//
// Пустые Timestamp и Severity заполняются автоматически.
// Вызывается из горутин движка и stream'а, не блокирует.
func (s *NotificationService) Publish(notif models.Notification) {
	if notif.Timestamp.IsZero() {
		notif.Timestamp = time.Now()
	}
	if notif.Severity == "" {
		notif.Severity = models.DefaultSeverity(notif.Type)
	}

	s.mu.Lock()
	s.nextID++
	notif.ID = s.nextID

	s.journal = append(s.journal, notif)
	if len(s.journal) > s.capacity {
		s.journal = s.journal[len(s.journal)-s.capacity:]
	}
	hub := s.hub
	s.mu.Unlock()

	s.log.Debug("notification",
		utils.String("type", notif.Type),
		utils.String("severity", notif.Severity),
		utils.String("message", notif.Message))

	if hub != nil {
		hub.BroadcastNotification(notif)
	}
}

// Recent возвращает последние уведомления, новые сверху
//
// types фильтрует по типам (пустой список - все типы),
// limit ограничивает выдачу (по умолчанию 100, максимум 500).
func (s *NotificationService) Recent(types []string, limit int) []models.Notification {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		normalized := strings.ToUpper(strings.TrimSpace(t))
		if normalized != "" {
			wanted[normalized] = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Notification, 0, limit)
	for i := len(s.journal) - 1; i >= 0 && len(out) < limit; i-- {
		if len(wanted) > 0 && !wanted[s.journal[i].Type] {
			continue
		}
		out = append(out, s.journal[i])
	}
	return out
}

// Count возвращает количество уведомлений в журнале
func (s *NotificationService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.journal)
}

// Clear очищает журнал уведомлений
func (s *NotificationService) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = nil
}

// ============================================================
// exchange.StreamObserver - события синхронизатора
// ============================================================

// PositionUpdated - позиция открыта или изменена
func (s *NotificationService) PositionUpdated(p exchange.Position) {
	s.Publish(models.Notification{
		Type:    models.NotificationTypePositionUpdate,
		Symbol:  p.Symbol,
		Message: fmt.Sprintf("%s %s: amount %.8g, entry %.8g", p.Symbol, p.Side, p.Amount, p.EntryPrice),
		Meta: map[string]interface{}{
			"side":           p.Side,
			"amount":         p.Amount,
			"entry_price":    p.EntryPrice,
			"unrealized_pnl": p.UnrealizedPnl,
		},
	})
}

// PositionClosed - количество позиции стало нулевым
func (s *NotificationService) PositionClosed(p exchange.Position) {
	s.Publish(models.Notification{
		Type:    models.NotificationTypePositionClosed,
		Symbol:  p.Symbol,
		Message: fmt.Sprintf("%s %s closed", p.Symbol, p.Side),
		Meta: map[string]interface{}{
			"side":        p.Side,
			"entry_price": p.EntryPrice,
		},
	})
}

// OrderUpdated - статус ордера изменился
func (s *NotificationService) OrderUpdated(o exchange.OrderInfo) {
	s.Publish(models.Notification{
		Type:    models.NotificationTypeOrderUpdate,
		Symbol:  o.Symbol,
		Message: fmt.Sprintf("order %d %s %s: %s (%s/%s filled)",
			o.OrderID, o.Symbol, o.Side, o.Status,
			utils.FormatQuantity(o.ExecutedQty), utils.FormatQuantity(o.Quantity)),
		Meta: map[string]interface{}{
			"order_id":     o.OrderID,
			"side":         o.Side,
			"type":         o.Type,
			"status":       o.Status,
			"quantity":     o.Quantity,
			"executed_qty": o.ExecutedQty,
		},
	})
}

// AccountEvent - служебное событие аккаунта
func (s *NotificationService) AccountEvent(reason string) {
	s.Publish(models.Notification{
		Type:    models.NotificationTypeAccountUpdate,
		Message: fmt.Sprintf("account event: %s", reason),
		Meta:    map[string]interface{}{"reason": reason},
	})
}

// Reconciled - завершена сверка после (пере)подключения
//
// Чистая сверка журнал не засоряет: запись появляется только
// при расхождениях. События по самим сущностям stream рассылает
// отдельно, здесь фиксируется итог.
func (s *NotificationService) Reconciled(summary exchange.ReconcileSummary) {
	if !summary.Changed() {
		return
	}

	s.Publish(models.Notification{
		Type: models.NotificationTypeAccountUpdate,
		Message: fmt.Sprintf("state reconciled: %d/%d/%d positions added/updated/removed, %d/%d orders added/removed",
			len(summary.PositionsAdded), len(summary.PositionsUpdated), len(summary.PositionsRemoved),
			len(summary.OrdersAdded), len(summary.OrdersRemoved)),
		Meta: map[string]interface{}{
			"positions_added":   len(summary.PositionsAdded),
			"positions_updated": len(summary.PositionsUpdated),
			"positions_removed": len(summary.PositionsRemoved),
			"orders_added":      len(summary.OrdersAdded),
			"orders_removed":    len(summary.OrdersRemoved),
		},
	})
}

// StreamStateChanged - изменилось состояние соединения
func (s *NotificationService) StreamStateChanged(state string) {
	severity := models.SeverityInfo
	if state != "connected" {
		severity = models.SeverityWarn
	}

	s.Publish(models.Notification{
		Type:     models.NotificationTypeAccountUpdate,
		Severity: severity,
		Message:  fmt.Sprintf("user data stream %s", state),
		Meta:     map[string]interface{}{"stream_state": state},
	})
}
