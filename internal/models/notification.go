package models

import "time"

// Notification представляет уведомление о событии
type Notification struct {
	ID        int64                  `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`     // POSITION_UPDATE, SL_EXECUTED, ...
	Severity  string                 `json:"severity"` // info, warn, error
	Symbol    string                 `json:"symbol,omitempty"`
	RuleID    *int64                 `json:"rule_id,omitempty"`
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"` // дополнительные данные события
}

// Типы уведомлений
const (
	NotificationTypePositionUpdate = "POSITION_UPDATE" // изменение позиции из стрима
	NotificationTypePositionClosed = "POSITION_CLOSED" // позиция закрыта (amount = 0)
	NotificationTypeOrderUpdate    = "ORDER_UPDATE"    // изменение статуса ордера
	NotificationTypeAccountUpdate  = "ACCOUNT_UPDATE"  // служебное событие аккаунта (funding fee и т.п.)
	NotificationTypeSLExecuted     = "SL_EXECUTED"     // срабатывание стоп-лосса
	NotificationTypeSLFailed       = "SL_FAILED"       // ордер закрытия отклонён
	NotificationTypeSLCleaned      = "SL_CLEANED"      // правила удалены для закрытой позиции
	NotificationTypeSLReport       = "SL_REPORT"       // сводный отчёт мониторинга
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// DefaultSeverity возвращает уровень важности для типа уведомления
func DefaultSeverity(notificationType string) string {
	switch notificationType {
	case NotificationTypeSLFailed:
		return SeverityError
	case NotificationTypeSLExecuted, NotificationTypeSLCleaned:
		return SeverityWarn
	default:
		return SeverityInfo
	}
}
