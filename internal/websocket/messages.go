package websocket

import (
	"time"

	"stopguard/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeNotification - событие из журнала уведомлений
	// Позиции, ордера, срабатывания стоп-лоссов, отчёты мониторинга
	MessageTypeNotification MessageType = "notification"

	// MessageTypeStatusUpdate - сводный статус сервиса
	// Состояние stream'а, количество правил и мониторов
	MessageTypeStatusUpdate MessageType = "statusUpdate"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// NotificationMessage - сообщение с уведомлением
type NotificationMessage struct {
	BaseMessage
	Data models.Notification `json:"data"`
}

// StatusUpdateMessage - сообщение со статусом сервиса
type StatusUpdateMessage struct {
	BaseMessage
	Data models.EngineStatus `json:"data"`
}

// NewNotificationMessage создает сообщение уведомления
func NewNotificationMessage(notif models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeNotification,
			Timestamp: time.Now(),
		},
		Data: notif,
	}
}

// NewStatusUpdateMessage создает сообщение статуса
func NewStatusUpdateMessage(status models.EngineStatus) *StatusUpdateMessage {
	return &StatusUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeStatusUpdate,
			Timestamp: time.Now(),
		},
		Data: status,
	}
}
