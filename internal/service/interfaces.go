package service

import (
	"context"
	"time"

	"stopguard/internal/models"
)

// RuleEngineInterface определяет интерфейс движка стоп-лоссов
//
// Позволяет тестировать сервисный слой без живого движка
// (AddStopLoss ходит на биржу за проверкой позиции)
type RuleEngineInterface interface {
	AddStopLoss(ctx context.Context, rule *models.StopRule) error
	Status() models.EngineStatus
}

// RuleRepositoryInterface определяет интерфейс репозитория правил
type RuleRepositoryInterface interface {
	GetByID(id int64) (*models.StopRule, error)
	GetBySymbol(symbol string) ([]*models.StopRule, error)
	GetAll() ([]*models.StopRule, error)
	UpdateStopPrice(id int64, stopPrice float64) error
	Delete(id int64) error
	DeleteBySymbol(symbol string) (int64, error)
	Count() (int, error)
}

// StreamStateProvider отдаёт состояние соединения user-data stream'а
type StreamStateProvider interface {
	State() string
	LastReconcile() time.Time
}

// WebSocketBroadcaster - интерфейс для отправки WebSocket сообщений
//
// Позволяет избежать циклических зависимостей между пакетами
// и упрощает тестирование (можно подставить mock)
type WebSocketBroadcaster interface {
	BroadcastNotification(notif models.Notification)
}
