package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"stopguard/internal/exchange"
	"stopguard/internal/models"
)

// StopLossServiceInterface определяет интерфейс сервиса стоп-правил
type StopLossServiceInterface interface {
	Create(ctx context.Context, rule *models.StopRule) error
	Get(id int64) (*models.StopRule, error)
	List(symbol string) ([]*models.StopRule, error)
	UpdateStopPrice(id int64, stopPrice float64) error
	Delete(id int64) error
	DeleteBySymbol(symbol string) (int64, error)
	Positions() []exchange.Position
	Status() models.EngineStatus
}

// NotificationServiceInterface определяет интерфейс журнала уведомлений
type NotificationServiceInterface interface {
	Recent(types []string, limit int) []models.Notification
	Count() int
	Clear()
}

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

// respondWithError отправляет JSON ошибку
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}
