package handlers

import (
	"net/http"

	"stopguard/internal/exchange"
)

// StatusHandler отвечает за состояние сервиса и снимок позиций
//
// Endpoints:
// - GET /api/v1/status - сводный статус (движок, stream, кеш)
// - GET /api/v1/positions - открытые позиции из кеша
//
// Назначение:
// Отдаёт состояние без обращений к бирже: позиции берутся
// из кеша, который ведёт user-data stream.
type StatusHandler struct {
	service StopLossServiceInterface
}

// NewStatusHandler создает новый StatusHandler с внедрением зависимости
func NewStatusHandler(service StopLossServiceInterface) *StatusHandler {
	return &StatusHandler{service: service}
}

// GetStatus возвращает сводный статус сервиса
//
// GET /api/v1/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.service.Status())
}

// GetPositionsResponse представляет ответ списка позиций
type GetPositionsResponse struct {
	Positions []exchange.Position `json:"positions"`
	Total     int                 `json:"total"`
}

// GetPositions возвращает снимок открытых позиций
//
// GET /api/v1/positions
func (h *StatusHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.service.Positions()
	if positions == nil {
		positions = []exchange.Position{}
	}
	respondWithJSON(w, http.StatusOK, GetPositionsResponse{
		Positions: positions,
		Total:     len(positions),
	})
}
