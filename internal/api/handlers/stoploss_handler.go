package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"stopguard/internal/models"
	"stopguard/internal/repository"
	"stopguard/internal/stoploss"
)

// StopLossHandler отвечает за управление стоп-правилами
//
// Endpoints:
// - GET /api/v1/stoplosses - список правил (?symbol=BTCUSDT для фильтра)
// - POST /api/v1/stoplosses - создание правила
// - GET /api/v1/stoplosses/{id} - получение правила
// - PATCH /api/v1/stoplosses/{id} - изменение цены срабатывания
// - DELETE /api/v1/stoplosses/{id} - удаление правила
// - DELETE /api/v1/stoplosses?symbol=BTCUSDT - удаление всех правил символа
//
// Назначение:
// HTTP обёртка над StopLossService: декодирование запросов,
// маппинг доменных ошибок на HTTP коды, сериализация ответов.
type StopLossHandler struct {
	service StopLossServiceInterface
}

// NewStopLossHandler создает новый StopLossHandler с внедрением зависимости
func NewStopLossHandler(service StopLossServiceInterface) *StopLossHandler {
	return &StopLossHandler{service: service}
}

// CreateStopLossRequest представляет тело запроса создания правила
type CreateStopLossRequest struct {
	Symbol       string   `json:"symbol"`
	PositionSide string   `json:"position_side"`
	StopPrice    float64  `json:"stop_price"`
	Quantity     *float64 `json:"quantity,omitempty"`
	Timeframe    string   `json:"timeframe"`
}

// CreateStopLoss создает стоп-правило
//
// POST /api/v1/stoplosses
//
// Тело запроса:
//
//	{"symbol": "BTCUSDT", "position_side": "LONG", "stop_price": 48000,
//	 "timeframe": "15m", "quantity": 0.25}
//
// quantity опционален: без него закрывается вся позиция.
//
// HTTP коды:
// - 201 Created: правило создано
// - 400 Bad Request: ошибка валидации или позиция не открыта
// - 500 Internal Server Error: ошибка биржи или БД
func (h *StopLossHandler) CreateStopLoss(w http.ResponseWriter, r *http.Request) {
	var req CreateStopLossRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	rule := &models.StopRule{
		Symbol:       req.Symbol,
		PositionSide: req.PositionSide,
		StopPrice:    req.StopPrice,
		Quantity:     req.Quantity,
		Timeframe:    req.Timeframe,
	}

	if err := h.service.Create(r.Context(), rule); err != nil {
		switch {
		case errors.Is(err, stoploss.ErrValidation), errors.Is(err, stoploss.ErrNoPosition):
			respondWithError(w, http.StatusBadRequest, err.Error())
		default:
			respondWithError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	respondWithJSON(w, http.StatusCreated, rule)
}

// ListStopLossesResponse представляет ответ списка правил
type ListStopLossesResponse struct {
	Rules []*models.StopRule `json:"rules"`
	Total int                `json:"total"`
}

// ListStopLosses возвращает список правил
//
// GET /api/v1/stoplosses
// GET /api/v1/stoplosses?symbol=BTCUSDT
func (h *StopLossHandler) ListStopLosses(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.List(r.URL.Query().Get("symbol"))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if rules == nil {
		rules = []*models.StopRule{}
	}
	respondWithJSON(w, http.StatusOK, ListStopLossesResponse{Rules: rules, Total: len(rules)})
}

// GetStopLoss возвращает правило по ID
//
// GET /api/v1/stoplosses/{id}
//
// HTTP коды:
// - 200 OK: правило найдено
// - 400 Bad Request: некорректный ID
// - 404 Not Found: правила нет
func (h *StopLossHandler) GetStopLoss(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	rule, err := h.service.Get(id)
	if err != nil {
		if errors.Is(err, repository.ErrStopRuleNotFound) {
			respondWithError(w, http.StatusNotFound, "stop rule not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, rule)
}

// UpdateStopLossRequest представляет тело запроса изменения правила
type UpdateStopLossRequest struct {
	StopPrice float64 `json:"stop_price"`
}

// UpdateStopLoss меняет цену срабатывания правила
//
// PATCH /api/v1/stoplosses/{id}
//
// Тело запроса: {"stop_price": 47500}
// Новая цена применяется со следующей закрытой свечи.
func (h *StopLossHandler) UpdateStopLoss(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req UpdateStopLossRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	if err := h.service.UpdateStopPrice(id, req.StopPrice); err != nil {
		switch {
		case errors.Is(err, stoploss.ErrValidation):
			respondWithError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, repository.ErrStopRuleNotFound):
			respondWithError(w, http.StatusNotFound, "stop rule not found")
		default:
			respondWithError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "stop price updated"})
}

// DeleteStopLoss удаляет правило по ID
//
// DELETE /api/v1/stoplosses/{id}
//
// HTTP коды:
// - 204 No Content: удалено
// - 404 Not Found: правила нет
func (h *StopLossHandler) DeleteStopLoss(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(id); err != nil {
		if errors.Is(err, repository.ErrStopRuleNotFound) {
			respondWithError(w, http.StatusNotFound, "stop rule not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteStopLossesResponse представляет ответ массового удаления
type DeleteStopLossesResponse struct {
	Deleted int64 `json:"deleted"`
}

// DeleteBySymbol удаляет все правила символа
//
// DELETE /api/v1/stoplosses?symbol=BTCUSDT
//
// HTTP коды:
// - 200 OK: возвращает количество удалённых правил
// - 400 Bad Request: symbol не указан или невалиден
func (h *StopLossHandler) DeleteBySymbol(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		respondWithError(w, http.StatusBadRequest, "symbol query parameter is required")
		return
	}

	deleted, err := h.service.DeleteBySymbol(symbol)
	if err != nil {
		if errors.Is(err, stoploss.ErrValidation) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, DeleteStopLossesResponse{Deleted: deleted})
}

// parseID извлекает {id} из пути, отвечает 400 при ошибке
func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "invalid rule id")
		return 0, false
	}
	return id, true
}
