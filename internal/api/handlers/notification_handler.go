package handlers

import (
	"net/http"
	"strconv"
	"strings"
)

// NotificationHandler отвечает за журнал уведомлений
//
// Endpoints:
// - GET /api/v1/notifications - получение списка уведомлений
// - GET /api/v1/notifications?types=sl_executed,sl_failed - с фильтрацией
// - GET /api/v1/notifications?limit=50 - с ограничением количества
// - DELETE /api/v1/notifications - очистка журнала
//
// Назначение:
// Обрабатывает запросы на чтение журнала событий сервиса:
// обновления позиций и ордеров, срабатывания стоп-лоссов,
// отчёты мониторинга. Журнал хранится в памяти.
type NotificationHandler struct {
	notifications NotificationServiceInterface
}

// NewNotificationHandler создает новый NotificationHandler с внедрением зависимости
func NewNotificationHandler(notifications NotificationServiceInterface) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// GetNotificationsResponse представляет ответ списка уведомлений
type GetNotificationsResponse struct {
	Notifications interface{} `json:"notifications"`
	Total         int         `json:"total"`
}

// GetNotifications возвращает список уведомлений с фильтрацией
//
// GET /api/v1/notifications
//
// Query параметры:
// - types (string): фильтр по типам через запятую
//   (position_update, position_closed, order_update, account_update,
//   sl_executed, sl_failed, sl_cleaned, sl_report)
// - limit (int): количество записей (по умолчанию 100, максимум 500)
//
// Примеры запросов:
// - GET /api/v1/notifications - последние 100
// - GET /api/v1/notifications?types=sl_executed,sl_failed - только стопы
// - GET /api/v1/notifications?limit=50 - последние 50
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	var types []string
	if typesParam := r.URL.Query().Get("types"); typesParam != "" {
		for _, part := range strings.Split(typesParam, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				types = append(types, trimmed)
			}
		}
	}

	limit := 0
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	notifications := h.notifications.Recent(types, limit)

	respondWithJSON(w, http.StatusOK, GetNotificationsResponse{
		Notifications: notifications,
		Total:         len(notifications),
	})
}

// ClearNotifications очищает журнал уведомлений
//
// DELETE /api/v1/notifications
func (h *NotificationHandler) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	h.notifications.Clear()
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "notifications cleared"})
}
