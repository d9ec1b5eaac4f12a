package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stopguard/internal/api/handlers"
	"stopguard/internal/api/middleware"
	"stopguard/internal/config"
	"stopguard/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	StopLossService     handlers.StopLossServiceInterface
	NotificationService handlers.NotificationServiceInterface
	Hub                 *websocket.Hub
	Auth                config.AuthConfig
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Назначение:
// Центральное место для определения всех API endpoints.
// Регистрирует handlers для каждого маршрута.
// Применяет middleware к группам маршрутов.
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /stoplosses/
//	│   ├── GET / - список правил (?symbol= для фильтра)
//	│   ├── POST / - создать правило
//	│   ├── DELETE /?symbol=X - удалить все правила символа
//	│   ├── GET /{id} - получить правило
//	│   ├── PATCH /{id} - изменить цену срабатывания
//	│   └── DELETE /{id} - удалить правило
//	├── /positions - GET, снимок открытых позиций из кеша
//	├── /status - GET, сводный статус сервиса
//	└── /notifications/
//	    ├── GET / - журнал уведомлений
//	    └── DELETE / - очистить журнал
//
// /ws/stream - WebSocket для real-time уведомлений
// /metrics - prometheus метрики
// /health - health check
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (только для /api/v1)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth(deps.Auth))

	if deps.StopLossService != nil {
		stopLossHandler := handlers.NewStopLossHandler(deps.StopLossService)
		api.HandleFunc("/stoplosses", stopLossHandler.ListStopLosses).Methods("GET")
		api.HandleFunc("/stoplosses", stopLossHandler.CreateStopLoss).Methods("POST")
		api.HandleFunc("/stoplosses", stopLossHandler.DeleteBySymbol).Methods("DELETE")
		api.HandleFunc("/stoplosses/{id}", stopLossHandler.GetStopLoss).Methods("GET")
		api.HandleFunc("/stoplosses/{id}", stopLossHandler.UpdateStopLoss).Methods("PATCH")
		api.HandleFunc("/stoplosses/{id}", stopLossHandler.DeleteStopLoss).Methods("DELETE")

		statusHandler := handlers.NewStatusHandler(deps.StopLossService)
		api.HandleFunc("/positions", statusHandler.GetPositions).Methods("GET")
		api.HandleFunc("/status", statusHandler.GetStatus).Methods("GET")
	}

	if deps.NotificationService != nil {
		notificationHandler := handlers.NewNotificationHandler(deps.NotificationService)
		api.HandleFunc("/notifications", notificationHandler.GetNotifications).Methods("GET")
		api.HandleFunc("/notifications", notificationHandler.ClearNotifications).Methods("DELETE")
	}

	// WebSocket route
	if deps.Hub != nil {
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(deps.Hub, w, r)
		})
	}

	// Prometheus metrics
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
