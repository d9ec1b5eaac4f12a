package exchange

import (
	"errors"
	"fmt"
	"time"
)

// Ошибки клиента
var (
	// ErrPositionNotFound - позиция не найдена на бирже
	ErrPositionNotFound = errors.New("position not found")
	// ErrOrderRejected - биржа отклонила ордер
	ErrOrderRejected = errors.New("order rejected by exchange")
)

// APIError представляет ошибку REST API биржи
//
// Retryable() определяет, имеет ли смысл повторять запрос:
// rate limit и ошибки 5xx временные, ошибки валидации - нет.
// RetryAfter() отдаёт задержку из заголовка Retry-After, если
// биржа её прислала (pkg/retry учитывает её при backoff).
type APIError struct {
	Status     int           // HTTP статус
	Code       int           // код ошибки биржи (например -1021)
	Message    string        // текст ошибки биржи
	RetryDelay time.Duration // из заголовка Retry-After, 0 если нет
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange api error: status=%d code=%d msg=%s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("exchange api error: status=%d msg=%s", e.Status, e.Message)
}

// Retryable сообщает, временная ли это ошибка
//
// Биржа документирует 429 (rate limit) и 5xx как повторяемые;
// 418 означает бан по IP - повтор только ухудшит ситуацию.
func (e *APIError) Retryable() bool {
	switch e.Status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// RetryAfter возвращает задержку, запрошенную сервером
func (e *APIError) RetryAfter() time.Duration {
	return e.RetryDelay
}

// IsRateLimited проверяет, является ли ошибка rate limit'ом
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 429
}
