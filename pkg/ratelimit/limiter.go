package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter - Token Bucket rate limiter для контроля частоты запросов к API биржи
//
// Алгоритм Token Bucket:
// - Ведро наполняется токенами с постоянной скоростью (rate токенов/сек)
// - Максимальная ёмкость ведра = burst (позволяет короткие всплески)
// - Запрос потребляет столько токенов, сколько весит endpoint
// - Если токенов нет, запрос ждёт или отклоняется
//
// Биржа считает лимиты в единицах веса запроса (request weight):
// у futures API лимит 2400 weight/min = 40 weight/sec. Лёгкие
// endpoint'ы (klines, time) весят 1-5, тяжёлые (account) до 20.
//
// Использование:
//
//	limiter := NewRateLimiter(40, 80)      // 40 weight/sec, burst 80
//	err := limiter.WaitN(ctx, 5)           // запрос весом 5
//	if limiter.Allow() { ... }             // неблокирующая проверка
type RateLimiter struct {
	rate       float64   // токенов в секунду
	burst      float64   // максимальная ёмкость (burst capacity)
	tokens     float64   // текущее количество токенов
	lastRefill time.Time // время последнего пополнения
	mu         sync.Mutex
}

// NewRateLimiter создаёт новый rate limiter
//
// Параметры:
//   - rate: пополнение в секунду (weight/sec для REST биржи)
//   - burst: максимальный burst (обычно 1.5-2x от rate)
func NewRateLimiter(rate, burst float64) *RateLimiter {
	if rate <= 0 {
		rate = 10 // дефолт 10 токенов/сек
	}
	if burst <= 0 {
		burst = rate * 2 // дефолт burst = 2x rate
	}
	if burst < rate {
		burst = rate
	}

	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst, // начинаем с полным ведром
		lastRefill: time.Now(),
	}
}

// refill пополняет токены на основе прошедшего времени
// ВАЖНО: вызывается под lock'ом
func (rl *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()

	rl.tokens += elapsed * rl.rate

	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}

	rl.lastRefill = now
}

// Wait блокирует до получения одного токена или отмены контекста
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.WaitN(ctx, 1)
}

// WaitN блокирует до получения n токенов или отмены контекста
//
// n соответствует весу endpoint'а биржи.
//
// Возвращает:
//   - nil: токены получены, можно выполнять запрос
//   - ctx.Err(): контекст отменён (timeout или cancel)
//
// Пример:
//
//	if err := limiter.WaitN(ctx, 5); err != nil {
//	    return err // timeout
//	}
//	// выполняем запрос к бирже
func (rl *RateLimiter) WaitN(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	need := float64(n)
	if need > rl.burst {
		need = rl.burst // иначе запрос не выполнится никогда
	}

	for {
		rl.mu.Lock()
		rl.refill()

		if rl.tokens >= need {
			rl.tokens -= need
			rl.mu.Unlock()
			return nil
		}

		// Вычисляем время ожидания до нужного количества токенов
		waitTime := time.Duration((need - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		select {
		case <-time.After(waitTime):
			// Повторяем попытку получить токены
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Allow проверяет доступность токена без блокировки
func (rl *RateLimiter) Allow() bool {
	return rl.AllowN(1)
}

// AllowN проверяет доступность n токенов без блокировки
//
// Возвращает:
//   - true: токены списаны, можно выполнять запрос
//   - false: токенов недостаточно, запрос нужно отложить
func (rl *RateLimiter) AllowN(n int) bool {
	if n <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()

	if rl.tokens >= float64(n) {
		rl.tokens -= float64(n)
		return true
	}

	return false
}

// Tokens возвращает текущее количество доступных токенов
// Полезно для мониторинга и отладки
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

// Rate возвращает скорость пополнения токенов (токенов/сек)
func (rl *RateLimiter) Rate() float64 {
	return rl.rate
}

// Burst возвращает максимальную ёмкость (burst capacity)
func (rl *RateLimiter) Burst() float64 {
	return rl.burst
}
