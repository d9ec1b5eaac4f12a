package utils

import (
	"fmt"
	"time"
)

// time.go - утилиты для работы с таймфреймами и временем биржи
//
// Назначение:
// Вспомогательные функции для преобразования таймфреймов свечей
// и временных меток биржи (миллисекунды Unix).
//
// Функции:
// - ParseTimeframe: таймфрейм ("15m") -> time.Duration
// - IsValidTimeframe: проверка поддерживаемого таймфрейма
// - PollInterval: интервал опроса свечей для таймфрейма
// - MillisToTime / TimeToMillis: конвертация меток биржи
//
// Использование:
// - Мониторы свечей (период опроса, дедупликация по closeTime)
// - REST-клиент биржи (параметры startTime/endTime)

// ============================================================
// Таймфреймы
// ============================================================

// timeframeDurations - поддерживаемые таймфреймы свечей биржи
var timeframeDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// maxPollInterval - верхняя граница интервала опроса свечей
const maxPollInterval = 10 * time.Second

// ParseTimeframe преобразует таймфрейм биржи в time.Duration
//
// Параметры:
//   - timeframe: строка таймфрейма ("1m", "15m", "1h", "1d", ...)
//
// Возвращает: длительность и ошибку для неизвестного таймфрейма
//
// Пример:
//
//	d, err := ParseTimeframe("15m")
//	// d: 15 * time.Minute
func ParseTimeframe(timeframe string) (time.Duration, error) {
	d, ok := timeframeDurations[timeframe]
	if !ok {
		return 0, fmt.Errorf("unknown timeframe: %q", timeframe)
	}
	return d, nil
}

// IsValidTimeframe проверяет, поддерживается ли таймфрейм
func IsValidTimeframe(timeframe string) bool {
	_, ok := timeframeDurations[timeframe]
	return ok
}

// PollInterval возвращает интервал опроса свечей для таймфрейма
//
// Интервал равен 1/6 длительности таймфрейма, но не больше 10 секунд:
// короткие таймфреймы опрашиваются часто, длинные не нагружают биржу.
//
// Пример:
//
//	PollInterval("1m") // 10 * time.Second
//	PollInterval("1h") // 10 * time.Second (1h/6 ограничено сверху)
func PollInterval(timeframe string) time.Duration {
	d, err := ParseTimeframe(timeframe)
	if err != nil {
		return maxPollInterval
	}
	interval := d / 6
	if interval > maxPollInterval {
		return maxPollInterval
	}
	if interval < time.Second {
		return time.Second
	}
	return interval
}

// ============================================================
// Метки времени биржи
// ============================================================

// MillisToTime преобразует метку биржи (миллисекунды Unix) в time.Time UTC
func MillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// TimeToMillis преобразует time.Time в метку биржи (миллисекунды Unix)
func TimeToMillis(t time.Time) int64 {
	return t.UnixMilli()
}
