package utils

import (
	"math"
	"strconv"
	"strings"
)

// math.go - математические утилиты для торговых операций
//
// Назначение:
// Вспомогательные функции для формирования ордеров закрытия позиций.
// Все функции являются чистыми (pure functions) без побочных эффектов.
//
// Функции:
// - RoundToStepSize: округление количества до шага биржи
// - FormatQuantity: формат количества для параметров запроса
// - Abs / Clamp: базовые операции

// RoundToStepSize округляет значение ВНИЗ до ближайшего кратного stepSize.
//
// Используется для округления количества ордера до минимального шага биржи.
// Округление вниз гарантирует, что количество не превысит размер позиции.
//
// Параметры:
//   - value: исходное количество (в монетах актива)
//   - stepSize: минимальный шаг изменения количества на бирже
//
// Возвращает:
//   - Округлённое значение, кратное stepSize
//   - Если stepSize <= 0, возвращает исходное значение
//
// Примеры:
//   - RoundToStepSize(0.123456, 0.001) = 0.123
//   - RoundToStepSize(1.999, 0.01) = 1.99
func RoundToStepSize(value, stepSize float64) float64 {
	if stepSize <= 0 {
		return value
	}
	return math.Floor(value/stepSize) * stepSize
}

// FormatQuantity форматирует количество для параметра запроса биржи.
//
// Биржа отклоняет значения в экспоненциальной записи, поэтому
// используется фиксированный формат с обрезкой хвостовых нулей.
//
// Примеры:
//   - FormatQuantity(0.5000) = "0.5"
//   - FormatQuantity(100) = "100"
//   - FormatQuantity(0.00150) = "0.0015"
func FormatQuantity(quantity float64) string {
	s := strconv.FormatFloat(quantity, 'f', 8, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

// Abs возвращает абсолютное значение
func Abs(x float64) float64 {
	return math.Abs(x)
}

// Clamp ограничивает значение диапазоном [min, max]
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
