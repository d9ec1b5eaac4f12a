package utils

import (
	"fmt"
	"regexp"
	"strings"
)

// validator.go - валидация данных
//
// Назначение:
// Проверка корректности входных данных API и конфигурации.
//
// Функции:
// - ValidateSymbol: проверка формата символа (BTCUSDT)
// - NormalizeSymbol: приведение символа к каноническому виду
// - ValidateTimeframe: проверка таймфрейма свечей
// - ValidateSide: проверка стороны позиции (LONG/SHORT)
// - ValidateStopPrice: проверка стоп-цены (> 0)
// - ValidateQuantity: проверка количества (> 0)
// - ValidateAPIKey / ValidateAPISecret: базовая проверка ключей биржи
//
// Возвращает error с описанием проблемы или nil

// symbolRegex - допустимые символы после нормализации
var symbolRegex = regexp.MustCompile(`^[A-Z0-9]{2,30}$`)

// apiKeyRegex - допустимые символы API ключа
var apiKeyRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{16,}$`)

// ============================================================
// Символы
// ============================================================

// ValidateSymbol проверяет формат торгового символа
//
// Допускаются буквы, цифры и разделители (-, _, /),
// длина после нормализации от 2 до 30 символов.
func ValidateSymbol(symbol string) error {
	normalized := NormalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("symbol is empty")
	}
	if !symbolRegex.MatchString(normalized) {
		return fmt.Errorf("invalid symbol format: %q", symbol)
	}
	return nil
}

// NormalizeSymbol приводит символ к каноническому виду биржи
//
// Пример:
//
//	NormalizeSymbol("btc-usdt") // "BTCUSDT"
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.NewReplacer("-", "", "_", "", "/", "").Replace(s)
	return s
}

// ============================================================
// Параметры стоп-лосса
// ============================================================

// ValidateTimeframe проверяет таймфрейм свечей
func ValidateTimeframe(timeframe string) error {
	if timeframe == "" {
		return fmt.Errorf("timeframe is empty")
	}
	if !IsValidTimeframe(timeframe) {
		return fmt.Errorf("unsupported timeframe: %q", timeframe)
	}
	return nil
}

// ValidateSide проверяет сторону позиции
//
// Допустимые значения: LONG, SHORT (без учета регистра)
func ValidateSide(side string) error {
	switch strings.ToUpper(strings.TrimSpace(side)) {
	case "LONG", "SHORT":
		return nil
	default:
		return fmt.Errorf("invalid side: %q (expected LONG or SHORT)", side)
	}
}

// NormalizeSide приводит сторону позиции к каноническому виду
func NormalizeSide(side string) string {
	return strings.ToUpper(strings.TrimSpace(side))
}

// ValidateStopPrice проверяет стоп-цену
func ValidateStopPrice(price float64) error {
	if price <= 0 {
		return fmt.Errorf("stop price must be positive, got %v", price)
	}
	if price >= 1e12 {
		return fmt.Errorf("stop price too large: %v", price)
	}
	return nil
}

// ValidateQuantity проверяет количество
func ValidateQuantity(quantity float64) error {
	if quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %v", quantity)
	}
	if quantity >= 1e9 {
		return fmt.Errorf("quantity too large: %v", quantity)
	}
	return nil
}

// ============================================================
// Ключи биржи
// ============================================================

// ValidateAPIKey выполняет базовую проверку API ключа биржи
//
// Проверяется только минимальная длина и допустимые символы:
// настоящая проверка выполняется самой биржей при первом запросе.
func ValidateAPIKey(apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("api key is empty")
	}
	if !apiKeyRegex.MatchString(apiKey) {
		return fmt.Errorf("invalid api key format")
	}
	return nil
}

// ValidateAPISecret выполняет базовую проверку секрета API
func ValidateAPISecret(secret string) error {
	if secret == "" {
		return fmt.Errorf("api secret is empty")
	}
	if len(secret) < 16 {
		return fmt.Errorf("api secret too short")
	}
	return nil
}
