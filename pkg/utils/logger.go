package utils

// logger.go - структурированное логирование на базе zap
//
// Назначение:
// Единая точка инициализации и доступа к логгеру для всех компонентов.
//
// Функции:
// - InitLogger: создать logger по конфигурации
//   * Форматы: JSON (production), text/console (development)
//   * Уровни: DEBUG, INFO, WARN, ERROR, FATAL
//   * Вывод в файл или stderr (fallback на stderr при ошибке открытия файла)
// - Глобальный логгер: InitGlobalLogger / GetGlobalLogger / L
// - Доменные конструкторы полей: Exchange, Symbol, RuleID, Timeframe, ...
//
// Использование:
//
//	log := utils.InitGlobalLogger(utils.LogConfig{Level: "info", Format: "json"})
//	log.Info("stream connected", utils.Exchange("binance"))
//	utils.L().WithComponent("engine").Warn("sweep failed", utils.Err(err))

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig - конфигурация логгера
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json или text
	Output      string // путь к файлу; пусто = stderr
	Development bool   // режим разработки (caller, stacktrace на warn)
}

// Logger оборачивает zap.Logger и его sugared-вариант
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

// parseLevel преобразует строковый уровень в zapcore.Level
// Неизвестные значения трактуются как info
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitLogger создаёт новый логгер по конфигурации
//
// Никогда не возвращает nil и не паникует: при ошибке открытия файла
// вывод направляется в stderr.
func InitLogger(cfg LogConfig) *Logger {
	level := parseLevel(cfg.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Development {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "text", "console":
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	default:
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	// Вывод: файл или stderr (fallback на stderr при ошибке)
	sink := zapcore.AddSync(os.Stderr)
	if cfg.Output != "" {
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			sink = zapcore.AddSync(file)
		}
	}

	core := zapcore.NewCore(encoder, sink, level)

	opts := []zap.Option{}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddCaller())
	}

	zl := zap.New(core, opts...)
	return &Logger{
		Logger: zl,
		sugar:  zl.Sugar(),
	}
}

// With возвращает новый логгер с добавленными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	zl := l.Logger.With(fields...)
	return &Logger{
		Logger: zl,
		sugar:  zl.Sugar(),
	}
}

// WithComponent возвращает логгер с полем component
func (l *Logger) WithComponent(component string) *Logger {
	return l.With(Component(component))
}

// WithExchange возвращает логгер с полем exchange
func (l *Logger) WithExchange(exchange string) *Logger {
	return l.With(Exchange(exchange))
}

// WithSymbol возвращает логгер с полем symbol
func (l *Logger) WithSymbol(symbol string) *Logger {
	return l.With(Symbol(symbol))
}

// WithRuleID возвращает логгер с полем rule_id
func (l *Logger) WithRuleID(id int64) *Logger {
	return l.With(RuleID(id))
}

// Sugar возвращает sugared-логгер для printf-style логирования
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============================================================
// Глобальный логгер
// ============================================================

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// InitGlobalLogger инициализирует глобальный логгер и возвращает его
func InitGlobalLogger(cfg LogConfig) *Logger {
	logger := InitLogger(cfg)
	SetGlobalLogger(logger)
	return logger
}

// SetGlobalLogger устанавливает глобальный логгер
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// GetGlobalLogger возвращает глобальный логгер
// Если логгер не инициализирован, создаёт логгер по умолчанию (info, json)
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	logger := globalLogger
	globalMu.RUnlock()

	if logger != nil {
		return logger
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// L - короткий алиас для GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// ============================================================
// Глобальные функции логирования
// ============================================================

// Debug логирует сообщение уровня debug через глобальный логгер
func Debug(msg string, fields ...zap.Field) {
	GetGlobalLogger().Logger.Debug(msg, fields...)
}

// Info логирует сообщение уровня info через глобальный логгер
func Info(msg string, fields ...zap.Field) {
	GetGlobalLogger().Logger.Info(msg, fields...)
}

// Warn логирует сообщение уровня warn через глобальный логгер
func Warn(msg string, fields ...zap.Field) {
	GetGlobalLogger().Logger.Warn(msg, fields...)
}

// Error логирует сообщение уровня error через глобальный логгер
func Error(msg string, fields ...zap.Field) {
	GetGlobalLogger().Logger.Error(msg, fields...)
}

// Fatal логирует сообщение и завершает процесс
func Fatal(msg string, fields ...zap.Field) {
	GetGlobalLogger().Logger.Fatal(msg, fields...)
}

// Debugf логирует форматированное сообщение уровня debug
func Debugf(format string, args ...interface{}) {
	GetGlobalLogger().sugar.Debugf(format, args...)
}

// Infof логирует форматированное сообщение уровня info
func Infof(format string, args ...interface{}) {
	GetGlobalLogger().sugar.Infof(format, args...)
}

// Warnf логирует форматированное сообщение уровня warn
func Warnf(format string, args ...interface{}) {
	GetGlobalLogger().sugar.Warnf(format, args...)
}

// Errorf логирует форматированное сообщение уровня error
func Errorf(format string, args ...interface{}) {
	GetGlobalLogger().sugar.Errorf(format, args...)
}

// Fatalf логирует форматированное сообщение и завершает процесс
func Fatalf(format string, args ...interface{}) {
	GetGlobalLogger().sugar.Fatalf(format, args...)
}

// ============================================================
// Доменные конструкторы полей
// ============================================================

// Exchange - поле с именем биржи
func Exchange(name string) zap.Field {
	return zap.String("exchange", name)
}

// Symbol - поле с торговым символом
func Symbol(symbol string) zap.Field {
	return zap.String("symbol", symbol)
}

// RuleID - поле с ID стоп-правила
func RuleID(id int64) zap.Field {
	return zap.Int64("rule_id", id)
}

// OrderID - поле с ID биржевого ордера
func OrderID(id int64) zap.Field {
	return zap.Int64("order_id", id)
}

// Price - поле с ценой
func Price(price float64) zap.Field {
	return zap.Float64("price", price)
}

// StopPrice - поле с ценой срабатывания стопа
func StopPrice(price float64) zap.Field {
	return zap.Float64("stop_price", price)
}

// Quantity - поле с количеством
func Quantity(qty float64) zap.Field {
	return zap.Float64("quantity", qty)
}

// Timeframe - поле с периодом свечи
func Timeframe(tf string) zap.Field {
	return zap.String("timeframe", tf)
}

// Side - поле с направлением позиции (LONG/SHORT)
func Side(side string) zap.Field {
	return zap.String("side", side)
}

// State - поле с состоянием (для state machine)
func State(state string) zap.Field {
	return zap.String("state", state)
}

// Latency - поле с латентностью в миллисекундах
func Latency(ms float64) zap.Field {
	return zap.Float64("latency_ms", ms)
}

// RequestID - поле с ID запроса
func RequestID(id string) zap.Field {
	return zap.String("request_id", id)
}

// Component - поле с именем компонента
func Component(name string) zap.Field {
	return zap.String("component", name)
}

// ============================================================
// Переэкспорт стандартных конструкторов zap
// ============================================================

var (
	String  = zap.String
	Int     = zap.Int
	Int64   = zap.Int64
	Float64 = zap.Float64
	Bool    = zap.Bool
	Err     = zap.Error
	Any     = zap.Any
	Dur     = zap.Duration
)

// fieldsToInterface преобразует zap.Field в плоский срез пар ключ/значение
// Используется для передачи полей в sugared-логгер
func fieldsToInterface(fields []zap.Field) []interface{} {
	result := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		result = append(result, f.Key, f.Interface)
	}
	return result
}
