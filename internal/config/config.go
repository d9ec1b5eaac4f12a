package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Binance  BinanceConfig
	Stream   StreamConfig
	Engine   EngineConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// AuthConfig - Basic-auth для HTTP API
//
// Пароль хранится только как bcrypt хеш: plaintext в конфигурации
// не появляется нигде.
type AuthConfig struct {
	Enabled      bool
	User         string
	PasswordHash string // bcrypt
}

// BinanceConfig - доступ к API биржи
type BinanceConfig struct {
	APIKey         string
	APISecret      string
	BaseURL        string
	WSBaseURL      string
	RecvWindow     time.Duration // допуск рассинхронизации часов для подписанных запросов
	RequestTimeout time.Duration
	RateLimit      float64 // weight/sec
	RateBurst      float64
}

// StreamConfig - user-data stream и reconnect
type StreamConfig struct {
	ReconnectDelayMin time.Duration // стартовая задержка переподключения
	ReconnectDelayMax time.Duration // потолок экспоненциального роста
	ReconcileDelay    time.Duration // пауза после reconnect перед сверкой REST
	ListenKeyRenew    time.Duration // период продления listen key
	ReadTimeout       time.Duration
	PingInterval      time.Duration
}

// EngineConfig - циклы движка стоп-лоссов
type EngineConfig struct {
	SweepInterval     time.Duration // сверка правил с открытыми позициями
	DiscoveryInterval time.Duration // обнаружение новых групп мониторинга
	ReportInterval    time.Duration // коалесинг сводных отчётов
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Output      string
	Development bool
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "stopguard"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Auth: AuthConfig{
			Enabled:      getEnvAsBool("API_AUTH_ENABLED", false),
			User:         getEnv("API_AUTH_USER", "admin"),
			PasswordHash: getEnv("API_AUTH_PASSWORD_HASH", ""),
		},
		Binance: BinanceConfig{
			APIKey:         getEnv("BINANCE_API_KEY", ""),
			APISecret:      getEnv("BINANCE_API_SECRET", ""),
			BaseURL:        getEnv("BINANCE_BASE_URL", "https://fapi.binance.com"),
			WSBaseURL:      getEnv("BINANCE_WS_URL", "wss://fstream.binance.com"),
			RecvWindow:     getEnvAsDuration("BINANCE_RECV_WINDOW", 5*time.Second),
			RequestTimeout: getEnvAsDuration("BINANCE_REQUEST_TIMEOUT", 10*time.Second),
			RateLimit:      getEnvAsFloat("BINANCE_RATE_LIMIT", 40), // 2400 weight/min
			RateBurst:      getEnvAsFloat("BINANCE_RATE_BURST", 80),
		},
		Stream: StreamConfig{
			ReconnectDelayMin: getEnvAsDuration("STREAM_RECONNECT_MIN", 5*time.Second),
			ReconnectDelayMax: getEnvAsDuration("STREAM_RECONNECT_MAX", 60*time.Second),
			ReconcileDelay:    getEnvAsDuration("STREAM_RECONCILE_DELAY", 2*time.Second),
			ListenKeyRenew:    getEnvAsDuration("STREAM_LISTENKEY_RENEW", 30*time.Minute),
			ReadTimeout:       getEnvAsDuration("STREAM_READ_TIMEOUT", 60*time.Second),
			PingInterval:      getEnvAsDuration("STREAM_PING_INTERVAL", 15*time.Second),
		},
		Engine: EngineConfig{
			SweepInterval:     getEnvAsDuration("ENGINE_SWEEP_INTERVAL", 30*time.Second),
			DiscoveryInterval: getEnvAsDuration("ENGINE_DISCOVERY_INTERVAL", 5*time.Second),
			ReportInterval:    getEnvAsDuration("ENGINE_REPORT_INTERVAL", 8*time.Second),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Output:      getEnv("LOG_OUTPUT", "stdout"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	if err := cfg.validateCredentials(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateCredentials проверяет учётные данные биржи и API
func (c *Config) validateCredentials() error {
	if c.Binance.APIKey == "" {
		return fmt.Errorf("BINANCE_API_KEY is required")
	}

	if c.Binance.APISecret == "" {
		return fmt.Errorf("BINANCE_API_SECRET is required")
	}

	// Basic-auth без хеша пароля бесполезен
	if c.Auth.Enabled && c.Auth.PasswordHash == "" {
		return fmt.Errorf("API_AUTH_PASSWORD_HASH is required when API_AUTH_ENABLED=true")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Binance.RequestTimeout <= 0 {
		return fmt.Errorf("BINANCE_REQUEST_TIMEOUT must be positive, got %v", c.Binance.RequestTimeout)
	}

	if c.Binance.RecvWindow <= 0 || c.Binance.RecvWindow > time.Minute {
		return fmt.Errorf("BINANCE_RECV_WINDOW must be in (0, 1m], got %v", c.Binance.RecvWindow)
	}

	if c.Stream.ReconnectDelayMin <= 0 {
		return fmt.Errorf("STREAM_RECONNECT_MIN must be positive, got %v", c.Stream.ReconnectDelayMin)
	}

	if c.Stream.ReconnectDelayMax < c.Stream.ReconnectDelayMin {
		return fmt.Errorf("STREAM_RECONNECT_MAX (%v) must be >= STREAM_RECONNECT_MIN (%v)",
			c.Stream.ReconnectDelayMax, c.Stream.ReconnectDelayMin)
	}

	if c.Stream.ListenKeyRenew <= 0 || c.Stream.ListenKeyRenew >= 60*time.Minute {
		// listen key живёт 60 минут, продление должно успевать
		return fmt.Errorf("STREAM_LISTENKEY_RENEW must be in (0, 60m), got %v", c.Stream.ListenKeyRenew)
	}

	if c.Engine.SweepInterval <= 0 {
		return fmt.Errorf("ENGINE_SWEEP_INTERVAL must be positive, got %v", c.Engine.SweepInterval)
	}

	if c.Engine.DiscoveryInterval <= 0 {
		return fmt.Errorf("ENGINE_DISCOVERY_INTERVAL must be positive, got %v", c.Engine.DiscoveryInterval)
	}

	if c.Engine.ReportInterval <= 0 {
		return fmt.Errorf("ENGINE_REPORT_INTERVAL must be positive, got %v", c.Engine.ReportInterval)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
