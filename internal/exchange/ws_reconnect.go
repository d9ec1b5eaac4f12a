package exchange

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"stopguard/pkg/utils"
)

// WSReconnectConfig конфигурация переподключения WebSocket
type WSReconnectConfig struct {
	// Начальная задержка перед переподключением
	InitialDelay time.Duration
	// Максимальная задержка (после exponential backoff)
	MaxDelay time.Duration
	// Множитель роста задержки
	Multiplier float64
	// Таймаут подключения
	ConnectTimeout time.Duration
	// Интервал ping для проверки соединения
	PingInterval time.Duration
	// Таймаут чтения: без данных и pong'ов дольше этого - разрыв
	ReadTimeout time.Duration
}

// DefaultWSReconnectConfig возвращает конфигурацию по умолчанию
//
// Задержки 5s, 7.5s, 11.25s, ... с потолком 60s. После успешного
// подключения задержка сбрасывается к начальной.
func DefaultWSReconnectConfig() WSReconnectConfig {
	return WSReconnectConfig{
		InitialDelay:   5 * time.Second,
		MaxDelay:       60 * time.Second,
		Multiplier:     1.5,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   15 * time.Second,
		ReadTimeout:    60 * time.Second,
	}
}

// WSConnectionState состояние WebSocket соединения
type WSConnectionState int32

const (
	WSStateDisconnected WSConnectionState = iota
	WSStateConnecting
	WSStateConnected
	WSStateReconnecting
	WSStateClosed
)

func (s WSConnectionState) String() string {
	switch s {
	case WSStateDisconnected:
		return "disconnected"
	case WSStateConnecting:
		return "connecting"
	case WSStateConnected:
		return "connected"
	case WSStateReconnecting:
		return "reconnecting"
	case WSStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WSReconnectManager управляет WebSocket соединением с автоматическим переподключением
//
// Назначение:
// Обеспечивает надёжное подключение к user-data stream биржи,
// автоматически переподключаясь при разрывах с exponential backoff.
//
// Функции:
// - URL запрашивается заново перед каждым подключением: listen key
//   мог протухнуть, пока соединение лежало
// - Exponential backoff со сбросом после успешного подключения
// - Ping/Pong и read deadline для обнаружения мёртвых соединений
// - Callbacks для уведомления о событиях (connect, disconnect, message)
//
// Использование:
// 1. Создать manager: NewWSReconnectManager(urlFunc, config, log)
// 2. Установить handlers: SetOnMessage, SetOnConnect, SetOnDisconnect
// 3. Подключиться: Connect()
// 4. Закрыть: Close()
type WSReconnectManager struct {
	// urlFunc возвращает URL подключения; вызывается перед каждым
	// dial, чтобы получить свежий listen key
	urlFunc func(ctx context.Context) (string, error)

	config WSReconnectConfig
	log    *utils.Logger

	// WebSocket соединение
	conn   *websocket.Conn
	connMu sync.RWMutex

	// Состояние
	state int32 // atomic WSConnectionState

	// Счётчик попыток переподключения
	retryCount int32 // atomic

	closeChan chan struct{}

	// Callbacks
	onMessage    func([]byte)
	onConnect    func(reconnected bool)
	onDisconnect func(error)
	callbackMu   sync.RWMutex
}

// NewWSReconnectManager создаёт новый менеджер переподключений
func NewWSReconnectManager(urlFunc func(ctx context.Context) (string, error), config WSReconnectConfig, log *utils.Logger) *WSReconnectManager {
	return &WSReconnectManager{
		urlFunc:   urlFunc,
		config:    config,
		log:       log.WithComponent("ws"),
		closeChan: make(chan struct{}),
	}
}

// SetOnMessage устанавливает callback для входящих сообщений
func (m *WSReconnectManager) SetOnMessage(handler func([]byte)) {
	m.callbackMu.Lock()
	m.onMessage = handler
	m.callbackMu.Unlock()
}

// SetOnConnect устанавливает callback для события подключения
// reconnected = false для первого подключения
func (m *WSReconnectManager) SetOnConnect(handler func(reconnected bool)) {
	m.callbackMu.Lock()
	m.onConnect = handler
	m.callbackMu.Unlock()
}

// SetOnDisconnect устанавливает callback для события отключения
func (m *WSReconnectManager) SetOnDisconnect(handler func(error)) {
	m.callbackMu.Lock()
	m.onDisconnect = handler
	m.callbackMu.Unlock()
}

// GetState возвращает текущее состояние соединения
func (m *WSReconnectManager) GetState() WSConnectionState {
	return WSConnectionState(atomic.LoadInt32(&m.state))
}

// IsConnected проверяет, установлено ли соединение
func (m *WSReconnectManager) IsConnected() bool {
	return m.GetState() == WSStateConnected
}

// GetRetryCount возвращает текущее количество попыток переподключения
func (m *WSReconnectManager) GetRetryCount() int {
	return int(atomic.LoadInt32(&m.retryCount))
}

// Connect устанавливает WebSocket соединение
func (m *WSReconnectManager) Connect() error {
	select {
	case <-m.closeChan:
		return fmt.Errorf("manager is closed")
	default:
	}

	atomic.StoreInt32(&m.state, int32(WSStateConnecting))

	if err := m.dial(); err != nil {
		atomic.StoreInt32(&m.state, int32(WSStateDisconnected))
		return err
	}

	m.becomeConnected(false)
	return nil
}

// becomeConnected фиксирует успешное подключение и запускает pumps
func (m *WSReconnectManager) becomeConnected(reconnected bool) {
	atomic.StoreInt32(&m.state, int32(WSStateConnected))
	atomic.StoreInt32(&m.retryCount, 0)

	m.callbackMu.RLock()
	onConnect := m.onConnect
	m.callbackMu.RUnlock()

	if onConnect != nil {
		onConnect(reconnected)
	}

	go m.readPump()
	go m.pingPump()

	m.log.Info("websocket connected", utils.Bool("reconnected", reconnected))
}

// dial выполняет подключение к WebSocket
func (m *WSReconnectManager) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.ConnectTimeout)
	defer cancel()

	wsURL, err := m.urlFunc(ctx)
	if err != nil {
		return fmt.Errorf("resolve stream url: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: m.config.ConnectTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial error: %w", err)
	}

	// Read deadline продлевается каждым фреймом и pong'ом
	conn.SetReadDeadline(time.Now().Add(m.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(m.config.ReadTimeout))
		return nil
	})

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	return nil
}

// readPump читает сообщения из WebSocket
func (m *WSReconnectManager) readPump() {
	for {
		select {
		case <-m.closeChan:
			return
		default:
		}

		m.connMu.RLock()
		conn := m.conn
		m.connMu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(m.config.ReadTimeout))

		m.callbackMu.RLock()
		onMessage := m.onMessage
		m.callbackMu.RUnlock()

		if onMessage != nil {
			onMessage(message)
		}
	}
}

// pingPump отправляет ping для проверки соединения
func (m *WSReconnectManager) pingPump() {
	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.closeChan:
			return
		case <-ticker.C:
			m.connMu.RLock()
			conn := m.conn
			m.connMu.RUnlock()

			if conn == nil || m.GetState() != WSStateConnected {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(m.config.PingInterval))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				m.log.Warn("ping failed", utils.Err(err))
				m.handleDisconnect(err)
				return
			}
		}
	}
}

// handleDisconnect обрабатывает разрыв соединения
func (m *WSReconnectManager) handleDisconnect(err error) {
	select {
	case <-m.closeChan:
		return
	default:
	}

	// Избегаем повторной обработки
	state := m.GetState()
	if state == WSStateReconnecting || state == WSStateClosed {
		return
	}

	atomic.StoreInt32(&m.state, int32(WSStateReconnecting))

	m.connMu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connMu.Unlock()

	m.callbackMu.RLock()
	onDisconnect := m.onDisconnect
	m.callbackMu.RUnlock()

	if onDisconnect != nil {
		onDisconnect(err)
	}

	if err != nil {
		m.log.Warn("websocket disconnected", utils.Err(err))
	}

	go m.reconnectLoop()
}

// reconnectLoop выполняет переподключение с exponential backoff
//
// Попытки не ограничены: сервис без stream'а бесполезен, поэтому
// переподключение продолжается до Close().
func (m *WSReconnectManager) reconnectLoop() {
	delay := m.config.InitialDelay

	for {
		select {
		case <-m.closeChan:
			return
		default:
		}

		retryCount := atomic.AddInt32(&m.retryCount, 1)
		m.log.Info("reconnecting",
			utils.Dur("delay", delay),
			utils.Int("attempt", int(retryCount)))

		select {
		case <-m.closeChan:
			return
		case <-time.After(delay):
		}

		if err := m.dial(); err != nil {
			m.log.Warn("reconnect failed", utils.Err(err))

			delay = time.Duration(float64(delay) * m.config.Multiplier)
			if delay > m.config.MaxDelay {
				delay = m.config.MaxDelay
			}
			continue
		}

		m.becomeConnected(true)
		return
	}
}

// Drop принудительно разрывает соединение и запускает переподключение
//
// Используется при событии listenKeyExpired: новый dial получит
// свежий listen key через urlFunc.
func (m *WSReconnectManager) Drop(err error) {
	m.handleDisconnect(err)
}

// Close закрывает WebSocket соединение и останавливает переподключение
func (m *WSReconnectManager) Close() error {
	select {
	case <-m.closeChan:
		return nil
	default:
		close(m.closeChan)
	}

	atomic.StoreInt32(&m.state, int32(WSStateClosed))

	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.conn != nil {
		err := m.conn.Close()
		m.conn = nil
		return err
	}

	return nil
}
