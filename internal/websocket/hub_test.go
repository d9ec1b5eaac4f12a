package websocket

import (
	"sync"
	"testing"
	"time"

	"stopguard/internal/models"
	"stopguard/pkg/utils"
)

func testLogger() *utils.Logger {
	return utils.InitLogger(utils.LogConfig{Level: "error", Format: "console", Output: "stderr"})
}

func TestNewHub(t *testing.T) {
	hub := NewHub(testLogger())

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.DroppedMessages() != 0 {
		t.Errorf("expected 0 dropped messages, got %d", hub.DroppedMessages())
	}
}

func TestOriginChecker_Check(t *testing.T) {
	checker := &OriginChecker{
		allowedOrigins: map[string]struct{}{
			"http://localhost:3000": {},
			"https://example.com":   {},
		},
		allowAll: false,
	}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},                       // non-browser клиенты
		{"http://localhost:3000", true},  // allowed
		{"https://example.com", true},    // allowed
		{"http://evil.com", false},       // not allowed
		{"http://localhost:8080", false}, // not in list
	}

	for _, tt := range tests {
		got := checker.Check(tt.origin)
		if got != tt.want {
			t.Errorf("Check(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestOriginChecker_AllowAll(t *testing.T) {
	checker := &OriginChecker{allowAll: true}

	origins := []string{
		"http://localhost:3000",
		"https://evil.com",
		"http://anything.example.org",
	}

	for _, origin := range origins {
		if !checker.Check(origin) {
			t.Errorf("allowAll=true but Check(%q) = false", origin)
		}
	}
}

func TestHub_BroadcastNonBlocking(t *testing.T) {
	hub := NewHub(testLogger())
	// Run не запускается: канал переполнится и рассылка должна
	// отбрасывать сообщения, не блокируя издателя

	for i := 0; i < 1000; i++ {
		hub.BroadcastNotification(models.Notification{
			Type:    models.NotificationTypeOrderUpdate,
			Message: "update",
		})
	}

	if hub.DroppedMessages() == 0 {
		t.Error("expected dropped messages with full channel")
	}
}

func TestHub_Stop(t *testing.T) {
	hub := NewHub(testLogger())

	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	hub.Stop()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Error("Hub.Run() did not exit after Stop()")
	}
}

func TestHub_DeliversToClient(t *testing.T) {
	hub := NewHub(testLogger())
	go hub.Run()
	defer hub.Stop()

	client := &Client{
		hub:  hub,
		send: make(chan []byte, clientSendBufferSize),
	}
	hub.register <- client

	hub.BroadcastNotification(models.Notification{
		ID:      7,
		Type:    models.NotificationTypeSLExecuted,
		Message: "stop loss fired",
	})

	select {
	case raw := <-client.send:
		var msg NotificationMessage
		if err := jsonFast.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal broadcast: %v", err)
		}
		if msg.Type != MessageTypeNotification {
			t.Errorf("Type = %s", msg.Type)
		}
		if msg.Data.ID != 7 || msg.Data.Type != models.NotificationTypeSLExecuted {
			t.Errorf("Data = %+v", msg.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("broadcast not delivered")
	}

	hub.unregister <- client
}

func TestHub_RemovesSlowClient(t *testing.T) {
	hub := NewHub(testLogger())
	go hub.Run()
	defer hub.Stop()

	// Клиент с заполненным буфером и без читателя
	client := &Client{
		hub:  hub,
		send: make(chan []byte, 1),
	}
	client.send <- []byte("{}")
	hub.register <- client

	hub.BroadcastRaw([]byte(`{"type":"notification"}`))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("slow client was not removed")
}

func TestNewStatusUpdateMessage(t *testing.T) {
	status := models.EngineStatus{Running: true, StreamState: "connected", ActiveRules: 2}

	msg := NewStatusUpdateMessage(status)
	if msg.Type != MessageTypeStatusUpdate {
		t.Errorf("Type = %s", msg.Type)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
	if !msg.Data.Running || msg.Data.ActiveRules != 2 {
		t.Errorf("Data = %+v", msg.Data)
	}
}

func TestHub_ConcurrentOperations(t *testing.T) {
	hub := NewHub(testLogger())
	go hub.Run()
	defer hub.Stop()

	var wg sync.WaitGroup
	const goroutines = 10
	const operations = 500

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				hub.BroadcastNotification(models.Notification{
					Type:    models.NotificationTypePositionUpdate,
					Message: "update",
				})
			}
		}(i)
	}

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				_ = hub.ClientCount()
			}
		}()
	}

	wg.Wait()
}

// ============================================================
// Benchmarks
// ============================================================

func BenchmarkHub_Broadcast(b *testing.B) {
	hub := NewHub(testLogger())
	go hub.Run()
	defer hub.Stop()

	notif := models.Notification{
		Type:    models.NotificationTypePositionUpdate,
		Symbol:  "BTCUSDT",
		Message: "BTCUSDT LONG: amount 0.5",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.BroadcastNotification(notif)
	}
}

func BenchmarkHub_BroadcastRaw(b *testing.B) {
	hub := NewHub(testLogger())
	go hub.Run()
	defer hub.Stop()

	data := []byte(`{"type":"notification","data":{"id":1}}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.BroadcastRaw(data)
	}
}

func BenchmarkOriginChecker_Check(b *testing.B) {
	for i := 0; i < b.N; i++ {
		originChecker.Check("http://localhost:3000")
	}
}
