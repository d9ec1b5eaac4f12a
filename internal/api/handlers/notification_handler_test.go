package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"stopguard/internal/exchange"
	"stopguard/internal/models"
)

func TestGetNotifications(t *testing.T) {
	service := &mockNotificationService{
		notifications: []models.Notification{
			{ID: 1, Type: models.NotificationTypePositionUpdate},
			{ID: 2, Type: models.NotificationTypeSLExecuted},
			{ID: 3, Type: models.NotificationTypeSLExecuted},
		},
	}
	h := NewNotificationHandler(service)

	tests := []struct {
		name      string
		query     string
		wantTotal int
	}{
		{"all", "", 3},
		{"filtered", "?types=sl_executed", 2},
		{"limited", "?limit=1", 1},
		{"unknown type", "?types=no_such", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/notifications"+tt.query, nil)
			rec := httptest.NewRecorder()
			h.GetNotifications(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}

			var resp GetNotificationsResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", resp.Total, tt.wantTotal)
			}
		})
	}
}

func TestClearNotifications(t *testing.T) {
	service := &mockNotificationService{
		notifications: []models.Notification{{ID: 1, Type: models.NotificationTypeOrderUpdate}},
	}
	h := NewNotificationHandler(service)

	req := httptest.NewRequest("DELETE", "/notifications", nil)
	rec := httptest.NewRecorder()
	h.ClearNotifications(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !service.cleared {
		t.Error("Clear not called")
	}
}

func TestGetStatus(t *testing.T) {
	service := newMockStopLossService()
	service.status = models.EngineStatus{
		Running:     true,
		StreamState: "connected",
		ActiveRules: 3,
		Monitors:    2,
	}
	h := NewStatusHandler(service)

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	h.GetStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var status models.EngineStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !status.Running || status.StreamState != "connected" || status.ActiveRules != 3 {
		t.Errorf("status = %+v", status)
	}
}

func TestGetPositions(t *testing.T) {
	service := newMockStopLossService()
	service.positions = []exchange.Position{
		{Symbol: "BTCUSDT", Side: "LONG", Amount: 0.5, EntryPrice: 50000},
	}
	h := NewStatusHandler(service)

	req := httptest.NewRequest("GET", "/positions", nil)
	rec := httptest.NewRecorder()
	h.GetPositions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp GetPositionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 1 || resp.Positions[0].Symbol != "BTCUSDT" {
		t.Errorf("response = %+v", resp)
	}
}

func TestGetPositions_Empty(t *testing.T) {
	h := NewStatusHandler(newMockStopLossService())

	req := httptest.NewRequest("GET", "/positions", nil)
	rec := httptest.NewRecorder()
	h.GetPositions(rec, req)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(raw["positions"]) != "[]" {
		t.Errorf("positions = %s, want []", raw["positions"])
	}
}
