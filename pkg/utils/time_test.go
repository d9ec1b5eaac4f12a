package utils

import (
	"testing"
	"time"
)

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		name      string
		timeframe string
		want      time.Duration
		wantErr   bool
	}{
		{"1m", "1m", time.Minute, false},
		{"5m", "5m", 5 * time.Minute, false},
		{"15m", "15m", 15 * time.Minute, false},
		{"1h", "1h", time.Hour, false},
		{"4h", "4h", 4 * time.Hour, false},
		{"1d", "1d", 24 * time.Hour, false},
		{"1w", "1w", 7 * 24 * time.Hour, false},
		{"unknown 7m", "7m", 0, true},
		{"empty", "", 0, true},
		{"uppercase", "1H", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimeframe(tt.timeframe)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimeframe(%q) error = %v, wantErr %v", tt.timeframe, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseTimeframe(%q) = %v, want %v", tt.timeframe, got, tt.want)
			}
		})
	}
}

func TestIsValidTimeframe(t *testing.T) {
	if !IsValidTimeframe("15m") {
		t.Error("IsValidTimeframe(15m) = false, want true")
	}
	if IsValidTimeframe("2d") {
		t.Error("IsValidTimeframe(2d) = true, want false")
	}
}

func TestPollInterval(t *testing.T) {
	tests := []struct {
		name      string
		timeframe string
		want      time.Duration
	}{
		// 1m/6 = 10s, ровно на верхней границе
		{"1m", "1m", 10 * time.Second},
		// длинные таймфреймы ограничены сверху
		{"15m capped", "15m", 10 * time.Second},
		{"1h capped", "1h", 10 * time.Second},
		{"1d capped", "1d", 10 * time.Second},
		// неизвестный таймфрейм получает безопасный максимум
		{"unknown", "7m", 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PollInterval(tt.timeframe)
			if got != tt.want {
				t.Errorf("PollInterval(%q) = %v, want %v", tt.timeframe, got, tt.want)
			}
		})
	}
}

func TestMillisRoundTrip(t *testing.T) {
	// Закрытие свечи 15m: 2024-01-15 14:44:59.999 UTC
	ms := int64(1705329899999)

	tm := MillisToTime(ms)
	if tm.Location() != time.UTC {
		t.Errorf("MillisToTime location = %v, want UTC", tm.Location())
	}
	if got := TimeToMillis(tm); got != ms {
		t.Errorf("TimeToMillis(MillisToTime(%d)) = %d", ms, got)
	}
}
