package utils

import (
	"testing"
)

func TestRoundToStepSize(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		stepSize float64
		want     float64
	}{
		{"round down thousandths", 0.123456, 0.001, 0.123},
		{"round down hundredths", 1.999, 0.01, 1.99},
		{"whole lots", 100.5, 1.0, 100.0},
		{"exact multiple", 0.25, 0.05, 0.25},
		{"zero step returns value", 0.123456, 0, 0.123456},
		{"negative step returns value", 0.123456, -1, 0.123456},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundToStepSize(tt.value, tt.stepSize)
			if diff := Abs(got - tt.want); diff > 1e-9 {
				t.Errorf("RoundToStepSize(%v, %v) = %v, want %v", tt.value, tt.stepSize, got, tt.want)
			}
		})
	}
}

func TestFormatQuantity(t *testing.T) {
	tests := []struct {
		name     string
		quantity float64
		want     string
	}{
		{"fraction", 0.5, "0.5"},
		{"whole", 100, "100"},
		{"trailing zeros trimmed", 0.0015, "0.0015"},
		{"small value no exponent", 0.00000001, "0.00000001"},
		{"zero", 0, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatQuantity(tt.quantity); got != tt.want {
				t.Errorf("FormatQuantity(%v) = %q, want %q", tt.quantity, got, tt.want)
			}
		})
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name             string
		value, min, max  float64
		want             float64
	}{
		{"inside range", 5, 0, 10, 5},
		{"below min", -1, 0, 10, 0},
		{"above max", 11, 0, 10, 10},
		{"at min", 0, 0, 10, 0},
		{"at max", 10, 0, 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clamp(tt.value, tt.min, tt.max); got != tt.want {
				t.Errorf("Clamp(%v, %v, %v) = %v, want %v", tt.value, tt.min, tt.max, got, tt.want)
			}
		})
	}
}
