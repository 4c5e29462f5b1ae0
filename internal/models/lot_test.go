package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestWasteUnitsConversion(t *testing.T) {
	grams := decimal.NewFromInt(60)

	tests := []struct {
		kg   string
		mode WasteRounding
		want int64
	}{
		{"1.2", WasteRoundNearest, 20},
		{"1.23", WasteRoundNearest, 21}, // 20.5
		{"1.23", WasteRoundFloor, 20},
		{"1.21", WasteRoundCeil, 21},
		{"0", WasteRoundNearest, 0},
	}
	for _, tt := range tests {
		got, err := WasteUnits(decimal.RequireFromString(tt.kg), grams, tt.mode)
		if err != nil {
			t.Fatalf("WasteUnits(%s, %s): %v", tt.kg, tt.mode, err)
		}
		if got != tt.want {
			t.Errorf("WasteUnits(%s, %s) = %d, want %d", tt.kg, tt.mode, got, tt.want)
		}
	}
}

func TestWasteUnitsRejectsBadInput(t *testing.T) {
	if _, err := WasteUnits(decimal.NewFromInt(1), decimal.Zero, WasteRoundNearest); err == nil {
		t.Fatal("expected error for zero grams per unit")
	}
	if _, err := WasteUnits(decimal.NewFromInt(-1), decimal.NewFromInt(60), WasteRoundNearest); err == nil {
		t.Fatal("expected error for negative waste")
	}
}

func TestWashPercentages(t *testing.T) {
	wash, waste := WashPercentages(950, 1000)
	if !wash.Equal(decimal.RequireFromString("95")) {
		t.Fatalf("wash = %s, want 95", wash)
	}
	if !waste.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("waste = %s, want 5", waste)
	}
}

func TestLotStateNext(t *testing.T) {
	want := []LotState{LotStateWashRegistered, LotStateSentToGrading, LotStateClosed}
	state := LotStateInSalaL
	for _, w := range want {
		next, ok := state.Next()
		if !ok || next != w {
			t.Fatalf("%s.Next() = %s, %v; want %s", state, next, ok, w)
		}
		state = next
	}
	if _, ok := LotStateClosed.Next(); ok {
		t.Fatal("closed must be terminal")
	}
}

func TestParseWasteRounding(t *testing.T) {
	if r, err := ParseWasteRounding(""); err != nil || r != WasteRoundNearest {
		t.Fatalf("default rounding = %s, %v", r, err)
	}
	if r, err := ParseWasteRounding("CEIL"); err != nil || r != WasteRoundCeil {
		t.Fatalf("CEIL = %s, %v", r, err)
	}
	if _, err := ParseWasteRounding("banker"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
