package models

import (
	"errors"
	"math"
	"testing"
)

func TestNewLineItemComputesTotal(t *testing.T) {
	sku := SkuDefinition{Code: "BLA 1", Name: "Blanco primera", UnitsPerCase: 180, UnitsPerTray: 30, Active: true}

	tests := []struct {
		name                string
		cases, trays, loose int64
		want                int64
	}{
		{"cases only", 10, 0, 0, 1800},
		{"mixed", 2, 3, 7, 2*180 + 3*30 + 7},
		{"loose only", 0, 0, 25, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			li, err := NewLineItem(sku, tt.cases, tt.trays, tt.loose)
			if err != nil {
				t.Fatalf("NewLineItem: %v", err)
			}
			if li.TotalUnits != tt.want {
				t.Fatalf("total = %d, want %d", li.TotalUnits, tt.want)
			}
			if li.SkuName != sku.Name {
				t.Fatalf("sku name = %q, want %q", li.SkuName, sku.Name)
			}
		})
	}
}

func TestLineItemRejectsNegativeAndEmpty(t *testing.T) {
	sku := SkuDefinition{Code: "BLA 1", UnitsPerCase: 180, UnitsPerTray: 30}

	if _, err := NewLineItem(sku, -1, 0, 0); err == nil {
		t.Fatal("expected error for negative cases")
	}
	li, err := NewLineItem(sku, 0, 0, 0)
	if err != nil {
		t.Fatalf("NewLineItem: %v", err)
	}
	if err := li.Validate(); err == nil {
		t.Fatal("expected zero-total line item to be invalid")
	}
}

func TestLineItemRecomputeAfterEdit(t *testing.T) {
	sku := SkuDefinition{Code: "COL 2", UnitsPerCase: 360, UnitsPerTray: 30}
	li, err := NewLineItem(sku, 1, 0, 0)
	if err != nil {
		t.Fatalf("NewLineItem: %v", err)
	}
	li.Trays = 2
	if err := li.Recompute(sku); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if li.TotalUnits != 420 {
		t.Fatalf("total = %d, want 420", li.TotalUnits)
	}

	other := SkuDefinition{Code: "BLA 1"}
	if err := li.Recompute(other); err == nil {
		t.Fatal("expected sku mismatch error")
	}
}

func TestLineItemRejectsOverflowingTotals(t *testing.T) {
	sku := SkuDefinition{Code: "BLA 1", UnitsPerCase: 180, UnitsPerTray: 30}

	tests := []struct {
		name                string
		cases, trays, loose int64
	}{
		{"cases product", 1<<62 + 10, 0, 0},
		{"trays product", 0, math.MaxInt64 / 20, 0},
		{"sum of terms", math.MaxInt64 / 180, 0, math.MaxInt64 / 2},
		{"loose at limit plus a case", 1, 0, math.MaxInt64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLineItem(sku, tt.cases, tt.trays, tt.loose)
			if !errors.Is(err, ErrQuantityOverflow) {
				t.Fatalf("err = %v, want ErrQuantityOverflow", err)
			}
		})
	}

	li, err := NewLineItem(sku, 0, 0, math.MaxInt64)
	if err != nil {
		t.Fatalf("NewLineItem at the limit: %v", err)
	}
	if li.TotalUnits != math.MaxInt64 {
		t.Fatalf("total = %d, want %d", li.TotalUnits, int64(math.MaxInt64))
	}
}
