package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LotState is the position of a cleaning batch in the washing pipeline
type LotState string

const (
	LotStateInSalaL        LotState = "inSalaL"
	LotStateWashRegistered LotState = "washRegistered"
	LotStateSentToGrading  LotState = "sentToGrading"
	LotStateClosed         LotState = "closed"
)

var lotStateOrder = []LotState{LotStateInSalaL, LotStateWashRegistered, LotStateSentToGrading, LotStateClosed}

// Valid reports whether s is a known lot state
func (s LotState) Valid() bool {
	for _, st := range lotStateOrder {
		if st == s {
			return true
		}
	}
	return false
}

// Next returns the only state reachable from s; ok is false for closed or unknown states
func (s LotState) Next() (LotState, bool) {
	for i, st := range lotStateOrder {
		if st == s && i+1 < len(lotStateOrder) {
			return lotStateOrder[i+1], true
		}
	}
	return "", false
}

// Lot is a batch of dirty product moving through the cleaning room ("Sala L").
// Its ID equals the ID of the voucher that created it.
type Lot struct {
	ID                     string    `json:"id" gorm:"type:uuid;primaryKey"`
	LotCode                string    `json:"lot_code" gorm:"type:varchar(60);not null;uniqueIndex"`
	State                  LotState  `json:"state" gorm:"type:varchar(20);not null;index"`
	SourceVoucherID        string    `json:"source_voucher_id" gorm:"type:uuid;not null;uniqueIndex"`
	SourceVoucherReference string    `json:"source_voucher_reference" gorm:"type:varchar(50);not null"`
	DirtySkuCode           string    `json:"dirty_sku_code" gorm:"type:varchar(50);not null"`
	DirtySkuName           string    `json:"dirty_sku_name" gorm:"type:varchar(255)"`
	Intake                 LineItem  `json:"intake" gorm:"serializer:json;type:jsonb;not null"`
	Washed                 *LineItem `json:"washed,omitempty" gorm:"serializer:json;type:jsonb"`

	WasteKg         *decimal.Decimal `json:"waste_kg,omitempty" gorm:"type:decimal(12,3)"`
	WasteUnits      *int64           `json:"waste_units,omitempty"`
	WashPercentage  *decimal.Decimal `json:"wash_percentage,omitempty" gorm:"type:decimal(6,2)"`
	WastePercentage *decimal.Decimal `json:"waste_percentage,omitempty" gorm:"type:decimal(6,2)"`

	// Pavilion is the production house the dirty product came from; defaults to the voucher origin
	PavilionID   *string `json:"pavilion_id,omitempty" gorm:"type:varchar(100)"`
	PavilionName *string `json:"pavilion_name,omitempty" gorm:"type:varchar(255)"`

	EnteredRoomAt      time.Time  `json:"entered_room_at" gorm:"not null"`
	WashedAt           *time.Time `json:"washed_at,omitempty"`
	SentToGradingAt    *time.Time `json:"sent_to_grading_at,omitempty"`
	EnteredWarehouseAt *time.Time `json:"entered_warehouse_at,omitempty"`

	CreatedBy string    `json:"created_by" gorm:"type:varchar(255);not null"`
	UpdatedBy string    `json:"updated_by" gorm:"type:varchar(255)"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name
func (Lot) TableName() string {
	return "lots"
}

// LotCodeFor derives the lot code from the source voucher reference
func LotCodeFor(voucherReference string) string {
	return "L-" + voucherReference
}

// WasteRounding selects how fractional waste units are resolved
type WasteRounding string

const (
	WasteRoundNearest WasteRounding = "round"
	WasteRoundFloor   WasteRounding = "floor"
	WasteRoundCeil    WasteRounding = "ceil"
)

// ParseWasteRounding accepts round, floor or ceil (case-insensitive)
func ParseWasteRounding(s string) (WasteRounding, error) {
	switch r := WasteRounding(strings.ToLower(strings.TrimSpace(s))); r {
	case "", WasteRoundNearest:
		return WasteRoundNearest, nil
	case WasteRoundFloor, WasteRoundCeil:
		return r, nil
	}
	return "", fmt.Errorf("unknown waste rounding %q", s)
}

var thousand = decimal.NewFromInt(1000)
var hundred = decimal.NewFromInt(100)

// WasteUnits converts weighed waste into unit equivalents: kg*1000/gramsPerUnit
func WasteUnits(wasteKg, gramsPerUnit decimal.Decimal, mode WasteRounding) (int64, error) {
	if !gramsPerUnit.IsPositive() {
		return 0, fmt.Errorf("grams per unit must be positive, got %s", gramsPerUnit)
	}
	if wasteKg.IsNegative() {
		return 0, fmt.Errorf("waste must not be negative, got %s kg", wasteKg)
	}
	units := wasteKg.Mul(thousand).Div(gramsPerUnit)
	switch mode {
	case WasteRoundFloor:
		units = units.Floor()
	case WasteRoundCeil:
		units = units.Ceil()
	default:
		units = units.Round(0)
	}
	return units.IntPart(), nil
}

// WashPercentages returns washed/intake and its complement, as percentages with two decimals
func WashPercentages(washed, intake int64) (wash decimal.Decimal, waste decimal.Decimal) {
	if intake <= 0 {
		return decimal.Zero, decimal.Zero
	}
	wash = decimal.NewFromInt(washed).Mul(hundred).Div(decimal.NewFromInt(intake)).Round(2)
	return wash, hundred.Sub(wash)
}
