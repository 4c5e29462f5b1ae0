package models

import (
	"errors"
	"math"
	"math/bits"
)

// ErrQuantityOverflow is returned when a unit total does not fit in int64
var ErrQuantityOverflow = errors.New("quantity exceeds the representable unit total")

// SkuDefinition is catalog reference data for a packaged egg SKU.
// Quantities on line items are entered in cases, trays and loose units and
// converted to units with these factors.
type SkuDefinition struct {
	Code         string `json:"code" mapstructure:"code"`
	Name         string `json:"name" mapstructure:"name"`
	UnitsPerCase int64  `json:"units_per_case" mapstructure:"units_per_case"`
	UnitsPerTray int64  `json:"units_per_tray" mapstructure:"units_per_tray"`
	Active       bool   `json:"active" mapstructure:"active"`
}

// Units converts a non-negative cases/trays/loose triple into units
func (s SkuDefinition) Units(cases, trays, loose int64) (int64, error) {
	if cases < 0 || trays < 0 || loose < 0 || s.UnitsPerCase < 0 || s.UnitsPerTray < 0 {
		return 0, errors.New("quantities and conversion factors must not be negative")
	}
	var total uint64
	for _, term := range [][2]int64{{cases, s.UnitsPerCase}, {trays, s.UnitsPerTray}, {loose, 1}} {
		hi, lo := bits.Mul64(uint64(term[0]), uint64(term[1]))
		if hi != 0 {
			return 0, ErrQuantityOverflow
		}
		var carry uint64
		total, carry = bits.Add64(total, lo, 0)
		if carry != 0 || total > math.MaxInt64 {
			return 0, ErrQuantityOverflow
		}
	}
	return int64(total), nil
}
