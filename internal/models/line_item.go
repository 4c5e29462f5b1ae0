package models

import (
	"errors"
	"fmt"
)

// LineItem is one SKU row of a voucher or lot. TotalUnits is derived from the
// other three quantities and the SKU's conversion factors.
type LineItem struct {
	SkuCode    string `json:"sku_code"`
	SkuName    string `json:"sku_name"`
	Cases      int64  `json:"cases"`
	Trays      int64  `json:"trays"`
	LooseUnits int64  `json:"loose_units"`
	TotalUnits int64  `json:"total_units"`
}

// NewLineItem builds a line item for the given SKU and recomputes its total
func NewLineItem(sku SkuDefinition, cases, trays, loose int64) (LineItem, error) {
	item := LineItem{
		SkuCode:    sku.Code,
		SkuName:    sku.Name,
		Cases:      cases,
		Trays:      trays,
		LooseUnits: loose,
	}
	if err := item.Recompute(sku); err != nil {
		return LineItem{}, err
	}
	return item, nil
}

// Recompute refreshes TotalUnits from the input quantities
func (li *LineItem) Recompute(sku SkuDefinition) error {
	if sku.Code != li.SkuCode {
		return fmt.Errorf("sku mismatch: line item has %q, definition is %q", li.SkuCode, sku.Code)
	}
	if li.Cases < 0 || li.Trays < 0 || li.LooseUnits < 0 {
		return errors.New("cases, trays and loose units must not be negative")
	}
	total, err := sku.Units(li.Cases, li.Trays, li.LooseUnits)
	if err != nil {
		return fmt.Errorf("%s: %w", li.SkuCode, err)
	}
	li.SkuName = sku.Name
	li.TotalUnits = total
	return nil
}

// Validate checks that the line item can have a stock effect
func (li LineItem) Validate() error {
	if li.SkuCode == "" {
		return errors.New("sku code is required")
	}
	if li.TotalUnits <= 0 {
		return fmt.Errorf("line item %s has no units", li.SkuCode)
	}
	return nil
}
