// Package catalog holds the SKU reference data used to convert cases, trays
// and loose units into units and to weigh waste.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"ovotrack/server/internal/models"
)

// ErrUnknownSku is returned by Lookup for codes that are not in the catalog
var ErrUnknownSku = errors.New("unknown sku")

// DefaultGramsPerUnit is the average egg mass used to convert weighed waste into units
var DefaultGramsPerUnit = decimal.NewFromInt(60)

// DefaultDirtySkus are the codes whose inbound vouchers go through the cleaning room
var DefaultDirtySkus = []string{"BLA MAN", "COL MAN"}

// DefaultSkus is the packaged product list of the plant
var DefaultSkus = []models.SkuDefinition{
	{Code: "BLA 1", Name: "Blanco primera", UnitsPerCase: 180, UnitsPerTray: 30, Active: true},
	{Code: "BLA 2", Name: "Blanco segunda", UnitsPerCase: 180, UnitsPerTray: 30, Active: true},
	{Code: "BLA 3", Name: "Blanco tercera", UnitsPerCase: 360, UnitsPerTray: 30, Active: true},
	{Code: "COL 1", Name: "Color primera", UnitsPerCase: 180, UnitsPerTray: 30, Active: true},
	{Code: "COL 2", Name: "Color segunda", UnitsPerCase: 360, UnitsPerTray: 30, Active: true},
	{Code: "BLA MAN", Name: "Blanco manchado", UnitsPerCase: 360, UnitsPerTray: 30, Active: true},
	{Code: "COL MAN", Name: "Color manchado", UnitsPerCase: 360, UnitsPerTray: 30, Active: true},
}

// Catalog is immutable after construction and safe for concurrent use
type Catalog struct {
	skus         map[string]models.SkuDefinition
	dirty        map[string]bool
	gramsPerUnit decimal.Decimal
}

// New builds a catalog. Empty arguments fall back to the defaults.
func New(skus []models.SkuDefinition, dirtyCodes []string, gramsPerUnit decimal.Decimal) (*Catalog, error) {
	if len(skus) == 0 {
		skus = DefaultSkus
	}
	if len(dirtyCodes) == 0 {
		dirtyCodes = DefaultDirtySkus
	}
	if gramsPerUnit.IsZero() {
		gramsPerUnit = DefaultGramsPerUnit
	}
	if !gramsPerUnit.IsPositive() {
		return nil, fmt.Errorf("grams per unit must be positive, got %s", gramsPerUnit)
	}

	c := &Catalog{
		skus:         make(map[string]models.SkuDefinition, len(skus)),
		dirty:        make(map[string]bool, len(dirtyCodes)),
		gramsPerUnit: gramsPerUnit,
	}
	for _, s := range skus {
		s.Code = strings.TrimSpace(s.Code)
		if s.Code == "" {
			return nil, errors.New("sku definition without code")
		}
		if s.UnitsPerCase < 0 || s.UnitsPerTray < 0 {
			return nil, fmt.Errorf("sku %s has negative conversion factors", s.Code)
		}
		if _, dup := c.skus[s.Code]; dup {
			return nil, fmt.Errorf("sku %s defined twice", s.Code)
		}
		c.skus[s.Code] = s
	}
	for _, code := range dirtyCodes {
		code = strings.TrimSpace(code)
		if _, ok := c.skus[code]; !ok {
			return nil, fmt.Errorf("dirty sku %s is not in the catalog", code)
		}
		c.dirty[code] = true
	}
	return c, nil
}

// Default returns the built-in catalog
func Default() *Catalog {
	c, err := New(nil, nil, decimal.Zero)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup finds a SKU by code
func (c *Catalog) Lookup(code string) (models.SkuDefinition, error) {
	s, ok := c.skus[code]
	if !ok {
		return models.SkuDefinition{}, fmt.Errorf("%w: %s", ErrUnknownSku, code)
	}
	return s, nil
}

// DirtySkus returns the set of designated dirty codes
func (c *Catalog) DirtySkus() map[string]bool {
	out := make(map[string]bool, len(c.dirty))
	for k := range c.dirty {
		out[k] = true
	}
	return out
}

// IsDirty reports whether code is a designated dirty SKU
func (c *Catalog) IsDirty(code string) bool {
	return c.dirty[code]
}

// GramsPerUnit returns the waste conversion constant
func (c *Catalog) GramsPerUnit() decimal.Decimal {
	return c.gramsPerUnit
}

// All lists the catalog ordered by code
func (c *Catalog) All() []models.SkuDefinition {
	out := make([]models.SkuDefinition, 0, len(c.skus))
	for _, s := range c.skus {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
