package models

import "time"

// StockSnapshot is the materialized on-hand quantity of one SKU in one space.
// It always equals the sum of ledger quantities for the same (Space, SkuCode).
type StockSnapshot struct {
	Space     StockSpace `json:"space" gorm:"type:varchar(20);primaryKey"`
	SkuCode   string     `json:"sku_code" gorm:"type:varchar(50);primaryKey"`
	SkuName   string     `json:"sku_name" gorm:"type:varchar(255)"`
	Quantity  int64      `json:"quantity" gorm:"not null;default:0"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName returns the table name
func (StockSnapshot) TableName() string {
	return "stock_snapshots"
}

// Counter backs atomic sequence numbers (voucher numbering)
type Counter struct {
	Name  string `gorm:"type:varchar(100);primaryKey"`
	Value int64  `gorm:"not null;default:0"`
}

// TableName returns the table name
func (Counter) TableName() string {
	return "counters"
}
