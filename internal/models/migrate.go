package models

import (
	"fmt"

	"gorm.io/gorm"
)

// AutoMigrate creates or updates the tables used by the postgres store
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Voucher{},
		&Lot{},
		&Movement{},
		&StockSnapshot{},
		&Counter{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
