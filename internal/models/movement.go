package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MovementKind classifies a ledger entry
type MovementKind string

const (
	MovementKindInbound    MovementKind = "inbound"
	MovementKindOutbound   MovementKind = "outbound"
	MovementKindReentry    MovementKind = "reentry"
	MovementKindAdjustment MovementKind = "adjustment"
)

// Valid reports whether k is a known movement kind
func (k MovementKind) Valid() bool {
	switch k {
	case MovementKindInbound, MovementKindOutbound, MovementKindReentry, MovementKindAdjustment:
		return true
	}
	return false
}

// SignedQuantity applies the sign convention of the kind to a magnitude.
// Adjustments keep the caller's sign.
func (k MovementKind) SignedQuantity(q int64) int64 {
	switch k {
	case MovementKindInbound, MovementKindReentry:
		if q < 0 {
			return -q
		}
	case MovementKindOutbound:
		if q > 0 {
			return -q
		}
	}
	return q
}

// StockSpace is an independent stock pool
type StockSpace string

const (
	SpaceWarehouse    StockSpace = "warehouse"
	SpaceCleaningRoom StockSpace = "cleaning_room"
)

// Spaces lists every stock space
var Spaces = []StockSpace{SpaceWarehouse, SpaceCleaningRoom}

// Valid reports whether s is a known stock space
func (s StockSpace) Valid() bool {
	return s == SpaceWarehouse || s == SpaceCleaningRoom
}

// Movement is an append-only ledger entry. Quantity is a signed unit delta
// against the snapshot of (Space, SkuCode).
type Movement struct {
	ID               string        `json:"id" gorm:"type:uuid;primaryKey"`
	Kind             MovementKind  `json:"kind" gorm:"type:varchar(20);not null;index"`
	Space            StockSpace    `json:"space" gorm:"type:varchar(20);not null;index:idx_movements_space_sku"`
	SkuCode          string        `json:"sku_code" gorm:"type:varchar(50);not null;index:idx_movements_space_sku"`
	SkuName          string        `json:"sku_name" gorm:"type:varchar(255)"`
	Quantity         int64         `json:"quantity" gorm:"not null"`
	Date             string        `json:"date" gorm:"type:varchar(10);not null;index"` // YYYY-MM-DD
	Time             string        `json:"time" gorm:"type:varchar(8);not null"`        // HH:MM:SS
	VoucherID        *string       `json:"voucher_id,omitempty" gorm:"type:uuid;index"`
	VoucherReference *string       `json:"voucher_reference,omitempty" gorm:"type:varchar(50)"`
	VoucherState     *VoucherState `json:"voucher_state,omitempty" gorm:"type:varchar(20)"`
	LotID            *string       `json:"lot_id,omitempty" gorm:"type:uuid;index"`
	LotCode          *string       `json:"lot_code,omitempty" gorm:"type:varchar(60)"`
	OriginName       *string       `json:"origin_name,omitempty" gorm:"type:varchar(255)"`
	DestinationName  *string       `json:"destination_name,omitempty" gorm:"type:varchar(255)"`
	Reason           *string       `json:"reason,omitempty" gorm:"type:text"`
	ActorID          string        `json:"actor_id" gorm:"type:varchar(100)"`
	ActorName        string        `json:"actor_name" gorm:"type:varchar(255);not null"`
	CreatedAt        time.Time     `json:"created_at" gorm:"not null;index"`
}

// TableName returns the table name
func (Movement) TableName() string {
	return "movements"
}

// BeforeCreate assigns a time-ordered UUID when none was set
func (m *Movement) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		m.ID = id.String()
	}
	return nil
}

// SignViolation reports whether the stored sign contradicts the kind
func (m *Movement) SignViolation() bool {
	return m.Kind.SignedQuantity(m.Quantity) != m.Quantity
}

// Validate checks the fields every ledger entry must carry
func (m *Movement) Validate() error {
	if m.SkuCode == "" {
		return errors.New("movement without sku code")
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("unknown movement kind %q", m.Kind)
	}
	if !m.Space.Valid() {
		return fmt.Errorf("unknown stock space %q", m.Space)
	}
	if m.Quantity == 0 && m.Kind != MovementKindAdjustment {
		return fmt.Errorf("%s movement with zero quantity", m.Kind)
	}
	if m.SignViolation() {
		return fmt.Errorf("%s movement with quantity %d breaks the sign convention", m.Kind, m.Quantity)
	}
	return nil
}
