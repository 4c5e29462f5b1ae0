package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// VoucherKind is the direction of a voucher ("vale")
type VoucherKind string

const (
	VoucherKindInbound  VoucherKind = "inbound"  // production area -> warehouse
	VoucherKindOutbound VoucherKind = "outbound" // warehouse -> dispatch
	VoucherKindReentry  VoucherKind = "reentry"  // returned product back into the warehouse
)

// Valid reports whether k is a known voucher kind
func (k VoucherKind) Valid() bool {
	switch k {
	case VoucherKindInbound, VoucherKindOutbound, VoucherKindReentry:
		return true
	}
	return false
}

// ReferencePrefix is the prefix of human readable voucher references
func (k VoucherKind) ReferencePrefix() string {
	switch k {
	case VoucherKindInbound:
		return "ING"
	case VoucherKindOutbound:
		return "EGR"
	case VoucherKindReentry:
		return "REI"
	}
	return "VAL"
}

// MovementKind returns the ledger kind written when a voucher of this kind is validated
func (k VoucherKind) MovementKind() MovementKind {
	switch k {
	case VoucherKindOutbound:
		return MovementKindOutbound
	case VoucherKindReentry:
		return MovementKindReentry
	}
	return MovementKindInbound
}

// VoucherState is the approval state of a voucher
type VoucherState string

const (
	VoucherStatePending   VoucherState = "pending"
	VoucherStateValidated VoucherState = "validated"
	VoucherStateRejected  VoucherState = "rejected"
)

// Terminal reports whether no further transition is allowed
func (s VoucherState) Terminal() bool {
	return s == VoucherStateValidated || s == VoucherStateRejected
}

// CanTransitionTo enforces pending -> validated | rejected
func (s VoucherState) CanTransitionTo(next VoucherState) bool {
	return s == VoucherStatePending && next.Terminal()
}

// Voucher is a transfer request. Line items are frozen once the voucher leaves pending.
type Voucher struct {
	ID              string       `json:"id" gorm:"type:uuid;primaryKey"`
	Kind            VoucherKind  `json:"kind" gorm:"type:varchar(20);not null;index"`
	State           VoucherState `json:"state" gorm:"type:varchar(20);not null;default:'pending';index"`
	OriginID        string       `json:"origin_id" gorm:"type:varchar(100)"`
	OriginName      string       `json:"origin_name" gorm:"type:varchar(255);not null"`
	DestinationID   string       `json:"destination_id" gorm:"type:varchar(100)"`
	DestinationName string       `json:"destination_name" gorm:"type:varchar(255);not null"`
	LineItems       []LineItem   `json:"line_items" gorm:"serializer:json;type:jsonb;not null"`
	Date            string       `json:"date" gorm:"type:varchar(10);not null;index"` // YYYY-MM-DD, plant timezone
	DailySequence   int64        `json:"daily_sequence" gorm:"not null"`
	GlobalSequence  int64        `json:"global_sequence" gorm:"not null;uniqueIndex"`
	Reference       string       `json:"reference" gorm:"type:varchar(50);not null;uniqueIndex"`
	CreatedBy       string       `json:"created_by" gorm:"type:varchar(255);not null"`
	CreatedAt       time.Time    `json:"created_at" gorm:"index"`

	ValidatedBy    *string    `json:"validated_by,omitempty" gorm:"type:varchar(255)"`
	ValidatedAt    *time.Time `json:"validated_at,omitempty"`
	ValidationNote *string    `json:"validation_note,omitempty" gorm:"type:text"`
	RejectedBy     *string    `json:"rejected_by,omitempty" gorm:"type:varchar(255)"`
	RejectedAt     *time.Time `json:"rejected_at,omitempty"`
	RejectionNotes *string    `json:"rejection_notes,omitempty" gorm:"type:text"`

	// LotID is set when validation routed the voucher through the cleaning workflow
	LotID *string `json:"lot_id,omitempty" gorm:"type:uuid"`
}

// TableName returns the table name
func (Voucher) TableName() string {
	return "vouchers"
}

// BeforeCreate assigns a UUID when none was set
func (v *Voucher) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	return nil
}

// BuildReference formats the audit reference, e.g. ING-20261019-003
func BuildReference(kind VoucherKind, date string, daily int64) string {
	compact := date
	if t, err := time.Parse("2006-01-02", date); err == nil {
		compact = t.Format("20060102")
	}
	return fmt.Sprintf("%s-%s-%03d", kind.ReferencePrefix(), compact, daily)
}

// IsPending reports whether the voucher still awaits a decision
func (v *Voucher) IsPending() bool {
	return v.State == VoucherStatePending
}

// IsDirtyIntake reports whether validation must route this voucher through a
// cleaning lot: inbound, exactly one line item, and a designated dirty SKU.
func (v *Voucher) IsDirtyIntake(dirtySkus map[string]bool) bool {
	if v.Kind != VoucherKindInbound || len(v.LineItems) != 1 {
		return false
	}
	return dirtySkus[v.LineItems[0].SkuCode]
}

// TotalUnits sums all line items
func (v *Voucher) TotalUnits() int64 {
	var total int64
	for _, li := range v.LineItems {
		total += li.TotalUnits
	}
	return total
}

// Check verifies that the fields present match the state
func (v *Voucher) Check() error {
	if !v.Kind.Valid() {
		return fmt.Errorf("unknown voucher kind %q", v.Kind)
	}
	if len(v.LineItems) == 0 {
		return errors.New("voucher has no line items")
	}
	switch v.State {
	case VoucherStatePending:
		if v.ValidatedAt != nil || v.RejectedAt != nil || v.LotID != nil {
			return errors.New("pending voucher carries decision fields")
		}
	case VoucherStateValidated:
		if v.ValidatedAt == nil || v.ValidatedBy == nil {
			return errors.New("validated voucher without validator")
		}
		if v.RejectedAt != nil || v.RejectionNotes != nil {
			return errors.New("validated voucher carries rejection fields")
		}
	case VoucherStateRejected:
		if v.RejectedAt == nil || v.RejectionNotes == nil || *v.RejectionNotes == "" {
			return errors.New("rejected voucher without notes")
		}
		if v.ValidatedAt != nil || v.LotID != nil {
			return errors.New("rejected voucher carries validation fields")
		}
	default:
		return fmt.Errorf("unknown voucher state %q", v.State)
	}
	return nil
}
