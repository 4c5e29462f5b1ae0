package models

import (
	"testing"
	"time"
)

func TestVoucherIsDirtyIntake(t *testing.T) {
	dirty := map[string]bool{"BLA MAN": true, "COL MAN": true}
	one := []LineItem{{SkuCode: "BLA MAN", TotalUnits: 1000}}

	tests := []struct {
		name string
		v    Voucher
		want bool
	}{
		{"dirty inbound", Voucher{Kind: VoucherKindInbound, LineItems: one}, true},
		{"dirty outbound", Voucher{Kind: VoucherKindOutbound, LineItems: one}, false},
		{"clean sku", Voucher{Kind: VoucherKindInbound, LineItems: []LineItem{{SkuCode: "BLA 1"}}}, false},
		{"two lines", Voucher{Kind: VoucherKindInbound, LineItems: append(one, LineItem{SkuCode: "COL MAN"})}, false},
	}
	for _, tt := range tests {
		if got := tt.v.IsDirtyIntake(dirty); got != tt.want {
			t.Errorf("%s: IsDirtyIntake = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestVoucherCheckRejectsIllegalCombinations(t *testing.T) {
	now := time.Now()
	who := "ana"
	empty := ""
	items := []LineItem{{SkuCode: "BLA 1", TotalUnits: 10}}

	bad := []Voucher{
		{Kind: VoucherKindInbound, State: VoucherStatePending, LineItems: items, ValidatedAt: &now},
		{Kind: VoucherKindInbound, State: VoucherStateValidated, LineItems: items},
		{Kind: VoucherKindInbound, State: VoucherStateRejected, LineItems: items, RejectedAt: &now, RejectionNotes: &empty},
		{Kind: VoucherKindInbound, State: VoucherStateRejected, LineItems: items, RejectedAt: &now, RejectionNotes: &who, ValidatedAt: &now},
		{Kind: "transfer", State: VoucherStatePending, LineItems: items},
	}
	for i, v := range bad {
		if err := v.Check(); err == nil {
			t.Errorf("case %d: expected Check to fail", i)
		}
	}

	ok := Voucher{Kind: VoucherKindOutbound, State: VoucherStateValidated, LineItems: items, ValidatedAt: &now, ValidatedBy: &who}
	if err := ok.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestBuildReference(t *testing.T) {
	if got := BuildReference(VoucherKindInbound, "2026-10-19", 3); got != "ING-20261019-003" {
		t.Fatalf("reference = %s", got)
	}
	if got := BuildReference(VoucherKindReentry, "2026-01-02", 120); got != "REI-20260102-120" {
		t.Fatalf("reference = %s", got)
	}
}

func TestVoucherStateTransitions(t *testing.T) {
	if !VoucherStatePending.CanTransitionTo(VoucherStateValidated) {
		t.Fatal("pending -> validated must be allowed")
	}
	if VoucherStateRejected.CanTransitionTo(VoucherStateValidated) {
		t.Fatal("rejected is terminal")
	}
	if VoucherStatePending.CanTransitionTo(VoucherStatePending) {
		t.Fatal("pending -> pending is not a transition")
	}
}

func TestMovementSignConvention(t *testing.T) {
	tests := []struct {
		kind MovementKind
		in   int64
		want int64
	}{
		{MovementKindInbound, -50, 50},
		{MovementKindReentry, 40, 40},
		{MovementKindOutbound, 30, -30},
		{MovementKindAdjustment, -7, -7},
	}
	for _, tt := range tests {
		if got := tt.kind.SignedQuantity(tt.in); got != tt.want {
			t.Errorf("%s.SignedQuantity(%d) = %d, want %d", tt.kind, tt.in, got, tt.want)
		}
	}
	m := Movement{Kind: MovementKindInbound, Space: SpaceWarehouse, SkuCode: "BLA 1", Quantity: -50}
	if !m.SignViolation() {
		t.Fatal("negative inbound must violate the convention")
	}
	if err := m.Validate(); err == nil {
		t.Fatal("Validate must reject the violation")
	}
}

func TestMovementValidateRejectsZeroQuantity(t *testing.T) {
	for _, kind := range []MovementKind{MovementKindInbound, MovementKindOutbound, MovementKindReentry} {
		m := Movement{Kind: kind, Space: SpaceWarehouse, SkuCode: "BLA 1"}
		if err := m.Validate(); err == nil {
			t.Errorf("%s movement with zero quantity passed Validate", kind)
		}
	}

	adj := Movement{Kind: MovementKindAdjustment, Space: SpaceWarehouse, SkuCode: "BLA 1"}
	if err := adj.Validate(); err != nil {
		t.Fatalf("zero adjustment: %v", err)
	}
	ok := Movement{Kind: MovementKindOutbound, Space: SpaceCleaningRoom, SkuCode: "BLA MAN", Quantity: -1}
	if err := ok.Validate(); err != nil {
		t.Fatalf("outbound -1: %v", err)
	}
}
