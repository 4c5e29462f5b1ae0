package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"ovotrack/server/internal/events"
	"ovotrack/server/internal/models"
	"ovotrack/server/internal/repository"
)

// WashedInput is the washing output in cases, trays and loose units
type WashedInput struct {
	SkuCode    string `json:"sku_code" validate:"required"`
	Cases      int64  `json:"cases" validate:"gte=0,lte=10000000"`
	Trays      int64  `json:"trays" validate:"gte=0,lte=10000000"`
	LooseUnits int64  `json:"loose_units" validate:"gte=0,lte=10000000"`
}

// LotAdvanceInput is the payload of a lot transition. Washed and WasteKg are
// required when registering the wash; pavilion fields override the default.
type LotAdvanceInput struct {
	Washed       *WashedInput     `json:"washed,omitempty" validate:"omitempty"`
	WasteKg      *decimal.Decimal `json:"waste_kg,omitempty"`
	PavilionID   *string          `json:"pavilion_id,omitempty"`
	PavilionName *string          `json:"pavilion_name,omitempty"`
}

// LotService drives cleaning lots from the cleaning room back into the warehouse
type LotService struct {
	Deps
	ledger   *LedgerService
	rounding models.WasteRounding
}

// NewLotService creates the lot service
func NewLotService(deps Deps, ledger *LedgerService, rounding models.WasteRounding) *LotService {
	if rounding == "" {
		rounding = models.WasteRoundNearest
	}
	return &LotService{Deps: deps.withDefaults(), ledger: ledger, rounding: rounding}
}

// lotEntry builds a ledger entry tagged with the lot and its source voucher
func (s *LotService) lotEntry(lot *models.Lot, kind models.MovementKind, space models.StockSpace, skuCode, skuName string, qty int64, actor models.Actor) models.Movement {
	m := s.ledger.NewEntry(kind, space, skuCode, skuName, qty, actor, s.Now())
	m.LotID = ptr(lot.ID)
	m.LotCode = ptr(lot.LotCode)
	m.VoucherID = ptr(lot.SourceVoucherID)
	m.VoucherReference = ptr(lot.SourceVoucherReference)
	m.VoucherState = ptr(models.VoucherStateValidated)
	return m
}

// open creates the lot of a dirty-intake voucher inside the validation
// transaction and returns the cleaning-room intake entry to append.
func (s *LotService) open(tx repository.Tx, v *models.Voucher, actor models.Actor) (*models.Lot, []models.Movement, error) {
	if !v.IsDirtyIntake(s.Catalog.DirtySkus()) {
		return nil, nil, InvalidState("voucher %s does not match the dirty intake shape", v.Reference)
	}
	intake := v.LineItems[0]
	if intake.TotalUnits <= 0 {
		return nil, nil, ValidationError("lot intake must have a positive total, got %d", intake.TotalUnits)
	}

	if _, err := tx.GetLot(v.ID); err == nil {
		return nil, nil, InvalidState("a lot already exists for voucher %s", v.Reference)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, fmt.Errorf("get lot %s: %w", v.ID, err)
	}

	now := s.Now().UTC()
	lot := &models.Lot{
		ID:                     v.ID,
		LotCode:                models.LotCodeFor(v.Reference),
		State:                  models.LotStateInSalaL,
		SourceVoucherID:        v.ID,
		SourceVoucherReference: v.Reference,
		DirtySkuCode:           intake.SkuCode,
		DirtySkuName:           intake.SkuName,
		Intake:                 intake,
		EnteredRoomAt:          now,
		CreatedBy:              actor.DisplayName(),
		UpdatedBy:              actor.DisplayName(),
		UpdatedAt:              now,
	}
	if v.OriginID != "" {
		lot.PavilionID = ptr(v.OriginID)
	}
	if v.OriginName != "" {
		lot.PavilionName = ptr(v.OriginName)
	}

	if err := tx.CreateLot(lot); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, nil, InvalidState("a lot already exists for voucher %s", v.Reference)
		}
		return nil, nil, fmt.Errorf("create lot: %w", err)
	}

	entry := s.lotEntry(lot, models.MovementKindInbound, models.SpaceCleaningRoom, intake.SkuCode, intake.SkuName, intake.TotalUnits, actor)
	entry.OriginName = ptr(v.OriginName)
	entry.DestinationName = ptr(v.DestinationName)
	return lot, []models.Movement{entry}, nil
}

// Advance moves a lot to target, which must be its immediate next state
func (s *LotService) Advance(ctx context.Context, lotID string, target models.LotState, in LotAdvanceInput, actor models.Actor) (lot *models.Lot, err error) {
	ctx, span := startSpan(ctx, "lot.advance", attribute.String("lot.id", lotID), attribute.String("lot.target", string(target)))
	defer func() { endSpan(span, err) }()

	if err := requireRole(actor, models.RoleOperator, "advancing a lot"); err != nil {
		return nil, err
	}
	if !target.Valid() {
		return nil, ValidationError("unknown lot state %q", target)
	}
	if err := checkInput(in); err != nil {
		return nil, err
	}

	var changes []events.StockChange
	var entryIDs []string
	err = s.Store.Update(ctx, func(tx repository.Tx) error {
		changes, entryIDs = nil, nil

		current, err := tx.GetLot(lotID)
		if errors.Is(err, repository.ErrNotFound) {
			return NotFound("lot %s not found", lotID)
		}
		if err != nil {
			return fmt.Errorf("get lot %s: %w", lotID, err)
		}
		next, ok := current.State.Next()
		if !ok {
			return InvalidState("lot %s is %s and cannot advance", current.LotCode, current.State)
		}
		if next != target {
			return InvalidState("lot %s is %s; the next state is %s, not %s", current.LotCode, current.State, next, target)
		}

		now := s.Now().UTC()
		var entries []models.Movement
		switch target {
		case models.LotStateWashRegistered:
			entries, err = s.registerWash(current, in, actor, now)
			if err != nil {
				return err
			}
		case models.LotStateSentToGrading:
			current.SentToGradingAt = &now
		case models.LotStateClosed:
			if current.Washed == nil || current.Washed.TotalUnits <= 0 {
				return InvalidState("lot %s has no washed output to receive", current.LotCode)
			}
			entry := s.lotEntry(current, models.MovementKindReentry, models.SpaceWarehouse,
				current.Washed.SkuCode, current.Washed.SkuName, current.Washed.TotalUnits, actor)
			entry.OriginName = current.PavilionName
			entries = append(entries, entry)
			current.EnteredWarehouseAt = &now
		}

		if in.PavilionID != nil {
			current.PavilionID = in.PavilionID
		}
		if in.PavilionName != nil {
			current.PavilionName = in.PavilionName
		}
		current.State = target
		current.UpdatedBy = actor.DisplayName()
		current.UpdatedAt = now

		if changes, err = s.ledger.Append(tx, entries); err != nil {
			return err
		}
		if err := tx.SaveLot(current); err != nil {
			return fmt.Errorf("save lot: %w", err)
		}
		for _, e := range entries {
			entryIDs = append(entryIDs, e.ID)
		}
		lot = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{
		"lot_id":   lot.ID,
		"lot_code": lot.LotCode,
		"state":    lot.State,
		"actor":    actor.DisplayName(),
	}).Info("lot.advanced")
	s.publish(ctx, events.Event{
		Type:        events.LotAdvanced,
		ActorName:   actor.DisplayName(),
		VoucherID:   lot.SourceVoucherID,
		Reference:   lot.LotCode,
		LotID:       lot.ID,
		LotState:    string(lot.State),
		MovementIDs: entryIDs,
		Stock:       changes,
	})
	return lot, nil
}

// registerWash records washing output and waste, and drains the dirty intake
// from the cleaning room.
func (s *LotService) registerWash(lot *models.Lot, in LotAdvanceInput, actor models.Actor, now time.Time) ([]models.Movement, error) {
	if in.Washed == nil {
		return nil, ValidationError("washed output is required to register washing")
	}
	if in.WasteKg == nil {
		return nil, ValidationError("waste_kg is required to register washing")
	}
	if in.WasteKg.IsNegative() {
		return nil, ValidationError("waste_kg must not be negative")
	}

	code := strings.TrimSpace(in.Washed.SkuCode)
	sku, err := s.Catalog.Lookup(code)
	if err != nil {
		return nil, NotFound("sku %s not found", code)
	}
	if !sku.Active {
		return nil, ValidationError("sku %s is inactive", code)
	}
	washed, err := models.NewLineItem(sku, in.Washed.Cases, in.Washed.Trays, in.Washed.LooseUnits)
	if err != nil {
		return nil, ValidationError("washed output: %v", err)
	}
	if err := washed.Validate(); err != nil {
		return nil, ValidationError("washed output: %v", err)
	}
	if washed.TotalUnits > lot.Intake.TotalUnits {
		return nil, ValidationError("washed output %d exceeds intake %d", washed.TotalUnits, lot.Intake.TotalUnits)
	}

	wasteUnits, err := models.WasteUnits(*in.WasteKg, s.Catalog.GramsPerUnit(), s.rounding)
	if err != nil {
		return nil, ValidationError("waste: %v", err)
	}
	wash, waste := models.WashPercentages(washed.TotalUnits, lot.Intake.TotalUnits)
	wasteKg := *in.WasteKg

	lot.Washed = &washed
	lot.WasteKg = &wasteKg
	lot.WasteUnits = &wasteUnits
	lot.WashPercentage = &wash
	lot.WastePercentage = &waste
	lot.WashedAt = &now

	drain := s.lotEntry(lot, models.MovementKindOutbound, models.SpaceCleaningRoom,
		lot.DirtySkuCode, lot.DirtySkuName, -lot.Intake.TotalUnits, actor)
	return []models.Movement{drain}, nil
}

// Get returns one lot
func (s *LotService) Get(ctx context.Context, id string) (*models.Lot, error) {
	var lot *models.Lot
	err := s.Store.View(ctx, func(tx repository.Tx) error {
		var err error
		lot, err = tx.GetLot(id)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NotFound("lot %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get lot %s: %w", id, err)
	}
	return lot, nil
}

// List returns lots, newest first
func (s *LotService) List(ctx context.Context, f repository.LotFilter) ([]models.Lot, error) {
	if f.State != "" && !f.State.Valid() {
		return nil, ValidationError("unknown lot state %q", f.State)
	}
	var out []models.Lot
	err := s.Store.View(ctx, func(tx repository.Tx) error {
		var err error
		out, err = tx.ListLots(f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}
	return out, nil
}
