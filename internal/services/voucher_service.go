package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"ovotrack/server/internal/events"
	"ovotrack/server/internal/models"
	"ovotrack/server/internal/repository"
)

// LineItemInput is one SKU row as entered by the originating area
type LineItemInput struct {
	SkuCode    string `json:"sku_code" validate:"required"`
	Cases      int64  `json:"cases" validate:"gte=0,lte=10000000"`
	Trays      int64  `json:"trays" validate:"gte=0,lte=10000000"`
	LooseUnits int64  `json:"loose_units" validate:"gte=0,lte=10000000"`
}

// CreateVoucherInput is the payload of a new voucher
type CreateVoucherInput struct {
	Kind            models.VoucherKind `json:"kind" validate:"required,oneof=inbound outbound reentry"`
	OriginID        string             `json:"origin_id"`
	OriginName      string             `json:"origin_name" validate:"required"`
	DestinationID   string             `json:"destination_id"`
	DestinationName string             `json:"destination_name" validate:"required"`
	LineItems       []LineItemInput    `json:"line_items" validate:"required,min=1,dive"`
}

// ValidationResult is what a successful validation produced
type ValidationResult struct {
	Voucher        *models.Voucher `json:"voucher"`
	LedgerEntryIDs []string        `json:"ledger_entry_ids"`
	LotID          *string         `json:"lot_id,omitempty"`
}

// VoucherService runs the pending -> validated | rejected workflow
type VoucherService struct {
	Deps
	ledger *LedgerService
	lots   *LotService
}

// NewVoucherService creates the voucher service
func NewVoucherService(deps Deps, ledger *LedgerService, lots *LotService) *VoucherService {
	return &VoucherService{Deps: deps.withDefaults(), ledger: ledger, lots: lots}
}

func dailyCounter(date string, kind models.VoucherKind) string {
	return "voucher/daily/" + date + "/" + string(kind)
}

const globalCounter = "voucher/global"

// Create stores a pending voucher. It has no stock effect.
func (s *VoucherService) Create(ctx context.Context, in CreateVoucherInput, actor models.Actor) (v *models.Voucher, err error) {
	ctx, span := startSpan(ctx, "voucher.create", attribute.String("voucher.kind", string(in.Kind)))
	defer func() { endSpan(span, err) }()

	if err := requireRole(actor, models.RoleOperator, "creating a voucher"); err != nil {
		return nil, err
	}
	if err := checkInput(in); err != nil {
		return nil, err
	}

	items := make([]models.LineItem, 0, len(in.LineItems))
	for i, li := range in.LineItems {
		code := strings.TrimSpace(li.SkuCode)
		sku, err := s.Catalog.Lookup(code)
		if err != nil {
			return nil, NotFound("sku %s not found", code)
		}
		if !sku.Active {
			return nil, ValidationError("sku %s is inactive", code)
		}
		item, err := models.NewLineItem(sku, li.Cases, li.Trays, li.LooseUnits)
		if err != nil {
			return nil, ValidationError("line item %d: %v", i+1, err)
		}
		if err := item.Validate(); err != nil {
			return nil, ValidationError("line item %d: %v", i+1, err)
		}
		items = append(items, item)
	}

	now := s.Now()
	date := now.In(s.Location).Format(dateLayout)
	id := uuid.NewString()

	err = s.Store.Update(ctx, func(tx repository.Tx) error {
		daily, err := tx.NextSequence(dailyCounter(date, in.Kind))
		if err != nil {
			return err
		}
		global, err := tx.NextSequence(globalCounter)
		if err != nil {
			return err
		}
		candidate := &models.Voucher{
			ID:              id,
			Kind:            in.Kind,
			State:           models.VoucherStatePending,
			OriginID:        in.OriginID,
			OriginName:      in.OriginName,
			DestinationID:   in.DestinationID,
			DestinationName: in.DestinationName,
			LineItems:       items,
			Date:            date,
			DailySequence:   daily,
			GlobalSequence:  global,
			Reference:       models.BuildReference(in.Kind, date, daily),
			CreatedBy:       actor.DisplayName(),
			CreatedAt:       now.UTC(),
		}
		if err := candidate.Check(); err != nil {
			return ValidationError("%v", err)
		}
		if err := tx.SaveVoucher(candidate); err != nil {
			return fmt.Errorf("save voucher: %w", err)
		}
		v = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{
		"voucher_id": v.ID,
		"reference":  v.Reference,
		"kind":       v.Kind,
		"units":      v.TotalUnits(),
	}).Info("voucher.created")
	s.publish(ctx, events.Event{
		Type:      events.VoucherCreated,
		ActorName: actor.DisplayName(),
		VoucherID: v.ID,
		Reference: v.Reference,
	})
	return v, nil
}

// Validate approves a pending voucher. Dirty intakes open a cleaning lot and
// credit the cleaning room; every other voucher writes one warehouse entry per line item.
// The state flip, ledger entries, snapshots and lot commit together.
func (s *VoucherService) Validate(ctx context.Context, id string, actor models.Actor, notes string) (res *ValidationResult, err error) {
	ctx, span := startSpan(ctx, "voucher.validate", attribute.String("voucher.id", id))
	defer func() { endSpan(span, err) }()

	if err := requireRole(actor, models.RoleSupervisor, "validating a voucher"); err != nil {
		return nil, err
	}

	var changes []events.StockChange
	err = s.Store.Update(ctx, func(tx repository.Tx) error {
		res, changes = nil, nil

		v, err := tx.GetVoucher(id)
		if errors.Is(err, repository.ErrNotFound) {
			return NotFound("voucher %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("get voucher %s: %w", id, err)
		}
		if !v.IsPending() {
			return InvalidState("voucher %s is not pending (state %s)", v.Reference, v.State)
		}

		now := s.Now().UTC()
		v.State = models.VoucherStateValidated
		v.ValidatedBy = ptr(actor.DisplayName())
		v.ValidatedAt = &now
		if note := strings.TrimSpace(notes); note != "" {
			v.ValidationNote = &note
		}

		result := &ValidationResult{Voucher: v}
		var entries []models.Movement
		if v.IsDirtyIntake(s.Catalog.DirtySkus()) {
			lot, lotEntries, err := s.lots.open(tx, v, actor)
			if err != nil {
				return err
			}
			v.LotID = ptr(lot.ID)
			result.LotID = ptr(lot.ID)
			entries = lotEntries
		} else {
			kind := v.Kind.MovementKind()
			for _, li := range v.LineItems {
				e := s.ledger.NewEntry(kind, models.SpaceWarehouse, li.SkuCode, li.SkuName, kind.SignedQuantity(li.TotalUnits), actor, now)
				e.VoucherID = ptr(v.ID)
				e.VoucherReference = ptr(v.Reference)
				e.VoucherState = ptr(models.VoucherStateValidated)
				e.OriginName = ptr(v.OriginName)
				e.DestinationName = ptr(v.DestinationName)
				entries = append(entries, e)
			}
		}

		if err := v.Check(); err != nil {
			return ValidationError("%v", err)
		}
		if changes, err = s.ledger.Append(tx, entries); err != nil {
			return err
		}
		if err := tx.SaveVoucher(v); err != nil {
			return fmt.Errorf("save voucher: %w", err)
		}
		for _, e := range entries {
			result.LedgerEntryIDs = append(result.LedgerEntryIDs, e.ID)
		}
		res = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	fields := logrus.Fields{
		"voucher_id": res.Voucher.ID,
		"reference":  res.Voucher.Reference,
		"entries":    len(res.LedgerEntryIDs),
		"actor":      actor.DisplayName(),
	}
	if res.LotID != nil {
		fields["lot_id"] = *res.LotID
	}
	s.Log.WithFields(fields).Info("voucher.validated")

	e := events.Event{
		Type:        events.VoucherValidated,
		ActorName:   actor.DisplayName(),
		VoucherID:   res.Voucher.ID,
		Reference:   res.Voucher.Reference,
		MovementIDs: res.LedgerEntryIDs,
		Stock:       changes,
	}
	if res.LotID != nil {
		e.LotID = *res.LotID
		e.LotState = string(models.LotStateInSalaL)
	}
	s.publish(ctx, e)
	return res, nil
}

// Reject closes a pending voucher without any stock effect. Notes are required.
func (s *VoucherService) Reject(ctx context.Context, id string, actor models.Actor, notes string) (v *models.Voucher, err error) {
	ctx, span := startSpan(ctx, "voucher.reject", attribute.String("voucher.id", id))
	defer func() { endSpan(span, err) }()

	if err := requireRole(actor, models.RoleSupervisor, "rejecting a voucher"); err != nil {
		return nil, err
	}
	note := strings.TrimSpace(notes)
	if note == "" {
		return nil, ValidationError("notes are required to reject a voucher")
	}

	err = s.Store.Update(ctx, func(tx repository.Tx) error {
		current, err := tx.GetVoucher(id)
		if errors.Is(err, repository.ErrNotFound) {
			return NotFound("voucher %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("get voucher %s: %w", id, err)
		}
		if !current.IsPending() {
			return InvalidState("voucher %s is not pending (state %s)", current.Reference, current.State)
		}

		now := s.Now().UTC()
		current.State = models.VoucherStateRejected
		current.RejectedBy = ptr(actor.DisplayName())
		current.RejectedAt = &now
		current.RejectionNotes = &note
		if err := current.Check(); err != nil {
			return ValidationError("%v", err)
		}
		if err := tx.SaveVoucher(current); err != nil {
			return fmt.Errorf("save voucher: %w", err)
		}
		v = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{
		"voucher_id": v.ID,
		"reference":  v.Reference,
		"actor":      actor.DisplayName(),
	}).Info("voucher.rejected")
	s.publish(ctx, events.Event{
		Type:      events.VoucherRejected,
		ActorName: actor.DisplayName(),
		VoucherID: v.ID,
		Reference: v.Reference,
	})
	return v, nil
}

// Get returns one voucher
func (s *VoucherService) Get(ctx context.Context, id string) (*models.Voucher, error) {
	var v *models.Voucher
	err := s.Store.View(ctx, func(tx repository.Tx) error {
		var err error
		v, err = tx.GetVoucher(id)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NotFound("voucher %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get voucher %s: %w", id, err)
	}
	return v, nil
}

// List returns vouchers, newest first
func (s *VoucherService) List(ctx context.Context, f repository.VoucherFilter) ([]models.Voucher, error) {
	if f.State != "" && f.State != models.VoucherStatePending && !f.State.Terminal() {
		return nil, ValidationError("unknown voucher state %q", f.State)
	}
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, ValidationError("unknown voucher kind %q", f.Kind)
	}
	var out []models.Voucher
	err := s.Store.View(ctx, func(tx repository.Tx) error {
		var err error
		out, err = tx.ListVouchers(f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list vouchers: %w", err)
	}
	return out, nil
}
