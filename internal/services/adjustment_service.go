package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"ovotrack/server/internal/events"
	"ovotrack/server/internal/models"
	"ovotrack/server/internal/repository"
)

// AdjustmentMode selects how the magnitude of an adjustment is applied
type AdjustmentMode string

const (
	AdjustIncrement AdjustmentMode = "increment"
	AdjustDecrement AdjustmentMode = "decrement"
	AdjustSetExact  AdjustmentMode = "setExact"
)

// AdjustmentInput is a manual correction of one snapshot
type AdjustmentInput struct {
	SkuCode   string            `json:"sku_code" validate:"required"`
	Space     models.StockSpace `json:"space"`
	Mode      AdjustmentMode    `json:"mode" validate:"required,oneof=increment decrement setExact"`
	Magnitude int64             `json:"magnitude"`
	Reason    string            `json:"reason"`
}

// AdjustmentResult reports the delta written; Entry is nil when the delta was zero
type AdjustmentResult struct {
	Delta    int64            `json:"delta"`
	Quantity int64            `json:"quantity"`
	Entry    *models.Movement `json:"entry,omitempty"`
}

// AdjustmentService applies privileged out-of-band stock corrections
type AdjustmentService struct {
	Deps
	ledger *LedgerService
}

// NewAdjustmentService creates the adjustment service
func NewAdjustmentService(deps Deps, ledger *LedgerService) *AdjustmentService {
	return &AdjustmentService{Deps: deps.withDefaults(), ledger: ledger}
}

// Apply writes one adjustment entry. setExact computes its delta against the
// snapshot read in the same transaction.
func (s *AdjustmentService) Apply(ctx context.Context, in AdjustmentInput, actor models.Actor) (res *AdjustmentResult, err error) {
	ctx, span := startSpan(ctx, "stock.adjust",
		attribute.String("sku", in.SkuCode), attribute.String("mode", string(in.Mode)))
	defer func() { endSpan(span, err) }()

	if err := requireRole(actor, models.RoleAdmin, "a stock adjustment"); err != nil {
		return nil, err
	}
	if err := checkInput(in); err != nil {
		return nil, err
	}
	if in.Space == "" {
		in.Space = models.SpaceWarehouse
	}
	if !in.Space.Valid() {
		return nil, ValidationError("unknown stock space %q", in.Space)
	}
	if in.Magnitude < 0 {
		return nil, ValidationError("magnitude must not be negative")
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, ValidationError("a reason is required for a stock adjustment")
	}
	code := strings.TrimSpace(in.SkuCode)
	sku, err := s.Catalog.Lookup(code)
	if err != nil {
		return nil, NotFound("sku %s not found", code)
	}

	var changes []events.StockChange
	err = s.Store.Update(ctx, func(tx repository.Tx) error {
		res, changes = nil, nil

		var current int64
		snap, err := tx.GetSnapshot(in.Space, sku.Code)
		switch {
		case err == nil:
			current = snap.Quantity
		case errors.Is(err, repository.ErrNotFound):
		default:
			return fmt.Errorf("get snapshot: %w", err)
		}

		var delta int64
		switch in.Mode {
		case AdjustIncrement:
			delta = in.Magnitude
		case AdjustDecrement:
			delta = -in.Magnitude
		case AdjustSetExact:
			delta = in.Magnitude - current
		}
		if delta == 0 {
			res = &AdjustmentResult{Delta: 0, Quantity: current}
			return nil
		}

		entry := s.ledger.NewEntry(models.MovementKindAdjustment, in.Space, sku.Code, sku.Name, delta, actor, s.Now())
		entry.Reason = &reason
		if changes, err = s.ledger.Append(tx, []models.Movement{entry}); err != nil {
			return err
		}
		res = &AdjustmentResult{Delta: delta, Quantity: changes[0].Quantity, Entry: &entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Entry == nil {
		return res, nil
	}

	s.Log.WithFields(logrus.Fields{
		"sku":    sku.Code,
		"space":  in.Space,
		"mode":   in.Mode,
		"delta":  res.Delta,
		"reason": reason,
		"actor":  actor.DisplayName(),
	}).Info("stock.adjusted")
	s.publish(ctx, events.Event{
		Type:        events.StockAdjusted,
		ActorName:   actor.DisplayName(),
		MovementIDs: []string{res.Entry.ID},
		Stock:       changes,
	})
	return res, nil
}
