package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"go.opentelemetry.io/otel/attribute"

	"ovotrack/server/internal/events"
	"ovotrack/server/internal/models"
	"ovotrack/server/internal/repository"
)

// LedgerService owns the movement ledger and the stock snapshots derived from it
type LedgerService struct {
	Deps
}

// NewLedgerService creates the ledger service
func NewLedgerService(deps Deps) *LedgerService {
	return &LedgerService{Deps: deps.withDefaults()}
}

type stockKey struct {
	space models.StockSpace
	sku   string
}

// NewEntry builds an unsaved ledger entry stamped with actor and plant-local date/time
func (s *LedgerService) NewEntry(kind models.MovementKind, space models.StockSpace, skuCode, skuName string, quantity int64, actor models.Actor, at time.Time) models.Movement {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	local := at.In(s.Location)
	return models.Movement{
		ID:        id.String(),
		Kind:      kind,
		Space:     space,
		SkuCode:   skuCode,
		SkuName:   skuName,
		Quantity:  quantity,
		Date:      local.Format(dateLayout),
		Time:      local.Format("15:04:05"),
		ActorID:   actor.ID,
		ActorName: actor.DisplayName(),
		CreatedAt: at.UTC(),
	}
}

// Append writes entries and applies their deltas to the snapshots inside tx.
// It returns the resulting snapshot quantity of every touched (space, sku).
func (s *LedgerService) Append(tx repository.Tx, entries []models.Movement) ([]events.StockChange, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	var order []stockKey
	deltas := make(map[stockKey]int64)
	names := make(map[stockKey]string)
	for i := range entries {
		m := &entries[i]
		if err := m.Validate(); err != nil {
			return nil, ValidationError("ledger entry %d: %v", i, err)
		}
		if m.ID == "" {
			return nil, ValidationError("ledger entry %d has no id", i)
		}
		k := stockKey{m.Space, m.SkuCode}
		if _, seen := deltas[k]; !seen {
			order = append(order, k)
		}
		deltas[k] += m.Quantity
		if m.SkuName != "" {
			names[k] = m.SkuName
		}
	}

	if err := tx.AppendMovements(entries); err != nil {
		return nil, fmt.Errorf("append ledger entries: %w", err)
	}

	at := entries[len(entries)-1].CreatedAt
	changes := make([]events.StockChange, 0, len(order))
	for _, k := range order {
		q, err := tx.AddToSnapshot(k.space, k.sku, names[k], deltas[k], at)
		if err != nil {
			return nil, fmt.Errorf("update snapshot %s/%s: %w", k.space, k.sku, err)
		}
		if q < 0 {
			s.Log.WithFields(logrus.Fields{
				"space":    k.space,
				"sku":      k.sku,
				"delta":    deltas[k],
				"quantity": q,
			}).Warn("ledger.snapshot.negative")
		}
		changes = append(changes, events.StockChange{Space: string(k.space), SkuCode: k.sku, Quantity: q})
	}
	return changes, nil
}

// GetStock reads the snapshot quantity; an absent snapshot is zero
func (s *LedgerService) GetStock(ctx context.Context, skuCode string, space models.StockSpace) (int64, error) {
	if skuCode == "" {
		return 0, ValidationError("sku code is required")
	}
	if !space.Valid() {
		return 0, ValidationError("unknown stock space %q", space)
	}
	var qty int64
	err := s.Store.View(ctx, func(tx repository.Tx) error {
		snap, err := tx.GetSnapshot(space, skuCode)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		qty = snap.Quantity
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("get stock %s/%s: %w", space, skuCode, err)
	}
	return qty, nil
}

// ListStock returns every decodable snapshot of a space
func (s *LedgerService) ListStock(ctx context.Context, space models.StockSpace) ([]models.StockSnapshot, error) {
	if !space.Valid() {
		return nil, ValidationError("unknown stock space %q", space)
	}
	var out []models.StockSnapshot
	err := s.Store.View(ctx, func(tx repository.Tx) error {
		recs, err := tx.ListSnapshots(space)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, r := range recs {
			if r.Snapshot != nil {
				out = append(out, *r.Snapshot)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list stock %s: %w", space, err)
	}
	return out, nil
}

// History returns ledger entries for a SKU, voucher or lot, newest first unless Ascending
func (s *LedgerService) History(ctx context.Context, f repository.MovementFilter) ([]models.Movement, error) {
	if f.SkuCode == "" && f.VoucherID == "" && f.LotID == "" {
		return nil, ValidationError("a sku code, voucher id or lot id is required")
	}
	if f.Space != "" && !f.Space.Valid() {
		return nil, ValidationError("unknown stock space %q", f.Space)
	}
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, ValidationError("unknown movement kind %q", f.Kind)
	}
	for _, d := range []string{f.From, f.To} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, d); err != nil {
			return nil, ValidationError("date %q is not YYYY-MM-DD", d)
		}
	}
	if f.Limit < 0 {
		return nil, ValidationError("limit must not be negative")
	}

	var out []models.Movement
	err := s.Store.View(ctx, func(tx repository.Tx) error {
		var err error
		out, err = tx.ListMovements(f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ledger history: %w", err)
	}
	return out, nil
}

// ledgerTally is the result of one full pass over the ledger
type ledgerTally struct {
	sums        map[stockKey]int64
	names       map[stockKey]string
	negativeAdj map[stockKey]bool
	entries     int
	malformed   []repository.MalformedRecord
}

func (t *ledgerTally) spaceSums(space models.StockSpace) map[string]int64 {
	out := make(map[string]int64)
	for k, v := range t.sums {
		if k.space == space {
			out[k.sku] = v
		}
	}
	return out
}

// skuCount is the number of distinct SKU codes with ledger activity in any space
func (t *ledgerTally) skuCount() int {
	skus := make(map[string]bool)
	for k := range t.sums {
		skus[k.sku] = true
	}
	return len(skus)
}

func (t *ledgerTally) hasActivity(space models.StockSpace, sku string) bool {
	_, ok := t.sums[stockKey{space, sku}]
	return ok
}

// tally sums the whole ledger per (space, sku), one page per read transaction
func (s *LedgerService) tally(ctx context.Context) (*ledgerTally, error) {
	t := &ledgerTally{
		sums:        make(map[stockKey]int64),
		names:       make(map[stockKey]string),
		negativeAdj: make(map[stockKey]bool),
	}
	cursor := ""
	for {
		var page repository.MovementPage
		err := s.Store.View(ctx, func(tx repository.Tx) error {
			var err error
			page, err = tx.ScanMovements(cursor, s.BatchSize)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		for _, m := range page.Movements {
			k := stockKey{m.Space, m.SkuCode}
			t.sums[k] += m.Quantity
			if m.SkuName != "" {
				t.names[k] = m.SkuName
			}
			if m.Kind == models.MovementKindAdjustment && m.Quantity < 0 {
				t.negativeAdj[k] = true
			}
			t.entries++
		}
		t.malformed = append(t.malformed, page.Malformed...)
		if page.Next == "" {
			return t, nil
		}
		cursor = page.Next
	}
}

// writeSnapshots overwrites every snapshot of space with its ledger sum and
// creates the missing ones with a non-zero sum. Candidate keys are the SKUs of
// t, the snapshots stored now and extra. Each chunk re-reads the ledger sum and
// the snapshot inside the transaction that writes it, so an append committed
// after t was taken is still counted or forces a retry.
func (s *LedgerService) writeSnapshots(ctx context.Context, space models.StockSpace, t *ledgerTally, extra []string) (map[string]int64, error) {
	var existing []repository.SnapshotRecord
	err := s.Store.View(ctx, func(tx repository.Tx) error {
		var err error
		existing, err = tx.ListSnapshots(space)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots %s: %w", space, err)
	}

	names := make(map[string]string)
	candidates := make(map[string]bool)
	for _, rec := range existing {
		if rec.Key == "" {
			continue
		}
		candidates[rec.Key] = true
		if rec.Snapshot != nil {
			names[rec.Key] = rec.Snapshot.SkuName
		}
	}
	for k := range t.sums {
		if k.space == space {
			candidates[k.sku] = true
		}
	}
	for _, sku := range extra {
		if sku != "" {
			candidates[sku] = true
		}
	}
	for k, name := range t.names {
		if k.space == space && name != "" {
			names[k.sku] = name
		}
	}
	keys := make([]string, 0, len(candidates))
	for sku := range candidates {
		keys = append(keys, sku)
	}
	sort.Strings(keys)

	at := s.Now().UTC()
	sums := make(map[string]int64, len(keys))
	for start := 0; start < len(keys); start += s.BatchSize {
		chunk := keys[start:min(start+s.BatchSize, len(keys))]
		var written map[string]int64
		err := s.Store.Update(ctx, func(tx repository.Tx) error {
			written = make(map[string]int64, len(chunk))
			for _, sku := range chunk {
				current, err := tx.GetSnapshot(space, sku)
				malformed := errors.Is(err, repository.ErrMalformed)
				if err != nil && !malformed && !errors.Is(err, repository.ErrNotFound) {
					return err
				}
				sum, err := tx.SumMovements(space, sku)
				if err != nil {
					return err
				}
				if current == nil && !malformed && sum == 0 {
					continue
				}
				name := names[sku]
				if name == "" && current != nil {
					name = current.SkuName
				}
				snap := models.StockSnapshot{Space: space, SkuCode: sku, SkuName: name, Quantity: sum, UpdatedAt: at}
				if err := tx.SaveSnapshot(&snap); err != nil {
					return err
				}
				written[sku] = sum
			}
			return nil
		})
		if err != nil {
			return sums, fmt.Errorf("write snapshots %s: %w", space, err)
		}
		for sku, sum := range written {
			sums[sku] = sum
		}
	}
	return sums, nil
}

// RecomputeAllSnapshots rebuilds the snapshots of space from the full ledger and
// returns the per-SKU sums
func (s *LedgerService) RecomputeAllSnapshots(ctx context.Context, space models.StockSpace) (sums map[string]int64, err error) {
	ctx, span := startSpan(ctx, "ledger.recompute", attribute.String("space", string(space)))
	defer func() { endSpan(span, err) }()

	if !space.Valid() {
		return nil, ValidationError("unknown stock space %q", space)
	}
	t, err := s.tally(ctx)
	if err != nil {
		return nil, err
	}
	written, err := s.writeSnapshots(ctx, space, t, nil)
	if err != nil {
		return nil, err
	}
	s.Log.WithFields(logrus.Fields{
		"space":     space,
		"entries":   t.entries,
		"snapshots": len(written),
		"malformed": len(t.malformed),
	}).Info("ledger.recomputed")
	return written, nil
}

var ledgerHeaders = []interface{}{
	"Date", "Time", "Kind", "Space", "SKU", "SKU name", "Quantity",
	"Voucher", "Lot", "Origin", "Destination", "Reason", "Actor",
}

// ExportHistoryXLSX writes the filtered ledger as an Excel workbook
func (s *LedgerService) ExportHistoryXLSX(ctx context.Context, f repository.MovementFilter, w io.Writer) error {
	entries, err := s.History(ctx, f)
	if err != nil {
		return err
	}

	book := excelize.NewFile()
	defer book.Close()

	const sheet = "Ledger"
	idx, err := book.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	book.SetActiveSheet(idx)
	if err := book.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}
	if err := book.SetSheetRow(sheet, "A1", &ledgerHeaders); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, m := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			m.Date, m.Time, string(m.Kind), string(m.Space), m.SkuCode, m.SkuName, m.Quantity,
			deref(m.VoucherReference), deref(m.LotCode), deref(m.OriginName),
			deref(m.DestinationName), deref(m.Reason), m.ActorName,
		}
		if err := book.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := book.SetColWidth(sheet, "A", "M", 16); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	if err := book.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr[T any](v T) *T {
	return &v
}
