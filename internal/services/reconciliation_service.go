package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"ovotrack/server/internal/events"
	"ovotrack/server/internal/models"
	"ovotrack/server/internal/repository"
	"ovotrack/server/internal/utils"
)

const (
	reconciliationLockKey = "ovotrack:reconciliation"
	reconciliationLockTTL = 15 * time.Minute
)

// ReconciliationReport summarizes one run
type ReconciliationReport struct {
	CorrectedEntries int           `json:"corrected_entries"`
	DeletedSnapshots int           `json:"deleted_snapshots"`
	RecomputedSkus   int           `json:"recomputed_skus"`
	SkippedEntries   int           `json:"skipped_entries"`
	Duration         time.Duration `json:"duration_ns"`
}

// DriftRow is a (space, sku) whose snapshot disagrees with the ledger
type DriftRow struct {
	Space    models.StockSpace `json:"space"`
	SkuCode  string            `json:"sku_code"`
	Snapshot int64             `json:"snapshot"`
	Ledger   int64             `json:"ledger"`
	Issue    string            `json:"issue"`
}

// Drift issues
const (
	DriftMismatch  = "mismatch"
	DriftMissing   = "missing"
	DriftOrphan    = "orphan"
	DriftMalformed = "malformed"
)

// ReconciliationService repairs the ledger sign convention and rebuilds every
// snapshot from the ledger. Each phase commits on its own; re-running converges.
type ReconciliationService struct {
	Deps
	ledger *LedgerService
	locker utils.Locker
}

// NewReconciliationService creates the service; runs are serialized through locker
func NewReconciliationService(deps Deps, ledger *LedgerService, locker utils.Locker) *ReconciliationService {
	if locker == nil {
		locker = utils.NewLocalLocker()
	}
	return &ReconciliationService{Deps: deps.withDefaults(), ledger: ledger, locker: locker}
}

// Run executes the four phases
func (s *ReconciliationService) Run(ctx context.Context, actor models.Actor) (report *ReconciliationReport, err error) {
	ctx, span := startSpan(ctx, "reconciliation.run")
	defer func() { endSpan(span, err) }()

	if err := requireRole(actor, models.RoleAdmin, "reconciliation"); err != nil {
		return nil, err
	}
	unlock, err := s.locker.Obtain(ctx, reconciliationLockKey, reconciliationLockTTL)
	if errors.Is(err, utils.ErrLockHeld) {
		return nil, InvalidState("reconciliation is already running")
	}
	if err != nil {
		return nil, fmt.Errorf("obtain reconciliation lock: %w", err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.Log.WithError(err).Warn("recon.unlock_failed")
		}
	}()

	started := s.Now()
	report = &ReconciliationReport{}
	log := s.Log.WithField("actor", actor.DisplayName())
	log.Info("recon.start")

	corrected, skipped, err := s.normalizeSigns(ctx, log)
	if err != nil {
		return nil, fmt.Errorf("sign normalization: %w", err)
	}
	report.CorrectedEntries, report.SkippedEntries = corrected, skipped
	log.WithFields(logrus.Fields{"phase": 1, "corrected": corrected, "skipped": skipped}).Info("recon.phase.done")

	tally, err := s.ledger.tally(ctx)
	if err != nil {
		return nil, err
	}

	deleted, err := s.discardInvalidSnapshots(ctx, tally, log)
	if err != nil {
		return nil, fmt.Errorf("snapshot cleanup: %w", err)
	}
	for _, keys := range deleted {
		report.DeletedSnapshots += len(keys)
	}
	log.WithFields(logrus.Fields{"phase": 2, "deleted": report.DeletedSnapshots}).Info("recon.phase.done")

	report.RecomputedSkus = tally.skuCount()
	log.WithFields(logrus.Fields{
		"phase":   3,
		"skus":    report.RecomputedSkus,
		"pairs":   len(tally.sums),
		"entries": tally.entries,
	}).Info("recon.phase.done")

	written := 0
	for _, space := range models.Spaces {
		sums, err := s.ledger.writeSnapshots(ctx, space, tally, deleted[space])
		if err != nil {
			return nil, fmt.Errorf("snapshot rewrite: %w", err)
		}
		written += len(sums)
	}
	log.WithFields(logrus.Fields{"phase": 4, "written": written}).Info("recon.phase.done")

	report.Duration = s.Now().Sub(started)
	log.WithFields(logrus.Fields{
		"corrected": report.CorrectedEntries,
		"deleted":   report.DeletedSnapshots,
		"skus":      report.RecomputedSkus,
		"skipped":   report.SkippedEntries,
		"duration":  report.Duration.String(),
	}).Info("recon.done")

	s.publish(ctx, events.Event{Type: events.ReconciliationCompleted, ActorName: actor.DisplayName()})
	return report, nil
}

// normalizeSigns flips entries whose sign contradicts their kind, one page per
// transaction. Malformed entries are skipped and logged.
func (s *ReconciliationService) normalizeSigns(ctx context.Context, log logrus.FieldLogger) (corrected, skipped int, err error) {
	cursor := ""
	for {
		var page repository.MovementPage
		var flipped int
		err := s.Store.Update(ctx, func(tx repository.Tx) error {
			flipped = 0
			var err error
			page, err = tx.ScanMovements(cursor, s.BatchSize)
			if err != nil {
				return err
			}
			for _, m := range page.Movements {
				if !m.SignViolation() {
					continue
				}
				if err := tx.SetMovementQuantity(m.ID, -m.Quantity); err != nil {
					return fmt.Errorf("flip %s: %w", m.ID, err)
				}
				flipped++
			}
			return nil
		})
		if err != nil {
			return corrected, skipped, err
		}
		corrected += flipped
		for _, bad := range page.Malformed {
			log.WithFields(logrus.Fields{"key": bad.Key, "reason": bad.Reason}).Warn("recon.entry.skipped")
		}
		skipped += len(page.Malformed)
		if page.Next == "" {
			return corrected, skipped, nil
		}
		cursor = page.Next
	}
}

// invalidSnapshotReason returns why a stored snapshot must be discarded, or ""
func invalidSnapshotReason(space models.StockSpace, rec repository.SnapshotRecord, t *ledgerTally) string {
	switch {
	case rec.Snapshot == nil:
		return "undecodable: " + rec.Malformed
	case rec.Key == "" || rec.Snapshot.SkuCode == "":
		return "empty sku"
	case rec.Snapshot.SkuCode != rec.Key || (rec.Snapshot.Space != "" && rec.Snapshot.Space != space):
		return "key does not match body"
	case !t.hasActivity(space, rec.Key):
		return "no ledger activity"
	case rec.Snapshot.Quantity < 0 && !t.negativeAdj[stockKey{space, rec.Key}]:
		return "negative without negative adjustment history"
	}
	return ""
}

// discardInvalidSnapshots deletes the snapshots invalidSnapshotReason rejects and
// returns their keys per space
func (s *ReconciliationService) discardInvalidSnapshots(ctx context.Context, t *ledgerTally, log logrus.FieldLogger) (map[models.StockSpace][]string, error) {
	deleted := make(map[models.StockSpace][]string)
	for _, space := range models.Spaces {
		var recs []repository.SnapshotRecord
		err := s.Store.View(ctx, func(tx repository.Tx) error {
			var err error
			recs, err = tx.ListSnapshots(space)
			return err
		})
		if err != nil {
			return deleted, err
		}

		var doomed []string
		for _, rec := range recs {
			if reason := invalidSnapshotReason(space, rec, t); reason != "" {
				log.WithFields(logrus.Fields{"space": space, "key": rec.Key, "reason": reason}).Info("recon.snapshot.discarded")
				doomed = append(doomed, rec.Key)
			}
		}

		for start := 0; start < len(doomed); start += s.BatchSize {
			chunk := doomed[start:min(start+s.BatchSize, len(doomed))]
			err := s.Store.Update(ctx, func(tx repository.Tx) error {
				for _, key := range chunk {
					if err := tx.DeleteSnapshot(space, key); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return deleted, err
			}
			deleted[space] = append(deleted[space], chunk...)
		}
	}
	return deleted, nil
}

// Drift compares every snapshot with its ledger sum without writing anything
func (s *ReconciliationService) Drift(ctx context.Context) (rows []DriftRow, err error) {
	ctx, span := startSpan(ctx, "reconciliation.drift")
	defer func() { endSpan(span, err) }()

	t, err := s.ledger.tally(ctx)
	if err != nil {
		return nil, err
	}
	rows = []DriftRow{}
	for _, space := range models.Spaces {
		var recs []repository.SnapshotRecord
		err := s.Store.View(ctx, func(tx repository.Tx) error {
			var err error
			recs, err = tx.ListSnapshots(space)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list snapshots %s: %w", space, err)
		}

		seen := make(map[string]bool, len(recs))
		for _, rec := range recs {
			seen[rec.Key] = true
			sum := t.sums[stockKey{space, rec.Key}]
			switch {
			case rec.Snapshot == nil || rec.Snapshot.SkuCode != rec.Key:
				rows = append(rows, DriftRow{Space: space, SkuCode: rec.Key, Ledger: sum, Issue: DriftMalformed})
			case !t.hasActivity(space, rec.Key) && rec.Snapshot.Quantity != 0:
				rows = append(rows, DriftRow{Space: space, SkuCode: rec.Key, Snapshot: rec.Snapshot.Quantity, Issue: DriftOrphan})
			case rec.Snapshot.Quantity != sum:
				rows = append(rows, DriftRow{Space: space, SkuCode: rec.Key, Snapshot: rec.Snapshot.Quantity, Ledger: sum, Issue: DriftMismatch})
			}
		}
		for k, sum := range t.sums {
			if k.space == space && !seen[k.sku] && sum != 0 {
				rows = append(rows, DriftRow{Space: space, SkuCode: k.sku, Ledger: sum, Issue: DriftMissing})
			}
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Space != rows[j].Space {
			return rows[i].Space < rows[j].Space
		}
		return rows[i].SkuCode < rows[j].SkuCode
	})
	span.SetAttributes(attribute.Int("drift.rows", len(rows)))
	return rows, nil
}
