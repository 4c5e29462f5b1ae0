package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"ovotrack/server/internal/models"
)

func newTestStore(t *testing.T, retries int) *BadgerStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	store := NewBadgerStore(db, retries)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func movement(id string, kind models.MovementKind, space models.StockSpace, sku string, qty int64, at time.Time) models.Movement {
	return models.Movement{
		ID:        id,
		Kind:      kind,
		Space:     space,
		SkuCode:   sku,
		Quantity:  qty,
		Date:      at.Format("2006-01-02"),
		Time:      at.Format("15:04:05"),
		ActorName: "test",
		CreatedAt: at,
	}
}

func TestNextSequenceIncrements(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		var got int64
		err := store.Update(ctx, func(tx Tx) error {
			var err error
			got, err = tx.NextSequence("daily/2026-10-19/inbound")
			return err
		})
		if err != nil {
			t.Fatalf("NextSequence: %v", err)
		}
		if got != want {
			t.Fatalf("sequence = %d, want %d", got, want)
		}
	}
}

func TestConcurrentSequenceIsRetriedOnConflict(t *testing.T) {
	store := newTestStore(t, 100)
	ctx := context.Background()

	const workers, perWorker = 4, 20
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				errs <- store.Update(ctx, func(tx Tx) error {
					_, err := tx.NextSequence("global")
					return err
				})
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	var final int64
	_ = store.Update(ctx, func(tx Tx) error {
		var err error
		final, err = tx.NextSequence("global")
		return err
	})
	if final != workers*perWorker+1 {
		t.Fatalf("final sequence = %d, want %d", final, workers*perWorker+1)
	}
}

func TestUpdateErrorDiscardsWrites(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Update(ctx, func(tx Tx) error {
		if _, err := tx.AddToSnapshot(models.SpaceWarehouse, "BLA 1", "", 100, time.Now()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	err = store.View(ctx, func(tx Tx) error {
		_, err := tx.GetSnapshot(models.SpaceWarehouse, "BLA 1")
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("snapshot survived a failed transaction: %v", err)
	}
}

func TestAddToSnapshotAccumulatesPerSpace(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()
	now := time.Now()

	err := store.Update(ctx, func(tx Tx) error {
		if _, err := tx.AddToSnapshot(models.SpaceWarehouse, "BLA 1", "Blanco", 100, now); err != nil {
			return err
		}
		if _, err := tx.AddToSnapshot(models.SpaceCleaningRoom, "BLA 1", "Blanco", 7, now); err != nil {
			return err
		}
		q, err := tx.AddToSnapshot(models.SpaceWarehouse, "BLA 1", "", -130, now)
		if err != nil {
			return err
		}
		if q != -30 {
			t.Errorf("warehouse quantity = %d, want -30", q)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	err = store.View(ctx, func(tx Tx) error {
		recs, err := tx.ListSnapshots(models.SpaceCleaningRoom)
		if err != nil {
			return err
		}
		if len(recs) != 1 || recs[0].Key != "BLA 1" || recs[0].Snapshot.Quantity != 7 {
			t.Errorf("cleaning room snapshots = %+v", recs)
		}
		s, err := tx.GetSnapshot(models.SpaceWarehouse, "BLA 1")
		if err != nil {
			return err
		}
		if s.SkuName != "Blanco" {
			t.Errorf("sku name = %q, want Blanco", s.SkuName)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestAppendMovementsRejectsDuplicateID(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()
	m := movement("m1", models.MovementKindInbound, models.SpaceWarehouse, "BLA 1", 10, time.Now())

	if err := store.Update(ctx, func(tx Tx) error { return tx.AppendMovements([]models.Movement{m}) }); err != nil {
		t.Fatalf("first append: %v", err)
	}
	err := store.Update(ctx, func(tx Tx) error { return tx.AppendMovements([]models.Movement{m}) })
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestListMovementsFiltersAndOrders(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()
	base := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	voucherID := "v1"

	ms := []models.Movement{
		movement("a", models.MovementKindInbound, models.SpaceWarehouse, "BLA 1", 10, base),
		movement("b", models.MovementKindOutbound, models.SpaceWarehouse, "BLA 1", -4, base.Add(time.Minute)),
		movement("c", models.MovementKindInbound, models.SpaceWarehouse, "BLA 10", 5, base.Add(2*time.Minute)),
		movement("d", models.MovementKindInbound, models.SpaceCleaningRoom, "BLA 1", 3, base.Add(3*time.Minute)),
	}
	ms[1].VoucherID = &voucherID
	if err := store.Update(ctx, func(tx Tx) error { return tx.AppendMovements(ms) }); err != nil {
		t.Fatalf("append: %v", err)
	}

	var bySku, byVoucher, asc []models.Movement
	err := store.View(ctx, func(tx Tx) error {
		var err error
		if bySku, err = tx.ListMovements(MovementFilter{SkuCode: "BLA 1", Space: models.SpaceWarehouse}); err != nil {
			return err
		}
		if byVoucher, err = tx.ListMovements(MovementFilter{VoucherID: voucherID}); err != nil {
			return err
		}
		asc, err = tx.ListMovements(MovementFilter{SkuCode: "BLA 1", Ascending: true, Limit: 2})
		return err
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}

	if len(bySku) != 2 || bySku[0].ID != "b" || bySku[1].ID != "a" {
		t.Fatalf("by sku = %v", ids(bySku))
	}
	if len(byVoucher) != 1 || byVoucher[0].ID != "b" {
		t.Fatalf("by voucher = %v", ids(byVoucher))
	}
	if len(asc) != 2 || asc[0].ID != "a" || asc[1].ID != "b" {
		t.Fatalf("ascending = %v", ids(asc))
	}
}

func TestScanMovementsPagesAndReportsMalformed(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()
	now := time.Now()

	ms := []models.Movement{
		movement("01", models.MovementKindInbound, models.SpaceWarehouse, "BLA 1", 1, now),
		movement("02", models.MovementKindInbound, models.SpaceWarehouse, "BLA 1", -2, now),
		movement("04", models.MovementKindOutbound, models.SpaceWarehouse, "BLA 2", -3, now),
	}
	if err := store.Update(ctx, func(tx Tx) error { return tx.AppendMovements(ms) }); err != nil {
		t.Fatalf("append: %v", err)
	}
	err := store.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixMovement+"03"), []byte("{not json"))
	})
	if err != nil {
		t.Fatalf("seed malformed: %v", err)
	}

	var good []string
	var bad []MalformedRecord
	cursor, pages := "", 0
	for {
		var page MovementPage
		err := store.View(ctx, func(tx Tx) error {
			var err error
			page, err = tx.ScanMovements(cursor, 2)
			return err
		})
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		pages++
		good = append(good, ids(page.Movements)...)
		bad = append(bad, page.Malformed...)
		if page.Next == "" {
			break
		}
		cursor = page.Next
	}

	if pages != 2 {
		t.Fatalf("pages = %d, want 2", pages)
	}
	if len(good) != 3 || good[0] != "01" || good[1] != "02" || good[2] != "04" {
		t.Fatalf("scanned = %v", good)
	}
	if len(bad) != 1 || bad[0].Key != "03" {
		t.Fatalf("malformed = %+v", bad)
	}
}

func TestSetMovementQuantity(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()
	m := movement("x", models.MovementKindInbound, models.SpaceWarehouse, "BLA 1", -50, time.Now())
	_ = store.Update(ctx, func(tx Tx) error { return tx.AppendMovements([]models.Movement{m}) })

	if err := store.Update(ctx, func(tx Tx) error { return tx.SetMovementQuantity("x", 50) }); err != nil {
		t.Fatalf("SetMovementQuantity: %v", err)
	}
	err := store.Update(ctx, func(tx Tx) error { return tx.SetMovementQuantity("missing", 1) })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	var got []models.Movement
	_ = store.View(ctx, func(tx Tx) error {
		var err error
		got, err = tx.ListMovements(MovementFilter{SkuCode: "BLA 1"})
		return err
	})
	if len(got) != 1 || got[0].Quantity != 50 {
		t.Fatalf("movements = %+v", got)
	}
}

func TestCreateLotIsOneToOne(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()
	lot := &models.Lot{ID: "v1", LotCode: "L-ING-20261019-001", State: models.LotStateInSalaL, SourceVoucherID: "v1"}

	if err := store.Update(ctx, func(tx Tx) error { return tx.CreateLot(lot) }); err != nil {
		t.Fatalf("CreateLot: %v", err)
	}
	err := store.Update(ctx, func(tx Tx) error { return tx.CreateLot(lot) })
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func ids(ms []models.Movement) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}

func TestSumMovementsPerSpaceSkipsMalformed(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()
	now := time.Now()

	ms := []models.Movement{
		movement("a", models.MovementKindInbound, models.SpaceWarehouse, "BLA 1", 1800, now),
		movement("b", models.MovementKindOutbound, models.SpaceWarehouse, "BLA 1", -180, now),
		movement("c", models.MovementKindInbound, models.SpaceCleaningRoom, "BLA 1", 90, now),
		movement("d", models.MovementKindInbound, models.SpaceWarehouse, "BLA 10", 5, now),
	}
	if err := store.Update(ctx, func(tx Tx) error { return tx.AppendMovements(ms) }); err != nil {
		t.Fatalf("append: %v", err)
	}
	err := store.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(prefixMovement+"e"), []byte("{not json")); err != nil {
			return err
		}
		return txn.Set([]byte(prefixIdxSku+"BLA 1/e"), nil)
	})
	if err != nil {
		t.Fatalf("seed malformed: %v", err)
	}

	var warehouse, room, missing int64
	err = store.View(ctx, func(tx Tx) error {
		var err error
		if warehouse, err = tx.SumMovements(models.SpaceWarehouse, "BLA 1"); err != nil {
			return err
		}
		if room, err = tx.SumMovements(models.SpaceCleaningRoom, "BLA 1"); err != nil {
			return err
		}
		missing, err = tx.SumMovements(models.SpaceWarehouse, "COL 1")
		return err
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if warehouse != 1620 || room != 90 || missing != 0 {
		t.Fatalf("sums = %d/%d/%d, want 1620/90/0", warehouse, room, missing)
	}
}

func TestGetSnapshotReportsMalformed(t *testing.T) {
	store := newTestStore(t, 0)
	err := store.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotKey(models.SpaceWarehouse, "BROKEN")), []byte("{not json"))
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	err = store.View(context.Background(), func(tx Tx) error {
		_, err := tx.GetSnapshot(models.SpaceWarehouse, "BROKEN")
		return err
	})
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestSnapshotRewriteRetriesAfterConcurrentAppend(t *testing.T) {
	store := newTestStore(t, 3)
	ctx := context.Background()
	now := time.Now()

	seed := movement("a", models.MovementKindInbound, models.SpaceWarehouse, "BLA 1", 1800, now)
	err := store.Update(ctx, func(tx Tx) error {
		if err := tx.AppendMovements([]models.Movement{seed}); err != nil {
			return err
		}
		_, err := tx.AddToSnapshot(models.SpaceWarehouse, "BLA 1", "", 1800, now)
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	attempts := 0
	err = store.Update(ctx, func(tx Tx) error {
		attempts++
		if _, err := tx.GetSnapshot(models.SpaceWarehouse, "BLA 1"); err != nil {
			return err
		}
		sum, err := tx.SumMovements(models.SpaceWarehouse, "BLA 1")
		if err != nil {
			return err
		}
		if attempts == 1 {
			extra := movement("b", models.MovementKindInbound, models.SpaceWarehouse, "BLA 1", 180, now)
			err := store.Update(ctx, func(other Tx) error {
				if err := other.AppendMovements([]models.Movement{extra}); err != nil {
					return err
				}
				_, err := other.AddToSnapshot(models.SpaceWarehouse, "BLA 1", "", 180, now)
				return err
			})
			if err != nil {
				return err
			}
		}
		return tx.SaveSnapshot(&models.StockSnapshot{Space: models.SpaceWarehouse, SkuCode: "BLA 1", Quantity: sum, UpdatedAt: now})
	})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}

	var snap *models.StockSnapshot
	_ = store.View(ctx, func(tx Tx) error {
		var err error
		snap, err = tx.GetSnapshot(models.SpaceWarehouse, "BLA 1")
		return err
	})
	if snap == nil || snap.Quantity != 1980 {
		t.Fatalf("snapshot = %+v, want 1980", snap)
	}
}
