package services

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"ovotrack/server/internal/catalog"
	"ovotrack/server/internal/events"
	"ovotrack/server/internal/models"
	"ovotrack/server/internal/repository"
	"ovotrack/server/internal/utils"
)

var (
	operator   = models.Actor{ID: "u-op", Name: "Rosa", Role: models.RoleOperator}
	supervisor = models.Actor{ID: "u-sup", Name: "Luis", Role: models.RoleSupervisor}
	admin      = models.Actor{ID: "u-adm", Name: "Carmen", Role: models.RoleAdmin}
)

type fixture struct {
	deps     Deps
	db       *badger.DB
	store    *repository.BadgerStore
	events   *events.Recorder
	locker   *utils.LocalLocker
	ledger   *LedgerService
	lots     *LotService
	vouchers *VoucherService
	adjust   *AdjustmentService
	recon    *ReconciliationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	store := repository.NewBadgerStore(db, 10)
	t.Cleanup(func() { _ = store.Close() })

	lima, err := time.LoadLocation("America/Lima")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)

	rec := &events.Recorder{}
	deps := Deps{
		Store:     store,
		Catalog:   catalog.Default(),
		Publisher: rec,
		Log:       log,
		Location:  lima,
		Now:       func() time.Time { return time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC) },
		BatchSize: 2,
	}
	f := &fixture{deps: deps, db: db, store: store, events: rec, locker: utils.NewLocalLocker()}
	f.ledger = NewLedgerService(deps)
	f.lots = NewLotService(deps, f.ledger, models.WasteRoundNearest)
	f.vouchers = NewVoucherService(deps, f.ledger, f.lots)
	f.adjust = NewAdjustmentService(deps, f.ledger)
	f.recon = NewReconciliationService(deps, f.ledger, f.locker)
	return f
}

// createVoucher creates a pending voucher with a single line item
func (f *fixture) createVoucher(t *testing.T, kind models.VoucherKind, sku string, cases, trays, loose int64) *models.Voucher {
	t.Helper()
	v, err := f.vouchers.Create(context.Background(), CreateVoucherInput{
		Kind:            kind,
		OriginID:        "pab-3",
		OriginName:      "Pabellon 3",
		DestinationName: "Almacen central",
		LineItems:       []LineItemInput{{SkuCode: sku, Cases: cases, Trays: trays, LooseUnits: loose}},
	}, operator)
	if err != nil {
		t.Fatalf("create voucher: %v", err)
	}
	return v
}

func (f *fixture) validated(t *testing.T, kind models.VoucherKind, sku string, cases, trays, loose int64) *ValidationResult {
	t.Helper()
	v := f.createVoucher(t, kind, sku, cases, trays, loose)
	res, err := f.vouchers.Validate(context.Background(), v.ID, supervisor, "")
	if err != nil {
		t.Fatalf("validate voucher %s: %v", v.Reference, err)
	}
	return res
}

func (f *fixture) stock(t *testing.T, sku string, space models.StockSpace) int64 {
	t.Helper()
	q, err := f.ledger.GetStock(context.Background(), sku, space)
	if err != nil {
		t.Fatalf("get stock %s/%s: %v", space, sku, err)
	}
	return q
}

// rawSet writes a value under key bypassing the store, to simulate legacy data
func (f *fixture) rawSet(t *testing.T, key, val string) {
	t.Helper()
	err := f.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(val))
	})
	if err != nil {
		t.Fatalf("raw set %s: %v", key, err)
	}
}

// assertConsistent checks that every snapshot equals the sum of its ledger entries
func (f *fixture) assertConsistent(t *testing.T) {
	t.Helper()
	tally, err := f.ledger.tally(context.Background())
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	for _, space := range models.Spaces {
		snaps, err := f.ledger.ListStock(context.Background(), space)
		if err != nil {
			t.Fatalf("list stock: %v", err)
		}
		seen := map[string]bool{}
		for _, s := range snaps {
			seen[s.SkuCode] = true
			if want := tally.sums[stockKey{space, s.SkuCode}]; s.Quantity != want {
				t.Errorf("%s/%s snapshot = %d, ledger sum = %d", space, s.SkuCode, s.Quantity, want)
			}
		}
		for sku, sum := range tally.spaceSums(space) {
			if !seen[sku] && sum != 0 {
				t.Errorf("%s/%s has ledger sum %d but no snapshot", space, sku, sum)
			}
		}
	}
}

func assertCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	if !IsCode(err, code) {
		t.Fatalf("err = %v, want %s", err, code)
	}
}
