package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"ovotrack/server/internal/models"
)

var (
	// ErrNotFound is returned when a keyed record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a record with the same key already exists
	ErrDuplicate = errors.New("record already exists")
	// ErrConflict is returned when a transaction kept conflicting after all retries
	ErrConflict = errors.New("transaction conflict")
	// ErrMalformed is returned when a stored record cannot be decoded
	ErrMalformed = errors.New("malformed record")
)

// Store is a transactional record store. Every command of the service runs as
// exactly one Update; either all of its writes commit or none do.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the set of record operations available inside a transaction.
// Reads made through Tx inside Update take part in conflict detection.
type Tx interface {
	GetVoucher(id string) (*models.Voucher, error)
	SaveVoucher(v *models.Voucher) error
	ListVouchers(f VoucherFilter) ([]models.Voucher, error)

	GetLot(id string) (*models.Lot, error)
	CreateLot(l *models.Lot) error
	SaveLot(l *models.Lot) error
	ListLots(f LotFilter) ([]models.Lot, error)

	AppendMovements(ms []models.Movement) error
	ListMovements(f MovementFilter) ([]models.Movement, error)
	// SumMovements adds up the well-formed entries of (space, sku). Inside Update
	// the read takes part in conflict detection like any other.
	SumMovements(space models.StockSpace, sku string) (int64, error)
	// ScanMovements returns up to limit entries in key order after the given cursor.
	ScanMovements(after string, limit int) (MovementPage, error)
	// SetMovementQuantity rewrites the quantity of an existing entry. Only the
	// reconciliation sign normalization may call it.
	SetMovementQuantity(id string, quantity int64) error

	GetSnapshot(space models.StockSpace, sku string) (*models.StockSnapshot, error)
	// AddToSnapshot applies delta to the snapshot, creating it at zero when absent,
	// and returns the new quantity.
	AddToSnapshot(space models.StockSpace, sku, skuName string, delta int64, at time.Time) (int64, error)
	SaveSnapshot(s *models.StockSnapshot) error
	DeleteSnapshot(space models.StockSpace, key string) error
	ListSnapshots(space models.StockSpace) ([]SnapshotRecord, error)

	// NextSequence atomically increments and returns the named counter (first value is 1)
	NextSequence(name string) (int64, error)
}

// MovementPage is one chunk of a full ledger scan. Next is empty at the end of the ledger.
type MovementPage struct {
	Movements []models.Movement
	Malformed []MalformedRecord
	Next      string
}

// MalformedRecord is a stored record that could not be decoded into a usable value
type MalformedRecord struct {
	Key    string
	Reason string
}

// SnapshotRecord is a stored snapshot together with the key it was found under.
// Snapshot is nil when the record body could not be decoded.
type SnapshotRecord struct {
	Key       string
	Snapshot  *models.StockSnapshot
	Malformed string
}

// VoucherFilter selects vouchers for listing; zero fields match everything
type VoucherFilter struct {
	State models.VoucherState
	Kind  models.VoucherKind
	Date  string
	Limit int
}

// Match reports whether v passes the filter
func (f VoucherFilter) Match(v *models.Voucher) bool {
	if f.State != "" && v.State != f.State {
		return false
	}
	if f.Kind != "" && v.Kind != f.Kind {
		return false
	}
	if f.Date != "" && v.Date != f.Date {
		return false
	}
	return true
}

// LotFilter selects lots for listing
type LotFilter struct {
	State models.LotState
	Limit int
}

// Match reports whether l passes the filter
func (f LotFilter) Match(l *models.Lot) bool {
	return f.State == "" || l.State == f.State
}

// MovementFilter selects ledger entries. Dates are inclusive YYYY-MM-DD bounds.
type MovementFilter struct {
	SkuCode   string
	VoucherID string
	LotID     string
	Kind      models.MovementKind
	Space     models.StockSpace
	From      string
	To        string
	Limit     int
	Ascending bool
}

// Match reports whether m passes the filter
func (f MovementFilter) Match(m *models.Movement) bool {
	if f.SkuCode != "" && m.SkuCode != f.SkuCode {
		return false
	}
	if f.VoucherID != "" && (m.VoucherID == nil || *m.VoucherID != f.VoucherID) {
		return false
	}
	if f.LotID != "" && (m.LotID == nil || *m.LotID != f.LotID) {
		return false
	}
	if f.Kind != "" && m.Kind != f.Kind {
		return false
	}
	if f.Space != "" && m.Space != f.Space {
		return false
	}
	if f.From != "" && m.Date < f.From {
		return false
	}
	if f.To != "" && m.Date > f.To {
		return false
	}
	return true
}

// sortMovements orders entries by creation time, then id, and applies the limit
func sortMovements(ms []models.Movement, f MovementFilter) []models.Movement {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if f.Ascending {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if f.Ascending {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})
	if f.Limit > 0 && len(ms) > f.Limit {
		ms = ms[:f.Limit]
	}
	return ms
}

func sortVouchers(vs []models.Voucher, limit int) []models.Voucher {
	sort.SliceStable(vs, func(i, j int) bool {
		return vs[i].GlobalSequence > vs[j].GlobalSequence
	})
	if limit > 0 && len(vs) > limit {
		vs = vs[:limit]
	}
	return vs
}

func sortLots(ls []models.Lot, limit int) []models.Lot {
	sort.SliceStable(ls, func(i, j int) bool {
		return ls[i].EnteredRoomAt.After(ls[j].EnteredRoomAt)
	})
	if limit > 0 && len(ls) > limit {
		ls = ls[:limit]
	}
	return ls
}

// checkMovement reports why a decoded entry cannot take part in stock sums
func checkMovement(m *models.Movement) string {
	switch {
	case m.ID == "":
		return "missing id"
	case m.SkuCode == "":
		return "missing sku code"
	case !m.Kind.Valid():
		return "unknown kind " + string(m.Kind)
	case !m.Space.Valid():
		return "unknown space " + string(m.Space)
	}
	return ""
}
