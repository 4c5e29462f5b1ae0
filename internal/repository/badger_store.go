package repository

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"ovotrack/server/internal/models"
)

const (
	prefixVoucher    = "voucher/"
	prefixLot        = "lot/"
	prefixMovement   = "movement/"
	prefixSnapshot   = "snapshot/"
	prefixSequence   = "seq/"
	prefixIdxSku     = "idx/movement/sku/"
	prefixIdxVoucher = "idx/movement/voucher/"
	prefixIdxLot     = "idx/movement/lot/"
)

const defaultStoreRetries = 5

// BadgerStore keeps every record in an embedded badger database.
// Badger transactions are serializable; a commit that conflicts with a
// concurrent one is retried so that the closure re-checks its preconditions.
type BadgerStore struct {
	db         *badger.DB
	maxRetries int
}

// NewBadgerStore wraps an open badger database
func NewBadgerStore(db *badger.DB, maxRetries int) *BadgerStore {
	if maxRetries <= 0 {
		maxRetries = defaultStoreRetries
	}
	return &BadgerStore{db: db, maxRetries: maxRetries}
}

// Update runs fn in a read-write transaction, retrying on write conflicts
func (s *BadgerStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			return fn(&badgerTx{txn: txn})
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrConflict, s.maxRetries+1, err)
}

// View runs fn in a read-only transaction
func (s *BadgerStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

// Close closes the underlying database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

type badgerTx struct {
	txn *badger.Txn
}

func (t *badgerTx) getJSON(key string, dst any) error {
	item, err := t.txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, dst); err != nil {
			return fmt.Errorf("decode %s: %w: %v", key, ErrMalformed, err)
		}
		return nil
	})
}

func (t *badgerTx) exists(key string) (bool, error) {
	_, err := t.txn.Get([]byte(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("get %s: %w", key, err)
}

func (t *badgerTx) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := t.txn.Set([]byte(key), data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// keys collects every key under prefix. The iterator is closed before the
// caller issues further reads or writes on the transaction.
func (t *badgerTx) keys(prefix string) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var out [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		out = append(out, it.Item().KeyCopy(nil))
	}
	return out
}

// values walks every key/value pair under prefix
func (t *badgerTx) values(prefix string, fn func(key string, val []byte) error) error {
	it := t.txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: []byte(prefix)})
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := string(item.Key())
		if err := item.Value(func(val []byte) error { return fn(key, val) }); err != nil {
			return err
		}
	}
	return nil
}

func (t *badgerTx) GetVoucher(id string) (*models.Voucher, error) {
	var v models.Voucher
	if err := t.getJSON(prefixVoucher+id, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (t *badgerTx) SaveVoucher(v *models.Voucher) error {
	if v.ID == "" {
		return errors.New("voucher without id")
	}
	return t.setJSON(prefixVoucher+v.ID, v)
}

func (t *badgerTx) ListVouchers(f VoucherFilter) ([]models.Voucher, error) {
	var out []models.Voucher
	err := t.values(prefixVoucher, func(key string, val []byte) error {
		var v models.Voucher
		if err := json.Unmarshal(val, &v); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if f.Match(&v) {
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sortVouchers(out, f.Limit), nil
}

func (t *badgerTx) GetLot(id string) (*models.Lot, error) {
	var l models.Lot
	if err := t.getJSON(prefixLot+id, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (t *badgerTx) CreateLot(l *models.Lot) error {
	found, err := t.exists(prefixLot + l.ID)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("lot %s: %w", l.ID, ErrDuplicate)
	}
	return t.setJSON(prefixLot+l.ID, l)
}

func (t *badgerTx) SaveLot(l *models.Lot) error {
	if l.ID == "" {
		return errors.New("lot without id")
	}
	return t.setJSON(prefixLot+l.ID, l)
}

func (t *badgerTx) ListLots(f LotFilter) ([]models.Lot, error) {
	var out []models.Lot
	err := t.values(prefixLot, func(key string, val []byte) error {
		var l models.Lot
		if err := json.Unmarshal(val, &l); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if f.Match(&l) {
			out = append(out, l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sortLots(out, f.Limit), nil
}

func (t *badgerTx) AppendMovements(ms []models.Movement) error {
	for i := range ms {
		m := &ms[i]
		if m.ID == "" {
			return errors.New("movement without id")
		}
		found, err := t.exists(prefixMovement + m.ID)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("movement %s: %w", m.ID, ErrDuplicate)
		}
		if err := t.setJSON(prefixMovement+m.ID, m); err != nil {
			return err
		}
		for _, idx := range movementIndexKeys(m) {
			if err := t.txn.Set([]byte(idx), nil); err != nil {
				return fmt.Errorf("set %s: %w", idx, err)
			}
		}
	}
	return nil
}

func movementIndexKeys(m *models.Movement) []string {
	keys := []string{prefixIdxSku + m.SkuCode + "/" + m.ID}
	if m.VoucherID != nil {
		keys = append(keys, prefixIdxVoucher+*m.VoucherID+"/"+m.ID)
	}
	if m.LotID != nil {
		keys = append(keys, prefixIdxLot+*m.LotID+"/"+m.ID)
	}
	return keys
}

func (t *badgerTx) ListMovements(f MovementFilter) ([]models.Movement, error) {
	var indexPrefix string
	switch {
	case f.VoucherID != "":
		indexPrefix = prefixIdxVoucher + f.VoucherID + "/"
	case f.LotID != "":
		indexPrefix = prefixIdxLot + f.LotID + "/"
	case f.SkuCode != "":
		indexPrefix = prefixIdxSku + f.SkuCode + "/"
	}

	var out []models.Movement
	if indexPrefix == "" {
		err := t.values(prefixMovement, func(key string, val []byte) error {
			var m models.Movement
			if err := json.Unmarshal(val, &m); err != nil {
				return nil // skipped here, reported by ScanMovements
			}
			if f.Match(&m) {
				out = append(out, m)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return sortMovements(out, f), nil
	}

	for _, key := range t.keys(indexPrefix) {
		id := string(key[len(indexPrefix):])
		var m models.Movement
		if err := t.getJSON(prefixMovement+id, &m); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if f.Match(&m) {
			out = append(out, m)
		}
	}
	return sortMovements(out, f), nil
}

func (t *badgerTx) SumMovements(space models.StockSpace, sku string) (int64, error) {
	prefix := prefixIdxSku + sku + "/"
	var sum int64
	for _, key := range t.keys(prefix) {
		var m models.Movement
		err := t.getJSON(prefixMovement+string(key[len(prefix):]), &m)
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrMalformed):
			continue
		case err != nil:
			return 0, err
		}
		if m.Space != space || checkMovement(&m) != "" {
			continue
		}
		sum += m.Quantity
	}
	return sum, nil
}

func (t *badgerTx) ScanMovements(after string, limit int) (MovementPage, error) {
	if limit <= 0 {
		limit = 500
	}
	it := t.txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: limit, Prefix: []byte(prefixMovement)})
	defer it.Close()

	var page MovementPage
	start := []byte(prefixMovement + after)
	seen := 0
	for it.Seek(start); it.Valid(); it.Next() {
		item := it.Item()
		key := string(item.Key())
		if after != "" && bytes.Equal(item.Key(), start) {
			continue
		}
		if seen == limit {
			page.Next = strings.TrimPrefix(page.Next, prefixMovement)
			return page, nil
		}
		seen++
		page.Next = key

		id := strings.TrimPrefix(key, prefixMovement)
		var m models.Movement
		err := item.Value(func(val []byte) error { return json.Unmarshal(val, &m) })
		if err != nil {
			page.Malformed = append(page.Malformed, MalformedRecord{Key: id, Reason: err.Error()})
			continue
		}
		if reason := checkMovement(&m); reason != "" {
			page.Malformed = append(page.Malformed, MalformedRecord{Key: id, Reason: reason})
			continue
		}
		page.Movements = append(page.Movements, m)
	}
	page.Next = ""
	return page, nil
}

func (t *badgerTx) SetMovementQuantity(id string, quantity int64) error {
	var m models.Movement
	if err := t.getJSON(prefixMovement+id, &m); err != nil {
		return err
	}
	m.Quantity = quantity
	return t.setJSON(prefixMovement+id, &m)
}

func snapshotKey(space models.StockSpace, sku string) string {
	return prefixSnapshot + string(space) + "/" + sku
}

func (t *badgerTx) GetSnapshot(space models.StockSpace, sku string) (*models.StockSnapshot, error) {
	var s models.StockSnapshot
	if err := t.getJSON(snapshotKey(space, sku), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *badgerTx) AddToSnapshot(space models.StockSpace, sku, skuName string, delta int64, at time.Time) (int64, error) {
	s, err := t.GetSnapshot(space, sku)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return 0, err
		}
		s = &models.StockSnapshot{Space: space, SkuCode: sku}
	}
	s.Quantity += delta
	if skuName != "" {
		s.SkuName = skuName
	}
	s.UpdatedAt = at
	if err := t.setJSON(snapshotKey(space, sku), s); err != nil {
		return 0, err
	}
	return s.Quantity, nil
}

func (t *badgerTx) SaveSnapshot(s *models.StockSnapshot) error {
	return t.setJSON(snapshotKey(s.Space, s.SkuCode), s)
}

func (t *badgerTx) DeleteSnapshot(space models.StockSpace, key string) error {
	if err := t.txn.Delete([]byte(snapshotKey(space, key))); err != nil {
		return fmt.Errorf("delete snapshot %s/%s: %w", space, key, err)
	}
	return nil
}

func (t *badgerTx) ListSnapshots(space models.StockSpace) ([]SnapshotRecord, error) {
	prefix := prefixSnapshot + string(space) + "/"
	var out []SnapshotRecord
	err := t.values(prefix, func(key string, val []byte) error {
		rec := SnapshotRecord{Key: strings.TrimPrefix(key, prefix)}
		var s models.StockSnapshot
		if err := json.Unmarshal(val, &s); err != nil {
			rec.Malformed = err.Error()
		} else {
			rec.Snapshot = &s
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *badgerTx) NextSequence(name string) (int64, error) {
	key := []byte(prefixSequence + name)
	var current uint64
	item, err := t.txn.Get(key)
	switch {
	case err == nil:
		err = item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("counter %s has %d bytes", name, len(val))
			}
			current = binary.BigEndian.Uint64(val)
			return nil
		})
		if err != nil {
			return 0, err
		}
	case errors.Is(err, badger.ErrKeyNotFound):
	default:
		return 0, fmt.Errorf("get counter %s: %w", name, err)
	}

	next := current + 1
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := t.txn.Set(key, buf); err != nil {
		return 0, fmt.Errorf("set counter %s: %w", name, err)
	}
	return int64(next), nil
}
