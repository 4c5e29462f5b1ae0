package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ovotrack/server/internal/models"
)

// PostgresStore keeps records in PostgreSQL through gorm. Commands run at
// SERIALIZABLE isolation with row locks on read-for-update; serialization
// failures are retried with exponential backoff.
type PostgresStore struct {
	db         *gorm.DB
	maxRetries int
}

// NewPostgresStore wraps a connected gorm database
func NewPostgresStore(db *gorm.DB, maxRetries int) *PostgresStore {
	if maxRetries <= 0 {
		maxRetries = defaultStoreRetries
	}
	return &PostgresStore{db: db, maxRetries: maxRetries}
}

// Update runs fn in a serializable transaction
func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	baseDelay := 10 * time.Millisecond
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
			return fn(&postgresTx{db: gtx, forUpdate: true})
		}, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if !isSerializationFailure(err) {
			return err
		}
		delay := baseDelay*time.Duration(1<<uint(attempt)) + time.Duration(rand.Intn(10))*time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrConflict, s.maxRetries+1, err)
}

// View runs fn in a read-only transaction
func (s *PostgresStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&postgresTx{db: gtx})
	}, &sql.TxOptions{ReadOnly: true})
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isSerializationFailure matches 40001 serialization_failure and 40P01 deadlock_detected
func isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not serialize") || strings.Contains(msg, "deadlock detected")
}

type postgresTx struct {
	db        *gorm.DB
	forUpdate bool
}

func (t *postgresTx) locked() *gorm.DB {
	if t.forUpdate {
		return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return t.db
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("get %s: %w", what, err)
}

func duplicate(err error, what string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s: %w", what, ErrDuplicate)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", what, ErrDuplicate)
	}
	return fmt.Errorf("create %s: %w", what, err)
}

func (t *postgresTx) GetVoucher(id string) (*models.Voucher, error) {
	var v models.Voucher
	if err := t.locked().Where("id = ?", id).First(&v).Error; err != nil {
		return nil, notFound(err, "voucher "+id)
	}
	return &v, nil
}

func (t *postgresTx) SaveVoucher(v *models.Voucher) error {
	if err := t.db.Save(v).Error; err != nil {
		return fmt.Errorf("save voucher %s: %w", v.ID, err)
	}
	return nil
}

func (t *postgresTx) ListVouchers(f VoucherFilter) ([]models.Voucher, error) {
	q := t.db.Model(&models.Voucher{})
	if f.State != "" {
		q = q.Where("state = ?", f.State)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.Date != "" {
		q = q.Where("date = ?", f.Date)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.Voucher
	if err := q.Order("global_sequence DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list vouchers: %w", err)
	}
	return out, nil
}

func (t *postgresTx) GetLot(id string) (*models.Lot, error) {
	var l models.Lot
	if err := t.locked().Where("id = ?", id).First(&l).Error; err != nil {
		return nil, notFound(err, "lot "+id)
	}
	return &l, nil
}

func (t *postgresTx) CreateLot(l *models.Lot) error {
	if err := t.db.Create(l).Error; err != nil {
		return duplicate(err, "lot "+l.ID)
	}
	return nil
}

func (t *postgresTx) SaveLot(l *models.Lot) error {
	if err := t.db.Save(l).Error; err != nil {
		return fmt.Errorf("save lot %s: %w", l.ID, err)
	}
	return nil
}

func (t *postgresTx) ListLots(f LotFilter) ([]models.Lot, error) {
	q := t.db.Model(&models.Lot{})
	if f.State != "" {
		q = q.Where("state = ?", f.State)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.Lot
	if err := q.Order("entered_room_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}
	return out, nil
}

func (t *postgresTx) AppendMovements(ms []models.Movement) error {
	if len(ms) == 0 {
		return nil
	}
	if err := t.db.Create(&ms).Error; err != nil {
		return duplicate(err, "movements")
	}
	return nil
}

func (t *postgresTx) ListMovements(f MovementFilter) ([]models.Movement, error) {
	q := t.db.Model(&models.Movement{})
	if f.SkuCode != "" {
		q = q.Where("sku_code = ?", f.SkuCode)
	}
	if f.VoucherID != "" {
		q = q.Where("voucher_id = ?", f.VoucherID)
	}
	if f.LotID != "" {
		q = q.Where("lot_id = ?", f.LotID)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.Space != "" {
		q = q.Where("space = ?", f.Space)
	}
	if f.From != "" {
		q = q.Where("date >= ?", f.From)
	}
	if f.To != "" {
		q = q.Where("date <= ?", f.To)
	}
	if f.Ascending {
		q = q.Order("created_at ASC").Order("id ASC")
	} else {
		q = q.Order("created_at DESC").Order("id DESC")
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.Movement
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	return out, nil
}

func (t *postgresTx) SumMovements(space models.StockSpace, sku string) (int64, error) {
	var sum int64
	err := t.db.Model(&models.Movement{}).
		Where("space = ? AND sku_code = ? AND kind IN ?", space, sku, []models.MovementKind{
			models.MovementKindInbound, models.MovementKindOutbound, models.MovementKindReentry, models.MovementKindAdjustment,
		}).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&sum).Error
	if err != nil {
		return 0, fmt.Errorf("sum movements %s/%s: %w", space, sku, err)
	}
	return sum, nil
}

func (t *postgresTx) ScanMovements(after string, limit int) (MovementPage, error) {
	if limit <= 0 {
		limit = 500
	}
	q := t.db.Model(&models.Movement{}).Order("id ASC").Limit(limit)
	if after != "" {
		q = q.Where("id > ?", after)
	}
	var rows []models.Movement
	if err := q.Find(&rows).Error; err != nil {
		return MovementPage{}, fmt.Errorf("scan movements: %w", err)
	}

	var page MovementPage
	for i := range rows {
		if reason := checkMovement(&rows[i]); reason != "" {
			page.Malformed = append(page.Malformed, MalformedRecord{Key: rows[i].ID, Reason: reason})
			continue
		}
		page.Movements = append(page.Movements, rows[i])
	}
	if len(rows) == limit {
		page.Next = rows[len(rows)-1].ID
	}
	return page, nil
}

func (t *postgresTx) SetMovementQuantity(id string, quantity int64) error {
	res := t.db.Model(&models.Movement{}).Where("id = ?", id).Update("quantity", quantity)
	if res.Error != nil {
		return fmt.Errorf("update movement %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTx) GetSnapshot(space models.StockSpace, sku string) (*models.StockSnapshot, error) {
	var s models.StockSnapshot
	if err := t.locked().Where("space = ? AND sku_code = ?", space, sku).First(&s).Error; err != nil {
		return nil, notFound(err, "snapshot "+sku)
	}
	return &s, nil
}

func (t *postgresTx) AddToSnapshot(space models.StockSpace, sku, skuName string, delta int64, at time.Time) (int64, error) {
	snap := models.StockSnapshot{Space: space, SkuCode: sku, SkuName: skuName, Quantity: delta, UpdatedAt: at}
	updates := map[string]interface{}{
		"quantity":   gorm.Expr("stock_snapshots.quantity + ?", delta),
		"updated_at": at,
	}
	if skuName != "" {
		updates["sku_name"] = skuName
	}
	err := t.db.Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "space"}, {Name: "sku_code"}},
			DoUpdates: clause.Assignments(updates),
		},
		clause.Returning{Columns: []clause.Column{{Name: "quantity"}}},
	).Create(&snap).Error
	if err != nil {
		return 0, fmt.Errorf("upsert snapshot %s/%s: %w", space, sku, err)
	}
	return snap.Quantity, nil
}

func (t *postgresTx) SaveSnapshot(s *models.StockSnapshot) error {
	if err := t.db.Save(s).Error; err != nil {
		return fmt.Errorf("save snapshot %s/%s: %w", s.Space, s.SkuCode, err)
	}
	return nil
}

func (t *postgresTx) DeleteSnapshot(space models.StockSpace, key string) error {
	err := t.db.Where("space = ? AND sku_code = ?", space, key).Delete(&models.StockSnapshot{}).Error
	if err != nil {
		return fmt.Errorf("delete snapshot %s/%s: %w", space, key, err)
	}
	return nil
}

func (t *postgresTx) ListSnapshots(space models.StockSpace) ([]SnapshotRecord, error) {
	var rows []models.StockSnapshot
	if err := t.db.Where("space = ?", space).Order("sku_code").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out := make([]SnapshotRecord, 0, len(rows))
	for i := range rows {
		out = append(out, SnapshotRecord{Key: rows[i].SkuCode, Snapshot: &rows[i]})
	}
	return out, nil
}

func (t *postgresTx) NextSequence(name string) (int64, error) {
	c := models.Counter{Name: name, Value: 1}
	err := t.db.Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"value": gorm.Expr("counters.value + 1")}),
		},
		clause.Returning{Columns: []clause.Column{{Name: "value"}}},
	).Create(&c).Error
	if err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", name, err)
	}
	return c.Value, nil
}
