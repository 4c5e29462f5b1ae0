package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ovotrack/server/internal/database"
	"ovotrack/server/internal/models"
)

// Runs only with INTEGRATION_TESTS=1 and a reachable DATABASE_URL.
func newPostgresTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run postgres store tests")
	}
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL is not set")
	}
	log := logrus.New()
	log.SetOutput(os.Stderr)
	db, err := database.ConnectPostgres(url, log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	store := NewPostgresStore(db, 5)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPostgresSnapshotUpsertAndSequence(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()
	sku := "IT " + uuid.NewString()[:8]
	counter := "it/" + uuid.NewString()

	var first, second int64
	err := store.Update(ctx, func(tx Tx) error {
		var err error
		if first, err = tx.NextSequence(counter); err != nil {
			return err
		}
		if second, err = tx.NextSequence(counter); err != nil {
			return err
		}
		if _, err = tx.AddToSnapshot(models.SpaceWarehouse, sku, "integration", 40, time.Now()); err != nil {
			return err
		}
		_, err = tx.AddToSnapshot(models.SpaceWarehouse, sku, "", -15, time.Now())
		return err
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if first != 1 || second != 2 {
		t.Fatalf("sequence = %d, %d; want 1, 2", first, second)
	}

	err = store.View(ctx, func(tx Tx) error {
		s, err := tx.GetSnapshot(models.SpaceWarehouse, sku)
		if err != nil {
			return err
		}
		if s.Quantity != 25 {
			t.Errorf("quantity = %d, want 25", s.Quantity)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestPostgresMovementRoundTrip(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()
	id, _ := uuid.NewV7()
	m := movement(id.String(), models.MovementKindInbound, models.SpaceWarehouse, "IT "+id.String()[:8], -50, time.Now().UTC())

	if err := store.Update(ctx, func(tx Tx) error { return tx.AppendMovements([]models.Movement{m}) }); err != nil {
		t.Fatalf("append: %v", err)
	}
	err := store.Update(ctx, func(tx Tx) error { return tx.AppendMovements([]models.Movement{m}) })
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	if err := store.Update(ctx, func(tx Tx) error { return tx.SetMovementQuantity(m.ID, 50) }); err != nil {
		t.Fatalf("SetMovementQuantity: %v", err)
	}
}
