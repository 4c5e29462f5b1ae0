package catalog

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"ovotrack/server/internal/models"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	sku, err := c.Lookup("BLA 1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if sku.UnitsPerCase != 180 {
		t.Fatalf("units per case = %d, want 180", sku.UnitsPerCase)
	}
	if !c.IsDirty("BLA MAN") || !c.IsDirty("COL MAN") || c.IsDirty("BLA 1") {
		t.Fatal("unexpected dirty set")
	}
	if !c.GramsPerUnit().Equal(decimal.NewFromInt(60)) {
		t.Fatalf("grams per unit = %s", c.GramsPerUnit())
	}
	if _, err := c.Lookup("XXX"); !errors.Is(err, ErrUnknownSku) {
		t.Fatalf("err = %v, want ErrUnknownSku", err)
	}
}

func TestNewRejectsInvalidDefinitions(t *testing.T) {
	skus := []models.SkuDefinition{{Code: "A", UnitsPerCase: 10}}

	if _, err := New(append(skus, models.SkuDefinition{Code: "A"}), []string{"A"}, decimal.Zero); err == nil {
		t.Fatal("expected duplicate code error")
	}
	if _, err := New(skus, []string{"B"}, decimal.Zero); err == nil {
		t.Fatal("expected error for dirty code outside the catalog")
	}
	if _, err := New(skus, []string{"A"}, decimal.NewFromInt(-1)); err == nil {
		t.Fatal("expected error for negative grams per unit")
	}
}

func TestAllIsSorted(t *testing.T) {
	all := Default().All()
	for i := 1; i < len(all); i++ {
		if all[i-1].Code > all[i].Code {
			t.Fatalf("catalog not sorted at %d: %s > %s", i, all[i-1].Code, all[i].Code)
		}
	}
}
