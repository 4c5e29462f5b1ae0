package api

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"ovotrack/server/internal/catalog"
)

// CatalogController exposes the SKU catalog
type CatalogController struct {
	catalog *catalog.Catalog
}

// NewCatalogController creates the catalog controller
func NewCatalogController(c *catalog.Catalog) *CatalogController {
	return &CatalogController{catalog: c}
}

// GetSkus lists every SKU with its conversion factors
// GET /api/v1/catalog/skus
func (cc *CatalogController) GetSkus(c *gin.Context) {
	dirty := make([]string, 0)
	for code := range cc.catalog.DirtySkus() {
		dirty = append(dirty, code)
	}
	sort.Strings(dirty)

	skus := cc.catalog.All()
	c.JSON(http.StatusOK, gin.H{
		"skus":           skus,
		"count":          len(skus),
		"dirty_skus":     dirty,
		"grams_per_unit": cc.catalog.GramsPerUnit(),
	})
}
