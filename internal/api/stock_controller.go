package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ovotrack/server/internal/models"
	"ovotrack/server/internal/services"
)

// StockController exposes snapshots, manual adjustments and the drift check
type StockController struct {
	ledger      *services.LedgerService
	adjustments *services.AdjustmentService
	recon       *services.ReconciliationService
	log         logrus.FieldLogger
}

// NewStockController creates the stock controller
func NewStockController(ledger *services.LedgerService, adjustments *services.AdjustmentService, recon *services.ReconciliationService, log logrus.FieldLogger) *StockController {
	return &StockController{ledger: ledger, adjustments: adjustments, recon: recon, log: log}
}

// GetSpaceStock returns every snapshot of a space
// GET /api/v1/stock/:space
func (sc *StockController) GetSpaceStock(c *gin.Context) {
	space := models.StockSpace(c.Param("space"))
	items, err := sc.ledger.ListStock(c.Request.Context(), space)
	if err != nil {
		respondError(c, sc.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"space": space,
		"items": items,
		"count": len(items),
	})
}

// GetStock returns the on-hand quantity of one SKU
// GET /api/v1/stock/:space/:sku
func (sc *StockController) GetStock(c *gin.Context) {
	space := models.StockSpace(c.Param("space"))
	sku := c.Param("sku")
	qty, err := sc.ledger.GetStock(c.Request.Context(), sku, space)
	if err != nil {
		respondError(c, sc.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"space":    space,
		"sku_code": sku,
		"quantity": qty,
	})
}

// ApplyAdjustment writes a manual correction
// POST /api/v1/stock/adjustments
func (sc *StockController) ApplyAdjustment(c *gin.Context) {
	var in services.AdjustmentInput
	if !bindJSON(c, &in) {
		return
	}
	res, err := sc.adjustments.Apply(c.Request.Context(), in, actorFrom(c))
	if err != nil {
		respondError(c, sc.log, err)
		return
	}
	status := http.StatusCreated
	if res.Entry == nil {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// GetDrift compares snapshots with the ledger without writing
// GET /api/v1/stock/drift
func (sc *StockController) GetDrift(c *gin.Context) {
	rows, err := sc.recon.Drift(c.Request.Context())
	if err != nil {
		respondError(c, sc.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"rows":  rows,
		"count": len(rows),
	})
}
