package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ovotrack/server/internal/models"
	"ovotrack/server/internal/repository"
	"ovotrack/server/internal/services"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// LedgerController exposes ledger history
type LedgerController struct {
	ledger *services.LedgerService
	log    logrus.FieldLogger
}

// NewLedgerController creates the ledger controller
func NewLedgerController(ledger *services.LedgerService, log logrus.FieldLogger) *LedgerController {
	return &LedgerController{ledger: ledger, log: log}
}

func ledgerFilter(c *gin.Context) (repository.MovementFilter, error) {
	f := repository.MovementFilter{
		SkuCode:   c.Query("sku"),
		VoucherID: c.Query("voucher_id"),
		LotID:     c.Query("lot_id"),
		Kind:      models.MovementKind(c.Query("kind")),
		Space:     models.StockSpace(c.Query("space")),
		From:      c.Query("from"),
		To:        c.Query("to"),
	}
	switch order := c.DefaultQuery("order", "desc"); order {
	case "asc":
		f.Ascending = true
	case "desc":
	default:
		return f, fmt.Errorf("order must be asc or desc, got %q", order)
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return f, fmt.Errorf("limit %q is not a number", raw)
		}
		f.Limit = limit
	}
	return f, nil
}

// GetHistory returns ledger entries for a SKU, voucher or lot
// GET /api/v1/ledger?sku=BLA%201&kind=inbound&from=2026-10-01&to=2026-10-19&limit=100&order=asc
func (lc *LedgerController) GetHistory(c *gin.Context) {
	f, err := ledgerFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entries, err := lc.ledger.History(c.Request.Context(), f)
	if err != nil {
		respondError(c, lc.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// ExportHistory returns the filtered ledger as an Excel workbook
// GET /api/v1/ledger/export.xlsx?sku=BLA%201
func (lc *LedgerController) ExportHistory(c *gin.Context) {
	f, err := ledgerFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var buf bytes.Buffer
	if err := lc.ledger.ExportHistoryXLSX(c.Request.Context(), f, &buf); err != nil {
		respondError(c, lc.log, err)
		return
	}
	name := fmt.Sprintf("ledger-%s.xlsx", time.Now().Format("20060102-150405"))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}
