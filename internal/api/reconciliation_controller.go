package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ovotrack/server/internal/services"
)

// ReconciliationController triggers a reconciliation run
type ReconciliationController struct {
	recon *services.ReconciliationService
	log   logrus.FieldLogger
}

// NewReconciliationController creates the reconciliation controller
func NewReconciliationController(recon *services.ReconciliationService, log logrus.FieldLogger) *ReconciliationController {
	return &ReconciliationController{recon: recon, log: log}
}

// Run executes all four phases and returns the report
// POST /api/v1/reconciliation/run
func (rc *ReconciliationController) Run(c *gin.Context) {
	report, err := rc.recon.Run(c.Request.Context(), actorFrom(c))
	if err != nil {
		respondError(c, rc.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"corrected_entries": report.CorrectedEntries,
		"deleted_snapshots": report.DeletedSnapshots,
		"recomputed_skus":   report.RecomputedSkus,
		"skipped_entries":   report.SkippedEntries,
		"duration":          report.Duration.String(),
	})
}
