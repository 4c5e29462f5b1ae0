package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ovotrack/server/internal/models"
	"ovotrack/server/internal/repository"
	"ovotrack/server/internal/services"
)

// LotController exposes cleaning lots
type LotController struct {
	lots *services.LotService
	log  logrus.FieldLogger
}

// NewLotController creates the lot controller
func NewLotController(lots *services.LotService, log logrus.FieldLogger) *LotController {
	return &LotController{lots: lots, log: log}
}

type advanceLotRequest struct {
	Target models.LotState `json:"target" binding:"required"`
	services.LotAdvanceInput
}

// GetLots lists lots, newest first
// GET /api/v1/lots?state=inSalaL&limit=50
func (lc *LotController) GetLots(c *gin.Context) {
	f := repository.LotFilter{State: models.LotState(c.Query("state"))}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		f.Limit = limit
	}
	lots, err := lc.lots.List(c.Request.Context(), f)
	if err != nil {
		respondError(c, lc.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"lots":  lots,
		"count": len(lots),
	})
}

// GetLot returns one lot
// GET /api/v1/lots/:id
func (lc *LotController) GetLot(c *gin.Context) {
	lot, err := lc.lots.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, lc.log, err)
		return
	}
	c.JSON(http.StatusOK, lot)
}

// AdvanceLot moves a lot to its next state
// POST /api/v1/lots/:id/advance
func (lc *LotController) AdvanceLot(c *gin.Context) {
	var req advanceLotRequest
	if !bindJSON(c, &req) {
		return
	}
	lot, err := lc.lots.Advance(c.Request.Context(), c.Param("id"), req.Target, req.LotAdvanceInput, actorFrom(c))
	if err != nil {
		respondError(c, lc.log, err)
		return
	}
	c.JSON(http.StatusOK, lot)
}
