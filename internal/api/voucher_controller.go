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

// VoucherController exposes the voucher workflow
type VoucherController struct {
	vouchers *services.VoucherService
	log      logrus.FieldLogger
}

// NewVoucherController creates the voucher controller
func NewVoucherController(vouchers *services.VoucherService, log logrus.FieldLogger) *VoucherController {
	return &VoucherController{vouchers: vouchers, log: log}
}

type decisionRequest struct {
	Notes string `json:"notes"`
}

// CreateVoucher stores a pending voucher
// POST /api/v1/vouchers
func (vc *VoucherController) CreateVoucher(c *gin.Context) {
	var in services.CreateVoucherInput
	if !bindJSON(c, &in) {
		return
	}
	v, err := vc.vouchers.Create(c.Request.Context(), in, actorFrom(c))
	if err != nil {
		respondError(c, vc.log, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

// GetVouchers lists vouchers, newest first
// GET /api/v1/vouchers?state=pending&kind=inbound&date=2026-10-19&limit=50
func (vc *VoucherController) GetVouchers(c *gin.Context) {
	f := repository.VoucherFilter{
		State: models.VoucherState(c.Query("state")),
		Kind:  models.VoucherKind(c.Query("kind")),
		Date:  c.Query("date"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		f.Limit = limit
	}

	vouchers, err := vc.vouchers.List(c.Request.Context(), f)
	if err != nil {
		respondError(c, vc.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"vouchers": vouchers,
		"count":    len(vouchers),
	})
}

// GetVoucher returns one voucher
// GET /api/v1/vouchers/:id
func (vc *VoucherController) GetVoucher(c *gin.Context) {
	v, err := vc.vouchers.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, vc.log, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// ValidateVoucher approves a pending voucher and moves stock
// POST /api/v1/vouchers/:id/validate
func (vc *VoucherController) ValidateVoucher(c *gin.Context) {
	var req decisionRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	res, err := vc.vouchers.Validate(c.Request.Context(), c.Param("id"), actorFrom(c), req.Notes)
	if err != nil {
		respondError(c, vc.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// RejectVoucher closes a pending voucher without stock effect
// POST /api/v1/vouchers/:id/reject
func (vc *VoucherController) RejectVoucher(c *gin.Context) {
	var req decisionRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	v, err := vc.vouchers.Reject(c.Request.Context(), c.Param("id"), actorFrom(c), req.Notes)
	if err != nil {
		respondError(c, vc.log, err)
		return
	}
	c.JSON(http.StatusOK, v)
}
