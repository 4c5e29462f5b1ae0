package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ovotrack/server/internal/catalog"
	"ovotrack/server/internal/models"
	"ovotrack/server/internal/services"
)

// Version is reported by the health endpoint
var Version = "dev"

// RouterConfig carries everything the HTTP surface needs
type RouterConfig struct {
	Log            *logrus.Logger
	JWTSecret      []byte
	Catalog        *catalog.Catalog
	Vouchers       *services.VoucherService
	Lots           *services.LotService
	Ledger         *services.LedgerService
	Adjustments    *services.AdjustmentService
	Reconciliation *services.ReconciliationService
	Hub            *Hub
}

// NewRouter wires controllers under /api/v1 and the websocket under /ws
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/v1/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "ovotrack",
			"version": Version,
		})
	})

	r.Use(RequestLogger(cfg.Log))
	r.Use(CORS())

	vouchers := NewVoucherController(cfg.Vouchers, cfg.Log)
	lots := NewLotController(cfg.Lots, cfg.Log)
	stock := NewStockController(cfg.Ledger, cfg.Adjustments, cfg.Reconciliation, cfg.Log)
	ledger := NewLedgerController(cfg.Ledger, cfg.Log)
	recon := NewReconciliationController(cfg.Reconciliation, cfg.Log)
	skus := NewCatalogController(cfg.Catalog)

	apiGroup := r.Group("/api/v1")
	apiGroup.Use(Authenticate(cfg.JWTSecret))
	{
		voucherGroup := apiGroup.Group("/vouchers")
		{
			voucherGroup.GET("", vouchers.GetVouchers)
			voucherGroup.POST("", vouchers.CreateVoucher)
			voucherGroup.GET("/:id", vouchers.GetVoucher)
			voucherGroup.POST("/:id/validate", vouchers.ValidateVoucher)
			voucherGroup.POST("/:id/reject", vouchers.RejectVoucher)
		}

		lotGroup := apiGroup.Group("/lots")
		{
			lotGroup.GET("", lots.GetLots)
			lotGroup.GET("/:id", lots.GetLot)
			lotGroup.POST("/:id/advance", lots.AdvanceLot)
		}

		stockGroup := apiGroup.Group("/stock")
		{
			stockGroup.GET("/drift", RequireRole(models.RoleSupervisor), stock.GetDrift)
			stockGroup.GET("/:space", stock.GetSpaceStock)
			stockGroup.GET("/:space/:sku", stock.GetStock)
			stockGroup.POST("/adjustments", RequireRole(models.RoleAdmin), stock.ApplyAdjustment)
		}

		ledgerGroup := apiGroup.Group("/ledger")
		{
			ledgerGroup.GET("", ledger.GetHistory)
			ledgerGroup.GET("/export.xlsx", ledger.ExportHistory)
		}

		apiGroup.POST("/reconciliation/run", RequireRole(models.RoleAdmin), recon.Run)
		apiGroup.GET("/catalog/skus", skus.GetSkus)
	}

	if cfg.Hub != nil {
		ws := NewWSController(cfg.Hub, cfg.Log)
		r.GET("/ws/stock", Authenticate(cfg.JWTSecret), ws.ServeStock)
	}
	return r
}
