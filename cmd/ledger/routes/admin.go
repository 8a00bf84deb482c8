package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/mediaforge/ledger/cmd/ledger/container"
	"github.com/mediaforge/ledger/cmd/ledger/handlers"
	"github.com/mediaforge/ledger/cmd/ledger/middleware"
)

// RegisterAdminRoutes registers operator-only routes behind the admin guard
func RegisterAdminRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewAdminHandler(c.Components, c.QuotaService, c.Sweeper)

	admin := e.Group("/v1/admin", middleware.ExtractIdentity(), middleware.RequireAdmin())
	{
		admin.POST("/sweep", h.Sweep)                                          // POST /v1/admin/sweep
		admin.POST("/accounts/:id/reconcile", h.Reconcile)                     // POST /v1/admin/accounts/{account_id}/reconcile
		admin.PUT("/accounts/:id/storage-limit", h.SetStorageLimit)            // PUT /v1/admin/accounts/{account_id}/storage-limit
		admin.POST("/accounts/:id/features/:feature/reset", h.ResetFeatureCounter) // POST /v1/admin/accounts/{account_id}/features/{feature}/reset
	}
}
