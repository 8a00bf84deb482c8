package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/mediaforge/ledger/cmd/ledger/container"
	"github.com/mediaforge/ledger/cmd/ledger/handlers"
	"github.com/mediaforge/ledger/cmd/ledger/middleware"
)

// RegisterQuotaRoutes registers quota snapshot and reservation routes
func RegisterQuotaRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewQuotaHandler(c.Components, c.QuotaService)

	quota := e.Group("/v1/quota")
	quota.Use(middleware.ExtractIdentity())
	{
		quota.GET("", h.GetUsage)          // GET /v1/quota
		quota.POST("/reserve", h.Reserve)  // POST /v1/quota/reserve
		quota.POST("/release", h.Release)  // POST /v1/quota/release
	}
}
