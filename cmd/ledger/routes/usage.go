package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/mediaforge/ledger/cmd/ledger/container"
	"github.com/mediaforge/ledger/cmd/ledger/handlers"
	"github.com/mediaforge/ledger/cmd/ledger/middleware"
)

// RegisterUsageRoutes registers usage audit log routes
func RegisterUsageRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewUsageHandler(c.Components, c.UsageService)

	usage := e.Group("/v1/usage")
	usage.Use(middleware.ExtractIdentity())
	{
		usage.GET("", h.ListUsage)        // GET /v1/usage
		usage.GET("/summary", h.Summary)  // GET /v1/usage/summary
		usage.GET("/daily", h.Daily)      // GET /v1/usage/daily
		usage.POST("", h.RecordUsage)     // POST /v1/usage (collaborator-facing)
	}
}
