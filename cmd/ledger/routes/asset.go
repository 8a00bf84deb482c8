package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/mediaforge/ledger/cmd/ledger/container"
	"github.com/mediaforge/ledger/cmd/ledger/handlers"
	"github.com/mediaforge/ledger/cmd/ledger/middleware"
)

// RegisterAssetRoutes registers all asset lifecycle routes
func RegisterAssetRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewAssetHandler(c.Components, c.RegistryService, c.PipelineService)

	assets := e.Group("/v1/assets")
	assets.Use(middleware.ExtractIdentity())
	{
		assets.POST("", h.CreateAsset)            // POST /v1/assets
		assets.POST("/upload", h.Upload)          // POST /v1/assets/upload
		assets.GET("", h.ListAssets)              // GET /v1/assets
		assets.GET("/:id", h.GetAsset)            // GET /v1/assets/{asset_id}
		assets.GET("/:id/lineage", h.Lineage)     // GET /v1/assets/{asset_id}/lineage
		assets.GET("/:id/download", h.Download)   // GET /v1/assets/{asset_id}/download
		assets.POST("/:id/derive", h.Derive)      // POST /v1/assets/{asset_id}/derive
		assets.POST("/:id/complete", h.Complete)  // POST /v1/assets/{asset_id}/complete
		assets.POST("/:id/fail", h.Fail)          // POST /v1/assets/{asset_id}/fail
		assets.DELETE("/:id", h.DeleteAsset)      // DELETE /v1/assets/{asset_id}
	}
}
