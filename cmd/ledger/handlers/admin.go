package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mediaforge/ledger/cmd/ledger/service"
	"github.com/mediaforge/ledger/cmd/ledger/sweeper"
	"github.com/mediaforge/ledger/common/bootstrap"
	"github.com/mediaforge/ledger/common/models"
)

// AdminHandler handles operator-only requests. Routes are mounted behind
// the admin tier guard; handlers assume the caller is already vetted.
type AdminHandler struct {
	components *bootstrap.Components
	quota      *service.QuotaService
	sweeper    *sweeper.Sweeper
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(components *bootstrap.Components, quota *service.QuotaService, sweep *sweeper.Sweeper) *AdminHandler {
	return &AdminHandler{
		components: components,
		quota:      quota,
		sweeper:    sweep,
	}
}

// Sweep runs one reclamation pass immediately
// POST /v1/admin/sweep
func (h *AdminHandler) Sweep(c echo.Context) error {
	ctx := c.Request().Context()

	h.components.Logger.Info("admin sweep requested")

	result, err := h.sweeper.RunOnce(ctx)
	if err != nil {
		h.components.Logger.Error("admin sweep failed", "error", err)
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

// Reconcile recomputes an account's storage counter from the asset rows
// POST /v1/admin/accounts/:id/reconcile
func (h *AdminHandler) Reconcile(c echo.Context) error {
	ctx := c.Request().Context()
	accountID := c.Param("id")

	if accountID == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "account id is required",
		})
	}

	result, err := h.quota.Reconcile(ctx, accountID)
	if err != nil {
		h.components.Logger.Error("reconcile failed",
			"account_id", accountID,
			"error", err)
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

// SetStorageLimit overrides an account's storage cap; -1 means unlimited
// PUT /v1/admin/accounts/:id/storage-limit
func (h *AdminHandler) SetStorageLimit(c echo.Context) error {
	ctx := c.Request().Context()
	accountID := c.Param("id")

	if accountID == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "account id is required",
		})
	}

	var req struct {
		LimitBytes int64 `json:"limit_bytes"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}

	if req.LimitBytes < -1 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "limit_bytes must be -1 (unlimited) or non-negative",
		})
	}

	if err := h.quota.SetStorageLimit(ctx, accountID, req.LimitBytes); err != nil {
		h.components.Logger.Error("failed to set storage limit",
			"account_id", accountID,
			"limit_bytes", req.LimitBytes,
			"error", err)
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"account_id":  accountID,
		"limit_bytes": req.LimitBytes,
	})
}

// ResetFeatureCounter zeroes one feature counter for an account
// POST /v1/admin/accounts/:id/features/:feature/reset
func (h *AdminHandler) ResetFeatureCounter(c echo.Context) error {
	ctx := c.Request().Context()
	accountID := c.Param("id")

	if accountID == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "account id is required",
		})
	}

	feature := models.Feature(c.Param("feature"))
	if !feature.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "unknown feature",
		})
	}

	if err := h.quota.ResetFeatureCounter(ctx, accountID, feature); err != nil {
		h.components.Logger.Error("failed to reset feature counter",
			"account_id", accountID,
			"feature", feature,
			"error", err)
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"feature":    feature,
		"used":       0,
	})
}
