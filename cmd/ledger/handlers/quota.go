package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mediaforge/ledger/cmd/ledger/middleware"
	"github.com/mediaforge/ledger/cmd/ledger/service"
	"github.com/mediaforge/ledger/common/bootstrap"
	"github.com/mediaforge/ledger/common/models"
)

// QuotaHandler handles quota snapshot and reservation requests
type QuotaHandler struct {
	components *bootstrap.Components
	quota      *service.QuotaService
}

// NewQuotaHandler creates a new quota handler
func NewQuotaHandler(components *bootstrap.Components, quota *service.QuotaService) *QuotaHandler {
	return &QuotaHandler{
		components: components,
		quota:      quota,
	}
}

// GetUsage returns the caller's quota snapshot
// GET /v1/quota
func (h *QuotaHandler) GetUsage(c echo.Context) error {
	ctx := c.Request().Context()

	accountID, tier, err := middleware.RequireIdentity(c)
	if err != nil {
		return err
	}

	snapshot, err := h.quota.GetUsage(ctx, accountID, tier)
	if err != nil {
		h.components.Logger.Error("failed to get quota snapshot",
			"account_id", accountID,
			"error", err)
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, snapshot)
}

// Reserve claims one feature invocation under the caller's limit
// POST /v1/quota/reserve
func (h *QuotaHandler) Reserve(c echo.Context) error {
	ctx := c.Request().Context()

	accountID, tier, err := middleware.RequireIdentity(c)
	if err != nil {
		return err
	}

	var req struct {
		Feature string `json:"feature"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}

	feature := models.Feature(req.Feature)
	if !feature.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "unknown feature",
		})
	}

	reservation, err := h.quota.TryReserveFeature(ctx, accountID, tier, feature)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusCreated, reservation)
}

// Release hands back an unused reservation. The shell is stateless, so the
// decrement is keyed by account and feature; the reservation id is taken
// for the audit trail, not verified.
// POST /v1/quota/release
func (h *QuotaHandler) Release(c echo.Context) error {
	ctx := c.Request().Context()

	accountID, _, err := middleware.RequireIdentity(c)
	if err != nil {
		return err
	}

	var req struct {
		Feature       string `json:"feature"`
		ReservationID string `json:"reservation_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}

	feature := models.Feature(req.Feature)
	if !feature.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "unknown feature",
		})
	}

	if err := h.quota.ReleaseFeature(ctx, accountID, feature); err != nil {
		h.components.Logger.Error("failed to release reservation",
			"account_id", accountID,
			"feature", feature,
			"error", err)
		return fail(c, err)
	}

	h.components.Logger.Info("reservation released via api",
		"account_id", accountID,
		"feature", feature,
		"reservation_id", req.ReservationID)

	return c.NoContent(http.StatusNoContent)
}
