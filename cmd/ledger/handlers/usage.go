package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/mediaforge/ledger/cmd/ledger/middleware"
	"github.com/mediaforge/ledger/cmd/ledger/repository"
	"github.com/mediaforge/ledger/cmd/ledger/service"
	"github.com/mediaforge/ledger/common/bootstrap"
	"github.com/mediaforge/ledger/common/models"
)

// defaultSummaryWindow bounds summary queries when the caller gives none.
const defaultSummaryWindow = 30 * 24 * time.Hour

// UsageHandler handles usage audit log requests
type UsageHandler struct {
	components *bootstrap.Components
	usage      *service.UsageService
}

// NewUsageHandler creates a new usage handler
func NewUsageHandler(components *bootstrap.Components, usage *service.UsageService) *UsageHandler {
	return &UsageHandler{
		components: components,
		usage:      usage,
	}
}

// ListUsage lists the caller's usage records, newest first
// GET /v1/usage?feature=ocr&since=...&until=...&limit=50&offset=0
func (h *UsageHandler) ListUsage(c echo.Context) error {
	ctx := c.Request().Context()

	accountID, _, err := middleware.RequireIdentity(c)
	if err != nil {
		return err
	}

	var filter repository.UsageFilter

	if raw := c.QueryParam("feature"); raw != "" {
		feature := models.Feature(raw)
		if !feature.Valid() {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": "unknown feature",
			})
		}
		filter.Feature = feature
	}

	since, until, ok := parseWindow(c)
	if !ok {
		return nil // parseWindow already wrote the response
	}
	filter.Since = since
	filter.Until = until

	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": "invalid limit",
			})
		}
		filter.Limit = limit
	}

	if raw := c.QueryParam("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": "invalid offset",
			})
		}
		filter.Offset = offset
	}

	records, err := h.usage.ListByAccount(ctx, accountID, filter)
	if err != nil {
		h.components.Logger.Error("failed to list usage records",
			"account_id", accountID,
			"error", err)
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"records":    records,
		"count":      len(records),
	})
}

// Summary aggregates the caller's usage per feature over a window
// GET /v1/usage/summary?since=...&until=...
func (h *UsageHandler) Summary(c echo.Context) error {
	ctx := c.Request().Context()

	accountID, _, err := middleware.RequireIdentity(c)
	if err != nil {
		return err
	}

	since, until, ok := summaryWindow(c)
	if !ok {
		return nil
	}

	summaries, err := h.usage.SummarizeByFeature(ctx, accountID, since, until)
	if err != nil {
		h.components.Logger.Error("failed to summarize usage",
			"account_id", accountID,
			"error", err)
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"since":      since,
		"until":      until,
		"features":   summaries,
	})
}

// Daily aggregates the caller's usage per calendar day over a window
// GET /v1/usage/daily?since=...&until=...
func (h *UsageHandler) Daily(c echo.Context) error {
	ctx := c.Request().Context()

	accountID, _, err := middleware.RequireIdentity(c)
	if err != nil {
		return err
	}

	since, until, ok := summaryWindow(c)
	if !ok {
		return nil
	}

	days, err := h.usage.SummarizeByDay(ctx, accountID, since, until)
	if err != nil {
		h.components.Logger.Error("failed to summarize daily usage",
			"account_id", accountID,
			"error", err)
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"since":      since,
		"until":      until,
		"days":       days,
	})
}

// RecordUsage appends a usage record on behalf of a collaborator
// POST /v1/usage
func (h *UsageHandler) RecordUsage(c echo.Context) error {
	ctx := c.Request().Context()

	accountID, _, err := middleware.RequireIdentity(c)
	if err != nil {
		return err
	}

	var req struct {
		Feature     string `json:"feature"`
		AssetID     string `json:"asset_id"`
		Success     bool   `json:"success"`
		CostCredits *int64 `json:"cost_credits"`
		ErrorReason string `json:"error_reason"`
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

	params := service.RecordParams{
		AccountID: accountID,
		Feature:   feature,
		Success:   req.Success,
	}

	if req.AssetID != "" {
		assetID, err := uuid.Parse(req.AssetID)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": "invalid asset_id format",
			})
		}
		params.AssetID = &assetID
	}

	// Cost defaults to the feature's price on success, zero on failure
	switch {
	case req.CostCredits != nil:
		params.CostCredits = *req.CostCredits
	case req.Success:
		params.CostCredits = feature.DefaultCost()
	}

	if req.ErrorReason != "" {
		params.ErrorReason = &req.ErrorReason
	}

	record, err := h.usage.Record(ctx, params)
	if err != nil {
		h.components.Logger.Error("failed to record usage",
			"account_id", accountID,
			"feature", feature,
			"error", err)
		return fail(c, err)
	}

	return c.JSON(http.StatusCreated, record)
}

// parseWindow reads optional since/until query params. A false return
// means the response was already written.
func parseWindow(c echo.Context) (*time.Time, *time.Time, bool) {
	var since, until *time.Time

	if raw := c.QueryParam("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": "invalid since, want RFC3339",
			})
			return nil, nil, false
		}
		since = &t
	}

	if raw := c.QueryParam("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": "invalid until, want RFC3339",
			})
			return nil, nil, false
		}
		until = &t
	}

	return since, until, true
}

// summaryWindow is parseWindow with defaults: the last thirty days.
func summaryWindow(c echo.Context) (time.Time, time.Time, bool) {
	since, until, ok := parseWindow(c)
	if !ok {
		return time.Time{}, time.Time{}, false
	}

	end := time.Now().UTC()
	if until != nil {
		end = *until
	}

	start := end.Add(-defaultSummaryWindow)
	if since != nil {
		start = *since
	}

	return start, end, true
}
