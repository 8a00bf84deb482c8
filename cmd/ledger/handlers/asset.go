package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/mediaforge/ledger/cmd/ledger/middleware"
	"github.com/mediaforge/ledger/cmd/ledger/service"
	"github.com/mediaforge/ledger/common/bootstrap"
	"github.com/mediaforge/ledger/common/models"
)

// maxUploadBytes caps the raw upload body; anything larger belongs on a
// multipart/presigned path this service does not own.
const maxUploadBytes = 512 << 20

// AssetHandler handles asset lifecycle requests
type AssetHandler struct {
	components *bootstrap.Components
	registry   *service.RegistryService
	pipeline   *service.PipelineService
}

// NewAssetHandler creates a new asset handler
func NewAssetHandler(components *bootstrap.Components, registry *service.RegistryService, pipeline *service.PipelineService) *AssetHandler {
	return &AssetHandler{
		components: components,
		registry:   registry,
		pipeline:   pipeline,
	}
}

// CreateAsset registers a new asset (original or derived)
// POST /v1/assets
func (h *AssetHandler) CreateAsset(c echo.Context) error {
	ctx := c.Request().Context()

	accountID, tier, err := middleware.RequireIdentity(c)
	if err != nil {
		return err
	}

	var req struct {
		SizeBytes   int64  `json:"size_bytes"`
		ContentKind string `json:"content_kind"`
		Derivation  string `json:"derivation"`
		ParentID    string `json:"parent_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}

	if req.SizeBytes < 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "size_bytes cannot be negative",
		})
	}

	kind := models.ContentKind(req.ContentKind)
	if req.ContentKind != "" && !kind.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "unknown content_kind",
		})
	}

	derivation := models.DerivationKind(req.Derivation)
	if req.Derivation != "" && !derivation.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "unknown derivation",
		})
	}

	params := service.CreateAssetParams{
		OwnerID:     accountID,
		Tier:        tier,
		SizeBytes:   req.SizeBytes,
		ContentKind: kind,
		Derivation:  derivation,
	}

	if req.ParentID != "" {
		parentID, err := uuid.Parse(req.ParentID)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": "invalid parent_id format",
			})
		}
		params.ParentID = &parentID
	}

	asset, err := h.registry.CreateAsset(ctx, params)
	if err != nil {
		h.components.Logger.Error("failed to create asset",
			"account_id", accountID,
			"error", err)
		return fail(c, err)
	}

	return c.JSON(http.StatusCreated, asset)
}

// Upload runs the upload pipeline: body bytes → blob → completed asset
// POST /v1/assets/upload
func (h *AssetHandler) Upload(c echo.Context) error {
	ctx := c.Request().Context()

	accountID, tier, err := middleware.RequireIdentity(c)
	if err != nil {
		return err
	}

	kind := models.ContentKind(c.QueryParam("content_kind"))
	if kind != "" && !kind.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "unknown content_kind",
		})
	}

	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxUploadBytes+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "could not read request body",
		})
	}
	if int64(len(data)) > maxUploadBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]interface{}{
			"error": "upload body too large",
		})
	}
	if len(data) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "upload body is empty",
		})
	}

	asset, err := h.pipeline.Upload(ctx, service.UploadParams{
		AccountID:   accountID,
		Tier:        tier,
		ContentKind: kind,
		Data:        data,
	})
	if err != nil {
		h.components.Logger.Error("upload pipeline failed",
			"account_id", accountID,
			"size_bytes", len(data),
			"error", err)
		return fail(c, err)
	}

	return c.JSON(http.StatusCreated, asset)
}

// ListAssets lists the caller's assets, newest first
// GET /v1/assets?states=completed,failed&content_kind=image&cursor=...&limit=50
func (h *AssetHandler) ListAssets(c echo.Context) error {
	ctx := c.Request().Context()

	accountID, tier, err := middleware.RequireIdentity(c)
	if err != nil {
		return err
	}

	// Admins may list any owner's assets
	ownerID := accountID
	if requested := c.QueryParam("owner_id"); requested != "" && requested != accountID {
		if !tier.IsAdmin() {
			return c.JSON(http.StatusForbidden, map[string]interface{}{
				"error": "cannot list another owner's assets",
			})
		}
		ownerID = requested
	}

	filter := service.ListFilter{
		Cursor: c.QueryParam("cursor"),
	}

	if states := c.QueryParam("states"); states != "" {
		for _, raw := range strings.Split(states, ",") {
			state := models.AssetState(strings.TrimSpace(raw))
			if !state.Valid() {
				return c.JSON(http.StatusBadRequest, map[string]interface{}{
					"error": "unknown state: " + raw,
				})
			}
			filter.States = append(filter.States, state)
		}
	}

	if kind := models.ContentKind(c.QueryParam("content_kind")); kind != "" {
		if !kind.Valid() {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": "unknown content_kind",
			})
		}
		filter.ContentKind = kind
	}

	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": "invalid limit",
			})
		}
		filter.Limit = limit
	}

	page, err := h.registry.ListByOwner(ctx, ownerID, filter)
	if err != nil {
		h.components.Logger.Error("failed to list assets",
			"owner_id", ownerID,
			"error", err)
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, page)
}

// GetAsset fetches one asset
// GET /v1/assets/:id
func (h *AssetHandler) GetAsset(c echo.Context) error {
	ctx := c.Request().Context()

	accountID, tier, err := middleware.RequireIdentity(c)
	if err != nil {
		return err
	}

	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid asset id format",
		})
	}

	asset, err := h.registry.GetAsset(ctx, assetID, accountID, tier)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, asset)
}

// Lineage returns the parent chain and direct children of an asset
// GET /v1/assets/:id/lineage
func (h *AssetHandler) Lineage(c echo.Context) error {
	ctx := c.Request().Context()

	accountID, tier, err := middleware.RequireIdentity(c)
	if err != nil {
		return err
	}

	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid asset id format",
		})
	}

	view, err := h.registry.Lineage(ctx, assetID, accountID, tier)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, view)
}

// Download streams the blob for a completed asset and bumps its access
// accounting
// GET /v1/assets/:id/download
func (h *AssetHandler) Download(c echo.Context) error {
	ctx := c.Request().Context()

	accountID, tier, err := middleware.RequireIdentity(c)
	if err != nil {
		return err
	}

	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid asset id format",
		})
	}

	reader, asset, err := h.registry.RecordDownload(ctx, assetID, accountID, tier)
	if err != nil {
		h.components.Logger.Error("download failed",
			"asset_id", assetID,
			"account_id", accountID,
			"error", err)
		return fail(c, err)
	}
	defer reader.Close()

	c.Response().Header().Set("X-Asset-ID", asset.AssetID.String())
	return c.Stream(http.StatusOK, echo.MIMEOctetStream, reader)
}

// Derive begins a transformation: creates the child asset in processing
// with its optimistic charge
// POST /v1/assets/:id/derive
func (h *AssetHandler) Derive(c echo.Context) error {
	ctx := c.Request().Context()

	accountID, tier, err := middleware.RequireIdentity(c)
	if err != nil {
		return err
	}

	parentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid asset id format",
		})
	}

	var req struct {
		Derivation  string `json:"derivation"`
		ContentKind string `json:"content_kind"`
		SizeHint    int64  `json:"size_hint"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}

	derivation := models.DerivationKind(req.Derivation)
	if req.Derivation != "" && !derivation.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "unknown derivation",
		})
	}

	kind := models.ContentKind(req.ContentKind)
	if req.ContentKind != "" && !kind.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "unknown content_kind",
		})
	}

	if req.SizeHint < 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "size_hint cannot be negative",
		})
	}

	child, err := h.registry.BeginProcessing(ctx, parentID, service.DeriveParams{
		RequestedBy: accountID,
		Tier:        tier,
		Derivation:  derivation,
		ContentKind: kind,
		SizeHint:    req.SizeHint,
	})
	if err != nil {
		h.components.Logger.Error("failed to begin processing",
			"parent_id", parentID,
			"account_id", accountID,
			"error", err)
		return fail(c, err)
	}

	return c.JSON(http.StatusCreated, child)
}

// Complete finalizes an in-flight asset with its true size
// POST /v1/assets/:id/complete
func (h *AssetHandler) Complete(c echo.Context) error {
	ctx := c.Request().Context()

	accountID, tier, err := middleware.RequireIdentity(c)
	if err != nil {
		return err
	}

	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid asset id format",
		})
	}

	var req struct {
		SizeBytes int64 `json:"size_bytes"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}

	if req.SizeBytes < 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "size_bytes cannot be negative",
		})
	}

	asset, err := h.registry.Complete(ctx, assetID, req.SizeBytes, accountID, tier)
	if err != nil {
		h.components.Logger.Error("failed to complete asset",
			"asset_id", assetID,
			"account_id", accountID,
			"error", err)
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, asset)
}

// Fail marks an in-flight asset failed, crediting any optimistic charge
// POST /v1/assets/:id/fail
func (h *AssetHandler) Fail(c echo.Context) error {
	ctx := c.Request().Context()

	accountID, tier, err := middleware.RequireIdentity(c)
	if err != nil {
		return err
	}

	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid asset id format",
		})
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}
	if req.Reason == "" {
		req.Reason = "unspecified failure"
	}

	asset, err := h.registry.Fail(ctx, assetID, req.Reason, accountID, tier)
	if err != nil {
		h.components.Logger.Error("failed to fail asset",
			"asset_id", assetID,
			"account_id", accountID,
			"error", err)
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, asset)
}

// DeleteAsset soft-deletes an asset and credits its storage
// DELETE /v1/assets/:id
func (h *AssetHandler) DeleteAsset(c echo.Context) error {
	ctx := c.Request().Context()

	accountID, tier, err := middleware.RequireIdentity(c)
	if err != nil {
		return err
	}

	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid asset id format",
		})
	}

	if err := h.registry.DeleteAsset(ctx, assetID, accountID, tier); err != nil {
		h.components.Logger.Error("failed to delete asset",
			"asset_id", assetID,
			"account_id", accountID,
			"error", err)
		return fail(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}
