package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mediaforge/ledger/common/db"
	"github.com/mediaforge/ledger/common/errs"
	"github.com/mediaforge/ledger/common/models"
)

// assetColumns is the canonical column list; scanAsset scans in this order.
const assetColumns = `asset_id, owner_id, parent_id, state, content_kind, derivation, size_bytes, storage_key, progress, error_reason, download_count, last_accessed_at, expires_at, created_at, completed_at, deleted_at`

const defaultPageSize = 50

// AssetFilter narrows ListByOwner results. Cursor fields implement keyset
// pagination over (created_at DESC, asset_id DESC); both must be set together.
type AssetFilter struct {
	States          []models.AssetState
	ContentKind     models.ContentKind
	CursorCreatedAt *time.Time
	CursorID        *uuid.UUID
	Limit           int
}

// DeletedAsset is the row image captured when an asset is marked deleted.
type DeletedAsset struct {
	PrevState  models.AssetState
	OwnerID    string
	SizeBytes  int64
	StorageKey string
}

// AssetRepository handles database operations for assets
type AssetRepository struct {
	db *db.DB
}

// NewAssetRepository creates a new asset repository
func NewAssetRepository(database *db.DB) *AssetRepository {
	return &AssetRepository{db: database}
}

// Create inserts a new asset row
func (r *AssetRepository) Create(ctx context.Context, asset *models.Asset) error {
	query := `
		INSERT INTO assets (` + assetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := r.db.GetExecutor(ctx).Exec(
		ctx,
		query,
		asset.AssetID,
		asset.OwnerID,
		asset.ParentID,
		asset.State,
		asset.ContentKind,
		asset.Derivation,
		asset.SizeBytes,
		asset.StorageKey,
		asset.Progress,
		asset.ErrorReason,
		asset.DownloadCount,
		asset.LastAccessedAt,
		asset.ExpiresAt,
		asset.CreatedAt,
		asset.CompletedAt,
		asset.DeletedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create asset: %w", err)
	}

	return nil
}

// GetByID retrieves an asset by its ID
func (r *AssetRepository) GetByID(ctx context.Context, assetID uuid.UUID) (*models.Asset, error) {
	query := `
		SELECT ` + assetColumns + `
		FROM assets
		WHERE asset_id = $1
	`

	asset, err := scanAsset(r.db.GetExecutor(ctx).QueryRow(ctx, query, assetID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}

	return asset, nil
}

// MarkCompleted transitions an asset into completed, fixing its final size and
// expiry in the same statement. The prior row is locked and its state and size
// are returned so the caller can settle the storage counter against the
// estimate that was charged. applied=false means the asset was missing or not
// in one of the from states; nothing was written.
func (r *AssetRepository) MarkCompleted(ctx context.Context, assetID uuid.UUID, from []models.AssetState, finalSize int64, expiresAt *time.Time, now time.Time) (models.AssetState, int64, bool, error) {
	query := `
		UPDATE assets a
		SET state = 'completed',
		    size_bytes = $2,
		    progress = 100,
		    error_reason = NULL,
		    expires_at = $3,
		    completed_at = $4
		FROM (
			SELECT asset_id, state, size_bytes
			FROM assets
			WHERE asset_id = $1
			FOR UPDATE
		) prior
		WHERE a.asset_id = prior.asset_id
		  AND prior.state = ANY($5)
		RETURNING prior.state, prior.size_bytes
	`

	var prevState models.AssetState
	var prevSize int64

	err := r.db.GetExecutor(ctx).QueryRow(ctx, query, assetID, finalSize, expiresAt, now, statesToStrings(from)).Scan(&prevState, &prevSize)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("failed to mark asset completed: %w", err)
	}

	return prevState, prevSize, true, nil
}

// MarkFailed transitions an asset into failed, recording the reason. The
// asset keeps its size_bytes for audit; whether that size was charged is
// decided by the caller from the returned prior state.
func (r *AssetRepository) MarkFailed(ctx context.Context, assetID uuid.UUID, from []models.AssetState, reason string) (models.AssetState, int64, bool, error) {
	query := `
		UPDATE assets a
		SET state = 'failed',
		    error_reason = $2
		FROM (
			SELECT asset_id, state, size_bytes
			FROM assets
			WHERE asset_id = $1
			FOR UPDATE
		) prior
		WHERE a.asset_id = prior.asset_id
		  AND prior.state = ANY($3)
		RETURNING prior.state, prior.size_bytes
	`

	var prevState models.AssetState
	var prevSize int64

	err := r.db.GetExecutor(ctx).QueryRow(ctx, query, assetID, reason, statesToStrings(from)).Scan(&prevState, &prevSize)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("failed to mark asset failed: %w", err)
	}

	return prevState, prevSize, true, nil
}

// MarkDeleted transitions an asset into deleted and returns the prior row
// image the caller needs to settle accounting and reclaim the blob. Calling
// it on an already-deleted asset is a no-op with applied=false.
func (r *AssetRepository) MarkDeleted(ctx context.Context, assetID uuid.UUID, from []models.AssetState, now time.Time) (*DeletedAsset, bool, error) {
	query := `
		UPDATE assets a
		SET state = 'deleted',
		    deleted_at = $2
		FROM (
			SELECT asset_id, state, owner_id, size_bytes, storage_key
			FROM assets
			WHERE asset_id = $1
			FOR UPDATE
		) prior
		WHERE a.asset_id = prior.asset_id
		  AND prior.state = ANY($3)
		RETURNING prior.state, prior.owner_id, prior.size_bytes, prior.storage_key
	`

	deleted := &DeletedAsset{}

	err := r.db.GetExecutor(ctx).QueryRow(ctx, query, assetID, now, statesToStrings(from)).Scan(
		&deleted.PrevState,
		&deleted.OwnerID,
		&deleted.SizeBytes,
		&deleted.StorageKey,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to mark asset deleted: %w", err)
	}

	return deleted, true, nil
}

// UpdateProgress records processing progress; only in-flight assets accept it
func (r *AssetRepository) UpdateProgress(ctx context.Context, assetID uuid.UUID, progress int) (bool, error) {
	query := `
		UPDATE assets
		SET progress = $2
		WHERE asset_id = $1 AND state = 'processing'
	`

	tag, err := r.db.GetExecutor(ctx).Exec(ctx, query, assetID, progress)
	if err != nil {
		return false, fmt.Errorf("failed to update asset progress: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// TouchAccess bumps the download counter for a completed asset
func (r *AssetRepository) TouchAccess(ctx context.Context, assetID uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE assets
		SET download_count = download_count + 1,
		    last_accessed_at = $2
		WHERE asset_id = $1 AND state = 'completed'
	`

	tag, err := r.db.GetExecutor(ctx).Exec(ctx, query, assetID, now)
	if err != nil {
		return false, fmt.Errorf("failed to touch asset access: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// ListByOwner retrieves assets owned by an account, newest first. Deleted
// assets are excluded unless the filter names them explicitly.
func (r *AssetRepository) ListByOwner(ctx context.Context, ownerID string, filter AssetFilter) ([]*models.Asset, error) {
	query := `
		SELECT ` + assetColumns + `
		FROM assets
		WHERE owner_id = $1
	`
	args := []any{ownerID}

	if len(filter.States) > 0 {
		args = append(args, statesToStrings(filter.States))
		query += fmt.Sprintf(" AND state = ANY($%d)", len(args))
	} else {
		query += ` AND state <> 'deleted'`
	}

	if filter.ContentKind != "" {
		args = append(args, string(filter.ContentKind))
		query += fmt.Sprintf(" AND content_kind = $%d", len(args))
	}

	if filter.CursorCreatedAt != nil && filter.CursorID != nil {
		args = append(args, *filter.CursorCreatedAt, *filter.CursorID)
		query += fmt.Sprintf(" AND (created_at, asset_id) < ($%d, $%d)", len(args)-1, len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, asset_id DESC LIMIT $%d", len(args))

	rows, err := r.db.GetExecutor(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	return collectAssets(rows)
}

// ListChildren retrieves the direct derivatives of an asset, oldest first
func (r *AssetRepository) ListChildren(ctx context.Context, parentID uuid.UUID) ([]*models.Asset, error) {
	query := `
		SELECT ` + assetColumns + `
		FROM assets
		WHERE parent_id = $1
		ORDER BY created_at ASC, asset_id ASC
	`

	rows, err := r.db.GetExecutor(ctx).Query(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()

	return collectAssets(rows)
}

// ParentChain walks the derivation chain from an asset up to its root,
// returning the asset itself first. maxDepth bounds the walk so a corrupt
// parent link cannot recurse unbounded. An unknown asset yields an empty
// chain.
func (r *AssetRepository) ParentChain(ctx context.Context, assetID uuid.UUID, maxDepth int) ([]*models.Asset, error) {
	query := `
		WITH RECURSIVE chain(asset_id, depth) AS (
			SELECT asset_id, 0
			FROM assets
			WHERE asset_id = $1
			UNION ALL
			SELECT a.parent_id, c.depth + 1
			FROM assets a
			JOIN chain c ON a.asset_id = c.asset_id
			WHERE a.parent_id IS NOT NULL AND c.depth < $2
		)
		SELECT ` + assetColumns + `
		FROM assets
		JOIN chain USING (asset_id)
		ORDER BY chain.depth ASC
	`

	rows, err := r.db.GetExecutor(ctx).Query(ctx, query, assetID, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to walk parent chain: %w", err)
	}
	defer rows.Close()

	return collectAssets(rows)
}

// ListExpired retrieves completed or failed assets whose expiry passed at or
// before the cutoff, oldest expiry first
func (r *AssetRepository) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*models.Asset, error) {
	query := `
		SELECT ` + assetColumns + `
		FROM assets
		WHERE state IN ('completed', 'failed')
		  AND expires_at IS NOT NULL
		  AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`

	rows, err := r.db.GetExecutor(ctx).Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired assets: %w", err)
	}
	defer rows.Close()

	return collectAssets(rows)
}

// ListStaleInFlight retrieves uploading or processing assets created at or
// before the cutoff, for the sweeper to fail out
func (r *AssetRepository) ListStaleInFlight(ctx context.Context, cutoff time.Time, limit int) ([]*models.Asset, error) {
	query := `
		SELECT ` + assetColumns + `
		FROM assets
		WHERE state IN ('uploading', 'processing')
		  AND created_at <= $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.db.GetExecutor(ctx).Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale assets: %w", err)
	}
	defer rows.Close()

	return collectAssets(rows)
}

func scanAsset(row pgx.Row) (*models.Asset, error) {
	asset := &models.Asset{}
	err := row.Scan(
		&asset.AssetID,
		&asset.OwnerID,
		&asset.ParentID,
		&asset.State,
		&asset.ContentKind,
		&asset.Derivation,
		&asset.SizeBytes,
		&asset.StorageKey,
		&asset.Progress,
		&asset.ErrorReason,
		&asset.DownloadCount,
		&asset.LastAccessedAt,
		&asset.ExpiresAt,
		&asset.CreatedAt,
		&asset.CompletedAt,
		&asset.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return asset, nil
}

func collectAssets(rows pgx.Rows) ([]*models.Asset, error) {
	var assets []*models.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, asset)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assets: %w", err)
	}

	return assets, nil
}

func statesToStrings(states []models.AssetState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
