package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mediaforge/ledger/cmd/ledger/repository"
	"github.com/mediaforge/ledger/common/blob"
	"github.com/mediaforge/ledger/common/bootstrap"
	"github.com/mediaforge/ledger/common/errs"
	"github.com/mediaforge/ledger/common/logger"
	"github.com/mediaforge/ledger/common/models"
)

const (
	defaultListLimit = 50
	maxPageSize      = 200
	maxLineageDepth  = 64
)

// ErrInvalidCursor means a pagination cursor could not be decoded.
var ErrInvalidCursor = errors.New("invalid pagination cursor")

var (
	deletableStates = []models.AssetState{models.StateCompleted, models.StateFailed}
	inFlightStates  = []models.AssetState{models.StateUploading, models.StateProcessing}
)

// RegistryService is the single source of truth for asset existence, state,
// and lineage. Every transition that changes chargeable status performs its
// quota adjustment inside the same database transaction as the state CAS.
type RegistryService struct {
	assets     AssetStore
	accounts   AccountStore
	quota      *QuotaService
	db         TxRunner
	blob       blob.Store
	components *bootstrap.Components
	log        *logger.Logger
}

// RegistryServiceOpts contains options for creating a RegistryService
type RegistryServiceOpts struct {
	Assets     AssetStore
	Accounts   AccountStore
	Quota      *QuotaService
	DB         TxRunner
	Blob       blob.Store
	Components *bootstrap.Components
}

// NewRegistryService creates a new registry service with options pattern
func NewRegistryService(opts *RegistryServiceOpts) *RegistryService {
	return &RegistryService{
		assets:     opts.Assets,
		accounts:   opts.Accounts,
		quota:      opts.Quota,
		db:         opts.DB,
		blob:       opts.Blob,
		components: opts.Components,
		log:        opts.Components.Logger.WithComponent("registry"),
	}
}

// CreateAssetParams describes a new asset registration.
type CreateAssetParams struct {
	OwnerID     string
	Tier        models.Tier
	SizeBytes   int64
	ContentKind models.ContentKind
	Derivation  models.DerivationKind
	ParentID    *uuid.UUID
}

// DeriveParams describes a new transformation begun on an existing asset.
type DeriveParams struct {
	RequestedBy string
	Tier        models.Tier
	Derivation  models.DerivationKind
	ContentKind models.ContentKind // empty inherits the parent's
	SizeHint    int64              // optimistic estimate; <=0 uses the parent size
}

// ListFilter narrows a ListByOwner page.
type ListFilter struct {
	States      []models.AssetState
	ContentKind models.ContentKind
	Cursor      string
	Limit       int
}

// ListPage is one page of assets plus the cursor for the next one.
type ListPage struct {
	Assets     []*models.Asset `json:"assets"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// LineageView is the derivation neighborhood of one asset.
type LineageView struct {
	Asset *models.Asset `json:"asset"`

	// Parent chain, nearest ancestor first, root last
	Ancestry []*models.Asset `json:"ancestry"`

	// Direct derivatives, oldest first
	Children []*models.Asset `json:"children"`
}

// CreateAsset registers a new asset. Originals start in uploading and are
// charged at completion; derived assets (parent set) start in processing
// and commit their optimistic storage charge in the same transaction as
// the insert. A deleted, missing, or foreign-owned parent is rejected with
// ErrInvalidParent.
func (s *RegistryService) CreateAsset(ctx context.Context, params CreateAssetParams) (*models.Asset, error) {
	// 1. Provision the owner row so later transitions can read its tier
	if err := s.quota.Provision(ctx, params.OwnerID, params.Tier); err != nil {
		return nil, err
	}

	// 2. Validate the parent link
	var parent *models.Asset
	if params.ParentID != nil {
		var err error
		parent, err = s.assets.GetByID(ctx, *params.ParentID)
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrInvalidParent
		}
		if err != nil {
			return nil, err
		}

		if parent.OwnerID != params.OwnerID || parent.IsDeleted() {
			return nil, errs.ErrInvalidParent
		}
	}

	// 3. Build the row; derived assets begin mid-transformation
	asset := &models.Asset{
		AssetID:     uuid.New(),
		OwnerID:     params.OwnerID,
		ParentID:    params.ParentID,
		State:       models.StateUploading,
		ContentKind: params.ContentKind,
		Derivation:  params.Derivation,
		SizeBytes:   params.SizeBytes,
		CreatedAt:   time.Now().UTC(),
	}
	asset.StorageKey = storageKeyFor(asset.OwnerID, asset.AssetID)
	// Retention is stamped at creation so assets that never complete still
	// age out of the store; completion restarts the clock.
	asset.ExpiresAt = s.expiryFor(params.Tier, asset.CreatedAt)

	if params.ParentID != nil {
		asset.State = models.StateProcessing
		if asset.Derivation == "" {
			asset.Derivation = models.DerivationProcessed
		}
		if asset.ContentKind == "" {
			asset.ContentKind = parent.ContentKind
		}
	} else {
		if asset.Derivation == "" {
			asset.Derivation = models.DerivationOriginal
		}
		if asset.ContentKind == "" {
			asset.ContentKind = models.ContentOther
		}
	}

	// 4. Chargeable initial state commits insert and charge together
	if asset.State.Chargeable() && asset.SizeBytes > 0 {
		err := s.db.InTxRetry(ctx, func(txCtx context.Context) error {
			if err := s.quota.ChargeStorage(txCtx, params.OwnerID, params.Tier, asset.SizeBytes); err != nil {
				return err
			}
			return s.assets.Create(txCtx, asset)
		})
		if err != nil {
			return nil, err
		}
	} else {
		if err := s.assets.Create(ctx, asset); err != nil {
			return nil, err
		}
	}

	s.log.Info("asset created",
		"asset_id", asset.AssetID,
		"owner_id", asset.OwnerID,
		"state", asset.State,
		"size_bytes", asset.SizeBytes,
		"parent_id", params.ParentID)

	return asset, nil
}

// BeginProcessing starts a transformation on an existing asset by creating
// a child asset in processing; the parent keeps its state. The optimistic
// storage estimate is charged in the same transaction as the child insert,
// so a quota denial leaves nothing behind.
func (s *RegistryService) BeginProcessing(ctx context.Context, parentID uuid.UUID, params DeriveParams) (*models.Asset, error) {
	parent, err := s.assets.GetByID(ctx, parentID)
	if err != nil {
		return nil, err
	}

	if params.RequestedBy != parent.OwnerID && !params.Tier.IsAdmin() {
		return nil, errs.ErrForbidden
	}

	if !parent.State.CanDeriveFrom() {
		return nil, &errs.InvalidStateError{
			AssetID:   parentID.String(),
			State:     string(parent.State),
			Attempted: "derive from",
		}
	}

	// The charge lands on the parent's owner, so read that account's own
	// tier rather than trusting the requester's (an admin may act here).
	ownerAccount, err := s.accounts.GetByID(ctx, parent.OwnerID)
	if err != nil {
		return nil, err
	}

	estimate := params.SizeHint
	if estimate <= 0 {
		estimate = parent.SizeBytes
	}

	child := &models.Asset{
		AssetID:     uuid.New(),
		OwnerID:     parent.OwnerID,
		ParentID:    &parent.AssetID,
		State:       models.StateProcessing,
		ContentKind: params.ContentKind,
		Derivation:  params.Derivation,
		SizeBytes:   estimate,
		CreatedAt:   time.Now().UTC(),
	}
	child.StorageKey = storageKeyFor(child.OwnerID, child.AssetID)
	child.ExpiresAt = s.expiryFor(ownerAccount.Tier, child.CreatedAt)

	if child.ContentKind == "" {
		child.ContentKind = parent.ContentKind
	}
	if child.Derivation == "" {
		child.Derivation = models.DerivationProcessed
	}

	err = s.db.InTxRetry(ctx, func(txCtx context.Context) error {
		if estimate > 0 {
			if err := s.quota.ChargeStorage(txCtx, parent.OwnerID, ownerAccount.Tier, estimate); err != nil {
				return err
			}
		}
		return s.assets.Create(txCtx, child)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("processing begun",
		"asset_id", child.AssetID,
		"parent_id", parent.AssetID,
		"owner_id", child.OwnerID,
		"derivation", child.Derivation,
		"estimate_bytes", estimate)

	return child, nil
}

// Complete finalizes an asset for an HTTP caller, dispatching on the
// current state: uploading assets get their first (guarded) charge,
// processing assets settle the delta against the optimistic estimate. An
// already-completed asset is a no-op success.
func (s *RegistryService) Complete(ctx context.Context, assetID uuid.UUID, finalSize int64, requestedBy string, tier models.Tier) (*models.Asset, error) {
	asset, err := s.assets.GetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}

	if requestedBy != asset.OwnerID && !tier.IsAdmin() {
		return nil, errs.ErrForbidden
	}

	// An omitted final size reaffirms the declared size.
	if finalSize <= 0 {
		finalSize = asset.SizeBytes
	}

	switch asset.State {
	case models.StateUploading:
		return s.CompleteUpload(ctx, assetID, finalSize)
	case models.StateProcessing:
		return s.CompleteProcessing(ctx, assetID, finalSize)
	case models.StateCompleted:
		return asset, nil
	default:
		return nil, &errs.InvalidStateError{
			AssetID:   assetID.String(),
			State:     string(asset.State),
			Attempted: "complete",
		}
	}
}

// CompleteUpload transitions uploading → completed and applies the first
// (guarded) storage charge in the same transaction; a quota denial rolls
// the transition back and leaves the asset uploading.
func (s *RegistryService) CompleteUpload(ctx context.Context, assetID uuid.UUID, finalSize int64) (*models.Asset, error) {
	err := s.db.InTxRetry(ctx, func(txCtx context.Context) error {
		asset, err := s.assets.GetByID(txCtx, assetID)
		if err != nil {
			return err
		}
		if asset.State == models.StateCompleted {
			return nil
		}

		account, err := s.accounts.GetByID(txCtx, asset.OwnerID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		_, _, applied, err := s.assets.MarkCompleted(
			txCtx, assetID,
			[]models.AssetState{models.StateUploading},
			finalSize, s.expiryFor(account.Tier, now), now,
		)
		if err != nil {
			return err
		}
		if !applied {
			return s.completionRace(txCtx, assetID)
		}

		if finalSize > 0 {
			return s.quota.ChargeStorage(txCtx, asset.OwnerID, account.Tier, finalSize)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("upload completed",
		"asset_id", assetID,
		"size_bytes", finalSize)

	return s.assets.GetByID(ctx, assetID)
}

// CompleteProcessing transitions processing → completed, fixes progress
// and expiry, and settles the difference between the final size and the
// optimistic estimate in the same transaction. The settlement is applied
// without the limit guard: the bytes exist, so the account may transiently
// exceed its cap rather than strand the artifact.
func (s *RegistryService) CompleteProcessing(ctx context.Context, assetID uuid.UUID, finalSize int64) (*models.Asset, error) {
	err := s.db.InTxRetry(ctx, func(txCtx context.Context) error {
		asset, err := s.assets.GetByID(txCtx, assetID)
		if err != nil {
			return err
		}
		if asset.State == models.StateCompleted {
			return nil
		}

		account, err := s.accounts.GetByID(txCtx, asset.OwnerID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		_, prevSize, applied, err := s.assets.MarkCompleted(
			txCtx, assetID,
			[]models.AssetState{models.StateProcessing},
			finalSize, s.expiryFor(account.Tier, now), now,
		)
		if err != nil {
			return err
		}
		if !applied {
			return s.completionRace(txCtx, assetID)
		}

		if delta := finalSize - prevSize; delta != 0 {
			return s.quota.SettleStorage(txCtx, asset.OwnerID, delta)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("processing completed",
		"asset_id", assetID,
		"size_bytes", finalSize)

	return s.assets.GetByID(ctx, assetID)
}

// completionRace resolves a lost completion CAS: a concurrent completion
// is a no-op success, anything else surfaces InvalidState.
func (s *RegistryService) completionRace(ctx context.Context, assetID uuid.UUID) error {
	current, err := s.assets.GetByID(ctx, assetID)
	if err != nil {
		return err
	}
	if current.State == models.StateCompleted {
		return nil
	}
	return &errs.InvalidStateError{
		AssetID:   assetID.String(),
		State:     string(current.State),
		Attempted: "complete",
	}
}

// Fail marks an asset failed for an HTTP caller after an ownership check.
func (s *RegistryService) Fail(ctx context.Context, assetID uuid.UUID, reason string, requestedBy string, tier models.Tier) (*models.Asset, error) {
	asset, err := s.assets.GetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}

	if requestedBy != asset.OwnerID && !tier.IsAdmin() {
		return nil, errs.ErrForbidden
	}

	return s.FailProcessing(ctx, assetID, reason)
}

// FailProcessing transitions an in-flight asset (uploading or processing)
// to failed. When the prior state was processing, the optimistic storage
// charge is credited back in the same transaction; an uploading asset
// never held a charge. Feature usage is never refunded here: the attempt
// was consumed. An already-failed asset is a no-op success.
func (s *RegistryService) FailProcessing(ctx context.Context, assetID uuid.UUID, reason string) (*models.Asset, error) {
	err := s.db.InTxRetry(ctx, func(txCtx context.Context) error {
		asset, err := s.assets.GetByID(txCtx, assetID)
		if err != nil {
			return err
		}
		if asset.State == models.StateFailed {
			return nil
		}

		prevState, prevSize, applied, err := s.assets.MarkFailed(txCtx, assetID, inFlightStates, reason)
		if err != nil {
			return err
		}
		if !applied {
			current, err := s.assets.GetByID(txCtx, assetID)
			if err != nil {
				return err
			}
			if current.State == models.StateFailed {
				return nil
			}
			return &errs.InvalidStateError{
				AssetID:   assetID.String(),
				State:     string(current.State),
				Attempted: "fail",
			}
		}

		if prevState == models.StateProcessing && prevSize > 0 {
			return s.quota.SettleStorage(txCtx, asset.OwnerID, -prevSize)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("asset failed",
		"asset_id", assetID,
		"reason", reason)

	return s.assets.GetByID(ctx, assetID)
}

// DeleteAsset soft-deletes an asset for its owner (or an admin). The prior
// state decides the credit: completed assets release their charge, failed
// assets already released it at failure time. A second delete, concurrent
// or sequential, is a no-op success with no further credit. Children are
// never cascade-deleted: they remain independently owned and accounted,
// with their parent link now pointing at a tombstone.
func (s *RegistryService) DeleteAsset(ctx context.Context, assetID uuid.UUID, requestedBy string, tier models.Tier) error {
	asset, err := s.assets.GetByID(ctx, assetID)
	if err != nil {
		return err
	}

	if requestedBy != asset.OwnerID && !tier.IsAdmin() {
		return errs.ErrForbidden
	}

	if asset.State == models.StateDeleted {
		return nil
	}

	if !asset.State.CanTransitionTo(models.StateDeleted) {
		return &errs.InvalidStateError{
			AssetID:   assetID.String(),
			State:     string(asset.State),
			Attempted: "delete",
		}
	}

	reclaimed, err := s.reclaim(ctx, assetID)
	if err != nil {
		return err
	}

	if reclaimed != nil {
		s.log.Info("asset deleted",
			"asset_id", assetID,
			"owner_id", reclaimed.OwnerID,
			"prev_state", reclaimed.PrevState,
			"credited_bytes", creditFor(reclaimed),
			"requested_by", requestedBy)
	}

	return nil
}

// ReclaimExpired deletes an expired asset on behalf of the sweeper,
// crediting by prior state exactly like a user delete. Returns false when
// the asset was already gone, which makes repeat sweeps free of double
// credits.
func (s *RegistryService) ReclaimExpired(ctx context.Context, assetID uuid.UUID) (bool, error) {
	reclaimed, err := s.reclaim(ctx, assetID)
	if err != nil {
		return false, err
	}

	if reclaimed == nil {
		return false, nil
	}

	s.log.Info("expired asset reclaimed",
		"asset_id", assetID,
		"owner_id", reclaimed.OwnerID,
		"prev_state", reclaimed.PrevState,
		"credited_bytes", creditFor(reclaimed))

	return true, nil
}

// reclaim is the shared delete core: CAS {completed,failed} → deleted with
// the prior-state credit in one transaction, then best-effort blob
// removal after commit. A lost CAS means another deleter won; nil, nil.
func (s *RegistryService) reclaim(ctx context.Context, assetID uuid.UUID) (*repository.DeletedAsset, error) {
	var reclaimed *repository.DeletedAsset

	err := s.db.InTxRetry(ctx, func(txCtx context.Context) error {
		reclaimed = nil

		deleted, applied, err := s.assets.MarkDeleted(txCtx, assetID, deletableStates, time.Now().UTC())
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}

		reclaimed = deleted
		if credit := creditFor(deleted); credit > 0 {
			return s.quota.SettleStorage(txCtx, deleted.OwnerID, -credit)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if reclaimed != nil {
		s.removeBlob(ctx, reclaimed.StorageKey)
	}

	return reclaimed, nil
}

// creditFor returns the storage credit owed when a deletion applied: only
// completed assets still hold a charge.
func creditFor(deleted *repository.DeletedAsset) int64 {
	if deleted.PrevState == models.StateCompleted && deleted.SizeBytes > 0 {
		return deleted.SizeBytes
	}
	return 0
}

// GetAsset fetches an asset for its owner or an admin.
func (s *RegistryService) GetAsset(ctx context.Context, assetID uuid.UUID, requestedBy string, tier models.Tier) (*models.Asset, error) {
	asset, err := s.assets.GetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}

	if requestedBy != asset.OwnerID && !tier.IsAdmin() {
		return nil, errs.ErrForbidden
	}

	return asset, nil
}

// ListByOwner returns one page of an owner's assets, newest first with a
// stable asset-id tiebreak. Deleted assets are excluded unless the filter
// names them.
func (s *RegistryService) ListByOwner(ctx context.Context, ownerID string, filter ListFilter) (*ListPage, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	repoFilter := repository.AssetFilter{
		States:      filter.States,
		ContentKind: filter.ContentKind,
		Limit:       limit + 1,
	}

	if filter.Cursor != "" {
		createdAt, assetID, err := decodeCursor(filter.Cursor)
		if err != nil {
			return nil, err
		}
		repoFilter.CursorCreatedAt = &createdAt
		repoFilter.CursorID = &assetID
	}

	assets, err := s.assets.ListByOwner(ctx, ownerID, repoFilter)
	if err != nil {
		return nil, err
	}

	page := &ListPage{}
	if len(assets) > limit {
		assets = assets[:limit]
		last := assets[limit-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.AssetID)
	}
	page.Assets = assets

	return page, nil
}

// Lineage returns the parent chain of an asset up to its root plus its
// direct children. The walk is depth-bounded so a corrupt parent link can
// never recurse unbounded.
func (s *RegistryService) Lineage(ctx context.Context, assetID uuid.UUID, requestedBy string, tier models.Tier) (*LineageView, error) {
	chain, err := s.assets.ParentChain(ctx, assetID, maxLineageDepth)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, errs.ErrNotFound
	}

	self := chain[0]
	if requestedBy != self.OwnerID && !tier.IsAdmin() {
		return nil, errs.ErrForbidden
	}

	children, err := s.assets.ListChildren(ctx, assetID)
	if err != nil {
		return nil, err
	}

	return &LineageView{
		Asset:    self,
		Ancestry: chain[1:],
		Children: children,
	}, nil
}

// RecordDownload opens the blob for a completed asset and bumps its access
// accounting. The counter bump is advisory: a failure there never blocks
// the download.
func (s *RegistryService) RecordDownload(ctx context.Context, assetID uuid.UUID, requestedBy string, tier models.Tier) (io.ReadCloser, *models.Asset, error) {
	asset, err := s.assets.GetByID(ctx, assetID)
	if err != nil {
		return nil, nil, err
	}

	if requestedBy != asset.OwnerID && !tier.IsAdmin() {
		return nil, nil, errs.ErrForbidden
	}

	if asset.State != models.StateCompleted {
		return nil, nil, &errs.InvalidStateError{
			AssetID:   assetID.String(),
			State:     string(asset.State),
			Attempted: "download",
		}
	}

	reader, err := s.blob.Get(ctx, asset.StorageKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errs.ErrStorageBackend, err)
	}

	if _, err := s.assets.TouchAccess(ctx, assetID, time.Now().UTC()); err != nil {
		s.log.Warn("download accounting failed",
			"asset_id", assetID,
			"error", err)
	}

	return reader, asset, nil
}

// SetProgress records processing progress for an in-flight asset.
func (s *RegistryService) SetProgress(ctx context.Context, assetID uuid.UUID, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	applied, err := s.assets.UpdateProgress(ctx, assetID, progress)
	if err != nil {
		return err
	}
	if !applied {
		s.log.Debug("progress update skipped, asset not processing",
			"asset_id", assetID,
			"progress", progress)
	}

	return nil
}

// expiryFor computes an asset's expiry instant from the owner's tier
// retention, anchored at creation or completion time. Zero retention means
// the asset never expires.
func (s *RegistryService) expiryFor(tier models.Tier, now time.Time) *time.Time {
	retention := s.components.Config.RetentionForTier(string(tier))
	if retention <= 0 {
		return nil
	}
	expires := now.Add(retention)
	return &expires
}

func (s *RegistryService) removeBlob(ctx context.Context, storageKey string) {
	if storageKey == "" {
		return
	}
	if err := s.blob.Delete(ctx, storageKey); err != nil {
		s.log.Warn("blob removal failed",
			"storage_key", storageKey,
			"error", err)
	}
}

func storageKeyFor(ownerID string, assetID uuid.UUID) string {
	return fmt.Sprintf("%s/%s", ownerID, assetID)
}

// encodeCursor packs a list position into an opaque token.
func encodeCursor(createdAt time.Time, assetID uuid.UUID) string {
	raw := createdAt.UTC().Format(time.RFC3339Nano) + "|" + assetID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, uuid.UUID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}

	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}

	createdAt, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}

	assetID, err := uuid.Parse(parts[1])
	if err != nil {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}

	return createdAt, assetID, nil
}
