package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mediaforge/ledger/common/bootstrap"
	"github.com/mediaforge/ledger/common/errs"
	"github.com/mediaforge/ledger/common/logger"
	"github.com/mediaforge/ledger/common/models"
	rediscommon "github.com/mediaforge/ledger/common/redis"
)

// QuotaService enforces and tracks per-account consumption limits. All
// counter mutations are single guarded UPDATEs, so concurrent callers can
// never both pass a check and then both apply.
type QuotaService struct {
	accounts   AccountStore
	cache      SnapshotCache
	components *bootstrap.Components
	log        *logger.Logger
}

// QuotaServiceOpts contains options for creating a QuotaService
type QuotaServiceOpts struct {
	Accounts   AccountStore
	Cache      SnapshotCache
	Components *bootstrap.Components
}

// NewQuotaService creates a new quota service with options pattern
func NewQuotaService(opts *QuotaServiceOpts) *QuotaService {
	return &QuotaService{
		accounts:   opts.Accounts,
		cache:      opts.Cache,
		components: opts.Components,
		log:        opts.Components.Logger.WithComponent("quota"),
	}
}

// ReconcileResult reports a storage recompute for drift visibility.
type ReconcileResult struct {
	AccountID   string `json:"account_id"`
	BeforeBytes int64  `json:"before_bytes"`
	AfterBytes  int64  `json:"after_bytes"`
	DriftBytes  int64  `json:"drift_bytes"`
}

// Provision upserts the account row and applies tier defaults from config
// when the tier changed. Called lazily on the first operation touching an
// identity; the auth collaborator owns the identity itself.
func (s *QuotaService) Provision(ctx context.Context, accountID string, tier models.Tier) error {
	limit := s.components.Config.StorageLimitForTier(string(tier))
	if err := s.accounts.EnsureAccount(ctx, accountID, tier, limit); err != nil {
		return err
	}
	return nil
}

// TryReserveFeature atomically checks and increments the feature counter
// in one step. A denial returns *errs.QuotaExceededError with the counter
// values and applies nothing. The caller must hold the returned
// reservation and hand it back via ReleaseReservation only on hard
// failure of the whole operation.
func (s *QuotaService) TryReserveFeature(ctx context.Context, accountID string, tier models.Tier, feature models.Feature) (*models.Reservation, error) {
	// 1. Lazily provision the account and counter rows with tier defaults
	if err := s.Provision(ctx, accountID, tier); err != nil {
		return nil, err
	}

	featureLimit := s.components.Config.FeatureLimitForTier(string(tier))
	if err := s.accounts.EnsureFeatureCounter(ctx, accountID, feature, tier, featureLimit); err != nil {
		return nil, err
	}

	// 2. One guarded increment; no read-then-write gap
	applied, used, limit, err := s.accounts.ReserveFeature(ctx, accountID, feature)
	if err != nil {
		return nil, err
	}

	if !applied {
		// Counter row exists (just ensured), so this is a denial. Read it
		// back for the error payload.
		counter, err := s.accounts.GetFeatureCounter(ctx, accountID, feature)
		if err != nil {
			return nil, err
		}

		s.log.Info("feature reservation denied",
			"account_id", accountID,
			"feature", feature,
			"used", counter.Used,
			"limit", counter.Limit)

		return nil, &errs.QuotaExceededError{
			Scope:     errs.ScopeFeature,
			Feature:   string(feature),
			Used:      counter.Used,
			Limit:     counter.Limit,
			Requested: 1,
		}
	}

	s.invalidateSnapshot(ctx, accountID)

	s.log.Debug("feature reserved",
		"account_id", accountID,
		"feature", feature,
		"used", used,
		"limit", limit)

	return models.NewReservation(accountID, feature), nil
}

// ReleaseReservation hands a reservation back, decrementing the counter
// with a floor of zero. The token's once-guard makes a double release a
// no-op, so retried failure paths cannot double-decrement.
func (s *QuotaService) ReleaseReservation(ctx context.Context, reservation *models.Reservation) error {
	if reservation == nil {
		return nil
	}

	if !reservation.MarkReleased() {
		return nil
	}

	return s.ReleaseFeature(ctx, reservation.AccountID, reservation.Feature)
}

// ReleaseFeature decrements a feature counter directly. Exposed for
// collaborators that hold no reservation token across requests; the
// decrement floors at zero.
func (s *QuotaService) ReleaseFeature(ctx context.Context, accountID string, feature models.Feature) error {
	if err := s.accounts.ReleaseFeature(ctx, accountID, feature); err != nil {
		return err
	}

	s.invalidateSnapshot(ctx, accountID)

	s.log.Debug("feature reservation released",
		"account_id", accountID,
		"feature", feature)

	return nil
}

// ChargeStorage applies a storage delta in one atomic guarded step.
// Positive deltas that would exceed a limited account's cap are denied
// with *errs.QuotaExceededError and nothing applied; negative deltas
// reclaim (floored at zero) and never fail the guard.
func (s *QuotaService) ChargeStorage(ctx context.Context, accountID string, tier models.Tier, deltaBytes int64) error {
	if err := s.Provision(ctx, accountID, tier); err != nil {
		return err
	}

	applied, used, limit, err := s.accounts.ChargeStorage(ctx, accountID, deltaBytes)
	if err != nil {
		return err
	}

	if !applied {
		// Account row exists (just ensured), so the guard denied.
		account, err := s.accounts.GetByID(ctx, accountID)
		if err != nil {
			return err
		}

		s.log.Info("storage charge denied",
			"account_id", accountID,
			"requested_bytes", deltaBytes,
			"used_bytes", account.StorageUsedBytes,
			"limit_bytes", account.StorageLimitBytes)

		return &errs.QuotaExceededError{
			Scope:     errs.ScopeStorage,
			Used:      account.StorageUsedBytes,
			Limit:     account.StorageLimitBytes,
			Requested: deltaBytes,
		}
	}

	s.invalidateSnapshot(ctx, accountID)

	s.log.Debug("storage charged",
		"account_id", accountID,
		"delta_bytes", deltaBytes,
		"used_bytes", used,
		"limit_bytes", limit)

	return nil
}

// SettleStorage applies a storage delta without the limit guard. Used for
// the completion settlement between an optimistic estimate and the final
// size: the bytes already exist, so the account may transiently sit above
// its limit rather than strand the produced artifact. Further positive
// charges stay denied until space is freed.
func (s *QuotaService) SettleStorage(ctx context.Context, accountID string, deltaBytes int64) error {
	used, limit, err := s.accounts.SettleStorage(ctx, accountID, deltaBytes)
	if err != nil {
		return err
	}

	s.invalidateSnapshot(ctx, accountID)

	if limit >= 0 && used > limit {
		s.log.Warn("storage settled above limit",
			"account_id", accountID,
			"delta_bytes", deltaBytes,
			"used_bytes", used,
			"limit_bytes", limit)
	}

	return nil
}

// GetUsage returns the account's quota snapshot: storage counters plus
// every feature counter. Served from the Redis cache when fresh; every
// mutating ledger call invalidates the cached entry. Accounts are
// provisioned on first read so a fresh identity sees zero usage, not a
// missing account.
func (s *QuotaService) GetUsage(ctx context.Context, accountID string, tier models.Tier) (*models.QuotaSnapshot, error) {
	if snapshot := s.cachedSnapshot(ctx, accountID); snapshot != nil {
		return snapshot, nil
	}

	if err := s.Provision(ctx, accountID, tier); err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	counters, err := s.accounts.ListFeatureCounters(ctx, accountID)
	if err != nil {
		return nil, err
	}

	snapshot := &models.QuotaSnapshot{
		AccountID: account.AccountID,
		Tier:      account.Tier,
		Storage: models.StorageUsage{
			UsedBytes:  account.StorageUsedBytes,
			LimitBytes: account.StorageLimitBytes,
		},
		Features: counters,
	}

	s.storeSnapshot(ctx, snapshot)

	return snapshot, nil
}

// Reconcile recomputes the storage counter from the live asset sum in one
// statement (consistent snapshot, last-writer-wins) and reports the drift.
// Safe to call concurrently with live charges.
func (s *QuotaService) Reconcile(ctx context.Context, accountID string) (*ReconcileResult, error) {
	before, after, err := s.accounts.RecomputeStorageUsed(ctx, accountID)
	if err != nil {
		return nil, err
	}

	s.invalidateSnapshot(ctx, accountID)

	result := &ReconcileResult{
		AccountID:   accountID,
		BeforeBytes: before,
		AfterBytes:  after,
		DriftBytes:  before - after,
	}

	if result.DriftBytes != 0 {
		s.log.Warn("storage counter drift corrected",
			"account_id", accountID,
			"before_bytes", before,
			"after_bytes", after,
			"drift_bytes", result.DriftBytes)
	}

	return result, nil
}

// SetStorageLimit overrides the storage cap for an account. Admin only;
// negative means unlimited.
func (s *QuotaService) SetStorageLimit(ctx context.Context, accountID string, limitBytes int64) error {
	if err := s.accounts.SetStorageLimit(ctx, accountID, limitBytes); err != nil {
		return err
	}

	s.invalidateSnapshot(ctx, accountID)

	s.log.Info("storage limit overridden",
		"account_id", accountID,
		"limit_bytes", limitBytes)

	return nil
}

// ResetFeatureCounter zeroes a feature counter. Admin only; counters are
// cumulative and never reset on their own.
func (s *QuotaService) ResetFeatureCounter(ctx context.Context, accountID string, feature models.Feature) error {
	if err := s.accounts.ResetFeatureCounter(ctx, accountID, feature); err != nil {
		return err
	}

	s.invalidateSnapshot(ctx, accountID)

	s.log.Info("feature counter reset",
		"account_id", accountID,
		"feature", feature)

	return nil
}

func quotaCacheKey(accountID string) string {
	return fmt.Sprintf("quota:%s", accountID)
}

// cachedSnapshot reads the cache, failing open: any cache error is a miss.
func (s *QuotaService) cachedSnapshot(ctx context.Context, accountID string) *models.QuotaSnapshot {
	if s.cache == nil {
		return nil
	}

	raw, err := s.cache.Get(ctx, quotaCacheKey(accountID))
	if err != nil {
		if !errors.Is(err, rediscommon.ErrKeyNotFound) {
			s.log.Warn("quota snapshot cache read failed",
				"account_id", accountID,
				"error", err)
		}
		return nil
	}

	var snapshot models.QuotaSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		s.log.Warn("quota snapshot cache entry corrupt",
			"account_id", accountID,
			"error", err)
		return nil
	}

	return &snapshot
}

func (s *QuotaService) storeSnapshot(ctx context.Context, snapshot *models.QuotaSnapshot) {
	if s.cache == nil {
		return
	}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return
	}

	ttl := s.components.Config.Quota.CacheTTL
	if err := s.cache.Set(ctx, quotaCacheKey(snapshot.AccountID), string(raw), ttl); err != nil {
		s.log.Warn("quota snapshot cache write failed",
			"account_id", snapshot.AccountID,
			"error", err)
	}
}

func (s *QuotaService) invalidateSnapshot(ctx context.Context, accountID string) {
	if s.cache == nil {
		return
	}

	if err := s.cache.Delete(ctx, quotaCacheKey(accountID)); err != nil {
		s.log.Warn("quota snapshot cache invalidation failed",
			"account_id", accountID,
			"error", err)
	}
}
