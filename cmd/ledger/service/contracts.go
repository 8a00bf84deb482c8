package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mediaforge/ledger/cmd/ledger/repository"
	"github.com/mediaforge/ledger/common/models"
)

// AccountStore is the slice of the account repository the services depend
// on. Satisfied by *repository.AccountRepository; tests substitute fakes.
type AccountStore interface {
	EnsureAccount(ctx context.Context, accountID string, tier models.Tier, storageLimit int64) error
	GetByID(ctx context.Context, accountID string) (*models.Account, error)
	ChargeStorage(ctx context.Context, accountID string, deltaBytes int64) (applied bool, used, limit int64, err error)
	SettleStorage(ctx context.Context, accountID string, deltaBytes int64) (used, limit int64, err error)
	EnsureFeatureCounter(ctx context.Context, accountID string, feature models.Feature, tier models.Tier, limit int64) error
	ReserveFeature(ctx context.Context, accountID string, feature models.Feature) (applied bool, used, limit int64, err error)
	ReleaseFeature(ctx context.Context, accountID string, feature models.Feature) error
	GetFeatureCounter(ctx context.Context, accountID string, feature models.Feature) (*models.FeatureCounter, error)
	ListFeatureCounters(ctx context.Context, accountID string) ([]models.FeatureCounter, error)
	ResetFeatureCounter(ctx context.Context, accountID string, feature models.Feature) error
	SetStorageLimit(ctx context.Context, accountID string, limitBytes int64) error
	RecomputeStorageUsed(ctx context.Context, accountID string) (before, after int64, err error)
}

// AssetStore is the slice of the asset repository the services depend on.
// Satisfied by *repository.AssetRepository.
type AssetStore interface {
	Create(ctx context.Context, asset *models.Asset) error
	GetByID(ctx context.Context, assetID uuid.UUID) (*models.Asset, error)
	MarkCompleted(ctx context.Context, assetID uuid.UUID, from []models.AssetState, finalSize int64, expiresAt *time.Time, now time.Time) (models.AssetState, int64, bool, error)
	MarkFailed(ctx context.Context, assetID uuid.UUID, from []models.AssetState, reason string) (models.AssetState, int64, bool, error)
	MarkDeleted(ctx context.Context, assetID uuid.UUID, from []models.AssetState, now time.Time) (*repository.DeletedAsset, bool, error)
	UpdateProgress(ctx context.Context, assetID uuid.UUID, progress int) (bool, error)
	TouchAccess(ctx context.Context, assetID uuid.UUID, now time.Time) (bool, error)
	ListByOwner(ctx context.Context, ownerID string, filter repository.AssetFilter) ([]*models.Asset, error)
	ListChildren(ctx context.Context, parentID uuid.UUID) ([]*models.Asset, error)
	ParentChain(ctx context.Context, assetID uuid.UUID, maxDepth int) ([]*models.Asset, error)
}

// UsageStore is the slice of the usage repository the services depend on.
// Satisfied by *repository.UsageRepository.
type UsageStore interface {
	Insert(ctx context.Context, record *models.UsageRecord) error
	ListByAccount(ctx context.Context, accountID string, filter repository.UsageFilter) ([]*models.UsageRecord, error)
	SummarizeByFeature(ctx context.Context, accountID string, since, until time.Time) ([]*models.FeatureSummary, error)
	SummarizeByDay(ctx context.Context, accountID string, since, until time.Time) ([]*models.DailySummary, error)
}

// TxRunner runs a function inside a database transaction carried by the
// context. Satisfied by *db.DB.
type TxRunner interface {
	InTx(ctx context.Context, f func(ctx context.Context) error) error
	InTxRetry(ctx context.Context, f func(ctx context.Context) error) error
}

// SnapshotCache is the slice of the Redis wrapper used for the quota
// snapshot cache. A nil cache disables caching.
type SnapshotCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, expiry time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// StreamPublisher publishes usage events to a capped stream. A nil
// publisher disables publication.
type StreamPublisher interface {
	AddToStream(ctx context.Context, stream string, maxLen int64, values map[string]interface{}) (string, error)
}
