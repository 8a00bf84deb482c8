package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mediaforge/ledger/common/db"
	"github.com/mediaforge/ledger/common/errs"
	"github.com/mediaforge/ledger/common/models"
)

// AccountRepository handles database operations for accounts and their
// feature counters. Every counter mutation is a single guarded UPDATE so
// the check and the write are one atomic step.
type AccountRepository struct {
	db *db.DB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *db.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// EnsureAccount upserts the account row for an identity. On tier change
// the default storage limit for the new tier is applied; otherwise an
// existing (possibly admin-overridden) limit is preserved.
func (r *AccountRepository) EnsureAccount(ctx context.Context, accountID string, tier models.Tier, storageLimit int64) error {
	query := `
		INSERT INTO accounts (account_id, tier, storage_used_bytes, storage_limit_bytes, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $4, $4)
		ON CONFLICT (account_id) DO UPDATE SET
			tier = EXCLUDED.tier,
			storage_limit_bytes = EXCLUDED.storage_limit_bytes,
			updated_at = EXCLUDED.updated_at
		WHERE accounts.tier <> EXCLUDED.tier
	`

	_, err := r.db.GetExecutor(ctx).Exec(ctx, query, accountID, tier, storageLimit, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to ensure account: %w", err)
	}

	return nil
}

// GetByID retrieves an account by its ID
func (r *AccountRepository) GetByID(ctx context.Context, accountID string) (*models.Account, error) {
	query := `
		SELECT account_id, tier, storage_used_bytes, storage_limit_bytes, created_at, updated_at
		FROM accounts
		WHERE account_id = $1
	`

	account := &models.Account{}
	err := r.db.GetExecutor(ctx).QueryRow(ctx, query, accountID).Scan(
		&account.AccountID,
		&account.Tier,
		&account.StorageUsedBytes,
		&account.StorageLimitBytes,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

// ChargeStorage applies a storage delta in one atomic guarded step.
// Positive deltas are denied (applied=false, nothing written) when they
// would push a limited account past its cap; negative deltas floor at
// zero. Returns the counters after the write when applied.
func (r *AccountRepository) ChargeStorage(ctx context.Context, accountID string, deltaBytes int64) (applied bool, used, limit int64, err error) {
	query := `
		UPDATE accounts
		SET storage_used_bytes = GREATEST(0, storage_used_bytes + $2),
		    updated_at = $3
		WHERE account_id = $1
		  AND ($2 <= 0 OR storage_limit_bytes < 0 OR storage_used_bytes + $2 <= storage_limit_bytes)
		RETURNING storage_used_bytes, storage_limit_bytes
	`

	err = r.db.GetExecutor(ctx).QueryRow(ctx, query, accountID, deltaBytes, time.Now().UTC()).Scan(&used, &limit)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the guard denied or the account is missing; the caller
		// distinguishes via GetByID.
		return false, 0, 0, nil
	}
	if err != nil {
		return false, 0, 0, fmt.Errorf("failed to charge storage: %w", err)
	}

	return true, used, limit, nil
}

// SettleStorage applies a storage delta without the limit guard, flooring
// at zero. Used to settle the completion delta between an optimistic
// estimate and the final size: the bytes already exist, so the account may
// transiently sit above its limit rather than strand the artifact.
func (r *AccountRepository) SettleStorage(ctx context.Context, accountID string, deltaBytes int64) (used, limit int64, err error) {
	query := `
		UPDATE accounts
		SET storage_used_bytes = GREATEST(0, storage_used_bytes + $2),
		    updated_at = $3
		WHERE account_id = $1
		RETURNING storage_used_bytes, storage_limit_bytes
	`

	err = r.db.GetExecutor(ctx).QueryRow(ctx, query, accountID, deltaBytes, time.Now().UTC()).Scan(&used, &limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, errs.ErrAccountNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to settle storage: %w", err)
	}

	return used, limit, nil
}

// EnsureFeatureCounter upserts the counter row for a feature. On tier
// change the default limit for the new tier is applied while the used
// count survives; same-tier re-ensures leave the row untouched. Mirrors
// EnsureAccount so a plan change propagates on the next reservation.
func (r *AccountRepository) EnsureFeatureCounter(ctx context.Context, accountID string, feature models.Feature, tier models.Tier, limit int64) error {
	query := `
		INSERT INTO feature_counters (account_id, feature, tier, used, usage_limit, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5)
		ON CONFLICT (account_id, feature) DO UPDATE SET
			tier = EXCLUDED.tier,
			usage_limit = EXCLUDED.usage_limit,
			updated_at = EXCLUDED.updated_at
		WHERE feature_counters.tier <> EXCLUDED.tier
	`

	_, err := r.db.GetExecutor(ctx).Exec(ctx, query, accountID, feature, tier, limit, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to ensure feature counter: %w", err)
	}

	return nil
}

// ReserveFeature atomically checks used < limit (or unlimited) and
// increments in the same statement. applied=false means the guard denied
// and nothing was written.
func (r *AccountRepository) ReserveFeature(ctx context.Context, accountID string, feature models.Feature) (applied bool, used, limit int64, err error) {
	query := `
		UPDATE feature_counters
		SET used = used + 1, updated_at = $3
		WHERE account_id = $1 AND feature = $2
		  AND (usage_limit < 0 OR used < usage_limit)
		RETURNING used, usage_limit
	`

	err = r.db.GetExecutor(ctx).QueryRow(ctx, query, accountID, feature, time.Now().UTC()).Scan(&used, &limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, 0, 0, nil
	}
	if err != nil {
		return false, 0, 0, fmt.Errorf("failed to reserve feature: %w", err)
	}

	return true, used, limit, nil
}

// ReleaseFeature decrements a feature counter with a floor of zero.
func (r *AccountRepository) ReleaseFeature(ctx context.Context, accountID string, feature models.Feature) error {
	query := `
		UPDATE feature_counters
		SET used = GREATEST(0, used - 1), updated_at = $3
		WHERE account_id = $1 AND feature = $2
	`

	_, err := r.db.GetExecutor(ctx).Exec(ctx, query, accountID, feature, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to release feature: %w", err)
	}

	return nil
}

// GetFeatureCounter retrieves one feature counter
func (r *AccountRepository) GetFeatureCounter(ctx context.Context, accountID string, feature models.Feature) (*models.FeatureCounter, error) {
	query := `
		SELECT account_id, feature, tier, used, usage_limit, updated_at
		FROM feature_counters
		WHERE account_id = $1 AND feature = $2
	`

	counter := &models.FeatureCounter{}
	err := r.db.GetExecutor(ctx).QueryRow(ctx, query, accountID, feature).Scan(
		&counter.AccountID,
		&counter.Feature,
		&counter.Tier,
		&counter.Used,
		&counter.Limit,
		&counter.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feature counter: %w", err)
	}

	return counter, nil
}

// ListFeatureCounters retrieves all feature counters for an account
func (r *AccountRepository) ListFeatureCounters(ctx context.Context, accountID string) ([]models.FeatureCounter, error) {
	query := `
		SELECT account_id, feature, tier, used, usage_limit, updated_at
		FROM feature_counters
		WHERE account_id = $1
		ORDER BY feature
	`

	rows, err := r.db.GetExecutor(ctx).Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list feature counters: %w", err)
	}
	defer rows.Close()

	var counters []models.FeatureCounter
	for rows.Next() {
		var counter models.FeatureCounter
		err := rows.Scan(
			&counter.AccountID,
			&counter.Feature,
			&counter.Tier,
			&counter.Used,
			&counter.Limit,
			&counter.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feature counter: %w", err)
		}
		counters = append(counters, counter)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feature counters: %w", err)
	}

	return counters, nil
}

// ResetFeatureCounter zeroes a feature counter (admin operation)
func (r *AccountRepository) ResetFeatureCounter(ctx context.Context, accountID string, feature models.Feature) error {
	query := `
		UPDATE feature_counters
		SET used = 0, updated_at = $3
		WHERE account_id = $1 AND feature = $2
	`

	tag, err := r.db.GetExecutor(ctx).Exec(ctx, query, accountID, feature, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to reset feature counter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrAccountNotFound
	}

	return nil
}

// SetStorageLimit overrides the storage cap for an account (admin operation)
func (r *AccountRepository) SetStorageLimit(ctx context.Context, accountID string, limitBytes int64) error {
	query := `
		UPDATE accounts
		SET storage_limit_bytes = $2, updated_at = $3
		WHERE account_id = $1
	`

	tag, err := r.db.GetExecutor(ctx).Exec(ctx, query, accountID, limitBytes, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set storage limit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrAccountNotFound
	}

	return nil
}

// RecomputeStorageUsed rewrites storage_used_bytes from the live sum of
// chargeable assets. The row lock on the account serializes against
// concurrent charges while the sum reads one consistent snapshot;
// last-writer-wins on the recomputed value.
func (r *AccountRepository) RecomputeStorageUsed(ctx context.Context, accountID string) (before, after int64, err error) {
	query := `
		UPDATE accounts a
		SET storage_used_bytes = (
			SELECT COALESCE(SUM(size_bytes), 0)
			FROM assets
			WHERE owner_id = $1 AND state IN ('processing', 'completed')
		), updated_at = $2
		FROM (
			SELECT storage_used_bytes AS prev
			FROM accounts
			WHERE account_id = $1
			FOR UPDATE
		) prior
		WHERE a.account_id = $1
		RETURNING prior.prev, a.storage_used_bytes
	`

	err = r.db.GetExecutor(ctx).QueryRow(ctx, query, accountID, time.Now().UTC()).Scan(&before, &after)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, errs.ErrAccountNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to recompute storage: %w", err)
	}

	return before, after, nil
}
