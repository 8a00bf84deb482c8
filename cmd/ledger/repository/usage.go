package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mediaforge/ledger/common/db"
	"github.com/mediaforge/ledger/common/models"
)

// UsageFilter narrows ListByAccount results
type UsageFilter struct {
	Feature models.Feature
	Since   *time.Time
	Until   *time.Time
	Limit   int
	Offset  int
}

// UsageRepository handles database operations for usage records
type UsageRepository struct {
	db *db.DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(database *db.DB) *UsageRepository {
	return &UsageRepository{db: database}
}

// Insert appends a usage record
func (r *UsageRepository) Insert(ctx context.Context, record *models.UsageRecord) error {
	query := `
		INSERT INTO usage_records (record_id, account_id, feature, asset_id, success, cost_credits, error_reason, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.GetExecutor(ctx).Exec(
		ctx,
		query,
		record.RecordID,
		record.AccountID,
		record.Feature,
		record.AssetID,
		record.Success,
		record.CostCredits,
		record.ErrorReason,
		record.RecordedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}

	return nil
}

// ListByAccount retrieves usage records for an account, newest first
func (r *UsageRepository) ListByAccount(ctx context.Context, accountID string, filter UsageFilter) ([]*models.UsageRecord, error) {
	query := `
		SELECT record_id, account_id, feature, asset_id, success, cost_credits, error_reason, recorded_at
		FROM usage_records
		WHERE account_id = $1
	`
	args := []any{accountID}

	if filter.Feature != "" {
		args = append(args, string(filter.Feature))
		query += fmt.Sprintf(" AND feature = $%d", len(args))
	}

	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += fmt.Sprintf(" AND recorded_at >= $%d", len(args))
	}

	if filter.Until != nil {
		args = append(args, *filter.Until)
		query += fmt.Sprintf(" AND recorded_at < $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY recorded_at DESC LIMIT $%d", len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.GetExecutor(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	defer rows.Close()

	var records []*models.UsageRecord
	for rows.Next() {
		record := &models.UsageRecord{}
		err := rows.Scan(
			&record.RecordID,
			&record.AccountID,
			&record.Feature,
			&record.AssetID,
			&record.Success,
			&record.CostCredits,
			&record.ErrorReason,
			&record.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}

	return records, nil
}

// SummarizeByFeature aggregates an account's usage per feature over a window
func (r *UsageRepository) SummarizeByFeature(ctx context.Context, accountID string, since, until time.Time) ([]*models.FeatureSummary, error) {
	query := `
		SELECT feature,
		       COUNT(*) AS invocations,
		       COUNT(*) FILTER (WHERE success) AS successes,
		       COALESCE(SUM(cost_credits), 0) AS credits_used
		FROM usage_records
		WHERE account_id = $1
		  AND recorded_at >= $2
		  AND recorded_at < $3
		GROUP BY feature
		ORDER BY feature
	`

	rows, err := r.db.GetExecutor(ctx).Query(ctx, query, accountID, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage by feature: %w", err)
	}
	defer rows.Close()

	var summaries []*models.FeatureSummary
	for rows.Next() {
		summary := &models.FeatureSummary{}
		if err := rows.Scan(&summary.Feature, &summary.Invocations, &summary.Successes, &summary.CreditsUsed); err != nil {
			return nil, fmt.Errorf("failed to scan feature summary: %w", err)
		}
		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feature summaries: %w", err)
	}

	return summaries, nil
}

// SummarizeByDay aggregates an account's usage per calendar day over a window
func (r *UsageRepository) SummarizeByDay(ctx context.Context, accountID string, since, until time.Time) ([]*models.DailySummary, error) {
	query := `
		SELECT date_trunc('day', recorded_at) AS day,
		       COUNT(*) AS invocations,
		       COUNT(*) FILTER (WHERE success) AS successes,
		       COALESCE(SUM(cost_credits), 0) AS credits_used
		FROM usage_records
		WHERE account_id = $1
		  AND recorded_at >= $2
		  AND recorded_at < $3
		GROUP BY day
		ORDER BY day
	`

	rows, err := r.db.GetExecutor(ctx).Query(ctx, query, accountID, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage by day: %w", err)
	}
	defer rows.Close()

	var summaries []*models.DailySummary
	for rows.Next() {
		summary := &models.DailySummary{}
		if err := rows.Scan(&summary.Day, &summary.Invocations, &summary.Successes, &summary.CreditsUsed); err != nil {
			return nil, fmt.Errorf("failed to scan daily summary: %w", err)
		}
		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily summaries: %w", err)
	}

	return summaries, nil
}
