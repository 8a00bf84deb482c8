package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mediaforge/ledger/cmd/ledger/repository"
	"github.com/mediaforge/ledger/common/bootstrap"
	"github.com/mediaforge/ledger/common/logger"
	"github.com/mediaforge/ledger/common/models"
)

const (
	usageStream       = "ledger.usage.events"
	usageStreamMaxLen = 10000
)

// UsageService appends and reads the immutable usage trail. Records are
// facts about attempts, not balances: they are never updated, and they
// outlive the assets they reference.
type UsageService struct {
	usage      UsageStore
	stream     StreamPublisher
	components *bootstrap.Components
	log        *logger.Logger
}

// UsageServiceOpts contains options for creating a UsageService
type UsageServiceOpts struct {
	Usage      UsageStore
	Stream     StreamPublisher
	Components *bootstrap.Components
}

// NewUsageService creates a new usage service with options pattern
func NewUsageService(opts *UsageServiceOpts) *UsageService {
	return &UsageService{
		usage:      opts.Usage,
		stream:     opts.Stream,
		components: opts.Components,
		log:        opts.Components.Logger.WithComponent("usage"),
	}
}

// RecordParams describes one usage fact to append.
type RecordParams struct {
	AccountID   string
	Feature     models.Feature
	AssetID     *uuid.UUID
	Success     bool
	CostCredits int64
	ErrorReason *string
}

// Record appends a usage record and mirrors it onto the event stream.
func (s *UsageService) Record(ctx context.Context, params RecordParams) (*models.UsageRecord, error) {
	record := &models.UsageRecord{
		RecordID:    uuid.New(),
		AccountID:   params.AccountID,
		Feature:     params.Feature,
		AssetID:     params.AssetID,
		Success:     params.Success,
		CostCredits: params.CostCredits,
		ErrorReason: params.ErrorReason,
		RecordedAt:  time.Now().UTC(),
	}

	if err := s.usage.Insert(ctx, record); err != nil {
		return nil, err
	}

	s.publish(ctx, record)

	return record, nil
}

// RecordBestEffort appends a usage record where the caller's outcome must
// not depend on audit success. Failures are logged and swallowed.
func (s *UsageService) RecordBestEffort(ctx context.Context, params RecordParams) {
	if _, err := s.Record(ctx, params); err != nil {
		s.log.Error("usage record dropped",
			"account_id", params.AccountID,
			"feature", params.Feature,
			"success", params.Success,
			"error", err)
	}
}

// ListByAccount returns an account's usage records, newest first.
func (s *UsageService) ListByAccount(ctx context.Context, accountID string, filter repository.UsageFilter) ([]*models.UsageRecord, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}

	return s.usage.ListByAccount(ctx, accountID, filter)
}

// SummarizeByFeature aggregates an account's usage per feature over a window.
func (s *UsageService) SummarizeByFeature(ctx context.Context, accountID string, since, until time.Time) ([]*models.FeatureSummary, error) {
	return s.usage.SummarizeByFeature(ctx, accountID, since, until)
}

// SummarizeByDay aggregates an account's usage per calendar day over a window.
func (s *UsageService) SummarizeByDay(ctx context.Context, accountID string, since, until time.Time) ([]*models.DailySummary, error) {
	return s.usage.SummarizeByDay(ctx, accountID, since, until)
}

// publish mirrors a record onto the usage stream for downstream consumers.
// Best effort: the ledger row is the source of truth, the stream is a feed.
func (s *UsageService) publish(ctx context.Context, record *models.UsageRecord) {
	if s.stream == nil {
		return
	}

	values := map[string]interface{}{
		"record_id":    record.RecordID.String(),
		"account_id":   record.AccountID,
		"feature":      string(record.Feature),
		"success":      record.Success,
		"cost_credits": record.CostCredits,
		"recorded_at":  record.RecordedAt.Format(time.RFC3339Nano),
	}
	if record.AssetID != nil {
		values["asset_id"] = record.AssetID.String()
	}
	if record.ErrorReason != nil {
		values["error_reason"] = *record.ErrorReason
	}

	if _, err := s.stream.AddToStream(ctx, usageStream, usageStreamMaxLen, values); err != nil {
		s.log.Warn("usage stream publish failed",
			"record_id", record.RecordID,
			"error", err)
	}
}
