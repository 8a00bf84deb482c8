package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mediaforge/ledger/common/bootstrap"
	"github.com/mediaforge/ledger/common/errs"
	"github.com/mediaforge/ledger/common/logger"
	"github.com/mediaforge/ledger/common/models"
)

const leaderLockKey = "sweep:leader"

// AssetSource lists reclamation candidates.
type AssetSource interface {
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*models.Asset, error)
	ListStaleInFlight(ctx context.Context, cutoff time.Time, limit int) ([]*models.Asset, error)
}

// Reclaimer applies terminal transitions with their quota credits.
type Reclaimer interface {
	ReclaimExpired(ctx context.Context, assetID uuid.UUID) (bool, error)
	FailProcessing(ctx context.Context, assetID uuid.UUID, reason string) (*models.Asset, error)
}

// Locker is the per-pass leader lock. Nil disables leadership and every
// replica sweeps; safe because each reclamation is an idempotent CAS,
// just wasteful.
type Locker interface {
	SetNX(ctx context.Context, key string, value string, expiry time.Duration) (bool, error)
}

// Sweeper periodically reclaims expired assets and fails stale in-flight
// ones so optimistic charges never leak.
type Sweeper struct {
	assets     AssetSource
	reclaimer  Reclaimer
	locker     Locker
	components *bootstrap.Components
	log        *logger.Logger
	instanceID string
}

// SweeperOpts contains options for creating a Sweeper
type SweeperOpts struct {
	Assets     AssetSource
	Reclaimer  Reclaimer
	Locker     Locker
	Components *bootstrap.Components
}

// NewSweeper creates a new sweeper with options pattern
func NewSweeper(opts *SweeperOpts) *Sweeper {
	return &Sweeper{
		assets:     opts.Assets,
		reclaimer:  opts.Reclaimer,
		locker:     opts.Locker,
		components: opts.Components,
		log:        opts.Components.Logger.WithComponent("sweeper"),
		instanceID: uuid.New().String(),
	}
}

// Result reports what one sweep pass did.
type Result struct {
	Reclaimed   int `json:"reclaimed"`
	FailedStale int `json:"failed_stale"`
	Skipped     int `json:"skipped"`
	Errors      int `json:"errors"`
}

func (r *Result) total() int {
	return r.Reclaimed + r.FailedStale + r.Skipped + r.Errors
}

// Start runs the sweep loop until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	cfg := s.components.Config.Sweep

	s.log.Info("sweeper starting",
		"interval", cfg.Interval,
		"batch_size", cfg.BatchSize,
		"stale_after", cfg.StaleAfter)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep is one scheduled pass: take the leader lock, then run. A replica
// that loses the lock race skips the pass.
func (s *Sweeper) sweep(ctx context.Context) {
	if s.locker != nil {
		acquired, err := s.locker.SetNX(ctx, leaderLockKey, s.instanceID, s.components.Config.Sweep.LockTTL)
		if err != nil {
			// Lock service down: sweep anyway, every reclamation is a CAS
			s.log.Warn("leader lock unavailable, sweeping without it", "error", err)
		} else if !acquired {
			s.log.Debug("sweep skipped, another replica holds the lock")
			return
		}
	}

	result, err := s.RunOnce(ctx)
	if err != nil {
		s.log.Error("sweep pass failed",
			"error", err,
			"reclaimed", result.Reclaimed,
			"failed_stale", result.FailedStale)
		return
	}

	if result.total() > 0 {
		s.log.Info("sweep pass finished",
			"reclaimed", result.Reclaimed,
			"failed_stale", result.FailedStale,
			"skipped", result.Skipped,
			"errors", result.Errors)
	}
}

// RunOnce executes one unguarded sweep pass and reports its counters. The
// admin trigger calls this directly; leadership only matters on the
// schedule.
func (s *Sweeper) RunOnce(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{}

	if err := s.expiryPass(ctx, result); err != nil {
		return result, err
	}
	if err := s.stalePass(ctx, result); err != nil {
		return result, err
	}

	if s.components.Telemetry != nil {
		s.components.Telemetry.RecordDuration("sweep_pass", start)
	}

	return result, nil
}

// expiryPass deletes completed and failed assets whose retention window has
// lapsed; credits flow by prior state through the same path as a user delete.
func (s *Sweeper) expiryPass(ctx context.Context, result *Result) error {
	cfg := s.components.Config.Sweep
	now := time.Now().UTC()

	for {
		batch, err := s.assets.ListExpired(ctx, now, cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to list expired assets: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		progressed := 0
		for _, asset := range batch {
			applied, err := s.reclaimer.ReclaimExpired(ctx, asset.AssetID)
			if err != nil {
				s.log.Error("failed to reclaim expired asset",
					"asset_id", asset.AssetID,
					"owner_id", asset.OwnerID,
					"error", err)
				result.Errors++
				continue
			}

			progressed++
			if applied {
				result.Reclaimed++
			} else {
				result.Skipped++
			}
		}

		// Rows that errored still match the listing; without progress the
		// next batch would be the same rows forever.
		if progressed == 0 {
			return fmt.Errorf("expiry pass stalled, %d assets failing", len(batch))
		}
		if len(batch) < cfg.BatchSize {
			return nil
		}
	}
}

// stalePass fails in-flight assets that outlived the stale threshold. The
// fail path credits processing estimates back; uploading assets held no
// charge. Feature usage stays consumed.
func (s *Sweeper) stalePass(ctx context.Context, result *Result) error {
	cfg := s.components.Config.Sweep
	cutoff := time.Now().UTC().Add(-cfg.StaleAfter)
	reason := fmt.Sprintf("timeout: in flight longer than %s", cfg.StaleAfter)

	for {
		batch, err := s.assets.ListStaleInFlight(ctx, cutoff, cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to list stale assets: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		progressed := 0
		for _, asset := range batch {
			if _, err := s.reclaimer.FailProcessing(ctx, asset.AssetID, reason); err != nil {
				// A concurrent completion or delete is a settled asset,
				// not a sweep problem.
				if errors.Is(err, errs.ErrInvalidState) || errors.Is(err, errs.ErrNotFound) {
					progressed++
					result.Skipped++
					continue
				}

				s.log.Error("failed to time out stale asset",
					"asset_id", asset.AssetID,
					"owner_id", asset.OwnerID,
					"state", asset.State,
					"error", err)
				result.Errors++
				continue
			}

			s.log.Warn("stale asset timed out",
				"asset_id", asset.AssetID,
				"owner_id", asset.OwnerID,
				"state", asset.State,
				"created_at", asset.CreatedAt)

			progressed++
			result.FailedStale++
		}

		if progressed == 0 {
			return fmt.Errorf("stale pass stalled, %d assets failing", len(batch))
		}
		if len(batch) < cfg.BatchSize {
			return nil
		}
	}
}
