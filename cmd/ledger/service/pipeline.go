package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/mediaforge/ledger/common/blob"
	"github.com/mediaforge/ledger/common/bootstrap"
	"github.com/mediaforge/ledger/common/errs"
	"github.com/mediaforge/ledger/common/logger"
	"github.com/mediaforge/ledger/common/models"
)

// ProcessFunc runs one media transformation: it reads the source object and
// returns the derived bytes. The pipeline owns everything around it.
type ProcessFunc func(ctx context.Context, input io.Reader) ([]byte, error)

// PipelineService composes quota, registry, blob, and usage into the two
// end-to-end flows collaborators invoke: transforming an existing asset and
// ingesting a fresh upload. Ordering is fixed so that a failure at any leg
// leaves the ledger consistent: reserve before create, create (with its
// optimistic charge) before work, finalize before the audit record.
type PipelineService struct {
	registry   *RegistryService
	quota      *QuotaService
	usage      *UsageService
	blob       blob.Store
	components *bootstrap.Components
	log        *logger.Logger
}

// PipelineServiceOpts contains options for creating a PipelineService
type PipelineServiceOpts struct {
	Registry   *RegistryService
	Quota      *QuotaService
	Usage      *UsageService
	Blob       blob.Store
	Components *bootstrap.Components
}

// NewPipelineService creates a new pipeline service with options pattern
func NewPipelineService(opts *PipelineServiceOpts) *PipelineService {
	return &PipelineService{
		registry:   opts.Registry,
		quota:      opts.Quota,
		usage:      opts.Usage,
		blob:       opts.Blob,
		components: opts.Components,
		log:        opts.Components.Logger.WithComponent("pipeline"),
	}
}

// ExecuteParams describes one transformation run.
type ExecuteParams struct {
	AccountID   string
	Tier        models.Tier
	Feature     models.Feature
	ParentID    uuid.UUID
	Derivation  models.DerivationKind
	ContentKind models.ContentKind
	SizeHint    int64
	Process     ProcessFunc
}

// UploadParams describes one upload ingestion.
type UploadParams struct {
	AccountID   string
	Tier        models.Tier
	ContentKind models.ContentKind
	Data        []byte
}

// Execute runs a transformation end to end: reserve the feature, create the
// child with its optimistic storage charge, run the transform, store the
// output, finalize with the size delta, and append the audit record.
//
// Failures before the transform starts release the feature reservation: the
// counter bills transform executions, not attempts that never ran. From the
// moment the transform runs, the invocation is consumed whether the business
// logic succeeds or not.
func (s *PipelineService) Execute(ctx context.Context, params ExecuteParams) (*models.Asset, error) {
	if params.Process == nil {
		return nil, errors.New("pipeline: process function is required")
	}

	// 1. Reserve the feature invocation
	reservation, err := s.quota.TryReserveFeature(ctx, params.AccountID, params.Tier, params.Feature)
	if err != nil {
		var denied *errs.QuotaExceededError
		if errors.As(err, &denied) {
			s.audit(ctx, params, &params.ParentID, false, 0, "feature quota exceeded")
		}
		return nil, err
	}

	// 2. Resolve the source before touching the ledger further
	parent, err := s.registry.GetAsset(ctx, params.ParentID, params.AccountID, params.Tier)
	if err != nil {
		s.quota.ReleaseReservation(ctx, reservation)
		s.audit(ctx, params, &params.ParentID, false, 0, err.Error())
		return nil, err
	}

	// 3. Create the child with its optimistic storage charge
	child, err := s.registry.BeginProcessing(ctx, params.ParentID, DeriveParams{
		RequestedBy: params.AccountID,
		Tier:        params.Tier,
		Derivation:  params.Derivation,
		ContentKind: params.ContentKind,
		SizeHint:    params.SizeHint,
	})
	if err != nil {
		s.quota.ReleaseReservation(ctx, reservation)
		s.audit(ctx, params, &params.ParentID, false, 0, err.Error())
		return nil, err
	}

	runLog := s.log.WithAccountID(params.AccountID).WithAssetID(child.AssetID.String())

	// 4. Open the source object
	input, err := s.blob.Get(ctx, parent.StorageKey)
	if err != nil {
		s.quota.ReleaseReservation(ctx, reservation)
		if _, failErr := s.registry.FailProcessing(ctx, child.AssetID, "source object unreadable"); failErr != nil {
			runLog.Warn("could not fail child after source read error", "error", failErr)
		}
		s.audit(ctx, params, &child.AssetID, false, 0, "source object unreadable")
		return nil, fmt.Errorf("%w: %v", errs.ErrStorageBackend, err)
	}

	// 5. Run the transform; the invocation is consumed from here on
	output, err := params.Process(ctx, input)
	input.Close()
	if err != nil {
		reason := err.Error()
		if _, failErr := s.registry.FailProcessing(ctx, child.AssetID, reason); failErr != nil {
			runLog.Warn("could not fail child after transform error", "error", failErr)
		}
		s.audit(ctx, params, &child.AssetID, false, 0, reason)
		return nil, fmt.Errorf("transform failed: %w", err)
	}

	if err := s.registry.SetProgress(ctx, child.AssetID, 75); err != nil {
		runLog.Warn("progress update failed", "error", err)
	}

	// 6. Store the output. On failure the child stays processing: the bytes
	// may be retried, and the stale sweep reclaims the charge if not.
	if err := s.blob.Put(ctx, child.StorageKey, output); err != nil {
		s.audit(ctx, params, &child.AssetID, false, 0, "output write failed")
		return nil, fmt.Errorf("%w: %v", errs.ErrStorageBackend, err)
	}

	// 7. Finalize: CAS to completed and settle the size delta
	completed, err := s.registry.CompleteProcessing(ctx, child.AssetID, int64(len(output)))
	if err != nil {
		s.audit(ctx, params, &child.AssetID, false, 0, err.Error())
		return nil, err
	}

	// 8. Append the audit record
	s.audit(ctx, params, &completed.AssetID, true, params.Feature.DefaultCost(), "")

	runLog.Info("transformation pipeline completed",
		"feature", params.Feature,
		"parent_id", params.ParentID,
		"size_bytes", completed.SizeBytes)

	return completed, nil
}

// Upload ingests a fresh original: register in uploading, write the bytes,
// then CAS to completed with the guarded storage charge. No feature
// reservation is taken; storage quota is the gate for uploads and the
// audit record carries zero cost.
func (s *PipelineService) Upload(ctx context.Context, params UploadParams) (*models.Asset, error) {
	size := int64(len(params.Data))

	asset, err := s.registry.CreateAsset(ctx, CreateAssetParams{
		OwnerID:     params.AccountID,
		Tier:        params.Tier,
		SizeBytes:   size,
		ContentKind: params.ContentKind,
		Derivation:  models.DerivationOriginal,
	})
	if err != nil {
		return nil, err
	}

	runLog := s.log.WithAccountID(params.AccountID).WithAssetID(asset.AssetID.String())

	// Write the bytes while the asset is still uncharged. On failure the
	// asset stays uploading and the stale sweep fails it later.
	if err := s.blob.Put(ctx, asset.StorageKey, params.Data); err != nil {
		s.uploadAudit(ctx, params.AccountID, &asset.AssetID, false, "object write failed")
		return nil, fmt.Errorf("%w: %v", errs.ErrStorageBackend, err)
	}

	completed, err := s.registry.CompleteUpload(ctx, asset.AssetID, size)
	if err != nil {
		var denied *errs.QuotaExceededError
		if errors.As(err, &denied) {
			// The bytes landed but the account cannot hold them: fail the
			// asset, drop the object, surface the denial.
			if _, failErr := s.registry.FailProcessing(ctx, asset.AssetID, "storage quota exceeded"); failErr != nil {
				runLog.Warn("could not fail asset after quota denial", "error", failErr)
			}
			s.registry.removeBlob(ctx, asset.StorageKey)
			s.uploadAudit(ctx, params.AccountID, &asset.AssetID, false, "storage quota exceeded")
		}
		return nil, err
	}

	s.uploadAudit(ctx, params.AccountID, &completed.AssetID, true, "")

	runLog.Info("upload pipeline completed", "size_bytes", size)

	return completed, nil
}

func (s *PipelineService) audit(ctx context.Context, params ExecuteParams, assetID *uuid.UUID, success bool, cost int64, reason string) {
	record := RecordParams{
		AccountID:   params.AccountID,
		Feature:     params.Feature,
		AssetID:     assetID,
		Success:     success,
		CostCredits: cost,
	}
	if reason != "" {
		record.ErrorReason = &reason
	}
	s.usage.RecordBestEffort(ctx, record)
}

func (s *PipelineService) uploadAudit(ctx context.Context, accountID string, assetID *uuid.UUID, success bool, reason string) {
	record := RecordParams{
		AccountID:   accountID,
		Feature:     models.FeatureUpload,
		AssetID:     assetID,
		Success:     success,
		CostCredits: models.FeatureUpload.DefaultCost(),
	}
	if reason != "" {
		record.ErrorReason = &reason
	}
	s.usage.RecordBestEffort(ctx, record)
}
