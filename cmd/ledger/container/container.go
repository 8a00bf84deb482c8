package container

import (
	"github.com/mediaforge/ledger/cmd/ledger/repository"
	"github.com/mediaforge/ledger/cmd/ledger/service"
	"github.com/mediaforge/ledger/cmd/ledger/sweeper"
	"github.com/mediaforge/ledger/common/bootstrap"
	"github.com/mediaforge/ledger/common/cache"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components

	// Repositories
	AccountRepo *repository.AccountRepository
	AssetRepo   *repository.AssetRepository
	UsageRepo   *repository.UsageRepository

	// Services
	QuotaService    *service.QuotaService
	RegistryService *service.RegistryService
	UsageService    *service.UsageService
	PipelineService *service.PipelineService

	// Background
	Sweeper *sweeper.Sweeper
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	// Initialize repositories
	accountRepo := repository.NewAccountRepository(components.DB)
	assetRepo := repository.NewAssetRepository(components.DB)
	usageRepo := repository.NewUsageRepository(components.DB)

	// Redis is optional; a nil wrapper must stay a nil interface so the
	// services skip streaming and leader locking instead of calling
	// through it. The snapshot cache falls back to a process-local map,
	// which is fine for the single-replica deployments that run without
	// Redis.
	var snapshots service.SnapshotCache
	var stream service.StreamPublisher
	var locker sweeper.Locker
	if components.Redis != nil {
		snapshots = components.Redis
		stream = components.Redis
		locker = components.Redis
	} else {
		memCache := cache.NewMemoryCache()
		components.AddCleanup(memCache.Stop)
		snapshots = memCache
	}

	// Initialize services (bottom-up: dependencies first)
	quotaService := service.NewQuotaService(&service.QuotaServiceOpts{
		Accounts:   accountRepo,
		Cache:      snapshots,
		Components: components,
	})

	registryService := service.NewRegistryService(&service.RegistryServiceOpts{
		Assets:     assetRepo,
		Accounts:   accountRepo,
		Quota:      quotaService,
		DB:         components.DB,
		Blob:       components.Blob,
		Components: components,
	})

	usageService := service.NewUsageService(&service.UsageServiceOpts{
		Usage:      usageRepo,
		Stream:     stream,
		Components: components,
	})

	pipelineService := service.NewPipelineService(&service.PipelineServiceOpts{
		Registry:   registryService,
		Quota:      quotaService,
		Usage:      usageService,
		Blob:       components.Blob,
		Components: components,
	})

	sweep := sweeper.NewSweeper(&sweeper.SweeperOpts{
		Assets:     assetRepo,
		Reclaimer:  registryService,
		Locker:     locker,
		Components: components,
	})

	return &Container{
		Components:      components,
		AccountRepo:     accountRepo,
		AssetRepo:       assetRepo,
		UsageRepo:       usageRepo,
		QuotaService:    quotaService,
		RegistryService: registryService,
		UsageService:    usageService,
		PipelineService: pipelineService,
		Sweeper:         sweep,
	}, nil
}
