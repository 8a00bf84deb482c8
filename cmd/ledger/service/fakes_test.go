package service

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mediaforge/ledger/cmd/ledger/repository"
	"github.com/mediaforge/ledger/common/blob"
	"github.com/mediaforge/ledger/common/bootstrap"
	"github.com/mediaforge/ledger/common/config"
	"github.com/mediaforge/ledger/common/errs"
	"github.com/mediaforge/ledger/common/logger"
	"github.com/mediaforge/ledger/common/models"
	rediscommon "github.com/mediaforge/ledger/common/redis"
)

// testConfig returns a config with small limits so quota boundaries are
// cheap to hit: 1000 bytes of free storage, 5 free feature invocations.
func testConfig() *config.Config {
	return &config.Config{
		Service: config.ServiceConfig{
			Name:        "ledger-test",
			Environment: "test",
			LogLevel:    "error",
			LogFormat:   "text",
		},
		Quota: config.QuotaConfig{
			FreeStorageBytes: 1000,
			PaidStorageBytes: 50000,
			FreeFeatureLimit: 5,
			PaidFeatureLimit: 100,
			CacheTTL:         30 * time.Second,
			RetentionFree:    time.Hour,
			RetentionPaid:    0,
		},
		Sweep: config.SweepConfig{
			Interval:   time.Minute,
			BatchSize:  10,
			StaleAfter: 30 * time.Minute,
			LockTTL:    time.Minute,
		},
	}
}

func testComponents() *bootstrap.Components {
	return &bootstrap.Components{
		Config: testConfig(),
		Logger: logger.New("error", "text"),
	}
}

// snapshotter lets fakeTxRunner roll stores back on error the way a real
// transaction would.
type snapshotter interface {
	snapshot() any
	restore(snap any)
}

// fakeTxRunner runs the function inline and restores every registered
// store on error, so a failed transaction leaves no partial writes.
type fakeTxRunner struct {
	stores []snapshotter
}

func newFakeTxRunner(stores ...snapshotter) *fakeTxRunner {
	return &fakeTxRunner{stores: stores}
}

func (r *fakeTxRunner) InTx(ctx context.Context, f func(ctx context.Context) error) error {
	snaps := make([]any, len(r.stores))
	for i, s := range r.stores {
		snaps[i] = s.snapshot()
	}

	if err := f(ctx); err != nil {
		for i, s := range r.stores {
			s.restore(snaps[i])
		}
		return err
	}
	return nil
}

func (r *fakeTxRunner) InTxRetry(ctx context.Context, f func(ctx context.Context) error) error {
	return r.InTx(ctx, f)
}

// fakeAccountStore implements AccountStore backed by maps, with the same
// guarded single-step semantics as the SQL repository.
type fakeAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	counters map[string]*models.FeatureCounter

	chargeErr error
	liveBytes func() int64 // recompute source; nil keeps the counter
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{
		accounts: make(map[string]*models.Account),
		counters: make(map[string]*models.FeatureCounter),
	}
}

func counterKey(accountID string, feature models.Feature) string {
	return accountID + "|" + string(feature)
}

func (s *fakeAccountStore) EnsureAccount(ctx context.Context, accountID string, tier models.Tier, storageLimit int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	account, ok := s.accounts[accountID]
	if !ok {
		s.accounts[accountID] = &models.Account{
			AccountID:         accountID,
			Tier:              tier,
			StorageLimitBytes: storageLimit,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		return nil
	}

	// Tier change re-applies defaults; otherwise overridden limits survive.
	if account.Tier != tier {
		account.Tier = tier
		account.StorageLimitBytes = storageLimit
		account.UpdatedAt = now
	}
	return nil
}

func (s *fakeAccountStore) GetByID(ctx context.Context, accountID string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return nil, errs.ErrAccountNotFound
	}
	c := *account
	return &c, nil
}

func (s *fakeAccountStore) ChargeStorage(ctx context.Context, accountID string, deltaBytes int64) (bool, int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chargeErr != nil {
		return false, 0, 0, s.chargeErr
	}

	account, ok := s.accounts[accountID]
	if !ok {
		return false, 0, 0, nil
	}

	if deltaBytes > 0 && account.StorageLimitBytes >= 0 && account.StorageUsedBytes+deltaBytes > account.StorageLimitBytes {
		return false, 0, 0, nil
	}

	account.StorageUsedBytes = max64(0, account.StorageUsedBytes+deltaBytes)
	account.UpdatedAt = time.Now().UTC()
	return true, account.StorageUsedBytes, account.StorageLimitBytes, nil
}

func (s *fakeAccountStore) SettleStorage(ctx context.Context, accountID string, deltaBytes int64) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return 0, 0, errs.ErrAccountNotFound
	}

	account.StorageUsedBytes = max64(0, account.StorageUsedBytes+deltaBytes)
	account.UpdatedAt = time.Now().UTC()
	return account.StorageUsedBytes, account.StorageLimitBytes, nil
}

func (s *fakeAccountStore) EnsureFeatureCounter(ctx context.Context, accountID string, feature models.Feature, tier models.Tier, limit int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey(accountID, feature)
	if counter, ok := s.counters[key]; ok {
		// Tier change re-applies the new default limit; used survives.
		if counter.Tier != tier {
			counter.Tier = tier
			counter.Limit = limit
			counter.UpdatedAt = time.Now().UTC()
		}
		return nil
	}
	s.counters[key] = &models.FeatureCounter{
		AccountID: accountID,
		Feature:   feature,
		Tier:      tier,
		Limit:     limit,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *fakeAccountStore) ReserveFeature(ctx context.Context, accountID string, feature models.Feature) (bool, int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[counterKey(accountID, feature)]
	if !ok {
		return false, 0, 0, nil
	}
	if counter.Limit >= 0 && counter.Used >= counter.Limit {
		return false, 0, 0, nil
	}

	counter.Used++
	counter.UpdatedAt = time.Now().UTC()
	return true, counter.Used, counter.Limit, nil
}

func (s *fakeAccountStore) ReleaseFeature(ctx context.Context, accountID string, feature models.Feature) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if counter, ok := s.counters[counterKey(accountID, feature)]; ok {
		counter.Used = max64(0, counter.Used-1)
		counter.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *fakeAccountStore) GetFeatureCounter(ctx context.Context, accountID string, feature models.Feature) (*models.FeatureCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[counterKey(accountID, feature)]
	if !ok {
		return nil, errs.ErrAccountNotFound
	}
	c := *counter
	return &c, nil
}

func (s *fakeAccountStore) ListFeatureCounters(ctx context.Context, accountID string) ([]models.FeatureCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counters []models.FeatureCounter
	for _, counter := range s.counters {
		if counter.AccountID == accountID {
			counters = append(counters, *counter)
		}
	}
	sort.Slice(counters, func(i, j int) bool {
		return counters[i].Feature < counters[j].Feature
	})
	return counters, nil
}

func (s *fakeAccountStore) ResetFeatureCounter(ctx context.Context, accountID string, feature models.Feature) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[counterKey(accountID, feature)]
	if !ok {
		return errs.ErrAccountNotFound
	}
	counter.Used = 0
	counter.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeAccountStore) SetStorageLimit(ctx context.Context, accountID string, limitBytes int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return errs.ErrAccountNotFound
	}
	account.StorageLimitBytes = limitBytes
	account.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeAccountStore) RecomputeStorageUsed(ctx context.Context, accountID string) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return 0, 0, errs.ErrAccountNotFound
	}

	before := account.StorageUsedBytes
	after := before
	if s.liveBytes != nil {
		after = s.liveBytes()
	}
	account.StorageUsedBytes = after
	account.UpdatedAt = time.Now().UTC()
	return before, after, nil
}

func (s *fakeAccountStore) storageUsed(accountID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if account, ok := s.accounts[accountID]; ok {
		return account.StorageUsedBytes
	}
	return 0
}

func (s *fakeAccountStore) featureUsed(accountID string, feature models.Feature) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if counter, ok := s.counters[counterKey(accountID, feature)]; ok {
		return counter.Used
	}
	return 0
}

type accountState struct {
	accounts map[string]*models.Account
	counters map[string]*models.FeatureCounter
}

func (s *fakeAccountStore) snapshot() any {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &accountState{
		accounts: make(map[string]*models.Account, len(s.accounts)),
		counters: make(map[string]*models.FeatureCounter, len(s.counters)),
	}
	for k, v := range s.accounts {
		c := *v
		snap.accounts[k] = &c
	}
	for k, v := range s.counters {
		c := *v
		snap.counters[k] = &c
	}
	return snap
}

func (s *fakeAccountStore) restore(snap any) {
	state := snap.(*accountState)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = state.accounts
	s.counters = state.counters
}

// fakeAssetStore implements AssetStore backed by a map, honoring the same
// from-state CAS semantics as the SQL repository.
type fakeAssetStore struct {
	mu     sync.Mutex
	assets map[uuid.UUID]*models.Asset

	createErr error
}

func newFakeAssetStore() *fakeAssetStore {
	return &fakeAssetStore{assets: make(map[uuid.UUID]*models.Asset)}
}

func (s *fakeAssetStore) add(asset *models.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *asset
	s.assets[asset.AssetID] = &c
}

func (s *fakeAssetStore) Create(ctx context.Context, asset *models.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return s.createErr
	}
	c := *asset
	s.assets[asset.AssetID] = &c
	return nil
}

func (s *fakeAssetStore) GetByID(ctx context.Context, assetID uuid.UUID) (*models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.assets[assetID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *asset
	return &c, nil
}

func stateIn(state models.AssetState, states []models.AssetState) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

func (s *fakeAssetStore) MarkCompleted(ctx context.Context, assetID uuid.UUID, from []models.AssetState, finalSize int64, expiresAt *time.Time, now time.Time) (models.AssetState, int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.assets[assetID]
	if !ok || !stateIn(asset.State, from) {
		return "", 0, false, nil
	}

	prevState, prevSize := asset.State, asset.SizeBytes
	completedAt := now
	asset.State = models.StateCompleted
	asset.SizeBytes = finalSize
	asset.Progress = 100
	asset.ErrorReason = nil
	asset.ExpiresAt = expiresAt
	asset.CompletedAt = &completedAt
	return prevState, prevSize, true, nil
}

func (s *fakeAssetStore) MarkFailed(ctx context.Context, assetID uuid.UUID, from []models.AssetState, reason string) (models.AssetState, int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.assets[assetID]
	if !ok || !stateIn(asset.State, from) {
		return "", 0, false, nil
	}

	prevState, prevSize := asset.State, asset.SizeBytes
	asset.State = models.StateFailed
	asset.ErrorReason = &reason
	return prevState, prevSize, true, nil
}

func (s *fakeAssetStore) MarkDeleted(ctx context.Context, assetID uuid.UUID, from []models.AssetState, now time.Time) (*repository.DeletedAsset, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.assets[assetID]
	if !ok || !stateIn(asset.State, from) {
		return nil, false, nil
	}

	deleted := &repository.DeletedAsset{
		PrevState:  asset.State,
		OwnerID:    asset.OwnerID,
		SizeBytes:  asset.SizeBytes,
		StorageKey: asset.StorageKey,
	}
	deletedAt := now
	asset.State = models.StateDeleted
	asset.DeletedAt = &deletedAt
	return deleted, true, nil
}

func (s *fakeAssetStore) UpdateProgress(ctx context.Context, assetID uuid.UUID, progress int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.assets[assetID]
	if !ok || asset.State != models.StateProcessing {
		return false, nil
	}
	asset.Progress = progress
	return true, nil
}

func (s *fakeAssetStore) TouchAccess(ctx context.Context, assetID uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.assets[assetID]
	if !ok || asset.State != models.StateCompleted {
		return false, nil
	}
	asset.DownloadCount++
	touched := now
	asset.LastAccessedAt = &touched
	return true, nil
}

// newestFirst orders like the listing query: created_at DESC, asset_id DESC.
func newestFirst(a, b *models.Asset) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return bytes.Compare(a.AssetID[:], b.AssetID[:]) > 0
}

func (s *fakeAssetStore) ListByOwner(ctx context.Context, ownerID string, filter repository.AssetFilter) ([]*models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var assets []*models.Asset
	for _, asset := range s.assets {
		if asset.OwnerID != ownerID {
			continue
		}
		if len(filter.States) > 0 {
			if !stateIn(asset.State, filter.States) {
				continue
			}
		} else if asset.State == models.StateDeleted {
			continue
		}
		if filter.ContentKind != "" && asset.ContentKind != filter.ContentKind {
			continue
		}
		if filter.CursorCreatedAt != nil && filter.CursorID != nil {
			// Row-value compare: (created_at, asset_id) < cursor.
			if asset.CreatedAt.After(*filter.CursorCreatedAt) {
				continue
			}
			if asset.CreatedAt.Equal(*filter.CursorCreatedAt) && bytes.Compare(asset.AssetID[:], (*filter.CursorID)[:]) >= 0 {
				continue
			}
		}
		c := *asset
		assets = append(assets, &c)
	}

	sort.Slice(assets, func(i, j int) bool { return newestFirst(assets[i], assets[j]) })

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if len(assets) > limit {
		assets = assets[:limit]
	}
	return assets, nil
}

func (s *fakeAssetStore) ListChildren(ctx context.Context, parentID uuid.UUID) ([]*models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var children []*models.Asset
	for _, asset := range s.assets {
		if asset.ParentID != nil && *asset.ParentID == parentID {
			c := *asset
			children = append(children, &c)
		}
	}
	sort.Slice(children, func(i, j int) bool { return newestFirst(children[j], children[i]) })
	return children, nil
}

func (s *fakeAssetStore) ParentChain(ctx context.Context, assetID uuid.UUID, maxDepth int) ([]*models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.assets[assetID]
	if !ok {
		return nil, nil
	}

	var chain []*models.Asset
	for depth := 0; ; depth++ {
		c := *current
		chain = append(chain, &c)
		if current.ParentID == nil || depth >= maxDepth {
			break
		}
		next, ok := s.assets[*current.ParentID]
		if !ok {
			break
		}
		current = next
	}
	return chain, nil
}

func (s *fakeAssetStore) get(assetID uuid.UUID) *models.Asset {
	s.mu.Lock()
	defer s.mu.Unlock()

	if asset, ok := s.assets[assetID]; ok {
		c := *asset
		return &c
	}
	return nil
}

func (s *fakeAssetStore) snapshot() any {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := make(map[uuid.UUID]*models.Asset, len(s.assets))
	for k, v := range s.assets {
		c := *v
		snap[k] = &c
	}
	return snap
}

func (s *fakeAssetStore) restore(snap any) {
	state := snap.(map[uuid.UUID]*models.Asset)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets = state
}

// fakeUsageStore implements UsageStore as an append-only slice.
type fakeUsageStore struct {
	mu      sync.Mutex
	records []*models.UsageRecord

	insertErr error
}

func newFakeUsageStore() *fakeUsageStore {
	return &fakeUsageStore{}
}

func (s *fakeUsageStore) Insert(ctx context.Context, record *models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insertErr != nil {
		return s.insertErr
	}
	c := *record
	s.records = append(s.records, &c)
	return nil
}

func (s *fakeUsageStore) ListByAccount(ctx context.Context, accountID string, filter repository.UsageFilter) ([]*models.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []*models.UsageRecord
	for _, record := range s.records {
		if record.AccountID != accountID {
			continue
		}
		if filter.Feature != "" && record.Feature != filter.Feature {
			continue
		}
		if filter.Since != nil && record.RecordedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && !record.RecordedAt.Before(*filter.Until) {
			continue
		}
		c := *record
		records = append(records, &c)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].RecordedAt.After(records[j].RecordedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(records) {
			return nil, nil
		}
		records = records[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *fakeUsageStore) SummarizeByFeature(ctx context.Context, accountID string, since, until time.Time) ([]*models.FeatureSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byFeature := make(map[models.Feature]*models.FeatureSummary)
	for _, record := range s.records {
		if record.AccountID != accountID || record.RecordedAt.Before(since) || !record.RecordedAt.Before(until) {
			continue
		}
		summary, ok := byFeature[record.Feature]
		if !ok {
			summary = &models.FeatureSummary{Feature: record.Feature}
			byFeature[record.Feature] = summary
		}
		summary.Invocations++
		if record.Success {
			summary.Successes++
		}
		summary.CreditsUsed += record.CostCredits
	}

	var summaries []*models.FeatureSummary
	for _, summary := range byFeature {
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Feature < summaries[j].Feature
	})
	return summaries, nil
}

func (s *fakeUsageStore) SummarizeByDay(ctx context.Context, accountID string, since, until time.Time) ([]*models.DailySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byDay := make(map[time.Time]*models.DailySummary)
	for _, record := range s.records {
		if record.AccountID != accountID || record.RecordedAt.Before(since) || !record.RecordedAt.Before(until) {
			continue
		}
		day := record.RecordedAt.UTC().Truncate(24 * time.Hour)
		summary, ok := byDay[day]
		if !ok {
			summary = &models.DailySummary{Day: day}
			byDay[day] = summary
		}
		summary.Invocations++
		if record.Success {
			summary.Successes++
		}
		summary.CreditsUsed += record.CostCredits
	}

	var summaries []*models.DailySummary
	for _, summary := range byDay {
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Day.Before(summaries[j].Day)
	})
	return summaries, nil
}

func (s *fakeUsageStore) all() []*models.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]*models.UsageRecord, len(s.records))
	copy(records, s.records)
	return records
}

// fakeCache implements SnapshotCache backed by a map.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]string)}
}

func (c *fakeCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.entries[key]
	if !ok {
		return "", rediscommon.ErrKeyNotFound
	}
	return value, nil
}

func (c *fakeCache) Set(ctx context.Context, key, value string, expiry time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = value
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[key]
	return ok
}

func (c *fakeCache) put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = value
}

// fakeStream implements StreamPublisher, capturing published entries.
type fakeStream struct {
	mu      sync.Mutex
	entries []streamEntry

	addErr error
}

type streamEntry struct {
	stream string
	values map[string]interface{}
}

func (s *fakeStream) AddToStream(ctx context.Context, stream string, maxLen int64, values map[string]interface{}) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.addErr != nil {
		return "", s.addErr
	}
	s.entries = append(s.entries, streamEntry{stream: stream, values: values})
	return "1-1", nil
}

func (s *fakeStream) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// fakeBlob implements blob.Store backed by a map, with injectable failures
// for the write and read paths.
type fakeBlob struct {
	mu      sync.Mutex
	objects map[string][]byte

	putErr error
	getErr error
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: make(map[string][]byte)}
}

func (b *fakeBlob) Put(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.putErr != nil {
		return b.putErr
	}
	c := make([]byte, len(data))
	copy(c, data)
	b.objects[key] = c
	return nil
}

func (b *fakeBlob) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.getErr != nil {
		return nil, b.getErr
	}
	data, ok := b.objects[key]
	if !ok {
		return nil, blob.ErrObjectNotFound
	}
	c := make([]byte, len(data))
	copy(c, data)
	return io.NopCloser(bytes.NewReader(c)), nil
}

func (b *fakeBlob) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.objects, key)
	return nil
}

func (b *fakeBlob) Health(ctx context.Context) error {
	return nil
}

func (b *fakeBlob) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.objects[key]
	return ok
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// testEnv wires every service against the fakes, mirroring the container.
type testEnv struct {
	components *bootstrap.Components
	accounts   *fakeAccountStore
	assets     *fakeAssetStore
	usageStore *fakeUsageStore
	cache      *fakeCache
	stream     *fakeStream
	blob       *fakeBlob

	quota    *QuotaService
	registry *RegistryService
	usage    *UsageService
	pipeline *PipelineService
}

func newTestEnv() *testEnv {
	env := &testEnv{
		components: testComponents(),
		accounts:   newFakeAccountStore(),
		assets:     newFakeAssetStore(),
		usageStore: newFakeUsageStore(),
		cache:      newFakeCache(),
		stream:     &fakeStream{},
		blob:       newFakeBlob(),
	}

	tx := newFakeTxRunner(env.accounts, env.assets)

	env.quota = NewQuotaService(&QuotaServiceOpts{
		Accounts:   env.accounts,
		Cache:      env.cache,
		Components: env.components,
	})
	env.registry = NewRegistryService(&RegistryServiceOpts{
		Assets:     env.assets,
		Accounts:   env.accounts,
		Quota:      env.quota,
		DB:         tx,
		Blob:       env.blob,
		Components: env.components,
	})
	env.usage = NewUsageService(&UsageServiceOpts{
		Usage:      env.usageStore,
		Stream:     env.stream,
		Components: env.components,
	})
	env.pipeline = NewPipelineService(&PipelineServiceOpts{
		Registry:   env.registry,
		Quota:      env.quota,
		Usage:      env.usage,
		Blob:       env.blob,
		Components: env.components,
	})
	return env
}
