package models

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Tier represents the plan tier of an account
type Tier string

const (
	TierFree  Tier = "free"
	TierPaid  Tier = "paid"
	TierAdmin Tier = "admin"
)

// IsAdmin checks if the tier grants operator privileges
func (t Tier) IsAdmin() bool {
	return t == TierAdmin
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPaid, TierAdmin:
		return true
	}
	return false
}

// Feature names a billable operation gated by the quota ledger
type Feature string

const (
	FeatureUpload        Feature = "upload"
	FeatureResize        Feature = "resize"
	FeatureCompress      Feature = "compress"
	FeatureConvert       Feature = "convert"
	FeatureOCR           Feature = "ocr"
	FeatureGenerate      Feature = "generate"
	FeatureVideoDownload Feature = "video-download"
)

// Valid reports whether f is a known feature.
func (f Feature) Valid() bool {
	switch f {
	case FeatureUpload, FeatureResize, FeatureCompress, FeatureConvert,
		FeatureOCR, FeatureGenerate, FeatureVideoDownload:
		return true
	}
	return false
}

// DefaultCost returns the credit cost recorded for one invocation of f.
func (f Feature) DefaultCost() int64 {
	switch f {
	case FeatureUpload:
		return 0
	case FeatureOCR:
		return 2
	case FeatureVideoDownload:
		return 3
	case FeatureGenerate:
		return 4
	default:
		return 1
	}
}

// Account holds the quota counters for one identity. The identity itself
// (credentials, profile) is owned by the auth collaborator; only counters
// and the tier copy live here.
// Maps to: accounts table
type Account struct {
	AccountID string `db:"account_id" json:"account_id"`

	// Plan tier copied from the auth collaborator on each request
	Tier Tier `db:"tier" json:"tier"`

	// Storage counters; limit < 0 means unlimited
	StorageUsedBytes  int64 `db:"storage_used_bytes" json:"storage_used_bytes"`
	StorageLimitBytes int64 `db:"storage_limit_bytes" json:"storage_limit_bytes"`

	// Audit fields
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StorageUnlimited checks if the account has no storage cap
func (a *Account) StorageUnlimited() bool {
	return a.StorageLimitBytes < 0
}

// StorageRemaining returns the free headroom in bytes; negative when the
// account sits above its limit (possible after a completion overrun).
func (a *Account) StorageRemaining() int64 {
	if a.StorageUnlimited() {
		return -1
	}
	return a.StorageLimitBytes - a.StorageUsedBytes
}

// FeatureCounter tracks one account's consumption of one feature.
// Maps to: feature_counters table
type FeatureCounter struct {
	AccountID string  `db:"account_id" json:"account_id"`
	Feature   Feature `db:"feature" json:"feature"`

	// Tier the limit was provisioned from; a tier change re-applies the
	// new tier's default limit on the next reservation
	Tier Tier `db:"tier" json:"tier"`

	Used int64 `db:"used" json:"used"`

	// Limit < 0 means unlimited ("usage_limit" because LIMIT is reserved)
	Limit int64 `db:"usage_limit" json:"limit"`

	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Unlimited checks if the counter has no cap
func (c *FeatureCounter) Unlimited() bool {
	return c.Limit < 0
}

// Remaining returns the count of invocations left; -1 when unlimited
func (c *FeatureCounter) Remaining() int64 {
	if c.Unlimited() {
		return -1
	}
	if c.Limit < c.Used {
		return 0
	}
	return c.Limit - c.Used
}

// Reservation is a provisionally granted feature-usage slot. It is
// returned by a successful reserve and handed back only on hard failure
// of the whole operation.
type Reservation struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	AccountID     string    `json:"account_id"`
	Feature       Feature   `json:"feature"`
	CreatedAt     time.Time `json:"created_at"`

	released atomic.Bool
}

// NewReservation creates a reservation token for an account and feature.
func NewReservation(accountID string, feature Feature) *Reservation {
	return &Reservation{
		ReservationID: uuid.New(),
		AccountID:     accountID,
		Feature:       feature,
		CreatedAt:     time.Now().UTC(),
	}
}

// MarkReleased flips the token to released exactly once. A second call
// returns false so a double release cannot double-decrement the counter.
func (r *Reservation) MarkReleased() bool {
	return r.released.CompareAndSwap(false, true)
}

// QuotaSnapshot is the read-side view of one account's counters.
type QuotaSnapshot struct {
	AccountID string           `json:"account_id"`
	Tier      Tier             `json:"tier"`
	Storage   StorageUsage     `json:"storage"`
	Features  []FeatureCounter `json:"features"`
}

// StorageUsage summarizes the storage counter pair.
type StorageUsage struct {
	UsedBytes  int64 `json:"used_bytes"`
	LimitBytes int64 `json:"limit_bytes"`
}
