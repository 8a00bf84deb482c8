package models

import (
	"time"

	"github.com/google/uuid"
)

// AssetState represents the lifecycle state of an asset
type AssetState string

const (
	StateUploading  AssetState = "uploading"
	StateProcessing AssetState = "processing"
	StateCompleted  AssetState = "completed"
	StateFailed     AssetState = "failed"
	StateDeleted    AssetState = "deleted"
)

// assetTransitions is the closed transition table. Deriving a child does
// not transition the parent; parent eligibility is CanDeriveFrom below.
var assetTransitions = map[AssetState][]AssetState{
	StateUploading:  {StateCompleted, StateFailed},
	StateProcessing: {StateCompleted, StateFailed},
	StateCompleted:  {StateDeleted},
	StateFailed:     {StateDeleted},
	StateDeleted:    {},
}

// CanTransitionTo reports whether the state machine permits moving from s
// to target.
func (s AssetState) CanTransitionTo(target AssetState) bool {
	for _, t := range assetTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leads out of s.
func (s AssetState) IsTerminal() bool {
	return len(assetTransitions[s]) == 0
}

// Chargeable reports whether assets in this state count toward the
// owner's storage usage.
func (s AssetState) Chargeable() bool {
	return s == StateProcessing || s == StateCompleted
}

// CanDeriveFrom reports whether a new child asset may be derived from a
// parent in this state.
func (s AssetState) CanDeriveFrom() bool {
	return s == StateUploading || s == StateCompleted
}

// Valid reports whether s is a known state.
func (s AssetState) Valid() bool {
	_, ok := assetTransitions[s]
	return ok
}

// ContentKind classifies what an asset holds
type ContentKind string

const (
	ContentImage    ContentKind = "image"
	ContentDocument ContentKind = "document"
	ContentVideo    ContentKind = "video"
	ContentAudio    ContentKind = "audio"
	ContentOther    ContentKind = "other"
)

// Valid reports whether k is a known content kind.
func (k ContentKind) Valid() bool {
	switch k {
	case ContentImage, ContentDocument, ContentVideo, ContentAudio, ContentOther:
		return true
	}
	return false
}

// DerivationKind records how an asset came to exist
type DerivationKind string

const (
	DerivationOriginal   DerivationKind = "original"
	DerivationResized    DerivationKind = "resized"
	DerivationCompressed DerivationKind = "compressed"
	DerivationConverted  DerivationKind = "converted"
	DerivationGenerated  DerivationKind = "generated"
	DerivationProcessed  DerivationKind = "processed"
)

// Valid reports whether d is a known derivation kind.
func (d DerivationKind) Valid() bool {
	switch d {
	case DerivationOriginal, DerivationResized, DerivationCompressed,
		DerivationConverted, DerivationGenerated, DerivationProcessed:
		return true
	}
	return false
}

// Asset represents one stored artifact (original upload or derived output)
// Maps to: assets table
type Asset struct {
	// Unique asset ID
	AssetID uuid.UUID `db:"asset_id" json:"asset_id"`

	// Owning account; accounting and access control key
	OwnerID string `db:"owner_id" json:"owner_id"`

	// Direct parent in the derivation forest; nil for roots/originals
	ParentID *uuid.UUID `db:"parent_id" json:"parent_id,omitempty"`

	// Lifecycle state; transitions validated by AssetState
	State AssetState `db:"state" json:"state"`

	// What the asset holds: 'image', 'document', 'video', 'audio', 'other'
	ContentKind ContentKind `db:"content_kind" json:"content_kind"`

	// How it came to exist: 'original', 'resized', ...
	Derivation DerivationKind `db:"derivation" json:"derivation"`

	// Size charged to the owner's storage counter. For processing assets
	// this is the optimistic estimate until completion fixes it.
	SizeBytes int64 `db:"size_bytes" json:"size_bytes"`

	// Opaque handle into the blob store; never raw bytes
	StorageKey string `db:"storage_key" json:"storage_key"`

	// Processing progress percentage; 100 once completed
	Progress int `db:"progress" json:"progress"`

	// Set when the asset failed
	ErrorReason *string `db:"error_reason" json:"error_reason,omitempty"`

	// Access accounting
	DownloadCount  int64      `db:"download_count" json:"download_count"`
	LastAccessedAt *time.Time `db:"last_accessed_at" json:"last_accessed_at,omitempty"`

	// Assets past this instant are reclaimed by the sweeper; nil = never
	ExpiresAt *time.Time `db:"expires_at" json:"expires_at,omitempty"`

	// Audit fields
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	DeletedAt   *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// IsRoot checks if the asset is an original (no parent)
func (a *Asset) IsRoot() bool {
	return a.ParentID == nil
}

// IsDeleted checks if the asset reached the terminal state
func (a *Asset) IsDeleted() bool {
	return a.State == StateDeleted
}

// Expired checks if the asset is past its expiry at the given instant
func (a *Asset) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}
