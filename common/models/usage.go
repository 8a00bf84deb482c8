package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord is one append-only fact about a feature invocation.
// Never mutated after insert; survives deletion of the asset it references.
// Maps to: usage_records table
type UsageRecord struct {
	// Unique record ID
	RecordID uuid.UUID `db:"record_id" json:"record_id"`

	AccountID string  `db:"account_id" json:"account_id"`
	Feature   Feature `db:"feature" json:"feature"`

	// Asset produced or acted on; nil for invocations that produced none
	AssetID *uuid.UUID `db:"asset_id" json:"asset_id,omitempty"`

	Success     bool  `db:"success" json:"success"`
	CostCredits int64 `db:"cost_credits" json:"cost_credits"`

	// Set on failed invocations
	ErrorReason *string `db:"error_reason" json:"error_reason,omitempty"`

	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// FeatureSummary aggregates usage records for one feature over a window.
// Computed at query time, never cached persistently.
type FeatureSummary struct {
	Feature     Feature `db:"feature" json:"feature"`
	Invocations int64   `db:"invocations" json:"invocations"`
	Successes   int64   `db:"successes" json:"successes"`
	CreditsUsed int64   `db:"credits_used" json:"credits_used"`
}

// DailySummary aggregates usage records per calendar day.
type DailySummary struct {
	Day         time.Time `db:"day" json:"day"`
	Invocations int64     `db:"invocations" json:"invocations"`
	Successes   int64     `db:"successes" json:"successes"`
	CreditsUsed int64     `db:"credits_used" json:"credits_used"`
}
