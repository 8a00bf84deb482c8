package repository

import (
	"context"
	"fmt"

	"github.com/mediaforge/ledger/common/db"
)

// schema is the full DDL for the three ledger collections. Statements are
// idempotent so the init hook can run on every boot.
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	account_id          TEXT PRIMARY KEY,
	tier                TEXT NOT NULL DEFAULT 'free',
	storage_used_bytes  BIGINT NOT NULL DEFAULT 0,
	storage_limit_bytes BIGINT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS feature_counters (
	account_id  TEXT NOT NULL REFERENCES accounts(account_id),
	feature     TEXT NOT NULL,
	tier        TEXT NOT NULL DEFAULT 'free',
	used        BIGINT NOT NULL DEFAULT 0,
	usage_limit BIGINT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (account_id, feature)
);

CREATE TABLE IF NOT EXISTS assets (
	asset_id         UUID PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	parent_id        UUID REFERENCES assets(asset_id),
	state            TEXT NOT NULL,
	content_kind     TEXT NOT NULL,
	derivation       TEXT NOT NULL,
	size_bytes       BIGINT NOT NULL DEFAULT 0,
	storage_key      TEXT NOT NULL DEFAULT '',
	progress         INT NOT NULL DEFAULT 0,
	error_reason     TEXT,
	download_count   BIGINT NOT NULL DEFAULT 0,
	last_accessed_at TIMESTAMPTZ,
	expires_at       TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at     TIMESTAMPTZ,
	deleted_at       TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_assets_owner_created
	ON assets (owner_id, created_at DESC, asset_id DESC);

CREATE INDEX IF NOT EXISTS idx_assets_parent
	ON assets (parent_id) WHERE parent_id IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_assets_expiry
	ON assets (expires_at) WHERE expires_at IS NOT NULL AND state IN ('completed', 'failed');

CREATE INDEX IF NOT EXISTS idx_assets_in_flight
	ON assets (created_at) WHERE state IN ('uploading', 'processing');

CREATE TABLE IF NOT EXISTS usage_records (
	record_id    UUID PRIMARY KEY,
	account_id   TEXT NOT NULL,
	feature      TEXT NOT NULL,
	asset_id     UUID,
	success      BOOLEAN NOT NULL,
	cost_credits BIGINT NOT NULL DEFAULT 0,
	error_reason TEXT,
	recorded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_usage_account_time
	ON usage_records (account_id, recorded_at DESC);

CREATE INDEX IF NOT EXISTS idx_usage_asset
	ON usage_records (asset_id) WHERE asset_id IS NOT NULL;
`

// InitSchema applies the ledger schema. Wired as the bootstrap DB init hook.
func InitSchema(database *db.DB) error {
	ctx := context.Background()
	if _, err := database.GetExecutor(ctx).Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
