package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the full DDL, written as IF NOT EXISTS so EnsureSchema is
// safe to run on every boot.
const Schema = `
CREATE TABLE IF NOT EXISTS vendor_stats (
	vendor          TEXT PRIMARY KEY,
	active          BOOLEAN NOT NULL DEFAULT TRUE,
	monthly_budget  NUMERIC(12,2) NOT NULL DEFAULT 0,
	monthly_spent   NUMERIC(12,2) NOT NULL DEFAULT 0,
	free_tier_limit INTEGER NOT NULL DEFAULT 0,
	free_tier_used  INTEGER NOT NULL DEFAULT 0,
	attempts        BIGINT NOT NULL DEFAULT 0,
	successes       BIGINT NOT NULL DEFAULT 0,
	pep_hits        BIGINT NOT NULL DEFAULT 0,
	p95_latency_ms  INTEGER NOT NULL DEFAULT 0,
	over_budget     BOOLEAN NOT NULL DEFAULT FALSE,
	last_reset_at   TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS vendor_stats_archive (
	id             BIGSERIAL PRIMARY KEY,
	vendor         TEXT NOT NULL,
	period_start   TIMESTAMPTZ NOT NULL,
	period_end     TIMESTAMPTZ NOT NULL,
	monthly_spent  NUMERIC(12,2) NOT NULL,
	free_tier_used INTEGER NOT NULL,
	attempts       BIGINT NOT NULL,
	successes      BIGINT NOT NULL,
	pep_hits       BIGINT NOT NULL,
	p95_latency_ms INTEGER NOT NULL,
	archived_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS kyc_cases (
	id                UUID PRIMARY KEY,
	subject_id        TEXT NOT NULL,
	required_caps     TEXT[] NOT NULL,
	attributes        JSONB NOT NULL DEFAULT '{}'::jsonb,
	state             TEXT NOT NULL,
	vendor            TEXT,
	external_ref      TEXT,
	confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
	pep_match         BOOLEAN NOT NULL DEFAULT FALSE,
	cost_charged      NUMERIC(12,2) NOT NULL DEFAULT 0,
	latency_ms        INTEGER NOT NULL DEFAULT 0,
	terminal_reason   TEXT,
	retries           INTEGER NOT NULL DEFAULT 0,
	next_retry_at     TIMESTAMPTZ,
	callback_deadline TIMESTAMPTZ,
	charge_settled    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	terminated_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS kyc_cases_due_idx
	ON kyc_cases (state, next_retry_at);
CREATE INDEX IF NOT EXISTS kyc_cases_deadline_idx
	ON kyc_cases (state, callback_deadline);
CREATE UNIQUE INDEX IF NOT EXISTS kyc_cases_vendor_ref_idx
	ON kyc_cases (vendor, external_ref)
	WHERE external_ref IS NOT NULL;

CREATE TABLE IF NOT EXISTS webhook_events (
	vendor      TEXT NOT NULL,
	event_id    TEXT NOT NULL,
	payload     JSONB NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (vendor, event_id)
);

CREATE TABLE IF NOT EXISTS webhook_events_archive (
	vendor      TEXT NOT NULL,
	event_id    TEXT NOT NULL,
	payload     JSONB NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	archived_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (vendor, event_id)
);

CREATE TABLE IF NOT EXISTS trust_profiles (
	subject_id TEXT PRIMARY KEY,
	score      DOUBLE PRECISION NOT NULL DEFAULT 0,
	level      TEXT NOT NULL,
	components JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS decision_audit (
	id         BIGSERIAL PRIMARY KEY,
	case_id    UUID NOT NULL,
	subject_id TEXT NOT NULL,
	vendor     TEXT NOT NULL,
	epsilon    DOUBLE PRECISION NOT NULL,
	explored   BOOLEAN NOT NULL,
	scores     JSONB NOT NULL DEFAULT '{}'::jsonb,
	decided_at TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema applies the DDL. Safe to call on every startup.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return nil
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
