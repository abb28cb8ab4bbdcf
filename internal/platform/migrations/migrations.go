// Package migrations applies the engine's database schema. Statements are
// idempotent so Apply can run on every startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS awards (
		id TEXT PRIMARY KEY,
		scholarship_name TEXT NOT NULL DEFAULT '',
		student_id TEXT NOT NULL,
		student_name TEXT NOT NULL DEFAULT '',
		net_id TEXT NOT NULL DEFAULT '',
		award_amount NUMERIC(12,2) NOT NULL,
		award_date TIMESTAMPTZ,
		status TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS payment_schedules (
		id TEXT PRIMARY KEY,
		award_id TEXT NOT NULL REFERENCES awards(id),
		payment_number INTEGER NOT NULL,
		scheduled_amount NUMERIC(12,2) NOT NULL,
		scheduled_date TIMESTAMPTZ NOT NULL,
		required_conditions JSONB,
		verifications JSONB,
		status TEXT NOT NULL,
		transaction_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (award_id, payment_number)
	)`,

	`CREATE TABLE IF NOT EXISTS disbursement_transactions (
		transaction_id TEXT PRIMARY KEY,
		award_id TEXT NOT NULL,
		schedule_id TEXT NOT NULL,
		external_transaction_id TEXT NOT NULL DEFAULT '',
		amount NUMERIC(12,2) NOT NULL,
		scheduled_date TIMESTAMPTZ NOT NULL,
		processed_date TIMESTAMPTZ,
		status TEXT NOT NULL,
		financial_aid_system TEXT NOT NULL DEFAULT '',
		submission_payload JSONB,
		response_data JSONB,
		error_message TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		account_code TEXT NOT NULL DEFAULT '',
		fund_code TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_transactions_status_due
		ON disbursement_transactions (status, scheduled_date)`,

	`CREATE TABLE IF NOT EXISTS financial_aid_system_logs (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL DEFAULT '',
		system_name TEXT NOT NULL,
		operation TEXT NOT NULL,
		request_data JSONB,
		response_data JSONB,
		status TEXT NOT NULL,
		response_time_ms BIGINT NOT NULL DEFAULT 0,
		http_status_code INTEGER NOT NULL DEFAULT 0,
		logged_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_system_logs_transaction
		ON financial_aid_system_logs (transaction_id)`,
}

// Apply runs every schema statement in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d: %w", i+1, err)
		}
	}
	return nil
}
