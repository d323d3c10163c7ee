package store

import (
	"fmt"
	"strings"
)

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS owners (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			email_verified_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS admins (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			is_super_admin INTEGER NOT NULL DEFAULT 0,
			last_login_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS tokens (
			id TEXT PRIMARY KEY,
			owner_id INTEGER NOT NULL REFERENCES owners(id),
			name TEXT NOT NULL DEFAULT '',
			fingerprint TEXT UNIQUE NOT NULL,
			secret_hash TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			revoked_at DATETIME,
			last_used_at DATETIME
		)`,

		`CREATE INDEX IF NOT EXISTS idx_tokens_owner ON tokens(owner_id)`,

		`CREATE TABLE IF NOT EXISTS billing_periods (
			id TEXT PRIMARY KEY,
			owner_id INTEGER NOT NULL REFERENCES owners(id),
			period_start DATETIME NOT NULL,
			period_end DATETIME NOT NULL,
			total_requests INTEGER NOT NULL DEFAULT 0,
			total_cost_cents INTEGER NOT NULL DEFAULT 0,
			is_current INTEGER NOT NULL DEFAULT 0,
			payment_status TEXT NOT NULL DEFAULT 'pending',
			paid_at DATETIME,
			paid_amount_cents INTEGER,
			payment_reference TEXT,
			payment_notes TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (owner_id, period_start)
		)`,

		// At most one current period per owner, enforced at the storage
		// layer regardless of application-level races.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_periods_current
			ON billing_periods(owner_id) WHERE is_current = 1`,

		`CREATE INDEX IF NOT EXISTS idx_billing_periods_status
			ON billing_periods(payment_status)`,

		`CREATE TABLE IF NOT EXISTS usage_records (
			id TEXT PRIMARY KEY,
			owner_id INTEGER NOT NULL REFERENCES owners(id),
			token_id TEXT REFERENCES tokens(id),
			billing_period_id TEXT REFERENCES billing_periods(id),
			service TEXT NOT NULL DEFAULT 'vision.solve',
			request_ts DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			request_bytes INTEGER NOT NULL DEFAULT 0,
			response_bytes INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error_code TEXT,
			request_id TEXT NOT NULL,
			result TEXT
		)`,

		`CREATE INDEX IF NOT EXISTS idx_usage_records_owner_ts
			ON usage_records(owner_id, request_ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_records_request_id
			ON usage_records(request_id)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// ALTER TABLE migrations re-run on every start; duplicate
			// column errors mean the migration already applied.
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}
