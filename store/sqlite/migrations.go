package sqlite

// migrations returns the schema statements in order. Each string is a
// single SQL statement (SQLite executes one at a time).
func migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS properties (
			id                    TEXT PRIMARY KEY,
			meter_number          TEXT NOT NULL DEFAULT '',
			category              TEXT NOT NULL DEFAULT '',
			current_balance       INTEGER NOT NULL DEFAULT 0,
			total_consumption     INTEGER NOT NULL DEFAULT 0,
			last_token_redemption TEXT,
			address               TEXT NOT NULL DEFAULT '',
			created_at            TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at            TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_properties_meter ON properties (meter_number) WHERE meter_number != ''`,

		`CREATE TABLE IF NOT EXISTS rate_schedules (
			id              TEXT PRIMARY KEY,
			category        TEXT NOT NULL DEFAULT '',
			unit_price      INTEGER NOT NULL DEFAULT 0,
			fixed_charge    INTEGER NOT NULL DEFAULT 0,
			minimum_charge  INTEGER NOT NULL DEFAULT 0,
			currency        TEXT NOT NULL DEFAULT '',
			effective_from  TEXT NOT NULL,
			effective_until TEXT,
			created_at      TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rates_category_from ON rate_schedules (category, effective_from)`,
		`CREATE INDEX IF NOT EXISTS idx_rates_open ON rate_schedules (category) WHERE effective_until IS NULL`,

		`CREATE TABLE IF NOT EXISTS tokens (
			id            TEXT PRIMARY KEY,
			property_id   TEXT NOT NULL,
			payment_id    TEXT NOT NULL,
			code          TEXT NOT NULL,
			units         INTEGER NOT NULL DEFAULT 0,
			issued_amount INTEGER NOT NULL DEFAULT 0,
			currency      TEXT NOT NULL DEFAULT '',
			is_redeemed   INTEGER NOT NULL DEFAULT 0,
			redeemed_at   TEXT,
			expires_at    TEXT NOT NULL,
			created_at    TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tokens_code ON tokens (code)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tokens_payment ON tokens (payment_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tokens_property ON tokens (property_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS meter_readings (
			id              TEXT PRIMARY KEY,
			property_id     TEXT NOT NULL,
			reading         INTEGER NOT NULL DEFAULT 0,
			consumption     INTEGER NOT NULL DEFAULT 0,
			reading_date    TEXT NOT NULL,
			is_estimated    INTEGER NOT NULL DEFAULT 0,
			billing_applied INTEGER NOT NULL DEFAULT 0,
			notes           TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_property_date ON meter_readings (property_id, reading_date, created_at)`,
	}
}
