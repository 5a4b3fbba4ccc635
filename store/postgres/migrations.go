package postgres

func migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS properties (
			id                    TEXT PRIMARY KEY,
			meter_number          TEXT NOT NULL DEFAULT '',
			category              TEXT NOT NULL DEFAULT '',
			current_balance       BIGINT NOT NULL DEFAULT 0,
			total_consumption     BIGINT NOT NULL DEFAULT 0,
			last_token_redemption TIMESTAMPTZ,
			address               TEXT NOT NULL DEFAULT '',
			created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_properties_meter ON properties (meter_number) WHERE meter_number <> ''`,

		`CREATE TABLE IF NOT EXISTS rate_schedules (
			id              TEXT PRIMARY KEY,
			category        TEXT NOT NULL DEFAULT '',
			unit_price      BIGINT NOT NULL DEFAULT 0,
			fixed_charge    BIGINT NOT NULL DEFAULT 0,
			minimum_charge  BIGINT NOT NULL DEFAULT 0,
			currency        TEXT NOT NULL DEFAULT '',
			effective_from  TIMESTAMPTZ NOT NULL,
			effective_until TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rates_category_from ON rate_schedules (category, effective_from)`,
		`CREATE INDEX IF NOT EXISTS idx_rates_open ON rate_schedules (category) WHERE effective_until IS NULL`,

		`CREATE TABLE IF NOT EXISTS tokens (
			id            TEXT PRIMARY KEY,
			property_id   TEXT NOT NULL REFERENCES properties (id),
			payment_id    TEXT NOT NULL,
			code          TEXT NOT NULL,
			units         BIGINT NOT NULL DEFAULT 0,
			issued_amount BIGINT NOT NULL DEFAULT 0,
			currency      TEXT NOT NULL DEFAULT '',
			is_redeemed   BOOLEAN NOT NULL DEFAULT FALSE,
			redeemed_at   TIMESTAMPTZ,
			expires_at    TIMESTAMPTZ NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tokens_code ON tokens (code)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tokens_payment ON tokens (payment_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tokens_property ON tokens (property_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS meter_readings (
			id              TEXT PRIMARY KEY,
			property_id     TEXT NOT NULL REFERENCES properties (id),
			reading         BIGINT NOT NULL DEFAULT 0,
			consumption     BIGINT NOT NULL DEFAULT 0,
			reading_date    TIMESTAMPTZ NOT NULL,
			is_estimated    BOOLEAN NOT NULL DEFAULT FALSE,
			billing_applied BOOLEAN NOT NULL DEFAULT FALSE,
			notes           TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_property_date ON meter_readings (property_id, reading_date, created_at)`,
	}
}
