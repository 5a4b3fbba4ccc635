// Package sqlite implements the prepaid store on SQLite via the pure-Go
// modernc.org/sqlite driver. It is the recommended backend for
// single-node deployments: zero external services, durable, and the
// write serialization SQLite provides makes the conditional balance
// operations straightforward.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aquastack/prepaid"
	"github.com/aquastack/prepaid/id"
	"github.com/aquastack/prepaid/property"
	"github.com/aquastack/prepaid/rate"
	"github.com/aquastack/prepaid/reading"
	"github.com/aquastack/prepaid/store"
	"github.com/aquastack/prepaid/token"
	"github.com/aquastack/prepaid/types"
)

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New opens (creating if needed) a SQLite database at path. Use
// ":memory:" for an ephemeral in-process database.
func New(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	// modernc.org/sqlite serializes writes in-process; a single
	// connection avoids SQLITE_BUSY between pool members.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	return &Store{db: db}, nil
}

// Migrate creates the schema. Statements are idempotent so calling it
// on every start is safe.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", prepaid.ErrMigrationFailed, err)
		}
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", prepaid.ErrStoreNotReady, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- properties ---

const propertyColumns = `id, meter_number, category, current_balance, total_consumption, last_token_redemption, address, created_at, updated_at`

func (s *Store) CreateProperty(ctx context.Context, p *property.Property) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO properties (`+propertyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.MeterNumber, string(p.Category), p.CurrentBalance, p.TotalConsumption,
		fmtTimePtr(p.LastTokenRedemption), p.Address, fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: meter number %q", prepaid.ErrAlreadyExists, p.MeterNumber)
		}
		return fmt.Errorf("sqlite: create property: %w", err)
	}
	return nil
}

func (s *Store) GetProperty(ctx context.Context, propertyID id.PropertyID) (*property.Property, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = ?`, propertyID)
	p, err := scanProperty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", prepaid.ErrPropertyNotFound, propertyID)
	}
	return p, err
}

func (s *Store) GetPropertyByMeter(ctx context.Context, meterNumber string) (*property.Property, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+propertyColumns+` FROM properties WHERE meter_number = ?`, meterNumber)
	p, err := scanProperty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: meter %q", prepaid.ErrPropertyNotFound, meterNumber)
	}
	return p, err
}

// UpdateProperty writes the soft fields only; balances move exclusively
// through the atomic operations below.
func (s *Store) UpdateProperty(ctx context.Context, p *property.Property) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE properties
		SET meter_number = ?, category = ?, address = ?, updated_at = ?
		WHERE id = ?`,
		p.MeterNumber, string(p.Category), p.Address, fmtTime(time.Now().UTC()), p.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: meter number %q", prepaid.ErrAlreadyExists, p.MeterNumber)
		}
		return fmt.Errorf("sqlite: update property: %w", err)
	}
	return requireRow(res, fmt.Errorf("%w: %s", prepaid.ErrPropertyNotFound, p.ID))
}

func scanProperty(row rowScanner) (*property.Property, error) {
	var (
		p          property.Property
		category   string
		redeemedAt sql.NullString
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(&p.ID, &p.MeterNumber, &category, &p.CurrentBalance, &p.TotalConsumption,
		&redeemedAt, &p.Address, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.Category = rate.Category(category)
	if p.LastTokenRedemption, err = parseTimePtr(redeemedAt); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// --- rate schedules ---

const scheduleColumns = `id, category, unit_price, fixed_charge, minimum_charge, currency, effective_from, effective_until, created_at, updated_at`

func (s *Store) ActivateSchedule(ctx context.Context, sched *rate.Schedule) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE rate_schedules
			SET effective_until = ?, updated_at = ?
			WHERE category = ? AND effective_until IS NULL`,
			fmtTime(sched.EffectiveFrom), fmtTime(time.Now().UTC()), string(sched.Category),
		)
		if err != nil {
			return fmt.Errorf("sqlite: close open schedule: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO rate_schedules (`+scheduleColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sched.ID, string(sched.Category), sched.UnitPrice.Amount, sched.FixedCharge.Amount,
			sched.MinimumCharge.Amount, sched.UnitPrice.Currency, fmtTime(sched.EffectiveFrom),
			fmtTimePtr(sched.EffectiveUntil), fmtTime(sched.CreatedAt), fmtTime(sched.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("sqlite: insert schedule: %w", err)
		}
		return nil
	})
}

func (s *Store) ResolveSchedule(ctx context.Context, category rate.Category, at time.Time) (*rate.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+scheduleColumns+` FROM rate_schedules
		WHERE category = ? AND effective_from <= ?
		  AND (effective_until IS NULL OR effective_until > ?)
		ORDER BY effective_from DESC
		LIMIT 1`,
		string(category), fmtTime(at), fmtTime(at),
	)
	sched, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: category %s at %s", prepaid.ErrRateNotConfigured, category, at.Format(time.RFC3339))
	}
	return sched, err
}

func (s *Store) ListSchedules(ctx context.Context, category rate.Category) ([]*rate.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+` FROM rate_schedules
		WHERE category = ?
		ORDER BY effective_from ASC`,
		string(category),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list schedules: %w", err)
	}
	defer rows.Close()

	var out []*rate.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

func scanSchedule(row rowScanner) (*rate.Schedule, error) {
	var (
		sched                           rate.Schedule
		category, currency              string
		unitPrice, fixedCharge, minimum int64
		effectiveFrom                   string
		effectiveUntil                  sql.NullString
		createdAt, updatedAt            string
	)
	err := row.Scan(&sched.ID, &category, &unitPrice, &fixedCharge, &minimum, &currency,
		&effectiveFrom, &effectiveUntil, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	sched.Category = rate.Category(category)
	sched.UnitPrice = types.Money{Amount: unitPrice, Currency: currency}
	sched.FixedCharge = types.Money{Amount: fixedCharge, Currency: currency}
	sched.MinimumCharge = types.Money{Amount: minimum, Currency: currency}
	if sched.EffectiveFrom, err = parseTime(effectiveFrom); err != nil {
		return nil, err
	}
	if sched.EffectiveUntil, err = parseTimePtr(effectiveUntil); err != nil {
		return nil, err
	}
	if sched.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sched.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &sched, nil
}

// --- tokens ---

const tokenColumns = `id, property_id, payment_id, code, units, issued_amount, currency, is_redeemed, redeemed_at, expires_at, created_at, updated_at`

func (s *Store) CreateToken(ctx context.Context, t *token.Token) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (`+tokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PropertyID, t.PaymentID, t.Code, t.Units, t.IssuedAmount.Amount,
		t.IssuedAmount.Currency, t.IsRedeemed, fmtTimePtr(t.RedeemedAt),
		fmtTime(t.ExpiresAt), fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			if strings.Contains(err.Error(), "tokens.code") {
				return fmt.Errorf("%w: code collision", prepaid.ErrDuplicateCode)
			}
			return fmt.Errorf("%w: token for payment %s", prepaid.ErrAlreadyExists, t.PaymentID)
		}
		return fmt.Errorf("sqlite: create token: %w", err)
	}
	return nil
}

func (s *Store) GetToken(ctx context.Context, tokenID id.TokenID) (*token.Token, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE id = ?`, tokenID)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", prepaid.ErrTokenNotFound, tokenID)
	}
	return t, err
}

func (s *Store) GetTokenByCode(ctx context.Context, code string) (*token.Token, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE code = ?`, code)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, prepaid.ErrTokenNotFound
	}
	return t, err
}

func (s *Store) GetTokenByPayment(ctx context.Context, paymentID id.PaymentID) (*token.Token, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE payment_id = ?`, paymentID)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: payment %s", prepaid.ErrTokenNotFound, paymentID)
	}
	return t, err
}

func (s *Store) ListTokens(ctx context.Context, propertyID id.PropertyID, opts store.TokenListOpts) ([]*token.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE property_id = ?`
	args := []any{propertyID}
	if opts.Redeemed != nil {
		query += ` AND is_redeemed = ?`
		args = append(args, *opts.Redeemed)
	}
	query += ` ORDER BY created_at ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tokens: %w", err)
	}
	defer rows.Close()

	var out []*token.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanToken(row rowScanner) (*token.Token, error) {
	var (
		t                    token.Token
		issuedAmount         int64
		currency             string
		redeemedAt           sql.NullString
		expiresAt            string
		createdAt, updatedAt string
	)
	err := row.Scan(&t.ID, &t.PropertyID, &t.PaymentID, &t.Code, &t.Units, &issuedAmount,
		&currency, &t.IsRedeemed, &redeemedAt, &expiresAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.IssuedAmount = types.Money{Amount: issuedAmount, Currency: currency}
	if t.RedeemedAt, err = parseTimePtr(redeemedAt); err != nil {
		return nil, err
	}
	if t.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// --- atomic balance operations ---

func (s *Store) ApplyRedemption(ctx context.Context, tokenID id.TokenID, at time.Time) (*store.BalanceChange, error) {
	var change *store.BalanceChange
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE tokens
			SET is_redeemed = 1, redeemed_at = ?, updated_at = ?
			WHERE id = ? AND is_redeemed = 0`,
			fmtTime(at), fmtTime(at), tokenID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: mark token redeemed: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var redeemed bool
			err := tx.QueryRowContext(ctx, `SELECT is_redeemed FROM tokens WHERE id = ?`, tokenID).Scan(&redeemed)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", prepaid.ErrTokenNotFound, tokenID)
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: %s", prepaid.ErrTokenAlreadyRedeemed, tokenID)
		}

		var (
			propertyID id.PropertyID
			units      types.Volume
		)
		if err := tx.QueryRowContext(ctx, `SELECT property_id, units FROM tokens WHERE id = ?`, tokenID).Scan(&propertyID, &units); err != nil {
			return err
		}

		var previous types.Volume
		err = tx.QueryRowContext(ctx, `SELECT current_balance FROM properties WHERE id = ?`, propertyID).Scan(&previous)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", prepaid.ErrPropertyNotFound, propertyID)
		}
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE properties
			SET current_balance = current_balance + ?, last_token_redemption = ?, updated_at = ?
			WHERE id = ?`,
			units, fmtTime(at), fmtTime(at), propertyID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: credit balance: %w", err)
		}

		change = &store.BalanceChange{
			PropertyID: propertyID,
			Previous:   previous,
			Current:    previous.Add(units),
			At:         at,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

func (s *Store) ApplyConsumption(ctx context.Context, propertyID id.PropertyID, units types.Volume) (*store.BalanceChange, error) {
	var change *store.BalanceChange
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		var previous types.Volume
		err := tx.QueryRowContext(ctx, `SELECT current_balance FROM properties WHERE id = ?`, propertyID).Scan(&previous)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", prepaid.ErrPropertyNotFound, propertyID)
		}
		if err != nil {
			return err
		}
		if previous.LessThan(units) {
			return fmt.Errorf("%w: balance %s, needed %s", prepaid.ErrInsufficientBalance, previous, units)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE properties
			SET current_balance = current_balance - ?, total_consumption = total_consumption + ?, updated_at = ?
			WHERE id = ?`,
			units, units, fmtTime(now), propertyID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: debit balance: %w", err)
		}

		change = &store.BalanceChange{
			PropertyID: propertyID,
			Previous:   previous,
			Current:    previous.Subtract(units),
			At:         now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

// --- meter readings ---

const readingColumns = `id, property_id, reading, consumption, reading_date, is_estimated, billing_applied, notes, created_at, updated_at`

func (s *Store) CreateReading(ctx context.Context, r *reading.MeterReading) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meter_readings (`+readingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PropertyID, r.Reading, r.Consumption, fmtTime(r.ReadingDate),
		r.IsEstimated, r.BillingApplied, r.Notes, fmtTime(r.CreatedAt), fmtTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create reading: %w", err)
	}
	return nil
}

func (s *Store) GetReading(ctx context.Context, readingID id.ReadingID) (*reading.MeterReading, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+readingColumns+` FROM meter_readings WHERE id = ?`, readingID)
	r, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", prepaid.ErrReadingNotFound, readingID)
	}
	return r, err
}

func (s *Store) LatestReading(ctx context.Context, propertyID id.PropertyID) (*reading.MeterReading, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+readingColumns+` FROM meter_readings
		WHERE property_id = ?
		ORDER BY reading_date DESC, created_at DESC
		LIMIT 1`,
		propertyID,
	)
	r, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: property %s", prepaid.ErrReadingNotFound, propertyID)
	}
	return r, err
}

func (s *Store) ListReadings(ctx context.Context, propertyID id.PropertyID, opts reading.ListOpts) ([]*reading.MeterReading, error) {
	query := `SELECT ` + readingColumns + ` FROM meter_readings WHERE property_id = ?`
	args := []any{propertyID}
	if !opts.Start.IsZero() {
		query += ` AND reading_date >= ?`
		args = append(args, fmtTime(opts.Start))
	}
	if !opts.End.IsZero() {
		query += ` AND reading_date < ?`
		args = append(args, fmtTime(opts.End))
	}
	query += ` ORDER BY reading_date ASC, created_at ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list readings: %w", err)
	}
	defer rows.Close()

	var out []*reading.MeterReading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ApplyAmendment(ctx context.Context, r *reading.MeterReading, delta types.Volume) (*store.BalanceChange, error) {
	var change *store.BalanceChange
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		var previous types.Volume
		err := tx.QueryRowContext(ctx, `SELECT current_balance FROM properties WHERE id = ?`, r.PropertyID).Scan(&previous)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", prepaid.ErrPropertyNotFound, r.PropertyID)
		}
		if err != nil {
			return err
		}
		if delta.IsPositive() && previous.LessThan(delta) {
			return fmt.Errorf("%w: balance %s, needed %s", prepaid.ErrInsufficientBalance, previous, delta)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE meter_readings
			SET reading = ?, consumption = ?, is_estimated = ?, billing_applied = ?, notes = ?, updated_at = ?
			WHERE id = ?`,
			r.Reading, r.Consumption, r.IsEstimated, r.BillingApplied, r.Notes, fmtTime(now), r.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: amend reading: %w", err)
		}
		if err := requireRow(res, fmt.Errorf("%w: %s", prepaid.ErrReadingNotFound, r.ID)); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE properties
			SET current_balance = current_balance - ?, total_consumption = total_consumption + ?, updated_at = ?
			WHERE id = ?`,
			delta, delta, fmtTime(now), r.PropertyID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: compensate balance: %w", err)
		}

		change = &store.BalanceChange{
			PropertyID: r.PropertyID,
			Previous:   previous,
			Current:    previous.Subtract(delta),
			At:         now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

func scanReading(row rowScanner) (*reading.MeterReading, error) {
	var (
		r                    reading.MeterReading
		readingDate          string
		createdAt, updatedAt string
	)
	err := row.Scan(&r.ID, &r.PropertyID, &r.Reading, &r.Consumption, &readingDate,
		&r.IsEstimated, &r.BillingApplied, &r.Notes, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if r.ReadingDate, err = parseTime(readingDate); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", prepaid.ErrTransactionFailed, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", prepaid.ErrTransactionFailed, err)
	}
	return nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// Timestamps are stored as RFC 3339 text in UTC so lexicographic
// comparison in SQL matches chronological order.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
