/*
Package sqlite provides the SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Implements every storage port (applicants, vouchers, tickets,
  transactions, routes, fee policies, audit log) over a single SQLite
  database. The same SQL shapes port to PostgreSQL with only dialect
  changes.

KEY TABLES:
  applicants:    identity + financial snapshot (balance fields)
  vouchers:      structured voucher records - no metadata-in-notes
  tickets:       travel bookings with fare-at-issue
  transactions:  immutable money movements (append-only, no UPDATE/DELETE)
  routes:        priced (from, to) edges
  fee_policies:  time-windowed cancellation/modification penalties
  audit_log:     one row per commit (append-only)

CONCURRENCY:
  Voucher consumption is a conditional UPDATE guarded by both the version
  column and the usage cap:

    UPDATE vouchers SET usage_count = usage_count + 1, version = version + 1
    WHERE id = ? AND version = ? AND (max_uses = 0 OR usage_count < max_uses)

  Zero rows affected means a concurrent commit won the row; the caller
  gets ledger.ErrConcurrentVoucherRedemption and may retry from the quote.

WAL MODE:
  The database is opened with WAL so readers do not block the single
  writer and crash recovery is sane.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a versioned
  migration tool instead.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/karvan/pricing-engine/ledger"
	"github.com/karvan/pricing-engine/pricing"
)

// Store implements ledger.TxStore over SQLite.
type Store struct {
	db *sql.DB
	queries
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries carries every port method; it runs against either the root
// *sql.DB or an open *sql.Tx.
type queries struct {
	q querier
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite permits one writer; a single connection avoids SQLITE_BUSY
	// churn under concurrent commits.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, queries: queries{q: db}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// WithTx executes fn inside a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&queries{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS applicants (
		id                TEXT PRIMARY KEY,
		code              TEXT NOT NULL UNIQUE,
		full_name         TEXT NOT NULL,
		phone             TEXT NOT NULL DEFAULT '',
		total_amount      TEXT NOT NULL DEFAULT '0',
		amount_paid       TEXT NOT NULL DEFAULT '0',
		discount          TEXT NOT NULL DEFAULT '0',
		remaining_balance TEXT NOT NULL DEFAULT '0',
		trip_type         TEXT NOT NULL DEFAULT 'none',
		from_location     TEXT NOT NULL DEFAULT '',
		exam_date         TIMESTAMP,
		exam_time         TEXT NOT NULL DEFAULT '',
		exam_location     TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL,
		created_at        TIMESTAMP NOT NULL,
		updated_at        TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_applicants_status ON applicants(status);

	CREATE TABLE IF NOT EXISTS vouchers (
		id               TEXT PRIMARY KEY,
		code             TEXT NOT NULL DEFAULT '',
		category         TEXT NOT NULL,
		kind             TEXT NOT NULL,
		discount_percent TEXT NOT NULL DEFAULT '0',
		balance          TEXT NOT NULL DEFAULT '0',
		scope            TEXT NOT NULL DEFAULT '',
		max_uses         INTEGER NOT NULL DEFAULT 0,
		usage_count      INTEGER NOT NULL DEFAULT 0,
		expires_at       TIMESTAMP,
		is_used          INTEGER NOT NULL DEFAULT 0,
		applicant_id     TEXT NOT NULL DEFAULT '',
		location         TEXT NOT NULL DEFAULT '',
		version          INTEGER NOT NULL DEFAULT 0,
		created_at       TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_vouchers_code ON vouchers(code);
	CREATE INDEX IF NOT EXISTS idx_vouchers_applicant ON vouchers(applicant_id);

	CREATE TABLE IF NOT EXISTS tickets (
		id             TEXT PRIMARY KEY,
		applicant_id   TEXT NOT NULL REFERENCES applicants(id),
		from_location  TEXT NOT NULL,
		to_location    TEXT NOT NULL,
		trip_type      TEXT NOT NULL,
		departure_date TIMESTAMP NOT NULL,
		departure_time TEXT NOT NULL DEFAULT '',
		fare_at_issue  TEXT NOT NULL DEFAULT '0',
		status         TEXT NOT NULL,
		created_at     TIMESTAMP NOT NULL,
		updated_at     TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tickets_applicant ON tickets(applicant_id);

	CREATE TABLE IF NOT EXISTS transactions (
		id           TEXT PRIMARY KEY,
		applicant_id TEXT NOT NULL DEFAULT '',
		location     TEXT NOT NULL DEFAULT '',
		type         TEXT NOT NULL,
		amount       TEXT NOT NULL,
		note         TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_applicant ON transactions(applicant_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_created ON transactions(created_at);

	CREATE TABLE IF NOT EXISTS routes (
		id               TEXT PRIMARY KEY,
		from_location    TEXT NOT NULL,
		to_location      TEXT NOT NULL,
		one_way_price    TEXT NOT NULL DEFAULT '0',
		round_trip_price TEXT NOT NULL DEFAULT '0',
		departure_time   TEXT NOT NULL DEFAULT '',
		arrival_time     TEXT NOT NULL DEFAULT '',
		UNIQUE(from_location, to_location)
	);

	CREATE TABLE IF NOT EXISTS fee_policies (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		category      TEXT NOT NULL,
		hours_trigger REAL,
		condition     TEXT NOT NULL DEFAULT '',
		fee           TEXT NOT NULL DEFAULT '0'
	);
	CREATE INDEX IF NOT EXISTS idx_fee_policies_category ON fee_policies(category);

	CREATE TABLE IF NOT EXISTS audit_log (
		id           TEXT PRIMARY KEY,
		at           TIMESTAMP NOT NULL,
		actor        TEXT NOT NULL DEFAULT '',
		action       TEXT NOT NULL,
		applicant_id TEXT NOT NULL DEFAULT '',
		reference_id TEXT NOT NULL DEFAULT '',
		detail       TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_audit_applicant ON audit_log(applicant_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// =============================================================================
// APPLICANTS
// =============================================================================

const applicantColumns = `id, code, full_name, phone, total_amount, amount_paid,
	discount, remaining_balance, trip_type, from_location, exam_date, exam_time,
	exam_location, status, created_at, updated_at`

func (qs *queries) CreateApplicant(ctx context.Context, a *ledger.Applicant) error {
	_, err := qs.q.ExecContext(ctx, `
		INSERT INTO applicants (`+applicantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Code, a.FullName, a.Phone,
		a.TotalAmount.String(), a.AmountPaid.String(),
		a.Discount.String(), a.RemainingBalance.String(),
		string(a.TripType), a.FromLocation, nullTime(a.ExamDate), a.ExamTime,
		a.ExamLocation, string(a.Status), a.CreatedAt, a.UpdatedAt)
	return err
}

func (qs *queries) GetApplicant(ctx context.Context, id string) (*ledger.Applicant, error) {
	row := qs.q.QueryRowContext(ctx,
		`SELECT `+applicantColumns+` FROM applicants WHERE id = ?`, id)
	return scanApplicant(row)
}

func (qs *queries) GetApplicantByCode(ctx context.Context, code string) (*ledger.Applicant, error) {
	row := qs.q.QueryRowContext(ctx,
		`SELECT `+applicantColumns+` FROM applicants WHERE code = ?`, code)
	return scanApplicant(row)
}

func (qs *queries) UpdateApplicant(ctx context.Context, a *ledger.Applicant) error {
	res, err := qs.q.ExecContext(ctx, `
		UPDATE applicants SET full_name = ?, phone = ?, total_amount = ?, amount_paid = ?,
			discount = ?, remaining_balance = ?, trip_type = ?, from_location = ?,
			exam_date = ?, exam_time = ?, exam_location = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		a.FullName, a.Phone, a.TotalAmount.String(), a.AmountPaid.String(),
		a.Discount.String(), a.RemainingBalance.String(), string(a.TripType), a.FromLocation,
		nullTime(a.ExamDate), a.ExamTime, a.ExamLocation, string(a.Status), a.UpdatedAt,
		a.ID)
	if err != nil {
		return err
	}
	return requireRow(res, ledger.ErrApplicantNotFound)
}

func (qs *queries) ListApplicants(ctx context.Context) ([]ledger.Applicant, error) {
	rows, err := qs.q.QueryContext(ctx,
		`SELECT `+applicantColumns+` FROM applicants ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Applicant
	for rows.Next() {
		a, err := scanApplicant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (qs *queries) ApplicantCodeExists(ctx context.Context, code string) (bool, error) {
	var n int
	err := qs.q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM applicants WHERE code = ?`, code).Scan(&n)
	return n > 0, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplicant(row rowScanner) (*ledger.Applicant, error) {
	var (
		a                                ledger.Applicant
		total, paid, discount, remaining string
		tripType, status                 string
		examDate                         sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Code, &a.FullName, &a.Phone, &total, &paid,
		&discount, &remaining, &tripType, &a.FromLocation, &examDate, &a.ExamTime,
		&a.ExamLocation, &status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrApplicantNotFound
	}
	if err != nil {
		return nil, err
	}
	a.TotalAmount = pricing.MustParseMoney(total)
	a.AmountPaid = pricing.MustParseMoney(paid)
	a.Discount = pricing.MustParseMoney(discount)
	a.RemainingBalance = pricing.MustParseMoney(remaining)
	a.TripType = pricing.TripType(tripType)
	a.Status = ledger.ApplicantStatus(status)
	if examDate.Valid {
		t := examDate.Time
		a.ExamDate = &t
	}
	return &a, nil
}

// =============================================================================
// VOUCHERS
// =============================================================================

const voucherColumns = `id, code, category, kind, discount_percent, balance, scope,
	max_uses, usage_count, expires_at, is_used, applicant_id, location, version, created_at`

func (qs *queries) CreateVoucher(ctx context.Context, v *pricing.Voucher) error {
	_, err := qs.q.ExecContext(ctx, `
		INSERT INTO vouchers (`+voucherColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Code, string(v.Category), string(v.Kind),
		v.DiscountPercent.String(), v.Balance.String(), string(v.Scope),
		v.MaxUses, v.UsageCount, nullTime(v.ExpiresAt), boolInt(v.IsUsed),
		v.ApplicantID, v.Location, v.Version, v.CreatedAt)
	return err
}

func (qs *queries) GetVoucher(ctx context.Context, id string) (*pricing.Voucher, error) {
	row := qs.q.QueryRowContext(ctx,
		`SELECT `+voucherColumns+` FROM vouchers WHERE id = ?`, id)
	return scanVoucher(row)
}

func (qs *queries) FindPromoByCode(ctx context.Context, code string) (*pricing.Voucher, error) {
	// Default BINARY collation keeps the match case-sensitive, which promo
	// codes require.
	row := qs.q.QueryRowContext(ctx,
		`SELECT `+voucherColumns+` FROM vouchers WHERE category = ? AND code = ?`,
		string(pricing.VoucherPublic), code)
	return scanVoucher(row)
}

func (qs *queries) ListVouchersByApplicant(ctx context.Context, applicantID string) ([]pricing.Voucher, error) {
	return qs.selectVouchers(ctx,
		`SELECT `+voucherColumns+` FROM vouchers WHERE applicant_id = ? ORDER BY created_at, id`,
		applicantID)
}

func (qs *queries) ListVouchers(ctx context.Context) ([]pricing.Voucher, error) {
	return qs.selectVouchers(ctx,
		`SELECT `+voucherColumns+` FROM vouchers ORDER BY created_at, id`)
}

func (qs *queries) selectVouchers(ctx context.Context, query string, args ...any) ([]pricing.Voucher, error) {
	rows, err := qs.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pricing.Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// ConsumeVoucher is the concurrency-sensitive conditional update. The WHERE
// clause re-checks version, cap and used flag so a lost race affects zero
// rows instead of over-redeeming.
func (qs *queries) ConsumeVoucher(ctx context.Context, id string, expectedVersion int, markUsed bool) error {
	res, err := qs.q.ExecContext(ctx, `
		UPDATE vouchers
		SET usage_count = usage_count + 1,
		    is_used = CASE WHEN ? THEN 1 ELSE is_used END,
		    version = version + 1
		WHERE id = ? AND version = ?
		  AND (max_uses = 0 OR usage_count < max_uses)
		  AND NOT (? AND is_used = 1)`,
		boolInt(markUsed), id, expectedVersion, boolInt(markUsed))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing voucher from a lost race.
		if _, getErr := qs.GetVoucher(ctx, id); errors.Is(getErr, ledger.ErrVoucherNotFound) {
			return ledger.ErrVoucherNotFound
		}
		return ledger.ErrConcurrentVoucherRedemption
	}
	return nil
}

func scanVoucher(row rowScanner) (*pricing.Voucher, error) {
	var (
		v                pricing.Voucher
		category, kind   string
		percent, balance string
		scope            string
		expiresAt        sql.NullTime
		isUsed           int
	)
	err := row.Scan(&v.ID, &v.Code, &category, &kind, &percent, &balance, &scope,
		&v.MaxUses, &v.UsageCount, &expiresAt, &isUsed, &v.ApplicantID, &v.Location,
		&v.Version, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrVoucherNotFound
	}
	if err != nil {
		return nil, err
	}
	v.Category = pricing.VoucherCategory(category)
	v.Kind = pricing.VoucherKind(kind)
	v.DiscountPercent = pricing.MustParseMoney(percent).Value
	v.Balance = pricing.MustParseMoney(balance)
	v.Scope = pricing.ServiceScope(scope)
	v.IsUsed = isUsed != 0
	if expiresAt.Valid {
		t := expiresAt.Time
		v.ExpiresAt = &t
	}
	return &v, nil
}

// =============================================================================
// TICKETS
// =============================================================================

const ticketColumns = `id, applicant_id, from_location, to_location, trip_type,
	departure_date, departure_time, fare_at_issue, status, created_at, updated_at`

func (qs *queries) CreateTicket(ctx context.Context, t *ledger.Ticket) error {
	_, err := qs.q.ExecContext(ctx, `
		INSERT INTO tickets (`+ticketColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ApplicantID, t.From, t.To, string(t.TripType),
		t.DepartureDate, t.DepartureTime, t.FareAtIssue.String(), string(t.Status),
		t.CreatedAt, t.UpdatedAt)
	return err
}

func (qs *queries) GetTicket(ctx context.Context, id string) (*ledger.Ticket, error) {
	row := qs.q.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	return scanTicket(row)
}

func (qs *queries) UpdateTicket(ctx context.Context, t *ledger.Ticket) error {
	res, err := qs.q.ExecContext(ctx, `
		UPDATE tickets SET from_location = ?, to_location = ?, trip_type = ?,
			departure_date = ?, departure_time = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		t.From, t.To, string(t.TripType), t.DepartureDate, t.DepartureTime,
		string(t.Status), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	return requireRow(res, ledger.ErrTicketNotFound)
}

func (qs *queries) ListTicketsByApplicant(ctx context.Context, applicantID string) ([]ledger.Ticket, error) {
	rows, err := qs.q.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE applicant_id = ? ORDER BY created_at`,
		applicantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTicket(row rowScanner) (*ledger.Ticket, error) {
	var (
		t                ledger.Ticket
		tripType, status string
		fare             string
	)
	err := row.Scan(&t.ID, &t.ApplicantID, &t.From, &t.To, &tripType,
		&t.DepartureDate, &t.DepartureTime, &fare, &status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	t.TripType = pricing.TripType(tripType)
	t.Status = ledger.TicketStatus(status)
	t.FareAtIssue = pricing.MustParseMoney(fare)
	return &t, nil
}

// =============================================================================
// TRANSACTIONS (append-only: no UPDATE or DELETE exists)
// =============================================================================

func (qs *queries) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	_, err := qs.q.ExecContext(ctx, `
		INSERT INTO transactions (id, applicant_id, location, type, amount, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.ApplicantID, tx.Location, string(tx.Type), tx.Amount.String(),
		tx.Note, tx.CreatedAt)
	return err
}

func (qs *queries) ListTransactionsByApplicant(ctx context.Context, applicantID string) ([]ledger.Transaction, error) {
	return qs.selectTransactions(ctx, `
		SELECT id, applicant_id, location, type, amount, note, created_at
		FROM transactions WHERE applicant_id = ? ORDER BY created_at`, applicantID)
}

func (qs *queries) ListTransactions(ctx context.Context, from, to time.Time) ([]ledger.Transaction, error) {
	return qs.selectTransactions(ctx, `
		SELECT id, applicant_id, location, type, amount, note, created_at
		FROM transactions WHERE created_at >= ? AND created_at <= ? ORDER BY created_at`,
		from, to)
}

func (qs *queries) selectTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := qs.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		var (
			tx     ledger.Transaction
			txType string
			amount string
		)
		if err := rows.Scan(&tx.ID, &tx.ApplicantID, &tx.Location, &txType,
			&amount, &tx.Note, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Type = ledger.TransactionType(txType)
		tx.Amount = pricing.MustParseMoney(amount)
		out = append(out, tx)
	}
	return out, rows.Err()
}

// =============================================================================
// ROUTES
// =============================================================================

func (qs *queries) CreateRoute(ctx context.Context, r *pricing.Route) error {
	_, err := qs.q.ExecContext(ctx, `
		INSERT INTO routes (id, from_location, to_location, one_way_price,
			round_trip_price, departure_time, arrival_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.From, r.To, r.OneWayPrice.String(), r.RoundTripPrice.String(),
		r.DepartureTime, r.ArrivalTime)
	return err
}

func (qs *queries) GetRoute(ctx context.Context, from, to string) (*pricing.Route, error) {
	row := qs.q.QueryRowContext(ctx, `
		SELECT id, from_location, to_location, one_way_price, round_trip_price,
			departure_time, arrival_time
		FROM routes WHERE from_location = ? AND to_location = ?`, from, to)

	var (
		r                 pricing.Route
		oneWay, roundTrip string
	)
	err := row.Scan(&r.ID, &r.From, &r.To, &oneWay, &roundTrip,
		&r.DepartureTime, &r.ArrivalTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrRouteNotFound
	}
	if err != nil {
		return nil, err
	}
	r.OneWayPrice = pricing.MustParseMoney(oneWay)
	r.RoundTripPrice = pricing.MustParseMoney(roundTrip)
	return &r, nil
}

func (qs *queries) ListRoutes(ctx context.Context) ([]pricing.Route, error) {
	rows, err := qs.q.QueryContext(ctx, `
		SELECT id, from_location, to_location, one_way_price, round_trip_price,
			departure_time, arrival_time
		FROM routes ORDER BY from_location, to_location`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pricing.Route
	for rows.Next() {
		var (
			r                 pricing.Route
			oneWay, roundTrip string
		)
		if err := rows.Scan(&r.ID, &r.From, &r.To, &oneWay, &roundTrip,
			&r.DepartureTime, &r.ArrivalTime); err != nil {
			return nil, err
		}
		r.OneWayPrice = pricing.MustParseMoney(oneWay)
		r.RoundTripPrice = pricing.MustParseMoney(roundTrip)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// FEE POLICIES
// =============================================================================

func (qs *queries) CreateFeePolicy(ctx context.Context, p *pricing.FeePolicy) error {
	var trigger any
	if p.HoursTrigger != nil {
		trigger = *p.HoursTrigger
	}
	_, err := qs.q.ExecContext(ctx, `
		INSERT INTO fee_policies (id, name, category, hours_trigger, condition, fee)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, string(p.Category), trigger, string(p.Condition), p.Fee.String())
	return err
}

func (qs *queries) ListFeePolicies(ctx context.Context) ([]pricing.FeePolicy, error) {
	return qs.selectPolicies(ctx, `
		SELECT id, name, category, hours_trigger, condition, fee
		FROM fee_policies ORDER BY category, hours_trigger`)
}

func (qs *queries) ListFeePoliciesByCategory(ctx context.Context, category pricing.PolicyCategory) ([]pricing.FeePolicy, error) {
	return qs.selectPolicies(ctx, `
		SELECT id, name, category, hours_trigger, condition, fee
		FROM fee_policies WHERE category = ? ORDER BY hours_trigger`, string(category))
}

func (qs *queries) selectPolicies(ctx context.Context, query string, args ...any) ([]pricing.FeePolicy, error) {
	rows, err := qs.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pricing.FeePolicy
	for rows.Next() {
		var (
			p        pricing.FeePolicy
			category string
			cond     string
			trigger  sql.NullFloat64
			fee      string
		)
		if err := rows.Scan(&p.ID, &p.Name, &category, &trigger, &cond, &fee); err != nil {
			return nil, err
		}
		p.Category = pricing.PolicyCategory(category)
		p.Condition = pricing.FeeCondition(cond)
		p.Fee = pricing.MustParseMoney(fee)
		if trigger.Valid {
			t := trigger.Float64
			p.HoursTrigger = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// AUDIT (append-only)
// =============================================================================

func (qs *queries) AppendAudit(ctx context.Context, e ledger.AuditEntry) error {
	_, err := qs.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, actor, action, applicant_id, reference_id, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.At, e.Actor, string(e.Action), e.ApplicantID, e.ReferenceID, e.Detail)
	return err
}

func (qs *queries) ListAuditByApplicant(ctx context.Context, applicantID string) ([]ledger.AuditEntry, error) {
	rows, err := qs.q.QueryContext(ctx, `
		SELECT id, at, actor, action, applicant_id, reference_id, detail
		FROM audit_log WHERE applicant_id = ? ORDER BY at`, applicantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.AuditEntry
	for rows.Next() {
		var (
			e      ledger.AuditEntry
			action string
		)
		if err := rows.Scan(&e.ID, &e.At, &e.Actor, &action, &e.ApplicantID,
			&e.ReferenceID, &e.Detail); err != nil {
			return nil, err
		}
		e.Action = ledger.AuditAction(action)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
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

// Compile-time interface checks.
var (
	_ ledger.TxStore = (*Store)(nil)
	_ ledger.Store   = (*queries)(nil)
)
