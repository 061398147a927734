/*
Package sqlite provides the SQLite-backed implementation of every
persistence interface: booking stores, tournament stores, the ledger,
and the static reference data.

INTERFACES IMPLEMENTED:
  booking.AppointmentStore / CancelRecordStore / CoachChangeStore
    (via facet accessors, the per-entity interfaces share method names)
  booking.RelationshipStore, booking.CoachDirectory, booking.TableInventory
  tournament.Store
  ledger.Ledger (via the Ledger() facet)

CAS ENFORCEMENT:
  Mutable state machines (appointments, matches) carry a version
  column; updates run `... WHERE id = ? AND version = ?` and report
  ConcurrencyConflict when no row matches. Appointment inserts re-check
  table overlap inside the write transaction.

CONCURRENCY:
  Uses sync.Mutex to serialize writers. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/coaching.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - store/memory: the in-memory twin used by tests
  - booking/store.go, tournament/store.go: interface definitions
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/paddlepoint/coaching-engine/booking"
	"github.com/paddlepoint/coaching-engine/core"
	"github.com/paddlepoint/coaching-engine/ledger"
	"github.com/paddlepoint/coaching-engine/tournament"
)

// timeFormat is fixed-width and always UTC. The schema stores
// timestamps as TEXT and the overlap and due queries compare them with
// SQL's lexicographic < and >=, which only matches time order when
// every value has the same width and zone. RFC3339Nano would break
// both: it keeps the writer's zone offset and trims trailing zeros.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func fmtTime(t time.Time) string { return t.UTC().Format(timeFormat) }

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a store at dbPath (":memory:" for in-memory) and runs
// the schema migration.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		coach_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		school_id TEXT NOT NULL,
		table_id TEXT NOT NULL,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		status TEXT NOT NULL,
		fee TEXT NOT NULL,
		payment_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_appointments_table
		ON appointments(table_id, status);
	CREATE INDEX IF NOT EXISTS idx_appointments_status_end
		ON appointments(status, end_at);

	CREATE TABLE IF NOT EXISTS cancel_records (
		id TEXT PRIMARY KEY,
		appointment_id TEXT NOT NULL,
		initiator_id TEXT NOT NULL,
		initiator_role TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		decided_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_cancel_records_appointment
		ON cancel_records(appointment_id, status);
	CREATE INDEX IF NOT EXISTS idx_cancel_records_initiator
		ON cancel_records(initiator_id, initiator_role, created_at);

	CREATE TABLE IF NOT EXISTS coach_changes (
		id TEXT PRIMARY KEY,
		appointment_id TEXT NOT NULL,
		from_coach_id TEXT NOT NULL,
		to_coach_id TEXT NOT NULL,
		vote_from INTEGER,
		vote_to INTEGER,
		vote_admin INTEGER,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS coaches (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		level TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS relationships (
		coach_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		confirmed INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (coach_id, student_id)
	);

	CREATE TABLE IF NOT EXISTS school_tables (
		school_id TEXT NOT NULL,
		table_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (school_id, table_id)
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		balance TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		reference TEXT NOT NULL,
		refunded INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS matches (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		school_id TEXT NOT NULL,
		start_at TEXT NOT NULL,
		deadline TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (year, month)
	);

	CREATE TABLE IF NOT EXISTS match_registrations (
		id TEXT PRIMARY KEY,
		match_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		division TEXT NOT NULL,
		paid INTEGER NOT NULL,
		payment_id TEXT NOT NULL,
		registered_at TEXT NOT NULL,
		UNIQUE (match_id, student_id)
	);

	CREATE TABLE IF NOT EXISTS match_groups (
		id TEXT PRIMARY KEY,
		match_id TEXT NOT NULL,
		division TEXT NOT NULL,
		number INTEGER NOT NULL,
		size INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_match_groups_match ON match_groups(match_id);

	CREATE TABLE IF NOT EXISTS match_schedules (
		id TEXT PRIMARY KEY,
		match_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		round INTEGER NOT NULL,
		player1 TEXT NOT NULL,
		player2 TEXT,
		table_id TEXT,
		start_at TEXT NOT NULL,
		result TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_match_schedules_match ON match_schedules(match_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// REFERENCE DATA (seeding + reads)
// =============================================================================

// UpsertCoach writes a coach profile.
func (s *Store) UpsertCoach(ctx context.Context, c booking.Coach) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO coaches (id, school_id, level) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET school_id = excluded.school_id, level = excluded.level`,
		c.ID, c.SchoolID, c.Level)
	return err
}

// ConfirmRelationship marks the mutual coach-student relationship.
func (s *Store) ConfirmRelationship(ctx context.Context, coachID, studentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO relationships (coach_id, student_id, confirmed) VALUES (?, ?, 1)
		 ON CONFLICT(coach_id, student_id) DO UPDATE SET confirmed = 1`,
		coachID, studentID)
	return err
}

// SetTables replaces a school's table pool, preserving order.
func (s *Store) SetTables(ctx context.Context, schoolID string, tableIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM school_tables WHERE school_id = ?`, schoolID); err != nil {
		return err
	}
	for i, id := range tableIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO school_tables (school_id, table_id, position) VALUES (?, ?, ?)`,
			schoolID, id, i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Coach(ctx context.Context, id string) (*booking.Coach, error) {
	var c booking.Coach
	err := s.db.QueryRowContext(ctx,
		`SELECT id, school_id, level FROM coaches WHERE id = ?`, id).
		Scan(&c.ID, &c.SchoolID, &c.Level)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: coach %s", core.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) Confirmed(ctx context.Context, coachID, studentID string) (bool, error) {
	var confirmed bool
	err := s.db.QueryRowContext(ctx,
		`SELECT confirmed FROM relationships WHERE coach_id = ? AND student_id = ?`,
		coachID, studentID).Scan(&confirmed)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return confirmed, nil
}

func (s *Store) TablesOfSchool(ctx context.Context, schoolID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT table_id FROM school_tables WHERE school_id = ? ORDER BY position`, schoolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		tables = append(tables, id)
	}
	return tables, rows.Err()
}

// =============================================================================
// FACETS
// =============================================================================

func (s *Store) Appointments() booking.AppointmentStore   { return apptFacet{s} }
func (s *Store) CancelRecords() booking.CancelRecordStore { return cancelFacet{s} }
func (s *Store) CoachChanges() booking.CoachChangeStore   { return changeFacet{s} }

// =============================================================================
// APPOINTMENTS
// =============================================================================

type apptFacet struct{ s *Store }

const apptColumns = `id, coach_id, student_id, school_id, table_id, start_at, end_at,
	status, fee, payment_id, version, created_at, updated_at`

func scanAppointment(row interface{ Scan(...any) error }) (*booking.Appointment, error) {
	var a booking.Appointment
	var start, end, fee, createdAt, updatedAt string
	if err := row.Scan(&a.ID, &a.CoachID, &a.StudentID, &a.SchoolID, &a.TableID,
		&start, &end, &a.Status, &fee, &a.PaymentID, &a.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if a.Start, err = time.Parse(timeFormat, start); err != nil {
		return nil, err
	}
	if a.End, err = time.Parse(timeFormat, end); err != nil {
		return nil, err
	}
	if a.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (f apptFacet) Insert(ctx context.Context, a *booking.Appointment) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	tx, err := f.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Overlap re-check inside the write transaction: the allocator's
	// earlier scan may have raced another booking.
	var clashing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM appointments
		 WHERE table_id = ? AND status NOT IN (?, ?)
		   AND start_at < ? AND ? < end_at`,
		a.TableID, booking.StatusCancelled, booking.StatusRejected,
		fmtTime(a.End), fmtTime(a.Start)).Scan(&clashing)
	if err != nil {
		return err
	}
	if clashing > 0 {
		return fmt.Errorf("%w: table %s claimed concurrently", core.ErrConcurrencyConflict, a.TableID)
	}

	a.Version = 1
	_, err = tx.ExecContext(ctx,
		`INSERT INTO appointments (`+apptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CoachID, a.StudentID, a.SchoolID, a.TableID,
		fmtTime(a.Start), fmtTime(a.End),
		a.Status, a.Fee.String(), a.PaymentID, a.Version,
		fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt))
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (f apptFacet) Get(ctx context.Context, id string) (*booking.Appointment, error) {
	row := f.s.db.QueryRowContext(ctx,
		`SELECT `+apptColumns+` FROM appointments WHERE id = ?`, id)
	a, err := scanAppointment(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: appointment %s", core.ErrNotFound, id)
	}
	return a, err
}

func (f apptFacet) Update(ctx context.Context, a *booking.Appointment) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	res, err := f.s.db.ExecContext(ctx,
		`UPDATE appointments
		 SET coach_id = ?, status = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		a.CoachID, a.Status, fmtTime(a.UpdatedAt), a.ID, a.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: appointment %s version %d is stale",
			core.ErrConcurrencyConflict, a.ID, a.Version)
	}
	a.Version++
	return nil
}

func (f apptFacet) OverlappingOnTable(ctx context.Context, tableID string, start, end time.Time) ([]booking.Appointment, error) {
	rows, err := f.s.db.QueryContext(ctx,
		`SELECT `+apptColumns+` FROM appointments
		 WHERE table_id = ? AND status NOT IN (?, ?)
		   AND start_at < ? AND ? < end_at`,
		tableID, booking.StatusCancelled, booking.StatusRejected,
		fmtTime(end), fmtTime(start))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (f apptFacet) DueForCompletion(ctx context.Context, asOf time.Time) ([]booking.Appointment, error) {
	rows, err := f.s.db.QueryContext(ctx,
		`SELECT `+apptColumns+` FROM appointments
		 WHERE status = ? AND end_at <= ? ORDER BY id`,
		booking.StatusConfirmed, fmtTime(asOf))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func collectAppointments(rows *sql.Rows) ([]booking.Appointment, error) {
	var result []booking.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

// =============================================================================
// CANCEL RECORDS
// =============================================================================

type cancelFacet struct{ s *Store }

func (f cancelFacet) Insert(ctx context.Context, r *booking.CancelRecord) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var decidedAt any
	if r.DecidedAt != nil {
		decidedAt = fmtTime(*r.DecidedAt)
	}
	_, err := f.s.db.ExecContext(ctx,
		`INSERT INTO cancel_records (id, appointment_id, initiator_id, initiator_role, status, created_at, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AppointmentID, r.InitiatorID, r.InitiatorRole, r.Status,
		fmtTime(r.CreatedAt), decidedAt)
	return err
}

func (f cancelFacet) Get(ctx context.Context, id string) (*booking.CancelRecord, error) {
	row := f.s.db.QueryRowContext(ctx,
		`SELECT id, appointment_id, initiator_id, initiator_role, status, created_at, decided_at
		 FROM cancel_records WHERE id = ?`, id)
	r, err := scanCancelRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: cancel record %s", core.ErrNotFound, id)
	}
	return r, err
}

func (f cancelFacet) Update(ctx context.Context, r *booking.CancelRecord) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var decidedAt any
	if r.DecidedAt != nil {
		decidedAt = fmtTime(*r.DecidedAt)
	}
	_, err := f.s.db.ExecContext(ctx,
		`UPDATE cancel_records SET status = ?, decided_at = ? WHERE id = ?`,
		r.Status, decidedAt, r.ID)
	return err
}

func (f cancelFacet) PendingForAppointment(ctx context.Context, appointmentID string) (*booking.CancelRecord, error) {
	row := f.s.db.QueryRowContext(ctx,
		`SELECT id, appointment_id, initiator_id, initiator_role, status, created_at, decided_at
		 FROM cancel_records WHERE appointment_id = ? AND status = ?`,
		appointmentID, booking.CancelPending)
	r, err := scanCancelRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func (f cancelFacet) CountInWindow(ctx context.Context, userID string, role booking.Role, from, to time.Time) (int, error) {
	var count int
	err := f.s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cancel_records
		 WHERE initiator_id = ? AND initiator_role = ? AND status IN (?, ?)
		   AND created_at >= ? AND created_at < ?`,
		userID, role, booking.CancelPending, booking.CancelApproved,
		fmtTime(from), fmtTime(to)).Scan(&count)
	return count, err
}

func scanCancelRecord(row interface{ Scan(...any) error }) (*booking.CancelRecord, error) {
	var r booking.CancelRecord
	var createdAt string
	var decidedAt sql.NullString
	if err := row.Scan(&r.ID, &r.AppointmentID, &r.InitiatorID, &r.InitiatorRole,
		&r.Status, &createdAt, &decidedAt); err != nil {
		return nil, err
	}
	var err error
	if r.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, err
	}
	if decidedAt.Valid {
		t, err := time.Parse(timeFormat, decidedAt.String)
		if err != nil {
			return nil, err
		}
		r.DecidedAt = &t
	}
	return &r, nil
}

// =============================================================================
// COACH CHANGES
// =============================================================================

type changeFacet struct{ s *Store }

func voteToDB(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}

func voteFromDB(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}

func (f changeFacet) Insert(ctx context.Context, r *booking.CoachChangeRequest) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	_, err := f.s.db.ExecContext(ctx,
		`INSERT INTO coach_changes (id, appointment_id, from_coach_id, to_coach_id,
		    vote_from, vote_to, vote_admin, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AppointmentID, r.FromCoachID, r.ToCoachID,
		voteToDB(r.Votes.FromCoach), voteToDB(r.Votes.ToCoach), voteToDB(r.Votes.Admin),
		r.Status, fmtTime(r.CreatedAt), fmtTime(r.UpdatedAt))
	return err
}

func (f changeFacet) Get(ctx context.Context, id string) (*booking.CoachChangeRequest, error) {
	var r booking.CoachChangeRequest
	var voteFrom, voteTo, voteAdmin sql.NullBool
	var createdAt, updatedAt string
	err := f.s.db.QueryRowContext(ctx,
		`SELECT id, appointment_id, from_coach_id, to_coach_id,
		    vote_from, vote_to, vote_admin, status, created_at, updated_at
		 FROM coach_changes WHERE id = ?`, id).
		Scan(&r.ID, &r.AppointmentID, &r.FromCoachID, &r.ToCoachID,
			&voteFrom, &voteTo, &voteAdmin, &r.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: coach change %s", core.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	r.Votes.FromCoach = voteFromDB(voteFrom)
	r.Votes.ToCoach = voteFromDB(voteTo)
	r.Votes.Admin = voteFromDB(voteAdmin)
	if r.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (f changeFacet) Update(ctx context.Context, r *booking.CoachChangeRequest) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	_, err := f.s.db.ExecContext(ctx,
		`UPDATE coach_changes
		 SET vote_from = ?, vote_to = ?, vote_admin = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		voteToDB(r.Votes.FromCoach), voteToDB(r.Votes.ToCoach), voteToDB(r.Votes.Admin),
		r.Status, fmtTime(r.UpdatedAt), r.ID)
	return err
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger returns the ledger view over the same database.
func (s *Store) Ledger() ledger.Ledger { return ledgerFacet{s} }

type ledgerFacet struct{ s *Store }

func (f ledgerFacet) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var balance string
	err := f.s.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE id = ?`, accountID).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(balance)
}

func (f ledgerFacet) Credit(ctx context.Context, accountID string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative credit %s", core.ErrValidation, amount)
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	tx, err := f.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := creditInTx(ctx, tx, accountID, amount); err != nil {
		return err
	}
	return tx.Commit()
}

func creditInTx(ctx context.Context, tx *sql.Tx, accountID string, amount decimal.Decimal) error {
	var balance string
	err := tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = ?`, accountID).Scan(&balance)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO accounts (id, balance) VALUES (?, ?)`, accountID, amount.String())
		return err
	case err != nil:
		return err
	}
	current, err := decimal.NewFromString(balance)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET balance = ? WHERE id = ?`, current.Add(amount).String(), accountID)
	return err
}

func (f ledgerFacet) Debit(ctx context.Context, accountID string, amount decimal.Decimal, reference string) (*ledger.Payment, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative debit %s", core.ErrValidation, amount)
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	tx, err := f.s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var stored string
	balance := decimal.Zero
	err = tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = ?`, accountID).Scan(&stored)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if err == nil {
		if balance, err = decimal.NewFromString(stored); err != nil {
			return nil, err
		}
	}

	if balance.LessThan(amount) {
		return nil, &core.InsufficientFundsError{
			AccountID: accountID, Available: balance, Requested: amount,
		}
	}

	p := &ledger.Payment{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Amount:    amount,
		Reference: reference,
		CreatedAt: time.Now(),
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = ? WHERE id = ?`,
		balance.Sub(amount).String(), accountID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO payments (id, account_id, amount, reference, refunded, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		p.ID, p.AccountID, p.Amount.String(), p.Reference, fmtTime(p.CreatedAt)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return p, nil
}

func (f ledgerFacet) Refund(ctx context.Context, paymentID string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	tx, err := f.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var accountID, amount string
	var refunded bool
	err = tx.QueryRowContext(ctx,
		`SELECT account_id, amount, refunded FROM payments WHERE id = ?`, paymentID).
		Scan(&accountID, &amount, &refunded)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: payment %s", core.ErrNotFound, paymentID)
	}
	if err != nil {
		return err
	}
	if refunded {
		return &core.RefundError{PaymentID: paymentID, Cause: fmt.Errorf("already refunded")}
	}

	value, err := decimal.NewFromString(amount)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE payments SET refunded = 1 WHERE id = ?`, paymentID); err != nil {
		return err
	}
	if err := creditInTx(ctx, tx, accountID, value); err != nil {
		return err
	}
	return tx.Commit()
}

func (f ledgerFacet) Payment(ctx context.Context, paymentID string) (*ledger.Payment, error) {
	var p ledger.Payment
	var amount, createdAt string
	err := f.s.db.QueryRowContext(ctx,
		`SELECT id, account_id, amount, reference, refunded, created_at FROM payments WHERE id = ?`,
		paymentID).Scan(&p.ID, &p.AccountID, &amount, &p.Reference, &p.Refunded, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: payment %s", core.ErrNotFound, paymentID)
	}
	if err != nil {
		return nil, err
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// =============================================================================
// MATCHES
// =============================================================================

const matchColumns = `id, title, school_id, start_at, deadline, year, month, status, version, created_at, updated_at`

func scanMatch(row interface{ Scan(...any) error }) (*tournament.MonthlyMatch, error) {
	var m tournament.MonthlyMatch
	var start, deadline, createdAt, updatedAt string
	var month int
	if err := row.Scan(&m.ID, &m.Title, &m.SchoolID, &start, &deadline,
		&m.Year, &month, &m.Status, &m.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	m.Month = time.Month(month)
	var err error
	if m.StartAt, err = time.Parse(timeFormat, start); err != nil {
		return nil, err
	}
	if m.Deadline, err = time.Parse(timeFormat, deadline); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) InsertMatch(ctx context.Context, m *tournament.MonthlyMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.Version = 1
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO matches (`+matchColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Title, m.SchoolID, fmtTime(m.StartAt), fmtTime(m.Deadline),
		m.Year, int(m.Month), m.Status, m.Version,
		fmtTime(m.CreatedAt), fmtTime(m.UpdatedAt))
	return err
}

func (s *Store) GetMatch(ctx context.Context, id string) (*tournament.MonthlyMatch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, id)
	m, err := scanMatch(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: match %s", core.ErrNotFound, id)
	}
	return m, err
}

func (s *Store) GetMatchByMonth(ctx context.Context, year int, month time.Month) (*tournament.MonthlyMatch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE year = ? AND month = ?`, year, int(month))
	m, err := scanMatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s *Store) UpdateMatch(ctx context.Context, m *tournament.MonthlyMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE matches
		 SET title = ?, start_at = ?, deadline = ?, status = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		m.Title, fmtTime(m.StartAt), fmtTime(m.Deadline),
		m.Status, fmtTime(m.UpdatedAt), m.ID, m.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: match %s version %d is stale", core.ErrConcurrencyConflict, m.ID, m.Version)
	}
	m.Version++
	return nil
}

func (s *Store) ListActiveMatches(ctx context.Context) ([]tournament.MonthlyMatch, error) {
	return s.listMatches(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE status != ? ORDER BY start_at`,
		tournament.MatchCompleted)
}

func (s *Store) ListMatches(ctx context.Context) ([]tournament.MonthlyMatch, error) {
	return s.listMatches(ctx, `SELECT `+matchColumns+` FROM matches ORDER BY start_at DESC`)
}

func (s *Store) listMatches(ctx context.Context, query string, args ...any) ([]tournament.MonthlyMatch, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []tournament.MonthlyMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}
	return result, rows.Err()
}

// =============================================================================
// REGISTRATIONS + BRACKET
// =============================================================================

func (s *Store) InsertRegistration(ctx context.Context, r *tournament.MatchRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM match_registrations WHERE match_id = ? AND student_id = ?`,
		r.MatchID, r.StudentID).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("%w: student %s already registered for match %s",
			core.ErrStateConflict, r.StudentID, r.MatchID)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO match_registrations (id, match_id, student_id, division, paid, payment_id, registered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.MatchID, r.StudentID, r.Division, r.Paid, r.PaymentID,
		fmtTime(r.RegisteredAt))
	return err
}

func (s *Store) RegistrationsByMatch(ctx context.Context, matchID string) ([]tournament.MatchRegistration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, match_id, student_id, division, paid, payment_id, registered_at
		 FROM match_registrations WHERE match_id = ? ORDER BY registered_at`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []tournament.MatchRegistration
	for rows.Next() {
		var r tournament.MatchRegistration
		var registeredAt string
		if err := rows.Scan(&r.ID, &r.MatchID, &r.StudentID, &r.Division,
			&r.Paid, &r.PaymentID, &registeredAt); err != nil {
			return nil, err
		}
		if r.RegisteredAt, err = time.Parse(timeFormat, registeredAt); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *Store) HasRegistration(ctx context.Context, matchID, studentID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM match_registrations WHERE match_id = ? AND student_id = ?`,
		matchID, studentID).Scan(&count)
	return count > 0, err
}

func (s *Store) InsertBracket(ctx context.Context, groups []tournament.MatchGroup, schedules []tournament.MatchSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, g := range groups {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO match_groups (id, match_id, division, number, size) VALUES (?, ?, ?, ?, ?)`,
			g.ID, g.MatchID, g.Division, g.Number, g.Size); err != nil {
			return err
		}
	}
	for _, sc := range schedules {
		var player2, tableID any
		if sc.Player2 != "" {
			player2 = sc.Player2
		}
		if sc.TableID != "" {
			tableID = sc.TableID
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO match_schedules (id, match_id, group_id, round, player1, player2, table_id, start_at, result)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sc.ID, sc.MatchID, sc.GroupID, sc.Round, sc.Player1, player2, tableID,
			fmtTime(sc.StartAt), sc.Result); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GroupsByMatch(ctx context.Context, matchID string) ([]tournament.MatchGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, match_id, division, number, size FROM match_groups
		 WHERE match_id = ? ORDER BY division, number`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []tournament.MatchGroup
	for rows.Next() {
		var g tournament.MatchGroup
		if err := rows.Scan(&g.ID, &g.MatchID, &g.Division, &g.Number, &g.Size); err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

func (s *Store) SchedulesByMatch(ctx context.Context, matchID string) ([]tournament.MatchSchedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, match_id, group_id, round, player1, player2, table_id, start_at, result
		 FROM match_schedules WHERE match_id = ? ORDER BY group_id, round`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []tournament.MatchSchedule
	for rows.Next() {
		var sc tournament.MatchSchedule
		var player2, tableID sql.NullString
		var startAt string
		if err := rows.Scan(&sc.ID, &sc.MatchID, &sc.GroupID, &sc.Round,
			&sc.Player1, &player2, &tableID, &startAt, &sc.Result); err != nil {
			return nil, err
		}
		sc.Player2 = player2.String
		sc.TableID = tableID.String
		if sc.StartAt, err = time.Parse(timeFormat, startAt); err != nil {
			return nil, err
		}
		result = append(result, sc)
	}
	return result, rows.Err()
}
