/*
lifecycle.go - Time-driven tournament state machine

PURPOSE:
  Advances each MonthlyMatch through its registration window based on
  the Clock, handles paid registration, and generates the full bracket
  (partition + round robin) the moment the deadline passes.

TICK RULES (evaluated per match, idempotent):
  NOT_STARTED  + now >= start-window   -> REGISTERING
  NOT_STARTED  + now >= deadline       -> REGISTRATION_CLOSED (+ bracket)
  REGISTERING  + now >= deadline       -> REGISTRATION_CLOSED (+ bracket)
  REG_CLOSED   + now >= start          -> ONGOING
  ONGOING      + now >= start+duration -> COMPLETED

  Registration is open [start-window, deadline]; the deadline sits one
  deadline lead before the start so the bracket is published ahead of
  play.

  Bracket generation runs synchronously inside the closing transition,
  before the status flip, so a failed write keeps the match closeable.
  A failure on one match is logged and retried next tick; it never
  blocks other matches.

SEE ALSO:
  - partition.go, roundrobin.go: the generation algorithms
  - api/sweep.go: the periodic driver calling Tick
*/
package tournament

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paddlepoint/coaching-engine/core"
	"github.com/paddlepoint/coaching-engine/ledger"
)

// Defaults for the lifecycle tunables.
const (
	DefaultRegistrationWindow = 7 * 24 * time.Hour

	// DefaultDeadlineLead is how long before the start registration
	// closes. The gap gives the bracket a full day of visibility.
	DefaultDeadlineLead = 24 * time.Hour

	DefaultMatchDuration = 8 * time.Hour
	defaultStartHour     = 9 // matches start 09:00 local on the default day
	defaultStartDay      = 28
)

// DefaultEntryFee is the fixed tournament entry fee.
var DefaultEntryFee = core.MustMoney("30.00")

// TableSource supplies a school's table pool. booking.TableInventory
// satisfies it.
type TableSource interface {
	TablesOfSchool(ctx context.Context, schoolID string) ([]string, error)
}

// Lifecycle runs the monthly tournament state machine.
type Lifecycle struct {
	Store       Store
	Tables      TableSource
	Ledger      ledger.Ledger
	Clock       core.Clock
	Partitioner *Partitioner
	Log         *slog.Logger

	// SchoolID is the venue hosting the monthly tournament.
	SchoolID string

	// Window is the registration window length; zero means the default.
	Window time.Duration

	// DeadlineLead is the start-to-deadline gap; zero means the default.
	// Must be shorter than Window or the registration interval is empty.
	DeadlineLead time.Duration

	// EntryFee overrides DefaultEntryFee when positive.
	EntryFee decimal.Decimal

	// MatchDuration drives ONGOING -> COMPLETED; zero means the default.
	MatchDuration time.Duration
}

func (lc *Lifecycle) window() time.Duration {
	if lc.Window > 0 {
		return lc.Window
	}
	return DefaultRegistrationWindow
}

func (lc *Lifecycle) deadlineLead() time.Duration {
	if lc.DeadlineLead > 0 {
		return lc.DeadlineLead
	}
	return DefaultDeadlineLead
}

func (lc *Lifecycle) entryFee() decimal.Decimal {
	if lc.EntryFee.IsPositive() {
		return lc.EntryFee
	}
	return DefaultEntryFee
}

func (lc *Lifecycle) matchDuration() time.Duration {
	if lc.MatchDuration > 0 {
		return lc.MatchDuration
	}
	return DefaultMatchDuration
}

// =============================================================================
// MATCH GENERATION
// =============================================================================

// EnsureUpcoming creates next month's MonthlyMatch if it does not exist
// yet. Idempotent: keyed by (year, month).
func (lc *Lifecycle) EnsureUpcoming(ctx context.Context) (*MonthlyMatch, error) {
	now := lc.Clock.Now()
	next := now.AddDate(0, 1, 0)
	year, month := next.Year(), next.Month()

	if existing, err := lc.Store.GetMatchByMonth(ctx, year, month); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	start := time.Date(year, month, defaultStartDay, defaultStartHour, 0, 0, 0, now.Location())
	m := &MonthlyMatch{
		ID:        uuid.NewString(),
		Title:     fmt.Sprintf("%s %d Monthly Tournament", month, year),
		SchoolID:  lc.SchoolID,
		StartAt:   start,
		Deadline:  start.Add(-lc.deadlineLead()),
		Year:      year,
		Month:     month,
		Status:    MatchNotStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := lc.Store.InsertMatch(ctx, m); err != nil {
		return nil, err
	}
	lc.Log.Info("monthly match created", "match_id", m.ID, "title", m.Title, "start_at", m.StartAt)
	return m, nil
}

// UpdateMatchTime reschedules a match. Legal only while NOT_STARTED;
// the deadline is re-derived from the new start.
func (lc *Lifecycle) UpdateMatchTime(ctx context.Context, matchID string, newStart time.Time) (*MonthlyMatch, error) {
	m, err := lc.Store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.Status != MatchNotStarted {
		return nil, &core.StateConflictError{
			Entity: "match", ID: m.ID,
			Current: string(m.Status), Attempted: "update start time",
		}
	}
	if !newStart.After(lc.Clock.Now()) {
		return nil, fmt.Errorf("%w: new start %s is not in the future",
			core.ErrValidation, newStart.Format(time.RFC3339))
	}

	m.StartAt = newStart
	m.Deadline = newStart.Add(-lc.deadlineLead())
	m.UpdatedAt = lc.Clock.Now()
	if err := lc.Store.UpdateMatch(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Register enters a student in one division, debiting the entry fee as
// escrow. The debit and the registration insert are all-or-nothing: a
// failed insert refunds the payment.
func (lc *Lifecycle) Register(ctx context.Context, matchID, studentID string, division Division) (*MatchRegistration, error) {
	if !division.Valid() {
		return nil, fmt.Errorf("%w: unknown division %q", core.ErrValidation, division)
	}

	m, err := lc.Store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}

	now := lc.Clock.Now()
	opens := m.StartAt.Add(-lc.window())
	if now.Before(opens) || now.After(m.Deadline) {
		return nil, fmt.Errorf("%w: registration for %s is open [%s, %s]",
			core.ErrValidation, m.Title,
			opens.Format(time.RFC3339), m.Deadline.Format(time.RFC3339))
	}

	if already, err := lc.Store.HasRegistration(ctx, matchID, studentID); err != nil {
		return nil, err
	} else if already {
		return nil, &core.StateConflictError{
			Entity: "match", ID: matchID,
			Current: "student already registered", Attempted: "register again",
		}
	}

	reg := &MatchRegistration{
		ID:           uuid.NewString(),
		MatchID:      matchID,
		StudentID:    studentID,
		Division:     division,
		RegisteredAt: now,
	}

	payment, err := lc.Ledger.Debit(ctx, studentID, lc.entryFee(), matchID)
	if err != nil {
		return nil, err
	}
	reg.Paid = true
	reg.PaymentID = payment.ID

	if err := lc.Store.InsertRegistration(ctx, reg); err != nil {
		if refundErr := lc.Ledger.Refund(ctx, payment.ID); refundErr != nil {
			return nil, fmt.Errorf("registration insert failed (%v) and compensating refund failed: %w",
				err, &core.RefundError{PaymentID: payment.ID, Cause: refundErr})
		}
		return nil, err
	}
	return reg, nil
}

// RegistrationCounts returns per-division registrant counts for a match.
func (lc *Lifecycle) RegistrationCounts(ctx context.Context, matchID string) (map[Division]int, error) {
	if _, err := lc.Store.GetMatch(ctx, matchID); err != nil {
		return nil, err
	}
	regs, err := lc.Store.RegistrationsByMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	counts := make(map[Division]int, 3)
	for _, d := range Divisions() {
		counts[d] = 0
	}
	for _, r := range regs {
		counts[r.Division]++
	}
	return counts, nil
}

// StudentSchedule returns the generated pairings involving a student.
func (lc *Lifecycle) StudentSchedule(ctx context.Context, matchID, studentID string) ([]MatchSchedule, error) {
	schedules, err := lc.Store.SchedulesByMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	var mine []MatchSchedule
	for _, s := range schedules {
		if s.Player1 == studentID || s.Player2 == studentID {
			mine = append(mine, s)
		}
	}
	return mine, nil
}

// =============================================================================
// SWEEP
// =============================================================================

// Tick advances every active match per the rules in the file header.
// Failures are isolated per match and retried on the next tick.
func (lc *Lifecycle) Tick(ctx context.Context) (transitions int, err error) {
	matches, err := lc.Store.ListActiveMatches(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active matches: %w", err)
	}

	now := lc.Clock.Now()
	for i := range matches {
		m := matches[i]
		moved, err := lc.advance(ctx, &m, now)
		if err != nil {
			if errors.Is(err, core.ErrConcurrencyConflict) {
				continue // another sweep or an admin got there first
			}
			lc.Log.Error("advance match", "match_id", m.ID, "status", m.Status, "error", err)
			continue
		}
		if moved {
			transitions++
		}
	}
	return transitions, nil
}

func (lc *Lifecycle) advance(ctx context.Context, m *MonthlyMatch, now time.Time) (bool, error) {
	opens := m.StartAt.Add(-lc.window())

	switch m.Status {
	case MatchNotStarted:
		if !now.Before(m.Deadline) {
			return true, lc.closeRegistration(ctx, m, now)
		}
		if !now.Before(opens) {
			return true, lc.setStatus(ctx, m, MatchRegistering, now)
		}
	case MatchRegistering:
		if !now.Before(m.Deadline) {
			return true, lc.closeRegistration(ctx, m, now)
		}
	case MatchRegistrationClosed:
		if !now.Before(m.StartAt) {
			return true, lc.setStatus(ctx, m, MatchOngoing, now)
		}
	case MatchOngoing:
		if !now.Before(m.StartAt.Add(lc.matchDuration())) {
			return true, lc.setStatus(ctx, m, MatchCompleted, now)
		}
	}
	return false, nil
}

func (lc *Lifecycle) setStatus(ctx context.Context, m *MonthlyMatch, to MatchStatus, now time.Time) error {
	from := m.Status
	m.Status = to
	m.UpdatedAt = now
	if err := lc.Store.UpdateMatch(ctx, m); err != nil {
		return err
	}
	lc.Log.Info("match transition", "match_id", m.ID, "from", from, "to", to)
	return nil
}

// closeRegistration persists the bracket and then flips the match to
// REGISTRATION_CLOSED. The bracket write goes first: a storage failure
// leaves the match in its prior state and the next tick retries the
// whole close. Generation skips when groups already exist, so a retry
// after a lost CAS race never writes the bracket twice.
func (lc *Lifecycle) closeRegistration(ctx context.Context, m *MonthlyMatch, now time.Time) error {
	if err := lc.generateBracket(ctx, m); err != nil {
		return fmt.Errorf("generate bracket for %s: %w", m.ID, err)
	}
	return lc.setStatus(ctx, m, MatchRegistrationClosed, now)
}

// generateBracket partitions each division's registrants into subgroups
// and writes the full round-robin schedule for every subgroup of 2+.
func (lc *Lifecycle) generateBracket(ctx context.Context, m *MonthlyMatch) error {
	existing, err := lc.Store.GroupsByMatch(ctx, m.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil // a previous close already persisted the bracket
	}

	regs, err := lc.Store.RegistrationsByMatch(ctx, m.ID)
	if err != nil {
		return err
	}

	tables, err := lc.Tables.TablesOfSchool(ctx, m.SchoolID)
	if err != nil {
		return err
	}

	byDivision := make(map[Division][]string)
	for _, r := range regs {
		byDivision[r.Division] = append(byDivision[r.Division], r.StudentID)
	}

	var groups []MatchGroup
	var schedules []MatchSchedule

	for _, division := range Divisions() {
		for number, members := range lc.Partitioner.Partition(byDivision[division]) {
			group := MatchGroup{
				ID:       uuid.NewString(),
				MatchID:  m.ID,
				Division: division,
				Number:   number + 1,
				Size:     len(members),
			}
			groups = append(groups, group)

			for round, pairings := range RoundRobin(members) {
				for _, pairing := range pairings {
					tableID := ""
					if !pairing.Bye() {
						tableID = lc.Partitioner.PickTable(tables)
					}
					schedules = append(schedules, MatchSchedule{
						ID:      uuid.NewString(),
						MatchID: m.ID,
						GroupID: group.ID,
						Round:   round + 1,
						Player1: pairing.A,
						Player2: pairing.B,
						TableID: tableID,
						StartAt: m.StartAt,
						Result:  ResultNotStarted,
					})
				}
			}
		}
	}

	if len(groups) == 0 {
		lc.Log.Info("bracket empty, no registrants", "match_id", m.ID)
		return nil
	}

	if err := lc.Store.InsertBracket(ctx, groups, schedules); err != nil {
		return err
	}
	lc.Log.Info("bracket generated",
		"match_id", m.ID, "groups", len(groups), "schedules", len(schedules))
	return nil
}
