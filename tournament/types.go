/*
Package tournament generates and runs the recurring monthly
competition: a time-driven registration window, subgroup partitioning
per division, and round-robin pairing with bye handling.

KEY CONCEPTS IN THIS FILE (types.go):
  - MonthlyMatch: one tournament instance, a five-state machine driven
    by the Sweep against the Clock
  - MatchRegistration: one student's paid entry in one division
  - MatchGroup: a bounded-size subgroup that plays its own bracket
  - MatchSchedule: one generated pairing (player 2 empty = bye)

STATE MACHINE (MonthlyMatch.Status):

  NOT_STARTED ──now ≥ start−window──▶ REGISTERING
       │                                  │
       └───────now ≥ deadline─────────────┤
                                          ▼
                               REGISTRATION_CLOSED   (bracket generated here)
                                          │
                                    now ≥ start
                                          ▼
                                       ONGOING ──now ≥ start+duration──▶ COMPLETED
*/
package tournament

import (
	"time"
)

// =============================================================================
// DIVISIONS
// =============================================================================

// Division is one of the three fixed competitive tiers.
type Division string

const (
	GroupA Division = "GROUP_A"
	GroupB Division = "GROUP_B"
	GroupC Division = "GROUP_C"
)

// Divisions lists the fixed tiers in display order.
func Divisions() []Division { return []Division{GroupA, GroupB, GroupC} }

// Valid reports whether d is one of the fixed divisions.
func (d Division) Valid() bool {
	return d == GroupA || d == GroupB || d == GroupC
}

// =============================================================================
// MONTHLY MATCH
// =============================================================================

type MatchStatus string

const (
	MatchNotStarted         MatchStatus = "NOT_STARTED"
	MatchRegistering        MatchStatus = "REGISTERING"
	MatchRegistrationClosed MatchStatus = "REGISTRATION_CLOSED"
	MatchOngoing            MatchStatus = "ONGOING"
	MatchCompleted          MatchStatus = "COMPLETED"
)

// MonthlyMatch is one tournament instance. Mutated only by the Sweep
// once created; immutable after COMPLETED.
type MonthlyMatch struct {
	ID       string
	Title    string
	SchoolID string // venue whose table pool the bracket draws from
	StartAt  time.Time
	Deadline time.Time // registration closes here, one deadline lead before StartAt
	Year     int
	Month    time.Month
	Status   MatchStatus
	Version  int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// REGISTRATION
// =============================================================================

// MatchRegistration is one student's paid entry. (MatchID, StudentID)
// is unique; the chosen division never changes after creation.
type MatchRegistration struct {
	ID           string
	MatchID      string
	StudentID    string
	Division     Division
	Paid         bool
	PaymentID    string
	RegisteredAt time.Time
}

// =============================================================================
// BRACKET
// =============================================================================

// MatchGroup is one subgroup of same-division registrants. Created once
// during bracket generation, immutable afterward.
type MatchGroup struct {
	ID       string
	MatchID  string
	Division Division
	Number   int // 1-based subgroup number within the division
	Size     int
}

type MatchResult string

const (
	ResultNotStarted MatchResult = "NOT_STARTED"
	ResultPlayer1Win MatchResult = "PLAYER1_WIN"
	ResultPlayer2Win MatchResult = "PLAYER2_WIN"
	ResultDraw       MatchResult = "DRAW"
)

// MatchSchedule is one generated pairing. Player2 empty means Player1
// sits out that round (bye). Result is reported by an external
// interface later; generation always writes NOT_STARTED.
type MatchSchedule struct {
	ID      string
	MatchID string
	GroupID string
	Round   int // 1-based
	Player1 string
	Player2 string
	TableID string
	StartAt time.Time
	Result  MatchResult
}

// Bye reports whether this schedule row is an idle round.
func (s MatchSchedule) Bye() bool { return s.Player2 == "" }
