/*
store.go - Persistence interfaces for the tournament domain

CAS CONTRACT:
  MonthlyMatch carries a version token; UpdateMatch is compare-and-swap
  like the booking stores. Registrations, groups, and schedules are
  insert-only from this package's point of view (results are reported
  through an out-of-scope interface).
*/
package tournament

import (
	"context"
	"time"
)

type MatchStore interface {
	InsertMatch(ctx context.Context, m *MonthlyMatch) error

	// GetMatch returns a match by id, or core.ErrNotFound.
	GetMatch(ctx context.Context, id string) (*MonthlyMatch, error)

	// GetMatchByMonth returns the match for (year, month), or nil.
	GetMatchByMonth(ctx context.Context, year int, month time.Month) (*MonthlyMatch, error)

	// UpdateMatch writes iff the stored version matches m.Version
	// (compare-and-swap); increments m.Version on success, else fails
	// with core.ErrConcurrencyConflict.
	UpdateMatch(ctx context.Context, m *MonthlyMatch) error

	// ListActiveMatches returns matches not yet COMPLETED, in stable order.
	ListActiveMatches(ctx context.Context) ([]MonthlyMatch, error)

	// ListMatches returns all matches, newest first.
	ListMatches(ctx context.Context) ([]MonthlyMatch, error)
}

type RegistrationStore interface {
	// InsertRegistration persists a registration. A duplicate
	// (match, student) pair fails with core.ErrStateConflict.
	InsertRegistration(ctx context.Context, r *MatchRegistration) error

	// RegistrationsByMatch returns all registrations for a match.
	RegistrationsByMatch(ctx context.Context, matchID string) ([]MatchRegistration, error)

	// HasRegistration reports whether the student already registered for
	// the match, in any division.
	HasRegistration(ctx context.Context, matchID, studentID string) (bool, error)
}

type BracketStore interface {
	// InsertBracket atomically persists the generated groups and
	// schedules for one match.
	InsertBracket(ctx context.Context, groups []MatchGroup, schedules []MatchSchedule) error

	// GroupsByMatch returns a match's subgroups.
	GroupsByMatch(ctx context.Context, matchID string) ([]MatchGroup, error)

	// SchedulesByMatch returns a match's generated pairings.
	SchedulesByMatch(ctx context.Context, matchID string) ([]MatchSchedule, error)
}

// Store is the full tournament persistence surface.
type Store interface {
	MatchStore
	RegistrationStore
	BracketStore
}
