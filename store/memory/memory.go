/*
Package memory provides mutex-guarded in-memory implementations of
every persistence interface, for tests and dev.

CAS SEMANTICS:
  Updates compare the caller's version token against the stored one
  under the write lock; a mismatch fails with ConcurrencyConflict and
  mutates nothing. Appointment inserts re-check table overlap under the
  same lock, so racing bookings cannot both claim a slot.
*/
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/paddlepoint/coaching-engine/booking"
	"github.com/paddlepoint/coaching-engine/core"
	"github.com/paddlepoint/coaching-engine/tournament"
)

// Store implements booking and tournament persistence plus the static
// reference data (coaches, relationships, tables).
type Store struct {
	mu sync.RWMutex

	appointments  map[string]*booking.Appointment
	cancelRecords map[string]*booking.CancelRecord
	coachChanges  map[string]*booking.CoachChangeRequest

	coaches       map[string]booking.Coach
	relationships map[relKey]bool
	tables        map[string][]string // schoolID -> tableIDs, stable order

	matches       map[string]*tournament.MonthlyMatch
	registrations map[string]*tournament.MatchRegistration
	groups        map[string]tournament.MatchGroup
	schedules     map[string]tournament.MatchSchedule
}

type relKey struct {
	CoachID   string
	StudentID string
}

func New() *Store {
	return &Store{
		appointments:  make(map[string]*booking.Appointment),
		cancelRecords: make(map[string]*booking.CancelRecord),
		coachChanges:  make(map[string]*booking.CoachChangeRequest),
		coaches:       make(map[string]booking.Coach),
		relationships: make(map[relKey]bool),
		tables:        make(map[string][]string),
		matches:       make(map[string]*tournament.MonthlyMatch),
		registrations: make(map[string]*tournament.MatchRegistration),
		groups:        make(map[string]tournament.MatchGroup),
		schedules:     make(map[string]tournament.MatchSchedule),
	}
}

// =============================================================================
// SEEDING (reference data)
// =============================================================================

// AddCoach registers a coach profile slice.
func (s *Store) AddCoach(c booking.Coach) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coaches[c.ID] = c
}

// AddRelationship marks a mutual coach-student relationship confirmed.
func (s *Store) AddRelationship(coachID, studentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relationships[relKey{coachID, studentID}] = true
}

// AddTables sets a school's table pool in the given order.
func (s *Store) AddTables(schoolID string, tableIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[schoolID] = append([]string(nil), tableIDs...)
}

// =============================================================================
// REFERENCE READS
// =============================================================================

func (s *Store) Coach(_ context.Context, id string) (*booking.Coach, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.coaches[id]
	if !ok {
		return nil, fmt.Errorf("%w: coach %s", core.ErrNotFound, id)
	}
	cp := c
	return &cp, nil
}

func (s *Store) Confirmed(_ context.Context, coachID, studentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.relationships[relKey{coachID, studentID}], nil
}

func (s *Store) TablesOfSchool(_ context.Context, schoolID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.tables[schoolID]...), nil
}

// =============================================================================
// FACETS - booking's per-entity store interfaces share method names, so
// each is exposed as a view over the same Store.
// =============================================================================

func (s *Store) Appointments() booking.AppointmentStore  { return apptFacet{s} }
func (s *Store) CancelRecords() booking.CancelRecordStore { return cancelFacet{s} }
func (s *Store) CoachChanges() booking.CoachChangeStore   { return changeFacet{s} }

// =============================================================================
// APPOINTMENTS
// =============================================================================

type apptFacet struct{ s *Store }

func (f apptFacet) Insert(ctx context.Context, a *booking.Appointment) error {
	return f.s.insertAppointment(ctx, a)
}
func (f apptFacet) Get(ctx context.Context, id string) (*booking.Appointment, error) {
	return f.s.getAppointment(ctx, id)
}
func (f apptFacet) Update(ctx context.Context, a *booking.Appointment) error {
	return f.s.updateAppointment(ctx, a)
}
func (f apptFacet) OverlappingOnTable(ctx context.Context, tableID string, start, end time.Time) ([]booking.Appointment, error) {
	return f.s.overlappingOnTable(ctx, tableID, start, end)
}
func (f apptFacet) DueForCompletion(ctx context.Context, asOf time.Time) ([]booking.Appointment, error) {
	return f.s.dueForCompletion(ctx, asOf)
}

func (s *Store) insertAppointment(_ context.Context, a *booking.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.appointments[a.ID]; exists {
		return fmt.Errorf("%w: appointment %s exists", core.ErrStateConflict, a.ID)
	}
	// Overlap re-check under the write lock: the allocator's earlier scan
	// may have raced another booking.
	for _, other := range s.appointments {
		if other.TableID == a.TableID && other.Status.Blocking() &&
			booking.Overlaps(a.Start, a.End, other.Start, other.End) {
			return fmt.Errorf("%w: table %s claimed concurrently", core.ErrConcurrencyConflict, a.TableID)
		}
	}

	a.Version = 1
	cp := *a
	s.appointments[a.ID] = &cp
	return nil
}

func (s *Store) getAppointment(_ context.Context, id string) (*booking.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[id]
	if !ok {
		return nil, fmt.Errorf("%w: appointment %s", core.ErrNotFound, id)
	}
	cp := *a
	return &cp, nil
}

func (s *Store) updateAppointment(_ context.Context, a *booking.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.appointments[a.ID]
	if !ok {
		return fmt.Errorf("%w: appointment %s", core.ErrNotFound, a.ID)
	}
	if stored.Version != a.Version {
		return fmt.Errorf("%w: appointment %s version %d (stored %d)",
			core.ErrConcurrencyConflict, a.ID, a.Version, stored.Version)
	}

	a.Version++
	cp := *a
	s.appointments[a.ID] = &cp
	return nil
}

func (s *Store) overlappingOnTable(_ context.Context, tableID string, start, end time.Time) ([]booking.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []booking.Appointment
	for _, a := range s.appointments {
		if a.TableID == tableID && a.Status.Blocking() && booking.Overlaps(start, end, a.Start, a.End) {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (s *Store) dueForCompletion(_ context.Context, asOf time.Time) ([]booking.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []booking.Appointment
	for _, a := range s.appointments {
		if a.Status == booking.StatusConfirmed && !a.End.After(asOf) {
			due = append(due, *a)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

// =============================================================================
// CANCEL RECORDS
// =============================================================================

type cancelFacet struct{ s *Store }

func (f cancelFacet) Insert(ctx context.Context, r *booking.CancelRecord) error {
	return f.s.insertCancel(ctx, r)
}
func (f cancelFacet) Get(ctx context.Context, id string) (*booking.CancelRecord, error) {
	return f.s.getCancel(ctx, id)
}
func (f cancelFacet) Update(ctx context.Context, r *booking.CancelRecord) error {
	return f.s.updateCancel(ctx, r)
}
func (f cancelFacet) PendingForAppointment(ctx context.Context, appointmentID string) (*booking.CancelRecord, error) {
	return f.s.pendingForAppointment(ctx, appointmentID)
}
func (f cancelFacet) CountInWindow(ctx context.Context, userID string, role booking.Role, from, to time.Time) (int, error) {
	return f.s.countInWindow(ctx, userID, role, from, to)
}

func (s *Store) insertCancel(_ context.Context, r *booking.CancelRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cancelRecords[r.ID]; exists {
		return fmt.Errorf("%w: cancel record %s exists", core.ErrStateConflict, r.ID)
	}
	cp := *r
	s.cancelRecords[r.ID] = &cp
	return nil
}

func (s *Store) getCancel(_ context.Context, id string) (*booking.CancelRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.cancelRecords[id]
	if !ok {
		return nil, fmt.Errorf("%w: cancel record %s", core.ErrNotFound, id)
	}
	cp := *r
	return &cp, nil
}

func (s *Store) updateCancel(_ context.Context, r *booking.CancelRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cancelRecords[r.ID]; !ok {
		return fmt.Errorf("%w: cancel record %s", core.ErrNotFound, r.ID)
	}
	cp := *r
	s.cancelRecords[r.ID] = &cp
	return nil
}

func (s *Store) pendingForAppointment(_ context.Context, appointmentID string) (*booking.CancelRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.cancelRecords {
		if r.AppointmentID == appointmentID && r.Status == booking.CancelPending {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) countInWindow(_ context.Context, userID string, role booking.Role, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, r := range s.cancelRecords {
		if r.InitiatorID != userID || r.InitiatorRole != role {
			continue
		}
		if r.Status == booking.CancelRejected {
			continue
		}
		if !r.CreatedAt.Before(from) && r.CreatedAt.Before(to) {
			count++
		}
	}
	return count, nil
}

// =============================================================================
// COACH CHANGES
// =============================================================================

type changeFacet struct{ s *Store }

func (f changeFacet) Insert(ctx context.Context, r *booking.CoachChangeRequest) error {
	return f.s.insertChange(ctx, r)
}
func (f changeFacet) Get(ctx context.Context, id string) (*booking.CoachChangeRequest, error) {
	return f.s.getChange(ctx, id)
}
func (f changeFacet) Update(ctx context.Context, r *booking.CoachChangeRequest) error {
	return f.s.updateChange(ctx, r)
}

func (s *Store) insertChange(_ context.Context, r *booking.CoachChangeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.coachChanges[r.ID] = &cp
	return nil
}

func (s *Store) getChange(_ context.Context, id string) (*booking.CoachChangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.coachChanges[id]
	if !ok {
		return nil, fmt.Errorf("%w: coach change %s", core.ErrNotFound, id)
	}
	cp := *r
	return &cp, nil
}

func (s *Store) updateChange(_ context.Context, r *booking.CoachChangeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.coachChanges[r.ID]; !ok {
		return fmt.Errorf("%w: coach change %s", core.ErrNotFound, r.ID)
	}
	cp := *r
	s.coachChanges[r.ID] = &cp
	return nil
}

// =============================================================================
// MATCHES
// =============================================================================

func (s *Store) InsertMatch(_ context.Context, m *tournament.MonthlyMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, other := range s.matches {
		if other.Year == m.Year && other.Month == m.Month {
			return fmt.Errorf("%w: match for %s %d exists", core.ErrStateConflict, m.Month, m.Year)
		}
	}
	m.Version = 1
	cp := *m
	s.matches[m.ID] = &cp
	return nil
}

func (s *Store) GetMatch(_ context.Context, id string) (*tournament.MonthlyMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[id]
	if !ok {
		return nil, fmt.Errorf("%w: match %s", core.ErrNotFound, id)
	}
	cp := *m
	return &cp, nil
}

func (s *Store) GetMatchByMonth(_ context.Context, year int, month time.Month) (*tournament.MonthlyMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.matches {
		if m.Year == year && m.Month == month {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateMatch(_ context.Context, m *tournament.MonthlyMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.matches[m.ID]
	if !ok {
		return fmt.Errorf("%w: match %s", core.ErrNotFound, m.ID)
	}
	if stored.Version != m.Version {
		return fmt.Errorf("%w: match %s version %d (stored %d)",
			core.ErrConcurrencyConflict, m.ID, m.Version, stored.Version)
	}
	m.Version++
	cp := *m
	s.matches[m.ID] = &cp
	return nil
}

func (s *Store) ListActiveMatches(_ context.Context) ([]tournament.MonthlyMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []tournament.MonthlyMatch
	for _, m := range s.matches {
		if m.Status != tournament.MatchCompleted {
			result = append(result, *m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartAt.Before(result[j].StartAt) })
	return result, nil
}

func (s *Store) ListMatches(_ context.Context) ([]tournament.MonthlyMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []tournament.MonthlyMatch
	for _, m := range s.matches {
		result = append(result, *m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartAt.After(result[j].StartAt) })
	return result, nil
}

// =============================================================================
// REGISTRATIONS + BRACKET
// =============================================================================

func (s *Store) InsertRegistration(_ context.Context, r *tournament.MatchRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, other := range s.registrations {
		if other.MatchID == r.MatchID && other.StudentID == r.StudentID {
			return fmt.Errorf("%w: student %s already registered for match %s",
				core.ErrStateConflict, r.StudentID, r.MatchID)
		}
	}
	cp := *r
	s.registrations[r.ID] = &cp
	return nil
}

func (s *Store) RegistrationsByMatch(_ context.Context, matchID string) ([]tournament.MatchRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []tournament.MatchRegistration
	for _, r := range s.registrations {
		if r.MatchID == matchID {
			result = append(result, *r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RegisteredAt.Before(result[j].RegisteredAt) })
	return result, nil
}

func (s *Store) HasRegistration(_ context.Context, matchID, studentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.registrations {
		if r.MatchID == matchID && r.StudentID == studentID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) InsertBracket(_ context.Context, groups []tournament.MatchGroup, schedules []tournament.MatchSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range groups {
		s.groups[g.ID] = g
	}
	for _, sc := range schedules {
		s.schedules[sc.ID] = sc
	}
	return nil
}

func (s *Store) GroupsByMatch(_ context.Context, matchID string) ([]tournament.MatchGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []tournament.MatchGroup
	for _, g := range s.groups {
		if g.MatchID == matchID {
			result = append(result, g)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Division != result[j].Division {
			return result[i].Division < result[j].Division
		}
		return result[i].Number < result[j].Number
	})
	return result, nil
}

func (s *Store) SchedulesByMatch(_ context.Context, matchID string) ([]tournament.MatchSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []tournament.MatchSchedule
	for _, sc := range s.schedules {
		if sc.MatchID == matchID {
			result = append(result, sc)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].GroupID != result[j].GroupID {
			return result[i].GroupID < result[j].GroupID
		}
		return result[i].Round < result[j].Round
	})
	return result, nil
}
