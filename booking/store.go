/*
store.go - Persistence interfaces for the booking domain

PURPOSE:
  Defines the contract between booking logic and the database. Unlike
  an append-only ledger, appointments are mutable state machines, so
  the write contract here is compare-and-swap: Update succeeds only if
  the stored version matches the version the caller read.

CAS CONTRACT:
  Update(a) writes a only when the persisted row still carries
  a.Version; on success the store increments a.Version. A stale write
  fails with core.ErrConcurrencyConflict and mutates nothing.

  Insert(a) for appointments additionally re-checks table overlap under
  the store's write lock, so two racing bookings cannot both land on
  the same table even if both passed allocation.

IMPLEMENTATIONS:
  - store/memory: mutex-guarded maps (tests, dev)
  - store/sqlite: production persistence

SEE ALSO:
  - engine.go, cancel.go: the only writers
  - allocator.go: reads OverlappingOnTable
*/
package booking

import (
	"context"
	"time"
)

// =============================================================================
// APPOINTMENT STORE
// =============================================================================

type AppointmentStore interface {
	// Insert persists a new appointment. Re-validates table overlap under
	// the write lock; a lost allocation race fails with
	// core.ErrConcurrencyConflict.
	Insert(ctx context.Context, a *Appointment) error

	// Get returns an appointment by id, or core.ErrNotFound.
	Get(ctx context.Context, id string) (*Appointment, error)

	// Update writes a mutated appointment iff the stored version matches
	// a.Version (compare-and-swap). Increments a.Version on success.
	Update(ctx context.Context, a *Appointment) error

	// OverlappingOnTable returns table-blocking appointments (any status
	// except CANCELLED/REJECTED) on tableID whose [Start,End) interval
	// overlaps [start,end).
	OverlappingOnTable(ctx context.Context, tableID string, start, end time.Time) ([]Appointment, error)

	// DueForCompletion returns CONFIRMED appointments whose end time is at
	// or before asOf, in stable order.
	DueForCompletion(ctx context.Context, asOf time.Time) ([]Appointment, error)
}

// =============================================================================
// CANCEL RECORD STORE
// =============================================================================

type CancelRecordStore interface {
	Insert(ctx context.Context, r *CancelRecord) error

	// Get returns a cancel record by id, or core.ErrNotFound.
	Get(ctx context.Context, id string) (*CancelRecord, error)

	// Update persists the one-time decision on a record.
	Update(ctx context.Context, r *CancelRecord) error

	// PendingForAppointment returns the PENDING record for an appointment,
	// or nil if there is none. At most one can exist at a time.
	PendingForAppointment(ctx context.Context, appointmentID string) (*CancelRecord, error)

	// CountInWindow counts PENDING and APPROVED records initiated by
	// (userID, role) with CreatedAt in [from, to).
	CountInWindow(ctx context.Context, userID string, role Role, from, to time.Time) (int, error)
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// RelationshipStore answers whether a mutual coach-student relationship
// is confirmed. Modeled as a join relation keyed by (coachID, studentID),
// not an object graph.
type RelationshipStore interface {
	Confirmed(ctx context.Context, coachID, studentID string) (bool, error)
}

// CoachDirectory resolves the engine-relevant slice of a coach profile.
type CoachDirectory interface {
	// Coach returns a coach by id, or core.ErrNotFound.
	Coach(ctx context.Context, id string) (*Coach, error)
}

// TableInventory is static reference data: which tables a school owns.
type TableInventory interface {
	// TablesOfSchool returns the school's table ids in stable order.
	TablesOfSchool(ctx context.Context, schoolID string) ([]string, error)
}

// =============================================================================
// COACH CHANGE STORE
// =============================================================================

type CoachChangeStore interface {
	Insert(ctx context.Context, r *CoachChangeRequest) error
	Get(ctx context.Context, id string) (*CoachChangeRequest, error)
	Update(ctx context.Context, r *CoachChangeRequest) error
}
