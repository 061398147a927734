/*
Package booking owns the course-appointment lifecycle: relationship
validation, table allocation, fee computation, escrowed payment,
multi-party confirmation, quota-limited cancellation, and refund.

KEY CONCEPTS IN THIS FILE (types.go):
  - Appointment: the booked lesson, a six-state machine with an
    optimistic-concurrency version token
  - CancelRecord: one cancellation request awaiting the counterpart
  - Coach / tariff: hourly rates by coach level, three tiers
  - Role: who acts (student, coach, admin)

STATE MACHINE (Appointment.Status):

  PENDING_CONFIRM ──accept──▶ CONFIRMED ──time──▶ COMPLETED
        │                        │
      reject                  request cancel
        ▼                        ▼
    REJECTED              CANCEL_REQUESTED ──approve──▶ CANCELLED
                                 │
                               reject
                                 ▼
                             CONFIRMED

  Terminal states: REJECTED, CANCELLED, COMPLETED.

SEE ALSO:
  - engine.go: booking and confirmation
  - cancel.go: the cancellation workflow
  - allocator.go: table allocation
*/
package booking

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paddlepoint/coaching-engine/core"
)

// =============================================================================
// ROLES
// =============================================================================

type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleCoach   Role = "COACH"
	RoleAdmin   Role = "ADMIN"
)

// =============================================================================
// APPOINTMENT
// =============================================================================

type AppointmentStatus string

const (
	StatusPendingConfirm  AppointmentStatus = "PENDING_CONFIRM"
	StatusConfirmed       AppointmentStatus = "CONFIRMED"
	StatusCancelRequested AppointmentStatus = "CANCEL_REQUESTED"
	StatusCancelled       AppointmentStatus = "CANCELLED"
	StatusRejected        AppointmentStatus = "REJECTED"
	StatusCompleted       AppointmentStatus = "COMPLETED"
)

// Terminal reports whether the status admits no further transitions.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusRejected || s == StatusCompleted
}

// Blocking reports whether an appointment in this status holds its table.
// Cancelled and rejected appointments release the slot.
func (s AppointmentStatus) Blocking() bool {
	return s != StatusCancelled && s != StatusRejected
}

// Appointment is one booked lesson.
type Appointment struct {
	ID        string
	CoachID   string
	StudentID string
	SchoolID  string
	TableID   string
	Start     time.Time
	End       time.Time
	Status    AppointmentStatus
	Fee       decimal.Decimal
	PaymentID string

	// Version is the optimistic-concurrency token. Every successful
	// update increments it; a stale write fails with ConcurrencyConflict.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// CANCEL RECORD
// =============================================================================

type CancelStatus string

const (
	CancelPending  CancelStatus = "PENDING"
	CancelApproved CancelStatus = "APPROVED"
	CancelRejected CancelStatus = "REJECTED"
)

// CancelRecord is one cancellation request. Created PENDING, decided
// exactly once by the counterpart, never updated afterward.
type CancelRecord struct {
	ID            string
	AppointmentID string
	InitiatorID   string
	InitiatorRole Role
	Status        CancelStatus
	CreatedAt     time.Time
	DecidedAt     *time.Time
}

// =============================================================================
// COACH + TARIFF
// =============================================================================

// Coach is the slice of the coach profile the engine needs: where the
// coach teaches and which tariff tier applies. Profile CRUD lives in an
// external collaborator.
type Coach struct {
	ID       string
	SchoolID string
	Level    string
}

// Tariff maps coach level to hourly rate. Three tiers.
type Tariff map[string]decimal.Decimal

// DefaultTariff is the production rate table.
func DefaultTariff() Tariff {
	return Tariff{
		"10": core.MustMoney("80.00"),
		"20": core.MustMoney("120.00"),
		"30": core.MustMoney("160.00"),
	}
}

// HourlyRate resolves a coach level; unknown levels are a
// configuration error, not a validation error, since the tariff table
// is operator-owned data.
func (t Tariff) HourlyRate(level string) (decimal.Decimal, error) {
	rate, ok := t[level]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: unknown coach level %q", core.ErrConfiguration, level)
	}
	return rate, nil
}
