/*
engine.go - Booking and confirmation

PURPOSE:
  The Engine owns the appointment state machine from booking through
  confirmation to time-driven completion.

BOOKING FLOW:

  validate relationship ──▶ resolve coach + fee ──▶ allocate table
        │                                               │
        ▼                                               ▼
   ValidationError                          escrow debit (ledger)
                                                        │
                                                        ▼
                                          insert PENDING_CONFIRM appt
                                                        │
                            lost table race ◀───────────┤
                            refund + retry              ▼
                                                     booked

ATOMICITY:
  The ledger debit and the appointment insert must be all-or-nothing.
  The debit happens first; if the insert then fails (overlap race,
  storage error), the payment is refunded before the error surfaces.
  A lost race is retried a bounded number of times with a fresh table
  scan before reporting ConcurrencyConflict to the caller.

SEE ALSO:
  - cancel.go: the cancellation workflow on top of this engine
  - allocator.go: table selection
  - api/sweep.go: periodic driver for CompleteElapsed
*/
package booking

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
	"github.com/paddlepoint/coaching-engine/notify"
)

// DefaultBookingRetries bounds CAS retries for a lost table race.
const DefaultBookingRetries = 3

// Engine orchestrates the appointment lifecycle.
type Engine struct {
	Appointments  AppointmentStore
	Relationships RelationshipStore
	Coaches       CoachDirectory
	Allocator     *Allocator
	Ledger        ledger.Ledger
	Notifier      notify.Notifier
	Clock         core.Clock
	Tariff        Tariff
	Log           *slog.Logger

	// Retries bounds booking attempts under contention. Zero means
	// DefaultBookingRetries.
	Retries int
}

// BookRequest is the input to Book.
type BookRequest struct {
	CoachID   string
	StudentID string
	Start     time.Time
	End       time.Time

	// TableID selects a specific table; empty with AutoAssign true lets
	// the allocator pick.
	TableID    string
	AutoAssign bool
}

// Book validates, allocates, debits, and persists a PENDING_CONFIRM
// appointment. See the file header for the atomicity contract.
func (e *Engine) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if !req.End.After(req.Start) {
		return nil, fmt.Errorf("%w: end %s not after start %s",
			core.ErrValidation, req.End.Format(time.RFC3339), req.Start.Format(time.RFC3339))
	}
	if !req.AutoAssign && req.TableID == "" {
		return nil, fmt.Errorf("%w: either choose a table or enable auto-assign", core.ErrValidation)
	}

	confirmed, err := e.Relationships.Confirmed(ctx, req.CoachID, req.StudentID)
	if err != nil {
		return nil, fmt.Errorf("check relationship: %w", err)
	}
	if !confirmed {
		return nil, fmt.Errorf("%w: no confirmed relationship between coach %s and student %s",
			core.ErrValidation, req.CoachID, req.StudentID)
	}

	coach, err := e.Coaches.Coach(ctx, req.CoachID)
	if err != nil {
		return nil, err
	}

	rate, err := e.Tariff.HourlyRate(coach.Level)
	if err != nil {
		return nil, err
	}
	minutes := int64(req.End.Sub(req.Start) / time.Minute)
	fee := core.HourlyFee(rate, minutes)

	retries := e.Retries
	if retries <= 0 {
		retries = DefaultBookingRetries
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		appt, err := e.bookOnce(ctx, req, coach, fee)
		if err == nil {
			return appt, nil
		}
		if !core.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("booking lost the table race %d times: %w", retries, lastErr)
}

// bookOnce runs a single allocate-debit-insert attempt, refunding the
// escrow debit if the insert does not land.
func (e *Engine) bookOnce(ctx context.Context, req BookRequest, coach *Coach, fee decimal.Decimal) (*Appointment, error) {
	tableID := req.TableID
	if req.AutoAssign {
		var err error
		tableID, err = e.Allocator.AutoAssign(ctx, coach.SchoolID, req.Start, req.End)
		if err != nil {
			return nil, err
		}
	} else {
		if err := e.Allocator.ValidateManual(ctx, tableID, coach.SchoolID, req.Start, req.End); err != nil {
			return nil, err
		}
	}

	apptID := uuid.NewString()

	payment, err := e.Ledger.Debit(ctx, req.StudentID, fee, apptID)
	if err != nil {
		return nil, err
	}

	now := e.Clock.Now()
	appt := &Appointment{
		ID:        apptID,
		CoachID:   coach.ID,
		StudentID: req.StudentID,
		SchoolID:  coach.SchoolID,
		TableID:   tableID,
		Start:     req.Start,
		End:       req.End,
		Status:    StatusPendingConfirm,
		Fee:       fee,
		PaymentID: payment.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.Appointments.Insert(ctx, appt); err != nil {
		// Compensate: the escrow debit must not survive a failed insert.
		if refundErr := e.Ledger.Refund(ctx, payment.ID); refundErr != nil {
			return nil, fmt.Errorf("insert failed (%v) and compensating refund failed: %w",
				err, &core.RefundError{PaymentID: payment.ID, Cause: refundErr})
		}
		return nil, err
	}
	return appt, nil
}

// Confirm resolves the coach's decision on a PENDING_CONFIRM
// appointment. Accepting confirms; rejecting refunds the escrow
// payment in full and terminates the appointment.
func (e *Engine) Confirm(ctx context.Context, appointmentID string, accept bool) (*Appointment, error) {
	appt, err := e.Appointments.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusPendingConfirm {
		return nil, &core.StateConflictError{
			Entity: "appointment", ID: appt.ID,
			Current: string(appt.Status), Attempted: "confirm",
		}
	}

	if accept {
		appt.Status = StatusConfirmed
		appt.UpdatedAt = e.Clock.Now()
		if err := e.Appointments.Update(ctx, appt); err != nil {
			return nil, err
		}
		return appt, nil
	}

	// Reject: claim the appointment first so a concurrent confirm cannot
	// interleave, then refund; revert the claim if the refund fails.
	prior := appt.Status
	appt.Status = StatusRejected
	appt.UpdatedAt = e.Clock.Now()
	if err := e.Appointments.Update(ctx, appt); err != nil {
		return nil, err
	}
	if err := e.Ledger.Refund(ctx, appt.PaymentID); err != nil {
		appt.Status = prior
		appt.UpdatedAt = e.Clock.Now()
		if revertErr := e.Appointments.Update(ctx, appt); revertErr != nil {
			return nil, fmt.Errorf("refund failed and revert failed (%v): %w",
				revertErr, &core.RefundError{PaymentID: appt.PaymentID, Cause: err})
		}
		return nil, &core.RefundError{PaymentID: appt.PaymentID, Cause: err}
	}
	return appt, nil
}

// CompleteElapsed transitions every CONFIRMED appointment whose end
// time has passed to COMPLETED and reminds both parties to leave an
// evaluation. One record's failure never blocks the rest; re-running
// on an already-completed record is a no-op.
func (e *Engine) CompleteElapsed(ctx context.Context) (completed int, err error) {
	now := e.Clock.Now()
	due, err := e.Appointments.DueForCompletion(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("scan due appointments: %w", err)
	}

	for i := range due {
		appt := due[i]
		appt.Status = StatusCompleted
		appt.UpdatedAt = now
		if err := e.Appointments.Update(ctx, &appt); err != nil {
			if errors.Is(err, core.ErrConcurrencyConflict) {
				continue // someone else transitioned it; next sweep settles the rest
			}
			e.Log.Error("complete appointment", "appointment_id", appt.ID, "error", err)
			continue
		}
		completed++

		// Fire-and-forget: notification failures never roll back the sweep.
		text := "your lesson has finished, please leave an evaluation"
		if err := e.Notifier.Notify(ctx, appt.StudentID, string(RoleStudent), appt.ID, text); err != nil {
			e.Log.Warn("notify student", "appointment_id", appt.ID, "error", err)
		}
		if err := e.Notifier.Notify(ctx, appt.CoachID, string(RoleCoach), appt.ID, text); err != nil {
			e.Log.Warn("notify coach", "appointment_id", appt.ID, "error", err)
		}
	}
	return completed, nil
}
