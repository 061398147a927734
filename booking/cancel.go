/*
cancel.go - Quota-limited, approval-gated cancellation

PURPOSE:
  Either party of a CONFIRMED appointment may request cancellation;
  the counterpart approves or rejects. Approval refunds the escrow
  payment in full and terminates the appointment.

RULES:
  - 24-hour lead time: now + 24h must not pass the appointment start.
  - Monthly quota: 3 cancellations per calendar month per (user, role),
    counting PENDING and APPROVED records; REJECTED ones do not count.
  - At most one PENDING CancelRecord per appointment.
  - A fresh request after a REJECTED decision is legal; the quota is
    the abuse bound, not the record history.

ROLLBACK:
  If the refund fails during an approval, the whole approval rolls
  back: the appointment returns to CANCEL_REQUESTED, the record stays
  PENDING, and the caller sees a RefundFailure distinct from plain
  validation failures.

SEE ALSO:
  - engine.go: the state machine this workflow sits on
*/
package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/paddlepoint/coaching-engine/core"
	"github.com/paddlepoint/coaching-engine/ledger"
)

const (
	// CancelLeadTime is the minimum notice before the appointment start.
	CancelLeadTime = 24 * time.Hour

	// MonthlyCancelQuota bounds PENDING+APPROVED cancellations per
	// calendar month per (user, role).
	MonthlyCancelQuota = 3
)

// CancelWorkflow runs the request/decide cancellation protocol.
type CancelWorkflow struct {
	Appointments AppointmentStore
	Records      CancelRecordStore
	Ledger       ledger.Ledger
	Clock        core.Clock

	// Quota overrides MonthlyCancelQuota when positive (tests).
	Quota int
}

func (w *CancelWorkflow) quota() int {
	if w.Quota > 0 {
		return w.Quota
	}
	return MonthlyCancelQuota
}

// RequestResult reports a successful cancellation request.
type RequestResult struct {
	Record         *CancelRecord
	RemainingQuota int
}

// RequestCancel opens a cancellation request on a CONFIRMED appointment.
func (w *CancelWorkflow) RequestCancel(ctx context.Context, appointmentID, userID string, role Role) (*RequestResult, error) {
	if role != RoleStudent && role != RoleCoach {
		return nil, fmt.Errorf("%w: role %q cannot request cancellation", core.ErrValidation, role)
	}

	appt, err := w.Appointments.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusConfirmed {
		return nil, &core.StateConflictError{
			Entity: "appointment", ID: appt.ID,
			Current: string(appt.Status), Attempted: "request cancellation",
		}
	}

	now := w.Clock.Now()
	if now.Add(CancelLeadTime).After(appt.Start) {
		return nil, fmt.Errorf("%w: cancellation needs %s notice, appointment starts %s",
			core.ErrValidation, CancelLeadTime, appt.Start.Format(time.RFC3339))
	}

	if pending, err := w.Records.PendingForAppointment(ctx, appointmentID); err != nil {
		return nil, err
	} else if pending != nil {
		return nil, &core.StateConflictError{
			Entity: "appointment", ID: appt.ID,
			Current: "awaiting cancellation decision", Attempted: "request cancellation again",
		}
	}

	from, to := core.MonthWindow(now)
	used, err := w.Records.CountInWindow(ctx, userID, role, from, to)
	if err != nil {
		return nil, fmt.Errorf("count cancellations: %w", err)
	}
	if used >= w.quota() {
		return nil, &core.QuotaExceededError{UserID: userID, Role: string(role), Used: used, Limit: w.quota()}
	}

	// Claim the appointment first; the CAS update is the gate against a
	// concurrent request. The record lands second, and a failed insert
	// reverts the claim so no orphan PENDING record can block the
	// appointment.
	appt.Status = StatusCancelRequested
	appt.UpdatedAt = now
	if err := w.Appointments.Update(ctx, appt); err != nil {
		return nil, err
	}

	record := &CancelRecord{
		ID:            uuid.NewString(),
		AppointmentID: appointmentID,
		InitiatorID:   userID,
		InitiatorRole: role,
		Status:        CancelPending,
		CreatedAt:     now,
	}
	if err := w.Records.Insert(ctx, record); err != nil {
		appt.Status = StatusConfirmed
		appt.UpdatedAt = now
		if revertErr := w.Appointments.Update(ctx, appt); revertErr != nil {
			return nil, fmt.Errorf("insert cancel record failed and revert failed (%v): %w",
				revertErr, err)
		}
		return nil, err
	}

	remaining := w.quota() - used - 1
	if remaining < 0 {
		remaining = 0
	}
	return &RequestResult{Record: record, RemainingQuota: remaining}, nil
}

// HandleDecision records the counterpart's decision on a PENDING
// cancel record. Approval refunds and terminates; rejection returns
// the appointment to CONFIRMED.
func (w *CancelWorkflow) HandleDecision(ctx context.Context, recordID string, approve bool) (*CancelRecord, error) {
	record, err := w.Records.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.Status != CancelPending {
		return nil, &core.StateConflictError{
			Entity: "cancel record", ID: record.ID,
			Current: string(record.Status), Attempted: "decide",
		}
	}

	appt, err := w.Appointments.Get(ctx, record.AppointmentID)
	if err != nil {
		return nil, err
	}

	now := w.Clock.Now()

	if !approve {
		record.Status = CancelRejected
		record.DecidedAt = &now
		if err := w.Records.Update(ctx, record); err != nil {
			return nil, err
		}
		// Revert only from CANCEL_REQUESTED; any other state is left alone.
		if appt.Status == StatusCancelRequested {
			appt.Status = StatusConfirmed
			appt.UpdatedAt = now
			if err := w.Appointments.Update(ctx, appt); err != nil {
				return nil, err
			}
		}
		return record, nil
	}

	if appt.Status != StatusCancelRequested {
		return nil, &core.StateConflictError{
			Entity: "appointment", ID: appt.ID,
			Current: string(appt.Status), Attempted: "approve cancellation",
		}
	}

	// Claim the appointment, then refund. The record flips last so a
	// refund failure leaves it PENDING and the whole approval retryable.
	appt.Status = StatusCancelled
	appt.UpdatedAt = now
	if err := w.Appointments.Update(ctx, appt); err != nil {
		return nil, err
	}

	if err := w.Ledger.Refund(ctx, appt.PaymentID); err != nil {
		appt.Status = StatusCancelRequested
		appt.UpdatedAt = now
		if revertErr := w.Appointments.Update(ctx, appt); revertErr != nil {
			return nil, fmt.Errorf("refund failed and revert failed (%v): %w",
				revertErr, &core.RefundError{PaymentID: appt.PaymentID, Cause: err})
		}
		return nil, &core.RefundError{PaymentID: appt.PaymentID, Cause: err}
	}

	record.Status = CancelApproved
	record.DecidedAt = &now
	if err := w.Records.Update(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// RemainingQuota returns how many cancellations (quota minus
// PENDING+APPROVED records this calendar month) the user has left.
func (w *CancelWorkflow) RemainingQuota(ctx context.Context, userID string, role Role) (int, error) {
	from, to := core.MonthWindow(w.Clock.Now())
	used, err := w.Records.CountInWindow(ctx, userID, role, from, to)
	if err != nil {
		return 0, err
	}
	remaining := w.quota() - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
