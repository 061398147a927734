/*
approval.go - Multi-party coach-change approval

PURPOSE:
  Swapping the coach on a CONFIRMED appointment needs sign-off from
  both coaches and an admin. The votes are an explicit vector of three
  optional booleans; the aggregate status is a pure function of the
  vector, so the decision logic is trivially testable.

AGGREGATE RULE:
  any vote false  -> REJECTED   (one veto ends it)
  all votes true  -> APPROVED
  otherwise       -> PENDING
*/
package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/paddlepoint/coaching-engine/core"
)

// =============================================================================
// APPROVAL VECTOR
// =============================================================================

// ApprovalVector carries the three optional votes. nil = not voted yet.
type ApprovalVector struct {
	FromCoach *bool
	ToCoach   *bool
	Admin     *bool
}

type ApprovalOutcome string

const (
	OutcomePending  ApprovalOutcome = "PENDING"
	OutcomeApproved ApprovalOutcome = "APPROVED"
	OutcomeRejected ApprovalOutcome = "REJECTED"
)

// Outcome computes the aggregate decision from the vector.
func (v ApprovalVector) Outcome() ApprovalOutcome {
	for _, vote := range []*bool{v.FromCoach, v.ToCoach, v.Admin} {
		if vote != nil && !*vote {
			return OutcomeRejected
		}
	}
	if v.FromCoach != nil && v.ToCoach != nil && v.Admin != nil {
		return OutcomeApproved
	}
	return OutcomePending
}

// =============================================================================
// COACH CHANGE REQUEST
// =============================================================================

// CoachChangeRequest tracks one coach-swap proposal on an appointment.
type CoachChangeRequest struct {
	ID            string
	AppointmentID string
	FromCoachID   string
	ToCoachID     string
	Votes         ApprovalVector
	Status        ApprovalOutcome
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// VoterSlot identifies which vector slot a vote lands in.
type VoterSlot string

const (
	SlotFromCoach VoterSlot = "FROM_COACH"
	SlotToCoach   VoterSlot = "TO_COACH"
	SlotAdmin     VoterSlot = "ADMIN"
)

// CoachChangeWorkflow creates requests and folds votes into them.
type CoachChangeWorkflow struct {
	Appointments AppointmentStore
	Requests     CoachChangeStore
	Coaches      CoachDirectory
	Clock        core.Clock
}

// Request opens a coach-change proposal on a CONFIRMED appointment. The
// replacement coach must teach at the same school, since the table
// stays put.
func (w *CoachChangeWorkflow) Request(ctx context.Context, appointmentID, toCoachID string) (*CoachChangeRequest, error) {
	appt, err := w.Appointments.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusConfirmed {
		return nil, &core.StateConflictError{
			Entity: "appointment", ID: appt.ID,
			Current: string(appt.Status), Attempted: "request coach change",
		}
	}
	if toCoachID == appt.CoachID {
		return nil, fmt.Errorf("%w: replacement coach is the current coach", core.ErrValidation)
	}

	to, err := w.Coaches.Coach(ctx, toCoachID)
	if err != nil {
		return nil, err
	}
	if to.SchoolID != appt.SchoolID {
		return nil, fmt.Errorf("%w: coach %s teaches at school %s, appointment is at %s",
			core.ErrValidation, toCoachID, to.SchoolID, appt.SchoolID)
	}

	now := w.Clock.Now()
	req := &CoachChangeRequest{
		ID:            uuid.NewString(),
		AppointmentID: appointmentID,
		FromCoachID:   appt.CoachID,
		ToCoachID:     toCoachID,
		Status:        OutcomePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := w.Requests.Insert(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// Vote records one slot's vote and applies the aggregate outcome. On
// approval the appointment's coach id is swapped.
func (w *CoachChangeWorkflow) Vote(ctx context.Context, requestID string, slot VoterSlot, approve bool) (*CoachChangeRequest, error) {
	req, err := w.Requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != OutcomePending {
		return nil, &core.StateConflictError{
			Entity: "coach change", ID: req.ID,
			Current: string(req.Status), Attempted: "vote",
		}
	}

	vote := approve
	switch slot {
	case SlotFromCoach:
		req.Votes.FromCoach = &vote
	case SlotToCoach:
		req.Votes.ToCoach = &vote
	case SlotAdmin:
		req.Votes.Admin = &vote
	default:
		return nil, fmt.Errorf("%w: unknown voter slot %q", core.ErrValidation, slot)
	}

	req.Status = req.Votes.Outcome()
	req.UpdatedAt = w.Clock.Now()

	if req.Status == OutcomeApproved {
		appt, err := w.Appointments.Get(ctx, req.AppointmentID)
		if err != nil {
			return nil, err
		}
		if appt.Status == StatusConfirmed {
			appt.CoachID = req.ToCoachID
			appt.UpdatedAt = req.UpdatedAt
			if err := w.Appointments.Update(ctx, appt); err != nil {
				return nil, err
			}
		}
	}

	if err := w.Requests.Update(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}
