package booking_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paddlepoint/coaching-engine/booking"
	"github.com/paddlepoint/coaching-engine/core"
)

func boolPtr(b bool) *bool { return &b }

func TestApprovalVector_Outcome(t *testing.T) {
	cases := []struct {
		name string
		v    booking.ApprovalVector
		want booking.ApprovalOutcome
	}{
		{"no votes", booking.ApprovalVector{}, booking.OutcomePending},
		{"one yes", booking.ApprovalVector{FromCoach: boolPtr(true)}, booking.OutcomePending},
		{"two yes", booking.ApprovalVector{FromCoach: boolPtr(true), ToCoach: boolPtr(true)}, booking.OutcomePending},
		{"all yes", booking.ApprovalVector{FromCoach: boolPtr(true), ToCoach: boolPtr(true), Admin: boolPtr(true)}, booking.OutcomeApproved},
		{"early veto", booking.ApprovalVector{Admin: boolPtr(false)}, booking.OutcomeRejected},
		{"veto beats yeses", booking.ApprovalVector{FromCoach: boolPtr(true), ToCoach: boolPtr(false), Admin: boolPtr(true)}, booking.OutcomeRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.v.Outcome())
		})
	}
}

// changeFixture yields a CONFIRMED appointment with coach-1 and a
// second coach at the same school.
func changeFixture(t *testing.T) (*fixture, *booking.CoachChangeWorkflow, *booking.Appointment) {
	t.Helper()
	ctx := context.Background()

	f := newFixture(t)
	f.store.AddCoach(booking.Coach{ID: "coach-2", SchoolID: "school-1", Level: "20"})
	require.NoError(t, f.ledger.Credit(ctx, "student-1", core.MustMoney("500.00")))

	start := f.clock.Now().Add(72 * time.Hour)
	appt, err := f.engine.Book(ctx, f.bookRequest(start, start.Add(time.Hour)))
	require.NoError(t, err)
	appt, err = f.engine.Confirm(ctx, appt.ID, true)
	require.NoError(t, err)

	workflow := &booking.CoachChangeWorkflow{
		Appointments: f.store.Appointments(),
		Requests:     f.store.CoachChanges(),
		Coaches:      f.store,
		Clock:        f.clock,
	}
	return f, workflow, appt
}

func TestCoachChange_UnanimousApprovalSwapsCoach(t *testing.T) {
	// GIVEN: a change request from coach-1 to coach-2
	// WHEN: both coaches and an admin approve
	// THEN: the appointment's coach becomes coach-2

	ctx := context.Background()
	f, workflow, appt := changeFixture(t)

	req, err := workflow.Request(ctx, appt.ID, "coach-2")
	require.NoError(t, err)
	require.Equal(t, booking.OutcomePending, req.Status)
	require.Equal(t, "coach-1", req.FromCoachID)

	req, err = workflow.Vote(ctx, req.ID, booking.SlotFromCoach, true)
	require.NoError(t, err)
	require.Equal(t, booking.OutcomePending, req.Status)

	req, err = workflow.Vote(ctx, req.ID, booking.SlotToCoach, true)
	require.NoError(t, err)
	require.Equal(t, booking.OutcomePending, req.Status)

	req, err = workflow.Vote(ctx, req.ID, booking.SlotAdmin, true)
	require.NoError(t, err)
	require.Equal(t, booking.OutcomeApproved, req.Status)

	got, err := f.engine.Appointments.Get(ctx, appt.ID)
	require.NoError(t, err)
	require.Equal(t, "coach-2", got.CoachID)
	require.Equal(t, booking.StatusConfirmed, got.Status)
}

func TestCoachChange_SingleVetoRejects(t *testing.T) {
	ctx := context.Background()
	f, workflow, appt := changeFixture(t)

	req, err := workflow.Request(ctx, appt.ID, "coach-2")
	require.NoError(t, err)

	req, err = workflow.Vote(ctx, req.ID, booking.SlotToCoach, false)
	require.NoError(t, err)
	require.Equal(t, booking.OutcomeRejected, req.Status)

	// Rejected requests accept no further votes.
	_, err = workflow.Vote(ctx, req.ID, booking.SlotAdmin, true)
	require.ErrorIs(t, err, core.ErrStateConflict)

	got, err := f.engine.Appointments.Get(ctx, appt.ID)
	require.NoError(t, err)
	require.Equal(t, "coach-1", got.CoachID)
}

func TestCoachChange_ReplacementMustShareSchool(t *testing.T) {
	ctx := context.Background()
	f, workflow, appt := changeFixture(t)
	f.store.AddCoach(booking.Coach{ID: "coach-remote", SchoolID: "school-2", Level: "10"})

	_, err := workflow.Request(ctx, appt.ID, "coach-remote")
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestCoachChange_CannotSwapToSameCoach(t *testing.T) {
	ctx := context.Background()
	_, workflow, appt := changeFixture(t)

	_, err := workflow.Request(ctx, appt.ID, "coach-1")
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestCoachChange_OnlyConfirmedAppointments(t *testing.T) {
	ctx := context.Background()
	f, workflow, _ := changeFixture(t)

	start := f.clock.Now().Add(96 * time.Hour)
	pending, err := f.engine.Book(ctx, f.bookRequest(start, start.Add(time.Hour)))
	require.NoError(t, err)

	_, err = workflow.Request(ctx, pending.ID, "coach-2")
	require.ErrorIs(t, err, core.ErrStateConflict)
}
