package booking_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paddlepoint/coaching-engine/booking"
	"github.com/paddlepoint/coaching-engine/core"
)

// cancelFixture extends the engine fixture with a cancel workflow and a
// CONFIRMED appointment starting at the returned time.
func cancelFixture(t *testing.T) (*fixture, *booking.CancelWorkflow, *booking.Appointment) {
	t.Helper()
	ctx := context.Background()

	f := newFixture(t)
	require.NoError(t, f.ledger.Credit(ctx, "student-1", core.MustMoney("1000.00")))

	// Booking at clock+72h leaves plenty of cancellation notice.
	start := f.clock.Now().Add(72 * time.Hour)
	appt, err := f.engine.Book(ctx, f.bookRequest(start, start.Add(time.Hour)))
	require.NoError(t, err)
	appt, err = f.engine.Confirm(ctx, appt.ID, true)
	require.NoError(t, err)

	workflow := &booking.CancelWorkflow{
		Appointments: f.store.Appointments(),
		Records:      f.store.CancelRecords(),
		Ledger:       f.ledger,
		Clock:        f.clock,
	}
	return f, workflow, appt
}

func TestRequestCancel_WithEnoughNotice(t *testing.T) {
	// GIVEN: a CONFIRMED appointment 72h out
	// WHEN: the student requests cancellation
	// THEN: a PENDING record exists and the appointment is CANCEL_REQUESTED

	ctx := context.Background()
	f, workflow, appt := cancelFixture(t)

	result, err := workflow.RequestCancel(ctx, appt.ID, "student-1", booking.RoleStudent)
	require.NoError(t, err)
	require.Equal(t, booking.CancelPending, result.Record.Status)
	require.Equal(t, booking.MonthlyCancelQuota-1, result.RemainingQuota)

	got, err := f.engine.Appointments.Get(ctx, appt.ID)
	require.NoError(t, err)
	require.Equal(t, booking.StatusCancelRequested, got.Status)

	// The escrow is untouched until a decision lands.
	balance, err := f.ledger.Balance(ctx, "student-1")
	require.NoError(t, err)
	require.True(t, balance.Equal(core.MustMoney("920.00")))
}

func TestRequestCancel_TooLateIsRejected(t *testing.T) {
	ctx := context.Background()
	f, workflow, appt := cancelFixture(t)

	// 20 hours of notice is under the 24 hour minimum.
	f.clock.Set(appt.Start.Add(-20 * time.Hour))

	_, err := workflow.RequestCancel(ctx, appt.ID, "student-1", booking.RoleStudent)
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestRequestCancel_TwentyFiveHoursIsEnough(t *testing.T) {
	ctx := context.Background()
	f, workflow, appt := cancelFixture(t)

	f.clock.Set(appt.Start.Add(-25 * time.Hour))

	_, err := workflow.RequestCancel(ctx, appt.ID, "student-1", booking.RoleStudent)
	require.NoError(t, err)
}

func TestRequestCancel_OnlyConfirmedAppointments(t *testing.T) {
	ctx := context.Background()
	f, workflow, _ := cancelFixture(t)

	// A fresh PENDING_CONFIRM booking cannot be cancel-requested.
	start := f.clock.Now().Add(96 * time.Hour)
	pending, err := f.engine.Book(ctx, f.bookRequest(start, start.Add(time.Hour)))
	require.NoError(t, err)

	_, err = workflow.RequestCancel(ctx, pending.ID, "student-1", booking.RoleStudent)
	require.ErrorIs(t, err, core.ErrStateConflict)
}

func TestRequestCancel_SecondRequestConflicts(t *testing.T) {
	ctx := context.Background()
	_, workflow, appt := cancelFixture(t)

	_, err := workflow.RequestCancel(ctx, appt.ID, "student-1", booking.RoleStudent)
	require.NoError(t, err)

	_, err = workflow.RequestCancel(ctx, appt.ID, "coach-1", booking.RoleCoach)
	require.ErrorIs(t, err, core.ErrStateConflict)
}

func TestRequestCancel_AdminRoleRefused(t *testing.T) {
	ctx := context.Background()
	_, workflow, appt := cancelFixture(t)

	_, err := workflow.RequestCancel(ctx, appt.ID, "admin-1", booking.RoleAdmin)
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestRequestCancel_MonthlyQuotaExhausts(t *testing.T) {
	// GIVEN: a student who has spent the whole monthly quota
	// WHEN: one more cancellation is requested
	// THEN: it fails with a quota error carrying usage detail

	ctx := context.Background()
	f, workflow, first := cancelFixture(t)

	appts := []*booking.Appointment{first}
	for i := 1; i < booking.MonthlyCancelQuota; i++ {
		start := f.clock.Now().Add(time.Duration(72+24*i) * time.Hour)
		a, err := f.engine.Book(ctx, f.bookRequest(start, start.Add(time.Hour)))
		require.NoError(t, err)
		a, err = f.engine.Confirm(ctx, a.ID, true)
		require.NoError(t, err)
		appts = append(appts, a)
	}

	for i, a := range appts {
		result, err := workflow.RequestCancel(ctx, a.ID, "student-1", booking.RoleStudent)
		require.NoError(t, err)
		require.Equal(t, booking.MonthlyCancelQuota-i-1, result.RemainingQuota)
	}

	start := f.clock.Now().Add(200 * time.Hour)
	extra, err := f.engine.Book(ctx, f.bookRequest(start, start.Add(time.Hour)))
	require.NoError(t, err)
	_, err = f.engine.Confirm(ctx, extra.ID, true)
	require.NoError(t, err)

	_, err = workflow.RequestCancel(ctx, extra.ID, "student-1", booking.RoleStudent)
	require.ErrorIs(t, err, core.ErrValidation)

	remaining, err := workflow.RemainingQuota(ctx, "student-1", booking.RoleStudent)
	require.NoError(t, err)
	require.Zero(t, remaining)
}

func TestRequestCancel_QuotaResetsNextMonth(t *testing.T) {
	ctx := context.Background()
	f, workflow, appt := cancelFixture(t)

	_, err := workflow.RequestCancel(ctx, appt.ID, "student-1", booking.RoleStudent)
	require.NoError(t, err)

	// Crossing into April the count starts over.
	f.clock.Set(time.Date(2026, time.April, 2, 8, 0, 0, 0, time.UTC))

	remaining, err := workflow.RemainingQuota(ctx, "student-1", booking.RoleStudent)
	require.NoError(t, err)
	require.Equal(t, booking.MonthlyCancelQuota, remaining)
}

func TestHandleDecision_ApproveRefundsAndCancels(t *testing.T) {
	// GIVEN: a PENDING cancellation on a CANCEL_REQUESTED appointment
	// WHEN: the counterpart approves
	// THEN: the appointment is CANCELLED and the escrow returns in full

	ctx := context.Background()
	f, workflow, appt := cancelFixture(t)

	result, err := workflow.RequestCancel(ctx, appt.ID, "student-1", booking.RoleStudent)
	require.NoError(t, err)

	record, err := workflow.HandleDecision(ctx, result.Record.ID, true)
	require.NoError(t, err)
	require.Equal(t, booking.CancelApproved, record.Status)
	require.NotNil(t, record.DecidedAt)

	got, err := f.engine.Appointments.Get(ctx, appt.ID)
	require.NoError(t, err)
	require.Equal(t, booking.StatusCancelled, got.Status)

	balance, err := f.ledger.Balance(ctx, "student-1")
	require.NoError(t, err)
	require.True(t, balance.Equal(core.MustMoney("1000.00")), "balance: %s", balance)
}

// brokenRecords fails every insert, standing in for a record table
// outage. All other operations pass through.
type brokenRecords struct {
	booking.CancelRecordStore
}

func (brokenRecords) Insert(context.Context, *booking.CancelRecord) error {
	return errors.New("disk full")
}

func TestRequestCancel_RecordInsertFailureRevertsAppointment(t *testing.T) {
	// GIVEN: a record store that cannot insert
	// WHEN: the student requests cancellation
	// THEN: the request fails, the appointment stays CONFIRMED, and a
	//       fresh request succeeds once the store recovers

	ctx := context.Background()
	f, workflow, appt := cancelFixture(t)

	real := workflow.Records
	workflow.Records = brokenRecords{CancelRecordStore: real}

	_, err := workflow.RequestCancel(ctx, appt.ID, "student-1", booking.RoleStudent)
	require.Error(t, err)

	got, err := f.engine.Appointments.Get(ctx, appt.ID)
	require.NoError(t, err)
	require.Equal(t, booking.StatusConfirmed, got.Status)

	workflow.Records = real
	result, err := workflow.RequestCancel(ctx, appt.ID, "student-1", booking.RoleStudent)
	require.NoError(t, err)
	require.Equal(t, booking.CancelPending, result.Record.Status)
}

func TestHandleDecision_ApproveRefundFailureRollsBack(t *testing.T) {
	// GIVEN: a PENDING cancellation and a payment gateway that cannot refund
	// WHEN: the counterpart approves
	// THEN: the approval fails, the appointment returns to CANCEL_REQUESTED
	//       with the record still PENDING, and a retry succeeds once
	//       refunds recover

	ctx := context.Background()
	f, workflow, appt := cancelFixture(t)

	result, err := workflow.RequestCancel(ctx, appt.ID, "student-1", booking.RoleStudent)
	require.NoError(t, err)

	real := workflow.Ledger
	workflow.Ledger = brokenRefundLedger{Ledger: real}

	_, err = workflow.HandleDecision(ctx, result.Record.ID, true)
	require.ErrorIs(t, err, core.ErrRefundFailed)

	got, err := f.engine.Appointments.Get(ctx, appt.ID)
	require.NoError(t, err)
	require.Equal(t, booking.StatusCancelRequested, got.Status)

	record, err := workflow.Records.Get(ctx, result.Record.ID)
	require.NoError(t, err)
	require.Equal(t, booking.CancelPending, record.Status)

	// The escrow stays held until a refund lands.
	balance, err := f.ledger.Balance(ctx, "student-1")
	require.NoError(t, err)
	require.True(t, balance.Equal(core.MustMoney("920.00")), "balance: %s", balance)

	// The gateway recovers, the same approval goes through.
	workflow.Ledger = real
	record, err = workflow.HandleDecision(ctx, result.Record.ID, true)
	require.NoError(t, err)
	require.Equal(t, booking.CancelApproved, record.Status)

	got, err = f.engine.Appointments.Get(ctx, appt.ID)
	require.NoError(t, err)
	require.Equal(t, booking.StatusCancelled, got.Status)

	balance, err = f.ledger.Balance(ctx, "student-1")
	require.NoError(t, err)
	require.True(t, balance.Equal(core.MustMoney("1000.00")), "balance: %s", balance)
}

func TestHandleDecision_RejectRestoresConfirmed(t *testing.T) {
	ctx := context.Background()
	f, workflow, appt := cancelFixture(t)

	result, err := workflow.RequestCancel(ctx, appt.ID, "student-1", booking.RoleStudent)
	require.NoError(t, err)

	record, err := workflow.HandleDecision(ctx, result.Record.ID, false)
	require.NoError(t, err)
	require.Equal(t, booking.CancelRejected, record.Status)

	got, err := f.engine.Appointments.Get(ctx, appt.ID)
	require.NoError(t, err)
	require.Equal(t, booking.StatusConfirmed, got.Status)

	// No refund on rejection.
	balance, err := f.ledger.Balance(ctx, "student-1")
	require.NoError(t, err)
	require.True(t, balance.Equal(core.MustMoney("920.00")))
}

func TestHandleDecision_SecondDecisionConflicts(t *testing.T) {
	ctx := context.Background()
	_, workflow, appt := cancelFixture(t)

	result, err := workflow.RequestCancel(ctx, appt.ID, "student-1", booking.RoleStudent)
	require.NoError(t, err)

	_, err = workflow.HandleDecision(ctx, result.Record.ID, false)
	require.NoError(t, err)

	_, err = workflow.HandleDecision(ctx, result.Record.ID, true)
	require.ErrorIs(t, err, core.ErrStateConflict)
}

func TestHandleDecision_RejectedRequestFreesQuotaSlot(t *testing.T) {
	// A REJECTED record no longer counts against the monthly quota.
	ctx := context.Background()
	_, workflow, appt := cancelFixture(t)

	result, err := workflow.RequestCancel(ctx, appt.ID, "student-1", booking.RoleStudent)
	require.NoError(t, err)
	_, err = workflow.HandleDecision(ctx, result.Record.ID, false)
	require.NoError(t, err)

	remaining, err := workflow.RemainingQuota(ctx, "student-1", booking.RoleStudent)
	require.NoError(t, err)
	require.Equal(t, booking.MonthlyCancelQuota, remaining)
}
