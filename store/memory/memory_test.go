package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paddlepoint/coaching-engine/booking"
	"github.com/paddlepoint/coaching-engine/core"
	"github.com/paddlepoint/coaching-engine/store/memory"
	"github.com/paddlepoint/coaching-engine/tournament"
)

func appt(id, tableID string, start time.Time) *booking.Appointment {
	return &booking.Appointment{
		ID:        id,
		CoachID:   "coach-1",
		StudentID: "student-1",
		SchoolID:  "school-1",
		TableID:   tableID,
		Start:     start,
		End:       start.Add(time.Hour),
		Status:    booking.StatusPendingConfirm,
		Fee:       core.MustMoney("80.00"),
		PaymentID: "pay-" + id,
		CreatedAt: start,
		UpdatedAt: start,
	}
}

func TestAppointments_InsertReChecksOverlap(t *testing.T) {
	// GIVEN: an appointment holding table-1 for [10:00, 11:00)
	// WHEN: a second insert lands on the same table and interval
	// THEN: it fails with ConcurrencyConflict even though allocation
	//       happened before the first insert

	ctx := context.Background()
	store := memory.New()
	start := time.Date(2026, time.March, 12, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Appointments().Insert(ctx, appt("a1", "table-1", start)))

	err := store.Appointments().Insert(ctx, appt("a2", "table-1", start))
	require.ErrorIs(t, err, core.ErrConcurrencyConflict)

	// A different table is fine.
	require.NoError(t, store.Appointments().Insert(ctx, appt("a3", "table-2", start)))
}

func TestAppointments_UpdateIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	start := time.Date(2026, time.March, 12, 10, 0, 0, 0, time.UTC)

	a := appt("a1", "table-1", start)
	require.NoError(t, store.Appointments().Insert(ctx, a))
	require.EqualValues(t, 1, a.Version)

	// Two readers hold version 1.
	first, err := store.Appointments().Get(ctx, "a1")
	require.NoError(t, err)
	second, err := store.Appointments().Get(ctx, "a1")
	require.NoError(t, err)

	first.Status = booking.StatusConfirmed
	require.NoError(t, store.Appointments().Update(ctx, first))
	require.EqualValues(t, 2, first.Version)

	// The stale writer loses.
	second.Status = booking.StatusRejected
	err = store.Appointments().Update(ctx, second)
	require.ErrorIs(t, err, core.ErrConcurrencyConflict)

	got, err := store.Appointments().Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, booking.StatusConfirmed, got.Status)
}

func TestAppointments_CancelledDoesNotBlockTable(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	start := time.Date(2026, time.March, 12, 10, 0, 0, 0, time.UTC)

	a := appt("a1", "table-1", start)
	require.NoError(t, store.Appointments().Insert(ctx, a))
	a.Status = booking.StatusCancelled
	require.NoError(t, store.Appointments().Update(ctx, a))

	overlapping, err := store.Appointments().OverlappingOnTable(ctx, "table-1", start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, overlapping)

	require.NoError(t, store.Appointments().Insert(ctx, appt("a2", "table-1", start)))
}

func TestCancelRecords_CountInWindowSkipsRejected(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	march := time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)

	put := func(id string, status booking.CancelStatus, at time.Time) {
		require.NoError(t, store.CancelRecords().Insert(ctx, &booking.CancelRecord{
			ID: id, AppointmentID: "a-" + id,
			InitiatorID: "student-1", InitiatorRole: booking.RoleStudent,
			Status: status, CreatedAt: at,
		}))
	}
	put("r1", booking.CancelPending, march)
	put("r2", booking.CancelApproved, march.Add(24*time.Hour))
	put("r3", booking.CancelRejected, march.Add(48*time.Hour))
	put("r4", booking.CancelApproved, march.AddDate(0, 1, 0)) // April

	from, to := core.MonthWindow(march)
	count, err := store.CancelRecords().CountInWindow(ctx, "student-1", booking.RoleStudent, from, to)
	require.NoError(t, err)
	require.Equal(t, 2, count, "PENDING and APPROVED in March only")
}

func TestMatches_UniquePerMonthAndCAS(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	m := &tournament.MonthlyMatch{
		ID: "m1", Title: "April 2026 Monthly Tournament", SchoolID: "school-1",
		StartAt: now.AddDate(0, 1, 27), Deadline: now.AddDate(0, 1, 26),
		Year: 2026, Month: time.April,
		Status: tournament.MatchNotStarted, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.InsertMatch(ctx, m))

	dup := *m
	dup.ID = "m2"
	require.Error(t, store.InsertMatch(ctx, &dup), "one match per (year, month)")

	stale, err := store.GetMatch(ctx, "m1")
	require.NoError(t, err)

	m.Status = tournament.MatchRegistering
	require.NoError(t, store.UpdateMatch(ctx, m))

	stale.Status = tournament.MatchRegistrationClosed
	require.ErrorIs(t, store.UpdateMatch(ctx, stale), core.ErrConcurrencyConflict)
}

func TestRegistrations_DuplicateStudentConflicts(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	reg := &tournament.MatchRegistration{
		ID: "r1", MatchID: "m1", StudentID: "s1",
		Division: tournament.GroupA, Paid: true, PaymentID: "p1", RegisteredAt: now,
	}
	require.NoError(t, store.InsertRegistration(ctx, reg))

	dup := *reg
	dup.ID = "r2"
	dup.Division = tournament.GroupB
	require.ErrorIs(t, store.InsertRegistration(ctx, &dup), core.ErrStateConflict)

	has, err := store.HasRegistration(ctx, "m1", "s1")
	require.NoError(t, err)
	require.True(t, has)
}
