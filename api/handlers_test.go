package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paddlepoint/coaching-engine/api"
	"github.com/paddlepoint/coaching-engine/auth"
	"github.com/paddlepoint/coaching-engine/booking"
	"github.com/paddlepoint/coaching-engine/core"
	"github.com/paddlepoint/coaching-engine/ledger"
	"github.com/paddlepoint/coaching-engine/notify"
	"github.com/paddlepoint/coaching-engine/store/memory"
	"github.com/paddlepoint/coaching-engine/tournament"
)

// =============================================================================
// FIXTURE
// =============================================================================

type apiFixture struct {
	router   http.Handler
	resolver *auth.Resolver
	store    *memory.Store
	ledger   *ledger.Memory
	clock    *core.FakeClock

	studentToken string
	coachToken   string
	adminToken   string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	store := memory.New()
	store.AddCoach(booking.Coach{ID: "coach-1", SchoolID: "school-1", Level: "10"})
	store.AddRelationship("coach-1", "student-1")
	store.AddTables("school-1", "table-1", "table-2")

	accounts := ledger.NewMemory()
	clock := core.NewFakeClock(time.Date(2026, time.March, 10, 8, 0, 0, 0, time.UTC))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine := &booking.Engine{
		Appointments:  store.Appointments(),
		Relationships: store,
		Coaches:       store,
		Allocator: &booking.Allocator{
			Inventory:    store,
			Appointments: store.Appointments(),
		},
		Ledger:   accounts,
		Notifier: &notify.Log{Logger: log},
		Clock:    clock,
		Tariff:   booking.DefaultTariff(),
		Log:      log,
	}
	cancel := &booking.CancelWorkflow{
		Appointments: store.Appointments(),
		Records:      store.CancelRecords(),
		Ledger:       accounts,
		Clock:        clock,
	}
	changes := &booking.CoachChangeWorkflow{
		Appointments: store.Appointments(),
		Requests:     store.CoachChanges(),
		Coaches:      store,
		Clock:        clock,
	}
	lifecycle := &tournament.Lifecycle{
		Store:       store,
		Tables:      store,
		Ledger:      accounts,
		Clock:       clock,
		Partitioner: &tournament.Partitioner{},
		Log:         log,
		SchoolID:    "school-1",
	}

	handler := &api.Handler{
		Engine:    engine,
		Cancel:    cancel,
		Changes:   changes,
		Lifecycle: lifecycle,
		Ledger:    accounts,
		Sweeper:   api.NewSweeper(engine, lifecycle, log),
	}

	resolver := auth.NewResolver("test-secret")
	mint := func(userID, role string) string {
		token, err := resolver.Mint(auth.Identity{UserID: userID, Role: role}, time.Hour)
		require.NoError(t, err)
		return token
	}

	return &apiFixture{
		router:       api.NewRouter(handler, resolver),
		resolver:     resolver,
		store:        store,
		ledger:       accounts,
		clock:        clock,
		studentToken: mint("student-1", string(booking.RoleStudent)),
		coachToken:   mint("coach-1", string(booking.RoleCoach)),
		adminToken:   mint("admin-1", string(booking.RoleAdmin)),
	}
}

// do issues a request through the router and decodes the JSON body into out
// when out is non-nil.
func (f *apiFixture) do(t *testing.T, method, path, token string, body, out any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if out != nil && rec.Code < 300 {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(out),
			"decoding %s %s response", method, path)
	}
	return rec
}

func (f *apiFixture) topUp(t *testing.T, token, amount string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/accounts/topup", token,
		api.TopUpRequest{Amount: amount}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestAuth_MissingTokenIs401(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/accounts/balance", "", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_GarbageTokenIs401(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/accounts/balance", "not-a-token", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_WrongRoleIs403(t *testing.T) {
	// Booking is a student action; a coach token is rejected before the
	// engine is consulted.
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/appointments", f.coachToken,
		api.BookCourseRequest{CoachID: "coach-1", AutoAssign: true}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthz_Unauthenticated(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// BOOKING FLOW
// =============================================================================

func TestBookingFlow_BookConfirmAndBalance(t *testing.T) {
	// GIVEN: a student with 200.00
	// WHEN: they book a 90-minute session and the coach accepts
	// THEN: the appointment is CONFIRMED and 120.00 stays escrowed

	f := newAPIFixture(t)
	f.topUp(t, f.studentToken, "200.00")

	start := time.Date(2026, time.March, 12, 10, 0, 0, 0, time.UTC)
	var appt api.AppointmentDTO
	rec := f.do(t, http.MethodPost, "/api/appointments", f.studentToken,
		api.BookCourseRequest{
			CoachID:    "coach-1",
			Start:      start.Format(time.RFC3339),
			End:        start.Add(90 * time.Minute).Format(time.RFC3339),
			AutoAssign: true,
		}, &appt)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, string(booking.StatusPendingConfirm), appt.Status)
	require.Equal(t, "120.00", appt.Fee)

	var fetched api.AppointmentDTO
	rec = f.do(t, http.MethodGet, "/api/appointments/"+appt.ID, f.studentToken, nil, &fetched)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, appt.ID, fetched.ID)

	rec = f.do(t, http.MethodPost, "/api/appointments/"+appt.ID+"/confirm", f.coachToken,
		api.ConfirmRequest{Accept: true}, &fetched)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, string(booking.StatusConfirmed), fetched.Status)

	var balance api.BalanceDTO
	rec = f.do(t, http.MethodGet, "/api/accounts/balance", f.studentToken, nil, &balance)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "80.00", balance.Balance)
}

func TestBookingFlow_InsufficientFundsIs402(t *testing.T) {
	f := newAPIFixture(t)
	f.topUp(t, f.studentToken, "10.00")

	start := time.Date(2026, time.March, 12, 10, 0, 0, 0, time.UTC)
	rec := f.do(t, http.MethodPost, "/api/appointments", f.studentToken,
		api.BookCourseRequest{
			CoachID:    "coach-1",
			Start:      start.Format(time.RFC3339),
			End:        start.Add(time.Hour).Format(time.RFC3339),
			AutoAssign: true,
		}, nil)
	require.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())
}

func TestBookingFlow_OnlyBookedCoachConfirms(t *testing.T) {
	f := newAPIFixture(t)
	f.topUp(t, f.studentToken, "200.00")

	start := time.Date(2026, time.March, 12, 10, 0, 0, 0, time.UTC)
	var appt api.AppointmentDTO
	rec := f.do(t, http.MethodPost, "/api/appointments", f.studentToken,
		api.BookCourseRequest{
			CoachID:    "coach-1",
			Start:      start.Format(time.RFC3339),
			End:        start.Add(time.Hour).Format(time.RFC3339),
			AutoAssign: true,
		}, &appt)
	require.Equal(t, http.StatusCreated, rec.Code)

	otherCoach, err := f.resolver.Mint(auth.Identity{UserID: "coach-9", Role: string(booking.RoleCoach)}, time.Hour)
	require.NoError(t, err)

	rec = f.do(t, http.MethodPost, "/api/appointments/"+appt.ID+"/confirm", otherCoach,
		api.ConfirmRequest{Accept: true}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

// =============================================================================
// CANCELLATION FLOW
// =============================================================================

func TestCancelFlow_RequestAndApproveRefunds(t *testing.T) {
	f := newAPIFixture(t)
	f.topUp(t, f.studentToken, "200.00")

	// Book far enough out that the notice period is satisfied.
	start := f.clock.Now().Add(72 * time.Hour)
	var appt api.AppointmentDTO
	rec := f.do(t, http.MethodPost, "/api/appointments", f.studentToken,
		api.BookCourseRequest{
			CoachID:    "coach-1",
			Start:      start.Format(time.RFC3339),
			End:        start.Add(time.Hour).Format(time.RFC3339),
			AutoAssign: true,
		}, &appt)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/appointments/"+appt.ID+"/confirm", f.coachToken,
		api.ConfirmRequest{Accept: true}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var opened api.CancelRequestResponse
	rec = f.do(t, http.MethodPost, "/api/appointments/"+appt.ID+"/cancel", f.studentToken,
		nil, &opened)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, string(booking.CancelPending), opened.Record.Status)
	require.Equal(t, booking.MonthlyCancelQuota-1, opened.RemainingQuota)

	var quota api.RemainingQuotaDTO
	rec = f.do(t, http.MethodGet, "/api/cancellations/remaining", f.studentToken, nil, &quota)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, booking.MonthlyCancelQuota-1, quota.Remaining)

	var decided api.CancelRecordDTO
	rec = f.do(t, http.MethodPost, "/api/cancellations/"+opened.Record.ID+"/decision", f.adminToken,
		api.CancelDecisionRequest{Approve: true}, &decided)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, string(booking.CancelApproved), decided.Status)

	// Escrow came back.
	var balance api.BalanceDTO
	rec = f.do(t, http.MethodGet, "/api/accounts/balance", f.studentToken, nil, &balance)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "200.00", balance.Balance)
}

func TestCancelFlow_DecisionRequiresAdmin(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/cancellations/any/decision", f.coachToken,
		api.CancelDecisionRequest{Approve: true}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

// =============================================================================
// TOURNAMENT FLOW
// =============================================================================

func TestMatchFlow_SweepCreatesMatchAndStudentRegisters(t *testing.T) {
	// GIVEN: no match exists yet
	// WHEN: an admin sweep runs and the clock enters the registration window
	// THEN: a student can register and shows up in the division counts

	f := newAPIFixture(t)
	f.topUp(t, f.studentToken, "100.00")

	rec := f.do(t, http.MethodPost, "/api/admin/sweep", f.adminToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var matches []api.MatchDTO
	rec = f.do(t, http.MethodGet, "/api/matches", f.studentToken, nil, &matches)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, matches, 1)
	m := matches[0]
	require.Equal(t, string(tournament.MatchNotStarted), m.Status)

	// Enter the registration window and let the sweep open it.
	startAt, err := time.Parse(time.RFC3339, m.StartAt)
	require.NoError(t, err)
	f.clock.Set(startAt.Add(-tournament.DefaultRegistrationWindow))
	rec = f.do(t, http.MethodPost, "/api/admin/sweep", f.adminToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var reg api.RegistrationDTO
	rec = f.do(t, http.MethodPost, "/api/matches/"+m.ID+"/registrations", f.studentToken,
		api.RegisterMatchRequest{Division: string(tournament.GroupA)}, &reg)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.True(t, reg.Paid)

	var counts api.RegistrationCountsDTO
	rec = f.do(t, http.MethodGet, "/api/matches/"+m.ID+"/registrations/counts", f.studentToken, nil, &counts)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, counts.Counts[string(tournament.GroupA)])

	// Entry fee was debited.
	var balance api.BalanceDTO
	rec = f.do(t, http.MethodGet, "/api/accounts/balance", f.studentToken, nil, &balance)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "70.00", balance.Balance)

	// Duplicate registration conflicts.
	rec = f.do(t, http.MethodPost, "/api/matches/"+m.ID+"/registrations", f.studentToken,
		api.RegisterMatchRequest{Division: string(tournament.GroupA)}, nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestMatchFlow_RescheduleIsAdminOnly(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/admin/sweep", f.adminToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var matches []api.MatchDTO
	rec = f.do(t, http.MethodGet, "/api/matches", f.studentToken, nil, &matches)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, matches, 1)

	newStart := time.Date(2026, time.April, 25, 14, 0, 0, 0, time.UTC)
	rec = f.do(t, http.MethodPut, "/api/matches/"+matches[0].ID+"/time", f.studentToken,
		api.UpdateMatchTimeRequest{StartAt: newStart.Format(time.RFC3339)}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	var updated api.MatchDTO
	rec = f.do(t, http.MethodPut, "/api/matches/"+matches[0].ID+"/time", f.adminToken,
		api.UpdateMatchTimeRequest{StartAt: newStart.Format(time.RFC3339)}, &updated)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, newStart.Format(time.RFC3339), updated.StartAt)
}
