/*
handlers.go - HTTP API handlers for the coaching engine

PURPOSE:
  Exposes the booking and tournament engines via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Appointments:
    POST   /api/appointments                       Book a session (student)
    GET    /api/appointments/{id}                  Appointment details
    POST   /api/appointments/{id}/confirm          Accept/reject (coach)
    POST   /api/appointments/{id}/cancel           Request cancellation
    POST   /api/appointments/{id}/coach-change     Propose a coach swap

  Cancellations:
    POST   /api/cancellations/{id}/decision        Approve/reject (admin)
    GET    /api/cancellations/remaining            Quota left this month

  Coach changes:
    POST   /api/coach-changes/{id}/vote            One approver's vote
    GET    /api/coach-changes/{id}                 Request details

  Matches:
    GET    /api/matches                            List matches
    GET    /api/matches/{id}                       Match details
    POST   /api/matches/{id}/registrations         Register (student)
    GET    /api/matches/{id}/registrations/counts  Per-division headcount
    GET    /api/matches/{id}/schedule              Caller's pairings
    PUT    /api/matches/{id}/time                  Reschedule (admin)

  Accounts:
    GET    /api/accounts/balance                   Caller's balance
    POST   /api/accounts/topup                     Credit caller (dev)

  Admin:
    POST   /api/admin/sweep                        Run the sweep now

ERROR HANDLING:
  Domain errors map onto HTTP status via the core taxonomy:
  - 400: validation (incl. quota exceeded)
  - 402: insufficient funds
  - 404: not found
  - 409: state conflict, concurrency conflict, no table available
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - sweep.go: Background sweep driven by the same engines
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/paddlepoint/coaching-engine/booking"
	"github.com/paddlepoint/coaching-engine/core"
	"github.com/paddlepoint/coaching-engine/ledger"
	"github.com/paddlepoint/coaching-engine/tournament"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *booking.Engine
	Cancel    *booking.CancelWorkflow
	Changes   *booking.CoachChangeWorkflow
	Lifecycle *tournament.Lifecycle
	Ledger    ledger.Ledger

	// Sweeper backs the manual /api/admin/sweep trigger. Optional.
	Sweeper *Sweeper
}

// =============================================================================
// APPOINTMENT HANDLERS
// =============================================================================

// BookCourse books a coaching session for the authenticated student.
// POST /api/appointments
func (h *Handler) BookCourse(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireRole(w, r, booking.RoleStudent)
	if !ok {
		return
	}

	var req BookCourseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start time", err)
		return
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end time", err)
		return
	}

	appt, err := h.Engine.Book(r.Context(), booking.BookRequest{
		CoachID:    req.CoachID,
		StudentID:  identity.UserID,
		Start:      start,
		End:        end,
		TableID:    req.TableID,
		AutoAssign: req.AutoAssign,
	})
	if err != nil {
		bookingsTotal.WithLabelValues("failed").Inc()
		writeDomainError(w, "Failed to book appointment", err)
		return
	}

	bookingsTotal.WithLabelValues("created").Inc()
	writeJSON(w, http.StatusCreated, toAppointmentDTO(appt))
}

// GetAppointment returns a single appointment.
// GET /api/appointments/{id}
func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.Engine.Appointments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentDTO(appt))
}

// ConfirmAppointment records the coach's accept/reject decision.
// POST /api/appointments/{id}/confirm
func (h *Handler) ConfirmAppointment(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireRole(w, r, booking.RoleCoach)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	appt, err := h.Engine.Appointments.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get appointment", err)
		return
	}
	if appt.CoachID != identity.UserID {
		writeError(w, http.StatusForbidden, "Only the booked coach can confirm", nil)
		return
	}

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	appt, err = h.Engine.Confirm(r.Context(), id, req.Accept)
	if err != nil {
		writeDomainError(w, "Failed to handle confirmation", err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentDTO(appt))
}

// =============================================================================
// CANCELLATION HANDLERS
// =============================================================================

// RequestCancel opens a cancellation request on a confirmed appointment.
// POST /api/appointments/{id}/cancel
func (h *Handler) RequestCancel(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireRole(w, r, booking.RoleStudent, booking.RoleCoach)
	if !ok {
		return
	}

	result, err := h.Cancel.RequestCancel(r.Context(),
		chi.URLParam(r, "id"), identity.UserID, booking.Role(identity.Role))
	if err != nil {
		writeDomainError(w, "Failed to request cancellation", err)
		return
	}

	cancellationsTotal.WithLabelValues("requested").Inc()
	writeJSON(w, http.StatusCreated, CancelRequestResponse{
		Record:         toCancelRecordDTO(result.Record),
		RemainingQuota: result.RemainingQuota,
	})
}

// DecideCancel records the admin's approval or rejection.
// POST /api/cancellations/{id}/decision
func (h *Handler) DecideCancel(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, booking.RoleAdmin); !ok {
		return
	}

	var req CancelDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	record, err := h.Cancel.HandleDecision(r.Context(), chi.URLParam(r, "id"), req.Approve)
	if err != nil {
		writeDomainError(w, "Failed to decide cancellation", err)
		return
	}
	if req.Approve {
		cancellationsTotal.WithLabelValues("approved").Inc()
	} else {
		cancellationsTotal.WithLabelValues("rejected").Inc()
	}
	writeJSON(w, http.StatusOK, toCancelRecordDTO(record))
}

// RemainingCancelQuota reports the caller's cancellations left this month.
// GET /api/cancellations/remaining
func (h *Handler) RemainingCancelQuota(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireRole(w, r, booking.RoleStudent, booking.RoleCoach)
	if !ok {
		return
	}

	remaining, err := h.Cancel.RemainingQuota(r.Context(), identity.UserID, booking.Role(identity.Role))
	if err != nil {
		writeDomainError(w, "Failed to compute quota", err)
		return
	}
	writeJSON(w, http.StatusOK, RemainingQuotaDTO{
		UserID:    identity.UserID,
		Role:      identity.Role,
		Remaining: remaining,
	})
}

// =============================================================================
// COACH CHANGE HANDLERS
// =============================================================================

// RequestCoachChange proposes swapping the coach on an appointment.
// POST /api/appointments/{id}/coach-change
func (h *Handler) RequestCoachChange(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, booking.RoleStudent, booking.RoleCoach); !ok {
		return
	}

	var req RequestCoachChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	change, err := h.Changes.Request(r.Context(), chi.URLParam(r, "id"), req.ToCoachID)
	if err != nil {
		writeDomainError(w, "Failed to request coach change", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCoachChangeDTO(change))
}

// GetCoachChange returns a coach-change request.
// GET /api/coach-changes/{id}
func (h *Handler) GetCoachChange(w http.ResponseWriter, r *http.Request) {
	change, err := h.Changes.Requests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get coach change", err)
		return
	}
	writeJSON(w, http.StatusOK, toCoachChangeDTO(change))
}

// VoteCoachChange records one approver's vote. The voter slot is derived
// from the caller's identity: the outgoing coach, the incoming coach, or
// an admin.
// POST /api/coach-changes/{id}/vote
func (h *Handler) VoteCoachChange(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireRole(w, r, booking.RoleCoach, booking.RoleAdmin)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	change, err := h.Changes.Requests.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get coach change", err)
		return
	}

	var slot booking.VoterSlot
	switch {
	case identity.Role == string(booking.RoleAdmin):
		slot = booking.SlotAdmin
	case identity.UserID == change.FromCoachID:
		slot = booking.SlotFromCoach
	case identity.UserID == change.ToCoachID:
		slot = booking.SlotToCoach
	default:
		writeError(w, http.StatusForbidden, "Caller is not an approver on this request", nil)
		return
	}

	var req CoachChangeVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	change, err = h.Changes.Vote(r.Context(), id, slot, req.Approve)
	if err != nil {
		writeDomainError(w, "Failed to record vote", err)
		return
	}
	writeJSON(w, http.StatusOK, toCoachChangeDTO(change))
}

// =============================================================================
// MATCH HANDLERS
// =============================================================================

// ListMatches returns all monthly matches, newest first.
// GET /api/matches
func (h *Handler) ListMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := h.Lifecycle.Store.ListMatches(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list matches", err)
		return
	}

	dtos := make([]MatchDTO, len(matches))
	for i := range matches {
		dtos[i] = toMatchDTO(&matches[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetMatch returns a single match.
// GET /api/matches/{id}
func (h *Handler) GetMatch(w http.ResponseWriter, r *http.Request) {
	m, err := h.Lifecycle.Store.GetMatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get match", err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchDTO(m))
}

// RegisterForMatch enrolls the authenticated student into a division.
// POST /api/matches/{id}/registrations
func (h *Handler) RegisterForMatch(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireRole(w, r, booking.RoleStudent)
	if !ok {
		return
	}

	var req RegisterMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	reg, err := h.Lifecycle.Register(r.Context(), chi.URLParam(r, "id"),
		identity.UserID, tournament.Division(req.Division))
	if err != nil {
		writeDomainError(w, "Failed to register", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRegistrationDTO(reg))
}

// RegistrationCounts reports per-division headcount for a match.
// GET /api/matches/{id}/registrations/counts
func (h *Handler) RegistrationCounts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	counts, err := h.Lifecycle.RegistrationCounts(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to count registrations", err)
		return
	}

	out := make(map[string]int, len(counts))
	for division, n := range counts {
		out[string(division)] = n
	}
	writeJSON(w, http.StatusOK, RegistrationCountsDTO{MatchID: id, Counts: out})
}

// StudentSchedule returns the caller's pairings in a match, byes included.
// GET /api/matches/{id}/schedule
func (h *Handler) StudentSchedule(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireRole(w, r, booking.RoleStudent)
	if !ok {
		return
	}

	schedule, err := h.Lifecycle.StudentSchedule(r.Context(), chi.URLParam(r, "id"), identity.UserID)
	if err != nil {
		writeDomainError(w, "Failed to get schedule", err)
		return
	}

	dtos := make([]ScheduleEntryDTO, len(schedule))
	for i, s := range schedule {
		dtos[i] = toScheduleEntryDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdateMatchTime reschedules a match that has not opened registration.
// PUT /api/matches/{id}/time
func (h *Handler) UpdateMatchTime(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, booking.RoleAdmin); !ok {
		return
	}

	var req UpdateMatchTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	newStart, err := time.Parse(time.RFC3339, req.StartAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start time", err)
		return
	}

	m, err := h.Lifecycle.UpdateMatchTime(r.Context(), chi.URLParam(r, "id"), newStart)
	if err != nil {
		writeDomainError(w, "Failed to update match time", err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchDTO(m))
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// GetBalance returns the caller's account balance.
// GET /api/accounts/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}

	balance, err := h.Ledger.Balance(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		AccountID: identity.UserID,
		Balance:   balance.StringFixed(2),
	})
}

// TopUp credits the caller's account. Dev surface; a real deployment
// fronts this with a payment provider callback.
// POST /api/accounts/topup
func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}

	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "Amount must be a positive decimal", err)
		return
	}

	if err := h.Ledger.Credit(r.Context(), identity.UserID, amount); err != nil {
		writeDomainError(w, "Failed to credit account", err)
		return
	}

	balance, err := h.Ledger.Balance(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		AccountID: identity.UserID,
		Balance:   balance.StringFixed(2),
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep runs the background sweep immediately.
// POST /api/admin/sweep
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, booking.RoleAdmin); !ok {
		return
	}
	if h.Sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "Sweep is not configured", nil)
		return
	}
	h.Sweeper.RunNow()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the core error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, core.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrStateConflict),
		errors.Is(err, core.ErrConcurrencyConflict),
		errors.Is(err, core.ErrResourceUnavailable):
		status = http.StatusConflict
	}
	writeError(w, status, message, err)
}
