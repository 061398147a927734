/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done in handlers and domain logic, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/paddlepoint/coaching-engine/booking"
	"github.com/paddlepoint/coaching-engine/tournament"
)

// =============================================================================
// BOOKING
// =============================================================================

// BookCourseRequest is the request to book a coaching session.
type BookCourseRequest struct {
	CoachID    string `json:"coach_id"`
	Start      string `json:"start"` // RFC3339
	End        string `json:"end"`   // RFC3339
	TableID    string `json:"table_id,omitempty"`
	AutoAssign bool   `json:"auto_assign"`
}

// AppointmentDTO represents an appointment in API responses.
type AppointmentDTO struct {
	ID        string `json:"id"`
	CoachID   string `json:"coach_id"`
	StudentID string `json:"student_id"`
	SchoolID  string `json:"school_id"`
	TableID   string `json:"table_id"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Status    string `json:"status"`
	Fee       string `json:"fee"`
	CreatedAt string `json:"created_at,omitempty"`
}

func toAppointmentDTO(a *booking.Appointment) AppointmentDTO {
	return AppointmentDTO{
		ID:        a.ID,
		CoachID:   a.CoachID,
		StudentID: a.StudentID,
		SchoolID:  a.SchoolID,
		TableID:   a.TableID,
		Start:     a.Start.Format(time.RFC3339),
		End:       a.End.Format(time.RFC3339),
		Status:    string(a.Status),
		Fee:       a.Fee.StringFixed(2),
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
	}
}

// ConfirmRequest carries the coach's accept/reject decision.
type ConfirmRequest struct {
	Accept bool `json:"accept"`
}

// =============================================================================
// CANCELLATION
// =============================================================================

// CancelRecordDTO represents a cancellation request in API responses.
type CancelRecordDTO struct {
	ID            string `json:"id"`
	AppointmentID string `json:"appointment_id"`
	InitiatorID   string `json:"initiator_id"`
	InitiatorRole string `json:"initiator_role"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	DecidedAt     string `json:"decided_at,omitempty"`
}

func toCancelRecordDTO(r *booking.CancelRecord) CancelRecordDTO {
	dto := CancelRecordDTO{
		ID:            r.ID,
		AppointmentID: r.AppointmentID,
		InitiatorID:   r.InitiatorID,
		InitiatorRole: string(r.InitiatorRole),
		Status:        string(r.Status),
		CreatedAt:     r.CreatedAt.Format(time.RFC3339),
	}
	if r.DecidedAt != nil {
		dto.DecidedAt = r.DecidedAt.Format(time.RFC3339)
	}
	return dto
}

// CancelRequestResponse is returned when a cancellation is opened.
type CancelRequestResponse struct {
	Record         CancelRecordDTO `json:"record"`
	RemainingQuota int             `json:"remaining_quota"`
}

// CancelDecisionRequest carries the approve/reject decision.
type CancelDecisionRequest struct {
	Approve bool `json:"approve"`
}

// RemainingQuotaDTO reports how many cancellations a user has left this
// calendar month.
type RemainingQuotaDTO struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	Remaining int    `json:"remaining"`
}

// =============================================================================
// COACH CHANGE
// =============================================================================

// CoachChangeRequestDTO represents a pending coach swap in API responses.
type CoachChangeRequestDTO struct {
	ID            string `json:"id"`
	AppointmentID string `json:"appointment_id"`
	FromCoachID   string `json:"from_coach_id"`
	ToCoachID     string `json:"to_coach_id"`
	FromCoachVote *bool  `json:"from_coach_vote"`
	ToCoachVote   *bool  `json:"to_coach_vote"`
	AdminVote     *bool  `json:"admin_vote"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
}

func toCoachChangeDTO(r *booking.CoachChangeRequest) CoachChangeRequestDTO {
	return CoachChangeRequestDTO{
		ID:            r.ID,
		AppointmentID: r.AppointmentID,
		FromCoachID:   r.FromCoachID,
		ToCoachID:     r.ToCoachID,
		FromCoachVote: r.Votes.FromCoach,
		ToCoachVote:   r.Votes.ToCoach,
		AdminVote:     r.Votes.Admin,
		Status:        string(r.Status),
		CreatedAt:     r.CreatedAt.Format(time.RFC3339),
	}
}

// RequestCoachChangeRequest opens a coach swap on an appointment.
type RequestCoachChangeRequest struct {
	AppointmentID string `json:"appointment_id"`
	ToCoachID     string `json:"to_coach_id"`
}

// CoachChangeVoteRequest records one approver's vote.
type CoachChangeVoteRequest struct {
	Approve bool `json:"approve"`
}

// =============================================================================
// TOURNAMENT
// =============================================================================

// MatchDTO represents a monthly match in API responses.
type MatchDTO struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	SchoolID string `json:"school_id"`
	StartAt  string `json:"start_at"`
	Deadline string `json:"deadline"`
	Year     int    `json:"year"`
	Month    int    `json:"month"`
	Status   string `json:"status"`
}

func toMatchDTO(m *tournament.MonthlyMatch) MatchDTO {
	return MatchDTO{
		ID:       m.ID,
		Title:    m.Title,
		SchoolID: m.SchoolID,
		StartAt:  m.StartAt.Format(time.RFC3339),
		Deadline: m.Deadline.Format(time.RFC3339),
		Year:     m.Year,
		Month:    int(m.Month),
		Status:   string(m.Status),
	}
}

// RegisterMatchRequest enrolls the caller into a division.
type RegisterMatchRequest struct {
	Division string `json:"division"`
}

// RegistrationDTO represents a paid tournament registration.
type RegistrationDTO struct {
	ID           string `json:"id"`
	MatchID      string `json:"match_id"`
	StudentID    string `json:"student_id"`
	Division     string `json:"division"`
	Paid         bool   `json:"paid"`
	RegisteredAt string `json:"registered_at"`
}

func toRegistrationDTO(r *tournament.MatchRegistration) RegistrationDTO {
	return RegistrationDTO{
		ID:           r.ID,
		MatchID:      r.MatchID,
		StudentID:    r.StudentID,
		Division:     string(r.Division),
		Paid:         r.Paid,
		RegisteredAt: r.RegisteredAt.Format(time.RFC3339),
	}
}

// RegistrationCountsDTO reports per-division headcount for a match.
type RegistrationCountsDTO struct {
	MatchID string         `json:"match_id"`
	Counts  map[string]int `json:"counts"`
}

// ScheduleEntryDTO is one generated pairing. An empty player2 means the
// entry is a bye round for player1.
type ScheduleEntryDTO struct {
	ID      string `json:"id"`
	GroupID string `json:"group_id"`
	Round   int    `json:"round"`
	Player1 string `json:"player1"`
	Player2 string `json:"player2,omitempty"`
	TableID string `json:"table_id,omitempty"`
	StartAt string `json:"start_at"`
	Result  string `json:"result"`
	Bye     bool   `json:"bye"`
}

func toScheduleEntryDTO(s tournament.MatchSchedule) ScheduleEntryDTO {
	return ScheduleEntryDTO{
		ID:      s.ID,
		GroupID: s.GroupID,
		Round:   s.Round,
		Player1: s.Player1,
		Player2: s.Player2,
		TableID: s.TableID,
		StartAt: s.StartAt.Format(time.RFC3339),
		Result:  string(s.Result),
		Bye:     s.Bye(),
	}
}

// UpdateMatchTimeRequest reschedules a not-yet-open match.
type UpdateMatchTimeRequest struct {
	StartAt string `json:"start_at"` // RFC3339
}

// =============================================================================
// LEDGER
// =============================================================================

// BalanceDTO reports an account balance.
type BalanceDTO struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
}

// TopUpRequest credits an account (dev/admin surface).
type TopUpRequest struct {
	Amount string `json:"amount"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
