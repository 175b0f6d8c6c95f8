package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/alertmed/scheduling/internal/appointment"
)

// SlotFields is the start time of a booking: either scheduled_start in
// RFC3339, or date and time read in the application's timezone.
type SlotFields struct {
	ScheduledStart  string `json:"scheduled_start" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Date            string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Time            string `json:"time" validate:"omitempty,max=8"`
	DurationMinutes int    `json:"duration_minutes" validate:"gte=0,lte=720"`
}

type CreateAppointmentRequest struct {
	SlotFields
	PatientID       string `json:"patient_id" validate:"omitempty,uuid"`
	DoctorID        string `json:"doctor_id" validate:"omitempty,uuid"`
	HospitalID      string `json:"hospital_id" validate:"omitempty,uuid"`
	Specialty       string `json:"specialty" validate:"max=120"`
	AppointmentType string `json:"appointment_type" validate:"max=120"`
	Location        string `json:"location" validate:"max=255"`
	Notes           string `json:"notes" validate:"max=4000"`
	RequestApproval bool   `json:"request_approval"`
}

type RescheduleRequest struct {
	SlotFields
	Reason string `json:"reason" validate:"max=1000"`
}

type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type CompleteRequest struct {
	Diagnosis    string `json:"diagnosis" validate:"max=4000"`
	Prescription string `json:"prescription" validate:"max=4000"`
	MedicalNotes string `json:"medical_notes" validate:"max=8000"`
}

type UpdateDetailsRequest struct {
	Specialty       *string `json:"specialty" validate:"omitempty,max=120"`
	AppointmentType *string `json:"appointment_type" validate:"omitempty,max=120"`
	Location        *string `json:"location" validate:"omitempty,max=255"`
	Notes           *string `json:"notes" validate:"omitempty,max=4000"`
}

type AssignDoctorRequest struct {
	DoctorID string `json:"doctor_id" validate:"required,uuid"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	DoctorID           *uuid.UUID `json:"doctor_id"`
	HospitalID         *uuid.UUID `json:"hospital_id"`
	ScheduledStart     time.Time  `json:"scheduled_start"`
	ScheduledEnd       time.Time  `json:"scheduled_end"`
	DurationMinutes    int        `json:"duration_minutes"`
	Status             string     `json:"status"`
	ApprovalStatus     *string    `json:"approval_status"`
	Specialty          string     `json:"specialty,omitempty"`
	AppointmentType    string     `json:"appointment_type,omitempty"`
	Location           string     `json:"location,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	Diagnosis          string     `json:"diagnosis,omitempty"`
	Prescription       string     `json:"prescription,omitempty"`
	MedicalNotes       string     `json:"medical_notes,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	RejectionReason    string     `json:"rejection_reason,omitempty"`
	RescheduleReason   string     `json:"reschedule_reason,omitempty"`
	RescheduledFromID  *uuid.UUID `json:"rescheduled_from_id,omitempty"`
	RescheduledToID    *uuid.UUID `json:"rescheduled_to_id,omitempty"`
	ConfirmationSent   bool       `json:"confirmation_sent"`
	ConfirmationSentAt *time.Time `json:"confirmation_sent_at,omitempty"`
	ReminderSentAt     *time.Time `json:"reminder_sent_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:                 a.ID,
		PatientID:          a.PatientID,
		DoctorID:           a.DoctorID,
		HospitalID:         a.HospitalID,
		ScheduledStart:     a.ScheduledStart,
		ScheduledEnd:       a.Interval().End,
		DurationMinutes:    a.DurationMinutes,
		Status:             string(a.Status),
		Specialty:          a.Specialty,
		AppointmentType:    a.AppointmentType,
		Location:           a.Location,
		Notes:              a.Notes,
		Diagnosis:          a.Diagnosis,
		Prescription:       a.Prescription,
		MedicalNotes:       a.MedicalNotes,
		CancellationReason: a.CancellationReason,
		RejectionReason:    a.RejectionReason,
		RescheduleReason:   a.RescheduleReason,
		RescheduledFromID:  a.RescheduledFromID,
		RescheduledToID:    a.RescheduledToID,
		ConfirmationSent:   a.ConfirmationSent,
		ConfirmationSentAt: a.ConfirmationSentAt,
		ReminderSentAt:     a.ReminderSentAt,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
	if a.ApprovalStatus != nil {
		s := string(*a.ApprovalStatus)
		resp.ApprovalStatus = &s
	}
	return resp
}

type ListAppointmentsResponse struct {
	Items  []AppointmentResponse `json:"items"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type ListNotificationsResponse struct {
	Items  []appointment.Notification `json:"items"`
	Limit  int                        `json:"limit"`
	Offset int                        `json:"offset"`
}

type ErrorResponse struct {
	Error   string     `json:"error"`
	Details string     `json:"details,omitempty"`
	ID      *uuid.UUID `json:"id,omitempty"`
}
