package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/alertmed/scheduling/internal/auth"
)

type AppointmentStatus string

const (
	StatusScheduled   AppointmentStatus = "scheduled"
	StatusCompleted   AppointmentStatus = "completed"
	StatusCancelled   AppointmentStatus = "cancelled"
	StatusRescheduled AppointmentStatus = "rescheduled"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled, StatusRescheduled:
		return true
	}
	return false
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

const (
	DefaultDurationMinutes = 60
	// MaxDurationMinutes caps a single appointment at twelve hours.
	MaxDurationMinutes = 720
)

type User struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Role      auth.Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        *uuid.UUID
	HospitalID      *uuid.UUID
	ScheduledStart  time.Time
	DurationMinutes int
	Status          AppointmentStatus
	ApprovalStatus  *ApprovalStatus

	Specialty       string
	AppointmentType string
	Location        string
	Notes           string

	// Written on completion only.
	Diagnosis    string
	Prescription string
	MedicalNotes string

	CancellationReason string
	RejectionReason    string
	RescheduleReason   string
	RescheduledFromID  *uuid.UUID
	RescheduledToID    *uuid.UUID

	ConfirmationSent   bool
	ConfirmationSentAt *time.Time
	ReminderSentAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Interval is the half-open slot the appointment occupies.
func (a *Appointment) Interval() Interval {
	return Interval{
		Start: a.ScheduledStart,
		End:   a.ScheduledStart.Add(time.Duration(a.DurationMinutes) * time.Minute),
	}
}

func (a *Appointment) HasDoctor(id uuid.UUID) bool {
	return a.DoctorID != nil && *a.DoctorID == id
}

func (a *Appointment) HasHospital(id uuid.UUID) bool {
	return a.HospitalID != nil && *a.HospitalID == id
}

func (a *Appointment) clone() *Appointment {
	c := *a
	c.DoctorID = cloneID(a.DoctorID)
	c.HospitalID = cloneID(a.HospitalID)
	c.RescheduledFromID = cloneID(a.RescheduledFromID)
	c.RescheduledToID = cloneID(a.RescheduledToID)
	if a.ApprovalStatus != nil {
		s := *a.ApprovalStatus
		c.ApprovalStatus = &s
	}
	c.ConfirmationSentAt = cloneTime(a.ConfirmationSentAt)
	c.ReminderSentAt = cloneTime(a.ReminderSentAt)
	return &c
}

type NotificationType string

const (
	NotificationAppointmentScheduled   NotificationType = "appointment_scheduled"
	NotificationAppointmentRequested   NotificationType = "appointment_requested"
	NotificationAppointmentApproved    NotificationType = "appointment_approved"
	NotificationAppointmentRejected    NotificationType = "appointment_rejected"
	NotificationAppointmentRescheduled NotificationType = "appointment_rescheduled"
	NotificationAppointmentCancelled   NotificationType = "appointment_cancelled"
	NotificationAppointmentAssigned    NotificationType = "appointment_assigned"
	NotificationAppointmentCompleted   NotificationType = "appointment_completed"
	NotificationAppointmentReminder    NotificationType = "appointment_reminder"
	NotificationExamScheduled          NotificationType = "exam_scheduled"
	NotificationExamResult             NotificationType = "exam_result"
	NotificationMedicationReminder     NotificationType = "medication_reminder"
)

type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"user_id"`
	Type      NotificationType `json:"type"`
	Content   string           `json:"content"`
	RelatedID *uuid.UUID       `json:"related_id,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// Scope restricts a lookup or mutation to records owned by one party.
// Zero fields are not filtered on.
type Scope struct {
	PatientID  *uuid.UUID
	DoctorID   *uuid.UUID
	HospitalID *uuid.UUID
}

func (s Scope) Matches(a *Appointment) bool {
	if s.PatientID != nil && a.PatientID != *s.PatientID {
		return false
	}
	if s.DoctorID != nil && !a.HasDoctor(*s.DoctorID) {
		return false
	}
	if s.HospitalID != nil && !a.HasHospital(*s.HospitalID) {
		return false
	}
	return true
}

// Filter is the read-model query used by listings and dashboards.
type Filter struct {
	Scope
	From           *time.Time
	To             *time.Time
	Status         *AppointmentStatus
	ApprovalStatus *ApprovalStatus
	Limit          int
	Offset         int
}

// Condition is the compound precondition of a conditional update.
type Condition struct {
	Scope
	Status         *AppointmentStatus
	ApprovalStatus *ApprovalStatus
	// ReminderUnsent requires reminder_sent_at to be null.
	ReminderUnsent bool
	// Unassigned requires doctor_id to be null.
	Unassigned bool
}

func (c Condition) Matches(a *Appointment) bool {
	if !c.Scope.Matches(a) {
		return false
	}
	if c.Status != nil && a.Status != *c.Status {
		return false
	}
	if c.ApprovalStatus != nil && (a.ApprovalStatus == nil || *a.ApprovalStatus != *c.ApprovalStatus) {
		return false
	}
	if c.ReminderUnsent && a.ReminderSentAt != nil {
		return false
	}
	if c.Unassigned && a.DoctorID != nil {
		return false
	}
	return true
}

// Patch lists the fields a conditional update writes. Nil fields are left alone.
type Patch struct {
	Status             *AppointmentStatus
	ApprovalStatus     *ApprovalStatus
	DoctorID           *uuid.UUID
	ScheduledStart     *time.Time
	DurationMinutes    *int
	Specialty          *string
	AppointmentType    *string
	Location           *string
	Notes              *string
	Diagnosis          *string
	Prescription       *string
	MedicalNotes       *string
	CancellationReason *string
	RejectionReason    *string
	RescheduledToID    *uuid.UUID
	ConfirmationSent   *bool
	ConfirmationSentAt *time.Time
	ReminderSentAt     *time.Time
}

func (p Patch) apply(a *Appointment) {
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.ApprovalStatus != nil {
		s := *p.ApprovalStatus
		a.ApprovalStatus = &s
	}
	if p.DoctorID != nil {
		a.DoctorID = cloneID(p.DoctorID)
	}
	if p.ScheduledStart != nil {
		a.ScheduledStart = *p.ScheduledStart
	}
	if p.DurationMinutes != nil {
		a.DurationMinutes = *p.DurationMinutes
	}
	setString(&a.Specialty, p.Specialty)
	setString(&a.AppointmentType, p.AppointmentType)
	setString(&a.Location, p.Location)
	setString(&a.Notes, p.Notes)
	setString(&a.Diagnosis, p.Diagnosis)
	setString(&a.Prescription, p.Prescription)
	setString(&a.MedicalNotes, p.MedicalNotes)
	setString(&a.CancellationReason, p.CancellationReason)
	setString(&a.RejectionReason, p.RejectionReason)
	if p.RescheduledToID != nil {
		a.RescheduledToID = cloneID(p.RescheduledToID)
	}
	if p.ConfirmationSent != nil {
		a.ConfirmationSent = *p.ConfirmationSent
	}
	if p.ConfirmationSentAt != nil {
		a.ConfirmationSentAt = cloneTime(p.ConfirmationSentAt)
	}
	if p.ReminderSentAt != nil {
		a.ReminderSentAt = cloneTime(p.ReminderSentAt)
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func ptr[T any](v T) *T {
	return &v
}
