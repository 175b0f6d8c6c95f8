package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alertmed/scheduling/internal/auth"
	"github.com/alertmed/scheduling/internal/config"
	redisclient "github.com/alertmed/scheduling/internal/redis"
)

const (
	EventAppointmentCreated     = "APPOINTMENT_CREATED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentUpdated     = "APPOINTMENT_UPDATED"
	EventAppointmentAssigned    = "APPOINTMENT_ASSIGNED"
	EventAppointmentApproved    = "APPOINTMENT_APPROVED"
	EventAppointmentRejected    = "APPOINTMENT_REJECTED"
	EventAppointmentReminded    = "APPOINTMENT_REMINDED"
)

var errDoctorBusy = &Error{Kind: KindConflict, Message: "the doctor's agenda is being changed by another request, please retry"}

type Service struct {
	repo      Repository
	locker    redisclient.Locker
	deliverer Deliverer
	mailer    Mailer
	log       zerolog.Logger
	loc       *time.Location
	now       func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, deliverer Deliverer, mailer Mailer, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		locker:    locker,
		deliverer: deliverer,
		mailer:    mailer,
		log:       log,
		loc:       cfg.Location(),
		now:       time.Now,
	}
}

// CreateInput carries the fields of all three creation entry points. The
// principal fills in its own side: a patient is the patient, a doctor the
// doctor, a hospital the owning hospital.
type CreateInput struct {
	PatientID       *uuid.UUID
	DoctorID        *uuid.UUID
	HospitalID      *uuid.UUID
	ScheduledStart  time.Time
	DurationMinutes int
	Specialty       string
	AppointmentType string
	Location        string
	Notes           string
	// RequestApproval routes a patient or doctor booking through the hospital's sign-off.
	RequestApproval bool
}

type parties struct {
	patient  *User
	doctor   *User
	hospital *User
}

// CreateAppointment books a new appointment. When a doctor is bound, the
// conflict check and the insert run under the doctor's lock in one transaction
// so concurrent bookings of overlapping slots cannot both succeed.
func (s *Service) CreateAppointment(ctx context.Context, p auth.Principal, in CreateInput) (*Appointment, error) {
	if err := Authorize(p, TransitionCreate); err != nil {
		return nil, err
	}

	patientID, doctorID, hospitalID := in.PatientID, in.DoctorID, in.HospitalID
	needsApproval := in.RequestApproval

	switch p.Role {
	case auth.RolePatient:
		patientID = &p.ID
		if doctorID == nil {
			// nobody can be conflict checked yet, so the hospital has to pick the doctor
			needsApproval = true
		}
	case auth.RoleDoctor:
		doctorID = &p.ID
	case auth.RoleHospital:
		hospitalID = &p.ID
		needsApproval = false
	}

	if patientID == nil || *patientID == uuid.Nil {
		return nil, validationError("patient_id is required")
	}
	if needsApproval && hospitalID == nil {
		return nil, validationError("hospital_id is required when no doctor is chosen or approval is requested")
	}

	iv, err := NewInterval(in.ScheduledStart, in.DurationMinutes)
	if err != nil {
		return nil, err
	}

	who, err := s.resolveParties(ctx, *patientID, doctorID, hospitalID)
	if err != nil {
		return nil, err
	}

	status, approval := initialState(p.Role, needsApproval)
	candidate := &Appointment{
		ID:              uuid.New(),
		PatientID:       *patientID,
		DoctorID:        cloneID(doctorID),
		HospitalID:      cloneID(hospitalID),
		ScheduledStart:  iv.Start,
		DurationMinutes: iv.Minutes(),
		Status:          status,
		ApprovalStatus:  approval,
		Specialty:       in.Specialty,
		AppointmentType: in.AppointmentType,
		Location:        in.Location,
		Notes:           in.Notes,
	}

	var created *Appointment
	insert := func(ctx context.Context, tx Repository) error {
		if candidate.DoctorID != nil {
			if err := ensureFree(ctx, tx, *candidate.DoctorID, iv, nil); err != nil {
				return err
			}
		}
		a, err := tx.InsertAppointment(ctx, candidate)
		if err != nil {
			return s.writeError(err, candidate.ID)
		}
		created = a
		return nil
	}

	if candidate.DoctorID != nil {
		err = s.withDoctor(ctx, *candidate.DoctorID, insert)
	} else {
		err = s.repo.Tx(ctx, func(tx Repository) error { return insert(ctx, tx) })
	}
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"actor_role":      p.Role,
		"actor_id":        p.ID.String(),
		"scheduled_start": created.ScheduledStart,
		"approval_status": approvalArg(created.ApprovalStatus),
	})

	if p.Role == auth.RolePatient {
		created = s.sendConfirmation(ctx, created, who)
	}

	s.dispatch(ctx, FanOutEvent{Transition: TransitionCreate, Actor: p.Role, Appointment: created})

	return created, nil
}

// resolveParties checks that every referenced user exists with the right role
// and that a bound doctor works for the bound hospital.
func (s *Service) resolveParties(ctx context.Context, patientID uuid.UUID, doctorID, hospitalID *uuid.UUID) (parties, error) {
	var who parties
	var err error

	if who.patient, err = s.userWithRole(ctx, patientID, auth.RolePatient, "patient"); err != nil {
		return who, err
	}
	if hospitalID != nil {
		if who.hospital, err = s.userWithRole(ctx, *hospitalID, auth.RoleHospital, "hospital"); err != nil {
			return who, err
		}
	}
	if doctorID != nil {
		if who.doctor, err = s.eligibleDoctor(ctx, *doctorID, hospitalID); err != nil {
			return who, err
		}
	}
	return who, nil
}

func (s *Service) userWithRole(ctx context.Context, id uuid.UUID, role auth.Role, label string) (*User, error) {
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, notFound(label+" not found", id)
		}
		return nil, fmt.Errorf("load %s: %w", label, err)
	}
	if u.Role != role {
		return nil, notFound(label+" not found", id)
	}
	return u, nil
}

func (s *Service) eligibleDoctor(ctx context.Context, doctorID uuid.UUID, hospitalID *uuid.UUID) (*User, error) {
	doctor, err := s.userWithRole(ctx, doctorID, auth.RoleDoctor, "doctor")
	if err != nil {
		return nil, err
	}
	if hospitalID == nil {
		return doctor, nil
	}

	ok, err := s.repo.IsAffiliated(ctx, *hospitalID, doctorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("doctor not found in this hospital", doctorID)
	}
	return doctor, nil
}

// withDoctor runs fn inside the doctor's lock and a store transaction that
// also holds the store-level doctor lock.
func (s *Service) withDoctor(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context, tx Repository) error) error {
	err := s.locker.WithDoctorLock(ctx, doctorID, func(lockCtx context.Context) error {
		return s.repo.Tx(lockCtx, func(tx Repository) error {
			if err := tx.LockDoctor(lockCtx, doctorID); err != nil {
				return err
			}
			return fn(lockCtx, tx)
		})
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return errDoctorBusy
	}
	return err
}

// writeError maps store write failures onto the error taxonomy.
func (s *Service) writeError(err error, id uuid.UUID) error {
	switch {
	case errors.Is(err, ErrOverlapConstraint):
		return &Error{Kind: KindConflict, Message: ErrSchedulingConflict.Message}
	case errors.Is(err, ErrAppointmentNotFound):
		return staleState(id)
	default:
		return fmt.Errorf("write appointment %s: %w", id, err)
	}
}

func (s *Service) sendConfirmation(ctx context.Context, a *Appointment, who parties) *Appointment {
	if s.mailer == nil || who.patient == nil {
		return a
	}

	payload := ConfirmationPayload{
		AppointmentID:   a.ID,
		PatientName:     who.patient.Name,
		Specialty:       a.Specialty,
		Location:        a.Location,
		ScheduledStart:  a.ScheduledStart,
		DurationMinutes: a.DurationMinutes,
	}
	if who.patient.Email != nil {
		payload.PatientEmail = *who.patient.Email
	}
	if who.doctor != nil {
		payload.DoctorName = who.doctor.Name
	}

	if !s.mailer.SendAppointmentConfirmation(context.WithoutCancel(ctx), payload) {
		s.log.Warn().Str("appointment_id", a.ID.String()).Msg("confirmation e-mail not sent")
		return a
	}

	sentAt := s.now()
	var updated *Appointment
	err := s.repo.Tx(ctx, func(tx Repository) error {
		var err error
		updated, err = tx.UpdateAppointment(ctx, a.ID, Condition{}, Patch{
			ConfirmationSent:   ptr(true),
			ConfirmationSentAt: &sentAt,
		})
		return err
	})
	if err != nil {
		s.log.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("failed to record confirmation")
		a.ConfirmationSent = true
		a.ConfirmationSentAt = &sentAt
		return a
	}
	return updated
}

// dispatch delivers the fan-out of a committed transition. It never fails the
// caller; undelivered notifications are logged and dropped.
func (s *Service) dispatch(ctx context.Context, ev FanOutEvent) int {
	if s.deliverer == nil {
		return 0
	}
	ctx = context.WithoutCancel(ctx)

	delivered := 0
	for _, n := range FanOut(ev, s.loc) {
		n := n
		if err := s.deliverer.Deliver(ctx, &n); err != nil {
			s.log.Warn().
				Err(err).
				Str("user_id", n.UserID.String()).
				Str("type", string(n.Type)).
				Str("appointment_id", ev.Appointment.ID.String()).
				Msg("notification delivery failed")
			continue
		}
		delivered++
	}
	return delivered
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Error().Err(err).Str("event", eventType).Str("appointment_id", appointmentID.String()).Msg("failed to insert event log")
	}
}
