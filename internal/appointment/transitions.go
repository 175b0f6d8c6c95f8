package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alertmed/scheduling/internal/auth"
)

type CompleteInput struct {
	Diagnosis    string
	Prescription string
	MedicalNotes string
}

type RescheduleInput struct {
	ScheduledStart time.Time
	// DurationMinutes of 0 keeps the current duration.
	DurationMinutes int
	Reason          string
}

type DetailsInput struct {
	Specialty       *string
	AppointmentType *string
	Location        *string
	Notes           *string
}

func (in DetailsInput) empty() bool {
	return in.Specialty == nil && in.AppointmentType == nil && in.Location == nil && in.Notes == nil
}

// load fetches an appointment the principal owns. Records owned by someone
// else are reported as not found.
func (s *Service) load(ctx context.Context, p auth.Principal, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetAppointment(ctx, id, OwnerScope(p))
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, notFound("appointment not found", id)
		}
		return nil, fmt.Errorf("load appointment %s: %w", id, err)
	}
	return a, nil
}

// prepare is the common prologue of a mutation: role check, ownership-scoped
// load and state machine check.
func (s *Service) prepare(ctx context.Context, p auth.Principal, id uuid.UUID, t Transition) (*Appointment, error) {
	if err := Authorize(p, t); err != nil {
		return nil, err
	}
	a, err := s.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(a, t); err != nil {
		return nil, err
	}
	return a, nil
}

// expect builds the precondition that the row is still what prepare loaded.
func expect(p auth.Principal, a *Appointment) Condition {
	cond := Condition{Scope: OwnerScope(p), Status: ptr(a.Status)}
	if a.ApprovalStatus != nil {
		cond.ApprovalStatus = ptr(*a.ApprovalStatus)
	}
	switch {
	case a.DoctorID == nil:
		cond.Unassigned = true
	case cond.Scope.DoctorID == nil:
		cond.Scope.DoctorID = cloneID(a.DoctorID)
	}
	return cond
}

// apply runs one conditional update in its own transaction.
func (s *Service) apply(ctx context.Context, id uuid.UUID, cond Condition, patch Patch) (*Appointment, error) {
	var updated *Appointment
	err := s.repo.Tx(ctx, func(tx Repository) error {
		var err error
		updated, err = tx.UpdateAppointment(ctx, id, cond, patch)
		if err != nil {
			return s.writeError(err, id)
		}
		return nil
	})
	return updated, err
}

// CompleteAppointment closes a visit with its clinical outcome. Only the
// assigned doctor can do it.
func (s *Service) CompleteAppointment(ctx context.Context, p auth.Principal, id uuid.UUID, in CompleteInput) (*Appointment, error) {
	a, err := s.prepare(ctx, p, id, TransitionComplete)
	if err != nil {
		return nil, err
	}

	patch := Patch{Status: ptr(StatusCompleted)}
	if in.Diagnosis != "" {
		patch.Diagnosis = &in.Diagnosis
	}
	if in.Prescription != "" {
		patch.Prescription = &in.Prescription
	}
	if in.MedicalNotes != "" {
		patch.MedicalNotes = &in.MedicalNotes
	}

	updated, err := s.apply(ctx, a.ID, expect(p, a), patch)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventAppointmentCompleted, map[string]any{
		"doctor_id": p.ID.String(),
	})
	s.dispatch(ctx, FanOutEvent{Transition: TransitionComplete, Actor: p.Role, Appointment: updated})

	return updated, nil
}

// CancelAppointment releases the slot. Every party except the one cancelling is told.
func (s *Service) CancelAppointment(ctx context.Context, p auth.Principal, id uuid.UUID, reason string) (*Appointment, error) {
	a, err := s.prepare(ctx, p, id, TransitionCancel)
	if err != nil {
		return nil, err
	}

	patch := Patch{Status: ptr(StatusCancelled)}
	if reason != "" {
		patch.CancellationReason = &reason
	}

	updated, err := s.apply(ctx, a.ID, expect(p, a), patch)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventAppointmentCancelled, map[string]any{
		"actor_role": p.Role,
		"actor_id":   p.ID.String(),
		"reason":     reason,
	})
	s.dispatch(ctx, FanOutEvent{Transition: TransitionCancel, Actor: p.Role, Appointment: updated, Reason: reason})

	return updated, nil
}

// RescheduleAppointment moves a booking to a new slot. The old record is
// closed as rescheduled and linked to a new scheduled record, which is returned.
// Both writes and the conflict check happen under the doctor's lock.
func (s *Service) RescheduleAppointment(ctx context.Context, p auth.Principal, id uuid.UUID, in RescheduleInput) (*Appointment, error) {
	a, err := s.prepare(ctx, p, id, TransitionReschedule)
	if err != nil {
		return nil, err
	}

	minutes := in.DurationMinutes
	if minutes == 0 {
		minutes = a.DurationMinutes
	}
	iv, err := NewInterval(in.ScheduledStart, minutes)
	if err != nil {
		return nil, err
	}
	if iv.Start.Equal(a.ScheduledStart) && iv.Minutes() == a.DurationMinutes {
		return nil, validationError("new slot is identical to the current one")
	}

	next := a.clone()
	next.ID = uuid.New()
	next.ScheduledStart = iv.Start
	next.DurationMinutes = iv.Minutes()
	next.Status = StatusScheduled
	next.RescheduledFromID = &a.ID
	next.RescheduledToID = nil
	next.RescheduleReason = in.Reason
	next.CancellationReason = ""
	next.ConfirmationSent = false
	next.ConfirmationSentAt = nil
	next.ReminderSentAt = nil

	cond := expect(p, a)
	var created *Appointment
	move := func(ctx context.Context, tx Repository) error {
		if a.DoctorID != nil {
			if err := ensureFree(ctx, tx, *a.DoctorID, iv, &a.ID); err != nil {
				return err
			}
		}
		// close the old record first so its slot is free for the insert, and
		// link it forward only once the successor row exists
		if _, err := tx.UpdateAppointment(ctx, a.ID, cond, Patch{Status: ptr(StatusRescheduled)}); err != nil {
			return s.writeError(err, a.ID)
		}
		out, err := tx.InsertAppointment(ctx, next)
		if err != nil {
			return s.writeError(err, next.ID)
		}
		if _, err := tx.UpdateAppointment(ctx, a.ID, Condition{Status: ptr(StatusRescheduled)}, Patch{
			RescheduledToID: &out.ID,
		}); err != nil {
			return s.writeError(err, a.ID)
		}
		created = out
		return nil
	}

	if a.DoctorID != nil {
		err = s.withDoctor(ctx, *a.DoctorID, move)
	} else {
		err = s.repo.Tx(ctx, func(tx Repository) error { return move(ctx, tx) })
	}
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, a.ID, EventAppointmentRescheduled, map[string]any{
		"actor_role":     p.Role,
		"new_id":         created.ID.String(),
		"previous_start": a.ScheduledStart,
		"new_start":      created.ScheduledStart,
		"reason":         in.Reason,
	})
	s.dispatch(ctx, FanOutEvent{
		Transition:  TransitionReschedule,
		Actor:       p.Role,
		Appointment: created,
		Previous:    a,
		Reason:      in.Reason,
	})

	return created, nil
}

// UpdateAppointmentDetails edits descriptive fields. It never moves the slot.
func (s *Service) UpdateAppointmentDetails(ctx context.Context, p auth.Principal, id uuid.UUID, in DetailsInput) (*Appointment, error) {
	if in.empty() {
		return nil, validationError("nothing to update")
	}
	a, err := s.prepare(ctx, p, id, TransitionUpdateDetails)
	if err != nil {
		return nil, err
	}

	updated, err := s.apply(ctx, a.ID, expect(p, a), Patch{
		Specialty:       in.Specialty,
		AppointmentType: in.AppointmentType,
		Location:        in.Location,
		Notes:           in.Notes,
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventAppointmentUpdated, map[string]any{
		"actor_role": p.Role,
		"actor_id":   p.ID.String(),
	})
	return updated, nil
}

// AssignDoctor binds (or rebinds) a doctor affiliated with the owning
// hospital. The new doctor's agenda is conflict checked under their lock.
func (s *Service) AssignDoctor(ctx context.Context, p auth.Principal, id, doctorID uuid.UUID) (*Appointment, error) {
	if doctorID == uuid.Nil {
		return nil, validationError("doctor_id is required")
	}
	a, err := s.prepare(ctx, p, id, TransitionAssignDoctor)
	if err != nil {
		return nil, err
	}
	if a.HasDoctor(doctorID) {
		return a, nil
	}
	if _, err := s.eligibleDoctor(ctx, doctorID, &p.ID); err != nil {
		return nil, err
	}

	cond := expect(p, a)
	var updated *Appointment
	err = s.withDoctor(ctx, doctorID, func(ctx context.Context, tx Repository) error {
		if a.Status == StatusScheduled {
			if err := ensureFree(ctx, tx, doctorID, a.Interval(), &a.ID); err != nil {
				return err
			}
		}
		var err error
		updated, err = tx.UpdateAppointment(ctx, a.ID, cond, Patch{DoctorID: &doctorID})
		if err != nil {
			return s.writeError(err, a.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	payload := map[string]any{"doctor_id": doctorID.String()}
	if a.DoctorID != nil {
		payload["previous_doctor_id"] = a.DoctorID.String()
	}
	s.logEvent(ctx, updated.ID, EventAppointmentAssigned, payload)
	s.dispatch(ctx, FanOutEvent{Transition: TransitionAssignDoctor, Actor: p.Role, Appointment: updated, Previous: a})

	return updated, nil
}
