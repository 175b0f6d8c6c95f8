package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alertmed/scheduling/internal/auth"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// GetAppointment returns one appointment the principal owns.
func (s *Service) GetAppointment(ctx context.Context, p auth.Principal, id uuid.UUID) (*Appointment, error) {
	return s.load(ctx, p, id)
}

// ListAppointments lists the principal's own appointments. Any scope the
// caller puts in the filter is narrowed to the principal's.
func (s *Service) ListAppointments(ctx context.Context, p auth.Principal, f Filter) ([]Appointment, error) {
	own := OwnerScope(p)
	switch p.Role {
	case auth.RolePatient:
		f.PatientID = own.PatientID
	case auth.RoleDoctor:
		f.DoctorID = own.DoctorID
	case auth.RoleHospital:
		f.HospitalID = own.HospitalID
	default:
		return nil, forbidden("unknown role")
	}

	if f.Status != nil && !f.Status.Valid() {
		return nil, validationError(fmt.Sprintf("unknown status %q", *f.Status))
	}
	if f.ApprovalStatus != nil && !f.ApprovalStatus.Valid() {
		return nil, validationError(fmt.Sprintf("unknown approval status %q", *f.ApprovalStatus))
	}
	if f.From != nil && f.To != nil && !f.To.After(*f.From) {
		return nil, validationError("to must be after from")
	}
	f.Limit, f.Offset = page(f.Limit, f.Offset)

	apps, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return apps, nil
}

// ListNotifications returns the principal's inbox, newest first.
func (s *Service) ListNotifications(ctx context.Context, p auth.Principal, unreadOnly bool, limit, offset int) ([]Notification, error) {
	limit, offset = page(limit, offset)
	out, err := s.repo.ListNotifications(ctx, p.ID, unreadOnly, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

// MarkNotificationRead flags one of the principal's notifications as read.
func (s *Service) MarkNotificationRead(ctx context.Context, p auth.Principal, id uuid.UUID) (*Notification, error) {
	n, err := s.repo.MarkNotificationRead(ctx, id, p.ID)
	if err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			return nil, notFound("notification not found", id)
		}
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return n, nil
}

// SendDueReminders notifies patient and doctor of scheduled appointments
// starting within lead from now. Each appointment is stamped before it is
// announced, so concurrent workers remind once.
func (s *Service) SendDueReminders(ctx context.Context, lead time.Duration) (int, error) {
	now := s.now()
	due, err := s.repo.FindDueReminders(ctx, now, now.Add(lead))
	if err != nil {
		return 0, fmt.Errorf("find due reminders: %w", err)
	}

	sent := 0
	for i := range due {
		a := &due[i]

		var stamped *Appointment
		err := s.repo.Tx(ctx, func(tx Repository) error {
			var err error
			stamped, err = tx.UpdateAppointment(ctx, a.ID, Condition{
				Status:         ptr(StatusScheduled),
				ReminderUnsent: true,
			}, Patch{ReminderSentAt: &now})
			return err
		})
		if errors.Is(err, ErrAppointmentNotFound) {
			// reminded by someone else, or no longer scheduled
			continue
		}
		if err != nil {
			s.log.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("failed to stamp reminder")
			continue
		}

		s.logEvent(ctx, stamped.ID, EventAppointmentReminded, map[string]any{
			"scheduled_start": stamped.ScheduledStart,
		})
		s.dispatch(ctx, FanOutEvent{Transition: TransitionRemind, Appointment: stamped})
		sent++
	}

	if sent > 0 {
		s.log.Info().Int("count", sent).Msg("appointment reminders sent")
	}
	return sent, nil
}

func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
