package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/alertmed/scheduling/internal/auth"
)

// ApproveAppointment signs off a pending request. Deciding an already decided
// request again returns it unchanged and notifies nobody.
func (s *Service) ApproveAppointment(ctx context.Context, p auth.Principal, id uuid.UUID) (*Appointment, error) {
	return s.decide(ctx, p, id, TransitionApprove, "")
}

// RejectAppointment refuses a pending request and cancels it.
func (s *Service) RejectAppointment(ctx context.Context, p auth.Principal, id uuid.UUID, reason string) (*Appointment, error) {
	return s.decide(ctx, p, id, TransitionReject, reason)
}

func (s *Service) decide(ctx context.Context, p auth.Principal, id uuid.UUID, t Transition, reason string) (*Appointment, error) {
	if err := Authorize(p, t); err != nil {
		return nil, err
	}
	a, err := s.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	repeat, err := repeatedDecision(a)
	if err != nil {
		return nil, err
	}
	if repeat {
		return a, nil
	}
	if err := CheckTransition(a, t); err != nil {
		return nil, err
	}

	var patch Patch
	event := EventAppointmentApproved
	if t == TransitionApprove {
		patch.ApprovalStatus = ptr(ApprovalApproved)
	} else {
		event = EventAppointmentRejected
		patch.ApprovalStatus = ptr(ApprovalRejected)
		patch.Status = ptr(StatusCancelled)
		if reason != "" {
			patch.RejectionReason = &reason
		}
	}

	cond := Condition{
		Scope:          OwnerScope(p),
		Status:         ptr(StatusScheduled),
		ApprovalStatus: ptr(ApprovalPending),
	}
	updated, err := s.apply(ctx, a.ID, cond, patch)
	if errors.Is(err, ErrStaleState) {
		// a concurrent decision won; deciding again is a no-op unless the record completed
		current, loadErr := s.load(ctx, p, id)
		if loadErr != nil {
			return nil, err
		}
		repeat, termErr := repeatedDecision(current)
		if termErr != nil {
			return nil, termErr
		}
		if repeat {
			return current, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, event, map[string]any{
		"hospital_id": p.ID.String(),
		"reason":      reason,
	})
	s.dispatch(ctx, FanOutEvent{Transition: t, Actor: p.Role, Appointment: updated, Reason: reason})

	return updated, nil
}

// repeatedDecision reports whether a has already been approved or rejected, in
// which case a new decision is a no-op. Completed records refuse any decision.
func repeatedDecision(a *Appointment) (bool, error) {
	if a.Status == StatusCompleted {
		return false, invalidTransition("completed appointments cannot change", a.ID)
	}
	return approvalDecided(a), nil
}
