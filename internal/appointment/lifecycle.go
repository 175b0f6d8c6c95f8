package appointment

import (
	"fmt"

	"github.com/alertmed/scheduling/internal/auth"
)

type Transition string

const (
	TransitionCreate        Transition = "create"
	TransitionComplete      Transition = "complete"
	TransitionCancel        Transition = "cancel"
	TransitionReschedule    Transition = "reschedule"
	TransitionUpdateDetails Transition = "update_details"
	TransitionAssignDoctor  Transition = "assign_doctor"
	TransitionApprove       Transition = "approve"
	TransitionReject        Transition = "reject"
	// TransitionRemind is emitted by the reminder worker, never by a principal.
	TransitionRemind Transition = "remind"
)

// allowedRoles is the role half of the permission table. Ownership is the
// other half and is enforced by OwnerScope at the storage filter.
var allowedRoles = map[Transition][]auth.Role{
	TransitionCreate:        {auth.RolePatient, auth.RoleDoctor, auth.RoleHospital},
	TransitionComplete:      {auth.RoleDoctor},
	TransitionCancel:        {auth.RolePatient, auth.RoleDoctor, auth.RoleHospital},
	TransitionReschedule:    {auth.RoleDoctor, auth.RoleHospital},
	TransitionUpdateDetails: {auth.RoleDoctor, auth.RoleHospital},
	TransitionAssignDoctor:  {auth.RoleHospital},
	TransitionApprove:       {auth.RoleHospital},
	TransitionReject:        {auth.RoleHospital},
}

// Authorize checks that the principal's role may trigger t at all.
func Authorize(p auth.Principal, t Transition) error {
	for _, r := range allowedRoles[t] {
		if r == p.Role {
			return nil
		}
	}
	return forbidden(fmt.Sprintf("%s may not %s appointments", p.Role, t))
}

// OwnerScope restricts reads and mutations to records the principal owns:
// patients their own bookings, doctors those assigned to them, hospitals those
// they own.
func OwnerScope(p auth.Principal) Scope {
	id := p.ID
	switch p.Role {
	case auth.RolePatient:
		return Scope{PatientID: &id}
	case auth.RoleDoctor:
		return Scope{DoctorID: &id}
	case auth.RoleHospital:
		return Scope{HospitalID: &id}
	}
	return Scope{}
}

// CheckTransition reports whether t is legal from the appointment's current
// (status, approvalStatus) pair. Approve and reject on an already decided
// record never reach it: the caller treats them as no-ops.
func CheckTransition(a *Appointment, t Transition) error {
	if a.Status == StatusCompleted {
		return invalidTransition("completed appointments cannot change", a.ID)
	}
	if a.Status != StatusScheduled {
		return invalidTransition(fmt.Sprintf("cannot %s a %s appointment", t, a.Status), a.ID)
	}

	switch t {
	case TransitionComplete:
		if a.DoctorID == nil {
			return invalidTransition("a doctor must be assigned before completion", a.ID)
		}
		if a.ApprovalStatus != nil && *a.ApprovalStatus == ApprovalPending {
			return invalidTransition("appointment is still awaiting approval", a.ID)
		}
	case TransitionAssignDoctor:
		if a.ApprovalStatus != nil && *a.ApprovalStatus == ApprovalRejected {
			return invalidTransition("rejected appointments cannot be assigned", a.ID)
		}
	case TransitionApprove, TransitionReject:
		if a.ApprovalStatus == nil {
			return invalidTransition("appointment does not require approval", a.ID)
		}
	case TransitionCancel, TransitionReschedule, TransitionUpdateDetails, TransitionRemind:
	default:
		return invalidTransition(fmt.Sprintf("unknown transition %q", t), a.ID)
	}
	return nil
}

// approvalDecided reports whether an approve/reject would be a repeat.
func approvalDecided(a *Appointment) bool {
	return a.ApprovalStatus != nil && *a.ApprovalStatus != ApprovalPending
}

// initialState is the (status, approvalStatus) tuple a creation variant starts in.
func initialState(actor auth.Role, needsApproval bool) (AppointmentStatus, *ApprovalStatus) {
	switch {
	case actor == auth.RoleHospital:
		return StatusScheduled, ptr(ApprovalApproved)
	case needsApproval:
		return StatusScheduled, ptr(ApprovalPending)
	default:
		return StatusScheduled, nil
	}
}
