package appointment

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/alertmed/scheduling/internal/auth"
)

func TestAuthorize(t *testing.T) {
	tests := []struct {
		role auth.Role
		t    Transition
		ok   bool
	}{
		{auth.RolePatient, TransitionCreate, true},
		{auth.RolePatient, TransitionCancel, true},
		{auth.RolePatient, TransitionComplete, false},
		{auth.RolePatient, TransitionReschedule, false},
		{auth.RoleDoctor, TransitionComplete, true},
		{auth.RoleDoctor, TransitionApprove, false},
		{auth.RoleDoctor, TransitionAssignDoctor, false},
		{auth.RoleHospital, TransitionApprove, true},
		{auth.RoleHospital, TransitionReject, true},
		{auth.RoleHospital, TransitionComplete, false},
		{auth.RoleHospital, TransitionRemind, false},
	}
	for _, tt := range tests {
		err := Authorize(auth.Principal{ID: uuid.New(), Role: tt.role}, tt.t)
		if tt.ok {
			assert.NoError(t, err, "%s %s", tt.role, tt.t)
		} else {
			assert.ErrorIs(t, err, ErrForbidden, "%s %s", tt.role, tt.t)
		}
	}
}

func TestOwnerScope(t *testing.T) {
	id := uuid.New()
	doctor := uuid.New()
	a := &Appointment{PatientID: uuid.New(), DoctorID: &doctor}

	assert.True(t, OwnerScope(auth.Principal{ID: doctor, Role: auth.RoleDoctor}).Matches(a))
	assert.False(t, OwnerScope(auth.Principal{ID: id, Role: auth.RoleDoctor}).Matches(a))
	assert.False(t, OwnerScope(auth.Principal{ID: id, Role: auth.RoleHospital}).Matches(a))
	assert.True(t, OwnerScope(auth.Principal{ID: a.PatientID, Role: auth.RolePatient}).Matches(a))
}

func TestCheckTransition(t *testing.T) {
	doctor := uuid.New()
	with := func(status AppointmentStatus, approval *ApprovalStatus, doctorID *uuid.UUID) *Appointment {
		return &Appointment{ID: uuid.New(), Status: status, ApprovalStatus: approval, DoctorID: doctorID}
	}

	tests := []struct {
		name string
		a    *Appointment
		t    Transition
		ok   bool
	}{
		{"complete scheduled", with(StatusScheduled, nil, &doctor), TransitionComplete, true},
		{"complete without doctor", with(StatusScheduled, nil, nil), TransitionComplete, false},
		{"complete pending", with(StatusScheduled, ptr(ApprovalPending), &doctor), TransitionComplete, false},
		{"complete approved", with(StatusScheduled, ptr(ApprovalApproved), &doctor), TransitionComplete, true},
		{"cancel cancelled", with(StatusCancelled, nil, &doctor), TransitionCancel, false},
		{"cancel completed", with(StatusCompleted, nil, &doctor), TransitionCancel, false},
		{"reschedule rescheduled", with(StatusRescheduled, nil, &doctor), TransitionReschedule, false},
		{"reschedule scheduled", with(StatusScheduled, nil, &doctor), TransitionReschedule, true},
		{"approve pending", with(StatusScheduled, ptr(ApprovalPending), nil), TransitionApprove, true},
		{"approve without workflow", with(StatusScheduled, nil, nil), TransitionApprove, false},
		{"reject pending", with(StatusScheduled, ptr(ApprovalPending), nil), TransitionReject, true},
		{"approve completed", with(StatusCompleted, ptr(ApprovalApproved), &doctor), TransitionApprove, false},
		{"assign rejected", with(StatusScheduled, ptr(ApprovalRejected), nil), TransitionAssignDoctor, false},
		{"assign pending", with(StatusScheduled, ptr(ApprovalPending), nil), TransitionAssignDoctor, true},
		{"update scheduled", with(StatusScheduled, nil, nil), TransitionUpdateDetails, true},
		{"unknown", with(StatusScheduled, nil, nil), Transition("archive"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckTransition(tt.a, tt.t)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestInitialState(t *testing.T) {
	status, approval := initialState(auth.RoleHospital, true)
	assert.Equal(t, StatusScheduled, status)
	assert.Equal(t, ApprovalApproved, *approval)

	_, approval = initialState(auth.RolePatient, true)
	assert.Equal(t, ApprovalPending, *approval)

	_, approval = initialState(auth.RoleDoctor, false)
	assert.Nil(t, approval)
}
