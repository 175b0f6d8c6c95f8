package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alertmed/scheduling/internal/auth"
)

func recipients(notes []Notification) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.UserID)
	}
	return out
}

func TestFanOut_Recipients(t *testing.T) {
	patient, doctor, hospital := uuid.New(), uuid.New(), uuid.New()
	a := &Appointment{
		ID:              uuid.New(),
		PatientID:       patient,
		DoctorID:        &doctor,
		HospitalID:      &hospital,
		ScheduledStart:  at(9, 0),
		DurationMinutes: 60,
		Status:          StatusScheduled,
		Specialty:       "dermatology",
	}

	tests := []struct {
		name  string
		t     Transition
		actor auth.Role
		want  []uuid.UUID
	}{
		{"doctor creates", TransitionCreate, auth.RoleDoctor, []uuid.UUID{patient}},
		{"hospital creates", TransitionCreate, auth.RoleHospital, []uuid.UUID{patient, doctor}},
		{"patient creates", TransitionCreate, auth.RolePatient, nil},
		{"complete", TransitionComplete, auth.RoleDoctor, []uuid.UUID{patient}},
		{"patient cancels", TransitionCancel, auth.RolePatient, []uuid.UUID{doctor, hospital}},
		{"doctor cancels", TransitionCancel, auth.RoleDoctor, []uuid.UUID{patient, hospital}},
		{"hospital cancels", TransitionCancel, auth.RoleHospital, []uuid.UUID{patient, doctor}},
		{"doctor reschedules", TransitionReschedule, auth.RoleDoctor, []uuid.UUID{patient}},
		{"hospital reschedules", TransitionReschedule, auth.RoleHospital, []uuid.UUID{patient, doctor}},
		{"approve", TransitionApprove, auth.RoleHospital, []uuid.UUID{patient, doctor}},
		{"reject", TransitionReject, auth.RoleHospital, []uuid.UUID{patient}},
		{"remind", TransitionRemind, "", []uuid.UUID{patient, doctor}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FanOut(FanOutEvent{Transition: tt.t, Actor: tt.actor, Appointment: a}, time.UTC)
			assert.ElementsMatch(t, tt.want, recipients(got))
			for _, n := range got {
				require.NotNil(t, n.RelatedID)
				assert.Equal(t, a.ID, *n.RelatedID)
				assert.Contains(t, n.Content, "dermatology")
			}
		})
	}
}

func TestFanOut_Content(t *testing.T) {
	a := &Appointment{ID: uuid.New(), PatientID: uuid.New(), ScheduledStart: at(15, 30), DurationMinutes: 30}

	got := FanOut(FanOutEvent{Transition: TransitionReject, Actor: auth.RoleHospital, Appointment: a, Reason: "no vacancy"}, time.UTC)
	require.Len(t, got, 1)
	assert.Equal(t, NotificationAppointmentRejected, got[0].Type)
	assert.Contains(t, got[0].Content, "2024-06-01 15:30")
	assert.Contains(t, got[0].Content, "no vacancy")

	saoPaulo := time.FixedZone("BRT", -3*60*60)
	got = FanOut(FanOutEvent{Transition: TransitionComplete, Actor: auth.RoleDoctor, Appointment: a}, saoPaulo)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Content, "2024-06-01 12:30")
}

func TestFanOut_PendingCreateAsksHospital(t *testing.T) {
	hospital := uuid.New()
	a := &Appointment{
		ID:             uuid.New(),
		PatientID:      uuid.New(),
		HospitalID:     &hospital,
		ScheduledStart: at(9, 0),
		ApprovalStatus: ptr(ApprovalPending),
	}

	got := FanOut(FanOutEvent{Transition: TransitionCreate, Actor: auth.RolePatient, Appointment: a}, nil)
	require.Len(t, got, 1)
	assert.Equal(t, hospital, got[0].UserID)
	assert.Equal(t, NotificationAppointmentRequested, got[0].Type)
}

func TestFanOut_DedupsSharedRecipient(t *testing.T) {
	// a doctor booking themselves as a patient
	same := uuid.New()
	a := &Appointment{ID: uuid.New(), PatientID: same, DoctorID: &same, ScheduledStart: at(9, 0)}

	got := FanOut(FanOutEvent{Transition: TransitionRemind, Appointment: a}, time.UTC)
	assert.Len(t, got, 1)
}
