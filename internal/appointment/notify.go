package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alertmed/scheduling/internal/auth"
)

const notificationTimeLayout = "2006-01-02 15:04"

// FanOutEvent describes a committed transition.
type FanOutEvent struct {
	Transition  Transition
	Actor       auth.Role
	Appointment *Appointment
	// Previous is the record before the transition, set for reschedules and reassignments.
	Previous *Appointment
	Reason   string
}

type party int

const (
	partyPatient party = iota
	partyDoctor
	partyHospital
)

func actorParty(r auth.Role) (party, bool) {
	switch r {
	case auth.RolePatient:
		return partyPatient, true
	case auth.RoleDoctor:
		return partyDoctor, true
	case auth.RoleHospital:
		return partyHospital, true
	}
	return 0, false
}

// FanOut computes the notifications a transition produces. It has no side
// effects; persisting and delivering them is the Deliverer's job.
func FanOut(ev FanOutEvent, loc *time.Location) []Notification {
	a := ev.Appointment
	if a == nil {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}

	when := a.ScheduledStart.In(loc).Format(notificationTimeLayout)
	subject := describe(a)

	var out []Notification
	seen := make(map[uuid.UUID]bool)
	add := func(p party, typ NotificationType, content string) {
		var id *uuid.UUID
		switch p {
		case partyPatient:
			id = &a.PatientID
		case partyDoctor:
			id = a.DoctorID
		case partyHospital:
			id = a.HospitalID
		}
		if id == nil || *id == uuid.Nil || seen[*id] {
			return
		}
		seen[*id] = true
		related := a.ID
		out = append(out, Notification{
			UserID:    *id,
			Type:      typ,
			Content:   content,
			RelatedID: &related,
		})
	}

	pending := a.ApprovalStatus != nil && *a.ApprovalStatus == ApprovalPending

	switch ev.Transition {
	case TransitionCreate:
		if pending {
			add(partyHospital, NotificationAppointmentRequested,
				fmt.Sprintf("New %s request for %s awaiting approval.", subject, when))
		}
		if ev.Actor != auth.RolePatient {
			add(partyPatient, NotificationAppointmentScheduled,
				fmt.Sprintf("Your %s was scheduled for %s.", subject, when))
		}
		if ev.Actor == auth.RoleHospital {
			add(partyDoctor, NotificationAppointmentScheduled,
				fmt.Sprintf("A %s was scheduled with you for %s.", subject, when))
		}

	case TransitionComplete:
		add(partyPatient, NotificationAppointmentCompleted,
			fmt.Sprintf("Your %s on %s was completed. Diagnosis and prescription are available.", subject, when))

	case TransitionCancel:
		content := fmt.Sprintf("The %s on %s was cancelled.", subject, when)
		if ev.Reason != "" {
			content += " Reason: " + ev.Reason
		}
		self, _ := actorParty(ev.Actor)
		for _, p := range []party{partyPatient, partyDoctor, partyHospital} {
			if p != self {
				add(p, NotificationAppointmentCancelled, content)
			}
		}

	case TransitionReschedule:
		content := fmt.Sprintf("Your %s was rescheduled", subject)
		if ev.Previous != nil {
			content += " from " + ev.Previous.ScheduledStart.In(loc).Format(notificationTimeLayout)
		}
		content += " to " + when + "."
		if ev.Reason != "" {
			content += " Reason: " + ev.Reason
		}
		add(partyPatient, NotificationAppointmentRescheduled, content)
		if ev.Actor == auth.RoleHospital {
			add(partyDoctor, NotificationAppointmentRescheduled, content)
		}

	case TransitionAssignDoctor:
		add(partyPatient, NotificationAppointmentAssigned,
			fmt.Sprintf("A doctor was assigned to your %s on %s.", subject, when))
		add(partyDoctor, NotificationAppointmentAssigned,
			fmt.Sprintf("You were assigned a %s on %s.", subject, when))

	case TransitionApprove:
		add(partyPatient, NotificationAppointmentApproved,
			fmt.Sprintf("Your %s on %s was approved.", subject, when))
		add(partyDoctor, NotificationAppointmentApproved,
			fmt.Sprintf("A %s with you on %s was approved.", subject, when))

	case TransitionReject:
		content := fmt.Sprintf("Your %s request for %s was rejected.", subject, when)
		if ev.Reason != "" {
			content += " Reason: " + ev.Reason
		}
		add(partyPatient, NotificationAppointmentRejected, content)

	case TransitionRemind:
		add(partyPatient, NotificationAppointmentReminder,
			fmt.Sprintf("Reminder: your %s is on %s.", subject, when))
		add(partyDoctor, NotificationAppointmentReminder,
			fmt.Sprintf("Reminder: you have a %s on %s.", subject, when))
	}

	return out
}

func describe(a *Appointment) string {
	if a.Specialty != "" {
		return a.Specialty + " appointment"
	}
	return "appointment"
}
