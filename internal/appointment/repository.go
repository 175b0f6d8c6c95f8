package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all store interactions needed by the service.
type Repository interface {
	// Tx runs fn as one atomic unit. fn must only use the Repository it is given.
	Tx(ctx context.Context, fn func(tx Repository) error) error
	// LockDoctor serializes check-then-write sections for one doctor until the
	// surrounding Tx ends. Stores without transactions rely on the service Locker.
	LockDoctor(ctx context.Context, doctorID uuid.UUID) error

	// Directory
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	IsAffiliated(ctx context.Context, hospitalID, doctorID uuid.UUID) (bool, error)

	// Reads
	GetAppointment(ctx context.Context, id uuid.UUID, scope Scope) (*Appointment, error)
	ListAppointments(ctx context.Context, f Filter) ([]Appointment, error)

	// For conflict checks: scheduled appointments of the doctor overlapping iv.
	FindOverlapping(ctx context.Context, doctorID uuid.UUID, iv Interval, exclude *uuid.UUID) ([]Appointment, error)

	// Creation and updates
	InsertAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	// UpdateAppointment applies patch only when the row matches cond, returning
	// ErrAppointmentNotFound when nothing matched.
	UpdateAppointment(ctx context.Context, id uuid.UUID, cond Condition, patch Patch) (*Appointment, error)

	// Reminder worker
	FindDueReminders(ctx context.Context, from, to time.Time) ([]Appointment, error)

	// Notifications
	InsertNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) (*Notification, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
