package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alertmed/scheduling/internal/auth"
)

// MemoryRepository is a process-local Repository for development and tests.
// Transactions are serialized and undone from a per-Tx log on failure. It
// enforces the same no-overlap rule the Postgres exclusion constraint does.
type MemoryRepository struct {
	txMu sync.Mutex

	mu            sync.RWMutex
	users         map[uuid.UUID]User
	affiliations  map[[2]uuid.UUID]bool
	appointments  map[uuid.UUID]*Appointment
	notifications []Notification
	events        []EventLog
	now           func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:        make(map[uuid.UUID]User),
		affiliations: make(map[[2]uuid.UUID]bool),
		appointments: make(map[uuid.UUID]*Appointment),
		now:          time.Now,
	}
}

// AddUser registers a directory entry.
func (r *MemoryRepository) AddUser(u User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = r.now()
		u.UpdatedAt = u.CreatedAt
	}
	r.users[u.ID] = u
}

// Affiliate links a doctor to a hospital.
func (r *MemoryRepository) Affiliate(hospitalID, doctorID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.affiliations[[2]uuid.UUID{hospitalID, doctorID}] = true
}

// Events returns a copy of the audit trail.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}

func (r *MemoryRepository) Tx(ctx context.Context, fn func(tx Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	tx := &memoryTx{MemoryRepository: r, undo: make(map[uuid.UUID]*Appointment)}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// memoryTx records the previous version of every appointment it writes so a
// failed Tx can put them back. Nil means the row did not exist.
type memoryTx struct {
	*MemoryRepository
	undo map[uuid.UUID]*Appointment
}

func (t *memoryTx) Tx(ctx context.Context, fn func(tx Repository) error) error {
	return fn(t)
}

func (t *memoryTx) InsertAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	out, err := t.MemoryRepository.InsertAppointment(ctx, a)
	if err == nil {
		t.remember(out.ID, nil)
	}
	return out, err
}

func (t *memoryTx) UpdateAppointment(ctx context.Context, id uuid.UUID, cond Condition, patch Patch) (*Appointment, error) {
	t.mu.RLock()
	prev := t.appointments[id]
	t.mu.RUnlock()

	out, err := t.MemoryRepository.UpdateAppointment(ctx, id, cond, patch)
	if err == nil {
		t.remember(id, prev)
	}
	return out, err
}

func (t *memoryTx) remember(id uuid.UUID, prev *Appointment) {
	if _, seen := t.undo[id]; !seen {
		t.undo[id] = prev
	}
}

func (t *memoryTx) rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, prev := range t.undo {
		if prev == nil {
			delete(t.appointments, id)
			continue
		}
		t.appointments[id] = prev
	}
}

func (r *MemoryRepository) LockDoctor(ctx context.Context, doctorID uuid.UUID) error {
	return nil
}

func (r *MemoryRepository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (r *MemoryRepository) IsAffiliated(ctx context.Context, hospitalID, doctorID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.affiliations[[2]uuid.UUID{hospitalID, doctorID}], nil
}

func (r *MemoryRepository) GetAppointment(ctx context.Context, id uuid.UUID, scope Scope) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok || !scope.Matches(a) {
		return nil, ErrAppointmentNotFound
	}
	return a.clone(), nil
}

func (r *MemoryRepository) ListAppointments(ctx context.Context, f Filter) ([]Appointment, error) {
	r.mu.RLock()
	var out []Appointment
	for _, a := range r.appointments {
		if !f.Scope.Matches(a) {
			continue
		}
		if f.From != nil && a.ScheduledStart.Before(*f.From) {
			continue
		}
		if f.To != nil && !a.ScheduledStart.Before(*f.To) {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.ApprovalStatus != nil && (a.ApprovalStatus == nil || *a.ApprovalStatus != *f.ApprovalStatus) {
			continue
		}
		out = append(out, *a.clone())
	}
	r.mu.RUnlock()

	sortByStart(out)
	return paginate(out, f.Limit, f.Offset), nil
}

func (r *MemoryRepository) FindOverlapping(ctx context.Context, doctorID uuid.UUID, iv Interval, exclude *uuid.UUID) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.overlapping(doctorID, iv, exclude), nil
}

func (r *MemoryRepository) overlapping(doctorID uuid.UUID, iv Interval, exclude *uuid.UUID) []Appointment {
	var out []Appointment
	for _, a := range r.appointments {
		if a.Status != StatusScheduled || !a.HasDoctor(doctorID) {
			continue
		}
		if exclude != nil && a.ID == *exclude {
			continue
		}
		if a.Interval().Overlaps(iv) {
			out = append(out, *a.clone())
		}
	}
	sortByStart(out)
	return out
}

func (r *MemoryRepository) InsertAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := a.clone()
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if _, exists := r.appointments[stored.ID]; exists {
		return nil, fmt.Errorf("appointment %s already exists", stored.ID)
	}
	if r.violatesOverlap(stored) {
		return nil, ErrOverlapConstraint
	}
	now := r.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.appointments[stored.ID] = stored
	return stored.clone(), nil
}

func (r *MemoryRepository) UpdateAppointment(ctx context.Context, id uuid.UUID, cond Condition, patch Patch) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.appointments[id]
	if !ok || !cond.Matches(current) {
		return nil, ErrAppointmentNotFound
	}

	next := current.clone()
	patch.apply(next)
	if r.violatesOverlap(next) {
		return nil, ErrOverlapConstraint
	}
	next.UpdatedAt = r.now()
	if !next.UpdatedAt.After(current.UpdatedAt) {
		next.UpdatedAt = current.UpdatedAt.Add(time.Microsecond)
	}
	r.appointments[id] = next
	return next.clone(), nil
}

func (r *MemoryRepository) violatesOverlap(a *Appointment) bool {
	if a.Status != StatusScheduled || a.DoctorID == nil {
		return false
	}
	return len(r.overlapping(*a.DoctorID, a.Interval(), &a.ID)) > 0
}

func (r *MemoryRepository) FindDueReminders(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	r.mu.RLock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.Status != StatusScheduled || a.ReminderSentAt != nil {
			continue
		}
		if a.ScheduledStart.Before(from) || !a.ScheduledStart.Before(to) {
			continue
		}
		out = append(out, *a.clone())
	}
	r.mu.RUnlock()

	sortByStart(out)
	return out, nil
}

func (r *MemoryRepository) InsertNotification(ctx context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.now()
	}
	r.notifications = append(r.notifications, *n)
	return nil
}

func (r *MemoryRepository) ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]Notification, error) {
	r.mu.RLock()
	var out []Notification
	for i := len(r.notifications) - 1; i >= 0; i-- {
		n := r.notifications[i]
		if n.UserID != userID || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, n)
	}
	r.mu.RUnlock()
	return paginate(out, limit, offset), nil
}

func (r *MemoryRepository) MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) (*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.notifications {
		n := &r.notifications[i]
		if n.ID == id && n.UserID == userID {
			n.Read = true
			out := *n
			return &out, nil
		}
	}
	return nil, ErrNotificationNotFound
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	r.events = append(r.events, ev)
	return nil
}

func sortByStart(apps []Appointment) {
	sort.Slice(apps, func(i, j int) bool {
		if apps[i].ScheduledStart.Equal(apps[j].ScheduledStart) {
			return apps[i].CreatedAt.Before(apps[j].CreatedAt)
		}
		return apps[i].ScheduledStart.Before(apps[j].ScheduledStart)
	})
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// NewUser returns a directory entry with a fresh id.
func NewUser(name string, role auth.Role) User {
	return User{ID: uuid.New(), Name: name, Role: role}
}
