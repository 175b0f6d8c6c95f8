package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alertmed/scheduling/internal/auth"
)

// SQLSTATE exclusion_violation, raised by appointments_doctor_no_overlap.
const pgExclusionViolation = "23P01"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
	q    querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

const appointmentColumns = `id, patient_id, doctor_id, hospital_id, scheduled_start, duration_minutes,
	status, approval_status, specialty, appointment_type, location, notes,
	diagnosis, prescription, medical_notes, cancellation_reason, rejection_reason,
	reschedule_reason, rescheduled_from_id, rescheduled_to_id, confirmation_sent,
	confirmation_sent_at, reminder_sent_at, created_at, updated_at`

// Helpers

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role string

	err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	u.Role = auth.Role(role)
	return &u, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	var approval *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.HospitalID,
		&a.ScheduledStart,
		&a.DurationMinutes,
		&status,
		&approval,
		&a.Specialty,
		&a.AppointmentType,
		&a.Location,
		&a.Notes,
		&a.Diagnosis,
		&a.Prescription,
		&a.MedicalNotes,
		&a.CancellationReason,
		&a.RejectionReason,
		&a.RescheduleReason,
		&a.RescheduledFromID,
		&a.RescheduledToID,
		&a.ConfirmationSent,
		&a.ConfirmationSentAt,
		&a.ReminderSentAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = AppointmentStatus(status)
	if approval != nil {
		s := ApprovalStatus(*approval)
		a.ApprovalStatus = &s
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation {
		return ErrOverlapConstraint
	}
	return err
}

func approvalArg(s *ApprovalStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

// whereBuilder accumulates AND-ed predicates with positional arguments.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(w.args))))
}

func (w *whereBuilder) raw(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *whereBuilder) scope(s Scope) {
	if s.PatientID != nil {
		w.add("patient_id = ?", *s.PatientID)
	}
	if s.DoctorID != nil {
		w.add("doctor_id = ?", *s.DoctorID)
	}
	if s.HospitalID != nil {
		w.add("hospital_id = ?", *s.HospitalID)
	}
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return "TRUE"
	}
	return strings.Join(w.clauses, " AND ")
}

// Interface methods

func (r *PgRepository) Tx(ctx context.Context, fn func(tx Repository) error) error {
	if r.pool == nil {
		// already inside a transaction
		return fn(r)
	}
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&PgRepository{q: tx})
	})
}

// LockDoctor takes a transaction scoped advisory lock keyed on the doctor id.
// Outside a transaction it would be released immediately, so it is refused.
func (r *PgRepository) LockDoctor(ctx context.Context, doctorID uuid.UUID) error {
	if r.pool != nil {
		return errors.New("LockDoctor requires a transaction")
	}
	_, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, doctorID.String())
	if err != nil {
		return fmt.Errorf("advisory lock doctor %s: %w", doctorID, err)
	}
	return nil
}

func (r *PgRepository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, email, role, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (r *PgRepository) IsAffiliated(ctx context.Context, hospitalID, doctorID uuid.UUID) (bool, error) {
	var ok bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM hospital_doctors WHERE hospital_id = $1 AND doctor_id = $2
		)
	`, hospitalID, doctorID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check affiliation: %w", err)
	}
	return ok, nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID, scope Scope) (*Appointment, error) {
	w := &whereBuilder{}
	w.add("id = ?", id)
	w.scope(scope)

	row := r.q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE `+w.sql(), w.args...)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f Filter) ([]Appointment, error) {
	w := &whereBuilder{}
	w.scope(f.Scope)
	if f.From != nil {
		w.add("scheduled_start >= ?", *f.From)
	}
	if f.To != nil {
		w.add("scheduled_start < ?", *f.To)
	}
	if f.Status != nil {
		w.add("status = ?", string(*f.Status))
	}
	if f.ApprovalStatus != nil {
		w.add("approval_status = ?", string(*f.ApprovalStatus))
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE ` + w.sql() +
		` ORDER BY scheduled_start, created_at`
	if f.Limit > 0 {
		w.args = append(w.args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(w.args))
	}
	if f.Offset > 0 {
		w.args = append(w.args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(w.args))
	}

	rows, err := r.q.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindOverlapping(ctx context.Context, doctorID uuid.UUID, iv Interval, exclude *uuid.UUID) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND status = 'scheduled'
		  AND scheduled_start < $3
		  AND scheduled_end > $2
		  AND ($4::uuid IS NULL OR id <> $4::uuid)
		ORDER BY scheduled_start
	`, doctorID, iv.Start, iv.End, exclude)
	if err != nil {
		return nil, fmt.Errorf("find overlapping appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	iv := a.Interval()

	row := r.q.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, doctor_id, hospital_id, scheduled_start, scheduled_end, duration_minutes,
			status, approval_status, specialty, appointment_type, location, notes,
			reschedule_reason, rescheduled_from_id, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now(), now())
		RETURNING `+appointmentColumns,
		id, a.PatientID, a.DoctorID, a.HospitalID, iv.Start, iv.End, a.DurationMinutes,
		string(a.Status), approvalArg(a.ApprovalStatus), a.Specialty, a.AppointmentType, a.Location, a.Notes,
		a.RescheduleReason, a.RescheduledFromID,
	)

	out, err := scanAppointment(row)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return out, nil
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, id uuid.UUID, cond Condition, patch Patch) (*Appointment, error) {
	var sets []string
	var args []any
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.Status != nil {
		set("status", string(*patch.Status))
	}
	if patch.ApprovalStatus != nil {
		set("approval_status", string(*patch.ApprovalStatus))
	}
	if patch.DoctorID != nil {
		set("doctor_id", *patch.DoctorID)
	}
	if patch.ScheduledStart != nil || patch.DurationMinutes != nil {
		args = append(args, patch.ScheduledStart, patch.DurationMinutes)
		startArg, durArg := len(args)-1, len(args)
		sets = append(sets,
			fmt.Sprintf("scheduled_start = COALESCE($%d::timestamptz, scheduled_start)", startArg),
			fmt.Sprintf("duration_minutes = COALESCE($%d::int, duration_minutes)", durArg),
			fmt.Sprintf("scheduled_end = COALESCE($%d::timestamptz, scheduled_start) + make_interval(mins => COALESCE($%d::int, duration_minutes))", startArg, durArg),
		)
	}
	strs := []struct {
		col string
		v   *string
	}{
		{"specialty", patch.Specialty},
		{"appointment_type", patch.AppointmentType},
		{"location", patch.Location},
		{"notes", patch.Notes},
		{"diagnosis", patch.Diagnosis},
		{"prescription", patch.Prescription},
		{"medical_notes", patch.MedicalNotes},
		{"cancellation_reason", patch.CancellationReason},
		{"rejection_reason", patch.RejectionReason},
	}
	for _, s := range strs {
		if s.v != nil {
			set(s.col, *s.v)
		}
	}
	if patch.RescheduledToID != nil {
		set("rescheduled_to_id", *patch.RescheduledToID)
	}
	if patch.ConfirmationSent != nil {
		set("confirmation_sent", *patch.ConfirmationSent)
	}
	if patch.ConfirmationSentAt != nil {
		set("confirmation_sent_at", *patch.ConfirmationSentAt)
	}
	if patch.ReminderSentAt != nil {
		set("reminder_sent_at", *patch.ReminderSentAt)
	}
	sets = append(sets, "updated_at = now()")

	w := &whereBuilder{args: args}
	w.add("id = ?", id)
	w.scope(cond.Scope)
	if cond.Status != nil {
		w.add("status = ?", string(*cond.Status))
	}
	if cond.ApprovalStatus != nil {
		w.add("approval_status = ?", string(*cond.ApprovalStatus))
	}
	if cond.ReminderUnsent {
		w.raw("reminder_sent_at IS NULL")
	}
	if cond.Unassigned {
		w.raw("doctor_id IS NULL")
	}

	row := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET `+strings.Join(sets, ", ")+`
		WHERE `+w.sql()+`
		RETURNING `+appointmentColumns,
		w.args...,
	)

	out, err := scanAppointment(row)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return out, nil
}

func (r *PgRepository) FindDueReminders(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'scheduled'
		  AND reminder_sent_at IS NULL
		  AND scheduled_start >= $1
		  AND scheduled_start < $2
		ORDER BY scheduled_start
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("find due reminders: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertNotification(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}

	err := r.q.QueryRow(ctx, `
		INSERT INTO notifications (id, user_id, type, content, related_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, false, COALESCE($6, now()))
		RETURNING created_at
	`, n.ID, n.UserID, string(n.Type), n.Content, n.RelatedID, nullableTime(n.CreatedAt)).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	var typ string

	err := row.Scan(&n.ID, &n.UserID, &typ, &n.Content, &n.RelatedID, &n.Read, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}

	n.Type = NotificationType(typ)
	return &n, nil
}

func (r *PgRepository) ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.q.Query(ctx, `
		SELECT id, user_id, type, content, related_id, read, created_at
		FROM notifications
		WHERE user_id = $1
		  AND (NOT $2 OR read = false)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, userID, unreadOnly, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var result []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *n)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) (*Notification, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE notifications
		SET read = true
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, type, content, related_id, read, created_at
	`, id, userID)
	return scanNotification(row)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
