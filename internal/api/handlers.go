package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/alertmed/scheduling/internal/appointment"
	"github.com/alertmed/scheduling/internal/auth"
)

type AppointmentService interface {
	CreateAppointment(ctx context.Context, p auth.Principal, in appointment.CreateInput) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, p auth.Principal, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, p auth.Principal, f appointment.Filter) ([]appointment.Appointment, error)
	UpdateAppointmentDetails(ctx context.Context, p auth.Principal, id uuid.UUID, in appointment.DetailsInput) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, p auth.Principal, id uuid.UUID, reason string) (*appointment.Appointment, error)
	RescheduleAppointment(ctx context.Context, p auth.Principal, id uuid.UUID, in appointment.RescheduleInput) (*appointment.Appointment, error)
	CompleteAppointment(ctx context.Context, p auth.Principal, id uuid.UUID, in appointment.CompleteInput) (*appointment.Appointment, error)
	ApproveAppointment(ctx context.Context, p auth.Principal, id uuid.UUID) (*appointment.Appointment, error)
	RejectAppointment(ctx context.Context, p auth.Principal, id uuid.UUID, reason string) (*appointment.Appointment, error)
	AssignDoctor(ctx context.Context, p auth.Principal, id, doctorID uuid.UUID) (*appointment.Appointment, error)
	ListNotifications(ctx context.Context, p auth.Principal, unreadOnly bool, limit, offset int) ([]appointment.Notification, error)
	MarkNotificationRead(ctx context.Context, p auth.Principal, id uuid.UUID) (*appointment.Notification, error)
}

// principalFrom is only reached behind AuthMiddleware.
func principalFrom(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, err := auth.CurrentPrincipal(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "no authenticated principal")
		return auth.Principal{}, false
	}
	return p, true
}

func (s SlotFields) start(loc *time.Location) (time.Time, error) {
	if s.ScheduledStart != "" {
		t, err := time.Parse(time.RFC3339, s.ScheduledStart)
		if err != nil {
			return time.Time{}, &appointment.Error{Kind: appointment.KindValidation, Message: "scheduled_start must be RFC3339"}
		}
		return t, nil
	}
	if s.Date == "" && s.Time == "" {
		return time.Time{}, &appointment.Error{Kind: appointment.KindValidation, Message: "scheduled_start or date and time is required"}
	}
	return appointment.ParseDateTime(s.Date, s.Time, loc)
}

func createAppointmentHandler(svc AppointmentService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFrom(w, r)
		if !ok {
			return
		}

		var req CreateAppointmentRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}

		start, err := req.start(loc)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		in := appointment.CreateInput{
			ScheduledStart:  start,
			DurationMinutes: req.DurationMinutes,
			Specialty:       req.Specialty,
			AppointmentType: req.AppointmentType,
			Location:        req.Location,
			Notes:           req.Notes,
			RequestApproval: req.RequestApproval,
		}
		if in.PatientID, err = optionalID(req.PatientID, "patient_id"); err != nil {
			writeServiceError(w, r, err)
			return
		}
		if in.DoctorID, err = optionalID(req.DoctorID, "doctor_id"); err != nil {
			writeServiceError(w, r, err)
			return
		}
		if in.HospitalID, err = optionalID(req.HospitalID, "hospital_id"); err != nil {
			writeServiceError(w, r, err)
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), p, in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc AppointmentService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFrom(w, r)
		if !ok {
			return
		}

		f, err := parseFilter(r, loc)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		apps, err := svc.ListAppointments(r.Context(), p, f)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		items := make([]AppointmentResponse, 0, len(apps))
		for i := range apps {
			items = append(items, toAppointmentResponse(&apps[i]))
		}
		writeJSON(w, http.StatusOK, ListAppointmentsResponse{Items: items, Limit: f.Limit, Offset: f.Offset})
	}
}

func parseFilter(r *http.Request, loc *time.Location) (appointment.Filter, error) {
	q := r.URL.Query()
	var f appointment.Filter
	var err error

	if f.PatientID, err = optionalID(q.Get("patient_id"), "patient_id"); err != nil {
		return f, err
	}
	if f.DoctorID, err = optionalID(q.Get("doctor_id"), "doctor_id"); err != nil {
		return f, err
	}
	if f.HospitalID, err = optionalID(q.Get("hospital_id"), "hospital_id"); err != nil {
		return f, err
	}
	if v := q.Get("status"); v != "" {
		s := appointment.AppointmentStatus(v)
		f.Status = &s
	}
	if v := q.Get("approval_status"); v != "" {
		s := appointment.ApprovalStatus(v)
		f.ApprovalStatus = &s
	}
	if f.From, err = queryTime(q.Get("from"), "from", loc); err != nil {
		return f, err
	}
	if f.To, err = queryTime(q.Get("to"), "to", loc); err != nil {
		return f, err
	}
	if f.Limit, f.Offset, err = pagination(r); err != nil {
		return f, err
	}
	return f, nil
}

// queryTime accepts RFC3339 or a bare date, which means midnight in loc.
func queryTime(raw, field string, loc *time.Location) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return nil, &appointment.Error{Kind: appointment.KindValidation, Message: field + " must be RFC3339 or YYYY-MM-DD"}
	}
	return &t, nil
}

func pagination(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	limit, offset := 0, 0
	var err error
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, &appointment.Error{Kind: appointment.KindValidation, Message: "limit must be a non-negative integer"}
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, &appointment.Error{Kind: appointment.KindValidation, Message: "offset must be a non-negative integer"}
		}
	}
	if limit == 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return limit, offset, nil
}

func getAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFrom(w, r)
		if !ok {
			return
		}
		id, err := pathID(r, "id")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		appt, err := svc.GetAppointment(r.Context(), p, id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// mutation wraps the shared shape of the per-appointment POST/PATCH routes:
// principal, path id, body, service call, 200 with the resulting record.
func mutation[Req any](run func(ctx context.Context, p auth.Principal, id uuid.UUID, req Req) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFrom(w, r)
		if !ok {
			return
		}
		id, err := pathID(r, "id")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		var req Req
		if err := decodeAndValidate(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}

		appt, err := run(r.Context(), p, id, req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func updateAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return mutation(func(ctx context.Context, p auth.Principal, id uuid.UUID, req UpdateDetailsRequest) (*appointment.Appointment, error) {
		return svc.UpdateAppointmentDetails(ctx, p, id, appointment.DetailsInput{
			Specialty:       req.Specialty,
			AppointmentType: req.AppointmentType,
			Location:        req.Location,
			Notes:           req.Notes,
		})
	})
}

func cancelAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return mutation(func(ctx context.Context, p auth.Principal, id uuid.UUID, req ReasonRequest) (*appointment.Appointment, error) {
		return svc.CancelAppointment(ctx, p, id, req.Reason)
	})
}

func rescheduleAppointmentHandler(svc AppointmentService, loc *time.Location) http.HandlerFunc {
	return mutation(func(ctx context.Context, p auth.Principal, id uuid.UUID, req RescheduleRequest) (*appointment.Appointment, error) {
		start, err := req.start(loc)
		if err != nil {
			return nil, err
		}
		return svc.RescheduleAppointment(ctx, p, id, appointment.RescheduleInput{
			ScheduledStart:  start,
			DurationMinutes: req.DurationMinutes,
			Reason:          req.Reason,
		})
	})
}

func completeAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return mutation(func(ctx context.Context, p auth.Principal, id uuid.UUID, req CompleteRequest) (*appointment.Appointment, error) {
		return svc.CompleteAppointment(ctx, p, id, appointment.CompleteInput{
			Diagnosis:    req.Diagnosis,
			Prescription: req.Prescription,
			MedicalNotes: req.MedicalNotes,
		})
	})
}

func approveAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return mutation(func(ctx context.Context, p auth.Principal, id uuid.UUID, _ struct{}) (*appointment.Appointment, error) {
		return svc.ApproveAppointment(ctx, p, id)
	})
}

func rejectAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return mutation(func(ctx context.Context, p auth.Principal, id uuid.UUID, req ReasonRequest) (*appointment.Appointment, error) {
		return svc.RejectAppointment(ctx, p, id, req.Reason)
	})
}

func assignDoctorHandler(svc AppointmentService) http.HandlerFunc {
	return mutation(func(ctx context.Context, p auth.Principal, id uuid.UUID, req AssignDoctorRequest) (*appointment.Appointment, error) {
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			return nil, &appointment.Error{Kind: appointment.KindValidation, Message: "doctor_id must be a valid UUID"}
		}
		return svc.AssignDoctor(ctx, p, id, doctorID)
	})
}

func listNotificationsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFrom(w, r)
		if !ok {
			return
		}
		limit, offset, err := pagination(r)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		unreadOnly := r.URL.Query().Get("unread") == "true"

		items, err := svc.ListNotifications(r.Context(), p, unreadOnly, limit, offset)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if items == nil {
			items = []appointment.Notification{}
		}
		writeJSON(w, http.StatusOK, ListNotificationsResponse{Items: items, Limit: limit, Offset: offset})
	}
}

func markNotificationReadHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFrom(w, r)
		if !ok {
			return
		}
		id, err := pathID(r, "id")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		n, err := svc.MarkNotificationRead(r.Context(), p, id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, n)
	}
}
