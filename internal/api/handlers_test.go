package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alertmed/scheduling/internal/appointment"
	"github.com/alertmed/scheduling/internal/auth"
	"github.com/alertmed/scheduling/internal/config"
	redisclient "github.com/alertmed/scheduling/internal/redis"
)

type testServer struct {
	handler http.Handler
	issuer  *auth.TokenIssuer
	repo    *appointment.MemoryRepository

	patient  auth.Principal
	doctor   auth.Principal
	hospital auth.Principal
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	repo := appointment.NewMemoryRepository()
	add := func(name string, role auth.Role) auth.Principal {
		u := appointment.NewUser(name, role)
		repo.AddUser(u)
		return auth.Principal{ID: u.ID, Role: role}
	}

	ts := &testServer{
		issuer:   auth.NewTokenIssuer("test-secret", time.Hour),
		repo:     repo,
		patient:  add("patient", auth.RolePatient),
		doctor:   add("doctor", auth.RoleDoctor),
		hospital: add("hospital", auth.RoleHospital),
	}
	repo.Affiliate(ts.hospital.ID, ts.doctor.ID)

	cfg := config.Config{Timezone: "UTC"}
	svc := appointment.NewService(repo, redisclient.NewLocalLocker(), appointment.NewStoreDeliverer(repo), nil, cfg, zerolog.Nop())
	ts.handler = NewRouter(RouterConfig{
		Service:  svc,
		Issuer:   ts.issuer,
		Logger:   zerolog.Nop(),
		Location: cfg.Location(),
		Env:      "test",
	})
	return ts
}

func (ts *testServer) do(t *testing.T, as *auth.Principal, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		token, err := ts.issuer.Issue(*as)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts *testServer) create(t *testing.T, body map[string]any) AppointmentResponse {
	t.Helper()
	rec := ts.do(t, &ts.doctor, http.MethodPost, "/appointments", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[AppointmentResponse](t, rec)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, nil, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = ts.do(t, nil, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "disabled", ready.Dependencies["postgres"])
	assert.Equal(t, "disabled", ready.Dependencies["redis"])
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, nil, http.MethodGet, "/appointments", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", decode[ErrorResponse](t, rec).Error)
}

func TestCreateAppointment_DateAndTime(t *testing.T) {
	ts := newTestServer(t)

	appt := ts.create(t, map[string]any{
		"patient_id": ts.patient.ID,
		"date":       "2024-06-01",
		"time":       "09:00",
		"specialty":  "cardiology",
	})
	assert.Equal(t, "scheduled", appt.Status)
	assert.Equal(t, 60, appt.DurationMinutes)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), appt.ScheduledEnd.UTC())
	require.NotNil(t, appt.DoctorID)
	assert.Equal(t, ts.doctor.ID, *appt.DoctorID)
}

func TestCreateAppointment_Conflict(t *testing.T) {
	ts := newTestServer(t)
	existing := ts.create(t, map[string]any{
		"patient_id":      ts.patient.ID,
		"scheduled_start": "2024-06-01T09:00:00Z",
	})

	rec := ts.do(t, &ts.doctor, http.MethodPost, "/appointments", map[string]any{
		"patient_id":       ts.patient.ID,
		"scheduled_start":  "2024-06-01T09:30:00Z",
		"duration_minutes": 30,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "scheduling_conflict", body.Error)
	require.NotNil(t, body.ID)
	assert.Equal(t, existing.ID, *body.ID)

	rec = ts.do(t, &ts.doctor, http.MethodPost, "/appointments", map[string]any{
		"patient_id":       ts.patient.ID,
		"scheduled_start":  "2024-06-01T10:00:00Z",
		"duration_minutes": 30,
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateAppointment_Validation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"no start", map[string]any{"patient_id": ts.patient.ID}},
		{"bad uuid", map[string]any{"patient_id": "nope", "scheduled_start": "2024-06-01T09:00:00Z"}},
		{"bad start", map[string]any{"patient_id": ts.patient.ID, "scheduled_start": "tomorrow"}},
		{"negative duration", map[string]any{"patient_id": ts.patient.ID, "scheduled_start": "2024-06-01T09:00:00Z", "duration_minutes": -5}},
		{"date without time", map[string]any{"patient_id": ts.patient.ID, "date": "2024-06-01"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, &ts.doctor, http.MethodPost, "/appointments", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "validation_error", decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestLifecycleRoutes(t *testing.T) {
	ts := newTestServer(t)
	appt := ts.create(t, map[string]any{
		"patient_id":      ts.patient.ID,
		"scheduled_start": "2024-06-01T09:00:00Z",
	})
	path := "/appointments/" + appt.ID.String()

	rec := ts.do(t, &ts.doctor, http.MethodPatch, path, map[string]any{"location": "Room 2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Room 2", decode[AppointmentResponse](t, rec).Location)

	rec = ts.do(t, &ts.doctor, http.MethodPost, path+"/reschedule", map[string]any{
		"scheduled_start": "2024-06-01T09:30:00Z",
		"reason":          "running late",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[AppointmentResponse](t, rec)
	require.NotNil(t, moved.RescheduledFromID)
	assert.Equal(t, appt.ID, *moved.RescheduledFromID)

	rec = ts.do(t, &ts.doctor, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rescheduled", decode[AppointmentResponse](t, rec).Status)

	movedPath := "/appointments/" + moved.ID.String()
	rec = ts.do(t, &ts.patient, http.MethodPost, movedPath+"/complete", map[string]any{"diagnosis": "ok"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, &ts.doctor, http.MethodPost, movedPath+"/complete", map[string]any{"diagnosis": "ok"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "completed", done.Status)
	assert.Equal(t, "ok", done.Diagnosis)

	rec = ts.do(t, &ts.patient, http.MethodPost, movedPath+"/cancel", map[string]any{"reason": "changed my mind"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[ErrorResponse](t, rec).Error)

	rec = ts.do(t, &ts.patient, http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, &ts.patient, http.MethodGet, "/appointments/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApprovalRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, &ts.patient, http.MethodPost, "/appointments", map[string]any{
		"hospital_id":     ts.hospital.ID,
		"scheduled_start": "2024-06-01T09:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decode[AppointmentResponse](t, rec)
	require.NotNil(t, appt.ApprovalStatus)
	assert.Equal(t, "pending", *appt.ApprovalStatus)
	path := "/appointments/" + appt.ID.String()

	rec = ts.do(t, &ts.hospital, http.MethodPost, path+"/assign", map[string]any{"doctor_id": ts.doctor.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, &ts.hospital, http.MethodPost, path+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "approved", *decode[AppointmentResponse](t, rec).ApprovalStatus)

	rec = ts.do(t, &ts.hospital, http.MethodPost, path+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, &ts.patient, http.MethodGet, "/notifications?unread=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	inbox := decode[ListNotificationsResponse](t, rec)

	approvals := 0
	for _, n := range inbox.Items {
		if n.Type == appointment.NotificationAppointmentApproved {
			approvals++
		}
	}
	assert.Equal(t, 1, approvals)
	require.NotEmpty(t, inbox.Items)

	rec = ts.do(t, &ts.patient, http.MethodPost, "/notifications/"+inbox.Items[0].ID.String()+"/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[appointment.Notification](t, rec).Read)
}

func TestListAppointments(t *testing.T) {
	ts := newTestServer(t)
	for _, start := range []string{"2024-06-01T09:00:00Z", "2024-06-01T11:00:00Z", "2024-06-02T09:00:00Z"} {
		ts.create(t, map[string]any{"patient_id": ts.patient.ID, "scheduled_start": start})
	}

	rec := ts.do(t, &ts.patient, http.MethodGet, "/appointments?from=2024-06-01&to=2024-06-02", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decode[ListAppointmentsResponse](t, rec)
	assert.Len(t, list.Items, 2)
	assert.Equal(t, 20, list.Limit)

	rec = ts.do(t, &ts.hospital, http.MethodGet, "/appointments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[ListAppointmentsResponse](t, rec).Items)

	rec = ts.do(t, &ts.doctor, http.MethodGet, "/appointments?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
