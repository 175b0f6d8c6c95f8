package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/alertmed/scheduling/internal/auth"
)

type RouterConfig struct {
	Service  AppointmentService
	Issuer   *auth.TokenIssuer
	Logger   zerolog.Logger
	Location *time.Location
	// PgPool and Redis are optional; nil reports the dependency as disabled.
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	r := chi.NewRouter()

	r.Use(hlog.NewHandler(cfg.Logger))
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Issuer))

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", createAppointmentHandler(cfg.Service, loc))
			r.Get("/", listAppointmentsHandler(cfg.Service, loc))
			r.Get("/{id}", getAppointmentHandler(cfg.Service))
			r.Patch("/{id}", updateAppointmentHandler(cfg.Service))
			r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Service))
			r.Post("/{id}/reschedule", rescheduleAppointmentHandler(cfg.Service, loc))
			r.Post("/{id}/complete", completeAppointmentHandler(cfg.Service))
			r.Post("/{id}/approve", approveAppointmentHandler(cfg.Service))
			r.Post("/{id}/reject", rejectAppointmentHandler(cfg.Service))
			r.Post("/{id}/assign", assignDoctorHandler(cfg.Service))
		})

		r.Get("/notifications", listNotificationsHandler(cfg.Service))
		r.Post("/notifications/{id}/read", markNotificationReadHandler(cfg.Service))
	})

	return r
}
