package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/dental-unit-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Scheduler *scheduling.Scheduler
	Logger    zerolog.Logger
	// Dependencies are pinged by /health/ready.
	Dependencies []Dependency
	// JWTSecret enables bearer-token checks. Empty leaves every route open.
	JWTSecret string
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.Env, cfg.Version, cfg.Dependencies...)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	svc, log := cfg.Scheduler, cfg.Logger
	allow := func(roles ...string) func(http.Handler) http.Handler {
		if cfg.JWTSecret == "" {
			return func(next http.Handler) http.Handler { return next }
		}
		return RequireRole(roles...)
	}

	r.Group(func(r chi.Router) {
		if cfg.JWTSecret != "" {
			r.Use(AuthMiddleware([]byte(cfg.JWTSecret)))
		}

		r.Get("/slots", slotsHandler(svc))
		r.With(allow(RoleStaff, RoleDentist)).Get("/dentists", listDentistsHandler(svc, log))

		r.With(allow(RoleStaff, RoleDentist)).Get("/availability", getAvailabilityHandler(svc, log))
		r.With(allow(RoleStaff, RoleDentist)).Post("/availability", declareAvailabilityHandler(svc, log))

		r.With(allow(RoleStaff)).Post("/assign", assignHandler(svc, log))

		r.Route("/appointments", func(r chi.Router) {
			r.With(allow(RoleStaff, RoleDentist, RolePatient)).Get("/", listAppointmentsHandler(svc, log))
			r.With(allow(RoleStaff, RoleDentist, RolePatient)).Get("/{id}", getAppointmentHandler(svc, log))
			r.With(allow(RoleStaff, RolePatient)).Post("/{id}/cancel", cancelAppointmentHandler(svc, log))
			r.With(allow(RoleStaff, RolePatient)).Post("/{id}/reschedule", rescheduleAppointmentHandler(svc, log))

			r.Group(func(r chi.Router) {
				r.Use(allow(RoleStaff, RoleDentist))
				r.Post("/{id}/confirm", transitionHandler(log, func(r *http.Request, id uuid.UUID) (*scheduling.Appointment, error) {
					return svc.Confirm(r.Context(), id)
				}))
				r.Post("/{id}/start", transitionHandler(log, func(r *http.Request, id uuid.UUID) (*scheduling.Appointment, error) {
					return svc.Start(r.Context(), id)
				}))
				r.Post("/{id}/complete", transitionHandler(log, func(r *http.Request, id uuid.UUID) (*scheduling.Appointment, error) {
					return svc.Complete(r.Context(), id)
				}))
			})
		})

		r.Route("/requests", func(r chi.Router) {
			r.With(allow(RoleStaff)).Get("/", listRequestsHandler(svc, log))
			r.With(allow(RoleStaff, RolePatient)).Post("/", createRequestHandler(svc, log))
			r.With(allow(RoleStaff, RolePatient)).Post("/{id}/cancel", cancelRequestHandler(svc, log))
		})

		r.Route("/units", func(r chi.Router) {
			r.With(allow(RoleStaff, RoleDentist)).Get("/", listUnitsHandler(svc, log))

			r.Group(func(r chi.Router) {
				r.Use(allow(RoleStaff))
				r.Post("/", createUnitHandler(svc, log))
				r.Patch("/{id}", renameUnitHandler(svc, log))
				r.Put("/{id}/status", setUnitStatusHandler(svc, log))
				r.Delete("/{id}", deleteUnitHandler(svc, log))
			})
		})
	})

	return r
}
