package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/healthcare-booking/internal/appointment"
	"github.com/hackgods/healthcare-booking/internal/auth"
	"github.com/hackgods/healthcare-booking/internal/catalog"
	"github.com/hackgods/healthcare-booking/internal/metrics"
)

type AppointmentService interface {
	CreateAppointment(ctx context.Context, in appointment.CreateInput) (*appointment.Appointment, error)
	CheckPaymentRequirement(ctx context.Context, patientID, serviceID uuid.UUID) (*appointment.PaymentRequirement, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, actor auth.Actor, to appointment.Status) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID, actor auth.Actor) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID, actor auth.Actor) (*appointment.Appointment, error)
	GetAppointmentByTransaction(ctx context.Context, tranID string, actor auth.Actor) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, actor auth.Actor, f appointment.ListFilter) ([]appointment.Appointment, error)
	SavePrescription(ctx context.Context, id uuid.UUID, actor auth.Actor, in appointment.PrescriptionInput, revise bool) (*appointment.Appointment, error)
	DoctorPatients(ctx context.Context, actor auth.Actor) ([]appointment.PatientSummary, error)
	PatientHistory(ctx context.Context, actor auth.Actor, patientID uuid.UUID) ([]appointment.Appointment, error)
	DoctorSchedule(ctx context.Context, actor auth.Actor, limit int) ([]appointment.Appointment, error)
}

type PaymentService interface {
	InitiatePayment(ctx context.Context, actor auth.Actor, appointmentID uuid.UUID, amount float64) (string, error)
	PaymentSuccess(ctx context.Context, tranID string) (*appointment.Appointment, error)
	PaymentFail(ctx context.Context, tranID string) (*appointment.Appointment, error)
	PaymentCancel(ctx context.Context, tranID string) (*appointment.Appointment, error)
	PaymentIPN(ctx context.Context, tranID, status string) (*appointment.Appointment, error)
}

type CatalogService interface {
	ListDoctors(ctx context.Context) ([]catalog.User, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*catalog.User, error)
	ListActiveServices(ctx context.Context) ([]catalog.Service, error)
	CreateService(ctx context.Context, in catalog.NewServiceInput) (*catalog.Service, error)
	DeactivateService(ctx context.Context, id uuid.UUID) (*catalog.Service, error)
	AssignDoctor(ctx context.Context, serviceID, doctorID uuid.UUID) (*catalog.Service, error)
}

type RouterConfig struct {
	Appointments AppointmentService
	Payments     PaymentService
	Catalog      CatalogService
	Tokens       *auth.TokenManager
	Metrics      *metrics.Collector
	Logger       zerolog.Logger
	Health       []Dependency

	FrontendURL            string
	CallbackRateLimitRPS   float64
	CallbackRateLimitBurst int

	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	logger := cfg.Logger

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(RecoveryMiddleware(logger))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	health := NewHealthHandler(cfg.Env, cfg.Version, cfg.Health...)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/api", func(r chi.Router) {
		r.Get("/doctors", listDoctorsHandler(cfg.Catalog, logger))
		r.Get("/doctors/{id}", getDoctorHandler(cfg.Catalog, logger))
		r.Get("/services", listServicesHandler(cfg.Catalog, logger))

		// Gateway callbacks carry no token; the transaction id is the only key.
		// Browser redirects share one per-address budget. The IPN is the
		// authoritative confirmation and is never throttled.
		callbackLimiter := newIPRateLimiter(cfg.CallbackRateLimitRPS, cfg.CallbackRateLimitBurst)
		callbacks := []struct {
			name string
			call callbackFunc
			page string
		}{
			{"success", cfg.Payments.PaymentSuccess, pageSuccess},
			{"fail", cfg.Payments.PaymentFail, pageFailed},
			{"cancel", cfg.Payments.PaymentCancel, pageCancelled},
		}
		for _, cb := range callbacks {
			h := redirectWhenThrottled(callbackLimiter, cfg.FrontendURL+cb.page)(
				gatewayCallbackHandler(cb.call, cfg.FrontendURL, cb.page, logger))
			for _, path := range []string{"/payments/" + cb.name, "/payments/" + cb.name + "/{tran_id}"} {
				r.Method(http.MethodGet, path, h)
				r.Method(http.MethodPost, path, h)
			}
		}
		r.Post("/payments/ipn", ipnHandler(cfg.Payments, logger))

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(cfg.Tokens))

			r.Get("/appointments", listAppointmentsHandler(cfg.Appointments, logger))
			r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments, logger))
			r.Get("/appointments/by-transaction/{transactionId}", getAppointmentByTransactionHandler(cfg.Appointments, logger))

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(catalog.RolePatient))
				r.Post("/appointments", createAppointmentHandler(cfg.Appointments, logger))
				r.Post("/appointments/check-payment", checkPaymentHandler(cfg.Appointments, logger))
				r.Post("/payments/initiate", initiatePaymentHandler(cfg.Payments, logger))
			})

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(catalog.RolePatient, catalog.RoleDoctor))
				r.Put("/appointments/{id}", updateStatusHandler(cfg.Appointments, logger))
				r.Delete("/appointments/{id}", cancelAppointmentHandler(cfg.Appointments, logger))
			})

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(catalog.RoleDoctor))
				r.Get("/doctors/schedule", doctorScheduleHandler(cfg.Appointments, logger))
				r.Get("/doctors/patients/list", doctorPatientsHandler(cfg.Appointments, logger))
				r.Get("/doctors/patients/{id}/history", patientHistoryHandler(cfg.Appointments, logger))
				r.Put("/doctors/appointments/{id}", updateStatusHandler(cfg.Appointments, logger))
				r.Post("/doctors/appointments/{id}/prescription", savePrescriptionHandler(cfg.Appointments, logger, false))
				r.Put("/doctors/appointments/{id}/prescription", savePrescriptionHandler(cfg.Appointments, logger, true))
			})

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(catalog.RoleAdmin))
				r.Post("/services", createServiceHandler(cfg.Catalog, logger))
				r.Delete("/services/{id}", deactivateServiceHandler(cfg.Catalog, logger))
				r.Post("/services/{id}/doctors", assignDoctorHandler(cfg.Catalog, logger))
			})
		})
	})

	return r
}
