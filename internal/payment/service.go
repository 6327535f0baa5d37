package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/healthcare-booking/internal/appointment"
	"github.com/hackgods/healthcare-booking/internal/auth"
	"github.com/hackgods/healthcare-booking/internal/catalog"
	"github.com/hackgods/healthcare-booking/internal/config"
	"github.com/hackgods/healthcare-booking/internal/metrics"
)

const (
	EventPaymentInitiated = "PAYMENT_INITIATED"
	EventPaymentCompleted = "PAYMENT_COMPLETED"
	EventPaymentReleased  = "PAYMENT_RELEASED"
	EventPaymentIPN       = "PAYMENT_IPN"
)

const (
	productName     = "Doctor Appointment"
	defaultCity     = "Dhaka"
	defaultAddress  = "Dhaka"
	defaultPhone    = "01700000000"
	compensationTTL = 5 * time.Second
)

var ErrInvalidPaymentStatus = errors.New("invalid payment status")

// Store is the slice of appointment persistence the payment flow needs.
type Store interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	GetAppointmentByTransaction(ctx context.Context, tranID string) (*appointment.Appointment, error)
	SetTransactionID(ctx context.Context, id uuid.UUID, tranID string) error
	ConfirmPayment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	RecordIPN(ctx context.Context, tranID string, valid bool) (*appointment.Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
	InsertEvent(ctx context.Context, ev appointment.EventLog) error
}

type UserLookup interface {
	GetUser(ctx context.Context, id uuid.UUID) (*catalog.User, error)
}

type Service struct {
	store   Store
	users   UserLookup
	gateway Gateway
	cfg     config.Config
	logger  zerolog.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

func NewService(store Store, users UserLookup, gateway Gateway, cfg config.Config, logger zerolog.Logger, m *metrics.Collector) *Service {
	return &Service{
		store:   store,
		users:   users,
		gateway: gateway,
		cfg:     cfg,
		logger:  logger.With().Str("component", "payment").Logger(),
		metrics: m,
		now:     time.Now,
	}
}

// InitiatePayment opens a checkout session for a paid booking and returns the
// hosted checkout URL. If the session cannot be opened the booking is deleted
// so the slot does not stay held by a checkout the patient never saw.
func (s *Service) InitiatePayment(ctx context.Context, actor auth.Actor, appointmentID uuid.UUID, amount float64) (string, error) {
	appt, err := s.store.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return "", fmt.Errorf("load appointment: %w", err)
	}
	if actor.ID != appt.PatientID {
		return "", appointment.ErrForbidden
	}
	if appt.Status != appointment.StatusPending {
		return "", fmt.Errorf("%w: appointment is %s", ErrInvalidPaymentStatus, appt.Status)
	}
	if appt.PaymentStatus != appointment.PaymentPending {
		return "", fmt.Errorf("%w: appointment payment is %s", ErrInvalidPaymentStatus, appt.PaymentStatus)
	}
	if amount != 0 && math.Abs(amount-appt.Price) > 0.005 {
		return "", fmt.Errorf("%w: amount %.2f does not match price %.2f", appointment.ErrValidation, amount, appt.Price)
	}

	checkoutURL, err := s.openSession(ctx, appt)
	if err != nil {
		s.compensate(ctx, appt.ID, err)
		s.metrics.PaymentEvents.WithLabelValues("initiate", "failed").Inc()
		return "", err
	}

	s.metrics.PaymentEvents.WithLabelValues("initiate", "opened").Inc()
	return checkoutURL, nil
}

func (s *Service) openSession(ctx context.Context, appt *appointment.Appointment) (string, error) {
	patient, err := s.users.GetUser(ctx, appt.PatientID)
	if err != nil {
		return "", fmt.Errorf("load patient: %w", err)
	}

	tranID := NewTransactionID(s.now())
	if err := s.store.SetTransactionID(ctx, appt.ID, tranID); err != nil {
		return "", fmt.Errorf("%w: persist transaction id: %w", ErrGateway, err)
	}

	base := s.cfg.BackendURL + "/api/payments"
	req := SessionRequest{
		Amount:          appt.Price,
		Currency:        s.cfg.Gateway.Currency,
		TransactionID:   tranID,
		ProductName:     productName,
		SuccessURL:      base + "/success/" + tranID,
		FailURL:         base + "/fail/" + tranID,
		CancelURL:       base + "/cancel/" + tranID,
		IPNURL:          base + "/ipn",
		CustomerName:    patient.Name,
		CustomerEmail:   patient.Email,
		CustomerAddress: valueOr(patient.Address, defaultAddress),
		CustomerCity:    defaultCity,
		CustomerPhone:   valueOr(patient.PhoneNumber, defaultPhone),
	}

	session, err := s.gateway.InitializeSession(ctx, req)
	if err != nil {
		if errors.Is(err, ErrGateway) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrGateway, err)
	}

	s.logEvent(ctx, appt.ID, EventPaymentInitiated, map[string]any{
		"tran_id": tranID,
		"amount":  appt.Price,
	})
	s.logger.Info().Str("appointment_id", appt.ID.String()).Str("tran_id", tranID).Msg("checkout session opened")

	return session.GatewayURL, nil
}

// compensate deletes the booking after a failed checkout. It runs detached
// from the request context so a client disconnect cannot skip it.
func (s *Service) compensate(ctx context.Context, id uuid.UUID, cause error) {
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTTL)
	defer cancel()

	if err := s.store.DeleteAppointment(delCtx, id); err != nil && !errors.Is(err, appointment.ErrAppointmentNotFound) {
		s.logger.Error().Err(err).Str("appointment_id", id.String()).Msg("failed to delete booking after checkout failure")
		return
	}

	s.logger.Warn().Err(cause).Str("appointment_id", id.String()).Msg("checkout failed, booking released")
	s.logEvent(delCtx, id, EventPaymentReleased, map[string]any{"reason": cause.Error()})
}

// PaymentSuccess confirms the booking behind tranID. Unknown transactions and
// repeated calls are no-ops; the returned appointment is nil when nothing matched.
func (s *Service) PaymentSuccess(ctx context.Context, tranID string) (*appointment.Appointment, error) {
	appt, err := s.lookup(ctx, "success", tranID)
	if appt == nil || err != nil {
		return nil, err
	}

	updated, err := s.store.ConfirmPayment(ctx, appt.ID)
	if err != nil {
		if errors.Is(err, appointment.ErrAppointmentNotFound) {
			// cancelled or completed meanwhile
			s.logger.Warn().Str("tran_id", tranID).Str("status", string(appt.Status)).Msg("payment success for booking that can no longer be scheduled")
			s.metrics.PaymentEvents.WithLabelValues("success", "ignored").Inc()
			return appt, nil
		}
		return nil, fmt.Errorf("confirm payment: %w", err)
	}

	s.metrics.PaymentEvents.WithLabelValues("success", "applied").Inc()
	s.logEvent(ctx, updated.ID, EventPaymentCompleted, map[string]any{"tran_id": tranID})
	return updated, nil
}

// PaymentFail releases the slot by deleting the booking.
func (s *Service) PaymentFail(ctx context.Context, tranID string) (*appointment.Appointment, error) {
	return s.release(ctx, "fail", tranID)
}

func (s *Service) PaymentCancel(ctx context.Context, tranID string) (*appointment.Appointment, error) {
	return s.release(ctx, "cancel", tranID)
}

func (s *Service) release(ctx context.Context, kind, tranID string) (*appointment.Appointment, error) {
	appt, err := s.lookup(ctx, kind, tranID)
	if appt == nil || err != nil {
		return nil, err
	}

	if err := s.store.DeleteAppointment(ctx, appt.ID); err != nil {
		if errors.Is(err, appointment.ErrAppointmentNotFound) {
			return appt, nil
		}
		return nil, fmt.Errorf("delete appointment: %w", err)
	}

	s.metrics.PaymentEvents.WithLabelValues(kind, "released").Inc()
	s.logEvent(ctx, appt.ID, EventPaymentReleased, map[string]any{"tran_id": tranID, "reason": kind})
	return appt, nil
}

// IsValidIPNStatus reports whether the gateway considers the payment settled.
func IsValidIPNStatus(status string) bool {
	return status == "VALID" || status == "VALIDATED"
}

// PaymentIPN applies the gateway's server-to-server notification.
func (s *Service) PaymentIPN(ctx context.Context, tranID, status string) (*appointment.Appointment, error) {
	if tranID == "" {
		s.metrics.PaymentEvents.WithLabelValues("ipn", "not_found").Inc()
		return nil, nil
	}

	valid := IsValidIPNStatus(status)
	updated, err := s.store.RecordIPN(ctx, tranID, valid)
	if err != nil {
		if errors.Is(err, appointment.ErrAppointmentNotFound) {
			s.logger.Warn().Str("tran_id", tranID).Msg("ipn for unknown transaction")
			s.metrics.PaymentEvents.WithLabelValues("ipn", "not_found").Inc()
			return nil, nil
		}
		return nil, fmt.Errorf("record ipn: %w", err)
	}

	outcome := "failed"
	if valid {
		outcome = "validated"
	}
	s.metrics.PaymentEvents.WithLabelValues("ipn", outcome).Inc()
	s.logEvent(ctx, updated.ID, EventPaymentIPN, map[string]any{"tran_id": tranID, "status": status})
	return updated, nil
}

func (s *Service) lookup(ctx context.Context, kind, tranID string) (*appointment.Appointment, error) {
	if tranID == "" {
		s.metrics.PaymentEvents.WithLabelValues(kind, "not_found").Inc()
		return nil, nil
	}

	appt, err := s.store.GetAppointmentByTransaction(ctx, tranID)
	if err != nil {
		if errors.Is(err, appointment.ErrAppointmentNotFound) {
			s.logger.Warn().Str("tran_id", tranID).Str("callback", kind).Msg("callback for unknown transaction")
			s.metrics.PaymentEvents.WithLabelValues(kind, "not_found").Inc()
			return nil, nil
		}
		return nil, fmt.Errorf("find appointment by transaction: %w", err)
	}
	return appt, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = nil
	}

	id := appointmentID
	ev := appointment.EventLog{
		EventType:     eventType,
		AppointmentID: &id,
		Payload:       data,
		CreatedAt:     s.now(),
	}
	if err := s.store.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Str("appointment_id", appointmentID.String()).Msg("failed to insert event log")
	}
}

func valueOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}
