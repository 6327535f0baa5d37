package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/healthcare-booking/internal/auth"
	"github.com/hackgods/healthcare-booking/internal/catalog"
	"github.com/hackgods/healthcare-booking/internal/config"
	"github.com/hackgods/healthcare-booking/internal/metrics"
	redisclient "github.com/hackgods/healthcare-booking/internal/redis"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventStatusChanged        = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventPrescriptionSaved    = "PRESCRIPTION_SAVED"
	EventPaymentAbandoned     = "PAYMENT_ABANDONED"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// A busy slot lock usually means a request that is about to finish, and may
// yet fail. Wait for it a few times before calling the slot taken.
const (
	slotLockAttempts = 4
	slotLockBackoff  = 50 * time.Millisecond
)

var (
	ErrSlotConflict      = errors.New("time slot is already booked")
	ErrFreeQuotaExceeded = errors.New("free appointment limit reached, payment required")
	ErrBookingInProgress = errors.New("another booking for this patient is in progress, please retry")
	ErrValidation        = errors.New("validation failed")
	ErrForbidden         = errors.New("not allowed to act on this appointment")
	ErrInvalidTransition = errors.New("invalid status transition")
)

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Directory resolves the people and services a booking refers to.
type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*catalog.User, error)
	GetService(ctx context.Context, id uuid.UUID) (*catalog.Service, error)
}

type Service struct {
	repo    Repository
	dir     Directory
	locker  redisclient.Locker
	cfg     config.Config
	logger  zerolog.Logger
	metrics *metrics.Collector
	now     func() time.Time

	lockAttempts int
	lockBackoff  time.Duration
}

func NewService(repo Repository, dir Directory, locker redisclient.Locker, cfg config.Config, logger zerolog.Logger, m *metrics.Collector) *Service {
	return &Service{
		repo:    repo,
		dir:     dir,
		locker:  locker,
		cfg:     cfg,
		logger:  logger.With().Str("component", "appointment").Logger(),
		metrics: m,
		now:     time.Now,

		lockAttempts: slotLockAttempts,
		lockBackoff:  slotLockBackoff,
	}
}

type CreateInput struct {
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	ServiceID       uuid.UUID
	Date            string
	Time            string
	Notes           string
	RequiresPayment bool
}

// ValidateSlot checks the date is a real YYYY-MM-DD calendar day and the time
// is a 24h HH:MM clock.
func ValidateSlot(date, clock string) error {
	if len(date) != 10 {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	if !clockPattern.MatchString(clock) {
		return fmt.Errorf("%w: time must be HH:MM", ErrValidation)
	}
	return nil
}

// CreateAppointment books a slot for a patient. A Redis lock on the slot keeps
// concurrent requests from racing; the partial unique index on active bookings
// is the final word if the lock is lost.
func (s *Service) CreateAppointment(ctx context.Context, in CreateInput) (*Appointment, error) {
	in.Date = strings.TrimSpace(in.Date)
	in.Time = strings.TrimSpace(in.Time)
	if err := ValidateSlot(in.Date, in.Time); err != nil {
		return nil, err
	}

	if _, err := s.requireRole(ctx, in.PatientID, catalog.RolePatient); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if _, err := s.requireRole(ctx, in.DoctorID, catalog.RoleDoctor); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	var (
		created *Appointment
		err     error
	)
	for attempt := 1; ; attempt++ {
		created, err = s.bookSlot(ctx, in)
		if !slotBusy(err) || attempt >= s.lockAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * s.lockBackoff):
		}
	}

	if err != nil {
		switch {
		case errors.Is(err, ErrSlotConflict):
			s.metrics.BookingRejected.WithLabelValues("slot_conflict").Inc()
		case errors.Is(err, ErrFreeQuotaExceeded):
			s.metrics.BookingRejected.WithLabelValues("free_quota").Inc()
		case errors.Is(err, ErrBookingInProgress):
			s.metrics.BookingRejected.WithLabelValues("in_progress").Inc()
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			// still held after every wait
			s.metrics.BookingRejected.WithLabelValues("slot_conflict").Inc()
			return nil, fmt.Errorf("%w: %w", ErrSlotConflict, err)
		}
		return nil, err
	}

	mode := "paid"
	if created.IsFree {
		mode = "free"
	}
	s.metrics.AppointmentsCreated.WithLabelValues(mode).Inc()

	s.logger.Info().
		Str("appointment_id", created.ID.String()).
		Str("doctor_id", created.DoctorID.String()).
		Str("date", created.Date).
		Str("time", created.Time).
		Str("mode", mode).
		Msg("appointment created")

	return created, nil
}

// bookSlot runs the slot check and insert under the slot lock.
func (s *Service) bookSlot(ctx context.Context, in CreateInput) (*Appointment, error) {
	var created *Appointment

	err := s.locker.WithLock(ctx, redisclient.SlotKey(in.DoctorID, in.Date, in.Time), func(lockCtx context.Context) error {
		existing, err := s.repo.FindActiveForSlot(lockCtx, in.DoctorID, in.Date, in.Time)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check slot: %w", err)
		}
		if existing != nil {
			return ErrSlotConflict
		}

		if in.RequiresPayment {
			created, err = s.insert(lockCtx, in)
			return err
		}

		// Count and insert under the patient lock so two parallel free bookings
		// cannot both see quota left.
		err = s.locker.WithLock(lockCtx, redisclient.PatientKey(in.PatientID), func(quotaCtx context.Context) error {
			used, err := s.repo.CountBillable(quotaCtx, in.PatientID)
			if err != nil {
				return err
			}
			if used >= s.cfg.FreeAppointmentQuota {
				return ErrFreeQuotaExceeded
			}
			created, err = s.insert(quotaCtx, in)
			return err
		})
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return fmt.Errorf("%w: %w", ErrBookingInProgress, err)
		}
		return err
	})
	return created, err
}

// slotBusy is true only when the slot lock itself was contended.
func slotBusy(err error) bool {
	return errors.Is(err, redisclient.ErrLockNotAcquired) && !errors.Is(err, ErrBookingInProgress)
}

func (s *Service) insert(ctx context.Context, in CreateInput) (*Appointment, error) {
	svc, err := s.dir.GetService(ctx, in.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}
	if !svc.IsActive {
		return nil, fmt.Errorf("load service: %w", catalog.ErrServiceNotFound)
	}

	appt := Appointment{
		PatientID:    in.PatientID,
		DoctorID:     in.DoctorID,
		ServiceID:    in.ServiceID,
		Date:         in.Date,
		Time:         in.Time,
		Status:       StatusPending,
		PatientNotes: strings.TrimSpace(in.Notes),
	}
	if in.RequiresPayment {
		appt.Price = svc.Price
		appt.PaymentStatus = PaymentPending
	} else {
		appt.Price = 0
		appt.PaymentStatus = PaymentNotRequired
		appt.IsFree = true
	}

	created, err := s.repo.CreateAppointment(ctx, appt)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"patient_id": created.PatientID.String(),
		"doctor_id":  created.DoctorID.String(),
		"service_id": created.ServiceID.String(),
		"date":       created.Date,
		"time":       created.Time,
		"is_free":    created.IsFree,
		"price":      created.Price,
	})

	return created, nil
}

func (s *Service) requireRole(ctx context.Context, id uuid.UUID, role catalog.Role) (*catalog.User, error) {
	u, err := s.dir.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role != role {
		return nil, catalog.ErrUserNotFound
	}
	return u, nil
}

// CheckPaymentRequirement tells the client whether the next booking for this
// service will need payment.
func (s *Service) CheckPaymentRequirement(ctx context.Context, patientID, serviceID uuid.UUID) (*PaymentRequirement, error) {
	if _, err := s.requireRole(ctx, patientID, catalog.RolePatient); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}

	svc, err := s.dir.GetService(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}

	used, err := s.repo.CountBillable(ctx, patientID)
	if err != nil {
		return nil, err
	}

	quota := s.cfg.FreeAppointmentQuota
	req := &PaymentRequirement{
		RequiresPayment:           used >= quota,
		RemainingFreeAppointments: max(0, quota-used),
	}
	if req.RequiresPayment {
		req.Amount = svc.Price
	}
	return req, nil
}

// UpdateStatus applies one step of the lifecycle on behalf of actor.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, actor auth.Actor, to Status) (*Appointment, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, to)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if !isParty(appt, actor) {
		return nil, ErrForbidden
	}

	from := appt.Status
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if !canRequest(from, to, actor.Role) {
		return nil, ErrForbidden
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, from, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// status moved underneath us
			return nil, fmt.Errorf("%w: appointment is no longer %s", ErrInvalidTransition, from)
		}
		return nil, fmt.Errorf("update status: %w", err)
	}

	s.metrics.StatusTransitions.WithLabelValues(string(from), string(to)).Inc()

	eventType := EventStatusChanged
	if to == StatusCancelled {
		eventType = EventAppointmentCancelled
	}
	s.logEvent(ctx, updated.ID, eventType, map[string]any{
		"from":     from,
		"to":       to,
		"actor_id": actor.ID.String(),
		"role":     actor.Role,
	})

	return updated, nil
}

func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, actor auth.Actor) (*Appointment, error) {
	return s.UpdateStatus(ctx, id, actor, StatusCancelled)
}

func isParty(a *Appointment, actor auth.Actor) bool {
	switch actor.Role {
	case catalog.RolePatient:
		return a.PatientID == actor.ID
	case catalog.RoleDoctor:
		return a.DoctorID == actor.ID
	}
	return false
}

func canView(a *Appointment, actor auth.Actor) bool {
	return actor.IsAdmin() || isParty(a, actor)
}

// GetAppointment is visible to admins and the two parties of the booking.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID, actor auth.Actor) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if !canView(appt, actor) {
		return nil, ErrForbidden
	}
	return appt, nil
}

func (s *Service) GetAppointmentByTransaction(ctx context.Context, tranID string, actor auth.Actor) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByTransaction(ctx, tranID)
	if err != nil {
		return nil, fmt.Errorf("get appointment by transaction: %w", err)
	}
	if !canView(appt, actor) {
		return nil, ErrForbidden
	}
	return appt, nil
}

// ListAppointments scopes the listing to the actor: patients and doctors see
// their own bookings, admins see everything. A doctor may narrow to one
// patient and a patient to one doctor.
func (s *Service) ListAppointments(ctx context.Context, actor auth.Actor, f ListFilter) ([]Appointment, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	if f.Date != "" {
		if _, err := time.Parse("2006-01-02", f.Date); err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
		}
	}

	// the caller's own id always wins; the other party filter is kept
	switch actor.Role {
	case catalog.RolePatient:
		f.PatientID = &actor.ID
	case catalog.RoleDoctor:
		f.DoctorID = &actor.ID
	case catalog.RoleAdmin:
	default:
		return nil, ErrForbidden
	}

	appointments, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appointments, nil
}

func requireDoctor(actor auth.Actor) error {
	if actor.Role != catalog.RoleDoctor {
		return ErrForbidden
	}
	return nil
}

// DoctorPatients is the calling doctor's roster: everyone who has booked with
// them, with completed visit counts.
func (s *Service) DoctorPatients(ctx context.Context, actor auth.Actor) ([]PatientSummary, error) {
	if err := requireDoctor(actor); err != nil {
		return nil, err
	}
	patients, err := s.repo.ListDoctorPatients(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list doctor patients: %w", err)
	}
	return patients, nil
}

// PatientHistory returns every booking between the calling doctor and one
// patient, newest first, prescriptions included.
func (s *Service) PatientHistory(ctx context.Context, actor auth.Actor, patientID uuid.UUID) ([]Appointment, error) {
	if err := requireDoctor(actor); err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, patientID, catalog.RolePatient); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	history, err := s.repo.ListPatientHistory(ctx, actor.ID, patientID)
	if err != nil {
		return nil, fmt.Errorf("list patient history: %w", err)
	}
	return history, nil
}

// DoctorSchedule lists the calling doctor's pending and scheduled bookings
// from today on, soonest first.
func (s *Service) DoctorSchedule(ctx context.Context, actor auth.Actor, limit int) ([]Appointment, error) {
	if err := requireDoctor(actor); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	today := s.now().Format("2006-01-02")
	upcoming, err := s.repo.ListUpcoming(ctx, actor.ID, today, limit)
	if err != nil {
		return nil, fmt.Errorf("list schedule: %w", err)
	}
	return upcoming, nil
}

type PrescriptionInput struct {
	Medicines []Medicine
	Notes     string
}

// SavePrescription records or revises the prescription of a completed visit.
// Revising keeps the original prescribed time.
func (s *Service) SavePrescription(ctx context.Context, id uuid.UUID, actor auth.Actor, in PrescriptionInput, revise bool) (*Appointment, error) {
	if len(in.Medicines) == 0 {
		return nil, fmt.Errorf("%w: at least one medicine is required", ErrValidation)
	}
	for i, m := range in.Medicines {
		if strings.TrimSpace(m.Name) == "" {
			return nil, fmt.Errorf("%w: medicine %d has no name", ErrValidation, i+1)
		}
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if actor.Role != catalog.RoleDoctor || appt.DoctorID != actor.ID {
		return nil, ErrForbidden
	}
	if appt.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: prescriptions require a completed appointment", ErrInvalidTransition)
	}

	now := s.now().UTC()
	p := Prescription{
		Medicines:    in.Medicines,
		Notes:        strings.TrimSpace(in.Notes),
		PrescribedAt: now,
	}
	if revise {
		if appt.Prescription == nil {
			return nil, ErrPrescriptionNotFound
		}
		p.PrescribedAt = appt.Prescription.PrescribedAt
		p.UpdatedAt = &now
	}

	updated, err := s.repo.SavePrescription(ctx, id, p)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%w: appointment is no longer completed", ErrInvalidTransition)
		}
		return nil, fmt.Errorf("save prescription: %w", err)
	}

	s.metrics.PrescriptionsSaved.Inc()
	s.logEvent(ctx, id, EventPrescriptionSaved, map[string]any{
		"medicines": len(p.Medicines),
		"revised":   revise,
	})

	return updated, nil
}

// ExpireAbandonedPayments releases bookings whose checkout never completed, so
// the slot becomes bookable again. Intended to be called by the worker.
func (s *Service) ExpireAbandonedPayments(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.PaymentSessionTTL)

	candidates, err := s.repo.FindAbandoned(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find abandoned payments: %w", err)
	}

	released := 0
	for _, appt := range candidates {
		deleted, err := s.repo.DeleteUnpaid(ctx, appt.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to release abandoned booking")
			continue
		}
		if !deleted {
			// paid or cancelled since we looked
			continue
		}
		released++
		s.metrics.AbandonedReleased.Inc()
		s.logEvent(ctx, appt.ID, EventPaymentAbandoned, map[string]any{
			"doctor_id":  appt.DoctorID.String(),
			"date":       appt.Date,
			"time":       appt.Time,
			"created_at": appt.CreatedAt,
		})
	}

	return released, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn().Err(err).
			Str("event", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}
