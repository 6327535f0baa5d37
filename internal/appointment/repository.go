package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrPrescriptionNotFound = errors.New("prescription not found")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentByTransaction(ctx context.Context, tranID string) (*Appointment, error)
	ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error)

	// For conflict and quota checks
	FindActiveForSlot(ctx context.Context, doctorID uuid.UUID, date, clock string) (*Appointment, error)
	CountBillable(ctx context.Context, patientID uuid.UUID) (int, error)

	// Creation and updates. CreateAppointment returns ErrSlotConflict when
	// another active booking already holds the slot.
	CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	SavePrescription(ctx context.Context, id uuid.UUID, p Prescription) (*Appointment, error)

	// Doctor views
	ListDoctorPatients(ctx context.Context, doctorID uuid.UUID) ([]PatientSummary, error)
	ListPatientHistory(ctx context.Context, doctorID, patientID uuid.UUID) ([]Appointment, error)
	ListUpcoming(ctx context.Context, doctorID uuid.UUID, fromDate string, limit int) ([]Appointment, error)

	// Unpaid bookings
	FindAbandoned(ctx context.Context, createdBefore time.Time) ([]Appointment, error)
	DeleteUnpaid(ctx context.Context, id uuid.UUID) (bool, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
