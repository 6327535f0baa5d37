package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/healthcare-booking/internal/catalog"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Active bookings hold their slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusScheduled
}

type PaymentStatus string

const (
	PaymentPending     PaymentStatus = "pending"
	PaymentCompleted   PaymentStatus = "completed"
	PaymentFailed      PaymentStatus = "failed"
	PaymentNotRequired PaymentStatus = "not_required"
)

type Medicine struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions"`
}

type Prescription struct {
	Medicines    []Medicine `json:"medicines"`
	Notes        string     `json:"notes"`
	PrescribedAt time.Time  `json:"prescribedAt"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
}

type Appointment struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	ServiceID     uuid.UUID
	Date          string // YYYY-MM-DD
	Time          string // HH:MM
	Status        Status
	PaymentStatus PaymentStatus
	Price         float64
	IsFree        bool
	IsPaid        bool
	TransactionID *string
	PatientNotes  string
	DoctorNotes   string
	Prescription  *Prescription
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Involves reports whether the actor is the patient or doctor on this booking.
func (a *Appointment) Involves(id uuid.UUID) bool {
	return a.PatientID == id || a.DoctorID == id
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type ListFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Date      string
	Status    Status
	Limit     int
	Offset    int
}

// PatientSummary is one row of a doctor's patient roster. LastVisit and
// TotalVisits count completed visits with that doctor only.
type PatientSummary struct {
	PatientID   uuid.UUID
	Name        string
	Email       string
	PhoneNumber *string
	LastVisit   *string // YYYY-MM-DD, nil before the first completed visit
	TotalVisits int
}

type PaymentRequirement struct {
	RequiresPayment           bool
	Amount                    float64
	RemainingFreeAppointments int
}

type transitionRule struct {
	doctor  bool
	patient bool
}

// transitions lists every status change the workflow accepts and which party
// may request it.
var transitions = map[Status]map[Status]transitionRule{
	StatusPending: {
		StatusScheduled: {doctor: true},
		StatusCancelled: {doctor: true, patient: true},
	},
	StatusScheduled: {
		StatusCompleted: {doctor: true},
		StatusCancelled: {doctor: true, patient: true},
	},
}

func CanTransition(from, to Status) bool {
	_, ok := transitions[from][to]
	return ok
}

func canRequest(from, to Status, role catalog.Role) bool {
	rule, ok := transitions[from][to]
	if !ok {
		return false
	}
	switch role {
	case catalog.RoleDoctor:
		return rule.doctor
	case catalog.RolePatient:
		return rule.patient
	}
	return false
}
