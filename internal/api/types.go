package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/healthcare-booking/internal/appointment"
	"github.com/hackgods/healthcare-booking/internal/catalog"
)

type CreateAppointmentRequest struct {
	DoctorID        string `json:"doctorId"`
	ServiceID       string `json:"serviceId"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	PatientNotes    string `json:"patientNotes"`
	RequiresPayment bool   `json:"requiresPayment"`
}

type CheckPaymentRequest struct {
	ServiceID string `json:"serviceId"`
}

type CheckPaymentResponse struct {
	RequiresPayment           bool    `json:"requiresPayment"`
	Amount                    float64 `json:"amount"`
	RemainingFreeAppointments int     `json:"remainingFreeAppointments"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type PrescriptionRequest struct {
	Medicines []appointment.Medicine `json:"medicines"`
	Notes     string                 `json:"notes"`
}

type InitiatePaymentRequest struct {
	AppointmentID string  `json:"appointmentId"`
	Amount        float64 `json:"amount"`
}

type InitiatePaymentResponse struct {
	URL string `json:"url"`
}

type IPNRequest struct {
	TranID string `json:"tran_id"`
	Status string `json:"status"`
}

type CreateServiceRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Duration    int     `json:"duration"`
	Price       float64 `json:"price"`
}

type AssignDoctorRequest struct {
	DoctorID string `json:"doctorId"`
}

type AppointmentResponse struct {
	ID            uuid.UUID                 `json:"id"`
	PatientID     uuid.UUID                 `json:"patientId"`
	DoctorID      uuid.UUID                 `json:"doctorId"`
	ServiceID     uuid.UUID                 `json:"serviceId"`
	Date          string                    `json:"date"`
	Time          string                    `json:"time"`
	Status        string                    `json:"status"`
	PaymentStatus string                    `json:"paymentStatus"`
	Price         float64                   `json:"price"`
	IsFree        bool                      `json:"isFree"`
	IsPaid        bool                      `json:"isPaid"`
	TransactionID *string                   `json:"transactionId,omitempty"`
	PatientNotes  string                    `json:"patientNotes,omitempty"`
	DoctorNotes   string                    `json:"doctorNotes,omitempty"`
	Prescription  *appointment.Prescription `json:"prescription,omitempty"`
	CreatedAt     time.Time                 `json:"createdAt"`
	UpdatedAt     time.Time                 `json:"updatedAt"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:            a.ID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		ServiceID:     a.ServiceID,
		Date:          a.Date,
		Time:          a.Time,
		Status:        string(a.Status),
		PaymentStatus: string(a.PaymentStatus),
		Price:         a.Price,
		IsFree:        a.IsFree,
		IsPaid:        a.IsPaid,
		TransactionID: a.TransactionID,
		PatientNotes:  a.PatientNotes,
		DoctorNotes:   a.DoctorNotes,
		Prescription:  a.Prescription,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func toAppointmentList(appts []appointment.Appointment) []AppointmentResponse {
	resp := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		resp = append(resp, toAppointmentResponse(&appts[i]))
	}
	return resp
}

type PatientSummaryResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	PhoneNumber *string   `json:"phoneNumber,omitempty"`
	LastVisit   *string   `json:"lastVisit"`
	TotalVisits int       `json:"totalVisits"`
}

func toPatientSummaryResponse(p appointment.PatientSummary) PatientSummaryResponse {
	return PatientSummaryResponse{
		ID:          p.PatientID,
		Name:        p.Name,
		Email:       p.Email,
		PhoneNumber: p.PhoneNumber,
		LastVisit:   p.LastVisit,
		TotalVisits: p.TotalVisits,
	}
}

type WorkingHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type DoctorResponse struct {
	ID             uuid.UUID    `json:"id"`
	Name           string       `json:"name"`
	Email          string       `json:"email"`
	PhoneNumber    *string      `json:"phoneNumber,omitempty"`
	Specialization *string      `json:"specialization,omitempty"`
	IsAvailable    bool         `json:"isAvailable"`
	WorkingHours   WorkingHours `json:"workingHours"`
	Duration       *int         `json:"duration,omitempty"`
}

func toDoctorResponse(u *catalog.User) DoctorResponse {
	return DoctorResponse{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		PhoneNumber:    u.PhoneNumber,
		Specialization: u.Specialization,
		IsAvailable:    u.IsAvailable,
		WorkingHours:   WorkingHours{Start: u.WorkingHoursStart, End: u.WorkingHoursEnd},
		Duration:       u.Duration,
	}
}

type ServiceResponse struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Duration    int         `json:"duration"`
	Price       float64     `json:"price"`
	IsActive    bool        `json:"isActive"`
	Doctors     []uuid.UUID `json:"doctors"`
}

func toServiceResponse(s *catalog.Service) ServiceResponse {
	doctors := s.DoctorIDs
	if doctors == nil {
		doctors = []uuid.UUID{}
	}
	return ServiceResponse{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		Duration:    s.Duration,
		Price:       s.Price,
		IsActive:    s.IsActive,
		Doctors:     doctors,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
