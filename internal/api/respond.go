package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/healthcare-booking/internal/appointment"
	"github.com/hackgods/healthcare-booking/internal/catalog"
	"github.com/hackgods/healthcare-booking/internal/payment"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

// handleServiceError maps domain errors onto HTTP responses.
func handleServiceError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	switch {
	case errors.Is(err, appointment.ErrSlotConflict):
		writeError(w, http.StatusBadRequest, "slot_conflict", "this time slot is already booked")
	case errors.Is(err, appointment.ErrFreeQuotaExceeded):
		writeError(w, http.StatusBadRequest, "free_quota_exceeded", err.Error())
	case errors.Is(err, appointment.ErrValidation),
		errors.Is(err, catalog.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, payment.ErrInvalidPaymentStatus):
		writeError(w, http.StatusBadRequest, "invalid_payment_status", err.Error())
	case errors.Is(err, catalog.ErrNotDoctor):
		writeError(w, http.StatusBadRequest, "not_a_doctor", err.Error())

	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", "appointment not found")
	case errors.Is(err, appointment.ErrPrescriptionNotFound):
		writeError(w, http.StatusNotFound, "prescription_not_found", "prescription not found")
	case errors.Is(err, catalog.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, catalog.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, "service_not_found", "service not found")

	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())

	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrBookingInProgress):
		writeError(w, http.StatusConflict, "booking_in_progress", "another booking is in progress, please retry shortly")
	case errors.Is(err, catalog.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_taken", err.Error())

	case errors.Is(err, payment.ErrGateway):
		logger.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("payment gateway failure")
		writeError(w, http.StatusBadGateway, "gateway_error", "failed to initiate payment")

	default:
		logger.Error().Err(err).
			Str("request_id", GetRequestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("unhandled error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
