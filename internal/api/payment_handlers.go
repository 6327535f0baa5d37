package api

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/healthcare-booking/internal/appointment"
)

// Frontend pages the gateway callbacks land on.
const (
	pageSuccess   = "/patient/appointments/payment-success"
	pageFailed    = "/patient/appointments/payment-failed"
	pageCancelled = "/patient/appointments/payment-cancelled"
	pageError     = "/patient/appointments/payment-error"
)

func initiatePaymentHandler(svc PaymentService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var req InitiatePaymentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		id, ok := parseUUID(w, req.AppointmentID, "invalid_appointment_id", "appointmentId")
		if !ok {
			return
		}
		if req.Amount < 0 {
			writeError(w, http.StatusBadRequest, "validation_error", "amount must not be negative")
			return
		}

		url, err := svc.InitiatePayment(r.Context(), actor, id, req.Amount)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, InitiatePaymentResponse{URL: url})
	}
}

type callbackFunc func(ctx context.Context, tranID string) (*appointment.Appointment, error)

// gatewayCallbackHandler serves the browser redirects from the hosted checkout.
// It never reports errors to the caller: storage failures land on the generic
// error page, everything else on the page for this callback.
func gatewayCallbackHandler(call callbackFunc, frontendURL, page string, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tranID := chi.URLParam(r, "tran_id")
		if tranID == "" {
			tranID = r.FormValue("tran_id")
		}

		target := frontendURL + page
		if _, err := call(r.Context(), tranID); err != nil {
			logger.Error().Err(err).
				Str("request_id", GetRequestID(r.Context())).
				Str("tran_id", tranID).
				Msg("payment callback failed")
			target = frontendURL + pageError
		}

		http.Redirect(w, r, target, http.StatusSeeOther)
	}
}

func ipnHandler(svc PaymentService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IPNRequest

		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType == "application/json" {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		} else {
			// the gateway posts x-www-form-urlencoded
			req.TranID = r.FormValue("tran_id")
			req.Status = r.FormValue("status")
		}

		if _, err := svc.PaymentIPN(r.Context(), req.TranID, req.Status); err != nil {
			logger.Error().Err(err).
				Str("request_id", GetRequestID(r.Context())).
				Str("tran_id", req.TranID).
				Msg("ipn processing failed")
			writeError(w, http.StatusInternalServerError, "ipn_failed", "IPN processing failed")
			return
		}

		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}
