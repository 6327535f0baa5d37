package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/healthcare-booking/internal/appointment"
	"github.com/hackgods/healthcare-booking/internal/auth"
)

func requireActor(w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
	}
	return actor, ok
}

func parseUUID(w http.ResponseWriter, raw, code, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, field+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func appointmentIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	return parseUUID(w, chi.URLParam(r, "id"), "invalid_appointment_id", "id")
}

func createAppointmentHandler(svc AppointmentService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var req CreateAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		doctorID, ok := parseUUID(w, req.DoctorID, "invalid_doctor_id", "doctorId")
		if !ok {
			return
		}
		serviceID, ok := parseUUID(w, req.ServiceID, "invalid_service_id", "serviceId")
		if !ok {
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), appointment.CreateInput{
			PatientID:       actor.ID,
			DoctorID:        doctorID,
			ServiceID:       serviceID,
			Date:            req.Date,
			Time:            req.Time,
			Notes:           req.PatientNotes,
			RequiresPayment: req.RequiresPayment,
		})
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func checkPaymentHandler(svc AppointmentService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var req CheckPaymentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		serviceID, ok := parseUUID(w, req.ServiceID, "invalid_service_id", "serviceId")
		if !ok {
			return
		}

		res, err := svc.CheckPaymentRequirement(r.Context(), actor.ID, serviceID)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, CheckPaymentResponse{
			RequiresPayment:           res.RequiresPayment,
			Amount:                    res.Amount,
			RemainingFreeAppointments: res.RemainingFreeAppointments,
		})
	}
}

func listAppointmentsHandler(svc AppointmentService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		q := r.URL.Query()
		f := appointment.ListFilter{
			Date:   q.Get("date"),
			Status: appointment.Status(q.Get("status")),
		}

		if v := q.Get("patientId"); v != "" {
			id, ok := parseUUID(w, v, "invalid_patient_id", "patientId")
			if !ok {
				return
			}
			f.PatientID = &id
		}
		if v := q.Get("doctorId"); v != "" {
			id, ok := parseUUID(w, v, "invalid_doctor_id", "doctorId")
			if !ok {
				return
			}
			f.DoctorID = &id
		}

		var err error
		if v := q.Get("limit"); v != "" {
			if f.Limit, err = strconv.Atoi(v); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
				return
			}
		}
		if v := q.Get("offset"); v != "" {
			if f.Offset, err = strconv.Atoi(v); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be an integer")
				return
			}
		}

		appts, err := svc.ListAppointments(r.Context(), actor, f)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentList(appts))
	}
}

func getAppointmentHandler(svc AppointmentService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id, actor)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func getAppointmentByTransactionHandler(svc AppointmentService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		appt, err := svc.GetAppointmentByTransaction(r.Context(), chi.URLParam(r, "transactionId"), actor)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func updateStatusHandler(svc AppointmentService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		var req UpdateStatusRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		appt, err := svc.UpdateStatus(r.Context(), id, actor, appointment.Status(strings.TrimSpace(req.Status)))
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc AppointmentService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		appt, err := svc.CancelAppointment(r.Context(), id, actor)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func savePrescriptionHandler(svc AppointmentService, logger zerolog.Logger, revise bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		var req PrescriptionRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		appt, err := svc.SavePrescription(r.Context(), id, actor, appointment.PrescriptionInput{
			Medicines: req.Medicines,
			Notes:     req.Notes,
		}, revise)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		status := http.StatusCreated
		if revise {
			status = http.StatusOK
		}
		writeJSON(w, status, toAppointmentResponse(appt))
	}
}

func doctorScheduleHandler(svc AppointmentService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
				return
			}
			limit = n
		}

		appts, err := svc.DoctorSchedule(r.Context(), actor, limit)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentList(appts))
	}
}

func doctorPatientsHandler(svc AppointmentService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		patients, err := svc.DoctorPatients(r.Context(), actor)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		resp := make([]PatientSummaryResponse, 0, len(patients))
		for _, p := range patients {
			resp = append(resp, toPatientSummaryResponse(p))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func patientHistoryHandler(svc AppointmentService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		patientID, ok := parseUUID(w, chi.URLParam(r, "id"), "invalid_patient_id", "id")
		if !ok {
			return
		}

		history, err := svc.PatientHistory(r.Context(), actor, patientID)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentList(history))
	}
}
