package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/healthcare-booking/internal/catalog"
)

func listDoctorsHandler(svc CatalogService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := svc.ListDoctors(r.Context())
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		resp := make([]DoctorResponse, 0, len(doctors))
		for i := range doctors {
			resp = append(resp, toDoctorResponse(&doctors[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getDoctorHandler(svc CatalogService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUID(w, chi.URLParam(r, "id"), "invalid_doctor_id", "id")
		if !ok {
			return
		}

		doc, err := svc.GetDoctor(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toDoctorResponse(doc))
	}
}

func listServicesHandler(svc CatalogService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services, err := svc.ListActiveServices(r.Context())
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		resp := make([]ServiceResponse, 0, len(services))
		for i := range services {
			resp = append(resp, toServiceResponse(&services[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createServiceHandler(svc CatalogService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateServiceRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		created, err := svc.CreateService(r.Context(), catalog.NewServiceInput{
			Name:        req.Name,
			Description: req.Description,
			Duration:    req.Duration,
			Price:       req.Price,
		})
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, toServiceResponse(created))
	}
}

func deactivateServiceHandler(svc CatalogService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUID(w, chi.URLParam(r, "id"), "invalid_service_id", "id")
		if !ok {
			return
		}

		svcRec, err := svc.DeactivateService(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toServiceResponse(svcRec))
	}
}

func assignDoctorHandler(svc CatalogService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serviceID, ok := parseUUID(w, chi.URLParam(r, "id"), "invalid_service_id", "id")
		if !ok {
			return
		}

		var req AssignDoctorRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		doctorID, ok := parseUUID(w, req.DoctorID, "invalid_doctor_id", "doctorId")
		if !ok {
			return
		}

		updated, err := svc.AssignDoctor(r.Context(), serviceID, doctorID)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toServiceResponse(updated))
	}
}
