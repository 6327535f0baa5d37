package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/healthcare-booking/internal/appointment"
	"github.com/hackgods/healthcare-booking/internal/auth"
	"github.com/hackgods/healthcare-booking/internal/catalog"
	"github.com/hackgods/healthcare-booking/internal/metrics"
	"github.com/hackgods/healthcare-booking/internal/payment"
)

const frontend = "http://front.test"

type fakeAppointments struct {
	createIn  appointment.CreateInput
	createErr error
	filter    appointment.ListFilter
	statusTo  appointment.Status
	statusErr error
	revise    bool
	actor     auth.Actor

	historyOf     uuid.UUID
	historyErr    error
	scheduleLimit int
}

func (f *fakeAppointments) appt() *appointment.Appointment {
	return &appointment.Appointment{
		ID:            uuid.New(),
		PatientID:     f.createIn.PatientID,
		DoctorID:      f.createIn.DoctorID,
		ServiceID:     f.createIn.ServiceID,
		Date:          f.createIn.Date,
		Time:          f.createIn.Time,
		Status:        appointment.StatusPending,
		PaymentStatus: appointment.PaymentNotRequired,
		IsFree:        true,
	}
}

func (f *fakeAppointments) CreateAppointment(_ context.Context, in appointment.CreateInput) (*appointment.Appointment, error) {
	f.createIn = in
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.appt(), nil
}

func (f *fakeAppointments) CheckPaymentRequirement(_ context.Context, _, _ uuid.UUID) (*appointment.PaymentRequirement, error) {
	return &appointment.PaymentRequirement{RequiresPayment: false, RemainingFreeAppointments: 2}, nil
}

func (f *fakeAppointments) UpdateStatus(_ context.Context, _ uuid.UUID, actor auth.Actor, to appointment.Status) (*appointment.Appointment, error) {
	f.actor, f.statusTo = actor, to
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	a := f.appt()
	a.Status = to
	return a, nil
}

func (f *fakeAppointments) CancelAppointment(ctx context.Context, id uuid.UUID, actor auth.Actor) (*appointment.Appointment, error) {
	return f.UpdateStatus(ctx, id, actor, appointment.StatusCancelled)
}

func (f *fakeAppointments) GetAppointment(_ context.Context, _ uuid.UUID, actor auth.Actor) (*appointment.Appointment, error) {
	f.actor = actor
	return nil, appointment.ErrAppointmentNotFound
}

func (f *fakeAppointments) GetAppointmentByTransaction(_ context.Context, tranID string, _ auth.Actor) (*appointment.Appointment, error) {
	a := f.appt()
	a.TransactionID = &tranID
	return a, nil
}

func (f *fakeAppointments) ListAppointments(_ context.Context, actor auth.Actor, flt appointment.ListFilter) ([]appointment.Appointment, error) {
	f.actor, f.filter = actor, flt
	return []appointment.Appointment{*f.appt()}, nil
}

func (f *fakeAppointments) DoctorPatients(_ context.Context, actor auth.Actor) ([]appointment.PatientSummary, error) {
	f.actor = actor
	last := "2025-03-15"
	return []appointment.PatientSummary{
		{PatientID: uuid.New(), Name: "Ayesha Khan", Email: "ayesha@test", LastVisit: &last, TotalVisits: 2},
		{PatientID: uuid.New(), Name: "Rafi Ahmed", Email: "rafi@test"},
	}, nil
}

func (f *fakeAppointments) PatientHistory(_ context.Context, actor auth.Actor, patientID uuid.UUID) ([]appointment.Appointment, error) {
	f.actor, f.historyOf = actor, patientID
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	a := f.appt()
	a.PatientID = patientID
	a.Status = appointment.StatusCompleted
	a.Prescription = &appointment.Prescription{Medicines: []appointment.Medicine{{Name: "Cetirizine"}}}
	return []appointment.Appointment{*a}, nil
}

func (f *fakeAppointments) DoctorSchedule(_ context.Context, actor auth.Actor, limit int) ([]appointment.Appointment, error) {
	f.actor, f.scheduleLimit = actor, limit
	return []appointment.Appointment{*f.appt(), *f.appt()}, nil
}

func (f *fakeAppointments) SavePrescription(_ context.Context, _ uuid.UUID, actor auth.Actor, _ appointment.PrescriptionInput, revise bool) (*appointment.Appointment, error) {
	f.actor, f.revise = actor, revise
	return f.appt(), nil
}

type fakePayments struct {
	initiateErr error
	callbackErr error
	calls       []string
	ipnStatus   string
}

func (f *fakePayments) InitiatePayment(_ context.Context, _ auth.Actor, _ uuid.UUID, _ float64) (string, error) {
	if f.initiateErr != nil {
		return "", f.initiateErr
	}
	return "https://gateway.test/pay/abc", nil
}

func (f *fakePayments) record(kind, tranID string) (*appointment.Appointment, error) {
	f.calls = append(f.calls, kind+":"+tranID)
	return nil, f.callbackErr
}

func (f *fakePayments) PaymentSuccess(_ context.Context, tranID string) (*appointment.Appointment, error) {
	return f.record("success", tranID)
}

func (f *fakePayments) PaymentFail(_ context.Context, tranID string) (*appointment.Appointment, error) {
	return f.record("fail", tranID)
}

func (f *fakePayments) PaymentCancel(_ context.Context, tranID string) (*appointment.Appointment, error) {
	return f.record("cancel", tranID)
}

func (f *fakePayments) PaymentIPN(_ context.Context, tranID, status string) (*appointment.Appointment, error) {
	f.ipnStatus = status
	return f.record("ipn", tranID)
}

type fakeCatalog struct {
	created catalog.NewServiceInput
}

func (f *fakeCatalog) ListDoctors(context.Context) ([]catalog.User, error) {
	return []catalog.User{{ID: uuid.New(), Name: "Dr. Rahman", Role: catalog.RoleDoctor, WorkingHoursStart: "09:00", WorkingHoursEnd: "17:00"}}, nil
}

func (f *fakeCatalog) GetDoctor(_ context.Context, id uuid.UUID) (*catalog.User, error) {
	return nil, fmt.Errorf("doctor %s: %w", id, catalog.ErrUserNotFound)
}

func (f *fakeCatalog) ListActiveServices(context.Context) ([]catalog.Service, error) {
	return []catalog.Service{{ID: uuid.New(), Name: "Checkup", Duration: 30, Price: 500, IsActive: true}}, nil
}

func (f *fakeCatalog) CreateService(_ context.Context, in catalog.NewServiceInput) (*catalog.Service, error) {
	f.created = in
	return &catalog.Service{ID: uuid.New(), Name: in.Name, Duration: in.Duration, Price: in.Price, IsActive: true}, nil
}

func (f *fakeCatalog) DeactivateService(_ context.Context, id uuid.UUID) (*catalog.Service, error) {
	return &catalog.Service{ID: id, IsActive: false}, nil
}

func (f *fakeCatalog) AssignDoctor(_ context.Context, serviceID, doctorID uuid.UUID) (*catalog.Service, error) {
	return &catalog.Service{ID: serviceID, IsActive: true, DoctorIDs: []uuid.UUID{doctorID}}, nil
}

type testServer struct {
	handler http.Handler
	appts   *fakeAppointments
	pays    *fakePayments
	cat     *fakeCatalog
	tokens  *auth.TokenManager
	metrics *metrics.Collector
}

func newTestServer(t *testing.T, deps ...Dependency) *testServer {
	t.Helper()
	ts := &testServer{
		appts:   &fakeAppointments{},
		pays:    &fakePayments{},
		cat:     &fakeCatalog{},
		tokens:  auth.NewTokenManager("test-secret", "booking-test", time.Hour),
		metrics: metrics.NewCollector("booking"),
	}
	ts.handler = NewRouter(RouterConfig{
		Appointments:           ts.appts,
		Payments:               ts.pays,
		Catalog:                ts.cat,
		Tokens:                 ts.tokens,
		Metrics:                ts.metrics,
		Logger:                 zerolog.Nop(),
		Health:                 deps,
		FrontendURL:            frontend,
		CallbackRateLimitRPS:   100,
		CallbackRateLimitBurst: 100,
		Env:                    "test",
		Version:                "v0",
	})
	return ts
}

func (ts *testServer) token(t *testing.T, role catalog.Role) (string, uuid.UUID) {
	t.Helper()
	id := uuid.New()
	tok, err := ts.tokens.Issue(auth.Actor{ID: id, Role: role})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok, id
}

func (ts *testServer) do(method, path, token, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestCreateAppointment_UsesCallerAsPatient(t *testing.T) {
	ts := newTestServer(t)
	tok, patientID := ts.token(t, catalog.RolePatient)
	doctorID, serviceID := uuid.New(), uuid.New()

	body := fmt.Sprintf(`{"doctorId":%q,"serviceId":%q,"date":"2030-01-15","time":"10:00","patientNotes":"headache"}`, doctorID, serviceID)
	rec := ts.do(http.MethodPost, "/api/appointments", tok, body)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	in := ts.appts.createIn
	if in.PatientID != patientID || in.DoctorID != doctorID || in.ServiceID != serviceID {
		t.Fatalf("unexpected input %+v", in)
	}
	if in.Notes != "headache" || in.RequiresPayment {
		t.Fatalf("unexpected notes/payment flag: %+v", in)
	}

	var resp AppointmentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "pending" || !resp.IsFree {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCreateAppointment_AuthAndRole(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/appointments", "", `{}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", rec.Code)
	}

	rec = ts.do(http.MethodPost, "/api/appointments", "not-a-jwt", `{}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d", rec.Code)
	}

	tok, _ := ts.token(t, catalog.RoleDoctor)
	rec = ts.do(http.MethodPost, "/api/appointments", tok, `{}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("doctor: status = %d", rec.Code)
	}
}

func TestCreateAppointment_BadInput(t *testing.T) {
	ts := newTestServer(t)
	tok, _ := ts.token(t, catalog.RolePatient)

	rec := ts.do(http.MethodPost, "/api/appointments", tok, `{not json`)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "invalid_request_body" {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(http.MethodPost, "/api/appointments", tok, `{"doctorId":"nope","serviceId":"nope"}`)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "invalid_doctor_id" {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
}

func TestServiceErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: taken", appointment.ErrSlotConflict), http.StatusBadRequest, "slot_conflict"},
		{appointment.ErrFreeQuotaExceeded, http.StatusBadRequest, "free_quota_exceeded"},
		{fmt.Errorf("%w: bad date", appointment.ErrValidation), http.StatusBadRequest, "validation_error"},
		{catalog.ErrServiceNotFound, http.StatusNotFound, "service_not_found"},
		{catalog.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
		{appointment.ErrBookingInProgress, http.StatusConflict, "booking_in_progress"},
		{errors.New("db exploded"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			ts := newTestServer(t)
			ts.appts.createErr = tc.err
			tok, _ := ts.token(t, catalog.RolePatient)

			body := fmt.Sprintf(`{"doctorId":%q,"serviceId":%q,"date":"2030-01-15","time":"10:00"}`, uuid.New(), uuid.New())
			rec := ts.do(http.MethodPost, "/api/appointments", tok, body)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if got := errorCode(t, rec); got != tc.code {
				t.Fatalf("code = %q, want %q", got, tc.code)
			}
		})
	}
}

func TestUpdateStatus_Routes(t *testing.T) {
	ts := newTestServer(t)
	doc, docID := ts.token(t, catalog.RoleDoctor)
	id := uuid.New()

	rec := ts.do(http.MethodPut, "/api/doctors/appointments/"+id.String(), doc, `{"status":"scheduled"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	if ts.appts.statusTo != appointment.StatusScheduled || ts.appts.actor.ID != docID {
		t.Fatalf("unexpected call: to=%s actor=%+v", ts.appts.statusTo, ts.appts.actor)
	}

	pat, _ := ts.token(t, catalog.RolePatient)
	rec = ts.do(http.MethodPut, "/api/doctors/appointments/"+id.String(), pat, `{"status":"scheduled"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("patient on doctor route: status = %d", rec.Code)
	}

	admin, _ := ts.token(t, catalog.RoleAdmin)
	rec = ts.do(http.MethodPut, "/api/appointments/"+id.String(), admin, `{"status":"cancelled"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("admin on party route: status = %d", rec.Code)
	}

	ts.appts.statusErr = fmt.Errorf("%w: completed -> pending", appointment.ErrInvalidTransition)
	rec = ts.do(http.MethodPut, "/api/appointments/"+id.String(), pat, `{"status":"pending"}`)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "invalid_status_transition" {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(http.MethodPut, "/api/appointments/not-a-uuid", pat, `{"status":"cancelled"}`)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "invalid_appointment_id" {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
}

func TestCancelAppointment(t *testing.T) {
	ts := newTestServer(t)
	pat, _ := ts.token(t, catalog.RolePatient)

	rec := ts.do(http.MethodDelete, "/api/appointments/"+uuid.NewString(), pat, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	if ts.appts.statusTo != appointment.StatusCancelled {
		t.Fatalf("status requested = %s", ts.appts.statusTo)
	}
}

func TestListAppointments_ParsesQuery(t *testing.T) {
	ts := newTestServer(t)
	tok, id := ts.token(t, catalog.RoleDoctor)

	rec := ts.do(http.MethodGet, "/api/appointments?date=2030-01-15&status=scheduled&limit=5&offset=10", tok, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	f := ts.appts.filter
	if f.Date != "2030-01-15" || f.Status != appointment.StatusScheduled || f.Limit != 5 || f.Offset != 10 {
		t.Fatalf("unexpected filter %+v", f)
	}
	if ts.appts.actor.ID != id {
		t.Fatalf("actor not forwarded")
	}

	var list []AppointmentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("decode list: %v (%d items)", err, len(list))
	}

	rec = ts.do(http.MethodGet, "/api/appointments?limit=ten", tok, "")
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "invalid_limit" {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}

	patient := uuid.New()
	rec = ts.do(http.MethodGet, "/api/appointments?patientId="+patient.String(), tok, "")
	if rec.Code != http.StatusOK || ts.appts.filter.PatientID == nil || *ts.appts.filter.PatientID != patient {
		t.Fatalf("patient filter: status = %d filter %+v", rec.Code, ts.appts.filter)
	}

	rec = ts.do(http.MethodGet, "/api/appointments?patientId=nope", tok, "")
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "invalid_patient_id" {
		t.Fatalf("bad patient filter: status = %d body %s", rec.Code, rec.Body.String())
	}
}

func TestDoctorRoutes(t *testing.T) {
	ts := newTestServer(t)
	doc, docID := ts.token(t, catalog.RoleDoctor)
	pat, _ := ts.token(t, catalog.RolePatient)

	t.Run("patient roster", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/doctors/patients/list", doc, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
		}
		var roster []map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &roster); err != nil || len(roster) != 2 {
			t.Fatalf("decode roster: %v (%d items)", err, len(roster))
		}
		if roster[0]["lastVisit"] != "2025-03-15" || roster[0]["totalVisits"] != float64(2) {
			t.Errorf("unexpected first row %v", roster[0])
		}
		// no completed visit yet: lastVisit is present and null
		if v, ok := roster[1]["lastVisit"]; !ok || v != nil {
			t.Errorf("expected null lastVisit, got %v", roster[1])
		}
		if ts.appts.actor.ID != docID {
			t.Error("actor not forwarded")
		}
	})

	t.Run("patient history", func(t *testing.T) {
		patient := uuid.New()
		rec := ts.do(http.MethodGet, "/api/doctors/patients/"+patient.String()+"/history", doc, "")
		if rec.Code != http.StatusOK || ts.appts.historyOf != patient {
			t.Fatalf("status = %d historyOf %s", rec.Code, ts.appts.historyOf)
		}
		if !strings.Contains(rec.Body.String(), `"prescription":{"medicines":[{"name":"Cetirizine"`) {
			t.Errorf("expected prescription in history, got %s", rec.Body.String())
		}

		rec = ts.do(http.MethodGet, "/api/doctors/patients/not-a-uuid/history", doc, "")
		if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "invalid_patient_id" {
			t.Fatalf("bad id: status = %d body %s", rec.Code, rec.Body.String())
		}

		ts.appts.historyErr = fmt.Errorf("load patient: %w", catalog.ErrUserNotFound)
		rec = ts.do(http.MethodGet, "/api/doctors/patients/"+patient.String()+"/history", doc, "")
		ts.appts.historyErr = nil
		if rec.Code != http.StatusNotFound {
			t.Fatalf("unknown patient: status = %d", rec.Code)
		}
	})

	t.Run("schedule", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/doctors/schedule?limit=7", doc, "")
		if rec.Code != http.StatusOK || ts.appts.scheduleLimit != 7 {
			t.Fatalf("status = %d limit %d", rec.Code, ts.appts.scheduleLimit)
		}
		var list []AppointmentResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 2 {
			t.Fatalf("decode schedule: %v (%d items)", err, len(list))
		}

		rec = ts.do(http.MethodGet, "/api/doctors/schedule?limit=x", doc, "")
		if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "invalid_limit" {
			t.Fatalf("bad limit: status = %d", rec.Code)
		}
	})

	t.Run("doctor only", func(t *testing.T) {
		for _, path := range []string{"/api/doctors/schedule", "/api/doctors/patients/list", "/api/doctors/patients/" + uuid.NewString() + "/history"} {
			if rec := ts.do(http.MethodGet, path, pat, ""); rec.Code != http.StatusForbidden {
				t.Errorf("%s as patient: status = %d", path, rec.Code)
			}
			if rec := ts.do(http.MethodGet, path, "", ""); rec.Code != http.StatusUnauthorized {
				t.Errorf("%s without token: status = %d", path, rec.Code)
			}
		}
	})
}

func TestGetAppointment_NotFound(t *testing.T) {
	ts := newTestServer(t)
	tok, _ := ts.token(t, catalog.RoleAdmin)

	rec := ts.do(http.MethodGet, "/api/appointments/"+uuid.NewString(), tok, "")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "appointment_not_found" {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
}

func TestGetAppointmentByTransaction(t *testing.T) {
	ts := newTestServer(t)
	tok, _ := ts.token(t, catalog.RolePatient)

	rec := ts.do(http.MethodGet, "/api/appointments/by-transaction/APPOINTMENT_1_abc", tok, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var resp AppointmentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TransactionID == nil || *resp.TransactionID != "APPOINTMENT_1_abc" {
		t.Fatalf("transactionId = %v", resp.TransactionID)
	}
}

func TestPrescription_CreateAndRevise(t *testing.T) {
	ts := newTestServer(t)
	doc, _ := ts.token(t, catalog.RoleDoctor)
	path := "/api/doctors/appointments/" + uuid.NewString() + "/prescription"
	body := `{"medicines":[{"name":"Paracetamol","dosage":"500mg","duration":"5 days"}],"notes":"rest"}`

	rec := ts.do(http.MethodPost, path, doc, body)
	if rec.Code != http.StatusCreated || ts.appts.revise {
		t.Fatalf("create: status = %d revise=%v", rec.Code, ts.appts.revise)
	}

	rec = ts.do(http.MethodPut, path, doc, body)
	if rec.Code != http.StatusOK || !ts.appts.revise {
		t.Fatalf("revise: status = %d revise=%v", rec.Code, ts.appts.revise)
	}
}

func TestCheckPayment(t *testing.T) {
	ts := newTestServer(t)
	tok, _ := ts.token(t, catalog.RolePatient)

	rec := ts.do(http.MethodPost, "/api/appointments/check-payment", tok, fmt.Sprintf(`{"serviceId":%q}`, uuid.New()))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var resp CheckPaymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RequiresPayment || resp.RemainingFreeAppointments != 2 {
		t.Fatalf("unexpected %+v", resp)
	}
}

func TestInitiatePayment(t *testing.T) {
	ts := newTestServer(t)
	tok, _ := ts.token(t, catalog.RolePatient)
	body := fmt.Sprintf(`{"appointmentId":%q,"amount":1000}`, uuid.New())

	rec := ts.do(http.MethodPost, "/api/payments/initiate", tok, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var resp InitiatePaymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.URL != "https://gateway.test/pay/abc" {
		t.Fatalf("unexpected response %s (%v)", rec.Body.String(), err)
	}

	ts.pays.initiateErr = fmt.Errorf("%w: upstream 500", payment.ErrGateway)
	rec = ts.do(http.MethodPost, "/api/payments/initiate", tok, body)
	if rec.Code != http.StatusBadGateway || errorCode(t, rec) != "gateway_error" {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}

	ts.pays.initiateErr = payment.ErrInvalidPaymentStatus
	rec = ts.do(http.MethodPost, "/api/payments/initiate", tok, body)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "invalid_payment_status" {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
}

func TestGatewayCallbacks_Redirect(t *testing.T) {
	cases := []struct {
		method string
		path   string
		form   url.Values
		call   string
		target string
	}{
		{http.MethodGet, "/api/payments/success/T1", nil, "success:T1", pageSuccess},
		{http.MethodPost, "/api/payments/fail/T2", nil, "fail:T2", pageFailed},
		{http.MethodPost, "/api/payments/cancel", url.Values{"tran_id": {"T3"}}, "cancel:T3", pageCancelled},
		{http.MethodGet, "/api/payments/success?tran_id=T4", nil, "success:T4", pageSuccess},
	}

	for _, tc := range cases {
		t.Run(tc.call, func(t *testing.T) {
			ts := newTestServer(t)

			var body io.Reader
			if tc.form != nil {
				body = strings.NewReader(tc.form.Encode())
			}
			req := httptest.NewRequest(tc.method, tc.path, body)
			if tc.form != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			rec := httptest.NewRecorder()
			ts.handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusSeeOther {
				t.Fatalf("status = %d", rec.Code)
			}
			if loc := rec.Header().Get("Location"); loc != frontend+tc.target {
				t.Fatalf("location = %q", loc)
			}
			if len(ts.pays.calls) != 1 || ts.pays.calls[0] != tc.call {
				t.Fatalf("calls = %v", ts.pays.calls)
			}
		})
	}
}

func TestGatewayCallbacks_StorageErrorRedirectsToErrorPage(t *testing.T) {
	ts := newTestServer(t)
	ts.pays.callbackErr = errors.New("connection reset")

	rec := ts.do(http.MethodGet, "/api/payments/success/T1", "", "")
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != frontend+pageError {
		t.Fatalf("location = %q", loc)
	}
}

func TestIPN_FormAndJSON(t *testing.T) {
	ts := newTestServer(t)

	form := url.Values{"tran_id": {"T9"}, "status": {"VALID"}}
	req := httptest.NewRequest(http.MethodPost, "/api/payments/ipn", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"received":true`) {
		t.Fatalf("form ipn: status = %d body %s", rec.Code, rec.Body.String())
	}
	if ts.pays.calls[0] != "ipn:T9" || ts.pays.ipnStatus != "VALID" {
		t.Fatalf("unexpected call %v status %q", ts.pays.calls, ts.pays.ipnStatus)
	}

	rec = ts.do(http.MethodPost, "/api/payments/ipn", "", `{"tran_id":"T10","status":"FAILED"}`)
	if rec.Code != http.StatusOK || ts.pays.calls[1] != "ipn:T10" || ts.pays.ipnStatus != "FAILED" {
		t.Fatalf("json ipn: status = %d calls %v", rec.Code, ts.pays.calls)
	}

	ts.pays.callbackErr = errors.New("db down")
	rec = ts.do(http.MethodPost, "/api/payments/ipn", "", `{"tran_id":"T11","status":"VALID"}`)
	if rec.Code != http.StatusInternalServerError || errorCode(t, rec) != "ipn_failed" {
		t.Fatalf("failing ipn: status = %d body %s", rec.Code, rec.Body.String())
	}
}

func TestCallbackRateLimit(t *testing.T) {
	pays := &fakePayments{}
	h := NewRouter(RouterConfig{
		Appointments:           &fakeAppointments{},
		Payments:               pays,
		Catalog:                &fakeCatalog{},
		Tokens:                 auth.NewTokenManager("s", "i", time.Hour),
		Logger:                 zerolog.Nop(),
		FrontendURL:            frontend,
		CallbackRateLimitRPS:   0.001,
		CallbackRateLimitBurst: 2,
	})

	send := func(method, path, addr string, body io.Reader) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, body)
		req.RemoteAddr = addr
		if body != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("throttled redirects still land on the page", func(t *testing.T) {
		paths := []string{"/api/payments/success/T1", "/api/payments/success/T1", "/api/payments/success/T1", "/api/payments/cancel/T1"}
		pages := []string{pageSuccess, pageSuccess, pageSuccess, pageCancelled}
		for i, path := range paths {
			rec := send(http.MethodGet, path, "203.0.113.7:5555", nil)
			if rec.Code != http.StatusSeeOther {
				t.Fatalf("request %d: status = %d", i, rec.Code)
			}
			if loc := rec.Header().Get("Location"); loc != frontend+pages[i] {
				t.Fatalf("request %d: location = %q", i, loc)
			}
		}
		// only the two within burst reached the service
		if len(pays.calls) != 2 {
			t.Fatalf("calls = %v", pays.calls)
		}

		// a different client has its own bucket
		rec := send(http.MethodGet, "/api/payments/success/T1", "198.51.100.1:5555", nil)
		if rec.Code != http.StatusSeeOther || len(pays.calls) != 3 {
			t.Fatalf("other client: status = %d calls = %v", rec.Code, pays.calls)
		}
	})

	t.Run("ipn is never throttled", func(t *testing.T) {
		pays.calls = nil
		for i := range 30 {
			rec := send(http.MethodPost, "/api/payments/ipn", "103.26.139.87:443", strings.NewReader("tran_id=T9&status=VALID"))
			if rec.Code != http.StatusOK {
				t.Fatalf("ipn %d: status = %d", i, rec.Code)
			}
		}
		if len(pays.calls) != 30 || pays.ipnStatus != "VALID" {
			t.Fatalf("ipn calls = %d status = %q", len(pays.calls), pays.ipnStatus)
		}
	})
}

func TestCatalogRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/doctors", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"workingHours":{"start":"09:00","end":"17:00"}`) {
		t.Fatalf("doctors: status = %d body %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(http.MethodGet, "/api/doctors/"+uuid.NewString(), "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("doctor: status = %d", rec.Code)
	}

	rec = ts.do(http.MethodGet, "/api/services", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"doctors":[]`) {
		t.Fatalf("services: status = %d body %s", rec.Code, rec.Body.String())
	}

	pat, _ := ts.token(t, catalog.RolePatient)
	rec = ts.do(http.MethodPost, "/api/services", pat, `{"name":"X","duration":30,"price":10}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("patient create service: status = %d", rec.Code)
	}

	admin, _ := ts.token(t, catalog.RoleAdmin)
	rec = ts.do(http.MethodPost, "/api/services", admin, `{"name":"Dental","description":"cleaning","duration":45,"price":1500}`)
	if rec.Code != http.StatusCreated || ts.cat.created.Name != "Dental" || ts.cat.created.Duration != 45 {
		t.Fatalf("admin create service: status = %d input %+v", rec.Code, ts.cat.created)
	}

	serviceID, doctorID := uuid.New(), uuid.New()
	rec = ts.do(http.MethodPost, "/api/services/"+serviceID.String()+"/doctors", admin, fmt.Sprintf(`{"doctorId":%q}`, doctorID))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), doctorID.String()) {
		t.Fatalf("assign: status = %d body %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(http.MethodDelete, "/api/services/"+serviceID.String(), admin, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"isActive":false`) {
		t.Fatalf("deactivate: status = %d body %s", rec.Code, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	ts := newTestServer(t,
		Dependency{Name: "postgres", Critical: true, Ping: ok},
		Dependency{Name: "redis", Ping: down},
	)

	rec := ts.do(http.MethodGet, "/health/live", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("live: status = %d", rec.Code)
	}

	rec = ts.do(http.MethodGet, "/health/ready", "", "")
	var ready ReadinessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ready); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || ready.Status != "degraded" || ready.Dependencies["redis"] != "down" {
		t.Fatalf("ready: status = %d body %+v", rec.Code, ready)
	}

	ts = newTestServer(t, Dependency{Name: "postgres", Critical: true, Ping: down})
	rec = ts.do(http.MethodGet, "/health/ready", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("critical down: status = %d", rec.Code)
	}
}

func TestMetricsEndpoint_RecordsRoutePattern(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodGet, "/api/doctors/"+uuid.NewString(), "", "")

	rec := ts.do(http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `route="/api/doctors/{id}"`) {
		t.Fatalf("route label missing from metrics output")
	}
}

func TestRequestIDEchoed(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("X-Request-ID = %q", got)
	}
}
