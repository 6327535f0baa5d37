package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/healthcare-booking/internal/catalog"
	"github.com/hackgods/healthcare-booking/internal/config"
	"github.com/hackgods/healthcare-booking/internal/metrics"
	redisclient "github.com/hackgods/healthcare-booking/internal/redis"
)

// mockRepo mirrors the Postgres constraints that matter to the workflow,
// including the one-active-booking-per-slot index.
type mockRepo struct {
	mu     sync.Mutex
	appts  map[uuid.UUID]*Appointment
	events []EventLog

	// createDelay widens the race window between the slot check and insert.
	createDelay time.Duration
}

func newMockRepo() *mockRepo {
	return &mockRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *mockRepo) put(a Appointment) *Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	m.appts[a.ID] = &a
	return &a
}

func (m *mockRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockRepo) GetAppointmentByTransaction(_ context.Context, tranID string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appts {
		if a.TransactionID != nil && *a.TransactionID == tranID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (m *mockRepo) ListAppointments(_ context.Context, f ListFilter) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Appointment
	for _, a := range m.appts {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.Date != "" && a.Date != f.Date {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Time < out[j].Time
	})

	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *mockRepo) ListDoctorPatients(_ context.Context, doctorID uuid.UUID) ([]PatientSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byPatient := make(map[uuid.UUID]*PatientSummary)
	for _, a := range m.appts {
		if a.DoctorID != doctorID {
			continue
		}
		p, ok := byPatient[a.PatientID]
		if !ok {
			p = &PatientSummary{PatientID: a.PatientID}
			byPatient[a.PatientID] = p
		}
		if a.Status != StatusCompleted {
			continue
		}
		p.TotalVisits++
		if p.LastVisit == nil || a.Date > *p.LastVisit {
			d := a.Date
			p.LastVisit = &d
		}
	}

	out := make([]PatientSummary, 0, len(byPatient))
	for _, p := range byPatient {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatientID.String() < out[j].PatientID.String() })
	return out, nil
}

func (m *mockRepo) ListPatientHistory(_ context.Context, doctorID, patientID uuid.UUID) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Appointment
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].Time > out[j].Time
	})
	return out, nil
}

func (m *mockRepo) ListUpcoming(_ context.Context, doctorID uuid.UUID, fromDate string, limit int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Appointment
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.Date >= fromDate && a.Status.Active() {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Time < out[j].Time
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockRepo) FindActiveForSlot(_ context.Context, doctorID uuid.UUID, date, clock string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.Date == date && a.Time == clock && a.Status.Active() {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (m *mockRepo) CountBillable(_ context.Context, patientID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appts {
		if a.PatientID == patientID && (a.Status == StatusCompleted || a.Status == StatusScheduled) {
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) CreateAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	if m.createDelay > 0 {
		time.Sleep(m.createDelay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.appts {
		if existing.DoctorID == a.DoctorID && existing.Date == a.Date && existing.Time == a.Time && existing.Status.Active() {
			return nil, ErrSlotConflict
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.appts[a.ID] = &a
	cp := a
	return &cp, nil
}

func (m *mockRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *mockRepo) SavePrescription(_ context.Context, id uuid.UUID, p Prescription) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.Status != StatusCompleted {
		return nil, ErrAppointmentNotFound
	}
	a.Prescription = &p
	a.DoctorNotes = p.Notes
	cp := *a
	return &cp, nil
}

func (m *mockRepo) FindAbandoned(_ context.Context, createdBefore time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appts {
		if a.Status == StatusPending && a.PaymentStatus == PaymentPending && a.CreatedAt.Before(createdBefore) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *mockRepo) DeleteUnpaid(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.Status != StatusPending || a.PaymentStatus != PaymentPending {
		return false, nil
	}
	delete(m.appts, id)
	return true, nil
}

func (m *mockRepo) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *mockRepo) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, ev := range m.events {
		out = append(out, ev.EventType)
	}
	return out
}

type mockDirectory struct {
	users    map[uuid.UUID]*catalog.User
	services map[uuid.UUID]*catalog.Service
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		users:    make(map[uuid.UUID]*catalog.User),
		services: make(map[uuid.UUID]*catalog.Service),
	}
}

func (d *mockDirectory) addUser(role catalog.Role) uuid.UUID {
	u := &catalog.User{ID: uuid.New(), Name: string(role), Email: uuid.NewString() + "@test", Role: role}
	d.users[u.ID] = u
	return u.ID
}

func (d *mockDirectory) addService(price float64, active bool) uuid.UUID {
	s := &catalog.Service{ID: uuid.New(), Name: "Consultation", Duration: 30, Price: price, IsActive: active}
	d.services[s.ID] = s
	return s.ID
}

func (d *mockDirectory) GetUser(_ context.Context, id uuid.UUID) (*catalog.User, error) {
	u, ok := d.users[id]
	if !ok {
		return nil, catalog.ErrUserNotFound
	}
	return u, nil
}

func (d *mockDirectory) GetService(_ context.Context, id uuid.UUID) (*catalog.Service, error) {
	s, ok := d.services[id]
	if !ok {
		return nil, catalog.ErrServiceNotFound
	}
	return s, nil
}

// memLocker is a non-blocking in-process stand-in for the Redis locker.
type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]bool)}
}

func (l *memLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.held[key] {
		l.mu.Unlock()
		return redisclient.ErrLockNotAcquired
	}
	l.held[key] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()

	return fn(ctx)
}

// noopLocker lets every caller through, leaving the repository to arbitrate.
type noopLocker struct{}

func (noopLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	svc     *Service
	repo    *mockRepo
	dir     *mockDirectory
	patient uuid.UUID
	doctor  uuid.UUID
	service uuid.UUID
}

func newFixture(locker redisclient.Locker) *fixture {
	repo := newMockRepo()
	dir := newMockDirectory()
	cfg := config.Config{FreeAppointmentQuota: 3, PaymentSessionTTL: 30 * time.Minute}

	f := &fixture{
		svc:     NewService(repo, dir, locker, cfg, zerolog.Nop(), metrics.NewCollector("test")),
		repo:    repo,
		dir:     dir,
		patient: dir.addUser(catalog.RolePatient),
		doctor:  dir.addUser(catalog.RoleDoctor),
		service: dir.addService(1000, true),
	}
	return f
}

func (f *fixture) input(date, clock string) CreateInput {
	return CreateInput{
		PatientID: f.patient,
		DoctorID:  f.doctor,
		ServiceID: f.service,
		Date:      date,
		Time:      clock,
	}
}
