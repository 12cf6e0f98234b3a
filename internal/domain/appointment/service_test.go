package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radiolyze/radiolyze/internal/domain/notification"
	"github.com/radiolyze/radiolyze/internal/domain/patient"
	"github.com/radiolyze/radiolyze/internal/platform/apperrors"
	"github.com/radiolyze/radiolyze/internal/platform/auth"
)

type mockRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Appointment
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: map[uuid.UUID]*Appointment{}}
}

func (m *mockRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, apperrors.NotFound("appointment", id.String())
	}
	cp := *a
	return &cp, nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, _, _ int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) ListByRadiologist(_ context.Context, radiologistID uuid.UUID, _, _ int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		if a.RadiologistID != nil && *a.RadiologistID == radiologistID {
			out = append(out, a)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, id uuid.UUID, expected, next Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.Status != expected {
		return false, nil
	}
	a.Status = next
	return true, nil
}

func (m *mockRepo) Schedule(_ context.Context, id, radiologistID uuid.UUID, at *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.Status != StatusPending {
		return apperrors.StaleStateConflict("appointment", string(StatusPending), "other")
	}
	a.RadiologistID = &radiologistID
	if at != nil {
		a.PreferredAt = at
	}
	a.Status = StatusScheduled
	return nil
}

func (m *mockRepo) Reschedule(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || (a.Status != StatusScheduled && a.Status != StatusRescheduled) {
		return apperrors.StaleStateConflict("appointment", string(StatusScheduled), "other")
	}
	a.PreferredAt = &at
	a.Status = StatusRescheduled
	return nil
}

func (m *mockRepo) LinkCase(_ context.Context, id, caseID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return apperrors.NotFound("appointment", id.String())
	}
	a.CaseID = &caseID
	return nil
}

type mockPatients struct {
	byID map[uuid.UUID]*patient.Patient
}

func (m *mockPatients) doctors(id uuid.UUID) []uuid.UUID {
	return m.byID[id].DoctorIDs
}

func (m *mockPatients) Create(context.Context, *patient.Patient) error { return nil }
func (m *mockPatients) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, apperrors.NotFound("patient", id.String())
	}
	return p, nil
}
func (m *mockPatients) GetByCode(context.Context, string) (*patient.Patient, error) {
	return nil, apperrors.NotFound("patient", "")
}
func (m *mockPatients) Update(context.Context, *patient.Patient) error { return nil }
func (m *mockPatients) List(context.Context, int, int) ([]*patient.Patient, int, error) {
	return nil, 0, nil
}
func (m *mockPatients) Claim(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}
func (m *mockPatients) UnionDoctor(_ context.Context, patientID, doctorID uuid.UUID) error {
	p, ok := m.byID[patientID]
	if !ok {
		return apperrors.NotFound("patient", patientID.String())
	}
	if !p.HasDoctor(doctorID) {
		p.DoctorIDs = append(p.DoctorIDs, doctorID)
	}
	return nil
}

func (m *mockPatients) SetRadiologist(_ context.Context, patientID, radiologistID uuid.UUID) error {
	p, ok := m.byID[patientID]
	if !ok {
		return apperrors.NotFound("patient", patientID.String())
	}
	p.RadiologistID = &radiologistID
	return nil
}

type captureNotifications struct {
	mu      sync.Mutex
	created []*notification.Notification
}

func (c *captureNotifications) Create(_ context.Context, n *notification.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *n
	c.created = append(c.created, &cp)
	return nil
}
func (c *captureNotifications) GetByID(context.Context, uuid.UUID) (*notification.Notification, error) {
	return nil, errors.New("not implemented")
}
func (c *captureNotifications) ListByRecipient(context.Context, uuid.UUID, bool, int, int) ([]*notification.Notification, int, error) {
	return nil, 0, nil
}
func (c *captureNotifications) UnreadCount(context.Context, uuid.UUID) (int, error) { return 0, nil }
func (c *captureNotifications) MarkRead(context.Context, uuid.UUID) error           { return nil }
func (c *captureNotifications) MarkAllRead(context.Context, uuid.UUID) error        { return nil }

func newTestService() (*Service, *mockRepo, *mockPatients, *captureNotifications, uuid.UUID) {
	repo := newMockRepo()
	claimedBy := uuid.New()
	patientID := uuid.New()
	patients := &mockPatients{byID: map[uuid.UUID]*patient.Patient{
		patientID: {ID: patientID, PatientCode: "PT-1001", FullName: "Jane Roe", ClaimedBy: &claimedBy},
	}}
	notes := &captureNotifications{}
	reconciler := patient.NewReconciler(patients, zerolog.Nop())
	svc := NewService(repo, patients, reconciler, notification.NewFanout(notes, zerolog.Nop()), zerolog.Nop())
	return svc, repo, patients, notes, patientID
}

func TestRequestRejectsUnknownPatient(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	doctor := auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor}

	_, err := svc.Request(context.Background(), doctor, CreateRequest{PatientID: uuid.New()})
	if !errors.Is(err, apperrors.ErrMissingReference) {
		t.Fatalf("err = %v, want missing reference", err)
	}
}

func TestRequestByPatientRequiresOwnRecord(t *testing.T) {
	svc, _, patients, _, patientID := newTestService()
	stranger := auth.Actor{ID: uuid.New(), Role: auth.RolePatient}

	_, err := svc.Request(context.Background(), stranger, CreateRequest{PatientID: patientID})
	if !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}

	owner := auth.Actor{ID: *patients.byID[patientID].ClaimedBy, Role: auth.RolePatient}
	a, err := svc.Request(context.Background(), owner, CreateRequest{PatientID: patientID})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if a.Status != StatusPending {
		t.Errorf("status = %q, want %q", a.Status, StatusPending)
	}
}

func TestScheduleNotifiesPatientAndRadiologist(t *testing.T) {
	svc, _, _, notes, patientID := newTestService()
	doctor := auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor}
	radiologist := auth.Actor{ID: uuid.New(), Role: auth.RoleRadiologist, Name: "Dr. Ray"}

	a, err := svc.Request(context.Background(), doctor, CreateRequest{PatientID: patientID})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	scheduled, err := svc.Schedule(context.Background(), radiologist, a.ID, nil)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if scheduled.Status != StatusScheduled {
		t.Errorf("status = %q, want %q", scheduled.Status, StatusScheduled)
	}
	// Scheduling radiologist is the actor, so only the patient is notified.
	if len(notes.created) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notes.created))
	}
}

func TestRequestAndScheduleReconcileAssignments(t *testing.T) {
	svc, _, patients, _, patientID := newTestService()
	doctor := auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor}
	radiologist := auth.Actor{ID: uuid.New(), Role: auth.RoleRadiologist}

	a, err := svc.Request(context.Background(), doctor, CreateRequest{PatientID: patientID})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	got := patients.doctors(patientID)
	if len(got) != 1 || got[0] != doctor.ID {
		t.Fatalf("assigned doctors = %v, want [%s]", got, doctor.ID)
	}

	// A repeat assignment unions, never duplicates.
	if _, err := svc.Request(context.Background(), doctor, CreateRequest{PatientID: patientID}); err != nil {
		t.Fatalf("second Request: %v", err)
	}
	if got := patients.doctors(patientID); len(got) != 1 {
		t.Fatalf("assigned doctors after repeat = %v, want a single entry", got)
	}

	if _, err := svc.Schedule(context.Background(), radiologist, a.ID, nil); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	p := patients.byID[patientID]
	if p.RadiologistID == nil || *p.RadiologistID != radiologist.ID {
		t.Error("scheduling did not record the radiologist on the patient")
	}
}

func TestScheduleTwiceConflicts(t *testing.T) {
	svc, _, _, _, patientID := newTestService()
	doctor := auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor}
	radiologist := auth.Actor{ID: uuid.New(), Role: auth.RoleRadiologist}

	a, _ := svc.Request(context.Background(), doctor, CreateRequest{PatientID: patientID})
	if _, err := svc.Schedule(context.Background(), radiologist, a.ID, nil); err != nil {
		t.Fatalf("first Schedule: %v", err)
	}
	if _, err := svc.Schedule(context.Background(), radiologist, a.ID, nil); !errors.Is(err, apperrors.ErrStaleState) {
		t.Fatalf("second Schedule err = %v, want stale state conflict", err)
	}
}

func TestRescheduleRequiresScheduledStatus(t *testing.T) {
	svc, _, _, _, patientID := newTestService()
	doctor := auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor}
	radiologist := auth.Actor{ID: uuid.New(), Role: auth.RoleRadiologist}
	newTime := time.Now().Add(48 * time.Hour)

	a, _ := svc.Request(context.Background(), doctor, CreateRequest{PatientID: patientID})
	if _, err := svc.Reschedule(context.Background(), radiologist, a.ID, newTime); !errors.Is(err, apperrors.ErrStaleState) {
		t.Fatalf("reschedule pending err = %v, want stale state conflict", err)
	}

	if _, err := svc.Schedule(context.Background(), radiologist, a.ID, nil); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	moved, err := svc.Reschedule(context.Background(), radiologist, a.ID, newTime)
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if moved.Status != StatusRescheduled {
		t.Errorf("status = %q, want %q", moved.Status, StatusRescheduled)
	}
	if moved.PreferredAt == nil || !moved.PreferredAt.Equal(newTime) {
		t.Error("preferred time was not updated")
	}
}

func TestCompleteRequiresLinkedCase(t *testing.T) {
	svc, _, _, _, patientID := newTestService()
	doctor := auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor}
	radiologist := auth.Actor{ID: uuid.New(), Role: auth.RoleRadiologist}

	a, _ := svc.Request(context.Background(), doctor, CreateRequest{PatientID: patientID})
	if _, err := svc.Schedule(context.Background(), radiologist, a.ID, nil); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if _, err := svc.Complete(context.Background(), radiologist, a.ID); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("Complete without case err = %v, want validation error", err)
	}

	if err := svc.LinkCase(context.Background(), a.ID, uuid.New()); err != nil {
		t.Fatalf("LinkCase: %v", err)
	}
	done, err := svc.Complete(context.Background(), radiologist, a.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("status = %q, want %q", done.Status, StatusCompleted)
	}
}

func TestCancelTerminalConflicts(t *testing.T) {
	svc, _, _, _, patientID := newTestService()
	doctor := auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor}
	radiologist := auth.Actor{ID: uuid.New(), Role: auth.RoleRadiologist}

	a, _ := svc.Request(context.Background(), doctor, CreateRequest{PatientID: patientID})
	svc.Schedule(context.Background(), radiologist, a.ID, nil)
	svc.LinkCase(context.Background(), a.ID, uuid.New())
	if _, err := svc.Complete(context.Background(), radiologist, a.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if _, err := svc.Cancel(context.Background(), doctor, a.ID); !errors.Is(err, apperrors.ErrStaleState) {
		t.Fatalf("Cancel completed err = %v, want stale state conflict", err)
	}
}
