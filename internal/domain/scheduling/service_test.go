package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mclinic/mclinic/internal/domain/profile"
	"github.com/mclinic/mclinic/internal/platform/auth"
)

type mockAppointmentRepo struct {
	store map[uuid.UUID]*Appointment
	order []uuid.UUID
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{store: make(map[uuid.UUID]*Appointment)}
}

func (m *mockAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	cp := *a
	m.store[a.ID] = &cp
	m.order = append(m.order, a.ID)
	return nil
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.store[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentRepo) List(_ context.Context, f AppointmentFilter) ([]*Appointment, error) {
	var out []*Appointment
	for _, id := range m.order {
		a := m.store[id]
		if f.DoctorID != "" && a.DoctorID != f.DoctorID {
			continue
		}
		if f.PatientID != "" && a.PatientID != f.PatientID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockAppointmentRepo) UpdateStatus(_ context.Context, id uuid.UUID, status string) (*Appointment, error) {
	a, ok := m.store[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a.Status = status
	cp := *a
	return &cp, nil
}

type mockDirectory map[string]string

func (m mockDirectory) UserType(_ context.Context, userID string) (string, error) {
	role, ok := m[userID]
	if !ok {
		return "", profile.ErrProfileNotFound
	}
	return role, nil
}

func newTestService() (*Service, *mockAppointmentRepo) {
	repo := newMockAppointmentRepo()
	users := mockDirectory{
		"d1": auth.RoleDoctor,
		"d2": auth.RoleDoctor,
		"p1": auth.RolePatient,
		"p2": auth.RolePatient,
	}
	return NewService(repo, users), repo
}

func book(t *testing.T, svc *Service, doctor, patient, date, clock string) *Appointment {
	t.Helper()
	a := &Appointment{DoctorID: doctor, PatientID: patient, Date: date, Time: clock, Type: "Video consultation"}
	if err := svc.CreateAppointment(context.Background(), a); err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}
	return a
}

func TestService_CreateAppointment(t *testing.T) {
	svc, repo := newTestService()
	a := book(t, svc, "d1", "p1", "2024-03-14", "09:00 AM - 09:30 AM")
	if a.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if a.Status != StatusUpcoming {
		t.Errorf("expected default status upcoming, got %q", a.Status)
	}
	if len(repo.store) != 1 {
		t.Errorf("expected 1 stored appointment, got %d", len(repo.store))
	}
}

func TestService_CreateAppointment_Invalid(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	valid := func() *Appointment {
		return &Appointment{DoctorID: "d1", PatientID: "p1", Date: "2024-03-14", Time: "09:00 AM", Type: "Checkup"}
	}

	tests := []struct {
		name   string
		mutate func(a *Appointment)
		want   error
	}{
		{"missing patient", func(a *Appointment) { a.PatientID = "" }, ErrInvalidAppointment},
		{"missing type", func(a *Appointment) { a.Type = "  " }, ErrInvalidAppointment},
		{"bad date", func(a *Appointment) { a.Date = "someday" }, ErrInvalidAppointment},
		{"bad time", func(a *Appointment) { a.Time = "after lunch" }, ErrInvalidAppointment},
		{"bad status", func(a *Appointment) { a.Status = "pending" }, ErrInvalidAppointment},
		{"patient is a doctor", func(a *Appointment) { a.PatientID = "d2" }, ErrInvalidAppointment},
		{"doctor is a patient", func(a *Appointment) { a.DoctorID = "p2" }, ErrInvalidAppointment},
		{"unknown patient", func(a *Appointment) { a.PatientID = "ghost" }, profile.ErrProfileNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid()
			tt.mutate(a)
			if err := svc.CreateAppointment(ctx, a); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestService_ListAppointments_Sorted(t *testing.T) {
	svc, _ := newTestService()
	late := book(t, svc, "d1", "p1", "2024-03-15", "08:00 AM - 08:30 AM")
	noon := book(t, svc, "d1", "p1", "2024-03-14", "12:00 PM - 12:30 PM")
	early := book(t, svc, "d1", "p2", "March 14, 2024", "09:00 AM")

	got, err := svc.ListAppointments(context.Background(), AppointmentFilter{DoctorID: "d1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []uuid.UUID{early.ID, noon.ID, late.ID}
	if len(got) != len(want) {
		t.Fatalf("expected %d appointments, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s (%s %s)", i, id, got[i].ID, got[i].Date, got[i].Time)
		}
	}
}

func TestSortByStart_UnparsableLast(t *testing.T) {
	items := []*Appointment{
		{Date: "tbd", Time: "?", Type: "a"},
		{Date: "2024-03-15", Time: "09:00 AM", Type: "b"},
		{Date: "later", Time: "?", Type: "c"},
		{Date: "2024-03-14", Time: "09:00 AM", Type: "d"},
	}
	SortByStart(items)
	var order string
	for _, a := range items {
		order += a.Type
	}
	if order != "dbac" {
		t.Errorf("expected order dbac, got %s", order)
	}
}

func TestService_ListAppointments_Filters(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	book(t, svc, "d1", "p1", "2024-03-14", "09:00 AM")
	second := book(t, svc, "d2", "p1", "2024-03-15", "09:00 AM")
	if _, err := svc.UpdateAppointmentStatus(ctx, second.ID, "d2", StatusCompleted); err != nil {
		t.Fatal(err)
	}

	got, err := svc.ListAppointments(ctx, AppointmentFilter{PatientID: "p1", Status: StatusCompleted})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != second.ID {
		t.Errorf("expected only the completed appointment, got %d", len(got))
	}

	if _, err := svc.ListAppointments(ctx, AppointmentFilter{Status: "bogus"}); !errors.Is(err, ErrInvalidAppointment) {
		t.Errorf("expected ErrInvalidAppointment, got %v", err)
	}
}

func TestService_ListAppointments_Empty(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.ListAppointments(context.Background(), AppointmentFilter{PatientID: "p2"})
	if !errors.Is(err, ErrNoAppointments) {
		t.Fatalf("expected ErrNoAppointments, got %v", err)
	}
	if err.Error() != "No appointments found." {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestService_UpdateAppointmentStatus(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	a := book(t, svc, "d1", "p1", "2024-03-14", "09:00 AM")

	if _, err := svc.UpdateAppointmentStatus(ctx, a.ID, "p2", StatusCancelled); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("expected ErrNotAllowed for outsider, got %v", err)
	}
	if _, err := svc.UpdateAppointmentStatus(ctx, a.ID, "p1", StatusCompleted); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("expected ErrNotAllowed for patient completing, got %v", err)
	}
	if _, err := svc.UpdateAppointmentStatus(ctx, a.ID, "d1", StatusUpcoming); !errors.Is(err, ErrInvalidAppointment) {
		t.Errorf("expected ErrInvalidAppointment for upcoming, got %v", err)
	}

	got, err := svc.UpdateAppointmentStatus(ctx, a.ID, "p1", StatusCancelled)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %q", got.Status)
	}

	if _, err := svc.UpdateAppointmentStatus(ctx, a.ID, "d1", StatusCompleted); !errors.Is(err, ErrInvalidAppointment) {
		t.Errorf("expected cancelled appointment to be final, got %v", err)
	}
	if got, err := svc.UpdateAppointmentStatus(ctx, a.ID, "d1", StatusCancelled); err != nil || got.Status != StatusCancelled {
		t.Errorf("expected repeated cancel to be a no-op, got %v", err)
	}

	if _, err := svc.UpdateAppointmentStatus(ctx, uuid.New(), "d1", StatusCancelled); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected ErrAppointmentNotFound, got %v", err)
	}
}
