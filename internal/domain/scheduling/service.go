package scheduling

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mclinic/mclinic/internal/platform/auth"
)

// UserDirectory resolves the account type of a user.
type UserDirectory interface {
	UserType(ctx context.Context, userID string) (string, error)
}

type Service struct {
	appointments AppointmentRepository
	users        UserDirectory
}

func NewService(appointments AppointmentRepository, users UserDirectory) *Service {
	return &Service{appointments: appointments, users: users}
}

// ListAppointments returns the matching appointments, earliest first.
// Appointments whose date or time cannot be read sort last. An empty
// result is reported as ErrNoAppointments.
func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter) ([]*Appointment, error) {
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, fmt.Errorf("%w: invalid status %q", ErrInvalidAppointment, f.Status)
	}
	items, err := s.appointments.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNoAppointments
	}
	SortByStart(items)
	return items, nil
}

// SortByStart orders appointments by their start time. Ties and
// unparsable entries keep their relative order.
func SortByStart(items []*Appointment) {
	type keyed struct {
		a  *Appointment
		at int64
		ok bool
	}
	ks := make([]keyed, len(items))
	for i, a := range items {
		t, ok := a.StartsAt()
		ks[i] = keyed{a: a, at: t.Unix(), ok: ok}
	}
	sort.SliceStable(ks, func(i, j int) bool {
		if ks[i].ok != ks[j].ok {
			return ks[i].ok
		}
		return ks[i].ok && ks[i].at < ks[j].at
	})
	for i := range ks {
		items[i] = ks[i].a
	}
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

// CreateAppointment books a doctor with a patient. Status defaults to
// upcoming.
func (s *Service) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.DoctorID == "" || a.PatientID == "" {
		return fmt.Errorf("%w: doctorID and patientID are required", ErrInvalidAppointment)
	}
	a.Type = strings.TrimSpace(a.Type)
	if a.Type == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidAppointment)
	}
	if _, ok := a.StartsAt(); !ok {
		return fmt.Errorf("%w: unreadable date %q or time %q", ErrInvalidAppointment, a.Date, a.Time)
	}
	if a.Status == "" {
		a.Status = StatusUpcoming
	}
	if !validStatuses[a.Status] {
		return fmt.Errorf("%w: invalid status %q", ErrInvalidAppointment, a.Status)
	}

	if err := s.requireRole(ctx, a.DoctorID, auth.RoleDoctor); err != nil {
		return err
	}
	if err := s.requireRole(ctx, a.PatientID, auth.RolePatient); err != nil {
		return err
	}
	return s.appointments.Create(ctx, a)
}

func (s *Service) requireRole(ctx context.Context, userID, role string) error {
	got, err := s.users.UserType(ctx, userID)
	if err != nil {
		return err
	}
	if got != role {
		return fmt.Errorf("%w: %s is not a %s", ErrInvalidAppointment, userID, role)
	}
	return nil
}

// UpdateAppointmentStatus moves an upcoming appointment to completed or
// cancelled. Only the doctor may complete it; either participant may
// cancel.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, userID, status string) (*Appointment, error) {
	if status != StatusCompleted && status != StatusCancelled {
		return nil, fmt.Errorf("%w: status must be %s or %s", ErrInvalidAppointment, StatusCompleted, StatusCancelled)
	}
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.HasParticipant(userID) {
		return nil, ErrNotAllowed
	}
	if status == StatusCompleted && userID != a.DoctorID {
		return nil, ErrNotAllowed
	}
	if a.Status == status {
		return a, nil
	}
	if a.Status != StatusUpcoming {
		return nil, fmt.Errorf("%w: appointment is already %s", ErrInvalidAppointment, a.Status)
	}
	return s.appointments.UpdateStatus(ctx, id, status)
}
