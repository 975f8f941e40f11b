package scheduling

import (
	"context"

	"github.com/google/uuid"
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, f AppointmentFilter) ([]*Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*Appointment, error)
}
