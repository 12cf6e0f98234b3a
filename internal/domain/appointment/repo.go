package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	ListByRadiologist(ctx context.Context, radiologistID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	// UpdateStatus writes the new status only when the row still holds the
	// expected one. It reports whether the row was updated.
	UpdateStatus(ctx context.Context, id uuid.UUID, expected, next Status) (bool, error)
	Schedule(ctx context.Context, id, radiologistID uuid.UUID, at *time.Time) error
	// Reschedule moves a scheduled (or already rescheduled) appointment to
	// a new time.
	Reschedule(ctx context.Context, id uuid.UUID, at time.Time) error
	LinkCase(ctx context.Context, id, caseID uuid.UUID) error
}
