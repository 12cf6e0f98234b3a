package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByCode(ctx context.Context, code string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
	// Claim attaches userID to the patient record. First claim wins;
	// re-claiming with the same user is a no-op. Returns false when the
	// record is already claimed by a different user.
	Claim(ctx context.Context, id, userID uuid.UUID) (bool, error)
	// UnionDoctor adds doctorID to the assigned-doctors set. Idempotent
	// and commutative: repeated or concurrent calls with the same doctor
	// leave exactly one entry.
	UnionDoctor(ctx context.Context, id, doctorID uuid.UUID) error
	// SetRadiologist assigns the single radiologist.
	SetRadiologist(ctx context.Context, id, radiologistID uuid.UUID) error
}
