package patient

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/radiolyze/radiolyze/internal/platform/apperrors"
	"github.com/radiolyze/radiolyze/internal/platform/auth"
)

type Service struct {
	patients Repository
}

func NewService(patients Repository) *Service {
	return &Service{patients: patients}
}

func (s *Service) CreatePatient(ctx context.Context, actor auth.Actor, p *Patient) error {
	if !actor.IsClinician() && actor.Role != auth.RoleAdmin {
		return apperrors.Forbidden("only clinicians may register patients")
	}
	if strings.TrimSpace(p.PatientCode) == "" {
		return apperrors.Validation("patient_code is required")
	}
	if strings.TrimSpace(p.FullName) == "" {
		return apperrors.Validation("full_name is required")
	}
	if actor.Role == auth.RoleRadiologist {
		id := actor.ID
		p.RadiologistID = &id
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) GetPatientByCode(ctx context.Context, code string) (*Patient, error) {
	return s.patients.GetByCode(ctx, code)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

func (s *Service) UpdateDemographics(ctx context.Context, actor auth.Actor, p *Patient) error {
	if !actor.IsClinician() && actor.Role != auth.RoleAdmin {
		return apperrors.Forbidden("only clinicians may update patient records")
	}
	if strings.TrimSpace(p.FullName) == "" {
		return apperrors.Validation("full_name is required")
	}
	return s.patients.Update(ctx, p)
}

// Claim attaches the calling patient's login identity to the record
// identified by its patient code. The write is conditional, so a record
// already claimed by another identity is reported as a conflict rather
// than silently reassigned.
func (s *Service) Claim(ctx context.Context, actor auth.Actor, code string) (*Patient, error) {
	if actor.Role != auth.RolePatient {
		return nil, apperrors.Forbidden("only patient accounts may claim a record")
	}
	p, err := s.patients.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	ok, err := s.patients.Claim(ctx, p.ID, actor.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.StaleStateConflict("patient record", "unclaimed", "claimed")
	}
	return s.patients.GetByID(ctx, p.ID)
}

func (s *Service) AssignRadiologist(ctx context.Context, actor auth.Actor, patientID, radiologistID uuid.UUID) error {
	if actor.Role != auth.RoleRadiologist && actor.Role != auth.RoleAdmin {
		return apperrors.Forbidden("only radiologists may take patient assignments")
	}
	return s.patients.SetRadiologist(ctx, patientID, radiologistID)
}
