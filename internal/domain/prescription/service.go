package prescription

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/radiolyze/radiolyze/internal/platform/apperrors"
	"github.com/radiolyze/radiolyze/internal/platform/auth"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Issue validates and persists a prescription in the sent state. The case
// workflow calls this after its own status checks; Issue only owns the
// content rules.
func (s *Service) Issue(ctx context.Context, p *Prescription) error {
	if len(p.Medicines) == 0 {
		return apperrors.Validation("at least one medicine is required")
	}
	for i, m := range p.Medicines {
		if strings.TrimSpace(m.Name) == "" {
			return apperrors.Validation("medicine name is required")
		}
		if strings.TrimSpace(m.Dosage) == "" || strings.TrimSpace(m.Frequency) == "" {
			return apperrors.Validation("medicine dosage and frequency are required")
		}
		p.Medicines[i].Name = strings.TrimSpace(m.Name)
	}
	p.Status = StatusSent
	return s.repo.Create(ctx, p)
}

// Get returns a prescription, restricted to its doctor, its patient, or an
// admin.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Prescription, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.canRead(actor, p) {
		return nil, apperrors.Forbidden("not your prescription")
	}
	return p, nil
}

func (s *Service) GetForCase(ctx context.Context, actor auth.Actor, caseID uuid.UUID) (*Prescription, error) {
	p, err := s.repo.GetByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !s.canRead(actor, p) {
		return nil, apperrors.Forbidden("not your prescription")
	}
	return p, nil
}

func (s *Service) ListForPatient(ctx context.Context, actor auth.Actor, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	if actor.Role == auth.RolePatient && (actor.PatientID == nil || *actor.PatientID != patientID) {
		return nil, 0, apperrors.Forbidden("not your prescriptions")
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) canRead(actor auth.Actor, p *Prescription) bool {
	switch actor.Role {
	case auth.RoleAdmin, auth.RoleRadiologist:
		return true
	case auth.RoleDoctor:
		return p.DoctorID == actor.ID
	case auth.RolePatient:
		return actor.PatientID != nil && *actor.PatientID == p.PatientID
	}
	return false
}
