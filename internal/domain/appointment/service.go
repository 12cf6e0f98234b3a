package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radiolyze/radiolyze/internal/domain/notification"
	"github.com/radiolyze/radiolyze/internal/domain/patient"
	"github.com/radiolyze/radiolyze/internal/platform/apperrors"
	"github.com/radiolyze/radiolyze/internal/platform/auth"
)

type Service struct {
	repo       Repository
	patients   patient.Repository
	reconciler *patient.Reconciler
	fanout     *notification.Fanout
	log        zerolog.Logger
}

func NewService(repo Repository, patients patient.Repository, reconciler *patient.Reconciler, fanout *notification.Fanout, log zerolog.Logger) *Service {
	return &Service{repo: repo, patients: patients, reconciler: reconciler, fanout: fanout, log: log}
}

type CreateRequest struct {
	PatientID   uuid.UUID  `json:"patient_id"`
	PreferredAt *time.Time `json:"preferred_at,omitempty"`
	Reason      *string    `json:"reason,omitempty"`
	DoctorID    *uuid.UUID `json:"doctor_id,omitempty"`
}

// Request creates a pending appointment. Patients may only request for their
// own claimed record; clinicians may request for any patient. A doctor
// recorded on the appointment is unioned into the patient's assigned-doctors
// set after the commit.
func (s *Service) Request(ctx context.Context, actor auth.Actor, req CreateRequest) (*Appointment, error) {
	p, err := s.patients.GetByID(ctx, req.PatientID)
	if err != nil {
		return nil, apperrors.MissingReference("patient", req.PatientID.String())
	}
	if actor.Role == auth.RolePatient {
		if p.ClaimedBy == nil || *p.ClaimedBy != actor.ID {
			return nil, apperrors.Forbidden("appointment requests are limited to your own record")
		}
	}
	a := &Appointment{
		PatientID:   p.ID,
		RequestedBy: actor.ID,
		DoctorID:    req.DoctorID,
		PreferredAt: req.PreferredAt,
		Reason:      req.Reason,
		Status:      StatusPending,
	}
	if actor.Role == auth.RoleDoctor {
		id := actor.ID
		a.DoctorID = &id
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	// Dependent write only after the appointment row is committed.
	if a.DoctorID != nil {
		if err := s.reconciler.EnsureDoctorAssigned(ctx, p.ID, *a.DoctorID); err != nil {
			s.log.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("doctor reconciliation pending retry")
		}
	}
	return a, nil
}

// Schedule assigns the calling radiologist and moves pending to scheduled,
// then reconciles the assignment onto the patient record and notifies the
// patient.
func (s *Service) Schedule(ctx context.Context, actor auth.Actor, id uuid.UUID, at *time.Time) (*Appointment, error) {
	if actor.Role != auth.RoleRadiologist && actor.Role != auth.RoleAdmin {
		return nil, apperrors.Forbidden("only radiologists may schedule appointments")
	}
	if err := s.repo.Schedule(ctx, id, actor.ID, at); err != nil {
		return nil, err
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.RadiologistID != nil {
		if err := s.reconciler.EnsureRadiologistAssigned(ctx, a.PatientID, *a.RadiologistID); err != nil {
			s.log.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("radiologist reconciliation pending retry")
		}
	}
	p, err := s.patients.GetByID(ctx, a.PatientID)
	if err == nil {
		s.fanout.Dispatch(notification.Transition{
			Kind:          notification.KindAppointmentScheduled,
			AppointmentID: a.ID,
			PatientName:   p.FullName,
			PatientUserID: p.ClaimedBy,
			RadiologistID: a.RadiologistID,
			ActorID:       actor.ID,
			ActorName:     actor.Name,
		})
	} else {
		s.log.Warn().Err(err).Str("appointment_id", id.String()).Msg("patient lookup for fan-out failed")
	}
	return a, nil
}

// Reschedule moves a scheduled appointment to a new time.
func (s *Service) Reschedule(ctx context.Context, actor auth.Actor, id uuid.UUID, at time.Time) (*Appointment, error) {
	if actor.Role != auth.RoleRadiologist && actor.Role != auth.RoleAdmin {
		return nil, apperrors.Forbidden("only radiologists may reschedule appointments")
	}
	if err := s.repo.Reschedule(ctx, id, at); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// Complete closes an appointment. The imaging case must exist first; an
// appointment with no linked case has produced nothing to complete.
func (s *Service) Complete(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	if !actor.IsClinician() && actor.Role != auth.RoleAdmin {
		return nil, apperrors.Forbidden("only clinicians may complete appointments")
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.CaseID == nil {
		return nil, apperrors.Validation("appointment has no linked imaging case")
	}
	if a.Status != StatusScheduled && a.Status != StatusRescheduled {
		return nil, apperrors.StaleStateConflict("appointment", string(StatusScheduled), string(a.Status))
	}
	ok, err := s.repo.UpdateStatus(ctx, id, a.Status, StatusCompleted)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.StaleStateConflict("appointment", string(StatusScheduled), string(a.Status))
	}
	return s.repo.GetByID(ctx, id)
}

// Cancel is allowed from any non-terminal status.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == auth.RolePatient && a.RequestedBy != actor.ID {
		return nil, apperrors.Forbidden("not your appointment")
	}
	if a.Status.Terminal() {
		return nil, apperrors.StaleStateConflict("appointment", "pending or scheduled", string(a.Status))
	}
	ok, err := s.repo.UpdateStatus(ctx, id, a.Status, StatusCancelled)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.StaleStateConflict("appointment", string(a.Status), "changed")
	}
	return s.repo.GetByID(ctx, id)
}

// LinkCase records the imaging case produced by this appointment.
func (s *Service) LinkCase(ctx context.Context, id, caseID uuid.UUID) error {
	return s.repo.LinkCase(ctx, id, caseID)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListForRadiologist(ctx context.Context, radiologistID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByRadiologist(ctx, radiologistID, limit, offset)
}
