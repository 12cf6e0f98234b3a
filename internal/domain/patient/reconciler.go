package patient

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Reconciler keeps the patient's assigned-doctors set consistent with
// doctor assignments recorded on cases and appointments. The backing store
// offers no cross-collection transactions, so consistency rests on the
// union write being idempotent and commutative: if the patient-side write
// fails after the case-side write committed, retrying the same union is
// safe under any interleaving.
type Reconciler struct {
	patients Repository
	log      zerolog.Logger
}

func NewReconciler(patients Repository, log zerolog.Logger) *Reconciler {
	return &Reconciler{patients: patients, log: log}
}

// EnsureDoctorAssigned unions doctorID into the patient's assigned-doctors
// set. Callers may retry freely on failure.
func (r *Reconciler) EnsureDoctorAssigned(ctx context.Context, patientID, doctorID uuid.UUID) error {
	if err := r.patients.UnionDoctor(ctx, patientID, doctorID); err != nil {
		r.log.Error().Err(err).
			Str("patient_id", patientID.String()).
			Str("doctor_id", doctorID.String()).
			Msg("doctor assignment reconciliation failed")
		return err
	}
	return nil
}

// EnsureRadiologistAssigned records the patient's radiologist. Last write
// wins; the field is single-valued.
func (r *Reconciler) EnsureRadiologistAssigned(ctx context.Context, patientID, radiologistID uuid.UUID) error {
	if err := r.patients.SetRadiologist(ctx, patientID, radiologistID); err != nil {
		r.log.Error().Err(err).
			Str("patient_id", patientID.String()).
			Str("radiologist_id", radiologistID.String()).
			Msg("radiologist assignment reconciliation failed")
		return err
	}
	return nil
}
