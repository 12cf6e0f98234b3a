package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radiolyze/radiolyze/internal/platform/apperrors"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const appointmentCols = `id, patient_id, requested_by, radiologist_id, doctor_id,
	preferred_at, reason, status, case_id, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.RequestedBy, &a.RadiologistID, &a.DoctorID,
		&a.PreferredAt, &a.Reason, &a.Status, &a.CaseID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("appointment", "")
	}
	return &a, err
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointment (id, patient_id, requested_by, radiologist_id, doctor_id,
			preferred_at, reason, status, case_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.PatientID, a.RequestedBy, a.RadiologistID, a.DoctorID,
		a.PreferredAt, a.Reason, a.Status, a.CaseID)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.pool.QueryRow(ctx,
		`SELECT `+appointmentCols+` FROM appointment WHERE id = $1`, id))
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return r.list(ctx, `patient_id`, patientID, limit, offset)
}

func (r *repoPG) ListByRadiologist(ctx context.Context, radiologistID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return r.list(ctx, `radiologist_id`, radiologistID, limit, offset)
}

func (r *repoPG) list(ctx context.Context, col string, id uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM appointment WHERE `+col+` = $1`, id).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+appointmentCols+` FROM appointment WHERE `+col+` = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, id, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// UpdateStatus is a conditional write keyed on the current status, so two
// concurrent transitions cannot both take effect.
func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, expected, next Status) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointment SET status=$3, updated_at=NOW()
		WHERE id = $1 AND status = $2`,
		id, expected, next)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) Schedule(ctx context.Context, id, radiologistID uuid.UUID, at *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointment SET radiologist_id=$2, preferred_at=COALESCE($3, preferred_at),
			status=$4, updated_at=NOW()
		WHERE id = $1 AND status = $5`,
		id, radiologistID, at, StatusScheduled, StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.StaleStateConflict("appointment", string(StatusPending), "other")
	}
	return nil
}

func (r *repoPG) Reschedule(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointment SET preferred_at=$2, status=$3, updated_at=NOW()
		WHERE id = $1 AND status IN ($4, $3)`,
		id, at, StatusRescheduled, StatusScheduled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.StaleStateConflict("appointment", string(StatusScheduled), "other")
	}
	return nil
}

func (r *repoPG) LinkCase(ctx context.Context, id, caseID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointment SET case_id=$2, updated_at=NOW() WHERE id = $1`,
		id, caseID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("appointment", id.String())
	}
	return nil
}
