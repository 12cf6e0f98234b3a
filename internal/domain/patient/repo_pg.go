package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radiolyze/radiolyze/internal/platform/apperrors"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const patientCols = `id, patient_code, full_name, age, gender, clinical_history,
	claimed_by, radiologist_id, doctor_ids, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.PatientCode, &p.FullName, &p.Age, &p.Gender, &p.ClinicalHistory,
		&p.ClaimedBy, &p.RadiologistID, &p.DoctorIDs, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("patient", "")
	}
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.DoctorIDs == nil {
		p.DoctorIDs = []uuid.UUID{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO patient (id, patient_code, full_name, age, gender, clinical_history,
			claimed_by, radiologist_id, doctor_ids)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.PatientCode, p.FullName, p.Age, p.Gender, p.ClinicalHistory,
		p.ClaimedBy, p.RadiologistID, p.DoctorIDs)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.pool.QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *repoPG) GetByCode(ctx context.Context, code string) (*Patient, error) {
	return scanPatient(r.pool.QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE patient_code = $1`, code))
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE patient SET full_name=$2, age=$3, gender=$4, clinical_history=$5, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.FullName, p.Age, p.Gender, p.ClinicalHistory)
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+patientCols+` FROM patient ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

// Claim uses a conditional write: the update matches only when the record is
// unclaimed or already claimed by the same user, so first-claim-wins falls
// out of single-row atomicity.
func (r *repoPG) Claim(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE patient SET claimed_by=$2, updated_at=NOW()
		WHERE id = $1 AND (claimed_by IS NULL OR claimed_by = $2)`,
		id, userID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	// Distinguish "claimed by someone else" from "no such patient".
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM patient WHERE id=$1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, apperrors.NotFound("patient", id.String())
	}
	return false, nil
}

// UnionDoctor rewrites doctor_ids as the deduplicated union with doctorID in
// one UPDATE, so interleaved retries can neither duplicate nor drop an
// assignment.
func (r *repoPG) UnionDoctor(ctx context.Context, id, doctorID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE patient
		SET doctor_ids = (SELECT ARRAY(SELECT DISTINCT d FROM unnest(array_append(doctor_ids, $2)) AS d)),
		    updated_at = NOW()
		WHERE id = $1`,
		id, doctorID)
	if err != nil {
		return fmt.Errorf("union doctor assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("patient", id.String())
	}
	return nil
}

func (r *repoPG) SetRadiologist(ctx context.Context, id, radiologistID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE patient SET radiologist_id=$2, updated_at=NOW() WHERE id = $1`,
		id, radiologistID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("patient", id.String())
	}
	return nil
}
