package xraycase

import (
	"context"
	"encoding/json"
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

const caseCols = `id, patient_id, uploader_id, doctor_id, image_url, status,
	analysis, report, radiologist_notes, doctor_review, prescription_id, created_at, updated_at`

func scanCase(row pgx.Row) (*Case, error) {
	var c Case
	var analysis, report, review []byte
	err := row.Scan(&c.ID, &c.PatientID, &c.UploaderID, &c.DoctorID, &c.ImageURL, &c.Status,
		&analysis, &report, &c.RadiologistNotes, &review, &c.PrescriptionID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("case", "")
	}
	if err != nil {
		return nil, err
	}
	if err := decodeInto(analysis, &c.Analysis); err != nil {
		return nil, fmt.Errorf("decode case analysis: %w", err)
	}
	if err := decodeInto(report, &c.Report); err != nil {
		return nil, fmt.Errorf("decode case report: %w", err)
	}
	if err := decodeInto(review, &c.DoctorReview); err != nil {
		return nil, fmt.Errorf("decode case doctor review: %w", err)
	}
	return &c, nil
}

func decodeInto[T any](raw []byte, dst **T) error {
	if len(raw) == 0 {
		return nil
	}
	*dst = new(T)
	return json.Unmarshal(raw, *dst)
}

func encodeJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (r *repoPG) Create(ctx context.Context, c *Case) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO xray_case (id, patient_id, uploader_id, doctor_id, image_url, status)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.PatientID, c.UploaderID, c.DoctorID, c.ImageURL, c.Status)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	return scanCase(r.pool.QueryRow(ctx, `SELECT `+caseCols+` FROM xray_case WHERE id = $1`, id))
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Case, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM xray_case WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+caseCols+` FROM xray_case WHERE patient_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return collectCases(rows, total)
}

func (r *repoPG) List(ctx context.Context, status *Status, limit, offset int) ([]*Case, int, error) {
	filter := ``
	args := []any{limit, offset}
	if status != nil {
		filter = ` WHERE status = $3`
		args = append(args, *status)
	}
	var total int
	countArgs := args[2:]
	countFilter := ``
	if status != nil {
		countFilter = ` WHERE status = $1`
	}
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM xray_case`+countFilter, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+caseCols+` FROM xray_case`+filter+` ORDER BY created_at DESC LIMIT $1 OFFSET $2`, args...)
	if err != nil {
		return nil, 0, err
	}
	return collectCases(rows, total)
}

func collectCases(rows pgx.Rows, total int) ([]*Case, int, error) {
	defer rows.Close()
	var out []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// SetAnalysis is a single conditional UPDATE carrying both the new status
// and the analysis payload, so the row can never show the new status without
// it.
func (r *repoPG) SetAnalysis(ctx context.Context, id uuid.UUID, expected, next Status, analysis *AIAnalysis) (bool, error) {
	raw, err := encodeJSON(analysis)
	if err != nil {
		return false, fmt.Errorf("encode case analysis: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE xray_case SET status=$3, analysis=$4, updated_at=NOW()
		WHERE id = $1 AND status = $2`,
		id, expected, next, raw)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) SetReport(ctx context.Context, id uuid.UUID, expected, next Status, report *Report, notes *string) (bool, error) {
	raw, err := encodeJSON(report)
	if err != nil {
		return false, fmt.Errorf("encode case report: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE xray_case SET status=$3, report=$4,
			radiologist_notes=COALESCE($5, radiologist_notes), updated_at=NOW()
		WHERE id = $1 AND status = $2`,
		id, expected, next, raw, notes)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) SetDoctorReview(ctx context.Context, id uuid.UUID, expected, next Status, review *DoctorReview) (bool, error) {
	raw, err := encodeJSON(review)
	if err != nil {
		return false, fmt.Errorf("encode case doctor review: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE xray_case SET status=$3, doctor_review=$4,
			doctor_id=COALESCE(doctor_id, $5), updated_at=NOW()
		WHERE id = $1 AND status = $2`,
		id, expected, next, raw, review.ReviewerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) LinkPrescription(ctx context.Context, id, prescriptionID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE xray_case SET prescription_id=$2, updated_at=NOW()
		WHERE id = $1 AND status = $3`,
		id, prescriptionID, StatusReviewed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
