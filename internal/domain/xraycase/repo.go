package xraycase

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the case store adapter. The conditional writes are the
// compare-and-set primitive of the workflow: each returns false when the row
// no longer holds the expected status, and writes the new status together
// with its payload in one statement.
type Repository interface {
	Create(ctx context.Context, c *Case) error
	GetByID(ctx context.Context, id uuid.UUID) (*Case, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Case, int, error)
	List(ctx context.Context, status *Status, limit, offset int) ([]*Case, int, error)
	// SetAnalysis writes the AI payload and moves expected to next.
	SetAnalysis(ctx context.Context, id uuid.UUID, expected, next Status, analysis *AIAnalysis) (bool, error)
	// SetReport writes the generated report, optional radiologist notes,
	// and moves expected to next.
	SetReport(ctx context.Context, id uuid.UUID, expected, next Status, report *Report, notes *string) (bool, error)
	// SetDoctorReview writes the review record, records the reviewer as
	// the assigned doctor if none is set, and moves expected to next.
	SetDoctorReview(ctx context.Context, id uuid.UUID, expected, next Status, review *DoctorReview) (bool, error)
	// LinkPrescription attaches the prescription reference. Guarded on the
	// reviewed status; the status itself does not change.
	LinkPrescription(ctx context.Context, id, prescriptionID uuid.UUID) (bool, error)
}
