package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient is a satellite record of the case workflow. Identity is the
// human-assigned patient code, independent of any login identity; a portal
// login attaches later via the claim operation.
type Patient struct {
	ID              uuid.UUID   `db:"id" json:"id"`
	PatientCode     string      `db:"patient_code" json:"patient_code"`
	FullName        string      `db:"full_name" json:"full_name"`
	Age             *int        `db:"age" json:"age,omitempty"`
	Gender          *string     `db:"gender" json:"gender,omitempty"`
	ClinicalHistory *string     `db:"clinical_history" json:"clinical_history,omitempty"`
	ClaimedBy       *uuid.UUID  `db:"claimed_by" json:"claimed_by,omitempty"`
	RadiologistID   *uuid.UUID  `db:"radiologist_id" json:"radiologist_id,omitempty"`
	DoctorIDs       []uuid.UUID `db:"doctor_ids" json:"doctor_ids"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

// Claimed reports whether a login identity has attached to this record.
func (p *Patient) Claimed() bool {
	return p.ClaimedBy != nil
}

// HasDoctor reports whether doctorID is already in the assigned set.
func (p *Patient) HasDoctor(doctorID uuid.UUID) bool {
	for _, id := range p.DoctorIDs {
		if id == doctorID {
			return true
		}
	}
	return false
}
