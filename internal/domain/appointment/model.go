package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusScheduled   Status = "scheduled"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
)

// Appointment tracks an X-ray imaging request. CaseID is set once the
// resulting image is uploaded; an appointment cannot complete without it.
type Appointment struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	RequestedBy   uuid.UUID  `db:"requested_by" json:"requested_by"`
	RadiologistID *uuid.UUID `db:"radiologist_id" json:"radiologist_id,omitempty"`
	DoctorID      *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	PreferredAt   *time.Time `db:"preferred_at" json:"preferred_at,omitempty"`
	Reason        *string    `db:"reason" json:"reason,omitempty"`
	Status        Status     `db:"status" json:"status"`
	CaseID        *uuid.UUID `db:"case_id" json:"case_id,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusCompleted, StatusCancelled, StatusRescheduled:
		return true
	}
	return false
}

// terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}
