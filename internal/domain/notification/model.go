package notification

import (
	"time"

	"github.com/google/uuid"
)

// Notification types.
const (
	TypeReportReady  = "report_ready"
	TypeCaseReviewed = "case_reviewed"
	TypePrescription = "prescription"
	TypeAppointment  = "appointment"
)

// Action is a typed pointer from a notification to the entity it is about,
// plus the view the recipient should land on.
type Action struct {
	Kind     string    `json:"kind"`   // "case", "prescription", "appointment"
	EntityID uuid.UUID `json:"entity_id"`
	Intent   string    `json:"intent"` // "view_report", "view_review", ...
}

// Notification is an append-only feed entry. The only mutation ever applied
// is flipping Read.
type Notification struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	RecipientID uuid.UUID  `db:"recipient_id" json:"recipient_id"`
	SenderID    *uuid.UUID `db:"sender_id" json:"sender_id,omitempty"`
	Title       string     `db:"title" json:"title"`
	Message     string     `db:"message" json:"message"`
	Type        string     `db:"type" json:"type"`
	Read        bool       `db:"read" json:"read"`
	Action      *Action    `db:"action" json:"action,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}
