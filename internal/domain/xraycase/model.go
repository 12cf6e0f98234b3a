// Package xraycase drives an imaging case through the multi-actor workflow:
// upload, AI inference, conditional radiologist review, report generation,
// doctor review, prescription. The case row is the root aggregate; patient,
// appointment, and notification records are mutated only as a consequence of
// case transitions, never the reverse.
package xraycase

import (
	"time"

	"github.com/google/uuid"

	"github.com/radiolyze/radiolyze/internal/platform/classifier"
)

// Status is the case lifecycle state.
type Status string

const (
	StatusPendingAIAnalysis         Status = "pending_ai_analysis"
	StatusAIAnalysisComplete        Status = "ai_analysis_complete"
	StatusRequiresRadiologistReview Status = "requires_radiologist_review"
	StatusAnalyzed                  Status = "analyzed"
	StatusReviewed                  Status = "reviewed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPendingAIAnalysis, StatusAIAnalysisComplete,
		StatusRequiresRadiologistReview, StatusAnalyzed, StatusReviewed:
		return true
	}
	return false
}

// AIAnalysis is written once by the classification step and never mutated.
type AIAnalysis struct {
	Predictions          []classifier.Prediction `json:"predictions"`
	PrimaryCondition     string                  `json:"primary_condition"`
	Confidence           float64                 `json:"confidence"`
	NoSignificantFinding bool                    `json:"no_significant_finding"`
	RequiresReview       bool                    `json:"requires_review"`
	AnalyzedAt           time.Time               `json:"analyzed_at"`
}

// Report is the generated four-section radiology report, written once.
type Report struct {
	Summary         string    `json:"summary"`
	Findings        string    `json:"findings"`
	Impression      string    `json:"impression"`
	Recommendations string    `json:"recommendations"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// DoctorReview records the reviewing doctor's conclusion.
type DoctorReview struct {
	Diagnosis      string    `json:"diagnosis"`
	Recommendation string    `json:"recommendation"`
	ReviewerID     uuid.UUID `json:"reviewer_id"`
	ReviewedAt     time.Time `json:"reviewed_at"`
}

// Case is one X-ray record and its accumulated workflow payloads. ImageURL
// is set once at creation and immutable thereafter. Status and its
// corresponding payload live in one row, so each transition is a single
// conditional update and can never leave a payload-less status behind.
type Case struct {
	ID               uuid.UUID     `db:"id" json:"id"`
	PatientID        uuid.UUID     `db:"patient_id" json:"patient_id"`
	UploaderID       uuid.UUID     `db:"uploader_id" json:"uploader_id"`
	DoctorID         *uuid.UUID    `db:"doctor_id" json:"doctor_id,omitempty"`
	ImageURL         string        `db:"image_url" json:"image_url"`
	Status           Status        `db:"status" json:"status"`
	Analysis         *AIAnalysis   `db:"analysis" json:"analysis,omitempty"`
	Report           *Report       `db:"report" json:"report,omitempty"`
	RadiologistNotes *string       `db:"radiologist_notes" json:"radiologist_notes,omitempty"`
	DoctorReview     *DoctorReview `db:"doctor_review" json:"doctor_review,omitempty"`
	PrescriptionID   *uuid.UUID    `db:"prescription_id" json:"prescription_id,omitempty"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

// Analyzed reports whether the AI step has run, in either outcome branch.
func (c *Case) Analyzed() bool {
	switch c.Status {
	case StatusAIAnalysisComplete, StatusRequiresRadiologistReview, StatusAnalyzed, StatusReviewed:
		return true
	}
	return false
}
