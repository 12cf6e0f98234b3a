package xraycase

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radiolyze/radiolyze/internal/domain/notification"
	"github.com/radiolyze/radiolyze/internal/domain/patient"
	"github.com/radiolyze/radiolyze/internal/domain/prescription"
	"github.com/radiolyze/radiolyze/internal/platform/apperrors"
	"github.com/radiolyze/radiolyze/internal/platform/auth"
	"github.com/radiolyze/radiolyze/internal/platform/blobstore"
	"github.com/radiolyze/radiolyze/internal/platform/classifier"
	"github.com/radiolyze/radiolyze/internal/platform/reportgen"
)

// Classifier is the inference collaborator.
type Classifier interface {
	Classify(ctx context.Context, fileName string, image []byte) (*classifier.Result, error)
}

// ReportGenerator is the report collaborator.
type ReportGenerator interface {
	Generate(ctx context.Context, req reportgen.Request) (*reportgen.Report, error)
}

// AppointmentLinker records the case produced by an imaging appointment.
type AppointmentLinker interface {
	LinkCase(ctx context.Context, appointmentID, caseID uuid.UUID) error
}

// PrescriptionIssuer validates and persists a prescription.
type PrescriptionIssuer interface {
	Issue(ctx context.Context, p *prescription.Prescription) error
}

// Thresholds are the tunable routing cutoffs of the workflow.
type Thresholds struct {
	// PrimaryConfidence is the minimum top-prediction probability required
	// to skip mandatory human review.
	PrimaryConfidence float64
	// SecondaryFinding is the minimum probability for a non-primary
	// prediction to appear in the report prompt.
	SecondaryFinding float64
}

// Service is the case lifecycle orchestrator. Every mutation of a case and
// every dependent side effect funnels through here; the legality of a
// transition is enforced twice, once against the loaded snapshot for a clear
// error and once by the store's conditional write as the concurrency guard.
type Service struct {
	cases         Repository
	patients      patient.Repository
	reconciler    *patient.Reconciler
	blobs         blobstore.Store
	classifier    Classifier
	reports       ReportGenerator
	prescriptions PrescriptionIssuer
	appointments  AppointmentLinker
	fanout        *notification.Fanout
	thresholds    Thresholds
	log           zerolog.Logger
}

type ServiceDeps struct {
	Cases         Repository
	Patients      patient.Repository
	Reconciler    *patient.Reconciler
	Blobs         blobstore.Store
	Classifier    Classifier
	Reports       ReportGenerator
	Prescriptions PrescriptionIssuer
	Appointments  AppointmentLinker
	Thresholds    Thresholds
	Fanout        *notification.Fanout
	Log           zerolog.Logger
}

func NewService(d ServiceDeps) *Service {
	return &Service{
		cases:         d.Cases,
		patients:      d.Patients,
		reconciler:    d.Reconciler,
		blobs:         d.Blobs,
		classifier:    d.Classifier,
		reports:       d.Reports,
		prescriptions: d.Prescriptions,
		appointments:  d.Appointments,
		fanout:        d.Fanout,
		thresholds:    d.Thresholds,
		log:           d.Log,
	}
}

type CreateCaseInput struct {
	PatientID     uuid.UUID
	AppointmentID *uuid.UUID
	FileName      string
	ContentType   string
	Content       io.Reader
}

// CreateCase stores the image, persists the case at pending_ai_analysis, and
// reconciles the uploader's assignment onto the patient record. The patient
// side of the reconciliation runs after the case commit and is retried on
// the next assignment if it fails.
func (s *Service) CreateCase(ctx context.Context, actor auth.Actor, in CreateCaseInput) (*Case, error) {
	if !actor.IsClinician() && actor.Role != auth.RoleAdmin {
		return nil, apperrors.Forbidden("only radiologists and doctors may create cases")
	}
	p, err := s.patients.GetByID(ctx, in.PatientID)
	if err != nil {
		return nil, apperrors.MissingReference("patient", in.PatientID.String())
	}

	meta, err := s.blobs.Put(ctx, in.FileName, in.ContentType, actor.ID, in.Content)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	c := &Case{
		PatientID:  p.ID,
		UploaderID: actor.ID,
		ImageURL:   meta.URL,
		Status:     StatusPendingAIAnalysis,
	}
	if actor.Role == auth.RoleDoctor {
		id := actor.ID
		c.DoctorID = &id
	}
	if err := s.cases.Create(ctx, c); err != nil {
		return nil, err
	}

	// Dependent writes only after the case row is committed.
	switch actor.Role {
	case auth.RoleDoctor:
		if err := s.reconciler.EnsureDoctorAssigned(ctx, p.ID, actor.ID); err != nil {
			s.log.Warn().Err(err).Str("case_id", c.ID.String()).Msg("doctor reconciliation pending retry")
		}
	case auth.RoleRadiologist:
		if err := s.reconciler.EnsureRadiologistAssigned(ctx, p.ID, actor.ID); err != nil {
			s.log.Warn().Err(err).Str("case_id", c.ID.String()).Msg("radiologist reconciliation pending retry")
		}
	}
	if in.AppointmentID != nil && s.appointments != nil {
		if err := s.appointments.LinkCase(ctx, *in.AppointmentID, c.ID); err != nil {
			s.log.Warn().Err(err).
				Str("case_id", c.ID.String()).
				Str("appointment_id", in.AppointmentID.String()).
				Msg("appointment linkage failed")
		}
	}
	return c, nil
}

// Classify runs AI inference on the case image. The outcome forks the state
// machine: a usable top confidence moves to ai_analysis_complete, a low or
// explicitly uncertain result routes to requires_radiologist_review. Both
// are normal outcomes, not errors. A classifier failure leaves the status
// untouched.
func (s *Service) Classify(ctx context.Context, actor auth.Actor, caseID uuid.UUID) (*Case, error) {
	if !actor.IsClinician() && actor.Role != auth.RoleAdmin {
		return nil, apperrors.Forbidden("only clinicians may run classification")
	}
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusPendingAIAnalysis {
		return nil, apperrors.StaleStateConflict("case", string(StatusPendingAIAnalysis), string(c.Status))
	}

	image, fileName, err := s.loadImage(ctx, c)
	if err != nil {
		return nil, err
	}
	result, err := s.classifier.Classify(ctx, fileName, image)
	if err != nil {
		return nil, apperrors.ExternalServiceFailure("classification", err)
	}
	if len(result.Predictions) == 0 {
		return nil, apperrors.ExternalServiceFailure("classification", errors.New("empty prediction set"))
	}

	top := result.Top()
	requiresReview := result.NoSignificantFinding || top.Probability < s.thresholds.PrimaryConfidence
	next := StatusAIAnalysisComplete
	if requiresReview {
		next = StatusRequiresRadiologistReview
	}
	analysis := &AIAnalysis{
		Predictions:          result.Predictions,
		PrimaryCondition:     top.Condition,
		Confidence:           top.Probability,
		NoSignificantFinding: result.NoSignificantFinding,
		RequiresReview:       requiresReview,
		AnalyzedAt:           time.Now(),
	}

	ok, err := s.cases.SetAnalysis(ctx, caseID, StatusPendingAIAnalysis, next, analysis)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.StaleStateConflict("case", string(StatusPendingAIAnalysis), "changed")
	}
	return s.cases.GetByID(ctx, caseID)
}

// SubmitRadiologistReview resolves the requires_radiologist_review fork:
// the radiologist's notes are persisted together with the generated report
// in one conditional write moving the case to analyzed.
func (s *Service) SubmitRadiologistReview(ctx context.Context, actor auth.Actor, caseID uuid.UUID, notes string) (*Case, error) {
	if actor.Role != auth.RoleRadiologist && actor.Role != auth.RoleAdmin {
		return nil, apperrors.Forbidden("only radiologists may submit manual reviews")
	}
	if strings.TrimSpace(notes) == "" {
		return nil, apperrors.Validation("review notes are required")
	}
	return s.generateAndAttach(ctx, actor, caseID, StatusRequiresRadiologistReview, &notes)
}

// RequestReport moves an ai_analysis_complete case to analyzed by invoking
// the report generator.
func (s *Service) RequestReport(ctx context.Context, actor auth.Actor, caseID uuid.UUID) (*Case, error) {
	if actor.Role != auth.RoleRadiologist && actor.Role != auth.RoleAdmin {
		return nil, apperrors.Forbidden("only radiologists may request report generation")
	}
	return s.generateAndAttach(ctx, actor, caseID, StatusAIAnalysisComplete, nil)
}

func (s *Service) generateAndAttach(ctx context.Context, actor auth.Actor, caseID uuid.UUID, expected Status, notes *string) (*Case, error) {
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status != expected {
		return nil, apperrors.StaleStateConflict("case", string(expected), string(c.Status))
	}
	if c.Analysis == nil {
		return nil, apperrors.Validation("case has no analysis to report on")
	}

	report, err := s.reports.Generate(ctx, s.buildReportRequest(ctx, c))
	if err != nil {
		// Status stays at its pre-transition value; the caller may retry.
		return nil, apperrors.ExternalServiceFailure("report generation", err)
	}

	attached := &Report{
		Summary:         report.Summary,
		Findings:        report.Findings,
		Impression:      report.Impression,
		Recommendations: report.Recommendations,
		GeneratedAt:     report.GeneratedAt,
	}
	ok, err := s.cases.SetReport(ctx, caseID, expected, StatusAnalyzed, attached, notes)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.StaleStateConflict("case", string(expected), "changed")
	}

	updated, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, updated, actor, notification.KindReportReady)
	return updated, nil
}

// buildReportRequest assembles the report prompt context. Incomplete
// patient demographics degrade to a minimal stub; only the patient identity
// itself is mandatory, and that is guaranteed by the case's patient
// reference.
func (s *Service) buildReportRequest(ctx context.Context, c *Case) reportgen.Request {
	pc := reportgen.PatientContext{ID: c.PatientID.String()}
	if p, err := s.patients.GetByID(ctx, c.PatientID); err == nil {
		pc.Age = p.Age
		if p.Gender != nil {
			pc.Gender = *p.Gender
		}
		if p.ClinicalHistory != nil {
			pc.ClinicalHistory = *p.ClinicalHistory
		}
	} else {
		s.log.Warn().Err(err).Str("case_id", c.ID.String()).Msg("patient context lookup failed, using minimal stub")
	}
	return reportgen.Request{
		PrimaryCondition:     c.Analysis.PrimaryCondition,
		Confidence:           c.Analysis.Confidence,
		SecondaryFindings:    reportgen.SecondaryFindingsText(c.Analysis.Predictions, c.Analysis.PrimaryCondition, s.thresholds.SecondaryFinding),
		NoSignificantFinding: c.Analysis.NoSignificantFinding,
		Patient:              pc,
	}
}

type DoctorReviewInput struct {
	Diagnosis      string `json:"diagnosis"`
	Recommendation string `json:"recommendation"`
}

// SubmitDoctorReview moves an analyzed case to reviewed. The reviewing
// doctor is unioned into the patient's assigned-doctors set after the case
// commit.
func (s *Service) SubmitDoctorReview(ctx context.Context, actor auth.Actor, caseID uuid.UUID, in DoctorReviewInput) (*Case, error) {
	if actor.Role != auth.RoleDoctor && actor.Role != auth.RoleAdmin {
		return nil, apperrors.Forbidden("only doctors may submit case reviews")
	}
	if strings.TrimSpace(in.Diagnosis) == "" {
		return nil, apperrors.Validation("diagnosis is required")
	}
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusAnalyzed {
		return nil, apperrors.StaleStateConflict("case", string(StatusAnalyzed), string(c.Status))
	}

	review := &DoctorReview{
		Diagnosis:      in.Diagnosis,
		Recommendation: in.Recommendation,
		ReviewerID:     actor.ID,
		ReviewedAt:     time.Now(),
	}
	ok, err := s.cases.SetDoctorReview(ctx, caseID, StatusAnalyzed, StatusReviewed, review)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.StaleStateConflict("case", string(StatusAnalyzed), "changed")
	}

	if err := s.reconciler.EnsureDoctorAssigned(ctx, c.PatientID, actor.ID); err != nil {
		s.log.Warn().Err(err).Str("case_id", caseID.String()).Msg("doctor reconciliation pending retry")
	}

	updated, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, updated, actor, notification.KindDoctorReviewed)
	return updated, nil
}

type PrescriptionInput struct {
	Medicines    []prescription.Medicine `json:"medicines"`
	Instructions *string                 `json:"instructions,omitempty"`
	Diagnosis    *string                 `json:"diagnosis,omitempty"`
}

// SendPrescription issues a prescription against a reviewed case and links
// it back onto the case. The case status does not change.
func (s *Service) SendPrescription(ctx context.Context, actor auth.Actor, caseID uuid.UUID, in PrescriptionInput) (*prescription.Prescription, error) {
	if actor.Role != auth.RoleDoctor && actor.Role != auth.RoleAdmin {
		return nil, apperrors.Forbidden("only doctors may send prescriptions")
	}
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusReviewed {
		return nil, apperrors.StaleStateConflict("case", string(StatusReviewed), string(c.Status))
	}

	diagnosis := in.Diagnosis
	if diagnosis == nil && c.DoctorReview != nil {
		d := c.DoctorReview.Diagnosis
		diagnosis = &d
	}
	p := &prescription.Prescription{
		CaseID:       c.ID,
		PatientID:    c.PatientID,
		DoctorID:     actor.ID,
		Medicines:    in.Medicines,
		Instructions: in.Instructions,
		Diagnosis:    diagnosis,
	}
	if err := s.prescriptions.Issue(ctx, p); err != nil {
		return nil, err
	}
	if _, err := s.cases.LinkPrescription(ctx, c.ID, p.ID); err != nil {
		s.log.Warn().Err(err).Str("case_id", c.ID.String()).Msg("prescription linkage failed")
	}

	s.dispatchPrescription(ctx, c, p, actor)
	return p, nil
}

func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Case, error) {
	c, err := s.cases.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == auth.RolePatient && (actor.PatientID == nil || *actor.PatientID != c.PatientID) {
		return nil, apperrors.Forbidden("not your case")
	}
	return c, nil
}

func (s *Service) ListForPatient(ctx context.Context, actor auth.Actor, patientID uuid.UUID, limit, offset int) ([]*Case, int, error) {
	if actor.Role == auth.RolePatient && (actor.PatientID == nil || *actor.PatientID != patientID) {
		return nil, 0, apperrors.Forbidden("not your cases")
	}
	return s.cases.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) List(ctx context.Context, actor auth.Actor, status *Status, limit, offset int) ([]*Case, int, error) {
	if !actor.IsClinician() && actor.Role != auth.RoleAdmin {
		return nil, 0, apperrors.Forbidden("only clinicians may list cases")
	}
	return s.cases.List(ctx, status, limit, offset)
}

// dispatch fans out feed writes for a committed transition. Fan-out failures
// are logged inside the fan-out and never affect the transition's outcome.
func (s *Service) dispatch(ctx context.Context, c *Case, actor auth.Actor, kind notification.TransitionKind) {
	t := notification.Transition{
		Kind:      kind,
		CaseID:    c.ID,
		DoctorID:  c.DoctorID,
		ActorID:   actor.ID,
		ActorName: actor.Name,
	}
	if c.Analysis != nil {
		t.Condition = c.Analysis.PrimaryCondition
	}
	s.fillPatient(ctx, c.PatientID, &t)
	s.fanout.Dispatch(t)
}

func (s *Service) dispatchPrescription(ctx context.Context, c *Case, p *prescription.Prescription, actor auth.Actor) {
	t := notification.Transition{
		Kind:           notification.KindPrescriptionSent,
		CaseID:         c.ID,
		PrescriptionID: p.ID,
		DoctorID:       c.DoctorID,
		ActorID:        actor.ID,
		ActorName:      actor.Name,
	}
	s.fillPatient(ctx, c.PatientID, &t)
	s.fanout.Dispatch(t)
}

func (s *Service) fillPatient(ctx context.Context, patientID uuid.UUID, t *notification.Transition) {
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		s.log.Warn().Err(err).Str("patient_id", patientID.String()).Msg("patient lookup for fan-out failed")
		return
	}
	t.PatientName = p.FullName
	t.PatientUserID = p.ClaimedBy
	t.RadiologistID = p.RadiologistID
}

// loadImage resolves the stored image bytes from the case's blob URL. The
// URL's trailing segment is the blob ID assigned at upload.
func (s *Service) loadImage(ctx context.Context, c *Case) ([]byte, string, error) {
	seg := c.ImageURL
	if i := strings.LastIndexByte(seg, '/'); i >= 0 {
		seg = seg[i+1:]
	}
	blobID, err := uuid.Parse(seg)
	if err != nil {
		return nil, "", apperrors.MissingReference("case image", c.ImageURL)
	}
	rc, meta, err := s.blobs.Open(ctx, blobID)
	if err != nil {
		return nil, "", apperrors.MissingReference("case image", blobID.String())
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", err
	}
	return data, meta.FileName, nil
}
