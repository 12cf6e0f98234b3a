package xraycase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

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

type mockCaseRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Case
}

func newMockCaseRepo() *mockCaseRepo {
	return &mockCaseRepo{items: map[uuid.UUID]*Case{}}
}

func (m *mockCaseRepo) Create(_ context.Context, c *Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	cp := *c
	m.items[c.ID] = &cp
	return nil
}

func (m *mockCaseRepo) GetByID(_ context.Context, id uuid.UUID) (*Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return nil, apperrors.NotFound("case", id.String())
	}
	cp := *c
	return &cp, nil
}

func (m *mockCaseRepo) ListByPatient(_ context.Context, patientID uuid.UUID, _, _ int) ([]*Case, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Case
	for _, c := range m.items {
		if c.PatientID == patientID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *mockCaseRepo) List(_ context.Context, status *Status, _, _ int) ([]*Case, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Case
	for _, c := range m.items {
		if status == nil || c.Status == *status {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *mockCaseRepo) SetAnalysis(_ context.Context, id uuid.UUID, expected, next Status, analysis *AIAnalysis) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok || c.Status != expected {
		return false, nil
	}
	c.Status = next
	c.Analysis = analysis
	return true, nil
}

func (m *mockCaseRepo) SetReport(_ context.Context, id uuid.UUID, expected, next Status, report *Report, notes *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok || c.Status != expected {
		return false, nil
	}
	c.Status = next
	c.Report = report
	if notes != nil {
		c.RadiologistNotes = notes
	}
	return true, nil
}

func (m *mockCaseRepo) SetDoctorReview(_ context.Context, id uuid.UUID, expected, next Status, review *DoctorReview) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok || c.Status != expected {
		return false, nil
	}
	c.Status = next
	c.DoctorReview = review
	if c.DoctorID == nil {
		reviewer := review.ReviewerID
		c.DoctorID = &reviewer
	}
	return true, nil
}

func (m *mockCaseRepo) LinkPrescription(_ context.Context, id, prescriptionID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok || c.Status != StatusReviewed {
		return false, nil
	}
	c.PrescriptionID = &prescriptionID
	return true, nil
}

type mockPatientRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*patient.Patient
}

func (m *mockPatientRepo) Create(_ context.Context, p *patient.Patient) error { return nil }

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return nil, apperrors.NotFound("patient", id.String())
	}
	cp := *p
	cp.DoctorIDs = append([]uuid.UUID(nil), p.DoctorIDs...)
	return &cp, nil
}

func (m *mockPatientRepo) GetByCode(context.Context, string) (*patient.Patient, error) {
	return nil, apperrors.NotFound("patient", "")
}
func (m *mockPatientRepo) Update(context.Context, *patient.Patient) error { return nil }
func (m *mockPatientRepo) List(context.Context, int, int) ([]*patient.Patient, int, error) {
	return nil, 0, nil
}
func (m *mockPatientRepo) Claim(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}

func (m *mockPatientRepo) UnionDoctor(_ context.Context, id, doctorID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return apperrors.NotFound("patient", id.String())
	}
	for _, d := range p.DoctorIDs {
		if d == doctorID {
			return nil
		}
	}
	p.DoctorIDs = append(p.DoctorIDs, doctorID)
	return nil
}

func (m *mockPatientRepo) SetRadiologist(_ context.Context, id, radiologistID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return apperrors.NotFound("patient", id.String())
	}
	p.RadiologistID = &radiologistID
	return nil
}

type stubClassifier struct {
	result *classifier.Result
	err    error
}

func (s *stubClassifier) Classify(context.Context, string, []byte) (*classifier.Result, error) {
	return s.result, s.err
}

type stubReports struct {
	mu     sync.Mutex
	report *reportgen.Report
	err    error
	calls  int
	lastIn reportgen.Request
}

func (s *stubReports) Generate(_ context.Context, req reportgen.Request) (*reportgen.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastIn = req
	return s.report, s.err
}

type stubIssuer struct {
	err error
}

func (s *stubIssuer) Issue(_ context.Context, p *prescription.Prescription) error {
	if s.err != nil {
		return s.err
	}
	p.ID = uuid.New()
	p.Status = prescription.StatusSent
	return nil
}

type captureNotifications struct {
	mu      sync.Mutex
	created []*notification.Notification
}

func (c *captureNotifications) Create(_ context.Context, n *notification.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *n
	c.created = append(c.created, &cp)
	return nil
}
func (c *captureNotifications) GetByID(context.Context, uuid.UUID) (*notification.Notification, error) {
	return nil, errors.New("not implemented")
}
func (c *captureNotifications) ListByRecipient(context.Context, uuid.UUID, bool, int, int) ([]*notification.Notification, int, error) {
	return nil, 0, nil
}
func (c *captureNotifications) UnreadCount(context.Context, uuid.UUID) (int, error) { return 0, nil }
func (c *captureNotifications) MarkRead(context.Context, uuid.UUID) error           { return nil }
func (c *captureNotifications) MarkAllRead(context.Context, uuid.UUID) error        { return nil }

type fixture struct {
	svc        *Service
	cases      *mockCaseRepo
	patients   *mockPatientRepo
	classifier *stubClassifier
	reports    *stubReports
	notes      *captureNotifications
	patientID  uuid.UUID
	claimedBy  uuid.UUID
}

func newFixture() *fixture {
	cases := newMockCaseRepo()
	claimedBy := uuid.New()
	patientID := uuid.New()
	patients := &mockPatientRepo{items: map[uuid.UUID]*patient.Patient{
		patientID: {ID: patientID, PatientCode: "PT-1001", FullName: "Jane Roe", ClaimedBy: &claimedBy},
	}}
	cl := &stubClassifier{}
	rep := &stubReports{}
	notes := &captureNotifications{}
	log := zerolog.Nop()

	svc := NewService(ServiceDeps{
		Cases:         cases,
		Patients:      patients,
		Reconciler:    patient.NewReconciler(patients, log),
		Blobs:         blobstore.NewMemoryStore("http://localhost:8000"),
		Classifier:    cl,
		Reports:       rep,
		Prescriptions: &stubIssuer{},
		Thresholds:    Thresholds{PrimaryConfidence: 0.35, SecondaryFinding: 0.10},
		Fanout:        notification.NewFanout(notes, log),
		Log:           log,
	})
	return &fixture{
		svc: svc, cases: cases, patients: patients,
		classifier: cl, reports: rep, notes: notes,
		patientID: patientID, claimedBy: claimedBy,
	}
}

func resultWith(top string, topProb float64, noSignificant bool) *classifier.Result {
	probs := make(map[string]float64, len(classifier.Conditions))
	for i, c := range classifier.Conditions {
		probs[c] = 0.01 + float64(i)*0.001
	}
	probs[top] = topProb
	predictions := make([]classifier.Prediction, 0, len(probs))
	for _, c := range classifier.Conditions {
		predictions = append(predictions, classifier.Prediction{Condition: c, Probability: probs[c]})
	}
	for i := 0; i < len(predictions); i++ {
		for j := i + 1; j < len(predictions); j++ {
			if predictions[j].Probability > predictions[i].Probability {
				predictions[i], predictions[j] = predictions[j], predictions[i]
			}
		}
	}
	return &classifier.Result{Predictions: predictions, NoSignificantFinding: noSignificant}
}

func fourSectionReport() *reportgen.Report {
	return &reportgen.Report{
		Summary:         "Findings consistent with pleural effusion.",
		Findings:        "Blunting of the right costophrenic angle.",
		Impression:      "Right-sided pleural effusion.",
		Recommendations: "Recommend clinical correlation and follow-up imaging.",
	}
}

func (f *fixture) createCase(t *testing.T, actor auth.Actor) *Case {
	t.Helper()
	c, err := f.svc.CreateCase(context.Background(), actor, CreateCaseInput{
		PatientID:   f.patientID,
		FileName:    "chest.png",
		ContentType: "image/png",
		Content:     bytes.NewReader([]byte("fake-png-bytes")),
	})
	if err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	return c
}

func TestCreateCaseStartsPendingAndReconcilesDoctor(t *testing.T) {
	f := newFixture()
	doctor := auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor, Name: "Dr. House"}

	c := f.createCase(t, doctor)

	if c.Status != StatusPendingAIAnalysis {
		t.Errorf("status = %q, want %q", c.Status, StatusPendingAIAnalysis)
	}
	if c.ImageURL == "" {
		t.Error("image URL was not set")
	}
	p, _ := f.patients.GetByID(context.Background(), f.patientID)
	if !p.HasDoctor(doctor.ID) {
		t.Error("uploading doctor was not unioned into assigned-doctors set")
	}
}

func TestCreateCaseUnknownPatient(t *testing.T) {
	f := newFixture()
	doctor := auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor}

	_, err := f.svc.CreateCase(context.Background(), doctor, CreateCaseInput{
		PatientID:   uuid.New(),
		FileName:    "chest.png",
		ContentType: "image/png",
		Content:     strings.NewReader("bytes"),
	})
	if !errors.Is(err, apperrors.ErrMissingReference) {
		t.Fatalf("err = %v, want missing reference", err)
	}
}

func TestCreateCaseForbiddenForPatients(t *testing.T) {
	f := newFixture()
	actor := auth.Actor{ID: uuid.New(), Role: auth.RolePatient}

	_, err := f.svc.CreateCase(context.Background(), actor, CreateCaseInput{PatientID: f.patientID})
	if !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
}

func TestClassifyHighConfidenceCompletes(t *testing.T) {
	f := newFixture()
	radiologist := auth.Actor{ID: uuid.New(), Role: auth.RoleRadiologist}
	f.classifier.result = resultWith("Effusion", 0.82, false)

	c := f.createCase(t, radiologist)
	updated, err := f.svc.Classify(context.Background(), radiologist, c.ID)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if updated.Status != StatusAIAnalysisComplete {
		t.Errorf("status = %q, want %q", updated.Status, StatusAIAnalysisComplete)
	}
	if updated.Analysis == nil {
		t.Fatal("analysis payload missing after transition")
	}
	if updated.Analysis.PrimaryCondition != "Effusion" || updated.Analysis.Confidence != 0.82 {
		t.Errorf("primary = %s@%v, want Effusion@0.82", updated.Analysis.PrimaryCondition, updated.Analysis.Confidence)
	}
	for i := 1; i < len(updated.Analysis.Predictions); i++ {
		if updated.Analysis.Predictions[i].Probability > updated.Analysis.Predictions[i-1].Probability {
			t.Fatal("predictions are not sorted descending")
		}
	}
}

func TestClassifyLowConfidenceRoutesToReview(t *testing.T) {
	f := newFixture()
	radiologist := auth.Actor{ID: uuid.New(), Role: auth.RoleRadiologist}
	f.classifier.result = resultWith("Effusion", 0.12, true)

	c := f.createCase(t, radiologist)
	updated, err := f.svc.Classify(context.Background(), radiologist, c.ID)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if updated.Status != StatusRequiresRadiologistReview {
		t.Errorf("status = %q, want %q", updated.Status, StatusRequiresRadiologistReview)
	}
	if !updated.Analysis.RequiresReview {
		t.Error("analysis should flag requires_review")
	}
	if f.reports.calls != 0 {
		t.Error("report generation must not run during classification")
	}
}

func TestClassifyBelowThresholdWithoutFlagStillRoutesToReview(t *testing.T) {
	f := newFixture()
	radiologist := auth.Actor{ID: uuid.New(), Role: auth.RoleRadiologist}
	// 0.30 is under the 0.35 cutoff even without the explicit flag.
	f.classifier.result = resultWith("Nodule", 0.30, false)

	c := f.createCase(t, radiologist)
	updated, err := f.svc.Classify(context.Background(), radiologist, c.ID)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if updated.Status != StatusRequiresRadiologistReview {
		t.Errorf("status = %q, want %q", updated.Status, StatusRequiresRadiologistReview)
	}
}

func TestClassifyServiceFailureLeavesStatus(t *testing.T) {
	f := newFixture()
	radiologist := auth.Actor{ID: uuid.New(), Role: auth.RoleRadiologist}
	f.classifier.err = fmt.Errorf("connection refused")

	c := f.createCase(t, radiologist)
	_, err := f.svc.Classify(context.Background(), radiologist, c.ID)
	if !errors.Is(err, apperrors.ErrExternalService) {
		t.Fatalf("err = %v, want external service failure", err)
	}
	after, _ := f.cases.GetByID(context.Background(), c.ID)
	if after.Status != StatusPendingAIAnalysis {
		t.Errorf("status = %q, want unchanged %q", after.Status, StatusPendingAIAnalysis)
	}
	if after.Analysis != nil {
		t.Error("no analysis payload may be written on failure")
	}
}

func TestClassifyEmptyResultIsServiceFailure(t *testing.T) {
	f := newFixture()
	radiologist := auth.Actor{ID: uuid.New(), Role: auth.RoleRadiologist}
	f.classifier.result = &classifier.Result{}

	c := f.createCase(t, radiologist)
	_, err := f.svc.Classify(context.Background(), radiologist, c.ID)
	if !errors.Is(err, apperrors.ErrExternalService) {
		t.Fatalf("err = %v, want external service failure", err)
	}
	after, _ := f.cases.GetByID(context.Background(), c.ID)
	if after.Status != StatusPendingAIAnalysis {
		t.Errorf("status = %q, want unchanged %q", after.Status, StatusPendingAIAnalysis)
	}
	if after.Analysis != nil {
		t.Error("no analysis payload may be written on failure")
	}
}

func TestClassifyWrongStatusConflicts(t *testing.T) {
	f := newFixture()
	radiologist := auth.Actor{ID: uuid.New(), Role: auth.RoleRadiologist}
	f.classifier.result = resultWith("Effusion", 0.82, false)

	c := f.createCase(t, radiologist)
	if _, err := f.svc.Classify(context.Background(), radiologist, c.ID); err != nil {
		t.Fatalf("first Classify: %v", err)
	}
	if _, err := f.svc.Classify(context.Background(), radiologist, c.ID); !errors.Is(err, apperrors.ErrStaleState) {
		t.Fatalf("second Classify err = %v, want stale state conflict", err)
	}
}

func TestRequestReportAttachesFourSections(t *testing.T) {
	f := newFixture()
	radiologist := auth.Actor{ID: uuid.New(), Role: auth.RoleRadiologist, Name: "Dr. Ray"}
	f.classifier.result = resultWith("Effusion", 0.82, false)
	f.reports.report = fourSectionReport()

	c := f.createCase(t, radiologist)
	f.svc.Classify(context.Background(), radiologist, c.ID)

	updated, err := f.svc.RequestReport(context.Background(), radiologist, c.ID)
	if err != nil {
		t.Fatalf("RequestReport: %v", err)
	}
	if updated.Status != StatusAnalyzed {
		t.Errorf("status = %q, want %q", updated.Status, StatusAnalyzed)
	}
	r := updated.Report
	if r == nil {
		t.Fatal("report missing on analyzed case")
	}
	for name, text := range map[string]string{
		"summary": r.Summary, "findings": r.Findings,
		"impression": r.Impression, "recommendations": r.Recommendations,
	} {
		if text == "" {
			t.Errorf("report section %s is empty", name)
		}
	}
	if f.reports.lastIn.PrimaryCondition != "Effusion" {
		t.Errorf("report request primary = %q, want Effusion", f.reports.lastIn.PrimaryCondition)
	}
	// Patient is claimed, so doctor is absent and self + patient are notified.
	if len(f.notes.created) != 2 {
		t.Errorf("got %d notifications, want 2", len(f.notes.created))
	}
}

func TestReportTimeoutLeavesStatusUnchanged(t *testing.T) {
	f := newFixture()
	radiologist := auth.Actor{ID: uuid.New(), Role: auth.RoleRadiologist}
	f.classifier.result = resultWith("Effusion", 0.82, false)
	f.reports.err = fmt.Errorf("request timed out")

	c := f.createCase(t, radiologist)
	f.svc.Classify(context.Background(), radiologist, c.ID)

	_, err := f.svc.RequestReport(context.Background(), radiologist, c.ID)
	if !errors.Is(err, apperrors.ErrExternalService) {
		t.Fatalf("err = %v, want external service failure", err)
	}
	after, _ := f.cases.GetByID(context.Background(), c.ID)
	if after.Status != StatusAIAnalysisComplete {
		t.Errorf("status = %q, want unchanged %q", after.Status, StatusAIAnalysisComplete)
	}
	if after.Report != nil {
		t.Error("no report may be attached on failure")
	}
	if len(f.notes.created) != 0 {
		t.Error("no notifications may be written for a failed transition")
	}
}

func TestRadiologistReviewRequiresNotes(t *testing.T) {
	f := newFixture()
	radiologist := auth.Actor{ID: uuid.New(), Role: auth.RoleRadiologist}

	_, err := f.svc.SubmitRadiologistReview(context.Background(), radiologist, uuid.New(), "  ")
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestRadiologistReviewResolvesLowConfidenceFork(t *testing.T) {
	f := newFixture()
	radiologist := auth.Actor{ID: uuid.New(), Role: auth.RoleRadiologist, Name: "Dr. Ray"}
	f.classifier.result = resultWith("Nodule", 0.12, true)
	f.reports.report = fourSectionReport()

	c := f.createCase(t, radiologist)
	f.svc.Classify(context.Background(), radiologist, c.ID)

	updated, err := f.svc.SubmitRadiologistReview(context.Background(), radiologist, c.ID, "Subtle nodular opacity in the left upper lobe.")
	if err != nil {
		t.Fatalf("SubmitRadiologistReview: %v", err)
	}
	if updated.Status != StatusAnalyzed {
		t.Errorf("status = %q, want %q", updated.Status, StatusAnalyzed)
	}
	if updated.RadiologistNotes == nil || *updated.RadiologistNotes == "" {
		t.Error("radiologist notes were not persisted")
	}
	if updated.Report == nil {
		t.Error("report missing after manual review")
	}
}

func TestDoctorReviewUnionsDoctorAndNotifies(t *testing.T) {
	f := newFixture()
	radiologist := auth.Actor{ID: uuid.New(), Role: auth.RoleRadiologist}
	doctor := auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor, Name: "Dr. House"}
	f.classifier.result = resultWith("Effusion", 0.82, false)
	f.reports.report = fourSectionReport()

	c := f.createCase(t, radiologist)
	f.svc.Classify(context.Background(), radiologist, c.ID)
	f.svc.RequestReport(context.Background(), radiologist, c.ID)
	f.notes.created = nil

	updated, err := f.svc.SubmitDoctorReview(context.Background(), doctor, c.ID, DoctorReviewInput{
		Diagnosis:      "Pleural effusion",
		Recommendation: "Thoracentesis evaluation",
	})
	if err != nil {
		t.Fatalf("SubmitDoctorReview: %v", err)
	}
	if updated.Status != StatusReviewed {
		t.Errorf("status = %q, want %q", updated.Status, StatusReviewed)
	}
	if updated.DoctorReview == nil || updated.DoctorReview.ReviewerID != doctor.ID {
		t.Error("doctor review record missing or misattributed")
	}

	p, _ := f.patients.GetByID(context.Background(), f.patientID)
	if !p.HasDoctor(doctor.ID) {
		t.Error("reviewing doctor was not unioned into assigned-doctors set")
	}

	// Claimed patient + self-notify.
	if len(f.notes.created) != 2 {
		t.Fatalf("got %d notifications, want 2", len(f.notes.created))
	}
	gotRecipients := map[uuid.UUID]bool{}
	for _, n := range f.notes.created {
		gotRecipients[n.RecipientID] = true
	}
	if !gotRecipients[f.claimedBy] || !gotRecipients[doctor.ID] {
		t.Error("expected the claimed patient and the reviewing doctor to be notified")
	}
}

func TestConcurrentDoctorReviewExactlyOneSucceeds(t *testing.T) {
	f := newFixture()
	radiologist := auth.Actor{ID: uuid.New(), Role: auth.RoleRadiologist}
	f.classifier.result = resultWith("Effusion", 0.82, false)
	f.reports.report = fourSectionReport()

	c := f.createCase(t, radiologist)
	f.svc.Classify(context.Background(), radiologist, c.ID)
	f.svc.RequestReport(context.Background(), radiologist, c.ID)

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		doctor := auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SubmitDoctorReview(context.Background(), doctor, c.ID, DoctorReviewInput{Diagnosis: "Effusion"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var successes, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, apperrors.ErrStaleState):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	if conflicts != attempts-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, attempts-1)
	}

	final, _ := f.cases.GetByID(context.Background(), c.ID)
	if final.Status != StatusReviewed || final.DoctorReview == nil {
		t.Error("final state must be reviewed with exactly one review record")
	}
}

func TestSendPrescriptionLinksAndNotifies(t *testing.T) {
	f := newFixture()
	radiologist := auth.Actor{ID: uuid.New(), Role: auth.RoleRadiologist}
	doctor := auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor, Name: "Dr. House"}
	f.classifier.result = resultWith("Effusion", 0.82, false)
	f.reports.report = fourSectionReport()

	c := f.createCase(t, radiologist)
	f.svc.Classify(context.Background(), radiologist, c.ID)
	f.svc.RequestReport(context.Background(), radiologist, c.ID)
	f.svc.SubmitDoctorReview(context.Background(), doctor, c.ID, DoctorReviewInput{Diagnosis: "Pleural effusion"})
	f.notes.created = nil

	p, err := f.svc.SendPrescription(context.Background(), doctor, c.ID, PrescriptionInput{
		Medicines: []prescription.Medicine{{Name: "Furosemide", Dosage: "40mg", Frequency: "daily"}},
	})
	if err != nil {
		t.Fatalf("SendPrescription: %v", err)
	}
	if p.Diagnosis == nil || *p.Diagnosis != "Pleural effusion" {
		t.Error("prescription did not snapshot the review diagnosis")
	}

	after, _ := f.cases.GetByID(context.Background(), c.ID)
	if after.Status != StatusReviewed {
		t.Errorf("status = %q, prescriptions must not change case status", after.Status)
	}
	if after.PrescriptionID == nil || *after.PrescriptionID != p.ID {
		t.Error("prescription was not linked onto the case")
	}
	if len(f.notes.created) != 2 {
		t.Errorf("got %d notifications, want 2", len(f.notes.created))
	}
}

func TestSendPrescriptionBeforeReviewConflicts(t *testing.T) {
	f := newFixture()
	radiologist := auth.Actor{ID: uuid.New(), Role: auth.RoleRadiologist}
	doctor := auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor}
	f.classifier.result = resultWith("Effusion", 0.82, false)

	c := f.createCase(t, radiologist)
	f.svc.Classify(context.Background(), radiologist, c.ID)

	_, err := f.svc.SendPrescription(context.Background(), doctor, c.ID, PrescriptionInput{
		Medicines: []prescription.Medicine{{Name: "Furosemide", Dosage: "40mg", Frequency: "daily"}},
	})
	if !errors.Is(err, apperrors.ErrStaleState) {
		t.Fatalf("err = %v, want stale state conflict", err)
	}
}

func TestPatientReadScoping(t *testing.T) {
	f := newFixture()
	radiologist := auth.Actor{ID: uuid.New(), Role: auth.RoleRadiologist}
	c := f.createCase(t, radiologist)

	pid := f.patientID
	owner := auth.Actor{ID: f.claimedBy, Role: auth.RolePatient, PatientID: &pid}
	if _, err := f.svc.Get(context.Background(), owner, c.ID); err != nil {
		t.Errorf("owner denied own case: %v", err)
	}

	otherPID := uuid.New()
	stranger := auth.Actor{ID: uuid.New(), Role: auth.RolePatient, PatientID: &otherPID}
	if _, err := f.svc.Get(context.Background(), stranger, c.ID); !errors.Is(err, apperrors.ErrForbidden) {
		t.Errorf("stranger err = %v, want forbidden", err)
	}
}
