package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TransitionKind identifies the workflow event driving a fan-out.
type TransitionKind string

const (
	KindReportReady          TransitionKind = "report_ready"
	KindDoctorReviewed       TransitionKind = "doctor_reviewed"
	KindPrescriptionSent     TransitionKind = "prescription_sent"
	KindAppointmentScheduled TransitionKind = "appointment_scheduled"
)

// Transition describes a completed case or appointment transition in plain
// references, so recipient selection stays a pure function of its fields.
// PatientUserID is the patient's login identity and is nil while the
// patient record is unclaimed.
type Transition struct {
	Kind           TransitionKind
	CaseID         uuid.UUID
	AppointmentID  uuid.UUID
	PrescriptionID uuid.UUID
	PatientName    string
	PatientUserID  *uuid.UUID
	DoctorID       *uuid.UUID
	RadiologistID  *uuid.UUID
	ActorID        uuid.UUID
	ActorName      string
	Condition      string
}

// Plan computes the notification set for a transition. It never touches
// storage; given the same transition it always produces the same plan.
func Plan(t Transition) []Notification {
	var out []Notification
	sender := t.ActorID

	add := func(recipient uuid.UUID, typ, title, message string, action *Action) {
		out = append(out, Notification{
			RecipientID: recipient,
			SenderID:    &sender,
			Title:       title,
			Message:     message,
			Type:        typ,
			Action:      action,
		})
	}

	switch t.Kind {
	case KindReportReady:
		action := &Action{Kind: "case", EntityID: t.CaseID, Intent: "view_report"}
		if t.DoctorID != nil && *t.DoctorID != t.ActorID {
			add(*t.DoctorID, TypeReportReady, "Report ready for review",
				fmt.Sprintf("An X-ray report for %s is ready for your review.", t.PatientName), action)
		}
		if t.PatientUserID != nil {
			add(*t.PatientUserID, TypeReportReady, "Your X-ray report is ready",
				"Your X-ray has been analyzed and a report is available.", action)
		}
		add(t.ActorID, TypeReportReady, "Report generated",
			fmt.Sprintf("Report for %s generated successfully.", t.PatientName), action)

	case KindDoctorReviewed:
		action := &Action{Kind: "case", EntityID: t.CaseID, Intent: "view_review"}
		if t.PatientUserID != nil {
			add(*t.PatientUserID, TypeCaseReviewed, "Your case has been reviewed",
				fmt.Sprintf("%s reviewed your X-ray results.", t.ActorName), action)
		}
		add(t.ActorID, TypeCaseReviewed, "Review recorded",
			fmt.Sprintf("Your review for %s has been recorded.", t.PatientName), action)

	case KindPrescriptionSent:
		action := &Action{Kind: "prescription", EntityID: t.PrescriptionID, Intent: "view_prescription"}
		if t.PatientUserID != nil {
			add(*t.PatientUserID, TypePrescription, "New prescription",
				fmt.Sprintf("%s sent you a prescription.", t.ActorName), action)
		}
		add(t.ActorID, TypePrescription, "Prescription sent",
			fmt.Sprintf("Prescription for %s sent.", t.PatientName), action)

	case KindAppointmentScheduled:
		action := &Action{Kind: "appointment", EntityID: t.AppointmentID, Intent: "view_appointment"}
		if t.PatientUserID != nil {
			add(*t.PatientUserID, TypeAppointment, "Appointment scheduled",
				"Your X-ray appointment has been scheduled.", action)
		}
		if t.RadiologistID != nil && *t.RadiologistID != t.ActorID {
			add(*t.RadiologistID, TypeAppointment, "New appointment",
				fmt.Sprintf("An X-ray appointment for %s was assigned to you.", t.PatientName), action)
		}
	}

	return out
}

// Fanout persists notification plans best-effort. Writes run concurrently
// and failures are logged, never returned: a transition's outcome must not
// depend on its notifications.
type Fanout struct {
	repo    Repository
	log     zerolog.Logger
	timeout time.Duration
}

func NewFanout(repo Repository, log zerolog.Logger) *Fanout {
	return &Fanout{repo: repo, log: log, timeout: 10 * time.Second}
}

// Dispatch writes the plan for t. It blocks until every write has been
// attempted, but uses its own timeout context so a caller cancelling after
// a committed transition cannot strand the feed writes.
func (f *Fanout) Dispatch(t Transition) {
	plan := Plan(t)
	if len(plan) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	var wg sync.WaitGroup
	for i := range plan {
		n := plan[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.repo.Create(ctx, &n); err != nil {
				f.log.Error().Err(err).
					Str("kind", string(t.Kind)).
					Str("recipient_id", n.RecipientID.String()).
					Str("case_id", t.CaseID.String()).
					Msg("notification write failed")
			}
		}()
	}
	wg.Wait()
}
