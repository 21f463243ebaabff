package followup

import (
	"time"
)

// -- Fixtures --

var refDate = time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)

// day formats the date offset days from refDate.
func day(offset int) string {
	return refDate.AddDate(0, 0, offset).Format("2006-01-02")
}

func dayPtr(offset int) *time.Time {
	d := refDate.AddDate(0, 0, offset)
	return &d
}

func block(caseID, visitType, scheduled, expiry string) VisitBlock {
	return VisitBlock{CaseID: caseID, VisitType: visitType, ScheduledDate: scheduled, ExpiryDate: expiry}
}

// allCreated sets every create flag of the default vocabulary to "1".
func allCreated() map[string]string {
	fields := make(map[string]string)
	for _, t := range DefaultVocabulary().VisitTypes() {
		if t.CreateFlag != "" {
			fields[t.CreateFlag] = "1"
		}
	}
	return fields
}

func registration(worker, caseID string, blocks ...VisitBlock) RegistrationSubmission {
	return RegistrationSubmission{
		ID:          "reg-" + caseID,
		Worker:      worker,
		SubmittedAt: day(-60),
		Blocks:      blocks,
		Case:        CaseMetadata{CaseID: caseID, Name: "Case " + caseID, Eligible: "yes"},
		Fields:      allCreated(),
	}
}

func completion(id, worker, label, caseID, submitted string) CompletionEvent {
	return CompletionEvent{ID: id, Worker: worker, FormLabel: label, CaseID: caseID, SubmittedAt: submitted}
}

func activeFor(regs []RegistrationSubmission, events []CompletionEvent, allowlist ...string) ActiveWorkers {
	return ResolveActive(allowlist, ObservedWorkers(regs, events))
}
