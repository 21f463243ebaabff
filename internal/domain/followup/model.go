package followup

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// RegistrationSubmission is one intake record for a case. Field values are
// kept as delivered by the upstream feed; typed access goes through the
// accessor methods, which never fail.
type RegistrationSubmission struct {
	ID          string            `json:"id,omitempty"`
	Worker      string            `json:"worker"`
	SubmittedAt string            `json:"submitted_at,omitempty"`
	Blocks      []VisitBlock      `json:"visits"`
	Case        CaseMetadata      `json:"case"`
	Fields      map[string]string `json:"fields,omitempty"` // form-level values, including create flags
}

// Submitted returns the submission date.
func (r *RegistrationSubmission) Submitted() (time.Time, bool) {
	return ParseDate(r.SubmittedAt)
}

// Field returns a trimmed form-level value, "" when absent.
func (r *RegistrationSubmission) Field(key string) string {
	return strings.TrimSpace(r.Fields[key])
}

// VisitBlock is one visit-schedule block of a registration.
type VisitBlock struct {
	VisitType     string `json:"visit_type"`
	ScheduledDate string `json:"scheduled_date,omitempty"`
	ExpiryDate    string `json:"expiry_date,omitempty"`
	CaseID        string `json:"case_id"`
}

// Scheduled returns the target date of the visit.
func (b VisitBlock) Scheduled() (time.Time, bool) { return ParseDate(b.ScheduledDate) }

// Expiry returns the date after which the visit counts as missed.
func (b VisitBlock) Expiry() (time.Time, bool) { return ParseDate(b.ExpiryDate) }

// CaseMetadata describes the beneficiary a registration is about.
type CaseMetadata struct {
	CaseID             string `json:"case_id,omitempty"`
	Name               string `json:"name,omitempty"`
	FirstName          string `json:"first_name,omitempty"`
	LastName           string `json:"last_name,omitempty"`
	Phone              string `json:"phone,omitempty"`
	Age                string `json:"age,omitempty"`
	DateOfBirth        string `json:"dob,omitempty"`
	HouseholdSize      string `json:"household_size,omitempty"`
	PreferredVisitTime string `json:"preferred_visit_time,omitempty"`
	Eligible           string `json:"eligible,omitempty"`
	ExpectedDate       string `json:"expected_date,omitempty"`
}

// DisplayName prefers the full name and falls back to first + last.
func (m CaseMetadata) DisplayName() string {
	if name := strings.TrimSpace(m.Name); name != "" {
		return name
	}
	return strings.TrimSpace(strings.TrimSpace(m.FirstName) + " " + strings.TrimSpace(m.LastName))
}

// AgeAt returns the age in whole years at ref. A parseable date of birth
// wins over the recorded age.
func (m CaseMetadata) AgeAt(ref time.Time) (int, bool) {
	if dob, ok := ParseDate(m.DateOfBirth); ok && !dob.After(ref) {
		ref = DateOf(ref)
		years := ref.Year() - dob.Year()
		if ref.Month() < dob.Month() || (ref.Month() == dob.Month() && ref.Day() < dob.Day()) {
			years--
		}
		return years, true
	}
	return parseWholeNumber(m.Age)
}

// HouseholdSizeValue returns the recorded household size.
func (m CaseMetadata) HouseholdSizeValue() (int, bool) {
	return parseWholeNumber(m.HouseholdSize)
}

// IsEligible reports whether the case qualifies for the incentive program
// that scopes the filtered completion rate.
func (m CaseMetadata) IsEligible() bool {
	return isAffirmative(m.Eligible)
}

// Expected returns the expected event date (e.g. delivery).
func (m CaseMetadata) Expected() (time.Time, bool) { return ParseDate(m.ExpectedDate) }

// CompletionEvent is one submitted visit form.
type CompletionEvent struct {
	ID          string            `json:"id,omitempty"`
	Worker      string            `json:"worker"`
	FormLabel   string            `json:"form_label"`
	CaseID      string            `json:"case_id"`
	SubmittedAt string            `json:"submitted_at,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// Submitted returns the calendar date the form was submitted.
func (e *CompletionEvent) Submitted() (time.Time, bool) { return ParseDate(e.SubmittedAt) }

// Field returns a trimmed computed value, "" when absent.
func (e *CompletionEvent) Field(key string) string {
	if key == "" {
		return ""
	}
	return strings.TrimSpace(e.Fields[key])
}

// DateField parses a computed value as a date.
func (e *CompletionEvent) DateField(key string) (time.Time, bool) {
	return ParseDate(e.Field(key))
}

// ExpectedVisit is the reconciled unit of work, unique per (case, visit type).
type ExpectedVisit struct {
	CaseID            string         `json:"case_id"`
	VisitType         string         `json:"visit_type"`
	CompletionFlag    string         `json:"completion_flag"`
	ScheduledDate     *time.Time     `json:"scheduled_date,omitempty"`
	ExpiryDate        *time.Time     `json:"expiry_date,omitempty"`
	Completed         bool           `json:"completed"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	CompletionEventID string         `json:"completion_event_id,omitempty"`
	Worker            WorkerIdentity `json:"worker,omitempty"`
}

// Timing returns the inputs of Classify for this visit.
func (v *ExpectedVisit) Timing() VisitTiming {
	return VisitTiming{
		Scheduled:   v.ScheduledDate,
		Expiry:      v.ExpiryDate,
		Completed:   v.Completed,
		CompletedOn: v.CompletedAt,
	}
}

// visitKey is the deduplication key of an ExpectedVisit.
type visitKey struct {
	caseID    string
	visitType string
}

func isAffirmative(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "yes", "y", "true":
		return true
	}
	return false
}

// parseWholeNumber accepts "27", "27.0" and " 27 ".
func parseWholeNumber(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(math.Floor(f)), true
}

func timePtr(t time.Time) *time.Time { return &t }
