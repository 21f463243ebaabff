package followup

import "time"

// VisitStatus is the lifecycle state of an expected visit at a reference date.
type VisitStatus string

const (
	StatusCompletedOnTime VisitStatus = "Completed-OnTime"
	StatusCompletedLate   VisitStatus = "Completed-Late"
	StatusDueOnTime       VisitStatus = "Due-OnTime"
	StatusDueLate         VisitStatus = "Due-Late"
	StatusMissed          VisitStatus = "Missed"
)

// DefaultOnTimeWindowDays is the length of the on-time window after the
// scheduled date.
const DefaultOnTimeWindowDays = 7

// AllStatuses lists every status in reporting order.
func AllStatuses() []VisitStatus {
	return []VisitStatus{
		StatusCompletedOnTime,
		StatusCompletedLate,
		StatusDueOnTime,
		StatusDueLate,
		StatusMissed,
	}
}

// IsCompleted reports whether the status is one of the completed states.
func (s VisitStatus) IsCompleted() bool {
	return s == StatusCompletedOnTime || s == StatusCompletedLate
}

// VisitTiming holds everything Classify looks at. Nil dates are unknown.
type VisitTiming struct {
	Scheduled   *time.Time
	Expiry      *time.Time
	Completed   bool
	CompletedOn *time.Time
}

// Classify returns the status of a visit as of ref. The on-time window is
// [scheduled, scheduled+windowDays]. Completion is checked before expiry, so
// a late completion is never reported as missed. An open visit outside the
// window that has not expired is Due-Late, including one scheduled after ref.
// An unknown scheduled date yields Completed-Late for completed visits and Due-OnTime otherwise.
func Classify(t VisitTiming, ref time.Time, windowDays int) VisitStatus {
	if t.Scheduled == nil {
		if t.Completed {
			return StatusCompletedLate
		}
		return StatusDueOnTime
	}

	start := DateOf(*t.Scheduled)
	end := start.AddDate(0, 0, windowDays)
	inWindow := func(d time.Time) bool {
		d = DateOf(d)
		return !d.Before(start) && !d.After(end)
	}

	if t.Completed {
		if t.CompletedOn != nil && inWindow(*t.CompletedOn) {
			return StatusCompletedOnTime
		}
		return StatusCompletedLate
	}

	ref = DateOf(ref)
	if t.Expiry != nil && ref.After(DateOf(*t.Expiry)) {
		return StatusMissed
	}
	if inWindow(ref) {
		return StatusDueOnTime
	}
	return StatusDueLate
}
