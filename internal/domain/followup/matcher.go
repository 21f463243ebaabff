package followup

import (
	"sort"
	"strings"
)

// Diagnostics counts how every completion event was handled. The counters are
// observability signals; none of them stop a run.
type Diagnostics struct {
	Events           int            `json:"events"`
	Matched          int            `json:"matched"`
	CrossTypeMatches int            `json:"cross_type_matches"`
	SkippedInactive  int            `json:"skipped_inactive"`
	EmptyLabel       int            `json:"empty_label"`
	RegistrationRows int            `json:"registration_rows"`
	Unmapped         int            `json:"unmapped"`
	NoCompletionFlag int            `json:"no_completion_flag"`
	MissingCaseID    int            `json:"missing_case_id"`
	NoMatch          int            `json:"no_match"`
	AlreadyCompleted int            `json:"already_completed"`
	UnmappedLabels   map[string]int `json:"unmapped_labels,omitempty"`
}

// Skipped returns the number of events that completed nothing.
func (d Diagnostics) Skipped() int {
	return d.Events - d.Matched
}

// TopUnmappedLabels returns up to n unmapped labels, most frequent first.
func (d Diagnostics) TopUnmappedLabels(n int) []string {
	labels := make([]string, 0, len(d.UnmappedLabels))
	for l := range d.UnmappedLabels {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		ci, cj := d.UnmappedLabels[labels[i]], d.UnmappedLabels[labels[j]]
		if ci != cj {
			return ci > cj
		}
		return labels[i] < labels[j]
	})
	if n >= 0 && len(labels) > n {
		labels = labels[:n]
	}
	return labels
}

// MatchCompletions marks expected visits completed from the completion feed.
// Each event completes at most one visit: the visit of its own type for the
// case, or else the first open visit of another type sharing the same
// completion flag. Events from inactive workers and registration rows are
// never matched.
func MatchCompletions(table *ScheduleTable, events []CompletionEvent, active ActiveWorkers, vocab *Vocabulary) Diagnostics {
	d := Diagnostics{UnmappedLabels: make(map[string]int)}

	for i := range events {
		ev := &events[i]
		d.Events++

		if !active.Contains(NewWorkerIdentity(ev.Worker)) {
			d.SkippedInactive++
			continue
		}

		label := strings.TrimSpace(ev.FormLabel)
		if label == "" {
			d.EmptyLabel++
			continue
		}
		if vocab.IsRegistrationLabel(label) {
			d.RegistrationRows++
			continue
		}

		visitType, ok := vocab.ResolveLabel(label)
		if !ok {
			d.Unmapped++
			d.UnmappedLabels[normalizeLabel(label)]++
			continue
		}

		flag := vocab.CompletionFlag(visitType)
		if flag == "" {
			d.NoCompletionFlag++
			continue
		}

		caseID := strings.TrimSpace(ev.CaseID)
		if caseID == "" {
			d.MissingCaseID++
			continue
		}

		visit, sawCompleted := findOpenVisit(table, caseID, visitType, flag, vocab)
		if visit == nil {
			if sawCompleted {
				d.AlreadyCompleted++
			} else {
				d.NoMatch++
			}
			continue
		}

		visit.Completed = true
		if when, ok := ev.Submitted(); ok {
			visit.CompletedAt = timePtr(when)
		}
		visit.CompletionEventID = ev.ID
		d.Matched++
		if visit.VisitType != visitType {
			d.CrossTypeMatches++
		}
	}

	if len(d.UnmappedLabels) == 0 {
		d.UnmappedLabels = nil
	}
	return d
}

// findOpenVisit looks up the resolved type first. When the case has a visit
// of that type, it is the only candidate: a completed one reports
// sawCompleted. Types sharing the completion flag are tried, in vocabulary
// order, only when the case has no visit of the resolved type.
func findOpenVisit(table *ScheduleTable, caseID, visitType, flag string, vocab *Vocabulary) (visit *ExpectedVisit, sawCompleted bool) {
	if v, ok := table.Lookup(caseID, visitType); ok {
		if v.Completed {
			return nil, true
		}
		return v, false
	}
	for _, t := range vocab.TypesSharingFlag(flag) {
		if t == visitType {
			continue
		}
		v, ok := table.Lookup(caseID, t)
		if !ok {
			continue
		}
		if v.Completed {
			sawCompleted = true
			continue
		}
		return v, sawCompleted
	}
	return nil, sawCompleted
}

// Ownership maps each case to the worker currently responsible for it.
type Ownership struct {
	owners map[string]WorkerIdentity
}

// BuildOwnership starts from the registering worker of every registered case
// and lets the completion feed overwrite it: the last event that carries both
// the case id and a worker decides. Every expected visit's Worker is updated
// to match.
func BuildOwnership(table *ScheduleTable, events []CompletionEvent) Ownership {
	owners := make(map[string]WorkerIdentity, len(table.cases))
	for _, id := range table.caseOrder {
		if w := table.cases[id].RegisteredBy; !w.IsZero() {
			owners[id] = w
		}
	}

	for i := range events {
		caseID := strings.TrimSpace(events[i].CaseID)
		w := NewWorkerIdentity(events[i].Worker)
		if caseID == "" || w.IsZero() {
			continue
		}
		if _, known := table.cases[caseID]; !known {
			continue
		}
		owners[caseID] = w
	}

	for _, v := range table.visits {
		v.Worker = owners[v.CaseID]
	}

	return Ownership{owners: owners}
}

// Owner returns the worker responsible for a case.
func (o Ownership) Owner(caseID string) (WorkerIdentity, bool) {
	w, ok := o.owners[caseID]
	return w, ok
}

// CasesByWorker groups case ids by owner, restricted to active workers.
// Case ids are sorted within each worker.
func (o Ownership) CasesByWorker(active ActiveWorkers) map[WorkerIdentity][]string {
	out := make(map[WorkerIdentity][]string)
	for caseID, w := range o.owners {
		if !active.Contains(w) {
			continue
		}
		out[w] = append(out[w], caseID)
	}
	for w := range out {
		sort.Strings(out[w])
	}
	return out
}
