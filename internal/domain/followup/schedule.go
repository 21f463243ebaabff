package followup

import (
	"strings"
	"time"
)

// CaseInfo is the per-case metadata captured from the first registration
// that mentions the case.
type CaseInfo struct {
	CaseID             string         `json:"case_id"`
	Name               string         `json:"name,omitempty"`
	Age                *int           `json:"age,omitempty"`
	Phone              string         `json:"phone,omitempty"`
	HouseholdSize      *int           `json:"household_size,omitempty"`
	PreferredVisitTime string         `json:"preferred_visit_time,omitempty"`
	Eligible           bool           `json:"eligible"`
	ExpectedDate       *time.Time     `json:"expected_date,omitempty"`
	RegisteredOn       *time.Time     `json:"registered_on,omitempty"`
	RegisteredBy       WorkerIdentity `json:"registered_by,omitempty"`
}

// ExtractStats counts what the schedule extractor did with its input.
type ExtractStats struct {
	Submissions        int `json:"submissions"`
	Blocks             int `json:"blocks"`
	Extracted          int `json:"extracted"`
	SkippedNotCreated  int `json:"skipped_not_created"`
	SkippedMalformed   int `json:"skipped_malformed"`
	SkippedUnknownType int `json:"skipped_unknown_type"`
	SkippedNoFlag      int `json:"skipped_no_flag"`
	Duplicates         int `json:"duplicates"`
}

// ScheduleTable is the expected-visit table keyed by (case id, visit type).
// Visits keep the order in which they were first seen.
type ScheduleTable struct {
	visits    []*ExpectedVisit
	index     map[visitKey]*ExpectedVisit
	cases     map[string]*CaseInfo
	caseOrder []string
	Stats     ExtractStats
}

func newScheduleTable() *ScheduleTable {
	return &ScheduleTable{
		index: make(map[visitKey]*ExpectedVisit),
		cases: make(map[string]*CaseInfo),
	}
}

// ExtractSchedule flattens registration submissions into expected visits.
// Blocks without a type or case id are skipped, as are blocks whose type is
// unknown or untracked and blocks whose create flag is not "1". The first
// occurrence of a (case id, visit type) pair wins.
func ExtractSchedule(regs []RegistrationSubmission, vocab *Vocabulary, ref time.Time) *ScheduleTable {
	t := newScheduleTable()

	for i := range regs {
		sub := &regs[i]
		t.Stats.Submissions++
		worker := NewWorkerIdentity(sub.Worker)

		if id := strings.TrimSpace(sub.Case.CaseID); id != "" {
			t.recordCase(id, sub, worker, ref)
		}

		for _, block := range sub.Blocks {
			t.Stats.Blocks++

			caseID := strings.TrimSpace(block.CaseID)
			rawType := strings.TrimSpace(block.VisitType)
			if caseID == "" || rawType == "" {
				t.Stats.SkippedMalformed++
				continue
			}
			t.recordCase(caseID, sub, worker, ref)

			visitType, ok := vocab.canonicalType(rawType)
			if !ok {
				t.Stats.SkippedUnknownType++
				continue
			}

			completionFlag := vocab.CompletionFlag(visitType)
			if completionFlag == "" {
				t.Stats.SkippedNoFlag++
				continue
			}

			if flag := vocab.CreateFlag(visitType); flag != "" && sub.Field(flag) != "1" {
				t.Stats.SkippedNotCreated++
				continue
			}

			key := visitKey{caseID: caseID, visitType: visitType}
			if _, exists := t.index[key]; exists {
				t.Stats.Duplicates++
				continue
			}

			visit := &ExpectedVisit{
				CaseID:         caseID,
				VisitType:      visitType,
				CompletionFlag: completionFlag,
				Worker:         worker,
			}
			if d, ok := block.Scheduled(); ok {
				visit.ScheduledDate = timePtr(d)
			}
			if d, ok := block.Expiry(); ok {
				visit.ExpiryDate = timePtr(d)
			}

			t.index[key] = visit
			t.visits = append(t.visits, visit)
			t.Stats.Extracted++
		}
	}

	return t
}

func (t *ScheduleTable) recordCase(caseID string, sub *RegistrationSubmission, worker WorkerIdentity, ref time.Time) {
	if _, ok := t.cases[caseID]; ok {
		return
	}
	meta := sub.Case
	info := &CaseInfo{
		CaseID:             caseID,
		Name:               meta.DisplayName(),
		Phone:              strings.TrimSpace(meta.Phone),
		PreferredVisitTime: strings.TrimSpace(meta.PreferredVisitTime),
		Eligible:           meta.IsEligible(),
		RegisteredBy:       worker,
	}
	if age, ok := meta.AgeAt(ref); ok {
		info.Age = &age
	}
	if n, ok := meta.HouseholdSizeValue(); ok {
		info.HouseholdSize = &n
	}
	if d, ok := meta.Expected(); ok {
		info.ExpectedDate = timePtr(d)
	}
	if d, ok := sub.Submitted(); ok {
		info.RegisteredOn = timePtr(d)
	}
	t.cases[caseID] = info
	t.caseOrder = append(t.caseOrder, caseID)
}

// Visits returns the expected visits in first-seen order.
func (t *ScheduleTable) Visits() []*ExpectedVisit { return t.visits }

// Lookup finds the expected visit for a case and visit type.
func (t *ScheduleTable) Lookup(caseID, visitType string) (*ExpectedVisit, bool) {
	v, ok := t.index[visitKey{caseID: caseID, visitType: visitType}]
	return v, ok
}

// Case returns the metadata recorded for a case.
func (t *ScheduleTable) Case(caseID string) (*CaseInfo, bool) {
	c, ok := t.cases[caseID]
	return c, ok
}

// CaseIDs returns every known case id in first-seen order.
func (t *ScheduleTable) CaseIDs() []string { return t.caseOrder }
