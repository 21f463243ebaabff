package followup

import (
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ValueShare is the most common value in a set and how much of it it covers.
type ValueShare struct {
	Value string  `json:"value,omitempty"`
	Count int     `json:"count"`
	Of    int     `json:"of"`
	Share float64 `json:"share"`
}

// WorkerQuality holds the descriptive data-quality signals for one worker's
// cases. Shares are percentages; flagging thresholds belong to the consumer.
type WorkerQuality struct {
	Worker WorkerIdentity `json:"worker"`
	Cases  int            `json:"cases"`

	CasesWithPhone      int     `json:"cases_with_phone"`
	DuplicatePhoneCases int     `json:"duplicate_phone_cases"`
	PhoneDuplication    float64 `json:"phone_duplication"`

	ParityMode ValueShare `json:"parity_mode"`
	AgeMode    ValueShare `json:"age_mode"`

	// SameDateMilestones counts cases whose two milestone dates are equal.
	SameDateMilestones     int     `json:"same_date_milestones"`
	MilestoneCases         int     `json:"milestone_cases"`
	SameDateMilestoneShare float64 `json:"same_date_milestone_share"`
	BirthMatchesRegistered int     `json:"birth_matches_registered"`
	BirthRegistrationCases int     `json:"birth_registration_cases"`
	BirthRegistrationShare float64 `json:"birth_registration_share"`
}

// caseFacts is what the quality engine knows about one case.
type caseFacts struct {
	phone        string
	age          string
	parity       string
	firstDate    *time.Time
	secondDate   *time.Time
	birthDate    *time.Time
	registeredOn *time.Time
}

// ComputeQuality computes quality signals for each listed worker over the
// cases attributed to them. Case facts start from registration metadata and
// are completed by the computed fields of completion events, the latest
// non-empty value winning.
func ComputeQuality(workers []WorkerIdentity, casesByWorker map[WorkerIdentity][]string, table *ScheduleTable, events []CompletionEvent, vocab *Vocabulary) []WorkerQuality {
	facts := collectFacts(table, events, vocab.CaseFields())

	out := make([]WorkerQuality, 0, len(workers))
	for _, w := range workers {
		out = append(out, workerQuality(w, casesByWorker[w], facts))
	}
	return out
}

func collectFacts(table *ScheduleTable, events []CompletionEvent, fields CaseFields) map[string]*caseFacts {
	facts := make(map[string]*caseFacts, len(table.cases))
	for id, info := range table.cases {
		f := &caseFacts{
			phone:        normalizePhone(info.Phone),
			registeredOn: info.RegisteredOn,
		}
		if info.Age != nil {
			f.age = strconv.Itoa(*info.Age)
		}
		facts[id] = f
	}

	for i := range events {
		ev := &events[i]
		f, ok := facts[strings.TrimSpace(ev.CaseID)]
		if !ok {
			continue
		}
		if p := ev.Field(fields.Parity); p != "" {
			if n, ok := parseWholeNumber(p); ok {
				p = strconv.Itoa(n)
			}
			f.parity = p
		}
		if d, ok := ev.DateField(fields.FirstMilestoneDate); ok {
			f.firstDate = timePtr(d)
		}
		if d, ok := ev.DateField(fields.SecondMilestoneDate); ok {
			f.secondDate = timePtr(d)
		}
		if d, ok := ev.DateField(fields.DerivedBirthDate); ok {
			f.birthDate = timePtr(d)
		}
	}
	return facts
}

func workerQuality(w WorkerIdentity, caseIDs []string, facts map[string]*caseFacts) WorkerQuality {
	q := WorkerQuality{Worker: w, Cases: len(caseIDs)}

	phones := make(map[string]int)
	var parities, ages []string
	for _, id := range caseIDs {
		f, ok := facts[id]
		if !ok {
			continue
		}
		if f.phone != "" {
			phones[f.phone]++
			q.CasesWithPhone++
		}
		if f.parity != "" {
			parities = append(parities, f.parity)
		}
		if f.age != "" {
			ages = append(ages, f.age)
		}
		if f.firstDate != nil && f.secondDate != nil {
			q.MilestoneCases++
			if f.firstDate.Equal(*f.secondDate) {
				q.SameDateMilestones++
			}
		}
		if f.birthDate != nil && f.registeredOn != nil {
			q.BirthRegistrationCases++
			if f.birthDate.Month() == f.registeredOn.Month() && f.birthDate.Day() == f.registeredOn.Day() {
				q.BirthMatchesRegistered++
			}
		}
	}

	for _, n := range phones {
		if n > 1 {
			q.DuplicatePhoneCases += n
		}
	}
	q.PhoneDuplication = percent(q.DuplicatePhoneCases, q.CasesWithPhone)
	q.ParityMode = modeOf(parities)
	q.AgeMode = modeOf(ages)
	q.SameDateMilestoneShare = percent(q.SameDateMilestones, q.MilestoneCases)
	q.BirthRegistrationShare = percent(q.BirthMatchesRegistered, q.BirthRegistrationCases)
	return q
}

// modeOf returns the most frequent value. Ties go to the smallest value:
// whole numbers sort numerically and before any other value, the rest sort
// as text.
func modeOf(values []string) ValueShare {
	if len(values) == 0 {
		return ValueShare{}
	}
	counts := make(map[string]int, len(values))
	for _, v := range values {
		counts[v]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return lessValue(keys[i], keys[j])
	})
	best := keys[0]
	return ValueShare{
		Value: best,
		Count: counts[best],
		Of:    len(values),
		Share: percent(counts[best], len(values)),
	}
}

func lessValue(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		if na != nb {
			return na < nb
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

// normalizePhone keeps the digits of a phone number.
func normalizePhone(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
