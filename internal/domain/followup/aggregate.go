package followup

import (
	"math"
	"sort"
	"time"
)

// Status colors derived from the completion rate.
const (
	ColorGreen  = "green"
	ColorYellow = "yellow"
	ColorRed    = "red"
)

// Options tunes the date windows and color tiers used by the aggregator.
type Options struct {
	OnTimeWindowDays int     `json:"on_time_window_days"`
	GracePeriodDays  int     `json:"grace_period_days"`
	GreenThreshold   float64 `json:"green_threshold"`
	YellowThreshold  float64 `json:"yellow_threshold"`
}

// DefaultOptions returns the program defaults: a 7 day on-time window, a
// 5 day grace period, green from 80% and yellow from 60%.
func DefaultOptions() Options {
	return Options{
		OnTimeWindowDays: DefaultOnTimeWindowDays,
		GracePeriodDays:  5,
		GreenThreshold:   80,
		YellowThreshold:  60,
	}
}

// StatusColor maps a completion rate (percent) to its color tier.
func (o Options) StatusColor(rate float64) string {
	switch {
	case rate >= o.GreenThreshold:
		return ColorGreen
	case rate >= o.YellowThreshold:
		return ColorYellow
	default:
		return ColorRed
	}
}

// StatusCounts counts visits per status.
type StatusCounts struct {
	CompletedOnTime int `json:"completed_on_time"`
	CompletedLate   int `json:"completed_late"`
	DueOnTime       int `json:"due_on_time"`
	DueLate         int `json:"due_late"`
	Missed          int `json:"missed"`
}

// Add counts one visit with status s.
func (c *StatusCounts) Add(s VisitStatus) {
	switch s {
	case StatusCompletedOnTime:
		c.CompletedOnTime++
	case StatusCompletedLate:
		c.CompletedLate++
	case StatusDueOnTime:
		c.DueOnTime++
	case StatusDueLate:
		c.DueLate++
	case StatusMissed:
		c.Missed++
	}
}

// Get returns the count for status s.
func (c StatusCounts) Get(s VisitStatus) int {
	switch s {
	case StatusCompletedOnTime:
		return c.CompletedOnTime
	case StatusCompletedLate:
		return c.CompletedLate
	case StatusDueOnTime:
		return c.DueOnTime
	case StatusDueLate:
		return c.DueLate
	case StatusMissed:
		return c.Missed
	}
	return 0
}

// Total returns the number of counted visits.
func (c StatusCounts) Total() int {
	return c.CompletedOnTime + c.CompletedLate + c.DueOnTime + c.DueLate + c.Missed
}

// Completed returns the number of completed visits.
func (c StatusCounts) Completed() int {
	return c.CompletedOnTime + c.CompletedLate
}

// StatusPercentages is StatusCounts expressed against a grand total.
type StatusPercentages struct {
	CompletedOnTime float64 `json:"completed_on_time"`
	CompletedLate   float64 `json:"completed_late"`
	DueOnTime       float64 `json:"due_on_time"`
	DueLate         float64 `json:"due_late"`
	Missed          float64 `json:"missed"`
}

// TypeCounts counts visits of one visit type.
type TypeCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
}

// VisitDetail is an expected visit with its status at the reference date.
type VisitDetail struct {
	ExpectedVisit
	Status VisitStatus `json:"status"`
}

// WorkerSummary is the per-worker rollup.
type WorkerSummary struct {
	Worker      WorkerIdentity        `json:"worker"`
	Cases       int                   `json:"cases"`
	TotalVisits int                   `json:"total_visits"`
	Statuses    StatusCounts          `json:"statuses"`
	VisitTypes  map[string]TypeCounts `json:"visit_types"`
	// EligibleDue counts visits of eligible cases scheduled at least the
	// grace period before the reference date; it is the denominator of
	// CompletionRate.
	EligibleDue       int     `json:"eligible_due"`
	EligibleCompleted int     `json:"eligible_completed"`
	CompletionRate    float64 `json:"completion_rate"`
	StatusColor       string  `json:"status_color"`
}

// CaseSummary is the per-case rollup under a worker.
type CaseSummary struct {
	CaseID        string         `json:"case_id"`
	Name          string         `json:"name,omitempty"`
	Worker        WorkerIdentity `json:"worker"`
	Eligible      bool           `json:"eligible"`
	TotalVisits   int            `json:"total_visits"`
	Completed     int            `json:"completed"`
	CompletionPct float64        `json:"completion_pct"`
	Visits        []VisitDetail  `json:"visits"`
}

// Distribution is the global status breakdown across all active workers.
type Distribution struct {
	Total       int               `json:"total"`
	Counts      StatusCounts      `json:"counts"`
	Percentages StatusPercentages `json:"percentages"`
}

// Aggregates is everything the aggregator produces.
type Aggregates struct {
	Workers        []WorkerSummary                  `json:"workers"`
	Cases          map[WorkerIdentity][]CaseSummary `json:"cases"`
	VisitsByWorker map[WorkerIdentity][]VisitDetail `json:"visits_by_worker"`
	Distribution   Distribution                     `json:"distribution"`
	// Unowned counts visits whose case has no resolvable worker.
	Unowned int `json:"unowned"`
	// InactiveOwned counts visits owned by workers outside the active set.
	InactiveOwned int `json:"inactive_owned"`
}

// Aggregate classifies every expected visit owned by an active worker and
// rolls the results up per worker, per case and globally.
func Aggregate(table *ScheduleTable, ownership Ownership, active ActiveWorkers, ref time.Time, opts Options) Aggregates {
	ref = DateOf(ref)
	out := Aggregates{
		Cases:          make(map[WorkerIdentity][]CaseSummary),
		VisitsByWorker: make(map[WorkerIdentity][]VisitDetail),
	}

	byCase := make(map[string][]VisitDetail)
	for _, v := range table.visits {
		switch {
		case v.Worker.IsZero():
			out.Unowned++
			continue
		case !active.Contains(v.Worker):
			out.InactiveOwned++
			continue
		}
		detail := VisitDetail{ExpectedVisit: *v, Status: Classify(v.Timing(), ref, opts.OnTimeWindowDays)}
		byCase[v.CaseID] = append(byCase[v.CaseID], detail)
		out.VisitsByWorker[v.Worker] = append(out.VisitsByWorker[v.Worker], detail)
		out.Distribution.Counts.Add(detail.Status)
	}

	casesByWorker := ownership.CasesByWorker(active)
	for _, worker := range active.Sorted() {
		summary := WorkerSummary{
			Worker:     worker,
			VisitTypes: make(map[string]TypeCounts),
		}

		caseIDs := casesByWorker[worker]
		summary.Cases = len(caseIDs)
		caseSummaries := make([]CaseSummary, 0, len(caseIDs))

		for _, caseID := range caseIDs {
			info, _ := table.Case(caseID)
			visits := byCase[caseID]
			sortVisitDetails(visits)

			cs := CaseSummary{
				CaseID:      caseID,
				Worker:      worker,
				TotalVisits: len(visits),
				Visits:      visits,
			}
			if info != nil {
				cs.Name = info.Name
				cs.Eligible = info.Eligible
			}
			if cs.Visits == nil {
				cs.Visits = []VisitDetail{}
			}

			for _, d := range visits {
				completed := d.Status.IsCompleted()
				summary.TotalVisits++
				summary.Statuses.Add(d.Status)

				tc := summary.VisitTypes[d.VisitType]
				tc.Total++
				if completed {
					tc.Completed++
					cs.Completed++
				}
				summary.VisitTypes[d.VisitType] = tc

				if cs.Eligible && pastGracePeriod(d.ScheduledDate, ref, opts.GracePeriodDays) {
					summary.EligibleDue++
					if completed {
						summary.EligibleCompleted++
					}
				}
			}

			cs.CompletionPct = percent(cs.Completed, cs.TotalVisits)
			caseSummaries = append(caseSummaries, cs)
		}

		summary.CompletionRate = percent(summary.EligibleCompleted, summary.EligibleDue)
		summary.StatusColor = opts.StatusColor(summary.CompletionRate)

		out.Workers = append(out.Workers, summary)
		out.Cases[worker] = caseSummaries
		if visits, ok := out.VisitsByWorker[worker]; ok {
			sortWorkerVisits(visits)
		} else {
			out.VisitsByWorker[worker] = []VisitDetail{}
		}
	}
	if out.Workers == nil {
		out.Workers = []WorkerSummary{}
	}

	out.Distribution = newDistribution(out.Distribution.Counts)
	return out
}

func newDistribution(c StatusCounts) Distribution {
	total := c.Total()
	return Distribution{
		Total:  total,
		Counts: c,
		Percentages: StatusPercentages{
			CompletedOnTime: percent(c.CompletedOnTime, total),
			CompletedLate:   percent(c.CompletedLate, total),
			DueOnTime:       percent(c.DueOnTime, total),
			DueLate:         percent(c.DueLate, total),
			Missed:          percent(c.Missed, total),
		},
	}
}

// pastGracePeriod reports whether a visit was scheduled at least graceDays
// before ref. Unknown scheduled dates never count.
func pastGracePeriod(scheduled *time.Time, ref time.Time, graceDays int) bool {
	if scheduled == nil {
		return false
	}
	return daysBetween(*scheduled, ref) >= graceDays
}

// percent returns 100*n/d rounded to two decimals, and 0 when d is 0.
func percent(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return math.Round(float64(n)*100/float64(d)*100) / 100
}

// sortVisitDetails orders visits by scheduled date (unknown last), then type.
func sortVisitDetails(v []VisitDetail) {
	sort.SliceStable(v, func(i, j int) bool {
		return lessByDate(v[i], v[j])
	})
}

func sortWorkerVisits(v []VisitDetail) {
	sort.SliceStable(v, func(i, j int) bool {
		if v[i].CaseID != v[j].CaseID {
			return v[i].CaseID < v[j].CaseID
		}
		return lessByDate(v[i], v[j])
	})
}

func lessByDate(a, b VisitDetail) bool {
	switch {
	case a.ScheduledDate == nil && b.ScheduledDate != nil:
		return false
	case a.ScheduledDate != nil && b.ScheduledDate == nil:
		return true
	case a.ScheduledDate != nil && b.ScheduledDate != nil && !a.ScheduledDate.Equal(*b.ScheduledDate):
		return a.ScheduledDate.Before(*b.ScheduledDate)
	}
	return a.VisitType < b.VisitType
}
