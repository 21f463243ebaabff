package reporting

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/chw/followup/internal/domain/followup"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run is one stored reconciliation result.
type Run struct {
	ID            uuid.UUID        `json:"id"`
	ReferenceDate time.Time        `json:"reference_date"`
	Fingerprint   string           `json:"fingerprint"`
	Cached        bool             `json:"cached"`
	CreatedAt     time.Time        `json:"created_at"`
	Result        *followup.Result `json:"result"`
}

// RunSummary is the headline view of a run, without per-visit detail.
type RunSummary struct {
	ID            uuid.UUID             `json:"id"`
	ReferenceDate string                `json:"reference_date"`
	Fingerprint   string                `json:"fingerprint"`
	Cached        bool                  `json:"cached"`
	CreatedAt     time.Time             `json:"created_at"`
	ActiveWorkers int                   `json:"active_workers"`
	FallbackUsed  bool                  `json:"fallback_used"`
	Distribution  followup.Distribution `json:"distribution"`
	Matched       int                   `json:"matched"`
	Unmapped      int                   `json:"unmapped"`
	Unowned       int                   `json:"unowned"`
}

// Summary returns the headline view of r.
func (r *Run) Summary() RunSummary {
	s := RunSummary{
		ID:            r.ID,
		ReferenceDate: r.ReferenceDate.Format("2006-01-02"),
		Fingerprint:   r.Fingerprint,
		Cached:        r.Cached,
		CreatedAt:     r.CreatedAt,
	}
	if res := r.Result; res != nil {
		s.ActiveWorkers = len(res.ActiveWorkers)
		s.FallbackUsed = res.FallbackUsed
		s.Distribution = res.Distribution
		s.Matched = res.Diagnostics.Matched
		s.Unmapped = res.Diagnostics.Unmapped
		s.Unowned = res.Unowned
	}
	return s
}

// DiagnosticsView groups everything that explains what a run skipped.
type DiagnosticsView struct {
	Matcher        followup.Diagnostics  `json:"matcher"`
	Schedule       followup.ExtractStats `json:"schedule"`
	TopUnmapped    []string              `json:"top_unmapped_labels"`
	Unowned        int                   `json:"unowned"`
	InactiveOwned  int                   `json:"inactive_owned"`
	FallbackUsed   bool                  `json:"fallback_used"`
	ActiveWorkers  int                   `json:"active_workers"`
	ExpectedVisits int                   `json:"expected_visits"`
}

func diagnosticsOf(res *followup.Result) DiagnosticsView {
	return DiagnosticsView{
		Matcher:        res.Diagnostics,
		Schedule:       res.Schedule,
		TopUnmapped:    res.Diagnostics.TopUnmappedLabels(10),
		Unowned:        res.Unowned,
		InactiveOwned:  res.InactiveOwned,
		FallbackUsed:   res.FallbackUsed,
		ActiveWorkers:  len(res.ActiveWorkers),
		ExpectedVisits: res.Schedule.Extracted,
	}
}
