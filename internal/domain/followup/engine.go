package followup

import (
	"time"

	"github.com/rs/zerolog"
)

// Input is everything a reconciliation run consumes.
type Input struct {
	Registrations []RegistrationSubmission `json:"registrations"`
	Completions   []CompletionEvent        `json:"completions"`
	// ActiveWorkers is the optional allowlist of usernames.
	ActiveWorkers []string `json:"active_workers,omitempty"`
	// ReferenceDate is the "today" of the run. Zero means the engine clock.
	ReferenceDate time.Time `json:"reference_date,omitempty"`
}

// Result is the complete output of one run.
type Result struct {
	ReferenceDate  time.Time                        `json:"reference_date"`
	Options        Options                          `json:"options"`
	ActiveWorkers  []WorkerIdentity                 `json:"active_workers"`
	FallbackUsed   bool                             `json:"fallback_used"`
	Workers        []WorkerSummary                  `json:"workers"`
	Cases          map[WorkerIdentity][]CaseSummary `json:"cases"`
	VisitsByWorker map[WorkerIdentity][]VisitDetail `json:"visits_by_worker"`
	Distribution   Distribution                     `json:"distribution"`
	Quality        []WorkerQuality                  `json:"quality"`
	Diagnostics    Diagnostics                      `json:"diagnostics"`
	Schedule       ExtractStats                     `json:"schedule"`
	Unowned        int                              `json:"unowned"`
	InactiveOwned  int                              `json:"inactive_owned"`
}

// Worker returns the summary of one worker.
func (r *Result) Worker(w WorkerIdentity) (WorkerSummary, bool) {
	for _, s := range r.Workers {
		if s.Worker == w {
			return s, true
		}
	}
	return WorkerSummary{}, false
}

// WorkerQuality returns the quality record of one worker.
func (r *Result) WorkerQuality(w WorkerIdentity) (WorkerQuality, bool) {
	for _, q := range r.Quality {
		if q.Worker == w {
			return q, true
		}
	}
	return WorkerQuality{}, false
}

// Engine runs reconciliation with a fixed vocabulary and options.
// It holds no per-run state and is safe for concurrent use.
type Engine struct {
	vocab  *Vocabulary
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock replaces the clock used when Input.ReferenceDate is zero.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine. A nil vocabulary means DefaultVocabulary.
func NewEngine(vocab *Vocabulary, opts Options, logger zerolog.Logger, options ...EngineOption) *Engine {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	e := &Engine{
		vocab:  vocab,
		opts:   opts,
		logger: logger.With().Str("component", "followup").Logger(),
		now:    time.Now,
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Vocabulary returns the vocabulary the engine was built with.
func (e *Engine) Vocabulary() *Vocabulary { return e.vocab }

// Options returns the engine options.
func (e *Engine) Options() Options { return e.opts }

// Run reconciles one snapshot of the feeds. The input is not modified and
// identical inputs always produce identical results.
func (e *Engine) Run(in Input) *Result {
	ref := in.ReferenceDate
	if ref.IsZero() {
		ref = e.now()
	}
	ref = DateOf(ref)

	active := ResolveActive(in.ActiveWorkers, ObservedWorkers(in.Registrations, in.Completions))
	if active.FallbackUsed {
		e.logger.Warn().
			Int("allowlist", len(in.ActiveWorkers)).
			Msg("no allowlisted worker appears in the feeds, using the allowlist as-is")
	}

	table := ExtractSchedule(in.Registrations, e.vocab, ref)
	diag := MatchCompletions(table, in.Completions, active, e.vocab)
	ownership := BuildOwnership(table, in.Completions)
	agg := Aggregate(table, ownership, active, ref, e.opts)

	workers := active.Sorted()
	quality := ComputeQuality(workers, ownership.CasesByWorker(active), table, in.Completions, e.vocab)

	for _, label := range diag.TopUnmappedLabels(10) {
		e.logger.Debug().
			Str("label", label).
			Int("count", diag.UnmappedLabels[label]).
			Msg("unmapped completion label")
	}

	e.logger.Info().
		Time("reference_date", ref).
		Int("active_workers", len(workers)).
		Int("expected_visits", table.Stats.Extracted).
		Int("events", diag.Events).
		Int("matched", diag.Matched).
		Int("unmapped", diag.Unmapped).
		Int("no_match", diag.NoMatch).
		Int("unowned", agg.Unowned).
		Msg("followup reconciliation complete")

	return &Result{
		ReferenceDate:  ref,
		Options:        e.opts,
		ActiveWorkers:  workers,
		FallbackUsed:   active.FallbackUsed,
		Workers:        agg.Workers,
		Cases:          agg.Cases,
		VisitsByWorker: agg.VisitsByWorker,
		Distribution:   agg.Distribution,
		Quality:        quality,
		Diagnostics:    diag,
		Schedule:       table.Stats,
		Unowned:        agg.Unowned,
		InactiveOwned:  agg.InactiveOwned,
	}
}
