// Package refresh re-runs reconciliation on a cron schedule.
package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/chw/followup/internal/platform/reporting"
)

// DefaultTimeout bounds a single scheduled run.
const DefaultTimeout = 5 * time.Minute

// Refresher produces a new run. *reporting.Service satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, ref time.Time) (*reporting.Run, error)
}

// Scheduler triggers Refresher on a cron spec, always for "today".
type Scheduler struct {
	cron      *cron.Cron
	refresher Refresher
	spec      string
	timeout   time.Duration
	logger    zerolog.Logger
}

func NewScheduler(refresher Refresher, spec string, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithLocation(time.UTC)),
		refresher: refresher,
		spec:      spec,
		timeout:   DefaultTimeout,
		logger:    logger.With().Str("component", "refresh-scheduler").Logger(),
	}
}

// Start registers the job and starts the cron engine. It fails on an
// invalid spec.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.job); err != nil {
		return fmt.Errorf("schedule refresh %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", s.spec).Msg("followup refresh scheduler started")
	return nil
}

// Stop stops the engine and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("followup refresh scheduler stopped")
}

// RunNow performs one refresh immediately.
func (s *Scheduler) RunNow(ctx context.Context) (*reporting.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.refresher.Refresh(ctx, time.Time{})
}

func (s *Scheduler) job() {
	start := time.Now()
	run, err := s.RunNow(context.Background())
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled followup refresh failed")
		return
	}
	s.logger.Info().
		Str("run_id", run.ID.String()).
		Bool("cached", run.Cached).
		Dur("duration", time.Since(start)).
		Msg("scheduled followup refresh complete")
}
