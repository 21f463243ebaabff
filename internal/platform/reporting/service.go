package reporting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chw/followup/internal/domain/followup"
	"github.com/chw/followup/internal/platform/feed"
	"github.com/chw/followup/internal/platform/resultcache"
)

// ResultCache is the subset of resultcache.Cache the service needs.
type ResultCache interface {
	Get(ctx context.Context, fingerprint string) (*followup.Result, error)
	Put(ctx context.Context, fingerprint string, res *followup.Result) error
}

// Service runs reconciliation over a feed source and keeps the results.
type Service struct {
	engine *followup.Engine
	source feed.Source
	runs   RunRepository
	cache  ResultCache
	logger zerolog.Logger
	now    func() time.Time

	// refreshes are serialized so a scheduled run and a manual one never
	// race on the same fingerprint.
	mu sync.Mutex
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCache enables result caching.
func WithCache(c ResultCache) ServiceOption {
	return func(s *Service) { s.cache = c }
}

// WithServiceClock overrides the clock used for created_at and default
// reference dates.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(engine *followup.Engine, source feed.Source, runs RunRepository, logger zerolog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		engine: engine,
		source: source,
		runs:   runs,
		logger: logger.With().Str("component", "followup-service").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Refresh loads the feeds, reconciles them for ref (today when zero) and
// stores the run.
func (s *Service) Refresh(ctx context.Context, ref time.Time) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ref.IsZero() {
		ref = s.now()
	}
	ref = followup.DateOf(ref)

	bundle, err := s.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load feeds: %w", err)
	}

	fp, err := resultcache.Fingerprint(bundle, ref, s.engine.Options(), s.engine.Vocabulary())
	if err != nil {
		return nil, err
	}

	res, cached := s.cached(ctx, fp)
	if res == nil {
		res = s.engine.Run(bundle.Input(ref))
		if s.cache != nil {
			if err := s.cache.Put(ctx, fp, res); err != nil {
				s.logger.Warn().Err(err).Str("fingerprint", fp).Msg("failed to cache run result")
			}
		}
	}

	run := &Run{
		ID:            uuid.New(),
		ReferenceDate: ref,
		Fingerprint:   fp,
		Cached:        cached,
		CreatedAt:     s.now(),
		Result:        res,
	}
	if err := s.runs.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}

	s.logger.Info().
		Str("run_id", run.ID.String()).
		Str("reference_date", ref.Format("2006-01-02")).
		Bool("cached", cached).
		Msg("followup run stored")
	return run, nil
}

func (s *Service) cached(ctx context.Context, fp string) (*followup.Result, bool) {
	if s.cache == nil {
		return nil, false
	}
	res, err := s.cache.Get(ctx, fp)
	if err != nil {
		if !errors.Is(err, resultcache.ErrCacheMiss) {
			s.logger.Warn().Err(err).Str("fingerprint", fp).Msg("result cache lookup failed")
		}
		return nil, false
	}
	return res, true
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	return s.runs.Get(ctx, id)
}

func (s *Service) Latest(ctx context.Context) (*Run, error) {
	return s.runs.Latest(ctx)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Run, int, error) {
	return s.runs.List(ctx, limit, offset)
}
