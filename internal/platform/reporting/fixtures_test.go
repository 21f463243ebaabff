package reporting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chw/followup/internal/domain/followup"
	"github.com/chw/followup/internal/platform/feed"
	"github.com/chw/followup/internal/platform/resultcache"
)

// -- Fixtures --

var refDate = time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)

func created() map[string]string {
	return map[string]string{
		"create_antenatal_visit": "1",
		"create_one_two_visit":   "1",
	}
}

// testBundle gives alice one on-time completion and one missed visit, and
// bob a single overdue visit.
func testBundle() *feed.Bundle {
	return &feed.Bundle{
		Registrations: []followup.RegistrationSubmission{
			{
				ID: "reg-1", Worker: "Alice", SubmittedAt: "2024-02-01",
				Blocks: []followup.VisitBlock{
					{CaseID: "c1", VisitType: "ANC Visit", ScheduledDate: "2024-03-05", ExpiryDate: "2024-03-30"},
					{CaseID: "c1", VisitType: "1 Week Visit", ScheduledDate: "2024-03-01", ExpiryDate: "2024-03-10"},
				},
				Case:   followup.CaseMetadata{CaseID: "c1", Name: "Jane", Eligible: "yes"},
				Fields: created(),
			},
			{
				ID: "reg-2", Worker: "bob", SubmittedAt: "2024-02-01",
				Blocks: []followup.VisitBlock{
					{CaseID: "c2", VisitType: "ANC Visit", ScheduledDate: "2024-03-05", ExpiryDate: "2024-03-30"},
				},
				Case:   followup.CaseMetadata{CaseID: "c2", Name: "Mary", Eligible: "yes"},
				Fields: created(),
			},
		},
		Completions: []followup.CompletionEvent{
			{ID: "evt-1", Worker: "alice", FormLabel: "ANC Visit", CaseID: "c1", SubmittedAt: "2024-03-07"},
		},
	}
}

type countingSource struct {
	mu     sync.Mutex
	bundle *feed.Bundle
	loads  int
	err    error
}

func (s *countingSource) Load(context.Context) (*feed.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.err != nil {
		return nil, s.err
	}
	return s.bundle, nil
}

type memoryCache struct {
	mu      sync.Mutex
	results map[string]*followup.Result
	hits    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{results: make(map[string]*followup.Result)}
}

func (m *memoryCache) Get(_ context.Context, fp string) (*followup.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.results[fp]
	if !ok {
		return nil, resultcache.ErrCacheMiss
	}
	m.hits++
	return res, nil
}

func (m *memoryCache) Put(_ context.Context, fp string, res *followup.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[fp] = res
	return nil
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 20, 9, 30, 0, 0, time.UTC)
}

func newTestService(src feed.Source, opts ...ServiceOption) *Service {
	engine := followup.NewEngine(nil, followup.DefaultOptions(), zerolog.Nop())
	opts = append([]ServiceOption{WithServiceClock(fixedClock)}, opts...)
	return NewService(engine, src, NewMemoryRunRepository(0), zerolog.Nop(), opts...)
}
