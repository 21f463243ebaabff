package reporting

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// RunRepository stores runs.
type RunRepository interface {
	Save(ctx context.Context, r *Run) error
	Get(ctx context.Context, id uuid.UUID) (*Run, error)
	Latest(ctx context.Context) (*Run, error)
	List(ctx context.Context, limit, offset int) ([]*Run, int, error)
}

// MemoryRunRepository keeps the most recent runs in memory.
type MemoryRunRepository struct {
	mu   sync.RWMutex
	runs []*Run // oldest first
	max  int
}

// NewMemoryRunRepository keeps at most max runs; max <= 0 keeps all.
func NewMemoryRunRepository(max int) *MemoryRunRepository {
	return &MemoryRunRepository{max: max}
}

func (m *MemoryRunRepository) Save(_ context.Context, r *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	if m.max > 0 && len(m.runs) > m.max {
		m.runs = append([]*Run(nil), m.runs[len(m.runs)-m.max:]...)
	}
	return nil
}

func (m *MemoryRunRepository) Get(_ context.Context, id uuid.UUID) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, ErrRunNotFound
}

func (m *MemoryRunRepository) Latest(_ context.Context) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.runs) == 0 {
		return nil, ErrRunNotFound
	}
	return m.runs[len(m.runs)-1], nil
}

// List returns runs newest first.
func (m *MemoryRunRepository) List(_ context.Context, limit, offset int) ([]*Run, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := len(m.runs)
	var out []*Run
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[i])
	}
	return out, total, nil
}
