package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestService_Refresh(t *testing.T) {
	svc := newTestService(&countingSource{bundle: testBundle()})

	run, err := svc.Refresh(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.ID == uuid.Nil {
		t.Error("expected run id to be set")
	}
	if !run.ReferenceDate.Equal(refDate) {
		t.Errorf("expected reference date from clock, got %v", run.ReferenceDate)
	}
	if run.Cached {
		t.Error("expected uncached run without a cache")
	}
	if len(run.Result.Workers) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(run.Result.Workers))
	}
	if run.Result.Distribution.Total != 3 {
		t.Errorf("expected 3 visits, got %d", run.Result.Distribution.Total)
	}

	latest, err := svc.Latest(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest.ID != run.ID {
		t.Errorf("expected latest run %s, got %s", run.ID, latest.ID)
	}
}

func TestService_RefreshExplicitDate(t *testing.T) {
	svc := newTestService(&countingSource{bundle: testBundle()})

	ref := time.Date(2024, 3, 8, 15, 0, 0, 0, time.UTC)
	run, err := svc.Refresh(context.Background(), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := run.ReferenceDate.Format("2006-01-02"); got != "2024-03-08" {
		t.Errorf("expected reference date 2024-03-08, got %s", got)
	}
}

func TestService_RefreshUsesCache(t *testing.T) {
	cache := newMemoryCache()
	svc := newTestService(&countingSource{bundle: testBundle()}, WithCache(cache))

	first, err := svc.Refresh(context.Background(), refDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Refresh(context.Background(), refDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.Cached || !second.Cached {
		t.Errorf("expected only the second run to be cached, got %v / %v", first.Cached, second.Cached)
	}
	if first.Fingerprint != second.Fingerprint {
		t.Error("expected identical fingerprints for identical feeds")
	}
	if first.ID == second.ID {
		t.Error("expected each refresh to store a new run")
	}
	if cache.hits != 1 {
		t.Errorf("expected 1 cache hit, got %d", cache.hits)
	}
}

func TestService_DifferentDateMissesCache(t *testing.T) {
	cache := newMemoryCache()
	svc := newTestService(&countingSource{bundle: testBundle()}, WithCache(cache))

	a, _ := svc.Refresh(context.Background(), refDate)
	b, _ := svc.Refresh(context.Background(), refDate.AddDate(0, 0, 1))

	if a.Fingerprint == b.Fingerprint {
		t.Error("expected reference date to change the fingerprint")
	}
	if b.Cached {
		t.Error("expected second run to miss the cache")
	}
}

func TestService_RefreshSourceError(t *testing.T) {
	svc := newTestService(&countingSource{err: errors.New("feed offline")})

	if _, err := svc.Refresh(context.Background(), refDate); err == nil {
		t.Fatal("expected error when the source fails")
	}
	if _, err := svc.Latest(context.Background()); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected no stored run, got %v", err)
	}
}

func TestMemoryRunRepository(t *testing.T) {
	repo := NewMemoryRunRepository(2)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		r := &Run{ID: uuid.New()}
		ids = append(ids, r.ID)
		if err := repo.Save(ctx, r); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	if _, err := repo.Get(ctx, ids[0]); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected oldest run to be evicted, got %v", err)
	}

	runs, total, err := repo.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d (total %d)", len(runs), total)
	}
	if runs[0].ID != ids[2] || runs[1].ID != ids[1] {
		t.Error("expected newest run first")
	}

	runs, _, _ = repo.List(ctx, 10, 1)
	if len(runs) != 1 || runs[0].ID != ids[1] {
		t.Errorf("unexpected page with offset 1: %v", runs)
	}
}

func TestRunSummary(t *testing.T) {
	svc := newTestService(&countingSource{bundle: testBundle()})
	run, err := svc.Refresh(context.Background(), refDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := run.Summary()
	if s.ReferenceDate != "2024-03-20" {
		t.Errorf("unexpected reference date: %s", s.ReferenceDate)
	}
	if s.ActiveWorkers != 2 || s.Matched != 1 {
		t.Errorf("unexpected summary: %+v", s)
	}
}
