package followup

import (
	"sort"
	"strings"
)

// WorkerIdentity is the canonical (trimmed, lower-cased) form of a worker
// username. The two feeds spell usernames with different casing, so every
// comparison and grouping key goes through NewWorkerIdentity.
type WorkerIdentity string

// NewWorkerIdentity canonicalizes a raw username from either feed.
func NewWorkerIdentity(raw string) WorkerIdentity {
	return WorkerIdentity(strings.ToLower(strings.TrimSpace(raw)))
}

// IsZero reports whether the identity is empty.
func (w WorkerIdentity) IsZero() bool { return w == "" }

func (w WorkerIdentity) String() string { return string(w) }

// ActiveWorkers is the set of workers reconciliation is scoped to.
type ActiveWorkers struct {
	set map[WorkerIdentity]struct{}
	// FallbackUsed is set when none of the allowlisted workers appeared in the
	// data and the allowlist was trusted as-is.
	FallbackUsed bool
}

// ResolveActive decides which workers are active. With an allowlist the
// result is the intersection of the allowlist and the observed workers; an
// empty intersection falls back to the allowlist itself. Without an allowlist
// every observed worker is active.
func ResolveActive(allowlist []string, observed []WorkerIdentity) ActiveWorkers {
	seen := make(map[WorkerIdentity]struct{}, len(observed))
	for _, w := range observed {
		if !w.IsZero() {
			seen[w] = struct{}{}
		}
	}

	allowed := make(map[WorkerIdentity]struct{}, len(allowlist))
	for _, raw := range allowlist {
		if w := NewWorkerIdentity(raw); !w.IsZero() {
			allowed[w] = struct{}{}
		}
	}

	if len(allowed) == 0 {
		return ActiveWorkers{set: seen}
	}

	active := make(map[WorkerIdentity]struct{})
	for w := range allowed {
		if _, ok := seen[w]; ok {
			active[w] = struct{}{}
		}
	}
	if len(active) == 0 {
		return ActiveWorkers{set: allowed, FallbackUsed: true}
	}
	return ActiveWorkers{set: active}
}

// Contains reports whether w is active.
func (a ActiveWorkers) Contains(w WorkerIdentity) bool {
	_, ok := a.set[w]
	return ok
}

// Len returns the number of active workers.
func (a ActiveWorkers) Len() int { return len(a.set) }

// Sorted returns the active workers in ascending order.
func (a ActiveWorkers) Sorted() []WorkerIdentity {
	out := make([]WorkerIdentity, 0, len(a.set))
	for w := range a.set {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ObservedWorkers collects every worker identity present in either feed.
func ObservedWorkers(regs []RegistrationSubmission, events []CompletionEvent) []WorkerIdentity {
	var out []WorkerIdentity
	for i := range regs {
		if w := NewWorkerIdentity(regs[i].Worker); !w.IsZero() {
			out = append(out, w)
		}
	}
	for i := range events {
		if w := NewWorkerIdentity(events[i].Worker); !w.IsZero() {
			out = append(out, w)
		}
	}
	return out
}
