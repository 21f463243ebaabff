package followup

import "testing"

func matchFixture(events []CompletionEvent, allowlist ...string) (*ScheduleTable, Diagnostics) {
	regs := []RegistrationSubmission{
		registration("amina", "c1",
			block("c1", "ANC Visit", day(-10), day(20)),
			block("c1", "Postnatal Delivery Visit", day(-4), day(30)),
		),
		registration("joseph", "c2", block("c2", "1 Month Visit", day(-10), "")),
	}
	vocab := DefaultVocabulary()
	table := ExtractSchedule(regs, vocab, refDate)
	diag := MatchCompletions(table, events, activeFor(regs, events, allowlist...), vocab)
	return table, diag
}

func TestMatchCompletions(t *testing.T) {
	table, diag := matchFixture([]CompletionEvent{
		completion("e1", "AMINA", "ANC Visit ", "c1", day(-8)),
	})

	v, _ := table.Lookup("c1", "ANC Visit")
	if !v.Completed {
		t.Fatal("expected ANC visit to be completed")
	}
	if v.CompletedAt == nil || !v.CompletedAt.Equal(*dayPtr(-8)) {
		t.Errorf("unexpected completion date: %v", v.CompletedAt)
	}
	if v.CompletionEventID != "e1" {
		t.Errorf("unexpected completion event id: %s", v.CompletionEventID)
	}
	if diag.Matched != 1 || diag.Events != 1 || diag.Skipped() != 0 {
		t.Errorf("unexpected diagnostics: %+v", diag)
	}
}

func TestMatchCompletions_CrossTypeFlag(t *testing.T) {
	table, diag := matchFixture([]CompletionEvent{
		completion("e1", "amina", "Postnatal Visit", "c1", day(-2)),
	})

	v, _ := table.Lookup("c1", "Postnatal Delivery Visit")
	if !v.Completed {
		t.Fatal("expected the visit sharing the completion flag to be completed")
	}
	if diag.CrossTypeMatches != 1 {
		t.Errorf("expected 1 cross-type match, got %d", diag.CrossTypeMatches)
	}
}

func TestMatchCompletions_AtMostOneVisitPerEvent(t *testing.T) {
	regs := []RegistrationSubmission{
		registration("amina", "c1",
			block("c1", "Postnatal Visit", day(-4), ""),
			block("c1", "Postnatal Delivery Visit", day(-4), ""),
		),
	}
	events := []CompletionEvent{completion("e1", "amina", "Postnatal Visit", "c1", day(-2))}
	vocab := DefaultVocabulary()
	table := ExtractSchedule(regs, vocab, refDate)
	MatchCompletions(table, events, activeFor(regs, events), vocab)

	own, _ := table.Lookup("c1", "Postnatal Visit")
	other, _ := table.Lookup("c1", "Postnatal Delivery Visit")
	if !own.Completed {
		t.Error("expected own type to be preferred")
	}
	if other.Completed {
		t.Error("expected only one visit to be completed by a single event")
	}
}

func TestMatchCompletions_ResubmittedTypeStaysOnOwnVisit(t *testing.T) {
	regs := []RegistrationSubmission{
		registration("amina", "c1",
			block("c1", "Postnatal Visit", day(-4), ""),
			block("c1", "Postnatal Delivery Visit", day(-4), ""),
		),
	}
	events := []CompletionEvent{
		completion("e1", "amina", "Postnatal Visit", "c1", day(-3)),
		completion("e2", "amina", "Postnatal Visit", "c1", day(-2)),
	}
	vocab := DefaultVocabulary()
	table := ExtractSchedule(regs, vocab, refDate)
	d := MatchCompletions(table, events, activeFor(regs, events), vocab)

	own, _ := table.Lookup("c1", "Postnatal Visit")
	other, _ := table.Lookup("c1", "Postnatal Delivery Visit")
	if !own.Completed || own.CompletionEventID != "e1" {
		t.Errorf("expected e1 to complete the postnatal visit, got %+v", own)
	}
	if other.Completed {
		t.Errorf("expected the delivery visit to stay open, completed by %q", other.CompletionEventID)
	}
	if d.Matched != 1 || d.AlreadyCompleted != 1 || d.CrossTypeMatches != 0 {
		t.Errorf("unexpected diagnostics: %+v", d)
	}
}

func TestMatchCompletions_Diagnostics(t *testing.T) {
	events := []CompletionEvent{
		completion("e1", "joseph", "", "c2", day(-1)),
		completion("e2", "joseph", "Register Mother", "c2", day(-1)),
		completion("e3", "joseph", "Household Survey", "c2", day(-1)),
		completion("e4", "joseph", "household survey", "c2", day(-1)),
		completion("e5", "joseph", "Referral Follow Up", "c2", day(-1)),
		completion("e6", "joseph", "1 Month Visit", " ", day(-1)),
		completion("e7", "joseph", "3 Month Visit", "c2", day(-1)),
		completion("e8", "joseph", "1 Month Visit", "c2", day(-1)),
		completion("e9", "joseph", "1 month", "c2", day(-1)),
		completion("e10", "retired", "1 Month Visit", "c2", day(-1)),
	}
	_, d := matchFixture(events, "amina", "joseph")

	checks := []struct {
		name string
		got  int
		want int
	}{
		{"events", d.Events, 10},
		{"empty label", d.EmptyLabel, 1},
		{"registration rows", d.RegistrationRows, 1},
		{"unmapped", d.Unmapped, 2},
		{"no completion flag", d.NoCompletionFlag, 1},
		{"missing case id", d.MissingCaseID, 1},
		{"no match", d.NoMatch, 1},
		{"matched", d.Matched, 1},
		{"already completed", d.AlreadyCompleted, 1},
		{"skipped inactive", d.SkippedInactive, 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: expected %d, got %d", c.name, c.want, c.got)
		}
	}
	if d.UnmappedLabels["household survey"] != 2 {
		t.Errorf("expected unmapped labels to be normalized, got %v", d.UnmappedLabels)
	}
	if top := d.TopUnmappedLabels(1); len(top) != 1 || top[0] != "household survey" {
		t.Errorf("unexpected top unmapped labels: %v", top)
	}
}

func TestMatchCompletions_NoUnmappedLabels(t *testing.T) {
	_, d := matchFixture(nil)
	if d.UnmappedLabels != nil {
		t.Errorf("expected nil unmapped labels, got %v", d.UnmappedLabels)
	}
}

func TestBuildOwnership(t *testing.T) {
	regs := []RegistrationSubmission{
		registration("amina", "c1", block("c1", "ANC Visit", day(-10), "")),
		registration("joseph", "c2", block("c2", "ANC Visit", day(-10), "")),
	}
	events := []CompletionEvent{
		completion("e1", "Grace", "ANC Visit", "c1", day(-5)),
		completion("e2", "Peter", "ANC Visit", "c1", day(-4)),
		completion("e3", "peter", "ANC Visit", "unknown-case", day(-4)),
		completion("e4", "", "ANC Visit", "c2", day(-4)),
	}
	table := ExtractSchedule(regs, DefaultVocabulary(), refDate)
	own := BuildOwnership(table, events)

	if w, _ := own.Owner("c1"); w != "peter" {
		t.Errorf("expected last event's worker to own c1, got %s", w)
	}
	if w, _ := own.Owner("c2"); w != "joseph" {
		t.Errorf("expected registering worker to keep c2, got %s", w)
	}
	if _, ok := own.Owner("unknown-case"); ok {
		t.Error("expected unknown cases to stay unowned")
	}
	v, _ := table.Lookup("c1", "ANC Visit")
	if v.Worker != "peter" {
		t.Errorf("expected visit worker to follow ownership, got %s", v.Worker)
	}

	byWorker := own.CasesByWorker(ResolveActive([]string{"peter"}, []WorkerIdentity{"peter", "joseph"}))
	if len(byWorker) != 1 || len(byWorker["peter"]) != 1 {
		t.Errorf("expected only peter's cases, got %v", byWorker)
	}
}
