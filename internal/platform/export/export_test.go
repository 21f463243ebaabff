package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/chw/followup/internal/domain/followup"
)

func sampleResult() *followup.Result {
	ref := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
	sched := ref.AddDate(0, 0, -10)
	done := ref.AddDate(0, 0, -8)
	w := followup.NewWorkerIdentity("Alice")

	visits := []followup.VisitDetail{
		{
			ExpectedVisit: followup.ExpectedVisit{
				CaseID: "case-1", VisitType: "ANC Visit", ScheduledDate: &sched,
				Completed: true, CompletedAt: &done, CompletionEventID: "evt-1", Worker: w,
			},
			Status: followup.StatusCompletedOnTime,
		},
		{
			ExpectedVisit: followup.ExpectedVisit{CaseID: "case-1", VisitType: "1 Week Visit", ScheduledDate: &sched, Worker: w},
			Status:        followup.StatusMissed,
		},
	}
	var counts followup.StatusCounts
	for _, v := range visits {
		counts.Add(v.Status)
	}

	return &followup.Result{
		ReferenceDate: ref,
		Options:       followup.DefaultOptions(),
		ActiveWorkers: []followup.WorkerIdentity{w},
		Workers: []followup.WorkerSummary{{
			Worker: w, Cases: 1, TotalVisits: 2, Statuses: counts,
			EligibleDue: 2, EligibleCompleted: 1, CompletionRate: 50, StatusColor: followup.ColorRed,
		}},
		Cases: map[followup.WorkerIdentity][]followup.CaseSummary{
			w: {{CaseID: "case-1", Name: "Jane", Worker: w, Eligible: true, TotalVisits: 2, Completed: 1, CompletionPct: 50, Visits: visits}},
		},
		VisitsByWorker: map[followup.WorkerIdentity][]followup.VisitDetail{w: visits},
		Distribution: followup.Distribution{
			Total:       2,
			Counts:      counts,
			Percentages: followup.StatusPercentages{CompletedOnTime: 50, Missed: 50},
		},
		Quality: []followup.WorkerQuality{{
			Worker: w, Cases: 1, ParityMode: followup.ValueShare{Value: "2", Count: 1, Of: 1, Share: 100},
		}},
		Diagnostics: followup.Diagnostics{
			Events: 3, Matched: 1, Unmapped: 2,
			UnmappedLabels: map[string]int{"Household Survey": 2},
		},
	}
}

func openWorkbook(t *testing.T, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestWorkbook_Sheets(t *testing.T) {
	data, err := Workbook(sampleResult())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f := openWorkbook(t, data)

	want := []string{SheetWorkers, SheetCases, SheetVisits, SheetDistribution, SheetQuality, SheetDiagnostics}
	got := f.GetSheetList()
	if len(got) != len(want) {
		t.Fatalf("expected sheets %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sheet %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestWorkbook_WorkerRow(t *testing.T) {
	data, err := Workbook(sampleResult())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f := openWorkbook(t, data)

	rows, err := f.GetRows(SheetWorkers)
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header and 1 row, got %d rows", len(rows))
	}
	if rows[0][0] != "Worker" {
		t.Errorf("expected Worker header, got %s", rows[0][0])
	}
	if rows[1][0] != "alice" {
		t.Errorf("expected canonical worker alice, got %s", rows[1][0])
	}
	if rows[1][11] != followup.ColorRed {
		t.Errorf("expected red status, got %s", rows[1][11])
	}
}

func TestWorkbook_Visits(t *testing.T) {
	data, err := Workbook(sampleResult())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f := openWorkbook(t, data)

	rows, err := f.GetRows(SheetVisits)
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 visits, got %d rows", len(rows))
	}
	if rows[1][3] != "2024-03-10" || rows[1][5] != string(followup.StatusCompletedOnTime) {
		t.Errorf("unexpected first visit row: %v", rows[1])
	}
}

func TestWorkbook_Distribution(t *testing.T) {
	data, err := Workbook(sampleResult())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f := openWorkbook(t, data)

	rows, err := f.GetRows(SheetDistribution)
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	// header, five statuses, total
	if len(rows) != 7 {
		t.Fatalf("expected 7 rows, got %d", len(rows))
	}
	if rows[6][0] != "Total" || rows[6][1] != "2" {
		t.Errorf("unexpected total row: %v", rows[6])
	}
}

func TestWorkbook_DiagnosticsListsUnmapped(t *testing.T) {
	data, err := Workbook(sampleResult())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f := openWorkbook(t, data)

	rows, err := f.GetRows(SheetDiagnostics)
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	last := rows[len(rows)-1]
	if last[0] != "Top unmapped labels" || last[1] != "Household Survey" {
		t.Errorf("unexpected last diagnostics row: %v", last)
	}
}

func TestWorkbook_NilResult(t *testing.T) {
	if _, err := Workbook(nil); err == nil {
		t.Error("expected error for nil result")
	}
}
