// Package export renders reconciliation results as spreadsheets.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/chw/followup/internal/domain/followup"
)

// Sheet names, in workbook order.
const (
	SheetWorkers      = "Workers"
	SheetCases        = "Cases"
	SheetVisits       = "Visits"
	SheetDistribution = "Distribution"
	SheetQuality      = "Quality"
	SheetDiagnostics  = "Diagnostics"
)

// ContentType is the MIME type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var colorFills = map[string]string{
	followup.ColorGreen:  "#C6EFCE",
	followup.ColorYellow: "#FFEB9C",
	followup.ColorRed:    "#FFC7CE",
}

type sheet struct {
	name    string
	headers []string
	widths  []float64
	rows    [][]interface{}
	// colorCol is the 1-based column holding a status color, or 0.
	colorCol int
}

// Workbook renders res as an xlsx document.
func Workbook(res *followup.Result) ([]byte, error) {
	if res == nil {
		return nil, fmt.Errorf("export: nil result")
	}

	f := excelize.NewFile()
	defer f.Close()

	w := &writer{f: f}
	if err := w.init(); err != nil {
		return nil, err
	}

	sheets := []sheet{
		workersSheet(res),
		casesSheet(res),
		visitsSheet(res),
		distributionSheet(res),
		qualitySheet(res),
		diagnosticsSheet(res),
	}
	for i, s := range sheets {
		if err := w.write(s, i == 0); err != nil {
			return nil, err
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

type writer struct {
	f           *excelize.File
	headerStyle int
	colorStyles map[string]int
}

func (w *writer) init() error {
	var err error
	w.headerStyle, err = w.f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	w.colorStyles = make(map[string]int, len(colorFills))
	for color, fill := range colorFills {
		id, err := w.f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{fill}, Pattern: 1},
		})
		if err != nil {
			return fmt.Errorf("create %s style: %w", color, err)
		}
		w.colorStyles[color] = id
	}
	return nil
}

func (w *writer) write(s sheet, active bool) error {
	index, err := w.f.NewSheet(s.name)
	if err != nil {
		return fmt.Errorf("create sheet %s: %w", s.name, err)
	}
	if active {
		w.f.SetActiveSheet(index)
	}

	header := make([]interface{}, len(s.headers))
	for i, h := range s.headers {
		header[i] = h
	}
	if err := w.f.SetSheetRow(s.name, "A1", &header); err != nil {
		return fmt.Errorf("%s header: %w", s.name, err)
	}
	last, err := excelize.CoordinatesToCellName(len(s.headers), 1)
	if err != nil {
		return err
	}
	if err := w.f.SetCellStyle(s.name, "A1", last, w.headerStyle); err != nil {
		return fmt.Errorf("%s header style: %w", s.name, err)
	}

	for i, width := range s.widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := w.f.SetColWidth(s.name, col, col, width); err != nil {
			return fmt.Errorf("%s column width: %w", s.name, err)
		}
	}

	for i := range s.rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := w.f.SetSheetRow(s.name, cell, &s.rows[i]); err != nil {
			return fmt.Errorf("%s row %d: %w", s.name, i+2, err)
		}
		if s.colorCol > 0 {
			if err := w.colorCell(s, i+2); err != nil {
				return err
			}
		}
	}

	if err := w.f.SetPanes(s.name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("%s freeze header: %w", s.name, err)
	}
	return nil
}

func (w *writer) colorCell(s sheet, row int) error {
	color, _ := s.rows[row-2][s.colorCol-1].(string)
	style, ok := w.colorStyles[color]
	if !ok {
		return nil
	}
	cell, err := excelize.CoordinatesToCellName(s.colorCol, row)
	if err != nil {
		return err
	}
	return w.f.SetCellStyle(s.name, cell, cell, style)
}

func workersSheet(res *followup.Result) sheet {
	s := sheet{
		name: SheetWorkers,
		headers: []string{
			"Worker", "Cases", "Total Visits",
			"Completed On Time", "Completed Late", "Due On Time", "Due Late", "Missed",
			"Eligible Due", "Eligible Completed", "Completion Rate", "Status",
		},
		widths:   []float64{24, 8, 12, 18, 16, 14, 10, 10, 14, 18, 16, 10},
		colorCol: 12,
	}
	for _, w := range res.Workers {
		s.rows = append(s.rows, []interface{}{
			w.Worker.String(), w.Cases, w.TotalVisits,
			w.Statuses.CompletedOnTime, w.Statuses.CompletedLate,
			w.Statuses.DueOnTime, w.Statuses.DueLate, w.Statuses.Missed,
			w.EligibleDue, w.EligibleCompleted, w.CompletionRate, w.StatusColor,
		})
	}
	return s
}

func casesSheet(res *followup.Result) sheet {
	s := sheet{
		name:    SheetCases,
		headers: []string{"Worker", "Case ID", "Name", "Eligible", "Total Visits", "Completed", "Completion %"},
		widths:  []float64{24, 38, 24, 10, 12, 12, 14},
	}
	for _, w := range res.Workers {
		for _, c := range res.Cases[w.Worker] {
			s.rows = append(s.rows, []interface{}{
				c.Worker.String(), c.CaseID, c.Name, yesNo(c.Eligible),
				c.TotalVisits, c.Completed, c.CompletionPct,
			})
		}
	}
	return s
}

func visitsSheet(res *followup.Result) sheet {
	s := sheet{
		name: SheetVisits,
		headers: []string{
			"Worker", "Case ID", "Visit Type", "Scheduled", "Expiry",
			"Status", "Completed On", "Completion Event",
		},
		widths: []float64{24, 38, 26, 12, 12, 18, 14, 38},
	}
	for _, w := range res.Workers {
		for _, v := range res.VisitsByWorker[w.Worker] {
			s.rows = append(s.rows, []interface{}{
				w.Worker.String(), v.CaseID, v.VisitType,
				dateCell(v.ScheduledDate), dateCell(v.ExpiryDate),
				string(v.Status), dateCell(v.CompletedAt), v.CompletionEventID,
			})
		}
	}
	return s
}

func distributionSheet(res *followup.Result) sheet {
	s := sheet{
		name:    SheetDistribution,
		headers: []string{"Status", "Visits", "Percent"},
		widths:  []float64{20, 10, 10},
	}
	d := res.Distribution
	for _, st := range followup.AllStatuses() {
		s.rows = append(s.rows, []interface{}{string(st), d.Counts.Get(st), percentageOf(d.Percentages, st)})
	}
	s.rows = append(s.rows, []interface{}{"Total", d.Total, totalPercent(d)})
	return s
}

func totalPercent(d followup.Distribution) float64 {
	if d.Total == 0 {
		return 0
	}
	return 100
}

func percentageOf(p followup.StatusPercentages, s followup.VisitStatus) float64 {
	switch s {
	case followup.StatusCompletedOnTime:
		return p.CompletedOnTime
	case followup.StatusCompletedLate:
		return p.CompletedLate
	case followup.StatusDueOnTime:
		return p.DueOnTime
	case followup.StatusDueLate:
		return p.DueLate
	case followup.StatusMissed:
		return p.Missed
	}
	return 0
}

func qualitySheet(res *followup.Result) sheet {
	s := sheet{
		name: SheetQuality,
		headers: []string{
			"Worker", "Cases", "Cases With Phone", "Duplicate Phone Cases", "Phone Duplication %",
			"Parity Mode", "Parity Mode %", "Age Mode", "Age Mode %",
			"Same-Date Milestones", "Same-Date Milestone %",
			"Birth = Registered", "Birth = Registered %",
		},
		widths: []float64{24, 8, 16, 20, 18, 12, 14, 10, 12, 20, 20, 18, 20},
	}
	for _, q := range res.Quality {
		s.rows = append(s.rows, []interface{}{
			q.Worker.String(), q.Cases, q.CasesWithPhone, q.DuplicatePhoneCases, q.PhoneDuplication,
			q.ParityMode.Value, q.ParityMode.Share, q.AgeMode.Value, q.AgeMode.Share,
			q.SameDateMilestones, q.SameDateMilestoneShare,
			q.BirthMatchesRegistered, q.BirthRegistrationShare,
		})
	}
	return s
}

func diagnosticsSheet(res *followup.Result) sheet {
	d := res.Diagnostics
	st := res.Schedule
	s := sheet{
		name:    SheetDiagnostics,
		headers: []string{"Metric", "Value"},
		widths:  []float64{32, 40},
	}
	add := func(metric string, v interface{}) {
		s.rows = append(s.rows, []interface{}{metric, v})
	}

	add("Reference date", res.ReferenceDate.Format("2006-01-02"))
	add("Active workers", len(res.ActiveWorkers))
	add("Allowlist fallback", yesNo(res.FallbackUsed))
	add("Registration submissions", st.Submissions)
	add("Visit blocks", st.Blocks)
	add("Expected visits", st.Extracted)
	add("Blocks not created", st.SkippedNotCreated)
	add("Malformed blocks", st.SkippedMalformed)
	add("Unknown visit types", st.SkippedUnknownType)
	add("Types without completion flag", st.SkippedNoFlag)
	add("Duplicate visits", st.Duplicates)
	add("Completion events", d.Events)
	add("Matched", d.Matched)
	add("Cross-type matches", d.CrossTypeMatches)
	add("Inactive worker events", d.SkippedInactive)
	add("Empty labels", d.EmptyLabel)
	add("Registration rows", d.RegistrationRows)
	add("Unmapped labels", d.Unmapped)
	add("No completion flag", d.NoCompletionFlag)
	add("Missing case id", d.MissingCaseID)
	add("No matching visit", d.NoMatch)
	add("Already completed", d.AlreadyCompleted)
	add("Unowned visits", res.Unowned)
	add("Visits owned by inactive workers", res.InactiveOwned)
	if top := d.TopUnmappedLabels(10); len(top) > 0 {
		add("Top unmapped labels", strings.Join(top, ", "))
	}
	return s
}

func dateCell(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
