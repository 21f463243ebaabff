package feed

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chw/followup/internal/domain/followup"
	"github.com/chw/followup/pkg/flexjson"
)

// ErrUnknownFormat is returned when a feed document is neither a JSON array
// nor newline-delimited JSON objects.
var ErrUnknownFormat = errors.New("unknown feed format")

type visitWire struct {
	VisitType     flexjson.String `json:"visit_type"`
	ScheduledDate flexjson.String `json:"scheduled_date"`
	ExpiryDate    flexjson.String `json:"expiry_date"`
	CaseID        flexjson.String `json:"case_id"`
}

type caseWire struct {
	CaseID             flexjson.String `json:"case_id"`
	Name               flexjson.String `json:"name"`
	FirstName          flexjson.String `json:"first_name"`
	LastName           flexjson.String `json:"last_name"`
	Phone              flexjson.String `json:"phone"`
	Age                flexjson.String `json:"age"`
	DateOfBirth        flexjson.String `json:"dob"`
	HouseholdSize      flexjson.String `json:"household_size"`
	PreferredVisitTime flexjson.String `json:"preferred_visit_time"`
	Eligible           flexjson.String `json:"eligible"`
	ExpectedDate       flexjson.String `json:"expected_date"`
}

type registrationWire struct {
	ID          flexjson.String `json:"id"`
	Worker      flexjson.String `json:"worker"`
	SubmittedAt flexjson.String `json:"submitted_at"`
	Visits      []visitWire     `json:"visits"`
	Case        caseWire        `json:"case"`
	Fields      flexjson.Map    `json:"fields"`
}

func (w registrationWire) model() followup.RegistrationSubmission {
	r := followup.RegistrationSubmission{
		ID:          w.ID.String(),
		Worker:      w.Worker.String(),
		SubmittedAt: w.SubmittedAt.String(),
		Case: followup.CaseMetadata{
			CaseID:             w.Case.CaseID.String(),
			Name:               w.Case.Name.String(),
			FirstName:          w.Case.FirstName.String(),
			LastName:           w.Case.LastName.String(),
			Phone:              w.Case.Phone.String(),
			Age:                w.Case.Age.String(),
			DateOfBirth:        w.Case.DateOfBirth.String(),
			HouseholdSize:      w.Case.HouseholdSize.String(),
			PreferredVisitTime: w.Case.PreferredVisitTime.String(),
			Eligible:           w.Case.Eligible.String(),
			ExpectedDate:       w.Case.ExpectedDate.String(),
		},
		Fields: w.Fields,
	}
	for _, v := range w.Visits {
		r.Blocks = append(r.Blocks, followup.VisitBlock{
			VisitType:     v.VisitType.String(),
			ScheduledDate: v.ScheduledDate.String(),
			ExpiryDate:    v.ExpiryDate.String(),
			CaseID:        v.CaseID.String(),
		})
	}
	return r
}

type completionWire struct {
	ID          flexjson.String `json:"id"`
	Worker      flexjson.String `json:"worker"`
	FormLabel   flexjson.String `json:"form_label"`
	CaseID      flexjson.String `json:"case_id"`
	SubmittedAt flexjson.String `json:"submitted_at"`
	Fields      flexjson.Map    `json:"fields"`
}

func (w completionWire) model() followup.CompletionEvent {
	return followup.CompletionEvent{
		ID:          w.ID.String(),
		Worker:      w.Worker.String(),
		FormLabel:   w.FormLabel.String(),
		CaseID:      w.CaseID.String(),
		SubmittedAt: w.SubmittedAt.String(),
		Fields:      w.Fields,
	}
}

// Skipped reports records that could not be decoded and were dropped.
type Skipped struct {
	Lines []int
}

// Count returns the number of dropped records.
func (s Skipped) Count() int { return len(s.Lines) }

// DecodeRegistrations reads registration submissions from a JSON array or
// newline-delimited JSON. Undecodable NDJSON lines are skipped and reported.
func DecodeRegistrations(r io.Reader) ([]followup.RegistrationSubmission, Skipped, error) {
	wires, skipped, err := decodeRecords[registrationWire](r)
	if err != nil {
		return nil, skipped, fmt.Errorf("decode registrations: %w", err)
	}
	out := make([]followup.RegistrationSubmission, 0, len(wires))
	for _, w := range wires {
		out = append(out, w.model())
	}
	return out, skipped, nil
}

// DecodeCompletions reads completion events the same way as
// DecodeRegistrations.
func DecodeCompletions(r io.Reader) ([]followup.CompletionEvent, Skipped, error) {
	wires, skipped, err := decodeRecords[completionWire](r)
	if err != nil {
		return nil, skipped, fmt.Errorf("decode completions: %w", err)
	}
	out := make([]followup.CompletionEvent, 0, len(wires))
	for _, w := range wires {
		out = append(out, w.model())
	}
	return out, skipped, nil
}

// DecodeActiveWorkers reads an allowlist given either as a JSON array of
// usernames or as one username per line. Blank lines and lines starting with
// '#' are ignored.
func DecodeActiveWorkers(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read active workers: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var names []flexjson.String
		if err := json.Unmarshal(data, &names); err != nil {
			return nil, fmt.Errorf("decode active workers: %w", err)
		}
		out := make([]string, 0, len(names))
		for _, n := range names {
			if s := strings.TrimSpace(n.String()); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	}

	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

func decodeRecords[W any](r io.Reader) ([]W, Skipped, error) {
	var skipped Skipped
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, skipped, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, skipped, nil
	}

	switch data[0] {
	case '[':
		var out []W
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, skipped, err
		}
		return out, skipped, nil
	case '{':
		var out []W
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		line := 0
		for sc.Scan() {
			line++
			text := bytes.TrimSpace(sc.Bytes())
			if len(text) == 0 {
				continue
			}
			var w W
			if err := json.Unmarshal(text, &w); err != nil {
				skipped.Lines = append(skipped.Lines, line)
				continue
			}
			out = append(out, w)
		}
		if err := sc.Err(); err != nil {
			return nil, skipped, err
		}
		return out, skipped, nil
	default:
		return nil, skipped, ErrUnknownFormat
	}
}
