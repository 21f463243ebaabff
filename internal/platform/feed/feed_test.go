package feed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const registrationsJSON = `[
  {
    "id": "r1",
    "worker": "Amina",
    "submitted_at": "2024-01-20T09:15:00Z",
    "fields": {"create_antenatal_visit": 1, "create_postnatal_visit": "0"},
    "case": {"case_id": "c1", "name": "Wanjiru", "age": 27, "eligible": true, "phone": 700111222},
    "visits": [
      {"visit_type": "ANC Visit", "scheduled_date": "2024-02-01", "expiry_date": "2024-03-01", "case_id": "c1"},
      {"visit_type": "Postnatal Visit", "scheduled_date": "2024-04-01", "case_id": "c1"}
    ]
  }
]`

const completionsNDJSON = `{"id": "e1", "worker": "AMINA", "form_label": "ANC Visit ", "case_id": "c1", "submitted_at": "2024-02-03", "fields": {"parity": 2}}
not json at all

{"id": "e2", "worker": "amina", "form_label": "Register Mother", "case_id": "c1"}
`

func TestDecodeRegistrations(t *testing.T) {
	regs, skipped, err := DecodeRegistrations(strings.NewReader(registrationsJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skipped.Count() != 0 {
		t.Errorf("expected nothing skipped, got %v", skipped.Lines)
	}
	if len(regs) != 1 {
		t.Fatalf("expected 1 registration, got %d", len(regs))
	}
	r := regs[0]
	if r.Worker != "Amina" || r.Case.CaseID != "c1" {
		t.Errorf("unexpected registration: %+v", r)
	}
	if r.Field("create_antenatal_visit") != "1" {
		t.Errorf("expected numeric create flag to decode as \"1\", got %q", r.Field("create_antenatal_visit"))
	}
	if r.Case.Age != "27" || r.Case.Eligible != "true" || r.Case.Phone != "700111222" {
		t.Errorf("unexpected case metadata: %+v", r.Case)
	}
	if len(r.Blocks) != 2 || r.Blocks[1].ExpiryDate != "" {
		t.Errorf("unexpected visit blocks: %+v", r.Blocks)
	}
}

func TestDecodeCompletions_NDJSON(t *testing.T) {
	events, skipped, err := DecodeCompletions(strings.NewReader(completionsNDJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if skipped.Count() != 1 || skipped.Lines[0] != 2 {
		t.Errorf("expected line 2 to be skipped, got %v", skipped.Lines)
	}
	if events[0].Field("parity") != "2" {
		t.Errorf("expected parity 2, got %q", events[0].Field("parity"))
	}
}

func TestDecode_Empty(t *testing.T) {
	events, _, err := DecodeCompletions(strings.NewReader("  \n"))
	if err != nil || len(events) != 0 {
		t.Errorf("expected no events and no error, got %d (%v)", len(events), err)
	}
}

func TestDecode_UnknownFormat(t *testing.T) {
	_, _, err := DecodeRegistrations(strings.NewReader("id,worker\n1,amina\n"))
	if !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestDecode_BrokenArray(t *testing.T) {
	if _, _, err := DecodeRegistrations(strings.NewReader(`[{"id": 1},`)); err == nil {
		t.Error("expected error for truncated array")
	}
}

func TestDecodeActiveWorkers(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want []string
	}{
		{"json array", `["Amina", " joseph ", ""]`, []string{"Amina", "joseph"}},
		{"plain lines", "# field team\nAmina\n\n  joseph\n", []string{"Amina", "joseph"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeActiveWorkers(strings.NewReader(tt.doc))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestFileSource_Load(t *testing.T) {
	dir := t.TempDir()
	src := &FileSource{
		RegistrationsPath: writeFile(t, dir, "registrations.json", registrationsJSON),
		CompletionsPath:   writeFile(t, dir, "completions.ndjson", completionsNDJSON),
		ActiveWorkersPath: writeFile(t, dir, "active.txt", "amina\n"),
		Logger:            zerolog.Nop(),
	}

	b, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Registrations) != 1 || len(b.Completions) != 2 || len(b.ActiveWorkers) != 1 {
		t.Errorf("unexpected bundle sizes: %d %d %d", len(b.Registrations), len(b.Completions), len(b.ActiveWorkers))
	}

	ref := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	in := b.Input(ref)
	if !in.ReferenceDate.Equal(ref) || len(in.Registrations) != 1 {
		t.Errorf("unexpected engine input: %+v", in)
	}
}

func TestFileSource_MissingFile(t *testing.T) {
	src := &FileSource{
		RegistrationsPath: filepath.Join(t.TempDir(), "missing.json"),
		CompletionsPath:   filepath.Join(t.TempDir(), "missing.json"),
	}
	if _, err := src.Load(context.Background()); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFileSource_RequiresPaths(t *testing.T) {
	if _, err := (&FileSource{}).Load(context.Background()); err == nil {
		t.Error("expected error without paths")
	}
}

func TestStaticSource(t *testing.T) {
	b, err := StaticSource{}.Load(context.Background())
	if err != nil || b == nil {
		t.Errorf("expected an empty bundle, got %v (%v)", b, err)
	}
}
