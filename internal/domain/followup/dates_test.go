package followup

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	inputs := []string{
		"2024-03-05",
		" 2024-03-05 ",
		"2024-03-05T14:22:01Z",
		"2024-03-05T14:22:01.123456Z",
		"2024-03-05T14:22:01.123456",
		"2024-03-05 14:22:01",
		"05/03/2024",
	}
	for _, in := range inputs {
		got, ok := ParseDate(in)
		if !ok {
			t.Errorf("ParseDate(%q) failed", in)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseDate(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseDate_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "yesterday", "2024-13-40"} {
		if _, ok := ParseDate(in); ok {
			t.Errorf("expected ParseDate(%q) to fail", in)
		}
	}
}

func TestDateOf(t *testing.T) {
	in := time.Date(2024, 3, 5, 23, 59, 0, 0, time.UTC)
	got := DateOf(in)
	if got.Hour() != 0 || got.Day() != 5 {
		t.Errorf("unexpected date: %v", got)
	}
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2024, 2, 28, 18, 0, 0, 0, time.UTC)
	b := time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)
	if got := daysBetween(a, b); got != 2 {
		t.Errorf("expected 2 days, got %d", got)
	}
	if got := daysBetween(b, a); got != -2 {
		t.Errorf("expected -2 days, got %d", got)
	}
}
