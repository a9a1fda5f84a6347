package normalizer

import (
	"testing"
	"time"
)

func TestParseDateCell(t *testing.T) {
	want := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		in   any
	}{
		{"native", time.Date(2024, time.January, 1, 15, 4, 5, 0, time.UTC)},
		{"serial float", 45292.0},
		{"serial int", 45292},
		{"serial string", "45292"},
		{"iso", "2024-01-01"},
		{"day first", "01/01/2024"},
		{"short day first", "1/1/2024"},
		{"month name", "1 Jan 2024"},
	}
	for _, tc := range cases {
		got, ok := ParseDateCell(tc.in, time.UTC)
		if !ok {
			t.Fatalf("%s: expected date", tc.name)
		}
		if !got.Equal(want) {
			t.Fatalf("%s: expected %s, got %s", tc.name, want, got)
		}
	}

	for _, bad := range []any{"", "soon", -1.0, nil, true} {
		if _, ok := ParseDateCell(bad, time.UTC); ok {
			t.Fatalf("expected %v to be rejected", bad)
		}
	}
}

func TestParseTimeCell(t *testing.T) {
	cases := []struct {
		in   any
		want time.Duration
	}{
		{0.5, 12 * time.Hour},
		{0.75, 18 * time.Hour},
		{"0.25", 6 * time.Hour},
		{"09:30", 9*time.Hour + 30*time.Minute},
		{"9:30:15", 9*time.Hour + 30*time.Minute + 15*time.Second},
		{45292.5, 12 * time.Hour},
	}
	for _, tc := range cases {
		got, ok := ParseTimeCell(tc.in)
		if !ok {
			t.Fatalf("ParseTimeCell(%v): expected time", tc.in)
		}
		if got != tc.want {
			t.Fatalf("ParseTimeCell(%v): expected %s, got %s", tc.in, tc.want, got)
		}
	}
	for _, bad := range []any{"", "25:00", "noon", -0.5} {
		if _, ok := ParseTimeCell(bad); ok {
			t.Fatalf("expected %v to be rejected", bad)
		}
	}
}

func TestCombineDateTime(t *testing.T) {
	day := time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC)
	got := CombineDateTime(day, 23*time.Hour+59*time.Minute+59*time.Second)
	if got != "2024-02-29T23:59:59.000Z" {
		t.Fatalf("unexpected timestamp %q", got)
	}
}
