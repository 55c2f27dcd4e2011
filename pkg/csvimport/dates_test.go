package csvimport

import "testing"

func TestParseDateFormats(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2026-01-30", "2026-01-30", true},
		{"30/01/2026", "2026-01-30", true},
		{"30-01-2026", "2026-01-30", true},
		{"01/30/2026", "2026-01-30", true}, // US format, after DD/MM fails
		{"2026/01/30", "2026-01-30", true},
		{"30.01.2026", "2026-01-30", true},
		{"20260130", "2026-01-30", true},
		{"31/02/2026", "", false}, // impossible calendar date
		{"not a date", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseDate(tc.in)
		if ok != tc.ok {
			t.Errorf("ParseDate(%q) ok=%v, want %v", tc.in, ok, tc.ok)
			continue
		}
		if ok && got != tc.want {
			t.Errorf("ParseDate(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestParseDateAmbiguousPrefersEuropean(t *testing.T) {
	// 01/02/2026 parses under both DD/MM and MM/DD; DD/MM wins.
	got, ok := ParseDate("01/02/2026")
	if !ok || got != "2026-02-01" {
		t.Fatalf("expected 2026-02-01 got %q ok=%v", got, ok)
	}
}
