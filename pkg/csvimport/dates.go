package csvimport

import "time"

// dateLayouts are tried in order; the first one that parses wins. DD/MM/YYYY
// comes before MM/DD/YYYY so European exports take precedence for ambiguous
// values like 01/02/2026.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"01/02/2006",
	"2006/01/02",
	"02.01.2006",
	"20060102",
}

// ParseDate normalizes a date string to YYYY-MM-DD. Returns false when no
// layout matches, including impossible calendar dates like 31/02/2026.
func ParseDate(s string) (string, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}
