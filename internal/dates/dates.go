// Package dates parses the dates travel bookings carry and the free
// cancellation deadlines providers print on their pages.
package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const ISO = "2006-01-02"

// ParseDay parses a calendar day. Supported formats, all taken as UTC:
//   - "2026-02-14"
//   - "2026-02-14 16:00" and "2026-02-14 16:00:00"
//   - "2026-02-14T16:00:00Z" (RFC3339)
//
// The time of day is discarded.
func ParseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimSuffix(s, "UTC"))

	for _, layout := range []string{ISO, time.RFC3339, "2006-01-02 15:04", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date '%s'. Use format: YYYY-MM-DD (e.g., 2026-02-14)", s)
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Nights is the stay length between check-in and check-out, at least one.
func Nights(checkIn, checkOut time.Time) int {
	n := int(Day(checkOut).Sub(Day(checkIn)).Hours() / 24)
	if n < 1 {
		return 1
	}
	return n
}

// LabelForms lists the ways a calendar cell's accessible label commonly
// spells t, most specific first.
func LabelForms(t time.Time) []string {
	return []string{
		t.Format("Monday, January 2, 2006"),
		t.Format("Monday 2 January 2006"),
		t.Format("January 2, 2006"),
		t.Format("2 January 2006"),
		t.Format("Jan 2, 2006"),
		t.Format("2 Jan 2006"),
	}
}

var datePhrase = `(\w+\s+\d{1,2},?\s+\d{4}(?:\s+\d{1,2}:\d{2}\s*(?:AM|PM)?)?)`
var numericPhrase = `(\d{1,2}[/-]\d{1,2}[/-]\d{2,4}(?:\s+\d{1,2}:\d{2})?)`

var deadlinePatterns = []*regexp.Regexp{
	// "from January 2, 2026 1:53 AM: € 43.20" is when fees start.
	regexp.MustCompile(`(?i)from\s+` + datePhrase + `\s*[:\-–]?\s*[€$£]`),
	regexp.MustCompile(`(?i)cancellation\s+cost\s*(?:from\s+)?` + datePhrase),
	regexp.MustCompile(`(?i)free\s+cancellation\s+(?:until|before)\s+` + datePhrase),
	regexp.MustCompile(`(?i)cancel\s+(?:for\s+)?free\s+(?:until|before)\s+` + datePhrase),
	regexp.MustCompile(`(?i)from\s+` + numericPhrase + `\s*[:\-–]?\s*[€$£]`),
	regexp.MustCompile(`(?i)free\s+cancellation\s+before\s+` + numericPhrase),
}

var textLayouts = []string{
	"January 2, 2006 3:04 PM",
	"January 2 2006 3:04 PM",
	"January 2, 2006 3:04PM",
	"January 2, 2006 15:04",
	"January 2 2006 15:04",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006",
	"Jan 2 2006",
}

var numericDate = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{2,4})(?:\s+(\d{1,2}):(\d{2}))?$`)

// parsePhrase turns a matched deadline phrase into a time. Numeric dates are
// read month first unless the first field cannot be a month.
func parsePhrase(s string) (time.Time, bool) {
	s = strings.Join(strings.Fields(s), " ")
	for _, layout := range textLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	m := numericDate.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	a, _ := strconv.Atoi(m[1])
	b, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if year < 100 {
		year += 2000
	}
	month, day := a, b
	if a > 12 {
		month, day = b, a
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	hour, minute := 0, 0
	if m[4] != "" {
		hour, _ = strconv.Atoi(m[4])
		minute, _ = strconv.Atoi(m[5])
	}
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// ParseDeadline finds a free-cancellation deadline in page text. The
// returned phrase is the raw text that was parsed.
func ParseDeadline(text string) (time.Time, string, bool) {
	for _, re := range deadlinePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil || m[1] == "" {
			continue
		}
		phrase := strings.TrimSpace(m[1])
		if t, ok := parsePhrase(phrase); ok {
			return t, phrase, true
		}
	}
	return time.Time{}, "", false
}
