package search

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"travelbot/internal/dates"
)

// ResultDates returns the checkin and checkout query parameters of a results
// URL, empty when absent.
func ResultDates(raw string) (checkIn, checkOut string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	q := u.Query()
	return q.Get("checkin"), q.Get("checkout"), nil
}

// DatesMatch reports whether the results URL carries exactly the requested
// stay dates.
func DatesMatch(raw string, checkIn, checkOut time.Time) bool {
	ci, co, err := ResultDates(raw)
	if err != nil {
		return false
	}
	return ci == iso(checkIn) && co == iso(checkOut)
}

// CorrectResultsURL rewrites the date parameters of raw in place, keeping
// every other query parameter (session and label identifiers included). The
// split year/month/monthday parameters are rewritten only when raw already
// uses them.
func CorrectResultsURL(raw string, checkIn, checkOut time.Time) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse results url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("results url %q has no host", raw)
	}
	q := u.Query()
	q.Set("checkin", iso(checkIn))
	q.Set("checkout", iso(checkOut))
	setSplit(q, "checkin", checkIn)
	setSplit(q, "checkout", checkOut)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func setSplit(q url.Values, prefix string, t time.Time) {
	if !q.Has(prefix+"_year") && !q.Has(prefix+"_month") && !q.Has(prefix+"_monthday") {
		return
	}
	q.Set(prefix+"_year", strconv.Itoa(t.Year()))
	q.Set(prefix+"_month", strconv.Itoa(int(t.Month())))
	q.Set(prefix+"_monthday", strconv.Itoa(t.Day()))
}

// FallbackResultsURL builds a results URL from scratch.
func FallbackResultsURL(base string, q HotelQuery) string {
	v := url.Values{}
	v.Set("ss", q.Destination)
	v.Set("checkin", iso(q.CheckIn))
	v.Set("checkout", iso(q.CheckOut))
	v.Set("group_adults", strconv.Itoa(max(q.Adults, 1)))
	v.Set("no_rooms", "1")
	v.Set("group_children", "0")
	return strings.TrimRight(base, "/") + "/searchresults.html?" + v.Encode()
}

// WithFilters merges filters into the query of raw. The nflt filter list is
// appended to rather than replaced, and only once.
func WithFilters(raw string, filters map[string]string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse results url: %w", err)
	}
	q := u.Query()
	for k, v := range filters {
		if k == "nflt" {
			existing := q.Get("nflt")
			if !strings.Contains(existing, v) {
				q.Set("nflt", existing+v)
			}
			continue
		}
		q.Set(k, v)
	}
	if _, ok := filters["sort_by"]; ok {
		q.Set("order", "price")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func iso(t time.Time) string { return t.Format(dates.ISO) }
