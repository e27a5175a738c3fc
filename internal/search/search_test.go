package search

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"travelbot/internal/booking"
	"travelbot/internal/browser/browsertest"
	"travelbot/internal/config"
	"travelbot/internal/diag"
	"travelbot/internal/humanize"
	"travelbot/internal/selector"
)

var (
	feb14 = time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)
	feb17 = time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC)
)

func TestCorrectResultsURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]string
		keep []string
	}{
		{
			name: "plain dates",
			raw:  "https://www.booking.com/searchresults.html?ss=Tunis&checkin=2027-02-14&checkout=2027-02-17&sid=abc",
			want: map[string]string{"checkin": "2026-02-14", "checkout": "2026-02-17", "sid": "abc", "ss": "Tunis"},
			keep: []string{"checkin_year"},
		},
		{
			name: "split dates",
			raw: "https://www.booking.com/searchresults.html?checkin_year=2027&checkin_month=2&checkin_monthday=14" +
				"&checkout_year=2027&checkout_month=2&checkout_monthday=17&label=gen173",
			want: map[string]string{
				"checkin": "2026-02-14", "checkin_year": "2026", "checkin_month": "2", "checkin_monthday": "14",
				"checkout_year": "2026", "checkout_monthday": "17", "label": "gen173",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CorrectResultsURL(tt.raw, feb14, feb17)
			if err != nil {
				t.Fatalf("CorrectResultsURL() error: %v", err)
			}
			u, _ := url.Parse(got)
			q := u.Query()
			for k, v := range tt.want {
				if q.Get(k) != v {
					t.Errorf("%s = %q, want %q", k, q.Get(k), v)
				}
			}
			for _, k := range tt.keep {
				if q.Has(k) {
					t.Errorf("%s was added to a url that did not use it", k)
				}
			}
			if !DatesMatch(got, feb14, feb17) {
				t.Errorf("corrected url does not carry the requested dates: %s", got)
			}
		})
	}

	if _, err := CorrectResultsURL("not a url", feb14, feb17); err == nil {
		t.Error("expected an error for a url without host")
	}
}

func TestFallbackResultsURL(t *testing.T) {
	got := FallbackResultsURL("https://www.booking.com/", HotelQuery{Destination: "Hammamet", CheckIn: feb14, CheckOut: feb17})
	u, err := url.Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	if u.Path != "/searchresults.html" {
		t.Errorf("path = %s", u.Path)
	}
	q := u.Query()
	for k, v := range map[string]string{"ss": "Hammamet", "group_adults": "1", "no_rooms": "1", "group_children": "0", "checkout": "2026-02-17"} {
		if q.Get(k) != v {
			t.Errorf("%s = %q, want %q", k, q.Get(k), v)
		}
	}
}

func TestWithFilters(t *testing.T) {
	filters := map[string]string{
		"sort_by":           "price_starting_from_lowest",
		"nflt":              "fc=1;cancellation_type=no_prepayment;",
		"selected_currency": "USD",
	}
	raw := "https://www.booking.com/searchresults.html?checkin=2026-02-14&nflt=class%3D3%3B"

	once, err := WithFilters(raw, filters)
	if err != nil {
		t.Fatal(err)
	}
	twice, err := WithFilters(once, filters)
	if err != nil {
		t.Fatal(err)
	}

	u, _ := url.Parse(twice)
	q := u.Query()
	if got := q.Get("nflt"); got != "class=3;fc=1;cancellation_type=no_prepayment;" {
		t.Errorf("nflt = %q", got)
	}
	if q.Get("order") != "price" || q.Get("selected_currency") != "USD" || q.Get("checkin") != "2026-02-14" {
		t.Errorf("unexpected query: %s", u.RawQuery)
	}
}

type flakyPage struct {
	*browsertest.Page
	fails int
	calls int
	err   error
}

func (f *flakyPage) Navigate(ctx context.Context, u string) error {
	f.calls++
	if f.calls <= f.fails {
		return f.err
	}
	return f.Page.Navigate(ctx, u)
}

func TestNavigatorOpen(t *testing.T) {
	popup := &browsertest.Element{Selectors: []string{"#onetrust-accept-btn-handler"}}
	newPage := func(fails int, err error) *flakyPage {
		return &flakyPage{
			Page:  browsertest.NewPage("p", map[string]*browsertest.Screen{"p": {Elements: []*browsertest.Element{popup}}}),
			fails: fails,
			err:   err,
		}
	}
	nav := NewNavigator([]string{"#onetrust-accept-btn-handler", ".modal-close"}, humanize.Off(), zerolog.Nop())
	nav.Backoff = time.Millisecond

	t.Run("retries network errors", func(t *testing.T) {
		p := newPage(2, errors.New("net::ERR_CONNECTION_RESET"))
		if err := nav.Open(context.Background(), p, "https://example.com"); err != nil {
			t.Fatalf("Open() error: %v", err)
		}
		if p.calls != 3 {
			t.Errorf("calls = %d, want 3", p.calls)
		}
		if popup.Clicks == 0 {
			t.Error("cookie banner was not dismissed")
		}
	})

	t.Run("gives up after the attempt limit", func(t *testing.T) {
		p := newPage(10, errors.New("dial tcp: connection refused"))
		if err := nav.Open(context.Background(), p, "https://example.com"); err == nil {
			t.Fatal("expected an error")
		}
		if p.calls != nav.Attempts {
			t.Errorf("calls = %d, want %d", p.calls, nav.Attempts)
		}
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		p := newPage(10, errors.New("invalid url"))
		if err := nav.Open(context.Background(), p, "::"); err == nil {
			t.Fatal("expected an error")
		}
		if p.calls != 1 {
			t.Errorf("calls = %d, want 1", p.calls)
		}
	})
}

type hotelFixture struct {
	page       *browsertest.Page
	dest       *browsertest.Element
	suggestion *browsertest.Element
	next       *browsertest.Element
	checkIn    *browsertest.Element
	checkOut   *browsertest.Element
}

// newHotelFixture renders a search page whose calendar only shows next
// year's February, so the picked days always drift by a year.
func newHotelFixture(drifted string, router func(string) string) *hotelFixture {
	f := &hotelFixture{
		dest:       &browsertest.Element{Selectors: []string{`input[name="ss"]`}, TagName: "input"},
		suggestion: &browsertest.Element{Selectors: []string{`[data-testid="autocomplete-result"]`}},
		next:       &browsertest.Element{Selectors: []string{`button[aria-label="Next month"]`}},
		checkIn:    &browsertest.Element{Selectors: []string{`span[data-date]`}, TextContent: "14"},
		checkOut:   &browsertest.Element{Selectors: []string{`span[data-date]`}, TextContent: "17"},
	}
	field := &browsertest.Element{Selectors: []string{`[data-testid="date-display-field-start"]`}}
	submit := &browsertest.Element{
		Selectors: []string{`[data-testid="searchbox-search-button"]`},
		OnClick:   func(p *browsertest.Page) { p.Show("drifted") },
	}
	card := func() *browsertest.Element {
		return &browsertest.Element{Selectors: []string{`[data-testid="property-card"]`}}
	}

	f.page = browsertest.NewPage("home", map[string]*browsertest.Screen{
		"home":    {URL: "https://www.booking.com/", Elements: []*browsertest.Element{f.dest, f.suggestion, field, f.next, f.checkIn, f.checkOut, submit}},
		"drifted": {URL: drifted, Elements: []*browsertest.Element{card()}},
		"results": {Elements: []*browsertest.Element{card()}},
		"blocked": {Text: "Please verify you are human"},
	})
	f.page.Router = router
	return f
}

func newHotelSearch(sink diag.Sink) *Hotel {
	cfg := config.DefaultConfig().Hotel
	cfg.MaxCalendarPages = 3
	res := selector.New(5*time.Millisecond, zerolog.Nop())
	res.Interval = time.Millisecond
	nav := NewNavigator(nil, humanize.Off(), zerolog.Nop())
	s := NewHotel(cfg, nav, res, humanize.Off(), sink, zerolog.Nop())
	s.ResultsWait = 10 * time.Millisecond
	return s
}

func TestHotelSearchCorrectsDriftedDates(t *testing.T) {
	drifted := "https://www.booking.com/searchresults.html?ss=Tunis&checkin=2027-02-14&checkout=2027-02-17&label=gen173&sid=abc123"
	f := newHotelFixture(drifted, func(u string) string {
		if strings.Contains(u, "searchresults") {
			return "results"
		}
		return "home"
	})
	var rec diag.Recorder
	s := newHotelSearch(&rec)

	final, err := s.Search(context.Background(), f.page, HotelQuery{
		BookingID: "b1", Destination: "Tunis", CheckIn: feb14, CheckOut: feb17, Adults: 2,
	})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}

	if !DatesMatch(final, feb14, feb17) {
		t.Errorf("final url carries the wrong dates: %s", final)
	}
	u, _ := url.Parse(final)
	if u.Query().Get("sid") != "abc123" || u.Query().Get("sort_by") != "price_starting_from_lowest" {
		t.Errorf("final url lost the session id or filters: %s", final)
	}

	if len(f.page.Visited) < 2 {
		t.Fatalf("visited = %v", f.page.Visited)
	}
	corrected := f.page.Visited[1]
	if !DatesMatch(corrected, feb14, feb17) || !strings.Contains(corrected, "label=gen173") {
		t.Errorf("corrected url = %s", corrected)
	}

	if f.dest.Val != "Tunis" || f.suggestion.Clicks != 1 {
		t.Errorf("destination = %q, suggestion clicks = %d", f.dest.Val, f.suggestion.Clicks)
	}
	if f.checkIn.Clicks != 1 || f.checkOut.Clicks != 1 {
		t.Errorf("day clicks = %d/%d, want 1/1", f.checkIn.Clicks, f.checkOut.Clicks)
	}
	if f.next.Clicks != 2*s.cfg.MaxCalendarPages {
		t.Errorf("next month clicks = %d, want the bound %d per date", f.next.Clicks, s.cfg.MaxCalendarPages)
	}
	if got := rec.Steps(diag.OutcomeOK); !contains(got, "search.verify") || !contains(got, "search.filters") {
		t.Errorf("ok steps = %v", got)
	}
}

func TestHotelSearchFallsBackToFreshURL(t *testing.T) {
	drifted := "https://www.booking.com/searchresults.html?checkin=2027-02-14&checkout=2027-02-17&sid=abc123"
	f := newHotelFixture(drifted, func(u string) string {
		switch {
		case strings.Contains(u, "sid="):
			return "blocked"
		case strings.Contains(u, "searchresults"):
			return "results"
		}
		return "home"
	})
	s := newHotelSearch(diag.Discard{})
	q := HotelQuery{BookingID: "b2", Destination: "Tunis", CheckIn: feb14, CheckOut: feb17}

	final, err := s.Search(context.Background(), f.page, q)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if !contains(f.page.Visited, FallbackResultsURL(s.cfg.BaseURL, q)) {
		t.Errorf("fallback url not visited: %v", f.page.Visited)
	}
	if !DatesMatch(final, feb14, feb17) || strings.Contains(final, "sid=") {
		t.Errorf("final = %s", final)
	}
}

func TestHotelSearchResultsNeverLoad(t *testing.T) {
	f := newHotelFixture("https://www.booking.com/searchresults.html?sid=x", func(u string) string {
		if strings.Contains(u, "searchresults") {
			return "blocked"
		}
		return "home"
	})
	s := newHotelSearch(diag.Discard{})

	_, err := s.Search(context.Background(), f.page, HotelQuery{Destination: "Tunis", CheckIn: feb14, CheckOut: feb17})
	if err == nil {
		t.Fatal("expected an error")
	}
	if booking.KindOf(err) != booking.KindTransient {
		t.Errorf("kind = %s, want transient", booking.KindOf(err))
	}
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
