package search

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"travelbot/internal/booking"
	"travelbot/internal/browser"
	"travelbot/internal/config"
	"travelbot/internal/dates"
	"travelbot/internal/diag"
	"travelbot/internal/humanize"
	"travelbot/internal/selector"
)

type HotelQuery struct {
	BookingID   string
	Destination string
	CheckIn     time.Time
	CheckOut    time.Time
	Adults      int
}

var (
	destinationInput = selector.NewTarget("destination",
		selector.CSS(`input[name="ss"]`),
		selector.CSS(`[data-testid="destination-container"] input`),
		selector.Label(`where are you going|destination`),
	)
	destinationSuggestion = selector.NewTarget("destination suggestion",
		selector.CSS(`[data-testid="autocomplete-result"]`),
		selector.CSS(`[data-testid="autocomplete-results-options"] li`),
		selector.CSS(`li[role="option"]`),
	)
	dateField = selector.NewTarget("date field",
		selector.CSS(`[data-testid="date-display-field-start"]`),
		selector.CSS(`[data-testid="searchbox-dates-container"]`),
		selector.CSS(`[data-testid="date-display-field-end"]`),
	)
	searchButton = selector.NewTarget("search button",
		selector.CSS(`[data-testid="searchbox-search-button"]`),
		selector.CSS(`button[type="submit"]`),
		selector.Text(`button`, `^\s*search\s*$`),
	)
	resultsList = selector.NewTarget("results list",
		selector.CSS(`[data-testid="property-card"]`),
		selector.CSS(`[data-testid="property-card-container"]`),
		selector.CSS(`#searchresultsTmpl`),
	)
)

var nextMonthButtons = []string{
	`button[aria-label="Next month"]`,
	`[data-testid="searchbox-datepicker-next-button"]`,
	`.bui-calendar__control--next`,
}

// dayCells is scanned as a last resort; it can match the same day number in
// any rendered month, so results are always verified against the URL.
const dayCells = `span[data-date], td span, [class*="calendar"] span`

// dayTarget tries the date-keyed cell first, then an accessible label that
// spells out day, month and year, then the bare day number.
func dayTarget(t time.Time) selector.Target {
	forms := dates.LabelForms(t)
	quoted := make([]string, len(forms))
	for i, f := range forms {
		quoted[i] = regexp.QuoteMeta(f)
	}
	return selector.NewTarget("day "+iso(t),
		selector.CSS(fmt.Sprintf(`[data-date="%s"]`, iso(t))),
		selector.CSS(fmt.Sprintf(`[aria-label*="%d"][aria-label*="%s"][aria-label*="%d"]`, t.Day(), t.Month(), t.Year())),
		selector.Label(strings.Join(quoted, "|")),
		selector.Text(dayCells, fmt.Sprintf(`^\s*%d\s*$`, t.Day())),
	)
}

// Hotel drives the hotel provider's search form.
type Hotel struct {
	// ResultsWait bounds each wait for the results list.
	ResultsWait time.Duration

	cfg  config.ProviderConfig
	nav  *Navigator
	res  *selector.Resolver
	h    humanize.Humanizer
	sink diag.Sink
	log  zerolog.Logger
}

func NewHotel(cfg config.ProviderConfig, nav *Navigator, res *selector.Resolver, h humanize.Humanizer, sink diag.Sink, log zerolog.Logger) *Hotel {
	return &Hotel{
		ResultsWait: 30 * time.Second,
		cfg:         cfg,
		nav:         nav,
		res:         res,
		h:           h,
		sink:        sink,
		log:         log.With().Str("component", "hotel_search").Logger(),
	}
}

// Search fills the search form for q, submits it and makes sure the results
// page shows the requested dates. It returns the URL of the verified,
// filtered results page.
func (s *Hotel) Search(ctx context.Context, page browser.Page, q HotelQuery) (string, error) {
	log := s.log.With().Str("booking_id", q.BookingID).Logger()
	track := func(step string, fn func() error) error {
		return diag.Track(s.sink, q.BookingID, step, fn)
	}

	if err := track("search.open", func() error {
		return s.nav.Open(ctx, page, s.cfg.BaseURL)
	}); err != nil {
		return "", booking.Transient("search", err)
	}

	if err := track("search.destination", func() error {
		return s.enterDestination(ctx, page, q.Destination)
	}); err != nil {
		return "", booking.Transient("search", err)
	}

	_ = track("search.dates", func() error {
		return s.pickDates(ctx, page, q.CheckIn, q.CheckOut)
	})

	submitted := track("search.submit", func() error {
		return s.submit(ctx, page)
	})
	if submitted != nil {
		log.Warn().Err(submitted).Msg("search form did not produce results, using a direct results URL")
	}

	var verified string
	if err := track("search.verify", func() error {
		var err error
		verified, err = s.verify(ctx, page, q, submitted == nil)
		return err
	}); err != nil {
		return "", booking.Transient("search", err)
	}

	final := verified
	if len(s.cfg.Filters) > 0 {
		if err := track("search.filters", func() error {
			var err error
			final, err = s.applyFilters(ctx, page, verified)
			return err
		}); err != nil {
			return "", booking.Transient("search", err)
		}
	}

	log.Info().Str("url", final).Msg("search results ready")
	return final, nil
}

func (s *Hotel) enterDestination(ctx context.Context, page browser.Page, destination string) error {
	m, err := s.res.Locate(ctx, page, destinationInput)
	if err != nil {
		return err
	}
	if err := s.h.Click(ctx, page, m.Element); err != nil {
		return fmt.Errorf("focus destination: %w", err)
	}
	if err := humanize.Fill(ctx, s.h, m.Element, destination); err != nil {
		return fmt.Errorf("type destination: %w", err)
	}
	if err := s.h.Pause(ctx, humanize.Step); err != nil {
		return err
	}

	sug, err := s.res.Locate(ctx, page, destinationSuggestion)
	if err != nil {
		s.log.Debug().Str("destination", destination).Msg("no autocomplete suggestion, keeping typed text")
		return nil
	}
	if err := s.h.Click(ctx, page, sug.Element); err != nil {
		s.log.Debug().Err(err).Msg("suggestion click failed")
	}
	return s.h.Pause(ctx, humanize.Short)
}

// pickDates selects both stay dates in the picker. Failures are reported but
// not fatal: the results URL is checked afterwards either way.
func (s *Hotel) pickDates(ctx context.Context, page browser.Page, checkIn, checkOut time.Time) error {
	if m, err := s.res.Locate(ctx, page, dateField); err == nil {
		if err := s.h.Click(ctx, page, m.Element); err != nil {
			s.log.Debug().Err(err).Msg("date field click failed")
		}
		_ = s.h.Pause(ctx, humanize.Short)
	}

	var errs []error
	for _, day := range []time.Time{checkIn, checkOut} {
		if !s.pageTo(ctx, page, day) {
			s.log.Warn().Str("date", iso(day)).Int("pages", s.maxPages()).Msg("date not shown after paging the calendar")
		}
		m, err := s.res.Locate(ctx, page, dayTarget(day))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.h.Click(ctx, page, m.Element); err != nil {
			errs = append(errs, fmt.Errorf("click %s: %w", iso(day), err))
			continue
		}
		s.log.Debug().Str("date", iso(day)).Stringer("strategy", m.Strategy).Msg("date picked")
		_ = s.h.Pause(ctx, humanize.Short)
	}
	return errors.Join(errs...)
}

func (s *Hotel) maxPages() int {
	if s.cfg.MaxCalendarPages > 0 {
		return s.cfg.MaxCalendarPages
	}
	return 24
}

// pageTo moves the calendar forward until day's cell is in the DOM. The
// bound keeps the picker from wandering into a later year.
func (s *Hotel) pageTo(ctx context.Context, page browser.Page, day time.Time) bool {
	cell := fmt.Sprintf(`[data-date="%s"]`, iso(day))
	for i := 0; i < s.maxPages(); i++ {
		if _, err := page.Element(ctx, cell); err == nil {
			return true
		}
		clicked := false
		for _, css := range nextMonthButtons {
			next, err := page.Element(ctx, css)
			if err != nil {
				continue
			}
			if err := next.Click(ctx); err == nil {
				clicked = true
				break
			}
		}
		if !clicked {
			return false
		}
		_ = s.h.Pause(ctx, humanize.Short)
	}
	_, err := page.Element(ctx, cell)
	return err == nil
}

func (s *Hotel) submit(ctx context.Context, page browser.Page) error {
	m, err := s.res.Locate(ctx, page, searchButton)
	if err != nil {
		return err
	}
	if err := s.h.Click(ctx, page, m.Element); err != nil {
		return fmt.Errorf("click search: %w", err)
	}
	if err := s.h.Pause(ctx, humanize.Settle); err != nil {
		return err
	}
	return s.waitResults(ctx, page)
}

func (s *Hotel) waitResults(ctx context.Context, page browser.Page) error {
	r := *s.res
	r.Timeout = s.ResultsWait
	if _, err := r.Locate(ctx, page, resultsList); err != nil {
		return fmt.Errorf("results not loaded: %w", err)
	}
	return nil
}

// openResults navigates to url and waits for the results list.
func (s *Hotel) openResults(ctx context.Context, page browser.Page, url string) error {
	if err := s.nav.Open(ctx, page, url); err != nil {
		return err
	}
	return s.waitResults(ctx, page)
}

// verify checks the dates in the results URL. On a mismatch it rewrites the
// current URL, and if that does not load it builds a fresh results URL.
func (s *Hotel) verify(ctx context.Context, page browser.Page, q HotelQuery, loaded bool) (string, error) {
	current, err := page.URL(ctx)
	if err != nil {
		return "", err
	}
	if loaded && DatesMatch(current, q.CheckIn, q.CheckOut) {
		return current, nil
	}

	if loaded {
		ci, co, _ := ResultDates(current)
		s.log.Warn().
			Str("booking_id", q.BookingID).
			Str("want_checkin", iso(q.CheckIn)).
			Str("got_checkin", ci).
			Str("want_checkout", iso(q.CheckOut)).
			Str("got_checkout", co).
			Msg("results dates differ from request, correcting url")

		if corrected, err := CorrectResultsURL(current, q.CheckIn, q.CheckOut); err == nil {
			if err := s.openResults(ctx, page, corrected); err == nil {
				if now, _ := page.URL(ctx); DatesMatch(now, q.CheckIn, q.CheckOut) {
					return now, nil
				}
			} else {
				s.log.Warn().Err(err).Msg("corrected results url did not load")
			}
		}
	}

	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	fallback := FallbackResultsURL(s.cfg.BaseURL, q)
	if err := s.openResults(ctx, page, fallback); err != nil {
		return "", fmt.Errorf("results with requested dates: %w", err)
	}
	now, err := page.URL(ctx)
	if err != nil {
		return "", err
	}
	if !DatesMatch(now, q.CheckIn, q.CheckOut) {
		return "", fmt.Errorf("results show different dates than %s to %s", iso(q.CheckIn), iso(q.CheckOut))
	}
	return now, nil
}

// applyFilters reloads the results with the configured sort and filters. If
// the filtered page does not load, the unfiltered results are restored.
func (s *Hotel) applyFilters(ctx context.Context, page browser.Page, verified string) (string, error) {
	filtered, err := WithFilters(verified, s.cfg.Filters)
	if err != nil {
		return "", err
	}
	err = s.openResults(ctx, page, filtered)
	if err == nil {
		return filtered, nil
	}
	s.log.Warn().Err(err).Msg("filtered results did not load, restoring unfiltered results")
	if err := s.openResults(ctx, page, verified); err != nil {
		return "", err
	}
	return verified, nil
}
