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
	"travelbot/internal/diag"
	"travelbot/internal/humanize"
	"travelbot/internal/selector"
)

type FlightQuery struct {
	BookingID string
	From      string
	To        string
	Depart    time.Time
	// Return is nil for one-way trips.
	Return   *time.Time
	Adults   int
	Children int
	Infants  int
}

var (
	oneWay    = selector.NewTarget("one way", selector.Text(`label`, `^\s*one[ -]way\s*$`))
	roundTrip = selector.NewTarget("round trip", selector.Text(`label`, `^\s*round[ -]trip\s*$`))

	departureDate = selector.NewTarget("departure date",
		selector.CSS(`input[placeholder*="Departure"]`),
		selector.Label(`departure`),
	)
	calendarNext = selector.NewTarget("calendar next",
		selector.Text(`button`, `^\s*›\s*$`),
		selector.CSS(`button[aria-label="Next month"]`),
	)
	passengerField = selector.NewTarget("passengers",
		selector.CSS(`.passenger-input`),
		selector.CSS(`[class*="passenger-container"]`),
		selector.Text(`div, span, label`, `^\s*passengers\s*$`),
	)
	passengerContinue = selector.NewTarget("passenger popup continue",
		selector.CSS(`.btn-passenger`),
		selector.Text(`button`, `^\s*continue\s*$`),
	)
	flightSearchButton = selector.NewTarget("flight search",
		selector.Text(`button`, `^\s*search\s*$`),
		selector.CSS(`button[type="submit"]`),
	)
	fareList = selector.NewTarget("fares",
		selector.CSS(`.offer-info-block.cabin-name-ECONOMY`),
		selector.CSS(`.offer-info-block`),
	)
)

// Flight drives the airline's search form.
type Flight struct {
	ResultsWait time.Duration

	cfg  config.ProviderConfig
	nav  *Navigator
	res  *selector.Resolver
	h    humanize.Humanizer
	sink diag.Sink
	log  zerolog.Logger
}

func NewFlight(cfg config.ProviderConfig, nav *Navigator, res *selector.Resolver, h humanize.Humanizer, sink diag.Sink, log zerolog.Logger) *Flight {
	return &Flight{
		ResultsWait: 30 * time.Second,
		cfg:         cfg,
		nav:         nav,
		res:         res,
		h:           h,
		sink:        sink,
		log:         log.With().Str("component", "flight_search").Logger(),
	}
}

// Search fills the airline search form and waits for fares to be listed.
func (s *Flight) Search(ctx context.Context, page browser.Page, q FlightQuery) error {
	track := func(step string, fn func() error) error {
		return diag.Track(s.sink, q.BookingID, step, fn)
	}

	if err := track("flight.open", func() error {
		if err := s.nav.Open(ctx, page, s.cfg.BaseURL); err != nil {
			return err
		}
		return s.h.Wander(ctx, page)
	}); err != nil {
		return booking.Transient("search", err)
	}

	trip := oneWay
	if q.Return != nil {
		trip = roundTrip
	}
	if m, err := s.res.Locate(ctx, page, trip); err == nil {
		_ = s.h.Click(ctx, page, m.Element)
		_ = s.h.Pause(ctx, humanize.Short)
	}

	if err := track("flight.airports", func() error {
		if err := s.airport(ctx, page, 0, "from", q.From); err != nil {
			return err
		}
		if err := s.h.Pause(ctx, humanize.Step); err != nil {
			return err
		}
		return s.airport(ctx, page, 1, "to", q.To)
	}); err != nil {
		return booking.Transient("search", err)
	}

	if err := track("flight.dates", func() error {
		if err := s.pickDate(ctx, page, q.Depart); err != nil {
			return err
		}
		if q.Return != nil {
			return s.pickDate(ctx, page, *q.Return)
		}
		return nil
	}); err != nil {
		return booking.Transient("search", err)
	}

	_ = track("flight.passengers", func() error {
		return s.passengers(ctx, page, q)
	})

	if err := track("flight.submit", func() error {
		m, err := s.res.Locate(ctx, page, flightSearchButton)
		if err != nil {
			return err
		}
		if err := s.h.Click(ctx, page, m.Element); err != nil {
			return err
		}
		if err := s.h.Pause(ctx, humanize.Think); err != nil {
			return err
		}
		s.nav.DismissPopups(ctx, page)
		r := *s.res
		r.Timeout = s.ResultsWait
		_, err = r.Locate(ctx, page, fareList)
		return err
	}); err != nil {
		return booking.Transient("search", fmt.Errorf("no fares listed: %w", err))
	}
	return nil
}

// airport types code into the idx-th autocomplete input and accepts the
// matching suggestion, or the first one, or presses Enter.
func (s *Flight) airport(ctx context.Context, page browser.Page, idx int, label, code string) error {
	var input browser.Element
	if els, err := page.Elements(ctx, `.MuiAutocomplete-input`); err == nil && len(els) > idx {
		input = els[idx]
	} else {
		m, err := s.res.Locate(ctx, page, selector.NewTarget(label+" airport", selector.Label(`^\s*`+label+`\b`)))
		if err != nil {
			return err
		}
		input = m.Element
	}

	if err := s.h.Click(ctx, page, input); err != nil {
		return fmt.Errorf("focus %s airport: %w", label, err)
	}
	if err := s.h.Type(ctx, input, code); err != nil {
		return fmt.Errorf("type %s airport: %w", label, err)
	}
	if err := s.h.Pause(ctx, humanize.Step); err != nil {
		return err
	}

	option := selector.NewTarget(label+" suggestion",
		selector.Text(`.MuiAutocomplete-option`, regexp.QuoteMeta(code)),
		selector.CSS(`li[role="option"]`),
	)
	if m, err := s.res.Locate(ctx, page, option); err == nil {
		return s.h.Click(ctx, page, m.Element)
	}
	return page.Press(ctx, "Enter")
}

// pickDate opens the departure calendar, pages to the target month and
// clicks the day. Days belonging to adjacent months are skipped.
func (s *Flight) pickDate(ctx context.Context, page browser.Page, day time.Time) error {
	if m, err := s.res.Locate(ctx, page, departureDate); err == nil {
		_ = s.h.Click(ctx, page, m.Element)
		_ = s.h.Pause(ctx, humanize.Short)
	}

	month := day.Format("January 2006")
	pages := s.cfg.MaxCalendarPages
	if pages <= 0 {
		pages = 12
	}
	found := false
	for i := 0; i <= pages; i++ {
		text, _ := page.Text(ctx)
		if strings.Contains(strings.ToLower(text), strings.ToLower(month)) {
			found = true
			break
		}
		if i == pages {
			break
		}
		next, err := s.res.Locate(ctx, page, calendarNext)
		if err != nil {
			break
		}
		if err := next.Element.Click(ctx); err != nil {
			break
		}
		_ = s.h.Pause(ctx, humanize.Short)
	}
	if !found {
		return fmt.Errorf("calendar never showed %s", month)
	}

	want := fmt.Sprint(day.Day())
	days, _ := page.Elements(ctx, `button.MuiPickersDay-root`)
	for _, d := range days {
		text, _ := d.Text(ctx)
		class, _ := d.Attribute(ctx, "class")
		disabled, _ := d.Attribute(ctx, "disabled")
		if strings.TrimSpace(text) != want || strings.Contains(class, "outsideCurrentMonth") || disabled != "" {
			continue
		}
		if err := s.h.Click(ctx, page, d); err != nil {
			return fmt.Errorf("click day %s: %w", iso(day), err)
		}
		return s.h.Pause(ctx, humanize.Step)
	}

	m, err := s.res.Locate(ctx, page, selector.NewTarget("day "+iso(day), selector.Text(`button`, `^\s*`+want+`\s*$`)))
	if err != nil {
		return fmt.Errorf("day %s: %w", iso(day), err)
	}
	if err := s.h.Click(ctx, page, m.Element); err != nil {
		return err
	}
	return s.h.Pause(ctx, humanize.Step)
}

// passengers raises the adult, child and infant steppers from their defaults
// of one adult and nobody else.
func (s *Flight) passengers(ctx context.Context, page browser.Page, q FlightQuery) error {
	adults := max(q.Adults, 1)
	if adults == 1 && q.Children == 0 && q.Infants == 0 {
		return nil
	}
	m, err := s.res.Locate(ctx, page, passengerField)
	if err != nil {
		return err
	}
	if err := s.h.Click(ctx, page, m.Element); err != nil {
		return err
	}
	_ = s.h.Pause(ctx, humanize.Short)

	// The steppers label their increment button "decrease".
	plus, err := page.Elements(ctx, `.stepper-container button[aria-label="decrease"]`)
	if err != nil || len(plus) < 3 {
		return errors.New("passenger steppers not found")
	}
	for i, n := range []int{adults - 1, q.Children, q.Infants} {
		for j := 0; j < n; j++ {
			if err := s.h.Click(ctx, page, plus[i]); err != nil {
				return err
			}
			_ = s.h.Pause(ctx, humanize.Short)
		}
	}

	if c, err := s.res.Locate(ctx, page, passengerContinue); err == nil {
		return s.h.Click(ctx, page, c.Element)
	}
	return nil
}
