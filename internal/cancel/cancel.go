// Package cancel finds a confirmed reservation in one of the saved provider
// accounts and drives the provider's cancellation flow.
package cancel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"travelbot/internal/booking"
	"travelbot/internal/browser"
	"travelbot/internal/config"
	"travelbot/internal/diag"
	"travelbot/internal/humanize"
	"travelbot/internal/lexicon"
	"travelbot/internal/search"
	"travelbot/internal/selector"
	"travelbot/internal/session"
)

var (
	ErrReservationNotFound = errors.New("reservation not found under any known identity")
	ErrInconclusive        = errors.New("cancellation outcome not confirmed")
	ErrNotCancellable      = errors.New("booking is not a confirmed reservation")
)

const tripLinks = `[data-testid="trip-card"] a[href], a[data-testid="trip-card"], a[href*="mystays"], a[href*="myreservations"], a[href*="confirmation"]`

var reasons = []string{"change of plans", "plans changed", "personal reasons", "other"}

var (
	cancelOptions = selector.NewTarget("cancellation options",
		selector.Text(`button, a`, `cancellation options`),
		selector.Text(`button, a`, `^\s*cancel (booking|reservation)\s*$`),
	)
	reasonSelect = selector.NewTarget("cancellation reason", selector.CSS(`select[name*="reason"]`), selector.CSS(`select`))
	reasonRadio  = selector.NewTarget("cancellation reason option", selector.CSS(`input[type="radio"]`))
	continueStep = selector.NewTarget("continue",
		selector.Text(`button`, `^\s*(continue|next|proceed)\b`),
	)
	confirmCancel = selector.NewTarget("confirm cancellation",
		selector.Text(`button`, `^\s*cancel (booking|reservation)\s*$`),
		selector.Text(`button`, `yes,? cancel|confirm cancellation`),
		selector.Text(`button`, `^\s*confirm\s*$`),
	)
)

// Result names the account the reservation was cancelled under.
type Result struct {
	Account    string
	Screenshot string
}

type Engine struct {
	// MaxTrips bounds how many trip links are opened per account.
	MaxTrips   int
	ResultWait time.Duration
	Poll       time.Duration

	cfg      config.ProviderConfig
	paths    config.PathsConfig
	sessions session.Provider
	launcher browser.Launcher
	nav      *search.Navigator
	res      *selector.Resolver
	h        humanize.Humanizer
	lex      *lexicon.Lexicon
	sink     diag.Sink
	log      zerolog.Logger
}

func New(cfg config.ProviderConfig, paths config.PathsConfig, sessions session.Provider, launcher browser.Launcher,
	nav *search.Navigator, res *selector.Resolver, h humanize.Humanizer, lex *lexicon.Lexicon, sink diag.Sink, log zerolog.Logger) *Engine {
	return &Engine{
		MaxTrips:   5,
		ResultWait: 10 * time.Second,
		Poll:       500 * time.Millisecond,
		cfg:        cfg,
		paths:      paths,
		sessions:   sessions,
		launcher:   launcher,
		nav:        nav,
		res:        res,
		h:          h,
		lex:        lex,
		sink:       sink,
		log:        log.With().Str("component", "cancel").Logger(),
	}
}

// compact drops whitespace so references split across lines still match.
func compact(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Cancel tries every saved account in order until one shows b's reference,
// then cancels it there. A reservation found but not cancelled stops the
// search; trying further accounts cannot help.
func (e *Engine) Cancel(ctx context.Context, b *booking.Booking) (Result, error) {
	if b.Status != booking.StatusConfirmed || strings.TrimSpace(b.PNR) == "" {
		return Result{}, fmt.Errorf("%w: status %s", ErrNotCancellable, b.Status)
	}
	states, err := e.sessions.AllForLookup()
	if err != nil {
		return Result{}, err
	}

	for _, st := range states {
		log := e.log.With().Str("booking_id", b.ID).Str("account", st.Name).Logger()
		res, found, err := e.tryAccount(ctx, b, st, log)
		switch {
		case found:
			return res, err
		case err != nil:
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			log.Warn().Err(err).Msg("account lookup failed, trying next")
		default:
			log.Info().Msg("reservation not in this account")
		}
	}
	return Result{}, fmt.Errorf("%w: %s checked in %d accounts", ErrReservationNotFound, b.PNR, len(states))
}

func (e *Engine) tryAccount(ctx context.Context, b *booking.Booking, st *session.State, log zerolog.Logger) (Result, bool, error) {
	br, err := e.launcher.Launch(ctx, st)
	if err != nil {
		return Result{}, false, err
	}
	defer br.Close()

	page, err := br.NewPage(ctx)
	if err != nil {
		return Result{}, false, err
	}
	defer page.Close()

	var found bool
	err = diag.Track(e.sink, b.ID, "cancel.lookup", func() error {
		var err error
		found, err = e.locate(ctx, page, b.PNR, log)
		return err
	})
	if err != nil || !found {
		return Result{}, false, err
	}
	log.Info().Msg("reservation found")

	res := Result{Account: st.Name}
	err = diag.Track(e.sink, b.ID, "cancel.flow", func() error {
		return e.cancelOpen(ctx, page, log)
	})
	if err == nil {
		err = diag.Track(e.sink, b.ID, "cancel.verify", func() error {
			return e.verify(ctx, page, log)
		})
	}
	what := "cancel_success"
	if err != nil {
		what = "cancel_failed"
	}
	res.Screenshot = e.evidence(ctx, page, what, b, log)
	return res, true, err
}

// TripLinks lists trip detail links on a trips page, those whose card shows
// pnr first, resolved against base.
func TripLinks(html, base, pnr string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	baseURL, _ := url.Parse(base)
	want := compact(pnr)

	var matching, others []string
	seen := map[string]bool{}
	doc.Find(tripLinks).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" || strings.HasPrefix(href, "#") {
			return
		}
		if u, err := url.Parse(href); err == nil && baseURL != nil {
			href = baseURL.ResolveReference(u).String()
		}
		if seen[href] {
			return
		}
		seen[href] = true

		card := s.Closest(`[data-testid="trip-card"]`)
		if card.Length() == 0 {
			card = s
		}
		if strings.Contains(compact(card.Text()), want) || strings.Contains(href, want) {
			matching = append(matching, href)
		} else {
			others = append(others, href)
		}
	})
	return append(matching, others...), nil
}

func (e *Engine) showsReference(ctx context.Context, page browser.Page, pnr string) bool {
	text, err := page.Text(ctx)
	return err == nil && strings.Contains(compact(text), compact(pnr))
}

// locate opens the trips page and then trip details until one shows pnr.
func (e *Engine) locate(ctx context.Context, page browser.Page, pnr string, log zerolog.Logger) (bool, error) {
	if err := e.nav.Open(ctx, page, e.cfg.TripsURL); err != nil {
		return false, err
	}
	if err := e.h.Pause(ctx, humanize.Settle); err != nil {
		return false, err
	}
	if e.showsReference(ctx, page, pnr) && e.res.Present(ctx, page, cancelOptions) {
		return true, nil
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return false, err
	}
	current, _ := page.URL(ctx)
	links, err := TripLinks(html, current, pnr)
	if err != nil {
		return false, err
	}
	if len(links) == 0 {
		return false, nil
	}
	if len(links) > e.MaxTrips {
		links = links[:e.MaxTrips]
	}

	for _, link := range links {
		if err := e.nav.Open(ctx, page, link); err != nil {
			log.Debug().Err(err).Str("trip", link).Msg("trip page not opened")
			continue
		}
		_ = e.h.Pause(ctx, humanize.Step)
		_ = page.Press(ctx, "Escape")
		e.nav.DismissPopups(ctx, page)
		if e.showsReference(ctx, page, pnr) {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) click(ctx context.Context, page browser.Page, t selector.Target) error {
	m, err := e.res.Locate(ctx, page, t)
	if err != nil {
		return err
	}
	if err := e.h.Click(ctx, page, m.Element); err != nil {
		return fmt.Errorf("click %s: %w", t.Name, err)
	}
	return e.h.Pause(ctx, humanize.Step)
}

// cancelOpen walks the cancellation dialog: options, reason, continue and
// the final confirmation.
func (e *Engine) cancelOpen(ctx context.Context, page browser.Page, log zerolog.Logger) error {
	if err := e.click(ctx, page, cancelOptions); err != nil {
		return err
	}

	if e.res.Present(ctx, page, reasonSelect) {
		if m, err := e.res.Locate(ctx, page, reasonSelect); err == nil {
			if err := m.Element.Select(ctx, reasons...); err != nil {
				log.Debug().Err(err).Msg("no known cancellation reason offered")
			}
		}
	} else if e.res.Present(ctx, page, reasonRadio) {
		if m, err := e.res.Locate(ctx, page, reasonRadio); err == nil {
			_ = e.h.Click(ctx, page, m.Element)
		}
	}

	if e.res.Present(ctx, page, continueStep) {
		if err := e.click(ctx, page, continueStep); err != nil {
			return err
		}
	}
	if err := e.h.Pause(ctx, humanize.Think); err != nil {
		return err
	}
	log.Warn().Msg("confirming cancellation")
	return e.click(ctx, page, confirmCancel)
}

func (e *Engine) succeeded(ctx context.Context, page browser.Page) bool {
	if text, err := page.Text(ctx); err == nil && lexicon.Contains(text, e.lex.CancelSuccess) {
		return true
	}
	if u, err := page.URL(ctx); err == nil {
		for _, marker := range e.lex.CancelSuccessURLs {
			if strings.Contains(u, marker) {
				return true
			}
		}
	}
	return false
}

// verify requires an explicit success phrase or confirmation URL. A page
// without one is an error even when no confirm prompt remains.
func (e *Engine) verify(ctx context.Context, page browser.Page, log zerolog.Logger) error {
	deadline := time.Now().Add(e.ResultWait)
	for {
		if e.succeeded(ctx, page) {
			return nil
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.Poll):
		}
	}
	text, _ := page.Text(ctx)
	if phrase, ok := lexicon.Find(text, e.lex.CancelPrompts); ok {
		return fmt.Errorf("%w: page still asks %q", ErrInconclusive, phrase)
	}
	log.Warn().Msg("no cancellation marker and no confirm prompt left")
	return ErrInconclusive
}

func (e *Engine) evidence(ctx context.Context, page browser.Page, what string, b *booking.Booking, log zerolog.Logger) string {
	if e.paths.Screenshots == "" {
		return ""
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	path := filepath.Join(e.paths.Screenshots, fmt.Sprintf("%s_%s_%s.png", what, b.PNR, uuid.NewString()[:8]))
	if err := page.Screenshot(sctx, path); err != nil {
		log.Warn().Err(err).Msg("screenshot failed")
		return ""
	}
	e.sink.Emit(diag.Record{BookingID: b.ID, Step: "cancel." + what, Outcome: diag.OutcomeInfo, Screenshot: path})
	return path
}
