// Package engine runs one booking end to end in a fresh browser: session
// choice, search, offer selection and checkout.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"travelbot/internal/booking"
	"travelbot/internal/browser"
	"travelbot/internal/challenge"
	"travelbot/internal/checkout"
	"travelbot/internal/humanize"
	"travelbot/internal/search"
	"travelbot/internal/session"
)

// Booker books one reservation and reports what the provider returned.
type Booker interface {
	Book(ctx context.Context, b *booking.Booking) (checkout.Receipt, error)
}

type HotelSearcher interface {
	Search(ctx context.Context, page browser.Page, q search.HotelQuery) (string, error)
}

type FlightSearcher interface {
	Search(ctx context.Context, page browser.Page, q search.FlightQuery) error
}

// Checkout is the part of checkout.Machine the engines drive.
type Checkout interface {
	Run(ctx context.Context, page browser.Page, b *booking.Booking) (checkout.Receipt, error)
	RunFlight(ctx context.Context, page browser.Page, b *booking.Booking) (checkout.Receipt, error)
}

// Deps are the collaborators every provider flow shares. A nil Sessions
// books anonymously.
type Deps struct {
	Sessions session.Provider
	Launcher browser.Launcher
	Nav      *search.Navigator
	Human    humanize.Humanizer
	Checkout Checkout
	Solver   challenge.Solver

	mu  sync.Mutex
	rng *rand.Rand
}

func (d *Deps) pick() (*session.State, error) {
	if d.Sessions == nil {
		return nil, session.ErrNoSessions
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rng == nil {
		d.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return d.Sessions.PickForPurchase(d.rng)
}

// open launches a browser presenting a purchase session and returns a page
// in it. done closes both.
func (d *Deps) open(ctx context.Context, log zerolog.Logger) (page browser.Page, done func(), err error) {
	st, err := d.pick()
	switch {
	case errors.Is(err, session.ErrNoSessions):
		log.Warn().Msg("no saved sessions, continuing without one")
		st = nil
	case err != nil:
		return nil, nil, booking.Transient("launch", err)
	default:
		log.Info().Str("session", st.Name).Msg("session picked")
	}

	br, err := d.Launcher.Launch(ctx, st)
	if err != nil {
		return nil, nil, booking.Transient("launch", err)
	}
	page, err = br.NewPage(ctx)
	if err != nil {
		_ = br.Close()
		return nil, nil, booking.Transient("launch", err)
	}
	return page, func() {
		_ = page.Close()
		_ = br.Close()
	}, nil
}

// guard stops the run when a bot challenge blocks the page and the solver
// cannot clear it.
func (d *Deps) guard(ctx context.Context, page browser.Page, step, action string, log zerolog.Logger) error {
	if !challenge.Detect(ctx, page) {
		return nil
	}
	log.Warn().Str("step", step).Msg("bot challenge shown")
	solver := d.Solver
	if solver == nil {
		solver = challenge.None{}
	}
	solved, err := solver.Solve(ctx, page, action)
	if err == nil && solved {
		_ = d.Human.Pause(ctx, humanize.Settle)
		if !challenge.Detect(ctx, page) {
			log.Info().Str("step", step).Msg("challenge cleared")
			return nil
		}
	}
	if err == nil {
		err = challenge.ErrUnsolved
	}
	return booking.Transient(step, err)
}

// Router sends each booking to the engine for its service type.
type Router struct {
	Hotel  Booker
	Flight Booker
}

func (r Router) Book(ctx context.Context, b *booking.Booking) (checkout.Receipt, error) {
	var e Booker
	switch b.Service {
	case booking.Hotel:
		e = r.Hotel
	case booking.Flight:
		e = r.Flight
	}
	if e == nil {
		return checkout.Receipt{}, booking.Policy("route", fmt.Errorf("no engine for service type %q", b.Service))
	}
	return e.Book(ctx, b)
}
