package engine

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"travelbot/internal/booking"
	"travelbot/internal/checkout"
	"travelbot/internal/search"
)

type Flight struct {
	deps   *Deps
	search FlightSearcher
	log    zerolog.Logger
}

func NewFlight(deps *Deps, s FlightSearcher, log zerolog.Logger) *Flight {
	return &Flight{
		deps:   deps,
		search: s,
		log:    log.With().Str("component", "flight_engine").Logger(),
	}
}

// Book searches the route and holds the cheapest economy fare with the
// airline's pay-later option.
func (e *Flight) Book(ctx context.Context, b *booking.Booking) (checkout.Receipt, error) {
	log := e.log.With().Str("booking_id", b.ID).Logger()
	if b.FlightDate == nil {
		return checkout.Receipt{}, booking.MissingData("search", errors.New("flight booking has no departure date"))
	}

	page, done, err := e.deps.open(ctx, log)
	if err != nil {
		return checkout.Receipt{}, err
	}
	defer done()

	adults := b.Adults
	if adults < 1 {
		adults = 1
	}
	err = e.search.Search(ctx, page, search.FlightQuery{
		BookingID: b.ID,
		From:      b.DepartureAirport,
		To:        b.ArrivalAirport,
		Depart:    *b.FlightDate,
		Return:    b.ReturnDate,
		Adults:    adults,
		Children:  b.Children,
		Infants:   b.Infants,
	})
	if err != nil {
		return checkout.Receipt{}, err
	}
	if err := e.deps.guard(ctx, page, "search", "search", log); err != nil {
		return checkout.Receipt{}, err
	}
	log.Info().Bool("round_trip", b.ReturnDate != nil).Msg("fares listed")
	return e.deps.Checkout.RunFlight(ctx, page, b)
}
