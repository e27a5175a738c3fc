// Package selection picks the offer to book from a results listing: a cheap
// price-band filter first, then a look at each surviving offer's detail page
// for payment terms the booking cannot accept.
package selection

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"travelbot/internal/booking"
	"travelbot/internal/diag"
	"travelbot/internal/lexicon"
	"travelbot/internal/money"
)

var ErrNoAdmissible = errors.New("no admissible offer within the price band")

// Inspector opens an offer's detail view and returns its visible text.
type Inspector func(ctx context.Context, o Offer) (string, error)

type Engine struct {
	lex  *lexicon.Lexicon
	sink diag.Sink
	log  zerolog.Logger
}

func New(lex *lexicon.Lexicon, sink diag.Sink, log zerolog.Logger) *Engine {
	return &Engine{
		lex:  lex,
		sink: sink,
		log:  log.With().Str("component", "selection").Logger(),
	}
}

// Prefilter splits offers into those whose per-night price lies inside band
// and the rest, keeping listing order. Unpriced offers are rejected.
func Prefilter(offers []Offer, band money.Band) (kept, rejected []Offer) {
	for _, o := range offers {
		if o.Priced && band.Contains(o.PerNight) {
			kept = append(kept, o)
		} else {
			rejected = append(rejected, o)
		}
	}
	return kept, rejected
}

// Choose commits to the first offer, in listing order, that is inside band
// and whose detail text does not demand online prepayment.
func (e *Engine) Choose(ctx context.Context, bookingID string, offers []Offer, band money.Band, inspect Inspector) (Offer, error) {
	log := e.log.With().Str("booking_id", bookingID).Logger()
	if len(offers) == 0 {
		return Offer{}, booking.Transient("select", errors.New("results listing has no readable offers"))
	}

	kept, rejected := Prefilter(offers, band)
	for _, o := range rejected {
		log.Debug().Stringer("offer", o).Bool("priced", o.Priced).Msg("outside price band")
	}
	e.sink.Emit(diag.Record{
		BookingID: bookingID,
		Step:      "select.prefilter",
		Outcome:   diag.OutcomeInfo,
		Detail:    fmt.Sprintf("%d of %d offers within %s-%s", len(kept), len(offers), band.Min, band.Max),
	})

	var inspectErr error
	for _, o := range kept {
		if err := ctx.Err(); err != nil {
			return Offer{}, err
		}
		var phrase string
		var bad bool
		err := diag.Track(e.sink, bookingID, "select.inspect", func() error {
			text, err := inspect(ctx, o)
			if err != nil {
				return err
			}
			phrase, bad = e.lex.RequiresPrepayment(text)
			return nil
		})
		if err != nil {
			log.Warn().Err(err).Stringer("offer", o).Msg("could not inspect offer")
			inspectErr = err
			continue
		}
		if bad {
			log.Info().Stringer("offer", o).Str("phrase", phrase).Msg("offer requires online prepayment")
			continue
		}
		log.Info().Stringer("offer", o).Msg("offer selected")
		return o, nil
	}

	if inspectErr != nil {
		return Offer{}, booking.Transient("select", fmt.Errorf("inspect offers: %w", inspectErr))
	}
	return Offer{}, booking.Policy("select", ErrNoAdmissible)
}
