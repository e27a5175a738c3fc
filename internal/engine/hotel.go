package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"travelbot/internal/booking"
	"travelbot/internal/browser"
	"travelbot/internal/checkout"
	"travelbot/internal/config"
	"travelbot/internal/dates"
	"travelbot/internal/humanize"
	"travelbot/internal/money"
	"travelbot/internal/search"
	"travelbot/internal/selection"
)

type Hotel struct {
	cfg    config.ProviderConfig
	deps   *Deps
	search HotelSearcher
	choose *selection.Engine
	log    zerolog.Logger
}

func NewHotel(cfg config.ProviderConfig, deps *Deps, s HotelSearcher, choose *selection.Engine, log zerolog.Logger) *Hotel {
	return &Hotel{
		cfg:    cfg,
		deps:   deps,
		search: s,
		choose: choose,
		log:    log.With().Str("component", "hotel_engine").Logger(),
	}
}

// Book searches the stay, picks the first admissible offer and checks it
// out. The receipt carries the chosen property even when checkout fails.
func (e *Hotel) Book(ctx context.Context, b *booking.Booking) (checkout.Receipt, error) {
	log := e.log.With().Str("booking_id", b.ID).Logger()
	if b.CheckIn == nil || b.CheckOut == nil {
		return checkout.Receipt{}, booking.MissingData("search", errors.New("hotel booking has no stay dates"))
	}

	page, done, err := e.deps.open(ctx, log)
	if err != nil {
		return checkout.Receipt{}, err
	}
	defer done()

	resultsURL, err := e.search.Search(ctx, page, search.HotelQuery{
		BookingID:   b.ID,
		Destination: b.Destination,
		CheckIn:     *b.CheckIn,
		CheckOut:    *b.CheckOut,
		Adults:      b.Guests(),
	})
	if err != nil {
		return checkout.Receipt{}, err
	}
	if err := e.deps.guard(ctx, page, "search", "search", log); err != nil {
		return checkout.Receipt{}, err
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return checkout.Receipt{}, booking.Transient("select", err)
	}
	offers, err := selection.ParseListing(html, resultsURL, money.FormatFrom(e.cfg.PriceFormat), b.Nights())
	if err != nil {
		return checkout.Receipt{}, booking.Transient("select", err)
	}
	log.Info().Int("offers", len(offers)).Int("nights", b.Nights()).Msg("listing parsed")

	texts := map[int]string{}
	chosen, err := e.choose.Choose(ctx, b.ID, offers, b.Band(), func(ctx context.Context, o selection.Offer) (string, error) {
		return e.inspect(ctx, page, o, texts, log)
	})
	if err != nil {
		return checkout.Receipt{}, err
	}

	if cur, _ := page.URL(ctx); cur != chosen.URL {
		if err := e.deps.Nav.Open(ctx, page, chosen.URL); err != nil {
			return checkout.Receipt{}, booking.Transient("select", fmt.Errorf("reopen %s: %w", chosen.Name, err))
		}
	}

	receipt, err := e.deps.Checkout.Run(ctx, page, b)
	receipt.HotelName = chosen.Name
	receipt.Address = chosen.Address
	if receipt.Price == 0 {
		receipt.Price = chosen.Total
	}
	if receipt.Deadline == nil {
		if t, phrase, ok := dates.ParseDeadline(texts[chosen.Index]); ok {
			receipt.Deadline = &t
			log.Info().Str("deadline", phrase).Msg("free cancellation deadline from offer page")
		}
	}
	return receipt, err
}

func (e *Hotel) inspect(ctx context.Context, page browser.Page, o selection.Offer, texts map[int]string, log zerolog.Logger) (string, error) {
	if o.URL == "" {
		return "", errors.New("offer has no link")
	}
	if err := e.deps.Nav.Open(ctx, page, o.URL); err != nil {
		return "", err
	}
	if err := e.deps.Human.Pause(ctx, humanize.Settle); err != nil {
		return "", err
	}
	if err := e.deps.guard(ctx, page, "select", "offer", log); err != nil {
		return "", err
	}
	text, err := page.Text(ctx)
	if err != nil {
		return "", err
	}
	texts[o.Index] = text
	return text, nil
}
