package checkout

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"travelbot/internal/booking"
	"travelbot/internal/browser"
	"travelbot/internal/challenge"
	"travelbot/internal/dates"
	"travelbot/internal/humanize"
	"travelbot/internal/money"
	"travelbot/internal/selector"
)

var flightCode = regexp.MustCompile(`\b([A-Z]{2}|[A-Z]\d|\d[A-Z])\s?(\d{3,4})\b`)

var (
	outboundFare = selector.NewTarget("outbound fare",
		selector.CSS(`.offer-info-block.cabin-name-ECONOMY`),
		selector.CSS(`.offer-info-block`),
	)
	returnFare = selector.NewTarget("return fare",
		selector.CSS(`#journeySection-1 .offer-info-block.cabin-name-ECONOMY`),
		selector.CSS(`#journeySection-1 .offer-info-block`),
	)
	lightPackage = selector.NewTarget("travel light package",
		selector.Near(`travel light`, `button`),
		selector.CSS(`.cabin-selection-button`),
	)
	fareContinue      = selector.NewTarget("fare continue", selector.CSS(`#continueButton`))
	passengerContinue = selector.NewTarget("passenger continue", selector.CSS(`.js-passenger-continue-button`))
	contactFields     = selector.NewTarget("contact form", selector.CSS(`input[type="email"]`), selector.CSS(`input[type="tel"]`))
	contactPerson     = selector.NewTarget("contact person", selector.CSS(`label[for="passenger_form_validate__contact_person_0"]`))
	dropdownSearch    = selector.NewTarget("dropdown search", selector.CSS(`.bs-searchbox input`))

	secondLeg       = selector.NewTarget("second flight", selector.Text(`button`, `flight 2|vol 2`))
	servicesForward = selector.NewTarget("services continue",
		selector.Text(`button`, `^\s*continue\s*$`),
		selector.CSS(`.ssr-bottom-button, .continue-btn`),
	)

	payLaterPanel  = selector.NewTarget("pay later", selector.CSS(`#payLater-panel`))
	payLaterBox    = selector.NewTarget("pay later box", selector.CSS(`#payLater-panel .icheckbox`))
	payLaterChoice = selector.NewTarget("pay later option", selector.CSS(`#payLater-panel label.form-check-label`))
	payLaterSubmit = selector.NewTarget("pay later submit",
		selector.CSS(`#payLater-panel form[action*="payLater"] input[type="submit"]`),
		selector.CSS(`#payLater-panel input[value="Pay later"]`),
	)
)

func passengerField(i int, field, name string) selector.Target {
	return selector.NewTarget(fmt.Sprintf("passenger %d %s", i+1, name),
		selector.CSS(fmt.Sprintf("#passenger_form_validate__%s_%d", field, i)))
}

func passengerDropdown(i int, field string) selector.Target {
	return selector.NewTarget(fmt.Sprintf("passenger %d %s", i+1, field),
		selector.CSS(fmt.Sprintf(`button[data-id="passenger_form_validate__%s_%d"]`, field, i)))
}

var flightSequence = sequence{
	phases: []phase{
		{ItemSelected, "checkout.fares", (*run).fares},
		{DetailsEntry, "checkout.passengers", (*run).passengers},
		{DetailsEntry, "checkout.services", (*run).services},
		{PaymentEntry, "checkout.pay_later", (*run).payLater},
		{PaymentEntry, "checkout.submit", (*run).submitPayLater},
		{PurchaseSubmitted, "checkout.reference", (*run).reference},
	},
	profile: FlightProfile,
}

// RunFlight takes the fare list open on page through the airline's booking
// funnel for b and holds the seats with the pay-later option.
func (m *Machine) RunFlight(ctx context.Context, page browser.Page, b *booking.Booking) (Receipt, error) {
	return m.start(ctx, page, b, flightSequence)
}

// FlightNumber finds a flight designator such as "BJ 514" in text.
func FlightNumber(text string) string {
	m := flightCode.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1] + m[2]
}

func (r *run) click(ctx context.Context, t selector.Target) error {
	m, err := r.m.res.Locate(ctx, r.page, t)
	if err != nil {
		return err
	}
	if err := r.m.h.Click(ctx, r.page, m.Element); err != nil {
		return fmt.Errorf("click %s: %w", t.Name, err)
	}
	return r.m.h.Pause(ctx, humanize.Step)
}

func (r *run) shows(t selector.Target) func(context.Context) bool {
	return func(ctx context.Context) bool { return r.m.res.Present(ctx, r.page, t) }
}

func (r *run) fares(ctx context.Context) error {
	m, err := r.m.res.Locate(ctx, r.page, outboundFare)
	if err != nil {
		return err
	}
	if text, err := m.Element.Text(ctx); err == nil {
		r.receipt.FlightNumber = FlightNumber(text)
	}
	if err := r.m.h.Click(ctx, r.page, m.Element); err != nil {
		return fmt.Errorf("click %s: %w", outboundFare.Name, err)
	}
	if err := r.m.h.Pause(ctx, humanize.Settle); err != nil {
		return err
	}
	if err := r.click(ctx, lightPackage); err != nil {
		return err
	}

	if r.b.ReturnDate != nil {
		_ = r.page.Scroll(ctx, 2000)
		if err := r.click(ctx, returnFare); err != nil {
			return err
		}
		if err := r.click(ctx, lightPackage); err != nil {
			return err
		}
	}

	if r.m.res.Present(ctx, r.page, fareContinue) {
		if err := r.click(ctx, fareContinue); err != nil {
			return err
		}
	} else {
		r.log.Warn().Msg("fare continue button not shown")
	}
	if !r.waitFor(ctx, r.m.DetailsWait, r.shows(passengerField(0, "name", "first name"))) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return errors.New("passenger form not reached after fare selection")
	}
	return nil
}

func title(p booking.Passenger) string {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(p.Title)), ".") {
	case "mrs", "ms", "miss", "mme":
		return "Mrs"
	}
	return "Mr"
}

// choose opens a searchable dropdown with btn and picks value from it.
func (r *run) choose(ctx context.Context, btn browser.Element, value string) error {
	if err := r.m.h.Click(ctx, r.page, btn); err != nil {
		return err
	}
	_ = r.m.h.Pause(ctx, humanize.Short)
	m, err := r.m.res.Locate(ctx, r.page, dropdownSearch)
	if err != nil {
		return err
	}
	if err := humanize.Fill(ctx, r.m.h, m.Element, value); err != nil {
		return err
	}
	return r.page.Press(ctx, "Enter")
}

func (r *run) passenger(ctx context.Context, i int, p booking.Passenger) error {
	first, last := booking.SplitName(p.Name)

	if el, ok := r.optional(ctx, passengerDropdown(i, "title")); ok {
		t := title(p)
		if err := r.m.h.Click(ctx, r.page, el); err == nil {
			_ = r.m.h.Pause(ctx, humanize.Short)
			option := selector.NewTarget("title "+t, selector.Text(`li a`, fmt.Sprintf(`^\s*%s\.?\s*$`, t)))
			if el, ok := r.optional(ctx, option); ok {
				_ = r.m.h.Click(ctx, r.page, el)
			}
		}
	}
	if err := r.fill(ctx, passengerField(i, "name", "first name"), first); err != nil {
		return err
	}
	if err := r.fill(ctx, passengerField(i, "surname", "last name"), last); err != nil {
		return err
	}

	if nat := nonEmpty(p.Nationality, r.b.Country); len(nat) > 0 {
		if el, ok := r.optional(ctx, passengerDropdown(i, "nationality")); ok {
			if err := r.choose(ctx, el, nat[0]); err != nil {
				r.log.Warn().Err(err).Int("passenger", i+1).Msg("nationality not selected")
			}
		}
	}

	if el, ok := r.optional(ctx, passengerField(i, "birthdate", "date of birth")); ok {
		if p.DOB == nil {
			return booking.MissingData("details", fmt.Errorf("%w: passenger %d", ErrMissingDOB, i+1))
		}
		if !r.typeDOB(ctx, el, *p.DOB) {
			return fmt.Errorf("passenger %d date of birth %s was not accepted", i+1, p.DOB.Format(dates.ISO))
		}
	}
	if p.Passport != "" {
		if el, ok := r.optional(ctx, passengerField(i, "passport", "passport")); ok {
			if err := r.typeInto(ctx, el, "passport", p.Passport); err != nil {
				return err
			}
		}
	}

	if i == 0 {
		if el, ok := r.optional(ctx, contactPerson); ok {
			_ = r.m.h.Click(ctx, r.page, el)
		}
	}
	r.log.Info().Int("passenger", i+1).Msg("passenger identity filled")
	return nil
}

// passengers fills one identity form per traveller, moving between them
// with the "Adult N" buttons, then the contact form.
func (r *run) passengers(ctx context.Context) error {
	travellers := r.b.Travellers()
	for i, p := range travellers {
		if err := r.passenger(ctx, i, p); err != nil {
			return err
		}
		_ = r.m.h.Wander(ctx, r.page)
		if i == len(travellers)-1 {
			break
		}
		next := selector.NewTarget(fmt.Sprintf("adult %d", i+2),
			selector.Text(`a.js-passenger-continue-button`, fmt.Sprintf(`adult\s*%d`, i+2)),
			selector.CSS(`.js-passenger-continue-button`),
		)
		if err := r.click(ctx, next); err != nil {
			return err
		}
		if !r.waitFor(ctx, r.m.AdvanceWait, r.shows(passengerField(i+1, "name", "first name"))) {
			return fmt.Errorf("%w: passenger %d form not shown", ErrNotAdvanced, i+2)
		}
	}

	if err := r.click(ctx, passengerContinue); err != nil {
		return err
	}
	if !r.waitFor(ctx, r.m.AdvanceWait, r.shows(contactFields)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: contact form not shown", ErrNotAdvanced)
	}
	return r.contact(ctx)
}

func lastVisible(ctx context.Context, els []browser.Element) browser.Element {
	for i := len(els) - 1; i >= 0; i-- {
		if ok, _ := els[i].Visible(ctx); ok {
			return els[i]
		}
	}
	return nil
}

// contact fills the contact stage and clicks through the challenge-guarded
// continue button.
func (r *run) contact(ctx context.Context) error {
	code := ResolveCountry(r.b.Country, r.b.Phone, r.b.Destination)
	if r.b.Phone != "" {
		local := LocalNumber(r.b.Phone, DialCode(code))
		tels, _ := r.page.Elements(ctx, `input[type="tel"]`)
		for _, el := range tels {
			if err := r.typeInto(ctx, el, phone.Name, local); err != nil {
				r.log.Warn().Err(err).Msg("phone not filled")
			}
		}
	}
	if err := r.fill(ctx, email, r.b.Email); err != nil {
		return err
	}

	btns, _ := r.page.Elements(ctx, `.bootstrap-select > button`)
	if btn := lastVisible(ctx, btns); btn != nil {
		if text, _ := btn.Text(ctx); strings.Contains(text, "Select") {
			if name := nonEmpty(r.b.Country, code); len(name) > 0 {
				if err := r.choose(ctx, btn, name[0]); err != nil {
					r.log.Warn().Err(err).Msg("contact country not selected")
				}
			}
		}
	}

	_ = r.m.h.Wander(ctx, r.page)
	_ = r.page.Scroll(ctx, -200)
	if err := r.m.h.Pause(ctx, humanize.Step); err != nil {
		return err
	}
	solved, err := r.m.Solver.Solve(ctx, r.page, "passenger_continue")
	switch {
	case err != nil:
		r.log.Warn().Err(err).Msg("challenge token unavailable, continuing without it")
	case solved:
		r.log.Info().Msg("challenge token injected")
	}

	els, _ := r.page.Elements(ctx, passengerContinue.Strategies[0].CSS)
	btn := lastVisible(ctx, els)
	if btn == nil {
		return fmt.Errorf("%w: %s", selector.ErrNotFound, passengerContinue.Name)
	}
	if err := r.m.h.Pause(ctx, humanize.Think); err != nil {
		return err
	}
	if err := r.m.h.Click(ctx, r.page, btn); err != nil {
		return fmt.Errorf("click %s: %w", passengerContinue.Name, err)
	}
	if err := r.m.h.Pause(ctx, humanize.Settle); err != nil {
		return err
	}
	if challenge.Detect(ctx, r.page) {
		return booking.Transient("details", challenge.ErrUnsolved)
	}
	return nil
}

// services declines seats, baggage and extras, one tab at a time.
func (r *run) services(ctx context.Context) error {
	for _, tab := range []string{"seats", "baggage", "other services"} {
		if r.m.res.Present(ctx, r.page, payLaterPanel) {
			return nil
		}
		if err := r.m.h.Pause(ctx, humanize.Step); err != nil {
			return err
		}
		for _, css := range r.m.lex.Popups {
			if el, err := r.page.Element(ctx, css); err == nil {
				_ = el.Click(ctx)
			}
		}
		if r.m.res.Present(ctx, r.page, secondLeg) {
			if err := r.click(ctx, secondLeg); err != nil {
				r.log.Debug().Err(err).Str("tab", tab).Msg("second flight not opened")
			}
		}
		if !r.m.res.Present(ctx, r.page, servicesForward) {
			r.log.Debug().Str("tab", tab).Msg("no continue button, tab moved on by itself")
			continue
		}
		if err := r.click(ctx, servicesForward); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) flightTotal(ctx context.Context) money.Cents {
	f := money.FormatFrom(r.m.opts.Provider.PriceFormat)
	if el, err := r.page.Element(ctx, `.total-amount-basket-detail[data-price-value]`); err == nil {
		if v, _ := el.Attribute(ctx, "data-price-value"); v != "" {
			if c, err := f.Parse(v); err == nil {
				return c
			}
		}
	}
	if el, err := r.page.Element(ctx, `h3.full-price-total, .full-price-total`); err == nil {
		if t, _ := el.Text(ctx); t != "" {
			if c, err := f.Parse(t); err == nil {
				return c
			}
		}
	}
	r.log.Warn().Msg("total price not found on payment page")
	return 0
}

// payLater picks the hold-without-payment option. Nothing is committed
// until submitPayLater.
func (r *run) payLater(ctx context.Context) error {
	if !r.waitFor(ctx, r.m.PaymentWait, r.shows(payLaterPanel)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return booking.Transient("payment", errors.New("pay later option not offered"))
	}
	r.receipt.Price = r.flightTotal(ctx)

	checked := false
	if el, ok := r.optional(ctx, payLaterBox); ok {
		class, _ := el.Attribute(ctx, "class")
		checked = strings.Contains(class, "checked")
	}
	if !checked {
		if err := r.click(ctx, payLaterChoice); err != nil {
			return booking.Transient("payment", err)
		}
	}
	if !r.waitFor(ctx, r.m.AdvanceWait, r.shows(payLaterSubmit)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return booking.Transient("payment", errors.New("pay later submit control did not appear"))
	}
	return nil
}

func (r *run) submitPayLater(ctx context.Context) error {
	return r.commit(ctx, payLaterSubmit)
}
