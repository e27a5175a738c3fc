package checkout

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"travelbot/internal/booking"
	"travelbot/internal/browser"
	"travelbot/internal/humanize"
	"travelbot/internal/lexicon"
	"travelbot/internal/selector"
)

// Card fields hosted in per-field frames are told apart by the frame's name
// or URL.
var frameHints = map[string]*regexp.Regexp{
	"number": regexp.MustCompile(`(?i)card.?number|encryptedcardnumber`),
	"holder": regexp.MustCompile(`(?i)holder|name.?on.?card`),
	"expiry": regexp.MustCompile(`(?i)expir`),
	"cvc":    regexp.MustCompile(`(?i)cvc|cvv|security.?code`),
}

func (r *run) payment(ctx context.Context) error {
	if !r.waitFor(ctx, r.m.PaymentWait, r.onPayment) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return errors.New("payment form not shown")
	}
	if err := r.m.h.Pause(ctx, humanize.Step); err != nil {
		return err
	}
	if phrase, ok := lexicon.Find(r.text(ctx), r.m.lex.PaymentIssues); ok {
		return fmt.Errorf("payment page reports %q", phrase)
	}

	if err := r.fillCard(ctx); err != nil {
		return err
	}
	r.consent(ctx)

	problems := r.missing(ctx)
	if len(problems) == 0 {
		return nil
	}
	r.log.Warn().Strs("problems", problems).Msg("payment form incomplete, filling billing details")
	r.fillBilling(ctx)
	r.consent(ctx)
	if problems := r.missing(ctx); len(problems) > 0 {
		return fmt.Errorf("payment form still incomplete: %s", summary(problems))
	}
	return nil
}

// missing reports validation complaints still showing on the payment form.
func (r *run) missing(ctx context.Context) []string {
	problems := r.invalidFields(ctx)
	if els, err := r.page.Elements(ctx, `[aria-invalid="true"]`); err == nil && len(els) > 0 && len(problems) == 0 {
		problems = append(problems, fmt.Sprintf("%d fields marked invalid", len(els)))
	}
	return problems
}

// cardField finds a card input on the page or in a payment frame, falling
// back to the frame whose name or URL hints at the field's purpose.
func (r *run) cardField(ctx context.Context, t selector.Target, purpose string) (browser.Element, error) {
	if m, err := r.m.res.Locate(ctx, r.page, t); err == nil {
		return m.Element, nil
	}
	frames, err := r.page.Frames(ctx)
	if err != nil {
		return nil, err
	}
	hint := frameHints[purpose]
	for _, f := range frames {
		if hint == nil || !hint.MatchString(f.Name()+" "+f.URL()) {
			continue
		}
		if el, err := f.Element(ctx, `input:not([type="hidden"])`); err == nil {
			r.log.Debug().Str("field", purpose).Str("frame", f.URL()).Msg("card field found by frame hint")
			return el, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", selector.ErrNotFound, t.Name)
}

func (r *run) fillCard(ctx context.Context) error {
	number, err := r.cardField(ctx, cardNumber, "number")
	if err != nil {
		if phrase, ok := lexicon.Find(r.text(ctx), r.m.lex.Prepayment.Safe); ok {
			r.log.Info().Str("marker", phrase).Msg("no card form on payment page, paid at the property")
			return nil
		}
		r.log.Warn().Msg("no card form on payment page")
		if r.m.opts.ClickFinal {
			return booking.Transient(r.state.step(), fmt.Errorf("no card form on payment page: %w", err))
		}
		return nil
	}
	card := r.m.opts.Card
	if !card.Complete() {
		if r.m.opts.ClickFinal {
			return errors.New("card details are not configured")
		}
		r.log.Warn().Msg("card details not configured, leaving payment form empty")
		return nil
	}

	if err := r.typeInto(ctx, number, cardNumber.Name, card.Number); err != nil {
		return err
	}
	if holder, err := r.cardField(ctx, cardHolder, "holder"); err == nil {
		if err := r.typeInto(ctx, holder, cardHolder.Name, card.Holder); err != nil {
			return err
		}
	}

	if expiry, err := r.cardField(ctx, cardExpiry, "expiry"); err == nil {
		if err := r.typeInto(ctx, expiry, cardExpiry.Name, card.Expiry()); err != nil {
			return err
		}
	} else {
		month, okM := r.optional(ctx, cardMonth)
		year, okY := r.optional(ctx, cardYear)
		if !okM || !okY {
			return err
		}
		mm := card.Expiry()[:2]
		if err := month.Select(ctx, mm, card.ExpMonth); err != nil {
			return fmt.Errorf("expiry month: %w", err)
		}
		if err := year.Select(ctx, card.ExpYear, "20"+card.Expiry()[3:]); err != nil {
			return fmt.Errorf("expiry year: %w", err)
		}
	}

	cvc, err := r.cardField(ctx, cardCVC, "cvc")
	if err != nil {
		return err
	}
	if err := r.typeInto(ctx, cvc, cardCVC.Name, card.CVC); err != nil {
		return err
	}
	r.log.Info().Msg("card details entered")
	return nil
}

// consent ticks required agreement boxes that are still unticked.
func (r *run) consent(ctx context.Context) {
	boxes, _ := r.page.Elements(ctx, `input[type="checkbox"][required]`)
	if el, ok := r.optional(ctx, consentBox); ok {
		boxes = append(boxes, el)
	}
	for _, el := range boxes {
		if checked, _ := el.Checked(ctx); checked {
			continue
		}
		if err := r.m.h.Click(ctx, r.page, el); err != nil {
			r.log.Debug().Err(err).Msg("consent box not ticked")
		}
	}
}

func (r *run) fillBilling(ctx context.Context) {
	b := r.m.opts.Billing
	fields := []struct {
		t     selector.Target
		value string
	}{
		{billingAddress, b.Address},
		{billingCity, b.City},
		{billingState, b.State},
		{billingPostal, b.Postal},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		m, err := r.m.res.Expand(ctx, r.page, f.t, showFields)
		if err != nil {
			r.log.Debug().Err(err).Str("field", f.t.Name).Msg("billing field not found")
			continue
		}
		if v, _ := m.Element.Value(ctx); v != "" {
			continue
		}
		if err := r.typeInto(ctx, m.Element, f.t.Name, f.value); err != nil {
			r.log.Warn().Err(err).Str("field", f.t.Name).Msg("billing field not filled")
		}
	}
	if code := CountryFromName(b.Country); code != "" {
		if el, ok := r.optional(ctx, billingCountry); ok {
			_ = el.Select(ctx, nonEmpty(code, b.Country)...)
		}
	}
}

func (r *run) submit(ctx context.Context) error {
	return r.commit(ctx, finalButton)
}

// commit makes the one click that commits the purchase. The state moves to
// PurchaseSubmitted before the click so that any failure from here on is
// treated as a possible charge.
func (r *run) commit(ctx context.Context, t selector.Target) error {
	if !r.m.opts.ClickFinal {
		r.receipt.Screenshot = r.evidence(ctx, "ready_to_submit")
		r.log.Warn().Msg("final purchase click disabled, stopping before submit")
		return booking.Stopped("submit", ErrFinalClickDisabled)
	}
	m, err := r.m.res.Locate(ctx, r.page, t)
	if err != nil {
		return err
	}
	if err := r.m.h.Pause(ctx, humanize.Think); err != nil {
		return err
	}
	r.state = PurchaseSubmitted
	r.log.Warn().Str("control", t.Name).Msg("clicking final purchase control")
	if err := r.m.h.Click(ctx, r.page, m.Element); err != nil {
		return fmt.Errorf("click %s: %w", t.Name, err)
	}
	return r.m.h.Pause(ctx, humanize.Settle)
}
