// Package checkout drives a selected offer through the provider's checkout:
// guest details, payment, the final purchase click and the confirmation
// page. A run moves through the states in order and never retries a state;
// retrying a whole booking is the worker's decision.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"travelbot/internal/booking"
	"travelbot/internal/browser"
	"travelbot/internal/challenge"
	"travelbot/internal/config"
	"travelbot/internal/dates"
	"travelbot/internal/diag"
	"travelbot/internal/humanize"
	"travelbot/internal/lexicon"
	"travelbot/internal/money"
	"travelbot/internal/selector"
)

type State int

const (
	ItemSelected State = iota
	DetailsEntry
	PaymentEntry
	PurchaseSubmitted
	ReferenceExtracted
	Aborted
)

func (s State) String() string {
	switch s {
	case ItemSelected:
		return "item_selected"
	case DetailsEntry:
		return "details_entry"
	case PaymentEntry:
		return "payment_entry"
	case PurchaseSubmitted:
		return "purchase_submitted"
	case ReferenceExtracted:
		return "reference_extracted"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// step names the pipeline step a failure in state s is reported under.
func (s State) step() string {
	switch s {
	case ItemSelected:
		return "reserve"
	case DetailsEntry:
		return "details"
	case PaymentEntry:
		return "payment"
	}
	return "confirmation"
}

var (
	ErrMissingDOB         = errors.New("passenger date of birth is required")
	ErrReferenceNotFound  = errors.New("booking reference not found on confirmation page")
	ErrFinalClickDisabled = errors.New("final purchase click is disabled")
	ErrNotAdvanced        = errors.New("checkout step did not advance")
)

// Receipt is what a checkout run produced.
type Receipt struct {
	PNR          string
	Platform     string
	HotelName    string
	Address      string
	FlightNumber string
	Price        money.Cents
	Currency     string
	Deadline     *time.Time
	Screenshot   string
	PDF          string
	// Reached is the last state the run entered. A failed run stopped there.
	Reached State
}

func (r Receipt) Outcome() booking.Outcome {
	return booking.Outcome{
		PNR:            r.PNR,
		Platform:       r.Platform,
		HotelName:      r.HotelName,
		Address:        r.Address,
		FlightNumber:   r.FlightNumber,
		Price:          r.Price,
		Currency:       r.Currency,
		Deadline:       r.Deadline,
		PDFPath:        r.PDF,
		ScreenshotPath: r.Screenshot,
	}
}

type Options struct {
	Provider   config.ProviderConfig
	Card       config.CardConfig
	Billing    config.BillingConfig
	Paths      config.PathsConfig
	ClickFinal bool
}

// Machine runs hotel and flight checkouts.
type Machine struct {
	// Poll is the pause between page checks while waiting for a transition.
	Poll        time.Duration
	DetailsWait time.Duration
	AdvanceWait time.Duration
	PaymentWait time.Duration
	ConfirmWait time.Duration
	// Solver answers bot challenges guarding the flight passenger step.
	Solver challenge.Solver

	opts Options
	lex  *lexicon.Lexicon
	res  *selector.Resolver
	h    humanize.Humanizer
	sink diag.Sink
	log  zerolog.Logger
}

func secs(n, def int) time.Duration {
	if n <= 0 {
		n = def
	}
	return time.Duration(n) * time.Second
}

func New(opts Options, lex *lexicon.Lexicon, res *selector.Resolver, h humanize.Humanizer, sink diag.Sink, log zerolog.Logger) *Machine {
	return &Machine{
		Poll:        500 * time.Millisecond,
		DetailsWait: 30 * time.Second,
		AdvanceWait: 20 * time.Second,
		PaymentWait: secs(opts.Provider.PaymentWaitSec, 45),
		ConfirmWait: secs(opts.Provider.ConfirmWaitSec, 120),
		Solver:      challenge.None{},
		opts:        opts,
		lex:         lex,
		res:         res,
		h:           h,
		sink:        sink,
		log:         log.With().Str("component", "checkout").Logger(),
	}
}

type run struct {
	m       *Machine
	seq     sequence
	page    browser.Page
	b       *booking.Booking
	state   State
	receipt Receipt
	log     zerolog.Logger
}

// Run takes the offer open on page through checkout for b. The page must
// show the offer's detail view. The receipt is returned even on failure and
// carries whatever was learned, including a reference captured before a
// later step failed.
func (m *Machine) Run(ctx context.Context, page browser.Page, b *booking.Booking) (Receipt, error) {
	return m.start(ctx, page, b, hotelSequence)
}

func (m *Machine) start(ctx context.Context, page browser.Page, b *booking.Booking, seq sequence) (Receipt, error) {
	r := &run{
		m:       m,
		seq:     seq,
		page:    page,
		b:       b,
		state:   ItemSelected,
		receipt: Receipt{Platform: m.opts.Provider.Name, Currency: m.opts.Provider.PriceFormat.Currency},
		log:     m.log.With().Str("booking_id", b.ID).Logger(),
	}
	err := r.exec(ctx)
	r.receipt.Reached = r.state
	if err == nil {
		return r.receipt, nil
	}
	err = r.classify(err)
	r.receipt.Screenshot = r.evidence(ctx, "failed_"+r.state.step())
	r.log.Error().Err(err).Stringer("from", r.state).Stringer("state", Aborted).Msg("checkout aborted")
	return r.receipt, err
}

// classify maps an unclassified failure to the taxonomy by the state it
// happened in. Anything from the payment surface on may have charged the
// card.
func (r *run) classify(err error) error {
	var f *booking.Failure
	if errors.As(err, &f) {
		return err
	}
	if r.state >= PaymentEntry {
		return booking.PaymentAmbiguous(r.state.step(), err)
	}
	return booking.Transient(r.state.step(), err)
}

func (r *run) track(ctx context.Context, step string, fn func(context.Context) error) error {
	return diag.Track(r.m.sink, r.b.ID, step, func() error { return fn(ctx) })
}

// phase is one step of a checkout flow and the state it runs in.
type phase struct {
	enter State
	name  string
	fn    func(*run, context.Context) error
}

// sequence is the provider-specific order of checkout phases.
type sequence struct {
	phases  []phase
	profile Profile
}

var hotelSequence = sequence{
	phases: []phase{
		{ItemSelected, "checkout.reserve", (*run).reserve},
		{DetailsEntry, "checkout.details", (*run).details},
		{PaymentEntry, "checkout.payment", (*run).payment},
		{PaymentEntry, "checkout.submit", (*run).submit},
		{PurchaseSubmitted, "checkout.reference", (*run).reference},
	},
	profile: HotelProfile,
}

func (r *run) exec(ctx context.Context) error {
	for _, p := range r.seq.phases {
		r.state = max(r.state, p.enter)
		fn := p.fn
		if err := r.track(ctx, p.name, func(ctx context.Context) error { return fn(r, ctx) }); err != nil {
			return err
		}
	}
	r.state = ReferenceExtracted
	r.keepConfirmation(ctx)
	return nil
}

// waitFor polls cond until it holds or d elapses.
func (r *run) waitFor(ctx context.Context, d time.Duration, cond func(context.Context) bool) bool {
	deadline := time.Now().Add(d)
	for {
		if cond(ctx) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(r.m.Poll):
		}
	}
}

// optional resolves t only when it is on the page right now.
func (r *run) optional(ctx context.Context, t selector.Target) (browser.Element, bool) {
	if !r.m.res.Present(ctx, r.page, t) {
		return nil, false
	}
	m, err := r.m.res.Locate(ctx, r.page, t)
	if err != nil {
		return nil, false
	}
	return m.Element, true
}

func (r *run) text(ctx context.Context) string {
	t, _ := r.page.Text(ctx)
	return t
}

func stage(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 1
	}
	n, err := strconv.Atoi(u.Query().Get("stage"))
	if err != nil {
		return 1
	}
	return n
}

func detailsURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	for _, part := range []string{"/book", "/checkout", "/reservation"} {
		if strings.HasPrefix(u.Path, part) {
			return true
		}
	}
	return false
}

// onDetails weighs the weak signals that the guest details form is showing.
func (r *run) onDetails(ctx context.Context) bool {
	text := r.text(ctx)
	score := 0
	if lexicon.Contains(text, r.m.lex.DetailsMarkers) {
		score += 2
	}
	if lexicon.Contains(text, r.m.lex.SearchMarkers) {
		score -= 2
	}
	if u, err := r.page.URL(ctx); err == nil && detailsURL(u) {
		score++
	}
	inputs, _ := r.page.Elements(ctx, `input[type="text"], input[type="email"], input[type="tel"]`)
	if n := len(inputs); n >= 3 && n <= 30 {
		score++
	}
	return score >= 2
}

func (r *run) onPayment(ctx context.Context) bool {
	if lexicon.Contains(r.text(ctx), r.m.lex.PaymentMarkers) {
		return true
	}
	return r.m.res.Present(ctx, r.page, cardSurface)
}

func (r *run) reserve(ctx context.Context) error {
	if r.onDetails(ctx) {
		return nil
	}
	if el, ok := r.optional(ctx, roomCount); ok {
		if v, _ := el.Value(ctx); v == "" || v == "0" {
			if err := el.Select(ctx, "1"); err != nil {
				r.log.Debug().Err(err).Msg("room count not selectable")
			}
			_ = r.m.h.Pause(ctx, humanize.Short)
		}
	}
	m, err := r.m.res.Locate(ctx, r.page, reserveButton)
	if err != nil {
		return err
	}
	if err := r.m.h.Click(ctx, r.page, m.Element); err != nil {
		return fmt.Errorf("click reserve: %w", err)
	}
	if err := r.m.h.Pause(ctx, humanize.Settle); err != nil {
		return err
	}
	if !r.waitFor(ctx, r.m.DetailsWait, r.onDetails) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.New("guest details form not reached after reserve")
	}
	return nil
}

// evidence saves a screenshot named after what it shows and returns its
// path, or "" when it could not be taken.
func (r *run) evidence(ctx context.Context, what string) string {
	dir := r.m.opts.Paths.Screenshots
	if dir == "" {
		return ""
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	path := filepath.Join(dir, fmt.Sprintf("%s_%s_%s.png", what, r.b.ID, uuid.NewString()[:8]))
	if err := r.page.Screenshot(sctx, path); err != nil {
		r.log.Warn().Err(err).Str("what", what).Msg("screenshot failed")
		return ""
	}
	r.m.sink.Emit(diag.Record{BookingID: r.b.ID, Step: "checkout." + what, Outcome: diag.OutcomeInfo, Screenshot: path})
	return path
}

func (r *run) reference(ctx context.Context) error {
	confirmed := func(ctx context.Context) bool {
		html, _ := r.page.HTML(ctx)
		text := r.text(ctx)
		if pnr, ok := ExtractReference(html, text, r.seq.profile); ok {
			r.receipt.PNR = pnr
			return true
		}
		return false
	}
	if !r.waitFor(ctx, r.m.ConfirmWait, confirmed) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		text := r.text(ctx)
		if phrase, ok := lexicon.Find(text, r.m.lex.PaymentIssues); ok {
			return fmt.Errorf("%w: page reports %q", ErrReferenceNotFound, phrase)
		}
		return ErrReferenceNotFound
	}
	r.log.Info().Str("pnr", r.receipt.PNR).Msg("booking reference captured")

	if t, phrase, ok := dates.ParseDeadline(r.text(ctx)); ok {
		r.receipt.Deadline = &t
		r.log.Info().Str("deadline", phrase).Msg("free cancellation deadline")
	}
	return nil
}

// keepConfirmation stores a screenshot and a PDF of the confirmation page.
// Failures here never undo the booking.
func (r *run) keepConfirmation(ctx context.Context) {
	r.receipt.Screenshot = r.evidence(ctx, "confirmation")

	dir := r.m.opts.Paths.Documents
	if dir == "" {
		return
	}
	for _, css := range r.m.lex.Popups {
		if el, err := r.page.Element(ctx, css); err == nil {
			_ = el.Click(ctx)
		}
	}
	path := filepath.Join(dir, fmt.Sprintf("Booking_%s.pdf", r.receipt.PNR))
	err := diag.Track(r.m.sink, r.b.ID, "checkout.pdf", func() error {
		return r.page.PDF(ctx, path)
	})
	if err != nil {
		r.log.Warn().Err(booking.PostPurchase("pdf", err)).Msg("confirmation pdf not saved")
		return
	}
	r.receipt.PDF = path
}
