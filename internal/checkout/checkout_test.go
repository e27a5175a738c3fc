package checkout

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"travelbot/internal/booking"
	"travelbot/internal/browser/browsertest"
	"travelbot/internal/config"
	"travelbot/internal/diag"
	"travelbot/internal/humanize"
	"travelbot/internal/lexicon"
	"travelbot/internal/selector"
)

var testCard = config.CardConfig{Number: "4111111111111111", Holder: "Amira Ben Salah", ExpMonth: "7", ExpYear: "2028", CVC: "123"}

func input(css string) *browsertest.Element {
	return &browsertest.Element{Selectors: []string{css}, TagName: "input"}
}

func button(text string, onClick func(p *browsertest.Page)) *browsertest.Element {
	return &browsertest.Element{Selectors: []string{"button"}, TagName: "button", TextContent: text, OnClick: onClick}
}

// flow is a scripted checkout: offer page, guest details, payment with the
// card fields in a frame, and a confirmation page.
type flow struct {
	page      *browsertest.Page
	first     *browsertest.Element
	email     *browsertest.Element
	country   *browsertest.Element
	dob       *browsertest.Element
	number    *browsertest.Element
	expiry    *browsertest.Element
	cvc       *browsertest.Element
	consent   *browsertest.Element
	final     *browsertest.Element
	confirmed bool
}

func newFlow(dobRequired, confirms bool) *flow {
	f := &flow{
		first:   input(`input[name="firstname"]`),
		email:   input(`input[name="email"]`),
		country: &browsertest.Element{Selectors: []string{`select[name="countryCode"]`}, TagName: "select", Options: []string{"fr", "tn", "us"}},
		number:  input(`input[autocomplete="cc-number"]`),
		expiry:  input(`input[autocomplete="cc-exp"]`),
		cvc:     input(`input[autocomplete="cc-csc"]`),
		consent: &browsertest.Element{Selectors: []string{`input[type="checkbox"][required]`}, TagName: "input", Attrs: map[string]string{"type": "checkbox"}},
	}
	f.final = button("Complete booking", func(p *browsertest.Page) {
		if confirms {
			p.Show("confirmation")
		}
	})

	details := []*browsertest.Element{
		f.first,
		input(`input[name="lastname"]`),
		f.email,
		input(`input[type="tel"]`),
		f.country,
		button("Next: Final details", func(p *browsertest.Page) { p.Show("payment") }),
	}
	if dobRequired {
		f.dob = &browsertest.Element{
			Selectors: []string{`input[required][name*="birth"]`, `input[name*="birth"]`},
			TagName:   "input",
			Attrs:     map[string]string{"placeholder": "DD/MM/YYYY"},
		}
		details = append(details, f.dob)
	}

	f.page = browsertest.NewPage("offer", map[string]*browsertest.Screen{
		"offer": {
			URL:  "https://www.booking.com/hotel/tn/alpha.html",
			Text: "Deluxe Double Room. No prepayment needed.",
			Elements: []*browsertest.Element{
				button("I'll reserve", func(p *browsertest.Page) { p.Show("details") }),
			},
		},
		"details": {
			URL:      "https://secure.booking.com/book.html?stage=1",
			Text:     "Almost done! Enter your details",
			Elements: details,
		},
		"payment": {
			URL:  "https://secure.booking.com/book.html?stage=2",
			Text: "How do you want to pay?",
			Elements: []*browsertest.Element{
				f.consent,
				f.final,
			},
			Frames: []*browsertest.Frame{{
				FrameName: "secure-fields",
				FrameURL:  "https://pay.example.com/fields.html",
				Elements:  []*browsertest.Element{f.number, input(`input[autocomplete="cc-name"]`), f.expiry, f.cvc},
			}},
		},
		"confirmation": {
			URL:  "https://secure.booking.com/confirmation.html",
			Text: "Thanks for booking! Booking number: 4.123.456.789. Free cancellation until February 12, 2026.",
			HTML: "<html><body><h1>Thanks for booking</h1></body></html>",
		},
	})
	return f
}

func testMachine(t *testing.T, clickFinal bool, sink diag.Sink) *Machine {
	t.Helper()
	cfg := config.DefaultConfig()
	opts := Options{
		Provider:   cfg.Hotel,
		Card:       testCard,
		Paths:      config.PathsConfig{Screenshots: t.TempDir(), Documents: t.TempDir()},
		ClickFinal: clickFinal,
	}
	m := New(opts, lexicon.Default(), selector.New(5*time.Millisecond, zerolog.Nop()), humanize.Off(), sink, zerolog.Nop())
	m.Poll = time.Millisecond
	m.DetailsWait = 50 * time.Millisecond
	m.AdvanceWait = 50 * time.Millisecond
	m.PaymentWait = 50 * time.Millisecond
	m.ConfirmWait = 50 * time.Millisecond
	return m
}

func guest() *booking.Booking {
	return &booking.Booking{
		ID:          "bk-1",
		ClientName:  "Amira Ben Salah",
		Email:       "amira@example.com",
		Phone:       "+216 20 123 456",
		Destination: "Hammamet",
		Service:     booking.Hotel,
	}
}

func TestRunBooksAndCapturesReference(t *testing.T) {
	f := newFlow(false, true)
	var rec diag.Recorder
	m := testMachine(t, true, &rec)

	receipt, err := m.Run(context.Background(), f.page, guest())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if receipt.PNR != "4123456789" {
		t.Errorf("PNR = %q, want 4123456789", receipt.PNR)
	}
	if receipt.Reached != ReferenceExtracted {
		t.Errorf("Reached = %v, want %v", receipt.Reached, ReferenceExtracted)
	}
	if receipt.Deadline == nil || receipt.Deadline.Format("2006-01-02") != "2026-02-12" {
		t.Errorf("Deadline = %v, want 2026-02-12", receipt.Deadline)
	}
	if receipt.Platform != "Booking.com" {
		t.Errorf("Platform = %q", receipt.Platform)
	}
	if !strings.HasSuffix(receipt.PDF, "Booking_4123456789.pdf") || len(f.page.PDFs) != 1 {
		t.Errorf("PDF = %q, rendered %v", receipt.PDF, f.page.PDFs)
	}
	if receipt.Screenshot == "" {
		t.Error("confirmation screenshot missing")
	}

	if f.first.Val != "Amira Ben" || f.email.Val != "amira@example.com" {
		t.Errorf("details = %q / %q", f.first.Val, f.email.Val)
	}
	if f.country.Val != "tn" {
		t.Errorf("country = %q, want tn from the phone prefix", f.country.Val)
	}
	if f.number.Val != testCard.Number || f.expiry.Val != "07/28" || f.cvc.Val != "123" {
		t.Errorf("card fields = %q %q %q", f.number.Val, f.expiry.Val, f.cvc.Val)
	}
	if !f.consent.IsChecked {
		t.Error("consent box was not ticked")
	}
	if f.final.Clicks != 1 {
		t.Errorf("final button clicked %d times, want 1", f.final.Clicks)
	}

	want := []string{"checkout.reserve", "checkout.details", "checkout.payment", "checkout.submit", "checkout.reference", "checkout.pdf"}
	got := rec.Steps(diag.OutcomeOK)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("steps = %v, want %v", got, want)
	}
}

func TestRunWithoutReferenceIsPaymentAmbiguous(t *testing.T) {
	f := newFlow(false, false)
	m := testMachine(t, true, diag.Discard{})

	receipt, err := m.Run(context.Background(), f.page, guest())
	if err == nil {
		t.Fatal("expected an error when no reference shows")
	}
	if booking.KindOf(err) != booking.KindPaymentAmbiguous {
		t.Errorf("kind = %v, want payment ambiguous", booking.KindOf(err))
	}
	if !errors.Is(err, ErrReferenceNotFound) {
		t.Errorf("err = %v, want ErrReferenceNotFound", err)
	}
	if receipt.Reached != PurchaseSubmitted {
		t.Errorf("Reached = %v, want %v", receipt.Reached, PurchaseSubmitted)
	}
	if receipt.PNR != "" {
		t.Errorf("PNR = %q, want none", receipt.PNR)
	}
	if f.number.Val != testCard.Number {
		t.Errorf("card number = %q", f.number.Val)
	}
	if len(f.page.Shots) == 0 {
		t.Error("no evidence screenshot taken")
	}
}

func TestRunStopsWhenBirthDateMissing(t *testing.T) {
	f := newFlow(true, true)
	m := testMachine(t, true, diag.Discard{})

	receipt, err := m.Run(context.Background(), f.page, guest())
	if booking.KindOf(err) != booking.KindMissingData {
		t.Fatalf("kind = %v (%v), want missing data", booking.KindOf(err), err)
	}
	if !errors.Is(err, ErrMissingDOB) {
		t.Errorf("err = %v, want ErrMissingDOB", err)
	}
	if receipt.Reached != DetailsEntry {
		t.Errorf("Reached = %v, want %v", receipt.Reached, DetailsEntry)
	}
	if f.final.Clicks != 0 {
		t.Error("final button clicked")
	}
}

func TestRunFillsBirthDate(t *testing.T) {
	f := newFlow(true, true)
	m := testMachine(t, true, diag.Discard{})
	b := guest()
	dob := time.Date(1990, 3, 21, 0, 0, 0, 0, time.UTC)
	b.PassengerDOB = &dob

	if _, err := m.Run(context.Background(), f.page, b); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if f.dob.Val != "21/03/1990" {
		t.Errorf("dob = %q, want 21/03/1990", f.dob.Val)
	}
}

func TestRunHonoursClickFinalSwitch(t *testing.T) {
	f := newFlow(false, true)
	m := testMachine(t, false, diag.Discard{})

	receipt, err := m.Run(context.Background(), f.page, guest())
	if booking.KindOf(err) != booking.KindStopped {
		t.Fatalf("kind = %v (%v), want stopped", booking.KindOf(err), err)
	}
	if !errors.Is(err, ErrFinalClickDisabled) {
		t.Errorf("err = %v", err)
	}
	if f.final.Clicks != 0 {
		t.Error("final button clicked with the switch off")
	}
	if receipt.Reached != PaymentEntry {
		t.Errorf("Reached = %v, want %v", receipt.Reached, PaymentEntry)
	}
}

func TestRunNotAdvancingBeforePaymentIsTransient(t *testing.T) {
	f := newFlow(false, true)
	details := f.page.Screens["details"]
	for _, el := range details.Elements {
		if el.TextContent == "Next: Final details" {
			el.OnClick = nil
		}
	}
	f.page.EvalFunc = func(js string, args ...interface{}) (string, error) {
		return `["Email: enter a valid email address"]`, nil
	}
	m := testMachine(t, true, diag.Discard{})

	_, err := m.Run(context.Background(), f.page, guest())
	if booking.KindOf(err) != booking.KindTransient {
		t.Fatalf("kind = %v (%v), want transient", booking.KindOf(err), err)
	}
	if !errors.Is(err, ErrNotAdvanced) || !strings.Contains(err.Error(), "enter a valid email") {
		t.Errorf("err = %v", err)
	}
}

// withPostcode hides a billing postcode field behind a "Show fields" link on
// the payment screen. The form reports the postcode as required until it
// holds a value, or for good when clears is false.
func withPostcode(f *flow, clears bool) *browsertest.Element {
	postal := &browsertest.Element{Selectors: []string{`input[autocomplete="postal-code"]`}, TagName: "input", Hidden: true}
	reveal := &browsertest.Element{
		Selectors:   []string{"a"},
		TagName:     "a",
		TextContent: "Show fields",
		OnClick:     func(*browsertest.Page) { postal.Hidden = false },
	}
	pay := f.page.Screens["payment"]
	pay.Elements = append(pay.Elements, reveal, postal)
	f.page.EvalFunc = func(js string, args ...interface{}) (string, error) {
		if js != invalidJS || f.page.Current != "payment" {
			return "", nil
		}
		if clears && postal.Val != "" {
			return "[]", nil
		}
		return `["Postcode: this field is required"]`, nil
	}
	return postal
}

func TestRunFillsBillingPostcodeWhenAsked(t *testing.T) {
	f := newFlow(false, true)
	postal := withPostcode(f, true)
	m := testMachine(t, true, diag.Discard{})
	m.opts.Billing.Postal = "8050"

	receipt, err := m.Run(context.Background(), f.page, guest())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if postal.Val != "8050" {
		t.Errorf("postcode = %q, want 8050", postal.Val)
	}
	if postal.Hidden {
		t.Error("postcode field was never revealed")
	}
	if f.final.Clicks != 1 {
		t.Errorf("final clicks = %d, want 1", f.final.Clicks)
	}
	if receipt.PNR != "4123456789" {
		t.Errorf("PNR = %q", receipt.PNR)
	}
}

func TestRunPaymentFormStillInvalidIsPaymentAmbiguous(t *testing.T) {
	f := newFlow(false, true)
	postal := withPostcode(f, false)
	m := testMachine(t, true, diag.Discard{})
	m.opts.Billing.Postal = "8050"

	receipt, err := m.Run(context.Background(), f.page, guest())
	if booking.KindOf(err) != booking.KindPaymentAmbiguous {
		t.Fatalf("kind = %v (%v), want payment ambiguous", booking.KindOf(err), err)
	}
	if !strings.Contains(err.Error(), "Postcode: this field is required") {
		t.Errorf("err = %v, want the postcode complaint", err)
	}
	if postal.Val != "8050" {
		t.Errorf("postcode = %q, want 8050", postal.Val)
	}
	if f.final.Clicks != 0 {
		t.Error("final button clicked on an invalid form")
	}
	if receipt.Reached != PaymentEntry {
		t.Errorf("Reached = %v, want %v", receipt.Reached, PaymentEntry)
	}
}

func TestRunWithoutCardForm(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantErr   bool
		wantFinal int
	}{
		{"card expected", "How do you want to pay?", true, 0},
		{"paid at the property", "How do you want to pay? No credit card needed.", false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFlow(false, true)
			pay := f.page.Screens["payment"]
			pay.Frames = nil
			pay.Text = tt.text
			m := testMachine(t, true, diag.Discard{})

			_, err := m.Run(context.Background(), f.page, guest())
			if tt.wantErr {
				if booking.KindOf(err) != booking.KindTransient {
					t.Fatalf("kind = %v (%v), want transient", booking.KindOf(err), err)
				}
				if !errors.Is(err, selector.ErrNotFound) {
					t.Errorf("err = %v, want ErrNotFound", err)
				}
			} else if err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			if f.final.Clicks != tt.wantFinal {
				t.Errorf("final clicks = %d, want %d", f.final.Clicks, tt.wantFinal)
			}
		})
	}
}

func TestExtractReference(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		text    string
		profile Profile
		want    string
		wantOK  bool
	}{
		{name: "labelled", text: "Your booking reference: ABC12345 is confirmed", profile: HotelProfile, want: "ABC12345", wantOK: true},
		{name: "numeric with dots", text: "Confirmation number: 4.123.456.789", profile: HotelProfile, want: "4123456789", wantOK: true},
		{name: "emphasised code", html: `<p>Your code</p><strong>XK42LM9</strong>`, text: "Thank you", profile: HotelProfile, want: "XK42LM9", wantOK: true},
		{name: "bare code", text: "Reservation BK1234567 received", profile: HotelProfile, want: "BK1234567", wantOK: true},
		{name: "capitalised words ignored", html: `<h1>CONFIRMED</h1>`, text: "BOOKING CONFIRMED", profile: HotelProfile},
		{name: "flight pnr", text: "PNR: X7K2QP", profile: FlightProfile, want: "X7K2QP", wantOK: true},
		{name: "flight bare needs digit", text: "THANKS TRAVEL 4AB9ZQ", profile: FlightProfile, want: "4AB9ZQ", wantOK: true},
		{name: "nothing", text: "We are processing your request", profile: FlightProfile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractReference(tt.html, tt.text, tt.profile)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ExtractReference() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestResolveCountry(t *testing.T) {
	tests := []struct {
		country, phone, destination string
		want                        string
	}{
		{"Tunisia", "", "", "TN"},
		{"fr", "+216 20 000 000", "", "FR"},
		{"", "+216 20 000 000", "Paris", "TN"},
		{"", "0033 6 12 34 56 78", "", "FR"},
		{"", "20 000 000", "Cairo", "EG"},
		{"", "", "Sousse, Tunisia", "TN"},
		{"", "", "Atlantis", ""},
	}
	for _, tt := range tests {
		if got := ResolveCountry(tt.country, tt.phone, tt.destination); got != tt.want {
			t.Errorf("ResolveCountry(%q, %q, %q) = %q, want %q", tt.country, tt.phone, tt.destination, got, tt.want)
		}
	}
	if DialCode("TN") != "216" || DialCode("XX") != "" {
		t.Error("DialCode lookup is wrong")
	}
}

func TestDobCandidates(t *testing.T) {
	dob := time.Date(1990, 3, 21, 0, 0, 0, 0, time.UTC)
	if got := dobCandidates(dob, "date", ""); len(got) != 1 || got[0] != "1990-03-21" {
		t.Errorf("native candidates = %v", got)
	}
	if got := dobCandidates(dob, "text", "MM/DD/YYYY"); got[0] != "03/21/1990" {
		t.Errorf("month-first placeholder candidates = %v", got)
	}
	if got := dobCandidates(dob, "text", ""); got[0] != "21/03/1990" {
		t.Errorf("default candidates = %v", got)
	}
}
