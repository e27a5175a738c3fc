package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"travelbot/internal/booking"
	"travelbot/internal/browser"
	"travelbot/internal/dates"
	"travelbot/internal/humanize"
	"travelbot/internal/lexicon"
	"travelbot/internal/selector"
)

var (
	mdyPlaceholder = regexp.MustCompile(`(?i)MM\s*/\s*DD\s*/\s*YYYY`)
	fourDigits     = regexp.MustCompile(`\d{4}`)
)

// invalidJS lists native validation messages, fields flagged aria-invalid
// and inline error text, as a JSON array of strings.
const invalidJS = `() => {
	const out = [];
	const label = el => {
		const l = el.id && document.querySelector('label[for="' + el.id + '"]');
		return ((l && l.innerText) || el.getAttribute("aria-label") || el.name || "").trim();
	};
	for (const el of document.querySelectorAll("input, select, textarea")) {
		if (el.validationMessage && el.offsetParent !== null) out.push(label(el) + ": " + el.validationMessage);
	}
	for (const el of document.querySelectorAll('[aria-invalid="true"]')) {
		out.push(label(el) + ": invalid");
	}
	for (const el of document.querySelectorAll('[role="alert"], .bui-form__error, [class*="error-message"]')) {
		const t = (el.innerText || "").trim();
		if (t) out.push(t);
	}
	return JSON.stringify(out.slice(0, 20));
}`

func (r *run) fill(ctx context.Context, t selector.Target, value string) error {
	m, err := r.m.res.Locate(ctx, r.page, t)
	if err != nil {
		return err
	}
	return r.typeInto(ctx, m.Element, t.Name, value)
}

func (r *run) typeInto(ctx context.Context, el browser.Element, name, value string) error {
	if err := r.m.h.Click(ctx, r.page, el); err != nil {
		return fmt.Errorf("focus %s: %w", name, err)
	}
	if err := humanize.Fill(ctx, r.m.h, el, value); err != nil {
		return fmt.Errorf("fill %s: %w", name, err)
	}
	return r.m.h.Pause(ctx, humanize.Short)
}

func (r *run) details(ctx context.Context) error {
	if r.onPayment(ctx) {
		r.log.Info().Msg("checkout opened on the payment step")
		return nil
	}
	r.expand(ctx)

	first, last := booking.SplitName(r.b.ClientName)
	if err := r.fill(ctx, firstName, first); err != nil {
		return err
	}
	if err := r.fill(ctx, lastName, last); err != nil {
		return err
	}
	if err := r.fill(ctx, email, r.b.Email); err != nil {
		return err
	}
	r.selectCountry(ctx)
	if r.b.Phone != "" {
		if el, ok := r.optional(ctx, phone); ok {
			if err := r.typeInto(ctx, el, phone.Name, r.b.Phone); err != nil {
				r.log.Warn().Err(err).Msg("phone not filled")
			}
		}
	}
	if err := r.birthDate(ctx); err != nil {
		return err
	}
	r.extras(ctx)
	return r.advance(ctx)
}

// expand opens a "show fields" disclosure and reports whether it found one.
func (r *run) expand(ctx context.Context) bool {
	el, ok := r.optional(ctx, showFields)
	if !ok {
		return false
	}
	if err := r.m.h.Click(ctx, r.page, el); err != nil {
		return false
	}
	_ = r.m.h.Pause(ctx, humanize.Short)
	return true
}

func nonEmpty(values ...string) []string {
	out := values[:0]
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func (r *run) selectCountry(ctx context.Context) {
	code := ResolveCountry(r.b.Country, r.b.Phone, r.b.Destination)
	if code == "" {
		return
	}
	if el, ok := r.optional(ctx, country); ok {
		if err := el.Select(ctx, nonEmpty(code, strings.ToLower(code), r.b.Country)...); err != nil {
			r.log.Debug().Err(err).Str("country", code).Msg("country not selectable")
		}
	}
	if r.b.Phone == "" {
		return
	}
	if el, ok := r.optional(ctx, callingCode); ok {
		values := []string{strings.ToLower(code), code}
		if dc := DialCode(code); dc != "" {
			values = append(values, "+"+dc)
		}
		if err := el.Select(ctx, values...); err != nil {
			r.log.Debug().Err(err).Str("country", code).Msg("calling code not selectable")
		}
	}
}

func (r *run) dob() *time.Time {
	if r.b.PassengerDOB != nil {
		return r.b.PassengerDOB
	}
	for _, p := range r.b.Travellers() {
		if p.DOB != nil {
			return p.DOB
		}
	}
	return nil
}

func (r *run) birthDate(ctx context.Context) error {
	required := r.m.res.Present(ctx, r.page, dobRequired)
	dob := r.dob()
	if dob == nil {
		if required {
			return booking.MissingData("details", ErrMissingDOB)
		}
		return nil
	}
	if !required && !r.m.res.Present(ctx, r.page, dobInput) && !r.m.res.Present(ctx, r.page, dobYear) {
		return nil
	}
	if r.fillDOB(ctx, *dob) {
		return nil
	}
	if required {
		return fmt.Errorf("date of birth %s was not accepted", dob.Format(dates.ISO))
	}
	r.log.Warn().Msg("optional date of birth field could not be filled")
	return nil
}

// dobCandidates lists the renderings to try in a date of birth field.
func dobCandidates(dob time.Time, typ, placeholder string) []string {
	iso := dob.Format(dates.ISO)
	if typ == "date" {
		return []string{iso}
	}
	dmy, mdy, dashed := dob.Format("02/01/2006"), dob.Format("01/02/2006"), dob.Format("02-01-2006")
	if mdyPlaceholder.MatchString(placeholder) {
		return []string{mdy, dmy, dashed, iso}
	}
	return []string{dmy, dashed, mdy, iso}
}

// dobAccepted checks the value the field ended up with. Free-text fields may
// reformat what was typed, so only the year is compared.
func dobAccepted(value string, dob time.Time, native bool) bool {
	if native {
		return value == dob.Format(dates.ISO)
	}
	return fourDigits.FindString(value) == strconv.Itoa(dob.Year())
}

// typeDOB tries each rendering of dob in el until the field reads back a
// value carrying the intended year.
func (r *run) typeDOB(ctx context.Context, el browser.Element, dob time.Time) bool {
	typ, _ := el.Attribute(ctx, "type")
	placeholder, _ := el.Attribute(ctx, "placeholder")
	native := typ == "date"
	for _, v := range dobCandidates(dob, typ, placeholder) {
		if err := el.Clear(ctx); err != nil {
			continue
		}
		var err error
		if native {
			err = el.Input(ctx, v)
		} else {
			err = r.m.h.Type(ctx, el, v)
		}
		if err != nil {
			continue
		}
		got, _ := el.Value(ctx)
		if dobAccepted(got, dob, native) {
			r.log.Debug().Str("value", got).Msg("date of birth filled")
			return true
		}
		r.log.Debug().Str("typed", v).Str("value", got).Msg("date of birth rejected, trying next format")
	}
	return false
}

func (r *run) fillDOB(ctx context.Context, dob time.Time) bool {
	if el, ok := r.optional(ctx, dobInput); ok && r.typeDOB(ctx, el, dob) {
		return true
	}

	day, okD := r.optional(ctx, dobDay)
	month, okM := r.optional(ctx, dobMonth)
	year, okY := r.optional(ctx, dobYear)
	if !okD || !okM || !okY {
		return false
	}
	_ = day.Select(ctx, strconv.Itoa(dob.Day()), fmt.Sprintf("%02d", dob.Day()))
	_ = month.Select(ctx, strconv.Itoa(int(dob.Month())), fmt.Sprintf("%02d", int(dob.Month())), dob.Month().String())
	_ = year.Select(ctx, strconv.Itoa(dob.Year()))
	got, _ := year.Value(ctx)
	return got == strconv.Itoa(dob.Year())
}

// extras answers the optional questions some properties ask: who the main
// guest is, the purpose of travel and the arrival time.
func (r *run) extras(ctx context.Context) {
	for _, t := range []selector.Target{mainGuest, leisure} {
		el, ok := r.optional(ctx, t)
		if !ok {
			continue
		}
		if checked, _ := el.Checked(ctx); !checked {
			if err := r.m.h.Click(ctx, r.page, el); err != nil {
				r.log.Debug().Err(err).Str("field", t.Name).Msg("radio not selected")
			}
		}
	}
	if el, ok := r.optional(ctx, arrivalHour); ok {
		_ = el.Select(ctx, "12", "12:00")
		_ = r.m.h.Pause(ctx, humanize.Short)
	}
	if el, ok := r.optional(ctx, arrivalMinute); ok {
		_ = el.Select(ctx, "00", "0")
	}
}

// invalidFields collects what the page says is wrong with the form.
func (r *run) invalidFields(ctx context.Context) []string {
	var out []string
	if raw, err := r.page.Evaluate(ctx, invalidJS); err == nil && raw != "" {
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			r.log.Debug().Err(err).Msg("unreadable validation report")
		}
	}
	if phrase, ok := lexicon.Find(r.text(ctx), r.m.lex.ValidationErrors); ok {
		out = append(out, phrase)
	}
	return out
}

func mentions(problems []string, word string) bool {
	for _, p := range problems {
		if strings.Contains(strings.ToLower(p), word) {
			return true
		}
	}
	return false
}

func summary(problems []string) string {
	if len(problems) == 0 {
		return "no validation message shown"
	}
	if len(problems) > 5 {
		problems = problems[:5]
	}
	return strings.Join(problems, "; ")
}

// advance submits the details form. It has moved on when the stage counter
// in the URL grows, the first name field is gone, or payment markers show.
func (r *run) advance(ctx context.Context) error {
	before, _ := r.page.URL(ctx)
	from := stage(before)
	advanced := func(ctx context.Context) bool {
		if u, err := r.page.URL(ctx); err == nil && stage(u) > from {
			return true
		}
		if !r.m.res.Present(ctx, r.page, firstName) {
			return true
		}
		return r.onPayment(ctx)
	}

	for attempt := 0; attempt < 2; attempt++ {
		m, err := r.m.res.Locate(ctx, r.page, advanceButton)
		if err != nil {
			return err
		}
		if err := r.m.h.Click(ctx, r.page, m.Element); err != nil {
			return fmt.Errorf("click %s: %w", advanceButton.Name, err)
		}
		if r.waitFor(ctx, r.m.AdvanceWait, advanced) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		problems := r.invalidFields(ctx)
		r.log.Warn().Strs("problems", problems).Int("stage", from).Msg("details step did not advance")
		if mentions(problems, "birth") {
			dob := r.dob()
			if dob == nil {
				return booking.MissingData("details", ErrMissingDOB)
			}
			if attempt == 0 && r.fillDOB(ctx, *dob) {
				continue
			}
		}
		if attempt == 0 && r.expand(ctx) {
			r.extras(ctx)
			continue
		}
		return fmt.Errorf("%w: %s", ErrNotAdvanced, summary(problems))
	}
	return ErrNotAdvanced
}
