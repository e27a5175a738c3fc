// Package money parses displayed prices with a configured number format and
// does price arithmetic in integer cents.
package money

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"travelbot/internal/config"
)

var ErrNoAmount = errors.New("money: no amount in text")

// Cents is an amount in hundredths of the currency unit.
type Cents int64

func FromUnits(units float64) Cents {
	return Cents(math.Round(units * 100))
}

func (c Cents) Units() float64 { return float64(c) / 100 }

func (c Cents) String() string {
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}

// PerNight divides a stay total across nights, rounding half away from zero
// to the cent.
func (c Cents) PerNight(nights int) Cents {
	if nights < 1 {
		nights = 1
	}
	return Cents(math.Round(float64(c) / float64(nights)))
}

// Band is an inclusive price range.
type Band struct {
	Min Cents
	Max Cents
}

func (b Band) Contains(c Cents) bool {
	return c >= b.Min && c <= b.Max
}

// Format is the number format a provider displays prices in.
type Format struct {
	Decimal   rune
	Thousands rune
	Currency  string
}

func first(s string, def rune) rune {
	for _, r := range s {
		return r
	}
	return def
}

func FormatFrom(p config.PriceFormat) Format {
	return Format{
		Decimal:   first(p.Decimal, '.'),
		Thousands: first(p.Thousands, ','),
		Currency:  p.Currency,
	}
}

func (f Format) isThousands(r rune) bool {
	if r == f.Thousands {
		return true
	}
	// Narrow and non-breaking spaces stand in for a space separator.
	return unicode.IsSpace(f.Thousands) && (r == ' ' || r == '\u00a0' || r == '\u202f')
}

// Parse extracts the first amount in text. Currency symbols and words around
// the number are ignored; the thousands separator is dropped and the decimal
// separator honoured exactly as configured, so "1.234" is 1234 under a
// decimal comma and 1.234 under a decimal point.
func (f Format) Parse(text string) (Cents, error) {
	var b strings.Builder
	started := false
	seenDecimal := false

	runes := []rune(text)
scan:
	for i, r := range runes {
		switch {
		case unicode.IsDigit(r):
			started = true
			b.WriteRune(r)
		case !started:
			continue
		case f.isThousands(r):
			// A separator must be followed by a digit to stay inside the number.
			if i+1 < len(runes) && unicode.IsDigit(runes[i+1]) && !seenDecimal {
				continue
			}
			break scan
		case r == f.Decimal && !seenDecimal:
			if i+1 < len(runes) && unicode.IsDigit(runes[i+1]) {
				seenDecimal = true
				b.WriteRune('.')
				continue
			}
			break scan
		default:
			break scan
		}
	}
	if b.Len() == 0 {
		return 0, fmt.Errorf("%w: %q", ErrNoAmount, text)
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", text, err)
	}
	return FromUnits(v), nil
}
