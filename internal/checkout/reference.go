package checkout

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Profile is the set of patterns a provider's booking references follow.
// Labelled patterns are tried first, in order, then numeric references with
// separators, then emphasised page elements holding nothing but a code, and
// finally the bare code heuristic.
type Profile struct {
	Name     string
	Labelled []*regexp.Regexp
	Numeric  []*regexp.Regexp
	// Code matches the whole text of an emphasised element.
	Code *regexp.Regexp
	Bare *regexp.Regexp
}

const emphasised = `[data-testid*="confirmation"], [class*="confirmation"], [class*="booking-ref"], strong, b, h1, h2, h3`

var (
	HotelProfile = Profile{
		Name: "hotel",
		Labelled: []*regexp.Regexp{
			regexp.MustCompile(`(?i:booking\s+(?:reference|number|confirmation))[:\s#]+([A-Z0-9]{6,12})\b`),
			regexp.MustCompile(`(?i:confirmation\s+(?:code|number))[:\s#]+([A-Z0-9]{6,12})\b`),
			regexp.MustCompile(`(?i:reference)[:\s#]+([A-Z0-9]{6,12})\b`),
			regexp.MustCompile(`(?i:booking\s+id)[:\s#]+([A-Z0-9]{6,12})\b`),
			regexp.MustCompile(`(?i:pnr)[:\s#]+([A-Z0-9]{6,10})\b`),
			regexp.MustCompile(`(?i:booking\s+ref)[.:\s#]+([A-Z0-9]{6,12})\b`),
			regexp.MustCompile(`(?i:code)[:\s#]+([A-Z0-9]{6,12})\b`),
		},
		Numeric: []*regexp.Regexp{
			regexp.MustCompile(`(?i:booking\s+number)[:\s#]+([0-9][0-9 .-]{5,}[0-9])`),
			regexp.MustCompile(`(?i:confirmation\s+number)[:\s#]+([0-9][0-9 .-]{5,}[0-9])`),
			regexp.MustCompile(`(?i:reservation\s+number)[:\s#]+([0-9][0-9 .-]{5,}[0-9])`),
		},
		Code: regexp.MustCompile(`^[A-Z0-9]{6,12}$`),
		Bare: regexp.MustCompile(`\b([A-Z]{2}[0-9]{6,8})\b`),
	}

	// FlightProfile matches six-character airline record locators.
	FlightProfile = Profile{
		Name: "flight",
		Labelled: []*regexp.Regexp{
			regexp.MustCompile(`(?i:reference)\s*:\s*([A-Z0-9]{6})\b`),
			regexp.MustCompile(`(?i:booking\s+ref)\s*:\s*([A-Z0-9]{6})\b`),
			regexp.MustCompile(`(?i:pnr)\s*:\s*([A-Z0-9]{6})\b`),
			regexp.MustCompile(`(?i:code)\s*:\s*([A-Z0-9]{6})\b`),
		},
		Code: regexp.MustCompile(`^[A-Z0-9]{6}$`),
		Bare: regexp.MustCompile(`\b([A-Z0-9]{6})\b`),
	}
)

var digits = regexp.MustCompile(`[0-9]`)

// normalize strips separators from purely numeric references.
func normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.Trim(raw, "0123456789 .-") != "" {
		return raw
	}
	n := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	if len(n) >= 6 {
		return n
	}
	return raw
}

// plausible rejects all-letter words and all-digit runs for the code
// heuristics; plain words in capitals are common on confirmation pages.
func plausible(code string) bool {
	return digits.MatchString(code) && strings.Trim(code, "0123456789") != ""
}

// ExtractReference finds the booking reference on a confirmation page. text
// is the rendered page text and html its markup.
func ExtractReference(html, text string, p Profile) (string, bool) {
	for _, re := range p.Labelled {
		if m := re.FindStringSubmatch(text); m != nil {
			return normalize(m[1]), true
		}
	}
	for _, re := range p.Numeric {
		if m := re.FindStringSubmatch(text); m != nil {
			if ref := normalize(m[1]); len(ref) >= 6 {
				return ref, true
			}
		}
	}

	if html != "" && p.Code != nil {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
			var found string
			doc.Find(emphasised).EachWithBreak(func(_ int, s *goquery.Selection) bool {
				t := strings.TrimSpace(s.Text())
				switch {
				case p.Code.MatchString(t) && digits.MatchString(t):
					found = t
				case len(p.Numeric) > 0 && strings.Trim(t, "0123456789 .-") == "" && len(normalize(t)) >= 7:
					found = normalize(t)
				}
				return found == ""
			})
			if found != "" {
				return found, true
			}
		}
	}

	if p.Bare != nil {
		for _, m := range p.Bare.FindAllStringSubmatch(text, -1) {
			if plausible(m[1]) {
				return m[1], true
			}
		}
	}
	return "", false
}
