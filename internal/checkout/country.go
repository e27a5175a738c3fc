package checkout

import (
	"strings"
	"unicode"
)

var countryNames = map[string]string{
	"turkey":               "TR",
	"turkiye":              "TR",
	"türkiye":              "TR",
	"egypt":                "EG",
	"tunisia":              "TN",
	"france":               "FR",
	"germany":              "DE",
	"algeria":              "DZ",
	"morocco":              "MA",
	"saudi":                "SA",
	"saudi arabia":         "SA",
	"uae":                  "AE",
	"united arab emirates": "AE",
	"united kingdom":       "GB",
	"uk":                   "GB",
	"united states":        "US",
	"usa":                  "US",
	"italy":                "IT",
	"spain":                "ES",
}

// Three-digit calling codes are checked before shorter ones.
var dialPrefixes = []struct {
	prefix string
	code   string
}{
	{"216", "TN"},
	{"213", "DZ"},
	{"212", "MA"},
	{"966", "SA"},
	{"971", "AE"},
	{"20", "EG"},
	{"90", "TR"},
	{"33", "FR"},
	{"49", "DE"},
	{"44", "GB"},
	{"39", "IT"},
	{"34", "ES"},
	{"1", "US"},
}

var destinations = map[string]string{
	"paris":      "FR",
	"istanbul":   "TR",
	"tunis":      "TN",
	"tunis city": "TN",
	"hammamet":   "TN",
	"sousse":     "TN",
	"djerba":     "TN",
	"cairo":      "EG",
	"new york":   "US",
	"london":     "GB",
}

// CountryFromName normalizes a free-text country to an ISO alpha-2 code.
func CountryFromName(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) == 2 && unicode.IsLetter(rune(s[0])) && unicode.IsLetter(rune(s[1])) {
		return strings.ToUpper(s)
	}
	return countryNames[strings.ToLower(s)]
}

func phoneDigits(phone string) string {
	d := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
	return strings.TrimPrefix(d, "00")
}

// CountryFromPhone infers the country from an international phone number.
// Numbers without a leading + or 00 are not trusted.
func CountryFromPhone(phone string) string {
	p := strings.TrimSpace(phone)
	if !strings.HasPrefix(p, "+") && !strings.HasPrefix(p, "00") {
		return ""
	}
	d := phoneDigits(p)
	for _, dp := range dialPrefixes {
		if strings.HasPrefix(d, dp.prefix) {
			return dp.code
		}
	}
	return ""
}

func CountryFromDestination(destination string) string {
	d := strings.ToLower(strings.TrimSpace(destination))
	if c, ok := destinations[d]; ok {
		return c
	}
	// "Tunis, Tunisia" style destinations carry the country last.
	if i := strings.LastIndex(d, ","); i >= 0 {
		return CountryFromName(d[i+1:])
	}
	return ""
}

// ResolveCountry tries the stated country, then the phone prefix, then the
// destination.
func ResolveCountry(country, phone, destination string) string {
	if c := CountryFromName(country); c != "" {
		return c
	}
	if c := CountryFromPhone(phone); c != "" {
		return c
	}
	return CountryFromDestination(destination)
}

// DialCode returns the calling code for an ISO country, without the +.
func DialCode(iso string) string {
	for _, dp := range dialPrefixes {
		if dp.code == iso {
			return dp.prefix
		}
	}
	return ""
}

// LocalNumber drops the calling code from an international number. Numbers
// already in national form are returned as digits only.
func LocalNumber(phone, dial string) string {
	p := strings.TrimSpace(phone)
	d := phoneDigits(p)
	international := strings.HasPrefix(p, "+") || strings.HasPrefix(p, "00")
	if dial != "" && strings.HasPrefix(d, dial) && (international || len(d)-len(dial) >= 8) {
		return d[len(dial):]
	}
	return d
}
