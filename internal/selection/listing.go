package selection

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"travelbot/internal/money"
)

// Card selectors, most specific first.
var (
	cardSel   = `[data-testid="property-card"], .sr_property_block`
	titleSels = []string{`[data-testid="title"]`, `.sr-hotel__name`, `h3`}
	addrSels  = []string{`[data-testid="address"]`, `.sr_card_address_line`, `[data-testid="location"]`}
	priceSels = []string{`[data-testid="price-and-discounted-price"]`, `.prco-valign-middle-helper`, `[class*="price"]`}
	linkSels  = []string{`a[data-testid="title-link"]`, `a[data-testid="property-card-desktop-single-image"]`, `a[href*="/hotel/"]`}
)

// Offer is one listing entry as seen on the results page.
type Offer struct {
	// Index is the entry's position in the listing.
	Index    int
	Name     string
	Address  string
	URL      string
	Total    money.Cents
	PerNight money.Cents
	// Priced is false when no amount could be read from the entry.
	Priced bool
}

func (o Offer) String() string {
	return fmt.Sprintf("#%d %s (%s/night)", o.Index, o.Name, o.PerNight)
}

func firstText(s *goquery.Selection, sels []string) string {
	for _, css := range sels {
		if t := strings.Join(strings.Fields(s.Find(css).First().Text()), " "); t != "" {
			return t
		}
	}
	return ""
}

func firstHref(s *goquery.Selection, sels []string) string {
	for _, css := range sels {
		if href, ok := s.Find(css).First().Attr("href"); ok && href != "" {
			return href
		}
	}
	return ""
}

// ParseListing reads the offers from a results page snapshot. Prices are
// read with f and divided over nights; relative links resolve against base.
func ParseListing(html, base string, f money.Format, nights int) ([]Offer, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	baseURL, _ := url.Parse(base)

	var offers []Offer
	doc.Find(cardSel).Each(func(i int, s *goquery.Selection) {
		o := Offer{
			Index:   i,
			Name:    firstText(s, titleSels),
			Address: firstText(s, addrSels),
		}
		if href := firstHref(s, linkSels); href != "" {
			o.URL = href
			if ref, err := url.Parse(href); err == nil && baseURL != nil {
				o.URL = baseURL.ResolveReference(ref).String()
			}
		}
		if text := firstText(s, priceSels); text != "" {
			if total, err := f.Parse(text); err == nil {
				o.Total = total
				o.PerNight = total.PerNight(nights)
				o.Priced = true
			}
		}
		offers = append(offers, o)
	})
	return offers, nil
}
