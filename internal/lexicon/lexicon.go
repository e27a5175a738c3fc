// Package lexicon holds the provider page phrases the booking flows key on.
// A built-in English lexicon is embedded; a YAML file can replace any list.
package lexicon

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

type Prepayment struct {
	Bad  []string `yaml:"bad"`
	Safe []string `yaml:"safe"`
}

type Lexicon struct {
	Prepayment          Prepayment `yaml:"prepayment"`
	DetailsMarkers      []string   `yaml:"details_markers"`
	SearchMarkers       []string   `yaml:"search_markers"`
	ReviewMarkers       []string   `yaml:"review_markers"`
	PaymentMarkers      []string   `yaml:"payment_markers"`
	ConfirmationMarkers []string   `yaml:"confirmation_markers"`
	PaymentIssues       []string   `yaml:"payment_issues"`
	ValidationErrors    []string   `yaml:"validation_errors"`
	CancelSuccess       []string   `yaml:"cancel_success"`
	CancelSuccessURLs   []string   `yaml:"cancel_success_urls"`
	CancelPrompts       []string   `yaml:"cancel_prompts"`
	Popups              []string   `yaml:"popups"`
}

func parse(data []byte) (*Lexicon, error) {
	var l Lexicon
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Default returns the embedded lexicon.
func Default() *Lexicon {
	l, err := parse(defaultYAML)
	if err != nil {
		panic("lexicon: embedded default is invalid: " + err.Error())
	}
	return l
}

// Load reads path and overlays every non-empty list onto the default
// lexicon. An empty path yields the default.
func Load(path string) (*Lexicon, error) {
	base := Default()
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lexicon file %s: %w", path, err)
	}
	over, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse lexicon file %s: %w", path, err)
	}

	merge := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = src
		}
	}
	merge(&base.Prepayment.Bad, over.Prepayment.Bad)
	merge(&base.Prepayment.Safe, over.Prepayment.Safe)
	merge(&base.DetailsMarkers, over.DetailsMarkers)
	merge(&base.SearchMarkers, over.SearchMarkers)
	merge(&base.ReviewMarkers, over.ReviewMarkers)
	merge(&base.PaymentMarkers, over.PaymentMarkers)
	merge(&base.ConfirmationMarkers, over.ConfirmationMarkers)
	merge(&base.PaymentIssues, over.PaymentIssues)
	merge(&base.ValidationErrors, over.ValidationErrors)
	merge(&base.CancelSuccess, over.CancelSuccess)
	merge(&base.CancelSuccessURLs, over.CancelSuccessURLs)
	merge(&base.CancelPrompts, over.CancelPrompts)
	merge(&base.Popups, over.Popups)
	return base, nil
}

// Find returns the first phrase contained in text, ignoring case.
func Find(text string, phrases []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}

func Contains(text string, phrases []string) bool {
	_, ok := Find(text, phrases)
	return ok
}

// RequiresPrepayment reports whether text signals that the offer must be paid
// online. A safe phrase anywhere in text wins over any bad phrase.
func (l *Lexicon) RequiresPrepayment(text string) (string, bool) {
	if Contains(text, l.Prepayment.Safe) {
		return "", false
	}
	return Find(text, l.Prepayment.Bad)
}
