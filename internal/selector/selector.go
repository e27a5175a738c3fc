// Package selector resolves semantic page targets through an ordered list of
// lookup strategies, returning the first visible match.
package selector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"travelbot/internal/browser"
	"travelbot/internal/observability"
)

var ErrNotFound = errors.New("selector: target not found")

type Kind int

const (
	KindCSS Kind = iota
	KindLabel
	KindText
	KindNear
	KindFrame
)

func (k Kind) String() string {
	switch k {
	case KindCSS:
		return "css"
	case KindLabel:
		return "label"
	case KindText:
		return "text"
	case KindNear:
		return "near"
	case KindFrame:
		return "frame"
	}
	return "unknown"
}

// Strategy is one way of finding a target. CSS scopes the lookup; Pattern is
// a case-insensitive regular expression whose meaning depends on Kind.
type Strategy struct {
	Kind    Kind
	CSS     string
	Pattern string
}

func (s Strategy) String() string {
	switch s.Kind {
	case KindCSS, KindFrame:
		if s.Pattern != "" {
			return fmt.Sprintf("%s(%s ~ %s)", s.Kind, s.CSS, s.Pattern)
		}
		return fmt.Sprintf("%s(%s)", s.Kind, s.CSS)
	case KindLabel:
		return fmt.Sprintf("label(%s)", s.Pattern)
	}
	return fmt.Sprintf("%s(%s ~ %s)", s.Kind, s.CSS, s.Pattern)
}

func CSS(css string) Strategy { return Strategy{Kind: KindCSS, CSS: css} }

func Label(pattern string) Strategy { return Strategy{Kind: KindLabel, Pattern: pattern} }

func Text(css, pattern string) Strategy { return Strategy{Kind: KindText, CSS: css, Pattern: pattern} }

// Near finds css inside the closest container of text matching anchor.
func Near(anchor, css string) Strategy { return Strategy{Kind: KindNear, CSS: css, Pattern: anchor} }

// InFrames scans every embedded frame for css, then for a field labelled
// pattern when one is given.
func InFrames(css, pattern string) Strategy {
	return Strategy{Kind: KindFrame, CSS: css, Pattern: pattern}
}

type Target struct {
	Name       string
	Strategies []Strategy
}

func NewTarget(name string, strategies ...Strategy) Target {
	return Target{Name: name, Strategies: strategies}
}

type Match struct {
	Element  browser.Element
	Strategy Strategy
	// Doc is the document the element was found in.
	Doc browser.Document
}

type Resolver struct {
	// Timeout bounds each strategy individually.
	Timeout  time.Duration
	Interval time.Duration
	log      zerolog.Logger
}

func New(timeout time.Duration, log zerolog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Resolver{
		Timeout:  timeout,
		Interval: 100 * time.Millisecond,
		log:      log.With().Str("component", "selector").Logger(),
	}
}

func (r *Resolver) attempt(ctx context.Context, page browser.Page, s Strategy) (browser.Element, browser.Document, error) {
	switch s.Kind {
	case KindCSS:
		el, err := page.Element(ctx, s.CSS)
		return el, page, err
	case KindLabel:
		el, err := page.ElementByLabel(ctx, s.Pattern)
		return el, page, err
	case KindText:
		el, err := page.ElementByText(ctx, s.CSS, s.Pattern)
		return el, page, err
	case KindNear:
		el, err := page.ElementNear(ctx, s.Pattern, s.CSS)
		return el, page, err
	case KindFrame:
		frames, err := page.Frames(ctx)
		if err != nil {
			return nil, nil, err
		}
		for _, f := range frames {
			if s.CSS != "" {
				if el, err := f.Element(ctx, s.CSS); err == nil {
					return el, f, nil
				}
			}
			if s.Pattern != "" {
				if el, err := f.ElementByLabel(ctx, s.Pattern); err == nil {
					return el, f, nil
				}
			}
		}
		return nil, nil, browser.ErrNoElement
	}
	return nil, nil, fmt.Errorf("unknown strategy kind %d", s.Kind)
}

// try polls one strategy until it yields an element or its timeout expires.
func (r *Resolver) try(ctx context.Context, page browser.Page, s Strategy) (browser.Element, browser.Document, bool) {
	sctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	for {
		el, doc, err := r.attempt(sctx, page, s)
		if err == nil && el != nil {
			return el, doc, true
		}
		select {
		case <-sctx.Done():
			return nil, nil, false
		case <-time.After(r.Interval):
		}
	}
}

// Locate tries each of t's strategies in order and returns the first visible
// element found.
func (r *Resolver) Locate(ctx context.Context, page browser.Page, t Target) (Match, error) {
	for _, s := range t.Strategies {
		if err := ctx.Err(); err != nil {
			return Match{}, fmt.Errorf("%s: %w", t.Name, err)
		}
		el, doc, ok := r.try(ctx, page, s)
		if ok {
			r.log.Debug().Str("target", t.Name).Stringer("strategy", s).Msg("resolved")
			observability.ObserveSelector(t.Name, s.Kind.String())
			return Match{Element: el, Strategy: s, Doc: doc}, nil
		}
		r.log.Debug().Str("target", t.Name).Stringer("strategy", s).Msg("strategy failed, trying next")
	}
	observability.ObserveSelector(t.Name, "none")
	return Match{}, fmt.Errorf("%w: %s", ErrNotFound, t.Name)
}

// Present reports whether any strategy for t finds something right now,
// without waiting.
func (r *Resolver) Present(ctx context.Context, page browser.Page, t Target) bool {
	for _, s := range t.Strategies {
		if el, _, err := r.attempt(ctx, page, s); err == nil && el != nil {
			return true
		}
	}
	return false
}

// First returns the first of targets that resolves.
func (r *Resolver) First(ctx context.Context, page browser.Page, targets ...Target) (Target, Match, error) {
	for _, t := range targets {
		m, err := r.Locate(ctx, page, t)
		if err == nil {
			return t, m, nil
		}
		if ctx.Err() != nil {
			return Target{}, Match{}, err
		}
	}
	return Target{}, Match{}, ErrNotFound
}

// Expand resolves t, and when it is not found clicks the disclosure control
// before resolving again. Hidden optional sections on checkout forms are
// revealed this way.
func (r *Resolver) Expand(ctx context.Context, page browser.Page, t, disclosure Target) (Match, error) {
	if r.Present(ctx, page, t) {
		return r.Locate(ctx, page, t)
	}
	d, err := r.Locate(ctx, page, disclosure)
	if err != nil {
		return Match{}, fmt.Errorf("%w: %s (no %s)", ErrNotFound, t.Name, disclosure.Name)
	}
	if err := d.Element.Click(ctx); err != nil {
		return Match{}, fmt.Errorf("open %s: %w", disclosure.Name, err)
	}
	return r.Locate(ctx, page, t)
}
