// Package browser defines the browser-automation capability the booking
// pipeline consumes, and a go-rod implementation of it.
package browser

import (
	"context"
	"errors"

	"travelbot/internal/session"
)

// ErrNoElement is returned by lookups when no visible element matches.
var ErrNoElement = errors.New("browser: no visible element")

type Element interface {
	Click(ctx context.Context) error
	// Clear empties a text control.
	Clear(ctx context.Context) error
	// Input inserts text at the caret, firing input events.
	Input(ctx context.Context, text string) error
	// Select picks the first option whose value or label matches one of
	// values, case-insensitively.
	Select(ctx context.Context, values ...string) error
	Value(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
	Text(ctx context.Context) (string, error)
	Visible(ctx context.Context) (bool, error)
	Checked(ctx context.Context) (bool, error)
	Tag(ctx context.Context) (string, error)
	Center(ctx context.Context) (x, y float64, err error)
}

// Document is anything elements can be looked up in: the top-level page or
// one of its frames. Text patterns are case-insensitive regular expressions.
type Document interface {
	Element(ctx context.Context, css string) (Element, error)
	Elements(ctx context.Context, css string) ([]Element, error)
	ElementByText(ctx context.Context, css, pattern string) (Element, error)
	ElementByLabel(ctx context.Context, pattern string) (Element, error)
	ElementNear(ctx context.Context, anchorPattern, css string) (Element, error)
	Text(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
}

// Frame is an embedded document, possibly from another origin.
type Frame interface {
	Document
	Name() string
	URL() string
}

type Page interface {
	Document
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Frames(ctx context.Context) ([]Frame, error)
	Screenshot(ctx context.Context, path string) error
	PDF(ctx context.Context, path string) error
	SetContent(ctx context.Context, html string) error
	MoveMouse(ctx context.Context, x, y float64) error
	Scroll(ctx context.Context, dy float64) error
	Press(ctx context.Context, key string) error
	// Evaluate runs a JS function expression and returns its result as a string.
	Evaluate(ctx context.Context, js string, args ...interface{}) (string, error)
	Close() error
}

type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Launcher starts a browser presenting the given authenticated state. A nil
// state starts an anonymous session.
type Launcher interface {
	Launch(ctx context.Context, state *session.State) (Browser, error)
}

// Documents returns the page followed by each of its frames.
func Documents(ctx context.Context, p Page) []Document {
	docs := []Document{p}
	frames, err := p.Frames(ctx)
	if err != nil {
		return docs
	}
	for _, f := range frames {
		docs = append(docs, f)
	}
	return docs
}
