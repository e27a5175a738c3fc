// Package browsertest provides a scripted in-memory browser for exercising
// booking flows without Chrome.
//
// A Page shows one Screen at a time. Elements answer to the CSS selectors
// listed on them, and click handlers move the page between screens.
package browsertest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"travelbot/internal/browser"
	"travelbot/internal/session"
)

type Element struct {
	// Selectors are matched exactly against each comma-separated part of a query.
	Selectors   []string
	Label       string
	Near        string
	TextContent string
	Attrs       map[string]string
	Val         string
	Hidden      bool
	IsChecked   bool
	TagName     string
	Options     []string
	OnClick     func(p *Page)
	OnInput     func(p *Page, value string)
	ClickErr    error

	page   *Page
	Clicks int
	Inputs []string
}

func (e *Element) matches(css string) bool {
	for _, part := range strings.Split(css, ",") {
		part = strings.TrimSpace(part)
		for _, s := range e.Selectors {
			if s == part {
				return true
			}
		}
	}
	return false
}

func (e *Element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.ClickErr != nil {
		return e.ClickErr
	}
	e.Clicks++
	if e.TagName == "input" && (e.Attrs["type"] == "checkbox" || e.Attrs["type"] == "radio") {
		e.IsChecked = true
	}
	if e.OnClick != nil && e.page != nil {
		e.OnClick(e.page)
	}
	return nil
}

func (e *Element) Clear(ctx context.Context) error {
	e.Val = ""
	return ctx.Err()
}

func (e *Element) Input(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.Val += text
	e.Inputs = append(e.Inputs, text)
	if e.OnInput != nil && e.page != nil {
		e.OnInput(e.page, e.Val)
	}
	return nil
}

func (e *Element) Select(ctx context.Context, values ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, v := range values {
		lv := strings.ToLower(strings.TrimSpace(v))
		for _, o := range e.Options {
			if strings.ToLower(o) == lv {
				e.Val = o
				return nil
			}
		}
	}
	for _, v := range values {
		lv := strings.ToLower(strings.TrimSpace(v))
		for _, o := range e.Options {
			if lv != "" && strings.Contains(strings.ToLower(o), lv) {
				e.Val = o
				return nil
			}
		}
	}
	return fmt.Errorf("%w: no option matching %v", browser.ErrNoElement, values)
}

func (e *Element) Value(ctx context.Context) (string, error) { return e.Val, ctx.Err() }

func (e *Element) Attribute(ctx context.Context, name string) (string, error) {
	return e.Attrs[name], ctx.Err()
}

func (e *Element) Text(ctx context.Context) (string, error) { return e.TextContent, ctx.Err() }

func (e *Element) Visible(ctx context.Context) (bool, error) { return !e.Hidden, ctx.Err() }

func (e *Element) Checked(ctx context.Context) (bool, error) { return e.IsChecked, ctx.Err() }

func (e *Element) Tag(ctx context.Context) (string, error) {
	if e.TagName == "" {
		return "div", nil
	}
	return e.TagName, ctx.Err()
}

func (e *Element) Center(ctx context.Context) (float64, float64, error) {
	return 100, 200, ctx.Err()
}

// doc implements browser.Document over a fixed element set.
type doc struct {
	text     func() string
	html     func() string
	elements func() []*Element
}

func visible(els []*Element) []*Element {
	var out []*Element
	for _, e := range els {
		if !e.Hidden {
			out = append(out, e)
		}
	}
	return out
}

func firstOf(ctx context.Context, els []*Element) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, browser.ErrNoElement
	}
	return els[0], nil
}

func (d doc) query(css string) []*Element {
	var out []*Element
	for _, e := range visible(d.elements()) {
		if e.matches(css) {
			out = append(out, e)
		}
	}
	return out
}

func (d doc) Element(ctx context.Context, css string) (browser.Element, error) {
	return firstOf(ctx, d.query(css))
}

func (d doc) Elements(ctx context.Context, css string) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []browser.Element
	for _, e := range d.query(css) {
		out = append(out, e)
	}
	return out, nil
}

func (d doc) ElementByText(ctx context.Context, css, pattern string) (browser.Element, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	var out []*Element
	for _, e := range d.query(css) {
		if re.MatchString(e.TextContent) || re.MatchString(e.Attrs["aria-label"]) {
			out = append(out, e)
		}
	}
	return firstOf(ctx, out)
}

func (d doc) ElementByLabel(ctx context.Context, pattern string) (browser.Element, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	var out []*Element
	for _, e := range visible(d.elements()) {
		if (e.Label != "" && re.MatchString(e.Label)) ||
			(e.Attrs["aria-label"] != "" && re.MatchString(e.Attrs["aria-label"])) ||
			(e.Attrs["placeholder"] != "" && re.MatchString(e.Attrs["placeholder"])) {
			out = append(out, e)
		}
	}
	return firstOf(ctx, out)
}

func (d doc) ElementNear(ctx context.Context, anchorPattern, css string) (browser.Element, error) {
	re, err := regexp.Compile("(?i)" + anchorPattern)
	if err != nil {
		return nil, err
	}
	var out []*Element
	for _, e := range d.query(css) {
		if e.Near != "" && re.MatchString(e.Near) {
			out = append(out, e)
		}
	}
	return firstOf(ctx, out)
}

func (d doc) Text(ctx context.Context) (string, error) { return d.text(), ctx.Err() }

func (d doc) HTML(ctx context.Context) (string, error) { return d.html(), ctx.Err() }

type Frame struct {
	FrameName string
	FrameURL  string
	Body      string
	Elements  []*Element
}

func (f *Frame) doc() doc {
	return doc{
		text:     func() string { return f.Body },
		html:     func() string { return f.Body },
		elements: func() []*Element { return f.Elements },
	}
}

type frameDoc struct {
	doc
	f *Frame
}

func (d frameDoc) Name() string { return d.f.FrameName }
func (d frameDoc) URL() string  { return d.f.FrameURL }

type Screen struct {
	URL      string
	Text     string
	HTML     string
	Elements []*Element
	Frames   []*Frame
}

// Page is a scripted browser.Page. Screens are keyed by name; Router maps a
// navigated URL to a screen name.
type Page struct {
	mu      sync.Mutex
	Screens map[string]*Screen
	Current string
	Router  func(url string) string
	// EvalFunc answers Evaluate calls. It defaults to returning "".
	EvalFunc func(js string, args ...interface{}) (string, error)
	OnKey    func(p *Page, key string)

	url     string
	Visited []string
	Shots   []string
	PDFs    []string
	Keys    []string
	Evals   []string
	Content []string
	Moves   int
	Scrolls int
	Closed  bool
}

func NewPage(start string, screens map[string]*Screen) *Page {
	p := &Page{Screens: screens}
	p.Show(start)
	return p
}

// Show switches to the named screen.
func (p *Page) Show(name string) {
	s, ok := p.Screens[name]
	if !ok {
		panic("browsertest: unknown screen " + name)
	}
	p.Current = name
	if s.URL != "" {
		p.url = s.URL
	}
	for _, e := range s.Elements {
		e.page = p
	}
	for _, f := range s.Frames {
		for _, e := range f.Elements {
			e.page = p
		}
	}
}

func (p *Page) screen() *Screen {
	return p.Screens[p.Current]
}

func (p *Page) doc() doc {
	return doc{
		text:     func() string { return p.screen().Text },
		html:     func() string { return p.screen().HTML },
		elements: func() []*Element { return p.screen().Elements },
	}
}

func (p *Page) Element(ctx context.Context, css string) (browser.Element, error) {
	return p.doc().Element(ctx, css)
}

func (p *Page) Elements(ctx context.Context, css string) ([]browser.Element, error) {
	return p.doc().Elements(ctx, css)
}

func (p *Page) ElementByText(ctx context.Context, css, pattern string) (browser.Element, error) {
	return p.doc().ElementByText(ctx, css, pattern)
}

func (p *Page) ElementByLabel(ctx context.Context, pattern string) (browser.Element, error) {
	return p.doc().ElementByLabel(ctx, pattern)
}

func (p *Page) ElementNear(ctx context.Context, anchorPattern, css string) (browser.Element, error) {
	return p.doc().ElementNear(ctx, anchorPattern, css)
}

func (p *Page) Text(ctx context.Context) (string, error) { return p.doc().Text(ctx) }

func (p *Page) HTML(ctx context.Context) (string, error) { return p.doc().HTML(ctx) }

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.Visited = append(p.Visited, url)
	p.mu.Unlock()
	if p.Router != nil {
		if name := p.Router(url); name != "" {
			p.Show(name)
		}
	}
	p.url = url
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) { return p.url, ctx.Err() }

func (p *Page) Frames(ctx context.Context) ([]browser.Frame, error) {
	var out []browser.Frame
	for _, f := range p.screen().Frames {
		out = append(out, frameDoc{doc: f.doc(), f: f})
	}
	return out, ctx.Err()
}

func writeStub(path, body string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(body), 0644)
}

func (p *Page) Screenshot(ctx context.Context, path string) error {
	p.mu.Lock()
	p.Shots = append(p.Shots, path)
	p.mu.Unlock()
	return writeStub(path, "png")
}

func (p *Page) PDF(ctx context.Context, path string) error {
	p.mu.Lock()
	p.PDFs = append(p.PDFs, path)
	p.mu.Unlock()
	return writeStub(path, "%PDF-1.4")
}

func (p *Page) SetContent(ctx context.Context, html string) error {
	p.Content = append(p.Content, html)
	return ctx.Err()
}

func (p *Page) MoveMouse(ctx context.Context, x, y float64) error {
	p.Moves++
	return ctx.Err()
}

func (p *Page) Scroll(ctx context.Context, dy float64) error {
	p.Scrolls++
	return ctx.Err()
}

func (p *Page) Press(ctx context.Context, key string) error {
	p.Keys = append(p.Keys, key)
	if p.OnKey != nil {
		p.OnKey(p, key)
	}
	return ctx.Err()
}

func (p *Page) Evaluate(ctx context.Context, js string, args ...interface{}) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.Evals = append(p.Evals, js)
	if p.EvalFunc != nil {
		return p.EvalFunc(js, args...)
	}
	return "", nil
}

func (p *Page) Close() error {
	p.Closed = true
	return nil
}

// Browser hands out pre-built pages in order.
type Browser struct {
	Pages  []*Page
	next   int
	Closed bool
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	if b.next >= len(b.Pages) {
		return nil, fmt.Errorf("browsertest: no page scripted for call %d", b.next+1)
	}
	p := b.Pages[b.next]
	b.next++
	return p, ctx.Err()
}

func (b *Browser) Close() error {
	b.Closed = true
	return nil
}

// Launcher records the sessions it was asked to present. New builds the
// browser for each launch; by default every launch gets an empty Browser.
type Launcher struct {
	mu       sync.Mutex
	New      func(state *session.State) *Browser
	Launched []string
	Err      error
}

func (l *Launcher) Launch(ctx context.Context, state *session.State) (browser.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	name := ""
	if state != nil {
		name = state.Name
	}
	l.Launched = append(l.Launched, name)
	if l.Err != nil {
		return nil, l.Err
	}
	if l.New == nil {
		return &Browser{}, nil
	}
	return l.New(state), ctx.Err()
}
