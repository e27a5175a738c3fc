package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog"

	"travelbot/internal/session"
)

var ErrBrowserRunning = errors.New("browser profile is locked by another running browser")

type RodConfig struct {
	Headless        bool
	Bin             string
	ProfilePath     string
	UserAgent       string
	ViewportWidth   int
	ViewportHeight  int
	PageLoadTimeout time.Duration
	NoSandbox       bool
}

// Rod launches a local Chrome through go-rod. Every page it creates has the
// stealth evasions applied.
type Rod struct {
	cfg RodConfig
	log zerolog.Logger
}

func NewRod(cfg RodConfig, log zerolog.Logger) *Rod {
	if cfg.PageLoadTimeout <= 0 {
		cfg.PageLoadTimeout = 60 * time.Second
	}
	return &Rod{cfg: cfg, log: log.With().Str("component", "browser").Logger()}
}

func (r *Rod) Launch(ctx context.Context, state *session.State) (Browser, error) {
	// Leakless deadlocks on Windows, see go-rod/rod#853.
	useLeakless := runtime.GOOS != "windows"

	l := launcher.New().
		Leakless(useLeakless).
		Headless(r.cfg.Headless)

	if r.cfg.NoSandbox {
		l = l.NoSandbox(true)
	}

	// A saved state must not mix with a persistent profile's cookies.
	if state == nil && r.cfg.ProfilePath != "" {
		l = l.UserDataDir(r.cfg.ProfilePath)
		r.log.Debug().Str("profile", r.cfg.ProfilePath).Msg("using persistent profile")
	}

	if r.cfg.Bin != "" {
		l = l.Bin(r.cfg.Bin)
	} else if chromePath, ok := launcher.LookPath(); ok {
		l = l.Bin(chromePath)
		r.log.Debug().Str("bin", chromePath).Msg("using system chrome")
	}

	url, err := l.Launch()
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "Opening in existing browser session") ||
			strings.Contains(msg, "ProcessSingleton") ||
			strings.Contains(msg, "SingletonLock") {
			return nil, fmt.Errorf("%w: close every Chrome window using %s", ErrBrowserRunning, r.cfg.ProfilePath)
		}
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(url).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	rb := &rodBrowser{
		b:        b,
		launcher: l,
		cfg:      r.cfg,
		state:    state,
		log:      r.log,
		stop:     make(chan struct{}),
	}
	go rb.watch()

	name := "anonymous"
	if state != nil {
		name = state.Name
	}
	r.log.Info().Str("session", name).Bool("headless", r.cfg.Headless).Msg("browser launched")
	return rb, nil
}

type rodBrowser struct {
	b        *rod.Browser
	launcher *launcher.Launcher
	cfg      RodConfig
	state    *session.State
	log      zerolog.Logger
	stop     chan struct{}
	closed   atomic.Bool
	dead     atomic.Bool
}

func (rb *rodBrowser) alive() bool {
	_, err := rb.b.Version()
	if err != nil {
		rb.log.Debug().Err(err).Msg("browser version check failed")
		return false
	}
	return true
}

func (rb *rodBrowser) watch() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-rb.stop:
			return
		case <-ticker.C:
			if !rb.alive() {
				rb.dead.Store(true)
				rb.log.Warn().Msg("browser went away")
				return
			}
		}
	}
}

func (rb *rodBrowser) NewPage(ctx context.Context) (Page, error) {
	if rb.dead.Load() {
		return nil, errors.New("browser is no longer running")
	}

	p, err := stealth.Page(rb.b)
	if err != nil {
		return nil, fmt.Errorf("failed to create stealth page: %w", err)
	}
	p = p.Context(ctx)

	if rb.cfg.UserAgent != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      rb.cfg.UserAgent,
			AcceptLanguage: "en-US,en;q=0.9",
		}); err != nil {
			rb.log.Debug().Err(err).Msg("failed to set user agent")
		}
	}

	if rb.cfg.ViewportWidth > 0 && rb.cfg.ViewportHeight > 0 {
		if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             rb.cfg.ViewportWidth,
			Height:            rb.cfg.ViewportHeight,
			DeviceScaleFactor: 1,
		}); err != nil {
			rb.log.Debug().Err(err).Msg("failed to set viewport")
		}
	}

	rp := &rodPage{rodDoc: rodDoc{p: p}, timeout: rb.cfg.PageLoadTimeout}
	if rb.state != nil {
		if err := rp.restore(ctx, rb.state); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("restore session %s: %w", rb.state.Name, err)
		}
	}
	return rp, nil
}

func (rb *rodBrowser) Close() error {
	if !rb.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(rb.stop)
	err := rb.b.Close()
	rb.launcher.Cleanup()
	return err
}

type rodDoc struct {
	p *rod.Page
}

func (d rodDoc) visible(ctx context.Context, els rod.Elements) []Element {
	var out []Element
	for _, el := range els {
		el = el.Context(ctx)
		if ok, err := el.Visible(); err == nil && ok {
			out = append(out, &rodElement{el: el})
		}
	}
	return out
}

func (d rodDoc) first(ctx context.Context, els rod.Elements, err error) (Element, error) {
	if err != nil {
		return nil, err
	}
	vis := d.visible(ctx, els)
	if len(vis) == 0 {
		return nil, ErrNoElement
	}
	return vis[0], nil
}

func (d rodDoc) Element(ctx context.Context, css string) (Element, error) {
	els, err := d.p.Context(ctx).Elements(css)
	return d.first(ctx, els, err)
}

func (d rodDoc) Elements(ctx context.Context, css string) ([]Element, error) {
	els, err := d.p.Context(ctx).Elements(css)
	if err != nil {
		return nil, err
	}
	return d.visible(ctx, els), nil
}

func (d rodDoc) ElementByText(ctx context.Context, css, pattern string) (Element, error) {
	els, err := d.p.Context(ctx).ElementsByJS(rod.Eval(jsByText, css, pattern))
	return d.first(ctx, els, err)
}

func (d rodDoc) ElementByLabel(ctx context.Context, pattern string) (Element, error) {
	els, err := d.p.Context(ctx).ElementsByJS(rod.Eval(jsByLabel, pattern))
	return d.first(ctx, els, err)
}

func (d rodDoc) ElementNear(ctx context.Context, anchorPattern, css string) (Element, error) {
	els, err := d.p.Context(ctx).ElementsByJS(rod.Eval(jsNear, anchorPattern, css))
	return d.first(ctx, els, err)
}

func (d rodDoc) Text(ctx context.Context) (string, error) {
	res, err := d.p.Context(ctx).Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (d rodDoc) HTML(ctx context.Context) (string, error) {
	return d.p.Context(ctx).HTML()
}

type rodFrame struct {
	rodDoc
	name string
	url  string
}

func (f *rodFrame) Name() string { return f.name }
func (f *rodFrame) URL() string  { return f.url }

type rodPage struct {
	rodDoc
	timeout time.Duration
}

func (p *rodPage) restore(ctx context.Context, st *session.State) error {
	params := make([]*proto.NetworkCookieParam, 0, len(st.Cookies))
	for _, c := range st.Cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
			Expires:  proto.TimeSinceEpoch(c.Expires),
		})
	}
	if len(params) > 0 {
		if err := p.p.Context(ctx).SetCookies(params); err != nil {
			return err
		}
	}

	for _, o := range st.Origins {
		if len(o.LocalStorage) == 0 {
			continue
		}
		if err := p.Navigate(ctx, o.Origin); err != nil {
			return err
		}
		for _, item := range o.LocalStorage {
			if _, err := p.p.Context(ctx).Eval(`(k, v) => localStorage.setItem(k, v)`, item.Name, item.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.p.Context(ctx).Timeout(p.timeout)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("page load: %w", err)
	}
	return nil
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.p.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *rodPage) Frames(ctx context.Context) ([]Frame, error) {
	iframes, err := p.p.Context(ctx).Elements("iframe")
	if err != nil {
		return nil, err
	}
	var frames []Frame
	for _, el := range iframes {
		el = el.Context(ctx)
		fp, err := el.Frame()
		if err != nil {
			continue
		}
		f := &rodFrame{rodDoc: rodDoc{p: fp}}
		if v, err := el.Attribute("name"); err == nil && v != nil {
			f.name = *v
		}
		if v, err := el.Attribute("src"); err == nil && v != nil {
			f.url = *v
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func (p *rodPage) Screenshot(ctx context.Context, path string) error {
	data, err := p.p.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (p *rodPage) PDF(ctx context.Context, path string) error {
	r, err := p.p.Context(ctx).PDF(&proto.PagePrintToPDF{PrintBackground: true})
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (p *rodPage) SetContent(ctx context.Context, html string) error {
	return p.p.Context(ctx).SetDocumentContent(html)
}

func (p *rodPage) MoveMouse(ctx context.Context, x, y float64) error {
	return p.p.Context(ctx).Mouse.MoveLinear(proto.Point{X: x, Y: y}, 8)
}

func (p *rodPage) Scroll(ctx context.Context, dy float64) error {
	return p.p.Context(ctx).Mouse.Scroll(0, dy, 4)
}

var keys = map[string]input.Key{
	"Escape": input.Escape,
	"Enter":  input.Enter,
	"Tab":    input.Tab,
}

func (p *rodPage) Press(ctx context.Context, key string) error {
	k, ok := keys[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	return p.p.Context(ctx).Keyboard.Press(k)
}

func (p *rodPage) Evaluate(ctx context.Context, js string, args ...interface{}) (string, error) {
	res, err := p.p.Context(ctx).Eval(js, args...)
	if err != nil {
		return "", err
	}
	if res.Value.Nil() {
		return "", nil
	}
	if s, ok := res.Value.Val().(string); ok {
		return s, nil
	}
	return res.Value.JSON("", ""), nil
}

func (p *rodPage) Close() error {
	return p.p.Close()
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Click(ctx context.Context) error {
	el := e.el.Context(ctx)
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		// Overlays intercept real pointer events; fall back to a DOM click.
		if _, jsErr := el.Eval(`() => this.click()`); jsErr != nil {
			return err
		}
	}
	return nil
}

func (e *rodElement) Clear(ctx context.Context) error {
	el := e.el.Context(ctx)
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input("")
}

func (e *rodElement) Input(ctx context.Context, text string) error {
	el := e.el.Context(ctx)
	if t, err := el.Attribute("type"); err == nil && t != nil && *t == "date" {
		_, err := el.Eval(jsSetValue, text)
		return err
	}
	return el.Input(text)
}

func (e *rodElement) Select(ctx context.Context, values ...string) error {
	res, err := e.el.Context(ctx).Eval(jsSelect, values)
	if err != nil {
		return err
	}
	if !res.Value.Bool() {
		return fmt.Errorf("%w: no option matching %v", ErrNoElement, values)
	}
	return nil
}

func (e *rodElement) Value(ctx context.Context) (string, error) {
	v, err := e.el.Context(ctx).Property("value")
	if err != nil {
		return "", err
	}
	if v.Nil() {
		return "", nil
	}
	return v.Str(), nil
}

func (e *rodElement) Attribute(ctx context.Context, name string) (string, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil || v == nil {
		return "", err
	}
	return *v, nil
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

func (e *rodElement) Visible(ctx context.Context) (bool, error) {
	return e.el.Context(ctx).Visible()
}

func (e *rodElement) Checked(ctx context.Context) (bool, error) {
	v, err := e.el.Context(ctx).Property("checked")
	if err != nil {
		return false, err
	}
	return v.Bool(), nil
}

func (e *rodElement) Tag(ctx context.Context) (string, error) {
	res, err := e.el.Context(ctx).Eval(`() => this.tagName.toLowerCase()`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (e *rodElement) Center(ctx context.Context) (float64, float64, error) {
	shape, err := e.el.Context(ctx).Shape()
	if err != nil {
		return 0, 0, err
	}
	box := shape.Box()
	if box == nil {
		return 0, 0, ErrNoElement
	}
	return box.X + box.Width/2, box.Y + box.Height/2, nil
}
