// Package challenge detects bot challenges on a page and optionally solves
// them through an external service.
package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"travelbot/internal/browser"
	"travelbot/internal/config"
)

var ErrUnsolved = errors.New("challenge: not solved")

type Solver interface {
	// Solve attempts to clear a challenge on page. It reports false when
	// nothing was solved.
	Solve(ctx context.Context, page browser.Page, action string) (bool, error)
}

// None never solves anything.
type None struct{}

func (None) Solve(context.Context, browser.Page, string) (bool, error) { return false, nil }

var markers = []string{"recaptcha", "hcaptcha", "challenges.cloudflare.com", "captcha-delivery", "arkoselabs"}

// Detect reports whether page shows a challenge widget or interstitial.
func Detect(ctx context.Context, page browser.Page) bool {
	frames, err := page.Frames(ctx)
	if err == nil {
		for _, f := range frames {
			u := strings.ToLower(f.URL())
			for _, m := range markers {
				if strings.Contains(u, m) && !strings.Contains(u, "recaptcha/api2/aframe") && !strings.Contains(u, "size=invisible") {
					return true
				}
			}
		}
	}
	text, err := page.Text(ctx)
	if err != nil {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range []string{"verify you are human", "are you a robot", "press and hold", "unusual traffic"} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// TwoCaptcha requests reCAPTCHA v3 tokens from 2captcha.com and injects them
// into the page's response field.
type TwoCaptcha struct {
	APIKey   string
	SiteKey  string
	PageURL  string
	Endpoint string
	Poll     time.Duration
	MaxPolls int
	Client   *http.Client
	log      zerolog.Logger
}

func NewTwoCaptcha(cfg config.CaptchaConfig, log zerolog.Logger) *TwoCaptcha {
	return &TwoCaptcha{
		APIKey:   cfg.APIKey,
		SiteKey:  cfg.SiteKey,
		PageURL:  cfg.PageURL,
		Endpoint: "http://2captcha.com",
		Poll:     5 * time.Second,
		MaxPolls: 24,
		Client:   &http.Client{Timeout: 30 * time.Second},
		log:      log.With().Str("component", "2captcha").Logger(),
	}
}

// FromConfig returns a TwoCaptcha solver when an API key is configured and
// None otherwise.
func FromConfig(cfg config.CaptchaConfig, log zerolog.Logger) Solver {
	if cfg.APIKey == "" || cfg.SiteKey == "" {
		return None{}
	}
	return NewTwoCaptcha(cfg, log)
}

type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

func (s *TwoCaptcha) call(ctx context.Context, path string, q url.Values) (apiResponse, error) {
	var out apiResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Endpoint+path+"?"+q.Encode(), nil)
	if err != nil {
		return out, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("2captcha %s: HTTP %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("2captcha %s: %w", path, err)
	}
	return out, nil
}

// Token submits a task and polls until a token is ready.
func (s *TwoCaptcha) Token(ctx context.Context, action string) (string, error) {
	if action == "" {
		action = "submit"
	}
	submit, err := s.call(ctx, "/in.php", url.Values{
		"key":       {s.APIKey},
		"method":    {"userrecaptcha"},
		"googlekey": {s.SiteKey},
		"pageurl":   {s.PageURL},
		"version":   {"v3"},
		"action":    {action},
		"min_score": {"0.7"},
		"json":      {"1"},
	})
	if err != nil {
		return "", err
	}
	if submit.Status != 1 {
		return "", fmt.Errorf("2captcha submit rejected: %s", submit.Request)
	}
	taskID := submit.Request
	s.log.Debug().Str("task", taskID).Msg("task submitted")

	for i := 0; i < s.MaxPolls; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.Poll):
		}

		res, err := s.call(ctx, "/res.php", url.Values{
			"key":    {s.APIKey},
			"action": {"get"},
			"id":     {taskID},
			"json":   {"1"},
		})
		if err != nil {
			return "", err
		}
		if res.Status == 1 {
			return res.Request, nil
		}
		if res.Request != "CAPCHA_NOT_READY" {
			return "", fmt.Errorf("2captcha: %s", res.Request)
		}
	}
	return "", fmt.Errorf("%w: no token after %d polls", ErrUnsolved, s.MaxPolls)
}

const injectJS = `(token) => {
	const areas = document.querySelectorAll('textarea[name="g-recaptcha-response"]');
	areas.forEach(a => {
		a.value = token;
		a.dispatchEvent(new Event("change", { bubbles: true }));
	});
	return String(areas.length);
}`

func (s *TwoCaptcha) Solve(ctx context.Context, page browser.Page, action string) (bool, error) {
	token, err := s.Token(ctx, action)
	if err != nil {
		return false, err
	}
	n, err := page.Evaluate(ctx, injectJS, token)
	if err != nil {
		return false, fmt.Errorf("inject token: %w", err)
	}
	s.log.Info().Str("fields", n).Msg("recaptcha token injected")
	return n != "0", nil
}
