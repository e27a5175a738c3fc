// Package search drives provider search forms and verifies that the results
// shown are the ones requested.
package search

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"travelbot/internal/booking"
	"travelbot/internal/browser"
	"travelbot/internal/humanize"
)

// Navigator opens provider pages, retrying network failures a bounded number
// of times, and clears overlays that block interaction.
type Navigator struct {
	Attempts int
	Backoff  time.Duration
	Popups   []string

	h   humanize.Humanizer
	log zerolog.Logger
}

func NewNavigator(popups []string, h humanize.Humanizer, log zerolog.Logger) *Navigator {
	return &Navigator{
		Attempts: 3,
		Backoff:  2 * time.Second,
		Popups:   popups,
		h:        h,
		log:      log.With().Str("component", "navigator").Logger(),
	}
}

// Open navigates to url. Network errors are retried after a jittered delay;
// anything else is returned at once.
func (n *Navigator) Open(ctx context.Context, page browser.Page, url string) error {
	attempts := max(n.Attempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = page.Navigate(ctx, url)
		if err == nil {
			n.DismissPopups(ctx, page)
			return nil
		}
		if !booking.IsNetworkError(err) || ctx.Err() != nil {
			return fmt.Errorf("navigate: %w", err)
		}
		if attempt == attempts {
			break
		}
		delay := n.Backoff + time.Duration(rand.Int63n(int64(n.Backoff/2)+1))
		n.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("navigation failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("navigate after %d attempts: %w", attempts, err)
}

// DismissPopups clicks every visible overlay control and returns how many
// were closed.
func (n *Navigator) DismissPopups(ctx context.Context, page browser.Page) int {
	closed := 0
	for _, css := range n.Popups {
		el, err := page.Element(ctx, css)
		if err != nil {
			continue
		}
		if err := el.Click(ctx); err != nil {
			n.log.Debug().Err(err).Str("selector", css).Msg("popup click failed")
			continue
		}
		closed++
		_ = n.h.Pause(ctx, humanize.Short)
	}
	if closed > 0 {
		n.log.Debug().Int("closed", closed).Msg("dismissed popups")
	}
	return closed
}
