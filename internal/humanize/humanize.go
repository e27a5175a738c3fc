// Package humanize paces browser interactions the way a person would:
// jittered pauses, wandering pointer movement and uneven typing cadence.
package humanize

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"travelbot/internal/browser"
	"travelbot/internal/config"
)

type Pace int

const (
	Short Pace = iota
	Step
	Settle
	Think
)

func (p Pace) String() string {
	switch p {
	case Short:
		return "short"
	case Step:
		return "step"
	case Settle:
		return "settle"
	case Think:
		return "think"
	}
	return "unknown"
}

// Humanizer is what the booking flows use to act on a page.
type Humanizer interface {
	Pause(ctx context.Context, pace Pace) error
	Wander(ctx context.Context, page browser.Page) error
	Click(ctx context.Context, page browser.Page, el browser.Element) error
	Type(ctx context.Context, el browser.Element, text string) error
}

type span struct{ min, max time.Duration }

type Simulator struct {
	mu      sync.Mutex
	rand    *rand.Rand
	paces   map[Pace]span
	key     span
	every   int
	limiter *rate.Limiter
}

func ms(a, b int) span {
	return span{time.Duration(a) * time.Millisecond, time.Duration(b) * time.Millisecond}
}

func New(cfg config.HumanizeConfig, seed int64) *Simulator {
	limit := rate.Inf
	if cfg.ActionsPerSec > 0 {
		limit = rate.Limit(cfg.ActionsPerSec)
	}
	return &Simulator{
		rand: rand.New(rand.NewSource(seed)),
		paces: map[Pace]span{
			Short:  ms(cfg.ShortMinMs, cfg.ShortMaxMs),
			Step:   ms(cfg.StepMinMs, cfg.StepMaxMs),
			Settle: ms(cfg.SettleMinMs, cfg.SettleMaxMs),
			Think:  ms(cfg.ThinkMinMs, cfg.ThinkMaxMs),
		},
		key:     ms(cfg.KeyMinMs, cfg.KeyMaxMs),
		every:   cfg.HesitateEvery,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Off returns a simulator that never waits.
func Off() *Simulator {
	return New(config.HumanizeConfig{}, 1)
}

func (s *Simulator) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		return 0
	}
	return s.rand.Intn(n)
}

func (s *Simulator) pick(sp span) time.Duration {
	if sp.max <= sp.min {
		return sp.min
	}
	return sp.min + time.Duration(s.intn(int(sp.max-sp.min)))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Simulator) Pause(ctx context.Context, pace Pace) error {
	return sleep(ctx, s.pick(s.paces[pace]))
}

// Wander moves the pointer around for a couple of rounds, scrolls once and
// sometimes clicks on empty space. It warms the page up before a protected
// action.
func (s *Simulator) Wander(ctx context.Context, page browser.Page) error {
	for round := 0; round < 2; round++ {
		moves := 2 + s.intn(3)
		for i := 0; i < moves; i++ {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
			x := float64(s.intn(1200) + 100)
			y := float64(s.intn(700) + 100)
			if err := page.MoveMouse(ctx, x, y); err != nil {
				return err
			}
			if err := sleep(ctx, time.Duration(5+s.intn(10))*time.Millisecond); err != nil {
				return err
			}
		}

		if round == 0 {
			amount := float64((s.intn(3) - 1) * (100 + s.intn(150)))
			if amount != 0 {
				if err := page.Scroll(ctx, amount); err != nil {
					return err
				}
			}
		}

		if s.intn(2) == 0 {
			x, y := s.intn(1000)+200, s.intn(600)+200
			if _, err := page.Evaluate(ctx, idleClickJS, x, y); err != nil {
				return err
			}
		}

		if err := sleep(ctx, time.Duration(30+s.intn(50))*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

const idleClickJS = `(x, y) => {
	for (const type of ["mousedown", "mouseup"]) {
		document.dispatchEvent(new MouseEvent(type, {
			view: window, bubbles: true, cancelable: true, clientX: x, clientY: y
		}));
	}
}`

// Click moves the pointer onto el with a little jitter, hesitates, then clicks.
func (s *Simulator) Click(ctx context.Context, page browser.Page, el browser.Element) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	if x, y, err := el.Center(ctx); err == nil {
		jx := float64(s.intn(7) - 3)
		jy := float64(s.intn(5) - 2)
		_ = page.MoveMouse(ctx, x+jx, y+jy)
	}
	if err := s.Pause(ctx, Short); err != nil {
		return err
	}
	return el.Click(ctx)
}

// Type enters text one character at a time with a hesitation every few keys.
func (s *Simulator) Type(ctx context.Context, el browser.Element, text string) error {
	n := 0
	for _, r := range text {
		if err := el.Input(ctx, string(r)); err != nil {
			return err
		}
		n++
		d := s.pick(s.key)
		if s.every > 0 && n%s.every == 0 {
			d += s.pick(s.paces[Short])
		}
		if err := sleep(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// Fill clears el and types text into it.
func Fill(ctx context.Context, h Humanizer, el browser.Element, text string) error {
	if err := el.Clear(ctx); err != nil {
		return err
	}
	return h.Type(ctx, el, text)
}
