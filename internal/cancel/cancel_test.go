package cancel

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"travelbot/internal/booking"
	"travelbot/internal/browser/browsertest"
	"travelbot/internal/config"
	"travelbot/internal/diag"
	"travelbot/internal/humanize"
	"travelbot/internal/lexicon"
	"travelbot/internal/search"
	"travelbot/internal/selector"
	"travelbot/internal/session"
)

const tripsHTML = `<html><body>
<div data-testid="trip-card"><a href="/mystays/999">Hotel Beta</a><span>Mar 2</span></div>
<div data-testid="trip-card"><a href="/mystays/123">Hotel Alpha</a><span>Confirmation: 4123 456 789</span></div>
</body></html>`

func btn(text string, onClick func(p *browsertest.Page)) *browsertest.Element {
	return &browsertest.Element{Selectors: []string{"button"}, TagName: "button", TextContent: text, OnClick: onClick}
}

func emptyAccount() *browsertest.Page {
	return browsertest.NewPage("trips", map[string]*browsertest.Screen{
		"trips": {URL: "https://www.booking.com/mytrips.html", Text: "No upcoming trips", HTML: "<html><body></body></html>"},
	})
}

// accountWithTrip scripts the trips page, the trip detail and the
// cancellation dialog. done is the screen shown after the final click.
func accountWithTrip(done *browsertest.Screen, confirms bool) *browsertest.Page {
	p := browsertest.NewPage("trips", map[string]*browsertest.Screen{
		"trips": {URL: "https://www.booking.com/mytrips.html", Text: "Your upcoming trip", HTML: tripsHTML},
		"other": {Text: "Hotel Beta. Confirmation number: 7000111222"},
		"trip": {
			Text:     "Hotel Alpha. Confirmation number: 4123456789",
			Elements: []*browsertest.Element{btn("Cancellation options", func(p *browsertest.Page) { p.Show("reason") })},
		},
		"reason": {
			Text: "Why are you cancelling?",
			Elements: []*browsertest.Element{
				{Selectors: []string{"select"}, TagName: "select", Options: []string{"Found a better price", "Change of plans"}},
				btn("Continue", func(p *browsertest.Page) { p.Show("confirm") }),
			},
		},
		"confirm": {
			Text: "You're about to cancel this booking",
			Elements: []*browsertest.Element{btn("Cancel booking", func(p *browsertest.Page) {
				if confirms {
					p.Show("done")
				}
			})},
		},
		"done": done,
	})
	p.Router = func(url string) string {
		switch {
		case strings.Contains(url, "/mystays/123"):
			return "trip"
		case strings.Contains(url, "/mystays/999"):
			return "other"
		case strings.Contains(url, "mytrips"):
			return "trips"
		}
		return ""
	}
	return p
}

func testEngine(t *testing.T, pages map[string]*browsertest.Page) (*Engine, *browsertest.Launcher) {
	t.Helper()
	launcher := &browsertest.Launcher{New: func(st *session.State) *browsertest.Browser {
		return &browsertest.Browser{Pages: []*browsertest.Page{pages[st.Name]}}
	}}
	cfg := config.DefaultConfig().Hotel
	cfg.TripsURL = "https://www.booking.com/mytrips.html"
	sessions := session.Static{{Name: "auth"}, {Name: "auth 1"}}
	h := humanize.Off()
	e := New(cfg, config.PathsConfig{Screenshots: t.TempDir()}, sessions, launcher,
		search.NewNavigator(nil, h, zerolog.Nop()), selector.New(5*time.Millisecond, zerolog.Nop()),
		h, lexicon.Default(), diag.Discard{}, zerolog.Nop())
	e.ResultWait = 20 * time.Millisecond
	e.Poll = time.Millisecond
	return e, launcher
}

func confirmed() *booking.Booking {
	return &booking.Booking{ID: "bk-9", PNR: "4123456789", Status: booking.StatusConfirmed}
}

func TestCancelFindsReservationInLaterAccount(t *testing.T) {
	done := &browsertest.Screen{URL: "https://secure.booking.com/cancellation_confirmation.html", Text: "Your booking is cancelled"}
	e, launcher := testEngine(t, map[string]*browsertest.Page{
		"auth":   emptyAccount(),
		"auth 1": accountWithTrip(done, true),
	})

	res, err := e.Cancel(context.Background(), confirmed())
	if err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	if res.Account != "auth 1" {
		t.Errorf("account = %q, want auth 1", res.Account)
	}
	if res.Screenshot == "" {
		t.Error("no success screenshot")
	}
	if strings.Join(launcher.Launched, "|") != "auth|auth 1" {
		t.Errorf("launched = %v", launcher.Launched)
	}
}

func TestCancelNotFoundUnderAnyAccount(t *testing.T) {
	e, launcher := testEngine(t, map[string]*browsertest.Page{
		"auth":   emptyAccount(),
		"auth 1": emptyAccount(),
	})

	_, err := e.Cancel(context.Background(), confirmed())
	if !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("err = %v, want ErrReservationNotFound", err)
	}
	if len(launcher.Launched) != 2 {
		t.Errorf("launched %d accounts, want 2", len(launcher.Launched))
	}
}

func TestCancelRequiresExplicitSuccess(t *testing.T) {
	tests := []struct {
		name     string
		done     *browsertest.Screen
		confirms bool
		wantText string
	}{
		{name: "no marker and no prompt", done: &browsertest.Screen{Text: "Manage your trips"}, confirms: true},
		{name: "prompt still shown", done: &browsertest.Screen{}, confirms: false, wantText: "about to cancel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, launcher := testEngine(t, map[string]*browsertest.Page{
				"auth":   accountWithTrip(tt.done, tt.confirms),
				"auth 1": emptyAccount(),
			})
			_, err := e.Cancel(context.Background(), confirmed())
			if !errors.Is(err, ErrInconclusive) {
				t.Fatalf("err = %v, want ErrInconclusive", err)
			}
			if !strings.Contains(err.Error(), tt.wantText) {
				t.Errorf("err = %v, want it to mention %q", err, tt.wantText)
			}
			if len(launcher.Launched) != 1 {
				t.Errorf("kept searching other accounts after finding the reservation: %v", launcher.Launched)
			}
		})
	}
}

func TestCancelRejectsUnconfirmedBooking(t *testing.T) {
	e, launcher := testEngine(t, nil)
	b := confirmed()
	b.Status = booking.StatusPending

	if _, err := e.Cancel(context.Background(), b); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("err = %v, want ErrNotCancellable", err)
	}
	if len(launcher.Launched) != 0 {
		t.Error("browser launched for a booking that cannot be cancelled")
	}
}

func TestTripLinksPutsMatchingCardFirst(t *testing.T) {
	links, err := TripLinks(tripsHTML, "https://www.booking.com/mytrips.html", "4123456789")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"https://www.booking.com/mystays/123", "https://www.booking.com/mystays/999"}
	if strings.Join(links, ",") != strings.Join(want, ",") {
		t.Errorf("links = %v, want %v", links, want)
	}
}
