package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"travelbot/internal/config"
	"travelbot/internal/observability"
	"travelbot/internal/session"
)

type flags struct {
	configPath    string
	once          bool
	bookingID     string
	cancelID      string
	checkSessions bool
	dryRun        bool
	debug         bool
	headless      bool
	headed        bool
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("travelbot", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "config.yaml", "Path to configuration file")
	fs.BoolVar(&f.once, "once", false, "Process at most one pending booking, then exit")
	fs.StringVar(&f.bookingID, "booking", "", "Process only the booking with this id")
	fs.StringVar(&f.cancelID, "cancel", "", "Cancel the confirmed booking with this id")
	fs.BoolVar(&f.checkSessions, "check-sessions", false, "Report the health of saved sessions and exit")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Test mode: stop before the final purchase click")
	fs.BoolVar(&f.debug, "debug", false, "Enable detailed debug logging")
	fs.BoolVar(&f.headless, "headless", false, "Force a headless browser")
	fs.BoolVar(&f.headed, "headed", false, "Force a visible browser window")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if f.headless && f.headed {
		return f, errors.New("-headless and -headed are mutually exclusive")
	}
	if f.bookingID != "" && f.cancelID != "" {
		return f, errors.New("-booking and -cancel are mutually exclusive")
	}
	return f, nil
}

// apply overlays command-line switches onto the loaded configuration.
func (f flags) apply(cfg *config.Config) {
	if f.dryRun {
		cfg.DryRun = true
	}
	if cfg.DryRun {
		cfg.Booking.ClickFinal = false
	}
	if f.debug {
		cfg.DebugMode = true
	}
	if f.headless {
		cfg.Browser.Headless = true
	}
	if f.headed {
		cfg.Browser.Headless = false
	}
	if f.once {
		cfg.Worker.RunOnce = true
	}
	if f.bookingID != "" {
		cfg.Worker.BookingID = f.bookingID
	}
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	f.apply(cfg)

	log := observability.NewLogger(cfg.Env, cfg.DebugMode)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, f, cfg, log); err != nil {
		log.Error().Err(err).Msg("travelbot exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags, cfg *config.Config, log zerolog.Logger) error {
	if f.checkSessions {
		return checkSessions(cfg.Paths.Sessions, log)
	}

	log.Info().
		Str("env", cfg.Env).
		Bool("dry_run", cfg.DryRun).
		Bool("click_final", cfg.Booking.ClickFinal).
		Bool("headless", cfg.Browser.Headless).
		Msg("starting travelbot")

	a, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	switch {
	case f.cancelID != "":
		b, err := a.worker.Cancel(ctx, f.cancelID)
		if err != nil {
			return fmt.Errorf("cancel %s: %w", f.cancelID, err)
		}
		log.Info().Str("booking_id", b.ID).Str("status", string(b.Status)).Msg("cancellation finished")
		return nil

	case cfg.Worker.BookingID != "":
		b, err := a.worker.ProcessByID(ctx, cfg.Worker.BookingID)
		if err != nil {
			return err
		}
		log.Info().Str("booking_id", b.ID).Str("status", string(b.Status)).Str("pnr", b.PNR).Msg("booking finished")
		return nil
	}

	if n, err := a.worker.RecoverStale(ctx); err != nil {
		return fmt.Errorf("recover stale bookings: %w", err)
	} else if n > 0 {
		log.Warn().Int("reverted", n).Msg("stale bookings returned to pending")
	}

	if cfg.Worker.RunOnce {
		processed, err := a.worker.RunOnce(ctx)
		if err != nil {
			return err
		}
		if !processed {
			log.Info().Msg("no eligible pending booking")
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.ops.Serve(gctx) })
	g.Go(func() error {
		a.ops.SetReady(true)
		return a.worker.Run(gctx)
	})
	return g.Wait()
}

func checkSessions(dir string, log zerolog.Logger) error {
	states, err := session.NewFileProvider(dir).AllForLookup()
	if err != nil {
		return err
	}
	unhealthy := 0
	for _, h := range session.Check(states, time.Now()) {
		ev := log.Info()
		if !h.OK() {
			ev = log.Warn()
			unhealthy++
		}
		ev = ev.Str("session", h.Name).Int("cookies", h.Cookies).Strs("expired", h.Expired)
		if !h.NextExpiry.IsZero() {
			ev = ev.Time("next_expiry", h.NextExpiry)
		}
		ev.Msg("session health")
	}
	if unhealthy > 0 {
		return fmt.Errorf("%d of %d sessions need a fresh login", unhealthy, len(states))
	}
	return nil
}
