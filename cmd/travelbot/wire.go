package main

import (
	"context"
	"fmt"
	"time"

	goredislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"travelbot/internal/booking"
	"travelbot/internal/browser"
	"travelbot/internal/cancel"
	"travelbot/internal/challenge"
	"travelbot/internal/checkout"
	"travelbot/internal/config"
	"travelbot/internal/diag"
	"travelbot/internal/engine"
	"travelbot/internal/humanize"
	"travelbot/internal/lease"
	"travelbot/internal/lexicon"
	"travelbot/internal/notify"
	"travelbot/internal/observability"
	"travelbot/internal/search"
	"travelbot/internal/selection"
	"travelbot/internal/selector"
	"travelbot/internal/session"
	"travelbot/internal/storage"
	"travelbot/internal/storage/memory"
	"travelbot/internal/storage/postgres"
	"travelbot/internal/worker"
)

type app struct {
	worker  *worker.Worker
	ops     *observability.Server
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func openStore(ctx context.Context, cfg config.StorageConfig, log zerolog.Logger) (storage.Store, func() error, error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store")
		return memory.New(), func() error { return nil }, nil
	}
	s, err := postgres.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	return s, s.Close, nil
}

func openLocks(ctx context.Context, cfg config.StorageConfig, ttl time.Duration, log zerolog.Logger) (lease.Locker, func() error, error) {
	if cfg.RedisAddr == "" {
		return lease.NewLocal(), func() error { return nil }, nil
	}
	client := goredislib.NewClient(&goredislib.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPass})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	return lease.NewRedis(client, ttl, log), client.Close, nil
}

func build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	store, closeStore, err := openStore(ctx, cfg.Storage, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	locks, closeLocks, err := openLocks(ctx, cfg.Storage, cfg.Worker.LeaseTTL, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeLocks)

	lex, err := lexicon.Load(cfg.Paths.Lexicon)
	if err != nil {
		return nil, err
	}

	sink := diag.NewLogSink(log, 0)
	a.closers = append(a.closers, func() error { sink.Close(); return nil })

	reg := observability.InitRegistry()
	a.ops = observability.NewServer(cfg.MetricsAddr, reg, log)

	launcher := browser.NewRod(browser.RodConfig{
		Headless:        cfg.Browser.Headless,
		Bin:             cfg.Browser.Bin,
		ProfilePath:     cfg.Browser.ProfilePath,
		UserAgent:       cfg.Browser.UserAgent,
		ViewportWidth:   cfg.Browser.ViewportWidth,
		ViewportHeight:  cfg.Browser.ViewportHeight,
		PageLoadTimeout: time.Duration(cfg.Browser.PageLoadTimeout) * time.Second,
		NoSandbox:       cfg.Browser.NoSandbox,
	}, log)

	human := humanize.New(cfg.Humanize, time.Now().UnixNano())
	solver := challenge.FromConfig(cfg.Captcha, log)
	sessions := session.NewFileProvider(cfg.Paths.Sessions)
	nav := search.NewNavigator(lex.Popups, human, log)

	machine := func(p config.ProviderConfig) *checkout.Machine {
		res := selector.New(time.Duration(p.StrategyTimeoutMs)*time.Millisecond, log)
		m := checkout.New(checkout.Options{
			Provider:   p,
			Card:       cfg.Card,
			Billing:    cfg.Billing,
			Paths:      cfg.Paths,
			ClickFinal: cfg.Booking.ClickFinal,
		}, lex, res, human, sink, log)
		m.Solver = solver
		return m
	}

	deps := func(p config.ProviderConfig) *engine.Deps {
		return &engine.Deps{
			Sessions: sessions,
			Launcher: launcher,
			Nav:      nav,
			Human:    human,
			Checkout: machine(p),
			Solver:   solver,
		}
	}

	hotelRes := selector.New(time.Duration(cfg.Hotel.StrategyTimeoutMs)*time.Millisecond, log)
	flightRes := selector.New(time.Duration(cfg.Flight.StrategyTimeoutMs)*time.Millisecond, log)

	router := engine.Router{
		Hotel: engine.NewHotel(cfg.Hotel, deps(cfg.Hotel),
			search.NewHotel(cfg.Hotel, nav, hotelRes, human, sink, log),
			selection.New(lex, sink, log), log),
		Flight: engine.NewFlight(deps(cfg.Flight),
			search.NewFlight(cfg.Flight, nav, flightRes, human, sink, log), log),
	}

	syncer := booking.NewSynchronizer(store, cfg.Booking.MaxAttempts, log)
	w := worker.New(store, locks, syncer, router, log)
	w.PollInterval = cfg.Worker.PollInterval
	w.StaleSweep = cfg.Worker.StaleSweep
	w.Canceller = cancel.New(cfg.Hotel, cfg.Paths, sessions, launcher, nav, hotelRes, human, lex, sink, log)
	w.Tickets = notify.NewDocuments(launcher, cfg.Paths.Documents, cfg.Agency, log)
	w.Mailer = notify.FromConfig(cfg.SMTP, cfg.Agency.Name, log)
	a.worker = w

	ok = true
	return a, nil
}
