// Package worker drives bookings from Pending to a final status, one at a
// time, and keeps a cancelled process from stranding a booking in
// Processing.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"travelbot/internal/booking"
	"travelbot/internal/cancel"
	"travelbot/internal/checkout"
	"travelbot/internal/engine"
	"travelbot/internal/lease"
	"travelbot/internal/notify"
	"travelbot/internal/observability"
	"travelbot/internal/storage"
)

var (
	ErrBusy        = errors.New("worker: booking is held by another worker")
	ErrNotEligible = errors.New("worker: booking is not eligible for processing")
)

type Canceller interface {
	Cancel(ctx context.Context, b *booking.Booking) (cancel.Result, error)
}

type Tickets interface {
	GenerateTickets(ctx context.Context, b *booking.Booking) ([]string, error)
}

type Worker struct {
	PollInterval time.Duration
	// StaleSweep is how often Run returns orphaned Processing bookings to
	// Pending. Zero disables the sweep.
	StaleSweep time.Duration
	// Canceller, Tickets and Mailer are optional.
	Canceller Canceller
	Tickets   Tickets
	Mailer    notify.Mailer

	store  storage.Store
	locks  lease.Locker
	sync   *booking.Synchronizer
	engine engine.Booker
	log    zerolog.Logger

	mu sync.Mutex
	// unsaved holds outcomes whose final write failed, by booking id.
	unsaved map[string]pendingWrite
}

type pendingWrite struct {
	b      *booking.Booking
	lease  lease.Lease
	notify bool
}

func New(store storage.Store, locks lease.Locker, sync *booking.Synchronizer, eng engine.Booker, log zerolog.Logger) *Worker {
	return &Worker{
		PollInterval: 10 * time.Second,
		StaleSweep:   5 * time.Minute,
		store:        store,
		locks:        locks,
		sync:         sync,
		engine:       eng,
		log:          log.With().Str("component", "worker").Logger(),
		unsaved:      make(map[string]pendingWrite),
	}
}

// Run polls for eligible bookings until ctx is cancelled. Failures of a
// single poll are logged and the loop carries on.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Dur("poll_interval", w.PollInterval).Msg("worker started")
	timer := time.NewTimer(0)
	defer timer.Stop()
	lastSweep := time.Now()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("worker stopped")
			return nil
		case <-timer.C:
		}

		if w.StaleSweep > 0 && time.Since(lastSweep) >= w.StaleSweep {
			if _, err := w.RecoverStale(ctx); err != nil && ctx.Err() == nil {
				w.log.Error().Err(err).Msg("stale sweep failed")
			}
			lastSweep = time.Now()
		}

		processed, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("poll failed")
		}
		next := w.PollInterval
		if processed {
			next = 0
		}
		timer.Reset(next)
	}
}

// RunOnce writes back any outcome a previous run failed to save, then
// processes the next eligible booking, if any, and reports whether one was
// picked up.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if err := w.flush(ctx); err != nil {
		return false, err
	}
	b, err := w.store.FindNextEligiblePending(ctx)
	if err != nil {
		return false, err
	}
	if b == nil {
		return false, nil
	}
	_, err = w.process(ctx, b.ID)
	if errors.Is(err, ErrBusy) {
		w.log.Debug().Str("booking_id", b.ID).Msg("booking leased elsewhere, skipping")
		return false, nil
	}
	return err == nil, err
}

// ProcessByID runs a single booking and returns its stored state afterwards.
func (w *Worker) ProcessByID(ctx context.Context, id string) (*booking.Booking, error) {
	return w.process(ctx, id)
}

func (w *Worker) process(ctx context.Context, id string) (*booking.Booking, error) {
	l, err := w.locks.Acquire(ctx, id)
	if errors.Is(err, lease.ErrHeld) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, fmt.Errorf("lease %s: %w", id, err)
	}
	persist := context.WithoutCancel(ctx)
	held := false
	defer func() {
		if !held {
			w.release(persist, l, id)
		}
	}()
	// hold keeps the lease with an outcome whose write failed.
	hold := func(b *booking.Booking, notify bool, err error, log zerolog.Logger) {
		w.hold(b, l, notify, err, log)
		held = true
	}

	// Re-read under the lease; the polled copy may be stale.
	b, err := w.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	log := w.log.With().Str("booking_id", b.ID).Str("service", string(b.Service)).Logger()

	if b.Status != booking.StatusPending || strings.TrimSpace(b.PNR) != "" {
		return b, fmt.Errorf("%w: %s has status %s", ErrNotEligible, b.ID, b.Status)
	}
	if err := b.Validate(); err != nil {
		log.Warn().Err(err).Msg("booking input incomplete")
		if err := w.sync.Apply(persist, b, booking.Outcome{}, booking.MissingData("validate", err)); err != nil {
			hold(b, false, err, log)
			return b, err
		}
		return b, nil
	}

	if err := w.sync.Begin(ctx, b); err != nil {
		return b, err
	}
	log.Info().Int("attempt", b.Attempts+1).Msg("booking started")

	start := time.Now()
	receipt, runErr := w.book(ctx, b)
	observability.ObserveStep("worker.book", runErr, time.Since(start))

	if ctx.Err() != nil && !keepsOutcome(receipt, runErr) {
		log.Warn().Err(runErr).Msg("shutdown during booking")
		if err := w.sync.Revert(persist, b); err != nil {
			hold(b, false, err, log)
			return b, err
		}
		return b, nil
	}
	if err := w.sync.Apply(persist, b, receipt.Outcome(), runErr); err != nil {
		hold(b, runErr == nil && b.Status == booking.StatusConfirmed, err, log)
		return b, err
	}
	if runErr == nil && b.Status == booking.StatusConfirmed {
		w.notify(ctx, b, log)
	}
	return b, nil
}

func (w *Worker) release(ctx context.Context, l lease.Lease, id string) {
	if err := l.Release(ctx); err != nil {
		w.log.Warn().Err(err).Str("booking_id", id).Msg("lease release failed")
	}
}

// hold keeps an outcome whose write failed so the next poll can retry it.
// The lease stays taken until then, so no stale sweep reverts the stored
// Processing row.
func (w *Worker) hold(b *booking.Booking, l lease.Lease, notify bool, err error, log zerolog.Logger) {
	log.Error().Err(err).Str("status", string(b.Status)).Str("pnr", b.PNR).Msg("outcome not saved, will retry")
	w.mu.Lock()
	w.unsaved[b.ID] = pendingWrite{b: b.Clone(), lease: l, notify: notify}
	w.mu.Unlock()
}

// flush retries held outcomes. It stops at the first write that still fails.
func (w *Worker) flush(ctx context.Context) error {
	w.mu.Lock()
	held := make([]pendingWrite, 0, len(w.unsaved))
	for _, p := range w.unsaved {
		held = append(held, p)
	}
	w.mu.Unlock()

	for _, p := range held {
		log := w.log.With().Str("booking_id", p.b.ID).Logger()
		if err := w.store.Save(ctx, p.b); err != nil {
			return fmt.Errorf("save held outcome %s: %w", p.b.ID, err)
		}
		w.mu.Lock()
		delete(w.unsaved, p.b.ID)
		w.mu.Unlock()
		w.release(context.WithoutCancel(ctx), p.lease, p.b.ID)
		log.Info().Str("status", string(p.b.Status)).Msg("held outcome saved")
		if p.notify {
			w.notify(ctx, p.b, log)
		}
	}
	return nil
}

// keepsOutcome reports whether an interrupted run already learned something
// that must be recorded rather than retried.
func keepsOutcome(r checkout.Receipt, err error) bool {
	return strings.TrimSpace(r.PNR) != "" || booking.KindOf(err) == booking.KindPaymentAmbiguous
}

func (w *Worker) book(ctx context.Context, b *booking.Booking) (r checkout.Receipt, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = booking.Transient("engine", fmt.Errorf("panic: %v", p))
		}
	}()
	return w.engine.Book(ctx, b.Clone())
}

// notify sends the confirmation documents. Failures never change the
// booking status.
func (w *Worker) notify(ctx context.Context, b *booking.Booking, log zerolog.Logger) {
	if ctx.Err() != nil {
		return
	}
	warn := func(step string, err error) {
		log.Warn().Err(booking.PostPurchase(step, err)).Msg("post-purchase step failed, booking stays confirmed")
	}

	var attachments []string
	if b.Service == booking.Flight && w.Tickets != nil {
		paths, err := w.Tickets.GenerateTickets(ctx, b)
		if err != nil {
			warn("tickets", err)
		}
		if len(paths) > 0 {
			b.PDFPath = paths[0]
			if err := w.store.Save(context.WithoutCancel(ctx), b); err != nil {
				warn("tickets", err)
			}
			attachments = paths
		}
	} else if b.PDFPath != "" {
		attachments = []string{b.PDFPath}
	}

	if w.Mailer == nil {
		return
	}
	var (
		sent bool
		err  error
	)
	if b.Service == booking.Flight {
		if len(attachments) == 0 {
			log.Warn().Msg("no tickets generated, confirmation not sent")
			return
		}
		sent, err = w.Mailer.SendFlightConfirmation(ctx, b, attachments)
	} else {
		if len(attachments) == 0 {
			log.Info().Msg("no confirmation document, confirmation not sent")
			return
		}
		sent, err = w.Mailer.SendConfirmation(ctx, b.Email, b.ClientName, attachments)
	}
	switch {
	case err != nil:
		warn("email", err)
	case sent:
		log.Info().Str("to", b.Email).Int("attachments", len(attachments)).Msg("confirmation emailed")
	}
}

// Cancel cancels a confirmed booking at the provider and records the
// result.
func (w *Worker) Cancel(ctx context.Context, id string) (*booking.Booking, error) {
	if w.Canceller == nil {
		return nil, errors.New("worker: cancellation is not configured")
	}
	l, err := w.locks.Acquire(ctx, id)
	if errors.Is(err, lease.ErrHeld) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, fmt.Errorf("lease %s: %w", id, err)
	}
	persist := context.WithoutCancel(ctx)
	defer w.release(persist, l, id)

	b, err := w.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	res, runErr := w.Canceller.Cancel(ctx, b)
	if errors.Is(runErr, cancel.ErrNotCancellable) {
		return b, runErr
	}
	if err := w.sync.ApplyCancellation(persist, b, res.Account, runErr); err != nil {
		return b, err
	}
	return b, runErr
}

// RecoverStale returns Processing bookings that no worker holds a lease on
// to Pending. It reports how many were reverted.
func (w *Worker) RecoverStale(ctx context.Context) (int, error) {
	stale, err := w.store.ListProcessing(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, b := range stale {
		held, err := w.locks.Held(ctx, b.ID)
		if err != nil {
			return n, fmt.Errorf("check lease %s: %w", b.ID, err)
		}
		if held {
			continue
		}
		if err := w.sync.Revert(ctx, b); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		w.log.Warn().Int("reverted", n).Msg("recovered stale bookings")
	}
	return n, nil
}
