package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"travelbot/internal/money"
	"travelbot/internal/observability"
)

// Outcome is what a purchase run learned about the booking, whether or not
// it finished. A non-empty PNR means the provider issued a reference.
type Outcome struct {
	PNR            string
	Platform       string
	HotelName      string
	Address        string
	FlightNumber   string
	Price          money.Cents
	Currency       string
	Deadline       *time.Time
	PDFPath        string
	ScreenshotPath string
}

type Saver interface {
	Save(ctx context.Context, b *Booking) error
}

// CheckTransition rejects saves that would break the reference invariants:
// a Confirmed booking carries a PNR, and once a PNR is stored the booking
// stays Confirmed or Cancelled and keeps it.
func CheckTransition(prev, next *Booking) error {
	if next.Status == StatusConfirmed && strings.TrimSpace(next.PNR) == "" {
		return fmt.Errorf("%w: confirmed without a reference", ErrInvariant)
	}
	if prev == nil || strings.TrimSpace(prev.PNR) == "" {
		return nil
	}
	if next.PNR != prev.PNR {
		return fmt.Errorf("%w: reference %q cannot change", ErrInvariant, prev.PNR)
	}
	if next.Status != StatusConfirmed && next.Status != StatusCancelled {
		return fmt.Errorf("%w: booking with reference cannot become %s", ErrInvariant, next.Status)
	}
	return nil
}

// Synchronizer is the only writer of booking status during processing.
type Synchronizer struct {
	store       Saver
	maxAttempts int
	log         zerolog.Logger
}

func NewSynchronizer(store Saver, maxAttempts int, log zerolog.Logger) *Synchronizer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Synchronizer{
		store:       store,
		maxAttempts: maxAttempts,
		log:         log.With().Str("component", "synchronizer").Logger(),
	}
}

// Begin marks b as held by this worker.
func (s *Synchronizer) Begin(ctx context.Context, b *Booking) error {
	if !b.Eligible() {
		return fmt.Errorf("booking %s is not eligible (status %s)", b.ID, b.Status)
	}
	b.Status = StatusProcessing
	b.NeedsReview = false
	if err := s.store.Save(ctx, b); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return nil
}

func (s *Synchronizer) record(b *Booking, o Outcome) {
	if o.PNR != "" {
		b.PNR = o.PNR
	}
	if o.Platform != "" {
		b.Platform = o.Platform
	}
	if o.HotelName != "" {
		b.HotelName = o.HotelName
	}
	if o.Address != "" {
		b.Address = o.Address
	}
	if o.FlightNumber != "" {
		b.FlightNumber = o.FlightNumber
	}
	if o.Price > 0 {
		b.Price = o.Price
	}
	if o.Currency != "" {
		b.Currency = o.Currency
	}
	if o.Deadline != nil {
		b.Deadline = o.Deadline
	}
	if o.PDFPath != "" {
		b.PDFPath = o.PDFPath
	}
	if o.ScreenshotPath != "" {
		b.ScreenshotPath = o.ScreenshotPath
	}
}

// Apply writes the result of a purchase run to b and persists it.
func (s *Synchronizer) Apply(ctx context.Context, b *Booking, o Outcome, runErr error) error {
	log := s.log.With().Str("booking_id", b.ID).Logger()
	s.record(b, o)

	if runErr == nil && strings.TrimSpace(b.PNR) == "" {
		runErr = PaymentAmbiguous("reference", errors.New("run finished without a booking reference"))
	}

	switch {
	case runErr == nil:
		b.Status = StatusConfirmed
		b.ErrorMessage = ""
		log.Info().Str("pnr", b.PNR).Msg("booking confirmed")

	case strings.TrimSpace(b.PNR) != "":
		// A reference was issued; whatever failed afterwards is follow-up work.
		b.Status = StatusConfirmed
		b.ErrorMessage = SanitizeError(runErr)
		log.Warn().Err(runErr).Str("pnr", b.PNR).Msg("booking has a reference, kept confirmed despite error")

	default:
		kind := KindOf(runErr)
		b.ErrorMessage = SanitizeError(runErr)
		switch kind {
		case KindPolicy, KindMissingData, KindStopped:
			b.Status = StatusFailed
		case KindPaymentAmbiguous:
			b.Status = StatusFailed
			b.NeedsReview = true
			b.Note = "Payment may have been submitted; check the provider account before retrying."
		default:
			b.Attempts++
			if b.Attempts < s.maxAttempts {
				b.Status = StatusPending
			} else {
				b.Status = StatusFailed
			}
		}
		cause := Cause(runErr)
		observability.ObserveFailure(kind.String(), cause)
		log.Error().Err(runErr).
			Str("kind", kind.String()).
			Str("step", StepOf(runErr)).
			Str("cause", cause).
			Int("attempts", b.Attempts).
			Str("status", string(b.Status)).
			Msg("booking run failed")
	}

	observability.ObserveBooking(string(b.Service), string(b.Status))
	if err := s.store.Save(ctx, b); err != nil {
		return fmt.Errorf("save booking %s: %w", b.ID, err)
	}
	return nil
}

// Revert returns a booking held in Processing to Pending so another run can
// pick it up. Bookings that already carry a reference are confirmed instead.
func (s *Synchronizer) Revert(ctx context.Context, b *Booking) error {
	if b.Status != StatusProcessing {
		return nil
	}
	if strings.TrimSpace(b.PNR) != "" {
		b.Status = StatusConfirmed
	} else {
		b.Status = StatusPending
	}
	observability.ObserveLease("revert")
	if err := s.store.Save(ctx, b); err != nil {
		return fmt.Errorf("revert booking %s: %w", b.ID, err)
	}
	s.log.Warn().Str("booking_id", b.ID).Str("status", string(b.Status)).Msg("reverted in-flight booking")
	return nil
}

// ApplyCancellation records the outcome of a cancellation run. Failures
// leave the status untouched.
func (s *Synchronizer) ApplyCancellation(ctx context.Context, b *Booking, account string, runErr error) error {
	if runErr != nil {
		b.ErrorMessage = SanitizeError(runErr)
		s.log.Error().Err(runErr).Str("booking_id", b.ID).Msg("cancellation failed")
	} else {
		b.Status = StatusCancelled
		b.ErrorMessage = ""
		b.Note = fmt.Sprintf("Auto-cancelled via %s account.", account)
		s.log.Info().Str("booking_id", b.ID).Str("account", account).Msg("booking cancelled")
	}
	if err := s.store.Save(ctx, b); err != nil {
		return fmt.Errorf("save booking %s: %w", b.ID, err)
	}
	return nil
}
