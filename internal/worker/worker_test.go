package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travelbot/internal/booking"
	"travelbot/internal/cancel"
	"travelbot/internal/checkout"
	"travelbot/internal/lease"
	"travelbot/internal/storage/memory"
)

type fakeEngine struct {
	mu      sync.Mutex
	calls   int
	receipt checkout.Receipt
	err     error
	// block makes Book wait for ctx cancellation before returning.
	block   bool
	started chan struct{}
	panics  bool
}

func (f *fakeEngine) Book(ctx context.Context, b *booking.Booking) (checkout.Receipt, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.panics {
		panic("page crashed")
	}
	if f.block {
		close(f.started)
		<-ctx.Done()
		if f.err != nil {
			return f.receipt, f.err
		}
		return f.receipt, booking.Transient("search", ctx.Err())
	}
	return f.receipt, f.err
}

type fakeMailer struct {
	hotel  [][]string
	flight [][]string
	err    error
}

func (m *fakeMailer) SendConfirmation(_ context.Context, email, name string, pdfPaths []string) (bool, error) {
	m.hotel = append(m.hotel, pdfPaths)
	return m.err == nil, m.err
}

func (m *fakeMailer) SendFlightConfirmation(_ context.Context, b *booking.Booking, pdfPaths []string) (bool, error) {
	m.flight = append(m.flight, pdfPaths)
	return m.err == nil, m.err
}

type fakeTickets struct {
	paths []string
	err   error
}

func (f *fakeTickets) GenerateTickets(context.Context, *booking.Booking) ([]string, error) {
	return f.paths, f.err
}

type fakeCanceller struct {
	res cancel.Result
	err error
}

func (f *fakeCanceller) Cancel(context.Context, *booking.Booking) (cancel.Result, error) {
	return f.res, f.err
}

func hotelBooking() *booking.Booking {
	in := time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)
	out := in.AddDate(0, 0, 3)
	return &booking.Booking{
		ClientName:  "Amira Ben Salah",
		Email:       "amira@example.com",
		Service:     booking.Hotel,
		Destination: "Hammamet",
		CheckIn:     &in,
		CheckOut:    &out,
		AdultsCount: 2,
	}
}

func flightBooking() *booking.Booking {
	dep := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return &booking.Booking{
		ClientName:       "Amira Ben Salah",
		Email:            "amira@example.com",
		Service:          booking.Flight,
		DepartureAirport: "TUN",
		ArrivalAirport:   "CDG",
		FlightDate:       &dep,
		Adults:           1,
	}
}

type harness struct {
	store  *memory.Store
	locks  *lease.Local
	engine *fakeEngine
	mailer *fakeMailer
	w      *Worker
}

func newHarness(t *testing.T, maxAttempts int, eng *fakeEngine) *harness {
	t.Helper()
	store := memory.New()
	locks := lease.NewLocal()
	syncer := booking.NewSynchronizer(store, maxAttempts, zerolog.Nop())
	w := New(store, locks, syncer, eng, zerolog.Nop())
	mailer := &fakeMailer{}
	w.Mailer = mailer
	w.PollInterval = 10 * time.Millisecond
	return &harness{store: store, locks: locks, engine: eng, mailer: mailer, w: w}
}

func (h *harness) create(t *testing.T, b *booking.Booking) string {
	t.Helper()
	require.NoError(t, h.store.Create(context.Background(), b))
	return b.ID
}

func TestProcessConfirmsAndMailsHotelConfirmation(t *testing.T) {
	eng := &fakeEngine{receipt: checkout.Receipt{
		PNR: "4123456789", HotelName: "Hotel Alpha", Price: 27000, Currency: "USD", PDF: "/tmp/Booking_4123456789.pdf",
	}}
	h := newHarness(t, 1, eng)
	id := h.create(t, hotelBooking())

	b, err := h.w.ProcessByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, b.Status)

	stored, err := h.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "4123456789", stored.PNR)
	assert.Equal(t, "Hotel Alpha", stored.HotelName)
	assert.Equal(t, []booking.Status{booking.StatusPending, booking.StatusProcessing, booking.StatusConfirmed}, h.store.History(id))
	assert.Equal(t, [][]string{{"/tmp/Booking_4123456789.pdf"}}, h.mailer.hotel)

	held, _ := h.locks.Held(context.Background(), id)
	assert.False(t, held, "lease released after processing")
}

func TestProcessFlightGeneratesTicketsBeforeMailing(t *testing.T) {
	eng := &fakeEngine{receipt: checkout.Receipt{PNR: "K7QX2M", FlightNumber: "BJ514"}}
	h := newHarness(t, 1, eng)
	h.w.Tickets = &fakeTickets{paths: []string{"/docs/TICKET_K7QX2M_1.pdf", "/docs/TICKET_K7QX2M_2.pdf"}}
	id := h.create(t, flightBooking())

	_, err := h.w.ProcessByID(context.Background(), id)
	require.NoError(t, err)

	stored, _ := h.store.FindByID(context.Background(), id)
	assert.Equal(t, booking.StatusConfirmed, stored.Status)
	assert.Equal(t, "/docs/TICKET_K7QX2M_1.pdf", stored.PDFPath)
	require.Len(t, h.mailer.flight, 1)
	assert.Len(t, h.mailer.flight[0], 2)
}

func TestNotificationFailureKeepsBookingConfirmed(t *testing.T) {
	eng := &fakeEngine{receipt: checkout.Receipt{PNR: "K7QX2M"}}
	h := newHarness(t, 1, eng)
	h.w.Tickets = &fakeTickets{err: errors.New("browser crashed")}
	h.mailer.err = errors.New("smtp down")
	id := h.create(t, flightBooking())

	b, err := h.w.ProcessByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, b.Status)
	assert.Empty(t, h.mailer.flight, "no mail without tickets")

	hid := h.create(t, hotelBooking())
	eng.receipt = checkout.Receipt{PNR: "4123456789", PDF: "/tmp/b.pdf"}
	b, err = h.w.ProcessByID(context.Background(), hid)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, b.Status)
	assert.Empty(t, b.ErrorMessage)
}

func TestTransientFailureRetriesUntilCeiling(t *testing.T) {
	eng := &fakeEngine{err: booking.Transient("search", errors.New("Navigation timeout of 30000 ms exceeded"))}
	h := newHarness(t, 2, eng)
	id := h.create(t, hotelBooking())
	ctx := context.Background()

	b, err := h.w.ProcessByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPending, b.Status)
	assert.Equal(t, 1, b.Attempts)
	assert.Equal(t, "External site took too long to respond.", b.ErrorMessage)

	b, err = h.w.ProcessByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusFailed, b.Status)
	assert.Equal(t, 2, b.Attempts)
	assert.Empty(t, h.mailer.hotel)
}

func TestInvalidBookingFailsWithoutRunning(t *testing.T) {
	eng := &fakeEngine{}
	h := newHarness(t, 3, eng)
	b := hotelBooking()
	b.Destination = ""
	id := h.create(t, b)

	got, err := h.w.ProcessByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusFailed, got.Status)
	assert.Zero(t, eng.calls)
	assert.Zero(t, got.Attempts, "missing data is not retried")
}

func TestPollFailsInvalidBookingAndMovesOn(t *testing.T) {
	eng := &fakeEngine{receipt: checkout.Receipt{PNR: "4123456789"}}
	h := newHarness(t, 3, eng)
	bad := hotelBooking()
	bad.Email = "not-an-email"
	badID := h.create(t, bad)
	good := hotelBooking()
	good.CreatedAt = time.Now().Add(time.Hour)
	goodID := h.create(t, good)
	ctx := context.Background()

	processed, err := h.w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	got, err := h.store.FindByID(ctx, badID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusFailed, got.Status)
	assert.Equal(t, "Required traveller details are missing.", got.ErrorMessage)
	assert.Zero(t, got.Attempts)
	assert.Zero(t, eng.calls)

	processed, err = h.w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	got, _ = h.store.FindByID(ctx, goodID)
	assert.Equal(t, booking.StatusConfirmed, got.Status)
}

func TestProcessRejectsNonPendingBooking(t *testing.T) {
	h := newHarness(t, 1, &fakeEngine{})
	b := hotelBooking()
	b.Status = booking.StatusFailed
	id := h.create(t, b)

	_, err := h.w.ProcessByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotEligible)
	assert.Zero(t, h.engine.calls)
}

func TestProcessSkipsLeasedBooking(t *testing.T) {
	h := newHarness(t, 1, &fakeEngine{})
	id := h.create(t, hotelBooking())

	l, err := h.locks.Acquire(context.Background(), id)
	require.NoError(t, err)
	defer l.Release(context.Background())

	_, err = h.w.ProcessByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrBusy)

	processed, err := h.w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Zero(t, h.engine.calls)
}

func TestEnginePanicIsRecordedAsTransient(t *testing.T) {
	h := newHarness(t, 2, &fakeEngine{panics: true})
	id := h.create(t, hotelBooking())

	b, err := h.w.ProcessByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPending, b.Status)
	assert.Equal(t, 1, b.Attempts)
}

// interrupt starts processing, waits for the engine to be mid-run and then
// cancels the context as a shutdown signal would.
func interrupt(t *testing.T, h *harness, id string) *booking.Booking {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		b   *booking.Booking
		err error
	}
	done := make(chan result, 1)
	go func() {
		b, err := h.w.ProcessByID(ctx, id)
		done <- result{b, err}
	}()

	select {
	case <-h.engine.started:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never started")
	}
	cancel()

	select {
	case r := <-done:
		require.NoError(t, r.err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not return after cancellation")
	}
	stored, err := h.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	return stored
}

func TestShutdownRevertsActiveBookingToPending(t *testing.T) {
	h := newHarness(t, 1, &fakeEngine{block: true, started: make(chan struct{})})
	id := h.create(t, hotelBooking())

	b := interrupt(t, h, id)
	assert.Equal(t, booking.StatusPending, b.Status)
	assert.Zero(t, b.Attempts, "an interrupted run does not count as an attempt")
	assert.Equal(t, []booking.Status{booking.StatusPending, booking.StatusProcessing, booking.StatusPending}, h.store.History(id))

	held, _ := h.locks.Held(context.Background(), id)
	assert.False(t, held)
}

func TestShutdownKeepsAmbiguousPaymentForReview(t *testing.T) {
	eng := &fakeEngine{
		block:   true,
		started: make(chan struct{}),
		err:     booking.PaymentAmbiguous("confirmation", checkout.ErrReferenceNotFound),
	}
	h := newHarness(t, 3, eng)
	id := h.create(t, hotelBooking())

	b := interrupt(t, h, id)
	assert.Equal(t, booking.StatusFailed, b.Status)
	assert.True(t, b.NeedsReview)
}

func TestShutdownAfterReferenceConfirms(t *testing.T) {
	eng := &fakeEngine{
		block:   true,
		started: make(chan struct{}),
		receipt: checkout.Receipt{PNR: "4123456789"},
		err:     booking.PostPurchase("confirmation", context.Canceled),
	}
	h := newHarness(t, 1, eng)
	id := h.create(t, hotelBooking())

	b := interrupt(t, h, id)
	assert.Equal(t, booking.StatusConfirmed, b.Status)
	assert.Equal(t, "4123456789", b.PNR)
	assert.Empty(t, h.mailer.hotel, "no mail once shutting down")
}

func TestRecoverStaleRevertsUnleasedBookings(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, &fakeEngine{})

	orphan := hotelBooking()
	orphan.Status = booking.StatusProcessing
	orphanID := h.create(t, orphan)

	active := hotelBooking()
	active.Status = booking.StatusProcessing
	activeID := h.create(t, active)
	l, err := h.locks.Acquire(ctx, activeID)
	require.NoError(t, err)
	defer l.Release(ctx)

	n, err := h.w.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := h.store.FindByID(ctx, orphanID)
	assert.Equal(t, booking.StatusPending, got.Status)
	got, _ = h.store.FindByID(ctx, activeID)
	assert.Equal(t, booking.StatusProcessing, got.Status, "a leased booking belongs to a live worker")
}

// flakyStore fails the next failSaves writes of a final outcome.
type flakyStore struct {
	*memory.Store
	mu        sync.Mutex
	failSaves int
}

func (s *flakyStore) Save(ctx context.Context, b *booking.Booking) error {
	s.mu.Lock()
	fail := s.failSaves > 0 && b.Status != booking.StatusProcessing
	if fail {
		s.failSaves--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("connection reset by peer")
	}
	return s.Store.Save(ctx, b)
}

func TestFailedOutcomeWriteIsRetriedOnNextPoll(t *testing.T) {
	store := &flakyStore{Store: memory.New(), failSaves: 1}
	locks := lease.NewLocal()
	eng := &fakeEngine{receipt: checkout.Receipt{PNR: "4123456789", PDF: "/tmp/Booking_4123456789.pdf"}}
	w := New(store, locks, booking.NewSynchronizer(store, 1, zerolog.Nop()), eng, zerolog.Nop())
	mailer := &fakeMailer{}
	w.Mailer = mailer
	ctx := context.Background()

	b := hotelBooking()
	require.NoError(t, store.Create(ctx, b))

	_, err := w.RunOnce(ctx)
	require.Error(t, err)
	stored, _ := store.FindByID(ctx, b.ID)
	assert.Equal(t, booking.StatusProcessing, stored.Status)

	held, _ := locks.Held(ctx, b.ID)
	assert.True(t, held, "the lease stays with the unsaved outcome")
	n, err := w.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a purchased booking must not go back to Pending")

	processed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
	stored, _ = store.FindByID(ctx, b.ID)
	assert.Equal(t, booking.StatusConfirmed, stored.Status)
	assert.Equal(t, "4123456789", stored.PNR)
	assert.Equal(t, 1, eng.calls, "the purchase is not repeated")
	assert.Len(t, mailer.hotel, 1)

	held, _ = locks.Held(ctx, b.ID)
	assert.False(t, held)
}

func TestRunSweepsStaleProcessing(t *testing.T) {
	eng := &fakeEngine{receipt: checkout.Receipt{PNR: "4123456789"}}
	h := newHarness(t, 1, eng)
	h.w.StaleSweep = 20 * time.Millisecond
	orphan := hotelBooking()
	orphan.Status = booking.StatusProcessing
	id := h.create(t, orphan)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.w.Run(ctx) }()

	require.Eventually(t, func() bool {
		b, _ := h.store.FindByID(context.Background(), id)
		return b.Status == booking.StatusConfirmed
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRunProcessesQueueUntilCancelled(t *testing.T) {
	eng := &fakeEngine{receipt: checkout.Receipt{PNR: "4123456789"}}
	h := newHarness(t, 1, eng)
	first := h.create(t, hotelBooking())
	second := h.create(t, hotelBooking())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.w.Run(ctx) }()

	require.Eventually(t, func() bool {
		a, _ := h.store.FindByID(context.Background(), first)
		b, _ := h.store.FindByID(context.Background(), second)
		return a.Status == booking.StatusConfirmed && b.Status == booking.StatusConfirmed
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func confirmed(t *testing.T, h *harness) string {
	t.Helper()
	b := hotelBooking()
	b.Status = booking.StatusConfirmed
	b.PNR = "4123456789"
	return h.create(t, b)
}

func TestCancelRecordsAccount(t *testing.T) {
	h := newHarness(t, 1, &fakeEngine{})
	h.w.Canceller = &fakeCanceller{res: cancel.Result{Account: "agency"}}
	id := confirmed(t, h)

	b, err := h.w.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, b.Status)
	assert.Equal(t, "Auto-cancelled via agency account.", b.Note)

	stored, _ := h.store.FindByID(context.Background(), id)
	assert.Equal(t, booking.StatusCancelled, stored.Status)

	held, _ := h.locks.Held(context.Background(), id)
	assert.False(t, held, "cancel lease released")
}

func TestCancelFailureLeavesStatus(t *testing.T) {
	h := newHarness(t, 1, &fakeEngine{})
	h.w.Canceller = &fakeCanceller{err: cancel.ErrReservationNotFound}
	id := confirmed(t, h)

	_, err := h.w.Cancel(context.Background(), id)
	assert.ErrorIs(t, err, cancel.ErrReservationNotFound)

	stored, _ := h.store.FindByID(context.Background(), id)
	assert.Equal(t, booking.StatusConfirmed, stored.Status)
	assert.NotEmpty(t, stored.ErrorMessage)

	held, _ := h.locks.Held(context.Background(), id)
	assert.False(t, held, "cancel lease released after a failed cancellation")
}

func TestCancelRequiresCanceller(t *testing.T) {
	h := newHarness(t, 1, &fakeEngine{})
	_, err := h.w.Cancel(context.Background(), confirmed(t, h))
	assert.Error(t, err)
}
