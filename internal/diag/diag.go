// Package diag carries step-level progress records out of the booking
// pipeline. Emitting never blocks the caller.
package diag

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"travelbot/internal/observability"
)

const (
	OutcomeOK    = "ok"
	OutcomeRetry = "retry"
	OutcomeFail  = "fail"
	OutcomeInfo  = "info"
)

type Record struct {
	BookingID  string
	Step       string
	Outcome    string
	Detail     string
	Screenshot string
	At         time.Time
}

type Sink interface {
	Emit(r Record)
}

// Discard drops every record.
type Discard struct{}

func (Discard) Emit(Record) {}

// LogSink writes records through zerolog from a background goroutine.
type LogSink struct {
	ch      chan Record
	log     zerolog.Logger
	dropped atomic.Int64
	wg      sync.WaitGroup
	once    sync.Once
}

func NewLogSink(log zerolog.Logger, buffer int) *LogSink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &LogSink{ch: make(chan Record, buffer), log: log.With().Str("component", "diag").Logger()}
	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *LogSink) Emit(r Record) {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

func (s *LogSink) loop() {
	defer s.wg.Done()
	for r := range s.ch {
		observability.ObserveDiagnostic(r.Outcome)
		ev := s.log.Info()
		if r.Outcome == OutcomeFail {
			ev = s.log.Warn()
		}
		ev = ev.Str("booking_id", r.BookingID).
			Str("step", r.Step).
			Str("outcome", r.Outcome).
			Time("at", r.At)
		if r.Detail != "" {
			ev = ev.Str("detail", r.Detail)
		}
		if r.Screenshot != "" {
			ev = ev.Str("screenshot", r.Screenshot)
		}
		ev.Msg("step")
	}
}

// Dropped reports how many records were discarded because the buffer was full.
func (s *LogSink) Dropped() int64 { return s.dropped.Load() }

// Close flushes pending records. Emit must not be called after Close.
func (s *LogSink) Close() {
	s.once.Do(func() {
		close(s.ch)
		s.wg.Wait()
	})
}

// Track runs fn as the named step, recording its duration and emitting one
// record with the outcome.
func Track(sink Sink, bookingID, step string, fn func() error) error {
	start := time.Now()
	err := fn()
	observability.ObserveStep(step, err, time.Since(start))
	rec := Record{BookingID: bookingID, Step: step, Outcome: OutcomeOK, At: time.Now()}
	if err != nil {
		rec.Outcome = OutcomeFail
		rec.Detail = err.Error()
	}
	sink.Emit(rec)
	return err
}

// Recorder keeps records in memory.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

func (r *Recorder) Emit(rec Record) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// Steps lists the step names of every record with the given outcome.
func (r *Recorder) Steps(outcome string) []string {
	var out []string
	for _, rec := range r.Records() {
		if rec.Outcome == outcome {
			out = append(out, rec.Step)
		}
	}
	return out
}
