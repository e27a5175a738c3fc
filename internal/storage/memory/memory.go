// Package memory is an in-process booking store used by tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"travelbot/internal/booking"
	"travelbot/internal/storage"
)

type Store struct {
	mu       sync.RWMutex
	bookings map[string]*booking.Booking
	history  map[string][]booking.Status
	now      func() time.Time
}

func New() *Store {
	return &Store{
		bookings: make(map[string]*booking.Booking),
		history:  make(map[string][]booking.Status),
		now:      time.Now,
	}
}

func (s *Store) Create(_ context.Context, b *booking.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if _, ok := s.bookings[b.ID]; ok {
		return fmt.Errorf("booking %s already exists", b.ID)
	}
	if b.Status == "" {
		b.Status = booking.StatusPending
	}
	if err := booking.CheckTransition(nil, b); err != nil {
		return err
	}
	now := s.now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	s.bookings[b.ID] = b.Clone()
	s.history[b.ID] = []booking.Status{b.Status}
	return nil
}

func (s *Store) Save(_ context.Context, b *booking.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.bookings[b.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if err := booking.CheckTransition(prev, b); err != nil {
		return err
	}
	b.UpdatedAt = s.now()
	s.bookings[b.ID] = b.Clone()
	s.history[b.ID] = append(s.history[b.ID], b.Status)
	return nil
}

func (s *Store) FindByID(_ context.Context, id string) (*booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return b.Clone(), nil
}

func (s *Store) FindNextEligiblePending(_ context.Context) (*booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.sorted() {
		if b.Eligible() {
			return b.Clone(), nil
		}
	}
	return nil, nil
}

func (s *Store) ListProcessing(_ context.Context) ([]*booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*booking.Booking
	for _, b := range s.sorted() {
		if b.Status == booking.StatusProcessing {
			out = append(out, b.Clone())
		}
	}
	return out, nil
}

// History returns every status id was saved with, in order.
func (s *Store) History(id string) []booking.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]booking.Status(nil), s.history[id]...)
}

// sorted orders bookings by creation time, then id. Callers hold the lock.
func (s *Store) sorted() []*booking.Booking {
	out := make([]*booking.Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

var _ storage.Store = (*Store)(nil)
