// Package storage defines the persistence collaborator for booking records.
package storage

import (
	"context"
	"errors"

	"travelbot/internal/booking"
)

var ErrNotFound = errors.New("storage: booking not found")

// Store is the single source of truth for booking status. Implementations
// reject saves that break booking.CheckTransition.
type Store interface {
	// FindNextEligiblePending returns the oldest eligible Pending booking,
	// or nil when there is none.
	FindNextEligiblePending(ctx context.Context) (*booking.Booking, error)
	FindByID(ctx context.Context, id string) (*booking.Booking, error)
	Save(ctx context.Context, b *booking.Booking) error
	Create(ctx context.Context, b *booking.Booking) error
	ListProcessing(ctx context.Context) ([]*booking.Booking, error)
}
