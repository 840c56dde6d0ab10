package repository

import (
	"context"
	"sync"

	"github.com/Domenick1991/spiritbooking/internal/domain"
	"github.com/google/uuid"
)

// MemoryBookingRepository keeps bookings in process. It backs tests and the
// "memory" store driver.
type MemoryBookingRepository struct {
	mu       sync.Mutex
	bookings map[string]*domain.Booking
	newID    func() string
}

func NewMemoryBookingRepository() *MemoryBookingRepository {
	return &MemoryBookingRepository{
		bookings: make(map[string]*domain.Booking),
		newID:    uuid.NewString,
	}
}

func (r *MemoryBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	booking.ID = r.newID()
	r.bookings[booking.ID] = booking.Clone()
	return nil
}

func (r *MemoryBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b.Clone(), nil
}

func (r *MemoryBookingRepository) Update(ctx context.Context, booking *domain.Booking, expected domain.Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.bookings[booking.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Status != expected.Status || !current.UpdatedAt.Equal(expected.UpdatedAt) {
		return domain.ErrConflict
	}
	r.bookings[booking.ID] = booking.Clone()
	return nil
}

func (r *MemoryBookingRepository) List(ctx context.Context, filter ListFilter) ([]domain.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	bookings := make([]domain.Booking, 0)
	for _, b := range r.bookings {
		if filter.matches(b) {
			bookings = append(bookings, *b.Clone())
		}
	}
	sortBookings(bookings, filter.Order)
	return bookings, nil
}

var _ BookingRepository = (*MemoryBookingRepository)(nil)
