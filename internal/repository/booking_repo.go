package repository

import (
	"context"
	"sort"

	"github.com/Domenick1991/spiritbooking/internal/domain"
)

type SortOrder string

const (
	SortDescending SortOrder = "desc"
	SortAscending  SortOrder = "asc"
)

// ListFilter narrows a booking query. Empty fields do not filter.
// ScheduledFrom and ScheduledTo are inclusive YYYY-MM-DD bounds.
type ListFilter struct {
	ProviderID    string
	CustomerID    string
	Status        domain.BookingStatus
	ScheduledFrom string
	ScheduledTo   string
	Order         SortOrder
}

// BookingRepository is the document store the booking lifecycle runs on.
type BookingRepository interface {
	// Create assigns booking.ID and inserts the record.
	Create(ctx context.Context, booking *domain.Booking) error
	// GetByID returns domain.ErrNotFound for unknown ids.
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	// Update overwrites the stored booking only while it still matches
	// expected, otherwise it returns domain.ErrConflict.
	Update(ctx context.Context, booking *domain.Booking, expected domain.Version) error
	// List returns bookings ordered by scheduledDate then scheduledTime.
	List(ctx context.Context, filter ListFilter) ([]domain.Booking, error)
}

func (f ListFilter) matches(b *domain.Booking) bool {
	if f.ProviderID != "" && b.ProviderID != f.ProviderID {
		return false
	}
	if f.CustomerID != "" && b.CustomerID != f.CustomerID {
		return false
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.ScheduledFrom != "" && b.ScheduledDate < f.ScheduledFrom {
		return false
	}
	if f.ScheduledTo != "" && b.ScheduledDate > f.ScheduledTo {
		return false
	}
	return true
}

// sortBookings orders by scheduledDate, then scheduledTime, in the filter's
// direction. Descending is the default.
func sortBookings(bookings []domain.Booking, order SortOrder) {
	sort.SliceStable(bookings, func(i, j int) bool {
		a, b := bookings[i], bookings[j]
		if a.ScheduledDate != b.ScheduledDate {
			if order == SortAscending {
				return a.ScheduledDate < b.ScheduledDate
			}
			return a.ScheduledDate > b.ScheduledDate
		}
		if order == SortAscending {
			return a.ScheduledTime < b.ScheduledTime
		}
		return a.ScheduledTime > b.ScheduledTime
	})
}
