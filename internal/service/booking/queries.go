package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/Domenick1991/spiritbooking/internal/domain"
	"github.com/Domenick1991/spiritbooking/internal/repository"
)

// ListOptions narrows an actor's booking list. Order defaults to
// scheduledDate descending.
type ListOptions struct {
	Status domain.BookingStatus
	Order  repository.SortOrder
	From   string
	To     string
}

type Eligibility struct {
	BookingID       string    `json:"bookingId"`
	CanReschedule   bool      `json:"canReschedule"`
	CanStartSession bool      `json:"canStartSession"`
	EvaluatedAt     time.Time `json:"evaluatedAt"`
}

func (s *BookingService) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	userID, err := s.identity.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	booking, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isParticipant(userID, booking) {
		return nil, fmt.Errorf("%w: user %s is not part of booking %s", domain.ErrForbidden, userID, id)
	}
	return booking, nil
}

func (s *BookingService) ListProviderBookings(ctx context.Context, providerID string, opts ListOptions) ([]domain.Booking, error) {
	return s.listFor(ctx, providerID, opts, func(f *repository.ListFilter) { f.ProviderID = providerID })
}

func (s *BookingService) ListCustomerBookings(ctx context.Context, customerID string, opts ListOptions) ([]domain.Booking, error) {
	return s.listFor(ctx, customerID, opts, func(f *repository.ListFilter) { f.CustomerID = customerID })
}

func (s *BookingService) listFor(ctx context.Context, actorID string, opts ListOptions, scope func(*repository.ListFilter)) ([]domain.Booking, error) {
	userID, err := s.identity.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	if actorID == "" || userID != actorID {
		return nil, fmt.Errorf("%w: user %s may not list bookings of %s", domain.ErrForbidden, userID, actorID)
	}
	filter, err := opts.filter()
	if err != nil {
		return nil, err
	}
	scope(&filter)
	return s.bookings.List(ctx, filter)
}

func (o ListOptions) filter() (repository.ListFilter, error) {
	if o.Status != "" && !o.Status.IsValid() {
		return repository.ListFilter{}, fmt.Errorf("%w: invalid booking status %q", domain.ErrValidation, o.Status)
	}
	switch o.Order {
	case "", repository.SortDescending, repository.SortAscending:
	default:
		return repository.ListFilter{}, fmt.Errorf("%w: invalid order %q", domain.ErrValidation, o.Order)
	}
	for _, d := range []string{o.From, o.To} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(domain.DateLayout, d); err != nil {
			return repository.ListFilter{}, fmt.Errorf("%w: invalid date %q", domain.ErrValidation, d)
		}
	}
	return repository.ListFilter{
		Status:        o.Status,
		Order:         o.Order,
		ScheduledFrom: o.From,
		ScheduledTo:   o.To,
	}, nil
}

// Eligibility evaluates the reschedule and session-start windows at the
// current time. Nothing is stored.
func (s *BookingService) Eligibility(ctx context.Context, id string) (*Eligibility, error) {
	booking, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return &Eligibility{
		BookingID:       booking.ID,
		CanReschedule:   booking.CanReschedule(now),
		CanStartSession: booking.CanStartSession(now),
		EvaluatedAt:     now,
	}, nil
}
