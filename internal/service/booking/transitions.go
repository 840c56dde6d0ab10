package booking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Domenick1991/spiritbooking/internal/domain"
)

// StatusUpdate carries the fields that may be merged alongside a status
// change. Nil fields are left untouched.
type StatusUpdate struct {
	ProviderNotes      *string               `json:"providerNotes,omitempty"`
	CustomerNotes      *string               `json:"customerNotes,omitempty"`
	PaymentStatus      *domain.PaymentStatus `json:"paymentStatus,omitempty"`
	PaymentID          *string               `json:"paymentId,omitempty"`
	CancellationReason *string               `json:"cancellationReason,omitempty"`
	CancellationPolicy *string               `json:"cancellationPolicy,omitempty"`
	RefundPolicy       *string               `json:"refundPolicy,omitempty"`
	Refund             bool                  `json:"refund,omitempty"`
}

var allowedUpdates = map[domain.BookingStatus]map[string]bool{
	domain.BookingStatusConfirmed: {"providerNotes": true, "paymentStatus": true, "paymentId": true},
	domain.BookingStatusCancelled: {
		"cancellationReason": true, "cancellationPolicy": true, "refundPolicy": true,
		"refund": true, "providerNotes": true, "customerNotes": true,
	},
	domain.BookingStatusCompleted: {"providerNotes": true, "paymentStatus": true, "paymentId": true},
	domain.BookingStatusNoShow:    {"providerNotes": true},
}

func (u StatusUpdate) fields() []string {
	var set []string
	if u.ProviderNotes != nil {
		set = append(set, "providerNotes")
	}
	if u.CustomerNotes != nil {
		set = append(set, "customerNotes")
	}
	if u.PaymentStatus != nil {
		set = append(set, "paymentStatus")
	}
	if u.PaymentID != nil {
		set = append(set, "paymentId")
	}
	if u.CancellationReason != nil {
		set = append(set, "cancellationReason")
	}
	if u.CancellationPolicy != nil {
		set = append(set, "cancellationPolicy")
	}
	if u.RefundPolicy != nil {
		set = append(set, "refundPolicy")
	}
	if u.Refund {
		set = append(set, "refund")
	}
	return set
}

func (u StatusUpdate) validateFor(target domain.BookingStatus) error {
	allowed := allowedUpdates[target]
	var rejected []string
	for _, field := range u.fields() {
		if !allowed[field] {
			rejected = append(rejected, field)
		}
	}
	if len(rejected) > 0 {
		sort.Strings(rejected)
		return fmt.Errorf("%w: fields %s cannot be set when moving to %s", domain.ErrValidation, strings.Join(rejected, ", "), target)
	}
	if target == domain.BookingStatusCancelled && (u.CancellationReason == nil || strings.TrimSpace(*u.CancellationReason) == "") {
		return fmt.Errorf("%w: cancellationReason is required", domain.ErrValidation)
	}
	if u.PaymentStatus != nil && !u.PaymentStatus.IsValid() {
		return fmt.Errorf("%w: invalid payment status %q", domain.ErrValidation, *u.PaymentStatus)
	}
	return nil
}

func (u StatusUpdate) apply(b *domain.Booking) {
	if u.ProviderNotes != nil {
		b.ProviderNotes = *u.ProviderNotes
	}
	if u.CustomerNotes != nil {
		b.CustomerNotes = *u.CustomerNotes
	}
	if u.PaymentStatus != nil {
		b.PaymentStatus = *u.PaymentStatus
	}
	if u.PaymentID != nil {
		b.PaymentID = *u.PaymentID
	}
	if u.CancellationReason != nil {
		b.CancellationReason = strings.TrimSpace(*u.CancellationReason)
	}
	if u.CancellationPolicy != nil {
		b.CancellationPolicy = *u.CancellationPolicy
	}
	if u.RefundPolicy != nil {
		b.RefundPolicy = *u.RefundPolicy
	}
	if u.Refund {
		b.PaymentStatus = domain.PaymentStatusRefunded
	}
}

// authorizeTransition allows the provider every transition and the customer
// only cancellation.
func authorizeTransition(userID string, b *domain.Booking, target domain.BookingStatus) error {
	switch {
	case userID == b.ProviderID:
		return nil
	case target == domain.BookingStatusCancelled && userID == b.CustomerID:
		return nil
	}
	return fmt.Errorf("%w: user %s may not move booking %s to %s", domain.ErrForbidden, userID, b.ID, target)
}

func isParticipant(userID string, b *domain.Booking) bool {
	return userID == b.ProviderID || userID == b.CustomerID
}

func setOnce(field **time.Time, at time.Time) {
	if *field == nil {
		t := at
		*field = &t
	}
}

// SetStatus moves a booking to target, merging the whitelisted fields of
// update, and writes the result with a conditional update against the
// version that was read. A terminal booking reports ErrIllegalTransition
// whatever the update carries.
func (s *BookingService) SetStatus(ctx context.Context, id string, target domain.BookingStatus, update StatusUpdate) (*domain.Booking, error) {
	userID, err := s.identity.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	if !target.IsValid() {
		return nil, fmt.Errorf("%w: invalid booking status %q", domain.ErrValidation, target)
	}

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeTransition(userID, current, target); err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(target) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, current.Status, target)
	}
	if err := update.validateFor(target); err != nil {
		return nil, err
	}

	now := s.now()
	next := current.Clone()
	next.Status = target
	next.UpdatedAt = now
	update.apply(next)

	switch target {
	case domain.BookingStatusConfirmed:
		setOnce(&next.ConfirmedAt, now)
		if next.IsOnline && !next.HasMeetingRoom() {
			room, err := s.rooms.Allocate(next.ID)
			if err != nil {
				return nil, err
			}
			if err := next.AssignMeetingRoom(room); err != nil {
				return nil, err
			}
		}
	case domain.BookingStatusCancelled:
		setOnce(&next.CancelledAt, now)
	case domain.BookingStatusCompleted:
		setOnce(&next.CompletedAt, now)
	}

	if err := s.bookings.Update(ctx, next, current.Version()); err != nil {
		return nil, err
	}

	eventType := domain.StatusEventType(target)
	if err := s.publish(ctx, eventType, next); err != nil {
		s.warnPublish(err, eventType, next)
	}
	return next, nil
}

func (s *BookingService) CancelBooking(ctx context.Context, id, reason string, refund bool) (*domain.Booking, error) {
	return s.SetStatus(ctx, id, domain.BookingStatusCancelled, StatusUpdate{
		CancellationReason: &reason,
		Refund:             refund,
	})
}

// AllocateMeetingRoom returns the booking's room, generating and storing one
// when the booking has none yet.
func (s *BookingService) AllocateMeetingRoom(ctx context.Context, id string) (*domain.MeetingRoom, error) {
	userID, err := s.identity.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != current.ProviderID {
		return nil, fmt.Errorf("%w: only the provider may allocate a meeting room", domain.ErrForbidden)
	}
	if !current.IsOnline {
		return nil, fmt.Errorf("%w: booking %s is not online", domain.ErrValidation, id)
	}
	if room := current.MeetingRoom(); room != nil {
		return room, nil
	}
	if current.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: booking %s is %s", domain.ErrValidation, id, current.Status)
	}

	room, err := s.rooms.Allocate(current.ID)
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	if err := next.AssignMeetingRoom(room); err != nil {
		return nil, err
	}
	next.UpdatedAt = s.now()

	if err := s.bookings.Update(ctx, next, current.Version()); err != nil {
		return nil, err
	}
	if err := s.publish(ctx, domain.EventMeetingRoomReady, next); err != nil {
		s.warnPublish(err, domain.EventMeetingRoomReady, next)
	}
	return &room, nil
}

// lock takes the per-booking cache lock when one is configured. The returned
// release func is always safe to call.
func (s *BookingService) lock(ctx context.Context, id string) (func(), error) {
	if s.cache == nil || s.lockTTL <= 0 {
		return func() {}, nil
	}
	token, ok, err := s.cache.AcquireBookingLock(ctx, id, s.lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: booking %s is being modified", domain.ErrConflict, id)
	}
	return func() {
		if err := s.cache.ReleaseBookingLock(context.WithoutCancel(ctx), id, token); err != nil {
			s.log.WithError(err).WithField("booking_id", id).Warn("failed to release booking lock")
		}
	}, nil
}
