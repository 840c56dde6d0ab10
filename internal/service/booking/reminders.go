package booking

import (
	"context"
	"errors"
	"time"

	"github.com/Domenick1991/spiritbooking/internal/domain"
	"github.com/Domenick1991/spiritbooking/internal/repository"
	"github.com/sirupsen/logrus"
)

// ErrRemindersNeedCache is returned by SendDueReminders when no cache is
// configured to remember which bookings were already reminded.
var ErrRemindersNeedCache = errors.New("reminder sweep requires a cache")

// SendDueReminders publishes one booking_reminder for every confirmed booking
// with calendar reminders that starts within lead from now. Each booking is
// reminded at most once. It returns the number of reminders published.
func (s *BookingService) SendDueReminders(ctx context.Context, lead time.Duration) (int, error) {
	if s.cache == nil {
		return 0, ErrRemindersNeedCache
	}
	now := s.now()
	horizon := now.Add(lead)

	// Dates are local to each booking, so widen the date window by a day on
	// both sides and filter on the exact instant below.
	candidates, err := s.bookings.List(ctx, repository.ListFilter{
		Status:        domain.BookingStatusConfirmed,
		ScheduledFrom: now.AddDate(0, 0, -1).Format(domain.DateLayout),
		ScheduledTo:   horizon.AddDate(0, 0, 1).Format(domain.DateLayout),
		Order:         repository.SortAscending,
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range candidates {
		b := &candidates[i]
		if !b.CalendarReminders {
			continue
		}
		at, err := b.ScheduledAt()
		if err != nil || at.Before(now) || at.After(horizon) {
			continue
		}

		first, err := s.cache.MarkReminderSent(ctx, b.ID, at.Sub(now)+domain.LateStartWindow)
		if err != nil {
			s.log.WithError(err).WithField("booking_id", b.ID).Warn("failed to mark reminder")
			continue
		}
		if !first {
			continue
		}

		if err := s.publish(ctx, domain.EventBookingReminder, b); err != nil {
			s.warnPublish(err, domain.EventBookingReminder, b)
			continue
		}
		sent++
	}

	s.log.WithFields(logrus.Fields{"candidates": len(candidates), "sent": sent}).Info("reminder sweep finished")
	return sent, nil
}
