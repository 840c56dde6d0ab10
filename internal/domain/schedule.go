package domain

import (
	"fmt"
	"time"
)

const (
	RescheduleLeadTime = 24 * time.Hour
	EarlyJoinWindow    = 15 * time.Minute
	LateStartWindow    = 60 * time.Minute
)

func (b *Booking) location() (*time.Location, error) {
	if b.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(b.Timezone)
}

func (b *Booking) instant(clock string) (time.Time, error) {
	loc, err := b.location()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timezone %q: %v", ErrValidation, b.Timezone, err)
	}
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, b.ScheduledDate+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: schedule %q %q: %v", ErrValidation, b.ScheduledDate, clock, err)
	}
	return t, nil
}

// ScheduledAt combines scheduledDate and scheduledTime in the booking timezone.
func (b *Booking) ScheduledAt() (time.Time, error) {
	return b.instant(b.ScheduledTime)
}

// EndsAt combines scheduledDate and endTime; bookings never cross midnight.
func (b *Booking) EndsAt() (time.Time, error) {
	return b.instant(b.EndTime)
}

// NormalizeSchedule rewrites scheduledDate, scheduledTime and endTime in their
// zero-padded layouts, so "9:00" is stored as "09:00" and stores can order the
// raw strings, then validates the result.
func (b *Booking) NormalizeSchedule() error {
	date, err := time.Parse(DateLayout, b.ScheduledDate)
	if err != nil {
		return fmt.Errorf("%w: scheduledDate %q: %v", ErrValidation, b.ScheduledDate, err)
	}
	start, err := time.Parse(TimeLayout, b.ScheduledTime)
	if err != nil {
		return fmt.Errorf("%w: scheduledTime %q: %v", ErrValidation, b.ScheduledTime, err)
	}
	end, err := time.Parse(TimeLayout, b.EndTime)
	if err != nil {
		return fmt.Errorf("%w: endTime %q: %v", ErrValidation, b.EndTime, err)
	}
	b.ScheduledDate = date.Format(DateLayout)
	b.ScheduledTime = start.Format(TimeLayout)
	b.EndTime = end.Format(TimeLayout)
	return b.ValidateSchedule()
}

func (b *Booking) ValidateSchedule() error {
	start, err := b.ScheduledAt()
	if err != nil {
		return err
	}
	end, err := b.EndsAt()
	if err != nil {
		return err
	}
	if !end.After(start) {
		return fmt.Errorf("%w: endTime %s must be after scheduledTime %s", ErrValidation, b.EndTime, b.ScheduledTime)
	}
	return nil
}

// CanReschedule is true for confirmed bookings more than 24h away from now.
func (b *Booking) CanReschedule(now time.Time) bool {
	if b.Status != BookingStatusConfirmed {
		return false
	}
	at, err := b.ScheduledAt()
	if err != nil {
		return false
	}
	return at.Sub(now) > RescheduleLeadTime
}

// CanStartSession is true for confirmed bookings from 15 minutes before the
// scheduled time until 60 minutes after it.
func (b *Booking) CanStartSession(now time.Time) bool {
	if b.Status != BookingStatusConfirmed {
		return false
	}
	at, err := b.ScheduledAt()
	if err != nil {
		return false
	}
	until := at.Sub(now)
	return until <= EarlyJoinWindow && until >= -LateStartWindow
}
