// Package meeting generates video rooms for online bookings.
package meeting

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/spiritbooking/internal/domain"
	"github.com/thanhpk/randstr"
)

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Camera and microphone start muted when joining.
const mutedFragment = "#config.startWithAudioMuted=true&config.startWithVideoMuted=true"

type Allocator struct {
	baseURL        string
	prefix         string
	passwordLength int
	now            func() time.Time
}

type Option func(*Allocator)

func WithClock(now func() time.Time) Option {
	return func(a *Allocator) {
		a.now = now
	}
}

func NewAllocator(baseURL, prefix string, passwordLength int, opts ...Option) *Allocator {
	if passwordLength <= 0 {
		passwordLength = 8
	}
	a := &Allocator{
		baseURL:        strings.TrimRight(baseURL, "/"),
		prefix:         prefix,
		passwordLength: passwordLength,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate derives a room for bookingID. The room id carries the allocation
// time so a retried allocation never reuses an earlier id; the password is
// random and unrelated to the booking.
func (a *Allocator) Allocate(bookingID string) (domain.MeetingRoom, error) {
	if bookingID == "" {
		return domain.MeetingRoom{}, errors.New("booking id is required")
	}

	roomID := fmt.Sprintf("%s-%s-%d", a.prefix, bookingID, a.now().UnixMilli())
	if a.prefix == "" {
		roomID = fmt.Sprintf("%s-%d", bookingID, a.now().UnixMilli())
	}

	return domain.MeetingRoom{
		RoomID:   roomID,
		Password: randstr.String(a.passwordLength, alphanumeric),
		URL:      fmt.Sprintf("%s/%s%s", a.baseURL, roomID, mutedFragment),
	}, nil
}
