package domain

import (
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Location is the address of an in-person session.
type Location struct {
	Address      string `json:"address"`
	City         string `json:"city"`
	State        string `json:"state"`
	Complement   string `json:"complement,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// MeetingRoom identifies the video room of an online session.
type MeetingRoom struct {
	RoomID   string `json:"roomId"`
	Password string `json:"password"`
	URL      string `json:"url"`
}

// Booking is one scheduled appointment between a customer and a provider.
// Service and customer fields are snapshots taken at creation time.
type Booking struct {
	ID         string `json:"id"`
	ServiceID  string `json:"serviceId"`
	ProviderID string `json:"providerId"`
	CustomerID string `json:"customerId"`
	HouseID    string `json:"houseId"`

	CustomerName  string `json:"customerName"`
	CustomerEmail string `json:"customerEmail"`
	CustomerPhone string `json:"customerPhone,omitempty"`

	ServiceTitle    string  `json:"serviceTitle"`
	ServicePrice    float64 `json:"servicePrice"`
	ServiceDuration int     `json:"serviceDuration"`

	IsOnline   bool `json:"isOnline"`
	IsInPerson bool `json:"isInPerson"`

	ScheduledDate string `json:"scheduledDate"`
	ScheduledTime string `json:"scheduledTime"`
	EndTime       string `json:"endTime"`
	Timezone      string `json:"timezone"`

	PaymentStatus PaymentStatus `json:"paymentStatus"`
	PaymentAmount float64       `json:"paymentAmount"`
	PlatformFee   float64       `json:"platformFee"`
	PaymentID     string        `json:"paymentId,omitempty"`

	MeetingRoomID   string `json:"meetingRoomId,omitempty"`
	MeetingPassword string `json:"meetingPassword,omitempty"`
	MeetingURL      string `json:"meetingUrl,omitempty"`

	Location *Location `json:"location,omitempty"`

	Status             BookingStatus `json:"status"`
	CancellationReason string        `json:"cancellationReason,omitempty"`
	CancellationPolicy string        `json:"cancellationPolicy,omitempty"`
	RefundPolicy       string        `json:"refundPolicy,omitempty"`

	CalendarReminders bool   `json:"calendarReminders"`
	CustomerNotes     string `json:"customerNotes,omitempty"`
	ProviderNotes     string `json:"providerNotes,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Version is the optimistic-concurrency token a store must match before
// overwriting a booking.
type Version struct {
	Status    BookingStatus
	UpdatedAt time.Time
}

func (b *Booking) Version() Version {
	return Version{Status: b.Status, UpdatedAt: b.UpdatedAt}
}

func (b *Booking) HasMeetingRoom() bool {
	return b.MeetingRoomID != ""
}

func (b *Booking) MeetingRoom() *MeetingRoom {
	if !b.HasMeetingRoom() {
		return nil
	}
	return &MeetingRoom{RoomID: b.MeetingRoomID, Password: b.MeetingPassword, URL: b.MeetingURL}
}

// AssignMeetingRoom stores room on an online booking. A booking keeps its
// first room forever.
func (b *Booking) AssignMeetingRoom(room MeetingRoom) error {
	if !b.IsOnline {
		return fmt.Errorf("%w: booking %s is not online", ErrValidation, b.ID)
	}
	if b.HasMeetingRoom() {
		return fmt.Errorf("%w: booking %s already has meeting room %s", ErrConflict, b.ID, b.MeetingRoomID)
	}
	b.MeetingRoomID = room.RoomID
	b.MeetingPassword = room.Password
	b.MeetingURL = room.URL
	return nil
}

// Clone returns a deep copy so stores and callers never share pointers.
func (b *Booking) Clone() *Booking {
	c := *b
	if b.Location != nil {
		loc := *b.Location
		c.Location = &loc
	}
	c.ConfirmedAt = cloneTime(b.ConfirmedAt)
	c.CancelledAt = cloneTime(b.CancelledAt)
	c.CompletedAt = cloneTime(b.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
