package domain

import "time"

const (
	EventBookingCreated   = "booking_created"
	EventBookingReminder  = "booking_reminder"
	EventMeetingRoomReady = "booking_meeting_room_ready"
)

// StatusEventType names the event published when a booking enters status.
func StatusEventType(status BookingStatus) string {
	return "booking_" + string(status)
}

// BookingEvent is the message published to the event broker on every
// lifecycle change and consumed by the notification worker.
type BookingEvent struct {
	Type          string        `json:"type"`
	BookingID     string        `json:"bookingId"`
	ProviderID    string        `json:"providerId"`
	CustomerID    string        `json:"customerId"`
	CustomerName  string        `json:"customerName"`
	CustomerEmail string        `json:"customerEmail"`
	ServiceTitle  string        `json:"serviceTitle"`
	Status        BookingStatus `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	ScheduledDate string        `json:"scheduledDate"`
	ScheduledTime string        `json:"scheduledTime"`
	Timezone      string        `json:"timezone"`
	MeetingURL    string        `json:"meetingUrl,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	OccurredAt    time.Time     `json:"occurredAt"`
}

func NewBookingEvent(eventType string, b *Booking, at time.Time) BookingEvent {
	return BookingEvent{
		Type:          eventType,
		BookingID:     b.ID,
		ProviderID:    b.ProviderID,
		CustomerID:    b.CustomerID,
		CustomerName:  b.CustomerName,
		CustomerEmail: b.CustomerEmail,
		ServiceTitle:  b.ServiceTitle,
		Status:        b.Status,
		PaymentStatus: b.PaymentStatus,
		ScheduledDate: b.ScheduledDate,
		ScheduledTime: b.ScheduledTime,
		Timezone:      b.Timezone,
		MeetingURL:    b.MeetingURL,
		Reason:        b.CancellationReason,
		OccurredAt:    at,
	}
}
