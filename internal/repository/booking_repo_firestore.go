package repository

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Domenick1991/spiritbooking/internal/domain"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// bookingDocument is the Firestore shape of a booking. Timestamps are stored
// as native Firestore timestamps; nothing outside this file sees the SDK types.
type bookingDocument struct {
	ServiceID  string `firestore:"serviceId"`
	ProviderID string `firestore:"providerId"`
	CustomerID string `firestore:"customerId"`
	HouseID    string `firestore:"houseId"`

	CustomerName  string `firestore:"customerName"`
	CustomerEmail string `firestore:"customerEmail"`
	CustomerPhone string `firestore:"customerPhone,omitempty"`

	ServiceTitle    string  `firestore:"serviceTitle"`
	ServicePrice    float64 `firestore:"servicePrice"`
	ServiceDuration int     `firestore:"serviceDuration"`

	IsOnline   bool `firestore:"isOnline"`
	IsInPerson bool `firestore:"isInPerson"`

	ScheduledDate string `firestore:"scheduledDate"`
	ScheduledTime string `firestore:"scheduledTime"`
	EndTime       string `firestore:"endTime"`
	Timezone      string `firestore:"timezone"`

	PaymentStatus string  `firestore:"paymentStatus"`
	PaymentAmount float64 `firestore:"paymentAmount"`
	PlatformFee   float64 `firestore:"platformFee"`
	PaymentID     string  `firestore:"paymentId,omitempty"`

	MeetingRoomID   string `firestore:"meetingRoomId,omitempty"`
	MeetingPassword string `firestore:"meetingPassword,omitempty"`
	MeetingURL      string `firestore:"meetingUrl,omitempty"`

	Location *locationDocument `firestore:"location,omitempty"`

	Status             string `firestore:"status"`
	CancellationReason string `firestore:"cancellationReason,omitempty"`
	CancellationPolicy string `firestore:"cancellationPolicy,omitempty"`
	RefundPolicy       string `firestore:"refundPolicy,omitempty"`

	CalendarReminders bool   `firestore:"calendarReminders"`
	CustomerNotes     string `firestore:"customerNotes,omitempty"`
	ProviderNotes     string `firestore:"providerNotes,omitempty"`

	CreatedAt   time.Time  `firestore:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt"`
	ConfirmedAt *time.Time `firestore:"confirmedAt,omitempty"`
	CancelledAt *time.Time `firestore:"cancelledAt,omitempty"`
	CompletedAt *time.Time `firestore:"completedAt,omitempty"`
}

type locationDocument struct {
	Address      string `firestore:"address"`
	City         string `firestore:"city"`
	State        string `firestore:"state"`
	Complement   string `firestore:"complement,omitempty"`
	Instructions string `firestore:"instructions,omitempty"`
}

func toDocument(b *domain.Booking) bookingDocument {
	doc := bookingDocument{
		ServiceID:          b.ServiceID,
		ProviderID:         b.ProviderID,
		CustomerID:         b.CustomerID,
		HouseID:            b.HouseID,
		CustomerName:       b.CustomerName,
		CustomerEmail:      b.CustomerEmail,
		CustomerPhone:      b.CustomerPhone,
		ServiceTitle:       b.ServiceTitle,
		ServicePrice:       b.ServicePrice,
		ServiceDuration:    b.ServiceDuration,
		IsOnline:           b.IsOnline,
		IsInPerson:         b.IsInPerson,
		ScheduledDate:      b.ScheduledDate,
		ScheduledTime:      b.ScheduledTime,
		EndTime:            b.EndTime,
		Timezone:           b.Timezone,
		PaymentStatus:      string(b.PaymentStatus),
		PaymentAmount:      b.PaymentAmount,
		PlatformFee:        b.PlatformFee,
		PaymentID:          b.PaymentID,
		MeetingRoomID:      b.MeetingRoomID,
		MeetingPassword:    b.MeetingPassword,
		MeetingURL:         b.MeetingURL,
		Status:             string(b.Status),
		CancellationReason: b.CancellationReason,
		CancellationPolicy: b.CancellationPolicy,
		RefundPolicy:       b.RefundPolicy,
		CalendarReminders:  b.CalendarReminders,
		CustomerNotes:      b.CustomerNotes,
		ProviderNotes:      b.ProviderNotes,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
		ConfirmedAt:        b.ConfirmedAt,
		CancelledAt:        b.CancelledAt,
		CompletedAt:        b.CompletedAt,
	}
	if b.Location != nil {
		doc.Location = &locationDocument{
			Address:      b.Location.Address,
			City:         b.Location.City,
			State:        b.Location.State,
			Complement:   b.Location.Complement,
			Instructions: b.Location.Instructions,
		}
	}
	return doc
}

func (d bookingDocument) toDomain(id string) *domain.Booking {
	b := &domain.Booking{
		ID:                 id,
		ServiceID:          d.ServiceID,
		ProviderID:         d.ProviderID,
		CustomerID:         d.CustomerID,
		HouseID:            d.HouseID,
		CustomerName:       d.CustomerName,
		CustomerEmail:      d.CustomerEmail,
		CustomerPhone:      d.CustomerPhone,
		ServiceTitle:       d.ServiceTitle,
		ServicePrice:       d.ServicePrice,
		ServiceDuration:    d.ServiceDuration,
		IsOnline:           d.IsOnline,
		IsInPerson:         d.IsInPerson,
		ScheduledDate:      d.ScheduledDate,
		ScheduledTime:      d.ScheduledTime,
		EndTime:            d.EndTime,
		Timezone:           d.Timezone,
		PaymentStatus:      domain.PaymentStatus(d.PaymentStatus),
		PaymentAmount:      d.PaymentAmount,
		PlatformFee:        d.PlatformFee,
		PaymentID:          d.PaymentID,
		MeetingRoomID:      d.MeetingRoomID,
		MeetingPassword:    d.MeetingPassword,
		MeetingURL:         d.MeetingURL,
		Status:             domain.BookingStatus(d.Status),
		CancellationReason: d.CancellationReason,
		CancellationPolicy: d.CancellationPolicy,
		RefundPolicy:       d.RefundPolicy,
		CalendarReminders:  d.CalendarReminders,
		CustomerNotes:      d.CustomerNotes,
		ProviderNotes:      d.ProviderNotes,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
		ConfirmedAt:        d.ConfirmedAt,
		CancelledAt:        d.CancelledAt,
		CompletedAt:        d.CompletedAt,
	}
	if d.Location != nil {
		b.Location = &domain.Location{
			Address:      d.Location.Address,
			City:         d.Location.City,
			State:        d.Location.State,
			Complement:   d.Location.Complement,
			Instructions: d.Location.Instructions,
		}
	}
	return b
}

type FirestoreBookingRepository struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreBookingRepository(client *firestore.Client, collection string) BookingRepository {
	return &FirestoreBookingRepository{client: client, collection: collection}
}

func (r *FirestoreBookingRepository) ref(id string) *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(id)
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (r *FirestoreBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	ref := r.client.Collection(r.collection).NewDoc()
	if _, err := ref.Create(ctx, toDocument(booking)); err != nil {
		return err
	}
	booking.ID = ref.ID
	return nil
}

func (r *FirestoreBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	if id == "" {
		return nil, domain.ErrNotFound
	}
	snap, err := r.ref(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var doc bookingDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// Update runs the version check and the write in one transaction.
func (r *FirestoreBookingRepository) Update(ctx context.Context, booking *domain.Booking, expected domain.Version) error {
	if booking.ID == "" {
		return domain.ErrNotFound
	}
	ref := r.ref(booking.ID)
	return r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return domain.ErrNotFound
			}
			return err
		}
		var current bookingDocument
		if err := snap.DataTo(&current); err != nil {
			return err
		}
		if current.Status != string(expected.Status) || !sameInstant(current.UpdatedAt, expected.UpdatedAt) {
			return domain.ErrConflict
		}
		return tx.Set(ref, toDocument(booking))
	})
}

// Firestore keeps microsecond precision.
func sameInstant(a, b time.Time) bool {
	return a.Truncate(time.Microsecond).Equal(b.Truncate(time.Microsecond))
}

func (r *FirestoreBookingRepository) List(ctx context.Context, filter ListFilter) ([]domain.Booking, error) {
	q := r.client.Collection(r.collection).Query
	if filter.ProviderID != "" {
		q = q.Where("providerId", "==", filter.ProviderID)
	}
	if filter.CustomerID != "" {
		q = q.Where("customerId", "==", filter.CustomerID)
	}
	if filter.Status != "" {
		q = q.Where("status", "==", string(filter.Status))
	}
	if filter.ScheduledFrom != "" {
		q = q.Where("scheduledDate", ">=", filter.ScheduledFrom)
	}
	if filter.ScheduledTo != "" {
		q = q.Where("scheduledDate", "<=", filter.ScheduledTo)
	}
	direction := firestore.Desc
	if filter.Order == SortAscending {
		direction = firestore.Asc
	}
	q = q.OrderBy("scheduledDate", direction).OrderBy("scheduledTime", direction)

	iter := q.Documents(ctx)
	defer iter.Stop()

	bookings := make([]domain.Booking, 0)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		var doc bookingDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		bookings = append(bookings, *doc.toDomain(snap.Ref.ID))
	}
	return bookings, nil
}

var _ BookingRepository = (*FirestoreBookingRepository)(nil)
