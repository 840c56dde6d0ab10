package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/Domenick1991/spiritbooking/internal/domain"
	"github.com/Domenick1991/spiritbooking/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const DefaultPlatformFeeRate = 0.10

type BookingUseCase interface {
	CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error)
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	SetStatus(ctx context.Context, id string, target domain.BookingStatus, update StatusUpdate) (*domain.Booking, error)
	CancelBooking(ctx context.Context, id, reason string, refund bool) (*domain.Booking, error)
	ListProviderBookings(ctx context.Context, providerID string, opts ListOptions) ([]domain.Booking, error)
	ListCustomerBookings(ctx context.Context, customerID string, opts ListOptions) ([]domain.Booking, error)
	AllocateMeetingRoom(ctx context.Context, id string) (*domain.MeetingRoom, error)
	Eligibility(ctx context.Context, id string) (*Eligibility, error)
}

// Identity resolves the authenticated caller.
type Identity interface {
	CurrentUserID(ctx context.Context) (string, error)
}

type MeetingAllocator interface {
	Allocate(bookingID string) (domain.MeetingRoom, error)
}

type Cache interface {
	// AcquireBookingLock returns an owner token that ReleaseBookingLock
	// requires, so an expired lock never releases another request's lock.
	AcquireBookingLock(ctx context.Context, bookingID string, ttl time.Duration) (string, bool, error)
	ReleaseBookingLock(ctx context.Context, bookingID, token string) error
	MarkReminderSent(ctx context.Context, bookingID string, ttl time.Duration) (bool, error)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type BookingService struct {
	bookings           repository.BookingRepository
	identity           Identity
	rooms              MeetingAllocator
	cache              Cache
	producer           Producer
	bookingTopic       string
	notificationsTopic string
	feeRate            float64
	lockTTL            time.Duration
	clock              func() time.Time
	log                *logrus.Entry
	validate           *validator.Validate
}

// CreateBookingInput is the customer-supplied booking payload. CustomerID is
// accepted for wire compatibility and always replaced by the caller's id.
type CreateBookingInput struct {
	ServiceID  string `json:"serviceId" validate:"required"`
	ProviderID string `json:"providerId" validate:"required"`
	CustomerID string `json:"customerId"`
	HouseID    string `json:"houseId"`

	CustomerName  string `json:"customerName" validate:"required"`
	CustomerEmail string `json:"customerEmail" validate:"required,email"`
	CustomerPhone string `json:"customerPhone"`

	ServiceTitle    string  `json:"serviceTitle" validate:"required"`
	ServicePrice    float64 `json:"servicePrice" validate:"gte=0"`
	ServiceDuration int     `json:"serviceDuration" validate:"gt=0"`

	IsOnline   bool `json:"isOnline"`
	IsInPerson bool `json:"isInPerson"`

	ScheduledDate string `json:"scheduledDate" validate:"required,datetime=2006-01-02"`
	ScheduledTime string `json:"scheduledTime" validate:"required,datetime=15:04"`
	EndTime       string `json:"endTime" validate:"required,datetime=15:04"`
	Timezone      string `json:"timezone"`

	PaymentStatus domain.PaymentStatus `json:"paymentStatus" validate:"omitempty,oneof=pending paid failed refunded"`
	PaymentAmount *float64             `json:"paymentAmount" validate:"omitempty,gte=0"`
	PaymentID     string               `json:"paymentId"`

	Location *domain.Location `json:"location"`

	CalendarReminders bool   `json:"calendarReminders"`
	CustomerNotes     string `json:"customerNotes"`
}

type BookingServiceOption func(*BookingService)

func WithNotificationsTopic(topic string) BookingServiceOption {
	return func(s *BookingService) {
		s.notificationsTopic = topic
	}
}

func WithPlatformFeeRate(rate float64) BookingServiceOption {
	return func(s *BookingService) {
		s.feeRate = rate
	}
}

// WithLockTTL enables the per-booking cache lock around status writes.
// A zero ttl disables it.
func WithLockTTL(ttl time.Duration) BookingServiceOption {
	return func(s *BookingService) {
		s.lockTTL = ttl
	}
}

func WithClock(now func() time.Time) BookingServiceOption {
	return func(s *BookingService) {
		s.clock = now
	}
}

func WithLogger(log *logrus.Entry) BookingServiceOption {
	return func(s *BookingService) {
		s.log = log
	}
}

// NewBookingService wires the lifecycle manager. cache and producer may be nil.
func NewBookingService(
	bookings repository.BookingRepository,
	identity Identity,
	rooms MeetingAllocator,
	cache Cache,
	producer Producer,
	bookingTopic string,
	opts ...BookingServiceOption,
) *BookingService {
	service := &BookingService{
		bookings:     bookings,
		identity:     identity,
		rooms:        rooms,
		cache:        cache,
		producer:     producer,
		bookingTopic: bookingTopic,
		feeRate:      DefaultPlatformFeeRate,
		clock:        time.Now,
		log:          logrus.NewEntry(logrus.StandardLogger()),
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// now is UTC at microsecond precision so timestamps survive a store round trip
// and remain usable as version tokens.
func (s *BookingService) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

func (s *BookingService) CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error) {
	userID, err := s.identity.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if !input.IsOnline && !input.IsInPerson {
		return nil, fmt.Errorf("%w: booking must be online or in person", domain.ErrValidation)
	}

	amount := input.ServicePrice
	if input.PaymentAmount != nil {
		amount = *input.PaymentAmount
	}
	paymentStatus := input.PaymentStatus
	if paymentStatus == "" {
		paymentStatus = domain.PaymentStatusPending
	}

	now := s.now()
	booking := &domain.Booking{
		ServiceID:         input.ServiceID,
		ProviderID:        input.ProviderID,
		CustomerID:        userID,
		HouseID:           input.HouseID,
		CustomerName:      input.CustomerName,
		CustomerEmail:     input.CustomerEmail,
		CustomerPhone:     input.CustomerPhone,
		ServiceTitle:      input.ServiceTitle,
		ServicePrice:      input.ServicePrice,
		ServiceDuration:   input.ServiceDuration,
		IsOnline:          input.IsOnline,
		IsInPerson:        input.IsInPerson,
		ScheduledDate:     input.ScheduledDate,
		ScheduledTime:     input.ScheduledTime,
		EndTime:           input.EndTime,
		Timezone:          input.Timezone,
		PaymentStatus:     paymentStatus,
		PaymentAmount:     amount,
		PlatformFee:       PlatformFee(amount, s.feeRate),
		PaymentID:         input.PaymentID,
		Status:            domain.BookingStatusPending,
		CalendarReminders: input.CalendarReminders,
		CustomerNotes:     input.CustomerNotes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if input.IsInPerson && input.Location != nil {
		loc := *input.Location
		booking.Location = &loc
	}
	if err := booking.NormalizeSchedule(); err != nil {
		return nil, err
	}

	if err := s.bookings.Create(ctx, booking); err != nil {
		return nil, err
	}

	if err := s.publish(ctx, domain.EventBookingCreated, booking); err != nil {
		s.warnPublish(err, domain.EventBookingCreated, booking)
	}
	return booking, nil
}

// PlatformFee is the commission retained from amount, rounded to cents.
func PlatformFee(amount, rate float64) float64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(rate)).Round(2).InexactFloat64()
}

func (s *BookingService) publish(ctx context.Context, eventType string, booking *domain.Booking) error {
	if s.producer == nil || s.bookingTopic == "" {
		return nil
	}
	event := domain.NewBookingEvent(eventType, booking, s.now())
	if err := s.producer.Publish(ctx, s.bookingTopic, booking.ID, event); err != nil {
		return err
	}
	if s.notificationsTopic != "" {
		return s.producer.Publish(ctx, s.notificationsTopic, booking.ID, event)
	}
	return nil
}

func (s *BookingService) warnPublish(err error, eventType string, booking *domain.Booking) {
	s.log.WithError(err).WithFields(logrus.Fields{
		"event":      eventType,
		"booking_id": booking.ID,
	}).Warn("failed to publish booking event")
}

var _ BookingUseCase = (*BookingService)(nil)
