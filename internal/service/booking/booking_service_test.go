package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Domenick1991/spiritbooking/internal/auth"
	"github.com/Domenick1991/spiritbooking/internal/domain"
	"github.com/Domenick1991/spiritbooking/internal/meeting"
	"github.com/Domenick1991/spiritbooking/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	providerID = "provider-1"
	customerID = "customer-1"
	strangerID = "stranger-1"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type MockBookingRepository struct {
	mock.Mock
}

func (m *MockBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	args := m.Called(ctx, booking)
	return args.Error(0)
}

func (m *MockBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) Update(ctx context.Context, booking *domain.Booking, expected domain.Version) error {
	args := m.Called(ctx, booking, expected)
	return args.Error(0)
}

func (m *MockBookingRepository) List(ctx context.Context, filter repository.ListFilter) ([]domain.Booking, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]domain.Booking), args.Error(1)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) AcquireBookingLock(ctx context.Context, bookingID string, ttl time.Duration) (string, bool, error) {
	args := m.Called(ctx, bookingID, ttl)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockCache) ReleaseBookingLock(ctx context.Context, bookingID, token string) error {
	args := m.Called(ctx, bookingID, token)
	return args.Error(0)
}

func (m *MockCache) MarkReminderSent(ctx context.Context, bookingID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, bookingID, ttl)
	return args.Bool(0), args.Error(1)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func as(userID string) context.Context {
	return auth.WithUserID(context.Background(), userID)
}

func ptr[T any](v T) *T { return &v }

func quietLogger() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

func newTestService(repo repository.BookingRepository, clock *fakeClock, cache Cache, producer Producer, opts ...BookingServiceOption) *BookingService {
	rooms := meeting.NewAllocator("https://meet.jit.si", "spiritual", 8, meeting.WithClock(clock.Now))
	opts = append([]BookingServiceOption{WithClock(clock.Now), WithLogger(quietLogger())}, opts...)
	return NewBookingService(repo, auth.ContextIdentity{}, rooms, cache, producer, "bookings", opts...)
}

func validInput() CreateBookingInput {
	return CreateBookingInput{
		ServiceID:         "service-1",
		ProviderID:        providerID,
		CustomerID:        "intruder",
		HouseID:           "house-1",
		CustomerName:      "Ana Souza",
		CustomerEmail:     "ana@example.com",
		ServiceTitle:      "Reiki session",
		ServicePrice:      150,
		ServiceDuration:   60,
		IsOnline:          true,
		ScheduledDate:     "2025-03-10",
		ScheduledTime:     "14:00",
		EndTime:           "15:00",
		Timezone:          "UTC",
		CalendarReminders: true,
	}
}

func seedBooking(t *testing.T, repo repository.BookingRepository, mutate func(*domain.Booking)) *domain.Booking {
	t.Helper()
	b := &domain.Booking{
		ServiceID:       "service-1",
		ProviderID:      providerID,
		CustomerID:      customerID,
		CustomerName:    "Ana Souza",
		CustomerEmail:   "ana@example.com",
		ServiceTitle:    "Reiki session",
		ServicePrice:    150,
		ServiceDuration: 60,
		IsOnline:        true,
		ScheduledDate:   "2025-03-10",
		ScheduledTime:   "14:00",
		EndTime:         "15:00",
		Timezone:        "UTC",
		Status:          domain.BookingStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		PaymentAmount:   150,
		PlatformFee:     15,
		CreatedAt:       baseTime,
		UpdatedAt:       baseTime,
	}
	if mutate != nil {
		mutate(b)
	}
	require.NoError(t, repo.Create(context.Background(), b))
	return b
}

func stored(t *testing.T, repo repository.BookingRepository, id string) *domain.Booking {
	t.Helper()
	b, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestBookingService_CreateBooking_Success(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	clock := &fakeClock{now: baseTime}
	service := newTestService(repo, clock, nil, nil)

	booking, err := service.CreateBooking(as(customerID), validInput())

	require.NoError(t, err)
	assert.NotEmpty(t, booking.ID)
	assert.Equal(t, customerID, booking.CustomerID)
	assert.Equal(t, domain.BookingStatusPending, booking.Status)
	assert.Equal(t, domain.PaymentStatusPending, booking.PaymentStatus)
	assert.Equal(t, 150.0, booking.PaymentAmount)
	assert.Equal(t, 15.0, booking.PlatformFee)
	assert.Equal(t, baseTime, booking.CreatedAt)
	assert.Equal(t, baseTime, booking.UpdatedAt)
	assert.False(t, booking.HasMeetingRoom())
	assert.Nil(t, booking.ConfirmedAt)

	assert.Equal(t, booking, stored(t, repo, booking.ID))
}

func TestBookingService_CreateBooking_ForcesCustomerID(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	service := newTestService(repo, &fakeClock{now: baseTime}, nil, nil)

	for _, supplied := range []string{"", "intruder", providerID, customerID} {
		input := validInput()
		input.CustomerID = supplied

		booking, err := service.CreateBooking(as(customerID), input)
		require.NoError(t, err)
		assert.Equal(t, customerID, booking.CustomerID, "supplied %q", supplied)
	}
}

func TestBookingService_CreateBooking_Unauthenticated(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	service := newTestService(repo, &fakeClock{now: baseTime}, nil, nil)

	_, err := service.CreateBooking(context.Background(), validInput())
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	all, err := repo.List(context.Background(), repository.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestBookingService_CreateBooking_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateBookingInput)
	}{
		{"missing provider", func(in *CreateBookingInput) { in.ProviderID = "" }},
		{"missing email", func(in *CreateBookingInput) { in.CustomerEmail = "" }},
		{"malformed email", func(in *CreateBookingInput) { in.CustomerEmail = "ana-at-example" }},
		{"malformed date", func(in *CreateBookingInput) { in.ScheduledDate = "10/03/2025" }},
		{"malformed time", func(in *CreateBookingInput) { in.ScheduledTime = "2pm" }},
		{"end before start", func(in *CreateBookingInput) { in.EndTime = "13:00" }},
		{"end equals start", func(in *CreateBookingInput) { in.EndTime = "14:00" }},
		{"no modality", func(in *CreateBookingInput) { in.IsOnline = false; in.IsInPerson = false }},
		{"zero duration", func(in *CreateBookingInput) { in.ServiceDuration = 0 }},
		{"negative amount", func(in *CreateBookingInput) { in.PaymentAmount = ptr(-1.0) }},
		{"unknown timezone", func(in *CreateBookingInput) { in.Timezone = "Mars/Olympus" }},
		{"unknown payment status", func(in *CreateBookingInput) { in.PaymentStatus = "overdue" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &MockBookingRepository{}
			service := newTestService(repo, &fakeClock{now: baseTime}, nil, nil)

			input := validInput()
			tt.mutate(&input)
			booking, err := service.CreateBooking(as(customerID), input)

			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Nil(t, booking)
			repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestBookingService_CreateBooking_LocationOnlyForInPerson(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	service := newTestService(repo, &fakeClock{now: baseTime}, nil, nil)
	loc := &domain.Location{Address: "Rua das Flores, 12", City: "Salvador", State: "BA"}

	online := validInput()
	online.Location = loc
	booking, err := service.CreateBooking(as(customerID), online)
	require.NoError(t, err)
	assert.Nil(t, booking.Location)

	inPerson := validInput()
	inPerson.IsOnline = false
	inPerson.IsInPerson = true
	inPerson.Location = loc
	booking, err = service.CreateBooking(as(customerID), inPerson)
	require.NoError(t, err)
	require.NotNil(t, booking.Location)
	assert.Equal(t, "Salvador", booking.Location.City)
	assert.NotSame(t, loc, booking.Location)
}

func TestBookingService_CreateBooking_PaymentOverrides(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	service := newTestService(repo, &fakeClock{now: baseTime}, nil, nil, WithPlatformFeeRate(0.15))

	input := validInput()
	input.PaymentAmount = ptr(33.33)
	input.PaymentStatus = domain.PaymentStatusPaid
	input.PaymentID = "pay_123"

	booking, err := service.CreateBooking(as(customerID), input)
	require.NoError(t, err)
	assert.Equal(t, 33.33, booking.PaymentAmount)
	assert.Equal(t, 5.0, booking.PlatformFee)
	assert.Equal(t, domain.PaymentStatusPaid, booking.PaymentStatus)
	assert.Equal(t, "pay_123", booking.PaymentID)
}

func TestBookingService_CreateBooking_RepositoryError(t *testing.T) {
	repo := &MockBookingRepository{}
	producer := &MockProducer{}
	service := newTestService(repo, &fakeClock{now: baseTime}, nil, producer)
	storeErr := errors.New("deadline exceeded")

	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Booking")).Return(storeErr).Once()

	booking, err := service.CreateBooking(as(customerID), validInput())

	assert.ErrorIs(t, err, storeErr)
	assert.Nil(t, booking)
	producer.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestPlatformFee(t *testing.T) {
	tests := []struct {
		amount, rate, want float64
	}{
		{150, 0.10, 15},
		{99.99, 0.10, 10},
		{33.33, 0.15, 5},
		{0, 0.10, 0},
		{80, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PlatformFee(tt.amount, tt.rate), "%v x %v", tt.amount, tt.rate)
	}
}

func TestBookingService_Confirm_AllocatesMeetingRoom(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	clock := &fakeClock{now: baseTime}
	service := newTestService(repo, clock, nil, nil)
	seeded := seedBooking(t, repo, nil)

	clock.now = baseTime.Add(time.Hour)
	confirmed, err := service.SetStatus(as(providerID), seeded.ID, domain.BookingStatusConfirmed, StatusUpdate{
		ProviderNotes: ptr("bring water"),
	})

	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedAt)
	assert.Equal(t, clock.now, *confirmed.ConfirmedAt)
	assert.Equal(t, clock.now, confirmed.UpdatedAt)
	assert.Equal(t, "bring water", confirmed.ProviderNotes)
	assert.Contains(t, confirmed.MeetingRoomID, seeded.ID)
	assert.Len(t, confirmed.MeetingPassword, 8)
	assert.Contains(t, confirmed.MeetingURL, confirmed.MeetingRoomID)

	assert.Equal(t, confirmed, stored(t, repo, seeded.ID))
}

func TestBookingService_Confirm_InPersonHasNoRoom(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	service := newTestService(repo, &fakeClock{now: baseTime}, nil, nil)
	seeded := seedBooking(t, repo, func(b *domain.Booking) {
		b.IsOnline = false
		b.IsInPerson = true
	})

	confirmed, err := service.SetStatus(as(providerID), seeded.ID, domain.BookingStatusConfirmed, StatusUpdate{})
	require.NoError(t, err)
	assert.False(t, confirmed.HasMeetingRoom())
}

func TestBookingService_Confirm_KeepsExistingRoomAndTimestamp(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	clock := &fakeClock{now: baseTime.Add(48 * time.Hour)}
	service := newTestService(repo, clock, nil, nil)
	earlier := baseTime.Add(-time.Hour)
	seeded := seedBooking(t, repo, func(b *domain.Booking) {
		b.ConfirmedAt = &earlier
		b.MeetingRoomID = "spiritual-existing-1"
		b.MeetingPassword = "abc12345"
		b.MeetingURL = "https://meet.jit.si/spiritual-existing-1"
	})

	confirmed, err := service.SetStatus(as(providerID), seeded.ID, domain.BookingStatusConfirmed, StatusUpdate{})

	require.NoError(t, err)
	assert.Equal(t, earlier, *confirmed.ConfirmedAt)
	assert.Equal(t, "spiritual-existing-1", confirmed.MeetingRoomID)
	assert.Equal(t, "abc12345", confirmed.MeetingPassword)
	assert.Equal(t, clock.now, confirmed.UpdatedAt)
}

func TestBookingService_SetStatus_Authorization(t *testing.T) {
	tests := []struct {
		name    string
		caller  string
		from    domain.BookingStatus
		target  domain.BookingStatus
		update  StatusUpdate
		wantErr error
	}{
		{"provider confirms", providerID, domain.BookingStatusPending, domain.BookingStatusConfirmed, StatusUpdate{}, nil},
		{"customer confirms", customerID, domain.BookingStatusPending, domain.BookingStatusConfirmed, StatusUpdate{}, domain.ErrForbidden},
		{"provider completes", providerID, domain.BookingStatusConfirmed, domain.BookingStatusCompleted, StatusUpdate{}, nil},
		{"customer completes", customerID, domain.BookingStatusConfirmed, domain.BookingStatusCompleted, StatusUpdate{}, domain.ErrForbidden},
		{"provider marks no-show", providerID, domain.BookingStatusConfirmed, domain.BookingStatusNoShow, StatusUpdate{}, nil},
		{"customer marks no-show", customerID, domain.BookingStatusConfirmed, domain.BookingStatusNoShow, StatusUpdate{}, domain.ErrForbidden},
		{"provider cancels", providerID, domain.BookingStatusConfirmed, domain.BookingStatusCancelled, StatusUpdate{CancellationReason: ptr("sick")}, nil},
		{"customer cancels", customerID, domain.BookingStatusPending, domain.BookingStatusCancelled, StatusUpdate{CancellationReason: ptr("travel")}, nil},
		{"stranger cancels", strangerID, domain.BookingStatusPending, domain.BookingStatusCancelled, StatusUpdate{CancellationReason: ptr("spite")}, domain.ErrForbidden},
		{"stranger confirms", strangerID, domain.BookingStatusPending, domain.BookingStatusConfirmed, StatusUpdate{}, domain.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := repository.NewMemoryBookingRepository()
			service := newTestService(repo, &fakeClock{now: baseTime.Add(time.Hour)}, nil, nil)
			seeded := seedBooking(t, repo, func(b *domain.Booking) { b.Status = tt.from })

			updated, err := service.SetStatus(as(tt.caller), seeded.ID, tt.target, tt.update)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, seeded, stored(t, repo, seeded.ID))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.target, updated.Status)
		})
	}
}

func TestBookingService_SetStatus_TerminalStatesAreImmutable(t *testing.T) {
	terminal := []domain.BookingStatus{domain.BookingStatusCancelled, domain.BookingStatusCompleted, domain.BookingStatusNoShow}
	targets := []domain.BookingStatus{
		domain.BookingStatusPending, domain.BookingStatusConfirmed, domain.BookingStatusCancelled,
		domain.BookingStatusCompleted, domain.BookingStatusNoShow,
	}

	for _, from := range terminal {
		for _, target := range targets {
			t.Run(string(from)+"->"+string(target), func(t *testing.T) {
				repo := repository.NewMemoryBookingRepository()
				service := newTestService(repo, &fakeClock{now: baseTime.Add(time.Hour)}, nil, nil)
				seeded := seedBooking(t, repo, func(b *domain.Booking) { b.Status = from })

				var update StatusUpdate
				if target == domain.BookingStatusCancelled {
					update.CancellationReason = ptr("again")
				}
				_, err := service.SetStatus(as(providerID), seeded.ID, target, update)

				assert.ErrorIs(t, err, domain.ErrIllegalTransition)
				assert.Equal(t, seeded, stored(t, repo, seeded.ID))
			})
		}

		t.Run(string(from)+" cancel without reason", func(t *testing.T) {
			repo := repository.NewMemoryBookingRepository()
			service := newTestService(repo, &fakeClock{now: baseTime.Add(time.Hour)}, nil, nil)
			seeded := seedBooking(t, repo, func(b *domain.Booking) { b.Status = from })

			_, err := service.CancelBooking(as(providerID), seeded.ID, "", false)

			assert.ErrorIs(t, err, domain.ErrIllegalTransition)
			assert.NotErrorIs(t, err, domain.ErrValidation)
			assert.Equal(t, seeded, stored(t, repo, seeded.ID))
		})

		t.Run(string(from)+" with disallowed field", func(t *testing.T) {
			repo := repository.NewMemoryBookingRepository()
			service := newTestService(repo, &fakeClock{now: baseTime.Add(time.Hour)}, nil, nil)
			seeded := seedBooking(t, repo, func(b *domain.Booking) { b.Status = from })

			_, err := service.SetStatus(as(providerID), seeded.ID, domain.BookingStatusConfirmed, StatusUpdate{Refund: true})

			assert.ErrorIs(t, err, domain.ErrIllegalTransition)
			assert.Equal(t, seeded, stored(t, repo, seeded.ID))
		})
	}
}

func TestBookingService_SetStatus_IllegalFromPending(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	service := newTestService(repo, &fakeClock{now: baseTime}, nil, nil)
	seeded := seedBooking(t, repo, nil)

	for _, target := range []domain.BookingStatus{domain.BookingStatusPending, domain.BookingStatusCompleted, domain.BookingStatusNoShow} {
		_, err := service.SetStatus(as(providerID), seeded.ID, target, StatusUpdate{})
		assert.ErrorIs(t, err, domain.ErrIllegalTransition, "target %s", target)
	}
	assert.Equal(t, seeded, stored(t, repo, seeded.ID))
}

func TestBookingService_SetStatus_WhitelistedMerge(t *testing.T) {
	tests := []struct {
		name    string
		from    domain.BookingStatus
		target  domain.BookingStatus
		update  StatusUpdate
		wantErr error
	}{
		{"confirm with cancellation reason", domain.BookingStatusPending, domain.BookingStatusConfirmed, StatusUpdate{CancellationReason: ptr("x")}, domain.ErrValidation},
		{"confirm with refund", domain.BookingStatusPending, domain.BookingStatusConfirmed, StatusUpdate{Refund: true}, domain.ErrValidation},
		{"confirm with customer notes", domain.BookingStatusPending, domain.BookingStatusConfirmed, StatusUpdate{CustomerNotes: ptr("x")}, domain.ErrValidation},
		{"no-show with payment status", domain.BookingStatusConfirmed, domain.BookingStatusNoShow, StatusUpdate{PaymentStatus: ptr(domain.PaymentStatusPaid)}, domain.ErrValidation},
		{"complete with invalid payment status", domain.BookingStatusConfirmed, domain.BookingStatusCompleted, StatusUpdate{PaymentStatus: ptr(domain.PaymentStatus("lost"))}, domain.ErrValidation},
		{"unknown target", domain.BookingStatusPending, domain.BookingStatus("archived"), StatusUpdate{}, domain.ErrValidation},
		{"complete with payment", domain.BookingStatusConfirmed, domain.BookingStatusCompleted, StatusUpdate{PaymentStatus: ptr(domain.PaymentStatusPaid), PaymentID: ptr("pay_9")}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := repository.NewMemoryBookingRepository()
			service := newTestService(repo, &fakeClock{now: baseTime.Add(time.Hour)}, nil, nil)
			seeded := seedBooking(t, repo, func(b *domain.Booking) { b.Status = tt.from })

			updated, err := service.SetStatus(as(providerID), seeded.ID, tt.target, tt.update)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, seeded, stored(t, repo, seeded.ID))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.PaymentStatusPaid, updated.PaymentStatus)
			assert.Equal(t, "pay_9", updated.PaymentID)
			require.NotNil(t, updated.CompletedAt)
		})
	}
}

func TestBookingService_CancelBooking_RequiresReason(t *testing.T) {
	for _, reason := range []string{"", "   "} {
		repo := repository.NewMemoryBookingRepository()
		service := newTestService(repo, &fakeClock{now: baseTime}, nil, nil)
		seeded := seedBooking(t, repo, nil)

		_, err := service.CancelBooking(as(customerID), seeded.ID, reason, true)

		assert.ErrorIs(t, err, domain.ErrValidation)
		after := stored(t, repo, seeded.ID)
		assert.Equal(t, domain.BookingStatusPending, after.Status)
		assert.Equal(t, domain.PaymentStatusPending, after.PaymentStatus)
	}
}

func TestBookingService_CancelBooking_WithoutRefund(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	clock := &fakeClock{now: baseTime.Add(time.Hour)}
	service := newTestService(repo, clock, nil, nil)
	seeded := seedBooking(t, repo, func(b *domain.Booking) { b.PaymentStatus = domain.PaymentStatusPaid })

	cancelled, err := service.CancelBooking(as(providerID), seeded.ID, "  provider unavailable ", false)

	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, cancelled.Status)
	assert.Equal(t, "provider unavailable", cancelled.CancellationReason)
	assert.Equal(t, domain.PaymentStatusPaid, cancelled.PaymentStatus)
	assert.Equal(t, clock.now, *cancelled.CancelledAt)
}

func TestBookingService_SetStatus_NotFound(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	service := newTestService(repo, &fakeClock{now: baseTime}, nil, nil)

	_, err := service.SetStatus(as(providerID), "missing", domain.BookingStatusConfirmed, StatusUpdate{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBookingService_SetStatus_Unauthenticated(t *testing.T) {
	repo := &MockBookingRepository{}
	service := newTestService(repo, &fakeClock{now: baseTime}, nil, nil)

	_, err := service.SetStatus(context.Background(), "b1", domain.BookingStatusConfirmed, StatusUpdate{})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestBookingService_SetStatus_StoreFailurePassesThrough(t *testing.T) {
	repo := &MockBookingRepository{}
	service := newTestService(repo, &fakeClock{now: baseTime}, nil, nil)
	storeErr := errors.New("permission denied")

	repo.On("GetByID", mock.Anything, "b1").Return(nil, storeErr).Once()

	_, err := service.SetStatus(as(providerID), "b1", domain.BookingStatusConfirmed, StatusUpdate{})
	assert.Same(t, storeErr, err)
	repo.AssertExpectations(t)
}

// racingRepository lets a competing writer commit between the service's read
// and its conditional write.
type racingRepository struct {
	*repository.MemoryBookingRepository
	onRead func()
}

func (r *racingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := r.MemoryBookingRepository.GetByID(ctx, id)
	if r.onRead != nil {
		race := r.onRead
		r.onRead = nil
		race()
	}
	return b, err
}

func TestBookingService_SetStatus_ConcurrentWriteConflicts(t *testing.T) {
	mem := repository.NewMemoryBookingRepository()
	repo := &racingRepository{MemoryBookingRepository: mem}
	clock := &fakeClock{now: baseTime.Add(time.Hour)}
	service := newTestService(repo, clock, nil, nil)
	seeded := seedBooking(t, mem, nil)

	repo.onRead = func() {
		winner := seeded.Clone()
		winner.Status = domain.BookingStatusCancelled
		winner.CancellationReason = "customer changed plans"
		winner.UpdatedAt = baseTime.Add(30 * time.Minute)
		require.NoError(t, mem.Update(context.Background(), winner, seeded.Version()))
	}

	_, err := service.SetStatus(as(providerID), seeded.ID, domain.BookingStatusConfirmed, StatusUpdate{})

	assert.ErrorIs(t, err, domain.ErrConflict)
	after := stored(t, mem, seeded.ID)
	assert.Equal(t, domain.BookingStatusCancelled, after.Status)
	assert.False(t, after.HasMeetingRoom())
}

func TestBookingService_SetStatus_Lock(t *testing.T) {
	t.Run("held by another request", func(t *testing.T) {
		repo := repository.NewMemoryBookingRepository()
		cache := &MockCache{}
		service := newTestService(repo, &fakeClock{now: baseTime}, cache, nil, WithLockTTL(10*time.Second))
		seeded := seedBooking(t, repo, nil)

		cache.On("AcquireBookingLock", mock.Anything, seeded.ID, 10*time.Second).Return("", false, nil).Once()

		_, err := service.SetStatus(as(providerID), seeded.ID, domain.BookingStatusConfirmed, StatusUpdate{})

		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.Equal(t, seeded, stored(t, repo, seeded.ID))
		cache.AssertNotCalled(t, "ReleaseBookingLock", mock.Anything, mock.Anything, mock.Anything)
		cache.AssertExpectations(t)
	})

	t.Run("acquired and released", func(t *testing.T) {
		repo := repository.NewMemoryBookingRepository()
		cache := &MockCache{}
		service := newTestService(repo, &fakeClock{now: baseTime}, cache, nil, WithLockTTL(10*time.Second))
		seeded := seedBooking(t, repo, nil)

		cache.On("AcquireBookingLock", mock.Anything, seeded.ID, 10*time.Second).Return("token-1", true, nil).Once()
		cache.On("ReleaseBookingLock", mock.Anything, seeded.ID, "token-1").Return(nil).Once()

		_, err := service.SetStatus(as(providerID), seeded.ID, domain.BookingStatusConfirmed, StatusUpdate{})

		require.NoError(t, err)
		cache.AssertExpectations(t)
	})

	t.Run("released on failure", func(t *testing.T) {
		repo := repository.NewMemoryBookingRepository()
		cache := &MockCache{}
		service := newTestService(repo, &fakeClock{now: baseTime}, cache, nil, WithLockTTL(10*time.Second))
		seeded := seedBooking(t, repo, nil)

		cache.On("AcquireBookingLock", mock.Anything, seeded.ID, 10*time.Second).Return("token-1", true, nil).Once()
		cache.On("ReleaseBookingLock", mock.Anything, seeded.ID, "token-1").Return(errors.New("redis gone")).Once()

		_, err := service.SetStatus(as(strangerID), seeded.ID, domain.BookingStatusConfirmed, StatusUpdate{})

		assert.ErrorIs(t, err, domain.ErrForbidden)
		cache.AssertExpectations(t)
	})

	t.Run("disabled without ttl", func(t *testing.T) {
		repo := repository.NewMemoryBookingRepository()
		cache := &MockCache{}
		service := newTestService(repo, &fakeClock{now: baseTime}, cache, nil)
		seeded := seedBooking(t, repo, nil)

		_, err := service.SetStatus(as(providerID), seeded.ID, domain.BookingStatusConfirmed, StatusUpdate{})

		require.NoError(t, err)
		cache.AssertNotCalled(t, "AcquireBookingLock", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestBookingService_AllocateMeetingRoom(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	clock := &fakeClock{now: baseTime}
	service := newTestService(repo, clock, nil, nil)
	online := seedBooking(t, repo, nil)
	inPerson := seedBooking(t, repo, func(b *domain.Booking) {
		b.IsOnline = false
		b.IsInPerson = true
	})

	_, err := service.AllocateMeetingRoom(as(providerID), inPerson.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.False(t, stored(t, repo, inPerson.ID).HasMeetingRoom())

	_, err = service.AllocateMeetingRoom(as(customerID), online.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	first, err := service.AllocateMeetingRoom(as(providerID), online.ID)
	require.NoError(t, err)
	assert.Equal(t, first, stored(t, repo, online.ID).MeetingRoom())

	clock.now = clock.now.Add(time.Minute)
	second, err := service.AllocateMeetingRoom(as(providerID), online.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBookingService_AllocateMeetingRoom_TerminalBooking(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	service := newTestService(repo, &fakeClock{now: baseTime}, nil, nil)
	seeded := seedBooking(t, repo, func(b *domain.Booking) { b.Status = domain.BookingStatusCancelled })

	_, err := service.AllocateMeetingRoom(as(providerID), seeded.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestBookingService_GetBooking(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	service := newTestService(repo, &fakeClock{now: baseTime}, nil, nil)
	seeded := seedBooking(t, repo, nil)

	for _, caller := range []string{providerID, customerID} {
		got, err := service.GetBooking(as(caller), seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, seeded, got)
	}

	_, err := service.GetBooking(as(strangerID), seeded.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = service.GetBooking(as(customerID), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = service.GetBooking(context.Background(), seeded.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestBookingService_ListBookings(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	service := newTestService(repo, &fakeClock{now: baseTime}, nil, nil)

	near := seedBooking(t, repo, func(b *domain.Booking) { b.ScheduledDate = "2025-03-05" })
	far := seedBooking(t, repo, func(b *domain.Booking) {
		b.ScheduledDate = "2025-04-20"
		b.Status = domain.BookingStatusConfirmed
	})
	other := seedBooking(t, repo, func(b *domain.Booking) {
		b.ProviderID = "provider-2"
		b.CustomerID = "customer-2"
	})

	ids := func(bookings []domain.Booking) []string {
		out := make([]string, 0, len(bookings))
		for _, b := range bookings {
			out = append(out, b.ID)
		}
		return out
	}

	got, err := service.ListProviderBookings(as(providerID), providerID, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{far.ID, near.ID}, ids(got))

	got, err = service.ListProviderBookings(as(providerID), providerID, ListOptions{Order: repository.SortAscending})
	require.NoError(t, err)
	assert.Equal(t, []string{near.ID, far.ID}, ids(got))

	got, err = service.ListProviderBookings(as(providerID), providerID, ListOptions{Status: domain.BookingStatusConfirmed})
	require.NoError(t, err)
	assert.Equal(t, []string{far.ID}, ids(got))

	got, err = service.ListCustomerBookings(as("customer-2"), "customer-2", ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{other.ID}, ids(got))

	_, err = service.ListProviderBookings(as(customerID), providerID, ListOptions{})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = service.ListCustomerBookings(as(customerID), customerID, ListOptions{Status: "archived"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = service.ListCustomerBookings(as(customerID), customerID, ListOptions{Order: "sideways"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = service.ListCustomerBookings(as(customerID), customerID, ListOptions{From: "March"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestBookingService_CreateBooking_PadsSingleDigitHours(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	service := newTestService(repo, &fakeClock{now: baseTime}, nil, nil)

	ten := validInput()
	ten.ScheduledTime = "10:00"
	ten.EndTime = "11:00"
	nine := validInput()
	nine.ScheduledTime = "9:00"
	nine.EndTime = "9:45"

	tenBooking, err := service.CreateBooking(as(customerID), ten)
	require.NoError(t, err)
	nineBooking, err := service.CreateBooking(as(customerID), nine)
	require.NoError(t, err)
	assert.Equal(t, "09:00", nineBooking.ScheduledTime)
	assert.Equal(t, "09:45", stored(t, repo, nineBooking.ID).EndTime)

	got, err := service.ListProviderBookings(as(providerID), providerID, ListOptions{Order: repository.SortAscending})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, nineBooking.ID, got[0].ID)
	assert.Equal(t, tenBooking.ID, got[1].ID)

	got, err = service.ListProviderBookings(as(providerID), providerID, ListOptions{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, tenBooking.ID, got[0].ID)
	assert.Equal(t, nineBooking.ID, got[1].ID)
}

func TestBookingService_Eligibility(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	clock := &fakeClock{}
	service := newTestService(repo, clock, nil, nil)
	seeded := seedBooking(t, repo, func(b *domain.Booking) { b.Status = domain.BookingStatusConfirmed })
	scheduled := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name            string
		now             time.Time
		canReschedule   bool
		canStartSession bool
	}{
		{"two days ahead", scheduled.Add(-48 * time.Hour), true, false},
		{"24h01m ahead", scheduled.Add(-24*time.Hour - time.Minute), true, false},
		{"23h59m ahead", scheduled.Add(-23*time.Hour - 59*time.Minute), false, false},
		{"15m ahead", scheduled.Add(-15 * time.Minute), false, true},
		{"16m ahead", scheduled.Add(-16 * time.Minute), false, false},
		{"59m late", scheduled.Add(59 * time.Minute), false, true},
		{"61m late", scheduled.Add(61 * time.Minute), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock.now = tt.now
			got, err := service.Eligibility(as(customerID), seeded.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.canReschedule, got.CanReschedule)
			assert.Equal(t, tt.canStartSession, got.CanStartSession)
			assert.Equal(t, tt.now, got.EvaluatedAt)
		})
	}

	_, err := service.Eligibility(as(strangerID), seeded.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestBookingService_Lifecycle(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	clock := &fakeClock{now: baseTime}
	service := newTestService(repo, clock, nil, nil)

	input := validInput()
	input.IsOnline = true
	input.IsInPerson = false
	created, err := service.CreateBooking(as(customerID), input)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusPending, created.Status)
	assert.False(t, created.HasMeetingRoom())

	clock.now = baseTime.Add(24 * time.Hour)
	confirmed, err := service.SetStatus(as(providerID), created.ID, domain.BookingStatusConfirmed, StatusUpdate{})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedAt)
	assert.NotEmpty(t, confirmed.MeetingRoomID)
	assert.NotEmpty(t, confirmed.MeetingPassword)
	assert.NotEmpty(t, confirmed.MeetingURL)

	clock.now = time.Date(2025, 3, 10, 13, 50, 0, 0, time.UTC)
	eligibility, err := service.Eligibility(as(customerID), created.ID)
	require.NoError(t, err)
	assert.True(t, eligibility.CanStartSession)
	assert.False(t, eligibility.CanReschedule)

	cancelled, err := service.CancelBooking(as(customerID), created.ID, "customer request", true)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, clock.now, *cancelled.CancelledAt)
	assert.Equal(t, domain.PaymentStatusRefunded, cancelled.PaymentStatus)
	assert.Equal(t, "customer request", cancelled.CancellationReason)
	assert.Equal(t, confirmed.ConfirmedAt, cancelled.ConfirmedAt)
	assert.Equal(t, confirmed.MeetingRoomID, cancelled.MeetingRoomID)

	final := stored(t, repo, created.ID)
	assert.Equal(t, cancelled, final)
}

func TestBookingService_Publish_WithNotifications(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	producer := &MockProducer{}
	service := newTestService(repo, &fakeClock{now: baseTime}, nil, producer, WithNotificationsTopic("notifications"))

	isCreated := mock.MatchedBy(func(e domain.BookingEvent) bool {
		return e.Type == domain.EventBookingCreated && e.CustomerID == customerID && e.OccurredAt.Equal(baseTime)
	})
	producer.On("Publish", mock.Anything, "bookings", mock.AnythingOfType("string"), isCreated).Return(nil).Once()
	producer.On("Publish", mock.Anything, "notifications", mock.AnythingOfType("string"), isCreated).Return(nil).Once()

	_, err := service.CreateBooking(as(customerID), validInput())

	require.NoError(t, err)
	producer.AssertExpectations(t)
}

func TestBookingService_Publish_StatusEvents(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	producer := &MockProducer{}
	service := newTestService(repo, &fakeClock{now: baseTime}, nil, producer)
	seeded := seedBooking(t, repo, nil)

	isConfirmed := mock.MatchedBy(func(e domain.BookingEvent) bool {
		return e.Type == "booking_confirmed" && e.MeetingURL != "" && e.Status == domain.BookingStatusConfirmed
	})
	producer.On("Publish", mock.Anything, "bookings", seeded.ID, isConfirmed).Return(nil).Once()

	_, err := service.SetStatus(as(providerID), seeded.ID, domain.BookingStatusConfirmed, StatusUpdate{})

	require.NoError(t, err)
	producer.AssertExpectations(t)
}

func TestBookingService_Publish_FailureDoesNotFailOperation(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	producer := &MockProducer{}
	logger, hook := test.NewNullLogger()
	service := newTestService(repo, &fakeClock{now: baseTime}, nil, producer, WithLogger(logrus.NewEntry(logger)))

	producer.On("Publish", mock.Anything, "bookings", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

	booking, err := service.CreateBooking(as(customerID), validInput())

	require.NoError(t, err)
	assert.NotNil(t, stored(t, repo, booking.ID))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, domain.EventBookingCreated, hook.LastEntry().Data["event"])
	producer.AssertExpectations(t)
}

func TestBookingService_Publish_NoTopic(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	producer := &MockProducer{}
	rooms := meeting.NewAllocator("https://meet.jit.si", "spiritual", 8)
	service := NewBookingService(repo, auth.ContextIdentity{}, rooms, nil, producer, "", WithLogger(quietLogger()))

	_, err := service.CreateBooking(as(customerID), validInput())

	require.NoError(t, err)
	producer.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBookingService_SendDueReminders(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	cache := &MockCache{}
	producer := &MockProducer{}
	now := time.Date(2025, 3, 10, 13, 30, 0, 0, time.UTC)
	service := newTestService(repo, &fakeClock{now: now}, cache, producer)

	confirmed := func(at string, reminders bool) func(*domain.Booking) {
		return func(b *domain.Booking) {
			b.Status = domain.BookingStatusConfirmed
			b.ScheduledTime = at
			b.EndTime = "23:30"
			b.CalendarReminders = reminders
		}
	}
	due := seedBooking(t, repo, confirmed("14:00", true))
	seedBooking(t, repo, confirmed("14:10", false))
	seedBooking(t, repo, confirmed("16:00", true))
	seedBooking(t, repo, confirmed("13:00", true))
	seedBooking(t, repo, func(b *domain.Booking) {
		b.ScheduledTime = "14:00"
		b.CalendarReminders = true
	})
	// 14:00 in São Paulo is 17:00 UTC, outside the hour.
	seedBooking(t, repo, func(b *domain.Booking) {
		confirmed("14:00", true)(b)
		b.Timezone = "America/Sao_Paulo"
	})

	cache.On("MarkReminderSent", mock.Anything, due.ID, 90*time.Minute).Return(true, nil).Once()
	cache.On("MarkReminderSent", mock.Anything, due.ID, 90*time.Minute).Return(false, nil).Once()
	isReminder := mock.MatchedBy(func(e domain.BookingEvent) bool {
		return e.Type == domain.EventBookingReminder && e.BookingID == due.ID
	})
	producer.On("Publish", mock.Anything, "bookings", due.ID, isReminder).Return(nil).Once()

	sent, err := service.SendDueReminders(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	sent, err = service.SendDueReminders(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)

	cache.AssertExpectations(t)
	producer.AssertExpectations(t)
}

func TestBookingService_SendDueReminders_StoreError(t *testing.T) {
	repo := &MockBookingRepository{}
	service := newTestService(repo, &fakeClock{now: baseTime}, &MockCache{}, nil)
	storeErr := errors.New("unavailable")

	repo.On("List", mock.Anything, mock.AnythingOfType("repository.ListFilter")).Return([]domain.Booking(nil), storeErr).Once()

	_, err := service.SendDueReminders(context.Background(), time.Hour)
	assert.ErrorIs(t, err, storeErr)
}

func TestBookingService_SendDueReminders_RequiresCache(t *testing.T) {
	repo := &MockBookingRepository{}
	producer := &MockProducer{}
	service := newTestService(repo, &fakeClock{now: baseTime}, nil, producer)

	_, err := service.SendDueReminders(context.Background(), time.Hour)

	assert.ErrorIs(t, err, ErrRemindersNeedCache)
	repo.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
	producer.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestNewBookingService_WithOptions(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	rooms := meeting.NewAllocator("https://meet.jit.si", "spiritual", 8)
	log := quietLogger()

	service := NewBookingService(repo, auth.ContextIdentity{}, rooms, nil, nil, "bookings",
		WithNotificationsTopic("notifications"),
		WithPlatformFeeRate(0.2),
		WithLockTTL(5*time.Second),
		WithLogger(log),
	)

	assert.Equal(t, "notifications", service.notificationsTopic)
	assert.Equal(t, 0.2, service.feeRate)
	assert.Equal(t, 5*time.Second, service.lockTTL)
	assert.Same(t, log, service.log)
	assert.NotNil(t, service.clock)
}

func TestBookingService_NowTruncatesToMicroseconds(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 10, 13, 0, 0, 123456789, time.FixedZone("BRT", -3*3600))}
	service := newTestService(repository.NewMemoryBookingRepository(), clock, nil, nil)

	now := service.now()
	assert.Equal(t, time.UTC, now.Location())
	assert.Equal(t, 123456000, now.Nanosecond())
}
