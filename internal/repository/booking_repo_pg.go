package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Domenick1991/spiritbooking/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const bookingColumns = `id, service_id, provider_id, customer_id, house_id,
	customer_name, customer_email, customer_phone,
	service_title, service_price, service_duration,
	is_online, is_in_person,
	scheduled_date, scheduled_time, end_time, timezone,
	payment_status, payment_amount, platform_fee, payment_id,
	meeting_room_id, meeting_password, meeting_url, location,
	status, cancellation_reason, cancellation_policy, refund_policy,
	calendar_reminders, customer_notes, provider_notes,
	created_at, updated_at, confirmed_at, cancelled_at, completed_at`

// PgxIface is the subset of *pgxpool.Pool the repository uses.
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PGBookingRepository struct {
	db PgxIface
}

func NewBookingRepository(db PgxIface) BookingRepository {
	return &PGBookingRepository{db: db}
}

func bookingValues(b *domain.Booking) []any {
	return []any{
		b.ID, b.ServiceID, b.ProviderID, b.CustomerID, b.HouseID,
		b.CustomerName, b.CustomerEmail, b.CustomerPhone,
		b.ServiceTitle, b.ServicePrice, b.ServiceDuration,
		b.IsOnline, b.IsInPerson,
		b.ScheduledDate, b.ScheduledTime, b.EndTime, b.Timezone,
		b.PaymentStatus, b.PaymentAmount, b.PlatformFee, b.PaymentID,
		b.MeetingRoomID, b.MeetingPassword, b.MeetingURL, b.Location,
		b.Status, b.CancellationReason, b.CancellationPolicy, b.RefundPolicy,
		b.CalendarReminders, b.CustomerNotes, b.ProviderNotes,
		b.CreatedAt, b.UpdatedAt, b.ConfirmedAt, b.CancelledAt, b.CompletedAt,
	}
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(
		&b.ID, &b.ServiceID, &b.ProviderID, &b.CustomerID, &b.HouseID,
		&b.CustomerName, &b.CustomerEmail, &b.CustomerPhone,
		&b.ServiceTitle, &b.ServicePrice, &b.ServiceDuration,
		&b.IsOnline, &b.IsInPerson,
		&b.ScheduledDate, &b.ScheduledTime, &b.EndTime, &b.Timezone,
		&b.PaymentStatus, &b.PaymentAmount, &b.PlatformFee, &b.PaymentID,
		&b.MeetingRoomID, &b.MeetingPassword, &b.MeetingURL, &b.Location,
		&b.Status, &b.CancellationReason, &b.CancellationPolicy, &b.RefundPolicy,
		&b.CalendarReminders, &b.CustomerNotes, &b.ProviderNotes,
		&b.CreatedAt, &b.UpdatedAt, &b.ConfirmedAt, &b.CancelledAt, &b.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}

func (r *PGBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	booking.ID = uuid.NewString()
	values := bookingValues(booking)
	query := `INSERT INTO bookings (` + bookingColumns + `) VALUES (` + placeholders(1, len(values)) + `)`
	_, err := r.db.Exec(ctx, query, values...)
	return err
}

func (r *PGBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := scanBooking(r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return b, err
}

// Update rewrites every mutable column guarded by the expected status and
// updated_at, so a stale writer changes zero rows.
func (r *PGBookingRepository) Update(ctx context.Context, booking *domain.Booking, expected domain.Version) error {
	cmd, err := r.db.Exec(ctx, `
		UPDATE bookings SET
			payment_status=$2, payment_amount=$3, platform_fee=$4, payment_id=$5,
			meeting_room_id=$6, meeting_password=$7, meeting_url=$8,
			status=$9, cancellation_reason=$10, cancellation_policy=$11, refund_policy=$12,
			calendar_reminders=$13, customer_notes=$14, provider_notes=$15,
			updated_at=$16, confirmed_at=$17, cancelled_at=$18, completed_at=$19
		WHERE id=$1 AND status=$20 AND updated_at=$21`,
		booking.ID,
		booking.PaymentStatus, booking.PaymentAmount, booking.PlatformFee, booking.PaymentID,
		booking.MeetingRoomID, booking.MeetingPassword, booking.MeetingURL,
		booking.Status, booking.CancellationReason, booking.CancellationPolicy, booking.RefundPolicy,
		booking.CalendarReminders, booking.CustomerNotes, booking.ProviderNotes,
		booking.UpdatedAt, booking.ConfirmedAt, booking.CancelledAt, booking.CompletedAt,
		expected.Status, expected.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM bookings WHERE id=$1)`, booking.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

func (r *PGBookingRepository) List(ctx context.Context, filter ListFilter) ([]domain.Booking, error) {
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 5)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.ProviderID != "" {
		add("provider_id=$%d", filter.ProviderID)
	}
	if filter.CustomerID != "" {
		add("customer_id=$%d", filter.CustomerID)
	}
	if filter.Status != "" {
		add("status=$%d", filter.Status)
	}
	if filter.ScheduledFrom != "" {
		add("scheduled_date>=$%d", filter.ScheduledFrom)
	}
	if filter.ScheduledTo != "" {
		add("scheduled_date<=$%d", filter.ScheduledTo)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	if filter.Order == SortAscending {
		query += ` ORDER BY scheduled_date ASC, scheduled_time ASC`
	} else {
		query += ` ORDER BY scheduled_date DESC, scheduled_time DESC`
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := make([]domain.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

var _ BookingRepository = (*PGBookingRepository)(nil)
