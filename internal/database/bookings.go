package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"servhub/internal/models"
)

// Timestamps cross the store boundary as RFC 3339 strings.
const timeLayout = time.RFC3339

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const bookingColumns = `id, client_id, provider_id, service_id, service_name, status,
        price_amount, price_currency, street, city, state, country, latitude, longitude,
        requested_at, scheduled_at, started_at, completed_at, evidence, decline_reason, dispute_reason`

func scanBooking(row interface{ Scan(...interface{}) error }) (*models.Booking, error) {
	var (
		b                                   models.Booking
		requestedAt                         string
		scheduledAt, startedAt, completedAt sql.NullString
		latitude, longitude                 sql.NullFloat64
	)

	err := row.Scan(
		&b.ID, &b.ClientID, &b.ProviderID, &b.ServiceID, &b.ServiceName, &b.Status,
		&b.Price.Amount, &b.Price.Currency,
		&b.Location.Street, &b.Location.City, &b.Location.State, &b.Location.Country,
		&latitude, &longitude,
		&requestedAt, &scheduledAt, &startedAt, &completedAt,
		&b.Evidence, &b.DeclineReason, &b.DisputeReason,
	)
	if err != nil {
		return nil, err
	}

	if b.RequestedAt, err = parseTime(requestedAt); err != nil {
		return nil, fmt.Errorf("failed to parse requested_at: %w", err)
	}
	if b.ScheduledAt, err = parseTimePtr(scheduledAt); err != nil {
		return nil, fmt.Errorf("failed to parse scheduled_at: %w", err)
	}
	if b.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if b.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, fmt.Errorf("failed to parse completed_at: %w", err)
	}
	if latitude.Valid {
		b.Location.Latitude = &latitude.Float64
	}
	if longitude.Valid {
		b.Location.Longitude = &longitude.Float64
	}

	return &b, nil
}

// InsertBooking persists a new booking snapshot. The client-booking flow is
// the only producer; exposed here for seeding and tests.
func (db *DB) InsertBooking(ctx context.Context, b *models.Booking) error {
	query := `INSERT INTO bookings (` + bookingColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var lat, lon interface{}
	if b.Location.Latitude != nil {
		lat = *b.Location.Latitude
	}
	if b.Location.Longitude != nil {
		lon = *b.Location.Longitude
	}

	_, err := db.ExecContext(ctx, query,
		b.ID, b.ClientID, b.ProviderID, b.ServiceID, b.ServiceName, b.Status,
		b.Price.Amount, b.Price.Currency,
		b.Location.Street, b.Location.City, b.Location.State, b.Location.Country,
		lat, lon,
		formatTime(b.RequestedAt), formatTimePtr(b.ScheduledAt),
		formatTimePtr(b.StartedAt), formatTimePtr(b.CompletedAt),
		b.Evidence, b.DeclineReason, b.DisputeReason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	b, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

func (db *DB) GetProviderBookings(ctx context.Context, providerID string) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE provider_id = ? ORDER BY requested_at DESC`
	rows, err := db.QueryContext(ctx, query, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	return bookings, nil
}

// transition updates status plus extra columns, guarded by the expected
// current status so a concurrent writer cannot slip a conflicting change in.
func (db *DB) transition(ctx context.Context, id string, from, to models.BookingStatus, set string, args ...interface{}) (*models.Booking, error) {
	query := `UPDATE bookings SET status = ?` + set + ` WHERE id = ? AND status = ?`
	queryArgs := append([]interface{}{to}, args...)
	queryArgs = append(queryArgs, id, from)

	res, err := db.ExecContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to update booking status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := db.GetBooking(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStatusConflict
	}

	return db.GetBooking(ctx, id)
}

func (db *DB) AcceptBooking(ctx context.Context, id string, scheduledAt time.Time) (*models.Booking, error) {
	return db.transition(ctx, id, models.StatusRequested, models.StatusAccepted,
		`, scheduled_at = ?`, formatTime(scheduledAt))
}

func (db *DB) DeclineBooking(ctx context.Context, id string, reason string) (*models.Booking, error) {
	return db.transition(ctx, id, models.StatusRequested, models.StatusDeclined,
		`, decline_reason = ?`, reason)
}

func (db *DB) StartBooking(ctx context.Context, id string) (*models.Booking, error) {
	return db.transition(ctx, id, models.StatusAccepted, models.StatusInProgress,
		`, started_at = ?`, formatTime(time.Now()))
}

func (db *DB) CompleteBooking(ctx context.Context, id string, finalPrice *models.Money) (*models.Booking, error) {
	if finalPrice != nil {
		return db.transition(ctx, id, models.StatusInProgress, models.StatusCompleted,
			`, completed_at = ?, price_amount = ?, price_currency = ?`,
			formatTime(time.Now()), finalPrice.Amount, finalPrice.Currency)
	}
	return db.transition(ctx, id, models.StatusInProgress, models.StatusCompleted,
		`, completed_at = ?`, formatTime(time.Now()))
}

func (db *DB) DisputeBooking(ctx context.Context, id string, reason string) (*models.Booking, error) {
	return db.transition(ctx, id, models.StatusCompleted, models.StatusDisputed,
		`, dispute_reason = ?`, reason)
}
