// Package sqlite persists the booking-scheduler aggregates in a SQLite
// database. Instants are stored as UTC unix nanoseconds.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/booking-scheduler/internal/persistence"
)

// Store wraps a SQLite database and implements the persistence repositories.
type Store struct {
	db *sql.DB
}

// Open connects to the database identified by dsn.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", dsn, err)
	}
	// SQLite allows a single writer; bounding the pool avoids lock churn.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema when missing. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			organizer_id TEXT NOT NULL,
			title TEXT NOT NULL,
			invitee_email TEXT NOT NULL DEFAULT '',
			starts_at INTEGER NOT NULL,
			ends_at INTEGER NOT NULL,
			status TEXT NOT NULL,
			external_event_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_organizer_range
			ON bookings (organizer_id, starts_at)`,
		`CREATE TABLE IF NOT EXISTS calendar_connections (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE,
			provider TEXT NOT NULL,
			access_token_encrypted TEXT NOT NULL,
			refresh_token_encrypted TEXT NOT NULL,
			access_token_expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS writeback_records (
			id TEXT PRIMARY KEY,
			booking_id TEXT NOT NULL,
			connection_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			status TEXT NOT NULL,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL,
			external_event_id TEXT NOT NULL DEFAULT '',
			next_attempt_at INTEGER NOT NULL,
			last_error TEXT NOT NULL DEFAULT '',
			reschedule_to_booking_id TEXT NOT NULL DEFAULT '',
			reschedule_starts_at INTEGER NOT NULL DEFAULT 0,
			reschedule_ends_at INTEGER NOT NULL DEFAULT 0,
			claimed_until INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_writeback_due
			ON writeback_records (status, next_attempt_at)`,
		`CREATE TABLE IF NOT EXISTS round_robin_cursors (
			event_type_id TEXT PRIMARY KEY,
			cursor INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return nil
}

// --- BookingRepository ---

// CreateBooking stores a new booking.
func (s *Store) CreateBooking(ctx context.Context, booking persistence.Booking) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bookings
			(id, organizer_id, title, invitee_email, starts_at, ends_at, status, external_event_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		booking.ID, booking.OrganizerID, booking.Title, booking.InviteeEmail,
		toNanos(booking.Start), toNanos(booking.End), string(booking.Status),
		booking.ExternalEventID, toNanos(booking.CreatedAt), toNanos(booking.UpdatedAt))
	return mapError(err)
}

// UpdateBooking replaces an existing booking.
func (s *Store) UpdateBooking(ctx context.Context, booking persistence.Booking) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET organizer_id = ?, title = ?, invitee_email = ?, starts_at = ?,
			ends_at = ?, status = ?, external_event_id = ?, updated_at = ?
			WHERE id = ?`,
		booking.OrganizerID, booking.Title, booking.InviteeEmail, toNanos(booking.Start),
		toNanos(booking.End), string(booking.Status), booking.ExternalEventID,
		toNanos(booking.UpdatedAt), booking.ID)
	if err != nil {
		return mapError(err)
	}
	return requireRow(result)
}

// GetBooking retrieves a booking by id.
func (s *Store) GetBooking(ctx context.Context, id string) (persistence.Booking, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, organizer_id, title, invitee_email, starts_at, ends_at, status,
			external_event_id, created_at, updated_at
			FROM bookings WHERE id = ?`, id)
	return scanBooking(row)
}

// ListBookingsInRange returns confirmed bookings intersecting the range.
func (s *Store) ListBookingsInRange(ctx context.Context, organizerID string, rangeStart, rangeEnd time.Time) ([]persistence.Booking, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, organizer_id, title, invitee_email, starts_at, ends_at, status,
			external_event_id, created_at, updated_at
			FROM bookings
			WHERE organizer_id = ? AND status = ? AND starts_at < ? AND ends_at > ?
			ORDER BY starts_at ASC`,
		organizerID, string(persistence.BookingStatusConfirmed),
		toNanos(rangeEnd), toNanos(rangeStart))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	bookings := make([]persistence.Booking, 0)
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, booking)
	}
	return bookings, rows.Err()
}

// --- ConnectionRepository ---

// CreateConnection stores a new calendar connection.
func (s *Store) CreateConnection(ctx context.Context, connection persistence.CalendarConnection) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendar_connections
			(id, user_id, provider, access_token_encrypted, refresh_token_encrypted,
			 access_token_expires_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		connection.ID, connection.UserID, connection.Provider,
		connection.AccessTokenEncrypted, connection.RefreshTokenEncrypted,
		toNanos(connection.AccessTokenExpiresAt), toNanos(connection.CreatedAt), toNanos(connection.UpdatedAt))
	return mapError(err)
}

// GetConnection retrieves a connection by id.
func (s *Store) GetConnection(ctx context.Context, id string) (persistence.CalendarConnection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, access_token_encrypted, refresh_token_encrypted,
			access_token_expires_at, created_at, updated_at
			FROM calendar_connections WHERE id = ?`, id)
	return scanConnection(row)
}

// GetConnectionForUser retrieves a user's connection.
func (s *Store) GetConnectionForUser(ctx context.Context, userID string) (persistence.CalendarConnection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, access_token_encrypted, refresh_token_encrypted,
			access_token_expires_at, created_at, updated_at
			FROM calendar_connections WHERE user_id = ?`, userID)
	return scanConnection(row)
}

// UpdateConnectionTokens persists a refresh outcome.
func (s *Store) UpdateConnectionTokens(ctx context.Context, id, accessTokenEncrypted, refreshTokenEncrypted string, expiresAt, updatedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE calendar_connections
			SET access_token_encrypted = ?, refresh_token_encrypted = ?,
				access_token_expires_at = ?, updated_at = ?
			WHERE id = ?`,
		accessTokenEncrypted, refreshTokenEncrypted, toNanos(expiresAt), toNanos(updatedAt), id)
	if err != nil {
		return mapError(err)
	}
	return requireRow(result)
}

// --- WritebackRepository ---

// CreateWritebackRecord stores a new reconciliation record.
func (s *Store) CreateWritebackRecord(ctx context.Context, record persistence.WritebackRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO writeback_records
			(id, booking_id, connection_id, operation, status, attempt_count, max_attempts,
			 external_event_id, next_attempt_at, last_error, reschedule_to_booking_id,
			 reschedule_starts_at, reschedule_ends_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.BookingID, record.ConnectionID, record.Operation, record.Status,
		record.AttemptCount, record.MaxAttempts, record.ExternalEventID,
		toNanos(record.NextAttemptAt), record.LastError, record.RescheduleToBookingID,
		toNanos(record.RescheduleStart), toNanos(record.RescheduleEnd),
		toNanos(record.CreatedAt), toNanos(record.UpdatedAt))
	return mapError(err)
}

// GetWritebackRecord retrieves a record by id.
func (s *Store) GetWritebackRecord(ctx context.Context, id string) (persistence.WritebackRecord, error) {
	row := s.db.QueryRowContext(ctx, selectWriteback+` WHERE id = ?`, id)
	return scanWriteback(row)
}

// UpdateWritebackRecord replaces a record's mutable reconciliation state and
// releases its claim.
func (s *Store) UpdateWritebackRecord(ctx context.Context, record persistence.WritebackRecord) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE writeback_records
			SET status = ?, attempt_count = ?, external_event_id = ?, next_attempt_at = ?,
				last_error = ?, claimed_until = 0, updated_at = ?
			WHERE id = ?`,
		record.Status, record.AttemptCount, record.ExternalEventID,
		toNanos(record.NextAttemptAt), record.LastError, toNanos(record.UpdatedAt), record.ID)
	if err != nil {
		return mapError(err)
	}
	return requireRow(result)
}

// ClaimDue atomically marks up to limit due pending records as claimed until
// claimUntil and returns them. Records already claimed by another sweep are
// skipped, which keeps reconciliation attempts at most one per record.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, claimUntil time.Time, limit int) ([]persistence.WritebackRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapError(err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		selectWriteback+` WHERE status = 'pending' AND next_attempt_at <= ? AND claimed_until <= ?
			ORDER BY next_attempt_at ASC LIMIT ?`,
		toNanos(now), toNanos(now), limit)
	if err != nil {
		return nil, mapError(err)
	}

	records := make([]persistence.WritebackRecord, 0, limit)
	for rows.Next() {
		record, err := scanWriteback(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, mapError(err)
	}
	rows.Close()

	for _, record := range records {
		if _, err := tx.ExecContext(ctx,
			`UPDATE writeback_records SET claimed_until = ? WHERE id = ?`,
			toNanos(claimUntil), record.ID); err != nil {
			return nil, mapError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	return records, nil
}

// --- CursorRepository ---

// GetCursor retrieves the rotation position for an event type. A missing
// row reads as cursor zero, the seed value.
func (s *Store) GetCursor(ctx context.Context, eventTypeID string) (persistence.RoundRobinCursor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT event_type_id, cursor, updated_at FROM round_robin_cursors WHERE event_type_id = ?`,
		eventTypeID)

	var cursor persistence.RoundRobinCursor
	var updatedAt int64
	err := row.Scan(&cursor.EventTypeID, &cursor.Cursor, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.RoundRobinCursor{EventTypeID: eventTypeID}, nil
	}
	if err != nil {
		return persistence.RoundRobinCursor{}, mapError(err)
	}
	cursor.UpdatedAt = fromNanos(updatedAt)
	return cursor, nil
}

// SaveCursor upserts the rotation position.
func (s *Store) SaveCursor(ctx context.Context, cursor persistence.RoundRobinCursor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO round_robin_cursors (event_type_id, cursor, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT (event_type_id) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at`,
		cursor.EventTypeID, cursor.Cursor, toNanos(cursor.UpdatedAt))
	return mapError(err)
}

// --- helpers ---

const selectWriteback = `SELECT id, booking_id, connection_id, operation, status, attempt_count,
	max_attempts, external_event_id, next_attempt_at, last_error, reschedule_to_booking_id,
	reschedule_starts_at, reschedule_ends_at, created_at, updated_at
	FROM writeback_records`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (persistence.Booking, error) {
	var booking persistence.Booking
	var status string
	var start, end, createdAt, updatedAt int64

	err := row.Scan(&booking.ID, &booking.OrganizerID, &booking.Title, &booking.InviteeEmail,
		&start, &end, &status, &booking.ExternalEventID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.Booking{}, persistence.ErrNotFound
	}
	if err != nil {
		return persistence.Booking{}, mapError(err)
	}

	booking.Status = persistence.BookingStatus(status)
	booking.Start = fromNanos(start)
	booking.End = fromNanos(end)
	booking.CreatedAt = fromNanos(createdAt)
	booking.UpdatedAt = fromNanos(updatedAt)
	return booking, nil
}

func scanConnection(row rowScanner) (persistence.CalendarConnection, error) {
	var connection persistence.CalendarConnection
	var expiresAt, createdAt, updatedAt int64

	err := row.Scan(&connection.ID, &connection.UserID, &connection.Provider,
		&connection.AccessTokenEncrypted, &connection.RefreshTokenEncrypted,
		&expiresAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.CalendarConnection{}, persistence.ErrNotFound
	}
	if err != nil {
		return persistence.CalendarConnection{}, mapError(err)
	}

	connection.AccessTokenExpiresAt = fromNanos(expiresAt)
	connection.CreatedAt = fromNanos(createdAt)
	connection.UpdatedAt = fromNanos(updatedAt)
	return connection, nil
}

func scanWriteback(row rowScanner) (persistence.WritebackRecord, error) {
	var record persistence.WritebackRecord
	var nextAttemptAt, rescheduleStart, rescheduleEnd, createdAt, updatedAt int64

	err := row.Scan(&record.ID, &record.BookingID, &record.ConnectionID, &record.Operation,
		&record.Status, &record.AttemptCount, &record.MaxAttempts, &record.ExternalEventID,
		&nextAttemptAt, &record.LastError, &record.RescheduleToBookingID,
		&rescheduleStart, &rescheduleEnd, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.WritebackRecord{}, persistence.ErrNotFound
	}
	if err != nil {
		return persistence.WritebackRecord{}, mapError(err)
	}

	record.NextAttemptAt = fromNanos(nextAttemptAt)
	record.RescheduleStart = fromNanos(rescheduleStart)
	record.RescheduleEnd = fromNanos(rescheduleEnd)
	record.CreatedAt = fromNanos(createdAt)
	record.UpdatedAt = fromNanos(updatedAt)
	return record, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", persistence.ErrDuplicate, err)
	}
	return err
}
