// Package postgres stores booking records in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"travelbot/internal/booking"
	"travelbot/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS bookings (
	id                         TEXT PRIMARY KEY,
	client_name                TEXT NOT NULL DEFAULT '',
	email                      TEXT NOT NULL DEFAULT '',
	phone                      TEXT NOT NULL DEFAULT '',
	country                    TEXT NOT NULL DEFAULT '',
	passport_number            TEXT NOT NULL DEFAULT '',
	passenger_dob              DATE,
	passengers                 JSONB NOT NULL DEFAULT '[]',
	adults                     INTEGER NOT NULL DEFAULT 0,
	children                   INTEGER NOT NULL DEFAULT 0,
	infants                    INTEGER NOT NULL DEFAULT 0,
	service_type               TEXT NOT NULL,
	platform                   TEXT NOT NULL DEFAULT '',
	destination                TEXT NOT NULL DEFAULT '',
	check_in                   DATE,
	check_out                  DATE,
	adults_count               INTEGER NOT NULL DEFAULT 0,
	min_price_cents            BIGINT NOT NULL DEFAULT 0,
	max_price_cents            BIGINT NOT NULL DEFAULT 0,
	free_cancellation_deadline TIMESTAMPTZ,
	hotel_name                 TEXT NOT NULL DEFAULT '',
	hotel_address              TEXT NOT NULL DEFAULT '',
	departure_airport          TEXT NOT NULL DEFAULT '',
	arrival_airport            TEXT NOT NULL DEFAULT '',
	flight_date                DATE,
	return_date                DATE,
	flight_number              TEXT NOT NULL DEFAULT '',
	pnr                        TEXT NOT NULL DEFAULT '',
	price_cents                BIGINT NOT NULL DEFAULT 0,
	currency                   TEXT NOT NULL DEFAULT '',
	status                     TEXT NOT NULL DEFAULT 'Pending',
	attempts                   INTEGER NOT NULL DEFAULT 0,
	error_message              TEXT NOT NULL DEFAULT '',
	needs_review               BOOLEAN NOT NULL DEFAULT FALSE,
	note                       TEXT NOT NULL DEFAULT '',
	pdf_path                   TEXT NOT NULL DEFAULT '',
	screenshot_path            TEXT NOT NULL DEFAULT '',
	created_at                 TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                 TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT confirmed_has_pnr CHECK (status <> 'Confirmed' OR pnr <> '')
);
CREATE INDEX IF NOT EXISTS bookings_pending_idx ON bookings (created_at) WHERE status = 'Pending' AND pnr = '';
`

const columns = `id, client_name, email, phone, country, passport_number, passenger_dob, passengers,
	adults, children, infants, service_type, platform, destination, check_in, check_out, adults_count,
	min_price_cents, max_price_cents, free_cancellation_deadline, hotel_name, hotel_address,
	departure_airport, arrival_airport, flight_date, return_date, flight_number, pnr, price_cents,
	currency, status, attempts, error_message, needs_review, note, pdf_path, screenshot_path,
	created_at, updated_at`

const insertBooking = `INSERT INTO bookings (` + columns + `) VALUES (
	:id, :client_name, :email, :phone, :country, :passport_number, :passenger_dob, :passengers,
	:adults, :children, :infants, :service_type, :platform, :destination, :check_in, :check_out, :adults_count,
	:min_price_cents, :max_price_cents, :free_cancellation_deadline, :hotel_name, :hotel_address,
	:departure_airport, :arrival_airport, :flight_date, :return_date, :flight_number, :pnr, :price_cents,
	:currency, :status, :attempts, :error_message, :needs_review, :note, :pdf_path, :screenshot_path,
	:created_at, :updated_at)`

const updateBooking = `UPDATE bookings SET
	client_name = :client_name, email = :email, phone = :phone, country = :country,
	passport_number = :passport_number, passenger_dob = :passenger_dob, passengers = :passengers,
	adults = :adults, children = :children, infants = :infants, service_type = :service_type,
	platform = :platform, destination = :destination, check_in = :check_in, check_out = :check_out,
	adults_count = :adults_count, min_price_cents = :min_price_cents, max_price_cents = :max_price_cents,
	free_cancellation_deadline = :free_cancellation_deadline, hotel_name = :hotel_name,
	hotel_address = :hotel_address, departure_airport = :departure_airport,
	arrival_airport = :arrival_airport, flight_date = :flight_date, return_date = :return_date,
	flight_number = :flight_number, pnr = :pnr, price_cents = :price_cents, currency = :currency,
	status = :status, attempts = :attempts, error_message = :error_message,
	needs_review = :needs_review, note = :note, pdf_path = :pdf_path,
	screenshot_path = :screenshot_path, updated_at = :updated_at
	WHERE id = :id`

type Store struct {
	db  *sqlx.DB
	log zerolog.Logger
}

// Open connects to the database at url.
func Open(ctx context.Context, url string, log zerolog.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, log), nil
}

func New(db *sqlx.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log.With().Str("component", "postgres").Logger()}
}

func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the bookings table when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, b *booking.Booking) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = booking.StatusPending
	}
	if err := booking.CheckTransition(nil, b); err != nil {
		return err
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if _, err := s.db.NamedExecContext(ctx, insertBooking, b); err != nil {
		return fmt.Errorf("insert booking %s: %w", b.ID, err)
	}
	return nil
}

// Save writes b inside a transaction that locks the stored row, so the
// transition check sees the latest persisted state.
func (s *Store) Save(ctx context.Context, b *booking.Booking) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var prev booking.Booking
	err = tx.GetContext(ctx, &prev, `SELECT `+columns+` FROM bookings WHERE id = $1 FOR UPDATE`, b.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock booking %s: %w", b.ID, err)
	}
	if err := booking.CheckTransition(&prev, b); err != nil {
		return err
	}

	b.UpdatedAt = time.Now().UTC()
	if _, err := tx.NamedExecContext(ctx, updateBooking, b); err != nil {
		return fmt.Errorf("update booking %s: %w", b.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit booking %s: %w", b.ID, err)
	}
	s.log.Debug().Str("booking_id", b.ID).Str("status", string(b.Status)).Msg("booking saved")
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*booking.Booking, error) {
	var b booking.Booking
	err := s.db.GetContext(ctx, &b, `SELECT `+columns+` FROM bookings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find booking %s: %w", id, err)
	}
	return &b, nil
}

// eligiblePending mirrors booking.Eligible so the queue head is never a row
// the worker would skip.
const eligiblePending = `status = 'Pending' AND btrim(pnr) = '' AND (
	(service_type = 'Hotel' AND btrim(destination) <> '' AND check_in IS NOT NULL AND check_out IS NOT NULL)
	OR (service_type = 'Flight' AND btrim(departure_airport) <> '' AND btrim(arrival_airport) <> ''
		AND flight_date IS NOT NULL))`

func (s *Store) FindNextEligiblePending(ctx context.Context) (*booking.Booking, error) {
	var b booking.Booking
	err := s.db.GetContext(ctx, &b,
		`SELECT `+columns+` FROM bookings WHERE `+eligiblePending+` ORDER BY created_at, id LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find pending: %w", err)
	}
	return &b, nil
}

func (s *Store) ListProcessing(ctx context.Context) ([]*booking.Booking, error) {
	var rows []booking.Booking
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+columns+` FROM bookings WHERE status = $1 ORDER BY created_at, id`, booking.StatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("list processing: %w", err)
	}
	out := make([]*booking.Booking, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

var _ storage.Store = (*Store)(nil)
