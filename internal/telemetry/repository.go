package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/irrigation-core/internal/infrastructure/database"
)

// SQLiteRepository implements Gateway and the read-side queries on the
// readings, relay_events and alerts tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository backed by db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// AppendReading inserts r and sets its ID. A zero Timestamp is replaced with
// the current time.
func (r *SQLiteRepository) AppendReading(ctx context.Context, reading *Reading) error {
	if math.IsNaN(reading.Value) || math.IsInf(reading.Value, 0) {
		return fmt.Errorf("%w: reading value %v", ErrInvalidRecord, reading.Value)
	}
	if !reading.RelayStatus.Valid() {
		return fmt.Errorf("%w: relay status %q", ErrInvalidRecord, reading.RelayStatus)
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO readings (value, analog, relay_status, timestamp) VALUES (?, ?, ?, ?)`,
		reading.Value, reading.Analog, string(reading.RelayStatus), database.FormatTime(reading.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading insert id: %w", err)
	}
	reading.ID = id
	return nil
}

// AppendRelayEvent inserts e and sets its ID.
func (r *SQLiteRepository) AppendRelayEvent(ctx context.Context, e *RelayEvent) error {
	if !e.Action.Valid() {
		return fmt.Errorf("%w: relay action %q", ErrInvalidRecord, e.Action)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var correlated any
	if e.CorrelatedValue != nil {
		correlated = *e.CorrelatedValue
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO relay_events (action, reason, correlated_value, timestamp) VALUES (?, ?, ?, ?)`,
		string(e.Action), e.Reason, correlated, database.FormatTime(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("inserting relay event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("relay event insert id: %w", err)
	}
	e.ID = id
	return nil
}

// AppendAlert inserts a and sets its ID. New alerts are always unread.
func (r *SQLiteRepository) AppendAlert(ctx context.Context, a *Alert) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	a.Read = false

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO alerts (kind, message, level, read, timestamp) VALUES (?, ?, ?, 0, ?)`,
		string(a.Kind), a.Message, string(a.Level), database.FormatTime(a.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("alert insert id: %w", err)
	}
	a.ID = id
	return nil
}

// LatestReading returns the reading with the greatest timestamp; ties go to
// the later insert. Returns nil, nil when the table is empty.
func (r *SQLiteRepository) LatestReading(ctx context.Context) (*Reading, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, value, analog, relay_status, timestamp
		 FROM readings ORDER BY timestamp DESC, id DESC LIMIT 1`)

	reading, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest reading: %w", err)
	}
	return reading, nil
}

// HasUnreadAlert reports whether an unread alert of the given kind exists.
func (r *SQLiteRepository) HasUnreadAlert(ctx context.Context, kind AlertKind) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM alerts WHERE kind = ? AND read = 0)`, string(kind),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking unread alerts: %w", err)
	}
	return exists == 1, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(s rowScanner) (*Reading, error) {
	var reading Reading
	var status, ts string
	if err := s.Scan(&reading.ID, &reading.Value, &reading.Analog, &status, &ts); err != nil {
		return nil, err
	}
	reading.RelayStatus = RelayStatus(status)

	t, err := database.ParseTime(ts)
	if err != nil {
		return nil, err
	}
	reading.Timestamp = t
	return &reading, nil
}

func scanRelayEvent(s rowScanner) (*RelayEvent, error) {
	var e RelayEvent
	var action, ts string
	var correlated sql.NullFloat64
	if err := s.Scan(&e.ID, &action, &e.Reason, &correlated, &ts); err != nil {
		return nil, err
	}
	e.Action = RelayStatus(action)
	if correlated.Valid {
		v := correlated.Float64
		e.CorrelatedValue = &v
	}

	t, err := database.ParseTime(ts)
	if err != nil {
		return nil, err
	}
	e.Timestamp = t
	return &e, nil
}

func scanAlert(s rowScanner) (*Alert, error) {
	var a Alert
	var kind, level, ts string
	var read int
	if err := s.Scan(&a.ID, &kind, &a.Message, &level, &read, &ts); err != nil {
		return nil, err
	}
	a.Kind = AlertKind(kind)
	a.Level = AlertLevel(level)
	a.Read = read != 0

	t, err := database.ParseTime(ts)
	if err != nil {
		return nil, err
	}
	a.Timestamp = t
	return &a, nil
}
