package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/irrigation-core/internal/infrastructure/database"
)

// Page size limits.
const (
	DefaultReadingLimit = 100
	MaxReadingLimit     = 1000
	DefaultEventLimit   = 50
	MaxEventLimit       = 200
)

// hourBucketLayout parses the first 13 characters of a stored timestamp.
const hourBucketLayout = "2006-01-02T15"

// RangeFilter selects a time window and page. Zero From/To leave that side
// unbounded; To is exclusive.
type RangeFilter struct {
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// AlertStatus filters alerts by acknowledgement state.
type AlertStatus string

const (
	AlertStatusUnread AlertStatus = "unread"
	AlertStatusRead   AlertStatus = "read"
	AlertStatusAll    AlertStatus = "all"
)

// AlertFilter selects alerts for listing.
type AlertFilter struct {
	Status AlertStatus
	Limit  int
	Offset int
}

// ReadingPage is one page of readings, newest first.
type ReadingPage struct {
	Readings []Reading `json:"data"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

// RelayEventPage is one page of relay events, newest first.
type RelayEventPage struct {
	Events []RelayEvent `json:"data"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// AlertPage is one page of alerts, newest first.
type AlertPage struct {
	Alerts []Alert `json:"data"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// MoistureStats aggregates readings over a window. Average, Min and Max
// are nil when Count is zero.
type MoistureStats struct {
	Average *float64 `json:"average"`
	Min     *float64 `json:"min"`
	Max     *float64 `json:"max"`
	Count   int      `json:"count"`
}

// RelayCounts tallies relay events over a window.
type RelayCounts struct {
	On    int `json:"on"`
	Off   int `json:"off"`
	Total int `json:"total"`
}

// HourlyMoisture aggregates the readings that fall inside one UTC hour.
type HourlyMoisture struct {
	Hour    time.Time `json:"hour"`
	Average float64   `json:"average"`
	Min     float64   `json:"min"`
	Max     float64   `json:"max"`
	Count   int       `json:"count"`
}

// HourlyRelay counts relay events inside one UTC hour.
type HourlyRelay struct {
	Hour time.Time `json:"hour"`
	On   int       `json:"on"`
	Off  int       `json:"off"`
}

func clampPage(limit, offset, def, maxLimit int) (int, int) {
	if limit <= 0 {
		limit = def
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// rangeWhere builds a WHERE clause on the timestamp column. Only
// placeholders are interpolated into the query text.
func rangeWhere(from, to time.Time) (string, []any) {
	var conditions []string
	var args []any
	if !from.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, database.FormatTime(from))
	}
	if !to.IsZero() {
		conditions = append(conditions, "timestamp < ?")
		args = append(args, database.FormatTime(to))
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// ListReadings returns readings in the filter window, newest first.
//
// Parameters:
//   - ctx: Context for cancellation
//   - filter: Window and page (default limit 100, max 1000)
//
// Returns:
//   - *ReadingPage: The page with the total matching count
//   - error: If the query fails
func (r *SQLiteRepository) ListReadings(ctx context.Context, filter RangeFilter) (*ReadingPage, error) {
	limit, offset := clampPage(filter.Limit, filter.Offset, DefaultReadingLimit, MaxReadingLimit)
	where, args := rangeWhere(filter.From, filter.To)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM readings "+where, args...).Scan(&total); err != nil { //nolint:gosec // WHERE built from placeholders
		return nil, fmt.Errorf("counting readings: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, //nolint:gosec // WHERE built from placeholders
		"SELECT id, value, analog, relay_status, timestamp FROM readings "+where+
			" ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?",
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	readings := []Reading{}
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		readings = append(readings, *reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}

	return &ReadingPage{Readings: readings, Total: total, Limit: limit, Offset: offset}, nil
}

// MoistureStats aggregates readings taken at or after since.
func (r *SQLiteRepository) MoistureStats(ctx context.Context, since time.Time) (*MoistureStats, error) {
	var avg, minV, maxV sql.NullFloat64
	var stats MoistureStats

	err := r.db.QueryRowContext(ctx,
		`SELECT AVG(value), MIN(value), MAX(value), COUNT(*) FROM readings WHERE timestamp >= ?`,
		database.FormatTime(since),
	).Scan(&avg, &minV, &maxV, &stats.Count)
	if err != nil {
		return nil, fmt.Errorf("aggregating readings: %w", err)
	}

	if avg.Valid {
		stats.Average = &avg.Float64
		stats.Min = &minV.Float64
		stats.Max = &maxV.Float64
	}
	return &stats, nil
}

// HourlyMoisture groups readings taken at or after since into UTC hours,
// oldest first. Hours without readings are omitted.
func (r *SQLiteRepository) HourlyMoisture(ctx context.Context, since time.Time) ([]HourlyMoisture, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT substr(timestamp, 1, 13) AS hour, AVG(value), MIN(value), MAX(value), COUNT(*)
		 FROM readings WHERE timestamp >= ?
		 GROUP BY hour ORDER BY hour`,
		database.FormatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("querying hourly readings: %w", err)
	}
	defer rows.Close()

	buckets := []HourlyMoisture{}
	for rows.Next() {
		var b HourlyMoisture
		var hour string
		if err := rows.Scan(&hour, &b.Average, &b.Min, &b.Max, &b.Count); err != nil {
			return nil, fmt.Errorf("scanning hourly reading: %w", err)
		}
		if b.Hour, err = time.Parse(hourBucketLayout, hour); err != nil {
			return nil, fmt.Errorf("parsing hour bucket %q: %w", hour, err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating hourly readings: %w", err)
	}
	return buckets, nil
}

// ListRelayEvents returns relay events in the filter window, newest first.
// Default limit 50, max 200.
func (r *SQLiteRepository) ListRelayEvents(ctx context.Context, filter RangeFilter) (*RelayEventPage, error) {
	limit, offset := clampPage(filter.Limit, filter.Offset, DefaultEventLimit, MaxEventLimit)
	where, args := rangeWhere(filter.From, filter.To)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM relay_events "+where, args...).Scan(&total); err != nil { //nolint:gosec // WHERE built from placeholders
		return nil, fmt.Errorf("counting relay events: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, //nolint:gosec // WHERE built from placeholders
		"SELECT id, action, reason, correlated_value, timestamp FROM relay_events "+where+
			" ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?",
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying relay events: %w", err)
	}
	defer rows.Close()

	events := []RelayEvent{}
	for rows.Next() {
		e, err := scanRelayEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning relay event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relay events: %w", err)
	}

	return &RelayEventPage{Events: events, Total: total, Limit: limit, Offset: offset}, nil
}

// RelayCounts tallies relay events at or after since.
func (r *SQLiteRepository) RelayCounts(ctx context.Context, since time.Time) (*RelayCounts, error) {
	var counts RelayCounts
	err := r.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN action = 'on' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN action = 'off' THEN 1 ELSE 0 END), 0),
			COUNT(*)
		 FROM relay_events WHERE timestamp >= ?`,
		database.FormatTime(since),
	).Scan(&counts.On, &counts.Off, &counts.Total)
	if err != nil {
		return nil, fmt.Errorf("counting relay events: %w", err)
	}
	return &counts, nil
}

// HourlyRelay groups relay events at or after since into UTC hours,
// oldest first.
func (r *SQLiteRepository) HourlyRelay(ctx context.Context, since time.Time) ([]HourlyRelay, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT substr(timestamp, 1, 13) AS hour,
			SUM(CASE WHEN action = 'on' THEN 1 ELSE 0 END),
			SUM(CASE WHEN action = 'off' THEN 1 ELSE 0 END)
		 FROM relay_events WHERE timestamp >= ?
		 GROUP BY hour ORDER BY hour`,
		database.FormatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("querying hourly relay events: %w", err)
	}
	defer rows.Close()

	buckets := []HourlyRelay{}
	for rows.Next() {
		var b HourlyRelay
		var hour string
		if err := rows.Scan(&hour, &b.On, &b.Off); err != nil {
			return nil, fmt.Errorf("scanning hourly relay events: %w", err)
		}
		if b.Hour, err = time.Parse(hourBucketLayout, hour); err != nil {
			return nil, fmt.Errorf("parsing hour bucket %q: %w", hour, err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating hourly relay events: %w", err)
	}
	return buckets, nil
}

// ListAlerts returns alerts matching the filter, newest first. An empty
// status lists unread alerts. Default limit 50, max 200.
func (r *SQLiteRepository) ListAlerts(ctx context.Context, filter AlertFilter) (*AlertPage, error) {
	limit, offset := clampPage(filter.Limit, filter.Offset, DefaultEventLimit, MaxEventLimit)

	var where string
	switch filter.Status {
	case AlertStatusAll:
	case AlertStatusRead:
		where = "WHERE read = 1"
	default:
		where = "WHERE read = 0"
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts "+where).Scan(&total); err != nil { //nolint:gosec // constant WHERE
		return nil, fmt.Errorf("counting alerts: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, //nolint:gosec // constant WHERE
		"SELECT id, kind, message, level, read, timestamp FROM alerts "+where+
			" ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	alerts := []Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alerts: %w", err)
	}

	return &AlertPage{Alerts: alerts, Total: total, Limit: limit, Offset: offset}, nil
}

// MarkAlertRead acknowledges one alert. Returns ErrAlertNotFound when no
// alert has the given ID; acknowledging an already read alert succeeds.
func (r *SQLiteRepository) MarkAlertRead(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE alerts SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking alert read: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking alert read: %w", err)
	}
	if n == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// MarkAllAlertsRead acknowledges every unread alert and returns how many
// changed.
func (r *SQLiteRepository) MarkAllAlertsRead(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE alerts SET read = 1 WHERE read = 0`)
	if err != nil {
		return 0, fmt.Errorf("marking all alerts read: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("marking all alerts read: %w", err)
	}
	return n, nil
}
