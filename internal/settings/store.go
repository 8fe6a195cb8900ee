package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/irrigation-core/internal/infrastructure/database"
	"github.com/nerrad567/irrigation-core/internal/telemetry"
)

// Store reads and writes the settings table.
//
// Nothing is cached: alert thresholds changed through the API take effect
// on the next reading.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a settings store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// List returns every setting ordered by name.
func (s *Store) List(ctx context.Context) ([]Setting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value, description, updated_at FROM settings ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close()

	list := []Setting{}
	for rows.Next() {
		setting, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *setting)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating settings: %w", err)
	}
	return list, nil
}

// Get returns one setting or ErrSettingNotFound.
func (s *Store) Get(ctx context.Context, name string) (*Setting, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, value, description, updated_at FROM settings WHERE name = ?`, name)

	setting, err := scanSetting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSettingNotFound, name)
	}
	return setting, err
}

// Update validates value and stores it.
//
// Parameters:
//   - ctx: Context for cancellation
//   - name: Setting name; unknown names fail with ErrSettingNotFound
//   - value: Raw value; rejected values fail with ErrInvalidValue
//
// Returns:
//   - previous: The value before the update
//   - *Setting: The stored setting
//   - error: Validation or persistence failure
func (s *Store) Update(ctx context.Context, name, value string) (previous string, updated *Setting, err error) {
	canonical, err := Validate(name, value)
	if err != nil {
		return "", nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := tx.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = ?`, name).Scan(&previous); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, fmt.Errorf("%w: %s", ErrSettingNotFound, name)
		}
		return "", nil, fmt.Errorf("reading setting %s: %w", name, err)
	}

	updatedAt := s.now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE settings SET value = ?, updated_at = ? WHERE name = ?`,
		canonical, database.FormatTime(updatedAt), name,
	); err != nil {
		return "", nil, fmt.Errorf("updating setting %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return "", nil, fmt.Errorf("committing setting %s: %w", name, err)
	}

	updated, err = s.Get(ctx, name)
	if err != nil {
		return "", nil, err
	}
	return previous, updated, nil
}

// Reset restores every setting to Defaults and returns the new list.
func (s *Store) Reset(ctx context.Context) ([]Setting, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	updatedAt := database.FormatTime(s.now())
	for name, value := range Defaults {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings (name, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			name, value, updatedAt,
		); err != nil {
			return nil, fmt.Errorf("resetting setting %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing reset: %w", err)
	}
	return s.List(ctx)
}

// DeviceConfig returns the settings the field controller consumes.
func (s *Store) DeviceConfig(ctx context.Context) (*DeviceConfig, error) {
	values, err := s.values(ctx, MoistureMin, MoistureMax, ReadIntervalMS)
	if err != nil {
		return nil, err
	}

	var cfg DeviceConfig
	if cfg.MoistureMin, err = strconv.ParseFloat(values[MoistureMin], 64); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", MoistureMin, err)
	}
	if cfg.MoistureMax, err = strconv.ParseFloat(values[MoistureMax], 64); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", MoistureMax, err)
	}
	if cfg.ReadIntervalMS, err = strconv.Atoi(values[ReadIntervalMS]); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ReadIntervalMS, err)
	}
	return &cfg, nil
}

// CurrentThresholds reads the alert thresholds as stored right now.
// A missing row or a value that is not a finite number is an error; the
// caller decides how to degrade.
func (s *Store) CurrentThresholds(ctx context.Context) (telemetry.Thresholds, error) {
	values, err := s.values(ctx, AlertMoistureLow, AlertMoistureHigh)
	if err != nil {
		return telemetry.Thresholds{}, err
	}

	low, err := parseThreshold(AlertMoistureLow, values[AlertMoistureLow])
	if err != nil {
		return telemetry.Thresholds{}, err
	}
	high, err := parseThreshold(AlertMoistureHigh, values[AlertMoistureHigh])
	if err != nil {
		return telemetry.Thresholds{}, err
	}
	return telemetry.Thresholds{Low: low, High: high}, nil
}

func parseThreshold(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s=%q", ErrThresholdUnparseable, name, raw)
	}
	return v, nil
}

// values loads the named settings; every name must exist.
func (s *Store) values(ctx context.Context, names ...string) (map[string]string, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}

	rows, err := s.db.QueryContext(ctx, //nolint:gosec // only placeholders interpolated
		"SELECT name, value FROM settings WHERE name IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string, len(names))
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}
		values[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating settings: %w", err)
	}

	for _, n := range names {
		if _, ok := values[n]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrSettingNotFound, n)
		}
	}
	return values, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSetting(s rowScanner) (*Setting, error) {
	var setting Setting
	var updatedAt string
	if err := s.Scan(&setting.Name, &setting.Value, &setting.Description, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning setting: %w", err)
	}

	t, err := database.ParseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	setting.UpdatedAt = t
	return &setting, nil
}
