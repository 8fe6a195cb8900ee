package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/irrigation-core/internal/infrastructure/database"
	"github.com/nerrad567/irrigation-core/migrations"
)

func setupTestStore(t *testing.T) (*Store, *database.DB) {
	t.Helper()

	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("opening in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	store := NewStore(db.DB)
	store.now = func() time.Time { return time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC) }
	return store, db
}

func TestList_SeededDefaults(t *testing.T) {
	store, _ := setupTestStore(t)

	list, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != len(Defaults) {
		t.Fatalf("len(List()) = %d, want %d", len(list), len(Defaults))
	}
	for _, s := range list {
		if s.Value != Defaults[s.Name] {
			t.Errorf("%s = %q, want seeded %q", s.Name, s.Value, Defaults[s.Name])
		}
		if s.Description == "" {
			t.Errorf("%s has no description", s.Name)
		}
	}
}

func TestGet_NotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.Get(context.Background(), "pump_speed")
	if !errors.Is(err, ErrSettingNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrSettingNotFound", err)
	}
}

func TestUpdate(t *testing.T) {
	tests := []struct {
		name      string
		setting   string
		value     string
		wantValue string
		wantErr   error
	}{
		{"percent", AlertMoistureLow, "20", "20", nil},
		{"percent canonicalised", MoistureMax, " 65.50 ", "65.5", nil},
		{"percent upper bound", AlertMoistureHigh, "100", "100", nil},
		{"percent out of range", MoistureMin, "101", "", ErrInvalidValue},
		{"percent negative", MoistureMin, "-1", "", ErrInvalidValue},
		{"percent not a number", AlertMoistureLow, "abc", "", ErrInvalidValue},
		{"percent NaN", AlertMoistureLow, "NaN", "", ErrInvalidValue},
		{"interval", ReadIntervalMS, "1000", "1000", nil},
		{"interval too fast", ReadIntervalMS, "999", "", ErrInvalidValue},
		{"interval too slow", ReadIntervalMS, "60001", "", ErrInvalidValue},
		{"interval fractional", ReadIntervalMS, "1500.5", "", ErrInvalidValue},
		{"unknown setting", "pump_speed", "1", "", ErrSettingNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := setupTestStore(t)

			previous, updated, err := store.Update(context.Background(), tt.setting, tt.value)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Update() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Update() error = %v", err)
			}
			if previous != Defaults[tt.setting] {
				t.Errorf("previous = %q, want %q", previous, Defaults[tt.setting])
			}
			if updated.Value != tt.wantValue {
				t.Errorf("Value = %q, want %q", updated.Value, tt.wantValue)
			}
			if !updated.UpdatedAt.Equal(store.now()) {
				t.Errorf("UpdatedAt = %v, want %v", updated.UpdatedAt, store.now())
			}
		})
	}
}

func TestReset(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	if _, _, err := store.Update(ctx, AlertMoistureLow, "10"); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	list, err := store.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	for _, s := range list {
		if s.Value != Defaults[s.Name] {
			t.Errorf("after Reset %s = %q, want %q", s.Name, s.Value, Defaults[s.Name])
		}
	}
}

func TestDeviceConfig(t *testing.T) {
	store, _ := setupTestStore(t)

	cfg, err := store.DeviceConfig(context.Background())
	if err != nil {
		t.Fatalf("DeviceConfig() error = %v", err)
	}
	want := DeviceConfig{MoistureMin: 30, MoistureMax: 60, ReadIntervalMS: 5000}
	if *cfg != want {
		t.Errorf("DeviceConfig() = %+v, want %+v", *cfg, want)
	}
}

func TestCurrentThresholds(t *testing.T) {
	store, db := setupTestStore(t)
	ctx := context.Background()

	th, err := store.CurrentThresholds(ctx)
	if err != nil {
		t.Fatalf("CurrentThresholds() error = %v", err)
	}
	if th.Low != 25 || th.High != 70 {
		t.Errorf("CurrentThresholds() = %+v, want 25/70", th)
	}

	// Changes are visible on the next call.
	if _, _, err := store.Update(ctx, AlertMoistureHigh, "80"); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	th, err = store.CurrentThresholds(ctx)
	if err != nil || th.High != 80 {
		t.Errorf("CurrentThresholds() after update = %+v, %v; want high 80", th, err)
	}

	// A value written around the validator is reported, not guessed.
	if _, err := db.ExecContext(ctx, "UPDATE settings SET value = 'high' WHERE name = ?", AlertMoistureHigh); err != nil {
		t.Fatalf("corrupting setting: %v", err)
	}
	if _, err := store.CurrentThresholds(ctx); !errors.Is(err, ErrThresholdUnparseable) {
		t.Errorf("CurrentThresholds() error = %v, want ErrThresholdUnparseable", err)
	}

	if _, err := db.ExecContext(ctx, "DELETE FROM settings WHERE name = ?", AlertMoistureLow); err != nil {
		t.Fatalf("deleting setting: %v", err)
	}
	if _, err := store.CurrentThresholds(ctx); !errors.Is(err, ErrSettingNotFound) {
		t.Errorf("CurrentThresholds() error = %v, want ErrSettingNotFound", err)
	}
}

func TestIsDeviceSetting(t *testing.T) {
	for name := range Defaults {
		want := name != AlertMoistureLow && name != AlertMoistureHigh
		if got := IsDeviceSetting(name); got != want {
			t.Errorf("IsDeviceSetting(%q) = %v, want %v", name, got, want)
		}
	}
}
