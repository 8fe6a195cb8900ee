package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/irrigation-core/internal/infrastructure/database"
	"github.com/nerrad567/irrigation-core/migrations"
)

// setupTestRepo opens an in-memory database with the full schema.
func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("opening in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	return NewSQLiteRepository(db.DB)
}

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func appendReading(t *testing.T, repo *SQLiteRepository, value float64, at time.Time) *Reading {
	t.Helper()
	r := &Reading{Value: value, Analog: 512, RelayStatus: RelayOff, Timestamp: at}
	if err := repo.AppendReading(context.Background(), r); err != nil {
		t.Fatalf("AppendReading(%v): %v", value, err)
	}
	return r
}

// ============================================================================
// Write path
// ============================================================================

func TestAppendReading_AssignsIDAndRoundTrips(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	first := appendReading(t, repo, 42.5, baseTime)
	second := appendReading(t, repo, 40, baseTime.Add(time.Minute))

	if first.ID == 0 || second.ID <= first.ID {
		t.Errorf("IDs = %d, %d; want increasing non-zero", first.ID, second.ID)
	}

	latest, err := repo.LatestReading(ctx)
	if err != nil {
		t.Fatalf("LatestReading() error = %v", err)
	}
	if latest == nil {
		t.Fatal("LatestReading() = nil, want reading")
	}
	if latest.ID != second.ID || latest.Value != 40 {
		t.Errorf("LatestReading() = %+v, want id %d value 40", latest, second.ID)
	}
	if !latest.Timestamp.Equal(baseTime.Add(time.Minute)) {
		t.Errorf("Timestamp = %v, want %v", latest.Timestamp, baseTime.Add(time.Minute))
	}
}

func TestAppendReading_DefaultsTimestamp(t *testing.T) {
	repo := setupTestRepo(t)

	r := &Reading{Value: 10, Analog: 921, RelayStatus: RelayOn}
	if err := repo.AppendReading(context.Background(), r); err != nil {
		t.Fatalf("AppendReading() error = %v", err)
	}
	if r.Timestamp.IsZero() {
		t.Error("AppendReading() should set a timestamp")
	}
}

func TestAppendReading_RejectsInvalid(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	err := repo.AppendReading(ctx, &Reading{Value: 10, RelayStatus: "maybe"})
	if !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("AppendReading(bad status) error = %v, want ErrInvalidRecord", err)
	}
}

func TestLatestReading_Empty(t *testing.T) {
	repo := setupTestRepo(t)

	latest, err := repo.LatestReading(context.Background())
	if err != nil {
		t.Fatalf("LatestReading() error = %v", err)
	}
	if latest != nil {
		t.Errorf("LatestReading() = %+v, want nil", latest)
	}
}

func TestLatestReading_OrdersByTimestampThenID(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	// Inserted last but timestamped earliest.
	appendReading(t, repo, 50, baseTime.Add(time.Hour))
	tieA := appendReading(t, repo, 60, baseTime.Add(2*time.Hour))
	tieB := appendReading(t, repo, 61, baseTime.Add(2*time.Hour))
	appendReading(t, repo, 70, baseTime)

	latest, err := repo.LatestReading(ctx)
	if err != nil {
		t.Fatalf("LatestReading() error = %v", err)
	}
	if latest.ID != tieB.ID {
		t.Errorf("LatestReading().ID = %d, want %d (not %d)", latest.ID, tieB.ID, tieA.ID)
	}
}

func TestAppendRelayEvent_CorrelatedValue(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	v := 18.0
	withValue := &RelayEvent{Action: RelayOn, Reason: "low", CorrelatedValue: &v, Timestamp: baseTime}
	manual := &RelayEvent{Action: RelayOff, Reason: "manual", Timestamp: baseTime.Add(time.Second)}

	for _, e := range []*RelayEvent{withValue, manual} {
		if err := repo.AppendRelayEvent(ctx, e); err != nil {
			t.Fatalf("AppendRelayEvent() error = %v", err)
		}
	}

	page, err := repo.ListRelayEvents(ctx, RangeFilter{})
	if err != nil {
		t.Fatalf("ListRelayEvents() error = %v", err)
	}
	if page.Total != 2 || len(page.Events) != 2 {
		t.Fatalf("page = %+v, want 2 events", page)
	}

	// Newest first.
	if page.Events[0].CorrelatedValue != nil {
		t.Errorf("manual event CorrelatedValue = %v, want nil", *page.Events[0].CorrelatedValue)
	}
	if got := page.Events[1].CorrelatedValue; got == nil || *got != 18 {
		t.Errorf("correlated event CorrelatedValue = %v, want 18", got)
	}
}

func TestAppendRelayEvent_RejectsInvalidAction(t *testing.T) {
	repo := setupTestRepo(t)

	err := repo.AppendRelayEvent(context.Background(), &RelayEvent{Action: "ligado"})
	if !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("AppendRelayEvent() error = %v, want ErrInvalidRecord", err)
	}
}

// ============================================================================
// Alerts
// ============================================================================

func TestAlerts_Lifecycle(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	low := &Alert{Kind: AlertLowMoisture, Message: "low", Level: LevelHigh, Timestamp: baseTime}
	high := &Alert{Kind: AlertHighMoisture, Message: "high", Level: LevelMedium, Timestamp: baseTime.Add(time.Minute)}
	for _, a := range []*Alert{low, high} {
		if err := repo.AppendAlert(ctx, a); err != nil {
			t.Fatalf("AppendAlert() error = %v", err)
		}
	}

	unread, err := repo.HasUnreadAlert(ctx, AlertLowMoisture)
	if err != nil || !unread {
		t.Fatalf("HasUnreadAlert(low) = %v, %v; want true", unread, err)
	}

	if err := repo.MarkAlertRead(ctx, low.ID); err != nil {
		t.Fatalf("MarkAlertRead() error = %v", err)
	}
	// Repeating is fine.
	if err := repo.MarkAlertRead(ctx, low.ID); err != nil {
		t.Errorf("MarkAlertRead() second call error = %v", err)
	}

	unread, err = repo.HasUnreadAlert(ctx, AlertLowMoisture)
	if err != nil || unread {
		t.Errorf("HasUnreadAlert(low) after read = %v, %v; want false", unread, err)
	}

	page, err := repo.ListAlerts(ctx, AlertFilter{})
	if err != nil {
		t.Fatalf("ListAlerts() error = %v", err)
	}
	if page.Total != 1 || page.Alerts[0].ID != high.ID {
		t.Errorf("unread alerts = %+v, want only %d", page.Alerts, high.ID)
	}

	page, err = repo.ListAlerts(ctx, AlertFilter{Status: AlertStatusRead})
	if err != nil {
		t.Fatalf("ListAlerts(read) error = %v", err)
	}
	if page.Total != 1 || !page.Alerts[0].Read {
		t.Errorf("read alerts = %+v, want the acknowledged one", page.Alerts)
	}

	n, err := repo.MarkAllAlertsRead(ctx)
	if err != nil {
		t.Fatalf("MarkAllAlertsRead() error = %v", err)
	}
	if n != 1 {
		t.Errorf("MarkAllAlertsRead() = %d, want 1", n)
	}

	page, err = repo.ListAlerts(ctx, AlertFilter{Status: AlertStatusAll})
	if err != nil {
		t.Fatalf("ListAlerts(all) error = %v", err)
	}
	if page.Total != 2 {
		t.Errorf("all alerts total = %d, want 2", page.Total)
	}
}

func TestMarkAlertRead_NotFound(t *testing.T) {
	repo := setupTestRepo(t)

	err := repo.MarkAlertRead(context.Background(), 999)
	if !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("MarkAlertRead(999) error = %v, want ErrAlertNotFound", err)
	}
}

// ============================================================================
// Read-side queries
// ============================================================================

func TestListReadings_RangeAndPagination(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		appendReading(t, repo, float64(10*i), baseTime.Add(time.Duration(i)*24*time.Hour))
	}

	page, err := repo.ListReadings(ctx, RangeFilter{
		From: baseTime.Add(24 * time.Hour),
		To:   baseTime.Add(4 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("ListReadings() error = %v", err)
	}
	if page.Total != 3 {
		t.Errorf("Total = %d, want 3", page.Total)
	}
	if page.Readings[0].Value != 30 {
		t.Errorf("first reading = %v, want newest in range (30)", page.Readings[0].Value)
	}

	page, err = repo.ListReadings(ctx, RangeFilter{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("ListReadings(paged) error = %v", err)
	}
	if page.Total != 5 || len(page.Readings) != 1 || page.Readings[0].Value != 0 {
		t.Errorf("paged = %+v, want the oldest reading only", page)
	}

	page, err = repo.ListReadings(ctx, RangeFilter{Limit: 5000, Offset: -3})
	if err != nil {
		t.Fatalf("ListReadings(clamped) error = %v", err)
	}
	if page.Limit != MaxReadingLimit || page.Offset != 0 {
		t.Errorf("Limit/Offset = %d/%d, want %d/0", page.Limit, page.Offset, MaxReadingLimit)
	}
}

func TestMoistureStats(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	empty, err := repo.MoistureStats(ctx, baseTime)
	if err != nil {
		t.Fatalf("MoistureStats() error = %v", err)
	}
	if empty.Count != 0 || empty.Average != nil {
		t.Errorf("empty stats = %+v, want zero count and nil average", empty)
	}

	appendReading(t, repo, 5, baseTime.Add(-time.Hour)) // outside window
	appendReading(t, repo, 20, baseTime)
	appendReading(t, repo, 40, baseTime.Add(time.Minute))

	stats, err := repo.MoistureStats(ctx, baseTime)
	if err != nil {
		t.Fatalf("MoistureStats() error = %v", err)
	}
	if stats.Count != 2 || *stats.Average != 30 || *stats.Min != 20 || *stats.Max != 40 {
		t.Errorf("stats = count %d avg %v min %v max %v, want 2/30/20/40",
			stats.Count, *stats.Average, *stats.Min, *stats.Max)
	}
}

func TestHourlyMoisture(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	appendReading(t, repo, 20, baseTime.Add(5*time.Minute))
	appendReading(t, repo, 40, baseTime.Add(50*time.Minute))
	appendReading(t, repo, 60, baseTime.Add(70*time.Minute))

	buckets, err := repo.HourlyMoisture(ctx, baseTime)
	if err != nil {
		t.Fatalf("HourlyMoisture() error = %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("len(buckets) = %d, want 2", len(buckets))
	}
	if !buckets[0].Hour.Equal(baseTime) || buckets[0].Average != 30 || buckets[0].Count != 2 {
		t.Errorf("bucket[0] = %+v, want hour %v avg 30 count 2", buckets[0], baseTime)
	}
	if buckets[1].Average != 60 {
		t.Errorf("bucket[1].Average = %v, want 60", buckets[1].Average)
	}
}

func TestRelayCountsAndHourly(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	actions := []RelayStatus{RelayOn, RelayOff, RelayOn}
	for i, a := range actions {
		e := &RelayEvent{Action: a, Reason: "r", Timestamp: baseTime.Add(time.Duration(i) * 40 * time.Minute)}
		if err := repo.AppendRelayEvent(ctx, e); err != nil {
			t.Fatalf("AppendRelayEvent() error = %v", err)
		}
	}

	counts, err := repo.RelayCounts(ctx, baseTime)
	if err != nil {
		t.Fatalf("RelayCounts() error = %v", err)
	}
	if counts.On != 2 || counts.Off != 1 || counts.Total != 3 {
		t.Errorf("counts = %+v, want on 2 off 1 total 3", counts)
	}

	none, err := repo.RelayCounts(ctx, baseTime.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("RelayCounts(future) error = %v", err)
	}
	if none.Total != 0 || none.On != 0 {
		t.Errorf("future counts = %+v, want zero", none)
	}

	hourly, err := repo.HourlyRelay(ctx, baseTime)
	if err != nil {
		t.Fatalf("HourlyRelay() error = %v", err)
	}
	if len(hourly) != 2 {
		t.Fatalf("len(hourly) = %d, want 2", len(hourly))
	}
	if hourly[0].On != 1 || hourly[0].Off != 1 || hourly[1].On != 1 {
		t.Errorf("hourly = %+v, want [1 on 1 off] [1 on]", hourly)
	}
}
