package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/irrigation-core/internal/telemetry"
)

var errDiskFull = errors.New("disk I/O error")

// memGateway is an in-memory telemetry.Gateway with failure injection.
type memGateway struct {
	mu sync.Mutex

	readings    []*telemetry.Reading
	relayEvents []*telemetry.RelayEvent
	alerts      []*telemetry.Alert
	nextID      int64

	readingErr error
	relayErr   error
	alertErr   error
	latestErr  error
	unreadErr  error
}

func newMemGateway() *memGateway {
	return &memGateway{}
}

func (g *memGateway) AppendReading(_ context.Context, r *telemetry.Reading) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.readingErr != nil {
		return g.readingErr
	}
	g.nextID++
	r.ID = g.nextID
	cp := *r
	g.readings = append(g.readings, &cp)
	return nil
}

func (g *memGateway) AppendRelayEvent(_ context.Context, e *telemetry.RelayEvent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.relayErr != nil {
		return g.relayErr
	}
	g.nextID++
	e.ID = g.nextID
	cp := *e
	g.relayEvents = append(g.relayEvents, &cp)
	return nil
}

func (g *memGateway) AppendAlert(_ context.Context, a *telemetry.Alert) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.alertErr != nil {
		return g.alertErr
	}
	g.nextID++
	a.ID = g.nextID
	cp := *a
	g.alerts = append(g.alerts, &cp)
	return nil
}

func (g *memGateway) LatestReading(_ context.Context) (*telemetry.Reading, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.latestErr != nil {
		return nil, g.latestErr
	}
	if len(g.readings) == 0 {
		return nil, nil
	}
	sorted := append([]*telemetry.Reading{}, g.readings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].ID > sorted[j].ID
		}
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	cp := *sorted[0]
	return &cp, nil
}

func (g *memGateway) HasUnreadAlert(_ context.Context, kind telemetry.AlertKind) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unreadErr != nil {
		return false, g.unreadErr
	}
	for _, a := range g.alerts {
		if a.Kind == kind && !a.Read {
			return true, nil
		}
	}
	return false, nil
}

func (g *memGateway) counts() (readings, relayEvents, alerts int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.readings), len(g.relayEvents), len(g.alerts)
}

func (g *memGateway) markAllRead() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, a := range g.alerts {
		a.Read = true
	}
}

// staticThresholds is a ThresholdStore returning fixed values.
type staticThresholds struct {
	t   telemetry.Thresholds
	err error
}

func (s staticThresholds) CurrentThresholds(context.Context) (telemetry.Thresholds, error) {
	return s.t, s.err
}

// recordingLogger captures "level: msg" entries plus their attributes.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level string
	msg   string
	attrs map[string]any
}

func (l *recordingLogger) record(level, msg string, args []any) {
	attrs := make(map[string]any)
	for i := 0; i+1 < len(args); i += 2 {
		attrs[fmt.Sprint(args[i])] = args[i+1]
	}
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, attrs: attrs})
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.record("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record("error", msg, args) }

// find returns entries at level with message msg.
func (l *recordingLogger) find(level, msg string) []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []logEntry
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			out = append(out, e)
		}
	}
	return out
}

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

// recordingObserver captures notifications.
type recordingObserver struct {
	mu          sync.Mutex
	readings    []*telemetry.Reading
	relayEvents []*telemetry.RelayEvent
	alerts      []*telemetry.Alert
}

func (o *recordingObserver) OnReading(r *telemetry.Reading) {
	o.mu.Lock()
	o.readings = append(o.readings, r)
	o.mu.Unlock()
}

func (o *recordingObserver) OnRelayEvent(e *telemetry.RelayEvent) {
	o.mu.Lock()
	o.relayEvents = append(o.relayEvents, e)
	o.mu.Unlock()
}

func (o *recordingObserver) OnAlert(a *telemetry.Alert) {
	o.mu.Lock()
	o.alerts = append(o.alerts, a)
	o.mu.Unlock()
}
