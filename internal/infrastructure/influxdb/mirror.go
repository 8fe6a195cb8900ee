package influxdb

import (
	"time"

	"github.com/nerrad567/irrigation-core/internal/telemetry"
)

// Measurement names written by the Mirror.
const (
	MeasurementMoisture   = "soil_moisture"
	MeasurementRelayEvent = "relay_events"
	MeasurementAlert      = "alerts"
)

// PointWriter is the write side of Client.
type PointWriter interface {
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time)
}

// Mirror copies stored telemetry into InfluxDB for dashboards. It is an
// ingest observer: it only sees records after SQLite accepted them.
type Mirror struct {
	writer PointWriter
	site   string
}

// NewMirror creates a mirror tagging every point with site.
func NewMirror(writer PointWriter, site string) *Mirror {
	return &Mirror{writer: writer, site: site}
}

func (m *Mirror) tags(extra map[string]string) map[string]string {
	tags := map[string]string{"site": m.site}
	for k, v := range extra {
		tags[k] = v
	}
	return tags
}

// OnReading writes value, analog and the relay mirror.
func (m *Mirror) OnReading(r *telemetry.Reading) {
	relayOn := 0
	if r.RelayStatus == telemetry.RelayOn {
		relayOn = 1
	}
	m.writer.WritePointWithTime(MeasurementMoisture,
		m.tags(nil),
		map[string]interface{}{
			"value":    r.Value,
			"analog":   r.Analog,
			"relay_on": relayOn,
		},
		r.Timestamp,
	)
}

// OnRelayEvent writes the transition, with the correlated reading when known.
func (m *Mirror) OnRelayEvent(e *telemetry.RelayEvent) {
	fields := map[string]interface{}{
		"reason": e.Reason,
	}
	if e.CorrelatedValue != nil {
		fields["correlated_value"] = *e.CorrelatedValue
	}
	m.writer.WritePointWithTime(MeasurementRelayEvent,
		m.tags(map[string]string{"action": string(e.Action)}),
		fields,
		e.Timestamp,
	)
}

// OnAlert writes the alert message tagged by kind and level.
func (m *Mirror) OnAlert(a *telemetry.Alert) {
	m.writer.WritePointWithTime(MeasurementAlert,
		m.tags(map[string]string{
			"kind":  string(a.Kind),
			"level": string(a.Level),
		}),
		map[string]interface{}{
			"message": a.Message,
			"id":      a.ID,
		},
		a.Timestamp,
	)
}
