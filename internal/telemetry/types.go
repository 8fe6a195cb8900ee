package telemetry

import "time"

// RelayStatus is the state of the irrigation relay.
type RelayStatus string

const (
	RelayOn  RelayStatus = "on"
	RelayOff RelayStatus = "off"
)

// Valid reports whether s is one of the two relay states.
func (s RelayStatus) Valid() bool {
	return s == RelayOn || s == RelayOff
}

// AlertKind classifies an alert.
type AlertKind string

const (
	AlertLowMoisture  AlertKind = "low_moisture"
	AlertHighMoisture AlertKind = "high_moisture"
	AlertSensorError  AlertKind = "sensor_error"
	AlertRelayError   AlertKind = "relay_error"
)

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	LevelLow      AlertLevel = "low"
	LevelMedium   AlertLevel = "medium"
	LevelHigh     AlertLevel = "high"
	LevelCritical AlertLevel = "critical"
)

// Reading is one accepted soil-moisture sample.
//
// Value is the moisture percentage exactly as reported; Analog is the
// derived raw ADC value (inverse scale, 1023 = dry) and RelayStatus is the
// relay state implied by the value at ingest time.
type Reading struct {
	ID          int64       `json:"id"`
	Value       float64     `json:"value"`
	Analog      int         `json:"analog"`
	RelayStatus RelayStatus `json:"relay_status"`
	Timestamp   time.Time   `json:"timestamp"`
}

// RelayEvent records one relay transition reported by the controller.
// CorrelatedValue is the most recent stored reading at the time the event
// was processed, or nil when there was none.
type RelayEvent struct {
	ID              int64       `json:"id"`
	Action          RelayStatus `json:"action"`
	Reason          string      `json:"reason"`
	CorrelatedValue *float64    `json:"correlated_value"`
	Timestamp       time.Time   `json:"timestamp"`
}

// Alert is a threshold breach awaiting acknowledgement.
type Alert struct {
	ID        int64      `json:"id"`
	Kind      AlertKind  `json:"kind"`
	Message   string     `json:"message"`
	Level     AlertLevel `json:"level"`
	Read      bool       `json:"read"`
	Timestamp time.Time  `json:"timestamp"`
}

// Thresholds are the alert bounds in moisture percent.
type Thresholds struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}
