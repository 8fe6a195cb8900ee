package ingest

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/irrigation-core/internal/telemetry"
)

// Analog range of the field sensor's ADC.
const (
	AnalogMin = 0
	AnalogMax = 1023
)

// ParseMoisture parses a reading payload: a trimmed ASCII decimal number.
// Empty payloads, anything that is not plain decimal notation, and
// non-finite results are ErrParse. Values outside [0,100] are accepted.
func ParseMoisture(payload []byte) (float64, error) {
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return 0, fmt.Errorf("%w: empty payload", ErrParse)
	}
	if !isDecimal(s) {
		return 0, fmt.Errorf("%w: %q", ErrParse, s)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrParse, s)
	}
	return v, nil
}

// isDecimal rejects the hex, infinity and NaN forms ParseFloat would
// otherwise accept.
func isDecimal(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.', r == '-', r == '+', r == 'e', r == 'E':
		default:
			return false
		}
	}
	return true
}

// DeriveAnalog maps a percentage back onto the sensor's 10-bit scale:
// round((1 - v/100) * 1023), half away from zero. Out-of-range values are
// clamped so the analog column always holds a value the ADC can produce.
func DeriveAnalog(value float64) int {
	a := math.Round((1 - value/100) * AnalogMax)
	switch {
	case a < AnalogMin:
		return AnalogMin
	case a > AnalogMax:
		return AnalogMax
	}
	return int(a)
}

// DeriveRelayStatus mirrors the device's relay logic: on at or below cutoff.
func DeriveRelayStatus(value, cutoff float64) telemetry.RelayStatus {
	if value <= cutoff {
		return telemetry.RelayOn
	}
	return telemetry.RelayOff
}

// ReadingProcessor stores moisture readings and triggers alert evaluation.
type ReadingProcessor struct {
	gateway     telemetry.Gateway
	alerts      *AlertEvaluator
	relayCutoff float64
	observer    Observer
	logger      Logger
}

// NewReadingProcessor creates a processor. relayCutoff is the percentage at
// or below which a reading is labelled relay "on".
func NewReadingProcessor(gateway telemetry.Gateway, alerts *AlertEvaluator, relayCutoff float64) *ReadingProcessor {
	return &ReadingProcessor{
		gateway:     gateway,
		alerts:      alerts,
		relayCutoff: relayCutoff,
		observer:    noopObserver{},
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger for the processor.
func (p *ReadingProcessor) SetLogger(logger Logger) {
	p.logger = logger
}

// SetObserver sets the observer notified of stored readings.
func (p *ReadingProcessor) SetObserver(observer Observer) {
	p.observer = observer
}

// Process handles one payload from the readings topic.
//
// A payload that does not parse writes nothing and evaluates no alert.
// A reading that cannot be stored is abandoned before alert evaluation.
// An alert that cannot be stored does not fail the reading.
func (p *ReadingProcessor) Process(ctx context.Context, payload []byte, receivedAt time.Time) error {
	value, err := ParseMoisture(payload)
	if err != nil {
		p.logger.Error("reading payload rejected",
			"payload", payloadForLog(payload),
			"error", err,
		)
		return err
	}

	return p.Record(ctx, &telemetry.Reading{
		Value:       value,
		Analog:      DeriveAnalog(value),
		RelayStatus: DeriveRelayStatus(value, p.relayCutoff),
		Timestamp:   receivedAt,
	})
}

// Record stores an already-built reading, notifies the observer and
// evaluates alerts for it. Manual readings submitted over HTTP enter the
// pipeline here. A zero Timestamp is set to the current time.
func (p *ReadingProcessor) Record(ctx context.Context, reading *telemetry.Reading) error {
	if reading.Timestamp.IsZero() {
		reading.Timestamp = time.Now().UTC()
	}
	if err := p.gateway.AppendReading(ctx, reading); err != nil {
		p.logger.Error("reading not persisted", "value", reading.Value, "error", err)
		return fmt.Errorf("%w: appending reading: %w", ErrPersistence, err)
	}

	p.logger.Debug("reading stored",
		"id", reading.ID,
		"value", reading.Value,
		"analog", reading.Analog,
		"relay_status", reading.RelayStatus,
	)
	p.observer.OnReading(reading)

	if p.alerts != nil {
		// Failures are logged by the evaluator.
		_, _ = p.alerts.Evaluate(ctx, reading.Value, reading.Timestamp)
	}
	return nil
}

// RelayCutoff returns the percentage at or below which readings are
// labelled relay "on".
func (p *ReadingProcessor) RelayCutoff() float64 {
	return p.relayCutoff
}
