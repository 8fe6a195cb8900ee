package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/irrigation-core/internal/telemetry"
)

// RelayOnToken is the payload the controller sends when the pump starts.
// "desligado" is the documented off token, but any other payload is off.
const RelayOnToken = "ligado"

// ParseRelayAction normalises a relay payload. Unrecognised tokens map to
// off, never to an error.
func ParseRelayAction(payload []byte) telemetry.RelayStatus {
	if strings.EqualFold(strings.TrimSpace(string(payload)), RelayOnToken) {
		return telemetry.RelayOn
	}
	return telemetry.RelayOff
}

// RelayReason explains a relay transition, citing the correlated reading
// when there is one.
func RelayReason(action telemetry.RelayStatus, correlated *float64) string {
	switch {
	case action == telemetry.RelayOn && correlated != nil:
		return fmt.Sprintf("moisture low (%s%%) - irrigation activated", formatPercent(*correlated))
	case action == telemetry.RelayOn:
		return "irrigation activated manually"
	case correlated != nil:
		return fmt.Sprintf("moisture adequate (%s%%) - irrigation deactivated", formatPercent(*correlated))
	default:
		return "irrigation deactivated manually"
	}
}

// RelayEventProcessor records relay transitions reported by the controller.
type RelayEventProcessor struct {
	gateway  telemetry.Gateway
	observer Observer
	logger   Logger
}

// NewRelayEventProcessor creates a processor writing through gateway.
func NewRelayEventProcessor(gateway telemetry.Gateway) *RelayEventProcessor {
	return &RelayEventProcessor{
		gateway:  gateway,
		observer: noopObserver{},
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the processor.
func (p *RelayEventProcessor) SetLogger(logger Logger) {
	p.logger = logger
}

// SetObserver sets the observer notified of stored relay events.
func (p *RelayEventProcessor) SetObserver(observer Observer) {
	p.observer = observer
}

// Process handles one payload from the relay topic. The correlated value
// is whatever reading is latest in storage at this moment.
func (p *RelayEventProcessor) Process(ctx context.Context, payload []byte, receivedAt time.Time) error {
	action := ParseRelayAction(payload)
	if action == telemetry.RelayOff && !strings.EqualFold(strings.TrimSpace(string(payload)), "desligado") {
		p.logger.Debug("unrecognised relay token treated as off", "payload", payloadForLog(payload))
	}

	latest, err := p.gateway.LatestReading(ctx)
	if err != nil {
		p.logger.Error("relay correlation lookup failed", "action", action, "error", err)
		return fmt.Errorf("%w: reading latest value: %w", ErrPersistence, err)
	}

	var correlated *float64
	if latest != nil {
		v := latest.Value
		correlated = &v
	}

	event := &telemetry.RelayEvent{
		Action:          action,
		Reason:          RelayReason(action, correlated),
		CorrelatedValue: correlated,
		Timestamp:       receivedAt,
	}
	if err := p.gateway.AppendRelayEvent(ctx, event); err != nil {
		p.logger.Error("relay event not persisted", "action", action, "error", err)
		return fmt.Errorf("%w: appending relay event: %w", ErrPersistence, err)
	}

	p.logger.Info("relay event stored", "id", event.ID, "action", action, "reason", event.Reason)
	p.observer.OnRelayEvent(event)
	return nil
}
